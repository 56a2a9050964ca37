package checks

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/argusscan/argus/pkg/finding"
	"github.com/argusscan/argus/pkg/httpclient"
)

const listMethodsCall = `<?xml version="1.0"?>
<methodCall>
  <methodName>system.listMethods</methodName>
  <params></params>
</methodCall>`

// XMLRPC reports an xmlrpc.php endpoint that answers method calls.
type XMLRPC struct{}

// NewXMLRPC returns the XML-RPC check.
func NewXMLRPC() *XMLRPC { return &XMLRPC{} }

func (*XMLRPC) Name() string { return "xmlrpc" }

func (*XMLRPC) Execute(ctx context.Context, client httpclient.Doer, target Target) ([]finding.Finding, error) {
	endpoint := target.Resolve("/xmlrpc.php")
	resp, err := client.Get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusMethodNotAllowed:
		return []finding.Finding{{
			Code:           "ARGUS-WP-060",
			Title:          "XML-RPC partially restricted",
			Severity:       finding.Info,
			Confidence:     finding.ConfidenceHigh,
			Description:    "xmlrpc.php exists but returns 405, indicating some restriction.",
			Evidence:       finding.Evidence{Type: finding.EvidenceURL, Value: endpoint, Context: "HTTP 405"},
			Recommendation: "Verify XML-RPC is fully disabled or properly restricted.",
		}}, nil
	case resp.StatusCode != http.StatusOK || !strings.Contains(strings.ToLower(resp.Text()), "xml-rpc"):
		return nil, nil
	}

	rpc, err := client.Post(ctx, endpoint, "text/xml", listMethodsCall)
	if err != nil {
		return nil, err
	}
	if rpc.StatusCode != http.StatusOK {
		return nil, nil
	}
	methods := strings.Count(rpc.Text(), "<string>")
	return []finding.Finding{{
		Code:       "ARGUS-WP-060",
		Title:      "XML-RPC interface enabled",
		Severity:   finding.Medium,
		Confidence: finding.ConfidenceHigh,
		Description: fmt.Sprintf("WordPress XML-RPC interface is enabled and responding with %d methods. "+
			"It can be abused for brute force attacks, DDoS amplification and pingback exploits.", methods),
		Evidence: finding.Evidence{
			Type:    finding.EvidenceURL,
			Value:   endpoint,
			Context: fmt.Sprintf("HTTP %d, %d methods available", rpc.StatusCode, methods),
		},
		Recommendation:    "Disable XML-RPC if not needed, for example with add_filter('xmlrpc_enabled', '__return_false'), or deny xmlrpc.php in the web server.",
		References:        []string{"https://kinsta.com/blog/xmlrpc-php/"},
		AffectedComponent: "xmlrpc.php",
	}}, nil
}
