package checks

import (
	"context"
	"net/http"
	"strings"

	"github.com/argusscan/argus/pkg/finding"
	"github.com/argusscan/argus/pkg/httpclient"
)

type headerRule struct {
	name           string
	severity       finding.Severity
	description    string
	recommendation string
	httpsOnly      bool
}

var headerRules = []headerRule{
	{"Strict-Transport-Security", finding.Medium, "Forces browsers to use HTTPS, preventing protocol downgrade attacks.",
		"Add: Strict-Transport-Security: max-age=31536000; includeSubDomains", true},
	{"Content-Security-Policy", finding.Medium, "Mitigates XSS, clickjacking and other injection attacks.",
		"Add a Content-Security-Policy with restrictive directives such as default-src 'self'.", false},
	{"X-Frame-Options", finding.Medium, "Prevents clickjacking by controlling iframe embedding.",
		"Add: X-Frame-Options: SAMEORIGIN", false},
	{"X-Content-Type-Options", finding.Low, "Prevents MIME-sniffing attacks.",
		"Add: X-Content-Type-Options: nosniff", false},
	{"Referrer-Policy", finding.Low, "Controls how much referrer information is shared.",
		"Add: Referrer-Policy: strict-origin-when-cross-origin", false},
	{"Permissions-Policy", finding.Info, "Controls which browser features the page may use.",
		"Add a Permissions-Policy restricting unused features.", false},
}

// Headers reports missing security headers and insecure cookies.
type Headers struct{}

// NewHeaders returns the security header check.
func NewHeaders() *Headers { return &Headers{} }

func (*Headers) Name() string { return "headers" }

func (*Headers) Execute(ctx context.Context, client httpclient.Doer, target Target) ([]finding.Finding, error) {
	resp, err := client.Get(ctx, target.String())
	if err != nil {
		return nil, err
	}

	var out []finding.Finding
	for _, rule := range headerRules {
		if rule.httpsOnly && !target.HTTPS() {
			continue
		}
		if present(resp.Header, rule.name) {
			continue
		}
		out = append(out, finding.Finding{
			Code:              "ARGUS-WP-050",
			Title:             "Missing security header: " + rule.name,
			Severity:          rule.severity,
			Confidence:        finding.ConfidenceHigh,
			Description:       rule.description,
			Evidence:          finding.Evidence{Type: finding.EvidenceHeader, Value: rule.name + " not set", Context: resp.URL},
			Recommendation:    rule.recommendation,
			References:        []string{"https://owasp.org/www-project-secure-headers/"},
			AffectedComponent: rule.name,
		})
	}

	cookies := (&http.Response{Header: resp.Header}).Cookies()
	for _, c := range cookies {
		issues := cookieIssues(c, target.HTTPS())
		if len(issues) == 0 {
			continue
		}
		sev := finding.Low
		if (target.HTTPS() && !c.Secure) || !c.HttpOnly {
			sev = finding.Medium
		}
		out = append(out, finding.Finding{
			Code:              "ARGUS-WP-052",
			Title:             "Insecure cookie: " + c.Name,
			Severity:          sev,
			Confidence:        finding.ConfidenceHigh,
			Description:       "Cookie " + c.Name + " has security issues: " + strings.Join(issues, ", ") + ".",
			Evidence:          finding.Evidence{Type: finding.EvidenceHeader, Value: "Set-Cookie: " + c.Name, Context: "Issues: " + strings.Join(issues, ", ")},
			Recommendation:    "Set Secure, HttpOnly and SameSite=Lax or Strict on " + c.Name + ".",
			References:        []string{"https://owasp.org/www-community/controls/SecureCookieAttribute"},
			AffectedComponent: "cookie:" + c.Name,
		})
	}
	return out, nil
}

// present also accepts the legacy CSP header names.
func present(h http.Header, name string) bool {
	if h.Get(name) != "" {
		return true
	}
	if name == "Content-Security-Policy" {
		return h.Get("X-Content-Security-Policy") != "" || h.Get("X-WebKit-CSP") != ""
	}
	return false
}

func cookieIssues(c *http.Cookie, https bool) []string {
	var issues []string
	if https && !c.Secure {
		issues = append(issues, "missing Secure flag")
	}
	if !c.HttpOnly {
		issues = append(issues, "missing HttpOnly flag")
	}
	switch c.SameSite {
	case http.SameSiteDefaultMode:
		issues = append(issues, "missing SameSite attribute")
	case http.SameSiteNoneMode:
		if !c.Secure {
			issues = append(issues, "SameSite=None without Secure flag")
		}
	}
	return issues
}
