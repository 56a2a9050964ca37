package consent

import (
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/argusscan/argus/pkg/defaults"
)

const instructionsTemplate = `DOMAIN OWNERSHIP VERIFICATION REQUIRED
{{ repeat 60 "=" }}
Domain:  {{ .Domain }}
Token:   {{ .Token }}
Expires: {{ .ExpiresAt | date "2006-01-02 15:04 MST" }}

METHOD 1: HTTP file (recommended)
  1. Create a text file containing exactly:
       {{ .Token }}
  2. Serve it at:
       {{ .URL }}
  3. Run:
       {{ .Tool }} consent verify --method http {{ .Domain }} {{ .Token }}

METHOD 2: DNS TXT record
  1. Add a TXT record:
       Host:  {{ .Host }}
       Value: {{ .TXT }}
  2. Wait for propagation ({{ .Tries }} lookups are made on verify)
  3. Run:
       {{ .Tool }} consent verify --method dns {{ .Domain }} {{ .Token }}
{{ repeat 60 "=" }}
Verified consent is required before {{ .Tool }} scan --mode {{ .Aggressive }}.
`

var instructions = template.Must(
	template.New("consent").Funcs(sprig.TxtFuncMap()).Parse(instructionsTemplate),
)

// Instructions renders operator instructions for placing tok.
func Instructions(tok Token) (string, error) {
	scheme := schemes(tok.Domain)[0]
	data := map[string]any{
		"Domain":     tok.Domain,
		"Host":       BaseDomain(tok.Domain),
		"Token":      tok.Value,
		"ExpiresAt":  tok.ExpiresAt,
		"URL":        WellKnownURL(scheme, tok.Domain, tok.Value),
		"TXT":        defaults.DNSTXTPrefix + tok.Value,
		"Tries":      defaults.DNSRetries,
		"Tool":       defaults.ToolName,
		"Aggressive": defaults.ModeAggressive,
	}
	var b strings.Builder
	if err := instructions.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
