package checks

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/argusscan/argus/pkg/finding"
	"github.com/argusscan/argus/pkg/httpclient"
	"github.com/argusscan/argus/pkg/jsonutil"
	"github.com/argusscan/argus/pkg/retry"
)

// riskyUsernames are default or guessable account names.
var riskyUsernames = map[string]bool{
	"admin":         true,
	"administrator": true,
	"root":          true,
	"test":          true,
	"demo":          true,
}

type wpUser struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// RESTUsers enumerates accounts through the WordPress REST API.
type RESTUsers struct{}

// NewRESTUsers returns the REST API user enumeration check.
func NewRESTUsers() *RESTUsers { return &RESTUsers{} }

func (*RESTUsers) Name() string { return "rest_users" }

func (*RESTUsers) Execute(ctx context.Context, client httpclient.Doer, target Target) ([]finding.Finding, error) {
	endpoint := target.Resolve("/wp-json/wp/v2/users")
	resp, err := client.Get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	var users []wpUser
	if err := jsonutil.Unmarshal(resp.Body, &users); err != nil {
		return nil, fmt.Errorf("%w: users endpoint: %v", retry.ErrMalformedResponse, err)
	}

	var (
		out   []finding.Finding
		names []string
		risky []string
		seen  = make(map[string]bool)
	)
	for _, u := range users {
		name := u.Slug
		if name == "" {
			name = u.Name
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)

		sev, advice := finding.Medium, "Consider changing the predictable username."
		if riskyUsernames[strings.ToLower(name)] {
			sev, advice = finding.High, "URGENT: change the username, default names are prime brute force targets."
			risky = append(risky, name)
		}
		out = append(out, finding.Finding{
			Code:        "ARGUS-WP-040",
			Title:       "User enumerated: " + name,
			Severity:    sev,
			Confidence:  finding.ConfidenceHigh,
			Description: fmt.Sprintf("Username '%s' discovered via the REST API. User enumeration lets attackers target brute force attacks.", name),
			Evidence: finding.Evidence{
				Type:    finding.EvidenceURL,
				Value:   endpoint,
				Context: fmt.Sprintf("Method: rest_api, ID: %d", u.ID),
			},
			Recommendation: advice + " Restrict the REST API users endpoint, limit login attempts and enable 2FA.",
			References: []string{
				"https://wordpress.org/documentation/article/hardening-wordpress/",
				"https://owasp.org/www-community/attacks/Brute_force_attack",
			},
			AffectedComponent: name,
		})
	}

	if len(names) > 0 {
		sev := finding.Medium
		if len(risky) > 0 {
			sev = finding.High
		}
		shown := names
		suffix := ""
		if len(shown) > 10 {
			shown, suffix = shown[:10], "..."
		}
		out = append(out, finding.Finding{
			Code:        "ARGUS-WP-041",
			Title:       fmt.Sprintf("%d user(s) enumerated", len(names)),
			Severity:    sev,
			Confidence:  finding.ConfidenceHigh,
			Description: fmt.Sprintf("Enumerated %d WordPress users. %d have risky or default usernames.", len(names), len(risky)),
			Evidence: finding.Evidence{
				Type:    finding.EvidenceOther,
				Value:   "Usernames: " + strings.Join(shown, ", ") + suffix,
				Context: "Methods: rest_api",
			},
			Recommendation: "Remove the /wp/v2/users route for anonymous clients and change default usernames.",
			References:     []string{"https://perishablepress.com/stop-user-enumeration-wordpress/"},
		})
	}
	return out, nil
}
