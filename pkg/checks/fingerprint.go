package checks

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/argusscan/argus/pkg/finding"
	"github.com/argusscan/argus/pkg/httpclient"
)

// wpIndicators are markers of a WordPress page. Two are required.
var wpIndicators = []string{"/wp-content/", "/wp-includes/", "/wp-admin/", "wp-json", "xmlrpc.php"}

const minIndicators = 2

var (
	reGenerator = regexp.MustCompile(`(?i)<meta[^>]+name=["']generator["'][^>]+content=["']WordPress\s+(\d+\.\d+(?:\.\d+)?)`)
	reReadme    = regexp.MustCompile(`(?i)Version\s+(\d+\.\d+(?:\.\d+)?)`)
	reFeed      = regexp.MustCompile(`(?i)wordpress\.org/\?v=(\d+\.\d+(?:\.\d+)?)`)
	reAssetVer  = regexp.MustCompile(`(?i)/wp-(?:includes|content)/[^"']*\?ver=(\d+\.\d+(?:\.\d+)?)`)
)

// Fingerprint decides whether the target runs WordPress and looks for a
// disclosed core version. It runs in PhaseDetect.
type Fingerprint struct{}

// NewFingerprint returns the WordPress detection check.
func NewFingerprint() *Fingerprint { return &Fingerprint{} }

func (*Fingerprint) Name() string { return "fingerprint" }
func (*Fingerprint) Phase() Phase { return PhaseDetect }

func (f *Fingerprint) Execute(ctx context.Context, client httpclient.Doer, target Target) ([]finding.Finding, error) {
	home, err := client.Get(ctx, target.String())
	if err != nil {
		return nil, err
	}
	if home.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: homepage returned HTTP %d", ErrNotInScope, home.StatusCode)
	}

	body := home.Text()
	var seen []string
	for _, ind := range wpIndicators {
		if strings.Contains(body, ind) {
			seen = append(seen, ind)
		}
	}
	if len(seen) < minIndicators {
		return nil, fmt.Errorf("%w: %d/%d WordPress indicators", ErrNotInScope, len(seen), len(wpIndicators))
	}

	detected := finding.Finding{
		Code:           "ARGUS-WP-000",
		Title:          "WordPress detected",
		Severity:       finding.Info,
		Confidence:     finding.ConfidenceHigh,
		Description:    "The target serves a WordPress installation.",
		Evidence:       finding.Evidence{Type: finding.EvidenceBody, Value: fmt.Sprintf("Found %d/%d WordPress indicators", len(seen), len(wpIndicators)), Context: "Indicators: " + strings.Join(seen, ", ")},
		Recommendation: "WordPress installation confirmed. Keep core, themes and plugins updated.",
	}
	if hash, ok := f.faviconHash(ctx, client, target); ok {
		detected.Evidence.Context += fmt.Sprintf("; favicon mmh3: %d", hash)
	}
	out := []finding.Finding{detected}

	version, source, err := f.version(ctx, client, target, body)
	switch {
	case version != "":
		out = append(out, finding.Finding{
			Code:       "ARGUS-WP-001",
			Title:      "WordPress core version disclosed",
			Severity:   finding.Medium,
			Confidence: finding.ConfidenceHigh,
			Description: fmt.Sprintf("WordPress version %s is disclosed. Version disclosure helps attackers "+
				"match the site against known vulnerabilities.", version),
			Evidence:       finding.Evidence{Type: finding.EvidenceOther, Value: "Version: " + version, Context: "Source: " + source},
			Recommendation: "Update WordPress, remove generator tags and restrict access to readme.html and license.txt.",
			References: []string{
				"https://developer.wordpress.org/advanced-administration/security/hardening/",
			},
			AffectedComponent: "WordPress Core " + version,
		})
	case err == nil:
		out = append(out, finding.Finding{
			Code:           "ARGUS-WP-001",
			Title:          "WordPress version hidden",
			Severity:       finding.Info,
			Confidence:     finding.ConfidenceMedium,
			Description:    "The WordPress version is not publicly disclosed.",
			Evidence:       finding.Evidence{Type: finding.EvidenceOther, Value: "No version found in generator, readme, feed or assets"},
			Recommendation: "Keep hiding version information and keep WordPress updated.",
		})
	}
	return out, err
}

// version tries the homepage first, then readme.html and the feed.
func (f *Fingerprint) version(ctx context.Context, client httpclient.Doer, target Target, home string) (string, string, error) {
	if m := reGenerator.FindStringSubmatch(home); m != nil {
		return m[1], "meta generator", nil
	}

	readme, err := client.Get(ctx, target.Resolve("/readme.html"))
	if err != nil && !statusOnly(err) {
		return "", "", err
	}
	if readme != nil && readme.StatusCode == http.StatusOK && strings.Contains(strings.ToLower(readme.Text()), "wordpress") {
		if m := reReadme.FindStringSubmatch(readme.Text()); m != nil {
			return m[1], "readme.html", nil
		}
	}

	feed, err := client.Get(ctx, target.Resolve("/feed/"))
	if err != nil && !statusOnly(err) {
		return "", "", err
	}
	if feed != nil && feed.StatusCode == http.StatusOK {
		if m := reFeed.FindStringSubmatch(feed.Text()); m != nil {
			return m[1], "feed generator", nil
		}
	}

	if v := mostCommon(reAssetVer.FindAllStringSubmatch(home, -1)); v != "" {
		return v, "asset ver= parameters", nil
	}
	return "", "", nil
}

// statusOnly reports whether err only says the server kept answering with an
// error status. The page is then treated as absent.
func statusOnly(err error) bool {
	var se *httpclient.StatusError
	return errors.As(err, &se)
}

func mostCommon(matches [][]string) string {
	counts := map[string]int{}
	best := ""
	for _, m := range matches {
		counts[m[1]]++
		if counts[m[1]] > counts[best] {
			best = m[1]
		}
	}
	return best
}

// faviconHash returns the Shodan-style mmh3 hash of /favicon.ico.
func (f *Fingerprint) faviconHash(ctx context.Context, client httpclient.Doer, target Target) (int32, bool) {
	resp, err := client.Get(ctx, target.Resolve("/favicon.ico"))
	if err != nil || resp.StatusCode != http.StatusOK || len(resp.Body) == 0 {
		return 0, false
	}
	return FaviconHash(resp.Body), true
}

// FaviconHash hashes the base64 encoding of data, wrapped at 76 columns
// with a trailing newline, with 32-bit murmur3.
func FaviconHash(data []byte) int32 {
	enc := base64.StdEncoding.EncodeToString(data)
	var b strings.Builder
	for len(enc) > 76 {
		b.WriteString(enc[:76])
		b.WriteByte('\n')
		enc = enc[76:]
	}
	b.WriteString(enc)
	b.WriteByte('\n')
	return int32(murmur3.Sum32([]byte(b.String())))
}
