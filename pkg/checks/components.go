package checks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/argusscan/argus/pkg/finding"
	"github.com/argusscan/argus/pkg/httpclient"
)

var (
	rePluginRef = regexp.MustCompile(`(?i)/wp-content/plugins/([a-z0-9_-]+)/`)
	reThemeRef  = regexp.MustCompile(`(?i)/wp-content/themes/([a-z0-9_-]+)/`)
	reStableTag = regexp.MustCompile(`(?i)Stable tag:\s*(\d+\.\d+(?:\.\d+)?)`)
	reStyleVer  = regexp.MustCompile(`(?i)Version:\s*(\d+\.\d+(?:\.\d+)?)`)
)

// knownVulnerablePlugins have a long record of critical advisories.
var knownVulnerablePlugins = []string{"revslider", "slider-revolution", "wp-file-manager"}

// maxComponents caps how many discovered slugs of one kind are probed.
const maxComponents = 20

// Components lists the plugins and themes the homepage references and
// reads their versions from readme.txt and style.css.
type Components struct{}

// NewComponents returns the plugin and theme enumeration check.
func NewComponents() *Components { return &Components{} }

func (*Components) Name() string { return "components" }

type component struct {
	slug    string
	path    string
	version string
}

func (c *Components) Execute(ctx context.Context, client httpclient.Doer, target Target) ([]finding.Finding, error) {
	home, err := client.Get(ctx, target.String())
	if err != nil {
		return nil, err
	}
	if home.StatusCode != http.StatusOK {
		return nil, nil
	}
	body := home.Text()

	var out []finding.Finding
	plugins, err := c.probe(ctx, client, target, discover(rePluginRef, body), "/wp-content/plugins/", "readme.txt", reStableTag)
	for _, p := range plugins {
		out = append(out, pluginFinding(p))
	}
	if len(plugins) > 0 {
		out = append(out, finding.Finding{
			Code:           "ARGUS-WP-011",
			Title:          fmt.Sprintf("%d plugin(s) detected", len(plugins)),
			Severity:       finding.Info,
			Confidence:     finding.ConfidenceHigh,
			Description:    fmt.Sprintf("Found %d WordPress plugins referenced by the homepage.", len(plugins)),
			Recommendation: "Remove unused plugins, keep the rest updated and prefer plugins from WordPress.org.",
		})
	}
	if err != nil {
		return out, err
	}

	themes, err := c.probe(ctx, client, target, discover(reThemeRef, body), "/wp-content/themes/", "style.css", reStyleVer)
	for _, th := range themes {
		out = append(out, finding.Finding{
			Code:        "ARGUS-WP-020",
			Title:       "Theme detected: " + th.slug,
			Severity:    finding.Info,
			Confidence:  finding.ConfidenceHigh,
			Description: fmt.Sprintf("WordPress theme '%s' is installed.", th.slug),
			Evidence: finding.Evidence{
				Type:    finding.EvidencePath,
				Value:   th.path,
				Context: "Version: " + versionOrUnknown(th.version),
			},
			Recommendation:    "Keep the theme updated, remove unused themes and use a child theme for customizations.",
			AffectedComponent: th.slug + " theme",
		})
	}
	if len(themes) > 0 {
		out = append(out, finding.Finding{
			Code:           "ARGUS-WP-021",
			Title:          fmt.Sprintf("%d theme(s) detected", len(themes)),
			Severity:       finding.Info,
			Confidence:     finding.ConfidenceHigh,
			Description:    fmt.Sprintf("Found %d WordPress themes referenced by the homepage.", len(themes)),
			Recommendation: "Keep only the active theme and one fallback installed.",
		})
	}
	return out, err
}

// probe fetches dir+slug+"/"+file for each slug. A slug whose file answers
// 200 or 403 is installed; the version comes from re when the file is
// readable.
func (c *Components) probe(ctx context.Context, client httpclient.Doer, target Target, slugs []string, dir, file string, re *regexp.Regexp) ([]component, error) {
	var found []component
	for _, slug := range slugs {
		path := dir + slug + "/"
		resp, err := client.Get(ctx, target.Resolve(path+file))
		if err != nil {
			var se *httpclient.StatusError
			if errors.As(err, &se) {
				continue
			}
			return found, err
		}
		switch resp.StatusCode {
		case http.StatusOK:
			version := ""
			if m := re.FindStringSubmatch(resp.Text()); m != nil {
				version = m[1]
			}
			found = append(found, component{slug: slug, path: target.Resolve(path), version: version})
		case http.StatusForbidden:
			found = append(found, component{slug: slug, path: target.Resolve(path)})
		}
	}
	return found, nil
}

func pluginFinding(p component) finding.Finding {
	f := finding.Finding{
		Code:        "ARGUS-WP-010",
		Title:       "Plugin detected: " + p.slug,
		Severity:    finding.Info,
		Confidence:  finding.ConfidenceHigh,
		Description: fmt.Sprintf("WordPress plugin '%s' is installed.", p.slug),
		Evidence: finding.Evidence{
			Type:    finding.EvidencePath,
			Value:   p.path,
			Context: "Version: " + versionOrUnknown(p.version),
		},
		Recommendation:    fmt.Sprintf("Verify %s is needed, update it and check it against https://wpscan.com/plugins/.", p.slug),
		AffectedComponent: strings.TrimSpace(p.slug + " " + p.version),
	}
	if slices.Contains(knownVulnerablePlugins, p.slug) {
		f.Severity = finding.Medium
		f.Title += " (historically vulnerable)"
	}
	return f
}

// discover returns the distinct lowercase slugs re captures in body, in
// order of first appearance.
func discover(re *regexp.Regexp, body string) []string {
	var slugs []string
	for _, m := range re.FindAllStringSubmatch(body, -1) {
		slug := strings.ToLower(m[1])
		if !slices.Contains(slugs, slug) {
			slugs = append(slugs, slug)
		}
		if len(slugs) == maxComponents {
			break
		}
	}
	return slugs
}

func versionOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
