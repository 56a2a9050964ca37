package checks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/argusscan/argus/pkg/finding"
	"github.com/argusscan/argus/pkg/httpclient"
)

// DefaultListingDirs are probed for auto-generated index pages.
var DefaultListingDirs = []string{
	"/wp-content/",
	"/wp-content/uploads/",
	"/wp-content/plugins/",
	"/wp-content/themes/",
	"/wp-includes/",
}

// DirectoryListing reports directories served as browsable index pages.
type DirectoryListing struct {
	dirs []string
}

// NewDirectoryListing returns the directory listing check.
func NewDirectoryListing(dirs ...string) *DirectoryListing {
	if len(dirs) == 0 {
		dirs = DefaultListingDirs
	}
	return &DirectoryListing{dirs: dirs}
}

func (*DirectoryListing) Name() string { return "directory_listing" }

func (d *DirectoryListing) Execute(ctx context.Context, client httpclient.Doer, target Target) ([]finding.Finding, error) {
	ctx = httpclient.WithoutRedirects(ctx)

	var out []finding.Finding
	for _, dir := range d.dirs {
		u := target.Resolve(dir)
		resp, err := client.Get(ctx, u)
		if err != nil {
			var se *httpclient.StatusError
			if errors.As(err, &se) {
				continue
			}
			return out, err
		}
		if resp.StatusCode != http.StatusOK || !IsDirectoryListing(resp.Text()) {
			continue
		}
		items := strings.Count(resp.Text(), "<a href=")
		out = append(out, finding.Finding{
			Code:        "ARGUS-WP-061",
			Title:       "Directory listing enabled: " + dir,
			Severity:    finding.Medium,
			Confidence:  finding.ConfidenceHigh,
			Description: fmt.Sprintf("Directory listing is enabled for %s, exposing %d items. Attackers can browse and download files.", dir, items),
			Evidence: finding.Evidence{
				Type:    finding.EvidenceURL,
				Value:   u,
				Context: fmt.Sprintf("HTTP 200, %d items listed", items),
			},
			Recommendation:    "Disable directory indexing: Options -Indexes on Apache, autoindex off on Nginx, or an empty index.html.",
			References:        []string{"https://www.acunetix.com/vulnerabilities/web/directory-listings/"},
			AffectedComponent: dir,
		})
	}
	return out, nil
}

// IsDirectoryListing reports whether body looks like a server index page.
func IsDirectoryListing(body string) bool {
	return strings.Contains(body, "Index of") || strings.Contains(body, "Parent Directory") ||
		strings.Contains(body, "[To Parent Directory]")
}
