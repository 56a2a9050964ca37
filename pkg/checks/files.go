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

// DefaultSensitivePaths are probed by the files check, relative to the
// target base URL.
var DefaultSensitivePaths = []string{
	"wp-config.php", "wp-config.php.bak", "wp-config.php~", "wp-config.php.old",
	"wp-config.php.save", "wp-config.php.swp", "wp-config.php.txt",
	"wp-config.bak", "wp-config.old",
	".env",
	"backup.sql", "database.sql", "db.sql", "dump.sql",
	"mysql.sql", "wordpress.sql", "wp.sql", "site.sql",
	"backup.zip", "database.zip", "wp-backup.zip", "backup.tar.gz", "backup.tar",
	".htaccess.bak", ".htaccess~", ".htaccess.old",
	"wp-content.zip", "wp-content.tar.gz",
	"wp-content/debug.log",
	".git/HEAD", ".git/config",
	"readme.html", "license.txt",
}

var fileSeverity = map[string]finding.Severity{
	"readme.html":   finding.High,
	"license.txt":   finding.Medium,
	"backup.zip":    finding.Low,
	".htaccess.bak": finding.Low,
}

var fileReferences = []string{
	"https://wordpress.org/documentation/article/hardening-wordpress/",
	"https://developer.wordpress.org/advanced-administration/security/hardening/",
}

// Files probes for exposed configuration files, backups and dumps.
type Files struct {
	paths []string
}

// NewFiles returns the sensitive file check. With no paths it probes
// DefaultSensitivePaths.
func NewFiles(paths ...string) *Files {
	if len(paths) == 0 {
		paths = DefaultSensitivePaths
	}
	return &Files{paths: dedupePaths(paths)}
}

func (*Files) Name() string { return "files" }

func (f *Files) Execute(ctx context.Context, client httpclient.Doer, target Target) ([]finding.Finding, error) {
	ctx = httpclient.WithoutRedirects(ctx)

	var (
		out      []finding.Finding
		critical int
	)
	for _, p := range f.paths {
		u := target.Resolve(p)
		resp, err := client.Get(ctx, u)
		if err != nil {
			var se *httpclient.StatusError
			if errors.As(err, &se) {
				continue
			}
			return out, err
		}
		if resp.StatusCode != http.StatusOK || len(resp.Body) == 0 {
			continue
		}
		if !validFileContent(p, resp.Text()) {
			continue
		}
		sev := FileSeverity(p)
		if sev == finding.Critical {
			critical++
		}
		out = append(out, exposedFile(p, u, resp, sev))
	}

	if len(out) > 0 {
		sev := finding.High
		if critical > 0 {
			sev = finding.Critical
		}
		out = append(out, finding.Finding{
			Code:       "ARGUS-WP-031",
			Title:      fmt.Sprintf("%d sensitive file(s) exposed", len(out)),
			Severity:   sev,
			Confidence: finding.ConfidenceHigh,
			Description: fmt.Sprintf("Found %d publicly accessible sensitive files. %d are critical (contain credentials or secrets).",
				len(out), critical),
			Evidence:       finding.Evidence{Type: finding.EvidenceOther, Value: fmt.Sprintf("%d files", len(out))},
			Recommendation: "Block access in the web server configuration, move sensitive files outside the webroot, delete backups and dumps, and rotate exposed credentials.",
		})
	}
	return out, nil
}

func exposedFile(p, u string, resp *httpclient.Response, sev finding.Severity) finding.Finding {
	lower := strings.ToLower(p)
	f := finding.Finding{
		Code:       "ARGUS-WP-030",
		Severity:   sev,
		Confidence: finding.ConfidenceHigh,
		Evidence: finding.Evidence{
			Type:    finding.EvidenceURL,
			Value:   u,
			Context: fmt.Sprintf("HTTP %d, Size: %d bytes", resp.StatusCode, len(resp.Body)),
		},
		References:        fileReferences,
		AffectedComponent: p,
	}
	switch {
	case strings.Contains(lower, "wp-config"):
		f.Title = "wp-config.php backup exposed"
		f.Description = fmt.Sprintf("WordPress configuration file '%s' is publicly accessible. It contains database credentials and security keys.", p)
		f.Recommendation = "Remove the file, change the database credentials, regenerate the WordPress security keys and review access logs."
	case strings.Contains(lower, ".env"):
		f.Title = "Environment file (.env) exposed"
		f.Description = "Environment configuration file contains API keys, secrets and credentials."
		f.Recommendation = "Restrict access to .env, rotate every key it contains and move it outside the webroot."
	case strings.HasSuffix(lower, ".sql"):
		f.Title = "Database dump exposed: " + p
		f.Description = "SQL database backup is publicly downloadable, containing all site data."
		f.Recommendation = "Delete the dump, store backups outside the webroot and review for data breach."
	case strings.Contains(lower, "debug.log"):
		f.Title = "Debug log file exposed"
		f.Description = "WordPress debug log may contain file paths, plugin errors and database queries."
		f.Recommendation = "Disable WP_DEBUG in production and delete or restrict access to debug.log."
	case strings.Contains(lower, ".git"):
		f.Title = "Git repository exposed"
		f.Description = "Git repository files are accessible, potentially exposing source code and history."
		f.Recommendation = "Block access to .git in the web server configuration and remove it from the webroot."
	case strings.Contains(lower, "readme.html"):
		f.Title = "WordPress readme.html accessible"
		f.Description = "Default WordPress readme file exposes version information."
		f.Recommendation = "Remove or restrict access to readme.html and license.txt."
	default:
		f.Title = "Sensitive file exposed: " + p
		f.Description = fmt.Sprintf("File '%s' is publicly accessible.", p)
		f.Recommendation = "Remove or restrict access to this file."
	}
	return f
}

// FileSeverity rates an exposed path.
func FileSeverity(p string) finding.Severity {
	p = normalizePath(p)
	if s, ok := fileSeverity[p]; ok {
		return s
	}
	lower := strings.ToLower(p)
	switch {
	case strings.Contains(lower, "wp-config"), strings.Contains(lower, ".env"), strings.Contains(lower, ".sql"):
		return finding.Critical
	case strings.Contains(lower, "debug.log"), strings.Contains(lower, ".git"), strings.Contains(lower, "readme"):
		return finding.High
	case strings.Contains(lower, "backup"), strings.Contains(lower, ".bak"), strings.Contains(lower, ".old"):
		return finding.Medium
	}
	return finding.Low
}

// validFileContent filters out soft-404 pages served with status 200.
func validFileContent(p, body string) bool {
	lower := strings.ToLower(p)
	switch {
	case strings.Contains(lower, "wp-config"):
		return containsAny(body, "DB_NAME", "DB_USER", "DB_PASSWORD", "DB_HOST")
	case strings.Contains(lower, ".env"):
		return strings.Contains(body, "=") && strings.Contains(body, "\n")
	case strings.HasSuffix(lower, ".sql"):
		return containsAny(strings.ToUpper(body), "CREATE TABLE", "INSERT INTO", "DROP TABLE", "SELECT")
	case strings.Contains(lower, "readme"):
		return strings.Contains(strings.ToLower(body), "wordpress")
	case strings.Contains(lower, ".git"):
		return strings.Contains(body, "ref:") || strings.Contains(body, "[core]")
	case strings.Contains(lower, "debug.log"):
		return containsAny(body, "PHP", "Warning", "Error", "[")
	}
	head := body
	if len(head) > 500 {
		head = head[:500]
	}
	return !strings.Contains(strings.ToLower(head), "<html")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	for _, prefix := range []string{"http://", "https://"} {
		p = strings.TrimPrefix(p, prefix)
	}
	return strings.Trim(p, "/")
}

func dedupePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		n := normalizePath(p)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
