package consent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type proofRecord struct {
	Domain   string
	Token    string
	Method   Method
	Verified time.Time
	Proof    string
	Response string
}

func (p proofRecord) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Domain: %s\n", p.Domain)
	fmt.Fprintf(&b, "Token: %s\n", p.Token)
	fmt.Fprintf(&b, "Method: %s\n", p.Method)
	fmt.Fprintf(&b, "Verified: %s\n", p.Verified.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Proof: %s\n", p.Proof)
	fmt.Fprintf(&b, "Response: %s\n", p.Response)
	return b.String()
}

// proofFileName maps a domain and token to a file name. Port separators and
// IPv6 brackets are not portable in file names.
func proofFileName(domain, token string) string {
	safe := strings.NewReplacer(":", "_", "[", "", "]", "").Replace(domain)
	return safe + "_" + token + ".txt"
}

// writeProof stores the audit artifact and returns its path.
func writeProof(dir string, p proofRecord) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, proofFileName(p.Domain, p.Token))
	if err := os.WriteFile(path, []byte(p.String()), 0o600); err != nil {
		return "", err
	}
	return path, nil
}
