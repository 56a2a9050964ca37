package consent

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// NormalizeDomain lowercases raw, strips any scheme and path, and keeps an
// explicit port. localhost and IP literals are accepted as-is. Anything else
// must be a valid hostname that is not itself a public suffix.
//
//	NormalizeDomain("https://Example.com/blog") == "example.com"
//	NormalizeDomain("localhost:8080")           == "localhost:8080"
func NormalizeDomain(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDomain)
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
		}
		s = u.Host
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}

	host, port := s, ""
	if h, p, err := net.SplitHostPort(s); err == nil {
		host, port = h, p
	} else if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		host = s[1 : len(s)-1]
	}
	host = strings.TrimSuffix(host, ".")

	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return "", fmt.Errorf("%w: bad port in %q", ErrInvalidDomain, raw)
		}
	}

	switch {
	case host == "localhost":
	case net.ParseIP(host) != nil:
	default:
		if !validHostname(host) {
			return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
		}
		if suffix, _ := publicsuffix.PublicSuffix(host); suffix == host {
			return "", fmt.Errorf("%w: %q is a public suffix", ErrInvalidDomain, host)
		}
	}

	if port == "" {
		if strings.Contains(host, ":") {
			return "[" + host + "]", nil
		}
		return host, nil
	}
	return net.JoinHostPort(host, port), nil
}

// BaseDomain returns the host part of a normalised domain.
func BaseDomain(domain string) string {
	if h, _, err := net.SplitHostPort(domain); err == nil {
		return h
	}
	return strings.Trim(domain, "[]")
}

// HasPort reports whether a normalised domain carries an explicit port.
func HasPort(domain string) bool {
	_, _, err := net.SplitHostPort(domain)
	return err == nil
}

func validHostname(h string) bool {
	if len(h) == 0 || len(h) > 253 {
		return false
	}
	for _, label := range strings.Split(h, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, c := range label {
			if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-') {
				return false
			}
		}
	}
	return true
}
