package consent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/argusscan/argus/pkg/defaults"
	"github.com/argusscan/argus/pkg/iohelper"
	"github.com/argusscan/argus/pkg/retry"
)

// WellKnownURL returns the verification URL for scheme.
func WellKnownURL(scheme, domain, token string) string {
	return scheme + "://" + domain + defaults.WellKnownPath + token + ".txt"
}

// schemes lists the schemes tried in order. An explicit port means plain
// http; otherwise https is tried first.
func schemes(domain string) []string {
	if HasPort(domain) {
		return []string{"http"}
	}
	return []string{"https", "http"}
}

// probeHTTP returns the proof URL and trimmed body on success. Only a
// network error falls through to the next scheme.
func (s *Store) probeHTTP(ctx context.Context, domain, token string) (string, string, error) {
	var lastErr error
	for _, scheme := range schemes(domain) {
		u := WellKnownURL(scheme, domain, token)
		s.logger.Debug("fetching consent file", slog.String("url", u))

		body, status, err := s.fetch(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
			lastErr = &VerifyError{Reason: ReasonNetwork, Detail: u, Err: err}
			continue
		}
		switch {
		case status == http.StatusOK:
			got := strings.TrimSpace(body)
			if got != token {
				return "", "", &VerifyError{Reason: ReasonMismatch, Detail: "content at " + u + " does not match token"}
			}
			return u, got, nil
		case status == http.StatusNotFound:
			return "", "", &VerifyError{Reason: ReasonNotFound, Detail: u}
		default:
			return "", "", &VerifyError{Reason: ReasonNetwork, Detail: fmt.Sprintf("%s returned HTTP %d", u, status)}
		}
	}
	return "", "", lastErr
}

func (s *Store) fetch(ctx context.Context, u string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", defaults.UserAgent)
	resp, err := s.http.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer iohelper.DrainAndClose(resp.Body)

	data, _, err := iohelper.ReadBody(resp.Body, defaults.BufferSmall)
	if err != nil {
		return "", 0, err
	}
	return string(data), resp.StatusCode, nil
}

// probeDNS returns the matching TXT record. Lookups are retried while
// records propagate; context cancellation stops immediately.
func (s *Store) probeDNS(ctx context.Context, domain, token string) (string, error) {
	host := BaseDomain(domain)
	want := defaults.DNSTXTPrefix + token

	cfg := retry.Config{
		MaxAttempts: s.dnsTries,
		InitDelay:   s.dnsDelay,
		MaxDelay:    s.dnsDelay,
		Strategy:    retry.Constant,
		Classifier: func(err error) retry.Class {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return retry.Permanent
			}
			return retry.Transient
		},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			s.logger.Info("txt record not found yet, retrying",
				slog.String("domain", host),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
		},
	}

	var match string
	err := retry.Do(ctx, cfg, func() error {
		records, err := s.resolver.LookupTXT(ctx, host)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var dnsErr *net.DNSError
			if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
				return &VerifyError{Reason: ReasonDNSNoRecord, Detail: host, Err: err}
			}
			return &VerifyError{Reason: ReasonDNSLookup, Detail: host, Err: err}
		}
		for _, r := range records {
			if strings.Trim(strings.TrimSpace(r), `"`) == want {
				match = want
				return nil
			}
		}
		return &VerifyError{Reason: ReasonDNSNoRecord, Detail: fmt.Sprintf("%d TXT record(s) on %s, none match", len(records), host)}
	})
	if err != nil {
		return "", err
	}
	return match, nil
}
