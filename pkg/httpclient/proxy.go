package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/proxy"

	"github.com/argusscan/argus/pkg/duration"
)

var supportedProxySchemes = map[string]bool{
	"http":    true,
	"https":   true,
	"socks5":  true,
	"socks5h": true, // SOCKS5 with remote DNS resolution
}

// ParseProxyURL validates a proxy URL. A missing scheme defaults to http.
func ParseProxyURL(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProxy, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if !supportedProxySchemes[u.Scheme] {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidProxy, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidProxy)
	}
	return u, nil
}

func applyProxy(transport *http.Transport, raw string) error {
	u, err := ParseProxyURL(raw)
	if err != nil {
		return err
	}

	switch u.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
		return nil
	}

	// x/net/proxy only knows "socks5"; hostnames are passed through to
	// the proxy either way, so socks5h resolves remotely.
	socksURL := *u
	socksURL.Scheme = "socks5"
	base := &net.Dialer{Timeout: duration.DialTimeout, KeepAlive: duration.KeepAlive}
	d, err := proxy.FromURL(&socksURL, base)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProxy, err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return fmt.Errorf("%w: dialer does not support contexts", ErrInvalidProxy)
	}
	transport.Proxy = nil
	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return cd.DialContext(ctx, network, addr)
	}
	return nil
}
