package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/argusscan/argus/pkg/api"
	"github.com/argusscan/argus/pkg/checks"
	"github.com/argusscan/argus/pkg/config"
	"github.com/argusscan/argus/pkg/duration"
	"github.com/argusscan/argus/pkg/metrics"
)

func runServe(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("serve", stderr)
	var cf commonFlags
	cf.register(fs)
	addr := fs.String("addr", "", "Listen address (default from config, 127.0.0.1:8088)")
	noMetrics := fs.Bool("no-metrics", false, "Do not expose /metrics")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	a, err := newApp(&cf, stdout, stderr, func(c *config.Config) error {
		if *addr != "" {
			c.Server.Addr = *addr
		}
		if *noMetrics {
			c.Server.Metrics = false
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	cs, err := a.consentStore(st)
	if err != nil {
		return err
	}

	opts := []api.Option{api.WithLogger(a.logger)}
	if a.cfg.Server.Metrics {
		m, err := metrics.New()
		if err != nil {
			return err
		}
		opts = append(opts, api.WithMetrics(m.Handler()))
	}

	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	srv := &http.Server{
		Handler:           api.New(st, cs, opts...).Routes(),
		ReadHeaderTimeout: duration.ServerRead,
		ReadTimeout:       duration.ServerRead,
		WriteTimeout:      duration.ServerWrite,
	}
	return serve(ctx, srv, ln, a)
}

// serve runs srv on ln until ctx ends, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, a *app) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	if !a.jsonOut {
		a.out.Success("serving read-only API on http://" + ln.Addr().String())
	}
	a.logger.Info("api listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), duration.ServerShutdown)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("serve: shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	a.logger.Info("api stopped")
	return nil
}

func runChecks(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("checks", stderr)
	var cf commonFlags
	cf.register(fs)
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	names := checks.Builtin().Names()
	if cf.jsonOut {
		a := &app{stdout: stdout}
		return a.emitJSON(names)
	}
	for _, n := range names {
		fmt.Fprintln(stdout, n)
	}
	return nil
}
