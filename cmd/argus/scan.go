package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/argusscan/argus/pkg/checks"
	"github.com/argusscan/argus/pkg/config"
	"github.com/argusscan/argus/pkg/core"
	"github.com/argusscan/argus/pkg/defaults"
	"github.com/argusscan/argus/pkg/finding"
	"github.com/argusscan/argus/pkg/metrics"
	"github.com/argusscan/argus/pkg/store"
	"github.com/argusscan/argus/pkg/telemetry"
)

type scanFlags struct {
	commonFlags
	target      string
	mode        string
	threads     int
	rate        float64
	timeout     time.Duration
	retries     int
	checks      listFlag
	proxy       string
	insecure    bool
	headers     headerFlag
	metricsFile string
}

func (sf *scanFlags) register(fs *flag.FlagSet) {
	sf.commonFlags.register(fs)
	fs.StringVar(&sf.target, "u", "", "Target URL")
	fs.StringVar(&sf.target, "target", "", "Target URL (alias)")
	fs.StringVar(&sf.mode, "mode", "", "Scan mode: safe or aggressive (aggressive needs verified consent)")
	fs.IntVar(&sf.threads, "threads", 0, fmt.Sprintf("Concurrent checks, 1-%d", defaults.ThreadsMax))
	fs.Float64Var(&sf.rate, "rate", 0, "Requests per second for the selected mode")
	fs.DurationVar(&sf.timeout, "timeout", 0, "Per-request timeout")
	fs.IntVar(&sf.retries, "retries", 0, "Attempts per request for transient failures")
	fs.Var(&sf.checks, "checks", "Checks to run, comma-separated (default all)")
	fs.StringVar(&sf.proxy, "proxy", "", "HTTP or SOCKS5 proxy URL")
	fs.BoolVar(&sf.insecure, "insecure", false, "Skip TLS certificate verification")
	fs.Var(sf.headers, "H", "Extra request header \"Name: value\" (repeatable)")
	fs.StringVar(&sf.metricsFile, "metrics-file", "", "Write Prometheus metrics in text format to this file after the scan")
}

// apply overlays the flags that were given onto cfg.
func (sf *scanFlags) apply(cfg *config.Config) error {
	if sf.mode != "" {
		cfg.Scan.Mode = sf.mode
	}
	if sf.threads != 0 {
		cfg.Scan.Threads = sf.threads
	}
	if sf.rate != 0 {
		if cfg.Scan.Mode == defaults.ModeAggressive {
			cfg.Scan.RateAggressive = sf.rate
		} else {
			cfg.Scan.RateSafe = sf.rate
		}
	}
	if sf.timeout != 0 {
		cfg.Scan.Timeout = sf.timeout
	}
	if sf.retries != 0 {
		cfg.Scan.Retries = sf.retries
	}
	if len(sf.checks) > 0 {
		cfg.Scan.Checks = sf.checks
	}
	if sf.proxy != "" {
		cfg.Advanced.Proxy = sf.proxy
	}
	if sf.insecure {
		cfg.Scan.VerifyTLS = false
	}
	if len(sf.headers) > 0 {
		if cfg.Advanced.Headers == nil {
			cfg.Advanced.Headers = make(map[string]string, len(sf.headers))
		}
		for k, v := range sf.headers {
			cfg.Advanced.Headers[k] = v
		}
	}
	return nil
}

func runScan(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("scan", stderr)
	sf := &scanFlags{headers: headerFlag{}}
	sf.register(fs)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: argus scan [flags] <url>")
		fs.PrintDefaults()
	}
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	switch {
	case sf.target == "" && len(pos) == 1:
		sf.target = pos[0]
	case sf.target == "" || len(pos) > 0:
		return usageError(fs, "scan needs exactly one target URL")
	}

	a, err := newApp(&sf.commonFlags, stdout, stderr, sf.apply)
	if err != nil {
		return err
	}
	defer a.close()

	target, err := checks.ParseTarget(sf.target)
	if err != nil {
		return err
	}
	mode, err := core.ParseMode(a.cfg.Scan.Mode)
	if err != nil {
		return err
	}
	runners, err := checks.Builtin().Select(a.cfg.Scan.Checks)
	if err != nil {
		return err
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	cs, err := a.consentStore(st)
	if err != nil {
		return err
	}

	m, err := metrics.New()
	if err != nil {
		return err
	}
	tp, err := telemetry.New(ctx, a.cfg.TelemetryConfig())
	if err != nil {
		return err
	}
	defer func() {
		if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("telemetry shutdown", slog.String("err", err.Error()))
		}
	}()

	cfg := coreConfig(a.cfg)
	orch, err := core.New(cfg, st, cs,
		core.WithLogger(a.logger),
		core.WithMetrics(m),
		core.WithTelemetry(tp),
	)
	if err != nil {
		return err
	}

	if !a.jsonOut {
		a.out.Banner()
		a.out.ScanStart(target.String(), string(mode), orch.Threads(), cfg.Rate(mode))
	}

	res, runErr := orch.Run(ctx, target, mode, runners)

	if sf.metricsFile != "" {
		if err := prometheus.WriteToTextfile(sf.metricsFile, m.Registry()); err != nil {
			a.logger.Warn("write metrics", slog.String("path", sf.metricsFile), slog.String("err", err.Error()))
		}
	}

	if res != nil {
		if a.jsonOut {
			if err := a.emitJSON(scanReport(res)); err != nil {
				return err
			}
		} else {
			a.out.Session(res.Session)
			a.out.Findings(res.Findings)
		}
	}
	if errors.Is(runErr, core.ErrConsentRequired) && !a.jsonOut {
		a.out.Warn(fmt.Sprintf("aggressive mode needs verified consent: run 'argus consent gen %s'", target.URL.Host))
	}
	return runErr
}

func coreConfig(c *config.Config) core.Config {
	return core.Config{
		RateSafe:             c.Scan.RateSafe,
		RateAggressive:       c.Scan.RateAggressive,
		Threads:              c.Scan.Threads,
		HTTP:                 c.HTTP(),
		Retry:                c.Retry(),
		UnreachableThreshold: c.Scan.UnreachableThreshold,
		Headers:              c.Headers(),
	}
}

// scanDocument is the --json output of a scan.
type scanDocument struct {
	Tool     string            `json:"tool"`
	Version  string            `json:"version"`
	ExitCode int               `json:"exit_code"`
	Session  store.Session     `json:"session"`
	Summary  store.Summary     `json:"summary"`
	Findings []finding.Finding `json:"findings"`
}

func scanReport(res *core.Result) scanDocument {
	fs := res.Findings
	if fs == nil {
		fs = []finding.Finding{}
	}
	return scanDocument{
		Tool:     defaults.ToolName,
		Version:  defaults.Version,
		ExitCode: res.ExitCode,
		Session:  res.Session,
		Summary:  res.Summary,
		Findings: fs,
	}
}
