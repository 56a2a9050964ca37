package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/argusscan/argus/pkg/config"
	"github.com/argusscan/argus/pkg/consent"
	"github.com/argusscan/argus/pkg/httpclient"
	"github.com/argusscan/argus/pkg/jsonutil"
	"github.com/argusscan/argus/pkg/store"
	"github.com/argusscan/argus/pkg/ui"
)

// errUsage reports bad flags or arguments. The message has already been
// written by the flag set or the command.
var errUsage = errors.New("usage error")

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	configPath string
	dbPath     string
	logLevel   string
	logJSON    bool
	verbose    bool
	noColor    bool
	jsonOut    bool
}

func (cf *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&cf.configPath, "config", "", "Config file (default ~/.argus/config.yaml)")
	fs.StringVar(&cf.dbPath, "db", "", "SQLite database path")
	fs.StringVar(&cf.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.BoolVar(&cf.logJSON, "log-json", false, "Write logs as JSON")
	fs.BoolVar(&cf.verbose, "verbose", false, "Show finding details")
	fs.BoolVar(&cf.verbose, "v", false, "Show finding details (alias)")
	fs.BoolVar(&cf.noColor, "no-color", false, "Disable colour output")
	fs.BoolVar(&cf.jsonOut, "json", false, "Print machine-readable JSON to stdout")
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("argus "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parseArgs parses flags that may appear before, between or after
// positional arguments and returns the positionals.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return nil, err
			}
			return nil, errUsage
		}
		args = fs.Args()
		if len(args) == 0 {
			return pos, nil
		}
		pos = append(pos, args[0])
		args = args[1:]
	}
}

// usageError prints msg with the flag set's usage and returns errUsage.
func usageError(fs *flag.FlagSet, format string, args ...any) error {
	fmt.Fprintf(fs.Output(), format+"\n", args...)
	fs.Usage()
	return errUsage
}

// listFlag collects comma-separated or repeated values.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			*l = append(*l, s)
		}
	}
	return nil
}

// headerFlag collects repeated "Name: value" headers.
type headerFlag map[string]string

func (h headerFlag) String() string {
	parts := make([]string, 0, len(h))
	for k, v := range h {
		parts = append(parts, k+": "+v)
	}
	return strings.Join(parts, ", ")
}

func (h headerFlag) Set(v string) error {
	name, value, ok := strings.Cut(v, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("header %q: want \"Name: value\"", v)
	}
	h[name] = strings.TrimSpace(value)
	return nil
}

// app is the per-command runtime: effective config, logger and printer.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	out     *ui.Printer
	stdout  io.Writer
	jsonOut bool
	closers []func() error
}

// newApp resolves the configuration (defaults, file, environment), applies
// override for command flags and builds the logger.
func newApp(cf *commonFlags, stdout, stderr io.Writer, override func(*config.Config) error) (*app, error) {
	cfg, err := config.Resolve(cf.configPath)
	if err != nil {
		return nil, err
	}
	if cf.dbPath != "" {
		cfg.Paths.Database = cf.dbPath
	}
	if cf.logLevel != "" {
		cfg.Logging.Level = cf.logLevel
	}
	if cf.logJSON {
		cfg.Logging.JSON = true
	}
	if override != nil {
		if err := override(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}

	logger, closeLog, err := newLogger(cfg, stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	opts := []ui.Option{ui.WithVerbose(cf.verbose)}
	if cf.noColor {
		opts = append(opts, ui.WithColor(false))
	}
	return &app{
		cfg:     cfg,
		logger:  logger,
		out:     ui.NewPrinter(stdout, opts...),
		stdout:  stdout,
		jsonOut: cf.jsonOut,
		closers: []func() error{closeLog},
	}, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close", slog.String("err", err.Error()))
		}
	}
}

func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(ctx, a.cfg.Paths.Database, store.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, st.Close)
	if st.Recovered != "" && !a.jsonOut {
		a.out.Warn("database was corrupt and has been recreated; backup at " + st.Recovered)
	}
	return st, nil
}

func (a *app) consentStore(st *store.Store) (*consent.Store, error) {
	hc, err := httpclient.New(a.cfg.HTTP())
	if err != nil {
		return nil, err
	}
	return consent.NewStore(st,
		consent.WithProofsDir(a.cfg.Paths.ProofsDir),
		consent.WithTTL(a.cfg.Consent.TTL),
		consent.WithDNSRetry(a.cfg.Consent.DNSRetries, a.cfg.Consent.DNSRetryDelay),
		consent.WithHTTPClient(hc),
		consent.WithLogger(a.logger),
	)
}

func (a *app) emitJSON(v any) error {
	enc := jsonutil.NewStreamEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
