// Package config loads argus settings. Values are layered from built-in
// defaults, a YAML file, ARGUS_* environment variables and finally CLI
// flags, which the caller applies on the returned Config.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/argusscan/argus/pkg/defaults"
	"github.com/argusscan/argus/pkg/duration"
	"github.com/argusscan/argus/pkg/httpclient"
	"github.com/argusscan/argus/pkg/retry"
	"github.com/argusscan/argus/pkg/telemetry"
)

// Config is the full argus configuration.
type Config struct {
	Paths     Paths     `yaml:"paths"`
	Scan      Scan      `yaml:"scan"`
	Consent   Consent   `yaml:"consent"`
	Logging   Logging   `yaml:"logging"`
	Advanced  Advanced  `yaml:"advanced"`
	Telemetry Telemetry `yaml:"telemetry"`
	Server    Server    `yaml:"server"`
}

// Paths locates on-disk state. A leading ~ is expanded.
type Paths struct {
	Database  string `yaml:"database"`
	ProofsDir string `yaml:"proofs_dir"`
	LogFile   string `yaml:"log_file"`
}

// Scan controls one scan run.
type Scan struct {
	Mode                 string        `yaml:"mode"`
	RateSafe             float64       `yaml:"rate_safe"`
	RateAggressive       float64       `yaml:"rate_aggressive"`
	Threads              int           `yaml:"threads"`
	Timeout              time.Duration `yaml:"timeout"`
	Retries              int           `yaml:"retries"`
	RetryDelay           time.Duration `yaml:"retry_delay"`
	RetryStrategy        string        `yaml:"retry_strategy"`
	UnreachableThreshold int           `yaml:"unreachable_threshold"`
	UserAgent            string        `yaml:"user_agent"`
	FollowRedirects      bool          `yaml:"follow_redirects"`
	MaxRedirects         int           `yaml:"max_redirects"`
	VerifyTLS            bool          `yaml:"verify_tls"`
	Checks               []string      `yaml:"checks"`
}

// Consent controls token lifetime and DNS verification retries.
type Consent struct {
	TTL           time.Duration `yaml:"ttl"`
	DNSRetries    int           `yaml:"dns_retries"`
	DNSRetryDelay time.Duration `yaml:"dns_retry_delay"`
}

// Logging controls the process logger.
type Logging struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Redact bool   `yaml:"redact"`
}

// Advanced holds transport knobs rarely changed.
type Advanced struct {
	Proxy   string            `yaml:"proxy"`
	Headers map[string]string `yaml:"headers"`
}

// Telemetry configures the OTLP trace exporter. An empty endpoint disables it.
type Telemetry struct {
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	ServiceName string            `yaml:"service_name"`
	Headers     map[string]string `yaml:"headers"`
}

// Server configures `argus serve`.
type Server struct {
	Addr    string `yaml:"addr"`
	Metrics bool   `yaml:"metrics"`
}

// Default returns the built-in configuration. Paths are relative to the
// user's home directory.
func Default() *Config {
	home := "~/" + defaults.HomeDir
	return &Config{
		Paths: Paths{
			Database:  home + "/" + defaults.DatabaseFile,
			ProofsDir: home + "/" + defaults.ProofsDir,
		},
		Scan: Scan{
			Mode:                 defaults.ModeSafe,
			RateSafe:             defaults.RateSafe,
			RateAggressive:       defaults.RateAggressive,
			Threads:              defaults.Threads,
			Timeout:              duration.HTTPScanning,
			Retries:              defaults.RetryAttempts,
			RetryDelay:           duration.RetryFixed,
			RetryStrategy:        retry.Constant.String(),
			UnreachableThreshold: defaults.UnreachableThreshold,
			UserAgent:            defaults.UserAgent,
			FollowRedirects:      true,
			MaxRedirects:         5,
			VerifyTLS:            true,
		},
		Consent: Consent{
			TTL:           duration.TokenTTL,
			DNSRetries:    defaults.DNSRetries,
			DNSRetryDelay: duration.DNSRetry,
		},
		Logging: Logging{
			Level:  "info",
			Redact: true,
		},
		Telemetry: Telemetry{
			ServiceName: defaults.ToolName,
		},
		Server: Server{
			Addr:    defaults.ServerAddr,
			Metrics: true,
		},
	}
}

// DefaultPath returns ~/.argus/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: home directory: %w", err)
	}
	return filepath.Join(home, defaults.HomeDir, defaults.ConfigFile), nil
}

// Load reads the YAML file at path over the defaults.
// Returns ErrConfigNotFound if the file doesn't exist.
// Returns ErrInvalidConfig if the file is malformed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults. Keys absent from data keep their
// default value.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Resolve loads the effective configuration. An empty path means the
// default file, which may be absent. Environment overrides are applied and
// the result is validated.
func Resolve(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg, err := Load(path)
	if errors.Is(err, ErrConfigNotFound) && !explicit {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envVar binds one ARGUS_* variable to a field.
type envVar struct {
	name string
	set  func(c *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func num(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func float(dst func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst(c) = true
		case "0", "false", "no", "off":
			*dst(c) = false
		default:
			return fmt.Errorf("not a boolean: %q", v)
		}
		return nil
	}
}

func dur(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			// bare numbers are seconds
			n, nerr := strconv.Atoi(v)
			if nerr != nil {
				return err
			}
			d = time.Duration(n) * time.Second
		}
		*dst(c) = d
		return nil
	}
}

var envVars = []envVar{
	{"PATHS_DATABASE", str(func(c *Config) *string { return &c.Paths.Database })},
	{"PATHS_PROOFS_DIR", str(func(c *Config) *string { return &c.Paths.ProofsDir })},
	{"PATHS_LOG_FILE", str(func(c *Config) *string { return &c.Paths.LogFile })},
	{"SCAN_MODE", str(func(c *Config) *string { return &c.Scan.Mode })},
	{"SCAN_RATE_SAFE", float(func(c *Config) *float64 { return &c.Scan.RateSafe })},
	{"SCAN_RATE_AGGRESSIVE", float(func(c *Config) *float64 { return &c.Scan.RateAggressive })},
	{"SCAN_THREADS", num(func(c *Config) *int { return &c.Scan.Threads })},
	{"SCAN_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.Scan.Timeout })},
	{"SCAN_RETRIES", num(func(c *Config) *int { return &c.Scan.Retries })},
	{"SCAN_RETRY_DELAY", dur(func(c *Config) *time.Duration { return &c.Scan.RetryDelay })},
	{"SCAN_RETRY_STRATEGY", str(func(c *Config) *string { return &c.Scan.RetryStrategy })},
	{"SCAN_USER_AGENT", str(func(c *Config) *string { return &c.Scan.UserAgent })},
	{"SCAN_VERIFY_TLS", boolean(func(c *Config) *bool { return &c.Scan.VerifyTLS })},
	{"CONSENT_TTL", dur(func(c *Config) *time.Duration { return &c.Consent.TTL })},
	{"CONSENT_DNS_RETRIES", num(func(c *Config) *int { return &c.Consent.DNSRetries })},
	{"LOGGING_LEVEL", str(func(c *Config) *string { return &c.Logging.Level })},
	{"LOGGING_JSON", boolean(func(c *Config) *bool { return &c.Logging.JSON })},
	{"LOGGING_REDACT", boolean(func(c *Config) *bool { return &c.Logging.Redact })},
	{"ADVANCED_PROXY", str(func(c *Config) *string { return &c.Advanced.Proxy })},
	{"TELEMETRY_ENDPOINT", str(func(c *Config) *string { return &c.Telemetry.Endpoint })},
	{"TELEMETRY_INSECURE", boolean(func(c *Config) *bool { return &c.Telemetry.Insecure })},
	{"SERVER_ADDR", str(func(c *Config) *string { return &c.Server.Addr })},
}

// ApplyEnv overrides fields from ARGUS_* variables found through lookup
// (normally os.LookupEnv). Empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, ev := range envVars {
		name := defaults.EnvPrefix + ev.name
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := ev.set(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
		}
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	switch strings.ToLower(c.Scan.Mode) {
	case defaults.ModeSafe, defaults.ModeAggressive:
	default:
		bad("scan.mode %q must be safe or aggressive", c.Scan.Mode)
	}
	if c.Scan.RateSafe <= 0 {
		bad("scan.rate_safe must be > 0, got %v", c.Scan.RateSafe)
	}
	if c.Scan.RateAggressive <= 0 {
		bad("scan.rate_aggressive must be > 0, got %v", c.Scan.RateAggressive)
	}
	if c.Scan.Threads < 1 || c.Scan.Threads > defaults.ThreadsMax {
		bad("scan.threads must be in [1, %d], got %d", defaults.ThreadsMax, c.Scan.Threads)
	}
	if c.Scan.Timeout <= 0 {
		bad("scan.timeout must be > 0, got %s", c.Scan.Timeout)
	}
	if c.Scan.Retries < 1 {
		bad("scan.retries must be >= 1, got %d", c.Scan.Retries)
	}
	if c.Scan.RetryDelay < 0 {
		bad("scan.retry_delay must not be negative")
	}
	switch strings.ToLower(c.Scan.RetryStrategy) {
	case "", "fixed", "exponential", "linear":
	default:
		bad("scan.retry_strategy %q must be fixed, exponential or linear", c.Scan.RetryStrategy)
	}
	if c.Consent.TTL <= 0 {
		bad("consent.ttl must be > 0, got %s", c.Consent.TTL)
	}
	if c.Consent.DNSRetries < 1 {
		bad("consent.dns_retries must be >= 1, got %d", c.Consent.DNSRetries)
	}
	if _, err := c.LogLevel(); err != nil {
		bad("logging.level: %v", err)
	}
	if c.Advanced.Proxy != "" {
		if _, err := httpclient.ParseProxyURL(c.Advanced.Proxy); err != nil {
			bad("advanced.proxy: %v", err)
		}
	}
	return errors.Join(errs...)
}

// LogLevel parses Logging.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.Logging.Level))); err != nil {
		return slog.LevelInfo, err
	}
	return lvl, nil
}

// ExpandPaths replaces a leading ~ in every path with the home directory.
func (c *Config) ExpandPaths() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("config: home directory: %w", err)
	}
	for _, p := range []*string{&c.Paths.Database, &c.Paths.ProofsDir, &c.Paths.LogFile} {
		*p = expandHome(*p, home)
	}
	return nil
}

func expandHome(p, home string) string {
	switch {
	case p == "~":
		return home
	case strings.HasPrefix(p, "~/"):
		return filepath.Join(home, p[2:])
	}
	return p
}

// HTTP returns the transport settings for scans.
func (c *Config) HTTP() httpclient.Config {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = c.Scan.Timeout
	cfg.InsecureSkipVerify = !c.Scan.VerifyTLS
	cfg.Proxy = c.Advanced.Proxy
	cfg.FollowRedirects = c.Scan.FollowRedirects
	if c.Scan.MaxRedirects > 0 {
		cfg.MaxRedirects = c.Scan.MaxRedirects
	}
	cfg.MaxConnsPerHost = c.Scan.Threads
	return cfg
}

// Retry returns the retry policy for scan requests.
func (c *Config) Retry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = c.Scan.Retries
	cfg.InitDelay = c.Scan.RetryDelay
	cfg.Strategy = retry.ParseStrategy(strings.ToLower(c.Scan.RetryStrategy))
	return cfg
}

// Headers returns the headers sent with every scan request, including the
// configured User-Agent.
func (c *Config) Headers() map[string]string {
	h := make(map[string]string, len(c.Advanced.Headers)+1)
	for k, v := range c.Advanced.Headers {
		h[k] = v
	}
	if c.Scan.UserAgent != "" {
		h["User-Agent"] = c.Scan.UserAgent
	}
	return h
}

// TelemetryConfig returns the exporter settings.
func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Endpoint:    c.Telemetry.Endpoint,
		Insecure:    c.Telemetry.Insecure,
		ServiceName: c.Telemetry.ServiceName,
		Headers:     c.Telemetry.Headers,
	}
}
