package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argusscan/argus/pkg/defaults"
	"github.com/argusscan/argus/pkg/duration"
	"github.com/argusscan/argus/pkg/retry"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, defaults.ModeSafe, cfg.Scan.Mode)
	assert.Equal(t, 5.0, cfg.Scan.RateSafe)
	assert.Equal(t, 10.0, cfg.Scan.RateAggressive)
	assert.Equal(t, 5, cfg.Scan.Threads)
	assert.Equal(t, 30*time.Second, cfg.Scan.Timeout)
	assert.Equal(t, 3, cfg.Scan.Retries)
	assert.Equal(t, 2*time.Second, cfg.Scan.RetryDelay)
	assert.Equal(t, 48*time.Hour, cfg.Consent.TTL)
	assert.True(t, cfg.Logging.Redact)
	assert.Empty(t, cfg.Telemetry.Endpoint)
	assert.Equal(t, defaults.ServerAddr, cfg.Server.Addr)
}

func TestParse_OverridesOnlyGivenKeys(t *testing.T) {
	t.Parallel()
	cfg, err := Parse([]byte(`
scan:
  rate_safe: 2.5
  threads: 8
  timeout: 15s
consent:
  ttl: 24h
advanced:
  headers:
    X-Scan-Owner: secops
`))
	require.NoError(t, err)

	assert.Equal(t, 2.5, cfg.Scan.RateSafe)
	assert.Equal(t, 8, cfg.Scan.Threads)
	assert.Equal(t, 15*time.Second, cfg.Scan.Timeout)
	assert.Equal(t, 24*time.Hour, cfg.Consent.TTL)
	assert.Equal(t, "secops", cfg.Advanced.Headers["X-Scan-Owner"])

	// untouched keys keep their defaults
	assert.Equal(t, 10.0, cfg.Scan.RateAggressive)
	assert.Equal(t, defaults.RetryAttempts, cfg.Scan.Retries)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte("scan: [unclosed"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Parse([]byte("scan:\n  timeout: soon\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_NotFound(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "logging:\n  level: debug\n  json: true\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	lvl, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
	assert.True(t, cfg.Logging.JSON)
}

func TestResolve_ExplicitMissingFile(t *testing.T) {
	_, err := Resolve(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestResolve_DefaultFileOptional(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Resolve("")
	require.NoError(t, err)
	assert.Equal(t, defaults.Threads, cfg.Scan.Threads)
}

func TestResolve_Layering(t *testing.T) {
	path := writeFile(t, "scan:\n  threads: 8\n  rate_safe: 3\n")
	t.Setenv("ARGUS_SCAN_THREADS", "12")

	cfg, err := Resolve(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Scan.Threads, "env beats file")
	assert.Equal(t, 3.0, cfg.Scan.RateSafe, "file beats default")
	assert.Equal(t, defaults.RateAggressive, cfg.Scan.RateAggressive, "default when unset")
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"ARGUS_SCAN_MODE":          "aggressive",
		"ARGUS_SCAN_RATE_SAFE":     "1.5",
		"ARGUS_SCAN_TIMEOUT":       "12",
		"ARGUS_CONSENT_TTL":        "72h",
		"ARGUS_LOGGING_JSON":       "yes",
		"ARGUS_PATHS_DATABASE":     "/var/lib/argus/argus.db",
		"ARGUS_TELEMETRY_ENDPOINT": "otel:4317",
		"ARGUS_SERVER_ADDR":        "",
	}))
	require.NoError(t, err)

	assert.Equal(t, defaults.ModeAggressive, cfg.Scan.Mode)
	assert.Equal(t, 1.5, cfg.Scan.RateSafe)
	assert.Equal(t, 12*time.Second, cfg.Scan.Timeout, "bare numbers are seconds")
	assert.Equal(t, 72*time.Hour, cfg.Consent.TTL)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, "/var/lib/argus/argus.db", cfg.Paths.Database)
	assert.Equal(t, "otel:4317", cfg.Telemetry.Endpoint)
	assert.Equal(t, defaults.ServerAddr, cfg.Server.Addr, "empty values are ignored")
}

func TestApplyEnv_BadValue(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"ARGUS_SCAN_THREADS":   "many",
		"ARGUS_SCAN_RATE_SAFE": "fast",
		"ARGUS_LOGGING_REDACT": "maybe",
		"ARGUS_CONSENT_TTL":    "forever",
	}
	for k, v := range tests {
		err := Default().ApplyEnv(env(map[string]string{k: v}))
		assert.ErrorIs(t, err, ErrInvalidConfig, k)
		assert.ErrorContains(t, err, k)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero safe rate", func(c *Config) { c.Scan.RateSafe = 0 }},
		{"negative aggressive rate", func(c *Config) { c.Scan.RateAggressive = -1 }},
		{"zero threads", func(c *Config) { c.Scan.Threads = 0 }},
		{"too many threads", func(c *Config) { c.Scan.Threads = 21 }},
		{"zero timeout", func(c *Config) { c.Scan.Timeout = 0 }},
		{"zero ttl", func(c *Config) { c.Consent.TTL = 0 }},
		{"unknown mode", func(c *Config) { c.Scan.Mode = "stealth" }},
		{"unknown strategy", func(c *Config) { c.Scan.RetryStrategy = "random" }},
		{"bad level", func(c *Config) { c.Logging.Level = "chatty" }},
		{"bad proxy", func(c *Config) { c.Advanced.Proxy = "ftp://proxy:21" }},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, tt.name)
	}

	cfg := Default()
	cfg.Scan.Threads = defaults.ThreadsMax
	cfg.Scan.Mode = "Aggressive"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Scan.RateSafe = 0
	cfg.Scan.Threads = 99
	err := cfg.Validate()
	assert.ErrorContains(t, err, "rate_safe")
	assert.ErrorContains(t, err, "threads")
}

func TestExpandPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := Default()
	cfg.Paths.LogFile = "/var/log/argus.log"
	require.NoError(t, cfg.ExpandPaths())

	assert.Equal(t, filepath.Join(home, ".argus", "argus.db"), cfg.Paths.Database)
	assert.Equal(t, filepath.Join(home, ".argus", "consent-proofs"), cfg.Paths.ProofsDir)
	assert.Equal(t, "/var/log/argus.log", cfg.Paths.LogFile)
}

func TestDerivedConfigs(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Scan.Threads = 7
	cfg.Scan.VerifyTLS = false
	cfg.Scan.RetryStrategy = "exponential"
	cfg.Advanced.Proxy = "socks5://127.0.0.1:9050"
	cfg.Advanced.Headers = map[string]string{"X-Test": "1"}
	cfg.Telemetry.Endpoint = "collector:4317"

	h := cfg.HTTP()
	assert.Equal(t, duration.HTTPScanning, h.Timeout)
	assert.True(t, h.InsecureSkipVerify)
	assert.Equal(t, 7, h.MaxConnsPerHost)
	assert.Equal(t, "socks5://127.0.0.1:9050", h.Proxy)

	r := cfg.Retry()
	assert.Equal(t, 3, r.MaxAttempts)
	assert.Equal(t, 2*time.Second, r.InitDelay)
	assert.Equal(t, retry.Exponential, r.Strategy)

	hdr := cfg.Headers()
	assert.Equal(t, "1", hdr["X-Test"])
	assert.Equal(t, defaults.UserAgent, hdr["User-Agent"])

	tc := cfg.TelemetryConfig()
	assert.Equal(t, "collector:4317", tc.Endpoint)
	assert.Equal(t, defaults.ToolName, tc.ServiceName)
}
