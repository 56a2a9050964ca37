package defaults_test

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argusscan/argus/pkg/defaults"
)

func TestVersionFormat(t *testing.T) {
	semverPattern := regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9]+)?$`)
	assert.True(t, semverPattern.MatchString(defaults.Version), "defaults.Version (%s) is not valid semver", defaults.Version)
	assert.Contains(t, defaults.UserAgent, defaults.Version)
}

func TestRateOrdering(t *testing.T) {
	assert.Greater(t, defaults.RateSafe, 0.0)
	assert.Greater(t, defaults.RateAggressive, defaults.RateSafe, "aggressive mode must allow a higher rate")
	assert.LessOrEqual(t, defaults.Threads, defaults.ThreadsMax)
}

func TestExitCodesDistinct(t *testing.T) {
	codes := []int{defaults.ExitSuccess, defaults.ExitError, defaults.ExitNotInScope, defaults.ExitInterrupted}
	seen := make(map[int]bool)
	for _, c := range codes {
		assert.False(t, seen[c], "duplicate exit code %d", c)
		seen[c] = true
	}
	assert.Equal(t, 130, defaults.ExitInterrupted)
}

// TestNoHardcodedUserAgent ensures request code uses defaults.UserAgent.
func TestNoHardcodedUserAgent(t *testing.T) {
	root := findProjectRoot(t)
	var violations []string

	for _, dir := range []string{"pkg", "cmd"} {
		_ = filepath.Walk(filepath.Join(root, dir), func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() || !strings.HasSuffix(path, ".go") {
				return nil
			}
			if strings.HasSuffix(path, "_test.go") || strings.Contains(path, filepath.Join("pkg", "defaults")) {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			if strings.Contains(string(data), `"Argus/`) {
				violations = append(violations, path)
			}
			return nil
		})
	}

	assert.Empty(t, violations, "hardcoded user agent; use defaults.UserAgent")
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Skip("go.mod not found")
		}
		dir = parent
	}
}
