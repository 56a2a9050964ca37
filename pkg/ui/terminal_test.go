package ui

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminal_NonFileWriter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	assert.False(t, IsTerminal(&buf))
	assert.False(t, UnicodeTerminal(&buf))
	assert.Equal(t, 80, Width(&buf, 80))
}

func TestIsTerminal_RegularFile(t *testing.T) {
	t.Parallel()
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	assert.False(t, IsTerminal(f))
	assert.Equal(t, 120, Width(f, 120))
}

func TestColorEnabled_NoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	assert.False(t, ColorEnabled(os.Stdout))
}

func TestSanitizeString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"plain ascii", "plain ascii"},
		{"café résumé", "café résumé"},
		{"✅ done", " done"},
		{"⚠️ careful", " careful"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeString(tt.in), tt.in)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "tiny", truncate("tiny", 2), "widths too small to mark are ignored")
}
