package jsonutil

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type proof struct {
	Domain string   `json:"domain"`
	Token  string   `json:"token"`
	Tags   []string `json:"tags"`
}

func TestUnmarshal(t *testing.T) {
	t.Run("valid object", func(t *testing.T) {
		var p proof
		require.NoError(t, Unmarshal([]byte(`{"domain":"example.com","token":"verify-1"}`), &p))
		assert.Equal(t, "example.com", p.Domain)
	})

	t.Run("unknown member ignored", func(t *testing.T) {
		var p proof
		require.NoError(t, Unmarshal([]byte(`{"domain":"a","extra":1}`), &p))
	})

	t.Run("invalid json", func(t *testing.T) {
		var p proof
		assert.Error(t, Unmarshal([]byte(`{invalid}`), &p))
	})
}

func TestUnmarshalStrict_RejectsUnknown(t *testing.T) {
	var p proof
	assert.Error(t, UnmarshalStrict([]byte(`{"domain":"a","extra":1}`), &p))
	assert.NoError(t, UnmarshalStrict([]byte(`{"domain":"a"}`), &p))
}

func TestMarshal_NilSliceIsEmptyArray(t *testing.T) {
	data, err := Marshal(proof{Domain: "a"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tags":[]`)
}

func TestMarshalIndent(t *testing.T) {
	data, err := MarshalIndent(map[string]int{"a": 1}, "", "  ")
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"a\": 1")
}

func TestValid(t *testing.T) {
	assert.True(t, Valid([]byte(`{"a":[1,2]}`)))
	assert.False(t, Valid([]byte(`{"a":`)))
}

func TestWriteFileReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proof.json")

	in := proof{Domain: "example.com", Token: "verify-abc", Tags: []string{"http"}}
	require.NoError(t, WriteFile(path, in, 0o600))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	var out proof
	require.NoError(t, ReadFile(path, &out))
	assert.Equal(t, in, out)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not remain")
}

func TestStreamEncoderDecoder(t *testing.T) {
	var buf bytes.Buffer
	enc := NewStreamEncoder(&buf)
	require.NoError(t, enc.Encode(proof{Domain: "a"}))
	require.NoError(t, enc.Encode(proof{Domain: "b"}))
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))

	dec := NewStreamDecoder(strings.NewReader(`{"domain":"x"}`))
	var p proof
	require.NoError(t, dec.Decode(&p))
	assert.Equal(t, "x", p.Domain)
}
