package contentguard

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const leakedKey = `const apiKey = "sk-proj-abc123def456ghi789jkl012mno345pqr678stu901xyz"`

func TestGuard_CleanTemplate(t *testing.T) {
	g, err := New(nil)
	require.NoError(t, err)

	ok, rules := g.Clean("Hi there,\n\nReply STOP to unsubscribe.\nSender identity: Acme Inc.")
	assert.True(t, ok)
	assert.Empty(t, rules)
}

func TestGuard_DetectsCredential(t *testing.T) {
	g, err := New(nil)
	require.NoError(t, err)

	ok, rules := g.Clean(leakedKey)
	assert.False(t, ok)
	assert.NotEmpty(t, rules)
}

func TestGuard_RedactHidesSecret(t *testing.T) {
	g, err := New(nil)
	require.NoError(t, err)

	out := g.Redact(leakedKey)
	assert.NotContains(t, out, "sk-proj-abc123def456")
	assert.Contains(t, out, "[REDACTED:")
}

func TestGuard_DisabledIsPassThrough(t *testing.T) {
	g, err := New(&Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, g.Enabled())
	ok, _ := g.Clean(leakedKey)
	assert.True(t, ok)
	assert.Equal(t, leakedKey, g.Redact(leakedKey))
}

func TestGuard_NilIsPassThrough(t *testing.T) {
	var g *Guard
	assert.Empty(t, g.Scan(leakedKey))
}

func TestLoadAllowlist(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		a, err := LoadAllowlist(filepath.Join(dir, "missing.toml"))
		require.NoError(t, err)
		assert.Empty(t, a.Regexes)
	})

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(dir, "ok.toml")
		require.NoError(t, os.WriteFile(path, []byte("[allowlist]\nregexes = ['\\[BOOKING_LINK\\]']\nstopwords = [\"example\"]\n"), 0o600))
		a, err := LoadAllowlist(path)
		require.NoError(t, err)
		assert.Equal(t, []string{`\[BOOKING_LINK\]`}, a.Regexes)
		assert.Equal(t, []string{"example"}, a.StopWords)
	})

	t.Run("bad regex", func(t *testing.T) {
		path := filepath.Join(dir, "bad.toml")
		require.NoError(t, os.WriteFile(path, []byte("[allowlist]\nregexes = ['(unclosed']\n"), 0o600))
		_, err := LoadAllowlist(path)
		assert.ErrorIs(t, err, ErrInvalidRegex)
	})

	t.Run("bad toml", func(t *testing.T) {
		path := filepath.Join(dir, "broken.toml")
		require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("[", 3)), 0o600))
		_, err := LoadAllowlist(path)
		assert.ErrorIs(t, err, ErrInvalidTOML)
	})
}
