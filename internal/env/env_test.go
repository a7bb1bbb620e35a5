package env

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergePrecedence(t *testing.T) {
	e := Empty()
	e.Set("A", "global")
	e.Set("B", "global")
	out := e.Merge([]string{"B=file", "C=file"}, []string{"C=app"})
	assert.Equal(t, []string{"A=global", "B=file", "C=app"}, out)
}

func TestMergeExpandsReferences(t *testing.T) {
	e := Empty()
	e.SetPairs([]string{"ROOT=/srv/bot", "bad", "=skip"})
	out := e.Merge([]string{"DB=${ROOT}/data/bot.sqlite3", "KEEP=${MISSING}"})
	assert.Contains(t, out, "DB=/srv/bot/data/bot.sqlite3")
	assert.Contains(t, out, "KEEP=${MISSING}")
	assert.Len(t, out, 3)
}

func TestNewIncludesOSEnvironment(t *testing.T) {
	t.Setenv("APPVISOR_ENV_TEST", "yes")
	out := New().Merge()
	assert.Contains(t, out, "APPVISOR_ENV_TEST=yes")
}

func TestUnset(t *testing.T) {
	e := Empty()
	e.Set("X", "1")
	e.Unset("X")
	assert.Empty(t, e.Merge())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env.prod")
	content := "# comment\nBOT_TOKEN=abc:123\nexport CURRENCY=RUB\nQUOTED=\"a b\"\n"
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))

	kvs, err := LoadFile(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"BOT_TOKEN=abc:123", "CURRENCY=RUB", "QUOTED=a b"}, kvs)
}

func TestLoadOptionalFileMissing(t *testing.T) {
	kvs, err := LoadOptionalFile(filepath.Join(t.TempDir(), "nope.env"))
	require.NoError(t, err)
	assert.Nil(t, kvs)

	_, err = LoadFile(filepath.Join(t.TempDir(), "nope.env"))
	require.Error(t, err)
}

func FuzzMerge(f *testing.F) {
	f.Add("A=1\nB=${A}-x", "C=${B}-y")
	f.Add("FOO=bar", "FOO=${FOO}")
	f.Add("X=${Y}", "Y=${X}")

	f.Fuzz(func(t *testing.T, global, per string) {
		e := Empty()
		e.SetPairs(strings.Split(global, "\n"))
		for _, kv := range e.Merge(strings.Split(per, "\n")) {
			if !strings.Contains(kv, "=") || strings.HasPrefix(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
		}
	})
}
