package logtrace

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestRotatingWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "reporter.log")
	w, err := newRotatingWriter(path, 10, 2)
	require.NoError(t, err)

	for _, line := range []string{"aaaaaaaa\n", "bbbbbbbb\n", "cccccccc\n", "dddddddd\n"} {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	read := func(p string) string {
		b, err := os.ReadFile(p)
		require.NoError(t, err)
		return string(b)
	}
	assert.Equal(t, "dddddddd\n", read(path))
	assert.Equal(t, "cccccccc\n", read(path+".1"))
	assert.Equal(t, "bbbbbbbb\n", read(path+".2"))
	assert.NoFileExists(t, path+".3")

	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestRotatingWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reporter.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	w, err := newRotatingWriter(path, 0, 0)
	require.NoError(t, err)
	_, err = w.Write([]byte("new\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old\nnew\n", string(b))
}

func TestSetupWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reporter.log")
	require.NoError(t, Setup("ton-reporter", "test", slog.LevelInfo, WithFile(path, 1<<20, 3)))
	t.Cleanup(func() { _ = Close() })

	ctx := CtxWithCorrelationID(context.Background(), "cid-1")
	Debug(ctx, "hidden", nil)
	Info(ctx, "iteration done", Fields{FieldElectionID: int64(1700000000)})
	require.NoError(t, Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 1)

	entry := lines[0]
	assert.Equal(t, "iteration done", gjson.Get(entry, "msg").String())
	assert.Equal(t, "cid-1", gjson.Get(entry, FieldCorrelationID).String())
	assert.Equal(t, int64(1700000000), gjson.Get(entry, FieldElectionID).Int())
	assert.Equal(t, "ton-reporter", gjson.Get(entry, "service").String())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
