package updater

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const script = "#!/bin/sh\necho installing\n"

type release struct {
	version         atomic.Value
	versionHits     atomic.Int32
	installerHits   atomic.Int32
	versionStatus   int
	versionFailures int32
}

func newRelease(t *testing.T, version string) (*release, *httptest.Server) {
	t.Helper()
	r := &release{versionStatus: http.StatusOK}
	r.version.Store(version)
	mux := http.NewServeMux()
	mux.HandleFunc("/version.txt", func(w http.ResponseWriter, _ *http.Request) {
		if n := r.versionHits.Add(1); n <= r.versionFailures {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(r.versionStatus)
		_, _ = w.Write([]byte(r.version.Load().(string) + "\n"))
	})
	mux.HandleFunc("/installer.sh", func(w http.ResponseWriter, _ *http.Request) {
		r.installerHits.Add(1)
		_, _ = w.Write([]byte(script))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return r, srv
}

type recordingRunner struct {
	calls   []string
	scripts []string
	err     error
}

func (r *recordingRunner) run(_ context.Context, dir, path string) ([]byte, error) {
	r.calls = append(r.calls, dir)
	body, _ := os.ReadFile(path)
	r.scripts = append(r.scripts, string(body))
	return []byte("done"), r.err
}

func newTestUpdater(t *testing.T, srv *httptest.Server, current string, runner *recordingRunner) (*Updater, string) {
	t.Helper()
	dir := t.TempDir()
	u := New(Config{
		VersionURL:   srv.URL + "/version.txt",
		InstallerURL: srv.URL + "/installer.sh",
		WorkDir:      dir,
		Interval:     time.Hour,
		RetryDelay:   time.Millisecond,
	}, current, WithRunner(runner.run))
	return u, dir
}

func TestNewer(t *testing.T) {
	tests := []struct {
		current, latest string
		want            bool
	}{
		{"v1.2.2", "v1.2.3", true},
		{"v1.2.3", "v1.2.3", false},
		{"v1.10.0", "v1.9.9", false},
		{"v1.2.3", "v2.0.0", true},
		{"v1.2.2", "v1.2.3-rc.1", false},
		{Canonical("dev"), "v0.0.1", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Newer(tt.current, tt.latest), "%s -> %s", tt.current, tt.latest)
	}
}

func TestCanonical(t *testing.T) {
	assert.Equal(t, "v1.2.0", Canonical("1.2"))
	assert.Equal(t, "v1.2.3", Canonical(" v1.2.3 "))
	assert.Equal(t, "v0.0.0", Canonical("dev"))
	assert.Equal(t, "v0.0.0", Canonical(""))
}

func TestCheckInstallsNewerVersion(t *testing.T) {
	rel, srv := newRelease(t, "1.3.0")
	runner := &recordingRunner{}
	u, dir := newTestUpdater(t, srv, "v1.2.0", runner)

	res, err := u.Check(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, "v1.2.0", res.Current)
	assert.Equal(t, "v1.3.0", res.Latest)
	assert.Equal(t, "v1.3.0", u.Current())

	require.Len(t, runner.calls, 1)
	assert.Equal(t, dir, runner.calls[0])
	assert.Equal(t, script, runner.scripts[0])

	info, err := os.Stat(filepath.Join(dir, installerName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	// The installed version is not reinstalled on the next check.
	res, err = u.Check(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Len(t, runner.calls, 1)
	assert.Equal(t, int32(1), rel.installerHits.Load())
}

func TestCheckUpToDate(t *testing.T) {
	rel, srv := newRelease(t, "1.2.0")
	runner := &recordingRunner{}
	u, _ := newTestUpdater(t, srv, "1.2.0", runner)

	res, err := u.Check(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Empty(t, runner.calls)
	assert.Zero(t, rel.installerHits.Load())
}

func TestCheckDryRun(t *testing.T) {
	rel, srv := newRelease(t, "2.0.0")
	runner := &recordingRunner{}
	u, _ := newTestUpdater(t, srv, "1.0.0", runner)

	res, err := u.Check(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "v2.0.0", res.Latest)
	assert.False(t, res.Applied)
	assert.Empty(t, runner.calls)
	assert.Zero(t, rel.installerHits.Load())
}

func TestCheckFailures(t *testing.T) {
	t.Run("installer fails", func(t *testing.T) {
		_, srv := newRelease(t, "1.3.0")
		runner := &recordingRunner{err: errors.New("exit status 1")}
		u, _ := newTestUpdater(t, srv, "1.2.0", runner)

		res, err := u.Check(context.Background(), false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "done")
		assert.False(t, res.Applied)
		assert.Equal(t, "v1.2.0", u.Current(), "a failed install is retried next time")
	})

	t.Run("garbage version", func(t *testing.T) {
		_, srv := newRelease(t, "<html>")
		u, _ := newTestUpdater(t, srv, "1.2.0", &recordingRunner{})
		_, err := u.Check(context.Background(), false)
		assert.Error(t, err)
	})

	t.Run("not found is not retried", func(t *testing.T) {
		rel, srv := newRelease(t, "1.3.0")
		rel.versionStatus = http.StatusNotFound
		u, _ := newTestUpdater(t, srv, "1.2.0", &recordingRunner{})
		_, err := u.Check(context.Background(), false)
		assert.Error(t, err)
		assert.Equal(t, int32(1), rel.versionHits.Load())
	})

	t.Run("transient errors are retried", func(t *testing.T) {
		rel, srv := newRelease(t, "1.2.0")
		rel.versionFailures = 2
		u, _ := newTestUpdater(t, srv, "1.2.0", &recordingRunner{})
		res, err := u.Check(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, "v1.2.0", res.Latest)
		assert.Equal(t, int32(3), rel.versionHits.Load())
	})
}

func TestUntilNextCheck(t *testing.T) {
	u := New(Config{Interval: 5 * time.Minute}, "1.0.0")
	assert.Equal(t, 4*time.Minute, u.untilNextCheck(time.Unix(1700000160, 0)))
	assert.Equal(t, 5*time.Minute, u.untilNextCheck(time.Unix(1700000100, 0)))
}

func TestRunStopsOnCancel(t *testing.T) {
	rel, srv := newRelease(t, "1.2.0")
	u, _ := newTestUpdater(t, srv, "1.2.0", &recordingRunner{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()

	require.Eventually(t, func() bool { return rel.versionHits.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
