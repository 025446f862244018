package cmd

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/defi-org-code/ton-validator-reporter/internal/alert"
	"github.com/defi-org-code/ton-validator-reporter/internal/config"
	"github.com/defi-org-code/ton-validator-reporter/internal/metrics"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestInitWritesLoadableFiles(t *testing.T) {
	dir := t.TempDir()
	out := execute(t, "init", "--dir", dir, "--force")
	assert.Contains(t, out, filepath.Join(dir, "config.yml"))

	cfgFile = filepath.Join(dir, "config.yml")
	cfg, constants, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "db.json"), cfg.Paths.StateFile)
	assert.Equal(t, filepath.Join(dir, "journal.db"), cfg.Journal.Path)
	assert.Equal(t, config.DefaultConstants().ValidatorsElectedFor, constants.ValidatorsElectedFor)
}

func TestVersion(t *testing.T) {
	assert.Contains(t, execute(t, "version"), "ton-reporter dev")
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	f := alert.NewFlags(map[string]bool{alert.ExitNewOffer: true}, nil, nil)
	require.NoError(t, printer{w: &buf}.Publish(&metrics.Snapshot{Hostname: "validator-1"}, f))

	assert.Equal(t, "validator-1", gjson.GetBytes(buf.Bytes(), "metrics.hostname").String())
	assert.True(t, gjson.GetBytes(buf.Bytes(), "emergency_flags.exit").Bool())
}

func TestUpdateWatchRequiresEnabled(t *testing.T) {
	cfgFile = filepath.Join(t.TempDir(), "missing.yml")
	t.Cleanup(func() { updateWatch = false })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"update", "--watch"})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update.enabled")
}

func TestUpdateDryRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/version.txt" {
			_, _ = w.Write([]byte("9.9.9\n"))
			return
		}
		t.Errorf("unexpected request %s", r.URL.Path)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfgFile = filepath.Join(dir, "config.yml")
	yml := fmt.Sprintf("update:\n  version_url: %s/version.txt\n  installer_url: %s/installer.sh\n  work_dir: %s\n", srv.URL, srv.URL, dir)
	require.NoError(t, os.WriteFile(cfgFile, []byte(yml), 0o644))
	t.Cleanup(func() { updateDryRun = false })

	out := execute(t, "update", "--dry-run")
	assert.Contains(t, out, "current: v0.0.0")
	assert.Contains(t, out, "latest:  v9.9.9")
	assert.Contains(t, out, "update available")
	assert.NoFileExists(t, filepath.Join(dir, "installer.sh"))
}
