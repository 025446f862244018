package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("poll:\n  interval: 30\nthresholds:\n  min_prob: 0.1\n  out_of_sync: 120\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Poll.Interval)
	assert.Equal(t, 3, cfg.Poll.MaxRetries)
	assert.Equal(t, 0.1, cfg.Thresholds.MinProb)
	assert.Equal(t, int64(120), cfg.Thresholds.OutOfSync)
	assert.Equal(t, 85.0, cfg.Thresholds.MemLoadPct)
	assert.Equal(t, filepath.Join(DefaultReporterDir, "metrics.json"), cfg.Paths.MetricsFile)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("REPORTER_POLL_MAX_RETRIES", "5")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Poll.MaxRetries)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yml")
	cfg := DefaultConfig()
	cfg.Sink.URL = "http://collector.local/putes/reporter"

	require.NoError(t, Save(cfg, path))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Sink.URL, loaded.Sink.URL)
	assert.Equal(t, cfg.Node.ServiceUnit, loaded.Node.ServiceUnit)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero interval", mutate: func(c *Config) { c.Poll.Interval = 0 }, wantErr: true},
		{name: "no retries", mutate: func(c *Config) { c.Poll.MaxRetries = 0 }, wantErr: true},
		{name: "ratio above one", mutate: func(c *Config) { c.Thresholds.ReducedRatio = 1.5 }, wantErr: true},
		{name: "missing db", mutate: func(c *Config) { c.Paths.MytoncoreDB = "" }, wantErr: true},
		{name: "updater enabled", mutate: func(c *Config) { c.Update.Enabled = true }},
		{name: "updater without url", mutate: func(c *Config) { c.Update.Enabled = true; c.Update.VersionURL = "" }, wantErr: true},
		{name: "updater url unused when disabled", mutate: func(c *Config) { c.Update.VersionURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoadConstants(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "constants.yml")
	require.NoError(t, os.WriteFile(path, []byte("validators_elected_for: 1000\nelector_code_hash: abc\n"), 0o644))

	c, err := LoadConstants(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), c.ValidatorsElectedFor)
	assert.Equal(t, int64(8192), c.ElectionsEndBefore)
	assert.Equal(t, "abc", c.ElectorCodeHash)
	assert.Equal(t, 101.0, c.SuggestedFine)

	p := c.CycleParams()
	assert.Equal(t, int64(1000), p.ElectionDuration)
	assert.Equal(t, int64(32768), p.StakeHeldFor)
}

func TestLoadConstantsRejectsNonPositiveDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "constants.yml")
	require.NoError(t, os.WriteFile(path, []byte("stake_held_for: 0\n"), 0o644))

	_, err := LoadConstants(path)
	assert.ErrorIs(t, err, ErrInvalid)
}
