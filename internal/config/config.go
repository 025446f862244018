package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the reporter configuration
type Config struct {
	Paths      PathsConfig      `yaml:"paths" mapstructure:"paths"`
	Node       NodeConfig       `yaml:"node" mapstructure:"node"`
	Poll       PollConfig       `yaml:"poll" mapstructure:"poll"`
	Thresholds Thresholds       `yaml:"thresholds" mapstructure:"thresholds"`
	Sink       SinkConfig       `yaml:"sink" mapstructure:"sink"`
	Prometheus PrometheusConfig `yaml:"prometheus" mapstructure:"prometheus"`
	Journal    JournalConfig    `yaml:"journal" mapstructure:"journal"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Update     UpdateConfig     `yaml:"update" mapstructure:"update"`
}

// PathsConfig locates every file the reporter reads or writes
type PathsConfig struct {
	ReporterDir   string `yaml:"reporter_dir" mapstructure:"reporter_dir"`
	MetricsFile   string `yaml:"metrics_file" mapstructure:"metrics_file"`
	FlagsFile     string `yaml:"flags_file" mapstructure:"flags_file"`
	StateFile     string `yaml:"state_file" mapstructure:"state_file"`
	ConstantsFile string `yaml:"constants_file" mapstructure:"constants_file"`
	MytoncoreDB   string `yaml:"mytoncore_db" mapstructure:"mytoncore_db"`
	WalletsDir    string `yaml:"wallets_dir" mapstructure:"wallets_dir"`
	TonSrc        string `yaml:"ton_src" mapstructure:"ton_src"`
	MytonctrlSrc  string `yaml:"mytonctrl_src" mapstructure:"mytonctrl_src"`
}

// NodeConfig describes how to reach the local node tooling
type NodeConfig struct {
	LiteClientBin    string `yaml:"lite_client_bin" mapstructure:"lite_client_bin"`
	LiteServerAddr   string `yaml:"liteserver_addr" mapstructure:"liteserver_addr"`
	LiteServerPub    string `yaml:"liteserver_pub" mapstructure:"liteserver_pub"`
	ConsoleBin       string `yaml:"console_bin" mapstructure:"console_bin"`
	ConsoleAddr      string `yaml:"console_addr" mapstructure:"console_addr"`
	ConsoleClientKey string `yaml:"console_client_key" mapstructure:"console_client_key"`
	ConsoleServerPub string `yaml:"console_server_pub" mapstructure:"console_server_pub"`
	Timeout          int    `yaml:"timeout" mapstructure:"timeout"`                   // Per-call timeout (seconds)
	CallsPerSecond   int    `yaml:"calls_per_second" mapstructure:"calls_per_second"` // Lite-client pacing
	ServiceUnit      string `yaml:"service_unit" mapstructure:"service_unit"`         // systemd unit of the validator
	ReporterUnit     string `yaml:"reporter_unit" mapstructure:"reporter_unit"`       // systemd unit of this reporter
	WalletName       string `yaml:"wallet_name" mapstructure:"wallet_name"`           // Overrides validatorWalletName from the db
	NominatorAddr    string `yaml:"nominator_addr" mapstructure:"nominator_addr"`     // Optional single-nominator pool
}

// PollConfig controls the iteration cadence
type PollConfig struct {
	Interval   int `yaml:"interval" mapstructure:"interval"`       // Seconds between aligned wake-ups
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"` // Attempts per retry burst
	RetryDelay int `yaml:"retry_delay" mapstructure:"retry_delay"` // Milliseconds between attempts
}

// Thresholds are the named, overridable alert limits
type Thresholds struct {
	MinProb             float64 `yaml:"min_prob" mapstructure:"min_prob"`
	OutOfSync           int64   `yaml:"out_of_sync" mapstructure:"out_of_sync"`
	MemLoadPct          float64 `yaml:"mem_load_pct" mapstructure:"mem_load_pct"`
	DiskLoadPct         float64 `yaml:"disk_load_pct" mapstructure:"disk_load_pct"`
	NetLoadAvg          float64 `yaml:"net_load_avg" mapstructure:"net_load_avg"`
	ValidatorLoadGrace  int64   `yaml:"validator_load_grace" mapstructure:"validator_load_grace"`
	MinValidatorBalance float64 `yaml:"min_validator_balance" mapstructure:"min_validator_balance"`
	ReducedRatio        float64 `yaml:"reduced_ratio" mapstructure:"reduced_ratio"`
	RecomputeGrace      int64   `yaml:"recompute_grace" mapstructure:"recompute_grace"`
	WalletInitBalance   float64 `yaml:"wallet_init_balance" mapstructure:"wallet_init_balance"`
}

// SinkConfig is the optional remote metrics endpoint
type SinkConfig struct {
	URL     string `yaml:"url" mapstructure:"url"`
	Timeout int    `yaml:"timeout" mapstructure:"timeout"`
	Gzip    bool   `yaml:"gzip" mapstructure:"gzip"`
}

// PrometheusConfig enables the /metrics endpoint when ListenAddr is set
type PrometheusConfig struct {
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr"`
}

// JournalConfig controls the sqlite alert journal
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// LogConfig controls logtrace output
type LogConfig struct {
	Level    string `yaml:"level" mapstructure:"level"`
	File     string `yaml:"file" mapstructure:"file"`
	MaxBytes int64  `yaml:"max_bytes" mapstructure:"max_bytes"`
	Keep     int    `yaml:"keep" mapstructure:"keep"`
}

// UpdateConfig controls the self-updater
type UpdateConfig struct {
	Enabled      bool   `yaml:"enabled" mapstructure:"enabled"`
	VersionURL   string `yaml:"version_url" mapstructure:"version_url"`     // Plain-text latest version
	InstallerURL string `yaml:"installer_url" mapstructure:"installer_url"` // Script run when a newer version is published
	Interval     int    `yaml:"interval" mapstructure:"interval"`           // Seconds between aligned checks
	Timeout      int    `yaml:"timeout" mapstructure:"timeout"`             // Per-request timeout (seconds)
	WorkDir      string `yaml:"work_dir" mapstructure:"work_dir"`
}

const (
	DefaultReporterDir = "/var/reporter"
	DefaultLogFile     = "/var/log/reporter/reporter.log"
)

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = os.Getenv("HOME")
	}
	mytoncore := filepath.Join(home, ".local", "share", "mytoncore")

	return &Config{
		Paths: PathsConfig{
			ReporterDir:   DefaultReporterDir,
			MetricsFile:   filepath.Join(DefaultReporterDir, "metrics.json"),
			FlagsFile:     filepath.Join(DefaultReporterDir, "emergency_flags.json"),
			StateFile:     filepath.Join(DefaultReporterDir, "db.json"),
			ConstantsFile: filepath.Join(DefaultReporterDir, "constants.yml"),
			MytoncoreDB:   filepath.Join(mytoncore, "mytoncore.db"),
			WalletsDir:    filepath.Join(mytoncore, "wallets"),
			TonSrc:        "/usr/src/ton",
			MytonctrlSrc:  "/usr/src/mytonctrl",
		},
		Node: NodeConfig{
			LiteClientBin:    "/usr/bin/ton/lite-client/lite-client",
			LiteServerAddr:   "127.0.0.1:4443",
			LiteServerPub:    "/var/ton-work/keys/liteserver.pub",
			ConsoleBin:       "/usr/bin/ton/validator-engine-console/validator-engine-console",
			ConsoleAddr:      "127.0.0.1:4441",
			ConsoleClientKey: "/var/ton-work/keys/client",
			ConsoleServerPub: "/var/ton-work/keys/server.pub",
			Timeout:          30,
			CallsPerSecond:   10,
			ServiceUnit:      "validator",
			ReporterUnit:     "reporter",
		},
		Poll: PollConfig{
			Interval:   60,
			MaxRetries: 3,
			RetryDelay: 1000,
		},
		Thresholds: Thresholds{
			MinProb:             0.05,
			OutOfSync:           50,
			MemLoadPct:          85,
			DiskLoadPct:         85,
			NetLoadAvg:          400,
			ValidatorLoadGrace:  15,
			MinValidatorBalance: 10,
			ReducedRatio:        0.8,
			RecomputeGrace:      600,
		},
		Sink: SinkConfig{
			Timeout: 5,
			Gzip:    true,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    filepath.Join(DefaultReporterDir, "journal.db"),
		},
		Log: LogConfig{
			Level:    "info",
			File:     DefaultLogFile,
			MaxBytes: 3 * 1024 * 1024,
			Keep:     5,
		},
		Update: UpdateConfig{
			VersionURL:   "https://raw.githubusercontent.com/defi-org-code/ton-validator-reporter/master/version.txt",
			InstallerURL: "https://raw.githubusercontent.com/defi-org-code/ton-validator-reporter/master/installer.sh",
			Interval:     300,
			Timeout:      30,
			WorkDir:      DefaultReporterDir,
		},
	}
}

// Load reads configuration from a file. Keys missing from the file keep their
// defaults; REPORTER_* environment variables override both.
func Load(path string) (*Config, error) {
	v := newViper("REPORTER")
	setDefaults(v, "", DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.expandHome()

	return &cfg, nil
}

// Save writes configuration to a file
func Save(cfg *Config, path string) error {
	return writeYAML(cfg, path)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Paths.MetricsFile == "" || c.Paths.FlagsFile == "" || c.Paths.StateFile == "" {
		return fmt.Errorf("%w: paths.metrics_file, paths.flags_file and paths.state_file are required", ErrInvalid)
	}
	if c.Paths.MytoncoreDB == "" {
		return fmt.Errorf("%w: paths.mytoncore_db is required", ErrInvalid)
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("%w: poll.interval must be positive", ErrInvalid)
	}
	if c.Poll.MaxRetries < 1 {
		return fmt.Errorf("%w: poll.max_retries must be at least 1", ErrInvalid)
	}
	if c.Node.Timeout <= 0 {
		return fmt.Errorf("%w: node.timeout must be positive", ErrInvalid)
	}
	if c.Thresholds.ReducedRatio <= 0 || c.Thresholds.ReducedRatio > 1 {
		return fmt.Errorf("%w: thresholds.reduced_ratio must be in (0, 1]", ErrInvalid)
	}
	if c.Thresholds.MinProb < 0 {
		return fmt.Errorf("%w: thresholds.min_prob cannot be negative", ErrInvalid)
	}
	if c.Update.Enabled && (c.Update.VersionURL == "" || c.Update.InstallerURL == "" || c.Update.Interval <= 0) {
		return fmt.Errorf("%w: update.version_url, update.installer_url and a positive update.interval are required", ErrInvalid)
	}
	return nil
}

func (c *Config) expandHome() {
	for _, p := range []*string{
		&c.Paths.ReporterDir, &c.Paths.MetricsFile, &c.Paths.FlagsFile, &c.Paths.StateFile,
		&c.Paths.ConstantsFile, &c.Paths.MytoncoreDB, &c.Paths.WalletsDir, &c.Journal.Path, &c.Log.File, &c.Update.WorkDir,
	} {
		*p = ExpandHome(*p)
	}
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}
	return filepath.Join(home, p[2:])
}

func newViper(envPrefix string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults registers every leaf of def with viper so that env overrides and
// partially filled files both resolve.
func setDefaults(v *viper.Viper, prefix string, def interface{}) {
	data, err := yaml.Marshal(def)
	if err != nil {
		return
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return
	}
	walkDefaults(v, prefix, tree)
}

func walkDefaults(v *viper.Viper, prefix string, tree map[string]interface{}) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]interface{}); ok {
			walkDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

func writeYAML(v interface{}, path string) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
