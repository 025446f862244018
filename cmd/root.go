package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/defi-org-code/ton-validator-reporter/internal/config"
	"github.com/defi-org-code/ton-validator-reporter/internal/metrics"
	"github.com/defi-org-code/ton-validator-reporter/internal/node"
	"github.com/defi-org-code/ton-validator-reporter/internal/publish"
	"github.com/defi-org-code/ton-validator-reporter/internal/reporter"
	"github.com/defi-org-code/ton-validator-reporter/internal/state"
	"github.com/defi-org-code/ton-validator-reporter/internal/sysstat"
	"github.com/defi-org-code/ton-validator-reporter/pkg/logtrace"
)

var (
	cfgFile string
	logEnv  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ton-reporter",
	Short: "TON validator reporter",
	Long: `ton-reporter watches a local TON validator, publishes its metrics and
emergency flags every poll interval, and withdraws the validator from the next
election when an exit condition is detected.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", filepath.Join(config.DefaultReporterDir, "config.yml"), "config file")
	rootCmd.PersistentFlags().StringVar(&logEnv, "env", "prod", "environment tag added to every log line")
}

// loadConfig reads the config file, or defaults when the file does not exist.
func loadConfig() (*config.Config, *config.Constants, error) {
	path := cfgFile
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	constPath := cfg.Paths.ConstantsFile
	if _, err := os.Stat(constPath); os.IsNotExist(err) {
		constPath = ""
	}
	constants, err := config.LoadConstants(constPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, constants, nil
}

func setupLogging(cfg *config.Config, toFile bool) error {
	var opts []logtrace.Option
	if toFile && cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		opts = append(opts, logtrace.WithFile(cfg.Log.File, cfg.Log.MaxBytes, cfg.Log.Keep))
	}
	return logtrace.Setup("ton-reporter", logEnv, logtrace.ParseLevel(cfg.Log.Level), opts...)
}

// components are the long-lived collaborators built from the configuration.
type components struct {
	fetcher *node.Fetcher
	host    *sysstat.Collector
	store   *state.Store
	stake   *node.DBStakeController
	files   publish.Files
	sink    *publish.Sink
	loop    reporter.Config
}

func buildComponents(cfg *config.Config, constants *config.Constants) (*components, error) {
	client := node.NewLiteClient(node.LiteClientConfig{
		LiteClientBin:    cfg.Node.LiteClientBin,
		LiteServerAddr:   cfg.Node.LiteServerAddr,
		LiteServerPub:    cfg.Node.LiteServerPub,
		ConsoleBin:       cfg.Node.ConsoleBin,
		ConsoleAddr:      cfg.Node.ConsoleAddr,
		ConsoleClientKey: cfg.Node.ConsoleClientKey,
		ConsoleServerPub: cfg.Node.ConsoleServerPub,
		Timeout:          time.Duration(cfg.Node.Timeout) * time.Second,
		CallsPerSecond:   cfg.Node.CallsPerSecond,
	})
	fetcher := node.NewFetcher(client, node.FetcherConfig{
		MytoncoreDB:   cfg.Paths.MytoncoreDB,
		WalletsDir:    cfg.Paths.WalletsDir,
		WalletName:    cfg.Node.WalletName,
		NominatorAddr: cfg.Node.NominatorAddr,
		MaxLoadWindow: constants.ValidatorsElectedFor,
	})
	host, err := sysstat.NewCollector(sysstat.Config{
		ServiceUnit:  cfg.Node.ServiceUnit,
		TonSrc:       cfg.Paths.TonSrc,
		MytonctrlSrc: cfg.Paths.MytonctrlSrc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create host collector: %w", err)
	}

	return &components{
		fetcher: fetcher,
		host:    host,
		store:   state.NewStore(cfg.Paths.StateFile),
		stake:   node.NewDBStakeController(cfg.Paths.MytoncoreDB),
		files:   publish.Files{MetricsPath: cfg.Paths.MetricsFile, FlagsPath: cfg.Paths.FlagsFile},
		sink:    publish.NewSink(cfg.Sink.URL, time.Duration(cfg.Sink.Timeout)*time.Second, cfg.Sink.Gzip),
		loop: reporter.Config{
			Interval:   time.Duration(cfg.Poll.Interval) * time.Second,
			RetryDelay: time.Duration(cfg.Poll.RetryDelay) * time.Millisecond,
			MaxRetries: cfg.Poll.MaxRetries,
			Metrics: metrics.Config{
				Cycle:             constants.CycleParams(),
				RecomputeGrace:    cfg.Thresholds.RecomputeGrace,
				ReducedRatio:      cfg.Thresholds.ReducedRatio,
				WalletInitBalance: cfg.Thresholds.WalletInitBalance,
			},
			Thresholds: cfg.Thresholds,
			Constants:  constants,
		},
	}, nil
}

func startupContext() context.Context {
	return logtrace.CtxWithCorrelationID(context.Background(), "reporter-start")
}
