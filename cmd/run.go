package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/defi-org-code/ton-validator-reporter/internal/journal"
	"github.com/defi-org-code/ton-validator-reporter/internal/publish"
	"github.com/defi-org-code/ton-validator-reporter/internal/reporter"
	"github.com/defi-org-code/ton-validator-reporter/pkg/logtrace"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reporter loop",
	Long: `Run the reporter in the foreground. Every poll interval the reporter
queries the node, publishes the metrics and emergency flags documents, and
zeroes the declared stake when an exit flag is raised.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, constants, err := loadConfig()
		if err != nil {
			return err
		}
		if err := setupLogging(cfg, true); err != nil {
			return err
		}
		defer func() { _ = logtrace.Close() }()

		ctx := startupContext()
		logtrace.Info(ctx, "Starting reporter with configuration", logtrace.Fields{
			"config_file":  cfgFile,
			"mytoncore_db": cfg.Paths.MytoncoreDB,
			"metrics_file": cfg.Paths.MetricsFile,
			"flags_file":   cfg.Paths.FlagsFile,
		})

		c, err := buildComponents(cfg, constants)
		if err != nil {
			return err
		}
		defer c.host.Close()

		prev, err := publish.ReadFlags(cfg.Paths.FlagsFile)
		if err != nil {
			logtrace.Warn(ctx, "Ignoring unreadable flags file", logtrace.Fields{logtrace.FieldError: err.Error()})
		}
		c.loop.PreviousFlags = prev

		gauges := publish.NewGauges()
		deps := reporter.Deps{
			Fetcher:  c.fetcher,
			Host:     c.host,
			Store:    c.store,
			Files:    c.files,
			Stake:    c.stake,
			Observer: gauges,
		}
		if c.sink != nil {
			deps.Sink = c.sink
		}
		if cfg.Journal.Enabled {
			j, err := journal.Open(cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer j.Close()
			deps.Journal = j
		}

		r, err := reporter.New(c.loop, deps)
		if err != nil {
			return err
		}

		runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(runCtx)
		g.Go(func() error { return r.Run(gctx) })
		if addr := cfg.Prometheus.ListenAddr; addr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", gauges.Handler())
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			g.Go(func() error {
				logtrace.Info(gctx, "Serving Prometheus metrics", logtrace.Fields{"addr": addr})
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}

		err = g.Wait()
		logtrace.Info(ctx, "Reporter shut down", logtrace.Fields{})
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
