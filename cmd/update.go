package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/defi-org-code/ton-validator-reporter/internal/config"
	"github.com/defi-org-code/ton-validator-reporter/internal/updater"
	"github.com/defi-org-code/ton-validator-reporter/pkg/logtrace"
)

var (
	updateWatch  bool
	updateDryRun bool
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Install the latest published reporter version",
	Long: `Compare the running version with the published version descriptor and
run the installer when a newer version is available. With --watch the check
repeats at every update interval until the process is stopped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if updateWatch && !cfg.Update.Enabled {
			return fmt.Errorf("update.enabled is false in %s", cfgFile)
		}
		if err := setupLogging(cfg, updateWatch); err != nil {
			return err
		}
		defer func() { _ = logtrace.Close() }()

		u := newUpdater(cfg.Update)
		if updateWatch {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return u.Run(ctx)
		}

		res, err := u.Check(logtrace.CtxWithCorrelationID(cmd.Context(), "reporter-update"), updateDryRun)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "current: %s\nlatest:  %s\n", res.Current, res.Latest)
		switch {
		case res.Applied:
			fmt.Fprintln(out, "updated")
		case updater.Newer(res.Current, res.Latest):
			fmt.Fprintln(out, "update available")
		default:
			fmt.Fprintln(out, "up to date")
		}
		return nil
	},
}

func newUpdater(c config.UpdateConfig) *updater.Updater {
	return updater.New(updater.Config{
		VersionURL:   c.VersionURL,
		InstallerURL: c.InstallerURL,
		WorkDir:      c.WorkDir,
		Interval:     time.Duration(c.Interval) * time.Second,
		Timeout:      time.Duration(c.Timeout) * time.Second,
	}, Version)
}

func init() {
	updateCmd.Flags().BoolVar(&updateWatch, "watch", false, "Keep checking at every update interval")
	updateCmd.Flags().BoolVar(&updateDryRun, "dry-run", false, "Report the published version without installing it")
	rootCmd.AddCommand(updateCmd)
}
