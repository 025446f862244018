package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/defi-org-code/ton-validator-reporter/internal/config"
)

var (
	forceInit bool
	initDir   string
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write default configuration and constants files",
	Long: `Write a default config.yml and constants.yml into the reporter directory.

The constants file pins the network timing, contract addresses and fine
schedule the reporter compares the network against. Leave hashes empty to
have them recorded from the network on the first run.

Example:
  ton-reporter init
  ton-reporter init --dir /var/reporter --force`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := config.ExpandHome(initDir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}

		cfg := config.DefaultConfig()
		cfg.Paths.ReporterDir = dir
		cfg.Paths.MetricsFile = filepath.Join(dir, "metrics.json")
		cfg.Paths.FlagsFile = filepath.Join(dir, "emergency_flags.json")
		cfg.Paths.StateFile = filepath.Join(dir, "db.json")
		cfg.Paths.ConstantsFile = filepath.Join(dir, "constants.yml")
		cfg.Journal.Path = filepath.Join(dir, "journal.db")

		cfgPath := filepath.Join(dir, "config.yml")
		for _, p := range []string{cfgPath, cfg.Paths.ConstantsFile} {
			ok, err := confirmOverwrite(p)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted, nothing written.")
				return nil
			}
		}

		if err := config.Save(cfg, cfgPath); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		if err := config.SaveConstants(config.DefaultConstants(), cfg.Paths.ConstantsFile); err != nil {
			return fmt.Errorf("failed to save constants: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nWrote %s\n", cfgPath, cfg.Paths.ConstantsFile)
		return nil
	},
}

func confirmOverwrite(path string) (bool, error) {
	if forceInit {
		return true, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return true, nil
	}
	overwrite := false
	prompt := &survey.Confirm{
		Message: fmt.Sprintf("%s already exists. Overwrite?", path),
		Default: false,
	}
	if err := survey.AskOne(prompt, &overwrite); err != nil {
		return false, fmt.Errorf("prompt failed: %w", err)
	}
	return overwrite, nil
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite existing files without asking")
	initCmd.Flags().StringVar(&initDir, "dir", config.DefaultReporterDir, "reporter directory")
	rootCmd.AddCommand(initCmd)
}
