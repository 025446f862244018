package cmd

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/defi-org-code/ton-validator-reporter/internal/state"
)

var (
	resetYes     bool
	resetRestart bool
)

// resetCmd represents the reset-state command
var resetCmd = &cobra.Command{
	Use:   "reset-state",
	Short: "Forget every recorded baseline",
	Long: `Truncate the state file so the reporter records new baselines: initial
wallet balance, cycle start time, stake and validator count ratchets, cached
yield and the network baselines (code hashes, addresses, offers).

Run this after an intended change, such as a wallet migration or an accepted
network upgrade, to clear the resulting exit flags. The reporter service is
restarted afterwards unless --restart=false is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		store := state.NewStore(cfg.Paths.StateFile)
		if !resetYes {
			confirmed := false
			prompt := &survey.Confirm{
				Message: fmt.Sprintf("Reset reporter state in %s?", store.Path()),
				Default: false,
			}
			if err := survey.AskOne(prompt, &confirmed); err != nil {
				return fmt.Errorf("prompt failed: %w", err)
			}
			if !confirmed {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
		}

		if err := store.Reset(); err != nil {
			return fmt.Errorf("failed to reset state: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "State reset: %s\n", store.Path())

		if !resetRestart || cfg.Node.ReporterUnit == "" {
			return nil
		}
		out, err := exec.CommandContext(cmd.Context(), "systemctl", "restart", cfg.Node.ReporterUnit).CombinedOutput()
		if err != nil {
			return fmt.Errorf("failed to restart %s: %w: %s", cfg.Node.ReporterUnit, err, strings.TrimSpace(string(out)))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Restarted %s\n", cfg.Node.ReporterUnit)
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "do not ask for confirmation")
	resetCmd.Flags().BoolVar(&resetRestart, "restart", true, "restart the reporter service afterwards")
	rootCmd.AddCommand(resetCmd)
}
