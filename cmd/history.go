package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/defi-org-code/ton-validator-reporter/internal/journal"
)

var historyLimit int

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent flag changes and exit actions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.Journal.Enabled {
			return fmt.Errorf("journal is disabled in %s", cfgFile)
		}

		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()

		actions, err := j.RecentActions(historyLimit)
		if err != nil {
			return err
		}
		transitions, err := j.RecentTransitions(historyLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "EXIT ACTIONS")
		fmt.Fprintln(w, "TIME\tVERIFIED\tSTAKE\tREASONS\tERROR")
		for _, a := range actions {
			fmt.Fprintf(w, "%s\t%t\t%g\t%s\t%s\n", stamp(a.AtUnix), a.Verified, a.Stake, strings.Join(a.Reasons, ","), a.LastError)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "FLAG CHANGES")
		fmt.Fprintln(w, "TIME\tKIND\tREASON\tSET")
		for _, t := range transitions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", stamp(t.AtUnix), t.Kind, t.Reason, t.Set)
		}
		return w.Flush()
	},
}

func stamp(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries to show")
	rootCmd.AddCommand(historyCmd)
}
