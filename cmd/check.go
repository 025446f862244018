package cmd

import (
	"context"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/defi-org-code/ton-validator-reporter/internal/alert"
	"github.com/defi-org-code/ton-validator-reporter/internal/metrics"
	"github.com/defi-org-code/ton-validator-reporter/internal/node"
	"github.com/defi-org-code/ton-validator-reporter/internal/reporter"
	"github.com/defi-org-code/ton-validator-reporter/internal/state"
	"github.com/defi-org-code/ton-validator-reporter/pkg/logtrace"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one iteration and print the documents",
	Long: `Run a single iteration against the live node and print the metrics and
emergency flags documents to stdout. Nothing is written: the state file, the
published documents and the declared stake are left untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, constants, err := loadConfig()
		if err != nil {
			return err
		}
		if err := setupLogging(cfg, false); err != nil {
			return err
		}
		defer func() { _ = logtrace.Close() }()

		c, err := buildComponents(cfg, constants)
		if err != nil {
			return err
		}
		defer c.host.Close()

		r, err := reporter.New(c.loop, reporter.Deps{
			Fetcher: c.fetcher,
			Host:    c.host,
			Store:   readOnlyStore{c.store},
			Files:   printer{w: cmd.OutOrStdout()},
			Stake:   dryRunStake{},
		})
		if err != nil {
			return err
		}

		res, err := r.RunOnce(logtrace.CtxWithCorrelationID(cmd.Context(), "reporter-check"))
		if err != nil {
			return err
		}
		if res.Flags.Exit() {
			fmt.Fprintf(cmd.ErrOrStderr(), "exit flags raised, run would zero the declared stake: %v\n", res.Flags.ExitReasons())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

type readOnlyStore struct {
	*state.Store
}

func (readOnlyStore) Save(*state.State) error { return nil }

type dryRunStake struct{}

func (dryRunStake) ZeroStake(context.Context) error { return nil }

func (dryRunStake) DeclaredStake(context.Context) (node.DeclaredStake, error) {
	return node.DeclaredStake{}, nil
}

type printer struct {
	w io.Writer
}

func (p printer) Publish(m *metrics.Snapshot, flags alert.Flags) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Metrics *metrics.Snapshot `json:"metrics"`
		Flags   alert.Flags       `json:"emergency_flags"`
	}{m, flags})
}
