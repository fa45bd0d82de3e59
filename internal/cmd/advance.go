package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/nordtext/annod/internal/config"
)

var advanceCmd = &cobra.Command{
	Use:   "advance",
	Short: "Run one queue reconciliation pass and exit",
	Long: `Perform a single reconciliation pass: prune inactive jobs from the queue,
poll running annotation processes and start waiting jobs while worker
capacity allows. Useful from cron when the long-running serve process is
not wanted.`,
	Args: cobra.NoArgs,
	RunE: runAdvance,
}

func init() {
	rootCmd.AddCommand(advanceCmd)
}

func runAdvance(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := initLogging(cfg.Log.Level, cfg.Log.Development); err != nil {
		return err
	}

	ctx := context.Background()
	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	return st.reconciler.Advance(ctx)
}
