package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cestafacil/coletor/internal/collector"
	"github.com/cestafacil/coletor/internal/progress"
)

var (
	collectMarkets  []string
	collectLookback int
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run a collection in the foreground",
	Long:  "Runs one full collection across the selected markets (all registered markets by default) and exits. Intended for cron use.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		registry := progress.NewRegistry()
		coll, err := initCollector(st, registry)
		if err != nil {
			return err
		}

		tracker, err := coll.BeginRun()
		if err != nil {
			return err
		}

		return coll.Run(ctx, tracker, collector.RunOptions{
			MarketCNPJs:  collectMarkets,
			LookbackDays: collectLookback,
		})
	},
}

func init() {
	collectCmd.Flags().StringSliceVar(&collectMarkets, "markets", nil, "CNPJs to collect (default: all registered markets)")
	collectCmd.Flags().IntVar(&collectLookback, "lookback-days", 0, "sales history window in days, 1 to 7 (default from config)")
	rootCmd.AddCommand(collectCmd)
}
