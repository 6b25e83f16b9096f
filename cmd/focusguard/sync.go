package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replicate local state with the account",
}

var syncAnalyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Push the whole usage ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(quietLogger())
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.engine.ForceSyncAnalytics(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Analytics synced: %s\n", result)
		return nil
	},
}

var syncSitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Reconcile protected sites with the account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(quietLogger())
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.engine.SyncProtectedSites(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Sites synced: %s\n", result)
		return nil
	},
}

func init() {
	syncCmd.AddCommand(syncAnalyticsCmd, syncSitesCmd)
	rootCmd.AddCommand(syncCmd)
}
