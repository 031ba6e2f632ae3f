package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show the content publishing quota of the account",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, appLogger, app, err := setup()
		if err != nil {
			return err
		}
		defer appLogger.Sync()
		defer app.Close()

		quota, err := app.Quota.Quota(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Usage: %d / %d (window %ds)\n", quota.Usage, quota.Total, quota.Duration)
		if quota.Exhausted() {
			fmt.Fprintln(cmd.OutOrStdout(), "Quota exhausted")
		}
		return nil
	},
}
