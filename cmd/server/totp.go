package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ifuryst/lolify/internal/service"
)

var totpCmd = &cobra.Command{
	Use:   "totp",
	Short: "Generate a TOTP secret for the admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, otpURL, err := service.GenerateKey("Lolify", "admin")
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Secret: %s\n", secret)
		fmt.Fprintf(cmd.OutOrStdout(), "URL:    %s\n", otpURL)
		fmt.Fprintln(cmd.OutOrStdout(), "Set admin.totp_secret (ADMIN_TOTP_SECRET) to the secret.")
		return nil
	},
}
