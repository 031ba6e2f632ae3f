package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ifuryst/lolify/internal/config"
	"github.com/ifuryst/lolify/internal/service/media"
)

var hashCmd = &cobra.Command{
	Use:   "hash <url>",
	Short: "Print the content hash of the video at url",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Hashing needs no credentials, so the config is not validated.
		cfg, err := loadConfig()
		if err != nil {
			cfg = &config.Config{}
			cfg.ApplyDefaults()
		}

		hasher := media.NewHasher(media.Options{
			TempDir:  cfg.Media.TempDir,
			MaxBytes: cfg.Media.MaxDownloadBytes,
			Timeout:  config.Duration(cfg.Media.DownloadTimeout, 5*time.Minute),
		}, zap.NewNop())

		digest, err := hasher.Hash(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), digest)
		return nil
	},
}
