package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ifuryst/lolify/internal/config"
	"github.com/ifuryst/lolify/internal/service/graph"
)

var (
	publishCaption string
	publishKind    string
)

var publishCmd = &cobra.Command{
	Use:   "publish <url>",
	Short: "Publish a video or image URL once, skipping known content",
	Args:  cobra.ExactArgs(1),
	RunE:  runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publishCaption, "caption", "", "post caption")
	publishCmd.Flags().StringVar(&publishKind, "kind", string(graph.MediaKindReels), "media kind: reels or image")
}

func runPublish(cmd *cobra.Command, args []string) error {
	kind, err := graph.ParseMediaKind(publishKind)
	if err != nil {
		return err
	}

	// The CLI waits for the publish to finish.
	_, appLogger, app, err := setup(func(cfg *config.Config) { cfg.Publisher.Async = false })
	if err != nil {
		return err
	}
	defer appLogger.Sync()
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcome, err := app.Dispatcher.Submit(ctx, args[0], publishCaption, kind)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), outcome)
	return nil
}
