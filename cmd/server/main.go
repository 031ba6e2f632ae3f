package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ifuryst/lolify/internal/config"
	"github.com/ifuryst/lolify/internal/server"
	"github.com/ifuryst/lolify/internal/service"
	"github.com/ifuryst/lolify/pkg/logger"
	"github.com/ifuryst/lolify/pkg/util"
)

var (
	configPath string
	envFile    string
	version    = "0.1.0"
	gitCommit  = "unknown"
	buildTime  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "lolify",
	Short: "Lolify - Instagram reel republisher",
	Long:  `Lolify receives reels shared with an Instagram account through direct messages and republishes each distinct video once.`,
	RunE:  runServer,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Lolify %s\n", version)
		fmt.Printf("Git commit: %s\n", gitCommit)
		fmt.Printf("Build time: %s\n", buildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/server.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the config")
	rootCmd.AddCommand(serveCmd, versionCmd, publishCmd, hashCmd, quotaCmd, totpCmd)
}

// loadConfig reads the dotenv file, when present, then the YAML config.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// setup loads and validates the config and builds the logger and App.
// Overrides are applied after loading.
func setup(overrides ...func(*config.Config)) (*config.Config, *zap.Logger, *service.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app, err := service.NewApp(cfg, appLogger)
	if err != nil {
		appLogger.Sync()
		return nil, nil, nil, err
	}
	return cfg, appLogger, app, nil
}

func runServer(*cobra.Command, []string) error {
	cfg, appLogger, app, err := setup()
	if err != nil {
		return err
	}
	defer appLogger.Sync()
	defer app.Close()

	appLogger.Info("Starting Lolify server",
		zap.String("version", version),
		zap.Bool("async", cfg.Publisher.Async),
		zap.String("page_id", cfg.Graph.PageID),
		zap.String("access_token", util.MaskSecret(cfg.Graph.AccessToken)))

	srv, err := server.NewServer(cfg, app, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")
		return srv.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Server stopped with error", zap.Error(err))
		return err
	}

	appLogger.Info("Server exited")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
