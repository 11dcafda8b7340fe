package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/hxann/curator/internal/control"
	"github.com/hxann/curator/internal/core/config"
)

var (
	cfgPath     string
	sourcesPath string
	isDebug     bool
)

var rootCmd = &cobra.Command{
	Use:   "curator",
	Short: "Curator content pipeline",
	Long:  `Curator runs content through collection, distillation, packaging, and bundling with fault-tolerant orchestration.`,
	Run:   runPipeline,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.Flags().StringVar(&sourcesPath, "sources", "", "YAML source list to add before the run")
}

func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogging(cfg *config.AppConfig) {
	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
}

func runPipeline(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	initLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.NewCurator(ctx, cfg, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize curator", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received signal, shutting down...", "signal", sig)
		cancel()
	}()

	app.Start()
	slog.Info("Curator started", "config", cfgPath)

	runErr := app.Run(ctx, sourcesPath)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}

	if runErr != nil {
		slog.Error("Pipeline run failed", "error", runErr)
		os.Exit(1)
	}
}
