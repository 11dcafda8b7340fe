package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/hxann/curator/internal/core/config"
	redisclient "github.com/hxann/curator/internal/infra/redis"
)

var resetQueueCmd = &cobra.Command{
	Use:   "reset-queue",
	Short: "Clear the failed-item retry queue",
	Run:   runResetQueue,
}

func init() {
	rootCmd.AddCommand(resetQueueCmd)
}

func runResetQueue(cmd *cobra.Command, args []string) {
	stylelog.InitDefault()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.Redis.URL == "" {
		fmt.Println("No Redis configured; the in-memory queue does not outlive a run.")
		return
	}

	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = client.Close()
	}()

	ctx := context.Background()
	repo := redisclient.NewFailedSourceRepo(client, cfg.Pipeline.Version)

	count, err := repo.Count(ctx)
	if err != nil {
		slog.Error("Failed to count queued items", "error", err)
		os.Exit(1)
	}

	if err := repo.Clear(ctx); err != nil {
		slog.Error("Failed to clear retry queue", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Cleared %d queued items\n", count)
}
