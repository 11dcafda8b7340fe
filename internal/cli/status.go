package cli

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/hxann/curator/internal/core/config"
	"github.com/hxann/curator/internal/core/domain"
	"github.com/hxann/curator/internal/core/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current pipeline state summary",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	stylelog.InitDefault()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	st, err := state.NewFileStore(cfg.Pipeline.StatePath).Read()
	if err != nil {
		slog.Error("Failed to read pipeline state", "error", err, "path", cfg.Pipeline.StatePath)
		os.Exit(1)
	}

	fmt.Printf("Execution:  %s\n", st.Context.ExecutionID)
	fmt.Printf("Version:    %s\n", st.Context.PipelineVersion)
	fmt.Printf("Started:    %s\n", st.Context.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:    %s\n", st.Context.LastUpdated.Format("2006-01-02 15:04:05"))
	fmt.Printf("Sources:    %d\n", st.Metadata.TotalSources)
	fmt.Printf("Completion: %d%%\n\n", st.Metadata.CompletionPercentage)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STATUS\tCOUNT")
	for _, status := range []domain.SourceStatus{
		domain.StatusDiscovered, domain.StatusCollecting, domain.StatusCollected,
		domain.StatusDistilling, domain.StatusDistilled, domain.StatusPackaging,
		domain.StatusPackaged, domain.StatusBundling, domain.StatusBundled,
		domain.StatusFailed,
	} {
		if n := st.Metadata.PhaseCounts[status]; n > 0 {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", status, n)
		}
	}
	_ = w.Flush()

	if failed := st.Metadata.PhaseCounts[domain.StatusFailed]; failed > 0 {
		fmt.Printf("\nFailed items:\n")
		for key, src := range st.Sources {
			if src.Status != domain.StatusFailed || src.Error == nil {
				continue
			}
			fmt.Printf("  %s: %s in %s (retries: %d)\n",
				key, src.Error.Code, src.Error.Phase, src.Error.RetryCount)
		}
	}
}
