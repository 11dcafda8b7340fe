package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hxann/curator/internal/core/domain"
)

// RunRecord is one archived run summary.
type RunRecord struct {
	ExecutionID      string    `db:"execution_id"`
	PipelineVersion  string    `db:"pipeline_version"`
	StartedAt        time.Time `db:"started_at"`
	FinishedAt       time.Time `db:"finished_at"`
	TotalSources     int       `db:"total_sources"`
	CompletionPct    int       `db:"completion_pct"`
	PhaseCounts      []byte    `db:"phase_counts"`
	DegradationLevel string    `db:"degradation_level"`
}

// RunArchive persists run summaries.
type RunArchive struct {
	db *DB
}

// NewRunArchive creates an archive repository.
func NewRunArchive(db *DB) *RunArchive {
	return &RunArchive{db: db}
}

// ArchiveRun stores (or replaces) the summary of one pipeline execution.
func (a *RunArchive) ArchiveRun(
	ctx context.Context,
	st *domain.PipelineState,
	finishedAt time.Time,
	degradationLevel string,
) error {
	counts, err := json.Marshal(st.Metadata.PhaseCounts)
	if err != nil {
		return fmt.Errorf("failed to marshal phase counts: %w", err)
	}

	rec := RunRecord{
		ExecutionID:      st.Context.ExecutionID,
		PipelineVersion:  st.Context.PipelineVersion,
		StartedAt:        st.Context.StartedAt,
		FinishedAt:       finishedAt,
		TotalSources:     st.Metadata.TotalSources,
		CompletionPct:    st.Metadata.CompletionPercentage,
		PhaseCounts:      counts,
		DegradationLevel: degradationLevel,
	}

	_, err = a.db.NamedExecContext(ctx, `
		INSERT INTO run_archive (
			execution_id, pipeline_version, started_at, finished_at,
			total_sources, completion_pct, phase_counts, degradation_level
		) VALUES (
			:execution_id, :pipeline_version, :started_at, :finished_at,
			:total_sources, :completion_pct, :phase_counts, :degradation_level
		)
		ON CONFLICT (execution_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			total_sources = EXCLUDED.total_sources,
			completion_pct = EXCLUDED.completion_pct,
			phase_counts = EXCLUDED.phase_counts,
			degradation_level = EXCLUDED.degradation_level
	`, rec)
	if err != nil {
		return fmt.Errorf("failed to archive run: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent archived runs, newest first.
func (a *RunArchive) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	var recs []RunRecord
	err := a.db.SelectContext(ctx, &recs, `
		SELECT execution_id, pipeline_version, started_at, finished_at,
		       total_sources, completion_pct, phase_counts, degradation_level
		FROM run_archive
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run archive: %w", err)
	}
	return recs, nil
}
