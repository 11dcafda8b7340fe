package domain

import "time"

// Phase names the pipeline stages in execution order.
type Phase string

const (
	PhaseCollect Phase = "collect"
	PhaseDistill Phase = "distill"
	PhasePackage Phase = "package"
	PhaseBundle  Phase = "bundle"
)

// PhaseOrder is the canonical execution order of the pipeline phases.
var PhaseOrder = []Phase{PhaseCollect, PhaseDistill, PhasePackage, PhaseBundle}

// PipelineContext is the per-execution context, created once per run or
// resumed from disk.
type PipelineContext struct {
	PipelineVersion string            `json:"pipeline_version"`
	ExecutionID     string            `json:"execution_id"`
	StartedAt       time.Time         `json:"started_at"`
	LastUpdated     time.Time         `json:"last_updated"`
	CurrentPhase    Phase             `json:"current_phase,omitempty"`
	SkipPhases      []Phase           `json:"skip_phases,omitempty"`
	Options         map[string]string `json:"options,omitempty"`
}

// PhaseStats holds aggregate counters for one phase. Derived values only:
// recomputed from work items on each save, never hand-mutated elsewhere.
type PhaseStats struct {
	Total       int     `json:"total"`
	New         int     `json:"new"`
	Updated     int     `json:"updated"`
	Failed      int     `json:"failed"`
	Skipped     int     `json:"skipped"`
	DurationMS  int64   `json:"duration_ms"`
	SuccessRate float64 `json:"success_rate"`
}

// StateMetadata holds aggregate counters recomputed from the work-item map
// on every save.
type StateMetadata struct {
	TotalSources         int                  `json:"total_sources"`
	PhaseCounts          map[SourceStatus]int `json:"phase_counts"`
	CompletionPercentage int                  `json:"completion_percentage"`
}

// PipelineState is the persisted state document: the single source of truth
// read and written by every pipeline phase.
type PipelineState struct {
	Context  *PipelineContext       `json:"context"`
	Sources  map[string]*Source     `json:"sources"`
	Stats    map[Phase]*PhaseStats  `json:"stats"`
	Metadata *StateMetadata         `json:"metadata"`
}
