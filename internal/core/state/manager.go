// Package state owns the persisted pipeline state machine: the set of
// work items and their phase, the per-execution context, and the derived
// aggregate counters. All mutations go through the Manager; every
// pipeline phase reads and writes through it.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hxann/curator/internal/core/domain"
)

// ErrNotLoaded is returned when the manager is used before LoadState or
// InitializeState.
var ErrNotLoaded = errors.New("pipeline state not loaded")

// SourceUpdate is a partial update merged into one work item. Nil fields
// are left untouched.
type SourceUpdate struct {
	Status *domain.SourceStatus
	URL    *string
	Title  *string
	Tags   []string
	Scores map[string]float64

	Collection   *domain.PhaseMeta
	Distillation *domain.PhaseMeta
	Packaging    *domain.PhaseMeta
	Bundling     *domain.PhaseMeta

	Error      *domain.SourceError
	ClearError bool
}

// PhaseStatsUpdate is a partial update merged into a phase stats block.
type PhaseStatsUpdate struct {
	Total       *int
	New         *int
	Updated     *int
	Failed      *int
	Skipped     *int
	DurationMS  *int64
	SuccessRate *float64
}

// Manager is the single source of truth for pipeline state.
type Manager struct {
	mu      sync.RWMutex
	store   Store
	state   *domain.PipelineState
	version string
	log     *slog.Logger
}

// NewManager creates a state manager over the given store.
func NewManager(store Store, version string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: store, version: version, log: log}
}

// InitializeState creates a fresh context with a new execution id and
// zeroed phase counters.
func (m *Manager) InitializeState(options map[string]string) *domain.PipelineState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initLocked(options)
	return m.cloneStateLocked()
}

func (m *Manager) initLocked(options map[string]string) {
	now := time.Now()
	stats := make(map[domain.Phase]*domain.PhaseStats, len(domain.PhaseOrder))
	for _, phase := range domain.PhaseOrder {
		stats[phase] = &domain.PhaseStats{}
	}
	m.state = &domain.PipelineState{
		Context: &domain.PipelineContext{
			PipelineVersion: m.version,
			ExecutionID:     uuid.New().String(),
			StartedAt:       now,
			LastUpdated:     now,
			Options:         options,
		},
		Sources:  make(map[string]*domain.Source),
		Stats:    stats,
		Metadata: &domain.StateMetadata{PhaseCounts: make(map[domain.SourceStatus]int)},
	}
	m.log.Info("initialized pipeline state", "execution_id", m.state.Context.ExecutionID)
}

// LoadState reads persisted state. A missing file initializes fresh
// state; a structurally incomplete document is repaired in place.
// Re-initialization happens only when work items are entirely absent.
func (m *Manager) LoadState() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.store.Read()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.log.Info("no persisted state found, initializing")
			m.initLocked(nil)
			return nil
		}
		// Unparseable document. Resumability only depends on work items,
		// and there are none we can recover.
		m.log.Error("persisted state unreadable, re-initializing", "error", err)
		m.initLocked(nil)
		return nil
	}

	if len(st.Sources) == 0 {
		m.log.Warn("persisted state has no work items, re-initializing")
		m.initLocked(nil)
		return nil
	}

	m.repairLocked(st)
	m.state = st
	m.log.Info("loaded pipeline state",
		"execution_id", st.Context.ExecutionID,
		"sources", len(st.Sources))
	return nil
}

// repairLocked fills in missing structural blocks of a loaded document.
func (m *Manager) repairLocked(st *domain.PipelineState) {
	if st.Context == nil {
		m.log.Warn("state missing context block, rebuilding")
		st.Context = &domain.PipelineContext{
			PipelineVersion: m.version,
			ExecutionID:     uuid.New().String(),
			StartedAt:       time.Now(),
		}
	}
	if st.Stats == nil {
		st.Stats = make(map[domain.Phase]*domain.PhaseStats)
	}
	for _, phase := range domain.PhaseOrder {
		if st.Stats[phase] == nil {
			st.Stats[phase] = &domain.PhaseStats{}
		}
	}
	if st.Metadata == nil {
		st.Metadata = &domain.StateMetadata{PhaseCounts: make(map[domain.SourceStatus]int)}
	}
	for key, src := range st.Sources {
		if src.Key == "" {
			src.Key = key
		}
	}
}

// AddSources inserts newly discovered work items keyed by a caller-supplied
// stable key. Existing keys are left untouched.
func (m *Manager) AddSources(sources map[string]*domain.Source) (added int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return 0, ErrNotLoaded
	}

	now := time.Now()
	for key, src := range sources {
		if _, exists := m.state.Sources[key]; exists {
			continue
		}
		c := src.Clone()
		c.Key = key
		if c.Status == "" {
			c.Status = domain.StatusDiscovered
		}
		if c.DiscoveredAt.IsZero() {
			c.DiscoveredAt = now
		}
		c.UpdatedAt = now
		m.state.Sources[key] = c
		added++
	}
	return added, nil
}

// UpdateSource merges a partial update into one work item. Unknown keys
// are a warning no-op: a phantom item is never created. Status changes
// are validated against the transition table; a retry out of "failed"
// may only return to the phase recorded in the error block.
func (m *Manager) UpdateSource(key string, upd SourceUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return ErrNotLoaded
	}

	src, ok := m.state.Sources[key]
	if !ok {
		m.log.Warn("update for unknown work item ignored", "key", key)
		return nil
	}

	if upd.Status != nil && *upd.Status != src.Status {
		if !domain.CanTransition(src.Status, *upd.Status) {
			return fmt.Errorf("%w: %s -> %s for %q",
				domain.ErrInvalidTransition, src.Status, *upd.Status, key)
		}
		if src.Status == domain.StatusFailed && src.Error != nil && *upd.Status != src.Error.Phase {
			return fmt.Errorf("%w: retry of %q must return to %s, not %s",
				domain.ErrInvalidTransition, key, src.Error.Phase, *upd.Status)
		}
		src.Status = *upd.Status
	}

	if upd.URL != nil {
		src.URL = *upd.URL
	}
	if upd.Title != nil {
		src.Title = *upd.Title
	}
	if upd.Tags != nil {
		src.Tags = append([]string(nil), upd.Tags...)
	}
	if upd.Scores != nil {
		if src.Scores == nil {
			src.Scores = make(map[string]float64, len(upd.Scores))
		}
		for k, v := range upd.Scores {
			src.Scores[k] = v
		}
	}
	if upd.Collection != nil {
		src.Collection = upd.Collection
	}
	if upd.Distillation != nil {
		src.Distillation = upd.Distillation
	}
	if upd.Packaging != nil {
		src.Packaging = upd.Packaging
	}
	if upd.Bundling != nil {
		src.Bundling = upd.Bundling
	}
	if upd.Error != nil {
		src.Error = upd.Error
	} else if upd.ClearError {
		src.Error = nil
	}

	src.UpdatedAt = time.Now()
	return nil
}

// SourcesByStatus returns a read-only filtered view: clones, so callers
// can never mutate tracked items directly.
func (m *Manager) SourcesByStatus(status domain.SourceStatus) []*domain.Source {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return nil
	}

	var out []*domain.Source
	for _, src := range m.state.Sources {
		if src.Status == status {
			out = append(out, src.Clone())
		}
	}
	return out
}

// SourcesArray returns clones of all work items, optionally filtered by
// status.
func (m *Manager) SourcesArray(statuses ...domain.SourceStatus) []*domain.Source {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return nil
	}

	filter := make(map[domain.SourceStatus]bool, len(statuses))
	for _, s := range statuses {
		filter[s] = true
	}

	var out []*domain.Source
	for _, src := range m.state.Sources {
		if len(filter) == 0 || filter[src.Status] {
			out = append(out, src.Clone())
		}
	}
	return out
}

// UpdatePhaseStats merges a partial update into a phase's aggregate block.
func (m *Manager) UpdatePhaseStats(phase domain.Phase, upd PhaseStatsUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return ErrNotLoaded
	}

	stats := m.state.Stats[phase]
	if stats == nil {
		stats = &domain.PhaseStats{}
		m.state.Stats[phase] = stats
	}
	if upd.Total != nil {
		stats.Total = *upd.Total
	}
	if upd.New != nil {
		stats.New = *upd.New
	}
	if upd.Updated != nil {
		stats.Updated = *upd.Updated
	}
	if upd.Failed != nil {
		stats.Failed = *upd.Failed
	}
	if upd.Skipped != nil {
		stats.Skipped = *upd.Skipped
	}
	if upd.DurationMS != nil {
		stats.DurationMS = *upd.DurationMS
	}
	if upd.SuccessRate != nil {
		stats.SuccessRate = *upd.SuccessRate
	}
	return nil
}

// SetCurrentPhase records the phase the run is in.
func (m *Manager) SetCurrentPhase(phase domain.Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != nil {
		m.state.Context.CurrentPhase = phase
	}
}

// SaveState recomputes the aggregate counters from the authoritative
// work-item map, stamps last_updated, and persists atomically.
// Incrementally tracked counters are never trusted.
func (m *Manager) SaveState() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return ErrNotLoaded
	}

	counts := make(map[domain.SourceStatus]int)
	completed := 0
	for _, src := range m.state.Sources {
		counts[src.Status]++
		switch src.Status {
		case domain.StatusCollected, domain.StatusDistilled, domain.StatusPackaged, domain.StatusBundled:
			completed++
		}
	}

	total := len(m.state.Sources)
	m.state.Metadata.TotalSources = total
	m.state.Metadata.PhaseCounts = counts
	if total > 0 {
		m.state.Metadata.CompletionPercentage = int(math.Round(100 * float64(completed) / float64(total)))
	} else {
		m.state.Metadata.CompletionPercentage = 0
	}

	m.state.Context.LastUpdated = time.Now()

	if err := m.store.Write(m.state); err != nil {
		return fmt.Errorf("failed to persist pipeline state: %w", err)
	}
	return nil
}

// GetState returns a defensive deep copy of the full state.
func (m *Manager) GetState() *domain.PipelineState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return nil
	}
	return m.cloneStateLocked()
}

func (m *Manager) cloneStateLocked() *domain.PipelineState {
	st := &domain.PipelineState{
		Sources: make(map[string]*domain.Source, len(m.state.Sources)),
		Stats:   make(map[domain.Phase]*domain.PhaseStats, len(m.state.Stats)),
	}

	ctx := *m.state.Context
	if m.state.Context.SkipPhases != nil {
		ctx.SkipPhases = append([]domain.Phase(nil), m.state.Context.SkipPhases...)
	}
	if m.state.Context.Options != nil {
		ctx.Options = make(map[string]string, len(m.state.Context.Options))
		for k, v := range m.state.Context.Options {
			ctx.Options[k] = v
		}
	}
	st.Context = &ctx

	for key, src := range m.state.Sources {
		st.Sources[key] = src.Clone()
	}
	for phase, stats := range m.state.Stats {
		s := *stats
		st.Stats[phase] = &s
	}

	meta := *m.state.Metadata
	meta.PhaseCounts = make(map[domain.SourceStatus]int, len(m.state.Metadata.PhaseCounts))
	for k, v := range m.state.Metadata.PhaseCounts {
		meta.PhaseCounts[k] = v
	}
	st.Metadata = &meta

	return st
}
