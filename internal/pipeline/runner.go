// Package pipeline runs work items through their phases with bounded
// concurrency, composing the resilience layers around each external call.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hxann/curator/internal/core/domain"
	"github.com/hxann/curator/internal/core/state"
	"github.com/hxann/curator/internal/infra/storage"
	"github.com/hxann/curator/internal/pipeline/metrics"
	"github.com/hxann/curator/internal/resilience/breaker"
	"github.com/hxann/curator/internal/resilience/degrade"
	"github.com/hxann/curator/internal/resilience/fault"
	"github.com/hxann/curator/internal/resilience/retry"
)

// ErrHalted is returned when the degradation level forbids starting new
// work. The run halts; individual items are untouched.
var ErrHalted = errors.New("pipeline halted: system cannot continue")

// ItemResult is what a phase operation produces for one work item.
type ItemResult struct {
	Meta   *domain.PhaseMeta
	Title  string
	Scores map[string]float64
}

// ItemOp processes one work item through an external dependency.
type ItemOp func(ctx context.Context, src *domain.Source) (*ItemResult, error)

// Phase describes one pipeline stage: which status it consumes, which
// statuses it moves items through, and the external service it depends on.
type Phase struct {
	Name    domain.Phase
	From    domain.SourceStatus
	Active  domain.SourceStatus
	Done    domain.SourceStatus
	Service string
	Options degrade.Options
	Op      ItemOp
}

// Report summarizes one phase pass.
type Report struct {
	Phase     domain.Phase
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// Runner executes pipeline phases over the shared state manager.
type Runner struct {
	state      *state.Manager
	retry      *retry.Manager
	breakers   *breaker.Registry
	breakerCfg breaker.Config
	degrade    *degrade.Manager
	failed     storage.FailedSourceRepository
	log        *slog.Logger
	maxInFlight int
}

// NewRunner wires a phase runner. maxInFlight bounds concurrent items.
func NewRunner(
	st *state.Manager,
	rm *retry.Manager,
	breakers *breaker.Registry,
	breakerCfg breaker.Config,
	dm *degrade.Manager,
	failed storage.FailedSourceRepository,
	maxInFlight int,
	log *slog.Logger,
) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Runner{
		state:       st,
		retry:       rm,
		breakers:    breakers,
		breakerCfg:  breakerCfg,
		degrade:     dm,
		failed:      failed,
		log:         log,
		maxInFlight: maxInFlight,
	}
}

// RunPhase processes every work item currently in the phase's source
// status (plus items stuck in the in-progress status from an interrupted
// run). State is saved once at the end of the pass; a crash mid-phase
// loses at most in-flight item updates.
func (r *Runner) RunPhase(ctx context.Context, p Phase) (*Report, error) {
	if !r.degrade.CanContinue() {
		r.log.Error("refusing to start phase, system degraded",
			"phase", p.Name, "level", r.degrade.Level())
		return nil, ErrHalted
	}

	r.state.SetCurrentPhase(p.Name)

	pending := r.state.SourcesByStatus(p.From)
	stuck := r.state.SourcesByStatus(p.Active)
	items := append(pending, stuck...)

	report := &Report{Phase: p.Name}
	start := time.Now()

	if len(items) == 0 {
		r.log.Info("phase has no work", "phase", p.Name)
		return report, r.finishPhase(p, report, start)
	}

	r.log.Info("starting phase",
		"phase", p.Name,
		"items", len(items),
		"max_in_flight", r.maxInFlight)

	var g errgroup.Group
	g.SetLimit(r.maxInFlight)

	results := make(chan outcome, len(items))
	for _, src := range items {
		src := src
		g.Go(func() error {
			if ctx.Err() != nil {
				results <- outcome{key: src.Key, skipped: true}
				return nil
			}
			if !r.degrade.CanContinue() {
				results <- outcome{key: src.Key, skipped: true}
				return nil
			}
			results <- r.processItem(ctx, p, src, true)
			return nil
		})
	}
	g.Wait()
	close(results)

	for out := range results {
		report.Processed++
		switch {
		case out.skipped:
			report.Skipped++
			metrics.ItemsProcessed.WithLabelValues(string(p.Name), "skipped").Inc()
		case out.failed:
			report.Failed++
			metrics.ItemsProcessed.WithLabelValues(string(p.Name), "failed").Inc()
		default:
			report.Succeeded++
			metrics.ItemsProcessed.WithLabelValues(string(p.Name), "success").Inc()
		}
	}

	return report, r.finishPhase(p, report, start)
}

type outcome struct {
	key     string
	failed  bool
	skipped bool
}

// processItem moves one work item through from -> active -> done/failed.
// All state mutation goes through the state manager, which serializes
// writers; each item's key is only ever touched by its own goroutine.
// enqueue controls whether a failure is added to the retry queue; the
// retry pass itself keeps the existing queue entry instead.
func (r *Runner) processItem(ctx context.Context, p Phase, src *domain.Source, enqueue bool) outcome {
	if src.Status == p.From {
		active := p.Active
		if err := r.state.UpdateSource(src.Key, state.SourceUpdate{Status: &active}); err != nil {
			r.log.Error("cannot start work item", "key", src.Key, "error", err)
			return outcome{key: src.Key, skipped: true}
		}
	}

	opName := string(p.Name) + ":" + src.Key
	b := r.breakers.GetOrCreate(p.Service, r.breakerCfg)

	started := time.Now()
	res := r.degrade.Execute(ctx, p.Service, opName, p.Options, func(ctx context.Context) (any, error) {
		return r.retry.Execute(ctx, opName, func(ctx context.Context) (any, error) {
			br := b.Execute(ctx, func(ctx context.Context) (any, error) {
				return p.Op(ctx, src)
			})
			if br.Err != nil {
				var f *fault.Error
				if errors.As(br.Err, &f) && f.Context["breaker"] != nil {
					metrics.BreakerRejections.WithLabelValues(p.Service).Inc()
				}
				return nil, br.Err
			}
			metrics.OperationDuration.WithLabelValues(string(p.Name)).Observe(br.Duration.Seconds())
			return br.Data, nil
		})
	})
	duration := time.Since(started)

	if !res.Success {
		return r.failItem(ctx, p, src, res.Err, duration, enqueue)
	}

	if res.Degraded && res.Data == nil {
		// Skipped under degradation: the item stays in the in-progress
		// status and a later pass picks it up again.
		r.log.Warn("work item skipped under degradation", "key", src.Key, "phase", p.Name)
		return outcome{key: src.Key, skipped: true}
	}

	meta := &domain.PhaseMeta{}
	var itemRes *ItemResult
	if ir, ok := res.Data.(*ItemResult); ok && ir != nil {
		itemRes = ir
		if ir.Meta != nil {
			meta = ir.Meta
		}
	}
	if meta.StartedAt == nil {
		t := started
		meta.StartedAt = &t
	}
	if meta.CompletedAt == nil {
		t := time.Now()
		meta.CompletedAt = &t
	}
	if meta.DurationMS == 0 {
		meta.DurationMS = duration.Milliseconds()
	}

	done := p.Done
	upd := state.SourceUpdate{Status: &done, ClearError: true}
	switch p.Active {
	case domain.StatusCollecting:
		upd.Collection = meta
	case domain.StatusDistilling:
		upd.Distillation = meta
	case domain.StatusPackaging:
		upd.Packaging = meta
	case domain.StatusBundling:
		upd.Bundling = meta
	}
	if itemRes != nil {
		if itemRes.Title != "" {
			upd.Title = &itemRes.Title
		}
		if itemRes.Scores != nil {
			upd.Scores = itemRes.Scores
		}
	}

	if err := r.state.UpdateSource(src.Key, upd); err != nil {
		r.log.Error("failed to record work item success", "key", src.Key, "error", err)
		return outcome{key: src.Key, failed: true}
	}
	return outcome{key: src.Key}
}

// failItem marks the individual work item failed, never the whole run,
// and queues it for a later retry pass.
func (r *Runner) failItem(ctx context.Context, p Phase, src *domain.Source, opErr error, duration time.Duration, enqueue bool) outcome {
	f := fault.Classify(opErr, string(p.Name))

	retryCount := 0
	if v, ok := f.Context["attempts"].(int); ok {
		retryCount = v
	}
	if retryCount > 1 {
		metrics.RetryAttempts.WithLabelValues(p.Service).Add(float64(retryCount - 1))
	}

	failedStatus := domain.StatusFailed
	srcErr := &domain.SourceError{
		Code:       string(f.Category),
		Message:    f.Message,
		Timestamp:  time.Now(),
		RetryCount: retryCount,
		Phase:      p.Active,
	}
	if err := r.state.UpdateSource(src.Key, state.SourceUpdate{Status: &failedStatus, Error: srcErr}); err != nil {
		r.log.Error("failed to record work item failure", "key", src.Key, "error", err)
	}

	if enqueue && r.failed != nil {
		fs := &domain.FailedSource{
			ID:          uuid.New().String(),
			SourceKey:   src.Key,
			Phase:       p.Active,
			Error:       f.Message,
			Code:        string(f.Category),
			RetryCount:  retryCount,
			Status:      domain.FailedSourceStatusPending,
			LastAttempt: time.Now(),
			CreatedAt:   time.Now(),
		}
		if err := r.failed.Add(ctx, fs); err != nil {
			r.log.Error("failed to queue item for retry", "key", src.Key, "error", err)
		}
	}

	r.log.Warn("work item failed",
		"key", src.Key,
		"phase", p.Name,
		"category", f.Category,
		"strategy", f.Strategy,
		"retries", retryCount,
		"duration", duration)
	return outcome{key: src.Key, failed: true}
}

// finishPhase updates phase stats from the pass report and persists.
func (r *Runner) finishPhase(p Phase, report *Report, start time.Time) error {
	report.Duration = time.Since(start)

	successRate := 1.0
	if report.Processed > 0 {
		successRate = float64(report.Succeeded) / float64(report.Processed)
	}
	durationMS := report.Duration.Milliseconds()
	err := r.state.UpdatePhaseStats(p.Name, state.PhaseStatsUpdate{
		Total:       &report.Processed,
		New:         &report.Succeeded,
		Failed:      &report.Failed,
		Skipped:     &report.Skipped,
		DurationMS:  &durationMS,
		SuccessRate: &successRate,
	})
	if err != nil {
		return err
	}

	if err := r.state.SaveState(); err != nil {
		return err
	}

	if st := r.state.GetState(); st != nil {
		metrics.CompletionPercentage.Set(float64(st.Metadata.CompletionPercentage))
	}
	metrics.DegradationLevel.Set(levelValue(r.degrade.Level()))
	for name, status := range r.breakers.AllStatus() {
		metrics.BreakerState.WithLabelValues(name).Set(stateValue(status.State))
	}

	r.log.Info("phase complete",
		"phase", p.Name,
		"processed", report.Processed,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"duration", report.Duration)
	return nil
}

// RetryFailed drains the failed-source queue, returning each item to the
// phase recorded in its error block and reprocessing it there.
func (r *Runner) RetryFailed(ctx context.Context, phases []Phase) (*Report, error) {
	if r.failed == nil {
		return &Report{}, nil
	}
	if !r.degrade.CanContinue() {
		return nil, ErrHalted
	}

	byActive := make(map[domain.SourceStatus]Phase, len(phases))
	for _, p := range phases {
		byActive[p.Active] = p
	}

	report := &Report{Phase: "retry"}
	start := time.Now()

	pending, err := r.failed.Count(ctx)
	if err != nil {
		return nil, err
	}

	for i := 0; i < pending; i++ {
		if ctx.Err() != nil {
			break
		}

		fs, err := r.failed.GetNext(ctx)
		if err != nil {
			return nil, err
		}
		if fs == nil {
			break
		}

		p, ok := byActive[fs.Phase]
		if !ok {
			r.log.Warn("failed item references unknown phase, ignoring",
				"key", fs.SourceKey, "phase", fs.Phase)
			r.failed.MarkResolved(ctx, fs.ID)
			continue
		}

		// Return the item to its recorded in-progress phase.
		active := fs.Phase
		if err := r.state.UpdateSource(fs.SourceKey, state.SourceUpdate{Status: &active}); err != nil {
			r.log.Warn("cannot retry failed item", "key", fs.SourceKey, "error", err)
			r.failed.IncrementRetry(ctx, fs.ID)
			report.Processed++
			report.Failed++
			continue
		}

		src := r.sourceByKey(fs.SourceKey)
		if src == nil {
			r.failed.MarkResolved(ctx, fs.ID)
			continue
		}

		out := r.processItem(ctx, p, src, false)
		report.Processed++
		switch {
		case out.failed:
			report.Failed++
			r.failed.IncrementRetry(ctx, fs.ID)
		case out.skipped:
			report.Skipped++
			r.failed.IncrementRetry(ctx, fs.ID)
		default:
			report.Succeeded++
			r.failed.MarkResolved(ctx, fs.ID)
		}
	}

	report.Duration = time.Since(start)
	if err := r.state.SaveState(); err != nil {
		return nil, err
	}
	return report, nil
}

func (r *Runner) sourceByKey(key string) *domain.Source {
	for _, src := range r.state.SourcesArray() {
		if src.Key == key {
			return src
		}
	}
	return nil
}

func stateValue(s breaker.State) float64 {
	switch s {
	case breaker.StateClosed:
		return 0
	case breaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

func levelValue(l degrade.Level) float64 {
	switch l {
	case degrade.LevelNone:
		return 0
	case degrade.LevelMinimal:
		return 1
	case degrade.LevelPartial:
		return 2
	case degrade.LevelSignificant:
		return 3
	default:
		return 4
	}
}
