package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hxann/curator/internal/core/domain"
	"github.com/hxann/curator/internal/core/state"
	"github.com/hxann/curator/internal/infra/storage/memory"
	"github.com/hxann/curator/internal/resilience/breaker"
	"github.com/hxann/curator/internal/resilience/degrade"
	"github.com/hxann/curator/internal/resilience/retry"
)

type fixture struct {
	runner  *Runner
	state   *state.Manager
	degrade *degrade.Manager
	failed  *memory.FailedSourceRepo
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
	t.Helper()

	st := state.NewManager(
		state.NewFileStore(filepath.Join(t.TempDir(), "state.json")), "1.0.0", nil)
	st.InitializeState(nil)

	rm := retry.NewManager(retry.Backoff{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  maxAttempts,
	}, nil)

	// Thresholds high enough that the breaker never trips in these tests.
	breakerCfg := breaker.Config{
		FailureThreshold:          1000,
		ResetTimeout:              time.Minute,
		MonitoringPeriod:          time.Minute,
		SlowCallThreshold:         1000,
		SlowCallDurationThreshold: time.Minute,
		MinimumNumberOfCalls:      100000,
	}

	// A second healthy service keeps one failing service below the
	// critical failure rate, so CanContinue stays true mid-test.
	dm := degrade.NewManager(nil, nil)
	dm.RegisterService("svc")
	dm.RegisterService("aux")

	failed := memory.NewFailedSourceRepo()

	return &fixture{
		runner:  NewRunner(st, rm, breaker.NewRegistry(nil), breakerCfg, dm, failed, 2, nil),
		state:   st,
		degrade: dm,
		failed:  failed,
	}
}

func collectPhase(op ItemOp) Phase {
	return Phase{
		Name:    domain.PhaseCollect,
		From:    domain.StatusDiscovered,
		Active:  domain.StatusCollecting,
		Done:    domain.StatusCollected,
		Service: "svc",
		Options: degrade.Options{AllowDegradation: false},
		Op:      op,
	}
}

func addItem(t *testing.T, f *fixture, key string) {
	t.Helper()
	_, err := f.state.AddSources(map[string]*domain.Source{
		key: {Status: domain.StatusDiscovered, URL: "http://" + key},
	})
	if err != nil {
		t.Fatalf("AddSources failed: %v", err)
	}
}

func TestRunPhase_Success(t *testing.T) {
	f := newFixture(t, 3)
	addItem(t, f, "a")

	report, err := f.runner.RunPhase(context.Background(), collectPhase(
		func(ctx context.Context, src *domain.Source) (*ItemResult, error) {
			return &ItemResult{Meta: &domain.PhaseMeta{Bytes: 9}}, nil
		}))
	if err != nil {
		t.Fatalf("RunPhase failed: %v", err)
	}
	if report.Succeeded != 1 || report.Failed != 0 {
		t.Errorf("unexpected report: %+v", report)
	}

	src := f.state.GetState().Sources["a"]
	if src.Status != domain.StatusCollected {
		t.Errorf("expected collected, got %s", src.Status)
	}
	if src.Collection == nil || src.Collection.Bytes != 9 {
		t.Errorf("phase meta not recorded: %+v", src.Collection)
	}
	if src.Error != nil {
		t.Errorf("no error block expected, got %+v", src.Error)
	}
}

func TestRunPhase_TransientFailuresRecover(t *testing.T) {
	f := newFixture(t, 5)
	addItem(t, f, "a")

	var mu sync.Mutex
	calls := 0
	report, err := f.runner.RunPhase(context.Background(), collectPhase(
		func(ctx context.Context, src *domain.Source) (*ItemResult, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n <= 4 {
				return nil, errors.New("network error")
			}
			return &ItemResult{}, nil
		}))
	if err != nil {
		t.Fatalf("RunPhase failed: %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("expected success after retries, got %+v", report)
	}
	if calls != 5 {
		t.Errorf("expected 5 attempts, got %d", calls)
	}

	src := f.state.GetState().Sources["a"]
	if src.Status != domain.StatusCollected {
		t.Errorf("expected collected, got %s", src.Status)
	}
	if src.Error != nil {
		t.Errorf("recovered item must carry no error block, got %+v", src.Error)
	}
}

func TestRunPhase_ExhaustionMarksItemFailed(t *testing.T) {
	f := newFixture(t, 3)
	addItem(t, f, "a")
	addItem(t, f, "b")

	report, err := f.runner.RunPhase(context.Background(), collectPhase(
		func(ctx context.Context, src *domain.Source) (*ItemResult, error) {
			if src.Key == "a" {
				return nil, errors.New("network error")
			}
			return &ItemResult{}, nil
		}))
	if err != nil {
		t.Fatalf("RunPhase failed: %v", err)
	}
	if report.Succeeded != 1 || report.Failed != 1 {
		t.Errorf("unexpected report: %+v", report)
	}

	src := f.state.GetState().Sources["a"]
	if src.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", src.Status)
	}
	if src.Error == nil {
		t.Fatal("expected an error block")
	}
	if src.Error.RetryCount != 3 {
		t.Errorf("expected retry_count 3, got %d", src.Error.RetryCount)
	}
	if src.Error.Phase != domain.StatusCollecting {
		t.Errorf("expected phase collecting, got %s", src.Error.Phase)
	}
	if src.Error.Code != "network" {
		t.Errorf("expected code network, got %s", src.Error.Code)
	}

	// One item failure never fails the run; the other item completed.
	if f.state.GetState().Sources["b"].Status != domain.StatusCollected {
		t.Error("sibling item must complete despite the failure")
	}

	n, _ := f.failed.Count(context.Background())
	if n != 1 {
		t.Errorf("expected 1 queued item, got %d", n)
	}
}

func TestRunPhase_NonRetryableFailsWithoutRetries(t *testing.T) {
	f := newFixture(t, 5)
	addItem(t, f, "a")

	calls := 0
	_, err := f.runner.RunPhase(context.Background(), collectPhase(
		func(ctx context.Context, src *domain.Source) (*ItemResult, error) {
			calls++
			return nil, errors.New("401 Unauthorized")
		}))
	if err != nil {
		t.Fatalf("RunPhase failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("non-retryable faults must not retry, got %d calls", calls)
	}

	src := f.state.GetState().Sources["a"]
	if src.Status != domain.StatusFailed {
		t.Errorf("expected failed, got %s", src.Status)
	}
	if src.Error.Code != "authentication" {
		t.Errorf("expected authentication, got %s", src.Error.Code)
	}
}

func TestRunPhase_HaltsWhenSystemCannotContinue(t *testing.T) {
	f := newFixture(t, 3)
	addItem(t, f, "a")

	down := degrade.NewManager([]string{"svc"}, nil)
	down.RegisterService("svc")
	down.ReportFailure("svc", errors.New("down"))
	f.runner.degrade = down

	_, err := f.runner.RunPhase(context.Background(), collectPhase(
		func(ctx context.Context, src *domain.Source) (*ItemResult, error) {
			t.Error("no item may start while halted")
			return nil, nil
		}))
	if !errors.Is(err, ErrHalted) {
		t.Errorf("expected ErrHalted, got %v", err)
	}
}

func TestRunPhase_SkipLeavesItemInProgress(t *testing.T) {
	f := newFixture(t, 1)
	addItem(t, f, "a")

	p := collectPhase(func(ctx context.Context, src *domain.Source) (*ItemResult, error) {
		return nil, errors.New("network error")
	})
	p.Options = degrade.Options{AllowDegradation: true, SkipOnFailure: true}

	report, err := f.runner.RunPhase(context.Background(), p)
	if err != nil {
		t.Fatalf("RunPhase failed: %v", err)
	}
	if report.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %+v", report)
	}

	src := f.state.GetState().Sources["a"]
	if src.Status != domain.StatusCollecting {
		t.Errorf("skipped item must stay in progress, got %s", src.Status)
	}
}

func TestRunPhase_PicksUpStuckItems(t *testing.T) {
	f := newFixture(t, 3)
	addItem(t, f, "a")

	collecting := domain.StatusCollecting
	if err := f.state.UpdateSource("a", state.SourceUpdate{Status: &collecting}); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	report, err := f.runner.RunPhase(context.Background(), collectPhase(
		func(ctx context.Context, src *domain.Source) (*ItemResult, error) {
			return &ItemResult{}, nil
		}))
	if err != nil {
		t.Fatalf("RunPhase failed: %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("stuck item not processed: %+v", report)
	}
	if got := f.state.GetState().Sources["a"].Status; got != domain.StatusCollected {
		t.Errorf("expected collected, got %s", got)
	}
}

func TestRunPhase_UpdatesStats(t *testing.T) {
	f := newFixture(t, 1)
	addItem(t, f, "a")
	addItem(t, f, "b")

	_, err := f.runner.RunPhase(context.Background(), collectPhase(
		func(ctx context.Context, src *domain.Source) (*ItemResult, error) {
			if src.Key == "a" {
				return nil, errors.New("network error")
			}
			return &ItemResult{}, nil
		}))
	if err != nil {
		t.Fatalf("RunPhase failed: %v", err)
	}

	stats := f.state.GetState().Stats[domain.PhaseCollect]
	if stats.Total != 2 || stats.New != 1 || stats.Failed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.SuccessRate != 0.5 {
		t.Errorf("expected success rate 0.5, got %f", stats.SuccessRate)
	}
}

func TestRetryFailed_Recovers(t *testing.T) {
	f := newFixture(t, 1)
	addItem(t, f, "a")

	fail := true
	p := collectPhase(func(ctx context.Context, src *domain.Source) (*ItemResult, error) {
		if fail {
			return nil, errors.New("network error")
		}
		return &ItemResult{}, nil
	})

	if _, err := f.runner.RunPhase(context.Background(), p); err != nil {
		t.Fatalf("RunPhase failed: %v", err)
	}
	if got := f.state.GetState().Sources["a"].Status; got != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", got)
	}

	fail = false
	report, err := f.runner.RetryFailed(context.Background(), []Phase{p})
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("expected 1 recovered, got %+v", report)
	}

	src := f.state.GetState().Sources["a"]
	if src.Status != domain.StatusCollected {
		t.Errorf("expected collected after retry, got %s", src.Status)
	}
	if src.Error != nil {
		t.Errorf("error block must clear after recovery, got %+v", src.Error)
	}

	n, _ := f.failed.Count(context.Background())
	if n != 0 {
		t.Errorf("queue must be empty after recovery, got %d", n)
	}
}

func TestRetryFailed_StillFailingStaysQueued(t *testing.T) {
	f := newFixture(t, 1)
	addItem(t, f, "a")

	p := collectPhase(func(ctx context.Context, src *domain.Source) (*ItemResult, error) {
		return nil, errors.New("network error")
	})
	if _, err := f.runner.RunPhase(context.Background(), p); err != nil {
		t.Fatalf("RunPhase failed: %v", err)
	}

	report, err := f.runner.RetryFailed(context.Background(), []Phase{p})
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if report.Failed != 1 {
		t.Errorf("expected 1 still failing, got %+v", report)
	}

	n, _ := f.failed.Count(context.Background())
	if n != 1 {
		t.Errorf("item must stay queued, got %d", n)
	}

	next, _ := f.failed.GetNext(context.Background())
	if next == nil || next.RetryCount < 2 {
		t.Errorf("expected bumped retry count, got %+v", next)
	}
}

func TestRunPhase_EmptyPhase(t *testing.T) {
	f := newFixture(t, 3)

	report, err := f.runner.RunPhase(context.Background(), collectPhase(
		func(ctx context.Context, src *domain.Source) (*ItemResult, error) {
			return &ItemResult{}, nil
		}))
	if err != nil {
		t.Fatalf("RunPhase failed: %v", err)
	}
	if report.Processed != 0 {
		t.Errorf("expected empty report, got %+v", report)
	}
}
