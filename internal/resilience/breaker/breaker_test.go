package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hxann/curator/internal/resilience/fault"
)

func testConfig() Config {
	return Config{
		FailureThreshold:          5,
		ResetTimeout:              50 * time.Millisecond,
		MonitoringPeriod:          time.Minute,
		SlowCallThreshold:         3,
		SlowCallDurationThreshold: 10 * time.Second,
		MinimumNumberOfCalls:      5,
	}
}

func failingOp(ctx context.Context) (any, error) {
	return nil, errors.New("network error")
}

func succeedingOp(ctx context.Context) (any, error) {
	return "ok", nil
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := New("svc", testConfig(), nil)
	if b.State() != StateClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_OpensOnConsecutiveFailures(t *testing.T) {
	b := New("svc", testConfig(), nil)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		b.Execute(ctx, failingOp)
		if b.State() != StateClosed {
			t.Fatalf("breaker opened after %d failures, threshold is 5", i)
		}
	}

	b.Execute(ctx, failingOp)
	if b.State() != StateOpen {
		t.Fatalf("expected open after 5th consecutive failure, got %s", b.State())
	}
}

func TestBreaker_MinimumCallsGate(t *testing.T) {
	cfg := testConfig()
	cfg.MinimumNumberOfCalls = 10
	b := New("svc", cfg, nil)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		b.Execute(ctx, failingOp)
	}
	if b.State() != StateClosed {
		t.Errorf("breaker must stay closed below the minimum call count, got %s", b.State())
	}
}

func TestBreaker_OpenRejectsWithoutInvoking(t *testing.T) {
	b := New("svc", testConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b.Execute(ctx, failingOp)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	invoked := false
	res := b.Execute(ctx, func(ctx context.Context) (any, error) {
		invoked = true
		return "ok", nil
	})
	if invoked {
		t.Error("operation must not be invoked while open")
	}
	if res.Success {
		t.Error("rejection must not report success")
	}

	var f *fault.Error
	if !errors.As(res.Err, &f) {
		t.Fatalf("expected a classified fault, got %T", res.Err)
	}
	if f.Strategy != fault.StrategyCircuitBreaker {
		t.Errorf("expected circuit_breaker strategy, got %s", f.Strategy)
	}
	if f.Retryable {
		t.Error("rejections must not be retryable")
	}
}

func TestBreaker_HalfOpenProbeCloses(t *testing.T) {
	b := New("svc", testConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b.Execute(ctx, failingOp)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	time.Sleep(70 * time.Millisecond)

	res := b.Execute(ctx, succeedingOp)
	if !res.Success {
		t.Fatalf("probe should have been admitted: %v", res.Err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed after successful probe, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b := New("svc", testConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b.Execute(ctx, failingOp)
	}
	time.Sleep(70 * time.Millisecond)

	res := b.Execute(ctx, failingOp)
	if res.Success {
		t.Fatal("probe should have failed")
	}
	if b.State() != StateOpen {
		t.Errorf("expected open after failed probe, got %s", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := New("svc", testConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b.Execute(ctx, failingOp)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("expected closed after reset, got %s", b.State())
	}

	st := b.Status()
	if st.Metrics.TotalCalls != 0 || st.Metrics.ConsecutiveFailures != 0 {
		t.Errorf("reset must clear metrics, got %+v", st.Metrics)
	}
}

func TestBreaker_ForceOpenStaysOpen(t *testing.T) {
	b := New("svc", testConfig(), nil)
	ctx := context.Background()

	b.ForceOpen()
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	// Past the reset timeout a normally opened breaker would half-open.
	time.Sleep(70 * time.Millisecond)

	res := b.Execute(ctx, succeedingOp)
	if res.Success {
		t.Error("forced-open breaker must keep rejecting")
	}
	if b.State() != StateOpen {
		t.Errorf("expected still open, got %s", b.State())
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("expected closed after reset, got %s", b.State())
	}
	if res := b.Execute(ctx, succeedingOp); !res.Success {
		t.Errorf("expected call through after reset: %v", res.Err)
	}
}

func TestBreaker_FailureRateOpens(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 100
	b := New("svc", cfg, nil)
	ctx := context.Background()

	// Alternate to keep consecutive failures low; the 50% rate still trips.
	for i := 0; i < 3; i++ {
		b.Execute(ctx, succeedingOp)
		b.Execute(ctx, failingOp)
	}
	if b.State() != StateOpen {
		t.Errorf("expected open at 50%% failure rate, got %s", b.State())
	}
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	b := New("svc", testConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		b.Execute(ctx, failingOp)
	}
	b.Execute(ctx, succeedingOp)

	st := b.Status()
	if st.Metrics.ConsecutiveFailures != 0 {
		t.Errorf("expected consecutive failures reset, got %d", st.Metrics.ConsecutiveFailures)
	}
}
