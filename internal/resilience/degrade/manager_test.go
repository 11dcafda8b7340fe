package degrade

import (
	"context"
	"errors"
	"testing"

	"github.com/hxann/curator/internal/resilience/fault"
)

func failOp(ctx context.Context) (any, error) {
	return nil, errors.New("network error")
}

func okOp(ctx context.Context) (any, error) {
	return "ok", nil
}

func registerN(m *Manager, n int) {
	names := []string{"svc-1", "svc-2", "svc-3", "svc-4", "svc-5"}
	for _, name := range names[:n] {
		m.RegisterService(name)
	}
}

func TestLevel_RateThresholds(t *testing.T) {
	cases := []struct {
		failed int
		want   Level
	}{
		{0, LevelNone},
		{1, LevelPartial},     // 1/5 = 0.2
		{2, LevelPartial},     // 0.4
		{3, LevelSignificant}, // 0.6
		{4, LevelCritical},    // 0.8
		{5, LevelCritical},
	}

	for _, tc := range cases {
		m := NewManager(nil, nil)
		registerN(m, 5)
		for i := 0; i < tc.failed; i++ {
			m.ReportFailure([]string{"svc-1", "svc-2", "svc-3", "svc-4", "svc-5"}[i], errors.New("down"))
		}
		if got := m.Level(); got != tc.want {
			t.Errorf("%d of 5 failed: expected %s, got %s", tc.failed, tc.want, got)
		}
	}
}

func TestLevel_MinimalBand(t *testing.T) {
	m := NewManager(nil, nil)
	for i := 0; i < 10; i++ {
		m.RegisterService(string(rune('a' + i)))
	}
	m.ReportFailure("a", errors.New("down"))

	// 1/10 = 0.1, inside the minimal band.
	if got := m.Level(); got != LevelMinimal {
		t.Errorf("expected minimal, got %s", got)
	}
}

func TestLevel_RequiredServiceForcesCritical(t *testing.T) {
	m := NewManager([]string{"svc-1"}, nil)
	registerN(m, 5)

	m.ReportFailure("svc-1", errors.New("down"))

	if got := m.Level(); got != LevelCritical {
		t.Errorf("required service down must force critical, got %s", got)
	}
	if m.CanContinue() {
		t.Error("pipeline must not continue with a required service down")
	}
}

func TestLevel_RecoveryClearsCritical(t *testing.T) {
	m := NewManager([]string{"svc-1"}, nil)
	registerN(m, 5)

	m.ReportFailure("svc-1", errors.New("down"))
	m.ReportRecovery("svc-1")

	if got := m.Level(); got != LevelNone {
		t.Errorf("expected none after recovery, got %s", got)
	}
	if !m.CanContinue() {
		t.Error("pipeline should continue after recovery")
	}
}

func TestExecute_SuccessReportsRecovery(t *testing.T) {
	m := NewManager(nil, nil)
	registerN(m, 2)
	m.ReportFailure("svc-1", errors.New("down"))

	res := m.Execute(context.Background(), "svc-1", "op", Options{}, okOp)
	if !res.Success || res.Degraded {
		t.Fatalf("expected clean success, got %+v", res)
	}
	if got := m.Level(); got != LevelNone {
		t.Errorf("expected none after successful call, got %s", got)
	}
}

func TestExecute_RequiredAborts(t *testing.T) {
	m := NewManager(nil, nil)
	registerN(m, 2)
	m.RegisterFallback("svc-1", func(ctx context.Context) (any, error) {
		return "fallback", nil
	})

	res := m.Execute(context.Background(), "svc-1", "op",
		Options{Required: true, AllowDegradation: true, SkipOnFailure: true}, failOp)
	if res.Success {
		t.Error("required operations must not degrade")
	}
	if res.Strategy != fault.StrategyAbort {
		t.Errorf("expected abort, got %s", res.Strategy)
	}
}

func TestExecute_DegradationDisallowedAborts(t *testing.T) {
	m := NewManager(nil, nil)
	registerN(m, 2)

	res := m.Execute(context.Background(), "svc-1", "op",
		Options{AllowDegradation: false, SkipOnFailure: true}, failOp)
	if res.Success {
		t.Error("expected failure when degradation is disallowed")
	}
}

func TestExecute_FallbackOrdering(t *testing.T) {
	m := NewManager(nil, nil)
	registerN(m, 2)
	m.RegisterFallback("svc-1", func(ctx context.Context) (any, error) {
		return "registered", nil
	})

	// Registered fallback wins over caller data and skip.
	res := m.Execute(context.Background(), "svc-1", "op",
		Options{AllowDegradation: true, FallbackData: "caller", SkipOnFailure: true}, failOp)
	if !res.Success || !res.Degraded {
		t.Fatalf("expected degraded success, got %+v", res)
	}
	if res.Data != "registered" {
		t.Errorf("expected registered fallback data, got %v", res.Data)
	}
	if res.Strategy != fault.StrategyFallback {
		t.Errorf("expected fallback strategy, got %s", res.Strategy)
	}
}

func TestExecute_CallerFallbackData(t *testing.T) {
	m := NewManager(nil, nil)
	registerN(m, 2)

	res := m.Execute(context.Background(), "svc-1", "op",
		Options{AllowDegradation: true, FallbackData: "caller", SkipOnFailure: true}, failOp)
	if !res.Success || res.Data != "caller" {
		t.Fatalf("expected caller fallback data, got %+v", res)
	}
}

func TestExecute_BrokenFallbackFallsThrough(t *testing.T) {
	m := NewManager(nil, nil)
	registerN(m, 2)
	m.RegisterFallback("svc-1", func(ctx context.Context) (any, error) {
		return nil, errors.New("fallback down too")
	})

	res := m.Execute(context.Background(), "svc-1", "op",
		Options{AllowDegradation: true, FallbackData: "caller"}, failOp)
	if !res.Success || res.Data != "caller" {
		t.Fatalf("expected fall-through to caller data, got %+v", res)
	}
}

func TestExecute_Skip(t *testing.T) {
	m := NewManager(nil, nil)
	registerN(m, 2)

	res := m.Execute(context.Background(), "svc-1", "op",
		Options{AllowDegradation: true, SkipOnFailure: true}, failOp)
	if !res.Success || !res.Degraded {
		t.Fatalf("expected degraded success, got %+v", res)
	}
	if res.Data != nil {
		t.Errorf("skip must return no data, got %v", res.Data)
	}
	if res.Strategy != fault.StrategyIgnore {
		t.Errorf("expected ignore strategy, got %s", res.Strategy)
	}
}

func TestExecute_NoOptionsAborts(t *testing.T) {
	m := NewManager(nil, nil)
	registerN(m, 2)

	res := m.Execute(context.Background(), "svc-1", "op",
		Options{AllowDegradation: true}, failOp)
	if res.Success {
		t.Error("expected failure with no fallback and no skip")
	}
	var f *fault.Error
	if !errors.As(res.Err, &f) {
		t.Errorf("expected a classified fault, got %T", res.Err)
	}
}

func TestGetContext_Sorted(t *testing.T) {
	m := NewManager(nil, nil)
	registerN(m, 3)
	m.ReportFailure("svc-3", errors.New("down"))
	m.ReportFailure("svc-2", errors.New("down"))

	ctx := m.GetContext()
	if len(ctx.ActiveServices) != 1 || ctx.ActiveServices[0] != "svc-1" {
		t.Errorf("expected svc-1 active, got %v", ctx.ActiveServices)
	}
	if len(ctx.FailedServices) != 2 || ctx.FailedServices[0] != "svc-2" {
		t.Errorf("expected sorted failed services, got %v", ctx.FailedServices)
	}
}

func TestGetSystemHealthSummary(t *testing.T) {
	m := NewManager(nil, nil)
	registerN(m, 2)
	m.ReportFailure("svc-2", errors.New("down"))

	sum := m.GetSystemHealthSummary()
	if sum.Level != LevelSignificant {
		t.Errorf("expected significant at 50%% failed, got %s", sum.Level)
	}
	if !sum.CanContinue {
		t.Error("expected can_continue true without required services down")
	}
	if len(sum.Services) != 2 {
		t.Errorf("expected 2 services, got %d", len(sum.Services))
	}
	if len(sum.Failures) != 1 {
		t.Errorf("expected 1 failure entry, got %v", sum.Failures)
	}
}
