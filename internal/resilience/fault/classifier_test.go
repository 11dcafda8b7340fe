package fault

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestClassify_Nil(t *testing.T) {
	if f := Classify(nil, "test"); f != nil {
		t.Errorf("expected nil fault for nil error, got %v", f)
	}
}

func TestClassify_Passthrough(t *testing.T) {
	original := New("already classified", CategoryRateLimit, "origin")
	wrapped := fmt.Errorf("wrapped: %w", original)

	f := Classify(wrapped, "elsewhere")
	if f != original {
		t.Errorf("expected the original fault back, got %v", f)
	}
	if f.Source != "origin" {
		t.Errorf("expected source to stay origin, got %s", f.Source)
	}
}

func TestClassify_HTTPStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Category
	}{
		{429, CategoryRateLimit},
		{401, CategoryAuthentication},
		{403, CategoryAuthentication},
		{500, CategoryExternalAPI},
		{503, CategoryExternalAPI},
		{404, CategoryNetwork},
	}
	for _, tc := range cases {
		err := &HTTPError{Status: tc.status, URL: "http://example.com"}
		f := Classify(err, "fetch")
		if f.Category != tc.want {
			t.Errorf("status %d: expected %s, got %s", tc.status, tc.want, f.Category)
		}
	}
}

func TestClassify_WrappedHTTPError(t *testing.T) {
	err := fmt.Errorf("fetch failed: %w", &HTTPError{Status: 429, URL: "u"})
	f := Classify(err, "fetch")
	if f.Category != CategoryRateLimit {
		t.Errorf("expected rate_limit, got %s", f.Category)
	}
	if f.Strategy != StrategyCircuitBreaker {
		t.Errorf("expected circuit_breaker strategy, got %s", f.Strategy)
	}
}

func TestClassify_ExecError(t *testing.T) {
	f := Classify(&ExecError{Command: "distill", ExitCode: 2, Stderr: "boom"}, "distill")
	if f.Category != CategoryAIProcessing {
		t.Errorf("expected ai_processing, got %s", f.Category)
	}
	if f.Strategy != StrategyFallback {
		t.Errorf("expected fallback strategy, got %s", f.Strategy)
	}
}

func TestClassify_Timeout(t *testing.T) {
	f := Classify(context.DeadlineExceeded, "op")
	if f.Category != CategoryTimeout {
		t.Errorf("expected timeout, got %s", f.Category)
	}
	if !f.Retryable {
		t.Error("timeout faults should be retryable")
	}
}

func TestClassify_Syscall(t *testing.T) {
	cases := []struct {
		err  error
		want Category
	}{
		{syscall.ECONNRESET, CategoryNetwork},
		{syscall.ECONNREFUSED, CategoryNetwork},
		{syscall.ETIMEDOUT, CategoryTimeout},
		{syscall.EACCES, CategoryFileSystem},
	}
	for _, tc := range cases {
		f := Classify(fmt.Errorf("call failed: %w", tc.err), "op")
		if f.Category != tc.want {
			t.Errorf("%v: expected %s, got %s", tc.err, tc.want, f.Category)
		}
	}
}

func TestClassify_MessageFallback(t *testing.T) {
	cases := []struct {
		msg  string
		want Category
	}{
		{"ECONNRESET: socket hang up", CategoryNetwork},
		{"got 429 Too Many Requests", CategoryRateLimit},
		{"401 Unauthorized", CategoryAuthentication},
		{"operation timed out after 30s", CategoryTimeout},
		{"ENOENT: no such file", CategoryFileSystem},
		{"schema validation rejected field", CategoryValidation},
		{"something completely different", CategoryUnknown},
	}
	for _, tc := range cases {
		f := Classify(errors.New(tc.msg), "op")
		if f.Category != tc.want {
			t.Errorf("%q: expected %s, got %s", tc.msg, tc.want, f.Category)
		}
	}
}

func TestClassify_UnknownDefaults(t *testing.T) {
	f := Classify(errors.New("mystery"), "op")
	if f.Category != CategoryUnknown {
		t.Fatalf("expected unknown, got %s", f.Category)
	}
	if f.Severity != SeverityMedium || f.Strategy != StrategyRetry {
		t.Errorf("unknown should default to medium/retry, got %s/%s", f.Severity, f.Strategy)
	}
	if !f.Retryable {
		t.Error("unknown faults should be retryable")
	}
}

func TestDefaults_Table(t *testing.T) {
	cases := []struct {
		category Category
		severity Severity
		strategy Strategy
	}{
		{CategoryNetwork, SeverityMedium, StrategyRetry},
		{CategoryRateLimit, SeverityMedium, StrategyCircuitBreaker},
		{CategoryAuthentication, SeverityHigh, StrategyEscalate},
		{CategoryValidation, SeverityLow, StrategyIgnore},
		{CategorySystem, SeverityCritical, StrategyAbort},
		{CategoryExternalAPI, SeverityMedium, StrategyCircuitBreaker},
		{CategoryAIProcessing, SeverityMedium, StrategyFallback},
		{CategoryFileSystem, SeverityHigh, StrategyEscalate},
		{CategoryConfiguration, SeverityCritical, StrategyAbort},
		{CategoryTimeout, SeverityMedium, StrategyRetry},
	}
	for _, tc := range cases {
		sev, strat := Defaults(tc.category)
		if sev != tc.severity || strat != tc.strategy {
			t.Errorf("%s: expected %s/%s, got %s/%s",
				tc.category, tc.severity, tc.strategy, sev, strat)
		}
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	f := Classify(fmt.Errorf("wrapped: %w", cause), "op")
	if !errors.Is(f, cause) {
		t.Error("classified fault should unwrap to the original error")
	}
}

func TestError_WithContext(t *testing.T) {
	f := New("msg", CategoryNetwork, "op").WithContext("attempts", 3)
	if f.Context["attempts"] != 3 {
		t.Errorf("expected attempts=3 in context, got %v", f.Context["attempts"])
	}
}
