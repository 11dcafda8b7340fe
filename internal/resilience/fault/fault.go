// Package fault defines the normalized fault representation passed between
// all resilience components. Every raw failure is classified exactly once,
// as close to its origin as possible; upstream code reacts to the category
// and recovery strategy, never to raw error text.
package fault

import (
	"fmt"
	"time"
)

// Category classifies a failure by its origin.
type Category string

const (
	CategoryNetwork        Category = "network"
	CategoryRateLimit      Category = "rate_limit"
	CategoryAuthentication Category = "authentication"
	CategoryValidation     Category = "validation"
	CategorySystem         Category = "system"
	CategoryExternalAPI    Category = "external_api"
	CategoryAIProcessing   Category = "ai_processing"
	CategoryFileSystem     Category = "file_system"
	CategoryConfiguration  Category = "configuration"
	CategoryTimeout        Category = "timeout"
	CategoryUnknown        Category = "unknown"
)

// Severity grades how serious a fault is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Strategy is the default recovery action for a fault category.
type Strategy string

const (
	StrategyRetry          Strategy = "retry"
	StrategyCircuitBreaker Strategy = "circuit_breaker"
	StrategyFallback       Strategy = "fallback"
	StrategyEscalate       Strategy = "escalate"
	StrategyIgnore         Strategy = "ignore"
	StrategyAbort          Strategy = "abort"
)

// Error is the normalized fault passed between resilience components.
// Once classified, a failure never travels upward as a bare error again.
type Error struct {
	Message   string         `json:"message"`
	Category  Category       `json:"category"`
	Severity  Severity       `json:"severity"`
	Strategy  Strategy       `json:"recovery_strategy"`
	Retryable bool           `json:"retryable"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`

	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %s", e.Category, e.Severity, e.Source, e.Message)
}

// Unwrap returns the original error, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithContext attaches a key/value pair to the fault context.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New constructs a fault with the category's default severity and strategy.
func New(message string, category Category, source string) *Error {
	sev, strat := Defaults(category)
	return &Error{
		Message:   message,
		Category:  category,
		Severity:  sev,
		Strategy:  strat,
		Retryable: strat == StrategyRetry,
		Timestamp: time.Now(),
		Source:    source,
	}
}

// Defaults returns the fixed default severity and recovery strategy for
// a category. This table is the single place failure semantics are decided.
func Defaults(category Category) (Severity, Strategy) {
	switch category {
	case CategoryNetwork:
		return SeverityMedium, StrategyRetry
	case CategoryRateLimit:
		return SeverityMedium, StrategyCircuitBreaker
	case CategoryAuthentication:
		return SeverityHigh, StrategyEscalate
	case CategoryValidation:
		return SeverityLow, StrategyIgnore
	case CategorySystem:
		return SeverityCritical, StrategyAbort
	case CategoryExternalAPI:
		return SeverityMedium, StrategyCircuitBreaker
	case CategoryAIProcessing:
		return SeverityMedium, StrategyFallback
	case CategoryFileSystem:
		return SeverityHigh, StrategyEscalate
	case CategoryConfiguration:
		return SeverityCritical, StrategyAbort
	case CategoryTimeout:
		return SeverityMedium, StrategyRetry
	default:
		return SeverityMedium, StrategyRetry
	}
}
