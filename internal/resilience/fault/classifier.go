package fault

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"os"
	"strings"
	"syscall"
)

// Classify turns any raised error into a categorized, severity-tagged fault.
// Already-classified faults pass through untouched. Typed errors from the
// call boundaries are inspected structurally; the ordered message-predicate
// rules remain only as a fallback for truly foreign inputs.
func Classify(err error, source string) *Error {
	if err == nil {
		return nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	category := categorize(err)
	f := New(err.Error(), category, source)
	f.cause = err
	return f
}

func categorize(err error) Category {
	// Typed inspection first.
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Status == 429:
			return CategoryRateLimit
		case httpErr.Status == 401 || httpErr.Status == 403:
			return CategoryAuthentication
		case httpErr.Status >= 500:
			return CategoryExternalAPI
		default:
			return CategoryNetwork
		}
	}

	var execErr *ExecError
	if errors.As(err, &execErr) {
		return CategoryAIProcessing
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return CategoryTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.EHOSTUNREACH) {
		return CategoryNetwork
	}
	if errors.Is(err, syscall.ETIMEDOUT) {
		return CategoryTimeout
	}

	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
		return CategoryFileSystem
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return CategoryValidation
	}

	// Message-predicate fallback for untyped inputs, checked in order.
	return categorizeMessage(err.Error())
}

func categorizeMessage(msg string) Category {
	lower := strings.ToLower(msg)

	switch {
	case containsAny(lower, "econnreset", "econnrefused", "enotfound", "socket hang up", "network"):
		return CategoryNetwork
	case containsAny(lower, "429", "rate limit", "too many requests"):
		return CategoryRateLimit
	case containsAny(lower, "401", "403", "unauthorized", "forbidden", "authentication"):
		return CategoryAuthentication
	case containsAny(lower, "timeout", "etimedout", "timed out"):
		return CategoryTimeout
	case containsAny(lower, "enoent", "eacces", "eperm", "no such file", "file", "directory"):
		return CategoryFileSystem
	case containsAny(lower, "validation", "schema", "parse", "syntax", "invalid json", "unmarshal"):
		return CategoryValidation
	default:
		return CategoryUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
