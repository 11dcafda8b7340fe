package domain

import "time"

// FailedSource represents a work item that failed processing and is queued
// for a later retry pass.
type FailedSource struct {
	ID          string             `json:"id"`
	SourceKey   string             `json:"source_key"`
	Phase       SourceStatus       `json:"phase"`
	Error       string             `json:"error_msg"`
	Code        string             `json:"code"`
	RetryCount  int                `json:"retry_count"`
	Status      FailedSourceStatus `json:"status"`
	LastAttempt time.Time          `json:"last_attempt"`
	CreatedAt   time.Time          `json:"created_at"`
}

type FailedSourceStatus string

const (
	FailedSourceStatusPending  FailedSourceStatus = "pending"
	FailedSourceStatusResolved FailedSourceStatus = "resolved"
	FailedSourceStatusIgnored  FailedSourceStatus = "ignored"
)
