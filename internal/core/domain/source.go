package domain

import (
	"errors"
	"time"
)

// SourceStatus is the lifecycle phase of a work item.
type SourceStatus string

const (
	StatusDiscovered SourceStatus = "discovered"
	StatusCollecting SourceStatus = "collecting"
	StatusCollected  SourceStatus = "collected"
	StatusDistilling SourceStatus = "distilling"
	StatusDistilled  SourceStatus = "distilled"
	StatusFailed     SourceStatus = "failed"
	StatusPackaging  SourceStatus = "packaging"
	StatusPackaged   SourceStatus = "packaged"
	StatusBundling   SourceStatus = "bundling"
	StatusBundled    SourceStatus = "bundled"
)

// ErrInvalidTransition is returned when a status change violates the phase order.
var ErrInvalidTransition = errors.New("invalid status transition")

// ValidTransitions defines allowed status transitions.
// Key is the current status, value is the list of valid next statuses.
// Transitions are monotonic forward through the phase sequence; "failed" is
// reachable from every in-progress phase, and a retry returns from "failed"
// to the in-progress phase recorded in the error block.
var ValidTransitions = map[SourceStatus][]SourceStatus{
	StatusDiscovered: {StatusCollecting},
	StatusCollecting: {StatusCollected, StatusFailed},
	StatusCollected:  {StatusDistilling},
	StatusDistilling: {StatusDistilled, StatusFailed},
	StatusDistilled:  {StatusPackaging},
	StatusPackaging:  {StatusPackaged, StatusFailed},
	StatusPackaged:   {StatusBundling},
	StatusBundling:   {StatusBundled, StatusFailed},
	StatusBundled:    {},
	StatusFailed:     {StatusCollecting, StatusDistilling, StatusPackaging, StatusBundling},
}

// CanTransition checks if a transition from one status to another is valid.
func CanTransition(from, to SourceStatus) bool {
	targets, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, target := range targets {
		if target == to {
			return true
		}
	}
	return false
}

// InProgressStatuses are the phases from which a work item can fail.
var InProgressStatuses = []SourceStatus{
	StatusCollecting, StatusDistilling, StatusPackaging, StatusBundling,
}

// SourceError records why a work item failed and where.
type SourceError struct {
	Code       string       `json:"code"`
	Message    string       `json:"message"`
	Timestamp  time.Time    `json:"timestamp"`
	RetryCount int          `json:"retry_count"`
	Phase      SourceStatus `json:"phase"`
}

// PhaseMeta holds per-phase processing metadata for a work item.
type PhaseMeta struct {
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms,omitempty"`
	Checksum    string     `json:"checksum,omitempty"`
	Bytes       int64      `json:"bytes,omitempty"`
	Tokens      int64      `json:"tokens,omitempty"`
}

// Source is one unit of content tracked by key through all pipeline phases.
type Source struct {
	Key    string       `json:"key"`
	Status SourceStatus `json:"status"`

	URL    string             `json:"url,omitempty"`
	Title  string             `json:"title,omitempty"`
	Tags   []string           `json:"tags,omitempty"`
	Scores map[string]float64 `json:"scores,omitempty"`

	Collection   *PhaseMeta `json:"collection,omitempty"`
	Distillation *PhaseMeta `json:"distillation,omitempty"`
	Packaging    *PhaseMeta `json:"packaging,omitempty"`
	Bundling     *PhaseMeta `json:"bundling,omitempty"`

	Error *SourceError `json:"error,omitempty"`

	DiscoveredAt time.Time `json:"discovered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the source.
func (s *Source) Clone() *Source {
	c := *s
	if s.Tags != nil {
		c.Tags = append([]string(nil), s.Tags...)
	}
	if s.Scores != nil {
		c.Scores = make(map[string]float64, len(s.Scores))
		for k, v := range s.Scores {
			c.Scores[k] = v
		}
	}
	c.Collection = clonePhaseMeta(s.Collection)
	c.Distillation = clonePhaseMeta(s.Distillation)
	c.Packaging = clonePhaseMeta(s.Packaging)
	c.Bundling = clonePhaseMeta(s.Bundling)
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	return &c
}

func clonePhaseMeta(m *PhaseMeta) *PhaseMeta {
	if m == nil {
		return nil
	}
	c := *m
	if m.StartedAt != nil {
		t := *m.StartedAt
		c.StartedAt = &t
	}
	if m.CompletedAt != nil {
		t := *m.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
