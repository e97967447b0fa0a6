// Package schedule provides recurring job scheduling: durable job
// definitions, a ticking monitor loop that triggers due jobs, and an
// append-only execution history.
package schedule

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Job status constants. Transitions are one-directional except
// active <-> paused: a job is born pending, becomes active only through
// an explicit approval, and may be paused and resumed once active.
const (
	StatusPending = "pending" // persisted, awaiting approval, never triggered
	StatusActive  = "active"  // persisted and registered with the scheduler
	StatusPaused  = "paused"  // persisted, registered, not triggered
)

// Default resource limits applied when a stored job omits them
const (
	DefaultTimeoutSeconds = 30
	DefaultMemoryMB       = 100
	DefaultMaxOutputLines = 1000
)

// ResourceLimits bound a single execution of a job body
type ResourceLimits struct {
	TimeoutSeconds int  `json:"timeout_seconds"`
	MemoryMB       int  `json:"memory_mb"`
	AllowNetwork   bool `json:"allow_network"`
	MaxOutputLines int  `json:"max_output_lines"`
}

// DefaultResourceLimits returns the limits used when a job specifies none
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		TimeoutSeconds: DefaultTimeoutSeconds,
		MemoryMB:       DefaultMemoryMB,
		AllowNetwork:   false,
		MaxOutputLines: DefaultMaxOutputLines,
	}
}

// applyDefaults fills zero-valued numeric limits. AllowNetwork stays as
// stored; false is both the zero value and the default.
func (r *ResourceLimits) applyDefaults() {
	if r.TimeoutSeconds <= 0 {
		r.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if r.MemoryMB <= 0 {
		r.MemoryMB = DefaultMemoryMB
	}
	if r.MaxOutputLines <= 0 {
		r.MaxOutputLines = DefaultMaxOutputLines
	}
}

// Timeout returns the wall-clock execution bound as a duration
func (r ResourceLimits) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Job is a stored job definition. The Body is script source text compiled
// into a runnable handler when the job is registered with the scheduler.
type Job struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Expr         string         `json:"expr"`
	Body         string         `json:"body"`
	Status       string         `json:"status"`
	LastRunAt    *time.Time     `json:"last_run_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Limits       ResourceLimits `json:"limits"`
	NotifyTarget string         `json:"notify_target,omitempty"`
	Sandboxed    bool           `json:"sandboxed"`
	LoadError    string         `json:"load_error,omitempty"`
}

// Execution outcome constants
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
)

// ExecutionRecord captures one trigger attempt. Records are append-only
// and never mutated or deleted once written.
type ExecutionRecord struct {
	ID              string    `json:"id"`
	JobID           string    `json:"job_id"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	Outcome         string    `json:"outcome"`
	DurationMs      int64     `json:"duration_ms"`
	Error           string    `json:"error,omitempty"`
	Output          []string  `json:"output,omitempty"`
	MemoryDeltaMB   *float64  `json:"memory_delta_mb,omitempty"`
	OutputTruncated bool      `json:"output_truncated"`
}

// NewJobID generates a job identifier
func NewJobID() string {
	return "job_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// NewExecutionID generates an execution identifier
func NewExecutionID() string {
	return "exc_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}
