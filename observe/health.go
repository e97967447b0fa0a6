package observe

import (
	"sort"
	"sync"
	"time"
)

// DefaultStuckThreshold is how long a job may run before the health check
// reports it as stuck. Individual jobs enforce their own timeouts well below
// this; crossing it means the executor itself wedged.
const DefaultStuckThreshold = 5 * time.Minute

// HealthChecker tracks scheduler liveness and in-flight executions
type HealthChecker struct {
	mu             sync.Mutex
	running        bool
	inFlight       map[string]time.Time // job id -> started at
	stuckThreshold time.Duration
}

// NewHealthChecker creates a health checker. A zero threshold uses
// DefaultStuckThreshold.
func NewHealthChecker(stuckThreshold time.Duration) *HealthChecker {
	if stuckThreshold <= 0 {
		stuckThreshold = DefaultStuckThreshold
	}
	return &HealthChecker{
		inFlight:       make(map[string]time.Time),
		stuckThreshold: stuckThreshold,
	}
}

// SetRunning marks the scheduler loop as up or down
func (h *HealthChecker) SetRunning(running bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = running
}

// JobStarted marks a job as in flight
func (h *HealthChecker) JobStarted(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inFlight[jobID] = time.Now()
}

// JobFinished clears a job's in-flight mark
func (h *HealthChecker) JobFinished(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inFlight, jobID)
}

// StuckJob identifies an execution running past the stuck threshold
type StuckJob struct {
	JobID      string        `json:"job_id"`
	RunningFor time.Duration `json:"running_for"`
}

// HealthStatus is the result of a health check
type HealthStatus struct {
	Healthy          bool       `json:"healthy"`
	SchedulerRunning bool       `json:"scheduler_running"`
	InFlight         int        `json:"in_flight"`
	StuckJobs        []StuckJob `json:"stuck_jobs,omitempty"`
}

// Check reports overall health as of now. Healthy means the scheduler loop
// is running and no execution has crossed the stuck threshold.
func (h *HealthChecker) Check(now time.Time) HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	status := HealthStatus{
		SchedulerRunning: h.running,
		InFlight:         len(h.inFlight),
	}
	for jobID, started := range h.inFlight {
		if age := now.Sub(started); age > h.stuckThreshold {
			status.StuckJobs = append(status.StuckJobs, StuckJob{JobID: jobID, RunningFor: age})
		}
	}
	sort.Slice(status.StuckJobs, func(i, j int) bool {
		return status.StuckJobs[i].JobID < status.StuckJobs[j].JobID
	})
	status.Healthy = status.SchedulerRunning && len(status.StuckJobs) == 0
	return status
}
