package observe

import (
	"go.uber.org/zap"

	"github.com/attuneai/chime/logger"
)

// EventLog writes structured scheduler lifecycle and execution events to an
// append-only JSON log, one object per line.
type EventLog struct {
	log     *zap.SugaredLogger
	closeFn func() error
}

// NewEventLog opens (appending) a JSON event log at path
func NewEventLog(path string) (*EventLog, error) {
	l, closeFn, err := logger.NewFileJSON(path)
	if err != nil {
		return nil, err
	}
	return &EventLog{log: l, closeFn: closeFn}, nil
}

// NewEventLogWith wraps an existing logger, used in tests and as the
// no-op default when no event log path is configured.
func NewEventLogWith(l *zap.SugaredLogger) *EventLog {
	return &EventLog{log: l, closeFn: func() error { return nil }}
}

// JobStarted records the start of a job execution
func (e *EventLog) JobStarted(jobID, name, executionID string) {
	e.log.Infow("job_started",
		"job_id", jobID,
		"job_name", name,
		"execution_id", executionID)
}

// JobEnded records the completion of a job execution with its outcome
func (e *EventLog) JobEnded(jobID, name, executionID, outcome string, durationMs int64, errMsg string) {
	kv := []interface{}{
		"job_id", jobID,
		"job_name", name,
		"execution_id", executionID,
		"outcome", outcome,
		"duration_ms", durationMs,
	}
	if errMsg != "" {
		kv = append(kv, "error", errMsg)
	}
	if outcome == "success" {
		e.log.Infow("job_ended", kv...)
	} else {
		e.log.Errorw("job_ended", kv...)
	}
}

// JobSkipped records a trigger that was dropped because the previous run
// of the same job was still in flight.
func (e *EventLog) JobSkipped(jobID, name string) {
	e.log.Warnw("job_skipped_overlap",
		"job_id", jobID,
		"job_name", name)
}

// SchedulerEvent records a scheduler lifecycle event such as start or stop
func (e *EventLog) SchedulerEvent(event string, kv ...interface{}) {
	e.log.Infow(event, kv...)
}

// Alert records a raised alert
func (e *EventLog) Alert(a AlertEvent) {
	e.log.Warnw("alert",
		"alert_type", string(a.Type),
		"job_id", a.JobID,
		"message", a.Message)
}

// Close flushes and closes the underlying log file
func (e *EventLog) Close() error {
	return e.closeFn()
}
