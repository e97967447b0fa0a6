package observe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/attuneai/chime/notify"
)

// AlertType classifies a raised alert
type AlertType string

const (
	AlertConsecutiveFailures AlertType = "consecutive_failures"
	AlertSlowExecution       AlertType = "slow_execution"
	AlertStuckJob            AlertType = "stuck_job"
	AlertSchedulerDown       AlertType = "scheduler_down"
)

// AlertEvent is one raised alert
type AlertEvent struct {
	Type    AlertType `json:"type"`
	JobID   string    `json:"job_id,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// AlertConfig controls alert thresholds and delivery
type AlertConfig struct {
	// FailureThreshold is the consecutive-failure count that raises an
	// alert. The streak resets on any success.
	FailureThreshold int
	// SlowThreshold flags executions that complete but take longer than
	// this.
	SlowThreshold time.Duration
	// NotifyTarget is where alert notifications are sent. Empty disables
	// delivery; alerts are still recorded and logged.
	NotifyTarget string
	// NotifyInterval is the minimum spacing between delivered
	// notifications. Alerts raised faster than this are recorded but not
	// sent.
	NotifyInterval time.Duration
	// NotifyBurst is how many notifications may be sent back to back
	// before the interval applies.
	NotifyBurst int
}

// DefaultAlertConfig returns the standard alert thresholds
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		FailureThreshold: 3,
		SlowThreshold:    30 * time.Second,
		NotifyInterval:   10 * time.Second,
		NotifyBurst:      5,
	}
}

const maxRecentAlerts = 100

// AlertManager watches execution outcomes and health state and raises
// alerts when thresholds are crossed. Delivery through the notifier is
// rate limited; the recorded alert history is not.
type AlertManager struct {
	cfg      AlertConfig
	health   *HealthChecker
	notifier notify.Notifier
	limiter  *rate.Limiter
	log      *zap.SugaredLogger

	mu         sync.Mutex
	streaks    map[string]int
	stuckSeen  map[string]bool
	downRaised bool
	recent     []AlertEvent
}

// NewAlertManager creates an alert manager. The notifier may be nil when
// alerts should only be recorded.
func NewAlertManager(cfg AlertConfig, health *HealthChecker, notifier notify.Notifier, log *zap.SugaredLogger) *AlertManager {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultAlertConfig().FailureThreshold
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = DefaultAlertConfig().SlowThreshold
	}
	if cfg.NotifyInterval <= 0 {
		cfg.NotifyInterval = DefaultAlertConfig().NotifyInterval
	}
	if cfg.NotifyBurst <= 0 {
		cfg.NotifyBurst = DefaultAlertConfig().NotifyBurst
	}
	return &AlertManager{
		cfg:       cfg,
		health:    health,
		notifier:  notifier,
		limiter:   rate.NewLimiter(rate.Every(cfg.NotifyInterval), cfg.NotifyBurst),
		log:       log,
		streaks:   make(map[string]int),
		stuckSeen: make(map[string]bool),
	}
}

// RecordExecution feeds one finished execution into the alert rules.
// A success resets the job's failure streak; a failure extends it, and the
// alert fires at the threshold and on every failure past it.
func (a *AlertManager) RecordExecution(jobID, jobName, outcome string, duration time.Duration) {
	a.mu.Lock()
	if outcome == "success" {
		a.streaks[jobID] = 0
	} else {
		a.streaks[jobID]++
		if streak := a.streaks[jobID]; streak >= a.cfg.FailureThreshold {
			a.raiseLocked(AlertEvent{
				Type:    AlertConsecutiveFailures,
				JobID:   jobID,
				Message: fmt.Sprintf("job %s (%s) failed %d times in a row", jobName, jobID, streak),
				At:      time.Now(),
			})
		}
	}
	if duration > a.cfg.SlowThreshold {
		a.raiseLocked(AlertEvent{
			Type:    AlertSlowExecution,
			JobID:   jobID,
			Message: fmt.Sprintf("job %s (%s) took %s, slow threshold is %s", jobName, jobID, duration.Round(time.Millisecond), a.cfg.SlowThreshold),
			At:      time.Now(),
		})
	}
	a.mu.Unlock()
}

// Sweep checks health state for stuck jobs and scheduler liveness. Stuck
// and down alerts fire once per incident, re-arming when the condition
// clears.
func (a *AlertManager) Sweep(now time.Time) {
	status := a.health.Check(now)

	a.mu.Lock()
	current := make(map[string]bool, len(status.StuckJobs))
	for _, stuck := range status.StuckJobs {
		current[stuck.JobID] = true
		if a.stuckSeen[stuck.JobID] {
			continue
		}
		a.stuckSeen[stuck.JobID] = true
		a.raiseLocked(AlertEvent{
			Type:    AlertStuckJob,
			JobID:   stuck.JobID,
			Message: fmt.Sprintf("job %s has been running for %s", stuck.JobID, stuck.RunningFor.Round(time.Second)),
			At:      now,
		})
	}
	for jobID := range a.stuckSeen {
		if !current[jobID] {
			delete(a.stuckSeen, jobID)
		}
	}

	if !status.SchedulerRunning {
		if !a.downRaised {
			a.downRaised = true
			a.raiseLocked(AlertEvent{
				Type:    AlertSchedulerDown,
				Message: "scheduler loop is not running",
				At:      now,
			})
		}
	} else {
		a.downRaised = false
	}
	a.mu.Unlock()
}

// Recent returns the most recent alerts, newest last
func (a *AlertManager) Recent() []AlertEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AlertEvent(nil), a.recent...)
}

func (a *AlertManager) raiseLocked(ev AlertEvent) {
	a.recent = append(a.recent, ev)
	if len(a.recent) > maxRecentAlerts {
		a.recent = a.recent[len(a.recent)-maxRecentAlerts:]
	}
	a.log.Warnw("alert_raised",
		"alert_type", string(ev.Type),
		"job_id", ev.JobID,
		"message", ev.Message)

	if a.notifier == nil || a.cfg.NotifyTarget == "" {
		return
	}
	if !a.limiter.Allow() {
		a.log.Debugw("alert_notification_rate_limited", "alert_type", string(ev.Type))
		return
	}
	target := a.cfg.NotifyTarget
	msg := fmt.Sprintf("[%s] %s", ev.Type, ev.Message)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.notifier.Send(ctx, target, msg); err != nil {
			a.log.Warnw("alert_notification_failed",
				"alert_type", string(ev.Type),
				"error", err)
		}
	}()
}
