package schedule

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/attuneai/chime/cronexpr"
	"github.com/attuneai/chime/errors"
	"github.com/attuneai/chime/exec"
	"github.com/attuneai/chime/observe"
)

// BodyCompiler turns a stored job body into a runnable handler. Compilation
// happens at submission (as a probe), at approval, and when jobs are loaded
// at startup; a definition error surfaces as errors.ErrCompile.
type BodyCompiler interface {
	Compile(job *Job) (exec.Handler, error)
}

// Purger removes auxiliary per-job data (the script kv namespace) when a
// job is deleted.
type Purger interface {
	DeleteJob(jobID string) error
}

// runnable is a registered job plus its compiled handler. runMu serializes
// executions of one job: a tick that finds the lock held skips the trigger
// rather than queueing it. All other fields are guarded by the scheduler's
// registry mutex.
type runnable struct {
	job     Job
	handler exec.Handler
	runMu   sync.Mutex
}

// Config contains scheduler loop settings
type Config struct {
	CheckInterval time.Duration // how often registered jobs are checked for due schedules
}

// DefaultConfig returns the standard loop settings. Schedules have minute
// granularity so a 30 second check interval never misses a slot.
func DefaultConfig() Config {
	return Config{
		CheckInterval: 30 * time.Second,
	}
}

// Deps are the scheduler's collaborators. Store and Compiler are required;
// nil observability fields are replaced with working defaults and a nil
// Alerts disables alerting.
type Deps struct {
	Store    *Store
	Compiler BodyCompiler
	Executor *exec.Executor
	Metrics  *observe.Metrics
	Events   *observe.EventLog
	Health   *observe.HealthChecker
	Alerts   *observe.AlertManager
	Purger   Purger
	Logger   *zap.SugaredLogger
}

// Scheduler owns the job registry and the monitor loop that triggers due
// jobs. Pending jobs exist only in the store; approval compiles the body
// and registers the job here.
type Scheduler struct {
	store    *Store
	compiler BodyCompiler
	executor *exec.Executor
	metrics  *observe.Metrics
	events   *observe.EventLog
	health   *observe.HealthChecker
	alerts   *observe.AlertManager
	purger   Purger
	cfg      Config
	log      *zap.SugaredLogger

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	runWG     sync.WaitGroup

	mu              sync.Mutex
	runnables       map[string]*runnable
	running         bool
	lastTickAt      time.Time
	ticksSinceStart int64
}

// New creates a scheduler. The parent context bounds the loop's lifetime;
// Stop also terminates it.
func New(ctx context.Context, deps Deps, cfg Config) *Scheduler {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	if deps.Executor == nil {
		deps.Executor = exec.New(deps.Logger)
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.NewMetrics()
	}
	if deps.Events == nil {
		deps.Events = observe.NewEventLogWith(zap.NewNop().Sugar())
	}
	if deps.Health == nil {
		deps.Health = observe.NewHealthChecker(0)
	}

	return &Scheduler{
		store:     deps.Store,
		compiler:  deps.Compiler,
		executor:  deps.Executor,
		metrics:   deps.Metrics,
		events:    deps.Events,
		health:    deps.Health,
		alerts:    deps.Alerts,
		purger:    deps.Purger,
		cfg:       cfg,
		log:       deps.Logger,
		parentCtx: ctx,
		runnables: make(map[string]*runnable),
	}
}

// LoadFromStore registers every stored active and paused job. A body that
// no longer compiles does not abort the load: the failure is recorded on
// the job and it is skipped.
func (s *Scheduler) LoadFromStore() error {
	jobs, err := s.store.LoadJobs()
	if err != nil {
		return errors.Wrap(err, "failed to load jobs")
	}

	loaded, failed := 0, 0
	for _, job := range jobs {
		if job.Status != StatusActive && job.Status != StatusPaused {
			continue
		}
		handler, err := s.compiler.Compile(job)
		if err != nil {
			failed++
			job.LoadError = err.Error()
			if saveErr := s.store.SaveJob(job); saveErr != nil {
				s.log.Errorw("Failed to persist job load error",
					"job_id", job.ID,
					"error", saveErr)
			}
			s.log.Errorw("Job body no longer compiles, skipping registration",
				"job_id", job.ID,
				"job_name", job.Name,
				"error", err)
			continue
		}
		if job.LoadError != "" {
			job.LoadError = ""
			if saveErr := s.store.SaveJob(job); saveErr != nil {
				s.log.Errorw("Failed to clear job load error",
					"job_id", job.ID,
					"error", saveErr)
			}
		}
		s.register(job, handler)
		loaded++
	}

	s.log.Infow("Jobs loaded from store",
		"registered", loaded,
		"compile_failures", failed)
	return nil
}

// Submit validates and persists a new job in pending status. The cron
// expression must parse and the body must compile; neither failure leaves
// a stored job behind. Pending jobs are never triggered.
func (s *Scheduler) Submit(name, expr, body string, limits *ResourceLimits, notifyTarget string) (*Job, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewInvalidRequestf("job name is required")
	}
	if body == "" {
		return nil, errors.NewInvalidRequestf("job body is required")
	}
	if !cronexpr.Validate(expr) {
		return nil, errors.Wrapf(errors.ErrInvalidExpression, "expression %q", expr)
	}

	job := &Job{
		ID:           NewJobID(),
		Name:         name,
		Expr:         expr,
		Body:         body,
		Status:       StatusPending,
		NotifyTarget: notifyTarget,
		Sandboxed:    true,
	}
	if limits != nil {
		job.Limits = *limits
		job.Limits.applyDefaults()
	} else {
		job.Limits = DefaultResourceLimits()
	}

	// compile probe: reject definition errors at the door
	if _, err := s.compiler.Compile(job); err != nil {
		return nil, err
	}

	if err := s.store.SaveJob(job); err != nil {
		return nil, errors.Wrap(err, "failed to persist job")
	}

	s.log.Infow("Job submitted",
		"job_id", job.ID,
		"job_name", job.Name,
		"expr", job.Expr)
	s.events.SchedulerEvent("job_submitted", "job_id", job.ID, "job_name", job.Name)
	return job, nil
}

// Approve transitions a pending job to active, compiles its body and
// registers it with the monitor loop. Only pending jobs can be approved.
func (s *Scheduler) Approve(id, approver string) (*Job, error) {
	job, err := s.store.GetJob(id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusPending {
		return nil, errors.Wrapf(errors.ErrInvalidStatus, "cannot approve job in status %q", job.Status)
	}

	handler, err := s.compiler.Compile(job)
	if err != nil {
		job.LoadError = err.Error()
		if saveErr := s.store.SaveJob(job); saveErr != nil {
			s.log.Errorw("Failed to persist compile error", "job_id", job.ID, "error", saveErr)
		}
		return nil, err
	}

	job.Status = StatusActive
	job.LoadError = ""
	if err := s.store.SaveJob(job); err != nil {
		return nil, errors.Wrap(err, "failed to persist approval")
	}
	s.register(job, handler)

	s.log.Infow("Job approved",
		"job_id", job.ID,
		"job_name", job.Name,
		"approved_by", approver)
	s.events.SchedulerEvent("job_approved", "job_id", job.ID, "approved_by", approver)
	return job, nil
}

// Pause stops triggering an active job. The job stays registered so its
// state survives until resume.
func (s *Scheduler) Pause(id string) (*Job, error) {
	return s.setStatus(id, StatusActive, StatusPaused, "job_paused")
}

// Resume reactivates a paused job
func (s *Scheduler) Resume(id string) (*Job, error) {
	return s.setStatus(id, StatusPaused, StatusActive, "job_resumed")
}

func (s *Scheduler) setStatus(id, from, to, event string) (*Job, error) {
	job, err := s.store.GetJob(id)
	if err != nil {
		return nil, err
	}
	if job.Status != from {
		return nil, errors.Wrapf(errors.ErrInvalidStatus, "cannot move job from status %q to %q", job.Status, to)
	}

	job.Status = to
	if err := s.store.SaveJob(job); err != nil {
		return nil, errors.Wrapf(err, "failed to persist status %q", to)
	}

	s.mu.Lock()
	if r, ok := s.runnables[id]; ok {
		r.job.Status = to
		r.job.UpdatedAt = job.UpdatedAt
	}
	s.mu.Unlock()

	s.log.Infow("Job status changed", "job_id", id, "status", to)
	s.events.SchedulerEvent(event, "job_id", id)
	return job, nil
}

// Delete removes a job and unregisters it. An execution already in flight
// finishes; its record is still written. History is retained.
func (s *Scheduler) Delete(id string) error {
	if err := s.store.DeleteJob(id); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.runnables, id)
	s.mu.Unlock()

	if s.purger != nil {
		if err := s.purger.DeleteJob(id); err != nil {
			s.log.Warnw("Failed to purge job data", "job_id", id, "error", err)
		}
	}

	s.log.Infow("Job deleted", "job_id", id)
	s.events.SchedulerEvent("job_deleted", "job_id", id)
	return nil
}

// Get returns a stored job by id
func (s *Scheduler) Get(id string) (*Job, error) {
	return s.store.GetJob(id)
}

// List returns stored jobs, optionally filtered by status
func (s *Scheduler) List(status string) ([]*Job, error) {
	jobs, err := s.store.LoadJobs()
	if err != nil {
		return nil, err
	}
	if status == "" {
		return jobs, nil
	}
	filtered := make([]*Job, 0, len(jobs))
	for _, job := range jobs {
		if job.Status == status {
			filtered = append(filtered, job)
		}
	}
	return filtered, nil
}

// History returns a job's execution records, newest first
func (s *Scheduler) History(id string, limit int) ([]*ExecutionRecord, error) {
	if _, err := s.store.GetJob(id); err != nil {
		return nil, err
	}
	return s.store.JobHistory(id, limit)
}

// Start begins the monitor loop. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(s.parentCtx)
	s.mu.Unlock()

	s.health.SetRunning(true)
	s.wg.Add(1)
	go s.run()

	s.log.Infow("Scheduler started", "check_interval", s.cfg.CheckInterval)
	s.events.SchedulerEvent("scheduler_started", "check_interval", s.cfg.CheckInterval.String())
}

// Stop halts the loop and waits for in-flight executions to finish.
// Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.runWG.Wait()
	s.health.SetRunning(false)

	s.log.Infow("Scheduler stopped")
	s.events.SchedulerEvent("scheduler_stopped")
}

// Stats describes the loop's current state
type Stats struct {
	Running         bool      `json:"running"`
	RegisteredJobs  int       `json:"registered_jobs"`
	TicksSinceStart int64     `json:"ticks_since_start"`
	LastTickAt      time.Time `json:"last_tick_at"`
}

// Stats returns a snapshot of loop state
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Running:         s.running,
		RegisteredJobs:  len(s.runnables),
		TicksSinceStart: s.ticksSinceStart,
		LastTickAt:      s.lastTickAt,
	}
}

func (s *Scheduler) register(job *Job, handler exec.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runnables[job.ID] = &runnable{job: *job, handler: handler}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case tickTime := <-ticker.C:
			s.mu.Lock()
			s.lastTickAt = tickTime
			s.ticksSinceStart++
			s.mu.Unlock()

			s.checkDueJobs(tickTime)
			if s.alerts != nil {
				s.alerts.Sweep(tickTime)
			}
		}
	}
}

// checkDueJobs triggers every registered active job whose schedule is due.
// Each trigger runs on its own goroutine so one long job never delays the
// others.
func (s *Scheduler) checkDueJobs(now time.Time) {
	s.mu.Lock()
	due := make([]*runnable, 0)
	for _, r := range s.runnables {
		if r.job.Status != StatusActive {
			continue
		}
		var lastRun time.Time
		if r.job.LastRunAt != nil {
			lastRun = *r.job.LastRunAt
		}
		isDue, err := cronexpr.IsDue(r.job.Expr, lastRun, now)
		if err != nil {
			s.log.Errorw("Stored expression failed to parse",
				"job_id", r.job.ID,
				"expr", r.job.Expr,
				"error", err)
			continue
		}
		if isDue {
			due = append(due, r)
		}
	}
	s.mu.Unlock()

	for _, r := range due {
		s.runWG.Add(1)
		go func(r *runnable) {
			defer s.runWG.Done()
			s.triggerJob(r, now)
		}(r)
	}
}

// triggerJob runs one due job. Returns false when the trigger was skipped
// because a previous execution still holds the job's run lock.
func (s *Scheduler) triggerJob(r *runnable, triggeredAt time.Time) bool {
	if !r.runMu.TryLock() {
		s.mu.Lock()
		jobID, jobName := r.job.ID, r.job.Name
		s.mu.Unlock()
		s.log.Warnw("Skipping trigger, previous execution still running",
			"job_id", jobID,
			"job_name", jobName)
		s.events.JobSkipped(jobID, jobName)
		return false
	}
	defer r.runMu.Unlock()

	// a panic here would take down the process, not just this trigger
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Errorw("Panic while triggering job",
				"panic", rec,
				"stack", string(debug.Stack()))
		}
	}()

	s.mu.Lock()
	job := r.job
	s.mu.Unlock()

	execID := NewExecutionID()
	s.health.JobStarted(job.ID)
	s.metrics.InFlight.Set(job.ID, 1)
	s.events.JobStarted(job.ID, job.Name, execID)
	s.log.Infow("Job triggered",
		"job_id", job.ID,
		"job_name", job.Name,
		"execution_id", execID)

	result := s.executor.Execute(s.ctx, r.handler, exec.Limits{
		Timeout:        job.Limits.Timeout(),
		MemoryMB:       job.Limits.MemoryMB,
		MaxOutputLines: job.Limits.MaxOutputLines,
	})

	s.metrics.InFlight.Remove(job.ID)
	s.health.JobFinished(job.ID)

	s.mu.Lock()
	r.job.LastRunAt = &triggeredAt
	s.mu.Unlock()

	rec := &ExecutionRecord{
		ID:              execID,
		JobID:           job.ID,
		StartedAt:       result.StartedAt,
		CompletedAt:     result.CompletedAt,
		Outcome:         string(result.Outcome),
		DurationMs:      result.DurationMs,
		Error:           result.Error,
		Output:          result.Output,
		MemoryDeltaMB:   result.MemoryDeltaMB,
		OutputTruncated: result.OutputTruncated,
	}
	if err := s.store.RecordExecution(rec); err != nil {
		s.log.Errorw("Failed to record execution",
			"job_id", job.ID,
			"execution_id", execID,
			"error", err)
	}
	if err := s.persistLastRun(job.ID, triggeredAt); err != nil {
		s.log.Errorw("Failed to persist last run time",
			"job_id", job.ID,
			"error", err)
	}

	s.metrics.Executions.Inc()
	if result.Outcome != exec.OutcomeSuccess {
		s.metrics.Failures.Inc()
	}
	s.metrics.Duration.Observe(float64(result.DurationMs))
	s.events.JobEnded(job.ID, job.Name, execID, string(result.Outcome), result.DurationMs, result.Error)
	if s.alerts != nil {
		s.alerts.RecordExecution(job.ID, job.Name, string(result.Outcome), result.CompletedAt.Sub(result.StartedAt))
	}

	s.log.Infow("Job finished",
		"job_id", job.ID,
		"execution_id", execID,
		"outcome", string(result.Outcome),
		"duration_ms", result.DurationMs)
	return true
}

// persistLastRun refreshes the stored last-run timestamp without
// clobbering status changes made while the job was running.
func (s *Scheduler) persistLastRun(jobID string, at time.Time) error {
	job, err := s.store.GetJob(jobID)
	if err != nil {
		if errors.IsNotFound(err) {
			// deleted mid-run, nothing to update
			return nil
		}
		return err
	}
	job.LastRunAt = &at
	return s.store.SaveJob(job)
}
