package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/attuneai/chime/errors"
	"github.com/attuneai/chime/exec"
)

// stubCompiler compiles job bodies into canned handlers keyed on the body
// text, standing in for the script compiler.
type stubCompiler struct {
	runs atomic.Int64
}

func (c *stubCompiler) Compile(job *Job) (exec.Handler, error) {
	switch job.Body {
	case "boom":
		return nil, errors.Wrap(errors.ErrCompile, "unexpected token")
	case "fail":
		return exec.HandlerFunc(func(ctx context.Context, out *exec.Capture) error {
			c.runs.Add(1)
			return errors.New("handler failed")
		}), nil
	case "slow":
		return exec.HandlerFunc(func(ctx context.Context, out *exec.Capture) error {
			c.runs.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(300 * time.Millisecond):
				return nil
			}
		}), nil
	default:
		return exec.HandlerFunc(func(ctx context.Context, out *exec.Capture) error {
			c.runs.Add(1)
			out.Print("ran")
			return nil
		}), nil
	}
}

func newTestScheduler(t *testing.T, interval time.Duration) (*Scheduler, *stubCompiler) {
	t.Helper()

	store, err := NewStore(t.TempDir(), zap.NewNop().Sugar())
	require.NoError(t, err)

	compiler := &stubCompiler{}
	s := New(context.Background(), Deps{
		Store:    store,
		Compiler: compiler,
		Logger:   zap.NewNop().Sugar(),
	}, Config{CheckInterval: interval})
	return s, compiler
}

func TestSubmitValidation(t *testing.T) {
	s, _ := newTestScheduler(t, time.Second)

	_, err := s.Submit("", "* * * * *", "log(1)", nil, "")
	assert.True(t, errors.IsInvalidRequest(err))

	_, err = s.Submit("bad-expr", "not a cron", "log(1)", nil, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidExpression))

	_, err = s.Submit("bad-body", "* * * * *", "boom", nil, "")
	assert.True(t, errors.Is(err, errors.ErrCompile))

	// nothing was persisted
	jobs, err := s.List("")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSubmitApproveLifecycle(t *testing.T) {
	s, _ := newTestScheduler(t, time.Second)

	job, err := s.Submit("nightly-report", "0 2 * * *", "log(1)", nil, "ops")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.True(t, job.Sandboxed)

	// pending jobs are not registered with the loop
	assert.Zero(t, s.Stats().RegisteredJobs)

	approved, err := s.Approve(job.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, approved.Status)
	assert.Equal(t, 1, s.Stats().RegisteredJobs)

	// second approval is rejected, job is no longer pending
	_, err = s.Approve(job.ID, "alice")
	assert.True(t, errors.IsInvalidStatus(err))

	_, err = s.Approve("job_missing", "alice")
	assert.True(t, errors.IsNotFound(err))
}

func TestApproveCompileFailureRecorded(t *testing.T) {
	s, _ := newTestScheduler(t, time.Second)

	job, err := s.Submit("will-break", "* * * * *", "log(1)", nil, "")
	require.NoError(t, err)

	// body edited underneath us after submission
	job.Body = "boom"
	require.NoError(t, s.store.SaveJob(job))

	_, err = s.Approve(job.ID, "bob")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCompile))

	stored, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.NotEmpty(t, stored.LoadError)
}

func TestPauseResume(t *testing.T) {
	s, _ := newTestScheduler(t, time.Second)

	job, err := s.Submit("sync", "*/5 * * * *", "log(1)", nil, "")
	require.NoError(t, err)

	// only active jobs can be paused
	_, err = s.Pause(job.ID)
	assert.True(t, errors.IsInvalidStatus(err))

	_, err = s.Approve(job.ID, "alice")
	require.NoError(t, err)

	paused, err := s.Pause(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)

	// paused jobs stay registered
	assert.Equal(t, 1, s.Stats().RegisteredJobs)

	_, err = s.Pause(job.ID)
	assert.True(t, errors.IsInvalidStatus(err))

	resumed, err := s.Resume(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, resumed.Status)

	_, err = s.Resume(job.ID)
	assert.True(t, errors.IsInvalidStatus(err))
}

type recordingPurger struct {
	purged []string
}

func (p *recordingPurger) DeleteJob(jobID string) error {
	p.purged = append(p.purged, jobID)
	return nil
}

func TestDeleteUnregistersJob(t *testing.T) {
	s, _ := newTestScheduler(t, time.Second)
	purger := &recordingPurger{}
	s.purger = purger

	job, err := s.Submit("doomed", "* * * * *", "log(1)", nil, "")
	require.NoError(t, err)
	_, err = s.Approve(job.ID, "alice")
	require.NoError(t, err)

	require.NoError(t, s.Delete(job.ID))
	assert.Zero(t, s.Stats().RegisteredJobs)
	assert.Equal(t, []string{job.ID}, purger.purged)

	_, err = s.Get(job.ID)
	assert.True(t, errors.IsNotFound(err))

	assert.True(t, errors.IsNotFound(s.Delete(job.ID)))
}

func TestDueJobRunsAndRecords(t *testing.T) {
	s, compiler := newTestScheduler(t, 20*time.Millisecond)

	job, err := s.Submit("every-minute", "* * * * *", "log(1)", nil, "")
	require.NoError(t, err)
	_, err = s.Approve(job.ID, "alice")
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return compiler.runs.Load() >= 1
	}, 3*time.Second, 10*time.Millisecond, "job never triggered")

	require.Eventually(t, func() bool {
		recs, err := s.History(job.ID, 10)
		return err == nil && len(recs) >= 1
	}, 3*time.Second, 10*time.Millisecond)

	recs, err := s.History(job.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, recs[0].Outcome)
	assert.Equal(t, []string{"ran"}, recs[0].Output)

	stored, err := s.Get(job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastRunAt, "last run time not persisted")

	assert.GreaterOrEqual(t, s.metrics.Executions.Value(), int64(1))
	assert.Positive(t, s.Stats().TicksSinceStart)
}

func TestPausedJobNotTriggered(t *testing.T) {
	s, compiler := newTestScheduler(t, 20*time.Millisecond)

	job, err := s.Submit("quiet", "* * * * *", "log(1)", nil, "")
	require.NoError(t, err)
	_, err = s.Approve(job.ID, "alice")
	require.NoError(t, err)
	_, err = s.Pause(job.ID)
	require.NoError(t, err)

	s.Start()
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	assert.Zero(t, compiler.runs.Load())
}

func TestFailureOutcomeRecorded(t *testing.T) {
	s, _ := newTestScheduler(t, 20*time.Millisecond)

	job, err := s.Submit("flaky", "* * * * *", "fail", nil, "")
	require.NoError(t, err)
	_, err = s.Approve(job.ID, "alice")
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		recs, err := s.History(job.ID, 10)
		return err == nil && len(recs) >= 1
	}, 3*time.Second, 10*time.Millisecond)

	recs, err := s.History(job.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, recs[0].Outcome)
	assert.Contains(t, recs[0].Error, "handler failed")
	assert.GreaterOrEqual(t, s.metrics.Failures.Value(), int64(1))
}

func TestOverlappingTriggerSkipped(t *testing.T) {
	s, compiler := newTestScheduler(t, time.Hour)

	job, err := s.Submit("long-runner", "* * * * *", "slow", nil, "")
	require.NoError(t, err)
	_, err = s.Approve(job.ID, "alice")
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	s.mu.Lock()
	r := s.runnables[job.ID]
	s.mu.Unlock()
	require.NotNil(t, r)

	var wg sync.WaitGroup
	wg.Add(1)
	first := false
	go func() {
		defer wg.Done()
		first = s.triggerJob(r, time.Now())
	}()

	// let the first trigger take the run lock, then race a second one
	require.Eventually(t, func() bool {
		return compiler.runs.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.False(t, s.triggerJob(r, time.Now()), "overlapping trigger should be skipped")

	wg.Wait()
	assert.True(t, first)
	assert.Equal(t, int64(1), compiler.runs.Load())

	// only the completed run is in history, the skip left no record
	recs, err := s.History(job.ID, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestMissedScheduleCatchesUp(t *testing.T) {
	s, _ := newTestScheduler(t, time.Hour)

	job, err := s.Submit("hourly", "0 * * * *", "log(1)", nil, "")
	require.NoError(t, err)
	_, err = s.Approve(job.ID, "alice")
	require.NoError(t, err)

	// pretend the process was down across several top-of-hour slots
	s.mu.Lock()
	past := time.Now().Add(-3 * time.Hour)
	s.runnables[job.ID].job.LastRunAt = &past
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.checkDueJobs(time.Now())
	s.runWG.Wait()

	// exactly one catch-up run, missed slots are not replayed individually
	recs, err := s.History(job.ID, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, OutcomeSuccess, recs[0].Outcome)
}

func TestLoadFromStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, zap.NewNop().Sugar())
	require.NoError(t, err)

	jobs := []*Job{
		{ID: NewJobID(), Name: "active-ok", Expr: "* * * * *", Body: "log(1)", Status: StatusActive},
		{ID: NewJobID(), Name: "active-broken", Expr: "* * * * *", Body: "boom", Status: StatusActive},
		{ID: NewJobID(), Name: "paused", Expr: "* * * * *", Body: "log(1)", Status: StatusPaused},
		{ID: NewJobID(), Name: "pending", Expr: "* * * * *", Body: "log(1)", Status: StatusPending},
	}
	for _, j := range jobs {
		require.NoError(t, store.SaveJob(j))
	}

	s := New(context.Background(), Deps{
		Store:    store,
		Compiler: &stubCompiler{},
		Logger:   zap.NewNop().Sugar(),
	}, DefaultConfig())
	require.NoError(t, s.LoadFromStore())

	// active and paused register, pending and broken do not
	assert.Equal(t, 2, s.Stats().RegisteredJobs)

	broken, err := s.Get(jobs[1].ID)
	require.NoError(t, err)
	assert.NotEmpty(t, broken.LoadError)

	ok, err := s.Get(jobs[0].ID)
	require.NoError(t, err)
	assert.Empty(t, ok.LoadError)
}

func TestStartStopIdempotent(t *testing.T) {
	s, _ := newTestScheduler(t, 20*time.Millisecond)

	s.Start()
	s.Start()
	assert.True(t, s.Stats().Running)

	s.Stop()
	s.Stop()
	assert.False(t, s.Stats().Running)

	// restart works
	s.Start()
	assert.True(t, s.Stats().Running)
	s.Stop()
}
