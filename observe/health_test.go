package observe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckerRunningFlag(t *testing.T) {
	h := NewHealthChecker(time.Minute)

	status := h.Check(time.Now())
	assert.False(t, status.Healthy)
	assert.False(t, status.SchedulerRunning)

	h.SetRunning(true)
	status = h.Check(time.Now())
	assert.True(t, status.Healthy)
	assert.True(t, status.SchedulerRunning)
}

func TestHealthCheckerStuckJob(t *testing.T) {
	h := NewHealthChecker(time.Minute)
	h.SetRunning(true)

	h.JobStarted("job_slow")
	h.JobStarted("job_fast")
	h.JobFinished("job_fast")

	// within threshold, still healthy
	status := h.Check(time.Now())
	assert.True(t, status.Healthy)
	assert.Equal(t, 1, status.InFlight)
	assert.Empty(t, status.StuckJobs)

	// past threshold the remaining job is stuck
	status = h.Check(time.Now().Add(2 * time.Minute))
	assert.False(t, status.Healthy)
	require.Len(t, status.StuckJobs, 1)
	assert.Equal(t, "job_slow", status.StuckJobs[0].JobID)
	assert.Greater(t, status.StuckJobs[0].RunningFor, time.Minute)

	h.JobFinished("job_slow")
	status = h.Check(time.Now().Add(2 * time.Minute))
	assert.True(t, status.Healthy)
	assert.Zero(t, status.InFlight)
}
