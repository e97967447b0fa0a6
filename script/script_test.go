package script

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/attuneai/chime/errors"
	"github.com/attuneai/chime/exec"
	"github.com/attuneai/chime/kvstore"
	"github.com/attuneai/chime/notify"
	"github.com/attuneai/chime/schedule"
)

// recordingNotifier captures sent messages for assertions
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	targets  []string
	fail     bool
}

func (r *recordingNotifier) Send(_ context.Context, target, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("sink is down")
	}
	r.targets = append(r.targets, target)
	r.messages = append(r.messages, message)
	return nil
}

func testJob(body string) *schedule.Job {
	return &schedule.Job{
		ID:           "job_script_test",
		Name:         "script test",
		Body:         body,
		NotifyTarget: "ops",
		Limits:       schedule.DefaultResourceLimits(),
	}
}

func runBody(t *testing.T, c *Compiler, job *schedule.Job) *exec.Capture {
	t.Helper()
	handler, err := c.Compile(job)
	require.NoError(t, err)

	out := exec.NewCapture(job.Limits.MaxOutputLines)
	require.NoError(t, handler.Run(context.Background(), out))
	return out
}

func TestCompileSyntaxError(t *testing.T) {
	c := NewCompiler(notify.Nop{}, nil, zap.NewNop().Sugar())

	_, err := c.Compile(testJob(`if { this is not tengo`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCompile))
}

func TestLogCapturesOutput(t *testing.T) {
	c := NewCompiler(notify.Nop{}, nil, zap.NewNop().Sugar())

	out := runBody(t, c, testJob(`
		log("starting")
		for i := 0; i < 3; i++ {
			log("step", i)
		}
	`))

	assert.Equal(t, []string{"starting", "step 0", "step 1", "step 2"}, out.Lines())
}

func TestNotifyReachesSink(t *testing.T) {
	sink := &recordingNotifier{}
	c := NewCompiler(sink, nil, zap.NewNop().Sugar())

	runBody(t, c, testJob(`notify("report ready")`))

	require.Len(t, sink.messages, 1)
	assert.Equal(t, "report ready", sink.messages[0])
	assert.Equal(t, "ops", sink.targets[0])
}

func TestNotifyFailureDoesNotFailJob(t *testing.T) {
	sink := &recordingNotifier{fail: true}
	c := NewCompiler(sink, nil, zap.NewNop().Sugar())

	handler, err := c.Compile(testJob(`notify("into the void"); log("still here")`))
	require.NoError(t, err)

	out := exec.NewCapture(10)
	assert.NoError(t, handler.Run(context.Background(), out))
	assert.Equal(t, []string{"still here"}, out.Lines())
}

func TestKVRoundTripThroughScript(t *testing.T) {
	kv, err := kvstore.Open(filepath.Join(t.TempDir(), "kv.db"), kvstore.Options{})
	require.NoError(t, err)
	defer kv.Close()

	c := NewCompiler(notify.Nop{}, kv, zap.NewNop().Sugar())

	// First run: no cursor yet
	out := runBody(t, c, testJob(`
		cursor := kv_get("cursor")
		if cursor == undefined {
			log("first run")
		} else {
			log("resuming from", cursor)
		}
		kv_set("cursor", "2025-03-14")
	`))
	assert.Equal(t, []string{"first run"}, out.Lines())

	// Second run sees the stored cursor
	out = runBody(t, c, testJob(`
		log("resuming from", kv_get("cursor"))
		kv_delete("cursor")
	`))
	assert.Equal(t, []string{"resuming from 2025-03-14"}, out.Lines())

	// Deleted
	_, found, err := kv.Get("job_script_test", "cursor")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFetchAbsentWithoutNetwork(t *testing.T) {
	c := NewCompiler(notify.Nop{}, nil, zap.NewNop().Sugar())

	job := testJob(`r := fetch("https://example.com"); log(r.status)`)
	job.Limits.AllowNetwork = false

	_, err := c.Compile(job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCompile))
}

func TestFetchCompilesWithNetwork(t *testing.T) {
	c := NewCompiler(notify.Nop{}, nil, zap.NewNop().Sugar())

	job := testJob(`r := fetch("https://example.com"); log(r.status)`)
	job.Limits.AllowNetwork = true

	// Compiles; not executed (no network in tests)
	_, err := c.Compile(job)
	assert.NoError(t, err)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	c := NewCompiler(notify.Nop{}, nil, zap.NewNop().Sugar())

	handler, err := c.Compile(testJob(`
		for i := 0; ; i++ {
			x := i * i
		}
	`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- handler.Run(ctx, exec.NewCapture(10)) }()

	select {
	case err := <-done:
		assert.Error(t, err, "infinite loop must be aborted by context")
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not stop after context cancellation")
	}
}

func TestRunsAreIndependent(t *testing.T) {
	c := NewCompiler(notify.Nop{}, nil, zap.NewNop().Sugar())

	handler, err := c.Compile(testJob(`log("tick")`))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		out := exec.NewCapture(10)
		require.NoError(t, handler.Run(context.Background(), out))
		// Each run gets a fresh capture; no accumulation across runs
		assert.Equal(t, []string{"tick"}, out.Lines())
	}
}
