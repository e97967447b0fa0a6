// Package script compiles stored job bodies into runnable handlers.
//
// Bodies are tengo source executed in a restricted environment: no module
// imports, no filesystem, and an explicit allow-list of host functions:
//
//	log(values...)        append a line to the captured output
//	notify(message)       fire-and-forget notification to the job's target
//	kv_get(key)           bounded per-job key-value read (undefined if absent)
//	kv_set(key, value)    bounded per-job key-value write
//	kv_delete(key)        remove a key
//	fetch(url)            HTTP GET, only present when the job allows network
//
// A body referencing fetch without network access fails at compile time,
// which surfaces as a definition error at submission or approval.
package script

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/d5/tengo/v2"
	"go.uber.org/zap"

	"github.com/attuneai/chime/errors"
	"github.com/attuneai/chime/exec"
	"github.com/attuneai/chime/notify"
	"github.com/attuneai/chime/schedule"
)

const (
	// VM allocation budget per run; generous for scripts, small for abuse
	maxAllocs = 1 << 20

	// fetch responses are read up to this many bytes
	maxFetchBytes = 1 << 20
)

// KV is the bounded key-value storage surface exposed to job bodies
type KV interface {
	Get(jobID, key string) (value string, found bool, err error)
	Set(jobID, key, value string) error
	Delete(jobID, key string) error
}

// Compiler turns job body source into exec handlers. It implements the
// scheduler's BodyCompiler seam.
type Compiler struct {
	notifier notify.Notifier
	kv       KV
	client   *http.Client
	log      *zap.SugaredLogger
}

// NewCompiler creates a compiler. notifier and kv back the notify and
// kv_* host functions; both may be nil, in which case those functions
// become no-ops (notify) or report absence (kv_get).
func NewCompiler(notifier notify.Notifier, kv KV, log *zap.SugaredLogger) *Compiler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Compiler{
		notifier: notifier,
		kv:       kv,
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      log,
	}
}

// Compile validates the body and returns a handler that runs it.
// Syntax errors and unresolved references (including fetch without
// network access) are reported here, wrapped as ErrCompile.
func (c *Compiler) Compile(job *schedule.Job) (exec.Handler, error) {
	probe := c.build(context.Background(), job, exec.NewCapture(1))
	if _, err := probe.Compile(); err != nil {
		return nil, errors.Wrap(errors.ErrCompile, err.Error())
	}

	// The handler re-binds host functions per run so each execution gets
	// its own context and capture buffer.
	jobCopy := *job
	return exec.HandlerFunc(func(ctx context.Context, out *exec.Capture) error {
		compiled, err := c.build(ctx, &jobCopy, out).Compile()
		if err != nil {
			return errors.Wrap(err, "job body failed to recompile")
		}
		return compiled.RunContext(ctx)
	}), nil
}

func (c *Compiler) build(ctx context.Context, job *schedule.Job, out *exec.Capture) *tengo.Script {
	s := tengo.NewScript([]byte(job.Body))
	s.SetImports(nil)
	s.SetMaxAllocs(maxAllocs)

	_ = s.Add("log", &tengo.UserFunction{Name: "log", Value: func(args ...tengo.Object) (tengo.Object, error) {
		if len(args) == 0 {
			return nil, tengo.ErrWrongNumArguments
		}
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = objString(a)
		}
		out.Print(strings.Join(parts, " "))
		return tengo.UndefinedValue, nil
	}})

	_ = s.Add("notify", &tengo.UserFunction{Name: "notify", Value: func(args ...tengo.Object) (tengo.Object, error) {
		if len(args) != 1 {
			return nil, tengo.ErrWrongNumArguments
		}
		message := objString(args[0])
		// Fire-and-forget: a notifier failure never fails the job
		if err := c.notifier.Send(ctx, job.NotifyTarget, message); err != nil {
			c.log.Warnw("Notification failed from job body",
				"job_id", job.ID,
				"target", job.NotifyTarget,
				"error", err)
		}
		return tengo.UndefinedValue, nil
	}})

	_ = s.Add("kv_get", &tengo.UserFunction{Name: "kv_get", Value: func(args ...tengo.Object) (tengo.Object, error) {
		if len(args) != 1 {
			return nil, tengo.ErrWrongNumArguments
		}
		if c.kv == nil {
			return tengo.UndefinedValue, nil
		}
		value, found, err := c.kv.Get(job.ID, objString(args[0]))
		if err != nil {
			return nil, err
		}
		if !found {
			return tengo.UndefinedValue, nil
		}
		return &tengo.String{Value: value}, nil
	}})

	_ = s.Add("kv_set", &tengo.UserFunction{Name: "kv_set", Value: func(args ...tengo.Object) (tengo.Object, error) {
		if len(args) != 2 {
			return nil, tengo.ErrWrongNumArguments
		}
		if c.kv == nil {
			return nil, errors.New("kv storage is not available")
		}
		if err := c.kv.Set(job.ID, objString(args[0]), objString(args[1])); err != nil {
			return nil, err
		}
		return tengo.UndefinedValue, nil
	}})

	_ = s.Add("kv_delete", &tengo.UserFunction{Name: "kv_delete", Value: func(args ...tengo.Object) (tengo.Object, error) {
		if len(args) != 1 {
			return nil, tengo.ErrWrongNumArguments
		}
		if c.kv == nil {
			return tengo.UndefinedValue, nil
		}
		if err := c.kv.Delete(job.ID, objString(args[0])); err != nil {
			return nil, err
		}
		return tengo.UndefinedValue, nil
	}})

	if job.Limits.AllowNetwork {
		_ = s.Add("fetch", &tengo.UserFunction{Name: "fetch", Value: func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) != 1 {
				return nil, tengo.ErrWrongNumArguments
			}
			return c.fetch(ctx, objString(args[0]))
		}})
	}

	return s
}

// fetch performs a bounded HTTP GET and returns {status, body} to the
// script so bodies can branch on status instead of aborting.
func (c *Compiler) fetch(ctx context.Context, url string) (tengo.Object, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", url)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", url)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s: reading body", url)
	}

	return tengo.FromInterface(map[string]interface{}{
		"status": int64(resp.StatusCode),
		"body":   string(body),
	})
}

func objString(o tengo.Object) string {
	if s, ok := tengo.ToString(o); ok {
		return s
	}
	return o.String()
}
