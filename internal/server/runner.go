package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/autoposter/internal/logging"
	"github.com/mohammad-safakhou/autoposter/internal/store"
	"github.com/mohammad-safakhou/autoposter/internal/workflow"
)

// ErrBusy is returned when a run is already in progress. Runs are never queued.
var ErrBusy = errors.New("workflow already running")

// Workflow executes a single run.
type Workflow interface {
	Run(ctx context.Context, req workflow.RunRequest) (*workflow.Result, error)
}

// RunStore records run lifecycle rows.
type RunStore interface {
	CreateRun(ctx context.Context, id, trigger, topic string) error
	FinishRun(ctx context.Context, id string, out store.RunOutcome) error
}

// Runner enforces that at most one run is in flight. The in-process flag
// guards this replica; the optional Redis lock guards the deployment.
type Runner struct {
	wf     Workflow
	runs   RunStore
	lock   *RedisLock
	logger logging.Logger

	running atomic.Bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewRunner builds a Runner. runs and lock may be nil.
func NewRunner(wf Workflow, runs RunStore, lock *RedisLock, logger logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{wf: wf, runs: runs, lock: lock, logger: logger, ctx: ctx, cancel: cancel}
}

// Running reports whether this replica is executing a run.
func (r *Runner) Running() bool { return r.running.Load() }

func (r *Runner) acquire(ctx context.Context) (func(), error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	if r.lock == nil {
		return func() { r.running.Store(false) }, nil
	}
	token, ok, err := r.lock.Acquire(ctx)
	if err != nil {
		r.running.Store(false)
		return nil, err
	}
	if !ok {
		r.running.Store(false)
		return nil, ErrBusy
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.lock.Release(ctx, token); err != nil {
			r.logger.WithError(err).Warn("release run lock")
		}
		r.running.Store(false)
	}, nil
}

// TryStart launches a run in the background and returns its id, or ErrBusy.
func (r *Runner) TryStart(trigger, topic string) (string, error) {
	release, err := r.acquire(r.ctx)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer release()
		_, _ = r.execute(r.ctx, id, trigger, topic)
	}()
	return id, nil
}

// Run executes a run synchronously under the same guard as TryStart.
func (r *Runner) Run(ctx context.Context, trigger, topic string) (*workflow.Result, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return r.execute(ctx, uuid.NewString(), trigger, topic)
}

func (r *Runner) execute(ctx context.Context, id, trigger, topic string) (*workflow.Result, error) {
	log := r.logger.WithFields(logging.Fields{"run_id": id, "trigger": trigger})
	if r.runs != nil {
		if err := r.runs.CreateRun(ctx, id, trigger, topic); err != nil {
			log.WithError(err).Warn("record run start")
		}
	}

	res, err := r.wf.Run(ctx, workflow.RunRequest{RunID: id, Topic: topic, Trigger: trigger})
	out := outcome(res, err)
	if err != nil {
		log.WithError(err).WithField("stage", out.FailedStage).Error("workflow run failed")
	}

	if r.runs != nil {
		// The run row must be closed even when ctx was cancelled mid-run.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if ferr := r.runs.FinishRun(fctx, id, out); ferr != nil {
			log.WithError(ferr).Warn("record run finish")
		}
	}
	return res, err
}

func outcome(res *workflow.Result, err error) store.RunOutcome {
	out := store.RunOutcome{Status: store.RunStatusSucceeded}
	if res != nil {
		out.Topic = res.Topic
		out.PostURN = res.PostURN
		out.Trace = res.Trace
	}
	if err != nil {
		out.Status = store.RunStatusFailed
		out.Error = err.Error()
		var se *workflow.StageError
		if errors.As(err, &se) {
			out.FailedStage = se.Stage
		}
	}
	return out
}

// Shutdown cancels in-flight runs and waits for them until ctx expires.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
