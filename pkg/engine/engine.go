// Package engine executes resolved command handlers under resource
// limits. Work flows through a bounded FIFO queue into a fixed worker
// pool, so the global concurrency cap holds no matter how many callers
// submit at once. The invocation deadline covers queue wait: a request
// that sits queued past its deadline is reported TIMED_OUT without ever
// executing.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yashab-cyber/lewis-core/pkg/contracts"
	"github.com/yashab-cyber/lewis-core/pkg/extension"
)

var (
	// ErrQueueFull is returned when the submission queue is at capacity.
	// Callers fail fast rather than block.
	ErrQueueFull = errors.New("engine: execution queue full")
	// ErrShutdown is returned for submissions after Shutdown.
	ErrShutdown = errors.New("engine: shut down")
	// ErrNotRunning is returned by Cancel for unknown invocation ids.
	ErrNotRunning = errors.New("engine: invocation not running")
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 64
)

type task struct {
	req      *contracts.InvocationRequest
	resolved *extension.Resolved
	limits   contracts.ExecutionLimits
	ctx      context.Context
	cancel   context.CancelCauseFunc
	done     chan *contracts.ExecutionResult

	// state settles who owns the task: 0 queued, 1 claimed by a worker,
	// 2 reclaimed by the submitter after expiring in the queue.
	state atomic.Int32
}

const (
	taskQueued int32 = iota
	taskClaimedWorker
	taskClaimedSubmitter
)

// Engine runs resolved handlers. One Engine serves the whole process.
type Engine struct {
	queue   chan *task
	logger  *slog.Logger
	wg      sync.WaitGroup
	mu      sync.Mutex
	active  map[string]context.CancelCauseFunc
	closed  bool
	screens []ArgumentScreen
}

// Option configures an Engine.
type Option func(*config)

type config struct {
	workers   int
	queueSize int
	logger    *slog.Logger
	screens   []ArgumentScreen
}

// WithWorkers sets the global concurrency limit.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithQueueSize bounds the submission queue.
func WithQueueSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithArgumentScreens replaces the default argument screening set.
func WithArgumentScreens(s []ArgumentScreen) Option {
	return func(c *config) { c.screens = s }
}

// New builds an Engine and starts its worker pool.
func New(opts ...Option) *Engine {
	cfg := config{
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
		logger:    slog.Default().With("component", "engine"),
		screens:   DefaultScreens(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	e := &Engine{
		queue:   make(chan *task, cfg.queueSize),
		logger:  cfg.logger,
		active:  make(map[string]context.CancelCauseFunc),
		screens: cfg.screens,
	}
	e.wg.Add(cfg.workers)
	for i := 0; i < cfg.workers; i++ {
		go e.worker()
	}
	return e
}

var errCancelled = errors.New("engine: cancelled by operator")

// Execute runs one resolved handler and blocks until a terminal result.
// The timeout clock starts here, before the task is queued. Execute
// never returns a non-nil error alongside a result: submission failures
// (full queue, shutdown) are errors, everything after admission is
// reported through the result status.
func (e *Engine) Execute(ctx context.Context, req *contracts.InvocationRequest, resolved *extension.Resolved, limits contracts.ExecutionLimits) (*contracts.ExecutionResult, error) {
	if resolved == nil || (resolved.Process == nil && resolved.Func == nil) {
		return nil, errors.New("engine: nothing to execute")
	}

	timeout := limits.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancelTimeout := context.WithTimeout(ctx, timeout)
	runCtx, cancel := context.WithCancelCause(runCtx)

	t := &task{
		req:      req,
		resolved: resolved,
		limits:   limits,
		ctx:      runCtx,
		cancel:   cancel,
		done:     make(chan *contracts.ExecutionResult, 1),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancelTimeout()
		return nil, ErrShutdown
	}
	select {
	case e.queue <- t:
		e.active[req.InvocationID] = cancel
		e.mu.Unlock()
	default:
		e.mu.Unlock()
		cancelTimeout()
		return nil, ErrQueueFull
	}

	// A task that expires while still queued is reclaimed here so the
	// caller never waits for a busy worker just to learn it timed out.
	var res *contracts.ExecutionResult
	select {
	case res = <-t.done:
	case <-runCtx.Done():
		if t.state.CompareAndSwap(taskQueued, taskClaimedSubmitter) {
			now := time.Now().UTC()
			res = &contracts.ExecutionResult{
				InvocationID: req.InvocationID,
				Status:       expiredStatus(runCtx),
				Error:        "expired before execution started",
				StartedAt:    now,
				FinishedAt:   now,
			}
		} else {
			res = <-t.done
		}
	}
	cancelTimeout()
	e.mu.Lock()
	delete(e.active, req.InvocationID)
	e.mu.Unlock()
	return res, nil
}

// Cancel aborts a queued or running invocation by id. Process handlers
// are terminated; in-process handlers see their context cancelled and
// are otherwise abandoned. Cancelling an invocation that already
// reached a terminal state returns ErrNotRunning.
func (e *Engine) Cancel(invocationID string) error {
	e.mu.Lock()
	cancel, ok := e.active[invocationID]
	e.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	cancel(errCancelled)
	return nil
}

// Shutdown stops admission and waits for in-flight work to finish.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for t := range e.queue {
		if !t.state.CompareAndSwap(taskQueued, taskClaimedWorker) {
			continue
		}
		t.done <- e.run(t)
	}
}

func (e *Engine) run(t *task) *contracts.ExecutionResult {
	started := time.Now().UTC()
	res := &contracts.ExecutionResult{
		InvocationID: t.req.InvocationID,
		StartedAt:    started,
	}

	// Deadline or cancellation may already have fired while queued.
	if err := t.ctx.Err(); err != nil {
		res.Status = expiredStatus(t.ctx)
		res.Error = "expired before execution started"
		res.FinishedAt = time.Now().UTC()
		return res
	}

	var (
		raw       []byte
		truncated bool
		exitCode  *int
		runErr    error
	)
	if t.resolved.Process != nil {
		raw, truncated, exitCode, runErr = e.runProcess(t)
	} else {
		raw, truncated, runErr = e.runFunc(t)
	}

	res.RawOutput = raw
	res.Truncated = truncated
	res.ExitCode = exitCode
	res.FinishedAt = time.Now().UTC()

	switch {
	case runErr == nil && (exitCode == nil || *exitCode == 0):
		res.Status = contracts.StatusSuccess
	case t.ctx.Err() != nil:
		res.Status = expiredStatus(t.ctx)
		if runErr != nil {
			res.Error = runErr.Error()
		}
	default:
		res.Status = contracts.StatusFailed
		if runErr != nil {
			res.Error = runErr.Error()
		} else {
			res.Error = fmt.Sprintf("exit code %d", *exitCode)
		}
	}

	e.logger.Info("execution finished",
		"invocation_id", t.req.InvocationID,
		"command", t.req.CommandName,
		"status", string(res.Status),
		"duration", res.Duration().String(),
		"truncated", res.Truncated)
	return res
}

// runFunc runs an in-process handler on its own goroutine so a handler
// that ignores ctx cannot wedge a worker. On timeout or cancellation
// the goroutine is abandoned; its eventual return value is discarded.
func (e *Engine) runFunc(t *task) ([]byte, bool, error) {
	type funcResult struct {
		out       []byte
		truncated bool
		err       error
	}
	ch := make(chan funcResult, 1)
	go func() {
		out, err := t.resolved.Func(t.ctx, t.req)
		capped, truncated := capBytes(out, t.limits.MaxOutputSize)
		ch <- funcResult{out: capped, truncated: truncated, err: err}
	}()

	select {
	case r := <-ch:
		return r.out, r.truncated, r.err
	case <-t.ctx.Done():
		e.logger.Warn("in-process handler abandoned",
			"invocation_id", t.req.InvocationID,
			"command", t.req.CommandName,
			"cause", context.Cause(t.ctx))
		return nil, false, context.Cause(t.ctx)
	}
}

func expiredStatus(ctx context.Context) contracts.ExecutionStatus {
	if errors.Is(context.Cause(ctx), errCancelled) {
		return contracts.StatusCancelled
	}
	return contracts.StatusTimedOut
}

func capBytes(b []byte, max int64) ([]byte, bool) {
	if max > 0 && int64(len(b)) > max {
		return b[:max], true
	}
	return b, false
}
