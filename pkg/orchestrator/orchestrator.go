// Package orchestrator is the single entry point callers use to run
// commands. Every submission walks the same pipeline: validate,
// authorize, resolve, execute, normalize, audit. Nothing reaches the
// execution engine without an allow decision, and nothing returns to
// the caller without a durable audit record or an explicit
// AUDIT_FAILURE status.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yashab-cyber/lewis-core/pkg/contracts"
	"github.com/yashab-cyber/lewis-core/pkg/engine"
	"github.com/yashab-cyber/lewis-core/pkg/extension"
	"github.com/yashab-cyber/lewis-core/pkg/normalize"
	"github.com/yashab-cyber/lewis-core/pkg/observability"
	"github.com/yashab-cyber/lewis-core/pkg/policy"
)

var (
	// ErrUnknownInvocation is returned by Poll and Cancel for ids the
	// orchestrator is not tracking.
	ErrUnknownInvocation = errors.New("orchestrator: unknown invocation")
	// ErrShutdown rejects submissions after Shutdown began.
	ErrShutdown = errors.New("orchestrator: shut down")
)

// retention is how long finished async outcomes stay pollable.
const retention = time.Hour

// Authorizer decides whether a request may run.
type Authorizer interface {
	Authorize(req *contracts.InvocationRequest) contracts.AuthorizationDecision
}

// Resolver maps an authorized command name to its handler.
type Resolver interface {
	Resolve(name string) (*extension.Resolved, error)
}

// Executor runs a resolved handler under limits.
type Executor interface {
	Execute(ctx context.Context, req *contracts.InvocationRequest, resolved *extension.Resolved, limits contracts.ExecutionLimits) (*contracts.ExecutionResult, error)
	Cancel(invocationID string) error
}

// Auditor persists one record per decision, durably, before returning.
type Auditor interface {
	Record(ctx context.Context, rec *contracts.AuditRecord) error
}

// Outcome is what a submission produces: the authorization decision,
// and the execution result when the decision allowed.
type Outcome struct {
	InvocationID string                          `json:"invocation_id"`
	Decision     contracts.AuthorizationDecision `json:"decision"`
	Result       *contracts.ExecutionResult      `json:"result,omitempty"`
}

// Status reports async progress for Poll.
type Status struct {
	InvocationID string   `json:"invocation_id"`
	Done         bool     `json:"done"`
	Outcome      *Outcome `json:"outcome,omitempty"`
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	authorizer Authorizer
	resolver   Resolver
	executor   Executor
	normalizer *normalize.Normalizer
	auditor    Auditor
	policies   *policy.Store
	telemetry  *observability.Provider
	logger     *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*job
	closed bool
	wg     sync.WaitGroup
}

type job struct {
	done       chan struct{}
	outcome    *Outcome
	finishedAt time.Time
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

// WithTelemetry attaches a telemetry provider.
func WithTelemetry(p *observability.Provider) Option {
	return func(o *Orchestrator) { o.telemetry = p }
}

// New builds an Orchestrator. The first six collaborators are required.
func New(a Authorizer, r Resolver, e Executor, n *normalize.Normalizer, aud Auditor, p *policy.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		authorizer: a,
		resolver:   r,
		executor:   e,
		normalizer: n,
		auditor:    aud,
		policies:   p,
		logger:     slog.Default().With("component", "orchestrator"),
		jobs:       make(map[string]*job),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit runs the full pipeline synchronously. The returned error
// covers structurally invalid requests only; authorization denials and
// execution failures are reported through the Outcome.
func (o *Orchestrator) Submit(ctx context.Context, req *contracts.InvocationRequest) (*Outcome, error) {
	if err := o.admit(req); err != nil {
		return nil, err
	}
	return o.run(ctx, req), nil
}

// SubmitAsync admits the request, starts the pipeline in the
// background, and returns the invocation id for Poll.
func (o *Orchestrator) SubmitAsync(ctx context.Context, req *contracts.InvocationRequest) (string, error) {
	if err := o.admit(req); err != nil {
		return "", err
	}

	j := &job{done: make(chan struct{})}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrShutdown
	}
	o.jobs[req.InvocationID] = j
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		// The submitter's ctx may die with their connection; the
		// pipeline keeps its own lifetime.
		outcome := o.run(context.WithoutCancel(ctx), req)
		o.mu.Lock()
		j.outcome = outcome
		j.finishedAt = time.Now()
		o.mu.Unlock()
		close(j.done)
	}()
	return req.InvocationID, nil
}

// Poll reports async progress. Finished outcomes stay available for a
// retention window, then age out.
func (o *Orchestrator) Poll(invocationID string) (*Status, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evictLocked()

	j, ok := o.jobs[invocationID]
	if !ok {
		return nil, ErrUnknownInvocation
	}
	st := &Status{InvocationID: invocationID}
	select {
	case <-j.done:
		st.Done = true
		st.Outcome = j.outcome
	default:
	}
	return st, nil
}

// Cancel aborts a queued or running invocation.
func (o *Orchestrator) Cancel(invocationID string) error {
	o.mu.Lock()
	_, tracked := o.jobs[invocationID]
	o.mu.Unlock()
	err := o.executor.Cancel(invocationID)
	if errors.Is(err, engine.ErrNotRunning) && !tracked {
		return ErrUnknownInvocation
	}
	return err
}

// Shutdown stops admission and waits for in-flight pipelines.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// admit validates request structure and assigns identity. It rejects
// before any pipeline stage runs; structural garbage is not auditable
// because it carries no authorizable decision.
func (o *Orchestrator) admit(req *contracts.InvocationRequest) error {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return ErrShutdown
	}
	if req == nil {
		return errors.New("orchestrator: nil request")
	}
	if err := req.Validate(false); err != nil {
		return fmt.Errorf("orchestrator: invalid request: %w", err)
	}
	if req.InvocationID == "" {
		req.InvocationID = uuid.NewString()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, req *contracts.InvocationRequest) *Outcome {
	out := &Outcome{InvocationID: req.InvocationID}
	if o.telemetry != nil {
		o.telemetry.RecordInvocation(ctx, req.CommandName)
		var finish func(status string)
		ctx, finish = o.telemetry.TrackInvocation(ctx, req.CommandName)
		defer func() { finish(outcomeStatus(out)) }()
	}
	out.Decision = o.authorizer.Authorize(req)

	if !out.Decision.Allowed {
		o.logger.Info("invocation denied",
			"invocation_id", req.InvocationID,
			"requester", req.Requester.UserID,
			"command", req.CommandName,
			"reason", string(out.Decision.Reason))
		if o.telemetry != nil {
			o.telemetry.RecordDenial(ctx, req.CommandName, string(out.Decision.Reason))
		}
		o.seal(ctx, req, out)
		return out
	}

	resolved, err := o.resolver.Resolve(req.CommandName)
	if err != nil {
		// The command vanished between authorization and resolution,
		// an unload race. Report failure, audit as usual.
		out.Result = failedResult(req.InvocationID, fmt.Sprintf("command no longer available: %v", err))
		o.seal(ctx, req, out)
		return out
	}

	out.Result = o.execute(ctx, req, resolved)
	o.normalizeResult(req, resolved, out.Result)
	o.seal(ctx, req, out)
	return out
}

func (o *Orchestrator) execute(ctx context.Context, req *contracts.InvocationRequest, resolved *extension.Resolved) *contracts.ExecutionResult {
	snap := o.policies.Snapshot()
	cp, ok := snap.Command(req.CommandName)
	if !ok {
		cp = &policy.CommandPolicy{}
	}
	timeout, maxOutput := snap.Limits(cp)

	res, err := o.executor.Execute(ctx, req, resolved, contracts.ExecutionLimits{
		Timeout:       timeout,
		MaxOutputSize: maxOutput,
	})
	if err != nil {
		return failedResult(req.InvocationID, err.Error())
	}
	return res
}

// normalizeResult attaches structured output. The raw bytes are never
// touched: a result whose output no parser understands keeps them as is
// with an empty findings list.
func (o *Orchestrator) normalizeResult(req *contracts.InvocationRequest, resolved *extension.Resolved, res *contracts.ExecutionResult) {
	if res == nil || res.Status != contracts.StatusSuccess {
		return
	}
	target := ""
	if len(req.Targets) > 0 {
		target = req.Targets[0]
	}
	res.Structured = o.normalizer.Normalize(resolved.Capability.Parser, req.CommandName, res.RawOutput, target)
}

// seal writes the audit record. An invocation whose record cannot be
// durably written is reported AUDIT_FAILURE no matter how the execution
// itself went.
func (o *Orchestrator) seal(ctx context.Context, req *contracts.InvocationRequest, out *Outcome) {
	rec := &contracts.AuditRecord{
		InvocationID: req.InvocationID,
		Requester:    req.Requester,
		CommandName:  req.CommandName,
		Targets:      req.Targets,
		Decision:     out.Decision,
	}
	if out.Result != nil {
		s := out.Result.Summary()
		rec.Result = &s
	}

	if err := o.auditor.Record(ctx, rec); err != nil {
		o.logger.Error("audit write failed",
			"invocation_id", req.InvocationID,
			"error", err)
		if out.Result == nil {
			out.Result = &contracts.ExecutionResult{
				InvocationID: req.InvocationID,
				StartedAt:    time.Now().UTC(),
				FinishedAt:   time.Now().UTC(),
			}
		}
		out.Result.Status = contracts.StatusAuditFailure
		out.Result.Error = "audit record could not be written: " + err.Error()
	}
}

// evictLocked drops finished jobs older than the retention window.
func (o *Orchestrator) evictLocked() {
	cutoff := time.Now().Add(-retention)
	for id, j := range o.jobs {
		if !j.finishedAt.IsZero() && j.finishedAt.Before(cutoff) {
			delete(o.jobs, id)
		}
	}
}

func outcomeStatus(out *Outcome) string {
	if out.Result != nil {
		return string(out.Result.Status)
	}
	return "DENIED"
}

func failedResult(invocationID, msg string) *contracts.ExecutionResult {
	now := time.Now().UTC()
	return &contracts.ExecutionResult{
		InvocationID: invocationID,
		Status:       contracts.StatusFailed,
		Error:        msg,
		StartedAt:    now,
		FinishedAt:   now,
	}
}
