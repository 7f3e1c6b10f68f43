// Package workflow drives campaign workflows: the Router runs one
// WorkflowContext through its phase sequence under enforcement, the
// Aggregator builds the final report, and the Service accepts submissions
// and tracks concurrent runs.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/adpilot/internal/boundary"
	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/enforcer"
	"github.com/hugo-lorenzo-mato/adpilot/internal/events"
	"github.com/hugo-lorenzo-mato/adpilot/internal/intent"
	"github.com/hugo-lorenzo-mato/adpilot/internal/logging"
	"github.com/hugo-lorenzo-mato/adpilot/internal/phases"
	"github.com/hugo-lorenzo-mato/adpilot/internal/validation"
)

// RouterConfig holds the routing policy and ceilings.
type RouterConfig struct {
	Routing             core.RoutingTable
	ConfidenceThreshold float64
	PhaseTimeout        time.Duration
	Limits              enforcer.Limits
}

// DefaultRouterConfig returns the default routing policy.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Routing:             core.DefaultRoutingTable(),
		ConfidenceThreshold: core.DefaultConfidenceThreshold,
		PhaseTimeout:        5 * time.Minute,
		Limits:              enforcer.DefaultLimits(),
	}
}

// RouterDeps holds the router's collaborators.
type RouterDeps struct {
	Boundary   *boundary.Boundary
	Classifier *intent.Classifier
	Executors  phases.Registry
	Gate       *validation.Gate
	Store      core.WorkflowStore
	Logger     *logging.Logger
	Metrics    *Metrics
	// Events receives progress notifications. Optional.
	Events events.Publisher
}

// Router is the workflow state machine. It owns the context it runs for
// the duration of Run; executors only ever see snapshots.
type Router struct {
	cfg  RouterConfig
	deps RouterDeps
}

// NewRouter creates a router.
func NewRouter(cfg RouterConfig, deps RouterDeps) *Router {
	if cfg.Routing == nil {
		cfg.Routing = core.DefaultRoutingTable()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return &Router{cfg: cfg, deps: deps}
}

// CancelFunc reports whether the run was asked to stop.
type CancelFunc func() bool

// Run classifies the instruction, then executes the routed phase sequence
// until completion, failure or a stop. It returns an error only when wc
// could not be started; every other outcome is recorded on wc.
func (r *Router) Run(ctx context.Context, wc *core.WorkflowContext, cancelled CancelFunc) error {
	if cancelled == nil {
		cancelled = func() bool { return false }
	}
	if err := wc.MarkRunning(); err != nil {
		return err
	}
	ctx = logging.ContextWithWorkflow(ctx, string(wc.ID))
	logger := r.deps.Logger.WithWorkflow(string(wc.ID))
	r.deps.Metrics.addActive(ctx, 1)
	defer r.deps.Metrics.addActive(ctx, -1)
	r.persist(ctx, wc)
	r.publish(events.NewWorkflowStartedEvent(string(wc.ID), wc.Instruction))

	if r.stopIfCancelled(ctx, wc, cancelled, "") {
		return nil
	}
	r.route(ctx, wc)
	logger.Info("workflow routed", "intent", wc.Intent.Type, "confidence", wc.Intent.Confidence, "sequence", wc.Sequence)
	r.persist(ctx, wc)
	r.publish(events.NewIntentClassifiedEvent(string(wc.ID), string(wc.Intent.Type), wc.Intent.Confidence,
		wc.Intent.Overridden, phaseNames(wc.Sequence)))

	limits := r.cfg.Limits.WithOptions(wc.Options)
	enf := enforcer.New(limits)

	idx, attempt := 0, 1
	for idx < len(wc.Sequence) {
		phase := wc.Sequence[idx]
		if r.stopIfCancelled(ctx, wc, cancelled, phase) {
			return nil
		}
		wc.CurrentPhase = phase
		plog := logger.WithPhase(string(phase))

		exec, ok := r.deps.Executors.Get(phase)
		if !ok {
			wc.RecordError(core.ErrorKindToolInvocation, phase, "no_executor", fmt.Sprintf("no executor registered for %s", phase))
			r.finish(ctx, wc, core.WorkflowStatusFailed, "")
			return nil
		}

		started := time.Now()
		r.publish(events.NewPhaseStartedEvent(string(wc.ID), string(phase), attempt, wc.Iterations))
		res, err := r.execute(ctx, wc, exec, phase, attempt)
		// A cancel that arrived while the phase ran wins over its outcome.
		if r.stopIfCancelled(ctx, wc, cancelled, phase) {
			return nil
		}
		if err != nil {
			r.deps.Metrics.recordPhase(ctx, phase, outcomeToolError, time.Since(started))
			r.publish(events.NewPhaseCompletedEvent(string(wc.ID), string(phase), attempt, events.OutcomeToolError, err.Error(), time.Since(started)))
			plog.Warn("phase failed", "attempt", attempt, "error", err)
			wc.RecordError(core.ErrorKindToolInvocation, phase, string(core.FailureKindOf(err)), err.Error())
			if d := enf.AllowRetry(wc, phase); !d.Allowed {
				r.stop(ctx, wc, core.WorkflowStatusFailed, phase, d)
				return nil
			}
			wc.IncrementRetry(phase)
			wc.IncrementIteration()
			attempt++
			r.persist(ctx, wc)
			continue
		}

		verdict := r.validate(ctx, wc, res)
		if r.stopIfCancelled(ctx, wc, cancelled, phase) {
			return nil
		}
		if !verdict.Valid {
			r.deps.Metrics.recordPhase(ctx, phase, outcomeInvalid, time.Since(started))
			r.publish(events.NewPhaseCompletedEvent(string(wc.ID), string(phase), attempt, events.OutcomeInvalid, verdict.Reason, time.Since(started)))
			plog.Warn("phase result rejected", "attempt", attempt, "confidence", verdict.Confidence, "reason", verdict.Reason)
			wc.RecordError(core.ErrorKindValidationFailure, phase, "invalid_result", verdict.Reason)
			if d := enf.AllowRetry(wc, phase); !d.Allowed {
				r.stop(ctx, wc, core.WorkflowStatusStopped, phase, d)
				return nil
			}
			wc.IncrementRetry(phase)
			wc.IncrementIteration()
			attempt++
			r.persist(ctx, wc)
			continue
		}

		if d := enf.AllowAdvance(wc); !d.Allowed {
			r.stop(ctx, wc, core.WorkflowStatusStopped, phase, d)
			return nil
		}
		if err := wc.SetPhaseResult(res); err != nil {
			wc.RecordError(core.ErrorKindToolInvocation, phase, core.CodeUnattributed, err.Error())
			r.finish(ctx, wc, core.WorkflowStatusFailed, "")
			return nil
		}
		wc.IncrementIteration()
		r.deps.Metrics.recordPhase(ctx, phase, outcomeAccepted, time.Since(started))
		r.publish(events.NewPhaseCompletedEvent(string(wc.ID), string(phase), attempt, events.OutcomeAccepted, "", time.Since(started)))
		plog.Info("phase accepted", "attempt", attempt, "iterations", wc.Iterations)

		idx++
		attempt = 1
		r.persist(ctx, wc)
	}

	wc.CurrentPhase = ""
	r.finish(ctx, wc, core.WorkflowStatusCompleted, "")
	return nil
}

// route classifies the instruction and picks the phase sequence. Intents
// below the confidence threshold run the hybrid sequence.
func (r *Router) route(ctx context.Context, wc *core.WorkflowContext) {
	rec := r.deps.Boundary.Recorder(core.AttributionIntent, 1)
	in := r.deps.Classifier.Classify(ctx, rec, wc.Instruction)
	wc.AppendToolCalls(rec.Records()...)

	if in.Confidence < r.cfg.ConfidenceThreshold && in.Type != core.IntentHybrid {
		in.ReportedType = in.Type
		in.Type = core.IntentHybrid
		in.Overridden = true
		wc.AddNote(fmt.Sprintf("IntentAmbiguity: classified as %s with confidence %.2f below %.2f; running hybrid sequence",
			in.ReportedType, in.Confidence, r.cfg.ConfidenceThreshold))
	}
	_ = wc.SetIntent(in)
	wc.Sequence = r.cfg.Routing.Sequence(in.Type)
}

// execute runs one phase attempt and drains its audit records into wc.
func (r *Router) execute(ctx context.Context, wc *core.WorkflowContext, exec phases.Executor, phase core.Phase, attempt int) (*core.PhaseResult, error) {
	pctx := ctx
	if r.cfg.PhaseTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, r.cfg.PhaseTimeout)
		defer cancel()
	}

	rec := r.deps.Boundary.Recorder(phase, attempt)
	res, err := exec.Execute(pctx, wc.Snapshot(phase, attempt), rec)
	seqs := wc.AppendToolCalls(rec.Records()...)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, core.ErrTool(core.FailureInvalidResponse, "", fmt.Sprintf("%s returned no result", phase))
	}
	res.Phase = phase
	res.Attempt = attempt
	res.ToolCallIDs = seqs
	return res, nil
}

func (r *Router) validate(ctx context.Context, wc *core.WorkflowContext, res *core.PhaseResult) core.Verdict {
	rec := r.deps.Boundary.Recorder(core.AttributionValidate, res.Attempt)
	v := r.deps.Gate.Validate(ctx, rec, res, wc.Instruction)
	wc.AppendToolCalls(rec.Records()...)
	return v
}

// stopIfCancelled ends the run when a cancel was requested or ctx is done.
func (r *Router) stopIfCancelled(ctx context.Context, wc *core.WorkflowContext, cancelled CancelFunc, phase core.Phase) bool {
	if !cancelled() && ctx.Err() == nil {
		return false
	}
	r.stop(ctx, wc, core.WorkflowStatusStopped, phase, enforcer.Decision{
		Reason:  core.StopCancelled,
		Message: "cancellation requested",
	})
	return true
}

func (r *Router) stop(ctx context.Context, wc *core.WorkflowContext, status core.WorkflowStatus, phase core.Phase, d enforcer.Decision) {
	wc.RecordError(core.ErrorKindEnforcementStop, phase, string(d.Reason), d.Message)
	r.deps.Logger.WithWorkflow(string(wc.ID)).Warn("workflow stopped", "status", status, "reason", d.Reason, "phase", phase, "detail", d.Message)
	r.finish(ctx, wc, status, d.Reason)
}

func (r *Router) finish(ctx context.Context, wc *core.WorkflowContext, status core.WorkflowStatus, reason core.StopReason) {
	if err := wc.Finish(status, reason); err != nil {
		r.deps.Logger.WithWorkflow(string(wc.ID)).Error("finishing workflow", "error", err)
		return
	}
	r.deps.Metrics.recordRun(ctx, status, reason)
	r.persist(ctx, wc)
	r.publish(events.NewWorkflowFinishedEvent(string(wc.ID), string(status), string(reason), wc.Iterations, len(wc.ToolCalls)))
}

func (r *Router) publish(e events.Event) {
	if r.deps.Events != nil {
		r.deps.Events.Publish(e)
	}
}

func phaseNames(seq []core.Phase) []string {
	out := make([]string, len(seq))
	for i, p := range seq {
		out[i] = string(p)
	}
	return out
}

// persist saves wc when a store is configured. Failures are logged; the
// run continues.
func (r *Router) persist(ctx context.Context, wc *core.WorkflowContext) {
	if r.deps.Store == nil {
		return
	}
	if err := r.deps.Store.Save(context.WithoutCancel(ctx), wc); err != nil {
		r.deps.Logger.WithWorkflow(string(wc.ID)).Warn("persisting workflow state", "error", err)
	}
}
