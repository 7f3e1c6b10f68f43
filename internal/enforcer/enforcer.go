// Package enforcer bounds workflow execution. It decides whether a phase
// may be retried or the router may advance, and never mutates the context
// it inspects.
package enforcer

import (
	"fmt"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
)

// Limits are the ceilings applied to one run.
type Limits struct {
	MaxIterations          int
	MaxRetriesPerOperation int
}

// DefaultLimits returns the default ceilings.
func DefaultLimits() Limits {
	return Limits{
		MaxIterations:          core.DefaultMaxIterations,
		MaxRetriesPerOperation: core.DefaultMaxRetriesPerOperation,
	}
}

// WithOptions applies per-run overrides. Zero values keep l.
func (l Limits) WithOptions(opts core.Options) Limits {
	if opts.MaxIterations > 0 {
		l.MaxIterations = opts.MaxIterations
	}
	if opts.MaxRetriesPerOperation > 0 {
		l.MaxRetriesPerOperation = opts.MaxRetriesPerOperation
	}
	return l
}

// Decision is the outcome of an enforcement check.
type Decision struct {
	Allowed bool
	Reason  core.StopReason
	Message string
}

// Err returns the terminal error for a refused decision, or nil.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return core.ErrEnforcementStop(d.Reason, d.Message)
}

// Enforcer checks a workflow context against its limits.
type Enforcer struct {
	limits Limits
}

// New creates an enforcer.
func New(limits Limits) *Enforcer {
	return &Enforcer{limits: limits}
}

// Limits returns the configured ceilings.
func (e *Enforcer) Limits() Limits {
	return e.limits
}

// AllowRetry reports whether phase may run again. The global ceiling is
// checked before the per-phase ceiling.
func (e *Enforcer) AllowRetry(wc *core.WorkflowContext, phase core.Phase) Decision {
	if d := e.AllowAdvance(wc); !d.Allowed {
		return d
	}
	if n := wc.RetryCounts[phase]; n >= e.limits.MaxRetriesPerOperation {
		return Decision{
			Reason:  core.StopPhaseRetryCeiling,
			Message: fmt.Sprintf("phase %s retried %d times (max %d)", phase, n, e.limits.MaxRetriesPerOperation),
		}
	}
	return Decision{Allowed: true}
}

// AllowAdvance reports whether one more iteration may be counted.
func (e *Enforcer) AllowAdvance(wc *core.WorkflowContext) Decision {
	if wc.Iterations >= e.limits.MaxIterations {
		return Decision{
			Reason:  core.StopGlobalIterationCeiling,
			Message: fmt.Sprintf("iteration count %d reached max %d", wc.Iterations, e.limits.MaxIterations),
		}
	}
	return Decision{Allowed: true}
}
