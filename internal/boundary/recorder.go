package boundary

import (
	"context"
	"sync"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
)

// Recorder is an Invoker bound to one (phase, attempt). It keeps the audit
// records of every call made through it, in completion order, and is safe
// for concurrent use by fan-out goroutines.
type Recorder struct {
	b       *Boundary
	phase   core.Phase
	attempt int

	mu      sync.Mutex
	records []core.ToolCallRecord
}

// Invoke implements Invoker.
func (r *Recorder) Invoke(ctx context.Context, args core.ToolArgs, out core.ToolResult) error {
	rec, err := r.b.Invoke(ctx, r.phase, r.attempt, args, out)
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
	return err
}

// Phase returns the attribution key.
func (r *Recorder) Phase() core.Phase { return r.phase }

// Attempt returns the attempt number.
func (r *Recorder) Attempt() int { return r.attempt }

// Records returns a copy of the records collected so far.
func (r *Recorder) Records() []core.ToolCallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.ToolCallRecord, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Clone()
	}
	return out
}
