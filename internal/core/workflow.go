package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowID uniquely identifies a workflow run.
type WorkflowID string

// WorkflowStatus represents the current state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusStopped   WorkflowStatus = "stopped"
)

// IsTerminal reports whether the status can no longer change.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusStopped:
		return true
	default:
		return false
	}
}

// StopReason distinguishes why a workflow ended without completing.
type StopReason string

const (
	StopGlobalIterationCeiling StopReason = "global_iteration_ceiling"
	StopPhaseRetryCeiling      StopReason = "phase_retry_ceiling"
	StopCancelled              StopReason = "cancelled"
)

// ErrorKind classifies an accumulated error descriptor.
type ErrorKind string

const (
	ErrorKindToolInvocation      ErrorKind = "tool_invocation"
	ErrorKindValidationFailure   ErrorKind = "validation_failure"
	ErrorKindEnforcementStop     ErrorKind = "enforcement_stop"
	ErrorKindAggregationDegraded ErrorKind = "aggregation_degraded"
)

// ErrorRecord is one error descriptor accumulated during a run.
type ErrorRecord struct {
	Kind    ErrorKind `json:"kind"`
	Phase   Phase     `json:"phase,omitempty"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Options are per-run submission options. Zero ceilings mean "use the
// configured default".
type Options struct {
	Platforms              []string `json:"platforms,omitempty"`
	CampaignIDs            []string `json:"campaign_ids,omitempty"`
	MaxIterations          int      `json:"max_iterations,omitempty"`
	MaxRetriesPerOperation int      `json:"max_retries_per_operation,omitempty"`
}

// Validate rejects negative ceilings.
func (o Options) Validate() error {
	if o.MaxIterations < 0 {
		return ErrValidation(CodeInvalidOptions, "max_iterations must not be negative")
	}
	if o.MaxRetriesPerOperation < 0 {
		return ErrValidation(CodeInvalidOptions, "max_retries_per_operation must not be negative")
	}
	return nil
}

// PhaseResult is the output of one phase attempt.
type PhaseResult struct {
	Phase   Phase              `json:"phase"`
	Attempt int                `json:"attempt"`
	Payload json.RawMessage    `json:"payload"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
	Summary string             `json:"summary"`
	// SupportingContext is the raw data the payload was derived from. The
	// validation gate grades the payload against it.
	SupportingContext json.RawMessage `json:"supporting_context,omitempty"`
	ToolCallIDs       []int           `json:"tool_call_ids"`
	ProducedAt        time.Time       `json:"produced_at"`
}

// Clone returns a deep copy of the result.
func (r *PhaseResult) Clone() *PhaseResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Payload = cloneRaw(r.Payload)
	out.SupportingContext = cloneRaw(r.SupportingContext)
	if r.Metrics != nil {
		out.Metrics = make(map[string]float64, len(r.Metrics))
		for k, v := range r.Metrics {
			out.Metrics[k] = v
		}
	}
	out.ToolCallIDs = append([]int(nil), r.ToolCallIDs...)
	return &out
}

// Verdict is the validation gate's grade of a phase result.
type Verdict struct {
	Valid      bool    `json:"valid"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// WorkflowContext is the mutable state of one run. It is owned by a single
// router for its lifetime.
type WorkflowContext struct {
	ID           WorkflowID             `json:"workflow_id"`
	Instruction  string                 `json:"instruction"`
	Options      Options                `json:"options"`
	Intent       Intent                 `json:"intent"`
	Sequence     []Phase                `json:"sequence,omitempty"`
	CurrentPhase Phase                  `json:"current_phase,omitempty"`
	PhaseResults map[Phase]*PhaseResult `json:"phase_results"`
	ToolCalls    []ToolCallRecord       `json:"tool_calls"`
	Iterations   int                    `json:"iteration_count"`
	RetryCounts  map[Phase]int          `json:"retry_counts"`
	Status       WorkflowStatus         `json:"status"`
	StopReason   StopReason             `json:"stop_reason,omitempty"`
	Errors       []ErrorRecord          `json:"errors"`
	Notes        []string               `json:"notes,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`

	intentSet bool
}

// NewWorkflowContext creates a pending context.
func NewWorkflowContext(id WorkflowID, instruction string, opts Options) *WorkflowContext {
	return &WorkflowContext{
		ID:           id,
		Instruction:  instruction,
		Options:      opts,
		Intent:       DefaultIntent(),
		PhaseResults: make(map[Phase]*PhaseResult),
		ToolCalls:    make([]ToolCallRecord, 0),
		RetryCounts:  make(map[Phase]int),
		Status:       WorkflowStatusPending,
		Errors:       make([]ErrorRecord, 0),
		CreatedAt:    time.Now(),
	}
}

// MarkRunning moves a pending context to running.
func (w *WorkflowContext) MarkRunning() error {
	if w.Status != WorkflowStatusPending {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot start workflow in status %s", w.Status))
	}
	now := time.Now()
	w.Status = WorkflowStatusRunning
	w.StartedAt = &now
	return nil
}

// Finish sets the terminal status. It succeeds exactly once.
func (w *WorkflowContext) Finish(status WorkflowStatus, reason StopReason) error {
	if !status.IsTerminal() {
		return ErrState(CodeInvalidState, fmt.Sprintf("%s is not a terminal status", status))
	}
	if w.Status.IsTerminal() {
		return ErrState(CodeAlreadyTerminal, fmt.Sprintf("workflow already %s", w.Status))
	}
	now := time.Now()
	w.Status = status
	w.StopReason = reason
	w.CompletedAt = &now
	return nil
}

// SetIntent records the classification. It may be written once.
func (w *WorkflowContext) SetIntent(in Intent) error {
	if w.intentSet {
		return ErrState(CodeInvalidState, "intent already set")
	}
	w.Intent = in
	w.intentSet = true
	return nil
}

// AppendToolCalls appends records to the audit trail, assigning sequence
// numbers. Existing entries are never touched.
func (w *WorkflowContext) AppendToolCalls(records ...ToolCallRecord) []int {
	seqs := make([]int, 0, len(records))
	for _, r := range records {
		rec := r.Clone()
		rec.Seq = len(w.ToolCalls)
		w.ToolCalls = append(w.ToolCalls, rec)
		seqs = append(seqs, rec.Seq)
	}
	return seqs
}

// SetPhaseResult stores the latest accepted result for a phase. The result
// must reference at least one audited call attributed to the same phase.
func (w *WorkflowContext) SetPhaseResult(r *PhaseResult) error {
	if r == nil {
		return ErrState(CodeInvalidState, "nil phase result")
	}
	attributed := false
	for _, id := range r.ToolCallIDs {
		if id >= 0 && id < len(w.ToolCalls) && w.ToolCalls[id].Phase == r.Phase {
			attributed = true
			break
		}
	}
	if !attributed {
		return ErrState(CodeUnattributed, fmt.Sprintf("phase %s result has no audited tool call", r.Phase))
	}
	w.PhaseResults[r.Phase] = r.Clone()
	return nil
}

// IncrementIteration counts one phase-advance attempt.
func (w *WorkflowContext) IncrementIteration() {
	w.Iterations++
}

// IncrementRetry counts one retry of a phase.
func (w *WorkflowContext) IncrementRetry(p Phase) {
	w.RetryCounts[p]++
}

// RecordError appends an error descriptor.
func (w *WorkflowContext) RecordError(kind ErrorKind, phase Phase, code, message string) {
	w.Errors = append(w.Errors, ErrorRecord{
		Kind:    kind,
		Phase:   phase,
		Code:    code,
		Message: message,
		At:      time.Now(),
	})
}

// AddNote appends an informational note.
func (w *WorkflowContext) AddNote(note string) {
	w.Notes = append(w.Notes, note)
}

// ToolCallsForPhase returns the audited calls attributed to a phase.
func (w *WorkflowContext) ToolCallsForPhase(p Phase) []ToolCallRecord {
	var out []ToolCallRecord
	for _, r := range w.ToolCalls {
		if r.Phase == p {
			out = append(out, r)
		}
	}
	return out
}

// Clone returns a deep copy of the context.
func (w *WorkflowContext) Clone() *WorkflowContext {
	out := *w
	out.Options.Platforms = append([]string(nil), w.Options.Platforms...)
	out.Options.CampaignIDs = append([]string(nil), w.Options.CampaignIDs...)
	out.Intent = w.Intent.Clone()
	out.Sequence = append([]Phase(nil), w.Sequence...)
	out.PhaseResults = make(map[Phase]*PhaseResult, len(w.PhaseResults))
	for k, v := range w.PhaseResults {
		out.PhaseResults[k] = v.Clone()
	}
	out.ToolCalls = make([]ToolCallRecord, len(w.ToolCalls))
	for i, r := range w.ToolCalls {
		out.ToolCalls[i] = r.Clone()
	}
	out.RetryCounts = make(map[Phase]int, len(w.RetryCounts))
	for k, v := range w.RetryCounts {
		out.RetryCounts[k] = v
	}
	out.Errors = append([]ErrorRecord{}, w.Errors...)
	out.Notes = append([]string(nil), w.Notes...)
	if w.StartedAt != nil {
		t := *w.StartedAt
		out.StartedAt = &t
	}
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// Snapshot builds the read-only view handed to phase executors.
func (w *WorkflowContext) Snapshot(phase Phase, attempt int) Snapshot {
	prior := make(map[Phase]*PhaseResult, len(w.PhaseResults))
	for k, v := range w.PhaseResults {
		prior[k] = v.Clone()
	}
	return Snapshot{
		WorkflowID:  w.ID,
		Instruction: w.Instruction,
		Intent:      w.Intent.Clone(),
		Options:     w.Clone().Options,
		Phase:       phase,
		Attempt:     attempt,
		Prior:       prior,
	}
}

// Snapshot is an immutable copy of the context fields a phase executor may
// read. It carries no reference back to the router.
type Snapshot struct {
	WorkflowID  WorkflowID
	Instruction string
	Intent      Intent
	Options     Options
	Phase       Phase
	Attempt     int
	Prior       map[Phase]*PhaseResult
}
