package core

import (
	"encoding/json"
	"testing"
)

func newTestContext() *WorkflowContext {
	return NewWorkflowContext("wf-test", "show me campaign performance", Options{Platforms: []string{"google"}})
}

func TestNewWorkflowContext(t *testing.T) {
	wc := newTestContext()
	if wc.Status != WorkflowStatusPending {
		t.Fatalf("Status = %s, want pending", wc.Status)
	}
	if wc.Intent.Type != IntentHybrid || wc.Intent.Confidence != 0 {
		t.Fatalf("Intent = %+v, want default hybrid", wc.Intent)
	}
	if wc.Iterations != 0 || len(wc.ToolCalls) != 0 || len(wc.PhaseResults) != 0 {
		t.Fatalf("expected empty counters and collections")
	}
}

func TestWorkflowContext_Lifecycle(t *testing.T) {
	wc := newTestContext()
	if err := wc.MarkRunning(); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	if err := wc.MarkRunning(); err == nil {
		t.Fatalf("expected second MarkRunning to fail")
	}
	if err := wc.Finish(WorkflowStatusRunning, ""); err == nil {
		t.Fatalf("expected non-terminal Finish to fail")
	}
	if err := wc.Finish(WorkflowStatusStopped, StopCancelled); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if err := wc.Finish(WorkflowStatusCompleted, ""); err == nil {
		t.Fatalf("terminal status must be sticky")
	}
	if wc.Status != WorkflowStatusStopped || wc.StopReason != StopCancelled {
		t.Fatalf("got %s/%s", wc.Status, wc.StopReason)
	}
	if wc.CompletedAt == nil {
		t.Fatalf("expected CompletedAt to be set")
	}
}

func TestWorkflowContext_SetIntentOnce(t *testing.T) {
	wc := newTestContext()
	if err := wc.SetIntent(Intent{Type: IntentAction, Confidence: 0.9}); err != nil {
		t.Fatalf("SetIntent() error = %v", err)
	}
	if err := wc.SetIntent(Intent{Type: IntentAnalysis}); err == nil {
		t.Fatalf("expected second SetIntent to fail")
	}
	if wc.Intent.Type != IntentAction {
		t.Fatalf("Intent.Type = %s, want action", wc.Intent.Type)
	}
}

func TestWorkflowContext_AppendToolCallsAssignsSequence(t *testing.T) {
	wc := newTestContext()
	seqs := wc.AppendToolCalls(
		ToolCallRecord{Phase: PhaseMonitor, Tool: ToolPlatformData, Seq: 99},
		ToolCallRecord{Phase: PhaseMonitor, Tool: ToolReasoning},
	)
	more := wc.AppendToolCalls(ToolCallRecord{Phase: PhaseAnalyze, Tool: ToolWebSearch})

	if len(seqs) != 2 || seqs[0] != 0 || seqs[1] != 1 || more[0] != 2 {
		t.Fatalf("unexpected sequence numbers %v %v", seqs, more)
	}
	for i, r := range wc.ToolCalls {
		if r.Seq != i {
			t.Fatalf("ToolCalls[%d].Seq = %d", i, r.Seq)
		}
	}
	if got := len(wc.ToolCallsForPhase(PhaseMonitor)); got != 2 {
		t.Fatalf("ToolCallsForPhase(monitor) = %d, want 2", got)
	}
}

func TestWorkflowContext_AppendCopiesRecord(t *testing.T) {
	wc := newTestContext()
	rec := ToolCallRecord{Phase: PhaseMonitor, Tool: ToolReasoning, Args: json.RawMessage(`{"a":1}`)}
	wc.AppendToolCalls(rec)
	rec.Args[2] = 'b'
	if string(wc.ToolCalls[0].Args) != `{"a":1}` {
		t.Fatalf("stored record shares memory with caller: %s", wc.ToolCalls[0].Args)
	}
}

func TestWorkflowContext_SetPhaseResultRequiresAttribution(t *testing.T) {
	wc := newTestContext()
	wc.AppendToolCalls(ToolCallRecord{Phase: PhaseMonitor, Tool: ToolPlatformData})

	err := wc.SetPhaseResult(&PhaseResult{Phase: PhaseAnalyze, ToolCallIDs: []int{0}})
	if !IsCategory(err, ErrCatState) {
		t.Fatalf("expected state error for misattributed result, got %v", err)
	}
	if err := wc.SetPhaseResult(&PhaseResult{Phase: PhaseMonitor}); err == nil {
		t.Fatalf("expected error for result without tool calls")
	}
	if err := wc.SetPhaseResult(&PhaseResult{Phase: PhaseMonitor, ToolCallIDs: []int{7}}); err == nil {
		t.Fatalf("expected error for out-of-range call id")
	}
	if err := wc.SetPhaseResult(&PhaseResult{Phase: PhaseMonitor, ToolCallIDs: []int{0}, Summary: "ok"}); err != nil {
		t.Fatalf("SetPhaseResult() error = %v", err)
	}
	if wc.PhaseResults[PhaseMonitor].Summary != "ok" {
		t.Fatalf("phase result not stored")
	}
}

func TestWorkflowContext_Counters(t *testing.T) {
	wc := newTestContext()
	wc.IncrementIteration()
	wc.IncrementIteration()
	wc.IncrementRetry(PhaseAnalyze)
	wc.RecordError(ErrorKindValidationFailure, PhaseAnalyze, "", "unsupported claim")

	if wc.Iterations != 2 || wc.RetryCounts[PhaseAnalyze] != 1 {
		t.Fatalf("counters = %d/%d", wc.Iterations, wc.RetryCounts[PhaseAnalyze])
	}
	if len(wc.Errors) != 1 || wc.Errors[0].Kind != ErrorKindValidationFailure {
		t.Fatalf("Errors = %+v", wc.Errors)
	}
}

func TestWorkflowContext_CloneIsDeep(t *testing.T) {
	wc := newTestContext()
	wc.AppendToolCalls(ToolCallRecord{Phase: PhaseMonitor, Tool: ToolReasoning})
	_ = wc.SetPhaseResult(&PhaseResult{Phase: PhaseMonitor, ToolCallIDs: []int{0}, Metrics: map[string]float64{"spend": 1}})
	wc.IncrementRetry(PhaseMonitor)

	clone := wc.Clone()
	clone.ToolCalls[0].Tool = ToolGeneration
	clone.PhaseResults[PhaseMonitor].Metrics["spend"] = 2
	clone.RetryCounts[PhaseMonitor] = 9
	clone.Options.Platforms[0] = "tiktok"

	if wc.ToolCalls[0].Tool != ToolReasoning {
		t.Fatalf("tool calls shared")
	}
	if wc.PhaseResults[PhaseMonitor].Metrics["spend"] != 1 {
		t.Fatalf("phase results shared")
	}
	if wc.RetryCounts[PhaseMonitor] != 1 {
		t.Fatalf("retry counts shared")
	}
	if wc.Options.Platforms[0] != "google" {
		t.Fatalf("options shared")
	}
}

func TestWorkflowContext_Snapshot(t *testing.T) {
	wc := newTestContext()
	wc.AppendToolCalls(ToolCallRecord{Phase: PhaseMonitor, Tool: ToolReasoning})
	_ = wc.SetPhaseResult(&PhaseResult{Phase: PhaseMonitor, ToolCallIDs: []int{0}, Summary: "before"})

	snap := wc.Snapshot(PhaseAnalyze, 2)
	snap.Prior[PhaseMonitor].Summary = "after"

	if snap.Phase != PhaseAnalyze || snap.Attempt != 2 || snap.WorkflowID != wc.ID {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if wc.PhaseResults[PhaseMonitor].Summary != "before" {
		t.Fatalf("snapshot mutation leaked into context")
	}
}

func TestOptions_Validate(t *testing.T) {
	if err := (Options{}).Validate(); err != nil {
		t.Fatalf("zero options should be valid: %v", err)
	}
	if err := (Options{MaxIterations: -1}).Validate(); !IsCategory(err, ErrCatValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := (Options{MaxRetriesPerOperation: -1}).Validate(); err == nil {
		t.Fatalf("expected error for negative retries")
	}
}

func TestWorkflowContext_JSONFieldNames(t *testing.T) {
	wc := newTestContext()
	wc.IncrementIteration()
	data, err := json.Marshal(wc)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"workflow_id", "instruction", "intent", "phase_results", "tool_calls", "iteration_count", "retry_counts", "status", "errors"} {
		if _, ok := m[key]; !ok {
			t.Fatalf("missing JSON field %q in %s", key, data)
		}
	}
}
