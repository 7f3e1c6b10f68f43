package events

import "time"

// Event types.
const (
	TypeWorkflowStarted  = "workflow_started"
	TypeIntentClassified = "intent_classified"
	TypePhaseStarted     = "phase_started"
	TypePhaseCompleted   = "phase_completed"
	TypeWorkflowFinished = "workflow_finished"
	TypeReportReady      = "report_ready"
)

// Phase attempt outcomes carried by PhaseCompletedEvent.
const (
	OutcomeAccepted  = "accepted"
	OutcomeInvalid   = "invalid"
	OutcomeToolError = "tool_error"
)

// WorkflowStartedEvent is emitted when a run leaves pending.
type WorkflowStartedEvent struct {
	BaseEvent
	Instruction string `json:"instruction"`
}

// NewWorkflowStartedEvent creates a workflow started event.
func NewWorkflowStartedEvent(workflowID, instruction string) WorkflowStartedEvent {
	return WorkflowStartedEvent{
		BaseEvent:   NewBaseEvent(TypeWorkflowStarted, workflowID),
		Instruction: instruction,
	}
}

// IntentClassifiedEvent is emitted once the phase sequence is fixed.
type IntentClassifiedEvent struct {
	BaseEvent
	Intent     string   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Overridden bool     `json:"overridden"`
	Sequence   []string `json:"sequence"`
}

// NewIntentClassifiedEvent creates an intent classified event.
func NewIntentClassifiedEvent(workflowID, intent string, confidence float64, overridden bool, sequence []string) IntentClassifiedEvent {
	return IntentClassifiedEvent{
		BaseEvent:  NewBaseEvent(TypeIntentClassified, workflowID),
		Intent:     intent,
		Confidence: confidence,
		Overridden: overridden,
		Sequence:   sequence,
	}
}

// PhaseStartedEvent is emitted before each phase attempt.
type PhaseStartedEvent struct {
	BaseEvent
	Phase     string `json:"phase"`
	Attempt   int    `json:"attempt"`
	Iteration int    `json:"iteration"`
}

// NewPhaseStartedEvent creates a phase started event.
func NewPhaseStartedEvent(workflowID, phase string, attempt, iteration int) PhaseStartedEvent {
	return PhaseStartedEvent{
		BaseEvent: NewBaseEvent(TypePhaseStarted, workflowID),
		Phase:     phase,
		Attempt:   attempt,
		Iteration: iteration,
	}
}

// PhaseCompletedEvent is emitted after each phase attempt is graded.
type PhaseCompletedEvent struct {
	BaseEvent
	Phase    string        `json:"phase"`
	Attempt  int           `json:"attempt"`
	Outcome  string        `json:"outcome"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// NewPhaseCompletedEvent creates a phase completed event.
func NewPhaseCompletedEvent(workflowID, phase string, attempt int, outcome, detail string, duration time.Duration) PhaseCompletedEvent {
	return PhaseCompletedEvent{
		BaseEvent: NewBaseEvent(TypePhaseCompleted, workflowID),
		Phase:     phase,
		Attempt:   attempt,
		Outcome:   outcome,
		Detail:    detail,
		Duration:  duration,
	}
}

// WorkflowFinishedEvent is emitted when the router reaches a terminal status.
type WorkflowFinishedEvent struct {
	BaseEvent
	Status     string `json:"status"`
	StopReason string `json:"stop_reason,omitempty"`
	Iterations int    `json:"iteration_count"`
	ToolCalls  int    `json:"tool_call_count"`
}

// NewWorkflowFinishedEvent creates a workflow finished event.
func NewWorkflowFinishedEvent(workflowID, status, stopReason string, iterations, toolCalls int) WorkflowFinishedEvent {
	return WorkflowFinishedEvent{
		BaseEvent:  NewBaseEvent(TypeWorkflowFinished, workflowID),
		Status:     status,
		StopReason: stopReason,
		Iterations: iterations,
		ToolCalls:  toolCalls,
	}
}

// ReportReadyEvent is the last event of a run.
type ReportReadyEvent struct {
	BaseEvent
	Status          string `json:"status"`
	SummaryDegraded bool   `json:"summary_degraded"`
}

// NewReportReadyEvent creates a report ready event.
func NewReportReadyEvent(workflowID, status string, degraded bool) ReportReadyEvent {
	return ReportReadyEvent{
		BaseEvent:       NewBaseEvent(TypeReportReady, workflowID),
		Status:          status,
		SummaryDegraded: degraded,
	}
}

// IsFinal reports whether no further events follow e for its workflow.
func IsFinal(e Event) bool {
	return e.EventType() == TypeReportReady
}
