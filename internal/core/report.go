package core

import "time"

// FinalReport is the aggregated outcome of a terminal workflow.
type FinalReport struct {
	WorkflowID     WorkflowID             `json:"workflow_id"`
	Status         WorkflowStatus         `json:"status"`
	StopReason     StopReason             `json:"stop_reason,omitempty"`
	Instruction    string                 `json:"instruction"`
	Intent         Intent                 `json:"intent"`
	Sequence       []Phase                `json:"sequence"`
	PhaseResults   map[Phase]*PhaseResult `json:"phase_results"`
	ToolCallCount  int                    `json:"tool_call_count"`
	IterationCount int                    `json:"iteration_count"`
	RetryCounts    map[Phase]int          `json:"retry_counts"`
	Errors         []ErrorRecord          `json:"errors"`
	Reasons        []string               `json:"reasons"`
	Notes          []string               `json:"notes,omitempty"`
	Summary        string                 `json:"narrative_summary"`
	// SummaryDegraded marks a templated (non-LLM) summary.
	SummaryDegraded bool            `json:"summary_degraded"`
	SummaryCall     *ToolCallRecord `json:"summary_call,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// WorkflowSummary is a lightweight listing entry.
type WorkflowSummary struct {
	ID          WorkflowID     `json:"workflow_id"`
	Status      WorkflowStatus `json:"status"`
	Instruction string         `json:"instruction"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
