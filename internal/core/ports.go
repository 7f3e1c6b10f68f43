package core

import "context"

// WorkflowStore persists workflow contexts, their audit trail and final
// reports. Implementations must treat tool calls as append-only: saving a
// context never rewrites or removes previously stored calls.
type WorkflowStore interface {
	// Save upserts the context snapshot and appends any tool calls not
	// yet stored.
	Save(ctx context.Context, wc *WorkflowContext) error

	// SaveReport stores the final report of a terminal workflow.
	SaveReport(ctx context.Context, report *FinalReport) error

	// Load returns the latest snapshot. Returns a not_found DomainError
	// when the workflow is unknown.
	Load(ctx context.Context, id WorkflowID) (*WorkflowContext, error)

	// LoadReport returns the final report, or a not_found DomainError when
	// none has been stored.
	LoadReport(ctx context.Context, id WorkflowID) (*FinalReport, error)

	// ToolCalls returns the stored audit trail ordered by sequence.
	ToolCalls(ctx context.Context, id WorkflowID) ([]ToolCallRecord, error)

	// List returns the most recently updated workflows first.
	List(ctx context.Context, limit int) ([]WorkflowSummary, error)

	// Close releases backend resources.
	Close() error
}
