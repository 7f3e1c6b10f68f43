package phases

import (
	"context"
	"fmt"

	"github.com/hugo-lorenzo-mato/adpilot/internal/boundary"
	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/prompt"
)

// ReportPayload is the report phase output.
type ReportPayload struct {
	Markdown string        `json:"markdown"`
	Sources  []string      `json:"sources"`
	Calls    []CallOutcome `json:"calls"`
}

// Report composes the phase-level markdown report from prior results.
type Report struct {
	base
}

// Phase implements Executor.
func (r *Report) Phase() core.Phase { return core.PhaseReport }

// Execute implements Executor.
func (r *Report) Execute(ctx context.Context, snap core.Snapshot, inv boundary.Invoker) (*core.PhaseResult, error) {
	results := digests(snap, 3000)
	user, err := r.prompts.RenderPhaseReport(prompt.PhaseReportParams{
		Instruction: snap.Instruction,
		IntentType:  string(snap.Intent.Type),
		Results:     results,
	})
	if err != nil {
		return nil, err
	}

	var log callLog
	text, err := r.reason(ctx, inv, core.PurposePhaseReport, user, 0.3, false)
	log.add(core.ToolReasoning, core.PurposePhaseReport, err)
	if err != nil {
		return nil, err
	}

	sources := make([]string, 0, len(results))
	for _, d := range results {
		sources = append(sources, d.Phase)
	}
	payload := ReportPayload{Markdown: text, Sources: sources, Calls: log.list()}
	summary := fmt.Sprintf("Report composed from %d phase results.", len(results))
	if len(results) == 0 {
		summary = "Report composed without prior phase results."
	}
	return newResult(snap, summary, payload, map[string]any{"phases": results}, map[string]float64{
		"sources": float64(len(results)),
	})
}
