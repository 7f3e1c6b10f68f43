package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/adpilot/internal/boundary"
	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/logging"
	"github.com/hugo-lorenzo-mato/adpilot/internal/prompt"
)

// Aggregator turns a terminal context into a FinalReport.
type Aggregator struct {
	boundary *boundary.Boundary
	prompts  *prompt.Renderer
	logger   *logging.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(b *boundary.Boundary, prompts *prompt.Renderer, logger *logging.Logger) *Aggregator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Aggregator{boundary: b, prompts: prompts, logger: logger}
}

// Aggregate builds the final report. It reads wc without mutating it, so
// repeated aggregation yields the same counts. The summary call is
// attached to the report instead of the audit trail; when it fails the
// summary is templated and marked degraded.
func (a *Aggregator) Aggregate(ctx context.Context, wc *core.WorkflowContext) *core.FinalReport {
	snap := wc.Clone()
	report := &core.FinalReport{
		WorkflowID:     snap.ID,
		Status:         snap.Status,
		StopReason:     snap.StopReason,
		Instruction:    snap.Instruction,
		Intent:         snap.Intent,
		Sequence:       snap.Sequence,
		PhaseResults:   snap.PhaseResults,
		ToolCallCount:  len(snap.ToolCalls),
		IterationCount: snap.Iterations,
		RetryCounts:    snap.RetryCounts,
		Errors:         snap.Errors,
		Notes:          snap.Notes,
		CompletedAt:    snap.CompletedAt,
	}
	if report.Sequence == nil {
		report.Sequence = []core.Phase{}
	}
	report.Reasons = reasons(snap)

	summary, call, err := a.summarize(ctx, snap)
	report.SummaryCall = call
	if err != nil {
		a.logger.WithWorkflow(string(snap.ID)).Warn("summary unavailable, using template", "error", err)
		report.Summary = templatedSummary(snap)
		report.SummaryDegraded = true
		report.Errors = append(report.Errors, core.ErrorRecord{
			Kind:    core.ErrorKindAggregationDegraded,
			Phase:   core.AttributionAggregate,
			Code:    string(core.FailureKindOf(err)),
			Message: err.Error(),
			At:      time.Now(),
		})
		report.Reasons = append(report.Reasons, "aggregation_degraded: narrative summary unavailable, templated summary used")
	} else {
		report.Summary = summary
	}
	return report
}

func (a *Aggregator) summarize(ctx context.Context, wc *core.WorkflowContext) (string, *core.ToolCallRecord, error) {
	if a.boundary == nil || a.prompts == nil {
		return "", nil, fmt.Errorf("summary backend not configured")
	}
	system, err := a.prompts.RenderAnalystSystem()
	if err != nil {
		return "", nil, err
	}
	user, err := a.prompts.RenderSummarize(prompt.SummarizeParams{
		Instruction: wc.Instruction,
		Status:      string(wc.Status),
		StopReason:  string(wc.StopReason),
		Results:     sequenceDigests(wc),
		Errors:      errorLines(wc.Errors),
	})
	if err != nil {
		return "", nil, err
	}

	rec := a.boundary.Recorder(core.AttributionAggregate, 1)
	var res core.ReasoningResult
	err = rec.Invoke(ctx, &core.ReasoningArgs{
		Purpose:     core.PurposeSummarize,
		System:      system,
		Prompt:      user,
		Temperature: 0.3,
	}, &res)

	var call *core.ToolCallRecord
	if records := rec.Records(); len(records) > 0 {
		c := records[len(records)-1]
		c.Seq = -1
		call = &c
	}
	if err != nil {
		return "", call, err
	}
	return strings.TrimSpace(res.Text), call, nil
}

// sequenceDigests lists accepted results in the order they ran.
func sequenceDigests(wc *core.WorkflowContext) []prompt.PhaseDigest {
	var out []prompt.PhaseDigest
	for _, p := range wc.Sequence {
		if r, ok := wc.PhaseResults[p]; ok {
			out = append(out, prompt.PhaseDigest{Phase: string(p), Summary: r.Summary})
		}
	}
	return out
}

func errorLines(errs []core.ErrorRecord) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, errorLine(e))
	}
	return out
}

func errorLine(e core.ErrorRecord) string {
	where := ""
	if e.Phase != "" {
		where = " in " + string(e.Phase)
	}
	return fmt.Sprintf("%s%s: %s", e.Kind, where, e.Message)
}

// reasons explains the terminal status, stop reason first.
func reasons(wc *core.WorkflowContext) []string {
	out := []string{}
	switch wc.Status {
	case core.WorkflowStatusCompleted:
		out = append(out, fmt.Sprintf("completed: %d phases accepted", len(wc.PhaseResults)))
	case core.WorkflowStatusStopped, core.WorkflowStatusFailed:
		line := string(wc.Status)
		if wc.StopReason != "" {
			line += ": " + string(wc.StopReason)
		}
		if wc.CurrentPhase != "" {
			line += " at " + string(wc.CurrentPhase)
		}
		out = append(out, line)
	}
	if wc.Intent.Overridden {
		out = append(out, fmt.Sprintf("intent %s overridden to %s (confidence %.2f)", wc.Intent.ReportedType, wc.Intent.Type, wc.Intent.Confidence))
	}
	return append(out, errorLines(wc.Errors)...)
}

// templatedSummary builds the summary from recorded data only.
func templatedSummary(wc *core.WorkflowContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Workflow %s", wc.Status)
	if wc.StopReason != "" {
		fmt.Fprintf(&sb, " (%s)", wc.StopReason)
	}
	fmt.Fprintf(&sb, " after %d iterations and %d tool calls.", wc.Iterations, len(wc.ToolCalls))
	for _, d := range sequenceDigests(wc) {
		fmt.Fprintf(&sb, " %s: %s", d.Phase, strings.TrimSpace(d.Summary))
		if !strings.HasSuffix(sb.String(), ".") {
			sb.WriteString(".")
		}
	}
	if n := len(wc.Errors); n > 0 {
		fmt.Fprintf(&sb, " %d errors recorded.", n)
	}
	return sb.String()
}
