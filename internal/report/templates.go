package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/phases"
)

func frontmatterFor(r *core.FinalReport, useUTC bool) *Frontmatter {
	fm := NewFrontmatter()
	fm.Set("workflow_id", string(r.WorkflowID))
	fm.Set("status", string(r.Status))
	if r.StopReason != "" {
		fm.Set("stop_reason", string(r.StopReason))
	}
	fm.Set("intent", string(r.Intent.Type))
	fm.Set("confidence", r.Intent.Confidence)
	fm.Set("sequence", phaseNames(r.Sequence))
	fm.Set("iterations", r.IterationCount)
	fm.Set("tool_calls", r.ToolCallCount)
	fm.Set("summary_degraded", r.SummaryDegraded)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		if useUTC {
			t = t.UTC()
		}
		fm.Set("completed_at", t.Format(time.RFC3339))
	}
	return fm
}

// Render renders the final report as a markdown document without
// frontmatter.
func Render(r *core.FinalReport) string {
	var sb strings.Builder

	sb.WriteString("# Campaign Workflow Report\n\n")
	fmt.Fprintf(&sb, "**Workflow ID**: `%s`\n\n", r.WorkflowID)
	fmt.Fprintf(&sb, "**Instruction**: %s\n\n", r.Instruction)

	status := string(r.Status)
	if r.StopReason != "" {
		status += " (" + string(r.StopReason) + ")"
	}
	fmt.Fprintf(&sb, "**Status**: %s\n\n", status)

	sb.WriteString("## Summary\n\n")
	sb.WriteString(strings.TrimSpace(r.Summary))
	if r.SummaryDegraded {
		sb.WriteString("\n\n> Narrative summary unavailable; this summary was generated from recorded data.")
	}
	sb.WriteString("\n\n")

	if len(r.Reasons) > 0 {
		sb.WriteString("## Outcome\n\n")
		for _, reason := range r.Reasons {
			fmt.Fprintf(&sb, "- %s\n", reason)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Phases\n\n")
	sb.WriteString("| Phase | Result | Retries |\n")
	sb.WriteString("|-------|--------|---------|\n")
	for _, p := range r.Sequence {
		result := "not reached"
		if res, ok := r.PhaseResults[p]; ok {
			result = "accepted (attempt " + fmt.Sprint(res.Attempt) + ")"
		}
		fmt.Fprintf(&sb, "| %s | %s | %d |\n", p, result, r.RetryCounts[p])
	}
	sb.WriteString("\n")

	for _, p := range r.Sequence {
		res, ok := r.PhaseResults[p]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "### %s\n\n", p)
		if s := strings.TrimSpace(res.Summary); s != "" {
			sb.WriteString(s + "\n\n")
		}
		if len(res.Metrics) > 0 {
			keys := make([]string, 0, len(res.Metrics))
			for k := range res.Metrics {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&sb, "- %s: %s\n", k, formatMetric(res.Metrics[k]))
			}
			sb.WriteString("\n")
		}
	}

	if md := phaseReportMarkdown(r); md != "" {
		sb.WriteString("## Detailed Report\n\n")
		sb.WriteString(md)
		sb.WriteString("\n\n")
	}

	if len(r.Errors) > 0 {
		sb.WriteString("## Errors\n\n")
		sb.WriteString("| Kind | Phase | Code | Message |\n")
		sb.WriteString("|------|-------|------|---------|\n")
		for _, e := range r.Errors {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", e.Kind, e.Phase, e.Code, escapeCell(e.Message))
		}
		sb.WriteString("\n")
	}

	if len(r.Notes) > 0 {
		sb.WriteString("## Notes\n\n")
		for _, n := range r.Notes {
			fmt.Fprintf(&sb, "- %s\n", n)
		}
		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func phaseReportMarkdown(r *core.FinalReport) string {
	res, ok := r.PhaseResults[core.PhaseReport]
	if !ok || len(res.Payload) == 0 {
		return ""
	}
	var payload phases.ReportPayload
	if err := json.Unmarshal(res.Payload, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Markdown)
}

func phaseNames(seq []core.Phase) []string {
	out := make([]string, len(seq))
	for i, p := range seq {
		out[i] = string(p)
	}
	return out
}

func formatMetric(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.4g", v)
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
