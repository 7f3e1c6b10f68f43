package phases

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/adpilot/internal/boundary"
	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/prompt"
)

const historyCollection = "campaigns"

// AnalyzePayload is the analyze phase output.
type AnalyzePayload struct {
	Insights        []string               `json:"insights"`
	Underperforming []string               `json:"underperforming"`
	Summary         string                 `json:"summary"`
	Analysis        string                 `json:"analysis_text,omitempty"`
	Benchmarks      []core.SearchHit       `json:"benchmarks"`
	History         []core.SimilarityMatch `json:"history"`
	Calls           []CallOutcome          `json:"calls"`
}

// Analyze interprets monitoring output against web benchmarks and similar
// historical campaigns. Search failures degrade the analysis but do not
// fail the phase.
type Analyze struct {
	base
}

// Phase implements Executor.
func (a *Analyze) Phase() core.Phase { return core.PhaseAnalyze }

// Execute implements Executor.
func (a *Analyze) Execute(ctx context.Context, snap core.Snapshot, inv boundary.Invoker) (*core.PhaseResult, error) {
	logger := a.log(ctx, core.PhaseAnalyze)
	platforms := a.platforms(snap)

	var (
		log        callLog
		benchmarks = []core.SearchHit{}
		history    = []core.SimilarityMatch{}
	)

	g, gctx := a.group(ctx)
	g.Go(func() error {
		var out core.WebSearchResult
		err := a.invoke(gctx, inv, &core.WebSearchArgs{
			Query:      benchmarkQuery(platforms),
			MaxResults: a.cfg.SearchResults,
		}, &out)
		log.add(core.ToolWebSearch, "benchmarks", err)
		if err == nil && out.Results != nil {
			benchmarks = out.Results
		}
		return nil
	})
	g.Go(func() error {
		var out core.SimilaritySearchResult
		err := a.invoke(gctx, inv, &core.SimilaritySearchArgs{
			Query:      snap.Instruction,
			TopK:       a.cfg.SimilarityTopK,
			Collection: historyCollection,
		}, &out)
		log.add(core.ToolSimilaritySearch, "history", err)
		if err == nil && out.Matches != nil {
			history = out.Matches
		}
		return nil
	})
	_ = g.Wait()

	if failed := log.failures(); len(failed) > 0 {
		logger.Info("analysis continuing with partial sources", "failed", failed)
	}

	monitor := priorText(core.Snapshot{Prior: pick(snap.Prior, core.PhaseMonitor)}, 4000)
	user, err := a.prompts.RenderAnalyze(prompt.AnalyzeParams{
		Instruction: snap.Instruction,
		Monitor:     monitor,
		Benchmarks:  benchmarks,
		History:     history,
		Failures:    log.failures(),
	})
	if err != nil {
		return nil, err
	}
	text, err := a.reason(ctx, inv, core.PurposeAnalyze, user, 0.2, true)
	log.add(core.ToolReasoning, core.PurposeAnalyze, err)
	if err != nil {
		return nil, err
	}

	payload := AnalyzePayload{
		Insights:        []string{},
		Underperforming: []string{},
		Benchmarks:      benchmarks,
		History:         history,
	}
	var reply struct {
		Insights        []string `json:"insights"`
		Underperforming []string `json:"underperforming"`
		Summary         string   `json:"summary"`
	}
	if err := prompt.Decode(text, &reply); err != nil {
		payload.Analysis = text
		payload.Summary = firstLine(text)
	} else {
		if reply.Insights != nil {
			payload.Insights = reply.Insights
		}
		if reply.Underperforming != nil {
			payload.Underperforming = reply.Underperforming
		}
		payload.Summary = reply.Summary
	}
	payload.Calls = log.list()

	supporting := map[string]any{
		"monitor":    monitor,
		"benchmarks": benchmarks,
		"history":    history,
	}
	metrics := map[string]float64{
		"benchmark_hits":    float64(len(benchmarks)),
		"similar_campaigns": float64(len(history)),
		"underperforming":   float64(len(payload.Underperforming)),
	}
	return newResult(snap, payload.Summary, payload, supporting, metrics)
}

func benchmarkQuery(platforms []string) string {
	return fmt.Sprintf("%s advertising benchmarks CTR CPC ROAS conversion rate", strings.Join(platforms, " "))
}

func pick(prior map[core.Phase]*core.PhaseResult, phases ...core.Phase) map[core.Phase]*core.PhaseResult {
	out := make(map[core.Phase]*core.PhaseResult, len(phases))
	for _, p := range phases {
		if r, ok := prior[p]; ok {
			out[p] = r
		}
	}
	return out
}
