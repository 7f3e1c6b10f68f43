package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/adpilot/internal/boundary"
	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/logging"
)

// ValidVerdict is the gate reply accepting a result.
var ValidVerdict = map[string]any{"verdict": "valid", "confidence": 0.9, "reason": "grounded in the supporting data"}

// InvalidVerdict is the gate reply rejecting a result.
var InvalidVerdict = map[string]any{"verdict": "invalid", "confidence": 0.8, "reason": "claims not supported by the data"}

// IntentReply builds a classifier reply.
func IntentReply(t core.IntentType, confidence float64) map[string]any {
	return map[string]any{
		"intent_type":               string(t),
		"confidence":                confidence,
		"entities":                  map[string]any{"platforms": []string{"google"}},
		"requires_database_changes": t != core.IntentAnalysis,
		"reasoning":                 "scripted",
	}
}

// SampleCampaigns returns two campaigns for the given platform, one healthy
// and one underperforming.
func SampleCampaigns(platform string) []core.CampaignMetrics {
	return []core.CampaignMetrics{
		{ID: platform + "-c1", Name: "Brand", Platform: platform, Status: "active", Budget: 100, Spend: 80, Impressions: 10000, Clicks: 400, Conversions: 40, Revenue: 800},
		{ID: platform + "-c2", Name: "Prospecting", Platform: platform, Status: "active", Budget: 200, Spend: 190, Impressions: 20000, Clicks: 60, Conversions: 1, Revenue: 20},
	}
}

// NewHappyBackend returns a backend that answers every tool and reasoning
// purpose with a well-formed reply. The classifier reports intent with
// confidence 0.9 and the gate accepts every result.
func NewHappyBackend(intent core.IntentType) *ScriptedBackend {
	s := NewScriptedBackend()

	s.Default(ReasoningKey(core.PurposeClassifyIntent), Reply(Reasoning(IntentReply(intent, 0.9))))
	s.Default(ReasoningKey(core.PurposeMonitor), Reply(Reasoning(map[string]any{
		"anomalies": []map[string]any{{
			"campaign_id": "google-c2", "metric": "ctr", "severity": "high",
			"description": "CTR of 0.3% is well below the account average",
		}},
		"summary": "One campaign shows a CTR anomaly.",
	})))
	s.Default(ReasoningKey(core.PurposeAnalyze), Reply(Reasoning(map[string]any{
		"insights":        []string{"Prospecting spends 95% of budget for one conversion"},
		"underperforming": []string{"google-c2"},
		"summary":         "Prospecting underperforms against benchmarks.",
	})))
	s.Default(ReasoningKey(core.PurposePlanActions), Reply(Reasoning(map[string]any{
		"actions": []map[string]any{{
			"operation": "update", "table": "campaigns", "campaign_id": "google-c2",
			"changes": map[string]any{"budget": 150}, "rationale": "cut spend on weak campaign",
		}},
		"summary": "Reduce the Prospecting budget.",
	})))
	s.Default(ReasoningKey(core.PurposeOptimize), Reply(Reasoning(map[string]any{
		"recommendations": []map[string]any{{
			"campaign_id": "google-c2", "action": "refresh creatives",
			"rationale": "low CTR", "expected_impact": "CTR +0.5pt",
		}},
		"summary": "Refresh creatives on Prospecting.",
	})))
	s.Default(ReasoningKey(core.PurposePhaseReport), Reply(Reasoning("## Report\n\nProspecting underperforms; budget reduced and creatives refreshed.")))
	s.Default(ReasoningKey(core.PurposeValidate), Reply(Reasoning(ValidVerdict)))
	s.Default(ReasoningKey(core.PurposeSummarize), Reply(Reasoning("The workflow reviewed campaign performance and applied the planned changes.")))

	s.Handle(string(core.ToolPlatformData), func(_ context.Context, args json.RawMessage) Response {
		var a core.PlatformDataArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return Response{Err: err}
		}
		return Reply(core.PlatformDataResult{Platform: a.Platform, Campaigns: SampleCampaigns(a.Platform)})
	})
	s.Default(string(core.ToolWebSearch), Reply(core.WebSearchResult{Results: []core.SearchHit{
		{Title: "Search benchmarks 2024", URL: "https://example.com/benchmarks", Snippet: "Average CTR 3.2%"},
	}}))
	s.Default(string(core.ToolSimilaritySearch), Reply(core.SimilaritySearchResult{Matches: []core.SimilarityMatch{
		{ID: "hist-1", Content: "Q3 prospecting campaign recovered after creative refresh", Score: 0.82},
	}}))
	s.Default(string(core.ToolDatastoreRead), Reply(core.DatastoreReadResult{Rows: []map[string]any{
		{"id": "google-c2", "name": "Prospecting", "budget": 200},
	}}))
	s.Handle(string(core.ToolDatastoreWrite), func(_ context.Context, args json.RawMessage) Response {
		var a core.DatastoreWriteArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return Response{Err: err}
		}
		key := a.Key
		if key == "" {
			key = fmt.Sprintf("%s-new", a.Table)
		}
		return Reply(core.DatastoreWriteResult{Affected: 1, Key: key})
	})
	s.Default(string(core.ToolGeneration), Reply(core.GenerationResult{Variants: []string{
		"Save more on every order", "Fresh picks, delivered", "Your cart, upgraded",
	}}))
	return s
}

// FastBoundaryConfig returns a boundary configuration with short delays.
func FastBoundaryConfig() boundary.Config {
	return boundary.Config{
		MaxConcurrency:   8,
		CallTimeout:      2 * time.Second,
		RateLimitRetries: 3,
		Backoff: boundary.NewRetryPolicy(
			boundary.WithBaseDelay(time.Millisecond),
			boundary.WithMaxDelay(5*time.Millisecond),
			boundary.WithJitter(0),
		),
	}
}

// NewBoundary creates a fast boundary with backend bound to every tool.
func NewBoundary(t *testing.T, backend boundary.Backend) *boundary.Boundary {
	t.Helper()
	return NewBoundaryWithConfig(t, FastBoundaryConfig(), backend)
}

// NewBoundaryWithConfig creates a boundary with cfg and backend bound to
// every tool.
func NewBoundaryWithConfig(t *testing.T, cfg boundary.Config, backend boundary.Backend) *boundary.Boundary {
	t.Helper()
	b := boundary.New(cfg, logging.NewNop())
	for _, tool := range core.AllTools() {
		if err := b.Register(tool, backend); err != nil {
			t.Fatalf("registering %s: %v", tool, err)
		}
	}
	return b
}

// NewTestContext creates a running workflow context.
func NewTestContext(t *testing.T, instruction string, opts core.Options) *core.WorkflowContext {
	t.Helper()
	wc := core.NewWorkflowContext(core.WorkflowID("wf-test"), instruction, opts)
	if err := wc.MarkRunning(); err != nil {
		t.Fatalf("marking running: %v", err)
	}
	return wc
}

// AttributedResult appends a successful audit record for phase to wc and
// returns a result referencing it.
func AttributedResult(wc *core.WorkflowContext, phase core.Phase, payload any) *core.PhaseResult {
	raw, _ := json.Marshal(payload)
	seqs := wc.AppendToolCalls(core.ToolCallRecord{
		Phase:     phase,
		Attempt:   1,
		Tool:      core.ToolReasoning,
		Args:      json.RawMessage(`{"prompt":"scripted"}`),
		Result:    json.RawMessage(`{"text":"scripted"}`),
		Attempts:  1,
		StartedAt: time.Now(),
		EndedAt:   time.Now(),
	})
	return &core.PhaseResult{
		Phase:       phase,
		Attempt:     1,
		Payload:     raw,
		Summary:     fmt.Sprintf("%s done", phase),
		ToolCallIDs: seqs,
		ProducedAt:  time.Now(),
	}
}
