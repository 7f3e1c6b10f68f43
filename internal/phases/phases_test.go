package phases

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/adpilot/internal/boundary"
	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/prompt"
	"github.com/hugo-lorenzo-mato/adpilot/internal/testutil"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MicroRetryDelay = time.Millisecond
	return cfg
}

func newRegistry(t *testing.T, cfg Config) Registry {
	t.Helper()
	r, err := prompt.NewRenderer()
	if err != nil {
		t.Fatal(err)
	}
	return NewRegistry(Deps{Prompts: r, Config: cfg})
}

func snapshot(phase core.Phase, opts core.Options, prior ...*core.PhaseResult) core.Snapshot {
	s := core.Snapshot{
		WorkflowID:  "wf-test",
		Instruction: "Review last week's campaigns and fix what underperforms",
		Intent:      core.Intent{Type: core.IntentHybrid, Confidence: 0.9, Entities: map[string]any{}},
		Options:     opts,
		Phase:       phase,
		Attempt:     1,
		Prior:       map[core.Phase]*core.PhaseResult{},
	}
	for _, p := range prior {
		s.Prior[p.Phase] = p
	}
	return s
}

func run(t *testing.T, cfg Config, backend *testutil.ScriptedBackend, snap core.Snapshot) (*core.PhaseResult, []core.ToolCallRecord, error) {
	t.Helper()
	b := testutil.NewBoundary(t, backend)
	rec := b.Recorder(snap.Phase, snap.Attempt)
	exec, ok := newRegistry(t, cfg).Get(snap.Phase)
	if !ok {
		t.Fatalf("no executor for %s", snap.Phase)
	}
	res, err := exec.Execute(context.Background(), snap, rec)
	return res, rec.Records(), err
}

func decodePayload[T any](t *testing.T, res *core.PhaseResult) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(res.Payload, &v); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	return v
}

func failPlatform(s *testutil.ScriptedBackend, bad string) {
	s.Handle(string(core.ToolPlatformData), func(_ context.Context, args json.RawMessage) testutil.Response {
		var a core.PlatformDataArgs
		_ = json.Unmarshal(args, &a)
		if a.Platform == bad {
			return testutil.Fail(core.FailureUnavailable)
		}
		return testutil.Reply(core.PlatformDataResult{Platform: a.Platform, Campaigns: testutil.SampleCampaigns(a.Platform)})
	})
}

func TestRegistry_CoversEveryPhase(t *testing.T) {
	reg := newRegistry(t, testConfig())
	for _, p := range core.AllPhases() {
		e, ok := reg.Get(p)
		if !ok || e.Phase() != p {
			t.Errorf("executor for %s missing or mislabelled", p)
		}
	}
}

func TestMonitor_Success(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAnalysis)
	snap := snapshot(core.PhaseMonitor, core.Options{Platforms: []string{"google", "tiktok"}})

	res, records, err := run(t, testConfig(), backend, snap)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	payload := decodePayload[MonitorPayload](t, res)
	testutil.AssertLen(t, payload.Campaigns, 4)
	testutil.AssertLen(t, payload.Anomalies, 1)
	testutil.AssertLen(t, payload.Calls, 4)
	testutil.AssertEqual(t, payload.Summary, "One campaign shows a CTR anomaly.")
	testutil.AssertEqual(t, res.Summary, payload.Summary)
	testutil.AssertEqual(t, res.Phase, core.PhaseMonitor)
	testutil.AssertLen(t, records, 4)

	if res.Metrics["campaigns"] != 4 || res.Metrics["spend"] != 540 {
		t.Errorf("metrics = %v", res.Metrics)
	}
	if res.Metrics["ctr"] <= 0 || res.Metrics["roas"] <= 0 {
		t.Errorf("derived metrics missing: %v", res.Metrics)
	}
	testutil.AssertContains(t, string(res.SupportingContext), "google-c1")
}

func TestMonitor_PartialPlatformFailure(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAnalysis)
	failPlatform(backend, "tiktok")
	snap := snapshot(core.PhaseMonitor, core.Options{Platforms: []string{"google", "tiktok"}})

	res, _, err := run(t, testConfig(), backend, snap)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	payload := decodePayload[MonitorPayload](t, res)
	testutil.AssertLen(t, payload.Campaigns, 2)

	failed := 0
	for _, c := range payload.Calls {
		if !c.OK {
			failed++
			testutil.AssertEqual(t, c.Label, "tiktok")
		}
	}
	testutil.AssertEqual(t, failed, 1)

	// one micro-retry for the failing platform
	testutil.AssertEqual(t, backend.CallCount(string(core.ToolPlatformData)), 3)
}

func TestMonitor_AllPlatformsFail(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAnalysis)
	backend.Handle(string(core.ToolPlatformData), func(context.Context, json.RawMessage) testutil.Response {
		return testutil.Fail(core.FailureTimeout)
	})
	snap := snapshot(core.PhaseMonitor, core.Options{Platforms: []string{"google"}})

	_, records, err := run(t, testConfig(), backend, snap)
	if err == nil {
		t.Fatal("expected error when no platform data is available")
	}
	testutil.AssertEqual(t, core.FailureKindOf(err), core.FailureTimeout)
	if backend.CallCount(testutil.ReasoningKey(core.PurposeMonitor)) != 0 {
		t.Error("reasoning should not run without data")
	}
	for _, r := range records {
		if r.Phase != core.PhaseMonitor {
			t.Errorf("record attributed to %s", r.Phase)
		}
	}
}

func TestMonitor_NonJSONAnalysisKept(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAnalysis)
	backend.Default(testutil.ReasoningKey(core.PurposeMonitor), testutil.Reply(testutil.Reasoning("Spend is stable.\nNothing unusual.")))

	res, _, err := run(t, testConfig(), backend, snapshot(core.PhaseMonitor, core.Options{Platforms: []string{"google"}}))
	if err != nil {
		t.Fatal(err)
	}
	payload := decodePayload[MonitorPayload](t, res)
	testutil.AssertEqual(t, payload.Summary, "Spend is stable.")
	testutil.AssertContains(t, payload.Analysis, "Nothing unusual")
	testutil.AssertLen(t, payload.Anomalies, 0)
}

func TestMonitor_PlatformsFromEntities(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAnalysis)
	snap := snapshot(core.PhaseMonitor, core.Options{})
	snap.Intent.Entities["platforms"] = []any{"LinkedIn", "myspace"}

	res, _, err := run(t, testConfig(), backend, snap)
	if err != nil {
		t.Fatal(err)
	}
	payload := decodePayload[MonitorPayload](t, res)
	if len(payload.Platforms) != 1 || payload.Platforms[0] != "linkedin" {
		t.Errorf("Platforms = %v, want [linkedin]", payload.Platforms)
	}
}

func TestMonitor_FanoutLimit(t *testing.T) {
	var current, peak int32
	backend := testutil.NewHappyBackend(core.IntentAnalysis)
	backend.Handle(string(core.ToolPlatformData), func(_ context.Context, args json.RawMessage) testutil.Response {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		var a core.PlatformDataArgs
		_ = json.Unmarshal(args, &a)
		return testutil.Reply(core.PlatformDataResult{Platform: a.Platform})
	})

	cfg := testConfig()
	cfg.FanoutLimit = 2
	_, _, err := run(t, cfg, backend, snapshot(core.PhaseMonitor, core.Options{Platforms: core.Platforms}))
	if err != nil {
		t.Fatal(err)
	}
	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestAnalyze_Success(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAnalysis)
	monitor := &core.PhaseResult{Phase: core.PhaseMonitor, Summary: "One campaign shows a CTR anomaly.", Payload: json.RawMessage(`{"anomalies":[]}`)}

	res, records, err := run(t, testConfig(), backend, snapshot(core.PhaseAnalyze, core.Options{}, monitor))
	if err != nil {
		t.Fatal(err)
	}
	payload := decodePayload[AnalyzePayload](t, res)
	testutil.AssertLen(t, payload.Benchmarks, 1)
	testutil.AssertLen(t, payload.History, 1)
	testutil.AssertLen(t, payload.Underperforming, 1)
	testutil.AssertLen(t, records, 3)

	var args core.ReasoningArgs
	for _, c := range backend.Calls() {
		if c.Key == testutil.ReasoningKey(core.PurposeAnalyze) {
			_ = json.Unmarshal(c.Args, &args)
		}
	}
	testutil.AssertContains(t, args.Prompt, "One campaign shows a CTR anomaly.")
}

func TestAnalyze_SearchFailuresArePartial(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAnalysis)
	backend.Default(string(core.ToolWebSearch), testutil.Fail(core.FailureRateLimited))
	backend.Default(string(core.ToolSimilaritySearch), testutil.Fail(core.FailureUnavailable))

	res, _, err := run(t, testConfig(), backend, snapshot(core.PhaseAnalyze, core.Options{}))
	if err != nil {
		t.Fatalf("search failures must not fail the phase: %v", err)
	}
	payload := decodePayload[AnalyzePayload](t, res)
	testutil.AssertLen(t, payload.Benchmarks, 0)
	testutil.AssertLen(t, payload.History, 0)
	testutil.AssertEqual(t, res.Metrics["benchmark_hits"], 0.0)
}

func TestAnalyze_ReasoningFailure(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAnalysis)
	backend.Default(testutil.ReasoningKey(core.PurposeAnalyze), testutil.Fail(core.FailureUnavailable))

	_, _, err := run(t, testConfig(), backend, snapshot(core.PhaseAnalyze, core.Options{}))
	if core.FailureKindOf(err) != core.FailureUnavailable {
		t.Fatalf("error = %v, want unavailable", err)
	}
	testutil.AssertEqual(t, backend.CallCount(testutil.ReasoningKey(core.PurposeAnalyze)), 2)
}

func TestExecuteActions_Success(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAction)

	res, _, err := run(t, testConfig(), backend, snapshot(core.PhaseExecuteActions, core.Options{}))
	if err != nil {
		t.Fatal(err)
	}
	payload := decodePayload[ActionsPayload](t, res)
	testutil.AssertLen(t, payload.Actions, 1)
	testutil.AssertEqual(t, payload.Actions[0].Status, ActionApplied)
	testutil.AssertEqual(t, payload.Actions[0].Key, "google-c2")
	testutil.AssertEqual(t, res.Metrics["rows_affected"], 1.0)
	testutil.AssertEqual(t, backend.CallCount(string(core.ToolDatastoreWrite)), 1)
}

func TestExecuteActions_WriteFailureNotRetried(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAction)
	backend.Handle(string(core.ToolDatastoreWrite), func(context.Context, json.RawMessage) testutil.Response {
		return testutil.Fail(core.FailureUnavailable)
	})

	_, records, err := run(t, testConfig(), backend, snapshot(core.PhaseExecuteActions, core.Options{}))
	if core.FailureKindOf(err) != core.FailureUnavailable {
		t.Fatalf("error = %v, want unavailable", err)
	}
	testutil.AssertEqual(t, backend.CallCount(string(core.ToolDatastoreWrite)), 1)
	testutil.AssertLen(t, records, 2)
}

func TestExecuteActions_MalformedPlan(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAction)
	backend.Default(testutil.ReasoningKey(core.PurposePlanActions), testutil.Reply(testutil.Reasoning("I would pause it.")))

	_, _, err := run(t, testConfig(), backend, snapshot(core.PhaseExecuteActions, core.Options{}))
	if core.FailureKindOf(err) != core.FailureInvalidResponse {
		t.Fatalf("error = %v, want invalid_response", err)
	}
	testutil.AssertEqual(t, backend.CallCount(string(core.ToolDatastoreWrite)), 0)
}

func TestExecuteActions_SkipsInvalidActions(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAction)
	backend.Default(testutil.ReasoningKey(core.PurposePlanActions), testutil.Reply(testutil.Reasoning(map[string]any{
		"actions": []map[string]any{
			{"operation": "archive", "campaign_id": "c1"},
			{"operation": "delete", "campaign_id": "c9"},
		},
	})))

	res, _, err := run(t, testConfig(), backend, snapshot(core.PhaseExecuteActions, core.Options{}))
	if err != nil {
		t.Fatal(err)
	}
	payload := decodePayload[ActionsPayload](t, res)
	testutil.AssertEqual(t, payload.Actions[0].Status, ActionSkipped)
	testutil.AssertEqual(t, payload.Actions[1].Status, ActionApplied)
	testutil.AssertEqual(t, payload.Summary, "Applied 1 of 2 planned actions.")
}

func TestExecuteActions_EmptyPlan(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAction)
	backend.Default(testutil.ReasoningKey(core.PurposePlanActions), testutil.Reply(testutil.Reasoning(map[string]any{"actions": []any{}, "summary": "Nothing to change."})))

	res, records, err := run(t, testConfig(), backend, snapshot(core.PhaseExecuteActions, core.Options{}))
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, res.Summary, "Nothing to change.")
	testutil.AssertLen(t, records, 1)
}

func TestOptimize_Success(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAnalysis)

	res, records, err := run(t, testConfig(), backend, snapshot(core.PhaseOptimize, core.Options{Platforms: []string{"instagram"}}))
	if err != nil {
		t.Fatal(err)
	}
	payload := decodePayload[OptimizePayload](t, res)
	testutil.AssertLen(t, payload.Recommendations, 1)
	testutil.AssertLen(t, payload.Creatives, 3)
	testutil.AssertLen(t, records, 2)

	for _, c := range backend.Calls() {
		if c.Tool == core.ToolGeneration {
			var a core.GenerationArgs
			_ = json.Unmarshal(c.Args, &a)
			testutil.AssertEqual(t, a.Platform, "instagram")
			testutil.AssertEqual(t, a.Variants, 3)
		}
	}
}

func TestOptimize_GenerationIsBestEffort(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAnalysis)
	backend.Default(string(core.ToolGeneration), testutil.Fail(core.FailureInvalidResponse))

	res, _, err := run(t, testConfig(), backend, snapshot(core.PhaseOptimize, core.Options{}))
	if err != nil {
		t.Fatal(err)
	}
	payload := decodePayload[OptimizePayload](t, res)
	testutil.AssertLen(t, payload.Creatives, 0)
	testutil.AssertLen(t, payload.Recommendations, 1)
}

func TestOptimize_ReasoningFailure(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAnalysis)
	backend.Default(testutil.ReasoningKey(core.PurposeOptimize), testutil.Fail(core.FailureTimeout))

	_, _, err := run(t, testConfig(), backend, snapshot(core.PhaseOptimize, core.Options{}))
	if core.FailureKindOf(err) != core.FailureTimeout {
		t.Fatalf("error = %v, want timeout", err)
	}
}

func TestReport_UsesPriorResults(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAnalysis)
	prior := []*core.PhaseResult{
		{Phase: core.PhaseAnalyze, Summary: "Prospecting underperforms.", Payload: json.RawMessage(`{}`)},
		{Phase: core.PhaseMonitor, Summary: "CTR anomaly on Prospecting.", Payload: json.RawMessage(`{}`)},
	}

	res, _, err := run(t, testConfig(), backend, snapshot(core.PhaseReport, core.Options{}, prior...))
	if err != nil {
		t.Fatal(err)
	}
	payload := decodePayload[ReportPayload](t, res)
	testutil.AssertContains(t, payload.Markdown, "## Report")
	if len(payload.Sources) != 2 || payload.Sources[0] != "monitor" || payload.Sources[1] != "analyze" {
		t.Errorf("Sources = %v, want canonical order [monitor analyze]", payload.Sources)
	}
	testutil.AssertEqual(t, res.Summary, "Report composed from 2 phase results.")

	var args core.ReasoningArgs
	for _, c := range backend.Calls() {
		if c.Key == testutil.ReasoningKey(core.PurposePhaseReport) {
			_ = json.Unmarshal(c.Args, &args)
		}
	}
	testutil.AssertContains(t, args.Prompt, "CTR anomaly on Prospecting.")
	if args.JSON {
		t.Error("report is prose, not JSON mode")
	}
}

func TestInvoke_NonRetryableNotRetried(t *testing.T) {
	b := newBase(Deps{Config: testConfig()})
	calls := 0
	inv := invokerFunc(func(ctx context.Context, args core.ToolArgs, out core.ToolResult) error {
		calls++
		return core.ErrValidation("X", "bad")
	})
	err := b.invoke(context.Background(), inv, &core.WebSearchArgs{Query: "q", MaxResults: 1}, &core.WebSearchResult{})
	if err == nil || calls != 1 {
		t.Errorf("err = %v, calls = %d; want error after one call", err, calls)
	}
}

func TestInvoke_ExhaustedReturnsLastFailure(t *testing.T) {
	cfg := testConfig()
	cfg.MicroRetries = 2
	b := newBase(Deps{Config: cfg})
	calls := 0
	inv := invokerFunc(func(ctx context.Context, args core.ToolArgs, out core.ToolResult) error {
		calls++
		return core.ErrTool(core.FailureTimeout, core.ToolWebSearch, "slow")
	})
	err := b.invoke(context.Background(), inv, &core.WebSearchArgs{Query: "q", MaxResults: 1}, &core.WebSearchResult{})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if boundary.IsRetryExhausted(err) {
		t.Fatalf("err = %v, want the last tool failure unwrapped", err)
	}
	if kind := core.FailureKindOf(err); kind != core.FailureTimeout {
		t.Errorf("FailureKindOf(err) = %s, want timeout", kind)
	}
}

type invokerFunc func(ctx context.Context, args core.ToolArgs, out core.ToolResult) error

func (f invokerFunc) Invoke(ctx context.Context, args core.ToolArgs, out core.ToolResult) error {
	return f(ctx, args, out)
}

var _ boundary.Invoker = invokerFunc(nil)
