package validation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/prompt"
	"github.com/hugo-lorenzo-mato/adpilot/internal/testutil"
)

func sampleResult() *core.PhaseResult {
	return &core.PhaseResult{
		Phase:             core.PhaseAnalyze,
		Attempt:           1,
		Payload:           json.RawMessage(`{"summary":"Prospecting underperforms"}`),
		SupportingContext: json.RawMessage(`{"campaigns":[{"id":"google-c2","ctr":0.003}]}`),
		Summary:           "Prospecting underperforms",
		ProducedAt:        time.Now(),
	}
}

func gateWith(t *testing.T, reply testutil.Response, opts ...Option) (core.Verdict, *testutil.ScriptedBackend) {
	t.Helper()
	r, err := prompt.NewRenderer()
	if err != nil {
		t.Fatal(err)
	}
	backend := testutil.NewScriptedBackend()
	backend.Default(testutil.ReasoningKey(core.PurposeValidate), reply)
	b := testutil.NewBoundary(t, backend)

	g := NewGate(r, nil, opts...)
	v := g.Validate(context.Background(), b.Recorder(core.AttributionValidate, 1), sampleResult(), "How is Prospecting doing?")
	return v, backend
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		reply      testutil.Response
		valid      bool
		confidence float64
	}{
		{"json valid", testutil.Reply(testutil.Reasoning(testutil.ValidVerdict)), true, 0.9},
		{"json invalid", testutil.Reply(testutil.Reasoning(testutil.InvalidVerdict)), false, 0.8},
		{"uppercase json verdict", testutil.Reply(testutil.Reasoning(map[string]any{"verdict": "VALID", "confidence": 0.7})), true, 0.7},
		{"bare VALID", testutil.Reply(testutil.Reasoning("VALID")), true, 1},
		{"bare HALLUCINATION", testutil.Reply(testutil.Reasoning("HALLUCINATION - the CTR figure is made up")), false, 1},
		{"gibberish", testutil.Reply(testutil.Reasoning("looks fine to me")), false, 0},
		{"unknown verdict word", testutil.Reply(testutil.Reasoning(map[string]any{"verdict": "maybe"})), false, 0},
		{"boundary failure", testutil.Fail(core.FailureTimeout), false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := gateWith(t, tt.reply)
			if v.Valid != tt.valid {
				t.Errorf("Valid = %v, want %v (reason %q)", v.Valid, tt.valid, v.Reason)
			}
			if v.Confidence != tt.confidence {
				t.Errorf("Confidence = %v, want %v", v.Confidence, tt.confidence)
			}
		})
	}
}

func TestValidate_MinConfidence(t *testing.T) {
	v, _ := gateWith(t, testutil.Reply(testutil.Reasoning(map[string]any{"verdict": "valid", "confidence": 0.4})), WithMinConfidence(0.6))
	if v.Valid {
		t.Error("valid verdict below min confidence should be rejected")
	}
	testutil.AssertContains(t, v.Reason, "below minimum")
}

func TestValidate_PromptCarriesPayloadAndContext(t *testing.T) {
	_, backend := gateWith(t, testutil.Reply(testutil.Reasoning(testutil.ValidVerdict)))
	calls := backend.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	var args core.ReasoningArgs
	if err := json.Unmarshal(calls[0].Args, &args); err != nil {
		t.Fatal(err)
	}
	testutil.AssertContains(t, args.Prompt, "Prospecting underperforms")
	testutil.AssertContains(t, args.Prompt, "google-c2")
	if args.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0", args.Temperature)
	}
}

func TestValidate_NilResult(t *testing.T) {
	r, _ := prompt.NewRenderer()
	v := NewGate(r, nil).Validate(context.Background(), nil, nil, "x")
	if v.Valid || v.Confidence != 0 {
		t.Errorf("nil result verdict = %+v", v)
	}
}

func TestClip(t *testing.T) {
	long := make([]byte, maxPayloadChars+10)
	for i := range long {
		long[i] = 'a'
	}
	got := clip(string(long))
	testutil.AssertContains(t, got, "(truncated)")
	testutil.AssertEqual(t, clip("short"), "short")
}
