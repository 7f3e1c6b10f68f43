// Package validation grades phase results against the data they were
// derived from before the router accepts them.
package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/adpilot/internal/boundary"
	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/logging"
	"github.com/hugo-lorenzo-mato/adpilot/internal/prompt"
)

// Verdict words accepted in replies.
const (
	verdictValid         = "valid"
	verdictInvalid       = "invalid"
	verdictHallucination = "hallucination"
)

// maxPayloadChars bounds the payload and context shown to the grader.
const maxPayloadChars = 12000

// Gate is the validation gate.
type Gate struct {
	prompts       *prompt.Renderer
	logger        *logging.Logger
	minConfidence float64
}

// Option configures a Gate.
type Option func(*Gate)

// WithMinConfidence makes valid verdicts below c count as invalid.
func WithMinConfidence(c float64) Option {
	return func(g *Gate) {
		g.minConfidence = c
	}
}

// NewGate creates a validation gate.
func NewGate(prompts *prompt.Renderer, logger *logging.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = logging.NewNop()
	}
	g := &Gate{prompts: prompts, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type gradeReply struct {
	Verdict    string   `json:"verdict"`
	Confidence *float64 `json:"confidence"`
	Reason     string   `json:"reason"`
}

// Validate grades result. It never fails: a boundary failure or an
// unparsable reply is an invalid verdict with confidence 0.
func (g *Gate) Validate(ctx context.Context, inv boundary.Invoker, result *core.PhaseResult, instruction string) core.Verdict {
	if result == nil {
		return core.Verdict{Reason: "no result to validate"}
	}
	logger := g.logger.WithContext(ctx).WithPhase(string(result.Phase))

	v, err := g.grade(ctx, inv, result, instruction)
	if err != nil {
		logger.Warn("validation call failed", "error", err)
		return core.Verdict{Reason: "validation unavailable: " + err.Error()}
	}
	if v.Valid && v.Confidence < g.minConfidence {
		v.Valid = false
		v.Reason = fmt.Sprintf("confidence %.2f below minimum %.2f: %s", v.Confidence, g.minConfidence, v.Reason)
	}
	logger.Debug("phase result graded", "valid", v.Valid, "confidence", v.Confidence)
	return v
}

func (g *Gate) grade(ctx context.Context, inv boundary.Invoker, result *core.PhaseResult, instruction string) (core.Verdict, error) {
	system, err := g.prompts.RenderValidateSystem()
	if err != nil {
		return core.Verdict{}, err
	}
	user, err := g.prompts.RenderValidate(prompt.ValidateParams{
		Instruction:       instruction,
		Phase:             string(result.Phase),
		Payload:           clip(string(result.Payload)),
		SupportingContext: clip(string(result.SupportingContext)),
	})
	if err != nil {
		return core.Verdict{}, err
	}

	var res core.ReasoningResult
	if err := inv.Invoke(ctx, &core.ReasoningArgs{
		Purpose:     core.PurposeValidate,
		System:      system,
		Prompt:      user,
		Temperature: 0,
		JSON:        true,
	}, &res); err != nil {
		return core.Verdict{}, err
	}
	return parseVerdict(res.Text)
}

// parseVerdict accepts the JSON reply or a bare VALID / HALLUCINATION word.
func parseVerdict(text string) (core.Verdict, error) {
	var r gradeReply
	if err := prompt.Decode(text, &r); err == nil && r.Verdict != "" {
		v, ok := verdictFromWord(r.Verdict)
		if !ok {
			return core.Verdict{}, fmt.Errorf("unknown verdict %q", r.Verdict)
		}
		v.Reason = r.Reason
		if r.Confidence != nil {
			v.Confidence = clamp(*r.Confidence)
		}
		return v, nil
	}

	word := strings.Trim(strings.TrimSpace(text), `."'`)
	if fields := strings.Fields(word); len(fields) > 0 {
		word = fields[0]
	}
	if v, ok := verdictFromWord(word); ok {
		v.Reason = strings.TrimSpace(text)
		return v, nil
	}
	return core.Verdict{}, errors.New("reply carries no verdict")
}

// verdictFromWord maps a verdict word. Bare words carry full confidence.
func verdictFromWord(w string) (core.Verdict, bool) {
	switch strings.ToLower(strings.Trim(w, `."':,`)) {
	case verdictValid:
		return core.Verdict{Valid: true, Confidence: 1}, true
	case verdictInvalid, verdictHallucination:
		return core.Verdict{Valid: false, Confidence: 1}, true
	default:
		return core.Verdict{}, false
	}
}

func clip(s string) string {
	if len(s) <= maxPayloadChars {
		return s
	}
	return s[:maxPayloadChars] + "\n...(truncated)"
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
