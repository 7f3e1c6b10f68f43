// Package intent classifies a natural-language instruction into the intent
// that decides which phases a workflow runs.
package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/adpilot/internal/boundary"
	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/logging"
	"github.com/hugo-lorenzo-mato/adpilot/internal/prompt"
)

// Classifier turns an instruction into a core.Intent with one reasoning call.
type Classifier struct {
	prompts *prompt.Renderer
	logger  *logging.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(prompts *prompt.Renderer, logger *logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Classifier{prompts: prompts, logger: logger}
}

type classification struct {
	IntentType              string         `json:"intent_type"`
	Confidence              *float64       `json:"confidence"`
	Entities                map[string]any `json:"entities"`
	RequiresDatabaseChanges *bool          `json:"requires_database_changes"`
	Reasoning               string         `json:"reasoning"`
}

// Classify never fails. A boundary failure or an unusable reply yields
// core.DefaultIntent.
func (c *Classifier) Classify(ctx context.Context, inv boundary.Invoker, instruction string) core.Intent {
	in, err := c.classify(ctx, inv, instruction)
	if err != nil {
		c.logger.WithContext(ctx).Warn("intent classification failed, using default", "error", err)
		return core.DefaultIntent()
	}
	return in
}

func (c *Classifier) classify(ctx context.Context, inv boundary.Invoker, instruction string) (core.Intent, error) {
	system, err := c.prompts.RenderIntentSystem()
	if err != nil {
		return core.Intent{}, err
	}
	user, err := c.prompts.RenderIntent(prompt.IntentParams{Instruction: instruction})
	if err != nil {
		return core.Intent{}, err
	}

	var res core.ReasoningResult
	err = inv.Invoke(ctx, &core.ReasoningArgs{
		Purpose:     core.PurposeClassifyIntent,
		System:      system,
		Prompt:      user,
		Temperature: 0,
		JSON:        true,
	}, &res)
	if err != nil {
		return core.Intent{}, err
	}
	return parse(res.Text)
}

func parse(text string) (core.Intent, error) {
	var cl classification
	if err := prompt.Decode(text, &cl); err != nil {
		return core.Intent{}, err
	}

	t := core.IntentType(strings.ToLower(strings.TrimSpace(cl.IntentType)))
	if !core.ValidIntentType(t) {
		return core.Intent{}, fmt.Errorf("unknown intent type %q", cl.IntentType)
	}

	in := core.Intent{Type: t, Entities: cl.Entities}
	if cl.Confidence != nil {
		in.Confidence = clamp(*cl.Confidence)
	}
	if in.Entities == nil {
		in.Entities = map[string]any{}
	}
	if cl.RequiresDatabaseChanges != nil {
		in.Entities["requires_database_changes"] = *cl.RequiresDatabaseChanges
	}
	return in, nil
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
