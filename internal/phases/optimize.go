package phases

import (
	"context"

	"github.com/hugo-lorenzo-mato/adpilot/internal/boundary"
	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/prompt"
)

// Recommendation is one optimization proposal.
type Recommendation struct {
	CampaignID     string `json:"campaign_id"`
	Action         string `json:"action"`
	Rationale      string `json:"rationale"`
	ExpectedImpact string `json:"expected_impact"`
}

// OptimizePayload is the optimize phase output.
type OptimizePayload struct {
	Recommendations []Recommendation `json:"recommendations"`
	Creatives       []string         `json:"creatives"`
	Summary         string           `json:"summary"`
	Analysis        string           `json:"analysis_text,omitempty"`
	Calls           []CallOutcome    `json:"calls"`
}

// Optimize produces recommendations and creative suggestions concurrently.
// Creative generation is best effort.
type Optimize struct {
	base
}

// Phase implements Executor.
func (o *Optimize) Phase() core.Phase { return core.PhaseOptimize }

// Execute implements Executor.
func (o *Optimize) Execute(ctx context.Context, snap core.Snapshot, inv boundary.Invoker) (*core.PhaseResult, error) {
	prior := priorText(snap, 3000)
	params := prompt.OptimizeParams{
		Instruction: snap.Instruction,
		Prior:       prior,
		Variants:    o.cfg.CreativeVariants,
	}
	if ps := o.platforms(snap); len(ps) > 0 {
		params.Platform = ps[0]
	}

	recPrompt, err := o.prompts.RenderOptimize(params)
	if err != nil {
		return nil, err
	}
	creativePrompt, err := o.prompts.RenderCreatives(params)
	if err != nil {
		return nil, err
	}

	var (
		log       callLog
		text      string
		reasonErr error
		creatives = []string{}
	)
	g, gctx := o.group(ctx)
	g.Go(func() error {
		text, reasonErr = o.reason(gctx, inv, core.PurposeOptimize, recPrompt, 0.3, true)
		log.add(core.ToolReasoning, core.PurposeOptimize, reasonErr)
		return nil
	})
	g.Go(func() error {
		var out core.GenerationResult
		err := o.invoke(gctx, inv, &core.GenerationArgs{
			Prompt:      creativePrompt,
			Platform:    params.Platform,
			Variants:    o.cfg.CreativeVariants,
			Temperature: 0.8,
		}, &out)
		log.add(core.ToolGeneration, params.Platform, err)
		if err == nil {
			creatives = out.Variants
		}
		return nil
	})
	_ = g.Wait()

	if reasonErr != nil {
		return nil, reasonErr
	}

	payload := OptimizePayload{Recommendations: []Recommendation{}, Creatives: creatives}
	var reply struct {
		Recommendations []Recommendation `json:"recommendations"`
		Summary         string           `json:"summary"`
	}
	if err := prompt.Decode(text, &reply); err != nil {
		payload.Analysis = text
		payload.Summary = firstLine(text)
	} else {
		if reply.Recommendations != nil {
			payload.Recommendations = reply.Recommendations
		}
		payload.Summary = reply.Summary
	}
	payload.Calls = log.list()

	supporting := map[string]any{"prior": prior}
	metrics := map[string]float64{
		"recommendations":   float64(len(payload.Recommendations)),
		"creative_variants": float64(len(creatives)),
	}
	return newResult(snap, payload.Summary, payload, supporting, metrics)
}
