package phases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/adpilot/internal/boundary"
	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/logging"
	"github.com/hugo-lorenzo-mato/adpilot/internal/prompt"
)

// CallOutcome is the per-call entry carried in every payload.
type CallOutcome struct {
	Tool  core.ToolName `json:"tool"`
	Label string        `json:"label,omitempty"`
	OK    bool          `json:"ok"`
	Error string        `json:"error,omitempty"`
}

// callLog collects call outcomes from concurrent goroutines.
type callLog struct {
	mu    sync.Mutex
	calls []CallOutcome
}

func (l *callLog) add(tool core.ToolName, label string, err error) {
	o := CallOutcome{Tool: tool, Label: label, OK: err == nil}
	if err != nil {
		o.Error = err.Error()
	}
	l.mu.Lock()
	l.calls = append(l.calls, o)
	l.mu.Unlock()
}

func (l *callLog) list() []CallOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]CallOutcome{}, l.calls...)
}

func (l *callLog) failures() []string {
	var out []string
	for _, c := range l.list() {
		if !c.OK {
			name := string(c.Tool)
			if c.Label != "" {
				name += " " + c.Label
			}
			out = append(out, name)
		}
	}
	return out
}

type base struct {
	prompts *prompt.Renderer
	logger  *logging.Logger
	cfg     Config
}

func newBase(deps Deps) base {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return base{prompts: deps.Prompts, logger: logger, cfg: deps.Config.normalized()}
}

func (b base) log(ctx context.Context, phase core.Phase) *logging.Logger {
	return b.logger.WithContext(ctx).WithPhase(string(phase))
}

func (b base) group(ctx context.Context) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.FanoutLimit)
	return g, gctx
}

// invoke calls the boundary, micro-retrying retryable failures of
// non-mutating tools.
func (b base) invoke(ctx context.Context, inv boundary.Invoker, args core.ToolArgs, out core.ToolResult) error {
	attempts := 1 + b.cfg.MicroRetries
	if c, ok := core.ContractFor(args.ToolName()); ok && c.Mutating {
		attempts = 1
	}
	policy := boundary.NewRetryPolicy(
		boundary.WithMaxAttempts(attempts),
		boundary.WithBaseDelay(b.cfg.MicroRetryDelay),
		boundary.WithMaxDelay(4*b.cfg.MicroRetryDelay),
		boundary.WithJitter(0.1),
	)
	err := policy.Execute(ctx, func(ctx context.Context) error {
		return inv.Invoke(ctx, args, out)
	})
	if boundary.IsRetryExhausted(err) {
		return errors.Unwrap(err)
	}
	return err
}

// reason asks the reasoning tool with the shared analyst system prompt.
func (b base) reason(ctx context.Context, inv boundary.Invoker, purpose, user string, temperature float64, jsonMode bool) (string, error) {
	system, err := b.prompts.RenderAnalystSystem()
	if err != nil {
		return "", err
	}
	var res core.ReasoningResult
	err = b.invoke(ctx, inv, &core.ReasoningArgs{
		Purpose:     purpose,
		System:      system,
		Prompt:      user,
		Temperature: temperature,
		JSON:        jsonMode,
	}, &res)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func newResult(snap core.Snapshot, summary string, payload, supporting any, metrics map[string]float64) (*core.PhaseResult, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", snap.Phase, err)
	}
	s, err := json.Marshal(supporting)
	if err != nil {
		return nil, fmt.Errorf("encoding %s supporting context: %w", snap.Phase, err)
	}
	return &core.PhaseResult{
		Phase:             snap.Phase,
		Attempt:           snap.Attempt,
		Payload:           p,
		Metrics:           metrics,
		Summary:           summary,
		SupportingContext: s,
		ProducedAt:        time.Now(),
	}, nil
}

// digests returns prior results in canonical phase order.
func digests(snap core.Snapshot, limit int) []prompt.PhaseDigest {
	var out []prompt.PhaseDigest
	for _, p := range core.AllPhases() {
		r, ok := snap.Prior[p]
		if !ok || r == nil {
			continue
		}
		payload := string(r.Payload)
		if limit > 0 && len(payload) > limit {
			payload = payload[:limit] + "..."
		}
		out = append(out, prompt.PhaseDigest{Phase: string(p), Summary: r.Summary, Payload: payload})
	}
	return out
}

// priorText renders prior results as plain text for prompts.
func priorText(snap core.Snapshot, limit int) string {
	var sb strings.Builder
	for _, d := range digests(snap, limit) {
		fmt.Fprintf(&sb, "[%s] %s\n%s\n\n", d.Phase, d.Summary, d.Payload)
	}
	return strings.TrimSpace(sb.String())
}

// platforms resolves the platforms a phase works on: explicit options,
// then classifier entities, then configuration.
func (b base) platforms(snap core.Snapshot) []string {
	if ps := filterPlatforms(snap.Options.Platforms); len(ps) > 0 {
		return ps
	}
	if raw, ok := snap.Intent.Entities["platforms"]; ok {
		var names []string
		switch v := raw.(type) {
		case []string:
			names = v
		case []any:
			for _, x := range v {
				if s, ok := x.(string); ok {
					names = append(names, s)
				}
			}
		}
		if ps := filterPlatforms(names); len(ps) > 0 {
			return ps
		}
	}
	return append([]string(nil), b.cfg.Platforms...)
}

func filterPlatforms(names []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if core.IsValidPlatform(n) && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// firstLine returns a one-line summary from free text.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimLeft(s, "# ")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
