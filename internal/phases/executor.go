// Package phases implements the phase executors. Each executor performs
// one unit of campaign work through the invocation boundary and returns a
// core.PhaseResult; none of them knows about routing or enforcement.
package phases

import (
	"context"
	"time"

	"github.com/hugo-lorenzo-mato/adpilot/internal/boundary"
	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/logging"
	"github.com/hugo-lorenzo-mato/adpilot/internal/prompt"
)

// Executor runs one phase against a read-only snapshot.
type Executor interface {
	Phase() core.Phase
	Execute(ctx context.Context, snap core.Snapshot, inv boundary.Invoker) (*core.PhaseResult, error)
}

// Config tunes executor fan-out and data volume.
type Config struct {
	FanoutLimit      int
	MicroRetries     int
	MicroRetryDelay  time.Duration
	SearchResults    int
	SimilarityTopK   int
	CreativeVariants int
	Platforms        []string
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		FanoutLimit:      4,
		MicroRetries:     1,
		MicroRetryDelay:  500 * time.Millisecond,
		SearchResults:    5,
		SimilarityTopK:   5,
		CreativeVariants: 3,
		Platforms:        append([]string(nil), core.Platforms...),
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.FanoutLimit < 1 {
		c.FanoutLimit = 1
	}
	if c.MicroRetries < 0 {
		c.MicroRetries = 0
	}
	if c.SearchResults < 1 {
		c.SearchResults = def.SearchResults
	}
	if c.SimilarityTopK < 1 {
		c.SimilarityTopK = def.SimilarityTopK
	}
	if c.CreativeVariants < 1 {
		c.CreativeVariants = def.CreativeVariants
	}
	if len(c.Platforms) == 0 {
		c.Platforms = def.Platforms
	}
	return c
}

// Deps holds what every executor needs.
type Deps struct {
	Prompts *prompt.Renderer
	Logger  *logging.Logger
	Config  Config
}

// Registry maps each routable phase to its executor.
type Registry map[core.Phase]Executor

// NewRegistry builds an executor for every routable phase.
func NewRegistry(deps Deps) Registry {
	b := newBase(deps)
	return Registry{
		core.PhaseMonitor:        &Monitor{base: b},
		core.PhaseAnalyze:        &Analyze{base: b},
		core.PhaseExecuteActions: &ExecuteActions{base: b},
		core.PhaseOptimize:       &Optimize{base: b},
		core.PhaseReport:         &Report{base: b},
	}
}

// Get returns the executor for phase.
func (r Registry) Get(phase core.Phase) (Executor, bool) {
	e, ok := r[phase]
	return e, ok
}
