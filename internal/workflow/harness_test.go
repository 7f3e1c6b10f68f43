package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/adpilot/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/adpilot/internal/boundary"
	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/events"
	"github.com/hugo-lorenzo-mato/adpilot/internal/intent"
	"github.com/hugo-lorenzo-mato/adpilot/internal/phases"
	"github.com/hugo-lorenzo-mato/adpilot/internal/prompt"
	"github.com/hugo-lorenzo-mato/adpilot/internal/testutil"
	"github.com/hugo-lorenzo-mato/adpilot/internal/validation"
)

type harness struct {
	backend    *testutil.ScriptedBackend
	boundary   *boundary.Boundary
	store      *state.MemoryStore
	router     *Router
	aggregator *Aggregator
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	router   RouterConfig
	boundary boundary.Config
	metrics  *Metrics
	events   events.Publisher
	wrapB    func(boundary.Backend) boundary.Backend
	wrapS    func(core.WorkflowStore) core.WorkflowStore
}

func withCallTimeout(d time.Duration) harnessOption {
	return func(c *harnessConfig) { c.boundary.CallTimeout = d }
}

func withMetrics(m *Metrics) harnessOption {
	return func(c *harnessConfig) { c.metrics = m }
}

func withEvents(p events.Publisher) harnessOption {
	return func(c *harnessConfig) { c.events = p }
}

// withBackendWrapper puts wrap between the boundary and the scripted backend.
func withBackendWrapper(wrap func(boundary.Backend) boundary.Backend) harnessOption {
	return func(c *harnessConfig) { c.wrapB = wrap }
}

// withStoreWrapper puts wrap between the router and the memory store.
func withStoreWrapper(wrap func(core.WorkflowStore) core.WorkflowStore) harnessOption {
	return func(c *harnessConfig) { c.wrapS = wrap }
}

func newHarness(t *testing.T, backend *testutil.ScriptedBackend, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{router: DefaultRouterConfig(), boundary: testutil.FastBoundaryConfig()}
	cfg.router.PhaseTimeout = 5 * time.Second
	for _, o := range opts {
		o(&cfg)
	}

	prompts, err := prompt.NewRenderer()
	if err != nil {
		t.Fatalf("creating renderer: %v", err)
	}
	var registered boundary.Backend = backend
	if cfg.wrapB != nil {
		registered = cfg.wrapB(backend)
	}
	b := testutil.NewBoundaryWithConfig(t, cfg.boundary, registered)
	pcfg := phases.DefaultConfig()
	pcfg.MicroRetries = 0
	pcfg.MicroRetryDelay = time.Millisecond

	store := state.NewMemoryStore()
	var routerStore core.WorkflowStore = store
	if cfg.wrapS != nil {
		routerStore = cfg.wrapS(store)
	}
	router := NewRouter(cfg.router, RouterDeps{
		Boundary:   b,
		Classifier: intent.NewClassifier(prompts, nil),
		Executors:  phases.NewRegistry(phases.Deps{Prompts: prompts, Config: pcfg}),
		Gate:       validation.NewGate(prompts, nil),
		Store:      routerStore,
		Metrics:    cfg.metrics,
		Events:     cfg.events,
	})
	return &harness{
		backend:    backend,
		boundary:   b,
		store:      store,
		router:     router,
		aggregator: NewAggregator(b, prompts, nil),
	}
}

func (h *harness) run(t *testing.T, instruction string, opts core.Options) *core.WorkflowContext {
	t.Helper()
	wc := core.NewWorkflowContext(core.WorkflowID("wf-"+t.Name()), instruction, opts)
	if err := h.router.Run(context.Background(), wc, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return wc
}

func gateCalls(b *testutil.ScriptedBackend) int {
	return b.CallCount(testutil.ReasoningKey(core.PurposeValidate))
}

func countErrors(wc *core.WorkflowContext, kind core.ErrorKind) int {
	n := 0
	for _, e := range wc.Errors {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func totalRetries(wc *core.WorkflowContext) int {
	n := 0
	for _, c := range wc.RetryCounts {
		n += c
	}
	return n
}

// assertAttributed checks every accepted result cites calls of its own phase.
func assertAttributed(t *testing.T, wc *core.WorkflowContext) {
	t.Helper()
	for phase, res := range wc.PhaseResults {
		if len(res.ToolCallIDs) == 0 {
			t.Errorf("%s result has no tool call ids", phase)
		}
		for _, id := range res.ToolCallIDs {
			if id < 0 || id >= len(wc.ToolCalls) {
				t.Errorf("%s cites unknown call %d", phase, id)
				continue
			}
			if got := wc.ToolCalls[id].Phase; got != phase {
				t.Errorf("%s cites call %d attributed to %s", phase, id, got)
			}
		}
	}
}
