package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/adpilot/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/intent"
	"github.com/hugo-lorenzo-mato/adpilot/internal/phases"
	"github.com/hugo-lorenzo-mato/adpilot/internal/prompt"
	"github.com/hugo-lorenzo-mato/adpilot/internal/testutil"
	"github.com/hugo-lorenzo-mato/adpilot/internal/validation"
	"github.com/hugo-lorenzo-mato/adpilot/internal/workflow"
)

type fakeService struct {
	mu        sync.Mutex
	started   []CreateWorkflowRequest
	startErr  error
	reports   map[core.WorkflowID]*core.FinalReport
	running   map[core.WorkflowID]*core.WorkflowContext
	calls     map[core.WorkflowID][]core.ToolCallRecord
	cancelled []core.WorkflowID
	cancelErr error
	listLimit int
}

func newFakeService() *fakeService {
	return &fakeService{
		reports: make(map[core.WorkflowID]*core.FinalReport),
		running: make(map[core.WorkflowID]*core.WorkflowContext),
		calls:   make(map[core.WorkflowID][]core.ToolCallRecord),
	}
}

func (f *fakeService) StartWorkflow(_ context.Context, instruction string, opts core.Options) (core.WorkflowID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, CreateWorkflowRequest{Instruction: instruction, Options: opts})
	return "wf-fake", nil
}

func (f *fakeService) GetResult(_ context.Context, id core.WorkflowID) (*core.FinalReport, error) {
	if r, ok := f.reports[id]; ok {
		return r, nil
	}
	if _, ok := f.running[id]; ok {
		return nil, core.ErrStillRunning
	}
	return nil, core.ErrNotFound("workflow", string(id))
}

func (f *fakeService) Status(_ context.Context, id core.WorkflowID) (*core.WorkflowContext, error) {
	if wc, ok := f.running[id]; ok {
		return wc, nil
	}
	return nil, core.ErrNotFound("workflow", string(id))
}

func (f *fakeService) ToolCalls(_ context.Context, id core.WorkflowID) ([]core.ToolCallRecord, error) {
	calls, ok := f.calls[id]
	if !ok {
		return nil, core.ErrNotFound("workflow", string(id))
	}
	return calls, nil
}

func (f *fakeService) Cancel(id core.WorkflowID) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeService) List(_ context.Context, limit int) ([]core.WorkflowSummary, error) {
	f.listLimit = limit
	return nil, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := NewServer(newFakeService(), WithLogger(quietLogger()))
	rec := do(t, srv.Handler(), http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestCreateWorkflow(t *testing.T) {
	svc := newFakeService()
	srv := NewServer(svc, WithLogger(quietLogger()))

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/workflows",
		`{"instruction":"analyze meta","options":{"platforms":["meta"],"max_iterations":3}}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/api/v1/workflows/wf-fake", rec.Header().Get("Location"))
	var body WorkflowAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, core.WorkflowID("wf-fake"), body.WorkflowID)
	assert.Equal(t, core.WorkflowStatusRunning, body.Status)

	require.Len(t, svc.started, 1)
	assert.Equal(t, "analyze meta", svc.started[0].Instruction)
	assert.Equal(t, []string{"meta"}, svc.started[0].Options.Platforms)
	assert.Equal(t, 3, svc.started[0].Options.MaxIterations)
}

func TestCreateWorkflow_BadBody(t *testing.T) {
	srv := NewServer(newFakeService(), WithLogger(quietLogger()))

	for _, body := range []string{`{`, `{"instruction":"x","unknown":1}`} {
		rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/workflows", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestCreateWorkflow_ValidationError(t *testing.T) {
	svc := newFakeService()
	svc.startErr = core.ErrValidation(core.CodeEmptyInstruction, "instruction must not be empty")
	srv := NewServer(svc, WithLogger(quietLogger()))

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/workflows", `{"instruction":"  "}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), core.CodeEmptyInstruction)
}

func TestGetWorkflow(t *testing.T) {
	svc := newFakeService()
	svc.reports["wf-done"] = &core.FinalReport{WorkflowID: "wf-done", Status: core.WorkflowStatusCompleted, Summary: "ok"}
	running := core.NewWorkflowContext("wf-run", "analyze", core.Options{})
	running.Status = core.WorkflowStatusRunning
	running.CurrentPhase = core.PhaseAnalyze
	running.Iterations = 2
	svc.running["wf-run"] = running
	srv := NewServer(svc, WithLogger(quietLogger()))

	t.Run("completed", func(t *testing.T) {
		rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/workflows/wf-done", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var report core.FinalReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, core.WorkflowStatusCompleted, report.Status)
		assert.Equal(t, "ok", report.Summary)
	})

	t.Run("running", func(t *testing.T) {
		rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/workflows/wf-run", "")
		require.Equal(t, http.StatusAccepted, rec.Code)
		var body WorkflowAccepted
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, core.PhaseAnalyze, body.CurrentPhase)
		assert.Equal(t, 2, body.Iterations)
	})

	t.Run("unknown", func(t *testing.T) {
		rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/workflows/wf-nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetToolCalls(t *testing.T) {
	svc := newFakeService()
	svc.calls["wf-1"] = []core.ToolCallRecord{{Seq: 0, Tool: core.ToolPlatformData, Phase: core.PhaseMonitor, Attempts: 1}}
	svc.calls["wf-empty"] = nil
	srv := NewServer(svc, WithLogger(quietLogger()))

	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/workflows/wf-1/tool-calls", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var calls []core.ToolCallRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &calls))
	require.Len(t, calls, 1)
	assert.Equal(t, core.ToolPlatformData, calls[0].Tool)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/v1/workflows/wf-empty/tool-calls", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestCancelWorkflow(t *testing.T) {
	svc := newFakeService()
	srv := NewServer(svc, WithLogger(quietLogger()))

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/workflows/wf-1/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []core.WorkflowID{"wf-1"}, svc.cancelled)

	svc.cancelErr = core.ErrState(core.CodeAlreadyTerminal, "already finished")
	rec = do(t, srv.Handler(), http.MethodPost, "/api/v1/workflows/wf-1/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListWorkflows(t *testing.T) {
	svc := newFakeService()
	srv := NewServer(svc, WithLogger(quietLogger()))

	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/workflows?limit=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, 7, svc.listLimit)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/v1/workflows?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSAllowedOrigins(t *testing.T) {
	srv := NewServer(newFakeService(), WithLogger(quietLogger()), WithAllowedOrigins([]string{"https://ads.example.com"}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://ads.example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "https://ads.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHTTPStatusForDomainError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrValidation(core.CodeInvalidOptions, "bad"), http.StatusUnprocessableEntity},
		{core.ErrNotFound("workflow", "x"), http.StatusNotFound},
		{core.ErrStillRunning, http.StatusConflict},
		{core.ErrState(core.CodeAlreadyTerminal, "done"), http.StatusConflict},
		{core.ErrState(core.CodeStateCorrupted, "bad"), http.StatusInternalServerError},
		{core.ErrTool(core.FailureUnavailable, core.ToolPlatformData, "down"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		got, ok := httpStatusForDomainError(tt.err)
		assert.True(t, ok, tt.err.Error())
		assert.Equal(t, tt.want, got, tt.err.Error())
	}

	_, ok := httpStatusForDomainError(io.EOF)
	assert.False(t, ok)
}

func TestEndToEnd_SubmitAndFetch(t *testing.T) {
	prompts, err := prompt.NewRenderer()
	require.NoError(t, err)

	backend := testutil.NewHappyBackend(core.IntentAnalysis)
	b := testutil.NewBoundary(t, backend)
	store := state.NewMemoryStore()
	pcfg := phases.DefaultConfig()
	pcfg.MicroRetries = 0

	router := workflow.NewRouter(workflow.DefaultRouterConfig(), workflow.RouterDeps{
		Boundary:   b,
		Classifier: intent.NewClassifier(prompts, nil),
		Executors:  phases.NewRegistry(phases.Deps{Prompts: prompts, Config: pcfg}),
		Gate:       validation.NewGate(prompts, nil),
		Store:      store,
	})
	svc := workflow.NewService(workflow.ServiceConfig{}, workflow.ServiceDeps{
		Router:     router,
		Aggregator: workflow.NewAggregator(b, prompts, nil),
		Store:      store,
	})
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	ts := httptest.NewServer(NewServer(svc, WithLogger(quietLogger())).Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Post(ts.URL+"/api/v1/workflows", "application/json",
		bytes.NewBufferString(`{"instruction":"How are my meta campaigns doing?"}`))
	require.NoError(t, err)
	var accepted WorkflowAccepted
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var report core.FinalReport
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/v1/workflows/" + string(accepted.WorkflowID))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		return json.NewDecoder(resp.Body).Decode(&report) == nil
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, core.WorkflowStatusCompleted, report.Status)
	assert.Equal(t, []core.Phase{core.PhaseMonitor, core.PhaseAnalyze, core.PhaseOptimize, core.PhaseReport}, report.Sequence)

	resp, err = http.Get(ts.URL + "/api/v1/workflows/" + string(accepted.WorkflowID) + "/tool-calls")
	require.NoError(t, err)
	defer resp.Body.Close()
	var calls []core.ToolCallRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&calls))
	assert.Len(t, calls, report.ToolCallCount)
}
