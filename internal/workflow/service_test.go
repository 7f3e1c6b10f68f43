package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/events"
	"github.com/hugo-lorenzo-mato/adpilot/internal/testutil"
)

type fakeReports struct {
	mu      sync.Mutex
	written []core.WorkflowID
	err     error
}

func (f *fakeReports) Write(report *core.FinalReport) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.written = append(f.written, report.WorkflowID)
	return "/tmp/" + string(report.WorkflowID) + ".md", nil
}

func newService(h *harness, reports ReportWriter) *Service {
	return NewService(ServiceConfig{}, ServiceDeps{
		Router:     h.router,
		Aggregator: h.aggregator,
		Store:      h.store,
		Reports:    reports,
	})
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// blockPlatformData holds every platform_data call until release is closed.
func blockPlatformData(backend *testutil.ScriptedBackend) (started <-chan struct{}, release chan struct{}) {
	startedCh := make(chan struct{}, 16)
	release = make(chan struct{})
	backend.Handle(string(core.ToolPlatformData), func(ctx context.Context, args json.RawMessage) testutil.Response {
		startedCh <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return testutil.Response{Err: ctx.Err()}
		}
		var a core.PlatformDataArgs
		_ = json.Unmarshal(args, &a)
		return testutil.Reply(core.PlatformDataResult{Platform: a.Platform, Campaigns: testutil.SampleCampaigns(a.Platform)})
	})
	return startedCh, release
}

func TestValidateInstruction(t *testing.T) {
	tests := []struct {
		name        string
		instruction string
		code        string
	}{
		{"empty", "", core.CodeEmptyInstruction},
		{"whitespace", "  \n\t ", core.CodeEmptyInstruction},
		{"too long", strings.Repeat("a", core.MaxInstructionLength+1), core.CodeInstructionLength},
		{"ok", "How did my campaigns perform?", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInstruction(tt.instruction)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			var de *core.DomainError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.code, de.Code)
			assert.Equal(t, core.ErrCatValidation, de.Category)
		})
	}
}

func TestService_StartRejectsInvalidSubmissions(t *testing.T) {
	h := newHarness(t, testutil.NewHappyBackend(core.IntentAnalysis))
	svc := newService(h, nil)

	_, err := svc.StartWorkflow(context.Background(), "", core.Options{})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))

	_, err = svc.StartWorkflow(context.Background(), "ok", core.Options{MaxIterations: -1})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))

	list, err := svc.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestService_RunToCompletion(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAnalysis)
	h := newHarness(t, backend)
	reports := &fakeReports{}
	svc := newService(h, reports)
	ctx := waitCtx(t)

	id, err := svc.StartWorkflow(ctx, "  How did my campaigns perform?  ", core.Options{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(id), "wf-"))

	report, err := svc.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowStatusCompleted, report.Status)
	assert.Equal(t, "How did my campaigns perform?", report.Instruction)

	got, err := svc.GetResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, report, got)

	calls, err := svc.ToolCalls(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, report.ToolCallCount, len(calls))

	status, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowStatusCompleted, status.Status)

	list, err := svc.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	assert.Equal(t, []core.WorkflowID{id}, reports.written)

	stored, err := h.store.LoadReport(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, report.Summary, stored.Summary)
}

func TestService_ResultWhileRunning(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAnalysis)
	started, release := blockPlatformData(backend)
	h := newHarness(t, backend)
	svc := newService(h, nil)
	ctx := waitCtx(t)

	id, err := svc.StartWorkflow(ctx, "How did my campaigns perform?", core.Options{})
	require.NoError(t, err)
	<-started

	_, err = svc.GetResult(ctx, id)
	assert.True(t, errors.Is(err, core.ErrStillRunning), "got %v", err)

	close(release)
	report, err := svc.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowStatusCompleted, report.Status)
}

func TestService_CancelStopsWhenCurrentPhaseReturns(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAnalysis)
	started, release := blockPlatformData(backend)
	h := newHarness(t, backend)
	svc := newService(h, nil)
	ctx := waitCtx(t)

	id, err := svc.StartWorkflow(ctx, "How did my campaigns perform?", core.Options{})
	require.NoError(t, err)
	<-started

	require.NoError(t, svc.Cancel(id))
	close(release)

	report, err := svc.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowStatusStopped, report.Status)
	assert.Equal(t, core.StopCancelled, report.StopReason)
	// The in-flight monitor attempt finishes its calls but is neither
	// validated nor stored.
	assert.Empty(t, report.PhaseResults)
	assert.Zero(t, gateCalls(backend))
	calls, err := svc.ToolCalls(ctx, id)
	require.NoError(t, err)
	var monitorCalls int
	for _, c := range calls {
		if c.Phase == core.PhaseMonitor {
			monitorCalls++
		}
	}
	assert.Positive(t, monitorCalls)

	err = svc.Cancel(id)
	var de *core.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, core.CodeAlreadyTerminal, de.Code)

	assert.True(t, core.IsCategory(svc.Cancel("wf-unknown"), core.ErrCatNotFound))
}

func TestService_ResultFromStoreAfterRestart(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAnalysis)
	h := newHarness(t, backend)
	ctx := waitCtx(t)

	first := newService(h, nil)
	id, err := first.StartWorkflow(ctx, "How did my campaigns perform?", core.Options{})
	require.NoError(t, err)
	want, err := first.Wait(ctx, id)
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(ctx))

	second := newService(h, nil)
	got, err := second.GetResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, want.Summary, got.Summary)
	assert.Equal(t, want.ToolCallCount, got.ToolCallCount)

	got, err = second.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, want.Status, got.Status)

	_, err = second.GetResult(ctx, "wf-unknown")
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestService_StoredRunningWorkflowIsStillRunning(t *testing.T) {
	h := newHarness(t, testutil.NewHappyBackend(core.IntentAnalysis))
	ctx := waitCtx(t)
	wc := testutil.NewTestContext(t, "How did my campaigns perform?", core.Options{})
	require.NoError(t, h.store.Save(ctx, wc))

	svc := newService(h, nil)
	_, err := svc.GetResult(ctx, wc.ID)
	assert.True(t, errors.Is(err, core.ErrStillRunning), "got %v", err)
}

func TestService_ReportWriterFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, testutil.NewHappyBackend(core.IntentAnalysis))
	svc := newService(h, &fakeReports{err: errors.New("disk full")})
	ctx := waitCtx(t)

	id, err := svc.StartWorkflow(ctx, "How did my campaigns perform?", core.Options{})
	require.NoError(t, err)
	report, err := svc.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowStatusCompleted, report.Status)
}

func TestService_ConcurrentRunsAreIsolated(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAnalysis)
	h := newHarness(t, backend)
	svc := newService(h, nil)
	ctx := waitCtx(t)

	ids := make([]core.WorkflowID, 5)
	for i := range ids {
		id, err := svc.StartWorkflow(ctx, "How did my campaigns perform?", core.Options{})
		require.NoError(t, err)
		ids[i] = id
	}
	for _, id := range ids {
		report, err := svc.Wait(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, core.WorkflowStatusCompleted, report.Status)
		assert.Equal(t, 4, report.IterationCount)

		calls, err := svc.ToolCalls(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, report.ToolCallCount, len(calls))
	}

	list, err := svc.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 5)
}

func TestService_ShutdownCancelsActiveRuns(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAnalysis)
	started, release := blockPlatformData(backend)
	h := newHarness(t, backend)
	svc := newService(h, nil)
	ctx := waitCtx(t)

	id, err := svc.StartWorkflow(ctx, "How did my campaigns perform?", core.Options{})
	require.NoError(t, err)
	<-started

	shutdown := make(chan error, 1)
	go func() { shutdown <- svc.Shutdown(ctx) }()
	r, ok := svc.lookup(id)
	require.True(t, ok)
	require.Eventually(t, r.cancelled.Load, time.Second, time.Millisecond)
	close(release)

	require.NoError(t, <-shutdown)
	report, err := svc.GetResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StopCancelled, report.StopReason)
}

func TestService_WithoutStore(t *testing.T) {
	h := newHarness(t, testutil.NewHappyBackend(core.IntentAnalysis))
	svc := NewService(ServiceConfig{}, ServiceDeps{Router: h.router, Aggregator: h.aggregator})
	ctx := waitCtx(t)

	id, err := svc.StartWorkflow(ctx, "How did my campaigns perform?", core.Options{})
	require.NoError(t, err)
	_, err = svc.Wait(ctx, id)
	require.NoError(t, err)

	list, err := svc.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, core.WorkflowStatusCompleted, list[0].Status)

	_, err = svc.ToolCalls(ctx, id)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestService_StatusWithoutStore(t *testing.T) {
	backend := testutil.NewHappyBackend(core.IntentAnalysis)
	started, release := blockPlatformData(backend)
	h := newHarness(t, backend)
	svc := NewService(ServiceConfig{}, ServiceDeps{Router: h.router, Aggregator: h.aggregator})
	ctx := waitCtx(t)

	id, err := svc.StartWorkflow(ctx, "How did my campaigns perform?", core.Options{})
	require.NoError(t, err)
	<-started

	_, err = svc.Status(ctx, id)
	assert.True(t, errors.Is(err, core.ErrStillRunning), "got %v", err)

	close(release)
	report, err := svc.Wait(ctx, id)
	require.NoError(t, err)

	wc, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, wc.ID)
	assert.Equal(t, core.WorkflowStatusCompleted, wc.Status)
	assert.Equal(t, report.IterationCount, wc.Iterations)
	assert.Len(t, wc.PhaseResults, len(report.PhaseResults))
	assert.Len(t, wc.ToolCalls, report.ToolCallCount)

	_, err = svc.Status(ctx, "wf-unknown")
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestService_PublishesReportReady(t *testing.T) {
	bus := events.New(64)
	defer bus.Close()
	h := newHarness(t, testutil.NewHappyBackend(core.IntentAnalysis), withEvents(bus))
	svc := NewService(ServiceConfig{}, ServiceDeps{
		Router:     h.router,
		Aggregator: h.aggregator,
		Store:      h.store,
		Events:     bus,
	})

	ch := bus.Subscribe(events.TypeWorkflowFinished, events.TypeReportReady)
	id, err := svc.StartWorkflow(context.Background(), "How did my campaigns perform?", core.Options{})
	require.NoError(t, err)

	_, err = svc.Wait(waitCtx(t), id)
	require.NoError(t, err)

	var final events.Event
	require.Eventually(t, func() bool {
		select {
		case e := <-ch:
			if events.IsFinal(e) {
				final = e
				return true
			}
		default:
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, string(id), final.WorkflowID())
	ready, ok := final.(events.ReportReadyEvent)
	require.True(t, ok)
	assert.Equal(t, string(core.WorkflowStatusCompleted), ready.Status)
	assert.False(t, ready.SummaryDegraded)
}
