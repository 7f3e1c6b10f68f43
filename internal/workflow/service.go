package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/events"
	"github.com/hugo-lorenzo-mato/adpilot/internal/logging"
)

// ReportWriter publishes a final report, e.g. as a markdown file.
type ReportWriter interface {
	Write(report *core.FinalReport) (string, error)
}

// ServiceConfig configures the submission service.
type ServiceConfig struct {
	// Timeout bounds a whole run. Zero means no bound.
	Timeout time.Duration
	// AggregateTimeout bounds the summary call made after a run ends.
	AggregateTimeout time.Duration
}

// ServiceDeps holds the service collaborators.
type ServiceDeps struct {
	Router     *Router
	Aggregator *Aggregator
	Store      core.WorkflowStore
	Reports    ReportWriter
	Logger     *logging.Logger
	// Events receives a report_ready notification after each run. Optional.
	Events events.Publisher
}

type run struct {
	id          core.WorkflowID
	instruction string
	createdAt   time.Time
	cancelled   atomic.Bool
	abort       context.CancelFunc
	done        chan struct{}

	// set once before done is closed
	report *core.FinalReport
	final  *core.WorkflowContext
}

// Service accepts workflow submissions and tracks their runs. Each run
// executes in its own goroutine with its own WorkflowContext.
type Service struct {
	cfg  ServiceConfig
	deps ServiceDeps

	baseCtx  context.Context
	stopBase context.CancelFunc
	wg       sync.WaitGroup

	mu   sync.RWMutex
	runs map[core.WorkflowID]*run
}

// NewService creates a service.
func NewService(cfg ServiceConfig, deps ServiceDeps) *Service {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if cfg.AggregateTimeout <= 0 {
		cfg.AggregateTimeout = 2 * time.Minute
	}
	base, stop := context.WithCancel(context.Background())
	return &Service{
		cfg:      cfg,
		deps:     deps,
		baseCtx:  base,
		stopBase: stop,
		runs:     make(map[core.WorkflowID]*run),
	}
}

// ValidateInstruction rejects empty and oversized instructions.
func ValidateInstruction(instruction string) error {
	if strings.TrimSpace(instruction) == "" {
		return core.ErrValidation(core.CodeEmptyInstruction, "instruction must not be empty")
	}
	if len(instruction) > core.MaxInstructionLength {
		return core.ErrValidation(core.CodeInstructionLength,
			fmt.Sprintf("instruction exceeds %d characters", core.MaxInstructionLength))
	}
	return nil
}

// StartWorkflow validates the submission and starts a run. It returns as
// soon as the run is registered.
func (s *Service) StartWorkflow(ctx context.Context, instruction string, opts core.Options) (core.WorkflowID, error) {
	if err := ValidateInstruction(instruction); err != nil {
		return "", err
	}
	if err := opts.Validate(); err != nil {
		return "", err
	}

	id := core.WorkflowID("wf-" + uuid.NewString())
	wc := core.NewWorkflowContext(id, strings.TrimSpace(instruction), opts)

	runCtx, abort := context.WithCancel(s.baseCtx)
	if s.cfg.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, s.cfg.Timeout)
		inner := abort
		abort = func() {
			cancelTimeout()
			inner()
		}
	}
	r := &run{id: id, instruction: wc.Instruction, createdAt: wc.CreatedAt, abort: abort, done: make(chan struct{})}

	s.mu.Lock()
	s.runs[id] = r
	s.mu.Unlock()

	if s.deps.Store != nil {
		if err := s.deps.Store.Save(ctx, wc); err != nil {
			s.deps.Logger.WithWorkflow(string(id)).Warn("persisting new workflow", "error", err)
		}
	}

	s.wg.Add(1)
	go s.execute(runCtx, r, wc)

	s.deps.Logger.WithWorkflow(string(id)).Info("workflow submitted", "options", opts)
	return id, nil
}

func (s *Service) execute(ctx context.Context, r *run, wc *core.WorkflowContext) {
	defer s.wg.Done()
	defer r.abort()
	logger := s.deps.Logger.WithWorkflow(string(r.id))

	if err := s.deps.Router.Run(ctx, wc, r.cancelled.Load); err != nil {
		logger.Error("workflow could not start", "error", err)
		wc.RecordError(core.ErrorKindToolInvocation, "", "start_failed", err.Error())
		_ = wc.Finish(core.WorkflowStatusFailed, "")
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.AggregateTimeout)
	defer cancel()
	report := s.deps.Aggregator.Aggregate(actx, wc)

	if s.deps.Store != nil {
		if err := s.deps.Store.SaveReport(actx, report); err != nil {
			logger.Warn("persisting final report", "error", err)
		}
	}
	if s.deps.Reports != nil {
		if path, err := s.deps.Reports.Write(report); err != nil {
			logger.Warn("writing report file", "error", err)
		} else {
			logger.Info("report written", "path", path)
		}
	}

	logger.Info("workflow finished", "status", report.Status, "stop_reason", report.StopReason,
		"iterations", report.IterationCount, "tool_calls", report.ToolCallCount)

	s.mu.Lock()
	r.report = report
	r.final = wc.Clone()
	s.mu.Unlock()
	close(r.done)

	if s.deps.Events != nil {
		s.deps.Events.Publish(events.NewReportReadyEvent(string(r.id), string(report.Status), report.SummaryDegraded))
	}
}

func (s *Service) lookup(id core.WorkflowID) (*run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	return r, ok
}

// GetResult returns the final report, or core.ErrStillRunning while the
// run is in progress.
func (s *Service) GetResult(ctx context.Context, id core.WorkflowID) (*core.FinalReport, error) {
	if r, ok := s.lookup(id); ok {
		select {
		case <-r.done:
			s.mu.RLock()
			defer s.mu.RUnlock()
			return r.report, nil
		default:
			return nil, core.ErrStillRunning
		}
	}
	if s.deps.Store == nil {
		return nil, core.ErrNotFound("workflow", string(id))
	}

	report, err := s.deps.Store.LoadReport(ctx, id)
	if err == nil {
		return report, nil
	}
	if !core.IsCategory(err, core.ErrCatNotFound) {
		return nil, err
	}
	wc, lerr := s.deps.Store.Load(ctx, id)
	if lerr != nil {
		return nil, lerr
	}
	if !wc.Status.IsTerminal() {
		return nil, core.ErrStillRunning
	}
	return nil, err
}

// Status returns the latest known state of a workflow.
func (s *Service) Status(ctx context.Context, id core.WorkflowID) (*core.WorkflowContext, error) {
	if s.deps.Store != nil {
		return s.deps.Store.Load(ctx, id)
	}
	r, ok := s.lookup(id)
	if !ok {
		return nil, core.ErrNotFound("workflow", string(id))
	}
	select {
	case <-r.done:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return r.final.Clone(), nil
	default:
		return nil, core.ErrStillRunning
	}
}

// ToolCalls returns the stored audit trail of a workflow.
func (s *Service) ToolCalls(ctx context.Context, id core.WorkflowID) ([]core.ToolCallRecord, error) {
	if s.deps.Store == nil {
		return nil, core.ErrNotFound("workflow", string(id))
	}
	return s.deps.Store.ToolCalls(ctx, id)
}

// Cancel asks a run to stop at its next phase boundary.
func (s *Service) Cancel(id core.WorkflowID) error {
	r, ok := s.lookup(id)
	if !ok {
		return core.ErrNotFound("workflow", string(id))
	}
	select {
	case <-r.done:
		return core.ErrState(core.CodeAlreadyTerminal, fmt.Sprintf("workflow %s already finished", id))
	default:
	}
	r.cancelled.Store(true)
	s.deps.Logger.WithWorkflow(string(id)).Info("cancellation requested")
	return nil
}

// Wait blocks until the run finishes or ctx is done.
func (s *Service) Wait(ctx context.Context, id core.WorkflowID) (*core.FinalReport, error) {
	r, ok := s.lookup(id)
	if !ok {
		return s.GetResult(ctx, id)
	}
	select {
	case <-r.done:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return r.report, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// List returns known workflows, most recent first.
func (s *Service) List(ctx context.Context, limit int) ([]core.WorkflowSummary, error) {
	if s.deps.Store != nil {
		return s.deps.Store.List(ctx, limit)
	}

	s.mu.RLock()
	out := make([]core.WorkflowSummary, 0, len(s.runs))
	for _, r := range s.runs {
		status := core.WorkflowStatusRunning
		if r.report != nil {
			status = r.report.Status
		}
		out = append(out, core.WorkflowSummary{ID: r.id, Status: status, Instruction: r.instruction, CreatedAt: r.createdAt, UpdatedAt: r.createdAt})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Shutdown requests cancellation of every active run and waits for them to
// finish. If ctx ends first, in-flight calls are aborted.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, r := range s.runs {
		r.cancelled.Store(true)
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.stopBase()
		return nil
	case <-ctx.Done():
		s.stopBase()
		<-done
		return errors.Join(ctx.Err(), errors.New("workflows aborted during shutdown"))
	}
}
