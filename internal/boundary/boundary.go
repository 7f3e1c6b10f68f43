// Package boundary is the single point through which workflow code reaches
// external collaborators. Every call is checked against the tool's typed
// contract, bounded by a global concurrency ceiling, rate limited per tool,
// time boxed, and audited as an immutable core.ToolCallRecord.
package boundary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/logging"
)

// Backend performs the raw call for one or more tools. Implementations
// report failures as core.ErrTool errors so the kind survives; any other
// error is classified as unavailable.
type Backend interface {
	Call(ctx context.Context, tool core.ToolName, args json.RawMessage) (json.RawMessage, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, tool core.ToolName, args json.RawMessage) (json.RawMessage, error)

// Call implements Backend.
func (f BackendFunc) Call(ctx context.Context, tool core.ToolName, args json.RawMessage) (json.RawMessage, error) {
	return f(ctx, tool, args)
}

// Invoker is the narrow view of the boundary handed to classifiers,
// executors and the validation gate. Attribution is fixed by the
// implementation.
type Invoker interface {
	Invoke(ctx context.Context, args core.ToolArgs, out core.ToolResult) error
}

// RateLimit is a token bucket for one tool. RPS <= 0 means unlimited.
type RateLimit struct {
	RPS   float64
	Burst int
}

// Config configures a Boundary.
type Config struct {
	MaxConcurrency   int
	CallTimeout      time.Duration
	RateLimitRetries int
	Backoff          *RetryPolicy
	RateLimits       map[core.ToolName]RateLimit
}

// DefaultConfig returns the default boundary configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:   8,
		CallTimeout:      60 * time.Second,
		RateLimitRetries: 3,
		Backoff:          DefaultRetryPolicy(),
	}
}

// Boundary mediates every external tool call.
type Boundary struct {
	cfg      Config
	sem      *semaphore.Weighted
	limiters map[core.ToolName]*rate.Limiter
	logger   *logging.Logger
	metrics  *Metrics
	tracer   trace.Tracer

	mu       sync.RWMutex
	backends map[core.ToolName]Backend
}

// Option configures a Boundary.
type Option func(*Boundary)

// WithMetrics overrides the metrics instruments.
func WithMetrics(m *Metrics) Option {
	return func(b *Boundary) {
		b.metrics = m
	}
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(b *Boundary) {
		b.tracer = t
	}
}

// New creates a boundary with no registered backends.
func New(cfg Config, logger *logging.Logger, opts ...Option) *Boundary {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	b := &Boundary{
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		limiters: make(map[core.ToolName]*rate.Limiter),
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		backends: make(map[core.ToolName]Backend),
	}
	for tool, rl := range cfg.RateLimits {
		if rl.RPS <= 0 {
			continue
		}
		burst := rl.Burst
		if burst < 1 {
			burst = 1
		}
		b.limiters[tool] = rate.NewLimiter(rate.Limit(rl.RPS), burst)
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = NewMetrics(logger)
	}
	return b
}

// Register binds a backend to a tool. Only tools with a contract can be
// registered.
func (b *Boundary) Register(tool core.ToolName, backend Backend) error {
	if _, ok := core.ContractFor(tool); !ok {
		return core.ErrValidation(core.CodeContractMismatch, fmt.Sprintf("unknown tool %q", tool))
	}
	if backend == nil {
		return core.ErrValidation(core.CodeContractMismatch, fmt.Sprintf("nil backend for %s", tool))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.backends[tool] = backend
	return nil
}

// Registered reports whether a backend is bound to the tool.
func (b *Boundary) Registered(tool core.ToolName) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.backends[tool]
	return ok
}

// Recorder returns an Invoker attributed to (phase, attempt).
func (b *Boundary) Recorder(phase core.Phase, attempt int) *Recorder {
	return &Recorder{b: b, phase: phase, attempt: attempt}
}

// Invoke performs one audited tool call. The returned record is populated
// whether or not the call succeeded; on success out holds the decoded,
// validated result.
func (b *Boundary) Invoke(ctx context.Context, phase core.Phase, attempt int, args core.ToolArgs, out core.ToolResult) (core.ToolCallRecord, error) {
	started := time.Now()
	rec := core.ToolCallRecord{
		Phase:     phase,
		Attempt:   attempt,
		StartedAt: started,
	}
	if args != nil {
		rec.Tool = args.ToolName()
	}

	ctx, span := b.tracer.Start(ctx, "tool."+string(rec.Tool), trace.WithAttributes(
		attribute.String("tool", string(rec.Tool)),
		attribute.String("phase", string(phase)),
		attribute.Int("attempt", attempt),
	))
	defer span.End()

	raw, attempts, err := b.invoke(ctx, &rec, args, out)
	rec.Attempts = attempts
	rec.EndedAt = time.Now()
	rec.Latency = rec.EndedAt.Sub(started)

	logger := b.logger.WithPhase(string(phase)).WithTool(string(rec.Tool))
	if err != nil {
		kind := core.FailureKindOf(err)
		rec.Failure = &core.ToolFailure{Kind: kind, Message: err.Error()}
		span.SetStatus(codes.Error, string(kind))
		span.RecordError(err)
		logger.Warn("tool call failed", "kind", kind, "attempts", attempts, "latency", rec.Latency, "error", err)
	} else {
		rec.Result = raw
		logger.Debug("tool call finished", "attempts", attempts, "latency", rec.Latency)
	}
	b.metrics.recordCall(ctx, rec.Tool, rec.Latency, rec.Failure)

	return rec, err
}

func (b *Boundary) invoke(ctx context.Context, rec *core.ToolCallRecord, args core.ToolArgs, out core.ToolResult) (json.RawMessage, int, error) {
	if args == nil {
		return nil, 0, core.ErrTool(core.FailureInvalidResponse, "", "nil arguments")
	}
	tool := args.ToolName()

	payload, err := json.Marshal(args)
	if err != nil {
		return nil, 0, core.ErrTool(core.FailureInvalidResponse, tool, "encoding arguments").WithCause(err)
	}
	rec.Args = payload

	if err := checkContract(tool, args, out); err != nil {
		return nil, 0, err
	}

	b.mu.RLock()
	backend, ok := b.backends[tool]
	b.mu.RUnlock()
	if !ok {
		return nil, 0, core.ErrTool(core.FailureUnavailable, tool, "no backend registered")
	}

	var (
		raw      json.RawMessage
		attempts int
	)
	for {
		attempts++
		raw, err = b.attempt(ctx, tool, backend, payload)
		if err == nil {
			break
		}
		if core.FailureKindOf(err) != core.FailureRateLimited || attempts > b.cfg.RateLimitRetries {
			return nil, attempts, err
		}
		delay := b.cfg.Backoff.CalculateDelay(attempts)
		b.metrics.recordRetry(ctx, tool)
		b.logger.WithTool(string(tool)).Info("rate limited, backing off", "attempt", attempts, "delay", delay)
		if serr := Sleep(ctx, delay); serr != nil {
			return nil, attempts, contextFailure(tool, serr)
		}
	}

	if err := decode(tool, raw, out); err != nil {
		return nil, attempts, err
	}
	return raw, attempts, nil
}

// attempt makes one backend call while holding a concurrency slot.
func (b *Boundary) attempt(ctx context.Context, tool core.ToolName, backend Backend, payload json.RawMessage) (json.RawMessage, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, contextFailure(tool, err)
	}
	defer b.sem.Release(1)
	b.metrics.addInFlight(ctx, tool, 1)
	defer b.metrics.addInFlight(ctx, tool, -1)

	if lim, ok := b.limiters[tool]; ok {
		if err := lim.Wait(ctx); err != nil {
			return nil, contextFailure(tool, err)
		}
	}

	callCtx := ctx
	if b.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
	}

	raw, err := backend.Call(callCtx, tool, payload)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, core.ErrTool(core.FailureTimeout, tool, fmt.Sprintf("no response within %s", b.cfg.CallTimeout)).WithCause(err)
		}
		var domErr *core.DomainError
		if errors.As(err, &domErr) && domErr.Category == core.ErrCatToolInvocation {
			return nil, err
		}
		return nil, core.ErrTool(core.FailureUnavailable, tool, err.Error()).WithCause(err)
	}
	if callCtx.Err() != nil {
		return nil, core.ErrTool(core.FailureTimeout, tool, "response arrived after deadline")
	}
	return raw, nil
}

func checkContract(tool core.ToolName, args core.ToolArgs, out core.ToolResult) error {
	c, ok := core.ContractFor(tool)
	if !ok {
		return core.ErrTool(core.FailureInvalidResponse, tool, "tool has no contract")
	}
	if reflect.TypeOf(args) != c.Args {
		return core.ErrTool(core.FailureInvalidResponse, tool, fmt.Sprintf("arguments of type %T do not match contract", args))
	}
	if out == nil || reflect.TypeOf(out) != c.Result {
		return core.ErrTool(core.FailureInvalidResponse, tool, fmt.Sprintf("result of type %T does not match contract", out))
	}
	if reflect.ValueOf(out).IsNil() {
		return core.ErrTool(core.FailureInvalidResponse, tool, "nil result target")
	}
	if err := args.Validate(); err != nil {
		return core.ErrTool(core.FailureInvalidResponse, tool, "invalid arguments: "+err.Error()).WithCause(err)
	}
	return nil
}

func decode(tool core.ToolName, raw json.RawMessage, out core.ToolResult) error {
	if len(raw) == 0 {
		return core.ErrTool(core.FailureInvalidResponse, tool, "empty response")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return core.ErrTool(core.FailureInvalidResponse, tool, "response does not match result contract").WithCause(err)
	}
	if err := out.Validate(); err != nil {
		return core.ErrTool(core.FailureInvalidResponse, tool, "invalid result: "+err.Error()).WithCause(err)
	}
	return nil
}

// contextFailure classifies a wait that ended because ctx finished.
func contextFailure(tool core.ToolName, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.ErrTool(core.FailureTimeout, tool, "deadline exceeded while waiting").WithCause(err)
	}
	return core.ErrTool(core.FailureUnavailable, tool, "call abandoned: "+err.Error()).WithCause(err)
}
