package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/adpilot/internal/boundary"
	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
)

// Response is one scripted backend reply.
type Response struct {
	Body  any           // marshalled to JSON unless it is already json.RawMessage
	Err   error         // returned instead of Body when set
	Delay time.Duration // waits before replying; honours ctx
}

// Fail returns a scripted failure of the given kind.
func Fail(kind core.FailureKind) Response {
	return Response{Err: core.ErrTool(kind, "", "scripted "+string(kind))}
}

// Reply returns a scripted success.
func Reply(body any) Response {
	return Response{Body: body}
}

// Reasoning wraps v as a reasoning completion whose text is v's JSON.
// Strings are used verbatim.
func Reasoning(v any) core.ReasoningResult {
	if s, ok := v.(string); ok {
		return core.ReasoningResult{Text: s, Model: "scripted"}
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal reasoning reply: %v", err))
	}
	return core.ReasoningResult{Text: string(data), Model: "scripted"}
}

// ScriptedCall records one call received by a ScriptedBackend.
type ScriptedCall struct {
	Key  string
	Tool core.ToolName
	Args json.RawMessage
	At   time.Time
}

// HandlerFunc computes a reply from the call arguments.
type HandlerFunc func(ctx context.Context, args json.RawMessage) Response

// ScriptedBackend is a boundary.Backend whose replies are scripted per key.
// The key is the tool name, or "reasoning:<purpose>" for reasoning calls;
// purpose-specific keys take precedence over the bare tool name. Queued
// replies are consumed first, then the handler, then the default.
type ScriptedBackend struct {
	mu       sync.Mutex
	queues   map[string][]Response
	handlers map[string]HandlerFunc
	defaults map[string]Response
	calls    []ScriptedCall
}

// NewScriptedBackend creates an empty scripted backend.
func NewScriptedBackend() *ScriptedBackend {
	return &ScriptedBackend{
		queues:   make(map[string][]Response),
		handlers: make(map[string]HandlerFunc),
		defaults: make(map[string]Response),
	}
}

// ReasoningKey is the scripting key for reasoning calls of one purpose.
func ReasoningKey(purpose string) string {
	return string(core.ToolReasoning) + ":" + purpose
}

// Default sets the reply used when nothing is queued for key.
func (s *ScriptedBackend) Default(key string, r Response) *ScriptedBackend {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[key] = r
	return s
}

// Queue appends replies consumed in order before the default applies.
func (s *ScriptedBackend) Queue(key string, rs ...Response) *ScriptedBackend {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[key] = append(s.queues[key], rs...)
	return s
}

// Handle installs a handler for key. It runs when the queue is empty.
func (s *ScriptedBackend) Handle(key string, fn HandlerFunc) *ScriptedBackend {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[key] = fn
	return s
}

// Call implements boundary.Backend.
func (s *ScriptedBackend) Call(ctx context.Context, tool core.ToolName, args json.RawMessage) (json.RawMessage, error) {
	key := string(tool)
	if tool == core.ToolReasoning {
		var ra core.ReasoningArgs
		if err := json.Unmarshal(args, &ra); err == nil && ra.Purpose != "" {
			key = ReasoningKey(ra.Purpose)
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, ScriptedCall{Key: key, Tool: tool, Args: append(json.RawMessage(nil), args...), At: time.Now()})
	resp, handler, ok := s.resolve(key)
	if !ok && key != string(tool) {
		resp, handler, ok = s.resolve(string(tool))
	}
	s.mu.Unlock()

	if !ok {
		return nil, core.ErrTool(core.FailureUnavailable, tool, "no scripted reply for "+key)
	}
	if handler != nil {
		resp = handler(ctx, args)
	}

	if resp.Delay > 0 {
		if err := boundary.Sleep(ctx, resp.Delay); err != nil {
			return nil, err
		}
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	if raw, isRaw := resp.Body.(json.RawMessage); isRaw {
		return raw, nil
	}
	return json.Marshal(resp.Body)
}

// resolve pops a queued reply, then falls back to the handler and the
// default for key. Caller holds s.mu.
func (s *ScriptedBackend) resolve(key string) (Response, HandlerFunc, bool) {
	if q := s.queues[key]; len(q) > 0 {
		s.queues[key] = q[1:]
		return q[0], nil, true
	}
	if h, ok := s.handlers[key]; ok {
		return Response{}, h, true
	}
	r, ok := s.defaults[key]
	return r, nil, ok
}

// Calls returns every call received so far.
func (s *ScriptedBackend) Calls() []ScriptedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ScriptedCall(nil), s.calls...)
}

// CallCount counts calls received under key.
func (s *ScriptedBackend) CallCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Key == key || string(c.Tool) == key {
			n++
		}
	}
	return n
}

// RegisterAll binds the backend to every tool on b.
func (s *ScriptedBackend) RegisterAll(b *boundary.Boundary) error {
	for _, tool := range core.AllTools() {
		if err := b.Register(tool, s); err != nil {
			return err
		}
	}
	return nil
}
