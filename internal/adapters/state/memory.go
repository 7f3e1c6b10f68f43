package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
)

// MemoryStore keeps workflows in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[core.WorkflowID]*memoryEntry
}

type memoryEntry struct {
	wc        *core.WorkflowContext
	calls     []core.ToolCallRecord
	report    *core.FinalReport
	updatedAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workflows: make(map[core.WorkflowID]*memoryEntry)}
}

// Save implements core.WorkflowStore.
func (s *MemoryStore) Save(_ context.Context, wc *core.WorkflowContext) error {
	c := wc.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.workflows[c.ID]
	if !ok {
		e = &memoryEntry{}
		s.workflows[c.ID] = e
	}
	for _, r := range pendingCalls(c, len(e.calls)-1) {
		e.calls = append(e.calls, r)
	}
	c.ToolCalls = nil
	e.wc = c
	e.updatedAt = time.Now()
	return nil
}

// SaveReport implements core.WorkflowStore.
func (s *MemoryStore) SaveReport(_ context.Context, report *core.FinalReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.workflows[report.WorkflowID]
	if !ok {
		return core.ErrNotFound("workflow", string(report.WorkflowID))
	}
	cp := *report
	e.report = &cp
	e.updatedAt = time.Now()
	return nil
}

// Load implements core.WorkflowStore.
func (s *MemoryStore) Load(_ context.Context, id core.WorkflowID) (*core.WorkflowContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.workflows[id]
	if !ok {
		return nil, core.ErrNotFound("workflow", string(id))
	}
	wc := e.wc.Clone()
	wc.ToolCalls = make([]core.ToolCallRecord, len(e.calls))
	for i, r := range e.calls {
		wc.ToolCalls[i] = r.Clone()
	}
	return wc, nil
}

// LoadReport implements core.WorkflowStore.
func (s *MemoryStore) LoadReport(_ context.Context, id core.WorkflowID) (*core.FinalReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.workflows[id]
	if !ok || e.report == nil {
		return nil, core.ErrNotFound("report", string(id))
	}
	cp := *e.report
	return &cp, nil
}

// ToolCalls implements core.WorkflowStore.
func (s *MemoryStore) ToolCalls(_ context.Context, id core.WorkflowID) ([]core.ToolCallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.workflows[id]
	if !ok {
		return nil, core.ErrNotFound("workflow", string(id))
	}
	out := make([]core.ToolCallRecord, len(e.calls))
	for i, r := range e.calls {
		out[i] = r.Clone()
	}
	return out, nil
}

// List implements core.WorkflowStore.
func (s *MemoryStore) List(_ context.Context, limit int) ([]core.WorkflowSummary, error) {
	s.mu.RLock()
	out := make([]core.WorkflowSummary, 0, len(s.workflows))
	for _, e := range s.workflows {
		out = append(out, core.WorkflowSummary{
			ID:          e.wc.ID,
			Status:      e.wc.Status,
			Instruction: e.wc.Instruction,
			CreatedAt:   e.wc.CreatedAt,
			UpdatedAt:   e.updatedAt,
		})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close implements core.WorkflowStore.
func (s *MemoryStore) Close() error { return nil }
