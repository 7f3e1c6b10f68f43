package core

import (
	"encoding/json"
	"time"
)

// FailureKind classifies a boundary failure.
type FailureKind string

const (
	FailureUnavailable     FailureKind = "unavailable"
	FailureTimeout         FailureKind = "timeout"
	FailureInvalidResponse FailureKind = "invalid_response"
	FailureRateLimited     FailureKind = "rate_limited"
)

// ToolFailure describes why a boundary call did not produce a result.
type ToolFailure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// ToolCallRecord is the immutable audit entry for one boundary call.
type ToolCallRecord struct {
	Seq       int             `json:"seq"`
	Phase     Phase           `json:"phase"`
	Attempt   int             `json:"attempt"`
	Tool      ToolName        `json:"tool"`
	Args      json.RawMessage `json:"args"`
	Result    json.RawMessage `json:"result,omitempty"`
	Failure   *ToolFailure    `json:"failure,omitempty"`
	Attempts  int             `json:"attempts"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
	Latency   time.Duration   `json:"latency"`
}

// OK reports whether the call produced a result.
func (r ToolCallRecord) OK() bool {
	return r.Failure == nil
}

// Clone returns a copy that shares no mutable memory with r.
func (r ToolCallRecord) Clone() ToolCallRecord {
	out := r
	out.Args = cloneRaw(r.Args)
	out.Result = cloneRaw(r.Result)
	if r.Failure != nil {
		f := *r.Failure
		out.Failure = &f
	}
	return out
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}
