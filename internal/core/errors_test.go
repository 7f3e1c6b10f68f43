package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := (&DomainError{
		Category: ErrCatValidation,
		Code:     "CODE",
		Message:  "message",
	}).WithCause(cause)

	if err.Unwrap() != cause {
		t.Fatalf("expected cause to be unwrapped")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to match cause")
	}

	match := &DomainError{Category: ErrCatValidation, Code: "CODE"}
	if !errors.Is(err, match) {
		t.Fatalf("expected errors.Is to match category and code")
	}
}

func TestErrorFactories(t *testing.T) {
	if ErrValidation("C", "m").Retryable {
		t.Fatalf("validation should not be retryable")
	}
	if !ErrTool(FailureTimeout, ToolReasoning, "m").Retryable {
		t.Fatalf("tool failures should be retryable")
	}
	if ErrState("C", "m").Retryable {
		t.Fatalf("state should not be retryable")
	}
	if ErrEnforcementStop(StopPhaseRetryCeiling, "m").Retryable {
		t.Fatalf("enforcement stop should not be retryable")
	}
	if ErrNotFound("workflow", "x").Category != ErrCatNotFound {
		t.Fatalf("expected not_found category")
	}
}

func TestStillRunningSentinel(t *testing.T) {
	wrapped := fmt.Errorf("get result: %w", ErrStillRunning)
	if !errors.Is(wrapped, ErrStillRunning) {
		t.Fatalf("expected wrapped sentinel to match")
	}
	if GetCategory(wrapped) != ErrCatConflict {
		t.Fatalf("GetCategory() = %s, want conflict", GetCategory(wrapped))
	}
}

func TestFailureKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"nil", nil, ""},
		{"tool error", ErrTool(FailureRateLimited, ToolWebSearch, "429"), FailureRateLimited},
		{"wrapped tool error", fmt.Errorf("x: %w", ErrTool(FailureInvalidResponse, ToolReasoning, "bad")), FailureInvalidResponse},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), FailureTimeout},
		{"plain", errors.New("boom"), FailureUnavailable},
		{"other domain error", ErrValidation("C", "m"), FailureUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FailureKindOf(tt.err); got != tt.want {
				t.Fatalf("FailureKindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsRetryableAndCategory(t *testing.T) {
	err := fmt.Errorf("wrap: %w", ErrTool(FailureUnavailable, ToolGeneration, "down"))
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !IsCategory(err, ErrCatToolInvocation) {
		t.Fatalf("expected tool_invocation category")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("plain errors are not retryable")
	}
	if GetCategory(errors.New("plain")) != ErrCatInternal {
		t.Fatalf("plain errors should be internal")
	}
}
