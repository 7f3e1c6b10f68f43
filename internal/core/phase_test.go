package core

import (
	"strings"
	"testing"
)

func TestValidPhase(t *testing.T) {
	for _, p := range AllPhases() {
		if !ValidPhase(p) {
			t.Fatalf("expected %s to be valid", p)
		}
		if p.Description() == "Unknown phase" {
			t.Fatalf("missing description for %s", p)
		}
	}
	for _, p := range []Phase{AttributionIntent, AttributionValidate, AttributionAggregate, "plan"} {
		if ValidPhase(p) {
			t.Fatalf("expected %s to be invalid", p)
		}
	}
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("execute_actions")
	if err != nil || p != PhaseExecuteActions {
		t.Fatalf("ParsePhase() = %q, %v", p, err)
	}
	if _, err := ParsePhase("nope"); err == nil {
		t.Fatalf("expected error for unknown phase")
	}
}

func TestDefaultRoutingTable(t *testing.T) {
	rt := DefaultRoutingTable()
	if err := rt.Validate(); err != nil {
		t.Fatalf("default table invalid: %v", err)
	}

	tests := []struct {
		intent IntentType
		want   []Phase
	}{
		{IntentAnalysis, []Phase{PhaseMonitor, PhaseAnalyze, PhaseOptimize, PhaseReport}},
		{IntentAction, []Phase{PhaseExecuteActions, PhaseReport}},
		{IntentHybrid, []Phase{PhaseMonitor, PhaseAnalyze, PhaseExecuteActions, PhaseOptimize, PhaseReport}},
		{"unknown", []Phase{PhaseMonitor, PhaseAnalyze, PhaseExecuteActions, PhaseOptimize, PhaseReport}},
	}
	for _, tt := range tests {
		got := rt.Sequence(tt.intent)
		if len(got) != len(tt.want) {
			t.Fatalf("Sequence(%s) = %v, want %v", tt.intent, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("Sequence(%s) = %v, want %v", tt.intent, got, tt.want)
			}
		}
	}
}

func TestRoutingTable_SequenceIsCopy(t *testing.T) {
	rt := DefaultRoutingTable()
	seq := rt.Sequence(IntentAction)
	seq[0] = PhaseMonitor
	if rt[IntentAction][0] != PhaseExecuteActions {
		t.Fatalf("mutating the returned sequence changed the table")
	}
}

func TestRoutingTable_Validate(t *testing.T) {
	base := func() RoutingTable { return DefaultRoutingTable() }

	tests := []struct {
		name   string
		mutate func(RoutingTable)
		want   string
	}{
		{"empty", func(rt RoutingTable) { rt[IntentAction] = nil }, "sequence required"},
		{"missing", func(rt RoutingTable) { delete(rt, IntentHybrid) }, "sequence required"},
		{"unknown phase", func(rt RoutingTable) { rt[IntentAction] = []Phase{"plan", PhaseReport} }, "invalid phase"},
		{"duplicate", func(rt RoutingTable) {
			rt[IntentAction] = []Phase{PhaseExecuteActions, PhaseExecuteActions, PhaseReport}
		}, "duplicate"},
		{"report not last", func(rt RoutingTable) { rt[IntentAction] = []Phase{PhaseReport, PhaseExecuteActions} }, "must end with"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := base()
			tt.mutate(rt)
			err := rt.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}
