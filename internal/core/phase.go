package core

import "fmt"

// Phase represents a named unit of work executed by a phase executor.
type Phase string

const (
	// PhaseMonitor gathers current platform data and flags anomalies.
	PhaseMonitor Phase = "monitor"

	// PhaseAnalyze interprets monitoring output against benchmarks
	// and historical campaigns.
	PhaseAnalyze Phase = "analyze"

	// PhaseExecuteActions mutates external state (campaign changes).
	PhaseExecuteActions Phase = "execute_actions"

	// PhaseOptimize produces recommendations and creative suggestions.
	PhaseOptimize Phase = "optimize"

	// PhaseReport composes the phase-level report.
	PhaseReport Phase = "report"
)

// Attribution keys for boundary calls made outside a phase executor.
// They are never routable.
const (
	AttributionIntent    Phase = "intent"
	AttributionValidate  Phase = "validate"
	AttributionAggregate Phase = "aggregate"
)

// AllPhases returns every routable phase in canonical order.
func AllPhases() []Phase {
	return []Phase{PhaseMonitor, PhaseAnalyze, PhaseExecuteActions, PhaseOptimize, PhaseReport}
}

// ValidPhase checks if a phase is routable.
func ValidPhase(p Phase) bool {
	switch p {
	case PhaseMonitor, PhaseAnalyze, PhaseExecuteActions, PhaseOptimize, PhaseReport:
		return true
	default:
		return false
	}
}

// ParsePhase converts a string to a Phase with validation.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !ValidPhase(p) {
		return "", fmt.Errorf("invalid phase: %s", s)
	}
	return p, nil
}

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// Description returns a human-readable description of the phase.
func (p Phase) Description() string {
	switch p {
	case PhaseMonitor:
		return "Collect campaign performance data and flag anomalies"
	case PhaseAnalyze:
		return "Analyze performance against benchmarks and history"
	case PhaseExecuteActions:
		return "Apply campaign changes"
	case PhaseOptimize:
		return "Recommend budget, targeting and creative changes"
	case PhaseReport:
		return "Compose the workflow report"
	default:
		return "Unknown phase"
	}
}

// RoutingTable maps an intent type to its phase sequence.
type RoutingTable map[IntentType][]Phase

// DefaultRoutingTable returns the default phase ordering. Hybrid runs data
// gathering before mutation.
func DefaultRoutingTable() RoutingTable {
	return RoutingTable{
		IntentAnalysis: {PhaseMonitor, PhaseAnalyze, PhaseOptimize, PhaseReport},
		IntentAction:   {PhaseExecuteActions, PhaseReport},
		IntentHybrid:   {PhaseMonitor, PhaseAnalyze, PhaseExecuteActions, PhaseOptimize, PhaseReport},
	}
}

// Sequence returns a copy of the sequence for the intent type. Unknown
// types resolve to the hybrid sequence.
func (t RoutingTable) Sequence(it IntentType) []Phase {
	seq, ok := t[it]
	if !ok {
		seq = t[IntentHybrid]
	}
	out := make([]Phase, len(seq))
	copy(out, seq)
	return out
}

// Validate checks every sequence is non-empty, known, duplicate-free and
// ends with the report phase.
func (t RoutingTable) Validate() error {
	for _, it := range []IntentType{IntentAnalysis, IntentAction, IntentHybrid} {
		seq, ok := t[it]
		if !ok || len(seq) == 0 {
			return fmt.Errorf("routing for %s: sequence required", it)
		}
		seen := make(map[Phase]bool, len(seq))
		for _, p := range seq {
			if !ValidPhase(p) {
				return fmt.Errorf("routing for %s: invalid phase %q", it, p)
			}
			if seen[p] {
				return fmt.Errorf("routing for %s: duplicate phase %q", it, p)
			}
			seen[p] = true
		}
		if seq[len(seq)-1] != PhaseReport {
			return fmt.Errorf("routing for %s: must end with %s", it, PhaseReport)
		}
	}
	return nil
}
