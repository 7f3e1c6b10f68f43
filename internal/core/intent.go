package core

// IntentType is the classified purpose of an instruction.
type IntentType string

const (
	IntentAnalysis IntentType = "analysis"
	IntentAction   IntentType = "action"
	IntentHybrid   IntentType = "hybrid"
)

// ValidIntentType reports whether t is one of the known intent types.
func ValidIntentType(t IntentType) bool {
	switch t {
	case IntentAnalysis, IntentAction, IntentHybrid:
		return true
	default:
		return false
	}
}

// Intent is the structured classification of an instruction.
type Intent struct {
	Type       IntentType     `json:"type"`
	Confidence float64        `json:"confidence"`
	Entities   map[string]any `json:"entities"`
	// ReportedType keeps the classifier's answer when the router overrides it.
	ReportedType IntentType `json:"reported_type,omitempty"`
	Overridden   bool       `json:"overridden,omitempty"`
}

// DefaultIntent is the conservative classification used when the
// classifier cannot produce one.
func DefaultIntent() Intent {
	return Intent{
		Type:       IntentHybrid,
		Confidence: 0,
		Entities:   map[string]any{},
	}
}

// Clone returns a deep-enough copy of the intent. Entity values are JSON
// scalars, lists or maps produced by decoding and are not mutated later.
func (i Intent) Clone() Intent {
	out := i
	out.Entities = make(map[string]any, len(i.Entities))
	for k, v := range i.Entities {
		out.Entities[k] = v
	}
	return out
}
