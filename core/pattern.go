package core

import "time"

// PatternKind classifies a learned pattern.
type PatternKind string

const (
	PatternWorkflow     PatternKind = "workflow"
	PatternResolution   PatternKind = "resolution"
	PatternOptimization PatternKind = "optimization"
	PatternPrediction   PatternKind = "prediction"
)

// Valid reports whether k is a known pattern kind.
func (k PatternKind) Valid() bool {
	switch k {
	case PatternWorkflow, PatternResolution, PatternOptimization, PatternPrediction:
		return true
	}
	return false
}

// InitialConfidence is the confidence of a freshly learned pattern.
const InitialConfidence = 0.5

// Pattern is a learned condition → action association.
type Pattern struct {
	ID                 string         `json:"id"`
	Kind               PatternKind    `json:"kind"`
	Conditions         map[string]any `json:"conditions"`
	Actions            map[string]any `json:"actions"`
	Confidence         float64        `json:"confidence"`
	UsageCount         int            `json:"usageCount"`
	SuccessRate        float64        `json:"successRate"`
	ApplicableContexts []string       `json:"applicableContexts"`
	ContributedBy      string         `json:"contributedBy,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	LastAppliedAt      *time.Time     `json:"lastAppliedAt,omitempty"`
}

// Clone returns a deep copy of the pattern.
func (p *Pattern) Clone() *Pattern {
	c := *p
	c.Conditions = CloneMap(p.Conditions)
	c.Actions = CloneMap(p.Actions)
	c.ApplicableContexts = cloneStrings(p.ApplicableContexts)
	if p.LastAppliedAt != nil {
		t := *p.LastAppliedAt
		c.LastAppliedAt = &t
	}
	return &c
}
