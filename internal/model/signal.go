package model

// Signal is a diagnostic note about the evidence behind an answer, with the data used to raise it
type Signal struct {
	Type        SignalType             `json:"type"`
	Severity    SignalSeverity         `json:"severity"`
	Description string                 `json:"description"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// SignalType classifies the type of diagnostic signal
type SignalType string

const (
	SignalMeanRelevance SignalType = "mean_relevance" // Mean score behind the label
	SignalSingleSource  SignalType = "single_source"  // Every item comes from one document
	SignalScoreSpread   SignalType = "score_spread"   // Large gap between best and worst item
	SignalWeakItem      SignalType = "weak_item"      // An item sits just above the threshold
	SignalMixedMarkers  SignalType = "mixed_markers"  // Items carry different compliance levels
	SignalNoEvidence    SignalType = "no_evidence"    // Nothing cleared the threshold
)

// SignalSeverity indicates the importance of the signal
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)

// Assessment is the confidence verdict for an evidence set
type Assessment struct {
	Score   float64         `json:"score"`
	Label   ConfidenceLabel `json:"label"`
	Signals []Signal        `json:"signals,omitempty"`
}
