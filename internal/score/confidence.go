// Package score turns relevance scores into a confidence verdict.
package score

import (
	"fmt"

	"github.com/ppiankov/auditrag/internal/model"
)

const (
	// HighThreshold is the inclusive lower bound of HIGH confidence
	HighThreshold = 0.9

	// MediumThreshold is the inclusive lower bound of MEDIUM confidence
	MediumThreshold = 0.75

	// epsilon absorbs float error so a mean of exactly 0.9 is HIGH
	epsilon = 1e-9

	spreadWarning = 0.25
	weakMargin    = 0.05
)

// Label maps a mean relevance score to a confidence label.
// Thresholds are inclusive.
func Label(mean float64) model.ConfidenceLabel {
	switch {
	case mean+epsilon >= HighThreshold:
		return model.ConfidenceHigh
	case mean+epsilon >= MediumThreshold:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// Scorer assesses evidence sets
type Scorer struct {
	minRelevance float64
}

// NewScorer creates a scorer. minRelevance is the retriever's threshold,
// used only to flag items that barely cleared it.
func NewScorer(minRelevance float64) *Scorer {
	return &Scorer{minRelevance: minRelevance}
}

// Assess computes the mean score, its label and diagnostic signals
func (s *Scorer) Assess(evidence model.EvidenceSet) model.Assessment {
	if len(evidence) == 0 {
		return model.Assessment{
			Label: model.ConfidenceNone,
			Signals: []model.Signal{{
				Type:        model.SignalNoEvidence,
				Severity:    model.SeverityCritical,
				Description: "No evidence cleared the relevance threshold",
				Data:        map[string]interface{}{"min_relevance": s.minRelevance},
			}},
		}
	}

	mean := evidence.MeanScore()
	label := Label(mean)

	signals := []model.Signal{s.meanSignal(mean, label, len(evidence))}

	if sig, ok := s.singleSource(evidence); ok {
		signals = append(signals, sig)
	}
	if sig, ok := s.spread(evidence); ok {
		signals = append(signals, sig)
	}
	if sig, ok := s.weakItems(evidence); ok {
		signals = append(signals, sig)
	}
	if sig, ok := s.mixedMarkers(evidence); ok {
		signals = append(signals, sig)
	}

	return model.Assessment{Score: mean, Label: label, Signals: signals}
}

func (s *Scorer) meanSignal(mean float64, label model.ConfidenceLabel, n int) model.Signal {
	severity := model.SeverityInfo
	if label == model.ConfidenceLow {
		severity = model.SeverityWarning
	}
	return model.Signal{
		Type:        model.SignalMeanRelevance,
		Severity:    severity,
		Description: fmt.Sprintf("Mean relevance %.4f over %d items", mean, n),
		Data: map[string]interface{}{
			"mean":    mean,
			"items":   n,
			"label":   string(label),
			"formula": "sum(relevance) / items; HIGH >= 0.9, MEDIUM >= 0.75",
		},
	}
}

func (s *Scorer) singleSource(evidence model.EvidenceSet) (model.Signal, bool) {
	if len(evidence) < 2 {
		return model.Signal{}, false
	}
	first := evidence[0].Source
	for _, item := range evidence[1:] {
		if item.Source != first {
			return model.Signal{}, false
		}
	}
	return model.Signal{
		Type:        model.SignalSingleSource,
		Severity:    model.SeverityInfo,
		Description: fmt.Sprintf("All %d items come from %s", len(evidence), first),
		Data:        map[string]interface{}{"source": first},
	}, true
}

func (s *Scorer) spread(evidence model.EvidenceSet) (model.Signal, bool) {
	lo, hi := evidence[0].RelevanceScore, evidence[0].RelevanceScore
	for _, item := range evidence[1:] {
		lo = min(lo, item.RelevanceScore)
		hi = max(hi, item.RelevanceScore)
	}
	if hi-lo < spreadWarning {
		return model.Signal{}, false
	}
	return model.Signal{
		Type:        model.SignalScoreSpread,
		Severity:    model.SeverityWarning,
		Description: fmt.Sprintf("Relevance ranges from %.2f to %.2f", lo, hi),
		Data:        map[string]interface{}{"min": lo, "max": hi},
	}, true
}

func (s *Scorer) weakItems(evidence model.EvidenceSet) (model.Signal, bool) {
	var weak []string
	for _, item := range evidence {
		if item.RelevanceScore < s.minRelevance+weakMargin {
			weak = append(weak, item.Citation())
		}
	}
	if len(weak) == 0 {
		return model.Signal{}, false
	}
	return model.Signal{
		Type:        model.SignalWeakItem,
		Severity:    model.SeverityWarning,
		Description: fmt.Sprintf("%d items within %.2f of the threshold", len(weak), weakMargin),
		Data:        map[string]interface{}{"items": weak, "min_relevance": s.minRelevance},
	}, true
}

func (s *Scorer) mixedMarkers(evidence model.EvidenceSet) (model.Signal, bool) {
	levels := make(map[string]bool)
	for _, item := range evidence {
		if item.ComplianceLevel != "" {
			levels[item.ComplianceLevel] = true
		}
	}
	if len(levels) < 2 {
		return model.Signal{}, false
	}
	list := make([]string, 0, len(levels))
	for l := range levels {
		list = append(list, l)
	}
	return model.Signal{
		Type:        model.SignalMixedMarkers,
		Severity:    model.SeverityInfo,
		Description: "Evidence mixes compliance levels",
		Data:        map[string]interface{}{"levels": list},
	}, true
}
