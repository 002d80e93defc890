package model

import (
	"fmt"
	"math"
	"strings"
)

// Fallbacks for hits indexed without metadata
const (
	UnknownSource     = "Unknown"
	UnclassifiedLevel = "UNCLASSIFIED"
)

// Candidate is a raw search hit before the relevance gate
type Candidate struct {
	Content         string  `json:"content"`
	Source          string  `json:"source_file"`
	Page            int     `json:"page_number"`
	ComplianceLevel string  `json:"compliance_level"`
	Score           float64 `json:"score"` // normalized to [0,1] by the search backend
}

// Evidence converts the candidate, filling missing metadata with
// UnknownSource, page 0 and UnclassifiedLevel
func (c Candidate) Evidence() EvidenceItem {
	item := EvidenceItem{
		Content:         c.Content,
		Source:          strings.TrimSpace(c.Source),
		Page:            c.Page,
		ComplianceLevel: strings.TrimSpace(c.ComplianceLevel),
		RelevanceScore:  c.Score,
	}
	if item.Source == "" {
		item.Source = UnknownSource
	}
	if item.Page < 0 {
		item.Page = 0
	}
	if item.ComplianceLevel == "" {
		item.ComplianceLevel = UnclassifiedLevel
	}
	return item
}

// EvidenceItem is a candidate that cleared the relevance threshold.
// It is never modified after the retriever creates it.
type EvidenceItem struct {
	Content         string  `json:"content"`
	Source          string  `json:"source"`
	Page            int     `json:"page"`
	ComplianceLevel string  `json:"compliance_level"`
	RelevanceScore  float64 `json:"relevance_score"`
}

// Citation renders the "source (p. page)" label used in answers
func (e EvidenceItem) Citation() string {
	return fmt.Sprintf("%s (p. %d)", e.Source, e.Page)
}

// Valid reports whether the item can be shown to a generator
func (e EvidenceItem) Valid() bool {
	return e.Source != "" && ValidScore(e.RelevanceScore)
}

// EvidenceSet is ordered by the search backend's ranking, best first
type EvidenceSet []EvidenceItem

// Citations returns deduplicated citation labels in first-seen order
func (s EvidenceSet) Citations() []string {
	seen := make(map[string]bool, len(s))
	out := make([]string, 0, len(s))
	for _, item := range s {
		c := item.Citation()
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// MeanScore is the arithmetic mean of relevance scores (0 for an empty set)
func (s EvidenceSet) MeanScore() float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, item := range s {
		sum += item.RelevanceScore
	}
	return sum / float64(len(s))
}

// ValidScore reports whether a relevance score is finite and inside [0,1]
func ValidScore(score float64) bool {
	return !math.IsNaN(score) && !math.IsInf(score, 0) && score >= 0 && score <= 1
}
