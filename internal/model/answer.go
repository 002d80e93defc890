package model

import (
	"fmt"
	"time"
)

// Outcome tags which branch of the composer produced an answer
type Outcome string

const (
	OutcomeGenerated   Outcome = "generated"
	OutcomeContingency Outcome = "contingency"
	OutcomeEmpty       Outcome = "empty"
)

// ConfidenceLabel classifies how well an answer is grounded
type ConfidenceLabel string

const (
	ConfidenceHigh        ConfidenceLabel = "HIGH"
	ConfidenceMedium      ConfidenceLabel = "MEDIUM"
	ConfidenceLow         ConfidenceLabel = "LOW"
	ConfidenceContingency ConfidenceLabel = "CONTINGENCY"
	ConfidenceNone        ConfidenceLabel = "NONE"
)

// Display returns the label as shown to auditors in the response body
func (l ConfidenceLabel) Display() string {
	switch l {
	case ConfidenceHigh:
		return "ALTA"
	case ConfidenceMedium:
		return "MÉDIA"
	case ConfidenceLow:
		return "BAIXA"
	case ConfidenceContingency:
		return "CONTINGÊNCIA"
	default:
		return "N/A"
	}
}

// Answer is built once per request and never mutated afterwards
type Answer struct {
	Outcome         Outcome
	Text            string
	Sources         []string
	Label           ConfidenceLabel
	Score           *float64 // nil when no score was computed
	DocumentsUsed   int
	Warning         string
	ComplianceLevel string // marker of the top-ranked item used, if any
}

// AuditConfidence is what the audit trail records: the score when known, else the label
func (a *Answer) AuditConfidence() any {
	if a.Score != nil {
		return *a.Score
	}
	return string(a.Label)
}

// Metadata accompanies every successful response
type Metadata struct {
	Timestamp          string `json:"timestamp"`
	Model              string `json:"model"`
	ComplianceLevel    string `json:"compliance_level,omitempty"`
	RateLimitRemaining int    `json:"rate_limit_remaining"`
	RequestID          string `json:"request_id,omitempty"`
}

// AnswerResponse is the 200 body of the question endpoint
type AnswerResponse struct {
	Answer          string   `json:"answer"`
	Sources         []string `json:"sources"`
	Confidence      string   `json:"confidence"`
	ConfidenceScore string   `json:"confidence_score,omitempty"`
	DocumentsUsed   int      `json:"documents_used"`
	Warning         string   `json:"warning,omitempty"`
	Metadata        Metadata `json:"metadata"`
}

// ErrorResponse is the body of every non-200 answer
type ErrorResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// NewAnswerResponse renders an answer for the wire
func NewAnswerResponse(a *Answer, meta Metadata) AnswerResponse {
	sources := a.Sources
	if sources == nil {
		sources = []string{}
	}
	resp := AnswerResponse{
		Answer:        a.Text,
		Sources:       sources,
		Confidence:    a.Label.Display(),
		DocumentsUsed: a.DocumentsUsed,
		Warning:       a.Warning,
		Metadata:      meta,
	}
	if a.Score != nil {
		resp.ConfidenceScore = FormatPercent(*a.Score)
	}
	return resp
}

// FormatPercent renders 0.9 as "90.00%"
func FormatPercent(score float64) string {
	return fmt.Sprintf("%.2f%%", score*100)
}

// AuditEntry is one append-only audit record. The question itself is never stored.
type AuditEntry struct {
	Timestamp    time.Time `json:"timestamp" bson:"timestamp"`
	ClientKey    string    `json:"client_ip" bson:"client_ip"`
	QuestionHash string    `json:"question_hash" bson:"question_hash"`
	Sources      []string  `json:"sources" bson:"sources"`
	Confidence   any       `json:"confidence" bson:"confidence"`
}
