package validate

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ppiankov/auditrag/internal/model"
)

// Rejection reasons, reported verbatim in 400 bodies
const (
	ReasonEmpty               = "empty"
	ReasonNotText             = "not text"
	ReasonTooShort            = "too short"
	ReasonTooLong             = "too long"
	ReasonInsufficientContent = "insufficient content"
	ReasonSuspiciousContent   = "suspicious content"
)

const (
	defaultMaxLength = 1000
	minAlphanumeric  = 3
)

// suspiciousPatterns are matched case-insensitively anywhere in the question
var suspiciousPatterns = []string{"<script", "javascript:", "onerror=", "<?php", "eval("}

// ValidationError explains why a question was rejected
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Validator screens raw questions before any collaborator is called
type Validator struct {
	minLength int
	maxLength int
	strict    bool
}

// NewValidator creates a validator from configuration
func NewValidator(cfg model.ValidationConfig) *Validator {
	maxLength := cfg.MaxLength
	if maxLength <= 0 {
		maxLength = defaultMaxLength
	}
	return &Validator{
		minLength: cfg.MinQuestionLength(),
		maxLength: maxLength,
		strict:    cfg.Strict,
	}
}

// Validate returns the trimmed question or a *ValidationError.
// No escaping is applied; callers must keep treating the result as untrusted text.
func (v *Validator) Validate(raw any) (string, error) {
	if raw == nil {
		return "", reject(ReasonEmpty, "Pergunta não pode ser vazia")
	}

	question, ok := raw.(string)
	if !ok {
		return "", reject(ReasonNotText, "Pergunta deve ser texto")
	}

	sanitized := strings.TrimSpace(question)
	if sanitized == "" {
		return "", reject(ReasonEmpty, "Pergunta não pode ser vazia")
	}

	length := utf8.RuneCountInString(sanitized)
	if length < v.minLength {
		return "", reject(ReasonTooShort, fmt.Sprintf("Pergunta muito curta (mínimo %d caracteres)", v.minLength))
	}
	if length > v.maxLength {
		return "", reject(ReasonTooLong, fmt.Sprintf("Pergunta muito longa (máximo %d caracteres)", v.maxLength))
	}

	if !v.strict {
		return sanitized, nil
	}

	if countAlphanumeric(sanitized) < minAlphanumeric {
		return "", reject(ReasonInsufficientContent, "Pergunta deve conter pelo menos 3 caracteres alfanuméricos")
	}

	lower := strings.ToLower(sanitized)
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(lower, pattern) {
			return "", reject(ReasonSuspiciousContent, "Pergunta contém conteúdo suspeito")
		}
	}

	return sanitized, nil
}

// MinLength returns the effective minimum length
func (v *Validator) MinLength() int {
	return v.minLength
}

func reject(reason, message string) *ValidationError {
	return &ValidationError{Reason: reason, Message: message}
}

func countAlphanumeric(s string) int {
	count := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			count++
		}
	}
	return count
}
