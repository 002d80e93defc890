package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrNoChoices is returned when a provider answers with no completion
	ErrNoChoices = errors.New("no completion returned")

	// ErrEmptyCompletion is returned when the completion text is blank
	ErrEmptyCompletion = errors.New("empty completion")

	// ErrCitationLeak is returned when the model cites a document outside the allowed set
	ErrCitationLeak = errors.New("citation leak")
)

// Provider is the generative collaborator: prompt in, text out
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete runs a single deterministic completion
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// IsAvailable checks if the provider is properly configured and reachable
	IsAvailable(ctx context.Context) bool
}

// CompletionRequest contains the input for a grounded completion
type CompletionRequest struct {
	// System is the role instruction
	System string

	// Prompt carries the grounding contract, the context block and the question
	Prompt string

	// Temperature is 0 for compliance answers
	Temperature float64

	// MaxTokens is the hard output cap
	MaxTokens int

	// Model overrides the configured model or deployment
	Model string

	// AllowedSources is the STRICT allowlist of documents the model may cite.
	// Empty disables the check for this request.
	AllowedSources []string
}

// CompletionResponse contains the model output
type CompletionResponse struct {
	Text       string
	Model      string
	TokensUsed int
}

// Config holds provider configuration
type Config struct {
	// Provider name: "openai", "azure", "anthropic", "ollama", ""
	Provider string

	// Model name, or the deployment name on Azure
	Model string

	// APIKey for OpenAI/Azure/Anthropic
	APIKey string

	// BaseURL for custom endpoints (Azure resource endpoint, Ollama host)
	BaseURL string

	// APIVersion is the Azure OpenAI api-version query parameter
	APIVersion string

	// Timeout for API requests
	Timeout int // seconds

	// MaxTokens for response generation
	MaxTokens int

	// StrictCitations rejects completions that cite documents outside the evidence set
	StrictCitations bool

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:        "", // Disabled by default
		Timeout:         30,
		MaxTokens:       500,
		StrictCitations: true,
	}
}

// documentPattern matches file names a model may cite, e.g. "politica-senhas.pdf"
var documentPattern = regexp.MustCompile(`(?i)[\p{L}\p{N}_\-./]+\.(?:pdf|docx?|xlsx?|pptx?|txt|md)\b`)

// ExtractCitedDocuments returns the distinct document names mentioned in text
func ExtractCitedDocuments(text string) []string {
	matches := documentPattern.FindAllString(text, -1)

	seen := make(map[string]bool)
	var unique []string
	for _, m := range matches {
		name := strings.ToLower(path.Base(m))
		if !seen[name] {
			seen[name] = true
			unique = append(unique, name)
		}
	}
	return unique
}

// CheckCitations fails with ErrCitationLeak if text names a document not in allowed.
// Allowed names are matched whole first, so names containing spaces
// ("Política de Senhas.pdf") are never split by documentPattern.
func CheckCitations(text string, allowed []string) error {
	if len(allowed) == 0 {
		return nil
	}

	names := make([]string, 0, len(allowed))
	for _, a := range allowed {
		if name := strings.ToLower(path.Base(a)); name != "" && name != "." {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = regexp.QuoteMeta(n)
	}
	allowedPattern := regexp.MustCompile(`(?:^|[^\p{L}\p{N}_\-./])(?:` + strings.Join(quoted, "|") + `)`)
	rest := allowedPattern.ReplaceAllString(strings.ToLower(text), " ")

	for _, cited := range ExtractCitedDocuments(rest) {
		if !partOfAllowed(cited, names) {
			return fmt.Errorf("%w: model cited %s", ErrCitationLeak, cited)
		}
	}
	return nil
}

// partOfAllowed reports whether cited is an allowed name or a word-aligned
// tail of one, e.g. "senhas.pdf" for "política de senhas.pdf"
func partOfAllowed(cited string, names []string) bool {
	for _, n := range names {
		if n == cited {
			return true
		}
		if !strings.HasSuffix(n, cited) {
			continue
		}
		r, _ := utf8.DecodeLastRuneInString(n[:len(n)-len(cited)])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// finishCompletion applies the checks every provider shares
func finishCompletion(text string, req CompletionRequest, strict bool) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	if strict {
		if err := CheckCitations(text, req.AllowedSources); err != nil {
			return "", err
		}
	}
	return text, nil
}

// openAITemperature maps 0 to the smallest positive float so the field is not
// dropped by omitempty and the server does not fall back to its default of 1.
func openAITemperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

func maxTokensOr(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 500
}
