package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/auditrag/internal/model"
)

// Asker submits one question to the service
type Asker interface {
	Ask(ctx context.Context, question string) (*model.AnswerResponse, error)
}

// QuestionJob asks one question once the pacer allows it
type QuestionJob struct {
	Question string
	Asker    Asker
	Pacer    *Pacer
}

// Execute runs the job
func (j *QuestionJob) Execute(ctx context.Context) Result {
	if j.Pacer != nil {
		if err := j.Pacer.Wait(ctx); err != nil {
			return &QuestionResult{Question: j.Question, Error: fmt.Errorf("pacer: %w", err)}
		}
	}

	start := time.Now()
	resp, err := j.Asker.Ask(ctx, j.Question)
	return &QuestionResult{
		Question: j.Question,
		Response: resp,
		Error:    err,
		Duration: time.Since(start),
	}
}

// QuestionResult is the outcome of one batch question
type QuestionResult struct {
	Question string
	Response *model.AnswerResponse
	Error    error
	Duration time.Duration
}

// Err returns the failure, if any
func (r *QuestionResult) Err() error {
	return r.Error
}

// BatchProcessor asks many questions concurrently
type BatchProcessor struct {
	asker       Asker
	concurrency int
	pacer       *Pacer
}

// NewBatchProcessor creates a processor. pacer may be nil.
func NewBatchProcessor(asker Asker, concurrency int, pacer *Pacer) *BatchProcessor {
	return &BatchProcessor{
		asker:       asker,
		concurrency: concurrency,
		pacer:       pacer,
	}
}

// ProcessQuestions asks every question and returns results in input order
func (b *BatchProcessor) ProcessQuestions(ctx context.Context, questions []string) []*QuestionResult {
	if len(questions) == 0 {
		return []*QuestionResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for _, q := range questions {
		if !pool.Submit(&QuestionJob{Question: q, Asker: b.asker, Pacer: b.pacer}) {
			break
		}
	}

	results := pool.Wait()
	out := make([]*QuestionResult, len(results))
	for i, r := range results {
		out[i] = r.(*QuestionResult)
	}
	return out
}

// ProcessFile reads questions from a file and asks them
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*QuestionResult, error) {
	questions, err := ReadQuestionsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	return b.ProcessQuestions(ctx, questions), nil
}

// ReadQuestionsFromFile reads one question per line, skipping blanks,
// # comments and repeats
func ReadQuestionsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var questions []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !seen[line] {
			seen[line] = true
			questions = append(questions, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return questions, nil
}

// Summary aggregates a batch run
type Summary struct {
	Total        int
	Answered     int
	Failed       int
	ByConfidence map[string]int
}

// Summarize counts outcomes per confidence label
func Summarize(results []*QuestionResult) Summary {
	s := Summary{Total: len(results), ByConfidence: make(map[string]int)}
	for _, r := range results {
		if r.Error != nil || r.Response == nil {
			s.Failed++
			continue
		}
		s.Answered++
		s.ByConfidence[r.Response.Confidence]++
	}
	return s
}

// Labels returns the confidence labels seen, sorted
func (s Summary) Labels() []string {
	labels := make([]string, 0, len(s.ByConfidence))
	for l := range s.ByConfidence {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}
