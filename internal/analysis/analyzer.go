// Package analysis scores meeting transcripts against a checklist using a
// chat-completion model.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/user/meetbot/internal/retry"
	"github.com/user/meetbot/internal/types"
	"github.com/user/meetbot/pkg/llm"
)

// ErrEmptyTranscript is returned for transcripts with no text.
var ErrEmptyTranscript = errors.New("transcript is empty")

// ResponseError reports a model reply that could not be turned into a result.
type ResponseError struct {
	Raw string
	Err error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("malformed analysis response: %v", e.Err)
}

func (e *ResponseError) Unwrap() error { return e.Err }

// Analyzer turns a transcript into a types.AnalysisResult.
type Analyzer struct {
	provider llm.Provider
	budget   *Budget
	criteria []Criterion
	tmpl     *template.Template
	retry    *retry.Policy
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer) error

// WithBudget trims transcripts longer than the budget before sending them.
func WithBudget(b *Budget) Option {
	return func(a *Analyzer) error { a.budget = b; return nil }
}

// WithCriteria replaces the default checklist.
func WithCriteria(c []Criterion) Option {
	return func(a *Analyzer) error {
		if len(c) == 0 {
			return errors.New("criteria list is empty")
		}
		a.criteria = c
		return nil
	}
}

// WithPromptFile loads the system prompt template from path. An empty path
// keeps the default.
func WithPromptFile(path string) Option {
	return func(a *Analyzer) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read prompt file: %w", err)
		}
		tmpl, err := parsePrompt(string(data))
		if err != nil {
			return err
		}
		a.tmpl = tmpl
		return nil
	}
}

// WithRetry retries failed completions under p.
func WithRetry(p *retry.Policy) Option {
	return func(a *Analyzer) error { a.retry = p; return nil }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) error { a.logger = l; return nil }
}

// New creates an Analyzer over provider.
func New(provider llm.Provider, opts ...Option) (*Analyzer, error) {
	tmpl, err := parsePrompt(DefaultPrompt)
	if err != nil {
		return nil, err
	}
	a := &Analyzer{
		provider: provider,
		criteria: DefaultCriteria,
		tmpl:     tmpl,
		retry:    &retry.Policy{MaxAttempts: 1, Multiplier: 1},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Criteria returns the active checklist.
func (a *Analyzer) Criteria() []Criterion { return a.criteria }

// Analyze scores transcript. The reply must be a JSON object that passes
// types.AnalysisResult.Validate.
func (a *Analyzer) Analyze(ctx context.Context, transcript string) (*types.AnalysisResult, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, ErrEmptyTranscript
	}

	truncated := false
	if a.budget != nil {
		transcript, truncated = a.budget.Fit(transcript)
		if truncated {
			a.logger.Warn("transcript trimmed to token budget", "max_tokens", a.budget.MaxTokens())
		}
	}

	system, err := renderPrompt(a.tmpl, a.criteria, truncated, a.now())
	if err != nil {
		return nil, err
	}
	messages := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: "Transcript:\n\n" + transcript},
	}

	var result *types.AnalysisResult
	err = a.retry.Execute(ctx, func(ctx context.Context) error {
		resp, err := a.provider.Complete(ctx, messages)
		if err != nil {
			return fmt.Errorf("completion: %w", err)
		}
		res, err := ParseResult(resp.Content)
		if err != nil {
			return retry.Permanent(err)
		}
		a.logger.Debug("analysis complete",
			"score", res.OverallScore,
			"category", res.Category,
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens)
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// wireResult accepts both snake_case keys and the camelCase ones some
// prompts produce.
type wireResult struct {
	OverallScore  *float64                 `json:"overall_score"`
	OverallScore2 *float64                 `json:"overallScore"`
	Category      string                   `json:"category"`
	Criteria      map[string]wireCriterion `json:"criteria"`
	Points        map[string]wireCriterion `json:"points"`
	Summary       string                   `json:"summary"`
}

type wireCriterion struct {
	Score   float64 `json:"score"`
	Comment string  `json:"comment"`
}

// ParseResult decodes a model reply. Markdown code fences around the JSON
// object are ignored.
func ParseResult(raw string) (*types.AnalysisResult, error) {
	body := stripFences(raw)
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}

	var w wireResult
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return nil, &ResponseError{Raw: raw, Err: err}
	}

	score := w.OverallScore
	if score == nil {
		score = w.OverallScore2
	}
	if score == nil {
		return nil, &ResponseError{Raw: raw, Err: errors.New("overall_score missing")}
	}
	criteria := w.Criteria
	if criteria == nil {
		criteria = w.Points
	}

	res := &types.AnalysisResult{
		OverallScore: int(*score + 0.5),
		Category:     types.Category(strings.ToUpper(strings.TrimSpace(w.Category))),
		Criteria:     make(map[string]types.CriterionScore, len(criteria)),
		Summary:      strings.TrimSpace(w.Summary),
	}
	for id, c := range criteria {
		res.Criteria[id] = types.CriterionScore{Score: int(c.Score + 0.5), Comment: strings.TrimSpace(c.Comment)}
	}
	if err := res.Validate(); err != nil {
		return nil, &ResponseError{Raw: raw, Err: err}
	}
	return res, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
