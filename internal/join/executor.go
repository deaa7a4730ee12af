package join

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/meetbot/internal/platform"
)

// StepExhaustedError is returned when every candidate of a required step failed.
type StepExhaustedError struct {
	Step     string
	Platform platform.Variant
	Attempts int
	Last     error
}

func (e *StepExhaustedError) Error() string {
	return fmt.Sprintf("join %s: required step %q exhausted after %d attempts: %v", e.Platform, e.Step, e.Attempts, e.Last)
}

func (e *StepExhaustedError) Unwrap() error { return e.Last }

// Outcome labels used in reports and metrics.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeSkipped   = "skipped"
	OutcomeExhausted = "exhausted"
)

// StepResult records what happened to one step.
type StepResult struct {
	Name      string        `json:"name"`
	Outcome   string        `json:"outcome"`
	Candidate string        `json:"candidate,omitempty"`
	Attempts  int           `json:"attempts"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Report summarises an executor run.
type Report struct {
	Platform platform.Variant `json:"platform"`
	Steps    []StepResult     `json:"steps"`
	Warnings []string         `json:"warnings,omitempty"`
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// StepObserver receives per-step outcomes, typically for metrics.
type StepObserver interface {
	ObserveJoinStep(platform, step, outcome string)
}

// audioPrimeScript opens a microphone stream so the page keeps its audio
// pipeline active while the call plays through the host sink.
const audioPrimeScript = `(() => {
  if (!navigator.mediaDevices || !navigator.mediaDevices.getUserMedia) return false;
  navigator.mediaDevices.getUserMedia({ audio: true, video: false })
    .then(s => { window.__meetbotAudio = s; })
    .catch(() => {});
  return true;
})()`

// Executor runs join sequences from a Table.
type Executor struct {
	table    Table
	logger   *slog.Logger
	observer StepObserver
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for step progress.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithObserver sets a receiver for step outcomes.
func WithObserver(o StepObserver) Option {
	return func(e *Executor) { e.observer = o }
}

// NewExecutor creates an Executor over table.
func NewExecutor(table Table, opts ...Option) *Executor {
	e := &Executor{table: table, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Steps returns the configured sequence for v.
func (e *Executor) Steps(v platform.Variant) []Step {
	return e.table[v]
}

// Run executes the steps for variant against page. Steps run strictly in
// order; cancellation of ctx is observed between steps. A required step whose
// candidates all fail stops the run with a *StepExhaustedError.
func (e *Executor) Run(ctx context.Context, variant platform.Variant, page Page) (*Report, error) {
	steps, ok := e.table[variant]
	if !ok {
		return nil, fmt.Errorf("no join sequence for platform %s", variant)
	}
	log := e.logger.With("platform", string(variant))
	report := &Report{Platform: variant}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("join %s interrupted before %s: %w", variant, step.Name, err)
		}

		res, last := e.runStep(ctx, step, page)
		report.Steps = append(report.Steps, res)
		e.observe(variant, step.Name, res.Outcome)

		switch res.Outcome {
		case OutcomeSucceeded:
			log.Debug("join step succeeded", "step", step.Name, "candidate", res.Candidate, "attempts", res.Attempts)
		case OutcomeExhausted:
			log.Error("required join step exhausted", "step", step.Name, "attempts", res.Attempts, "error", last)
			return report, &StepExhaustedError{Step: step.Name, Platform: variant, Attempts: res.Attempts, Last: last}
		case OutcomeSkipped:
			log.Warn("optional join step skipped", "step", step.Name, "attempts", res.Attempts, "error", last)
			report.warn("step %s skipped: %v", step.Name, last)
		}
	}

	e.finish(ctx, page, report, log)
	return report, nil
}

// runStep tries each candidate in order. Candidates run on a context detached
// from ctx cancellation so an attempt is never interrupted half-way; each is
// bounded by the step timeout instead.
func (e *Executor) runStep(ctx context.Context, step Step, page Page) (StepResult, error) {
	start := time.Now()
	res := StepResult{Name: step.Name}
	last := errors.New("no candidates")
	for _, c := range step.Candidates {
		res.Attempts++
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), step.Timeout)
		err := c.Apply(cctx, page)
		cancel()
		if err == nil {
			res.Outcome = OutcomeSucceeded
			res.Candidate = c.String()
			res.Elapsed = time.Since(start)
			return res, nil
		}
		last = fmt.Errorf("%s: %w", c, err)
	}
	res.Elapsed = time.Since(start)
	if step.Required {
		res.Outcome = OutcomeExhausted
	} else {
		res.Outcome = OutcomeSkipped
	}
	return res, last
}

// finish grants media permissions and re-installs the automation shims on
// the live document. Failures are warnings.
func (e *Executor) finish(ctx context.Context, page Page, report *Report, log *slog.Logger) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), inputTimeout)
	defer cancel()

	if err := page.GrantMediaPermissions(fctx, page.Origin()); err != nil {
		log.Warn("grant media permissions failed", "origin", page.Origin(), "error", err)
		report.warn("grant media permissions: %v", err)
	}
	if err := page.InstallStealth(fctx); err != nil {
		log.Warn("install stealth shims failed", "error", err)
		report.warn("install stealth shims: %v", err)
	}
	if ok, err := page.Evaluate(fctx, audioPrimeScript); err != nil || !ok {
		log.Warn("audio capture prime failed", "error", err)
		report.warn("audio capture prime unavailable")
	}
}

func (e *Executor) observe(v platform.Variant, step, outcome string) {
	if e.observer != nil {
		e.observer.ObserveJoinStep(string(v), step, outcome)
	}
}
