// Package pipeline sequences one meeting job: join, record, transcribe,
// analyze and report, releasing the browser and the capture process on every
// exit path.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/meetbot/internal/crm"
	"github.com/user/meetbot/internal/metrics"
	"github.com/user/meetbot/internal/types"
)

// Session is a joined browser session.
type Session interface {
	// PID is the browser process id, 0 if none was started.
	PID() int
	// Warnings lists non-fatal join problems such as a failed mute.
	Warnings() []string
	Close() error
}

// SessionOpener launches a browser and joins the meeting. On failure it may
// return a partially started session, which the pipeline closes.
type SessionOpener interface {
	Open(ctx context.Context, meetingURL string) (Session, error)
}

// Recording is a running capture.
type Recording interface {
	Path() string
	PID() int
	// Done is closed when the capture process exits on its own.
	Done() <-chan struct{}
	// Stop is idempotent and returns the verified artifact path.
	Stop() (string, error)
}

// Recorder starts captures.
type Recorder interface {
	Start(ctx context.Context) (Recording, error)
}

// Transcriber converts an audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Analyzer scores a transcript.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (*types.AnalysisResult, error)
}

// Notifier delivers a message to a channel such as "telegram:123".
type Notifier interface {
	Deliver(channel, message string) error
}

// CRM pushes results to a lead record.
type CRM interface {
	UpdateLead(ctx context.Context, u crm.Update) error
}

// Config holds per-run limits.
type Config struct {
	// MaxSession bounds the recording wait.
	MaxSession time.Duration
	// OperatorChannel receives reports and failure notices. Empty disables them.
	OperatorChannel types.ChannelKey
	// KeepArtifacts skips deleting audio after transcription.
	KeepArtifacts bool
}

// Deps are the collaborators shared by all runs. Notifier, CRM and Metrics
// may be nil.
type Deps struct {
	Opener      SessionOpener
	Recorder    Recorder
	Transcriber Transcriber
	Analyzer    Analyzer
	Notifier    Notifier
	CRM         CRM
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Pipeline runs meeting jobs. It holds no per-job state and is safe for
// concurrent use.
type Pipeline struct {
	cfg  Config
	deps Deps
	now  func() time.Time
}

// New creates a Pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.MaxSession <= 0 {
		cfg.MaxSession = time.Hour
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, deps: deps, now: time.Now}
}

// RunSettings are per-run options.
type RunSettings struct {
	JobID types.JobID
	// Stop ends the recording wait when closed.
	Stop <-chan struct{}
}

// RunOption adjusts a single run.
type RunOption func(*RunSettings)

// WithStopSignal ends the recording wait when ch is closed.
func WithStopSignal(ch <-chan struct{}) RunOption {
	return func(s *RunSettings) { s.Stop = ch }
}

// WithJobID sets the job id instead of generating one.
func WithJobID(id types.JobID) RunOption {
	return func(s *RunSettings) { s.JobID = id }
}

// Settings folds opts into a RunSettings.
func Settings(opts ...RunOption) RunSettings {
	var s RunSettings
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Run processes req to completion. It returns after the job settles, with
// the browser and capture process released. The returned error is the
// Result's Err: a *StageError for fatal failures, nil when the job is Done.
// Cancelling ctx aborts at the next stage boundary.
func (p *Pipeline) Run(ctx context.Context, req types.MeetingRequest, opts ...RunOption) (*Result, error) {
	settings := Settings(opts...)
	j := p.newJob(req)
	if settings.JobID != "" {
		j.result.JobID = settings.JobID
	}
	j.stop = settings.Stop
	j.logger = p.deps.Logger.With("job_id", string(j.result.JobID))

	p.deps.Metrics.JobStarted()
	defer j.cleanup()

	j.run(ctx)
	j.cleanup()

	j.result.EndedAt = p.now()
	platformLabel := string(j.result.Platform)
	if platformLabel == "" {
		platformLabel = "unknown"
	}
	p.deps.Metrics.JobFinished(string(j.result.State), platformLabel)

	if j.result.Err != nil {
		j.logger.Error("meeting job failed", "stage", j.result.FailedStage(), "error", j.result.Err)
	} else {
		j.logger.Info("meeting job done", "warnings", len(j.result.Warnings))
	}
	return j.result, j.result.Err
}
