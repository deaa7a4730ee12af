package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/meetbot/internal/crm"
	"github.com/user/meetbot/internal/platform"
	"github.com/user/meetbot/internal/report"
	"github.com/user/meetbot/internal/types"
)

// job is the state of one run. Only the job holds the session and the
// recording, and it releases both before Run returns.
type job struct {
	p      *Pipeline
	req    types.MeetingRequest
	result *Result
	logger *slog.Logger
	stop   <-chan struct{}

	session Session
	rec     Recording

	enteredAt   time.Time
	cleanupOnce sync.Once
	mu          sync.Mutex
}

func (p *Pipeline) newJob(req types.MeetingRequest) *job {
	now := p.now()
	return &job{
		p:   p,
		req: req,
		result: &Result{
			JobID:     types.NewJobID(),
			Request:   req,
			State:     StateIdle,
			StartedAt: now,
		},
		enteredAt: now,
	}
}

func (j *job) transition(to State) {
	now := j.p.now()
	from := j.result.State
	j.p.deps.Metrics.ObserveStage(string(from), now.Sub(j.enteredAt))
	j.result.Transitions = append(j.result.Transitions, Transition{From: from, To: to, At: now})
	j.result.State = to
	j.enteredAt = now
	j.logger.Debug("state change", "from", from, "to", to)
}

func (j *job) fail(stage State, err error) {
	j.p.deps.Metrics.StageFailed(string(stage))
	j.result.Err = &StageError{Stage: stage, Err: err}
	j.transition(StateFailed)
	j.cleanup()
	j.notifyFailure(stage, err)
}

func (j *job) warn(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result.Warnings = append(j.result.Warnings, fmt.Sprintf(format, args...))
}

// cleanup stops the capture process, then closes the browser. It runs once,
// as soon as the recording is no longer needed and again from a deferred
// call in Run.
func (j *job) cleanup() {
	j.cleanupOnce.Do(func() {
		if j.rec != nil {
			if _, err := j.rec.Stop(); err != nil {
				j.logger.Debug("recording stop during cleanup", "error", err)
			}
		}
		if j.session != nil {
			if err := j.session.Close(); err != nil {
				j.logger.Warn("closing browser session", "error", err)
			}
		}
	})
}

func (j *job) run(ctx context.Context) {
	deps := j.p.deps

	variant, err := platform.Classify(j.req.URL)
	if err != nil {
		j.fail(StateIdle, err)
		return
	}
	j.result.Platform = variant
	j.logger = j.logger.With("platform", string(variant))
	j.logger.Info("meeting job accepted", "url", j.req.URL, "correlation_id", j.req.CorrelationID, "source", j.req.Source)

	j.transition(StateJoining)
	sess, err := deps.Opener.Open(ctx, j.req.URL)
	if sess != nil {
		j.session = sess
		j.logger = j.logger.With("browser_pid", sess.PID())
		for _, w := range sess.Warnings() {
			j.warn("join: %s", w)
		}
	}
	if err != nil {
		j.fail(StateJoining, err)
		return
	}
	if err := ctx.Err(); err != nil {
		j.fail(StateJoining, err)
		return
	}

	j.transition(StateRecording)
	rec, err := deps.Recorder.Start(ctx)
	if err != nil {
		j.fail(StateRecording, err)
		return
	}
	j.rec = rec
	recStart := j.p.now()

	if err := j.waitRecording(ctx); err != nil {
		j.fail(StateRecording, err)
		return
	}

	j.transition(StateStopping)
	path, err := rec.Stop()
	deps.Metrics.ObserveRecording(j.p.now().Sub(recStart))
	if err != nil {
		j.discardArtifact(rec.Path())
		j.fail(StateStopping, err)
		return
	}
	// The meeting is over for us; release the browser before the slow stages.
	j.cleanup()
	if err := ctx.Err(); err != nil {
		j.fail(StateStopping, err)
		return
	}

	j.transition(StateTranscribing)
	text, err := deps.Transcriber.Transcribe(ctx, path)
	if err != nil {
		j.fail(StateTranscribing, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err))
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		j.fail(StateTranscribing, fmt.Errorf("%w: empty transcript", ErrTranscriptionFailed))
		return
	}
	j.result.Transcript = text
	j.logger.Info("transcript received", "chars", len([]rune(text)))
	j.discardArtifact(path)
	if err := ctx.Err(); err != nil {
		j.fail(StateTranscribing, err)
		return
	}

	j.transition(StateAnalyzing)
	analysis, err := deps.Analyzer.Analyze(ctx, text)
	if err == nil && analysis == nil {
		err = errors.New("no result")
	}
	if err != nil {
		j.fail(StateAnalyzing, fmt.Errorf("%w: %w", ErrAnalysisFailed, err))
		return
	}
	j.result.Analysis = analysis
	j.logger.Info("analysis done", "score", analysis.OverallScore, "category", analysis.Category)

	j.transition(StateReporting)
	j.deliver(ctx)
	j.transition(StateDone)
}

// discardArtifact removes the recording unless artifacts are kept.
func (j *job) discardArtifact(path string) {
	if j.p.cfg.KeepArtifacts || path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		j.warn("remove recording %s: %v", path, err)
	}
}

// waitRecording returns when the session limit passes, the capture exits on
// its own or the stop signal fires. A cancelled ctx is an abort.
func (j *job) waitRecording(ctx context.Context) error {
	timer := time.NewTimer(j.p.cfg.MaxSession)
	defer timer.Stop()

	select {
	case <-timer.C:
		j.logger.Info("session limit reached", "max_session", j.p.cfg.MaxSession)
	case <-j.rec.Done():
		j.logger.Info("recording process exited")
	case <-j.stop:
		j.logger.Info("stop requested")
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// deliver sends the summary to the operator and the CRM concurrently.
// Failures become warnings; the job still ends Done.
func (j *job) deliver(ctx context.Context) {
	deps := j.p.deps
	var g errgroup.Group

	if deps.Notifier != nil {
		msg := report.Format(report.Meeting{
			URL:        j.req.URL,
			LeadID:     j.req.CorrelationID,
			Platform:   string(j.result.Platform),
			Transcript: j.result.Transcript,
			Result:     j.result.Analysis,
			Warnings:   j.warnings(),
		})
		for _, ch := range j.channels() {
			g.Go(func() error {
				if err := deps.Notifier.Deliver(ch, msg); err != nil {
					j.reportingFailed("notifier", err)
				}
				return nil
			})
		}
	}

	if deps.CRM != nil && j.req.CorrelationID != "" {
		g.Go(func() error {
			err := deps.CRM.UpdateLead(ctx, crm.Update{
				RecordID:   j.req.CorrelationID,
				Result:     j.result.Analysis,
				MeetingURL: j.req.URL,
			})
			if err != nil {
				j.reportingFailed("crm", err)
			}
			return nil
		})
	}

	_ = g.Wait()
}

func (j *job) reportingFailed(sink string, err error) {
	err = fmt.Errorf("%w: %s: %w", ErrReportingFailed, sink, err)
	j.p.deps.Metrics.ReportingFailed(sink)
	j.logger.Warn("reporting failed", "sink", sink, "error", err)
	j.warn("%v", err)
}

func (j *job) warnings() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.result.Warnings...)
}

// channels lists where reports go: the operator channel and the request's
// own reply channel, without duplicates.
func (j *job) channels() []string {
	var out []string
	for _, ch := range []types.ChannelKey{j.p.cfg.OperatorChannel, j.req.ReplyTo} {
		if ch == "" || (len(out) > 0 && out[0] == string(ch)) {
			continue
		}
		out = append(out, string(ch))
	}
	return out
}

func (j *job) notifyFailure(stage State, err error) {
	deps := j.p.deps
	if deps.Notifier == nil {
		return
	}
	msg := report.FormatFailure(j.req.URL, j.req.CorrelationID, string(stage), err)
	for _, ch := range j.channels() {
		if derr := deps.Notifier.Deliver(ch, msg); derr != nil {
			deps.Metrics.ReportingFailed("notifier")
			j.logger.Warn("failure notice not delivered", "channel", ch, "error", derr)
		}
	}
}
