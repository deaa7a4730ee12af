// Package gateway admits meeting requests into a bounded job queue and runs
// them through the pipeline.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/user/meetbot/internal/metrics"
	"github.com/user/meetbot/internal/pipeline"
	"github.com/user/meetbot/internal/platform"
	"github.com/user/meetbot/internal/types"
)

// ErrJobNotFound is returned for unknown or already settled job ids.
var ErrJobNotFound = errors.New("job not found")

// Runner executes one meeting request. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, req types.MeetingRequest, opts ...pipeline.RunOption) (*pipeline.Result, error)
}

// Gateway turns inbound requests into queued jobs. It keeps the active
// jobs so they can be listed and stopped, and writes every settled job to
// the journal.
type Gateway struct {
	runner  Runner
	journal types.JobJournal
	metrics *metrics.Metrics
	logger  *slog.Logger
	Queue   *Queue

	mu   sync.Mutex
	jobs map[types.JobID]*Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMetrics records queue depth on m.
func WithMetrics(m *metrics.Metrics) Option { return func(g *Gateway) { g.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(g *Gateway) { g.logger = l } }

// New creates a Gateway over runner with the given concurrency limit for
// simultaneous jobs. journal may be nil.
func New(runner Runner, journal types.JobJournal, maxConcurrent int64, opts ...Option) *Gateway {
	g := &Gateway{
		runner:  runner,
		journal: journal,
		logger:  slog.Default(),
		Queue:   NewQueue(maxConcurrent),
		jobs:    make(map[types.JobID]*Job),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.Queue.SetProcessor(g.process)
	g.Queue.SetDepthObserver(g.metrics.SetQueueDepth)
	return g
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context, stops the queue, and waits for any
// outstanding work to finish. Running jobs abort and release their
// resources before Stop returns.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
	g.wg.Wait()
}

// JobOption configures optional behavior on a Job.
type JobOption func(*Job)

// WithOnComplete sets a callback invoked when the job settles.
func WithOnComplete(fn func(*pipeline.Result)) JobOption {
	return func(j *Job) { j.OnComplete = fn }
}

// Submit validates req and enqueues it. Malformed URLs are rejected with a
// *platform.InvalidURLError before anything is queued.
func (g *Gateway) Submit(req types.MeetingRequest, opts ...JobOption) (*Job, error) {
	if _, err := platform.Classify(req.URL); err != nil {
		return nil, err
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now()
	}
	job := NewJob(req)
	for _, opt := range opts {
		opt(job)
	}

	g.mu.Lock()
	g.jobs[job.ID] = job
	g.mu.Unlock()

	if err := g.Queue.Enqueue(job); err != nil {
		g.forget(job.ID)
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	g.logger.Info("meeting job queued", "job_id", string(job.ID), "url", req.URL, "source", req.Source)
	return job, nil
}

// Process submits req and waits for it to settle. If ctx ends first the job
// keeps running and ctx's error is returned.
func (g *Gateway) Process(ctx context.Context, req types.MeetingRequest) (*pipeline.Result, error) {
	job, err := g.Submit(req)
	if err != nil {
		return nil, err
	}
	select {
	case <-job.Done():
		return job.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StopJob ends the recording of an active job early. The job still goes
// through transcription, analysis and reporting.
func (g *Gateway) StopJob(id types.JobID) error {
	g.mu.Lock()
	job, ok := g.jobs[id]
	g.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	job.RequestStop()
	g.logger.Info("stop requested", "job_id", string(id))
	return nil
}

// Jobs lists queued and running jobs, oldest first.
func (g *Gateway) Jobs() []JobInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]JobInfo, 0, len(g.jobs))
	for _, j := range g.jobs {
		out = append(out, j.Info())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

func (g *Gateway) forget(id types.JobID) {
	g.mu.Lock()
	delete(g.jobs, id)
	g.mu.Unlock()
}

// process is the queue processor: it runs the pipeline, journals the
// outcome and notifies the submitter.
func (g *Gateway) process(ctx context.Context, job *Job) {
	g.wg.Add(1)
	defer g.wg.Done()

	job.markRunning()
	res, err := g.runner.Run(ctx, job.Request, pipeline.WithJobID(job.ID), pipeline.WithStopSignal(job.stop))

	if g.journal != nil && res != nil {
		// ctx may already be cancelled by shutdown
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if jerr := g.journal.Append(jctx, res.Record()); jerr != nil {
			g.logger.Error("journal append failed", "job_id", string(job.ID), "error", jerr)
		}
		cancel()
	}

	g.forget(job.ID)
	if job.OnComplete != nil && res != nil {
		job.OnComplete(res)
	}
	job.settle(res, err)
}
