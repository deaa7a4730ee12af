package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrQueueStopped is the settle error for jobs that were still waiting when
// the queue shut down.
var ErrQueueStopped = errors.New("job queue stopped")

const defaultLane = "default"

// Queue manages per-lead lanes with a global concurrency semaphore.
// Each lead gets its own FIFO channel (lane) so that meetings for one lead
// are processed sequentially, while the semaphore limits the total number
// of concurrently recording jobs across all lanes.
type Queue struct {
	lanes     map[string]chan *Job
	semaphore *semaphore.Weighted
	processor func(context.Context, *Job)
	onDepth   func(int)
	active    atomic.Int64
	pending   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue that allows up to maxConcurrent jobs to execute
// simultaneously across all lanes.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[string]chan *Job),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// processors to finish. Jobs still waiting are settled with ErrQueueStopped.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for key, lane := range q.lanes {
		close(lane)
		delete(q.lanes, key)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func laneKey(j *Job) string {
	if j.Request.CorrelationID != "" {
		return j.Request.CorrelationID
	}
	return defaultLane
}

// Enqueue adds a Job to its lead's lane, creating the lane (and its
// goroutine) on first use. Returns an error if the lane's buffer is full.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil || q.ctx.Err() != nil {
		return ErrQueueStopped
	}

	key := laneKey(job)
	lane, exists := q.lanes[key]
	if !exists {
		lane = make(chan *Job, 100)
		q.lanes[key] = lane
		q.wg.Add(1)
		go q.processLane(key, lane)
	}

	select {
	case lane <- job:
		q.setPending(q.pending.Add(1))
		return nil
	default:
		return fmt.Errorf("queue full for lead %s", key)
	}
}

// processLane drains a single lane, acquiring a semaphore slot before
// running the processor synchronously. This ensures strict FIFO ordering
// within a lane while the semaphore limits cross-lane parallelism. The lane
// retires once it is empty, so leads that are seen once do not keep a
// goroutine for the life of the daemon.
func (q *Queue) processLane(key string, lane chan *Job) {
	defer q.wg.Done()
	for job := range lane {
		q.setPending(q.pending.Add(-1))
		q.run(key, job)
		if q.retire(key, lane) {
			return
		}
	}
}

func (q *Queue) run(key string, job *Job) {
	if q.ctx.Err() != nil || q.semaphore.Acquire(q.ctx, 1) != nil {
		slog.Debug("job dropped at shutdown", "job_id", string(job.ID), "lane", key)
		job.settle(nil, ErrQueueStopped)
		return
	}
	defer q.semaphore.Release(1)
	if q.processor == nil {
		job.settle(nil, errors.New("no processor configured"))
		return
	}
	q.active.Add(1)
	defer q.active.Add(-1)
	q.processor(q.ctx, job)
}

// retire removes lane from the lane map when nothing is waiting in it.
// Enqueue sends while holding q.mu, so once the lane is unmapped under the
// lock no job can reach it; the next job for key starts a fresh lane.
func (q *Queue) retire(key string, lane chan *Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lanes[key] != lane || len(lane) > 0 {
		return false
	}
	delete(q.lanes, key)
	return true
}

// Lanes returns the number of lanes currently holding or running jobs.
func (q *Queue) Lanes() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.lanes)
}

func (q *Queue) setPending(n int64) {
	if q.onDepth != nil {
		q.onDepth(int(n))
	}
}

// Active returns the number of jobs currently being processed.
func (q *Queue) Active() int { return int(q.active.Load()) }

// Pending returns the number of jobs waiting in lanes.
func (q *Queue) Pending() int { return int(q.pending.Load()) }

// WaitIdle blocks until no jobs are actively being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Job. The
// processor must settle the job.
func (q *Queue) SetProcessor(fn func(context.Context, *Job)) {
	q.processor = fn
}

// SetDepthObserver registers fn to receive the pending count on change.
func (q *Queue) SetDepthObserver(fn func(int)) {
	q.onDepth = fn
}
