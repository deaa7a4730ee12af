package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/meetbot/internal/types"
)

func testJob(lead string) *Job {
	return NewJob(types.MeetingRequest{URL: "https://zoom.us/j/1", CorrelationID: lead})
}

func TestQueueConcurrency(t *testing.T) {
	queue := NewQueue(2)
	ctx := context.Background()
	queue.Start(ctx)
	defer queue.Stop()

	var running int32
	var maxSeen int32

	queue.SetProcessor(func(_ context.Context, job *Job) {
		current := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if current <= old || atomic.CompareAndSwapInt32(&maxSeen, old, current) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		job.settle(nil, nil)
	})

	for i := 0; i < 5; i++ {
		if err := queue.Enqueue(testJob(fmt.Sprintf("lead-%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	time.Sleep(500 * time.Millisecond)

	if m := atomic.LoadInt32(&maxSeen); m > 2 {
		t.Errorf("expected max 2 concurrent, saw %d", m)
	}
}

func TestQueueProcessorCalled(t *testing.T) {
	queue := NewQueue(1)
	ctx := context.Background()
	queue.Start(ctx)
	defer queue.Stop()

	var processed int32

	queue.SetProcessor(func(_ context.Context, job *Job) {
		atomic.AddInt32(&processed, 1)
		job.settle(nil, nil)
	})

	job := testJob("")
	if err := queue.Enqueue(job); err != nil {
		t.Fatal(err)
	}

	select {
	case <-job.Done():
	case <-time.After(time.Second):
		t.Fatal("job not settled")
	}
	if atomic.LoadInt32(&processed) != 1 {
		t.Errorf("expected 1 processed job, got %d", processed)
	}
}

func TestQueueSameLeadOrdering(t *testing.T) {
	queue := NewQueue(3)
	ctx := context.Background()
	queue.Start(ctx)
	defer queue.Stop()

	var mu sync.Mutex
	var order []types.JobID
	done := make(chan struct{})

	queue.SetProcessor(func(_ context.Context, job *Job) {
		mu.Lock()
		order = append(order, job.ID)
		n := len(order)
		mu.Unlock()
		job.settle(nil, nil)
		if n == 3 {
			close(done)
		}
	})

	var want []types.JobID
	for i := 0; i < 3; i++ {
		job := testJob("same-lead")
		want = append(want, job.ID)
		if err := queue.Enqueue(job); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for jobs to process")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != want[i] {
			t.Errorf("expected order[%d] = %s, got %s", i, want[i], v)
		}
	}
}

func TestQueueNoProcessor(t *testing.T) {
	queue := NewQueue(1)
	ctx := context.Background()
	queue.Start(ctx)
	defer queue.Stop()

	job := testJob("no-proc")
	if err := queue.Enqueue(job); err != nil {
		t.Fatal(err)
	}

	select {
	case <-job.Done():
	case <-time.After(time.Second):
		t.Fatal("job without processor should settle")
	}
	if _, err := job.Result(); err == nil {
		t.Error("expected error for job without processor")
	}
}

func TestQueueStopSettlesWaitingJobs(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())

	release := make(chan struct{})
	queue.SetProcessor(func(ctx context.Context, job *Job) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		job.settle(nil, ctx.Err())
	})

	first := testJob("a")
	second := testJob("b")
	if err := queue.Enqueue(first); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := queue.Enqueue(second); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	queue.Stop()

	for _, j := range []*Job{first, second} {
		select {
		case <-j.Done():
		default:
			t.Fatalf("job %s not settled after Stop", j.ID)
		}
	}
	if _, err := second.Result(); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("expected ErrQueueStopped for waiting job, got %v", err)
	}
	if err := queue.Enqueue(testJob("c")); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("expected ErrQueueStopped after Stop, got %v", err)
	}
}

func TestQueueDepthObserver(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	var maxDepth atomic.Int64
	queue.SetDepthObserver(func(n int) {
		if int64(n) > maxDepth.Load() {
			maxDepth.Store(int64(n))
		}
	})
	release := make(chan struct{})
	queue.SetProcessor(func(_ context.Context, job *Job) {
		<-release
		job.settle(nil, nil)
	})

	jobs := []*Job{testJob("x"), testJob("x"), testJob("x")}
	for _, j := range jobs {
		if err := queue.Enqueue(j); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(50 * time.Millisecond)
	if queue.Pending() != 2 || queue.Active() != 1 {
		t.Errorf("expected 1 active and 2 pending, got %d and %d", queue.Active(), queue.Pending())
	}
	close(release)
	<-jobs[2].Done()
	if maxDepth.Load() < 2 {
		t.Errorf("expected depth observer to see at least 2, got %d", maxDepth.Load())
	}
}

func TestQueueIdleLanesRetire(t *testing.T) {
	queue := NewQueue(4)
	queue.Start(context.Background())
	defer queue.Stop()
	queue.SetProcessor(func(_ context.Context, job *Job) {
		job.settle(nil, nil)
	})

	var jobs []*Job
	for i := range 20 {
		job := testJob(fmt.Sprintf("lead-%d", i))
		if err := queue.Enqueue(job); err != nil {
			t.Fatal(err)
		}
		jobs = append(jobs, job)
	}
	for _, job := range jobs {
		<-job.Done()
	}

	deadline := time.Now().Add(2 * time.Second)
	for queue.Lanes() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected drained lanes to retire, %d still open", queue.Lanes())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// a lead that comes back after its lane retired gets a fresh one
	again := testJob("lead-3")
	if err := queue.Enqueue(again); err != nil {
		t.Fatal(err)
	}
	select {
	case <-again.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("job for a retired lead was never processed")
	}
}
