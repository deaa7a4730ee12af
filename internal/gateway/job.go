package gateway

import (
	"sync"
	"time"

	"github.com/user/meetbot/internal/pipeline"
	"github.com/user/meetbot/internal/types"
)

// JobStatus represents the lifecycle state of a Job in the queue.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// Job is one meeting request travelling through the queue.
type Job struct {
	ID         types.JobID
	Request    types.MeetingRequest
	CreatedAt  time.Time
	OnComplete func(*pipeline.Result)

	mu        sync.Mutex
	status    JobStatus
	startedAt *time.Time
	endedAt   *time.Time
	result    *pipeline.Result
	err       error

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewJob creates a Job in the Queued state for req.
func NewJob(req types.MeetingRequest) *Job {
	return &Job{
		ID:        types.NewJobID(),
		Request:   req,
		CreatedAt: time.Now(),
		status:    JobStatusQueued,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// RequestStop asks a running job to end its recording now. It is safe to
// call more than once.
func (j *Job) RequestStop() {
	j.stopOnce.Do(func() { close(j.stop) })
}

// Done is closed when the job has settled.
func (j *Job) Done() <-chan struct{} { return j.done }

// Result returns the pipeline result and error once Done is closed.
func (j *Job) Result() (*pipeline.Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

func (j *Job) markRunning() {
	now := time.Now()
	j.mu.Lock()
	j.status = JobStatusRunning
	j.startedAt = &now
	j.mu.Unlock()
}

func (j *Job) settle(res *pipeline.Result, err error) {
	now := time.Now()
	j.mu.Lock()
	j.result, j.err = res, err
	j.endedAt = &now
	if err != nil {
		j.status = JobStatusFailed
	} else {
		j.status = JobStatusDone
	}
	j.mu.Unlock()
	close(j.done)
}

// JobInfo is a point-in-time view of a Job for listings.
type JobInfo struct {
	ID        types.JobID `json:"id"`
	URL       string      `json:"url"`
	LeadID    string      `json:"lead_id,omitempty"`
	Source    string      `json:"source"`
	Status    JobStatus   `json:"status"`
	State     string      `json:"state,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
}

// Info returns a snapshot of j.
func (j *Job) Info() JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	info := JobInfo{
		ID:        j.ID,
		URL:       j.Request.URL,
		LeadID:    j.Request.CorrelationID,
		Source:    j.Request.Source,
		Status:    j.status,
		CreatedAt: j.CreatedAt,
		StartedAt: j.startedAt,
		EndedAt:   j.endedAt,
	}
	if j.result != nil {
		info.State = string(j.result.State)
	}
	if j.err != nil {
		info.Error = j.err.Error()
	}
	return info
}
