package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/user/meetbot/internal/types"
)

// JobJournal is a JSONL-backed append-only record of settled jobs, stored in
// <root>/jobs.jsonl. Appends take a file lock so a one-shot CLI run and the
// daemon can share the same journal.
type JobJournal struct {
	root string
	mu   sync.Mutex
}

// NewJobJournal creates a journal rooted at the given directory.
func NewJobJournal(root string) *JobJournal {
	return &JobJournal{root: root}
}

// Path returns the journal file path.
func (j *JobJournal) Path() string {
	return filepath.Join(j.root, "jobs.jsonl")
}

// count reads the journal and counts lines. Caller must hold the lock.
func (j *JobJournal) count() (int64, error) {
	f, err := os.Open(j.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan journal: %w", err)
	}
	return count, nil
}

// Append writes record with the next sequence number.
func (j *JobJournal) Append(ctx context.Context, record *types.JobRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(j.root, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	fl := flock.New(j.Path() + ".lock")
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock journal: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock journal: not acquired")
	}
	defer fl.Unlock()

	existing, err := j.count()
	if err != nil {
		return err
	}
	record.Seq = existing + 1

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}

	f, err := os.OpenFile(j.Path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write job record: %w", err)
	}
	return nil
}

// Tail returns the last limit records, oldest first.
func (j *JobJournal) Tail(_ context.Context, limit int) ([]*types.JobRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var records []*types.JobRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec types.JobRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal job record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// Count returns the number of journaled jobs.
func (j *JobJournal) Count(_ context.Context) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count()
}
