package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/thirdweb-dev/engine-sub003/internal/application"
)

type queuedJob struct {
	payload   []byte
	attempt   int
	deliverAt time.Time
	delayed   bool
}

// Queue is an in-memory job queue with the same dedup, attempt-counting, and
// delayed re-delivery semantics as the shared-store queue.
type Queue struct {
	mu     sync.Mutex
	ready  []string
	jobs   map[string]*queuedJob
	failed map[string]string
}

func NewQueue() *Queue {
	return &Queue{
		jobs:   make(map[string]*queuedJob),
		failed: make(map[string]string),
	}
}

func (q *Queue) Enqueue(_ context.Context, id string, payload []byte) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.jobs[id]; exists {
		return false, nil
	}
	q.jobs[id] = &queuedJob{payload: payload, attempt: 1}
	q.ready = append(q.ready, id)
	return true, nil
}

func (q *Queue) Dequeue(_ context.Context) (*application.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return nil, nil
	}
	id := q.ready[0]
	q.ready = q.ready[1:]
	j, exists := q.jobs[id]
	if !exists {
		return nil, nil
	}
	payload := make([]byte, len(j.payload))
	copy(payload, j.payload)
	return &application.Job{ID: id, Payload: payload, Attempt: j.attempt}, nil
}

func (q *Queue) Retry(_ context.Context, job *application.Job, after time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, exists := q.jobs[job.ID]
	if !exists {
		return nil
	}
	j.attempt++
	j.delayed = true
	j.deliverAt = time.Now().Add(after)
	return nil
}

func (q *Queue) Delay(_ context.Context, job *application.Job, after time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, exists := q.jobs[job.ID]
	if !exists {
		return nil
	}
	j.delayed = true
	j.deliverAt = time.Now().Add(after)
	return nil
}

func (q *Queue) Complete(_ context.Context, job *application.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, job.ID)
	return nil
}

func (q *Queue) Fail(_ context.Context, job *application.Job, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, job.ID)
	q.failed[job.ID] = reason
	return nil
}

func (q *Queue) PromoteDelayed(_ context.Context, now time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	due := make([]string, 0)
	for id, j := range q.jobs {
		if j.delayed && !j.deliverAt.After(now) {
			due = append(due, id)
		}
	}
	// Deterministic promotion order for tests.
	sort.Strings(due)
	for _, id := range due {
		q.jobs[id].delayed = false
		q.ready = append(q.ready, id)
	}
	return int64(len(due)), nil
}

func (q *Queue) Depth(_ context.Context) (int64, int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delayed := int64(0)
	for _, j := range q.jobs {
		if j.delayed {
			delayed++
		}
	}
	return int64(len(q.ready)), delayed, nil
}

// FailureReason reports why a job was failed, for tests and diagnostics.
func (q *Queue) FailureReason(id string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	reason, failed := q.failed[id]
	return reason, failed
}
