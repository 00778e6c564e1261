package memstore

import (
	"context"
	"testing"
	"time"
)

func TestQueue_EnqueueDeduplicatesByID(t *testing.T) {
	queue := NewQueue()
	ctx := context.Background()

	added, err := queue.Enqueue(ctx, "tx-1", []byte("payload"))
	if err != nil || !added {
		t.Fatalf("first enqueue: added=%v err=%v", added, err)
	}
	added, err = queue.Enqueue(ctx, "tx-1", []byte("other"))
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if added {
		t.Error("duplicate id must not be enqueued")
	}

	ready, _, err := queue.Depth(ctx)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if ready != 1 {
		t.Errorf("expected 1 ready job, got %d", ready)
	}
}

func TestQueue_RetryIncrementsAttemptDelayDoesNot(t *testing.T) {
	queue := NewQueue()
	ctx := context.Background()

	if _, err := queue.Enqueue(ctx, "tx-1", []byte("payload")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := queue.Dequeue(ctx)
	if err != nil || job == nil {
		t.Fatalf("dequeue: job=%v err=%v", job, err)
	}
	if job.Attempt != 1 {
		t.Fatalf("first delivery attempt=%d", job.Attempt)
	}

	// Retry consumes the attempt.
	if err := queue.Retry(ctx, job, 0); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if _, err := queue.PromoteDelayed(ctx, time.Now()); err != nil {
		t.Fatalf("promote: %v", err)
	}
	job, err = queue.Dequeue(ctx)
	if err != nil || job == nil {
		t.Fatalf("dequeue after retry: job=%v err=%v", job, err)
	}
	if job.Attempt != 2 {
		t.Errorf("retry must increment attempt, got %d", job.Attempt)
	}

	// Delay re-schedules without consuming one.
	if err := queue.Delay(ctx, job, 0); err != nil {
		t.Fatalf("delay: %v", err)
	}
	if _, err := queue.PromoteDelayed(ctx, time.Now()); err != nil {
		t.Fatalf("promote: %v", err)
	}
	job, err = queue.Dequeue(ctx)
	if err != nil || job == nil {
		t.Fatalf("dequeue after delay: job=%v err=%v", job, err)
	}
	if job.Attempt != 2 {
		t.Errorf("delay must not increment attempt, got %d", job.Attempt)
	}
}

func TestQueue_PromoteDelayedOnlyMovesDueJobs(t *testing.T) {
	queue := NewQueue()
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"tx-due", "tx-future"} {
		if _, err := queue.Enqueue(ctx, id, []byte(id)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	due, _ := queue.Dequeue(ctx)
	future, _ := queue.Dequeue(ctx)
	if err := queue.Retry(ctx, due, -time.Second); err != nil {
		t.Fatalf("retry due: %v", err)
	}
	if err := queue.Retry(ctx, future, time.Hour); err != nil {
		t.Fatalf("retry future: %v", err)
	}

	promoted, err := queue.PromoteDelayed(ctx, now)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if promoted != 1 {
		t.Fatalf("expected 1 promoted job, got %d", promoted)
	}
	job, err := queue.Dequeue(ctx)
	if err != nil || job == nil {
		t.Fatalf("dequeue promoted: job=%v err=%v", job, err)
	}
	if job.ID != "tx-due" {
		t.Errorf("expected tx-due, got %s", job.ID)
	}
	if next, _ := queue.Dequeue(ctx); next != nil {
		t.Errorf("tx-future must stay delayed, dequeued %s", next.ID)
	}
}

func TestQueue_CompleteAllowsReEnqueue(t *testing.T) {
	queue := NewQueue()
	ctx := context.Background()

	if _, err := queue.Enqueue(ctx, "tx-1", []byte("payload")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, _ := queue.Dequeue(ctx)
	if err := queue.Complete(ctx, job); err != nil {
		t.Fatalf("complete: %v", err)
	}

	added, err := queue.Enqueue(ctx, "tx-1", []byte("payload"))
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if !added {
		t.Error("completed id must be enqueueable again")
	}
}

func TestQueue_FailRecordsReason(t *testing.T) {
	queue := NewQueue()
	ctx := context.Background()

	if _, err := queue.Enqueue(ctx, "tx-1", []byte("payload")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, _ := queue.Dequeue(ctx)
	if err := queue.Fail(ctx, job, "attempts exhausted"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	reason, failed := queue.FailureReason("tx-1")
	if !failed {
		t.Fatal("expected failure record")
	}
	if reason != "attempts exhausted" {
		t.Errorf("unexpected reason %q", reason)
	}
	ready, delayed, _ := queue.Depth(ctx)
	if ready != 0 || delayed != 0 {
		t.Errorf("failed job must leave the queue: ready=%d delayed=%d", ready, delayed)
	}
}
