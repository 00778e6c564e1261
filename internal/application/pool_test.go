package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

type recordingObserver struct {
	completed int
	retried   int
	failed    int
	delayed   int
}

func (o *recordingObserver) OnJobCompleted(string)    { o.completed++ }
func (o *recordingObserver) OnJobRetried(string, int) { o.retried++ }
func (o *recordingObserver) OnJobFailed(string)       { o.failed++ }
func (o *recordingObserver) OnJobDelayed(string)      { o.delayed++ }

func newDispatchPool(t *testing.T, queue Queue, observer PoolObserver, handler Handler) *Pool {
	t.Helper()
	pool, err := NewPool(queue, handler, observer, PoolConfig{
		Name:        "send",
		Workers:     1,
		MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return pool
}

func TestPool_DispatchCompletesOnSuccess(t *testing.T) {
	queue := newMockQueue()
	observer := &recordingObserver{}
	pool := newDispatchPool(t, queue, observer, func(context.Context, *Job) error {
		return nil
	})

	pool.dispatch(context.Background(), &Job{ID: "tx-1", Attempt: 1})

	if len(queue.completed) != 1 {
		t.Errorf("expected completion, got %d", len(queue.completed))
	}
	if observer.completed != 1 {
		t.Errorf("observer not notified of completion: %+v", observer)
	}
}

func TestPool_DispatchDelaysDeployConflictWithoutRetry(t *testing.T) {
	queue := newMockQueue()
	observer := &recordingObserver{}
	pool := newDispatchPool(t, queue, observer, func(context.Context, *Job) error {
		return domain.ErrDeployInProgress
	})

	pool.dispatch(context.Background(), &Job{ID: "tx-1", Attempt: 1})

	if len(queue.delayed) != 1 {
		t.Errorf("deploy conflict must delay, got delayed=%d", len(queue.delayed))
	}
	if len(queue.retried) != 0 || len(queue.failed) != 0 {
		t.Errorf("deploy conflict must not retry or fail: %+v", queue)
	}
	if observer.delayed != 1 {
		t.Errorf("observer not notified of delay: %+v", observer)
	}
}

func TestPool_DispatchFailsFatalErrors(t *testing.T) {
	queue := newMockQueue()
	observer := &recordingObserver{}
	pool := newDispatchPool(t, queue, observer, func(context.Context, *Job) error {
		return domain.Fatal(errors.New("would double-submit"))
	})

	pool.dispatch(context.Background(), &Job{ID: "tx-1", Attempt: 1})

	if _, failed := queue.failed["tx-1"]; !failed {
		t.Error("fatal error must fail the job")
	}
	if len(queue.retried) != 0 {
		t.Error("fatal error must not be retried")
	}
	if observer.failed != 1 {
		t.Errorf("observer not notified of failure: %+v", observer)
	}
}

func TestPool_DispatchFailsOnExhaustedBudget(t *testing.T) {
	queue := newMockQueue()
	observer := &recordingObserver{}
	pool := newDispatchPool(t, queue, observer, func(context.Context, *Job) error {
		return errors.New("transient")
	})

	pool.dispatch(context.Background(), &Job{ID: "tx-1", Attempt: 3})

	if reason, failed := queue.failed["tx-1"]; !failed || reason == "" {
		t.Errorf("budget exhaustion must fail with a reason, got %+v", queue.failed)
	}
	if observer.failed != 1 {
		t.Errorf("observer not notified of failure: %+v", observer)
	}
}

func TestPool_DispatchRetriesWithBackoff(t *testing.T) {
	queue := newMockQueue()
	observer := &recordingObserver{}
	pool := newDispatchPool(t, queue, observer, func(context.Context, *Job) error {
		return errors.New("transient")
	})

	pool.dispatch(context.Background(), &Job{ID: "tx-1", Attempt: 2})

	if len(queue.retried) != 1 {
		t.Fatalf("expected retry, got %d", len(queue.retried))
	}
	if queue.retryAfter != RetryBackoff(2) {
		t.Errorf("expected backoff %v, got %v", RetryBackoff(2), queue.retryAfter)
	}
	if observer.retried != 1 {
		t.Errorf("observer not notified of retry: %+v", observer)
	}
}

func TestPool_RunStopsOnContextCancel(t *testing.T) {
	queue := newMockQueue()
	pool, err := NewPool(queue, func(context.Context, *Job) error { return nil }, nil, PoolConfig{
		Name:            "send",
		Workers:         2,
		PollInterval:    time.Millisecond,
		PromoteInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after cancellation")
	}
}
