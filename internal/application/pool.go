package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

// Handler processes one job delivery. Returning nil completes the job;
// domain.ErrDeployInProgress defers it without consuming an attempt; a fatal
// error fails it permanently; any other error retries it with backoff until
// the attempt budget is spent.
type Handler func(ctx context.Context, job *Job) error

// PoolObserver receives worker-pool lifecycle events for metrics.
type PoolObserver interface {
	OnJobCompleted(queue string)
	OnJobRetried(queue string, attempt int)
	OnJobFailed(queue string)
	OnJobDelayed(queue string)
}

type PoolConfig struct {
	Name            string
	Workers         int
	MaxAttempts     int
	Backoff         func(attempt int) time.Duration
	PollInterval    time.Duration
	PromoteInterval time.Duration
}

// Pool runs N workers against one queue. Each worker handles one job at a
// time; a separate loop promotes due delayed jobs back onto the ready list.
type Pool struct {
	queue    Queue
	handler  Handler
	observer PoolObserver
	cfg      PoolConfig
}

func NewPool(queue Queue, handler Handler, observer PoolObserver, cfg PoolConfig) (*Pool, error) {
	if queue == nil || handler == nil {
		return nil, errors.New("pool dependencies must not be nil")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = MaxSendAttempts
	}
	if cfg.Backoff == nil {
		cfg.Backoff = RetryBackoff
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = time.Second
	}
	return &Pool{queue: queue, handler: handler, observer: observer, cfg: cfg}, nil
}

// Run blocks until ctx is done, then drains in-flight workers.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.promoteLoop(ctx)
	}()

	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.workerLoop(ctx)
		}()
	}

	wg.Wait()
}

func (p *Pool) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PromoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := p.queue.PromoteDelayed(ctx, now); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("promote delayed jobs", "queue", p.cfg.Name, "err", err)
			}
		}
	}
}

func (p *Pool) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("dequeue error", "queue", p.cfg.Name, "err", err)
			sleepCtx(ctx, p.cfg.PollInterval)
			continue
		}
		if job == nil {
			sleepCtx(ctx, p.cfg.PollInterval)
			continue
		}

		p.dispatch(ctx, job)
	}
}

func (p *Pool) dispatch(ctx context.Context, job *Job) {
	err := p.handler(ctx, job)
	switch {
	case err == nil:
		if err := p.queue.Complete(ctx, job); err != nil {
			slog.Error("complete job", "queue", p.cfg.Name, "job_id", job.ID, "err", err)
		}
		if p.observer != nil {
			p.observer.OnJobCompleted(p.cfg.Name)
		}

	case errors.Is(err, domain.ErrDeployInProgress):
		// Deferral, not failure: the job is waiting on another job's
		// deployment and keeps its attempt number.
		if err := p.queue.Delay(ctx, job, DeployWaitDelay); err != nil {
			slog.Error("delay job", "queue", p.cfg.Name, "job_id", job.ID, "err", err)
		}
		if p.observer != nil {
			p.observer.OnJobDelayed(p.cfg.Name)
		}

	case domain.IsFatal(err):
		slog.Error("job failed permanently",
			"queue", p.cfg.Name, "job_id", job.ID, "attempt", job.Attempt, "err", err)
		if err := p.queue.Fail(ctx, job, err.Error()); err != nil {
			slog.Error("fail job", "queue", p.cfg.Name, "job_id", job.ID, "err", err)
		}
		if p.observer != nil {
			p.observer.OnJobFailed(p.cfg.Name)
		}

	case job.Attempt >= p.cfg.MaxAttempts:
		slog.Error("job exhausted retry budget",
			"queue", p.cfg.Name, "job_id", job.ID, "attempt", job.Attempt, "err", err)
		if err := p.queue.Fail(ctx, job, err.Error()); err != nil {
			slog.Error("fail job", "queue", p.cfg.Name, "job_id", job.ID, "err", err)
		}
		if p.observer != nil {
			p.observer.OnJobFailed(p.cfg.Name)
		}

	default:
		delay := p.cfg.Backoff(job.Attempt)
		slog.Warn("job retry scheduled",
			"queue", p.cfg.Name, "job_id", job.ID, "attempt", job.Attempt, "delay", delay, "err", err)
		if err := p.queue.Retry(ctx, job, delay); err != nil {
			slog.Error("retry job", "queue", p.cfg.Name, "job_id", job.ID, "err", err)
		}
		if p.observer != nil {
			p.observer.OnJobRetried(p.cfg.Name, job.Attempt)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
