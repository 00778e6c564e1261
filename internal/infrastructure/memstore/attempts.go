package memstore

import (
	"context"
	"sync"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

// AttemptLog keeps per-transaction attempt history in memory.
type AttemptLog struct {
	mu       sync.Mutex
	attempts map[string][]domain.TransactionAttempt
}

func NewAttemptLog() *AttemptLog {
	return &AttemptLog{attempts: make(map[string][]domain.TransactionAttempt)}
}

func (l *AttemptLog) RecordTransactionAttempt(_ context.Context, attempt domain.TransactionAttempt) (int64, error) {
	if err := attempt.Validate(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[attempt.TransactionID] = append(l.attempts[attempt.TransactionID], attempt)
	return int64(len(l.attempts[attempt.TransactionID])), nil
}

func (l *AttemptLog) GetCurrentAttemptNumber(_ context.Context, transactionID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.attempts[transactionID])), nil
}

func (l *AttemptLog) GetTransactionAttempt(_ context.Context, transactionID string, number int64) (domain.TransactionAttempt, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	history := l.attempts[transactionID]
	if number < 1 || number > int64(len(history)) {
		return domain.TransactionAttempt{}, false, nil
	}
	return history[number-1], true, nil
}

func (l *AttemptLog) GetCurrentTransactionAttempt(_ context.Context, transactionID string) (domain.TransactionAttempt, int64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	history := l.attempts[transactionID]
	if len(history) == 0 {
		return domain.TransactionAttempt{}, 0, false, nil
	}
	return history[len(history)-1], int64(len(history)), true, nil
}

func (l *AttemptLog) GetAllTransactionAttempts(_ context.Context, transactionID string) ([]domain.TransactionAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	history := l.attempts[transactionID]
	out := make([]domain.TransactionAttempt, len(history))
	copy(out, history)
	return out, nil
}
