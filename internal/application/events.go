package application

import (
	"context"
	"sync"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

type SubmittedCallback func(ctx context.Context, tx domain.SubmittedTransaction)

type ConfirmedCallback func(ctx context.Context, tx domain.ConfirmedTransaction)

// Bus fans terminal pipeline events out to registered subscribers. It is
// constructed once at startup and injected into the workers and each
// subscriber; callbacks run synchronously in registration order.
type Bus struct {
	mu        sync.RWMutex
	submitted []SubmittedCallback
	confirmed []ConfirmedCallback
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) OnSubmitted(callback SubmittedCallback) {
	if callback == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = append(b.submitted, callback)
}

func (b *Bus) OnConfirmed(callback ConfirmedCallback) {
	if callback == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmed = append(b.confirmed, callback)
}

func (b *Bus) EmitSubmitted(ctx context.Context, tx domain.SubmittedTransaction) {
	b.mu.RLock()
	callbacks := make([]SubmittedCallback, len(b.submitted))
	copy(callbacks, b.submitted)
	b.mu.RUnlock()
	for _, callback := range callbacks {
		callback(ctx, tx)
	}
}

func (b *Bus) EmitConfirmed(ctx context.Context, tx domain.ConfirmedTransaction) {
	b.mu.RLock()
	callbacks := make([]ConfirmedCallback, len(b.confirmed))
	copy(callbacks, b.confirmed)
	b.mu.RUnlock()
	for _, callback := range callbacks {
		callback(ctx, tx)
	}
}
