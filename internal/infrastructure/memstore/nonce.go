// Package memstore implements the engine's coordination interfaces in
// process memory behind a single mutex per store. It mirrors the semantics
// of the shared-store implementations and backs both the test suites and
// single-process deployments that have no external store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

type nonceEntry struct {
	engine    uint64
	confirmed uint64
	recycled  map[uint64]struct{}
	inflight  map[uint64]string
	epoch     string
}

// NonceStore keeps per-(address, chain) nonce state in memory. Every
// operation runs under one lock, giving the same no-interleaving guarantee
// the scripted store provides.
type NonceStore struct {
	mu      sync.Mutex
	entries map[string]*nonceEntry
}

func NewNonceStore() *NonceStore {
	return &NonceStore{entries: make(map[string]*nonceEntry)}
}

func nonceEntryKey(address string, chainID uint64) string {
	return fmt.Sprintf("%d:%s", chainID, strings.ToLower(address))
}

// entry returns the state for (address, chain), creating it with a fresh
// epoch on first touch.
func (s *NonceStore) entry(address string, chainID uint64) *nonceEntry {
	key := nonceEntryKey(address, chainID)
	e, ok := s.entries[key]
	if !ok {
		e = &nonceEntry{
			recycled: make(map[uint64]struct{}),
			inflight: make(map[uint64]string),
			epoch:    uuid.NewString(),
		}
		s.entries[key] = e
	}
	return e
}

func (s *NonceStore) IncrementEngineNonce(_ context.Context, address string, chainID uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(address, chainID)
	e.engine++
	return e.engine, nil
}

func (s *NonceStore) PopRecycledNonce(_ context.Context, address string, chainID uint64, maxPoolSize int64) (domain.PopResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(address, chainID)
	if len(e.recycled) == 0 {
		return domain.PopResult{Status: domain.PopEmpty}, nil
	}
	// A pool that has reached maxPoolSize signals backpressure without
	// popping; the caller falls back to fresh allocation.
	if int64(len(e.recycled)) >= maxPoolSize {
		return domain.PopResult{Status: domain.PopOversized, PoolSize: int64(len(e.recycled))}, nil
	}
	lowest := uint64(0)
	first := true
	for nonce := range e.recycled {
		if first || nonce < lowest {
			lowest = nonce
			first = false
		}
	}
	delete(e.recycled, lowest)
	return domain.PopResult{
		Status:   domain.PopSuccess,
		Recycled: domain.RecycledNonce{Nonce: lowest, Epoch: e.epoch},
	}, nil
}

func (s *NonceStore) RecycleNonce(_ context.Context, address string, chainID uint64, nonce uint64, epoch string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(address, chainID)
	if epoch != e.epoch {
		return false, nil
	}
	e.recycled[nonce] = struct{}{}
	return true, nil
}

func (s *NonceStore) RecordInflightNonce(_ context.Context, address string, chainID uint64, nonce uint64, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(address, chainID).inflight[nonce] = transactionID
	return nil
}

func (s *NonceStore) RemoveInflightNonce(_ context.Context, address string, chainID uint64, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entry(address, chainID).inflight, nonce)
	return nil
}

func (s *NonceStore) GetInflightNonces(_ context.Context, address string, chainID uint64) (map[uint64]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(address, chainID)
	inflight := make(map[uint64]string, len(e.inflight))
	for nonce, transactionID := range e.inflight {
		inflight[nonce] = transactionID
	}
	return inflight, nil
}

func (s *NonceStore) CheckMissingNonces(_ context.Context, address string, chainID uint64, maxMissing int64) (domain.MissingNoncesResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(address, chainID)
	missing := make([]uint64, 0)
	for nonce := e.confirmed + 1; nonce <= e.engine; nonce++ {
		if _, inflight := e.inflight[nonce]; inflight {
			continue
		}
		if _, recycled := e.recycled[nonce]; recycled {
			continue
		}
		missing = append(missing, nonce)
		if int64(len(missing)) > maxMissing {
			return domain.MissingNoncesResult{}, domain.NewError(
				domain.ErrorKindNonceStore, domain.CodeTooManyMissing,
				fmt.Sprintf("more than %d missing nonces for %s on chain %d (found %d)",
					maxMissing, address, chainID, len(missing)),
				nil)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return domain.MissingNoncesResult{Missing: missing, Count: int64(len(missing))}, nil
}

func (s *NonceStore) SetConfirmedNonceMax(_ context.Context, address string, chainID uint64, value uint64) (domain.ConfirmedNonceUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(address, chainID)
	if value > e.confirmed {
		e.confirmed = value
	}
	if e.engine < e.confirmed {
		e.engine = e.confirmed
	}
	for nonce := range e.recycled {
		if nonce < e.confirmed {
			delete(e.recycled, nonce)
		}
	}
	for nonce := range e.inflight {
		if nonce < e.confirmed {
			delete(e.inflight, nonce)
		}
	}
	return domain.ConfirmedNonceUpdate{ConfirmedNonce: e.confirmed, EngineNonce: e.engine}, nil
}

func (s *NonceStore) SetEngineNonceMax(_ context.Context, address string, chainID uint64, value uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(address, chainID)
	if value > e.engine {
		e.engine = value
	}
	return e.engine, nil
}

func (s *NonceStore) ResetNonceState(_ context.Context, address string, chainID uint64, newNonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := nonceEntryKey(address, chainID)
	s.entries[key] = &nonceEntry{
		engine:    newNonce,
		confirmed: newNonce,
		recycled:  make(map[uint64]struct{}),
		inflight:  make(map[uint64]string),
		epoch:     uuid.NewString(),
	}
	return nil
}

func (s *NonceStore) GetNonceState(_ context.Context, address string, chainID uint64) (domain.NonceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(address, chainID)
	return domain.NonceState{
		Address:        strings.ToLower(address),
		ChainID:        chainID,
		EngineNonce:    e.engine,
		ConfirmedNonce: e.confirmed,
		RecycledCount:  int64(len(e.recycled)),
		InFlightCount:  int64(len(e.inflight)),
		Epoch:          e.epoch,
	}, nil
}
