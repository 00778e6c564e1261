package memstore

import (
	"context"
	"sync"
	"testing"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

const (
	testAddress = "0xAbCd000000000000000000000000000000000001"
	testChainID = uint64(137)
)

func TestIncrementEngineNonce_ConcurrentAllocationsAreGapFree(t *testing.T) {
	store := NewNonceStore()
	ctx := context.Background()

	const workers = 8
	const perWorker = 50

	var mu sync.Mutex
	seen := make(map[uint64]bool)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				nonce, err := store.IncrementEngineNonce(ctx, testAddress, testChainID)
				if err != nil {
					t.Errorf("increment failed: %v", err)
					return
				}
				mu.Lock()
				if seen[nonce] {
					t.Errorf("nonce %d allocated twice", nonce)
				}
				seen[nonce] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d distinct nonces, got %d", workers*perWorker, len(seen))
	}
	for nonce := uint64(1); nonce <= workers*perWorker; nonce++ {
		if !seen[nonce] {
			t.Errorf("nonce %d was never allocated", nonce)
		}
	}
}

func TestRecycleNonce_RoundTripPopsLowestFirst(t *testing.T) {
	store := NewNonceStore()
	ctx := context.Background()

	state, err := store.GetNonceState(ctx, testAddress, testChainID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	for _, nonce := range []uint64{9, 3, 7} {
		accepted, err := store.RecycleNonce(ctx, testAddress, testChainID, nonce, state.Epoch)
		if err != nil || !accepted {
			t.Fatalf("recycle %d: accepted=%v err=%v", nonce, accepted, err)
		}
	}

	for _, want := range []uint64{3, 7, 9} {
		pop, err := store.PopRecycledNonce(ctx, testAddress, testChainID, 100)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if pop.Status != domain.PopSuccess {
			t.Fatalf("expected success, got %s", pop.Status)
		}
		if pop.Recycled.Nonce != want {
			t.Errorf("expected nonce %d, got %d", want, pop.Recycled.Nonce)
		}
	}

	pop, err := store.PopRecycledNonce(ctx, testAddress, testChainID, 100)
	if err != nil {
		t.Fatalf("pop empty: %v", err)
	}
	if pop.Status != domain.PopEmpty {
		t.Errorf("expected empty pool, got %s", pop.Status)
	}
}

func TestRecycleNonce_RejectsStaleEpochAfterReset(t *testing.T) {
	store := NewNonceStore()
	ctx := context.Background()

	state, err := store.GetNonceState(ctx, testAddress, testChainID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	oldEpoch := state.Epoch

	if err := store.ResetNonceState(ctx, testAddress, testChainID, 50); err != nil {
		t.Fatalf("reset: %v", err)
	}

	accepted, err := store.RecycleNonce(ctx, testAddress, testChainID, 10, oldEpoch)
	if err != nil {
		t.Fatalf("recycle: %v", err)
	}
	if accepted {
		t.Error("recycle with pre-reset epoch must be rejected")
	}

	after, err := store.GetNonceState(ctx, testAddress, testChainID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if after.Epoch == oldEpoch {
		t.Error("reset must rotate the epoch")
	}
	if after.EngineNonce != 50 || after.ConfirmedNonce != 50 {
		t.Errorf("reset counters: engine=%d confirmed=%d", after.EngineNonce, after.ConfirmedNonce)
	}
	if after.RecycledCount != 0 || after.InFlightCount != 0 {
		t.Errorf("reset must clear pools: recycled=%d inflight=%d", after.RecycledCount, after.InFlightCount)
	}
}

func TestPopRecycledNonce_PoolAtLimitDoesNotPop(t *testing.T) {
	store := NewNonceStore()
	ctx := context.Background()

	state, _ := store.GetNonceState(ctx, testAddress, testChainID)
	for nonce := uint64(1); nonce <= 4; nonce++ {
		if _, err := store.RecycleNonce(ctx, testAddress, testChainID, nonce, state.Epoch); err != nil {
			t.Fatalf("recycle: %v", err)
		}
	}

	// Backpressure fires as soon as the pool reaches the limit, not one
	// element past it.
	pop, err := store.PopRecycledNonce(ctx, testAddress, testChainID, 4)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if pop.Status != domain.PopOversized {
		t.Fatalf("expected oversized at pool size 4 with limit 4, got %s", pop.Status)
	}
	if pop.PoolSize != 4 {
		t.Errorf("expected pool size 4, got %d", pop.PoolSize)
	}

	after, _ := store.GetNonceState(ctx, testAddress, testChainID)
	if after.RecycledCount != 4 {
		t.Errorf("oversized pop must not remove entries, pool=%d", after.RecycledCount)
	}

	// One below the limit pops normally.
	pop, err = store.PopRecycledNonce(ctx, testAddress, testChainID, 5)
	if err != nil {
		t.Fatalf("pop below limit: %v", err)
	}
	if pop.Status != domain.PopSuccess || pop.Recycled.Nonce != 1 {
		t.Errorf("expected to pop nonce 1 below the limit, got %+v", pop)
	}
}

func TestSetConfirmedNonceMax_MonotonicAndPrunes(t *testing.T) {
	store := NewNonceStore()
	ctx := context.Background()

	if _, err := store.SetEngineNonceMax(ctx, testAddress, testChainID, 10); err != nil {
		t.Fatalf("set engine max: %v", err)
	}
	state, _ := store.GetNonceState(ctx, testAddress, testChainID)
	for _, nonce := range []uint64{3, 8} {
		if _, err := store.RecycleNonce(ctx, testAddress, testChainID, nonce, state.Epoch); err != nil {
			t.Fatalf("recycle: %v", err)
		}
	}
	if err := store.RecordInflightNonce(ctx, testAddress, testChainID, 4, "tx-4"); err != nil {
		t.Fatalf("record inflight: %v", err)
	}

	update, err := store.SetConfirmedNonceMax(ctx, testAddress, testChainID, 6)
	if err != nil {
		t.Fatalf("set confirmed max: %v", err)
	}
	if update.ConfirmedNonce != 6 || update.EngineNonce != 10 {
		t.Errorf("unexpected update: %+v", update)
	}

	// Lower values are no-ops; repeating is idempotent.
	update, err = store.SetConfirmedNonceMax(ctx, testAddress, testChainID, 2)
	if err != nil {
		t.Fatalf("set confirmed max again: %v", err)
	}
	if update.ConfirmedNonce != 6 {
		t.Errorf("confirmed nonce regressed to %d", update.ConfirmedNonce)
	}

	after, _ := store.GetNonceState(ctx, testAddress, testChainID)
	if after.RecycledCount != 1 {
		t.Errorf("recycled 3 should be pruned below confirmed, pool=%d", after.RecycledCount)
	}
	inflight, _ := store.GetInflightNonces(ctx, testAddress, testChainID)
	if len(inflight) != 0 {
		t.Errorf("inflight 4 should be pruned below confirmed, got %v", inflight)
	}
}

func TestSetConfirmedNonceMax_DragsEngineNonceUp(t *testing.T) {
	store := NewNonceStore()
	ctx := context.Background()

	update, err := store.SetConfirmedNonceMax(ctx, testAddress, testChainID, 20)
	if err != nil {
		t.Fatalf("set confirmed max: %v", err)
	}
	if update.EngineNonce != 20 {
		t.Errorf("engine nonce must follow confirmed up, got %d", update.EngineNonce)
	}
}

func TestCheckMissingNonces_FindsUnaccountedAllocations(t *testing.T) {
	store := NewNonceStore()
	ctx := context.Background()

	// confirmed=5, engine=10, inflight={6,7}, recycled={8} -> missing {9,10}
	if _, err := store.SetEngineNonceMax(ctx, testAddress, testChainID, 10); err != nil {
		t.Fatalf("set engine max: %v", err)
	}
	if _, err := store.SetConfirmedNonceMax(ctx, testAddress, testChainID, 5); err != nil {
		t.Fatalf("set confirmed max: %v", err)
	}
	// SetConfirmedNonceMax(5) on a fresh entry dragged engine up; restore it.
	if _, err := store.SetEngineNonceMax(ctx, testAddress, testChainID, 10); err != nil {
		t.Fatalf("set engine max: %v", err)
	}
	for _, nonce := range []uint64{6, 7} {
		if err := store.RecordInflightNonce(ctx, testAddress, testChainID, nonce, "tx"); err != nil {
			t.Fatalf("record inflight: %v", err)
		}
	}
	state, _ := store.GetNonceState(ctx, testAddress, testChainID)
	if _, err := store.RecycleNonce(ctx, testAddress, testChainID, 8, state.Epoch); err != nil {
		t.Fatalf("recycle: %v", err)
	}

	result, err := store.CheckMissingNonces(ctx, testAddress, testChainID, 100)
	if err != nil {
		t.Fatalf("check missing: %v", err)
	}
	if result.Count != 2 || len(result.Missing) != 2 {
		t.Fatalf("expected 2 missing nonces, got %+v", result)
	}
	if result.Missing[0] != 9 || result.Missing[1] != 10 {
		t.Errorf("expected missing [9 10], got %v", result.Missing)
	}
}

func TestCheckMissingNonces_TooManyIsAnError(t *testing.T) {
	store := NewNonceStore()
	ctx := context.Background()

	if _, err := store.SetEngineNonceMax(ctx, testAddress, testChainID, 10); err != nil {
		t.Fatalf("set engine max: %v", err)
	}

	_, err := store.CheckMissingNonces(ctx, testAddress, testChainID, 3)
	if err == nil {
		t.Fatal("expected too-many-missing error")
	}
	if !domain.IsCode(err, domain.CodeTooManyMissing) {
		t.Errorf("expected code %s, got %v", domain.CodeTooManyMissing, err)
	}
}

func TestNonceState_IsolatedPerChain(t *testing.T) {
	store := NewNonceStore()
	ctx := context.Background()

	if _, err := store.IncrementEngineNonce(ctx, testAddress, 1); err != nil {
		t.Fatalf("increment: %v", err)
	}
	state, err := store.GetNonceState(ctx, testAddress, 2)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.EngineNonce != 0 {
		t.Errorf("chain 2 must be untouched, engine=%d", state.EngineNonce)
	}
}
