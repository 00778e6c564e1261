package application

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

type confirmFixture struct {
	nonces  *mockNonceStore
	guard   *mockGuard
	bundler *mockBundler
	bus     *Bus
	worker  *ConfirmWorker

	confirmed []domain.ConfirmedTransaction
}

func newConfirmFixture(t *testing.T) *confirmFixture {
	t.Helper()
	f := &confirmFixture{
		nonces:  &mockNonceStore{},
		guard:   &mockGuard{},
		bundler: &mockBundler{},
		bus:     NewBus(),
	}
	f.bus.OnConfirmed(func(_ context.Context, tx domain.ConfirmedTransaction) {
		f.confirmed = append(f.confirmed, tx)
	})
	worker, err := NewConfirmWorker(f.nonces, f.guard, f.bundler, nil, f.bus)
	if err != nil {
		t.Fatalf("new confirm worker: %v", err)
	}
	f.worker = worker
	return f
}

func confirmJobPayload(t *testing.T) []byte {
	t.Helper()
	payload, err := json.Marshal(domain.ConfirmJob{
		TransactionID:       "tx-1",
		ChainID:             1,
		UserOpHash:          "0xhash",
		SmartAccountAddress: accountAddr,
	})
	if err != nil {
		t.Fatalf("marshal confirm job: %v", err)
	}
	return payload
}

func TestConfirmWorker_SuccessfulReceipt(t *testing.T) {
	f := newConfirmFixture(t)
	f.bundler.found = true
	f.bundler.receipt = domain.UserOpReceipt{
		UserOpHash:      "0xhash",
		TransactionHash: "0xtx",
		BlockNumber:     1200,
		Nonce:           7,
		GasUsed:         90000,
		GasCost:         big.NewInt(1_000_000),
		Success:         true,
	}
	f.nonces.inflight = map[uint64]string{7: "tx-1"}

	err := f.worker.Handle(context.Background(), &Job{ID: "tx-1", Payload: confirmJobPayload(t), Attempt: 1})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(f.confirmed) != 1 {
		t.Fatalf("expected 1 confirmed event, got %d", len(f.confirmed))
	}
	event := f.confirmed[0]
	if event.Status != domain.ConfirmationSuccess {
		t.Errorf("unexpected status %s", event.Status)
	}
	if event.TransactionHash != "0xtx" || event.BlockNumber != 1200 || event.Nonce != 7 {
		t.Errorf("unexpected event: %+v", event)
	}
	if event.Revert != nil {
		t.Errorf("successful confirmation must not carry a revert: %+v", event.Revert)
	}

	// Confirmed nonce raised, in-flight entry removed, guard released.
	if f.nonces.confirmedMax != 7 {
		t.Errorf("confirmed nonce not raised: %d", f.nonces.confirmedMax)
	}
	if len(f.nonces.removed) != 1 || f.nonces.removed[0] != 7 {
		t.Errorf("in-flight nonce not removed: %v", f.nonces.removed)
	}
	if len(f.guard.released) != 1 {
		t.Errorf("deploy guard not released: %v", f.guard.released)
	}
}

func TestConfirmWorker_RevertedReceiptDecodesReason(t *testing.T) {
	f := newConfirmFixture(t)
	f.bundler.found = true
	f.bundler.receipt = domain.UserOpReceipt{
		TransactionHash: "0xtx",
		Nonce:           3,
		Success:         false,
		RevertData:      "0x" + hex.EncodeToString(encodeErrorString(t, "token paused")),
	}

	err := f.worker.Handle(context.Background(), &Job{ID: "tx-1", Payload: confirmJobPayload(t), Attempt: 1})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(f.confirmed) != 1 {
		t.Fatalf("expected 1 confirmed event, got %d", len(f.confirmed))
	}
	event := f.confirmed[0]
	if event.Status != domain.ConfirmationReverted {
		t.Errorf("unexpected status %s", event.Status)
	}
	if event.Revert == nil {
		t.Fatal("expected decoded revert reason")
	}
	if event.Revert.ErrorName != "Error" || event.Revert.Args["message"] != "token paused" {
		t.Errorf("unexpected revert: %+v", event.Revert)
	}
}

func TestConfirmWorker_UndecodableRevertIsStillTerminal(t *testing.T) {
	f := newConfirmFixture(t)
	f.bundler.found = true
	f.bundler.receipt = domain.UserOpReceipt{
		TransactionHash: "0xtx",
		Success:         false,
		RevertData:      "0xdeadbeef01",
	}

	err := f.worker.Handle(context.Background(), &Job{ID: "tx-1", Payload: confirmJobPayload(t), Attempt: 1})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.confirmed) != 1 {
		t.Fatalf("expected 1 confirmed event, got %d", len(f.confirmed))
	}
	if f.confirmed[0].Status != domain.ConfirmationReverted {
		t.Errorf("unexpected status %s", f.confirmed[0].Status)
	}
	if f.confirmed[0].Revert != nil {
		t.Errorf("undecodable reason must stay nil: %+v", f.confirmed[0].Revert)
	}
}

func TestConfirmWorker_MissingReceiptRetries(t *testing.T) {
	f := newConfirmFixture(t)
	f.bundler.found = false

	err := f.worker.Handle(context.Background(), &Job{ID: "tx-1", Payload: confirmJobPayload(t), Attempt: 5})
	if !errors.Is(err, domain.ErrReceiptNotReady) {
		t.Fatalf("expected receipt-not-ready, got %v", err)
	}
	if len(f.confirmed) != 0 {
		t.Errorf("no event while the receipt is pending: %+v", f.confirmed)
	}
}

func TestConfirmWorker_ExhaustedBudgetAbandonsAsUnknown(t *testing.T) {
	f := newConfirmFixture(t)
	f.bundler.found = false

	err := f.worker.Handle(context.Background(), &Job{ID: "tx-1", Payload: confirmJobPayload(t), Attempt: MaxConfirmAttempts})
	if err != nil {
		t.Fatalf("abandonment completes the job, got %v", err)
	}
	if len(f.confirmed) != 1 {
		t.Fatalf("expected 1 terminal event, got %d", len(f.confirmed))
	}
	event := f.confirmed[0]
	if event.Status != domain.ConfirmationUnknown {
		t.Errorf("unexpected status %s", event.Status)
	}
	if event.UserOpHash != "0xhash" {
		t.Errorf("unexpected event: %+v", event)
	}
	if len(f.guard.released) != 1 {
		t.Error("abandonment must release the deploy guard")
	}
}

func TestConfirmWorker_ReceiptFetchErrorIsRetryable(t *testing.T) {
	f := newConfirmFixture(t)
	f.bundler.receiptErr = errors.New("connection refused")

	err := f.worker.Handle(context.Background(), &Job{ID: "tx-1", Payload: confirmJobPayload(t), Attempt: 1})
	if err == nil {
		t.Fatal("expected fetch error")
	}
	if domain.IsFatal(err) {
		t.Error("fetch failure must stay retryable")
	}
	if !domain.IsCode(err, domain.CodeReceiptFetchFailed) {
		t.Errorf("expected receipt-fetch-failed, got %v", err)
	}
}

func TestConfirmWorker_MalformedPayloadIsFatal(t *testing.T) {
	f := newConfirmFixture(t)

	err := f.worker.Handle(context.Background(), &Job{ID: "tx-1", Payload: []byte("not json"), Attempt: 1})
	if !domain.IsFatal(err) {
		t.Errorf("undecodable payload must be fatal, got %v", err)
	}
}
