package memstore

import (
	"context"
	"math/big"
	"testing"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

func validAttempt(transactionID string, nonce uint64) domain.TransactionAttempt {
	return domain.TransactionAttempt{
		TransactionID:        transactionID,
		Signer:               testAddress,
		ChainID:              testChainID,
		Nonce:                nonce,
		MaxFeePerGas:         big.NewInt(30_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
	}
}

func TestAttemptLog_NumbersAttemptsSequentially(t *testing.T) {
	log := NewAttemptLog()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		number, err := log.RecordTransactionAttempt(ctx, validAttempt("tx-1", uint64(want)))
		if err != nil {
			t.Fatalf("record attempt %d: %v", want, err)
		}
		if number != want {
			t.Errorf("expected attempt number %d, got %d", want, number)
		}
	}

	current, err := log.GetCurrentAttemptNumber(ctx, "tx-1")
	if err != nil {
		t.Fatalf("current number: %v", err)
	}
	if current != 3 {
		t.Errorf("expected 3 attempts, got %d", current)
	}

	attempt, number, found, err := log.GetCurrentTransactionAttempt(ctx, "tx-1")
	if err != nil || !found {
		t.Fatalf("current attempt: found=%v err=%v", found, err)
	}
	if number != 3 || attempt.Nonce != 3 {
		t.Errorf("expected latest attempt with nonce 3, got number=%d nonce=%d", number, attempt.Nonce)
	}
}

func TestAttemptLog_LookupByNumber(t *testing.T) {
	log := NewAttemptLog()
	ctx := context.Background()

	for nonce := uint64(1); nonce <= 2; nonce++ {
		if _, err := log.RecordTransactionAttempt(ctx, validAttempt("tx-1", nonce)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	attempt, found, err := log.GetTransactionAttempt(ctx, "tx-1", 1)
	if err != nil || !found {
		t.Fatalf("attempt 1: found=%v err=%v", found, err)
	}
	if attempt.Nonce != 1 {
		t.Errorf("unexpected attempt: %+v", attempt)
	}

	if _, found, _ := log.GetTransactionAttempt(ctx, "tx-1", 5); found {
		t.Error("out-of-range attempt number must not be found")
	}
	if _, found, _ := log.GetTransactionAttempt(ctx, "tx-1", 0); found {
		t.Error("attempt numbers are 1-based")
	}
	if _, _, found, _ := log.GetCurrentTransactionAttempt(ctx, "tx-unknown"); found {
		t.Error("unknown transaction must not be found")
	}
}

func TestAttemptLog_RejectsInvalidAttempts(t *testing.T) {
	log := NewAttemptLog()

	attempt := validAttempt("tx-1", 1)
	attempt.GasPrice = big.NewInt(1) // both fee models set
	if _, err := log.RecordTransactionAttempt(context.Background(), attempt); err == nil {
		t.Error("expected validation error for mixed fee fields")
	}

	attempt = validAttempt("", 1)
	if _, err := log.RecordTransactionAttempt(context.Background(), attempt); err == nil {
		t.Error("expected validation error for missing transaction id")
	}
}
