package memstore

import (
	"context"
	"testing"
)

func TestDeployGuard_FirstClaimWins(t *testing.T) {
	guard := NewDeployGuard()
	ctx := context.Background()

	acquired, err := guard.Acquire(ctx, testChainID, testAddress, "tx-1")
	if err != nil || !acquired {
		t.Fatalf("first acquire: acquired=%v err=%v", acquired, err)
	}
	acquired, err = guard.Acquire(ctx, testChainID, testAddress, "tx-2")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if acquired {
		t.Error("second claimant must not acquire a held guard")
	}

	holder, err := guard.Holder(ctx, testChainID, testAddress)
	if err != nil {
		t.Fatalf("holder: %v", err)
	}
	if holder != "tx-1" {
		t.Errorf("expected holder tx-1, got %q", holder)
	}
}

func TestDeployGuard_ReleaseFreesTheClaim(t *testing.T) {
	guard := NewDeployGuard()
	ctx := context.Background()

	if _, err := guard.Acquire(ctx, testChainID, testAddress, "tx-1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := guard.Release(ctx, testChainID, testAddress); err != nil {
		t.Fatalf("release: %v", err)
	}

	holder, _ := guard.Holder(ctx, testChainID, testAddress)
	if holder != "" {
		t.Errorf("released guard must report no holder, got %q", holder)
	}
	acquired, err := guard.Acquire(ctx, testChainID, testAddress, "tx-2")
	if err != nil || !acquired {
		t.Errorf("released guard must be claimable: acquired=%v err=%v", acquired, err)
	}
}

func TestDeployGuard_ScopedPerChainAndAccount(t *testing.T) {
	guard := NewDeployGuard()
	ctx := context.Background()

	if _, err := guard.Acquire(ctx, 1, testAddress, "tx-1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	acquired, err := guard.Acquire(ctx, 2, testAddress, "tx-2")
	if err != nil || !acquired {
		t.Errorf("other chain must be claimable: acquired=%v err=%v", acquired, err)
	}
}
