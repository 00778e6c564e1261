package application

import (
	"context"
	"strings"
	"testing"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

const (
	signerAddr  = "0x1111111111111111111111111111111111111111"
	accountAddr = "0x2222222222222222222222222222222222222222"
	factoryAddr = "0x3333333333333333333333333333333333333333"
	entrypoint  = "0x4444444444444444444444444444444444444444"
)

type mockDirectory struct {
	accounts map[string]domain.AccountRecord
	smart    map[string]domain.AccountRecord
	lookups  int
	err      error
}

func (d *mockDirectory) GetAccount(_ context.Context, address string) (domain.AccountRecord, bool, error) {
	d.lookups++
	if d.err != nil {
		return domain.AccountRecord{}, false, d.err
	}
	record, found := d.accounts[strings.ToLower(address)]
	return record, found, nil
}

func (d *mockDirectory) GetSmartAccount(_ context.Context, signer, address string) (domain.AccountRecord, bool, error) {
	d.lookups++
	if d.err != nil {
		return domain.AccountRecord{}, false, d.err
	}
	record, found := d.smart[strings.ToLower(signer)+"/"+strings.ToLower(address)]
	return record, found, nil
}

type mockChains struct {
	chains map[uint64]domain.ChainInfo
}

func (c *mockChains) Chain(chainID uint64) (domain.ChainInfo, error) {
	chain, found := c.chains[chainID]
	if !found {
		return domain.ChainInfo{}, domain.NewError(domain.ErrorKindValidation, domain.CodeInvalidChain,
			"unknown chain", nil)
	}
	return chain, nil
}

func newTestResolver(directory *mockDirectory, chains *mockChains) *Resolver {
	return NewResolver(directory, chains, ResolverConfig{
		DefaultFactory:    factoryAddr,
		DefaultEntrypoint: entrypoint,
	})
}

func TestResolver_AutoUsesRegisteredSmartAccount(t *testing.T) {
	directory := &mockDirectory{accounts: map[string]domain.AccountRecord{
		strings.ToLower(accountAddr): {
			Address: accountAddr,
			Kind:    domain.AccountKindSmartAccount,
			Signer:  signerAddr,
			Salt:    "s1",
		},
	}}
	resolver := newTestResolver(directory, &mockChains{chains: map[uint64]domain.ChainInfo{1: {ChainID: 1}}})

	resolved, err := resolver.Resolve(context.Background(), domain.ExecutionRequest{
		Type: domain.RequestTypeAuto, ChainID: 1, From: accountAddr,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Type != domain.RequestTypeSmartAccount {
		t.Errorf("unexpected type %s", resolved.Type)
	}
	if resolved.Signer != signerAddr || resolved.SmartAccountAddress != accountAddr {
		t.Errorf("unexpected account: %+v", resolved)
	}
	if resolved.Factory != factoryAddr || resolved.Entrypoint != entrypoint {
		t.Errorf("defaults not applied: %+v", resolved)
	}
}

func TestResolver_AutoRoutesSignerThroughNativeAA(t *testing.T) {
	directory := &mockDirectory{accounts: map[string]domain.AccountRecord{
		strings.ToLower(signerAddr): {Address: signerAddr, Kind: domain.AccountKindSigner},
	}}
	resolver := newTestResolver(directory, &mockChains{chains: map[uint64]domain.ChainInfo{
		324: {ChainID: 324, NativeAccountAbstraction: true},
	}})

	resolved, err := resolver.Resolve(context.Background(), domain.ExecutionRequest{
		Type: domain.RequestTypeAuto, ChainID: 324, From: signerAddr,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Type != domain.RequestTypeNativeAA {
		t.Errorf("unexpected type %s", resolved.Type)
	}
	if resolved.Signer != signerAddr {
		t.Errorf("unexpected signer %s", resolved.Signer)
	}
}

func TestResolver_AutoDerivesCounterfactualAccount(t *testing.T) {
	directory := &mockDirectory{accounts: map[string]domain.AccountRecord{
		strings.ToLower(signerAddr): {Address: signerAddr, Kind: domain.AccountKindSigner},
	}}
	resolver := newTestResolver(directory, &mockChains{chains: map[uint64]domain.ChainInfo{1: {ChainID: 1}}})

	resolved, err := resolver.Resolve(context.Background(), domain.ExecutionRequest{
		Type: domain.RequestTypeAuto, ChainID: 1, From: signerAddr,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := CounterfactualAddress(factoryAddr, signerAddr, "")
	if resolved.SmartAccountAddress != want {
		t.Errorf("expected counterfactual %s, got %s", want, resolved.SmartAccountAddress)
	}
	if resolved.Type != domain.RequestTypeSmartAccount {
		t.Errorf("unexpected type %s", resolved.Type)
	}
}

func TestResolver_AutoUnknownAddressIsNotFound(t *testing.T) {
	resolver := newTestResolver(&mockDirectory{}, &mockChains{chains: map[uint64]domain.ChainInfo{1: {ChainID: 1}}})

	_, err := resolver.Resolve(context.Background(), domain.ExecutionRequest{
		Type: domain.RequestTypeAuto, ChainID: 1, From: signerAddr,
	})
	if !domain.IsCode(err, domain.CodeAccountNotFound) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestResolver_SmartAccountRequiresSigner(t *testing.T) {
	resolver := newTestResolver(&mockDirectory{}, &mockChains{})

	_, err := resolver.Resolve(context.Background(), domain.ExecutionRequest{
		Type: domain.RequestTypeSmartAccount, ChainID: 1,
	})
	if !domain.IsCode(err, domain.CodeAccountAmbiguous) {
		t.Errorf("expected ambiguity error, got %v", err)
	}
}

func TestResolver_FullySpecifiedRequestSkipsDirectory(t *testing.T) {
	directory := &mockDirectory{}
	resolver := newTestResolver(directory, &mockChains{})

	resolved, err := resolver.Resolve(context.Background(), domain.ExecutionRequest{
		Type:       domain.RequestTypeSmartAccount,
		ChainID:    1,
		Signer:     signerAddr,
		Factory:    factoryAddr,
		Entrypoint: entrypoint,
		Salt:       "s1",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if directory.lookups != 0 {
		t.Errorf("fully specified request must not hit the directory, lookups=%d", directory.lookups)
	}
	if resolved.SmartAccountAddress != CounterfactualAddress(factoryAddr, signerAddr, "s1") {
		t.Errorf("unexpected account %s", resolved.SmartAccountAddress)
	}
}

func TestResolver_SignerKindMismatchIsRejected(t *testing.T) {
	directory := &mockDirectory{accounts: map[string]domain.AccountRecord{
		strings.ToLower(signerAddr): {Address: signerAddr, Kind: domain.AccountKindSmartAccount},
	}}
	resolver := newTestResolver(directory, &mockChains{})

	_, err := resolver.Resolve(context.Background(), domain.ExecutionRequest{
		Type: domain.RequestTypeNativeAA, ChainID: 324, Signer: signerAddr,
	})
	if !domain.IsCode(err, domain.CodeAccountKindMismatch) {
		t.Errorf("expected kind mismatch, got %v", err)
	}
}

func TestResolver_CacheHitStillRevalidatesSigner(t *testing.T) {
	directory := &mockDirectory{accounts: map[string]domain.AccountRecord{
		strings.ToLower(signerAddr): {Address: signerAddr, Kind: domain.AccountKindSigner},
	}}
	resolver := newTestResolver(directory, &mockChains{})
	req := domain.ExecutionRequest{
		Type: domain.RequestTypeNativeAA, ChainID: 324, Signer: signerAddr,
	}

	if _, err := resolver.Resolve(context.Background(), req); err != nil {
		t.Fatalf("cold resolve: %v", err)
	}
	if _, err := resolver.Resolve(context.Background(), req); err != nil {
		t.Fatalf("cached resolve: %v", err)
	}

	// Reclassify the signer; the cached entry must not mask it.
	directory.accounts[strings.ToLower(signerAddr)] = domain.AccountRecord{
		Address: signerAddr, Kind: domain.AccountKindSmartAccount,
	}
	_, err := resolver.Resolve(context.Background(), req)
	if !domain.IsCode(err, domain.CodeAccountKindMismatch) {
		t.Errorf("expected kind mismatch after reclassification, got %v", err)
	}
}

func TestCounterfactualAddress_Deterministic(t *testing.T) {
	first := CounterfactualAddress(factoryAddr, signerAddr, "s1")
	second := CounterfactualAddress(factoryAddr, signerAddr, "s1")
	if first != second {
		t.Errorf("same inputs must derive the same address: %s vs %s", first, second)
	}
	if first == CounterfactualAddress(factoryAddr, signerAddr, "s2") {
		t.Error("different salts must derive different addresses")
	}
	if first != strings.ToLower(first) {
		t.Errorf("derived address must be lowercase: %s", first)
	}
}
