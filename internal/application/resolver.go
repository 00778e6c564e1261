package application

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

// ResolverConfig carries the ERC-4337 defaults used when neither the request
// nor the account directory overrides them.
type ResolverConfig struct {
	DefaultFactory    string
	DefaultEntrypoint string
	CacheSize         int
}

// Resolver translates a loose ExecutionRequest into a concrete signer and
// smart-account deployment descriptor, consulting the account directory only
// on cache miss.
type Resolver struct {
	directory AccountDirectory
	chains    ChainResolver
	cfg       ResolverConfig
	cache     *resolutionCache
}

func NewResolver(directory AccountDirectory, chains ChainResolver, cfg ResolverConfig) *Resolver {
	return &Resolver{
		directory: directory,
		chains:    chains,
		cfg:       cfg,
		cache:     newResolutionCache(cfg.CacheSize, resolutionCacheTTL),
	}
}

// Resolve returns the execution account for a request. A cache hit still
// performs one signer lookup so that an address reclassified since caching
// surfaces the same error a cold resolution would.
func (r *Resolver) Resolve(ctx context.Context, req domain.ExecutionRequest) (domain.ResolvedExecutionAccount, error) {
	key := req.CacheKey()
	if cached, ok := r.cache.Get(key); ok {
		if err := r.revalidateSigner(ctx, cached.Signer); err != nil {
			r.cache.Invalidate(key)
			return domain.ResolvedExecutionAccount{}, err
		}
		return cached, nil
	}

	resolved, err := r.resolveCold(ctx, req)
	if err != nil {
		return domain.ResolvedExecutionAccount{}, err
	}
	r.cache.Put(key, resolved)
	return resolved, nil
}

// Invalidate drops the cached resolution for a request.
func (r *Resolver) Invalidate(req domain.ExecutionRequest) {
	r.cache.Invalidate(req.CacheKey())
}

func (r *Resolver) resolveCold(ctx context.Context, req domain.ExecutionRequest) (domain.ResolvedExecutionAccount, error) {
	switch req.Type {
	case domain.RequestTypeAuto:
		return r.resolveAuto(ctx, req)
	case domain.RequestTypeSmartAccount:
		return r.resolveSmartAccount(ctx, req)
	case domain.RequestTypeNativeAA:
		return r.resolveNativeAA(ctx, req)
	default:
		return domain.ResolvedExecutionAccount{}, domain.NewError(
			domain.ErrorKindValidation, domain.CodeInvalidChain,
			"unknown execution request type: "+string(req.Type), nil)
	}
}

// resolveAuto implements the bare-address policy: a registered smart account
// is used directly; anything else is treated as a signer, routed through the
// chain's native AA scheme when one exists, and otherwise through ERC-4337
// with defaults unless stored configuration overrides them.
func (r *Resolver) resolveAuto(ctx context.Context, req domain.ExecutionRequest) (domain.ResolvedExecutionAccount, error) {
	record, found, err := r.directory.GetAccount(ctx, req.From)
	if err != nil {
		return domain.ResolvedExecutionAccount{}, accountLookupError(err)
	}
	if found && record.Kind == domain.AccountKindSmartAccount {
		return domain.ResolvedExecutionAccount{
			Type:                domain.RequestTypeSmartAccount,
			ChainID:             req.ChainID,
			Signer:              record.Signer,
			SmartAccountAddress: record.Address,
			Factory:             defaultIfEmpty(record.Factory, r.cfg.DefaultFactory),
			Entrypoint:          defaultIfEmpty(record.Entrypoint, r.cfg.DefaultEntrypoint),
			Salt:                record.Salt,
			SponsorGas:          true,
		}, nil
	}
	if !found {
		return domain.ResolvedExecutionAccount{}, domain.NewError(
			domain.ErrorKindAccount, domain.CodeAccountNotFound,
			"no account registered for "+req.From, nil)
	}

	chain, err := r.chains.Chain(req.ChainID)
	if err != nil {
		return domain.ResolvedExecutionAccount{}, domain.NewError(
			domain.ErrorKindValidation, domain.CodeInvalidChain,
			"unknown chain", err)
	}
	if chain.NativeAccountAbstraction {
		return domain.ResolvedExecutionAccount{
			Type:    domain.RequestTypeNativeAA,
			ChainID: req.ChainID,
			Signer:  record.Address,
		}, nil
	}

	factory := defaultIfEmpty(record.Factory, r.cfg.DefaultFactory)
	entrypoint := defaultIfEmpty(record.Entrypoint, r.cfg.DefaultEntrypoint)
	return domain.ResolvedExecutionAccount{
		Type:                domain.RequestTypeSmartAccount,
		ChainID:             req.ChainID,
		Signer:              record.Address,
		SmartAccountAddress: CounterfactualAddress(factory, record.Address, record.Salt),
		Factory:             factory,
		Entrypoint:          entrypoint,
		Salt:                record.Salt,
		SponsorGas:          true,
	}, nil
}

func (r *Resolver) resolveSmartAccount(ctx context.Context, req domain.ExecutionRequest) (domain.ResolvedExecutionAccount, error) {
	if req.Signer == "" {
		return domain.ResolvedExecutionAccount{}, domain.NewError(
			domain.ErrorKindAccount, domain.CodeAccountAmbiguous,
			"smart-account execution requires a signer", nil)
	}

	// Fully specified requests are trusted outright: no storage lookup.
	if req.Factory != "" && req.Entrypoint != "" {
		account := req.SmartAccountAddress
		if account == "" {
			account = CounterfactualAddress(req.Factory, req.Signer, req.Salt)
		}
		return domain.ResolvedExecutionAccount{
			Type:                domain.RequestTypeSmartAccount,
			ChainID:             req.ChainID,
			Signer:              req.Signer,
			SmartAccountAddress: account,
			Factory:             req.Factory,
			Entrypoint:          req.Entrypoint,
			Salt:                req.Salt,
			SponsorGas:          req.SponsorGas,
		}, nil
	}

	if err := r.revalidateSigner(ctx, req.Signer); err != nil {
		return domain.ResolvedExecutionAccount{}, err
	}

	if req.SmartAccountAddress != "" {
		record, found, err := r.directory.GetSmartAccount(ctx, req.Signer, req.SmartAccountAddress)
		if err != nil {
			return domain.ResolvedExecutionAccount{}, accountLookupError(err)
		}
		if found {
			if record.Kind != domain.AccountKindSmartAccount {
				return domain.ResolvedExecutionAccount{}, kindMismatch(req.SmartAccountAddress, domain.AccountKindSmartAccount)
			}
			return domain.ResolvedExecutionAccount{
				Type:                domain.RequestTypeSmartAccount,
				ChainID:             req.ChainID,
				Signer:              req.Signer,
				SmartAccountAddress: record.Address,
				Factory:             defaultIfEmpty(record.Factory, r.cfg.DefaultFactory),
				Entrypoint:          defaultIfEmpty(record.Entrypoint, r.cfg.DefaultEntrypoint),
				Salt:                record.Salt,
				SponsorGas:          req.SponsorGas,
			}, nil
		}
	}

	// Directory miss: defaults, no salt.
	account := req.SmartAccountAddress
	if account == "" {
		account = CounterfactualAddress(r.cfg.DefaultFactory, req.Signer, "")
	}
	return domain.ResolvedExecutionAccount{
		Type:                domain.RequestTypeSmartAccount,
		ChainID:             req.ChainID,
		Signer:              req.Signer,
		SmartAccountAddress: account,
		Factory:             r.cfg.DefaultFactory,
		Entrypoint:          r.cfg.DefaultEntrypoint,
		SponsorGas:          req.SponsorGas,
	}, nil
}

func (r *Resolver) resolveNativeAA(ctx context.Context, req domain.ExecutionRequest) (domain.ResolvedExecutionAccount, error) {
	signer := req.Signer
	if signer == "" {
		signer = req.From
	}
	if err := r.revalidateSigner(ctx, signer); err != nil {
		return domain.ResolvedExecutionAccount{}, err
	}
	return domain.ResolvedExecutionAccount{
		Type:    domain.RequestTypeNativeAA,
		ChainID: req.ChainID,
		Signer:  signer,
	}, nil
}

// revalidateSigner is the lightweight lookup run on every resolution, cached
// or cold: the signer must exist and must actually be a signer.
func (r *Resolver) revalidateSigner(ctx context.Context, signer string) error {
	record, found, err := r.directory.GetAccount(ctx, signer)
	if err != nil {
		return accountLookupError(err)
	}
	if !found {
		return domain.NewError(domain.ErrorKindAccount, domain.CodeAccountNotFound,
			"signer not found: "+signer, nil)
	}
	if record.Kind != domain.AccountKindSigner {
		return kindMismatch(signer, domain.AccountKindSigner)
	}
	return nil
}

// CounterfactualAddress derives the deterministic smart-account address for a
// (factory, signer, salt) triple before the account is deployed.
func CounterfactualAddress(factory, signer, salt string) string {
	hash := crypto.Keccak256(
		common.HexToAddress(factory).Bytes(),
		common.HexToAddress(signer).Bytes(),
		[]byte(salt),
	)
	return strings.ToLower(common.BytesToAddress(hash[12:]).Hex())
}

func kindMismatch(address string, want domain.AccountKind) error {
	return domain.NewError(domain.ErrorKindAccount, domain.CodeAccountKindMismatch,
		"account "+address+" is not a "+string(want), nil)
}

func accountLookupError(err error) error {
	if domain.IsKind(err, domain.ErrorKindAccount) {
		return err
	}
	return domain.NewError(domain.ErrorKindAccount, domain.CodeAccountNotFound,
		"account lookup failed", err)
}

func defaultIfEmpty(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
