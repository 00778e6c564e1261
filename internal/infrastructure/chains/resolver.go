// Package chains resolves chain ids to their configured endpoints.
package chains

import (
	"fmt"

	"github.com/thirdweb-dev/engine-sub003/internal/config"
	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

type Resolver struct {
	chains map[uint64]domain.ChainInfo
}

// NewResolver builds the static chain table from configuration. Unknown
// chain ids fail at call time, never silently.
func NewResolver(cfg config.Config) (*Resolver, error) {
	if len(cfg.ChainIDs) == 0 {
		return nil, fmt.Errorf("at least one chain must be configured")
	}
	nativeAA := make(map[uint64]bool, len(cfg.NativeAAChainIDs))
	for _, chainID := range cfg.NativeAAChainIDs {
		nativeAA[chainID] = true
	}
	table := make(map[uint64]domain.ChainInfo, len(cfg.ChainIDs))
	for _, chainID := range cfg.ChainIDs {
		rpcURL := cfg.RPCURLs[chainID]
		if rpcURL == "" {
			return nil, fmt.Errorf("no rpc url configured for chain %d", chainID)
		}
		bundlerURL := cfg.BundlerURLs[chainID]
		if bundlerURL == "" {
			bundlerURL = rpcURL
		}
		table[chainID] = domain.ChainInfo{
			ChainID:                  chainID,
			RPCURL:                   rpcURL,
			BundlerURL:               bundlerURL,
			NativeAccountAbstraction: nativeAA[chainID],
		}
	}
	return &Resolver{chains: table}, nil
}

func (r *Resolver) Chain(chainID uint64) (domain.ChainInfo, error) {
	chain, ok := r.chains[chainID]
	if !ok {
		return domain.ChainInfo{}, fmt.Errorf("chain %d is not configured", chainID)
	}
	return chain, nil
}

// ChainIDs lists the configured chains in declaration order.
func (r *Resolver) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	return ids
}
