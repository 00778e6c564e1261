package domain

// ChainInfo describes one configured chain.
type ChainInfo struct {
	ChainID    uint64
	RPCURL     string
	BundlerURL string
	// NativeAccountAbstraction is set for chains where signers execute
	// through a chain-native AA scheme instead of ERC-4337 bundling.
	NativeAccountAbstraction bool
}
