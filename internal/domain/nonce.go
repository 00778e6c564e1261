package domain

// NonceState is a read-only snapshot of the distributed nonce counter for one
// (address, chain) pair.
//
// The store maintains the invariant that every nonce in
// [ConfirmedNonce+1, EngineNonce] is either in flight, recycled, or a
// detectable gap recoverable through CheckMissingNonces.
type NonceState struct {
	Address        string `json:"address"`
	ChainID        uint64 `json:"chain_id"`
	EngineNonce    uint64 `json:"engine_nonce"`
	ConfirmedNonce uint64 `json:"confirmed_nonce"`
	RecycledCount  int64  `json:"recycled_count"`
	InFlightCount  int64  `json:"in_flight_count"`
	Epoch          string `json:"epoch"`
}

// RecycledNonce is a previously allocated nonce returned to the reuse pool,
// tagged with the epoch it was recycled under. A recycled nonce is only
// honored while its epoch matches the stored one.
type RecycledNonce struct {
	Nonce uint64
	Epoch string
}

// PopResult is the outcome of popping the recycled-nonce pool.
type PopResult struct {
	// Status is one of PopSuccess, PopEmpty, PopOversized.
	Status   PopStatus
	Recycled RecycledNonce
	// PoolSize is set when Status is PopOversized.
	PoolSize int64
}

type PopStatus string

const (
	PopSuccess   PopStatus = "success"
	PopEmpty     PopStatus = "empty"
	PopOversized PopStatus = "oversized"
)

// MissingNoncesResult lists nonces in (confirmed, engine] that are neither in
// flight nor recycled. TooMany is set instead of the list when the count
// exceeds the caller's limit; that is an alerting condition, not something to
// recover nonce-by-nonce.
type MissingNoncesResult struct {
	Missing []uint64
	TooMany bool
	Count   int64
}

// ConfirmedNonceUpdate reports both counters after a SetConfirmedNonceMax,
// since raising the confirmed nonce may drag the engine nonce up with it.
type ConfirmedNonceUpdate struct {
	ConfirmedNonce uint64
	EngineNonce    uint64
}
