package domain

import (
	"strconv"
	"strings"
)

// AccountKind distinguishes the two record types in the account directory.
type AccountKind string

const (
	AccountKindSigner       AccountKind = "signer"
	AccountKindSmartAccount AccountKind = "smart_account"
)

// RequestType selects the resolution strategy for an execution request.
type RequestType string

const (
	// RequestTypeAuto resolves the best strategy from a bare address.
	RequestTypeAuto RequestType = "auto"
	// RequestTypeSmartAccount is an explicit signer + smart-account pair.
	RequestTypeSmartAccount RequestType = "erc4337"
	// RequestTypeNativeAA targets chains with a native account-abstraction
	// scheme, where the signer address is the executing account itself.
	RequestTypeNativeAA RequestType = "native_aa"
)

// ExecutionRequest is the loose caller-supplied description of who should
// execute a transaction. Constructed per call, never stored.
type ExecutionRequest struct {
	Type                RequestType
	ChainID             uint64
	From                string
	Signer              string
	SmartAccountAddress string
	Factory             string
	Entrypoint          string
	Salt                string
	SponsorGas          bool
}

// ResolvedExecutionAccount is the concrete outcome of resolving an
// ExecutionRequest: the signer that signs and, for smart-account execution,
// the deployment descriptor of the account it signs for.
type ResolvedExecutionAccount struct {
	Type                RequestType
	ChainID             uint64
	Signer              string
	SmartAccountAddress string
	Factory             string
	Entrypoint          string
	Salt                string
	SponsorGas          bool
}

// CacheKey builds the canonical cache key for a request. Every field that
// affects resolution participates, so two requests share a key only if they
// resolve identically.
func (r ExecutionRequest) CacheKey() string {
	var b strings.Builder
	b.Grow(160)
	b.WriteString(string(r.Type))
	b.WriteString(":chain=")
	b.WriteString(strconv.FormatUint(r.ChainID, 10))
	b.WriteString(":from=")
	b.WriteString(strings.ToLower(r.From))
	b.WriteString(":signer=")
	b.WriteString(strings.ToLower(r.Signer))
	b.WriteString(":account=")
	b.WriteString(strings.ToLower(r.SmartAccountAddress))
	b.WriteString(":factory=")
	b.WriteString(strings.ToLower(r.Factory))
	b.WriteString(":entrypoint=")
	b.WriteString(strings.ToLower(r.Entrypoint))
	b.WriteString(":salt=")
	b.WriteString(r.Salt)
	return b.String()
}

// AccountRecord is a row in the persistent account directory.
type AccountRecord struct {
	Address    string
	Kind       AccountKind
	Signer     string
	Factory    string
	Entrypoint string
	Salt       string
	SponsorGas bool
}
