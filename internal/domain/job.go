package domain

import (
	"math/big"
)

// Call is one entry in a batched smart-account execution.
type Call struct {
	To    string   `json:"to"`
	Data  string   `json:"data"`
	Value *big.Int `json:"value,omitempty"`
}

// ExecutionOptions travel with a send job and pin the resolved account so a
// re-delivered job builds the identical operation.
type ExecutionOptions struct {
	Type                RequestType `json:"type"`
	Signer              string      `json:"signer"`
	SmartAccountAddress string      `json:"smart_account_address,omitempty"`
	Factory             string      `json:"factory,omitempty"`
	Entrypoint          string      `json:"entrypoint,omitempty"`
	Salt                string      `json:"salt,omitempty"`
	SponsorGas          bool        `json:"sponsor_gas"`
}

// SendJob is the payload of the send queue. Its job id equals the
// transaction id, so re-enqueueing the same transaction deduplicates.
type SendJob struct {
	TransactionID string           `json:"transaction_id"`
	ChainID       uint64           `json:"chain_id"`
	Options       ExecutionOptions `json:"options"`
	Calls         []Call           `json:"calls"`
}

// ConfirmJob is the payload of the confirm queue, created exactly once per
// broadcast operation (job id = transaction id).
type ConfirmJob struct {
	TransactionID       string `json:"transaction_id"`
	ChainID             uint64 `json:"chain_id"`
	UserOpHash          string `json:"user_op_hash"`
	SmartAccountAddress string `json:"smart_account_address"`
}
