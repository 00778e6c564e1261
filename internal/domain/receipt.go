package domain

import (
	"math/big"
)

// ConfirmationStatus is the terminal outcome of a confirm job.
type ConfirmationStatus string

const (
	ConfirmationSuccess  ConfirmationStatus = "success"
	ConfirmationReverted ConfirmationStatus = "reverted"
	// ConfirmationUnknown marks a job that exhausted its retry budget
	// without ever producing a receipt or an RPC error. Distinct from both
	// confirmed states; surfaced for operator attention, never retried.
	ConfirmationUnknown ConfirmationStatus = "unknown"
)

// UserOpReceipt is the bundler's receipt for a user operation.
type UserOpReceipt struct {
	UserOpHash      string
	TransactionHash string
	BlockNumber     uint64
	Nonce           uint64
	GasUsed         uint64
	GasCost         *big.Int
	Success         bool
	RevertData      string
	Logs            []EventLog
}

// EventLog is a raw receipt log entry, scanned for revert-reason events.
type EventLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

// DecodedRevert is the result of decoding a revert-reason payload against a
// known error ABI definition: a named error with named arguments.
type DecodedRevert struct {
	ErrorName string         `json:"error_name"`
	Args      map[string]any `json:"args,omitempty"`
	Raw       string         `json:"raw,omitempty"`
}

// ConfirmedTransaction is handed to every confirmation subscriber for each
// terminal outcome. When decoding the revert reason was impossible, Revert is
// nil and the raw receipt fields still carry through.
type ConfirmedTransaction struct {
	TransactionID   string
	ChainID         uint64
	UserOpHash      string
	TransactionHash string
	Status          ConfirmationStatus
	BlockNumber     uint64
	Nonce           uint64
	GasUsed         uint64
	GasCost         *big.Int
	Revert          *DecodedRevert
}

// SubmittedTransaction is handed to sent-subscribers right after broadcast.
type SubmittedTransaction struct {
	TransactionID string
	ChainID       uint64
	UserOpHash    string
	Signer        string
	Nonce         uint64
}
