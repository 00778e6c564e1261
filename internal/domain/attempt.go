package domain

import (
	"math/big"
)

// AttemptErrorCode is the fixed taxonomy of structured send errors. Anything
// the classifier cannot place lands in AttemptErrorOther.
type AttemptErrorCode string

const (
	AttemptErrorGasTooLow              AttemptErrorCode = "gas_too_low"
	AttemptErrorInsufficientFunds      AttemptErrorCode = "insufficient_funds"
	AttemptErrorNonceTooLow            AttemptErrorCode = "nonce_too_low"
	AttemptErrorNonceTooHigh           AttemptErrorCode = "nonce_too_high"
	AttemptErrorReplacementUnderpriced AttemptErrorCode = "replacement_underpriced"
	AttemptErrorAlreadyKnown           AttemptErrorCode = "already_known"
	AttemptErrorUnknownRPC             AttemptErrorCode = "unknown_rpc_error"
	AttemptErrorOther                  AttemptErrorCode = "other"
)

func (c AttemptErrorCode) Valid() bool {
	switch c {
	case AttemptErrorGasTooLow, AttemptErrorInsufficientFunds,
		AttemptErrorNonceTooLow, AttemptErrorNonceTooHigh,
		AttemptErrorReplacementUnderpriced, AttemptErrorAlreadyKnown,
		AttemptErrorUnknownRPC, AttemptErrorOther:
		return true
	}
	return false
}

// AttemptError is the structured error attached to a failed send attempt.
type AttemptError struct {
	Code    AttemptErrorCode `json:"code"`
	Message string           `json:"message,omitempty"`
}

// TransactionAttempt records one send attempt for a transaction. Attempts are
// immutable once written; a per-transaction counter assigns attempt numbers.
// Exactly one of GasPrice or the MaxFeePerGas/MaxPriorityFeePerGas pair is
// set, never both.
type TransactionAttempt struct {
	TransactionID        string        `json:"transaction_id"`
	Signer               string        `json:"signer"`
	ChainID              uint64        `json:"chain_id"`
	To                   string        `json:"to,omitempty"`
	Data                 string        `json:"data"`
	Value                *big.Int      `json:"value,omitempty"`
	Nonce                uint64        `json:"nonce"`
	GasLimit             uint64        `json:"gas_limit"`
	GasPrice             *big.Int      `json:"gas_price,omitempty"`
	MaxFeePerGas         *big.Int      `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas *big.Int      `json:"max_priority_fee_per_gas,omitempty"`
	Hash                 string        `json:"hash,omitempty"`
	Error                *AttemptError `json:"error,omitempty"`
}

// Validate checks an attempt against the fixed schema. It runs both before a
// write and after a read back from the store; a stored payload that fails it
// is corruption, never silently dropped.
func (a *TransactionAttempt) Validate() error {
	if a.TransactionID == "" {
		return NewError(ErrorKindValidation, CodeMalformedAttempt, "transaction id is required", nil)
	}
	if a.Signer == "" {
		return NewError(ErrorKindValidation, CodeMalformedAttempt, "signer is required", nil)
	}
	if a.ChainID == 0 {
		return NewError(ErrorKindValidation, CodeMalformedAttempt, "chain id is required", nil)
	}
	hasLegacy := a.GasPrice != nil
	hasDynamic := a.MaxFeePerGas != nil || a.MaxPriorityFeePerGas != nil
	if hasLegacy && hasDynamic {
		return NewError(ErrorKindValidation, CodeMalformedAttempt, "legacy and eip-1559 fee fields are mutually exclusive", nil)
	}
	if !hasLegacy && !hasDynamic {
		return NewError(ErrorKindValidation, CodeMalformedAttempt, "one of gas price or eip-1559 fee fields is required", nil)
	}
	if hasDynamic && (a.MaxFeePerGas == nil || a.MaxPriorityFeePerGas == nil) {
		return NewError(ErrorKindValidation, CodeMalformedAttempt, "eip-1559 fee fields must be set together", nil)
	}
	if a.Error != nil && !a.Error.Code.Valid() {
		return NewError(ErrorKindValidation, CodeMalformedAttempt, "unknown attempt error code: "+string(a.Error.Code), nil)
	}
	return nil
}
