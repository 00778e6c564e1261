package application

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

// ExecutionResult is returned to the caller of Execute. Once a job is
// queued, failures surface through the confirmed callbacks or the admin
// surface, never by blocking the caller.
type ExecutionResult struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// Executor is the pipeline's enqueue entry point plus the administrative
// nonce operations exposed to recovery tooling.
type Executor struct {
	resolver  *Resolver
	chains    ChainResolver
	sendQueue Queue
	nonces    NonceStore
	attempts  AttemptLog
}

func NewExecutor(resolver *Resolver, chains ChainResolver, sendQueue Queue, nonces NonceStore, attempts AttemptLog) (*Executor, error) {
	if resolver == nil || chains == nil || sendQueue == nil || nonces == nil {
		return nil, errors.New("executor dependencies must not be nil")
	}
	return &Executor{resolver: resolver, chains: chains, sendQueue: sendQueue, nonces: nonces, attempts: attempts}, nil
}

// Execute validates and resolves a request, then enqueues a send job keyed by
// a fresh transaction id. Validation and account problems surface immediately
// as typed errors.
func (e *Executor) Execute(ctx context.Context, req domain.ExecutionRequest, calls []domain.Call) (ExecutionResult, error) {
	if _, err := e.chains.Chain(req.ChainID); err != nil {
		return ExecutionResult{}, domain.NewError(domain.ErrorKindValidation, domain.CodeInvalidChain,
			"unknown chain", err)
	}
	if len(calls) == 0 {
		return ExecutionResult{}, domain.NewError(domain.ErrorKindValidation, domain.CodeInvalidCalls,
			"at least one call is required", nil)
	}
	for _, call := range calls {
		if call.To != "" && !common.IsHexAddress(call.To) {
			return ExecutionResult{}, domain.NewError(domain.ErrorKindValidation, domain.CodeInvalidCalls,
				"invalid call target: "+call.To, nil)
		}
	}

	resolved, err := e.resolver.Resolve(ctx, req)
	if err != nil {
		return ExecutionResult{}, err
	}

	transactionID := uuid.NewString()
	job := domain.SendJob{
		TransactionID: transactionID,
		ChainID:       req.ChainID,
		Options: domain.ExecutionOptions{
			Type:                resolved.Type,
			Signer:              resolved.Signer,
			SmartAccountAddress: resolved.SmartAccountAddress,
			Factory:             resolved.Factory,
			Entrypoint:          resolved.Entrypoint,
			Salt:                resolved.Salt,
			SponsorGas:          resolved.SponsorGas,
		},
		Calls: calls,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return ExecutionResult{}, domain.NewError(domain.ErrorKindQueue, domain.CodeEnqueueSendFailed,
			"encode send job", err)
	}
	if _, err := e.sendQueue.Enqueue(ctx, transactionID, payload); err != nil {
		return ExecutionResult{}, domain.NewError(domain.ErrorKindQueue, domain.CodeEnqueueSendFailed,
			"enqueue send job", err)
	}

	slog.Info("transaction queued",
		"tx_id", transactionID,
		"chain_id", req.ChainID,
		"signer", resolved.Signer,
		"account", resolved.SmartAccountAddress,
		"calls", len(calls),
	)
	return ExecutionResult{TransactionID: transactionID, Status: "queued"}, nil
}

// GetNonceState exposes the diagnostic snapshot of the nonce counter.
func (e *Executor) GetNonceState(ctx context.Context, address string, chainID uint64) (domain.NonceState, error) {
	return e.nonces.GetNonceState(ctx, address, chainID)
}

// CheckMissingNonces reports nonces allocated but with unknown fate.
func (e *Executor) CheckMissingNonces(ctx context.Context, address string, chainID uint64, maxMissing int64) (domain.MissingNoncesResult, error) {
	return e.nonces.CheckMissingNonces(ctx, address, chainID, maxMissing)
}

// ResetNonceState is the administrative reset: new epoch, both counters set
// to newNonce, recycled and in-flight state cleared.
func (e *Executor) ResetNonceState(ctx context.Context, address string, chainID uint64, newNonce uint64) error {
	return e.nonces.ResetNonceState(ctx, address, chainID, newNonce)
}

// SetEngineNonceMax fast-forwards the engine counter to at least value.
func (e *Executor) SetEngineNonceMax(ctx context.Context, address string, chainID uint64, value uint64) (uint64, error) {
	return e.nonces.SetEngineNonceMax(ctx, address, chainID, value)
}

// GetTransactionAttempts returns the full attempt history for a transaction.
func (e *Executor) GetTransactionAttempts(ctx context.Context, transactionID string) ([]domain.TransactionAttempt, error) {
	return e.attempts.GetAllTransactionAttempts(ctx, transactionID)
}
