package application

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

// ConfirmWorker polls for the on-chain receipt of a submitted operation,
// classifies the terminal outcome, decodes revert reasons, and fans the
// result out to subscribers exactly once.
type ConfirmWorker struct {
	nonces  NonceStore
	guard   DeployGuard
	bundler BundlerClient
	decoder *RevertDecoder
	bus     *Bus
}

func NewConfirmWorker(nonces NonceStore, guard DeployGuard, bundler BundlerClient, decoder *RevertDecoder, bus *Bus) (*ConfirmWorker, error) {
	if nonces == nil || guard == nil || bundler == nil || bus == nil {
		return nil, errors.New("confirm worker dependencies must not be nil")
	}
	if decoder == nil {
		decoder = NewRevertDecoder()
	}
	return &ConfirmWorker{nonces: nonces, guard: guard, bundler: bundler, decoder: decoder, bus: bus}, nil
}

// Handle processes one confirm job delivery. A missing receipt is "not yet",
// not an error: the job retries with backoff until the budget is spent, at
// which point the outcome is terminal-unknown.
func (w *ConfirmWorker) Handle(ctx context.Context, job *Job) error {
	var confirmJob domain.ConfirmJob
	if err := json.Unmarshal(job.Payload, &confirmJob); err != nil {
		return domain.Fatal(domain.NewError(domain.ErrorKindValidation, domain.CodeMalformedAttempt,
			"decode confirm job", err))
	}

	receipt, found, err := w.bundler.GetUserOperationReceipt(ctx, confirmJob.ChainID, confirmJob.UserOpHash)
	if err != nil {
		return domain.NewError(domain.ErrorKindRPC, domain.CodeReceiptFetchFailed, "fetch receipt", err)
	}
	if !found {
		if job.Attempt >= MaxConfirmAttempts {
			w.abandonUnknown(ctx, confirmJob, job.Attempt)
			return nil
		}
		w.logMissingReceipt(confirmJob, job.Attempt)
		return domain.ErrReceiptNotReady
	}

	status := domain.ConfirmationSuccess
	var revert *domain.DecodedRevert
	if !receipt.Success {
		status = domain.ConfirmationReverted
		// Decoding is best effort: an undecodable reason still yields a
		// terminal REVERTED result with the raw receipt fields.
		revert = w.decoder.DecodeReceipt(receipt)
	}

	update, err := w.nonces.SetConfirmedNonceMax(ctx, confirmJob.SmartAccountAddress, confirmJob.ChainID, receipt.Nonce)
	if err != nil {
		slog.Error("raise confirmed nonce",
			"tx_id", confirmJob.TransactionID, "nonce", receipt.Nonce, "err", err)
	} else {
		slog.Debug("confirmed nonce raised",
			"tx_id", confirmJob.TransactionID,
			"confirmed", update.ConfirmedNonce,
			"engine", update.EngineNonce,
		)
	}
	if err := w.nonces.RemoveInflightNonce(ctx, confirmJob.SmartAccountAddress, confirmJob.ChainID, receipt.Nonce); err != nil {
		slog.Warn("remove inflight nonce",
			"tx_id", confirmJob.TransactionID, "nonce", receipt.Nonce, "err", err)
	}

	w.releaseGuard(ctx, confirmJob)

	w.bus.EmitConfirmed(ctx, domain.ConfirmedTransaction{
		TransactionID:   confirmJob.TransactionID,
		ChainID:         confirmJob.ChainID,
		UserOpHash:      confirmJob.UserOpHash,
		TransactionHash: receipt.TransactionHash,
		Status:          status,
		BlockNumber:     receipt.BlockNumber,
		Nonce:           receipt.Nonce,
		GasUsed:         receipt.GasUsed,
		GasCost:         receipt.GasCost,
		Revert:          revert,
	})

	slog.Info("user operation confirmed",
		"tx_id", confirmJob.TransactionID,
		"chain_id", confirmJob.ChainID,
		"status", status,
		"block", receipt.BlockNumber,
		"gas_used", receipt.GasUsed,
	)
	return nil
}

// abandonUnknown is the terminal path for a job that exhausted every retry
// without a receipt or an RPC error. The outcome must stay distinguishable
// from both confirmed states.
func (w *ConfirmWorker) abandonUnknown(ctx context.Context, job domain.ConfirmJob, attempt int) {
	slog.Error("abandoning confirmation: no receipt after full retry budget",
		"tx_id", job.TransactionID,
		"chain_id", job.ChainID,
		"user_op_hash", job.UserOpHash,
		"attempts", attempt,
	)
	w.releaseGuard(ctx, job)
	w.bus.EmitConfirmed(ctx, domain.ConfirmedTransaction{
		TransactionID: job.TransactionID,
		ChainID:       job.ChainID,
		UserOpHash:    job.UserOpHash,
		Status:        domain.ConfirmationUnknown,
	})
}

func (w *ConfirmWorker) releaseGuard(ctx context.Context, job domain.ConfirmJob) {
	if err := w.guard.Release(ctx, job.ChainID, job.SmartAccountAddress); err != nil {
		slog.Warn("release deploy guard",
			"tx_id", job.TransactionID, "account", job.SmartAccountAddress, "err", err)
	}
}

// logMissingReceipt escalates severity with the attempt count; attempt 60 is
// the alerting threshold even though retries continue to the budget.
func (w *ConfirmWorker) logMissingReceipt(job domain.ConfirmJob, attempt int) {
	args := []any{
		"tx_id", job.TransactionID,
		"chain_id", job.ChainID,
		"user_op_hash", job.UserOpHash,
		"attempt", attempt,
	}
	switch {
	case attempt < 10:
		slog.Debug("receipt not yet available", args...)
	case attempt < 30:
		slog.Info("receipt not yet available", args...)
	case attempt < ConfirmAlertAttempt:
		slog.Warn("receipt still missing", args...)
	case attempt == ConfirmAlertAttempt:
		slog.Error("receipt missing after alert threshold", args...)
	default:
		slog.Warn("receipt still missing past alert threshold", args...)
	}
}
