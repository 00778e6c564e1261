package application

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

// MaxRecycledPoolSize bounds the recycled-nonce pool. A pool past this size
// means sends are failing faster than they are being investigated; the
// worker stops preferring recycled nonces and logs for operator attention.
const MaxRecycledPoolSize = 1000

// SendWorker builds, signs and submits smart-account operations. One handled
// job walks enqueued -> deploy-check -> signed -> submitted ->
// confirm-enqueued; a deploy conflict re-delivers the job after a fixed
// delay instead of failing it.
type SendWorker struct {
	nonces       NonceStore
	attempts     AttemptLog
	guard        DeployGuard
	bundler      BundlerClient
	signer       Signer
	builder      *UserOpBuilder
	confirmQueue Queue
	bus          *Bus
}

func NewSendWorker(nonces NonceStore, attempts AttemptLog, guard DeployGuard, bundler BundlerClient, signer Signer, builder *UserOpBuilder, confirmQueue Queue, bus *Bus) (*SendWorker, error) {
	if nonces == nil || attempts == nil || guard == nil || bundler == nil || signer == nil || builder == nil || confirmQueue == nil || bus == nil {
		return nil, errors.New("send worker dependencies must not be nil")
	}
	return &SendWorker{
		nonces:       nonces,
		attempts:     attempts,
		guard:        guard,
		bundler:      bundler,
		signer:       signer,
		builder:      builder,
		confirmQueue: confirmQueue,
		bus:          bus,
	}, nil
}

// Handle processes one send job delivery.
func (w *SendWorker) Handle(ctx context.Context, job *Job) error {
	var sendJob domain.SendJob
	if err := json.Unmarshal(job.Payload, &sendJob); err != nil {
		return domain.Fatal(domain.NewError(domain.ErrorKindValidation, domain.CodeMalformedAttempt,
			"decode send job", err))
	}

	account := sendJob.Options.SmartAccountAddress
	if sendJob.Options.Type == domain.RequestTypeNativeAA {
		account = sendJob.Options.Signer
	}

	deployed, err := w.bundler.IsDeployed(ctx, sendJob.ChainID, account)
	if err != nil {
		return domain.NewError(domain.ErrorKindRPC, domain.CodeSendFailed, "deployment check", err)
	}
	if !deployed && sendJob.Options.Type == domain.RequestTypeSmartAccount {
		holder, err := w.guard.Holder(ctx, sendJob.ChainID, account)
		if err != nil {
			return domain.NewError(domain.ErrorKindRPC, domain.CodeSendFailed, "deploy guard check", err)
		}
		if holder != "" && holder != sendJob.TransactionID {
			slog.Info("deferring to in-flight deployment",
				"tx_id", sendJob.TransactionID, "account", account, "deploying_tx", holder)
			return domain.ErrDeployInProgress
		}
	}

	nonce, epoch, err := w.allocateNonce(ctx, account, sendJob.ChainID)
	if err != nil {
		return err
	}

	op, err := w.builder.Build(sendJob.Options, sendJob.Calls, nonce, deployed)
	if err != nil {
		// Build failures never reach the network, so the nonce goes back.
		w.recycle(ctx, account, sendJob.ChainID, nonce, epoch)
		return domain.Fatal(domain.NewError(domain.ErrorKindValidation, domain.CodeMalformedAttempt,
			"build user operation", err))
	}

	opHash, err := w.builder.Hash(op, sendJob.Options.Entrypoint, sendJob.ChainID)
	if err != nil {
		w.recycle(ctx, account, sendJob.ChainID, nonce, epoch)
		return domain.Fatal(domain.NewError(domain.ErrorKindValidation, domain.CodeMalformedAttempt,
			"hash user operation", err))
	}
	signature, err := w.signer.SignMessage(ctx, sendJob.Options.Signer, opHash)
	if err != nil {
		w.recycle(ctx, account, sendJob.ChainID, nonce, epoch)
		return domain.NewError(domain.ErrorKindRPC, domain.CodeSendFailed, "sign user operation", err)
	}
	op.Signature = hexutil.Encode(signature)

	userOpHash, submitErr := w.bundler.SendUserOperation(ctx, sendJob.ChainID, op, sendJob.Options.Entrypoint)

	attempt := buildAttempt(sendJob, op, nonce, userOpHash, submitErr)
	if number, err := w.attempts.RecordTransactionAttempt(ctx, attempt); err != nil {
		slog.Error("record attempt", "tx_id", sendJob.TransactionID, "err", err)
	} else {
		slog.Debug("attempt recorded", "tx_id", sendJob.TransactionID, "attempt", number, "nonce", nonce)
	}

	if submitErr != nil {
		// The operation never reached the mempool; the nonce is reusable.
		w.recycle(ctx, account, sendJob.ChainID, nonce, epoch)
		return domain.NewError(domain.ErrorKindRPC, domain.CodeSendFailed, "submit user operation", submitErr)
	}

	if err := w.nonces.RecordInflightNonce(ctx, account, sendJob.ChainID, nonce, sendJob.TransactionID); err != nil {
		slog.Error("record inflight nonce",
			"tx_id", sendJob.TransactionID, "nonce", nonce, "err", err)
	}

	confirmJob := domain.ConfirmJob{
		TransactionID:       sendJob.TransactionID,
		ChainID:             sendJob.ChainID,
		UserOpHash:          userOpHash,
		SmartAccountAddress: account,
	}
	payload, err := json.Marshal(confirmJob)
	if err == nil {
		_, err = w.confirmQueue.Enqueue(ctx, sendJob.TransactionID, payload)
	}
	if err != nil {
		// The operation is already broadcast; re-running this job would
		// double-submit. Surface loudly and stop.
		slog.Error("BROADCAST WITHOUT CONFIRM JOB: operation submitted but confirm enqueue failed",
			"tx_id", sendJob.TransactionID, "user_op_hash", userOpHash, "err", err)
		return domain.Fatal(domain.NewError(domain.ErrorKindQueue, domain.CodeEnqueueConfirmFailed,
			"enqueue confirm job after broadcast", err))
	}

	if !deployed && sendJob.Options.Type == domain.RequestTypeSmartAccount {
		if _, err := w.guard.Acquire(ctx, sendJob.ChainID, account, sendJob.TransactionID); err != nil {
			slog.Warn("deploy guard acquire", "tx_id", sendJob.TransactionID, "err", err)
		}
	}

	w.bus.EmitSubmitted(ctx, domain.SubmittedTransaction{
		TransactionID: sendJob.TransactionID,
		ChainID:       sendJob.ChainID,
		UserOpHash:    userOpHash,
		Signer:        sendJob.Options.Signer,
		Nonce:         nonce,
	})

	slog.Info("user operation submitted",
		"tx_id", sendJob.TransactionID,
		"chain_id", sendJob.ChainID,
		"account", account,
		"nonce", nonce,
		"user_op_hash", userOpHash,
	)
	return nil
}

// allocateNonce prefers the recycled pool over fresh allocation to bound
// nonce growth after failed sends. An oversized pool is a backpressure
// signal: stop recycling reuse and fall through to fresh allocation.
func (w *SendWorker) allocateNonce(ctx context.Context, account string, chainID uint64) (uint64, string, error) {
	pop, err := w.nonces.PopRecycledNonce(ctx, account, chainID, MaxRecycledPoolSize)
	if err != nil {
		return 0, "", nonceStoreError(err)
	}
	switch pop.Status {
	case domain.PopSuccess:
		return pop.Recycled.Nonce, pop.Recycled.Epoch, nil
	case domain.PopOversized:
		slog.Error("recycled nonce pool oversized",
			"account", account, "chain_id", chainID, "pool_size", pop.PoolSize)
	}

	state, err := w.nonces.GetNonceState(ctx, account, chainID)
	if err != nil {
		return 0, "", nonceStoreError(err)
	}
	nonce, err := w.nonces.IncrementEngineNonce(ctx, account, chainID)
	if err != nil {
		return 0, "", nonceStoreError(err)
	}
	return nonce, state.Epoch, nil
}

func (w *SendWorker) recycle(ctx context.Context, account string, chainID uint64, nonce uint64, epoch string) {
	accepted, err := w.nonces.RecycleNonce(ctx, account, chainID, nonce, epoch)
	if err != nil {
		slog.Error("recycle nonce", "account", account, "nonce", nonce, "err", err)
		return
	}
	if !accepted {
		// Stale epoch: the state was reset after this operation started,
		// and the nonce must not resurrect.
		slog.Warn("recycle rejected for stale epoch", "account", account, "nonce", nonce, "epoch", epoch)
	}
}

func buildAttempt(job domain.SendJob, op *domain.UserOperation, nonce uint64, userOpHash string, submitErr error) domain.TransactionAttempt {
	attempt := domain.TransactionAttempt{
		TransactionID:        job.TransactionID,
		Signer:               job.Options.Signer,
		ChainID:              job.ChainID,
		Data:                 op.CallData,
		Nonce:                nonce,
		GasLimit:             defaultCallGasLimit.Uint64(),
		MaxFeePerGas:         defaultMaxFeePerGas,
		MaxPriorityFeePerGas: defaultMaxPriorityFee,
		Hash:                 userOpHash,
	}
	if len(job.Calls) == 1 {
		attempt.To = job.Calls[0].To
		attempt.Value = job.Calls[0].Value
	}
	if submitErr != nil {
		attempt.Error = &domain.AttemptError{
			Code:    ClassifyRPCError(submitErr),
			Message: submitErr.Error(),
		}
	}
	return attempt
}

// ClassifyRPCError places a raw submission error into the fixed attempt
// error taxonomy.
func ClassifyRPCError(err error) domain.AttemptErrorCode {
	if err == nil {
		return domain.AttemptErrorOther
	}
	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "intrinsic gas too low"),
		strings.Contains(message, "gas too low"),
		strings.Contains(message, "out of gas"):
		return domain.AttemptErrorGasTooLow
	case strings.Contains(message, "insufficient funds"),
		strings.Contains(message, "insufficient balance"):
		return domain.AttemptErrorInsufficientFunds
	case strings.Contains(message, "nonce too low"):
		return domain.AttemptErrorNonceTooLow
	case strings.Contains(message, "nonce too high"):
		return domain.AttemptErrorNonceTooHigh
	case strings.Contains(message, "replacement transaction underpriced"),
		strings.Contains(message, "underpriced"):
		return domain.AttemptErrorReplacementUnderpriced
	case strings.Contains(message, "already known"),
		strings.Contains(message, "alreadyknown"):
		return domain.AttemptErrorAlreadyKnown
	case strings.Contains(message, "rpc"):
		return domain.AttemptErrorUnknownRPC
	default:
		return domain.AttemptErrorOther
	}
}

func nonceStoreError(err error) error {
	if domain.IsKind(err, domain.ErrorKindNonceStore) {
		return err
	}
	return domain.NewError(domain.ErrorKindNonceStore, domain.CodeUnknownStoreError, "nonce store", err)
}
