package application

import (
	"context"
	"time"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

// NonceStore is the distributed counter handing out gap-free nonces per
// (address, chain). Every operation executes as one indivisible step against
// the shared store; callers must never compose two operations and assume the
// pair is atomic.
type NonceStore interface {
	IncrementEngineNonce(ctx context.Context, address string, chainID uint64) (uint64, error)
	PopRecycledNonce(ctx context.Context, address string, chainID uint64, maxPoolSize int64) (domain.PopResult, error)
	RecycleNonce(ctx context.Context, address string, chainID uint64, nonce uint64, epoch string) (bool, error)
	RecordInflightNonce(ctx context.Context, address string, chainID uint64, nonce uint64, transactionID string) error
	RemoveInflightNonce(ctx context.Context, address string, chainID uint64, nonce uint64) error
	GetInflightNonces(ctx context.Context, address string, chainID uint64) (map[uint64]string, error)
	CheckMissingNonces(ctx context.Context, address string, chainID uint64, maxMissing int64) (domain.MissingNoncesResult, error)
	SetConfirmedNonceMax(ctx context.Context, address string, chainID uint64, value uint64) (domain.ConfirmedNonceUpdate, error)
	SetEngineNonceMax(ctx context.Context, address string, chainID uint64, value uint64) (uint64, error)
	ResetNonceState(ctx context.Context, address string, chainID uint64, newNonce uint64) error
	GetNonceState(ctx context.Context, address string, chainID uint64) (domain.NonceState, error)
}

// AttemptLog is the append-only history of send attempts per transaction.
type AttemptLog interface {
	RecordTransactionAttempt(ctx context.Context, attempt domain.TransactionAttempt) (int64, error)
	GetCurrentAttemptNumber(ctx context.Context, transactionID string) (int64, error)
	GetTransactionAttempt(ctx context.Context, transactionID string, number int64) (domain.TransactionAttempt, bool, error)
	GetCurrentTransactionAttempt(ctx context.Context, transactionID string) (domain.TransactionAttempt, int64, bool, error)
	GetAllTransactionAttempts(ctx context.Context, transactionID string) ([]domain.TransactionAttempt, error)
}

// DeployGuard is the short-lived distributed flag serializing first-time
// smart-account deployments per (chain, account).
type DeployGuard interface {
	// Acquire claims the deployment for transactionID. Returns false when
	// another transaction already holds the claim.
	Acquire(ctx context.Context, chainID uint64, account, transactionID string) (bool, error)
	// Holder returns the claiming transaction id, or "" when unclaimed.
	Holder(ctx context.Context, chainID uint64, account string) (string, error)
	Release(ctx context.Context, chainID uint64, account string) error
}

// Job is one delivery of a queued payload. Attempt starts at 1 and only
// counts real retries; delayed re-deliveries keep their attempt number.
type Job struct {
	ID      string
	Payload []byte
	Attempt int
}

// Queue is a durable job queue with deduplication by job id, per-job attempt
// counting, and an explicit delayed re-delivery primitive distinct from
// failure retry.
type Queue interface {
	// Enqueue adds a job unless a job with the same id is already queued or
	// in flight. Returns true when the job was newly enqueued.
	Enqueue(ctx context.Context, id string, payload []byte) (bool, error)
	// Dequeue pops the next ready job, or returns nil when the queue is
	// empty.
	Dequeue(ctx context.Context) (*Job, error)
	// Retry re-delivers a failed job after the given delay and increments
	// its attempt counter.
	Retry(ctx context.Context, job *Job, after time.Duration) error
	// Delay re-delivers a deferred job after the given delay without
	// consuming an attempt. Used when the job is waiting on an external
	// condition rather than recovering from a failure.
	Delay(ctx context.Context, job *Job, after time.Duration) error
	Complete(ctx context.Context, job *Job) error
	Fail(ctx context.Context, job *Job, reason string) error
	// PromoteDelayed moves due delayed jobs onto the ready list.
	PromoteDelayed(ctx context.Context, now time.Time) (int64, error)
	Depth(ctx context.Context) (ready int64, delayed int64, err error)
}

// BundlerClient is the engine's view of the chain: deployment checks,
// user-operation submission, and receipt polling.
type BundlerClient interface {
	IsDeployed(ctx context.Context, chainID uint64, address string) (bool, error)
	SendUserOperation(ctx context.Context, chainID uint64, op *domain.UserOperation, entrypoint string) (string, error)
	// GetUserOperationReceipt returns ok=false while the operation has no
	// receipt yet; that is not an error.
	GetUserOperationReceipt(ctx context.Context, chainID uint64, userOpHash string) (domain.UserOpReceipt, bool, error)
}

// Signer is the narrow signing capability exposed by the key-custody
// backends. The engine is agnostic to which backend provides it.
type Signer interface {
	SignTransaction(ctx context.Context, signer string, tx []byte) ([]byte, error)
	SignMessage(ctx context.Context, signer string, message []byte) ([]byte, error)
	SignTypedData(ctx context.Context, signer string, typedData []byte) ([]byte, error)
	SendRawTransaction(ctx context.Context, chainID uint64, rawTx []byte) (string, error)
}

// AccountDirectory is the persistent signer/smart-account registry,
// consulted only on resolver cache miss.
type AccountDirectory interface {
	GetAccount(ctx context.Context, address string) (domain.AccountRecord, bool, error)
	GetSmartAccount(ctx context.Context, signer, address string) (domain.AccountRecord, bool, error)
}

// ChainResolver maps a chain id to its endpoints and capabilities.
type ChainResolver interface {
	Chain(chainID uint64) (domain.ChainInfo, error)
}
