package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

// AttemptLog stores the append-only attempt history per transaction: a
// counter key plus one record key per attempt number. Records are validated
// on every read back; a payload failing validation is corruption.
type AttemptLog struct {
	client *redis.Client
}

func NewAttemptLog(client *redis.Client) *AttemptLog {
	return &AttemptLog{client: client}
}

func attemptCountKey(transactionID string) string {
	return fmt.Sprintf("%s:attempt:%s:count", keyPrefix, transactionID)
}

func attemptRecordKey(transactionID string, number int64) string {
	return fmt.Sprintf("%s:attempt:%s:%d", keyPrefix, transactionID, number)
}

var recordAttemptScript = redis.NewScript(`
local number = redis.call('INCR', KEYS[1])
redis.call('SET', KEYS[2] .. ':' .. number, ARGV[1])
return number
`)

// currentAttemptScript reads the counter and the matching record in one
// step, so a concurrent writer cannot advance the counter between the two
// reads.
var currentAttemptScript = redis.NewScript(`
local number = redis.call('GET', KEYS[1])
if not number then
	return {0, false}
end
local record = redis.call('GET', KEYS[2] .. ':' .. number)
return {tonumber(number), record}
`)

func (l *AttemptLog) RecordTransactionAttempt(ctx context.Context, attempt domain.TransactionAttempt) (int64, error) {
	if err := attempt.Validate(); err != nil {
		return 0, err
	}
	payload, err := json.Marshal(attempt)
	if err != nil {
		return 0, l.storeError("encode attempt", err)
	}
	keys := []string{
		attemptCountKey(attempt.TransactionID),
		attemptRecordPrefix(attempt.TransactionID),
	}
	number, err := recordAttemptScript.Run(ctx, l.client, keys, payload).Int64()
	if err != nil {
		return 0, l.storeError("record attempt", err)
	}
	return number, nil
}

func attemptRecordPrefix(transactionID string) string {
	return fmt.Sprintf("%s:attempt:%s", keyPrefix, transactionID)
}

func (l *AttemptLog) GetCurrentAttemptNumber(ctx context.Context, transactionID string) (int64, error) {
	raw, err := l.client.Get(ctx, attemptCountKey(transactionID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, l.storeError("get attempt counter", err)
	}
	number, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, domain.NewError(domain.ErrorKindNonceStore, domain.CodeCorruptValue,
			"attempt counter is not an integer: "+raw, nil)
	}
	return number, nil
}

func (l *AttemptLog) GetTransactionAttempt(ctx context.Context, transactionID string, number int64) (domain.TransactionAttempt, bool, error) {
	raw, err := l.client.Get(ctx, attemptRecordKey(transactionID, number)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.TransactionAttempt{}, false, nil
	}
	if err != nil {
		return domain.TransactionAttempt{}, false, l.storeError("get attempt", err)
	}
	attempt, err := decodeAttempt([]byte(raw))
	if err != nil {
		return domain.TransactionAttempt{}, false, err
	}
	return attempt, true, nil
}

func (l *AttemptLog) GetCurrentTransactionAttempt(ctx context.Context, transactionID string) (domain.TransactionAttempt, int64, bool, error) {
	keys := []string{
		attemptCountKey(transactionID),
		attemptRecordPrefix(transactionID),
	}
	raw, err := currentAttemptScript.Run(ctx, l.client, keys).Result()
	if err != nil {
		return domain.TransactionAttempt{}, 0, false, l.storeError("get current attempt", err)
	}
	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return domain.TransactionAttempt{}, 0, false, domain.NewError(
			domain.ErrorKindNonceStore, domain.CodeCorruptValue,
			"current attempt script returned malformed reply", nil)
	}
	number, _ := reply[0].(int64)
	if number == 0 {
		return domain.TransactionAttempt{}, 0, false, nil
	}
	payload, ok := reply[1].(string)
	if !ok {
		return domain.TransactionAttempt{}, 0, false, domain.NewError(
			domain.ErrorKindNonceStore, domain.CodeCorruptValue,
			fmt.Sprintf("attempt counter at %d but record missing", number), nil)
	}
	attempt, err := decodeAttempt([]byte(payload))
	if err != nil {
		return domain.TransactionAttempt{}, 0, false, err
	}
	return attempt, number, true, nil
}

func (l *AttemptLog) GetAllTransactionAttempts(ctx context.Context, transactionID string) ([]domain.TransactionAttempt, error) {
	current, err := l.GetCurrentAttemptNumber(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	attempts := make([]domain.TransactionAttempt, 0, current)
	for number := int64(1); number <= current; number++ {
		attempt, found, err := l.GetTransactionAttempt(ctx, transactionID, number)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, domain.NewError(domain.ErrorKindNonceStore, domain.CodeCorruptValue,
				fmt.Sprintf("attempt %d missing below counter %d", number, current), nil)
		}
		attempts = append(attempts, attempt)
	}
	return attempts, nil
}

func decodeAttempt(payload []byte) (domain.TransactionAttempt, error) {
	var attempt domain.TransactionAttempt
	if err := json.Unmarshal(payload, &attempt); err != nil {
		return domain.TransactionAttempt{}, domain.NewError(
			domain.ErrorKindNonceStore, domain.CodeCorruptValue, "decode attempt payload", err)
	}
	if err := attempt.Validate(); err != nil {
		return domain.TransactionAttempt{}, domain.NewError(
			domain.ErrorKindNonceStore, domain.CodeCorruptValue, "stored attempt fails validation", err)
	}
	return attempt, nil
}

func (l *AttemptLog) storeError(op string, err error) error {
	return domain.NewError(domain.ErrorKindNonceStore, domain.CodeUnknownStoreError, op, err)
}
