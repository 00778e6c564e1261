package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

// NonceStore is the distributed nonce counter. State per (address, chain):
// engine counter, confirmed counter, recycled pool (sorted set scored by
// nonce), in-flight map (hash nonce -> transaction id), and the epoch token
// that guards recycled-nonce reuse across resets.
type NonceStore struct {
	client *redis.Client
}

func NewNonceStore(client *redis.Client) *NonceStore {
	return &NonceStore{client: client}
}

func nonceKey(chainID uint64, address, field string) string {
	return fmt.Sprintf("%s:nonce:%d:%s:%s", keyPrefix, chainID, strings.ToLower(address), field)
}

var popRecycledScript = redis.NewScript(`
local count = redis.call('ZCARD', KEYS[1])
if count == 0 then
	return {'empty'}
end
if count >= tonumber(ARGV[1]) then
	return {'oversized', count}
end
local popped = redis.call('ZPOPMIN', KEYS[1])
local epoch = redis.call('GET', KEYS[2])
if not epoch then
	epoch = ARGV[2]
	redis.call('SET', KEYS[2], epoch)
end
return {'success', popped[1], epoch}
`)

var recycleScript = redis.NewScript(`
local epoch = redis.call('GET', KEYS[1])
if not epoch then
	epoch = ARGV[3]
	redis.call('SET', KEYS[1], epoch)
end
if epoch ~= ARGV[2] then
	return 0
end
local nonce = tonumber(ARGV[1])
if nonce == nil then
	return redis.error_reply('ERR nonce is not an integer')
end
redis.call('ZADD', KEYS[2], nonce, ARGV[1])
return 1
`)

var checkMissingScript = redis.NewScript(`
local confirmed = 0
local confirmedRaw = redis.call('GET', KEYS[1])
if confirmedRaw then
	confirmed = tonumber(confirmedRaw)
	if confirmed == nil then
		return redis.error_reply('ERR confirmed nonce is not an integer')
	end
end
local engine = 0
local engineRaw = redis.call('GET', KEYS[2])
if engineRaw then
	engine = tonumber(engineRaw)
	if engine == nil then
		return redis.error_reply('ERR engine nonce is not an integer')
	end
end
local maxMissing = tonumber(ARGV[1])
local missing = {}
local n = confirmed + 1
while n <= engine do
	local candidate = tostring(n)
	if redis.call('HEXISTS', KEYS[3], candidate) == 0 and redis.call('ZSCORE', KEYS[4], candidate) == false then
		missing[#missing + 1] = candidate
		if #missing > maxMissing then
			return {'toomany', #missing}
		end
	end
	n = n + 1
end
return {'ok', missing}
`)

var setConfirmedMaxScript = redis.NewScript(`
local value = tonumber(ARGV[1])
local confirmed = 0
local confirmedRaw = redis.call('GET', KEYS[1])
if confirmedRaw then
	confirmed = tonumber(confirmedRaw)
	if confirmed == nil then
		return redis.error_reply('ERR confirmed nonce is not an integer')
	end
end
if value > confirmed then
	confirmed = value
	redis.call('SET', KEYS[1], confirmed)
end
local engine = 0
local engineRaw = redis.call('GET', KEYS[2])
if engineRaw then
	engine = tonumber(engineRaw)
	if engine == nil then
		return redis.error_reply('ERR engine nonce is not an integer')
	end
end
if engine < confirmed then
	engine = confirmed
	redis.call('SET', KEYS[2], engine)
end
redis.call('ZREMRANGEBYSCORE', KEYS[3], '-inf', '(' .. confirmed)
local inflight = redis.call('HKEYS', KEYS[4])
for _, field in ipairs(inflight) do
	local nonce = tonumber(field)
	if nonce ~= nil and nonce < confirmed then
		redis.call('HDEL', KEYS[4], field)
	end
end
return {confirmed, engine}
`)

var setEngineMaxScript = redis.NewScript(`
local value = tonumber(ARGV[1])
local engine = 0
local engineRaw = redis.call('GET', KEYS[1])
if engineRaw then
	engine = tonumber(engineRaw)
	if engine == nil then
		return redis.error_reply('ERR engine nonce is not an integer')
	end
end
if value > engine then
	engine = value
	redis.call('SET', KEYS[1], engine)
end
return engine
`)

var resetScript = redis.NewScript(`
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[3])
redis.call('DEL', KEYS[4])
redis.call('SET', KEYS[5], ARGV[2])
return 1
`)

var getStateScript = redis.NewScript(`
local engine = redis.call('GET', KEYS[1]) or '0'
local confirmed = redis.call('GET', KEYS[2]) or '0'
local recycled = redis.call('ZCARD', KEYS[3])
local inflight = redis.call('HLEN', KEYS[4])
local epoch = redis.call('GET', KEYS[5])
if not epoch then
	epoch = ARGV[1]
	redis.call('SET', KEYS[5], epoch)
end
return {engine, confirmed, recycled, inflight, epoch}
`)

func (s *NonceStore) IncrementEngineNonce(ctx context.Context, address string, chainID uint64) (uint64, error) {
	value, err := s.client.Incr(ctx, nonceKey(chainID, address, "engine")).Result()
	if err != nil {
		return 0, s.storeError("increment engine nonce", err)
	}
	return uint64(value), nil
}

func (s *NonceStore) PopRecycledNonce(ctx context.Context, address string, chainID uint64, maxPoolSize int64) (domain.PopResult, error) {
	keys := []string{
		nonceKey(chainID, address, "recycled"),
		nonceKey(chainID, address, "epoch"),
	}
	raw, err := popRecycledScript.Run(ctx, s.client, keys, maxPoolSize, uuid.NewString()).Result()
	if err != nil {
		return domain.PopResult{}, s.storeError("pop recycled nonce", err)
	}
	reply, ok := raw.([]interface{})
	if len(reply) == 0 || !ok {
		return domain.PopResult{}, s.corrupt("pop recycled nonce returned malformed reply")
	}
	switch reply[0] {
	case "empty":
		return domain.PopResult{Status: domain.PopEmpty}, nil
	case "oversized":
		count, _ := reply[1].(int64)
		return domain.PopResult{Status: domain.PopOversized, PoolSize: count}, nil
	case "success":
		nonceRaw, _ := reply[1].(string)
		epoch, _ := reply[2].(string)
		nonce, err := strconv.ParseUint(nonceRaw, 10, 64)
		if err != nil {
			return domain.PopResult{}, s.corrupt("recycled pool holds non-numeric nonce: " + nonceRaw)
		}
		return domain.PopResult{
			Status:   domain.PopSuccess,
			Recycled: domain.RecycledNonce{Nonce: nonce, Epoch: epoch},
		}, nil
	default:
		return domain.PopResult{}, s.corrupt("pop recycled nonce returned unknown status")
	}
}

func (s *NonceStore) RecycleNonce(ctx context.Context, address string, chainID uint64, nonce uint64, epoch string) (bool, error) {
	keys := []string{
		nonceKey(chainID, address, "epoch"),
		nonceKey(chainID, address, "recycled"),
	}
	accepted, err := recycleScript.Run(ctx, s.client, keys,
		strconv.FormatUint(nonce, 10), epoch, uuid.NewString()).Int64()
	if err != nil {
		return false, s.storeError("recycle nonce", err)
	}
	return accepted == 1, nil
}

func (s *NonceStore) RecordInflightNonce(ctx context.Context, address string, chainID uint64, nonce uint64, transactionID string) error {
	err := s.client.HSet(ctx, nonceKey(chainID, address, "inflight"),
		strconv.FormatUint(nonce, 10), transactionID).Err()
	if err != nil {
		return s.storeError("record inflight nonce", err)
	}
	return nil
}

func (s *NonceStore) RemoveInflightNonce(ctx context.Context, address string, chainID uint64, nonce uint64) error {
	err := s.client.HDel(ctx, nonceKey(chainID, address, "inflight"),
		strconv.FormatUint(nonce, 10)).Err()
	if err != nil {
		return s.storeError("remove inflight nonce", err)
	}
	return nil
}

func (s *NonceStore) GetInflightNonces(ctx context.Context, address string, chainID uint64) (map[uint64]string, error) {
	entries, err := s.client.HGetAll(ctx, nonceKey(chainID, address, "inflight")).Result()
	if err != nil {
		return nil, s.storeError("get inflight nonces", err)
	}
	inflight := make(map[uint64]string, len(entries))
	for field, transactionID := range entries {
		nonce, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return nil, s.corrupt("inflight map holds non-numeric nonce: " + field)
		}
		inflight[nonce] = transactionID
	}
	return inflight, nil
}

func (s *NonceStore) CheckMissingNonces(ctx context.Context, address string, chainID uint64, maxMissing int64) (domain.MissingNoncesResult, error) {
	keys := []string{
		nonceKey(chainID, address, "confirmed"),
		nonceKey(chainID, address, "engine"),
		nonceKey(chainID, address, "inflight"),
		nonceKey(chainID, address, "recycled"),
	}
	raw, err := checkMissingScript.Run(ctx, s.client, keys, maxMissing).Result()
	if err != nil {
		return domain.MissingNoncesResult{}, s.storeError("check missing nonces", err)
	}
	reply, ok := raw.([]interface{})
	if !ok || len(reply) < 2 {
		return domain.MissingNoncesResult{}, s.corrupt("check missing nonces returned malformed reply")
	}
	if reply[0] == "toomany" {
		count, _ := reply[1].(int64)
		return domain.MissingNoncesResult{}, domain.NewError(
			domain.ErrorKindNonceStore, domain.CodeTooManyMissing,
			fmt.Sprintf("more than %d missing nonces for %s on chain %d (found %d)", maxMissing, address, chainID, count),
			nil)
	}
	entries, _ := reply[1].([]interface{})
	missing := make([]uint64, 0, len(entries))
	for _, entry := range entries {
		text, _ := entry.(string)
		nonce, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return domain.MissingNoncesResult{}, s.corrupt("missing nonce list holds non-numeric value")
		}
		missing = append(missing, nonce)
	}
	return domain.MissingNoncesResult{Missing: missing, Count: int64(len(missing))}, nil
}

func (s *NonceStore) SetConfirmedNonceMax(ctx context.Context, address string, chainID uint64, value uint64) (domain.ConfirmedNonceUpdate, error) {
	keys := []string{
		nonceKey(chainID, address, "confirmed"),
		nonceKey(chainID, address, "engine"),
		nonceKey(chainID, address, "recycled"),
		nonceKey(chainID, address, "inflight"),
	}
	raw, err := setConfirmedMaxScript.Run(ctx, s.client, keys, value).Result()
	if err != nil {
		return domain.ConfirmedNonceUpdate{}, s.storeError("set confirmed nonce max", err)
	}
	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return domain.ConfirmedNonceUpdate{}, s.corrupt("set confirmed nonce max returned malformed reply")
	}
	confirmed, _ := reply[0].(int64)
	engine, _ := reply[1].(int64)
	return domain.ConfirmedNonceUpdate{
		ConfirmedNonce: uint64(confirmed),
		EngineNonce:    uint64(engine),
	}, nil
}

func (s *NonceStore) SetEngineNonceMax(ctx context.Context, address string, chainID uint64, value uint64) (uint64, error) {
	engine, err := setEngineMaxScript.Run(ctx, s.client,
		[]string{nonceKey(chainID, address, "engine")}, value).Int64()
	if err != nil {
		return 0, s.storeError("set engine nonce max", err)
	}
	return uint64(engine), nil
}

func (s *NonceStore) ResetNonceState(ctx context.Context, address string, chainID uint64, newNonce uint64) error {
	keys := []string{
		nonceKey(chainID, address, "engine"),
		nonceKey(chainID, address, "confirmed"),
		nonceKey(chainID, address, "recycled"),
		nonceKey(chainID, address, "inflight"),
		nonceKey(chainID, address, "epoch"),
	}
	if err := resetScript.Run(ctx, s.client, keys, newNonce, uuid.NewString()).Err(); err != nil {
		return s.storeError("reset nonce state", err)
	}
	return nil
}

func (s *NonceStore) GetNonceState(ctx context.Context, address string, chainID uint64) (domain.NonceState, error) {
	keys := []string{
		nonceKey(chainID, address, "engine"),
		nonceKey(chainID, address, "confirmed"),
		nonceKey(chainID, address, "recycled"),
		nonceKey(chainID, address, "inflight"),
		nonceKey(chainID, address, "epoch"),
	}
	raw, err := getStateScript.Run(ctx, s.client, keys, uuid.NewString()).Result()
	if err != nil {
		return domain.NonceState{}, s.storeError("get nonce state", err)
	}
	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 5 {
		return domain.NonceState{}, s.corrupt("get nonce state returned malformed reply")
	}
	engineRaw, _ := reply[0].(string)
	confirmedRaw, _ := reply[1].(string)
	engine, err := strconv.ParseUint(engineRaw, 10, 64)
	if err != nil {
		return domain.NonceState{}, s.corrupt("engine nonce is not an integer: " + engineRaw)
	}
	confirmed, err := strconv.ParseUint(confirmedRaw, 10, 64)
	if err != nil {
		return domain.NonceState{}, s.corrupt("confirmed nonce is not an integer: " + confirmedRaw)
	}
	recycled, _ := reply[2].(int64)
	inflight, _ := reply[3].(int64)
	epoch, _ := reply[4].(string)
	return domain.NonceState{
		Address:        strings.ToLower(address),
		ChainID:        chainID,
		EngineNonce:    engine,
		ConfirmedNonce: confirmed,
		RecycledCount:  recycled,
		InFlightCount:  inflight,
		Epoch:          epoch,
	}, nil
}

func (s *NonceStore) storeError(op string, err error) error {
	if isNotIntegerError(err) {
		return domain.NewError(domain.ErrorKindNonceStore, domain.CodeCorruptValue, op, err)
	}
	return domain.NewError(domain.ErrorKindNonceStore, domain.CodeUnknownStoreError, op, err)
}

func (s *NonceStore) corrupt(message string) error {
	return domain.NewError(domain.ErrorKindNonceStore, domain.CodeCorruptValue, message, nil)
}
