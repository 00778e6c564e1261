package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thirdweb-dev/engine-sub003/internal/application"
	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

// Queue is a durable job queue on the shared store: a ready list, a delayed
// sorted set scored by delivery time, and per-job payload/attempt hashes.
// Job ids deduplicate naturally because enqueue refuses ids it has seen and
// not yet completed.
type Queue struct {
	client *redis.Client
	name   string
}

func NewQueue(client *redis.Client, name string) *Queue {
	return &Queue{client: client, name: name}
}

func (q *Queue) key(part string) string {
	return fmt.Sprintf("%s:queue:%s:%s", keyPrefix, q.name, part)
}

func (q *Queue) keys() []string {
	return []string{
		q.key("ids"),
		q.key("ready"),
		q.key("delayed"),
		q.key("payloads"),
		q.key("attempts"),
		q.key("failed"),
	}
}

var enqueueScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then
	return 0
end
redis.call('SADD', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[4], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[5], ARGV[1], 1)
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

var dequeueScript = redis.NewScript(`
local id = redis.call('RPOP', KEYS[2])
if not id then
	return false
end
local payload = redis.call('HGET', KEYS[4], id)
local attempts = redis.call('HGET', KEYS[5], id)
if not attempts then
	attempts = '1'
end
return {id, payload, attempts}
`)

var retryScript = redis.NewScript(`
local attempts = redis.call('HINCRBY', KEYS[5], ARGV[1], 1)
redis.call('ZADD', KEYS[3], tonumber(ARGV[2]), ARGV[1])
return attempts
`)

var delayScript = redis.NewScript(`
redis.call('ZADD', KEYS[3], tonumber(ARGV[2]), ARGV[1])
return 1
`)

var completeScript = redis.NewScript(`
redis.call('SREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
redis.call('HDEL', KEYS[5], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
return 1
`)

var failScript = redis.NewScript(`
redis.call('SREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
redis.call('HDEL', KEYS[5], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('HSET', KEYS[6], ARGV[1], ARGV[2])
return 1
`)

var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[3], id)
	redis.call('LPUSH', KEYS[2], id)
end
return #due
`)

func (q *Queue) Enqueue(ctx context.Context, id string, payload []byte) (bool, error) {
	added, err := enqueueScript.Run(ctx, q.client, q.keys(), id, payload).Int64()
	if err != nil {
		return false, q.queueError("enqueue", err)
	}
	return added == 1, nil
}

func (q *Queue) Dequeue(ctx context.Context) (*application.Job, error) {
	raw, err := dequeueScript.Run(ctx, q.client, q.keys()).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, q.queueError("dequeue", err)
	}
	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 3 {
		return nil, q.queueError("dequeue", fmt.Errorf("malformed reply"))
	}
	id, _ := reply[0].(string)
	payload, _ := reply[1].(string)
	attemptsRaw, _ := reply[2].(string)
	attempt := 1
	if _, err := fmt.Sscanf(attemptsRaw, "%d", &attempt); err != nil {
		attempt = 1
	}
	return &application.Job{ID: id, Payload: []byte(payload), Attempt: attempt}, nil
}

func (q *Queue) Retry(ctx context.Context, job *application.Job, after time.Duration) error {
	deliverAt := time.Now().Add(after).UnixMilli()
	if err := retryScript.Run(ctx, q.client, q.keys(), job.ID, deliverAt).Err(); err != nil {
		return q.queueError("retry", err)
	}
	return nil
}

func (q *Queue) Delay(ctx context.Context, job *application.Job, after time.Duration) error {
	deliverAt := time.Now().Add(after).UnixMilli()
	if err := delayScript.Run(ctx, q.client, q.keys(), job.ID, deliverAt).Err(); err != nil {
		return q.queueError("delay", err)
	}
	return nil
}

func (q *Queue) Complete(ctx context.Context, job *application.Job) error {
	if err := completeScript.Run(ctx, q.client, q.keys(), job.ID).Err(); err != nil {
		return q.queueError("complete", err)
	}
	return nil
}

func (q *Queue) Fail(ctx context.Context, job *application.Job, reason string) error {
	if err := failScript.Run(ctx, q.client, q.keys(), job.ID, reason).Err(); err != nil {
		return q.queueError("fail", err)
	}
	return nil
}

func (q *Queue) PromoteDelayed(ctx context.Context, now time.Time) (int64, error) {
	promoted, err := promoteScript.Run(ctx, q.client, q.keys(), now.UnixMilli()).Int64()
	if err != nil {
		return 0, q.queueError("promote delayed", err)
	}
	return promoted, nil
}

func (q *Queue) Depth(ctx context.Context) (int64, int64, error) {
	ready, err := q.client.LLen(ctx, q.key("ready")).Result()
	if err != nil {
		return 0, 0, q.queueError("ready depth", err)
	}
	delayed, err := q.client.ZCard(ctx, q.key("delayed")).Result()
	if err != nil {
		return 0, 0, q.queueError("delayed depth", err)
	}
	return ready, delayed, nil
}

func (q *Queue) queueError(op string, err error) error {
	return domain.NewError(domain.ErrorKindQueue, domain.CodeUnknownStoreError,
		q.name+" queue "+op, err)
}
