package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/DioGolang/BookingSaga/internal/domain/message"
	"github.com/redis/go-redis/v9"
)

const defaultKey = "saga:timeouts"

// claimScript pushes every due member's score forward by the lease and
// returns the payloads. Members without a payload are orphans and get dropped.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, token in ipairs(due) do
  local payload = redis.call('HGET', KEYS[2], token)
  if payload then
    redis.call('ZADD', KEYS[1], ARGV[3], token)
    table.insert(out, payload)
  else
    redis.call('ZREM', KEYS[1], token)
  end
end
return out
`)

// RedisBackend keeps deadlines in a sorted set scored by unix millis and the
// timeout payloads in a hash keyed by token.
type RedisBackend struct {
	client     redis.UniversalClient
	zsetKey    string
	payloadKey string
}

func NewRedisBackend(client redis.UniversalClient, key string) *RedisBackend {
	if key == "" {
		key = defaultKey
	}
	return &RedisBackend{client: client, zsetKey: key, payloadKey: key + ":payload"}
}

func (r *RedisBackend) Add(ctx context.Context, t message.Timeout) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.payloadKey, t.Token, payload)
		pipe.ZAdd(ctx, r.zsetKey, redis.Z{Score: float64(t.Deadline.UnixMilli()), Member: t.Token})
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule timeout %s: %w", t.Token, err)
	}
	return nil
}

func (r *RedisBackend) Remove(ctx context.Context, token string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.zsetKey, token)
		pipe.HDel(ctx, r.payloadKey, token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove timeout %s: %w", token, err)
	}
	return nil
}

func (r *RedisBackend) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]message.Timeout, error) {
	res, err := claimScript.Run(ctx, r.client, []string{r.zsetKey, r.payloadKey},
		strconv.FormatInt(now.UnixMilli(), 10),
		limit,
		strconv.FormatInt(now.Add(lease).UnixMilli(), 10),
	).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("claim due timeouts: %w", err)
	}

	out := make([]message.Timeout, 0, len(res))
	for _, raw := range res {
		var t message.Timeout
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("decode timeout payload: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *RedisBackend) Pending(ctx context.Context) (int64, error) {
	return r.client.ZCard(ctx, r.zsetKey).Result()
}
