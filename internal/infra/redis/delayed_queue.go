package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// DelayedQueue is a ZSET-backed queue whose members become visible once
// their score (unix millis) has passed. ClaimDue removes what it returns,
// so two workers never hand out the same member.
type DelayedQueue struct {
	cli *redis.Client
	key string
}

func NewDelayedQueue(c *Client, key string) *DelayedQueue {
	return &DelayedQueue{cli: c.cli, key: key}
}

func (q *DelayedQueue) EnqueueAt(ctx context.Context, member string, at time.Time) error {
	return q.cli.ZAdd(ctx, q.key, &redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: member,
	}).Err()
}

// luaClaim pops up to ARGV[2] due members in one round trip. Read and
// remove must be atomic or a crashed worker's batch would be lost to
// everyone else as well.
var luaClaim = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for i, member in ipairs(due) do
	redis.call("ZREM", KEYS[1], member)
end
return due`)

func (q *DelayedQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	res, err := luaClaim.Run(ctx, q.cli, []string{q.key},
		strconv.FormatInt(now.UnixMilli(), 10), strconv.Itoa(limit)).Result()
	if err != nil {
		return nil, err
	}
	raw, ok := res.([]interface{})
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(raw))
	for _, m := range raw {
		if s, ok := m.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// Size reports the number of waiting members, due or not.
func (q *DelayedQueue) Size(ctx context.Context) (int64, error) {
	return q.cli.ZCard(ctx, q.key).Result()
}
