package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var recordScript = redis.NewScript(`
local msgs = redis.call("HINCRBY", KEYS[1], "messages", 1)
local chars = redis.call("HINCRBY", KEYS[1], "chars", ARGV[1])
if msgs == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {msgs, chars}
`)

// RedisMeter keeps per-account counters in fixed windows.
// Counter updates are atomic so concurrent requests never lose increments.
type RedisMeter struct {
	client *redis.Client
	plans  PlanResolver
	limits Limits
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisMeter(client *redis.Client, plans PlanResolver, limits Limits, window time.Duration, prefix string) (*RedisMeter, error) {
	if client == nil {
		return nil, errors.New("usage: redis client is required")
	}
	if plans == nil {
		return nil, errors.New("usage: plan resolver is required")
	}
	if window < time.Millisecond {
		return nil, errors.New("usage: window must be at least 1ms")
	}
	if limits == nil {
		limits = DefaultLimits()
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "counsel:usage"
	}
	return &RedisMeter{
		client: client,
		plans:  plans,
		limits: limits,
		window: window,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

func (m *RedisMeter) key(accountID uint64) string {
	slot := m.now().UTC().UnixMilli() / m.window.Milliseconds()
	return fmt.Sprintf("%s:%d:%d", m.prefix, accountID, slot)
}

// Usage returns the counters of the current window.
func (m *RedisMeter) Usage(ctx context.Context, accountID uint64) (Snapshot, error) {
	plan, err := m.plans.PlanOf(ctx, accountID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("usage: resolve plan: %w", err)
	}
	vals, err := m.client.HMGet(ctx, m.key(accountID), "messages", "chars").Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("usage: read counters: %w", err)
	}
	return Snapshot{
		Plan:     plan,
		Messages: parseCounter(vals, 0),
		Chars:    parseCounter(vals, 1),
		Limit:    m.limits.For(plan),
	}, nil
}

// CheckAvailable fails closed: any Redis error denies the request.
func (m *RedisMeter) CheckAvailable(ctx context.Context, accountID uint64) error {
	s, err := m.Usage(ctx, accountID)
	if err != nil {
		return err
	}
	if s.Limit.exceeded(s) {
		return ErrQuotaExceeded
	}
	return nil
}

func (m *RedisMeter) RecordUsage(ctx context.Context, accountID uint64, inputSize, outputSize int) error {
	chars := inputSize + outputSize
	if chars < 0 {
		chars = 0
	}
	_, err := recordScript.Run(ctx, m.client, []string{m.key(accountID)}, chars, m.window.Milliseconds()).Int64Slice()
	if err != nil {
		return fmt.Errorf("usage: record: %w", err)
	}
	return nil
}

func parseCounter(vals []any, i int) int64 {
	if i >= len(vals) || vals[i] == nil {
		return 0
	}
	s, ok := vals[i].(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
