package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mealgen/internal/domain"
)

// reserveScript checks and increments in one step. The outstanding amount of
// each reservation is a field of the record hash, so it expires with the
// counters it belongs to. Returns {ok, used, reserved}.
var reserveScript = redis.NewScript(`
local used = tonumber(redis.call('HGET', KEYS[1], 'used') or '0')
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
local limit = tonumber(ARGV[1])
local amount = tonumber(ARGV[2])
redis.call('HSET', KEYS[1], 'limit', limit)
redis.call('EXPIRE', KEYS[1], ARGV[3])
if used + reserved + amount > limit then
  return {0, used, reserved}
end
redis.call('HINCRBY', KEYS[1], 'reserved', amount)
redis.call('HSET', KEYS[1], ARGV[4], amount)
return {1, used, reserved + amount}
`)

// settleScript commits or releases n units of a reservation and refreshes the
// record TTL. Returns the outstanding amount left, -1 for an unknown
// reservation, -2 for n too large.
var settleScript = redis.NewScript(`
local outstanding = tonumber(redis.call('HGET', KEYS[1], ARGV[3]) or '-1')
if outstanding < 0 then
  return -1
end
local n = tonumber(ARGV[1])
if n > outstanding then
  return -2
end
redis.call('HINCRBY', KEYS[1], 'reserved', -n)
if ARGV[2] == 'commit' then
  redis.call('HINCRBY', KEYS[1], 'used', n)
end
if outstanding == n then
  redis.call('HDEL', KEYS[1], ARGV[3])
else
  redis.call('HSET', KEYS[1], ARGV[3], outstanding - n)
end
redis.call('EXPIRE', KEYS[1], ARGV[4])
return outstanding - n
`)

// RedisLedger stores one hash per record so several API replicas share quota.
type RedisLedger struct {
	client redis.UniversalClient
	limits LimitSource
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisLedger builds a ledger on client. Records live for ttl after the
// last reservation or settlement, which must cover at least one period.
func NewRedisLedger(client redis.UniversalClient, limits LimitSource, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = 40 * 24 * time.Hour
	}
	return &RedisLedger{client: client, limits: limits, prefix: "mealgen:quota", ttl: ttl, now: time.Now}
}

// NewRedisClient parses url and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (l *RedisLedger) recordKey(accountID, period string, kind domain.ResourceKind) string {
	return fmt.Sprintf("%s:{%s}:%s:%s", l.prefix, accountID, period, kind)
}

func reservationField(id string) string {
	return "res:" + id
}

func (l *RedisLedger) ttlSeconds() int {
	return int(l.ttl.Seconds())
}

func (l *RedisLedger) TryReserve(ctx context.Context, accountID string, kind domain.ResourceKind, amount int) (Reservation, error) {
	if err := validateAmount(amount); err != nil {
		return Reservation{}, err
	}
	limit, err := l.limits.Limit(ctx, accountID, kind)
	if err != nil {
		return Reservation{}, err
	}
	now := l.now()
	res := Reservation{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Kind:      kind,
		PeriodKey: PeriodKey(now),
		Amount:    amount,
		CreatedAt: now.UTC(),
	}
	keys := []string{l.recordKey(accountID, res.PeriodKey, kind)}
	vals, err := reserveScript.Run(ctx, l.client, keys, limit, amount, l.ttlSeconds(), reservationField(res.ID)).Int64Slice()
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve quota: %w", err)
	}
	if len(vals) != 3 {
		return Reservation{}, fmt.Errorf("reserve quota: unexpected reply %v", vals)
	}
	if vals[0] == 0 {
		return Reservation{}, &QuotaExceededError{
			AccountID: accountID, Kind: kind, PeriodKey: res.PeriodKey,
			Requested: amount, Limit: limit, Used: int(vals[1]), Reserved: int(vals[2]),
		}
	}
	return res, nil
}

func (l *RedisLedger) Commit(ctx context.Context, res Reservation, n int) error {
	return l.settle(ctx, res, n, "commit")
}

func (l *RedisLedger) Release(ctx context.Context, res Reservation, n int) error {
	return l.settle(ctx, res, n, "release")
}

func (l *RedisLedger) settle(ctx context.Context, res Reservation, n int, mode string) error {
	if n == 0 {
		return nil
	}
	if n < 0 {
		return fmt.Errorf("%w: settle amount must be positive", domain.ErrInvalidRequest)
	}
	keys := []string{l.recordKey(res.AccountID, res.PeriodKey, res.Kind)}
	left, err := settleScript.Run(ctx, l.client, keys, n, mode, reservationField(res.ID), l.ttlSeconds()).Int64()
	if err != nil {
		return fmt.Errorf("%s quota: %w", mode, err)
	}
	switch left {
	case -1:
		return ErrUnknownReservation
	case -2:
		return ErrOverSettle
	}
	return nil
}

func (l *RedisLedger) Usage(ctx context.Context, accountID string, kind domain.ResourceKind) (Record, error) {
	limit, err := l.limits.Limit(ctx, accountID, kind)
	if err != nil {
		return Record{}, err
	}
	period := PeriodKey(l.now())
	rec := Record{AccountID: accountID, PeriodKey: period, Kind: kind, Limit: limit}
	vals, err := l.client.HMGet(ctx, l.recordKey(accountID, period, kind), "used", "reserved").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Record{}, fmt.Errorf("quota usage: %w", err)
	}
	if len(vals) == 2 {
		rec.Used = parseRedisInt(vals[0])
		rec.Reserved = parseRedisInt(vals[1])
	}
	return rec, nil
}

func parseRedisInt(v any) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}

var _ Ledger = (*RedisLedger)(nil)
