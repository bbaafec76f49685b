package oracle

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/helm-rem/pkg/intent"
)

// KeyPrefix namespaces intent state keys in Redis.
const KeyPrefix = "rem:intent:"

// RedisOracle reads intent states mirrored into Redis as decimal state tags
// under rem:intent:<hex hash>. A missing key means not authorized.
type RedisOracle struct {
	client *redis.Client
}

// NewRedisOracle creates an oracle backed by a new Redis client.
func NewRedisOracle(addr, password string, db int) *RedisOracle {
	return NewRedisOracleWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

func NewRedisOracleWithClient(client *redis.Client) *RedisOracle {
	return &RedisOracle{client: client}
}

func redisKey(h intent.Hash) string {
	return KeyPrefix + h.String()
}

func (o *RedisOracle) State(ctx context.Context, h intent.Hash) (intent.State, error) {
	val, err := o.client.Get(ctx, redisKey(h)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("redis get: %w", err)
	}
	n, err := strconv.ParseUint(val, 10, 8)
	if err != nil || !intent.State(n).Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownState, val)
	}
	return intent.State(n), nil
}

func (o *RedisOracle) IsAuthorized(ctx context.Context, h intent.Hash) (bool, error) {
	state, err := o.State(ctx, h)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return state == intent.StateAuthorized, nil
}

// SetState writes the mirror entry for h. Used by ledger tooling and tests.
func (o *RedisOracle) SetState(ctx context.Context, h intent.Hash, state intent.State) error {
	if !state.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownState, state)
	}
	return o.client.Set(ctx, redisKey(h), strconv.Itoa(int(state)), 0).Err()
}

// Forget removes the mirror entry for h.
func (o *RedisOracle) Forget(ctx context.Context, h intent.Hash) error {
	return o.client.Del(ctx, redisKey(h)).Err()
}

func (o *RedisOracle) Ping(ctx context.Context) error {
	return o.client.Ping(ctx).Err()
}

func (o *RedisOracle) Close() error {
	return o.client.Close()
}
