package state

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/compassvpn/user-metrics/internal/logsource"
)

const (
	fieldIdentity = "identity"
	fieldOffset   = "offset"
)

// Redis stores the cursor as a hash, so several exporters can share one
// server as long as each uses its own key.
type Redis struct {
	rdb *redis.Client
	key string
}

// OpenRedis connects to the server and checks it answers PING.
func OpenRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if opts.Key == "" {
		opts.Key = DefaultRedisKey
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}

	return &Redis{rdb: rdb, key: opts.Key}, nil
}

func (r *Redis) Load(ctx context.Context) (logsource.Cursor, error) {
	vals, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return logsource.Cursor{}, fmt.Errorf("load cursor %s: %w", r.key, err)
	}
	if len(vals) == 0 {
		return logsource.Cursor{}, nil
	}

	c := logsource.Cursor{Identity: vals[fieldIdentity]}
	if raw := vals[fieldOffset]; raw != "" {
		off, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return logsource.Cursor{}, fmt.Errorf("parse cursor offset %q: %w", raw, err)
		}
		c.Offset = off
	}
	return c, nil
}

func (r *Redis) Save(ctx context.Context, c logsource.Cursor) error {
	err := r.rdb.HSet(ctx, r.key,
		fieldIdentity, c.Identity,
		fieldOffset, strconv.FormatInt(c.Offset, 10),
	).Err()
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", r.key, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
