// utils/redis.go
package utils

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis dials redis and pings it once.
func ConnectRedis(ctx context.Context, addr, password string, db int) (redis.UniversalClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              db,
		DialTimeout:     time.Second,
		ReadTimeout:     400 * time.Millisecond,
		WriteTimeout:    400 * time.Millisecond,
		PoolSize:        20,
		ConnMaxIdleTime: 90 * time.Second,
		OnConnect: func(ctx context.Context, cn *redis.Conn) error {
			_ = cn.ClientSetName(ctx, "rewards-ledger").Err()
			return nil
		},
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
