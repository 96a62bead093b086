package redis

import (
	"context"
	"github.com/go-redis/redis/v8"
	"time"
)

func InitRedis(ctx context.Context, address string, port string, password string, db int) (*redis.Client, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:        address + ":" + port,
		Password:    password,
		PoolSize:    32,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, err
	}
	return redisClient, nil
}
