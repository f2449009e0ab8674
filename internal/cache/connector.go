package cache

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"moff.io/snap-bridge/internal/config"
	"moff.io/snap-bridge/pkg/log"
)

var (
	Redis       *redis.Client
	RateLimiter *redis_rate.Limiter
)

func Init(cred *config.DBCredential) {
	db, _ := strconv.ParseInt(cred.Database, 10, 64)
	Redis = redis.NewClient(&redis.Options{
		Addr:     cred.GetRedisAddress(),
		Password: cred.Password,
		DB:       int(db),
	})
	if _, err := Redis.Ping(context.TODO()).Result(); err != nil {
		log.Fatalf("ping to redis:%v", err)
	}
	RateLimiter = redis_rate.NewLimiter(Redis)
	log.Info("Connected to redis...")
}

func Close() {
	if Redis != nil {
		Redis.Close()
		Redis = nil
	}
}
