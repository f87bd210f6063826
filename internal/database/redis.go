package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
)

// InitRedis connects the client behind the token blacklist, recommendation
// cache, share codes and pickup-code rate limits. All of those are
// accelerators, not records, so a failed connection returns nil and the
// service carries on; every caller tolerates a nil client.
func InitRedis() *redis.Client {
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	rdb := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", viper.GetString("redis.host"), viper.GetString("redis.port")),
		Password:    viper.GetString("redis.password"),
		DB:          viper.GetInt("redis.db"),
		DialTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("[REDIS] Unreachable, running without caching and rate limits: %v", err)
		rdb.Close()
		return nil
	}

	log.Printf("[REDIS] Connected at %s:%s", viper.GetString("redis.host"), viper.GetString("redis.port"))
	return rdb
}
