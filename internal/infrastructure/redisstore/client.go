// Package redisstore implements the engine's shared coordination state on
// Redis. Every multi-step read-modify-write runs as a single Lua script so
// that no interleaving is possible across workers or processes.
package redisstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "engine"

type Config struct {
	Addr string
}

// NewClient connects to the shared store and verifies connectivity.
func NewClient(cfg Config) (*redis.Client, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// isNotIntegerError matches the redis errors raised when a stored counter
// holds a non-numeric value. Corruption is reported, never coerced to zero.
func isNotIntegerError(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "not an integer") || strings.Contains(message, "not a valid float")
}
