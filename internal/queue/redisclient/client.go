package redisclient

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	redisdb *redis.Client
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

func New(cfg Config) *Client {
	redisdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	return &Client{redisdb: redisdb}
}

// this ping function checks redis connectivity

func (c *Client) Ping(ctx context.Context) error {
	return c.redisdb.Ping(ctx).Err()
}

// this closes the client

func (c *Client) Close() error {
	return c.redisdb.Close()
}

//  this exposes the redis client for later days (producer/ worker flow)

func (c *Client) Raw() *redis.Client {
	return c.redisdb
}

// GetString returns the cached value and whether it was present. Errors are
// collapsed into a miss so a flaky redis never breaks a read path.
func (c *Client) GetString(ctx context.Context, key string) (string, bool) {
	v, err := c.redisdb.Get(ctx, key).Result()

	if err != nil {
		return "", false
	}

	return v, true
}

func (c *Client) SetString(ctx context.Context, key, value string, ttl time.Duration) {
	_ = c.redisdb.Set(ctx, key, value, ttl).Err()
}
