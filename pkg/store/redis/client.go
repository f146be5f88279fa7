package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowforge/startlimit/pkg/config"
)

const pingTimeout = 5 * time.Second

// Client owns the connection shared by the limit store and the event bus,
// together with the key prefix that namespaces every key the limiter writes.
type Client struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewClient(cfg *config.RedisConfig) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("redis: no addresses configured")
	}

	var rdb redis.UniversalClient
	if cfg.ClusterMode {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.Addresses,
			Password: cfg.Password,
			PoolSize: cfg.PoolSize,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Addresses[0],
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", strings.Join(cfg.Addresses, ","), err)
	}

	return &Client{rdb: rdb, prefix: cfg.KeyPrefix}, nil
}

// Key joins parts under the configured prefix, e.g. Key("limit", "typeA")
// is "sl:limit:typeA" with the default prefix.
func (c *Client) Key(parts ...string) string {
	return c.prefix + strings.Join(parts, ":")
}

// Limits returns the definition store backed by this connection.
func (c *Client) Limits() *LimitStore {
	return NewLimitStore(c.rdb, c.prefix)
}

func (c *Client) Client() redis.UniversalClient {
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
