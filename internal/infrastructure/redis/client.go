package redis

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks . RedisClient

var ErrKeyNotFound = stderrors.New("key not found")

// RedisClient is the subset of Redis used for sessions, balance caching and capture locks.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

type Client struct {
	client *redis.Client
}

const (
	dialTimeout = 3 * time.Second
	ioTimeout   = time.Second
)

// NewClient dials Redis and fails fast when the server does not answer a ping.
func NewClient(ctx context.Context, addr string) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  dialTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}

	slog.Info("connected to Redis", "addr", addr)
	return &Client{client: client}, nil
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if stderrors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return val, nil
}

func (c *Client) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	if err := c.client.Set(ctx, key, value, expiration).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// SetNX reports whether the key was created.
func (c *Client) SetNX(ctx context.Context, key string, value any, expiration time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, expiration).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

func (c *Client) Del(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Key helpers shared by services, middleware and consumers.

func TokenKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10) + ":token"
}

// CreditsCacheTTL bounds how long a cached balance may be served.
const CreditsCacheTTL = 5 * time.Minute

func CreditsKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10) + ":credits"
}

func CaptureLockKey(orderID string) string {
	return "capture:" + orderID + ":lock"
}

const PayPalTokenKey = "paypal:access_token"
