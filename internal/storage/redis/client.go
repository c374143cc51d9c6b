package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rentafacil/rentchat/internal/storage"
)

// TokenTTL — срок хранения токена, совпадает со сроком жизни сессии на бэкенде.
const TokenTTL = 30 * 24 * time.Hour

// Client хранит токен в Redis (общий токен для нескольких процессов одного устройства).
type Client struct {
	cli *redis.Client
	key string
}

// New подключается к Redis. namespace отделяет токены разных профилей (например user id); может быть пустым.
func New(ctx context.Context, url, namespace string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli, key: Key(namespace)}, nil
}

// Key возвращает ключ Redis для токена.
func Key(namespace string) string {
	if namespace == "" {
		return "rentchat:" + storage.TokenKey
	}
	return "rentchat:" + namespace + ":" + storage.TokenKey
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) GetToken(ctx context.Context) (string, error) {
	val, err := c.cli.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("redis get token: %w", err)
	}
	return val, nil
}

func (c *Client) SetToken(ctx context.Context, token string) error {
	return c.cli.Set(ctx, c.key, token, TokenTTL).Err()
}

func (c *Client) DeleteToken(ctx context.Context) error {
	return c.cli.Del(ctx, c.key).Err()
}
