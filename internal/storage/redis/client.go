package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Лимит подписок на пользователя и TTL списка. TTL продлевается при каждой
// новой подписке; мёртвые endpoint'ы вычищаются при доставке (410/404).
const (
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
)

const subKeyPrefix = "push:subs:"

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
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
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// AddSubscription дописывает подписку в push:subs:{user_id}, срезая список до
// maxSubsPerUser последних.
func (c *Client) AddSubscription(ctx context.Context, userID, raw string) error {
	key := subKeyPrefix + userID
	pipe := c.cli.Pipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, -maxSubsPerUser, -1)
	pipe.Expire(ctx, key, subscriptionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis add subscription: %w", err)
	}
	return nil
}

func (c *Client) Subscriptions(ctx context.Context, userID string) ([]string, error) {
	list, err := c.cli.LRange(ctx, subKeyPrefix+userID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis subscriptions: %w", err)
	}
	return list, nil
}

// ReplaceSubscriptions перезаписывает список целиком (удаление подписки —
// это чтение, фильтрация и запись обратно).
func (c *Client) ReplaceSubscriptions(ctx context.Context, userID string, kept []string) error {
	key := subKeyPrefix + userID
	pipe := c.cli.Pipeline()
	pipe.Del(ctx, key)
	for _, raw := range kept {
		pipe.RPush(ctx, key, raw)
	}
	if len(kept) > 0 {
		pipe.Expire(ctx, key, subscriptionTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis replace subscriptions: %w", err)
	}
	return nil
}

// FlushDB очищает текущую БД Redis (для тестов).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
