package storage

import "context"

// SubscriptionStore — хранилище Web Push подписок (JSON как есть).
// Реализации: redis.Client, memory.Client (для -dev без Redis).
type SubscriptionStore interface {
	AddSubscription(ctx context.Context, userID, raw string) error
	Subscriptions(ctx context.Context, userID string) ([]string, error)
	ReplaceSubscriptions(ctx context.Context, userID string, kept []string) error
	Close() error
}
