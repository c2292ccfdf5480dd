package memory

import (
	"context"
	"sync"
	"time"
)

const (
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
)

type entry struct {
	raw string
	exp time.Time
}

// Client — in-memory реализация SubscriptionStore для режима -dev.
type Client struct {
	mu   sync.RWMutex
	subs map[string][]entry
}

func New() *Client {
	return &Client{subs: make(map[string][]entry)}
}

func (c *Client) Close() error { return nil }

func (c *Client) AddSubscription(ctx context.Context, userID, raw string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.alive(userID)
	list = append(list, entry{raw: raw, exp: time.Now().Add(subscriptionTTL)})
	if len(list) > maxSubsPerUser {
		list = list[len(list)-maxSubsPerUser:]
	}
	c.subs[userID] = list
	return nil
}

func (c *Client) Subscriptions(ctx context.Context, userID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.alive(userID)
	c.subs[userID] = list
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.raw)
	}
	return out, nil
}

func (c *Client) ReplaceSubscriptions(ctx context.Context, userID string, kept []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(kept) == 0 {
		delete(c.subs, userID)
		return nil
	}
	list := make([]entry, 0, len(kept))
	exp := time.Now().Add(subscriptionTTL)
	for _, raw := range kept {
		list = append(list, entry{raw: raw, exp: exp})
	}
	c.subs[userID] = list
	return nil
}

// alive отбрасывает просроченные записи. Вызывается под mu.
func (c *Client) alive(userID string) []entry {
	now := time.Now()
	list := c.subs[userID]
	kept := make([]entry, 0, len(list))
	for _, e := range list {
		if e.exp.After(now) {
			kept = append(kept, e)
		}
	}
	return kept
}
