package push

import (
	"context"
	"encoding/json"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/storage"
)

// Client отправляет Web Push уведомления. Подписки живут в SubscriptionStore,
// ключи VAPID — в конфиге. Если ключей нет, клиент работает как no-op:
// подписки сохраняются, отправка не выполняется.
type Client struct {
	store storage.SubscriptionStore
	vapid *webpush.Options
}

// NewClient создаёт клиент. subject — mailto:/https: идентификатор отправителя.
func NewClient(store storage.SubscriptionStore, keys *VAPIDKeys, subject string) *Client {
	c := &Client{store: store}
	if keys != nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		c.vapid = &webpush.Options{
			Subscriber:      subject,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
		}
	}
	return c
}

// Enabled сообщает, настроена ли отправка (есть VAPID-ключи).
func (c *Client) Enabled() bool { return c != nil && c.vapid != nil }

// PublicKey возвращает публичный VAPID-ключ для фронтенда.
func (c *Client) PublicKey() string {
	if c.vapid == nil {
		return ""
	}
	return c.vapid.VAPIDPublicKey
}

// Subscription — подписка из браузера (PushSubscription.toJSON()).
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Subscribe сохраняет подписку пользователя.
func (c *Client) Subscribe(ctx context.Context, userID string, sub Subscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return c.store.AddSubscription(ctx, userID, string(raw))
}

// Unsubscribe удаляет подписку с данным endpoint.
func (c *Client) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	list, err := c.store.Subscriptions(ctx, userID)
	if err != nil {
		return err
	}
	kept := make([]string, 0, len(list))
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint == endpoint {
			continue
		}
		kept = append(kept, item)
	}
	return c.store.ReplaceSubscriptions(ctx, userID, kept)
}

// Notify отправляет уведомление на все подписки пользователя. Доставка
// best-effort: ошибки логируются, протухшие endpoint'ы (404/410) удаляются.
func (c *Client) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if !c.Enabled() {
		return
	}
	list, err := c.store.Subscriptions(ctx, userID)
	if err != nil {
		logger.Errorf("push notify user=%s: %v", userID, err)
		return
	}
	if len(list) == 0 {
		return
	}
	payload, _ := json.Marshal(map[string]any{"title": title, "body": body, "data": data})

	var dead []string
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) != nil || sub.Endpoint == "" {
			continue
		}
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, c.vapid)
		if err != nil {
			logger.Errorf("push send %s: %v", truncEndpoint(sub.Endpoint), err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == 410 || resp.StatusCode == 404 {
			dead = append(dead, sub.Endpoint)
		}
	}
	if len(dead) > 0 {
		c.prune(ctx, userID, dead)
	}
}

func (c *Client) prune(ctx context.Context, userID string, dead []string) {
	list, err := c.store.Subscriptions(ctx, userID)
	if err != nil {
		return
	}
	gone := make(map[string]struct{}, len(dead))
	for _, e := range dead {
		gone[e] = struct{}{}
	}
	kept := make([]string, 0, len(list))
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) == nil {
			if _, ok := gone[sub.Endpoint]; ok {
				continue
			}
		}
		kept = append(kept, item)
	}
	if err := c.store.ReplaceSubscriptions(ctx, userID, kept); err != nil {
		logger.Errorf("push prune user=%s: %v", userID, err)
	}
}

func truncEndpoint(endpoint string) string {
	if len(endpoint) > 50 {
		return endpoint[:50]
	}
	return endpoint
}
