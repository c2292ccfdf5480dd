package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Poster отправляет JSON-уведомление на внешний webhook пользователя.
// Доставка best-effort: получатель сам отвечает за свой endpoint.
type Poster struct {
	client *http.Client
}

func NewPoster() *Poster {
	return &Poster{client: &http.Client{Timeout: 10 * time.Second}}
}

func (p *Poster) Post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify.Post: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify.Post: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify.Post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify.Post: webhook %s вернул статус %d", url, resp.StatusCode)
	}
	return nil
}
