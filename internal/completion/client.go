// Package completion — клиент OpenAI-совместимого endpoint генерации ответов.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Client struct {
	url    string
	key    string
	client *http.Client
}

func NewClient(url, key string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		url:    url,
		key:    key,
		client: &http.Client{Timeout: timeout},
	}
}

// Configured сообщает, задан ли endpoint генерации.
func (c *Client) Configured() bool { return c.url != "" }

// Complete отправляет payload (model, messages, ...) и возвращает ответ как есть.
func (c *Client) Complete(ctx context.Context, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("completion.Complete marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("completion.Complete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion.Complete: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("completion.Complete read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var res map[string]any
		if json.Unmarshal(raw, &res) == nil {
			if detail, ok := res["detail"].(string); ok {
				return nil, fmt.Errorf("completion.Complete: %d: %s", resp.StatusCode, detail)
			}
			if errObj, ok := res["error"].(map[string]any); ok {
				if msg, ok := errObj["message"].(string); ok {
					return nil, fmt.Errorf("completion.Complete: %d: %s", resp.StatusCode, msg)
				}
			}
		}
		return nil, fmt.Errorf("completion.Complete: status %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("completion.Complete decode: %w", err)
	}
	return out, nil
}

// FirstChoiceContent достаёт content первого choice из ответа completion.
func FirstChoiceContent(res map[string]any) string {
	choices, ok := res["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return ""
	}
	msg, ok := choice["message"].(map[string]any)
	if !ok {
		return ""
	}
	content, _ := msg["content"].(string)
	return content
}
