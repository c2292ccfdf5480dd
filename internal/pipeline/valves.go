package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Админ-операции проксируются на pipeline-сервер как есть: список пайплайнов
// и чтение/запись valve-настроек конкретного фильтра.

// ListRemote возвращает ответ GET {url}/pipelines выбранного подключения.
func (c *Chain) ListRemote(ctx context.Context, urlIdx int) (map[string]any, error) {
	return c.proxy(ctx, urlIdx, http.MethodGet, "/pipelines", nil)
}

// GetValves возвращает текущие valve-значения фильтра.
func (c *Chain) GetValves(ctx context.Context, urlIdx int, pipelineID string) (map[string]any, error) {
	return c.proxy(ctx, urlIdx, http.MethodGet, "/"+pipelineID+"/valves", nil)
}

// GetValvesSpec возвращает JSON-схему valve-настроек фильтра.
func (c *Chain) GetValvesSpec(ctx context.Context, urlIdx int, pipelineID string) (map[string]any, error) {
	return c.proxy(ctx, urlIdx, http.MethodGet, "/"+pipelineID+"/valves/spec", nil)
}

// UpdateValves записывает valve-значения фильтра.
func (c *Chain) UpdateValves(ctx context.Context, urlIdx int, pipelineID string, valves map[string]any) (map[string]any, error) {
	return c.proxy(ctx, urlIdx, http.MethodPost, "/"+pipelineID+"/valves/update", valves)
}

func (c *Chain) proxy(ctx context.Context, urlIdx int, method, path string, body map[string]any) (map[string]any, error) {
	conn, ok := c.registry.Connection(urlIdx)
	if !ok || conn.URL == "" {
		return nil, fmt.Errorf("pipeline.proxy: unknown connection %d", urlIdx)
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("pipeline.proxy marshal: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, conn.URL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("pipeline.proxy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+conn.Key)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline.proxy: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pipeline.proxy read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var res map[string]any
		if json.Unmarshal(raw, &res) == nil {
			if detail, ok := res["detail"].(string); ok {
				return nil, &DetailError{StatusCode: resp.StatusCode, Detail: detail}
			}
		}
		return nil, fmt.Errorf("pipeline.proxy: status %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("pipeline.proxy decode: %w", err)
	}
	return out, nil
}
