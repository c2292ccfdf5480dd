package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/channelhub/internal/logger"
)

// Caller — идентичность пользователя, передаваемая каждому фильтру.
type Caller struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// DetailError — структурная ошибка фильтра. Прерывает цепочку и доводится
// до вызывающего дословно, в отличие от транспортных сбоев.
type DetailError struct {
	StatusCode int
	Detail     string
}

func (e *DetailError) Error() string {
	return fmt.Sprintf("pipeline filter: %d: %s", e.StatusCode, e.Detail)
}

// Chain последовательно прогоняет payload через фильтры. Стадии никогда не
// вызываются параллельно: стадия N+1 видит ровно то, что вернула стадия N.
type Chain struct {
	registry *Registry
	client   *http.Client
}

func NewChain(registry *Registry) *Chain {
	return &Chain{
		registry: registry,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// sortedFilters возвращает применимые к модели фильтры по возрастанию priority.
func (c *Chain) sortedFilters(modelID string) []Model {
	filters := make([]Model, 0, 4)
	for _, m := range c.registry.Models() {
		if m.ID != modelID && m.AppliesTo(modelID) {
			filters = append(filters, m)
		}
	}
	sort.SliceStable(filters, func(i, j int) bool {
		return filters[i].Pipeline.Priority < filters[j].Pipeline.Priority
	})
	return filters
}

// ProcessInlet прогоняет запрос через фильтры перед отправкой модели.
// Если сама целевая модель несёт pipeline-метаданные, она выполняется последней.
func (c *Chain) ProcessInlet(ctx context.Context, modelID string, user Caller, payload map[string]any) (map[string]any, error) {
	stages := c.sortedFilters(modelID)
	if m, ok := c.registry.Model(modelID); ok && m.Pipeline != nil {
		stages = append(stages, m)
	}
	return c.run(ctx, "inlet", stages, user, payload)
}

// ProcessOutlet прогоняет ответ модели через фильтры. Собственная стадия
// целевой модели выполняется первой, затем фильтры по возрастанию priority.
func (c *Chain) ProcessOutlet(ctx context.Context, modelID string, user Caller, payload map[string]any) (map[string]any, error) {
	stages := c.sortedFilters(modelID)
	if m, ok := c.registry.Model(modelID); ok && m.Pipeline != nil {
		stages = append([]Model{m}, stages...)
	}
	return c.run(ctx, "outlet", stages, user, payload)
}

// run выполняет стадии по очереди. Ответ каждой стадии замещает payload
// целиком. Стадия без urlIdx или без ключа пропускается. Транспортный сбой
// логируется, и цепочка продолжается с последним успешным payload;
// структурная ошибка с полем detail прерывает всё.
func (c *Chain) run(ctx context.Context, direction string, stages []Model, user Caller, payload map[string]any) (map[string]any, error) {
	for _, stage := range stages {
		if stage.URLIdx == nil {
			continue
		}
		conn, ok := c.registry.Connection(*stage.URLIdx)
		if !ok || conn.URL == "" || conn.Key == "" {
			continue
		}

		body, err := json.Marshal(map[string]any{"user": user, "body": payload})
		if err != nil {
			return payload, fmt.Errorf("pipeline.run marshal: %w", err)
		}
		url := fmt.Sprintf("%s/%s/filter/%s", conn.URL, stage.ID, direction)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return payload, fmt.Errorf("pipeline.run request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+conn.Key)

		resp, err := c.client.Do(req)
		if err != nil {
			logger.Errorf("pipeline %s stage=%s: %v", direction, stage.ID, err)
			continue
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			logger.Errorf("pipeline %s stage=%s read: %v", direction, stage.ID, err)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var res map[string]any
			if json.Unmarshal(raw, &res) == nil {
				if detail, ok := res["detail"].(string); ok {
					return payload, &DetailError{StatusCode: resp.StatusCode, Detail: detail}
				}
			}
			logger.Errorf("pipeline %s stage=%s: status %d", direction, stage.ID, resp.StatusCode)
			continue
		}

		var next map[string]any
		if err := json.Unmarshal(raw, &next); err != nil {
			logger.Errorf("pipeline %s stage=%s decode: %v", direction, stage.ID, err)
			continue
		}
		payload = next
	}
	return payload, nil
}
