// Package pipeline реализует цепочку внешних фильтров (inlet/outlet) для
// запросов к моделям: реестр моделей и подключений плюс последовательный
// прогон payload через фильтр-серверы.
package pipeline

import "sync"

// Connection — внешний pipeline-сервер. Индекс в списке соответствует
// значению urlIdx в метаданных модели.
type Connection struct {
	URL string
	Key string
}

// Meta — pipeline-метаданные модели. Модель с Type=="filter" — фильтр;
// Pipelines задаёт применимость: ["*"] или явный список id целевых моделей.
type Meta struct {
	Type      string   `json:"type" yaml:"type"`
	Pipelines []string `json:"pipelines" yaml:"pipelines"`
	Priority  int      `json:"priority" yaml:"priority"`
}

// Model — запись глобального реестра моделей.
type Model struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Pipeline *Meta  `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`
	URLIdx   *int   `json:"urlIdx,omitempty" yaml:"url_idx,omitempty"`
}

// AppliesTo сообщает, применим ли фильтр к модели modelID.
func (m Model) AppliesTo(modelID string) bool {
	if m.Pipeline == nil || m.Pipeline.Type != "filter" {
		return false
	}
	for _, p := range m.Pipeline.Pipelines {
		if p == "*" || p == modelID {
			return true
		}
	}
	return false
}

// Registry — явный реестр моделей и pipeline-подключений. Передаётся
// зависимостью, а не живёт глобальным состоянием; перезагрузка реестра —
// это замена набора моделей целиком.
type Registry struct {
	mu          sync.RWMutex
	connections []Connection
	models      map[string]Model
}

func NewRegistry(connections []Connection) *Registry {
	return &Registry{
		connections: connections,
		models:      make(map[string]Model),
	}
}

// SetModel добавляет или заменяет запись модели.
func (r *Registry) SetModel(m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.ID] = m
}

// ReplaceModels атомарно заменяет весь набор моделей (перезагрузка реестра).
func (r *Registry) ReplaceModels(models []Model) {
	next := make(map[string]Model, len(models))
	for _, m := range models {
		next[m.ID] = m
	}
	r.mu.Lock()
	r.models = next
	r.mu.Unlock()
}

// Model возвращает запись модели по id.
func (r *Registry) Model(id string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// Models возвращает снимок всех моделей.
func (r *Registry) Models() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	return out
}

// Connection возвращает подключение по индексу urlIdx.
func (r *Registry) Connection(idx int) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx < 0 || idx >= len(r.connections) {
		return Connection{}, false
	}
	return r.connections[idx], true
}

// Connections возвращает снимок списка подключений.
func (r *Registry) Connections() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Connection(nil), r.connections...)
}
