package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/pipeline"
)

// PipelineHandler — административные ручки реестра фильтров: список
// подключений, пайплайны на каждом backend'е и их valve-настройки.
type PipelineHandler struct {
	registry *pipeline.Registry
	chain    *pipeline.Chain
}

func NewPipelineHandler(registry *pipeline.Registry, chain *pipeline.Chain) *PipelineHandler {
	return &PipelineHandler{registry: registry, chain: chain}
}

// List опрашивает каждый backend и возвращает его пайплайны вместе с urlIdx.
func (h *PipelineHandler) List(w http.ResponseWriter, r *http.Request) {
	conns := h.registry.Connections()
	out := make([]map[string]any, 0, len(conns))
	for idx := range conns {
		remote, err := h.chain.ListRemote(r.Context(), idx)
		if err != nil {
			logger.Errorf("pipeline list urlIdx=%d: %v", idx, err)
			continue
		}
		remote["url_idx"] = idx
		out = append(out, remote)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *PipelineHandler) urlIdx(r *http.Request) (int, bool) {
	idx := queryInt(r, "urlIdx", -1)
	if idx < 0 || idx >= len(h.registry.Connections()) {
		return 0, false
	}
	return idx, true
}

func (h *PipelineHandler) Valves(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.urlIdx(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid urlIdx")
		return
	}
	valves, err := h.chain.GetValves(r.Context(), idx, chi.URLParam(r, "pid"))
	if err != nil {
		logger.Errorf("pipeline valves: %v", err)
		writeError(w, http.StatusBadGateway, "pipeline backend error")
		return
	}
	writeJSON(w, http.StatusOK, valves)
}

func (h *PipelineHandler) ValvesSpec(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.urlIdx(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid urlIdx")
		return
	}
	spec, err := h.chain.GetValvesSpec(r.Context(), idx, chi.URLParam(r, "pid"))
	if err != nil {
		logger.Errorf("pipeline valves spec: %v", err)
		writeError(w, http.StatusBadGateway, "pipeline backend error")
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

func (h *PipelineHandler) UpdateValves(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.urlIdx(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid urlIdx")
		return
	}
	var valves map[string]any
	if err := json.NewDecoder(r.Body).Decode(&valves); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	updated, err := h.chain.UpdateValves(r.Context(), idx, chi.URLParam(r, "pid"), valves)
	if err != nil {
		logger.Errorf("pipeline update valves: %v", err)
		writeError(w, http.StatusBadGateway, "pipeline backend error")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Models возвращает текущее содержимое реестра моделей.
func (h *PipelineHandler) Models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Models())
}

// UpsertModel кладёт модель в реестр (id, name, pipeline-метаданные).
func (h *PipelineHandler) UpsertModel(w http.ResponseWriter, r *http.Request) {
	var m pipeline.Model
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil || m.ID == "" {
		writeError(w, http.StatusBadRequest, "id required")
		return
	}
	h.registry.SetModel(m)
	writeJSON(w, http.StatusOK, m)
}
