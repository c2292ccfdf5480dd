package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/channelhub/internal/pipeline"
)

func intPtr(v int) *int { return &v }

// filterBackend записывает порядок вызова стадий и применяет к payload
// заданную функцию трансформации.
type filterBackend struct {
	t       *testing.T
	calls   []string
	handler func(stageID, direction string, body map[string]any) (int, any)
}

func (b *filterBackend) serve() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /{stageID}/filter/{direction}
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 3 || parts[1] != "filter" {
			b.t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		stageID, direction := parts[0], parts[2]
		if got := r.Header.Get("Authorization"); !strings.HasPrefix(got, "Bearer ") {
			b.t.Errorf("missing bearer auth, got %q", got)
		}
		var req struct {
			User pipeline.Caller `json:"user"`
			Body map[string]any  `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			b.t.Errorf("decode: %v", err)
		}
		b.calls = append(b.calls, stageID+":"+direction)
		status, resp := b.handler(stageID, direction, req.Body)
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestChain(url string, models ...pipeline.Model) (*pipeline.Chain, *pipeline.Registry) {
	registry := pipeline.NewRegistry([]pipeline.Connection{{URL: url, Key: "test-key"}})
	registry.ReplaceModels(models)
	return pipeline.NewChain(registry), registry
}

func filterModel(id string, priority int, pipelines ...string) pipeline.Model {
	return pipeline.Model{
		ID:       id,
		Pipeline: &pipeline.Meta{Type: "filter", Pipelines: pipelines, Priority: priority},
		URLIdx:   intPtr(0),
	}
}

func TestInletOrderAndPayloadChaining(t *testing.T) {
	backend := &filterBackend{t: t}
	backend.handler = func(stageID, direction string, body map[string]any) (int, any) {
		trace, _ := body["trace"].(string)
		body["trace"] = trace + stageID + ";"
		return http.StatusOK, body
	}
	srv := backend.serve()
	defer srv.Close()

	target := pipeline.Model{
		ID:       "gpt-x",
		Pipeline: &pipeline.Meta{Type: "filter", Pipelines: []string{"*"}, Priority: 100},
		URLIdx:   intPtr(0),
	}
	chain, _ := newTestChain(srv.URL,
		filterModel("f2", 2, "*"),
		filterModel("f1", 1, "*"),
		target,
	)

	out, err := chain.ProcessInlet(context.Background(), "gpt-x", pipeline.Caller{ID: "u1"}, map[string]any{"trace": ""})
	if err != nil {
		t.Fatalf("inlet: %v", err)
	}
	wantCalls := []string{"f1:inlet", "f2:inlet", "gpt-x:inlet"}
	if len(backend.calls) != len(wantCalls) {
		t.Fatalf("calls = %v, want %v", backend.calls, wantCalls)
	}
	for i := range wantCalls {
		if backend.calls[i] != wantCalls[i] {
			t.Fatalf("calls = %v, want %v", backend.calls, wantCalls)
		}
	}
	// Каждая стадия видела вывод предыдущей
	if got := out["trace"]; got != "f1;f2;gpt-x;" {
		t.Fatalf("trace = %v, want f1;f2;gpt-x;", got)
	}
}

func TestOutletSelfRunsFirst(t *testing.T) {
	backend := &filterBackend{t: t}
	backend.handler = func(stageID, direction string, body map[string]any) (int, any) {
		return http.StatusOK, body
	}
	srv := backend.serve()
	defer srv.Close()

	target := pipeline.Model{
		ID:       "gpt-x",
		Pipeline: &pipeline.Meta{Type: "filter", Pipelines: []string{"*"}, Priority: 100},
		URLIdx:   intPtr(0),
	}
	chain, _ := newTestChain(srv.URL,
		filterModel("f1", 1, "*"),
		filterModel("f2", 2, "*"),
		target,
	)

	if _, err := chain.ProcessOutlet(context.Background(), "gpt-x", pipeline.Caller{}, map[string]any{}); err != nil {
		t.Fatalf("outlet: %v", err)
	}
	if len(backend.calls) != 3 || backend.calls[0] != "gpt-x:outlet" {
		t.Fatalf("calls = %v, self stage must run first on outlet", backend.calls)
	}
	if backend.calls[1] != "f1:outlet" || backend.calls[2] != "f2:outlet" {
		t.Fatalf("calls = %v, filters must keep ascending priority", backend.calls)
	}
}

func TestEligibilityByModelID(t *testing.T) {
	backend := &filterBackend{t: t}
	backend.handler = func(stageID, direction string, body map[string]any) (int, any) {
		return http.StatusOK, body
	}
	srv := backend.serve()
	defer srv.Close()

	chain, _ := newTestChain(srv.URL,
		filterModel("for-any", 1, "*"),
		filterModel("for-other", 2, "other-model"),
		filterModel("for-target", 3, "gpt-x"),
	)

	if _, err := chain.ProcessInlet(context.Background(), "gpt-x", pipeline.Caller{}, map[string]any{}); err != nil {
		t.Fatalf("inlet: %v", err)
	}
	if len(backend.calls) != 2 || backend.calls[0] != "for-any:inlet" || backend.calls[1] != "for-target:inlet" {
		t.Fatalf("calls = %v, want for-any then for-target", backend.calls)
	}
}

func TestDetailErrorAbortsChain(t *testing.T) {
	backend := &filterBackend{t: t}
	backend.handler = func(stageID, direction string, body map[string]any) (int, any) {
		if stageID == "f1" {
			return http.StatusBadRequest, map[string]any{"detail": "content rejected"}
		}
		return http.StatusOK, body
	}
	srv := backend.serve()
	defer srv.Close()

	chain, _ := newTestChain(srv.URL,
		filterModel("f1", 1, "*"),
		filterModel("f2", 2, "*"),
	)

	_, err := chain.ProcessInlet(context.Background(), "gpt-x", pipeline.Caller{}, map[string]any{})
	var de *pipeline.DetailError
	if !errors.As(err, &de) {
		t.Fatalf("expected DetailError, got %v", err)
	}
	if de.Detail != "content rejected" || de.StatusCode != http.StatusBadRequest {
		t.Fatalf("detail = %+v", de)
	}
	if len(backend.calls) != 1 {
		t.Fatalf("chain must abort after structured error, calls = %v", backend.calls)
	}
}

func TestTransportErrorContinuesChain(t *testing.T) {
	backend := &filterBackend{t: t}
	backend.handler = func(stageID, direction string, body map[string]any) (int, any) {
		body["seen"] = stageID
		return http.StatusOK, body
	}
	srv := backend.serve()
	defer srv.Close()

	// f1 указывает на мёртвый backend (urlIdx=1), f2 — на живой
	registry := pipeline.NewRegistry([]pipeline.Connection{
		{URL: srv.URL, Key: "test-key"},
		{URL: "http://127.0.0.1:1", Key: "test-key"},
	})
	f1 := filterModel("f1", 1, "*")
	f1.URLIdx = intPtr(1)
	registry.ReplaceModels([]pipeline.Model{f1, filterModel("f2", 2, "*")})
	chain := pipeline.NewChain(registry)

	out, err := chain.ProcessInlet(context.Background(), "gpt-x", pipeline.Caller{}, map[string]any{})
	if err != nil {
		t.Fatalf("transport failure must not fail the chain: %v", err)
	}
	if out["seen"] != "f2" {
		t.Fatalf("f2 must still run after f1 transport failure, out = %v", out)
	}
}

func TestStageWithoutCredentialSkipped(t *testing.T) {
	backend := &filterBackend{t: t}
	backend.handler = func(stageID, direction string, body map[string]any) (int, any) {
		return http.StatusOK, body
	}
	srv := backend.serve()
	defer srv.Close()

	registry := pipeline.NewRegistry([]pipeline.Connection{
		{URL: srv.URL, Key: "test-key"},
		{URL: srv.URL, Key: ""}, // без ключа
	})
	noKey := filterModel("no-key", 1, "*")
	noKey.URLIdx = intPtr(1)
	noIdx := filterModel("no-idx", 2, "*")
	noIdx.URLIdx = nil
	registry.ReplaceModels([]pipeline.Model{noKey, noIdx, filterModel("ok", 3, "*")})
	chain := pipeline.NewChain(registry)

	if _, err := chain.ProcessInlet(context.Background(), "gpt-x", pipeline.Caller{}, map[string]any{}); err != nil {
		t.Fatalf("inlet: %v", err)
	}
	if len(backend.calls) != 1 || backend.calls[0] != "ok:inlet" {
		t.Fatalf("calls = %v, stages without urlIdx or key must be skipped", backend.calls)
	}
}
