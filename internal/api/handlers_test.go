package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/apiweld/apiweld/internal/datastore"
	"github.com/apiweld/apiweld/internal/docs"
	"github.com/apiweld/apiweld/internal/httpcall"
	"github.com/apiweld/apiweld/internal/llm"
	"github.com/apiweld/apiweld/internal/queue"
	"github.com/apiweld/apiweld/internal/service"
	"github.com/apiweld/apiweld/internal/synth"
	"github.com/apiweld/apiweld/internal/types"
)

func newTestRouter(t *testing.T, store datastore.Store, llmResponses ...string) http.Handler {
	idx := 0
	llmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if idx >= len(llmResponses) {
			t.Error("unexpected LLM call")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		content := llmResponses[idx]
		idx++
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		})
	}))
	t.Cleanup(llmServer.Close)

	client := llm.New(llm.Config{APIKey: "test", BaseURL: llmServer.URL, Model: "gpt-5"})
	svc := service.New(store, synth.New(client, docs.NewFetcher()), httpcall.New(), queue.New())

	r := chi.NewRouter()
	handlers := NewHandlers(svc)
	handlers.Routes(r)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, datastore.NewMemory())
	rec := doJSON(t, router, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("got status %d", rec.Code)
	}
	var resp HealthResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "ok" {
		t.Errorf("got %+v", resp)
	}
}

func TestHealth_CheckFailure(t *testing.T) {
	store := datastore.NewMemory()
	router := chi.NewRouter()
	svc := service.New(store, nil, httpcall.New(), nil)
	handlers := NewHandlers(svc)
	handlers.SetHealthCheck(func() error { return fmt.Errorf("store down") })
	handlers.Routes(router)

	rec := doJSON(t, router, "GET", "/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("got status %d", rec.Code)
	}
}

func TestCallEndpoint(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer api.Close()

	router := newTestRouter(t, datastore.NewMemory(),
		fmt.Sprintf(`{"urlHost": %q, "method": "GET"}`, api.URL),
	)

	rec := doJSON(t, router, "POST", "/v1/call", CallRequest{
		Input: EndpointInputDTO{Instruction: "get status", URLHost: api.URL},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body.String())
	}
	var resp RunResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Run == nil || !resp.Run.Success {
		t.Errorf("got %+v", resp.Run)
	}
}

func TestCallEndpoint_MissingInput(t *testing.T) {
	router := newTestRouter(t, datastore.NewMemory())
	rec := doJSON(t, router, "POST", "/v1/call", CallRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("got status %d", rec.Code)
	}
}

func TestTransformEndpoint(t *testing.T) {
	router := newTestRouter(t, datastore.NewMemory(),
		`{"jsonata": "{\"name\": user.first}", "confidence": 90, "confidence_reasoning": "direct"}`,
	)

	var req TransformRequest
	req.Input.ResponseSchema = json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`)
	req.Data = map[string]any{"user": map[string]any{"first": "J"}}

	rec := doJSON(t, router, "POST", "/v1/transform", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body.String())
	}
	var resp RunResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Run == nil || !resp.Run.Success {
		t.Fatalf("got %+v", resp.Run)
	}
	data := resp.Run.Data.(map[string]any)
	if data["name"] != "J" {
		t.Errorf("got %v", data)
	}
}

func TestApiConfigCRUD(t *testing.T) {
	store := datastore.NewMemory()
	router := newTestRouter(t, store)

	cfg := types.ApiConfig{
		URLHost:     "https://api.example.com",
		Method:      "GET",
		Instruction: "get things",
		CreatedAt:   time.Now().UTC(),
	}
	rec := doJSON(t, router, "PUT", "/v1/apis/my-config", cfg)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert: got status %d", rec.Code)
	}

	rec = doJSON(t, router, "GET", "/v1/apis/my-config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: got status %d", rec.Code)
	}
	var got types.ApiConfig
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ID != "my-config" || got.URLHost != cfg.URLHost {
		t.Errorf("got %+v", got)
	}

	rec = doJSON(t, router, "GET", "/v1/apis", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: got status %d", rec.Code)
	}

	rec = doJSON(t, router, "POST", "/v1/apis/my-config/rename", RenameRequest{NewID: "renamed"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("rename: got status %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := store.GetApiConfig(context.Background(), "renamed"); err != nil {
		t.Errorf("renamed config missing: %v", err)
	}

	rec = doJSON(t, router, "DELETE", "/v1/apis/renamed", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: got status %d", rec.Code)
	}
	rec = doJSON(t, router, "GET", "/v1/apis/renamed", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: got status %d", rec.Code)
	}
}

func TestListRuns(t *testing.T) {
	store := datastore.NewMemory()
	for i := 0; i < 3; i++ {
		store.CreateRun(context.Background(), &types.RunResult{
			ID:        fmt.Sprintf("r%d", i),
			Success:   true,
			ConfigID:  "c1",
			StartedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		})
	}
	router := newTestRouter(t, store)

	rec := doJSON(t, router, "GET", "/v1/runs?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	var resp RunsResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(resp.Runs))
	}

	rec = doJSON(t, router, "GET", "/v1/runs?configId=other", nil)
	var filtered RunsResponse
	json.Unmarshal(rec.Body.Bytes(), &filtered)
	if len(filtered.Runs) != 0 {
		t.Errorf("expected no runs for unknown config, got %d", len(filtered.Runs))
	}
}
