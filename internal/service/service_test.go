package service

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apiweld/apiweld/internal/datastore"
	"github.com/apiweld/apiweld/internal/docs"
	"github.com/apiweld/apiweld/internal/httpcall"
	"github.com/apiweld/apiweld/internal/llm"
	"github.com/apiweld/apiweld/internal/queue"
	"github.com/apiweld/apiweld/internal/synth"
	"github.com/apiweld/apiweld/internal/types"
)

// scriptedLLM serves canned completions in order.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	calls     int
	server    *httptest.Server
}

func newScriptedLLM(t *testing.T, responses ...string) *scriptedLLM {
	s := &scriptedLLM{responses: responses}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.calls++
		if len(s.responses) == 0 {
			t.Error("scripted LLM ran out of responses")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		content := s.responses[0]
		s.responses = s.responses[1:]
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		})
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *scriptedLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestService(t *testing.T, store datastore.Store, responses ...string) (*Service, *scriptedLLM) {
	scripted := newScriptedLLM(t, responses...)
	client := llm.New(llm.Config{APIKey: "test", BaseURL: scripted.server.URL, Model: "gpt-5"})
	synthesizer := synth.New(client, docs.NewFetcher())
	return New(store, synthesizer, httpcall.New(), queue.New()), scripted
}

func fastOpts() Options {
	return Options{Retries: 1, RetryDelay: time.Millisecond, Timeout: 5 * time.Second}
}

func TestCall_HappyPath(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/characters" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"results": []any{
			map[string]any{"name": "Fry", "species": "Human"},
			map[string]any{"name": "Bender", "species": "Robot"},
		}})
	}))
	defer api.Close()

	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"characters": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"properties": {
						"name": {"type": "string"},
						"species": {"type": "string"}
					},
					"required": ["name", "species"]
				}
			}
		},
		"required": ["characters"]
	}`)

	svc, _ := newTestService(t, datastore.NewMemory(),
		fmt.Sprintf(`{"urlHost": %q, "urlPath": "/v1/characters", "method": "GET", "dataPath": "results"}`, api.URL),
		`{"jsonata": "{\"characters\": $}", "confidence": 95, "confidence_reasoning": "data already matches"}`,
	)

	run, err := svc.Call(context.Background(), synth.EndpointInput{
		Instruction:      "get all characters",
		URLHost:          api.URL,
		DocumentationURL: api.URL + "/v1/characters",
		ResponseSchema:   schema,
	}, nil, nil, fastOpts())
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if !run.Success {
		t.Fatalf("run failed: %s", run.Error)
	}
	out, ok := run.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected object output, got %T", run.Data)
	}
	characters, ok := out["characters"].([]any)
	if !ok || len(characters) != 2 {
		t.Fatalf("expected 2 characters, got %v", out)
	}
	first := characters[0].(map[string]any)
	if first["name"] != "Fry" || first["species"] != "Human" {
		t.Errorf("got %v", first)
	}
}

func TestCall_RepairLoop(t *testing.T) {
	var apiCalls int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			// Documentation fetches land on the root path.
			w.WriteHeader(http.StatusNotFound)
			return
		}
		atomic.AddInt32(&apiCalls, 1)
		if r.Header.Get("Authorization") != "Bearer x" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer api.Close()

	// First draft references {apikey}, but credentials only carry token.
	// The unresolved-variable error feeds back and the second draft is fixed.
	svc, scripted := newTestService(t, datastore.NewMemory(),
		fmt.Sprintf(`{"urlHost": %q, "urlPath": "/status", "method": "GET", "headers": {"Authorization": "Bearer {apikey}"}}`, api.URL),
		fmt.Sprintf(`{"urlHost": %q, "urlPath": "/status", "method": "GET", "headers": {"Authorization": "Bearer {token}"}}`, api.URL),
	)

	run, err := svc.Call(context.Background(), synth.EndpointInput{
		Instruction: "get status",
		URLHost:     api.URL,
	}, nil, map[string]any{"token": "x"}, fastOpts())
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if !run.Success {
		t.Fatalf("run failed: %s", run.Error)
	}
	if scripted.callCount() != 2 {
		t.Errorf("expected 2 synthesis calls, got %d", scripted.callCount())
	}
	if atomic.LoadInt32(&apiCalls) != 1 {
		t.Errorf("first attempt must not reach the API, got %d calls", apiCalls)
	}
}

func TestCall_CacheHitSkipsSynthesis(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer api.Close()

	store := datastore.NewMemory()
	svc, scripted := newTestService(t, store,
		fmt.Sprintf(`{"urlHost": %q, "method": "GET"}`, api.URL),
	)

	input := synth.EndpointInput{Instruction: "get status", URLHost: api.URL}
	opts := fastOpts()
	opts.CacheMode = types.CacheEnabled

	run, err := svc.Call(context.Background(), input, nil, nil, opts)
	if err != nil || !run.Success {
		t.Fatalf("first call failed: %v %+v", err, run)
	}
	if scripted.callCount() != 1 {
		t.Fatalf("expected 1 synthesis call, got %d", scripted.callCount())
	}

	// Identical input hits the cache: no further synthesis.
	run, err = svc.Call(context.Background(), input, nil, nil, opts)
	if err != nil || !run.Success {
		t.Fatalf("second call failed: %v %+v", err, run)
	}
	if scripted.callCount() != 1 {
		t.Errorf("cache hit must not re-synthesize, got %d calls", scripted.callCount())
	}
}

func TestCall_WriteOnlyNeverReads(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer api.Close()

	store := datastore.NewMemory()
	svc, scripted := newTestService(t, store,
		fmt.Sprintf(`{"urlHost": %q, "method": "GET"}`, api.URL),
		fmt.Sprintf(`{"urlHost": %q, "method": "GET"}`, api.URL),
	)

	input := synth.EndpointInput{Instruction: "get status", URLHost: api.URL}
	opts := fastOpts()
	opts.CacheMode = types.CacheWriteOnly

	for i := 0; i < 2; i++ {
		run, err := svc.Call(context.Background(), input, nil, nil, opts)
		if err != nil || !run.Success {
			t.Fatalf("call %d failed: %v %+v", i, err, run)
		}
	}
	if scripted.callCount() != 2 {
		t.Errorf("WRITEONLY must miss on read, got %d synthesis calls", scripted.callCount())
	}

	// But results were written.
	configs, err := store.ListApiConfigs(context.Background(), datastore.ListOpts{Limit: 10})
	if err != nil || len(configs) != 1 {
		t.Errorf("expected persisted config, got %v %v", configs, err)
	}
}

func TestCall_RunRecorded(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer api.Close()

	store := datastore.NewMemory()
	svc, _ := newTestService(t, store,
		fmt.Sprintf(`{"urlHost": %q, "method": "GET"}`, api.URL),
	)

	run, err := svc.Call(context.Background(), synth.EndpointInput{
		Instruction: "get status",
		URLHost:     api.URL,
	}, nil, nil, fastOpts())
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	runs, err := store.ListRuns(context.Background(), datastore.ListOpts{Limit: 10})
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected 1 recorded run, got %v %v", runs, err)
	}
	if runs[0].ID != run.ID || !runs[0].Success {
		t.Errorf("recorded run mismatch: %+v", runs[0])
	}
	if runs[0].StartedAt.IsZero() || runs[0].CompletedAt.IsZero() {
		t.Error("run timestamps missing")
	}
}

func TestCall_Webhook(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer api.Close()

	received := make(chan types.RunResult, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var run types.RunResult
		json.NewDecoder(r.Body).Decode(&run)
		received <- run
	}))
	defer hook.Close()

	svc, _ := newTestService(t, datastore.NewMemory(),
		fmt.Sprintf(`{"urlHost": %q, "method": "GET"}`, api.URL),
	)

	opts := fastOpts()
	opts.WebhookURL = hook.URL
	run, err := svc.Call(context.Background(), synth.EndpointInput{
		Instruction: "get status",
		URLHost:     api.URL,
	}, nil, nil, opts)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	select {
	case delivered := <-received:
		if delivered.ID != run.ID {
			t.Errorf("webhook run mismatch: %s vs %s", delivered.ID, run.ID)
		}
	case <-time.After(5 * time.Second):
		t.Error("webhook not delivered")
	}
}

func TestExtract_GzipCSV(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("id,name\n1,Ada\n2,Grace\n"))
	gz.Close()

	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer files.Close()

	svc, _ := newTestService(t, datastore.NewMemory(),
		fmt.Sprintf(`{"urlHost": %q, "method": "GET", "decompressionMethod": "AUTO", "fileType": "AUTO"}`, files.URL),
	)

	run, err := svc.Extract(context.Background(), synth.ExtractInput{
		Instruction: "load the people export",
		URLHost:     files.URL,
	}, nil, nil, fastOpts())
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !run.Success {
		t.Fatalf("run failed: %s", run.Error)
	}
	rows, ok := run.Data.([]any)
	if !ok || len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %v", run.Data)
	}
	first := rows[0].(map[string]any)
	if first["id"] != float64(1) || first["name"] != "Ada" {
		t.Errorf("got %v", first)
	}
}

func TestTransform(t *testing.T) {
	svc, _ := newTestService(t, datastore.NewMemory(),
		`{"jsonata": "{\"name\": user.first & \" \" & user.last}", "confidence": 95, "confidence_reasoning": "field match"}`,
	)

	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"name": {"type": "string", "minLength": 1}},
		"required": ["name"]
	}`)
	run, err := svc.Transform(context.Background(), synth.TransformInput{
		Instruction:    "full name",
		ResponseSchema: schema,
	}, map[string]any{"user": map[string]any{"first": "J", "last": "D"}}, fastOpts())
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if !run.Success {
		t.Fatalf("run failed: %s", run.Error)
	}
	if run.Data.(map[string]any)["name"] != "J D" {
		t.Errorf("got %v", run.Data)
	}
}

func TestTransform_EmptySchemaFails(t *testing.T) {
	svc, _ := newTestService(t, datastore.NewMemory())
	run, err := svc.Transform(context.Background(), synth.TransformInput{},
		map[string]any{"a": 1}, fastOpts())
	if err != nil {
		t.Fatalf("Transform errored: %v", err)
	}
	if run.Success {
		t.Error("expected failure without a response schema")
	}
}

func TestUpdateApiConfigID(t *testing.T) {
	store := datastore.NewMemory()
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	cfg := &types.ApiConfig{ID: "old", URLHost: "https://x", Instruction: "i"}
	if err := store.UpsertApiConfig(ctx, "old", cfg); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := svc.UpdateApiConfigID(ctx, "old", "new"); err != nil {
		t.Fatalf("UpdateApiConfigID failed: %v", err)
	}
	if _, err := store.GetApiConfig(ctx, "old"); err != types.ErrNotFound {
		t.Errorf("old ID still present: %v", err)
	}
	got, err := store.GetApiConfig(ctx, "new")
	if err != nil || got.URLHost != "https://x" {
		t.Errorf("new ID missing: %v %v", got, err)
	}
}
