package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apiweld/apiweld/internal/httpcall"
	"github.com/apiweld/apiweld/internal/types"
)

func fastOpts() httpcall.Options {
	return httpcall.Options{Retries: 1, RetryDelay: time.Millisecond, Timeout: 5 * time.Second}
}

// itemServer serves total items in offset/limit windows.
func itemServer(t *testing.T, total int, calls *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 50
		}
		var items []any
		for i := offset; i < offset+limit && i < total; i++ {
			items = append(items, map[string]any{"id": i})
		}
		if items == nil {
			items = []any{}
		}
		json.NewEncoder(w).Encode(map[string]any{"items": items})
	}))
}

func TestCall_OffsetPagination(t *testing.T) {
	var calls int32
	server := itemServer(t, 173, &calls)
	defer server.Close()

	cfg := &types.ApiConfig{
		URLHost:     server.URL,
		Method:      "GET",
		QueryParams: map[string]string{"offset": "{offset}", "limit": "{limit}"},
		Pagination:  &types.Pagination{Type: types.PaginationOffset, PageSize: 50},
		DataPath:    "items",
	}

	res, err := New(httpcall.New()).Call(context.Background(), cfg, nil, nil, fastOpts())
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	items, ok := res.Data.([]any)
	if !ok {
		t.Fatalf("expected array, got %T", res.Data)
	}
	if len(items) != 173 {
		t.Errorf("expected 173 items, got %d", len(items))
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Errorf("expected 4 iterations (50+50+50+23), got %d", got)
	}
}

func TestCall_PageBasedStartsAtOne(t *testing.T) {
	var pages []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages = append(pages, r.URL.Query().Get("page"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		var items []any
		if page == 1 {
			items = []any{map[string]any{"id": 1}, map[string]any{"id": 2}}
		} else {
			items = []any{map[string]any{"id": 3}}
		}
		json.NewEncoder(w).Encode(items)
	}))
	defer server.Close()

	cfg := &types.ApiConfig{
		URLHost:     server.URL,
		Method:      "GET",
		QueryParams: map[string]string{"page": "{page}", "limit": "{limit}"},
		Pagination:  &types.Pagination{Type: types.PaginationPage, PageSize: 2},
	}

	res, err := New(httpcall.New()).Call(context.Background(), cfg, nil, nil, fastOpts())
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if len(pages) != 2 || pages[0] != "1" || pages[1] != "2" {
		t.Errorf("pages requested: %v", pages)
	}
	if items := res.Data.([]any); len(items) != 3 {
		t.Errorf("expected 3 items, got %d", len(items))
	}
}

func TestCall_DisabledPaginationRunsOnce(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		// A full page: without DISABLED this would fetch again.
		json.NewEncoder(w).Encode([]any{map[string]any{"id": 1}, map[string]any{"id": 2}})
	}))
	defer server.Close()

	cfg := &types.ApiConfig{
		URLHost:    server.URL,
		Method:     "GET",
		Pagination: &types.Pagination{Type: types.PaginationDisabled, PageSize: 2},
	}

	if _, err := New(httpcall.New()).Call(context.Background(), cfg, nil, nil, fastOpts()); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("DISABLED pagination must execute exactly once, got %d calls", calls)
	}
}

func TestCall_IdenticalPagesTerminate(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		// Ignores paging params entirely.
		json.NewEncoder(w).Encode([]any{map[string]any{"id": 1}, map[string]any{"id": 2}})
	}))
	defer server.Close()

	cfg := &types.ApiConfig{
		URLHost:    server.URL,
		Method:     "GET",
		Pagination: &types.Pagination{Type: types.PaginationOffset, PageSize: 2},
	}

	res, err := New(httpcall.New()).Call(context.Background(), cfg, nil, nil, fastOpts())
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected termination on second identical page, got %d calls", got)
	}
	if items := res.Data.([]any); len(items) != 2 {
		t.Errorf("expected 2 items, got %d", len(items))
	}
}

func TestCall_UnresolvedVariablesNoHTTPCall(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	cfg := &types.ApiConfig{
		URLHost: server.URL,
		Method:  "GET",
		Headers: map[string]string{"Authorization": "Bearer {apikey}"},
	}

	_, err := New(httpcall.New()).Call(context.Background(), cfg,
		nil, map[string]any{"token": "x"}, fastOpts())
	var unresolved *types.UnresolvedVariablesError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedVariablesError, got %v", err)
	}
	if len(unresolved.Variables) != 1 || unresolved.Variables[0] != "apikey" {
		t.Errorf("got variables %v", unresolved.Variables)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("no HTTP call may be made with unresolved variables")
	}
}

func TestCall_HTTPErrorCarriesRequestSummary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`bad request`))
	}))
	defer server.Close()

	cfg := &types.ApiConfig{
		URLHost:     server.URL,
		URLPath:     "/v1/things",
		Method:      "GET",
		QueryParams: map[string]string{"q": "x"},
	}

	_, err := New(httpcall.New()).Call(context.Background(), cfg, nil, nil, fastOpts())
	var httpErr *types.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.Request == "" {
		t.Error("expected request summary for synthesizer feedback")
	}
}

func TestCall_ScalarResultReturnedAsIs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"count": float64(42)})
	}))
	defer server.Close()

	cfg := &types.ApiConfig{URLHost: server.URL, Method: "GET", DataPath: "count"}
	res, err := New(httpcall.New()).Call(context.Background(), cfg, nil, nil, fastOpts())
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if res.Data != float64(42) {
		t.Errorf("got %v", res.Data)
	}
}

func TestCall_BodyInterpolatedAndParsed(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	cfg := &types.ApiConfig{
		URLHost: server.URL,
		Method:  "POST",
		Body:    `{"query":"{q}"}`,
	}

	_, err := New(httpcall.New()).Call(context.Background(), cfg,
		map[string]any{"q": "all characters"}, nil, fastOpts())
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if received["query"] != "all characters" {
		t.Errorf("body not interpolated: %v", received)
	}
}

func TestNavigate(t *testing.T) {
	doc := map[string]any{
		"data": map[string]any{
			"items": []any{
				map[string]any{"name": "a"},
				map[string]any{"name": "b"},
			},
		},
	}

	v, ok := Navigate(doc, "data.items")
	if !ok {
		t.Fatal("expected success")
	}
	if items := v.([]any); len(items) != 2 {
		t.Errorf("got %v", v)
	}

	// Leading $ means root.
	v, ok = Navigate(doc, "$.data.items")
	if !ok || len(v.([]any)) != 2 {
		t.Errorf("$ navigation failed: %v ok=%v", v, ok)
	}

	// Field projection over an array.
	v, ok = Navigate(doc, "data.items.name")
	if !ok {
		t.Fatal("expected projection success")
	}
	if !reflect.DeepEqual(v, []any{"a", "b"}) {
		t.Errorf("got %v", v)
	}

	// Numeric index.
	v, ok = Navigate(doc, "data.items.0.name")
	if !ok || v != "a" {
		t.Errorf("index navigation: got %v ok=%v", v, ok)
	}

	// Missing segment keeps the last valid value, reports failure.
	v, ok = Navigate(doc, "data.missing")
	if ok {
		t.Error("expected dataPath miss")
	}
	if _, isMap := v.(map[string]any); !isMap {
		t.Errorf("expected last valid value, got %T", v)
	}
}
