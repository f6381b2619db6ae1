package datastore

import (
	"context"
	"sync"

	"github.com/apiweld/apiweld/internal/types"
)

// Memory implements Store with in-process maps. It is the default backend
// and the reference semantics for the others.
type Memory struct {
	mu         sync.RWMutex
	apis       map[string]*types.ApiConfig
	apiOrder   []string
	extracts   map[string]*types.ExtractConfig
	extOrder   []string
	transforms map[string]*types.TransformConfig
	tfOrder    []string
	runs       []*types.RunResult
	runByID    map[string]*types.RunResult
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		apis:       make(map[string]*types.ApiConfig),
		extracts:   make(map[string]*types.ExtractConfig),
		transforms: make(map[string]*types.TransformConfig),
		runByID:    make(map[string]*types.RunResult),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) GetApiConfig(ctx context.Context, id string) (*types.ApiConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.apis[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	copied := *cfg
	return &copied, nil
}

func (m *Memory) UpsertApiConfig(ctx context.Context, id string, cfg *types.ApiConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.apis[id]; !exists {
		m.apiOrder = append(m.apiOrder, id)
	}
	copied := *cfg
	copied.ID = id
	m.apis[id] = &copied
	return nil
}

func (m *Memory) DeleteApiConfig(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apis[id]; !ok {
		return types.ErrNotFound
	}
	delete(m.apis, id)
	m.apiOrder = removeID(m.apiOrder, id)
	return nil
}

func (m *Memory) ListApiConfigs(ctx context.Context, opts ListOpts) ([]*types.ApiConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := window(m.apiOrder, opts)
	out := make([]*types.ApiConfig, 0, len(ids))
	for _, id := range ids {
		copied := *m.apis[id]
		out = append(out, &copied)
	}
	return out, nil
}

func (m *Memory) GetExtractConfig(ctx context.Context, id string) (*types.ExtractConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.extracts[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	copied := *cfg
	return &copied, nil
}

func (m *Memory) UpsertExtractConfig(ctx context.Context, id string, cfg *types.ExtractConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.extracts[id]; !exists {
		m.extOrder = append(m.extOrder, id)
	}
	copied := *cfg
	copied.ID = id
	m.extracts[id] = &copied
	return nil
}

func (m *Memory) DeleteExtractConfig(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.extracts[id]; !ok {
		return types.ErrNotFound
	}
	delete(m.extracts, id)
	m.extOrder = removeID(m.extOrder, id)
	return nil
}

func (m *Memory) ListExtractConfigs(ctx context.Context, opts ListOpts) ([]*types.ExtractConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := window(m.extOrder, opts)
	out := make([]*types.ExtractConfig, 0, len(ids))
	for _, id := range ids {
		copied := *m.extracts[id]
		out = append(out, &copied)
	}
	return out, nil
}

func (m *Memory) GetTransformConfig(ctx context.Context, id string) (*types.TransformConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.transforms[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	copied := *cfg
	return &copied, nil
}

func (m *Memory) UpsertTransformConfig(ctx context.Context, id string, cfg *types.TransformConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.transforms[id]; !exists {
		m.tfOrder = append(m.tfOrder, id)
	}
	copied := *cfg
	copied.ID = id
	m.transforms[id] = &copied
	return nil
}

func (m *Memory) DeleteTransformConfig(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transforms[id]; !ok {
		return types.ErrNotFound
	}
	delete(m.transforms, id)
	m.tfOrder = removeID(m.tfOrder, id)
	return nil
}

func (m *Memory) ListTransformConfigs(ctx context.Context, opts ListOpts) ([]*types.TransformConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := window(m.tfOrder, opts)
	out := make([]*types.TransformConfig, 0, len(ids))
	for _, id := range ids {
		copied := *m.transforms[id]
		out = append(out, &copied)
	}
	return out, nil
}

func (m *Memory) CreateRun(ctx context.Context, run *types.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *run
	m.runs = append(m.runs, &copied)
	m.runByID[run.ID] = &copied
	return nil
}

func (m *Memory) GetRun(ctx context.Context, id string) (*types.RunResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runByID[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	copied := *run
	return &copied, nil
}

func (m *Memory) ListRuns(ctx context.Context, opts ListOpts) ([]*types.RunResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Newest first.
	filtered := make([]*types.RunResult, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		run := m.runs[i]
		if opts.ConfigID != "" && run.ConfigID != opts.ConfigID {
			continue
		}
		filtered = append(filtered, run)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	start := opts.Offset
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	out := make([]*types.RunResult, 0, end-start)
	for _, run := range filtered[start:end] {
		copied := *run
		out = append(out, &copied)
	}
	return out, nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func window(ids []string, opts ListOpts) []string {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	start := opts.Offset
	if start > len(ids) {
		start = len(ids)
	}
	end := start + limit
	if end > len(ids) {
		end = len(ids)
	}
	return ids[start:end]
}
