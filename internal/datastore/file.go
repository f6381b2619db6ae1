package datastore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/apiweld/apiweld/internal/types"
)

// File implements Store with one JSON document per entity, grouped by kind
// under the storage directory. Runs are append-only.
type File struct {
	dir string
	mu  sync.Mutex
}

const (
	kindAPIs       = "apis"
	kindExtracts   = "extracts"
	kindTransforms = "transforms"
	kindRuns       = "runs"
)

// NewFile creates the storage layout under dir.
func NewFile(dir string) (*File, error) {
	for _, kind := range []string{kindAPIs, kindExtracts, kindTransforms, kindRuns} {
		if err := os.MkdirAll(filepath.Join(dir, kind), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	return &File{dir: dir}, nil
}

func (f *File) Close() error { return nil }

func (f *File) path(kind, id string) string {
	return filepath.Join(f.dir, kind, url.PathEscape(id)+".json")
}

func (f *File) write(kind, id string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", kind, id, err)
	}
	tmp := f.path(kind, id) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", kind, id, err)
	}
	return os.Rename(tmp, f.path(kind, id))
}

func (f *File) read(kind, id string, v any) error {
	data, err := os.ReadFile(f.path(kind, id))
	if os.IsNotExist(err) {
		return types.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s %s: %w", kind, id, err)
	}
	return json.Unmarshal(data, v)
}

func (f *File) delete(kind, id string) error {
	err := os.Remove(f.path(kind, id))
	if os.IsNotExist(err) {
		return types.ErrNotFound
	}
	return err
}

func (f *File) readAll(kind string, decode func([]byte) error) error {
	entries, err := os.ReadDir(filepath.Join(f.dir, kind))
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", kind, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.dir, kind, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		if err := decode(data); err != nil {
			return fmt.Errorf("failed to decode %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (f *File) GetApiConfig(ctx context.Context, id string) (*types.ApiConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cfg types.ApiConfig
	if err := f.read(kindAPIs, id, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (f *File) UpsertApiConfig(ctx context.Context, id string, cfg *types.ApiConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *cfg
	copied.ID = id
	return f.write(kindAPIs, id, &copied)
}

func (f *File) DeleteApiConfig(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delete(kindAPIs, id)
}

func (f *File) ListApiConfigs(ctx context.Context, opts ListOpts) ([]*types.ApiConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*types.ApiConfig
	err := f.readAll(kindAPIs, func(data []byte) error {
		var cfg types.ApiConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return err
		}
		all = append(all, &cfg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return windowApis(all, opts), nil
}

func (f *File) GetExtractConfig(ctx context.Context, id string) (*types.ExtractConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cfg types.ExtractConfig
	if err := f.read(kindExtracts, id, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (f *File) UpsertExtractConfig(ctx context.Context, id string, cfg *types.ExtractConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *cfg
	copied.ID = id
	return f.write(kindExtracts, id, &copied)
}

func (f *File) DeleteExtractConfig(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delete(kindExtracts, id)
}

func (f *File) ListExtractConfigs(ctx context.Context, opts ListOpts) ([]*types.ExtractConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*types.ExtractConfig
	err := f.readAll(kindExtracts, func(data []byte) error {
		var cfg types.ExtractConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return err
		}
		all = append(all, &cfg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return windowExtracts(all, opts), nil
}

func (f *File) GetTransformConfig(ctx context.Context, id string) (*types.TransformConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cfg types.TransformConfig
	if err := f.read(kindTransforms, id, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (f *File) UpsertTransformConfig(ctx context.Context, id string, cfg *types.TransformConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *cfg
	copied.ID = id
	return f.write(kindTransforms, id, &copied)
}

func (f *File) DeleteTransformConfig(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delete(kindTransforms, id)
}

func (f *File) ListTransformConfigs(ctx context.Context, opts ListOpts) ([]*types.TransformConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*types.TransformConfig
	err := f.readAll(kindTransforms, func(data []byte) error {
		var cfg types.TransformConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return err
		}
		all = append(all, &cfg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return windowTransforms(all, opts), nil
}

func (f *File) CreateRun(ctx context.Context, run *types.RunResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(kindRuns, run.ID, run)
}

func (f *File) GetRun(ctx context.Context, id string) (*types.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var run types.RunResult
	if err := f.read(kindRuns, id, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (f *File) ListRuns(ctx context.Context, opts ListOpts) ([]*types.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*types.RunResult
	err := f.readAll(kindRuns, func(data []byte) error {
		var run types.RunResult
		if err := json.Unmarshal(data, &run); err != nil {
			return err
		}
		if opts.ConfigID != "" && run.ConfigID != opts.ConfigID {
			return nil
		}
		all = append(all, &run)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })
	return windowRuns(all, opts), nil
}

func windowApis(all []*types.ApiConfig, opts ListOpts) []*types.ApiConfig {
	start, end := bounds(len(all), opts)
	return all[start:end]
}

func windowExtracts(all []*types.ExtractConfig, opts ListOpts) []*types.ExtractConfig {
	start, end := bounds(len(all), opts)
	return all[start:end]
}

func windowTransforms(all []*types.TransformConfig, opts ListOpts) []*types.TransformConfig {
	start, end := bounds(len(all), opts)
	return all[start:end]
}

func windowRuns(all []*types.RunResult, opts ListOpts) []*types.RunResult {
	start, end := bounds(len(all), opts)
	return all[start:end]
}

func bounds(n int, opts ListOpts) (int, int) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	start := opts.Offset
	if start > n {
		start = n
	}
	end := start + limit
	if end > n {
		end = n
	}
	return start, end
}
