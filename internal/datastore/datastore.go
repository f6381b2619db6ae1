// internal/datastore/datastore.go
// Package datastore persists configs and runs behind a simple KV + list
// interface with memory, file and redis implementations.
package datastore

import (
	"context"

	"github.com/apiweld/apiweld/internal/types"
)

// ListOpts configures list behavior for configs and runs.
type ListOpts struct {
	Limit  int
	Offset int
	// ConfigID filters runs to those produced by one config.
	ConfigID string
}

// Store defines the persistence interface consumed by the core. All
// operations are linearizable per key.
type Store interface {
	GetApiConfig(ctx context.Context, id string) (*types.ApiConfig, error)
	UpsertApiConfig(ctx context.Context, id string, cfg *types.ApiConfig) error
	DeleteApiConfig(ctx context.Context, id string) error
	ListApiConfigs(ctx context.Context, opts ListOpts) ([]*types.ApiConfig, error)

	GetExtractConfig(ctx context.Context, id string) (*types.ExtractConfig, error)
	UpsertExtractConfig(ctx context.Context, id string, cfg *types.ExtractConfig) error
	DeleteExtractConfig(ctx context.Context, id string) error
	ListExtractConfigs(ctx context.Context, opts ListOpts) ([]*types.ExtractConfig, error)

	GetTransformConfig(ctx context.Context, id string) (*types.TransformConfig, error)
	UpsertTransformConfig(ctx context.Context, id string, cfg *types.TransformConfig) error
	DeleteTransformConfig(ctx context.Context, id string) error
	ListTransformConfigs(ctx context.Context, opts ListOpts) ([]*types.TransformConfig, error)

	CreateRun(ctx context.Context, run *types.RunResult) error
	GetRun(ctx context.Context, id string) (*types.RunResult, error)
	ListRuns(ctx context.Context, opts ListOpts) ([]*types.RunResult, error)

	Close() error
}
