package datastore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/apiweld/apiweld/internal/types"
)

// Redis implements Store on a redis server. Configs live under per-kind
// hashes; runs are an append-only list.
type Redis struct {
	rdb *redis.Client
}

const (
	redisAPIs       = "apiweld:apis"
	redisExtracts   = "apiweld:extracts"
	redisTransforms = "apiweld:transforms"
	redisRuns       = "apiweld:runs"
	redisRunByID    = "apiweld:run"
)

// NewRedis connects to the configured redis server.
func NewRedis(ctx context.Context, cfg Config) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) hashGet(ctx context.Context, key, id string, v any) error {
	data, err := r.rdb.HGet(ctx, key, id).Bytes()
	if err == redis.Nil {
		return types.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read from redis: %w", err)
	}
	return json.Unmarshal(data, v)
}

func (r *Redis) hashSet(ctx context.Context, key, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode for redis: %w", err)
	}
	if err := r.rdb.HSet(ctx, key, id, data).Err(); err != nil {
		return fmt.Errorf("failed to write to redis: %w", err)
	}
	return nil
}

func (r *Redis) hashDel(ctx context.Context, key, id string) error {
	n, err := r.rdb.HDel(ctx, key, id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (r *Redis) hashList(ctx context.Context, key string, decode func([]byte) error) error {
	values, err := r.rdb.HVals(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to list from redis: %w", err)
	}
	for _, v := range values {
		if err := decode([]byte(v)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Redis) GetApiConfig(ctx context.Context, id string) (*types.ApiConfig, error) {
	var cfg types.ApiConfig
	if err := r.hashGet(ctx, redisAPIs, id, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *Redis) UpsertApiConfig(ctx context.Context, id string, cfg *types.ApiConfig) error {
	copied := *cfg
	copied.ID = id
	return r.hashSet(ctx, redisAPIs, id, &copied)
}

func (r *Redis) DeleteApiConfig(ctx context.Context, id string) error {
	return r.hashDel(ctx, redisAPIs, id)
}

func (r *Redis) ListApiConfigs(ctx context.Context, opts ListOpts) ([]*types.ApiConfig, error) {
	var all []*types.ApiConfig
	err := r.hashList(ctx, redisAPIs, func(data []byte) error {
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
	sortByCreatedApis(all)
	return windowApis(all, opts), nil
}

func (r *Redis) GetExtractConfig(ctx context.Context, id string) (*types.ExtractConfig, error) {
	var cfg types.ExtractConfig
	if err := r.hashGet(ctx, redisExtracts, id, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *Redis) UpsertExtractConfig(ctx context.Context, id string, cfg *types.ExtractConfig) error {
	copied := *cfg
	copied.ID = id
	return r.hashSet(ctx, redisExtracts, id, &copied)
}

func (r *Redis) DeleteExtractConfig(ctx context.Context, id string) error {
	return r.hashDel(ctx, redisExtracts, id)
}

func (r *Redis) ListExtractConfigs(ctx context.Context, opts ListOpts) ([]*types.ExtractConfig, error) {
	var all []*types.ExtractConfig
	err := r.hashList(ctx, redisExtracts, func(data []byte) error {
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
	sortByCreatedExtracts(all)
	return windowExtracts(all, opts), nil
}

func (r *Redis) GetTransformConfig(ctx context.Context, id string) (*types.TransformConfig, error) {
	var cfg types.TransformConfig
	if err := r.hashGet(ctx, redisTransforms, id, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *Redis) UpsertTransformConfig(ctx context.Context, id string, cfg *types.TransformConfig) error {
	copied := *cfg
	copied.ID = id
	return r.hashSet(ctx, redisTransforms, id, &copied)
}

func (r *Redis) DeleteTransformConfig(ctx context.Context, id string) error {
	return r.hashDel(ctx, redisTransforms, id)
}

func (r *Redis) ListTransformConfigs(ctx context.Context, opts ListOpts) ([]*types.TransformConfig, error) {
	var all []*types.TransformConfig
	err := r.hashList(ctx, redisTransforms, func(data []byte) error {
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
	sortByCreatedTransforms(all)
	return windowTransforms(all, opts), nil
}

func (r *Redis) CreateRun(ctx context.Context, run *types.RunResult) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.LPush(ctx, redisRuns, run.ID)
	pipe.HSet(ctx, redisRunByID, run.ID, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

func (r *Redis) GetRun(ctx context.Context, id string) (*types.RunResult, error) {
	var run types.RunResult
	if err := r.hashGet(ctx, redisRunByID, id, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *Redis) ListRuns(ctx context.Context, opts ListOpts) ([]*types.RunResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	// IDs are pushed newest-first; walk the list and filter client-side.
	var out []*types.RunResult
	skipped := 0
	const batch = 64
	for cursor := int64(0); len(out) < limit; cursor += batch {
		ids, err := r.rdb.LRange(ctx, redisRuns, cursor, cursor+batch-1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			var run types.RunResult
			if err := r.hashGet(ctx, redisRunByID, id, &run); err != nil {
				if err == types.ErrNotFound {
					continue
				}
				return nil, err
			}
			if opts.ConfigID != "" && run.ConfigID != opts.ConfigID {
				continue
			}
			if skipped < opts.Offset {
				skipped++
				continue
			}
			out = append(out, &run)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
