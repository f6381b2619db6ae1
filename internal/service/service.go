// internal/service/service.go
// Package service contains the business logic: it ties the synthesizers, the
// executor, the file pipeline and the datastore together into the
// self-healing call, extract and transform operations.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/apiweld/apiweld/internal/datastore"
	"github.com/apiweld/apiweld/internal/executor"
	"github.com/apiweld/apiweld/internal/fileparse"
	"github.com/apiweld/apiweld/internal/httpcall"
	"github.com/apiweld/apiweld/internal/interp"
	"github.com/apiweld/apiweld/internal/llm"
	"github.com/apiweld/apiweld/internal/mapping"
	"github.com/apiweld/apiweld/internal/queue"
	"github.com/apiweld/apiweld/internal/synth"
	"github.com/apiweld/apiweld/internal/types"
)

const extractTimeout = 300 * time.Second

// Service orchestrates synthesis, execution and persistence.
type Service struct {
	store datastore.Store
	synth *synth.Synthesizer
	exec  *executor.Executor
	calls *httpcall.Caller
	queue *queue.Queue
}

// New creates a Service.
func New(store datastore.Store, synthesizer *synth.Synthesizer, caller *httpcall.Caller, q *queue.Queue) *Service {
	return &Service{
		store: store,
		synth: synthesizer,
		exec:  executor.New(caller),
		calls: caller,
		queue: q,
	}
}

// Options tunes one invocation.
type Options struct {
	CacheMode  types.CacheMode
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	WebhookURL string
}

func (o Options) callOptions() httpcall.Options {
	return httpcall.Options{
		Retries:    o.Retries,
		RetryDelay: o.RetryDelay,
		Timeout:    o.Timeout,
	}
}

// Call resolves an ApiConfig (from the cache or the endpoint synthesizer),
// executes it, and reshapes the payload through the transform pipeline.
// Execution failures loop back into the synthesizer with the error context,
// up to the repair cap. The returned run records the outcome either way.
func (s *Service) Call(ctx context.Context, input synth.EndpointInput, payload, credentials map[string]any, opts Options) (*types.RunResult, error) {
	started := time.Now().UTC()

	canSynthesize := input.Instruction != "" && input.URLHost != ""

	var cfg *types.ApiConfig
	if opts.CacheMode.Reads() {
		lookupID := input.ID
		if lookupID == "" && canSynthesize {
			lookupID = synth.EndpointID(input, payload, credentials)
		}
		if lookupID != "" {
			cached, err := s.store.GetApiConfig(ctx, lookupID)
			if err == nil {
				cfg = cached
			} else if !errors.Is(err, types.ErrNotFound) {
				return nil, fmt.Errorf("failed to look up config: %w", err)
			}
		}
	}
	if cfg == nil && !canSynthesize {
		return nil, &types.ConfigError{Msg: "instruction and urlHost are required when no cached config matches"}
	}

	var (
		result    *executor.Result
		messages  []llm.Message
		lastError string
		runErr    error
	)
	for attempt := 0; attempt < synth.MaxRepairAttempts; attempt++ {
		if cfg == nil {
			generated, msgs, err := s.synth.PrepareEndpoint(ctx, input, payload, credentials, lastError, messages, attempt)
			if err != nil {
				runErr = err
				break
			}
			cfg = generated
			messages = msgs
		}

		res, err := s.exec.Call(ctx, cfg, payload, credentials, opts.callOptions())
		if err == nil && res.DataPathSuccess {
			result = res
			runErr = nil
			break
		}
		if err == nil {
			// Payload extraction missed; usable only if synthesis cannot
			// improve the path.
			if !canSynthesize || attempt == synth.MaxRepairAttempts-1 {
				result = res
				runErr = nil
				break
			}
			lastError = fmt.Sprintf("dataPath %q did not match the response shape", cfg.DataPath)
			cfg = nil
			continue
		}

		runErr = err
		if !canSynthesize || !repairable(err) {
			break
		}
		lastError = err.Error()
		cfg = nil
	}

	run := &types.RunResult{
		ID:        uuid.NewString(),
		StartedAt: started,
	}
	if cfg != nil {
		run.ConfigID = cfg.ID
		run.Config = cfg
	}

	if runErr == nil && result != nil {
		data, tf, err := s.applyTransform(ctx, transformFor(cfg), result.Data, opts)
		if err != nil {
			runErr = err
		} else {
			run.Success = true
			run.Data = data
			if tf != nil {
				cfg.ResponseMapping = tf.ResponseMapping
				s.persistTransform(ctx, tf, opts)
			}
		}
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	run.CompletedAt = time.Now().UTC()

	if cfg != nil && run.Success && opts.CacheMode.Writes() {
		if err := s.store.UpsertApiConfig(ctx, cfg.ID, cfg); err != nil {
			log.Printf("service: failed to persist config %s: %v", cfg.ID, err)
		}
	}
	s.recordRun(ctx, run)
	s.notifyWebhook(run, opts.WebhookURL)
	return run, nil
}

// Extract fetches a file source, decompresses and parses it, then runs the
// same transform pairing as Call.
func (s *Service) Extract(ctx context.Context, input synth.ExtractInput, payload, credentials map[string]any, opts Options) (*types.RunResult, error) {
	started := time.Now().UTC()
	if opts.Timeout <= 0 {
		opts.Timeout = extractTimeout
	}

	canSynthesize := input.Instruction != "" && input.URLHost != ""

	var cfg *types.ExtractConfig
	if opts.CacheMode.Reads() {
		lookupID := input.ID
		if lookupID == "" && canSynthesize {
			lookupID = synth.ExtractID(input, payload, credentials)
		}
		if lookupID != "" {
			cached, err := s.store.GetExtractConfig(ctx, lookupID)
			if err == nil {
				cfg = cached
			} else if !errors.Is(err, types.ErrNotFound) {
				return nil, fmt.Errorf("failed to look up config: %w", err)
			}
		}
	}
	if cfg == nil && !canSynthesize {
		return nil, &types.ConfigError{Msg: "instruction and urlHost are required when no cached config matches"}
	}

	var (
		data      any
		messages  []llm.Message
		lastError string
		runErr    error
	)
	for attempt := 0; attempt < synth.MaxRepairAttempts; attempt++ {
		if cfg == nil {
			generated, msgs, err := s.synth.PrepareExtract(ctx, input, payload, credentials, lastError, messages, attempt)
			if err != nil {
				runErr = err
				break
			}
			cfg = generated
			messages = msgs
		}

		extracted, err := s.runExtract(ctx, cfg, payload, credentials, opts)
		if err == nil {
			data = extracted
			runErr = nil
			break
		}
		runErr = err
		if !canSynthesize || !repairable(err) {
			break
		}
		lastError = err.Error()
		cfg = nil
	}

	run := &types.RunResult{
		ID:        uuid.NewString(),
		StartedAt: started,
	}
	if cfg != nil {
		run.ConfigID = cfg.ID
		run.Config = cfg
	}

	if runErr == nil {
		mapped, tf, err := s.applyTransform(ctx, synth.TransformInput{
			Instruction:     cfg.Instruction,
			ResponseSchema:  cfg.ResponseSchema,
			ResponseMapping: cfg.ResponseMapping,
		}, data, opts)
		if err != nil {
			runErr = err
		} else {
			run.Success = true
			run.Data = mapped
			if tf != nil {
				cfg.ResponseMapping = tf.ResponseMapping
				s.persistTransform(ctx, tf, opts)
			}
		}
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	run.CompletedAt = time.Now().UTC()

	if cfg != nil && run.Success && opts.CacheMode.Writes() {
		if err := s.store.UpsertExtractConfig(ctx, cfg.ID, cfg); err != nil {
			log.Printf("service: failed to persist config %s: %v", cfg.ID, err)
		}
	}
	s.recordRun(ctx, run)
	s.notifyWebhook(run, opts.WebhookURL)
	return run, nil
}

// Transform reshapes caller-supplied data into the target schema.
func (s *Service) Transform(ctx context.Context, input synth.TransformInput, data any, opts Options) (*types.RunResult, error) {
	started := time.Now().UTC()

	run := &types.RunResult{
		ID:        uuid.NewString(),
		StartedAt: started,
	}

	mapped, tf, err := s.applyTransform(ctx, input, data, opts)
	if err != nil {
		run.Error = err.Error()
	} else if tf == nil {
		run.Error = "nothing to transform: responseSchema and data are required"
	} else {
		run.Success = true
		run.Data = mapped
		run.ConfigID = tf.ID
		run.Config = tf
		s.persistTransform(ctx, tf, opts)
	}
	run.CompletedAt = time.Now().UTC()

	s.recordRun(ctx, run)
	s.notifyWebhook(run, opts.WebhookURL)
	return run, nil
}

// GenerateSchema produces a JSON Schema from an instruction and sample data.
func (s *Service) GenerateSchema(ctx context.Context, instruction, responseData string) (json.RawMessage, error) {
	return s.synth.GenerateSchema(ctx, instruction, responseData)
}

// UpdateApiConfigID renames a stored config.
func (s *Service) UpdateApiConfigID(ctx context.Context, oldID, newID string) error {
	cfg, err := s.store.GetApiConfig(ctx, oldID)
	if err != nil {
		return err
	}
	cfg.UpdatedAt = time.Now().UTC()
	if err := s.store.UpsertApiConfig(ctx, newID, cfg); err != nil {
		return err
	}
	return s.store.DeleteApiConfig(ctx, oldID)
}

// Store exposes the datastore for config CRUD at the API boundary.
func (s *Service) Store() datastore.Store { return s.store }

// applyTransform pairs the data with a transform config and applies it. A
// cached mapping whose output no longer validates unseals the config: the
// transform synthesizer is re-invoked from scratch.
func (s *Service) applyTransform(ctx context.Context, input synth.TransformInput, data any, opts Options) (any, *types.TransformConfig, error) {
	tf, err := s.synth.PrepareTransform(ctx, s.store, opts.CacheMode.Reads(), input, data)
	if err != nil {
		return nil, nil, err
	}
	if tf == nil {
		return data, nil, nil
	}

	res := mapping.ValidateAndApply(data, tf.ResponseMapping, tf.ResponseSchema)
	if !res.Success {
		input.ResponseMapping = ""
		tf, err = s.synth.PrepareTransform(ctx, nil, false, input, data)
		if err != nil {
			return nil, nil, err
		}
		if tf == nil {
			return nil, nil, fmt.Errorf("transform failed: %s", res.Error)
		}
		res = mapping.ValidateAndApply(data, tf.ResponseMapping, tf.ResponseSchema)
		if !res.Success {
			return nil, nil, fmt.Errorf("transform failed: %s", res.Error)
		}
	}
	return res.Data, tf, nil
}

func (s *Service) persistTransform(ctx context.Context, tf *types.TransformConfig, opts Options) {
	if !opts.CacheMode.Writes() {
		return
	}
	if err := s.store.UpsertTransformConfig(ctx, tf.ID, tf); err != nil {
		log.Printf("service: failed to persist transform %s: %v", tf.ID, err)
	}
}

func (s *Service) recordRun(ctx context.Context, run *types.RunResult) {
	if err := s.store.CreateRun(ctx, run); err != nil {
		log.Printf("service: failed to record run %s: %v", run.ID, err)
	}
}

// notifyWebhook posts the run to the webhook URL through the job queue,
// fire and forget.
func (s *Service) notifyWebhook(run *types.RunResult, webhookURL string) {
	if webhookURL == "" || s.queue == nil {
		return
	}
	s.queue.Enqueue("webhook:"+run.ID, func() error {
		body, err := json.Marshal(run)
		if err != nil {
			return err
		}
		resp, err := http.Post(webhookURL, "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
}

// runExtract fetches and parses one file source.
func (s *Service) runExtract(ctx context.Context, cfg *types.ExtractConfig, payload, credentials map[string]any, opts Options) (any, error) {
	vars := make(map[string]any, len(payload)+len(credentials))
	for k, v := range payload {
		vars[k] = v
	}
	for k, v := range credentials {
		vars[k] = v
	}

	templates := []string{cfg.URLPath, cfg.Body}
	for _, v := range cfg.Headers {
		templates = append(templates, v)
	}
	for _, v := range cfg.QueryParams {
		templates = append(templates, v)
	}
	if missing := interp.Unbound(vars, templates...); len(missing) > 0 {
		return nil, &types.UnresolvedVariablesError{Variables: missing}
	}

	host, err := interp.Interpolate(cfg.URLHost, vars)
	if err != nil {
		return nil, err
	}
	path, err := interp.Interpolate(cfg.URLPath, vars)
	if err != nil {
		return nil, err
	}
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		hv, err := interp.Interpolate(v, vars)
		if err != nil {
			return nil, err
		}
		headers[k] = hv
	}
	query := make(map[string]string, len(cfg.QueryParams))
	for k, v := range cfg.QueryParams {
		qv, err := interp.Interpolate(v, vars)
		if err != nil {
			return nil, err
		}
		query[k] = qv
	}
	body, err := interp.Interpolate(cfg.Body, vars)
	if err != nil {
		return nil, err
	}

	method := cfg.Method
	if method == "" {
		method = "GET"
	}
	url := host
	if path != "" {
		url = joinURL(host, path)
	}

	raw, err := s.calls.Fetch(ctx, httpcall.Request{
		Method:  method,
		URL:     url,
		Headers: headers,
		Query:   query,
		Body:    body,
	}, opts.callOptions())
	if err != nil {
		return nil, err
	}

	decompressed, err := fileparse.Decompress(raw, cfg.DecompressionMethod)
	if err != nil {
		return nil, err
	}
	parsed, err := fileparse.Parse(decompressed, cfg.FileType)
	if err != nil {
		return nil, err
	}

	value, ok := executor.Navigate(parsed, cfg.DataPath)
	if !ok {
		log.Printf("service: dataPath %q missing on extracted file", cfg.DataPath)
	}
	return value, nil
}

func joinURL(host, path string) string {
	h := host
	for len(h) > 0 && h[len(h)-1] == '/' {
		h = h[:len(h)-1]
	}
	if len(path) > 0 && path[0] != '/' {
		path = "/" + path
	}
	return h + path
}

func transformFor(cfg *types.ApiConfig) synth.TransformInput {
	return synth.TransformInput{
		Instruction:     cfg.Instruction,
		ResponseSchema:  cfg.ResponseSchema,
		ResponseMapping: cfg.ResponseMapping,
	}
}

func repairable(err error) bool {
	var httpErr *types.HTTPError
	var htmlErr *types.HTMLResponseError
	var unresolved *types.UnresolvedVariablesError
	return errors.As(err, &httpErr) || errors.As(err, &htmlErr) || errors.As(err, &unresolved)
}
