// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/apiweld/apiweld/internal/datastore"
	"github.com/apiweld/apiweld/internal/service"
	"github.com/apiweld/apiweld/internal/synth"
	"github.com/apiweld/apiweld/internal/types"
)

// Handlers holds HTTP handler dependencies
type Handlers struct {
	svc         *service.Service
	healthCheck func() error
}

// NewHandlers creates new API handlers
func NewHandlers(svc *service.Service) *Handlers {
	return &Handlers{svc: svc}
}

// SetHealthCheck installs a connectivity probe run by GET /health.
func (h *Handlers) SetHealthCheck(check func() error) {
	h.healthCheck = check
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondJSON(w, status, ErrorResponse{Error: msg})
}

func (h *Handlers) respondServiceError(w http.ResponseWriter, err error) {
	var cfgErr *types.ConfigError
	switch {
	case errors.Is(err, types.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "not found")
	case errors.As(err, &cfgErr):
		h.respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// Routes mounts all v1 routes on r.
func (h *Handlers) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/call", h.Call)
		r.Post("/extract", h.Extract)
		r.Post("/transform", h.Transform)
		r.Post("/schema", h.GenerateSchema)

		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{id}", h.GetRun)

		r.Get("/apis", h.ListApis)
		r.Get("/apis/{id}", h.GetApi)
		r.Put("/apis/{id}", h.UpsertApi)
		r.Delete("/apis/{id}", h.DeleteApi)
		r.Post("/apis/{id}/rename", h.RenameApi)

		r.Get("/extracts", h.ListExtracts)
		r.Get("/extracts/{id}", h.GetExtract)
		r.Put("/extracts/{id}", h.UpsertExtract)
		r.Delete("/extracts/{id}", h.DeleteExtract)

		r.Get("/transforms", h.ListTransforms)
		r.Get("/transforms/{id}", h.GetTransform)
		r.Put("/transforms/{id}", h.UpsertTransform)
		r.Delete("/transforms/{id}", h.DeleteTransform)
	})
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.healthCheck != nil {
		if err := h.healthCheck(); err != nil {
			h.respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	h.respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Call handles POST /v1/call
func (h *Handlers) Call(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Input.ID == "" && (req.Input.Instruction == "" || req.Input.URLHost == "") {
		h.respondError(w, http.StatusBadRequest, "input requires either id or instruction and urlHost")
		return
	}

	run, err := h.svc.Call(r.Context(), endpointInput(req.Input), req.Payload, req.Credentials, req.Options.ToOptions())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, RunResponse{Run: run})
}

// Extract handles POST /v1/extract
func (h *Handlers) Extract(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Input.ID == "" && (req.Input.Instruction == "" || req.Input.URLHost == "") {
		h.respondError(w, http.StatusBadRequest, "input requires either id or instruction and urlHost")
		return
	}

	run, err := h.svc.Extract(r.Context(), extractInput(req.Input), req.Payload, req.Credentials, req.Options.ToOptions())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, RunResponse{Run: run})
}

// Transform handles POST /v1/transform
func (h *Handlers) Transform(w http.ResponseWriter, r *http.Request) {
	var req TransformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Input.ResponseSchema) == 0 {
		h.respondError(w, http.StatusBadRequest, "input.responseSchema is required")
		return
	}

	run, err := h.svc.Transform(r.Context(), synth.TransformInput{
		Instruction:     req.Input.Instruction,
		ResponseSchema:  req.Input.ResponseSchema,
		ResponseMapping: req.Input.ResponseMapping,
	}, req.Data, req.Options.ToOptions())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, RunResponse{Run: run})
}

// GenerateSchema handles POST /v1/schema
func (h *Handlers) GenerateSchema(w http.ResponseWriter, r *http.Request) {
	var req SchemaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Instruction == "" {
		h.respondError(w, http.StatusBadRequest, "instruction is required")
		return
	}

	schema, err := h.svc.GenerateSchema(r.Context(), req.Instruction, req.ResponseData)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, SchemaResponse{JSONSchema: schema})
}

// ListRuns handles GET /v1/runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	opts := listOpts(r)
	opts.ConfigID = r.URL.Query().Get("configId")

	runs, err := h.svc.Store().ListRuns(r.Context(), opts)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, RunsResponse{Runs: runs})
}

// GetRun handles GET /v1/runs/{id}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.Store().GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, RunResponse{Run: run})
}

// GetApi handles GET /v1/apis/{id}
func (h *Handlers) GetApi(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.Store().GetApiConfig(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, cfg)
}

// UpsertApi handles PUT /v1/apis/{id}
func (h *Handlers) UpsertApi(w http.ResponseWriter, r *http.Request) {
	var cfg types.ApiConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.svc.Store().UpsertApiConfig(r.Context(), id, &cfg); err != nil {
		h.respondServiceError(w, err)
		return
	}
	cfg.ID = id
	h.respondJSON(w, http.StatusOK, cfg)
}

// DeleteApi handles DELETE /v1/apis/{id}
func (h *Handlers) DeleteApi(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Store().DeleteApiConfig(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListApis handles GET /v1/apis
func (h *Handlers) ListApis(w http.ResponseWriter, r *http.Request) {
	configs, err := h.svc.Store().ListApiConfigs(r.Context(), listOpts(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, configs)
}

// RenameApi handles POST /v1/apis/{id}/rename
func (h *Handlers) RenameApi(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewID == "" {
		h.respondError(w, http.StatusBadRequest, "newId is required")
		return
	}
	if err := h.svc.UpdateApiConfigID(r.Context(), chi.URLParam(r, "id"), req.NewID); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetExtract handles GET /v1/extracts/{id}
func (h *Handlers) GetExtract(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.Store().GetExtractConfig(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, cfg)
}

// UpsertExtract handles PUT /v1/extracts/{id}
func (h *Handlers) UpsertExtract(w http.ResponseWriter, r *http.Request) {
	var cfg types.ExtractConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.svc.Store().UpsertExtractConfig(r.Context(), id, &cfg); err != nil {
		h.respondServiceError(w, err)
		return
	}
	cfg.ID = id
	h.respondJSON(w, http.StatusOK, cfg)
}

// DeleteExtract handles DELETE /v1/extracts/{id}
func (h *Handlers) DeleteExtract(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Store().DeleteExtractConfig(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListExtracts handles GET /v1/extracts
func (h *Handlers) ListExtracts(w http.ResponseWriter, r *http.Request) {
	configs, err := h.svc.Store().ListExtractConfigs(r.Context(), listOpts(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, configs)
}

// GetTransform handles GET /v1/transforms/{id}
func (h *Handlers) GetTransform(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.Store().GetTransformConfig(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, cfg)
}

// UpsertTransform handles PUT /v1/transforms/{id}
func (h *Handlers) UpsertTransform(w http.ResponseWriter, r *http.Request) {
	var cfg types.TransformConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.svc.Store().UpsertTransformConfig(r.Context(), id, &cfg); err != nil {
		h.respondServiceError(w, err)
		return
	}
	cfg.ID = id
	h.respondJSON(w, http.StatusOK, cfg)
}

// DeleteTransform handles DELETE /v1/transforms/{id}
func (h *Handlers) DeleteTransform(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Store().DeleteTransformConfig(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTransforms handles GET /v1/transforms
func (h *Handlers) ListTransforms(w http.ResponseWriter, r *http.Request) {
	configs, err := h.svc.Store().ListTransformConfigs(r.Context(), listOpts(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, configs)
}

func listOpts(r *http.Request) datastore.ListOpts {
	opts := datastore.ListOpts{Limit: 10}
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			opts.Limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			opts.Offset = parsed
		}
	}
	return opts
}

func endpointInput(in EndpointInputDTO) synth.EndpointInput {
	return synth.EndpointInput{
		ID:               in.ID,
		Instruction:      in.Instruction,
		URLHost:          in.URLHost,
		URLPath:          in.URLPath,
		Method:           in.Method,
		Headers:          in.Headers,
		QueryParams:      in.QueryParams,
		Body:             in.Body,
		Authentication:   in.Authentication,
		Pagination:       in.Pagination,
		DataPath:         in.DataPath,
		DocumentationURL: in.DocumentationURL,
		ResponseSchema:   in.ResponseSchema,
		ResponseMapping:  in.ResponseMapping,
	}
}

func extractInput(in EndpointInputDTO) synth.ExtractInput {
	return synth.ExtractInput{
		ID:                  in.ID,
		Instruction:         in.Instruction,
		URLHost:             in.URLHost,
		URLPath:             in.URLPath,
		Method:              in.Method,
		Headers:             in.Headers,
		QueryParams:         in.QueryParams,
		Body:                in.Body,
		Authentication:      in.Authentication,
		DecompressionMethod: in.Decompression,
		FileType:            in.FileType,
		DataPath:            in.DataPath,
		DocumentationURL:    in.DocumentationURL,
		ResponseSchema:      in.ResponseSchema,
		ResponseMapping:     in.ResponseMapping,
	}
}
