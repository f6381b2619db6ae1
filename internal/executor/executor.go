// internal/executor/executor.go
// Package executor runs an ApiConfig: it binds variables, loops over pages,
// extracts the payload at dataPath and aggregates the results.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/apiweld/apiweld/internal/httpcall"
	"github.com/apiweld/apiweld/internal/interp"
	"github.com/apiweld/apiweld/internal/types"
)

// MaxPages is the hard ceiling on pagination iterations.
const MaxPages = 500

const defaultPageSize = 50

// Result carries the aggregated payload. DataPathSuccess is false when a
// dataPath segment was missing on the response, which the synthesizer repair
// loop uses as a signal that the configured path is wrong.
type Result struct {
	Data            any
	DataPathSuccess bool
}

// Executor invokes configs through an httpcall.Caller.
type Executor struct {
	caller *httpcall.Caller
}

// New creates an Executor.
func New(caller *httpcall.Caller) *Executor {
	return &Executor{caller: caller}
}

// Call executes cfg with the given payload and credential bindings. Pages are
// fetched sequentially and combined in fetch order. The loop stops when the
// response is not an array, the page comes back short, a page repeats the
// accumulated results byte for byte, or the ceiling is reached.
func (e *Executor) Call(ctx context.Context, cfg *types.ApiConfig, payload, credentials map[string]any, opts httpcall.Options) (*Result, error) {
	pageSize := defaultPageSize
	paginated := cfg.Pagination != nil && cfg.Pagination.Type != types.PaginationDisabled && cfg.Pagination.Type != ""
	if paginated && cfg.Pagination.PageSize > 0 {
		pageSize = cfg.Pagination.PageSize
	}

	var all []any
	dataPathOK := true

	for page := 0; page < MaxPages; page++ {
		vars := make(map[string]any, len(payload)+len(credentials)+2)
		for k, v := range payload {
			vars[k] = v
		}
		for k, v := range credentials {
			vars[k] = v
		}
		if paginated {
			switch cfg.Pagination.Type {
			case types.PaginationPage:
				vars["page"] = page + 1
				vars["limit"] = pageSize
			case types.PaginationOffset:
				vars["offset"] = page * pageSize
				vars["limit"] = pageSize
			}
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

		req, err := e.buildRequest(cfg, vars)
		if err != nil {
			return nil, err
		}

		resp, err := e.caller.Call(ctx, *req, opts)
		if err != nil {
			return nil, wrapRequestError(err, req)
		}

		var responseData any
		if len(resp.Body) > 0 {
			if err := json.Unmarshal(resp.Body, &responseData); err != nil {
				return nil, wrapRequestError(&types.HTTPError{
					Status: resp.Status,
					Body:   "response is not valid JSON: " + err.Error(),
				}, req)
			}
		}

		extracted, ok := Navigate(responseData, cfg.DataPath)
		if !ok {
			dataPathOK = false
			log.Printf("executor: dataPath %q missing on response from %s", cfg.DataPath, req.URL)
		}

		arr, isArray := extracted.([]any)
		if !isArray {
			if page == 0 {
				return &Result{Data: extracted, DataPathSuccess: dataPathOK}, nil
			}
			break
		}

		if len(all) > 0 && jsonEqual(arr, all) {
			log.Printf("executor: identical page from %s, stopping pagination", req.URL)
			break
		}
		all = append(all, arr...)

		if !paginated || len(arr) < pageSize {
			break
		}
	}

	if len(all) == 1 {
		return &Result{Data: all[0], DataPathSuccess: dataPathOK}, nil
	}
	return &Result{Data: all, DataPathSuccess: dataPathOK}, nil
}

func (e *Executor) buildRequest(cfg *types.ApiConfig, vars map[string]any) (*httpcall.Request, error) {
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
	if body != "" {
		// The body is JSON; parse after interpolation to normalize it and
		// catch substitutions that broke the document.
		var parsed any
		if err := json.Unmarshal([]byte(body), &parsed); err != nil {
			return nil, &types.ConfigError{Msg: fmt.Sprintf("request body is not valid JSON after interpolation: %v", err)}
		}
		normalized, err := json.Marshal(parsed)
		if err != nil {
			return nil, fmt.Errorf("failed to re-encode request body: %w", err)
		}
		body = string(normalized)
	}

	method := cfg.Method
	if method == "" {
		method = "GET"
	}

	return &httpcall.Request{
		Method:  method,
		URL:     joinURL(host, path),
		Headers: headers,
		Query:   query,
		Body:    body,
	}, nil
}

func joinURL(host, path string) string {
	if path == "" {
		return host
	}
	return strings.TrimSuffix(host, "/") + "/" + strings.TrimPrefix(path, "/")
}

func wrapRequestError(err error, req *httpcall.Request) error {
	summary := fmt.Sprintf("%s %s query=%v headers=%v body=%s", req.Method, req.URL, req.Query, req.Headers, req.Body)
	switch e := err.(type) {
	case *types.HTTPError:
		e.Request = summary
		return e
	case *types.HTMLResponseError:
		e.Request = summary
		return e
	}
	return err
}

// Navigate walks a dot-separated path into a JSON value. A leading $ segment
// means root and is skipped. A missing segment keeps the last valid value and
// reports false. Numeric segments index arrays; named segments on an array
// project the field from each element.
func Navigate(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	current := v
	segs := strings.Split(path, ".")
	for i, seg := range segs {
		if i == 0 && seg == "$" {
			continue
		}
		next, ok := step(current, seg)
		if !ok {
			return current, false
		}
		current = next
	}
	return current, true
}

func step(v any, seg string) (any, bool) {
	switch val := v.(type) {
	case map[string]any:
		next, ok := val[seg]
		return next, ok
	case []any:
		if idx, err := strconv.Atoi(seg); err == nil {
			if idx < 0 || idx >= len(val) {
				return nil, false
			}
			return val[idx], true
		}
		var projected []any
		found := false
		for _, elem := range val {
			if m, ok := elem.(map[string]any); ok {
				if field, ok := m[seg]; ok {
					found = true
					projected = append(projected, field)
				}
			}
		}
		if !found {
			return nil, false
		}
		return projected, true
	default:
		return nil, false
	}
}

func jsonEqual(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}
