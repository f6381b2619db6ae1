// internal/synth/synth.go
// Package synth drives the LLM loops that produce endpoint, extract and
// transform configurations, feeding execution errors back into the
// conversation until the result validates.
package synth

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/apiweld/apiweld/internal/docs"
	"github.com/apiweld/apiweld/internal/llm"
)

// MaxRepairAttempts caps synthesizer re-invocations for a single call.
const MaxRepairAttempts = 5

// Synthesizer generates configs through the LLM client.
type Synthesizer struct {
	llm  *llm.Client
	docs *docs.Fetcher
}

// New creates a Synthesizer.
func New(client *llm.Client, fetcher *docs.Fetcher) *Synthesizer {
	return &Synthesizer{llm: client, docs: fetcher}
}

// temperatureFor ramps the sampling temperature with each retry. Reasoning
// models take no temperature at all.
func temperatureFor(model string, retry int) *float64 {
	if llm.IsReasoningModel(model) {
		return nil
	}
	t := 0.1 * float64(retry)
	if t > 1.0 {
		t = 1.0
	}
	return &t
}

// hashID derives a stable config ID from its parts: identical
// (input, payload-shape) pairs map to the same ID, which is what makes cache
// lookups work.
func hashID(parts ...string) string {
	h := md5.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// payloadShape canonicalizes the variable names available to a config.
func payloadShape(payload, credentials map[string]any) string {
	keys := availableVars(payload, credentials)
	return strings.Join(keys, ",")
}

func availableVars(payload, credentials map[string]any) []string {
	keys := make([]string, 0, len(payload)+len(credentials))
	for k := range payload {
		keys = append(keys, k)
	}
	for k := range credentials {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// InferSchema produces a JSON Schema describing the shape of data. Arrays
// are described by their first element only.
func InferSchema(data any) map[string]any {
	switch v := data.(type) {
	case map[string]any:
		props := make(map[string]any, len(v))
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			props[k] = InferSchema(v[k])
		}
		return map[string]any{"type": "object", "properties": props}
	case []any:
		if len(v) == 0 {
			return map[string]any{"type": "array"}
		}
		return map[string]any{"type": "array", "items": InferSchema(v[0])}
	case string:
		return map[string]any{"type": "string"}
	case bool:
		return map[string]any{"type": "boolean"}
	case float64, float32, int, int64, json.Number:
		return map[string]any{"type": "number"}
	case nil:
		return map[string]any{"type": "null"}
	default:
		return map[string]any{}
	}
}

// inferSchemaJSON is InferSchema serialized with stable key order.
func inferSchemaJSON(data any) string {
	b, err := json.Marshal(InferSchema(data))
	if err != nil {
		return "{}"
	}
	return string(b)
}

const (
	maxSampleChars       = 10000
	maxSampleArrayLength = 5
)

// sampleData renders a size-bounded view of data for the prompt: arrays are
// cut to a random subset of at most five elements and the serialized form is
// clipped to the character budget.
func sampleData(data any) string {
	sampled := sampleValue(data)
	b, err := json.Marshal(sampled)
	if err != nil {
		return fmt.Sprintf("%v", sampled)
	}
	s := string(b)
	if len(s) > maxSampleChars {
		s = s[:maxSampleChars]
	}
	return s
}

func sampleValue(data any) any {
	switch v := data.(type) {
	case []any:
		elems := v
		if len(elems) > maxSampleArrayLength {
			picked := rand.Perm(len(elems))[:maxSampleArrayLength]
			sort.Ints(picked)
			subset := make([]any, 0, maxSampleArrayLength)
			for _, i := range picked {
				subset = append(subset, elems[i])
			}
			elems = subset
		}
		out := make([]any, len(elems))
		for i, e := range elems {
			out[i] = sampleValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = sampleValue(e)
		}
		return out
	default:
		return v
	}
}

func isEmptyData(data any) bool {
	switch v := data.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}
