// internal/interp/interp.go
// Package interp replaces {name} placeholders in request templates from a
// variable map and detects references with no binding.
package interp

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/apiweld/apiweld/internal/types"
)

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// Reserved variable names are always treated as bound: the executor supplies
// them from the pagination state.
var reserved = map[string]bool{
	"page":   true,
	"offset": true,
	"limit":  true,
}

// Interpolate replaces every {name} placeholder bound in vars by its
// stringified value. Unbound placeholders remain literal. Binding a
// non-scalar value is a configuration error.
func Interpolate(template string, vars map[string]any) (string, error) {
	var substErr error
	out := placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		v, ok := vars[name]
		if !ok {
			return match
		}
		s, ok := stringify(v)
		if !ok {
			if substErr == nil {
				substErr = &types.ConfigError{Msg: fmt.Sprintf("variable %q is not a scalar value", name)}
			}
			return match
		}
		return s
	})
	if substErr != nil {
		return "", substErr
	}
	return out, nil
}

// References returns the placeholder names appearing in template, in order of
// first appearance.
func References(template string) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Unbound returns the placeholder names referenced by any of the given
// templates that are bound neither in vars nor reserved.
func Unbound(vars map[string]any, templates ...string) []string {
	var missing []string
	seen := map[string]bool{}
	for _, tpl := range templates {
		for _, name := range References(tpl) {
			if seen[name] || reserved[name] {
				continue
			}
			seen[name] = true
			if _, ok := vars[name]; !ok {
				missing = append(missing, name)
			}
		}
	}
	return missing
}

func stringify(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	case nil:
		return "", true
	}
	return "", false
}
