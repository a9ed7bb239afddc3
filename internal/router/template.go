// Package router resolves templated node configs against an Event and
// tracks multi-parent join completion (component D, SPEC_FULL.md §4.4).
//
// Template resolution is deliberately NOT the teacher's expr-lang templater
// (internal/application/executor/template.go uses github.com/expr-lang/expr
// plus regex dispatch) — spec.md calls for a minimal, non-recursive
// resolver: `{{ dotted.path || default }}`, one substitution pass, no
// expression language. See DESIGN.md for why expr-lang is dropped here.
package router

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nodeflow/core/internal/domain"
	"github.com/nodeflow/core/internal/domain/errs"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// Option configures a single Resolve call. The zero value is the default,
// non-strict behavior.
type Option func(*resolveOpts)

type resolveOpts struct {
	strict bool
}

// Strict makes an unresolved path with no default a TemplateUnresolved
// error instead of substituting the empty string (spec.md §7: strict mode
// is opt-in, not the default).
func Strict() Option {
	return func(o *resolveOpts) { o.strict = true }
}

// ResolveString substitutes every `{{ path || default }}` placeholder in s
// with the value found at path in event.Data/event.Metadata, falling back
// to default when the path is missing. Values are stringified; a path with
// no default that resolves to nothing yields the empty string unless Strict
// is given, in which case it is a TemplateUnresolved error.
func ResolveString(s string, event domain.Event, executionID, nodeID string, opts ...Option) (string, error) {
	ro := &resolveOpts{}
	for _, o := range opts {
		o(ro)
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])
		rest = rest[start+len(openDelim):]
		end := strings.Index(rest, closeDelim)
		if end < 0 {
			return "", errs.New(domain.ErrTemplateUnresolved, executionID, nodeID, "unterminated template expression", nil)
		}
		expr := rest[:end]
		rest = rest[end+len(closeDelim):]

		val, err := resolveExpr(expr, event, ro.strict)
		if err != nil {
			return "", errs.New(domain.ErrTemplateUnresolved, executionID, nodeID, err.Error(), nil)
		}
		b.WriteString(val)
	}
	return b.String(), nil
}

// ResolveValue walks a config value (string, map, slice) resolving every
// string leaf via ResolveString. Non-string leaves pass through unchanged.
func ResolveValue(v any, event domain.Event, executionID, nodeID string, opts ...Option) (any, error) {
	switch t := v.(type) {
	case string:
		return ResolveString(t, event, executionID, nodeID, opts...)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			rv, err := ResolveValue(vv, event, executionID, nodeID, opts...)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			rv, err := ResolveValue(vv, event, executionID, nodeID, opts...)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveExpr(expr string, event domain.Event, strict bool) (string, error) {
	parts := strings.SplitN(expr, "||", 2)
	path := strings.TrimSpace(parts[0])
	hasDefault := len(parts) == 2
	var def string
	if hasDefault {
		def = strings.Trim(strings.TrimSpace(parts[1]), `"'`)
	}

	val, ok := lookupPath(path, event)
	if !ok {
		if hasDefault {
			return def, nil
		}
		if strict {
			return "", strErr("unresolved path " + path)
		}
		return "", nil
	}
	return stringify(val), nil
}

// lookupPath resolves a dotted path against the input event, per spec.md
// §4.4's example `event.data.user_id`: an optional leading "event" segment
// is stripped, then "data" or "metadata" selects the root map. One level of
// array indexing via `[N]` is supported on the final or intermediate
// segment, matching the non-recursive scope spec.md requires.
func lookupPath(path string, event domain.Event) (any, bool) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 {
		return nil, false
	}
	if segments[0] == "event" {
		segments = segments[1:]
	}
	if len(segments) == 0 {
		return nil, false
	}

	var root map[string]any
	switch segments[0] {
	case "data":
		root = event.Data
	case "metadata":
		root = event.Metadata
	default:
		return nil, false
	}
	segments = segments[1:]

	var cur any = map[string]any(root)
	for _, seg := range segments {
		name, idx, hasIdx := splitIndex(seg)
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := m[name]
		if !ok {
			return nil, false
		}
		cur = next
		if hasIdx {
			arr, ok := cur.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			cur = arr[idx]
		}
	}
	return cur, true
}

func splitIndex(seg string) (name string, idx int, hasIdx bool) {
	open := strings.Index(seg, "[")
	if open < 0 || !strings.HasSuffix(seg, "]") {
		return seg, 0, false
	}
	n, err := strconv.Atoi(seg[open+1 : len(seg)-1])
	if err != nil {
		return seg, 0, false
	}
	return seg[:open], n, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

type strErr string

func (e strErr) Error() string { return string(e) }
