// Package vars holds the mutable variable context threaded through a
// workflow execution, plus ${name} / {{name}} template interpolation.
//
// The context is owned and mutated exclusively by the scheduler; step
// executors only ever see copy-on-read snapshots, so concurrent steps in
// the same layer cannot observe each other's uncommitted outputs.
package vars

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// placeholderRe matches ${name} and {{name}} references.
// Names are word characters plus dot and dash.
var placeholderRe = regexp.MustCompile(`\$\{([\w.-]+)\}|\{\{\s*([\w.-]+)\s*\}\}`)

// Context is a goroutine-safe name -> value store.
type Context struct {
	mu     sync.RWMutex
	values map[string]any
}

// New creates a Context seeded with the given bindings.
func New(seed map[string]any) *Context {
	values := make(map[string]any, len(seed))
	for k, v := range seed {
		values[k] = v
	}
	return &Context{values: values}
}

// Get returns the bound value and whether the name is bound.
func (c *Context) Get(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[name]
	return v, ok
}

// Set binds a single value.
func (c *Context) Set(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[name] = value
}

// Merge applies outputs to the store. Callers serialize merges per layer;
// within one Merge call the map order does not matter because a single
// step's bindings never collide with themselves.
func (c *Context) Merge(outputs map[string]any) {
	if len(outputs) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range outputs {
		c.values[k] = v
	}
}

// Snapshot returns a copy of the current bindings. The copy is shallow:
// bound values are treated as immutable once merged.
func (c *Context) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make(map[string]any, len(c.values))
	for k, v := range c.values {
		snap[k] = v
	}
	return snap
}

// Names returns the bound names in sorted order.
func (c *Context) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.values))
	for k := range c.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// UnresolvedError reports template references with no binding.
type UnresolvedError struct {
	Names []string
}

func (e *UnresolvedError) Error() string {
	return "unresolved variable reference: " + strings.Join(e.Names, ", ")
}

// Resolve interpolates placeholders in tmpl against snap. When the whole
// template is a single placeholder the bound value is returned as-is,
// preserving its type (so "${items}" can resolve to a slice). Otherwise
// values are stringified into the surrounding text.
//
// Missing references return an UnresolvedError unless lenient is set, in
// which case they are left verbatim.
func Resolve(tmpl string, snap map[string]any, lenient bool) (any, error) {
	if name, ok := soleReference(tmpl); ok {
		if v, bound := snap[name]; bound {
			return v, nil
		}
		if lenient {
			return tmpl, nil
		}
		return nil, &UnresolvedError{Names: []string{name}}
	}

	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := refName(m)
		if v, bound := snap[name]; bound {
			return stringify(v)
		}
		missing = append(missing, name)
		return m
	})
	if len(missing) > 0 && !lenient {
		sort.Strings(missing)
		return nil, &UnresolvedError{Names: missing}
	}
	return out, nil
}

// ResolveParams resolves every string found in params, recursing through
// nested maps and slices. Non-string values pass through untouched.
func ResolveParams(params map[string]any, snap map[string]any, lenient bool) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		rv, err := resolveValue(v, snap, lenient)
		if err != nil {
			return nil, err
		}
		out[k] = rv
	}
	return out, nil
}

func resolveValue(v any, snap map[string]any, lenient bool) (any, error) {
	switch t := v.(type) {
	case string:
		return Resolve(t, snap, lenient)
	case map[string]any:
		return ResolveParams(t, snap, lenient)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			rv, err := resolveValue(e, snap, lenient)
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

// soleReference reports whether tmpl consists of exactly one placeholder.
func soleReference(tmpl string) (string, bool) {
	m := placeholderRe.FindStringSubmatch(tmpl)
	if m == nil || m[0] != strings.TrimSpace(tmpl) {
		return "", false
	}
	return refName(m[0]), true
}

func refName(match string) string {
	sub := placeholderRe.FindStringSubmatch(match)
	if sub[1] != "" {
		return sub[1]
	}
	return sub[2]
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
