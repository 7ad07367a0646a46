package vars

import (
	"errors"
	"testing"
)

func TestResolve_SoleReferencePreservesType(t *testing.T) {
	t.Parallel()

	snap := map[string]any{
		"items": []any{"a", "b"},
		"count": 3,
	}

	got, err := Resolve("${items}", snap, false)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	items, ok := got.([]any)
	if !ok {
		t.Fatalf("expected []any, got %T", got)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	got, err = Resolve("{{ count }}", snap, false)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != 3 {
		t.Fatalf("expected int 3, got %v (%T)", got, got)
	}
}

func TestResolve_EmbeddedReferencesStringify(t *testing.T) {
	t.Parallel()

	snap := map[string]any{"name": "world", "n": 7}
	got, err := Resolve("hello ${name}, n=${n}", snap, false)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != "hello world, n=7" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestResolve_MissingReference(t *testing.T) {
	t.Parallel()

	_, err := Resolve("value: ${missing}", map[string]any{}, false)
	var unresolved *UnresolvedError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedError, got %v", err)
	}
	if len(unresolved.Names) != 1 || unresolved.Names[0] != "missing" {
		t.Fatalf("unexpected names: %v", unresolved.Names)
	}

	// Lenient mode leaves the reference verbatim.
	got, err := Resolve("value: ${missing}", map[string]any{}, true)
	if err != nil {
		t.Fatalf("lenient Resolve failed: %v", err)
	}
	if got != "value: ${missing}" {
		t.Fatalf("unexpected lenient result: %q", got)
	}
}

func TestResolveParams_Recurses(t *testing.T) {
	t.Parallel()

	snap := map[string]any{"target": "prod", "replicas": 4}
	params := map[string]any{
		"env": "${target}",
		"spec": map[string]any{
			"replicas": "${replicas}",
		},
		"hosts":  []any{"a-${target}", "b-${target}"},
		"weight": 1.5,
	}

	got, err := ResolveParams(params, snap, false)
	if err != nil {
		t.Fatalf("ResolveParams failed: %v", err)
	}
	if got["env"] != "prod" {
		t.Fatalf("env = %v", got["env"])
	}
	spec := got["spec"].(map[string]any)
	if spec["replicas"] != 4 {
		t.Fatalf("replicas = %v (%T), want int 4", spec["replicas"], spec["replicas"])
	}
	hosts := got["hosts"].([]any)
	if hosts[0] != "a-prod" || hosts[1] != "b-prod" {
		t.Fatalf("hosts = %v", hosts)
	}
	if got["weight"] != 1.5 {
		t.Fatalf("weight = %v", got["weight"])
	}
}

func TestContext_SnapshotIsolation(t *testing.T) {
	t.Parallel()

	c := New(map[string]any{"a": 1})
	snap := c.Snapshot()
	c.Merge(map[string]any{"a": 2, "b": 3})

	if snap["a"] != 1 {
		t.Fatalf("snapshot mutated: a = %v", snap["a"])
	}
	if v, _ := c.Get("a"); v != 2 {
		t.Fatalf("merge lost: a = %v", v)
	}
	if v, _ := c.Get("b"); v != 3 {
		t.Fatalf("merge lost: b = %v", v)
	}
}
