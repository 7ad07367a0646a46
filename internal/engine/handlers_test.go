package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AreteDriver/AI-Orchestra/pkg/api"
)

func TestEvalPredicate(t *testing.T) {
	t.Parallel()

	snap := map[string]any{
		"count":  5,
		"rate":   0.75,
		"name":   "review-bot",
		"labels": []any{"urgent", 3},
		"hosts":  []string{"a", "b"},
	}

	cases := []struct {
		name string
		pred api.Predicate
		want bool
	}{
		{"equals int", api.Predicate{Field: "count", Operator: api.OpEquals, Value: 5}, true},
		{"equals cross-type", api.Predicate{Field: "count", Operator: api.OpEquals, Value: 5.0}, true},
		{"equals string", api.Predicate{Field: "name", Operator: api.OpEquals, Value: "review-bot"}, true},
		{"not equals", api.Predicate{Field: "count", Operator: api.OpNotEquals, Value: 4}, true},
		{"greater than", api.Predicate{Field: "count", Operator: api.OpGreaterThan, Value: 4}, true},
		{"greater than false", api.Predicate{Field: "count", Operator: api.OpGreaterThan, Value: 5}, false},
		{"less than float", api.Predicate{Field: "rate", Operator: api.OpLessThan, Value: 1}, true},
		{"numeric string operand", api.Predicate{Field: "count", Operator: api.OpGreaterThan, Value: "4.5"}, true},
		{"contains substring", api.Predicate{Field: "name", Operator: api.OpContains, Value: "bot"}, true},
		{"contains element", api.Predicate{Field: "labels", Operator: api.OpContains, Value: "urgent"}, true},
		{"contains numeric element", api.Predicate{Field: "labels", Operator: api.OpContains, Value: 3.0}, true},
		{"contains string slice", api.Predicate{Field: "hosts", Operator: api.OpContains, Value: "b"}, true},
		{"contains miss", api.Predicate{Field: "hosts", Operator: api.OpContains, Value: "z"}, false},

		// An unbound field compares false for everything but not_equals.
		{"unbound equals", api.Predicate{Field: "ghost", Operator: api.OpEquals, Value: 1}, false},
		{"unbound not equals", api.Predicate{Field: "ghost", Operator: api.OpNotEquals, Value: 1}, true},
		{"unbound greater than", api.Predicate{Field: "ghost", Operator: api.OpGreaterThan, Value: 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := evalPredicate(&tc.pred, snap)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestEvalPredicate_Errors(t *testing.T) {
	t.Parallel()

	snap := map[string]any{"name": "abc"}

	_, err := evalPredicate(&api.Predicate{Field: "name", Operator: api.OpGreaterThan, Value: 1}, snap)
	require.Error(t, err)

	_, err = evalPredicate(&api.Predicate{Field: "name", Operator: "matches", Value: "a"}, snap)
	require.Error(t, err)
}
