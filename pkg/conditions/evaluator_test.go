package conditions

import (
	"testing"

	"github.com/arborops/canopy/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestEvaluate_EmptyConditions(t *testing.T) {
	assert.True(t, Evaluate(nil, map[string]any{"amount": 500}))
	assert.True(t, Evaluate([]models.Condition{}, nil))
}

func TestEvaluate_Operators(t *testing.T) {
	payload := map[string]any{
		"amount":   float64(500),
		"status":   "paid",
		"tags":     []any{"rush", "residential"},
		"customer": map[string]any{"city": "Portland"},
	}

	tests := []struct {
		name      string
		condition models.Condition
		want      bool
	}{
		{"equals string", models.Condition{Field: "status", Operator: "equals", Value: "paid"}, true},
		{"equals mismatch", models.Condition{Field: "status", Operator: "equals", Value: "sent"}, false},
		{"equals numeric cross-type", models.Condition{Field: "amount", Operator: "equals", Value: 500}, true},
		{"not_equals", models.Condition{Field: "status", Operator: "not_equals", Value: "sent"}, true},
		{"greater_than true", models.Condition{Field: "amount", Operator: "greater_than", Value: 100}, true},
		{"greater_than false", models.Condition{Field: "amount", Operator: "greater_than", Value: 1000}, false},
		{"gte boundary", models.Condition{Field: "amount", Operator: "gte", Value: 500}, true},
		{"less_than", models.Condition{Field: "amount", Operator: "less_than", Value: 1000}, true},
		{"lte boundary", models.Condition{Field: "amount", Operator: "lte", Value: 500}, true},
		{"contains string", models.Condition{Field: "status", Operator: "contains", Value: "ai"}, true},
		{"contains array", models.Condition{Field: "tags", Operator: "contains", Value: "rush"}, true},
		{"contains array miss", models.Condition{Field: "tags", Operator: "contains", Value: "commercial"}, false},
		{"in membership", models.Condition{Field: "status", Operator: "in", Value: []any{"paid", "sent"}}, true},
		{"in miss", models.Condition{Field: "status", Operator: "in", Value: []any{"draft"}}, false},
		{"not_in", models.Condition{Field: "status", Operator: "not_in", Value: []any{"draft"}}, true},
		{"exists", models.Condition{Field: "customer.city", Operator: "exists"}, true},
		{"exists miss", models.Condition{Field: "customer.zip", Operator: "exists"}, false},
		{"dotted path equals", models.Condition{Field: "customer.city", Operator: "equals", Value: "Portland"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate([]models.Condition{tt.condition}, payload)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_FailClosed(t *testing.T) {
	payload := map[string]any{"amount": 500}

	// Unknown operator disqualifies rather than panicking.
	assert.False(t, Evaluate([]models.Condition{
		{Field: "amount", Operator: "matches_regex", Value: ".*"},
	}, payload))

	// Missing field disqualifies.
	assert.False(t, Evaluate([]models.Condition{
		{Field: "total", Operator: "equals", Value: 500},
	}, payload))

	// Non-numeric comparison operands disqualify.
	assert.False(t, Evaluate([]models.Condition{
		{Field: "amount", Operator: "greater_than", Value: "lots"},
	}, payload))

	// Nil payload never matches value operators.
	assert.False(t, Evaluate([]models.Condition{
		{Field: "amount", Operator: "equals", Value: 500},
	}, nil))
}

func TestEvaluate_ConditionsAreANDed(t *testing.T) {
	payload := map[string]any{"amount": float64(500), "status": "paid"}

	both := []models.Condition{
		{Field: "amount", Operator: "gte", Value: 100},
		{Field: "status", Operator: "equals", Value: "paid"},
	}
	assert.True(t, Evaluate(both, payload))

	oneFails := []models.Condition{
		{Field: "amount", Operator: "gte", Value: 1000},
		{Field: "status", Operator: "equals", Value: "paid"},
	}
	assert.False(t, Evaluate(oneFails, payload))
}

func TestEvaluate_Pure(t *testing.T) {
	payload := map[string]any{"amount": float64(500)}
	conds := []models.Condition{{Field: "amount", Operator: "gte", Value: 100}}

	first := Evaluate(conds, payload)
	second := Evaluate(conds, payload)

	assert.Equal(t, first, second)
	assert.Equal(t, map[string]any{"amount": float64(500)}, payload)
}
