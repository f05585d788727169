package rules

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cond(field string, op Operator, value any) Condition {
	return Condition{Field: field, Operator: op, Value: value}
}

func TestEvaluate(t *testing.T) {
	payload := map[string]any{
		"amount":   150.0,
		"currency": "USD",
		"vendor": map[string]any{
			"name": "Acme Supplies",
			"tier": 2,
		},
		"tags":  []any{"urgent", "capex"},
		"lines": []any{map[string]any{"qty": json.Number("3")}},
		"note":  nil,
		"nan":   math.NaN(),
		"inf":   math.Inf(1),
		"huge":  uint(math.MaxUint64),
	}

	tests := []struct {
		name  string
		rules *Rules
		want  bool
	}{
		{"nil rules", nil, true},
		{"empty any is vacuous", &Rules{Any: []Condition{}}, true},
		{"gt true", &Rules{All: []Condition{cond("amount", OpGt, 100)}}, true},
		{"gt false", &Rules{All: []Condition{cond("amount", OpGt, 1000)}}, false},
		{"gte boundary", &Rules{All: []Condition{cond("amount", OpGte, 150)}}, true},
		{"lt", &Rules{All: []Condition{cond("amount", OpLt, 150.5)}}, true},
		{"lte boundary", &Rules{All: []Condition{cond("amount", OpLte, 150)}}, true},
		{"gt on string fails closed", &Rules{All: []Condition{cond("currency", OpGt, 1)}}, false},
		{"gt with string operand fails closed", &Rules{All: []Condition{cond("amount", OpGt, "100")}}, false},
		{"gt on missing field", &Rules{All: []Condition{cond("missing", OpGt, 1)}}, false},
		{"eq string", &Rules{All: []Condition{cond("currency", OpEq, "USD")}}, true},
		{"eq across numeric types", &Rules{All: []Condition{cond("vendor.tier", OpEq, 2.0)}}, true},
		{"eq number vs string", &Rules{All: []Condition{cond("vendor.tier", OpEq, "2")}}, false},
		{"neq", &Rules{All: []Condition{cond("currency", OpNeq, "EUR")}}, true},
		{"neq missing field", &Rules{All: []Condition{cond("missing", OpNeq, "EUR")}}, true},
		{"exists nested", &Rules{All: []Condition{cond("vendor.name", OpExists, nil)}}, true},
		{"exists missing", &Rules{All: []Condition{cond("vendor.code", OpExists, nil)}}, false},
		{"exists null", &Rules{All: []Condition{cond("note", OpExists, nil)}}, false},
		{"in", &Rules{All: []Condition{cond("currency", OpIn, []any{"EUR", "USD"})}}, true},
		{"in numeric", &Rules{All: []Condition{cond("vendor.tier", OpIn, []any{1, 2, 3})}}, true},
		{"not in", &Rules{All: []Condition{cond("currency", OpIn, []any{"EUR"})}}, false},
		{"contains array", &Rules{All: []Condition{cond("tags", OpContains, "capex")}}, true},
		{"contains array miss", &Rules{All: []Condition{cond("tags", OpContains, "opex")}}, false},
		{"contains substring", &Rules{All: []Condition{cond("vendor.name", OpContains, "Supp")}}, true},
		{"contains on number", &Rules{All: []Condition{cond("amount", OpContains, "1")}}, false},
		{"list index path", &Rules{All: []Condition{cond("lines.0.qty", OpGte, 3)}}, true},
		{"list index out of range", &Rules{All: []Condition{cond("lines.4.qty", OpExists, nil)}}, false},
		{"gt on NaN fails closed", &Rules{All: []Condition{cond("nan", OpGt, 100)}}, false},
		{"lt on NaN fails closed", &Rules{All: []Condition{cond("nan", OpLt, 100)}}, false},
		{"gt on +Inf fails closed", &Rules{All: []Condition{cond("inf", OpGt, 100)}}, false},
		{"gt with NaN operand fails closed", &Rules{All: []Condition{cond("amount", OpGt, math.NaN())}}, false},
		{"gt huge uint", &Rules{All: []Condition{cond("huge", OpGt, 100)}}, true},
		{"lt huge uint", &Rules{All: []Condition{cond("huge", OpLt, 0)}}, false},
		{"unknown operator", &Rules{All: []Condition{cond("amount", Operator("between"), 1)}}, false},
		{
			"all and any",
			&Rules{
				All: []Condition{cond("amount", OpGt, 100)},
				Any: []Condition{cond("currency", OpEq, "EUR"), cond("tags", OpContains, "urgent")},
			},
			true,
		},
		{
			"any fails",
			&Rules{
				All: []Condition{cond("amount", OpGt, 100)},
				Any: []Condition{cond("currency", OpEq, "EUR")},
			},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.rules, payload))
		})
	}
}

func TestEvaluate_Examples(t *testing.T) {
	gt100 := &Rules{All: []Condition{cond("amount", OpGt, 100)}}
	assert.True(t, Evaluate(gt100, map[string]any{"amount": 150}))
	assert.False(t, Evaluate(gt100, map[string]any{"amount": 50}))
	assert.True(t, Evaluate(&Rules{Any: []Condition{}}, map[string]any{}))
	assert.False(t, Evaluate(&Rules{All: []Condition{cond("x", OpGt, 1)}}, map[string]any{"x": "not a number"}))
}

func TestEvaluate_NilPayload(t *testing.T) {
	assert.False(t, Evaluate(&Rules{All: []Condition{cond("amount", OpExists, nil)}}, nil))
	assert.True(t, Evaluate(&Rules{}, nil))
}

func TestEvaluate_DecimalPayload(t *testing.T) {
	r := &Rules{All: []Condition{cond("amount", OpGt, 0.1)}}
	assert.True(t, Evaluate(r, map[string]any{"amount": decimal.RequireFromString("0.10000001")}))
	assert.False(t, Evaluate(r, map[string]any{"amount": decimal.RequireFromString("0.1")}))
}

func TestParse(t *testing.T) {
	r, err := Parse([]byte(`{"all":[{"field":"amount","operator":"gt","value":100}],"any":[{"field":"currency","operator":"in","value":["USD","EUR"]}]}`))
	require.NoError(t, err)
	require.Len(t, r.All, 1)
	assert.Equal(t, OpGt, r.All[0].Operator)
	assert.Equal(t, json.Number("100"), r.All[0].Value)
	assert.True(t, Evaluate(r, map[string]any{"amount": 101.0, "currency": "EUR"}))

	for _, raw := range []string{"", "  ", "null"} {
		r, err := Parse([]byte(raw))
		require.NoError(t, err)
		assert.Nil(t, r)
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown operator": `{"all":[{"field":"amount","operator":"between","value":1}]}`,
		"missing field":    `{"all":[{"operator":"gt","value":1}]}`,
		"in without list":  `{"any":[{"field":"currency","operator":"in","value":"USD"}]}`,
		"unknown key":      `{"none":[]}`,
		"not json":         `amount > 100`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestRulesIsEmpty(t *testing.T) {
	var r *Rules
	assert.True(t, r.IsEmpty())
	assert.True(t, (&Rules{}).IsEmpty())
	assert.False(t, (&Rules{Any: []Condition{cond("a", OpExists, nil)}}).IsEmpty())
}
