// Package rules evaluates the small boolean predicate language attached to
// approval policies: an "all" list and an "any" list of field conditions.
package rules

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Operator is a field comparison.
type Operator string

const (
	OpExists   Operator = "exists"
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
)

var operators = map[Operator]struct{}{
	OpExists: {}, OpEq: {}, OpNeq: {},
	OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {},
	OpIn: {}, OpContains: {},
}

func (o Operator) Valid() bool {
	_, ok := operators[o]
	return ok
}

// Condition compares the value found at Field (a dot path into the payload)
// with Value.
type Condition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value,omitempty" yaml:"value,omitempty"`
}

// Rules matches when every All condition and at least one Any condition hold.
// An empty list does not constrain the result.
type Rules struct {
	All []Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any []Condition `json:"any,omitempty" yaml:"any,omitempty"`
}

// IsEmpty reports whether the rules have no conditions at all.
func (r *Rules) IsEmpty() bool {
	return r == nil || (len(r.All) == 0 && len(r.Any) == 0)
}

// Validate checks every condition has a field and a known operator.
func (r *Rules) Validate() error {
	if r == nil {
		return nil
	}
	check := func(list string, conds []Condition) error {
		for i, c := range conds {
			if strings.TrimSpace(c.Field) == "" {
				return fmt.Errorf("%s[%d]: field is required", list, i)
			}
			if !c.Operator.Valid() {
				return fmt.Errorf("%s[%d]: unknown operator %q", list, i, c.Operator)
			}
			if c.Operator == OpIn {
				if _, ok := asSlice(c.Value); !ok {
					return fmt.Errorf("%s[%d]: operator in requires a list value", list, i)
				}
			}
		}
		return nil
	}
	if err := check("all", r.All); err != nil {
		return err
	}
	return check("any", r.Any)
}

// Parse decodes and validates a JSON predicate. Empty input and JSON null
// yield nil rules.
func Parse(raw []byte) (*Rules, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var r Rules
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return &r, nil
}
