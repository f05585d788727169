package rules

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Evaluate matches payload against r. It never panics: malformed operands make
// the condition false. Nil or empty rules match everything.
func Evaluate(r *Rules, payload map[string]any) bool {
	if r == nil {
		return true
	}
	allMatch := true
	for _, c := range r.All {
		if !match(c, payload) {
			allMatch = false
			break
		}
	}
	anyMatch := len(r.Any) == 0
	for _, c := range r.Any {
		if match(c, payload) {
			anyMatch = true
			break
		}
	}
	return allMatch && anyMatch
}

func match(c Condition, payload map[string]any) bool {
	actual, found := lookup(payload, c.Field)

	switch c.Operator {
	case OpExists:
		return found && actual != nil
	case OpEq:
		return found && equal(actual, c.Value)
	case OpNeq:
		return !found || !equal(actual, c.Value)
	case OpGt:
		return compare(actual, c.Value, func(cmp int) bool { return cmp > 0 })
	case OpGte:
		return compare(actual, c.Value, func(cmp int) bool { return cmp >= 0 })
	case OpLt:
		return compare(actual, c.Value, func(cmp int) bool { return cmp < 0 })
	case OpLte:
		return compare(actual, c.Value, func(cmp int) bool { return cmp <= 0 })
	case OpIn:
		if !found {
			return false
		}
		candidates, ok := asSlice(c.Value)
		if !ok {
			return false
		}
		for _, candidate := range candidates {
			if equal(actual, candidate) {
				return true
			}
		}
		return false
	case OpContains:
		if !found {
			return false
		}
		if items, ok := asSlice(actual); ok {
			for _, item := range items {
				if equal(item, c.Value) {
					return true
				}
			}
			return false
		}
		s, ok := actual.(string)
		sub, subOK := c.Value.(string)
		return ok && subOK && strings.Contains(s, sub)
	default:
		return false
	}
}

// lookup walks a dot path through nested maps; numeric segments index lists.
func lookup(payload map[string]any, path string) (any, bool) {
	if payload == nil || path == "" {
		return nil, false
	}
	var current any = payload
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = v
		default:
			items, ok := asSlice(node)
			if !ok {
				return nil, false
			}
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(items) {
				return nil, false
			}
			current = items[idx]
		}
	}
	return current, true
}

func compare(actual, expected any, ok func(int) bool) bool {
	a, aNum := toDecimal(actual)
	b, bNum := toDecimal(expected)
	if !aNum || !bNum {
		return false
	}
	return ok(a.Cmp(b))
}

func equal(actual, expected any) bool {
	if a, ok := toDecimal(actual); ok {
		if b, ok := toDecimal(expected); ok {
			return a.Equal(b)
		}
		return false
	}
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	if reflect.TypeOf(actual).Comparable() && reflect.TypeOf(expected).Comparable() {
		return actual == expected
	}
	return reflect.DeepEqual(actual, expected)
}

// toDecimal accepts Go and JSON numeric types only; numeric-looking strings
// are not numbers.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int8:
		return decimal.NewFromInt(int64(n)), true
	case int16:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint:
		return uintDecimal(uint64(n))
	case uint8:
		return decimal.NewFromInt(int64(n)), true
	case uint16:
		return decimal.NewFromInt(int64(n)), true
	case uint32:
		return decimal.NewFromInt(int64(n)), true
	case uint64:
		return uintDecimal(n)
	case float32:
		return floatDecimal(float64(n))
	case float64:
		return floatDecimal(n)
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case decimal.Decimal:
		return n, true
	default:
		return decimal.Decimal{}, false
	}
}

// uintDecimal keeps values above MaxInt64 exact instead of wrapping negative.
func uintDecimal(n uint64) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strconv.FormatUint(n, 10))
	return d, err == nil
}

// floatDecimal rejects NaN and infinities, which decimal cannot represent.
func floatDecimal(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(f), true
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
