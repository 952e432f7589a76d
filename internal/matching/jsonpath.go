package matching

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/ohler55/ojg/jp"
)

type jsonPathCondition struct {
	source   string
	expr     jp.Expr
	expected any
}

func compileJSONPaths(conditions map[string]any) ([]jsonPathCondition, error) {
	if len(conditions) == 0 {
		return nil, nil
	}
	out := make([]jsonPathCondition, 0, len(conditions))
	for path, expected := range conditions {
		x, err := jp.ParseString(path)
		if err != nil {
			return nil, fmt.Errorf("invalid JSONPath expression %q: %w", path, err)
		}
		out = append(out, jsonPathCondition{source: path, expr: x, expected: expected})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].source < out[j].source })
	return out, nil
}

// matchJSONPaths returns ScoreJSONPathCondition per condition when all of
// them hold, or zero. A body that is not JSON never matches.
func matchJSONPaths(conditions []jsonPathCondition, body []byte) (int, map[string]any) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, nil
	}

	score := 0
	values := make(map[string]any)
	for _, c := range conditions {
		ok, v := c.match(doc)
		if !ok {
			return 0, nil
		}
		score += ScoreJSONPathCondition
		if v != nil {
			values[sanitizeJSONPathKey(c.source)] = v
		}
	}
	return score, values
}

// match evaluates one condition. The expected value {"exists": bool} tests
// presence; anything else must equal at least one selected value.
func (c jsonPathCondition) match(doc any) (bool, any) {
	results := c.expr.Get(doc)

	if want, ok := existence(c.expected); ok {
		if len(results) == 0 {
			return !want, nil
		}
		if want {
			return true, results[0]
		}
		return false, nil
	}

	for _, r := range results {
		if valuesEqual(r, c.expected) {
			return true, r
		}
	}
	return false, nil
}

func existence(expected any) (want, ok bool) {
	m, isMap := expected.(map[string]any)
	if !isMap || len(m) != 1 {
		return false, false
	}
	v, has := m["exists"]
	if !has {
		return false, false
	}
	b, _ := v.(bool)
	return b, true
}

// valuesEqual compares a decoded JSON value with an expected value from
// configuration, which may carry integer types when it came from YAML.
func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	if reflect.DeepEqual(actual, expected) {
		return true
	}
	a, aok := toFloat64(actual)
	e, eok := toFloat64(expected)
	return aok && eok && a == e
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// sanitizeJSONPathKey turns "$.items[0].id" into "items_0_id".
func sanitizeJSONPathKey(path string) string {
	if len(path) > 0 && path[0] == '$' {
		path = path[1:]
	}
	if len(path) > 0 && path[0] == '.' {
		path = path[1:]
	}

	out := make([]byte, 0, len(path))
	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '.', '[', ']', '*', '@', '?', '(', ')', ',', ' ', '\'', '"':
			if len(out) > 0 && out[len(out)-1] != '_' {
				out = append(out, '_')
			}
		default:
			out = append(out, c)
		}
	}
	for len(out) > 0 && out[len(out)-1] == '_' {
		out = out[:len(out)-1]
	}
	return string(out)
}
