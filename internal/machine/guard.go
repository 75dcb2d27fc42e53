package machine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// guardExpr is a compiled guard expression over the context bag. Supported
// forms:
//
//	key            truthy check (present, not false/nil/""/0)
//	key == value   equality
//	key != value   inequality
//	key > number   numeric comparison
//	key < number   numeric comparison
//
// Values parse as numbers, booleans, or bare/quoted strings.
type guardExpr struct {
	key string
	op  string
	val any
}

func parseGuardExpr(name, expr string) (guardExpr, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return guardExpr{}, fmt.Errorf("guard %q: empty expression", name)
	}
	for _, op := range []string{"==", "!=", ">", "<"} {
		if i := strings.Index(s, op); i >= 0 {
			key := strings.TrimSpace(s[:i])
			raw := strings.TrimSpace(s[i+len(op):])
			if key == "" || raw == "" {
				return guardExpr{}, fmt.Errorf("guard %q: malformed expression %q", name, expr)
			}
			val := parseLiteral(raw)
			if op == ">" || op == "<" {
				if _, ok := toFloat(val); !ok {
					return guardExpr{}, fmt.Errorf("guard %q: %q requires a numeric operand", name, op)
				}
			}
			return guardExpr{key: key, op: op, val: val}, nil
		}
	}
	if strings.ContainsAny(s, " \t") {
		return guardExpr{}, fmt.Errorf("guard %q: malformed expression %q", name, expr)
	}
	return guardExpr{key: s, op: ""}, nil
}

func parseLiteral(raw string) any {
	if len(raw) >= 2 && (raw[0] == '"' || raw[0] == '\'') && raw[len(raw)-1] == raw[0] {
		return raw[1 : len(raw)-1]
	}
	switch raw {
	case "true":
		return true
	case "false":
		return false
	case "null", "nil":
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func (g guardExpr) eval(context map[string]any) bool {
	v, ok := context[g.key]
	switch g.op {
	case "":
		return ok && truthy(v)
	case "==":
		return ok && looseEqual(v, g.val)
	case "!=":
		return !ok || !looseEqual(v, g.val)
	case ">":
		a, aok := toFloat(v)
		b, _ := toFloat(g.val)
		return ok && aok && a > b
	case "<":
		a, aok := toFloat(v)
		b, _ := toFloat(g.val)
		return ok && aok && a < b
	}
	return false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	default:
		if f, ok := toFloat(v); ok {
			return f != 0
		}
		return true
	}
}

// looseEqual compares with numeric coercion so that JSON-decoded float64
// context values compare equal to integer literals.
func looseEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}
