// Package template resolves {{dotted.path}} placeholders and small boolean
// expressions against a variable scope. It is pure: no I/O, no clock.
package template

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/telflow/telflow/common/models"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Render replaces every {{path}} with the value at the dotted path in scope.
// Unresolved or null paths leave the placeholder verbatim, never "null" or
// an empty string.
func Render(tmpl string, scope map[string]any) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}

	doc, err := json.Marshal(scope)
	if err != nil {
		return tmpl
	}

	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-2])
		res := gjson.GetBytes(doc, path)
		if !res.Exists() || res.Type == gjson.Null {
			return match
		}
		switch res.Type {
		case gjson.String:
			return res.Str
		case gjson.JSON:
			return res.Raw
		default:
			return res.String()
		}
	})
}

// RenderMap applies Render to every string value recursively. Non-string
// values are preserved as-is.
func RenderMap(m map[string]any, scope map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = renderValue(v, scope)
	}
	return out
}

func renderValue(v any, scope map[string]any) any {
	switch val := v.(type) {
	case string:
		return Render(val, scope)
	case map[string]any:
		return RenderMap(val, scope)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = renderValue(item, scope)
		}
		return out
	default:
		return v
	}
}

// EvaluatePredicate renders the expression, then looks for a comparison
// operator and compares the two sides: numerically for ordering operators,
// textually for equality. Without an operator the truthiness of the whole
// rendered string decides. Parse failures yield false.
//
// The operator scan recognizes multi-character operators before their
// single-character prefixes, so "a >= b" is never misread as ">".
func EvaluatePredicate(expr string, scope map[string]any) bool {
	rendered := Render(expr, scope)

	op, pos := findOperator(rendered)
	if op == "" {
		return Truthy(rendered)
	}

	left := strings.TrimSpace(rendered[:pos])
	right := strings.TrimSpace(rendered[pos+len(op):])

	switch op {
	case "==":
		return unquote(left) == unquote(right)
	case "!=":
		return unquote(left) != unquote(right)
	}

	lf, lok := parseNumber(left)
	rf, rok := parseNumber(right)
	if !lok || !rok {
		return false
	}

	switch op {
	case ">":
		return lf > rf
	case "<":
		return lf < rf
	case ">=":
		return lf >= rf
	case "<=":
		return lf <= rf
	}
	return false
}

// findOperator returns the first comparison operator in s and its index,
// trying two-character operators before single-character ones at each
// position.
func findOperator(s string) (string, int) {
	for i := 0; i < len(s); i++ {
		if i+1 < len(s) {
			switch s[i : i+2] {
			case "==", "!=", ">=", "<=":
				return s[i : i+2], i
			}
		}
		switch s[i] {
		case '>', '<':
			return string(s[i]), i
		}
	}
	return "", -1
}

// Truthy reports whether a rendered string counts as true. Strings that
// still contain unresolved placeholders are false.
func Truthy(s string) bool {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "{{") {
		return false
	}
	switch strings.ToLower(s) {
	case "", "false", "0", "null", "undefined":
		return false
	}
	return true
}

// BuildScope composes the template scope for a node: context variables
// first, node input overlaid on top, then the well-known session keys.
// The subscriber/message keys arrive through the trigger payload already
// merged into the context variables.
func BuildScope(ec *models.ExecutionContext, input map[string]any) map[string]any {
	scope := make(map[string]any, len(ec.Variables)+len(input)+1)
	for k, v := range ec.Variables {
		scope[k] = v
	}
	for k, v := range input {
		scope[k] = v
	}
	if ec.Session != nil {
		scope["session"] = map[string]any{
			"id":         ec.Session.SessionID,
			"channel":    string(ec.Session.Channel),
			"subscriber": ec.Session.Subscriber,
			"data":       ec.Session.Data,
		}
	}
	return scope
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
