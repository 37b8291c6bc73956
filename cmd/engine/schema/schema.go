// Package schema provides declarative validation for node configurations.
// Schemas are plain data composed from combinators; validating a value
// yields a flat list of field errors with dotted paths.
package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// FieldError is one validation failure at a dotted path.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Schema validates a dynamic value. path is the dotted location of value
// inside the enclosing config, "" at the root.
type Schema interface {
	Validate(value any, path string) []FieldError
}

// Field describes one property of an Object.
type Field struct {
	Schema   Schema
	Required bool
	Default  any
}

// Object validates a map with a fixed set of known fields. Unknown keys are
// tolerated so builder UIs can attach extra metadata.
type Object struct {
	Fields map[string]Field
}

func (o Object) Validate(value any, path string) []FieldError {
	m, ok := value.(map[string]any)
	if !ok {
		return []FieldError{{Path: path, Message: "expected an object"}}
	}

	var errs []FieldError
	for name, field := range o.Fields {
		fieldPath := join(path, name)
		v, present := m[name]
		if !present || v == nil {
			if field.Required {
				errs = append(errs, FieldError{Path: fieldPath, Message: "is required"})
			}
			continue
		}
		if field.Schema != nil {
			errs = append(errs, field.Schema.Validate(v, fieldPath)...)
		}
	}
	return errs
}

// ApplyDefaults returns a copy of config with declared defaults filled in
// for absent fields.
func (o Object) ApplyDefaults(config map[string]any) map[string]any {
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = v
	}
	for name, field := range o.Fields {
		if _, present := out[name]; !present && field.Default != nil {
			out[name] = field.Default
		}
	}
	return out
}

// String validates a string value with optional constraints.
type String struct {
	Enum    []string
	Pattern *regexp.Regexp
	MinLen  int
}

func (s String) Validate(value any, path string) []FieldError {
	str, ok := value.(string)
	if !ok {
		return []FieldError{{Path: path, Message: "expected a string"}}
	}
	if s.MinLen > 0 && len(str) < s.MinLen {
		return []FieldError{{Path: path, Message: fmt.Sprintf("must be at least %d characters", s.MinLen)}}
	}
	if len(s.Enum) > 0 {
		for _, allowed := range s.Enum {
			if str == allowed {
				return nil
			}
		}
		return []FieldError{{Path: path, Message: "must be one of: " + strings.Join(s.Enum, ", ")}}
	}
	if s.Pattern != nil && !s.Pattern.MatchString(str) {
		return []FieldError{{Path: path, Message: "does not match pattern " + s.Pattern.String()}}
	}
	return nil
}

// Number validates a numeric value with optional bounds. JSON numbers
// arrive as float64; integers are accepted too.
type Number struct {
	Min *float64
	Max *float64
}

func (n Number) Validate(value any, path string) []FieldError {
	f, ok := toFloat(value)
	if !ok {
		return []FieldError{{Path: path, Message: "expected a number"}}
	}
	if n.Min != nil && f < *n.Min {
		return []FieldError{{Path: path, Message: fmt.Sprintf("must be >= %v", *n.Min)}}
	}
	if n.Max != nil && f > *n.Max {
		return []FieldError{{Path: path, Message: fmt.Sprintf("must be <= %v", *n.Max)}}
	}
	return nil
}

// Bool validates a boolean value.
type Bool struct{}

func (Bool) Validate(value any, path string) []FieldError {
	if _, ok := value.(bool); !ok {
		return []FieldError{{Path: path, Message: "expected a boolean"}}
	}
	return nil
}

// Map validates a record: arbitrary string keys, uniform value schema.
type Map struct {
	Values Schema
}

func (m Map) Validate(value any, path string) []FieldError {
	obj, ok := value.(map[string]any)
	if !ok {
		return []FieldError{{Path: path, Message: "expected an object"}}
	}
	if m.Values == nil {
		return nil
	}
	var errs []FieldError
	for k, v := range obj {
		errs = append(errs, m.Values.Validate(v, join(path, k))...)
	}
	return errs
}

// Array validates a list with a uniform element schema.
type Array struct {
	Elem   Schema
	MinLen int
}

func (a Array) Validate(value any, path string) []FieldError {
	list, ok := value.([]any)
	if !ok {
		return []FieldError{{Path: path, Message: "expected an array"}}
	}
	if len(list) < a.MinLen {
		return []FieldError{{Path: path, Message: fmt.Sprintf("must have at least %d elements", a.MinLen)}}
	}
	if a.Elem == nil {
		return nil
	}
	var errs []FieldError
	for i, v := range list {
		errs = append(errs, a.Elem.Validate(v, fmt.Sprintf("%s[%d]", path, i))...)
	}
	return errs
}

// Any accepts every value.
type Any struct{}

func (Any) Validate(any, string) []FieldError { return nil }

// MinMax builds a bounded Number schema.
func MinMax(min, max float64) Number {
	return Number{Min: &min, Max: &max}
}

// Min builds a lower-bounded Number schema.
func Min(min float64) Number {
	return Number{Min: &min}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	}
	return 0, false
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
