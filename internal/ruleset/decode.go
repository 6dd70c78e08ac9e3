package ruleset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/pitabwire/coachbuilder/model"
)

// ErrInvalidDocument reports input that is not a JSON object. It is distinct
// from validation errors, which describe problems inside a well-formed document.
var ErrInvalidDocument = errors.New("invalid rule set document")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var unmarshalerType = reflect.TypeFor[json.Unmarshaler]()

// Decode parses a wire document. Malformed JSON and non-object roots fail
// with ErrInvalidDocument. A member whose JSON type does not fit the wire
// shape, such as phases given as a string, is reported as an invalid_type
// error at its indexed path and decoded as absent, so the returned rule set
// can still be validated. Use MergeShapeErrors to combine both lists.
func Decode(data []byte) (model.RuleSet, []model.ValidationError, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return model.RuleSet{}, nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if _, ok := root.(map[string]any); !ok {
		return model.RuleSet{}, nil, fmt.Errorf("%w: root must be an object, got %s", ErrInvalidDocument, jsonKind(root))
	}

	var sc shapeChecker
	root = sc.walk("", root, reflect.TypeFor[model.RuleSet]())
	if len(sc.errs) > 0 {
		cleaned, err := json.Marshal(root)
		if err != nil {
			return model.RuleSet{}, nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		data = cleaned
	}

	var rs model.RuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		// Keys matched case-insensitively by encoding/json escape the walk.
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			path := typeErr.Field
			if path == "" {
				path = "$"
			}
			return model.RuleSet{}, append(sc.errs,
				verr(path, model.CodeInvalidType, "expected", typeName(typeErr.Type), "got", typeErr.Value)), nil
		}
		return model.RuleSet{}, nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return rs, sc.errs, nil
}

// MergeShapeErrors combines Decode's shape errors with the validation errors
// of the decoded rule set. Validation errors at or below a mistyped member
// are dropped; they only describe the cleared value.
func MergeShapeErrors(shape, validation []model.ValidationError) []model.ValidationError {
	if len(shape) == 0 {
		return validation
	}
	out := append([]model.ValidationError(nil), shape...)
	for _, e := range validation {
		if !coveredBy(e.Path, shape) {
			out = append(out, e)
		}
	}
	return out
}

func coveredBy(path string, shape []model.ValidationError) bool {
	for _, s := range shape {
		if path == s.Path ||
			strings.HasPrefix(path, s.Path+".") ||
			strings.HasPrefix(path, s.Path+"[") {
			return true
		}
	}
	return false
}

// shapeChecker compares a generic JSON tree with the Go type it will be
// decoded into and clears members of the wrong JSON type.
type shapeChecker struct {
	errs []model.ValidationError
}

func (c *shapeChecker) walk(path string, v any, t reflect.Type) any {
	if v == nil || t.Implements(unmarshalerType) || reflect.PointerTo(t).Implements(unmarshalerType) {
		return v
	}
	switch t.Kind() {
	case reflect.Pointer:
		return c.walk(path, v, t.Elem())
	case reflect.Interface:
		return v
	case reflect.Struct:
		obj, ok := v.(map[string]any)
		if !ok {
			return c.mismatch(path, t, v)
		}
		for i := range t.NumField() {
			f := t.Field(i)
			name := jsonName(f)
			if name == "" {
				continue
			}
			if fv, ok := obj[name]; ok {
				obj[name] = c.walk(joinPath(path, name), fv, f.Type)
			}
		}
		return obj
	case reflect.Slice, reflect.Array:
		list, ok := v.([]any)
		if !ok {
			return c.mismatch(path, t, v)
		}
		for i := range list {
			list[i] = c.walk(fmt.Sprintf("%s[%d]", path, i), list[i], t.Elem())
		}
		return list
	case reflect.Map:
		obj, ok := v.(map[string]any)
		if !ok {
			return c.mismatch(path, t, v)
		}
		for _, k := range slices.Sorted(maps.Keys(obj)) {
			obj[k] = c.walk(joinPath(path, k), obj[k], t.Elem())
		}
		return obj
	case reflect.String:
		if _, ok := v.(string); !ok {
			return c.mismatch(path, t, v)
		}
	case reflect.Bool:
		if _, ok := v.(bool); !ok {
			return c.mismatch(path, t, v)
		}
	default:
		if _, ok := v.(float64); !ok {
			return c.mismatch(path, t, v)
		}
	}
	return v
}

func (c *shapeChecker) mismatch(path string, t reflect.Type, v any) any {
	if path == "" {
		path = "$"
	}
	c.errs = append(c.errs, verr(path, model.CodeInvalidType, "expected", typeName(t), "got", jsonKind(v)))
	return nil
}

func jsonName(f reflect.StructField) string {
	if !f.IsExported() {
		return ""
	}
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "unknown"
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct, reflect.Pointer:
		return "object"
	case reflect.Bool:
		return "boolean"
	case reflect.String:
		return "string"
	default:
		return "number"
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		return "number"
	default:
		return "object"
	}
}

// Errors is a non-empty list of validation errors carried as a Go error.
type Errors []model.ValidationError

func (e Errors) Error() string {
	switch len(e) {
	case 0:
		return "no validation errors"
	case 1:
		return e[0].Error()
	default:
		return fmt.Sprintf("%s (and %d more)", e[0].Error(), len(e)-1)
	}
}
