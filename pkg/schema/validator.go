// Package schema validates values against JSON Schema as OpenAPI
// documents write it, and generates sample data from the same schemas
// with seeded pseudo-randomness.
package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Error is one flattened validation failure.
type Error struct {
	InstancePath string         `json:"instancePath"`
	SchemaPath   string         `json:"schemaPath"`
	Keyword      string         `json:"keyword"`
	Message      string         `json:"message"`
	Params       map[string]any `json:"params,omitempty"`
}

func (e Error) Error() string {
	if e.InstancePath == "" {
		return e.Message
	}
	return e.InstancePath + ": " + e.Message
}

// Validator compiles schemas once and caches them by identifier.
// Compilation is permissive toward OpenAPI-flavored schemas: unknown
// keywords and formats pass through, and nullable is rewritten into a
// null-admitting type before the compiler sees it.
type Validator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewValidator creates an empty validator cache.
func NewValidator() *Validator {
	return &Validator{cache: make(map[string]*jsonschema.Schema)}
}

// Validate checks value against the schema registered under id,
// compiling on first use. A nil or empty schema accepts everything.
func (v *Validator) Validate(id string, schema map[string]any, value any) []Error {
	if len(schema) == 0 {
		return nil
	}
	compiled, err := v.compiled(id, schema)
	if err != nil {
		return []Error{{Keyword: "schema", Message: fmt.Sprintf("schema compilation: %v", err)}}
	}
	if err := compiled.Validate(value); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return flatten(ve)
		}
		return []Error{{Keyword: "schema", Message: err.Error()}}
	}
	return nil
}

func (v *Validator) compiled(id string, schema map[string]any) (*jsonschema.Schema, error) {
	v.mu.RLock()
	cached, ok := v.cache[id]
	v.mu.RUnlock()
	if ok {
		return cached, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if cached, ok := v.cache[id]; ok {
		return cached, nil
	}

	compiled, err := compile(id, schema)
	if err != nil {
		return nil, err
	}
	v.cache[id] = compiled
	return compiled, nil
}

func compile(id string, schema map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(normalize(schema))
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	resource := "inline://" + id + ".json"
	if err := compiler.AddResource(resource, strings.NewReader(string(data))); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(resource)
}

// normalize rewrites OpenAPI 3.0 idioms the validator dialect does not
// know. nullable: true widens the type to admit null; everything else
// (example, format values like int32, x- extensions) is already ignored
// as an annotation.
func normalize(schema any) any {
	switch s := schema.(type) {
	case map[string]any:
		out := make(map[string]any, len(s))
		for k, v := range s {
			out[k] = normalize(v)
		}
		if nullable, ok := out["nullable"].(bool); ok {
			delete(out, "nullable")
			if nullable {
				switch typ := out["type"].(type) {
				case string:
					out["type"] = []any{typ, "null"}
				case []any:
					out["type"] = append(typ, "null")
				}
			}
		}
		return out
	case []any:
		out := make([]any, len(s))
		for i, v := range s {
			out[i] = normalize(v)
		}
		return out
	default:
		return schema
	}
}

// flatten walks the cause tree and keeps only leaf failures, each as
// one (instancePath, schemaPath, keyword, message) tuple.
func flatten(ve *jsonschema.ValidationError) []Error {
	var out []Error
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, Error{
				InstancePath: e.InstanceLocation,
				SchemaPath:   e.KeywordLocation,
				Keyword:      keywordOf(e.KeywordLocation),
				Message:      e.Message,
			})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return out
}

func keywordOf(keywordLocation string) string {
	parts := strings.Split(keywordLocation, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		p := parts[i]
		if p == "" {
			continue
		}
		// Skip structural segments like properties/<name> and array
		// indices.
		if _, err := strconv.Atoi(p); err == nil {
			continue
		}
		return p
	}
	return ""
}

// Prefix shifts every error under a slot path such as /body or
// /query/limit, matching how request and response validation report
// locations.
func Prefix(errs []Error, prefix string) []Error {
	for i := range errs {
		errs[i].InstancePath = prefix + errs[i].InstancePath
	}
	return errs
}

// Coerce converts the string form a query, header, or cookie slot
// carries into the type its schema declares. Unparseable values stay
// strings and fail validation with a type error.
func Coerce(raw string, schema map[string]any) any {
	typ, _ := schema["type"].(string)
	switch typ {
	case "integer":
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return float64(n)
		}
	case "number":
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return n
		}
	case "boolean":
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	case "array":
		items, _ := schema["items"].(map[string]any)
		parts := strings.Split(raw, ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			if items != nil {
				out[i] = Coerce(p, items)
			} else {
				out[i] = p
			}
		}
		return out
	}
	return raw
}
