package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsValid(t *testing.T) {
	v := NewValidator()
	schema := map[string]any{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
			"age":  map[string]any{"type": "integer", "minimum": float64(0)},
		},
	}

	errs := v.Validate("pet", schema, map[string]any{"name": "rex", "age": float64(3)})
	assert.Empty(t, errs)
}

func TestValidateFlattensErrors(t *testing.T) {
	v := NewValidator()
	schema := map[string]any{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
			"age":  map[string]any{"type": "integer"},
		},
	}

	errs := v.Validate("pet", schema, map[string]any{"age": "old"})
	require.NotEmpty(t, errs)

	keywords := make(map[string]bool)
	for _, e := range errs {
		keywords[e.Keyword] = true
	}
	assert.True(t, keywords["required"], "missing name reported: %v", errs)
	assert.True(t, keywords["type"], "age type mismatch reported: %v", errs)

	for _, e := range errs {
		if e.Keyword == "type" {
			assert.Equal(t, "/age", e.InstancePath)
		}
	}
}

func TestValidateNilSchemaAcceptsAll(t *testing.T) {
	v := NewValidator()
	assert.Empty(t, v.Validate("any", nil, map[string]any{"x": 1}))
	assert.Empty(t, v.Validate("any", map[string]any{}, "whatever"))
}

func TestValidateOpenAPIKeywords(t *testing.T) {
	v := NewValidator()
	schema := map[string]any{
		"type":    "object",
		"example": map[string]any{"id": "x"},
		"properties": map[string]any{
			"id":    map[string]any{"type": "string", "format": "int64ish-custom"},
			"count": map[string]any{"type": "integer", "format": "int32", "example": float64(1)},
		},
	}

	errs := v.Validate("openapi", schema, map[string]any{"id": "a", "count": float64(2)})
	assert.Empty(t, errs, "OpenAPI annotations must not reject values: %v", errs)
}

func TestValidateNullable(t *testing.T) {
	v := NewValidator()
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"note": map[string]any{"type": "string", "nullable": true},
		},
	}

	assert.Empty(t, v.Validate("nullable", schema, map[string]any{"note": nil}))
	assert.NotEmpty(t, v.Validate("nullable", schema, map[string]any{"note": float64(1)}))
}

func TestValidateCacheReuse(t *testing.T) {
	v := NewValidator()
	schema := map[string]any{"type": "string"}

	assert.Empty(t, v.Validate("s", schema, "ok"))
	// Second call hits the cache; same id, same outcome.
	assert.NotEmpty(t, v.Validate("s", schema, float64(1)))
}

func TestPrefix(t *testing.T) {
	errs := []Error{{InstancePath: "/age", Keyword: "type"}, {InstancePath: "", Keyword: "required"}}
	out := Prefix(errs, "/body")
	assert.Equal(t, "/body/age", out[0].InstancePath)
	assert.Equal(t, "/body", out[1].InstancePath)
}

func TestCoerce(t *testing.T) {
	assert.Equal(t, float64(5), Coerce("5", map[string]any{"type": "integer"}))
	assert.Equal(t, 2.5, Coerce("2.5", map[string]any{"type": "number"}))
	assert.Equal(t, true, Coerce("true", map[string]any{"type": "boolean"}))
	assert.Equal(t, "plain", Coerce("plain", map[string]any{"type": "string"}))

	// Unparseable values stay strings so validation reports the type.
	assert.Equal(t, "x", Coerce("x", map[string]any{"type": "integer"}))

	assert.Equal(t,
		[]any{float64(1), float64(2)},
		Coerce("1,2", map[string]any{"type": "array", "items": map[string]any{"type": "integer"}}))
}

func TestCoercedSlotValidation(t *testing.T) {
	v := NewValidator()
	schema := map[string]any{"type": "integer", "minimum": float64(1), "maximum": float64(100)}

	errs := v.Validate("limit", schema, Coerce("50", schema))
	assert.Empty(t, errs)

	errs = Prefix(v.Validate("limit", schema, Coerce("500", schema)), "/query/limit")
	require.NotEmpty(t, errs)
	assert.Equal(t, "/query/limit", errs[0].InstancePath)
	assert.Equal(t, "maximum", errs[0].Keyword)
}
