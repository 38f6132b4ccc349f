package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const petstore = `
openapi: 3.0.3
info:
  title: Petstore
  version: "1.0"
paths:
  /pets:
    post:
      operationId: createPet
      requestBody:
        content:
          application/json:
            schema:
              $ref: '#/components/schemas/Pet'
      responses:
        '201':
          description: created
          content:
            application/json:
              schema:
                $ref: '#/components/schemas/Pet'
  /pets/mine:
    get:
      responses:
        '200':
          description: ok
  /pets/{id}:
    parameters:
      - name: id
        in: path
        required: true
        schema:
          type: string
    get:
      operationId: getPet
      parameters:
        - name: verbose
          in: query
          schema:
            type: boolean
      responses:
        '200':
          description: ok
          headers:
            X-RateLimit:
              schema:
                type: integer
          content:
            application/json:
              schema:
                $ref: '#/components/schemas/Pet'
        '404':
          description: missing
        default:
          description: fallback
components:
  schemas:
    Pet:
      type: object
      required: [id, name]
      properties:
        id:
          type: string
        name:
          type: string
`

func loadPetstore(t *testing.T) *Document {
	t.Helper()
	doc, err := LoadBytes([]byte(petstore), "petstore.yaml")
	require.NoError(t, err)
	return doc
}

func TestLoadBuildsOperationTable(t *testing.T) {
	doc := loadPetstore(t)
	require.Len(t, doc.Operations, 3)

	op, ok := doc.Lookup("getPet")
	require.True(t, ok)
	assert.Equal(t, "GET", op.Method)
	assert.Equal(t, "/pets/{id}", op.Path)
	assert.Equal(t, []string{"id"}, op.VarNames)
}

func TestDerivedOperationID(t *testing.T) {
	doc := loadPetstore(t)
	_, ok := doc.Lookup("get_pets_mine")
	assert.True(t, ok, "missing operationId should derive from method+path")
}

func TestRefInlining(t *testing.T) {
	doc := loadPetstore(t)
	op, _ := doc.Lookup("createPet")
	require.NotNil(t, op.RequestSchema)
	assert.Equal(t, "object", op.RequestSchema["type"])

	props, ok := op.RequestSchema["properties"].(map[string]any)
	require.True(t, ok, "$ref should be inlined to the full schema")
	assert.Contains(t, props, "name")
}

func TestParameterMerge(t *testing.T) {
	doc := loadPetstore(t)
	op, _ := doc.Lookup("getPet")
	require.Len(t, op.Params, 2)

	byName := map[string]Param{}
	for _, p := range op.Params {
		byName[p.Name] = p
	}
	assert.Equal(t, "path", byName["id"].In)
	assert.True(t, byName["id"].Required)
	assert.Equal(t, "query", byName["verbose"].In)
	assert.False(t, byName["verbose"].Required)
}

func TestResponseDescriptors(t *testing.T) {
	doc := loadPetstore(t)
	op, _ := doc.Lookup("getPet")

	require.Contains(t, op.Responses, "200")
	ok := op.Responses["200"]
	assert.Equal(t, "integer", ok.Headers["X-RateLimit"]["type"])
	require.NotNil(t, JSONSchema(ok.Content))

	assert.NotNil(t, op.ResponseFor(404))
	assert.Same(t, op.Responses["default"], op.ResponseFor(503))
}

func TestSuccessResponseSelection(t *testing.T) {
	doc := loadPetstore(t)

	op, _ := doc.Lookup("createPet")
	resp, status := op.SuccessResponse()
	require.NotNil(t, resp)
	assert.Equal(t, 201, status)

	op, _ = doc.Lookup("getPet")
	_, status = op.SuccessResponse()
	assert.Equal(t, 200, status)
}

func TestDanglingRefFails(t *testing.T) {
	const doc = `
openapi: 3.0.3
info: {title: t, version: "1"}
paths:
  /x:
    get:
      responses:
        '200':
          description: ok
          content:
            application/json:
              schema:
                $ref: '#/components/schemas/Missing'
`
	_, err := LoadBytes([]byte(doc), "bad.yaml")
	require.Error(t, err)
	var se *Error
	require.ErrorAs(t, err, &se)
}

func TestRemoteRefFails(t *testing.T) {
	raw := map[string]any{
		"openapi": "3.1.0",
		"info":    map[string]any{"title": "t", "version": "1"},
		"paths": map[string]any{
			"/x": map[string]any{
				"get": map[string]any{
					"responses": map[string]any{
						"200": map[string]any{
							"description": "ok",
							"content": map[string]any{
								"application/json": map[string]any{
									"schema": map[string]any{"$ref": "https://example.com/pet.json#/Pet"},
								},
							},
						},
					},
				},
			},
		},
	}
	_, err := FromMap(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-local")
}

func TestCyclicRefTerminates(t *testing.T) {
	raw := map[string]any{
		"openapi": "3.1.0",
		"info":    map[string]any{"title": "t", "version": "1"},
		"paths": map[string]any{
			"/nodes": map[string]any{
				"get": map[string]any{
					"operationId": "listNodes",
					"responses": map[string]any{
						"200": map[string]any{
							"description": "ok",
							"content": map[string]any{
								"application/json": map[string]any{
									"schema": map[string]any{"$ref": "#/components/schemas/Node"},
								},
							},
						},
					},
				},
			},
		},
		"components": map[string]any{
			"schemas": map[string]any{
				"Node": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"next": map[string]any{"$ref": "#/components/schemas/Node"},
					},
				},
			},
		},
	}
	doc, err := FromMap(raw)
	require.NoError(t, err)
	op, _ := doc.Lookup("listNodes")
	schema := JSONSchema(op.Responses["200"].Content)
	require.NotNil(t, schema)
	props := schema["properties"].(map[string]any)
	// The self-reference collapses to an empty schema instead of recursing.
	assert.Equal(t, map[string]any{}, props["next"])
}

func TestJSONSchemaPrecedence(t *testing.T) {
	content := map[string]map[string]any{
		"application/xml":  {"type": "string"},
		"application/json": {"type": "object"},
	}
	assert.Equal(t, "object", JSONSchema(content)["type"])

	content = map[string]map[string]any{
		"application/xml": {"type": "string"},
		"*/*":             {"type": "number"},
	}
	assert.Equal(t, "number", JSONSchema(content)["type"])

	content = map[string]map[string]any{
		"text/plain":      {"type": "string"},
		"application/xml": {"type": "integer"},
	}
	// No JSON, no wildcard: lexicographically first entry.
	assert.Equal(t, "integer", JSONSchema(content)["type"])
}
