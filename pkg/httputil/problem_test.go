package httputil

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) Problem {
	t.Helper()
	var p Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestWriteProblemDefaults(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteProblem(rec, 500, Problem{Detail: "boom"})

	assert.Equal(t, 500, rec.Code)
	assert.Equal(t, ProblemContentType, rec.Header().Get("Content-Type"))

	p := decodeProblem(t, rec)
	assert.Equal(t, "about:blank", p.Type)
	assert.Equal(t, "Internal Server Error", p.Title)
	assert.Equal(t, 500, p.Status)
	assert.Equal(t, "boom", p.Detail)
}

func TestWriteProblemForcesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteProblem(rec, 404, Problem{Status: 200, Type: TypeNotFound})

	p := decodeProblem(t, rec)
	assert.Equal(t, 404, p.Status)
}

func TestBadRequestCarriesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	details := []map[string]string{{"instancePath": "/body/name", "keyword": "required"}}
	BadRequest(rec, "1 validation error", "/users", details)

	assert.Equal(t, 400, rec.Code)
	p := decodeProblem(t, rec)
	assert.Equal(t, TypeRequestInvalid, p.Type)
	assert.Equal(t, "/users", p.Instance)
	require.NotNil(t, p.Details)
}

func TestGatewayTimeout(t *testing.T) {
	rec := httptest.NewRecorder()
	GatewayTimeout(rec, "store deadline exceeded", "/users/1")

	assert.Equal(t, 504, rec.Code)
	p := decodeProblem(t, rec)
	assert.Equal(t, TypeTimeout, p.Type)
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, 201, map[string]string{"id": "42"})

	assert.Equal(t, 201, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":"42"}`, rec.Body.String())
}
