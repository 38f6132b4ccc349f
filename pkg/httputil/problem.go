// Package httputil provides shared HTTP response helpers: plain JSON
// bodies and RFC 7807 problem documents.
package httputil

import (
	"encoding/json"
	"net/http"
)

// ProblemContentType is the media type for RFC 7807 error bodies.
const ProblemContentType = "application/problem+json"

// Problem is an RFC 7807 problem document. Details carries flattened
// validator errors when the problem originates from schema validation.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Details  any    `json:"details,omitempty"`
}

// Problem type URIs. Relative URIs are allowed by RFC 7807; these stay
// stable so clients can switch on them.
const (
	TypeNotFound        = "urn:sandboxd:problem:operation-not-found"
	TypeRequestInvalid  = "urn:sandboxd:problem:request-invalid"
	TypeResponseInvalid = "urn:sandboxd:problem:response-invalid"
	TypeRuleFailure     = "urn:sandboxd:problem:rule-failure"
	TypeStoreFailure    = "urn:sandboxd:problem:store-failure"
	TypeTimeout         = "urn:sandboxd:problem:deadline-exceeded"
	TypeInternal        = "urn:sandboxd:problem:internal"
)

// WriteJSON writes data as application/json with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteProblem writes a problem document with the given status.
// The Status field is forced to match the wire status.
func WriteProblem(w http.ResponseWriter, status int, p Problem) {
	p.Status = status
	if p.Type == "" {
		p.Type = "about:blank"
	}
	if p.Title == "" {
		p.Title = http.StatusText(status)
	}
	w.Header().Set("Content-Type", ProblemContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p)
}

// NotFound writes a 404 problem for an unmatched operation.
func NotFound(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, http.StatusNotFound, Problem{
		Type:     TypeNotFound,
		Title:    "No matching operation",
		Detail:   detail,
		Instance: instance,
	})
}

// BadRequest writes a 400 problem carrying validator error details.
func BadRequest(w http.ResponseWriter, detail, instance string, details any) {
	WriteProblem(w, http.StatusBadRequest, Problem{
		Type:     TypeRequestInvalid,
		Title:    "Request validation failed",
		Detail:   detail,
		Instance: instance,
		Details:  details,
	})
}

// InternalError writes a 500 problem with the given type URI.
func InternalError(w http.ResponseWriter, typ, detail, instance string) {
	WriteProblem(w, http.StatusInternalServerError, Problem{
		Type:     typ,
		Title:    "Internal error",
		Detail:   detail,
		Instance: instance,
	})
}

// GatewayTimeout writes a 504 problem for store deadline expiry.
func GatewayTimeout(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, http.StatusGatewayTimeout, Problem{
		Type:     TypeTimeout,
		Title:    "Upstream deadline exceeded",
		Detail:   detail,
		Instance: instance,
	})
}
