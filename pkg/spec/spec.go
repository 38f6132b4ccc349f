// Package spec loads OpenAPI 3.0/3.1 documents and builds the immutable
// per-operation index the rest of the server runs on. Only local $ref
// pointers are resolved; remote references are a load-time error.
package spec

import (
	"sort"
	"strings"
)

// Methods recognized when walking the paths object.
var Methods = []string{"GET", "PUT", "POST", "DELETE", "OPTIONS", "HEAD", "PATCH", "TRACE"}

// Param describes one operation parameter.
type Param struct {
	Name     string
	In       string // path, query, header, cookie
	Required bool
	Schema   map[string]any
}

// Response describes one response entry, keyed by status code, status
// class ("2XX") or "default" in Operation.Responses.
type Response struct {
	Status  string
	Headers map[string]map[string]any // header name → schema
	Content map[string]map[string]any // media type → schema
}

// Operation is the immutable descriptor for one (method, path) pair.
// Built once at load time; safe for concurrent reads.
type Operation struct {
	ID       string
	Method   string // uppercase
	Path     string // template literal, e.g. /users/{id}
	VarNames []string

	Params        []Param
	RequestSchema map[string]any // nil when the operation declares no JSON body
	Responses     map[string]*Response
}

// Document is a loaded specification: the ref-inlined raw tree plus the
// operation table.
type Document struct {
	Raw        map[string]any
	Operations []*Operation

	byID map[string]*Operation
}

// Lookup returns the operation with the given identifier.
func (d *Document) Lookup(id string) (*Operation, bool) {
	op, ok := d.byID[id]
	return op, ok
}

// SuccessResponse returns the response descriptor the default-response
// path should use: "200" when present, otherwise the lexicographically
// first 2xx code, otherwise the "2XX" class entry, otherwise "default".
func (op *Operation) SuccessResponse() (*Response, int) {
	if r, ok := op.Responses["200"]; ok {
		return r, 200
	}
	var codes []string
	for code := range op.Responses {
		if len(code) == 3 && code[0] == '2' && code != "2XX" {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	if len(codes) > 0 {
		return op.Responses[codes[0]], statusFromCode(codes[0])
	}
	if r, ok := op.Responses["2XX"]; ok {
		return r, 200
	}
	if r, ok := op.Responses["default"]; ok {
		return r, 200
	}
	return nil, 200
}

// ResponseFor resolves the descriptor for a concrete status code,
// falling back to the status class and then "default".
func (op *Operation) ResponseFor(status int) *Response {
	code := statusCode(status)
	if r, ok := op.Responses[code]; ok {
		return r
	}
	class := code[:1] + "XX"
	if r, ok := op.Responses[class]; ok {
		return r
	}
	return op.Responses["default"]
}

// JSONSchema selects the JSON schema from a content map with the media
// type precedence rule: exact application/json, then a wildcard, then
// the first entry (lexicographic, since document order is not preserved).
func JSONSchema(content map[string]map[string]any) map[string]any {
	if content == nil {
		return nil
	}
	if s, ok := content["application/json"]; ok {
		return s
	}
	for _, mt := range []string{"*/*", "application/*"} {
		if s, ok := content[mt]; ok {
			return s
		}
	}
	keys := make([]string, 0, len(content))
	for mt := range content {
		keys = append(keys, mt)
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	return content[keys[0]]
}

// deriveOperationID synthesizes an identifier from method and path when
// the document omits operationId: non-alphanumerics become underscores.
func deriveOperationID(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, r := range path {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// pathVarNames extracts {name} captures in template order.
func pathVarNames(path string) []string {
	var names []string
	for _, seg := range strings.Split(path, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") && len(seg) > 2 {
			names = append(names, seg[1:len(seg)-1])
		}
	}
	return names
}

func statusCode(status int) string {
	const digits = "0123456789"
	return string([]byte{
		digits[status/100%10],
		digits[status/10%10],
		digits[status%10],
	})
}

func statusFromCode(code string) int {
	n := 0
	for i := 0; i < len(code); i++ {
		n = n*10 + int(code[i]-'0')
	}
	return n
}
