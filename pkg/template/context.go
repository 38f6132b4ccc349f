package template

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// Context holds the data visible to one evaluation. The pipeline builds
// one context per request; Now is fixed at construction so every render
// within the request observes the same instant.
type Context struct {
	// Req exposes the request parts under the "req" name: method, path,
	// url, params, query, headers, cookies, body, rawBody.
	Req map[string]any

	// Session exposes {id, scope} under the "session" name.
	Session map[string]any

	// State is a read-only projection of the session's state entries.
	State map[string]any

	// Vars is the rule-local scratch written by state.increment "as"
	// bindings and read back in later expressions.
	Vars map[string]any

	// Now is the single timestamp for the request.
	Now time.Time
}

// NewContext builds a fresh evaluation context from an HTTP request.
// Query values and headers collapse to their first value; the body is
// parsed as JSON when the content type says so.
func NewContext(r *http.Request, body []byte, pathParams map[string]string) *Context {
	query := make(map[string]any)
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			query[name] = values[0]
		}
	}
	headers := make(map[string]any)
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[strings.ToLower(name)] = values[0]
		}
	}
	cookies := make(map[string]any)
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}
	params := make(map[string]any, len(pathParams))
	for name, value := range pathParams {
		params[name] = value
	}

	var parsed any
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") && len(body) > 0 {
		if err := json.Unmarshal(body, &parsed); err != nil {
			parsed = nil
		}
	}

	return &Context{
		Req: map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"url":    r.URL.String(),
			// params and pathParams are the same map; rules written
			// against either name resolve.
			"params":     params,
			"pathParams": params,
			"query":      query,
			"headers":    headers,
			"cookies":    cookies,
			"body":       parsed,
			"rawBody":    string(body),
		},
		Session: map[string]any{},
		State:   map[string]any{},
		Vars:    map[string]any{},
		Now:     time.Now().UTC(),
	}
}

// ReadBody drains the request body with a hard cap and hands the bytes
// back for context construction and validation.
func ReadBody(r *http.Request) ([]byte, error) {
	const maxBodySize = 10 << 20
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	return body, nil
}

// SetSession binds the session identity visible as session.id and
// session.scope.
func (c *Context) SetSession(id, scope string) {
	c.Session = map[string]any{"id": id, "scope": scope}
}

// SetState installs the read-only state projection.
func (c *Context) SetState(state map[string]any) {
	if state == nil {
		state = map[string]any{}
	}
	c.State = state
}
