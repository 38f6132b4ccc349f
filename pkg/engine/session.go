package engine

import (
	"net/http"

	"github.com/sandboxhq/sandboxd/pkg/state"
)

// Session identification, in precedence order.
const (
	SessionHeader = "X-Sandbox-Session"
	SessionCookie = "sandbox_session"
)

// sessionID resolves the session for a request: the dedicated header,
// then the cookie, then the Authorization value as an opaque key, then
// the shared GLOBAL scope.
func sessionID(r *http.Request) string {
	if v := r.Header.Get(SessionHeader); v != "" {
		return v
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if v := r.Header.Get("Authorization"); v != "" {
		return v
	}
	return state.GlobalSession
}

func sessionScope(sid string) string {
	if sid == state.GlobalSession {
		return "global"
	}
	return "session"
}
