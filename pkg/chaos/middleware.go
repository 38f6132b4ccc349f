package chaos

import (
	"net/http"

	"github.com/sandboxhq/sandboxd/pkg/httputil"
)

// TypeInjected is the problem type URI for chaos-injected errors.
const TypeInjected = "urn:sandboxd:problem:chaos-injected"

// Middleware wraps an http.Handler with latency and error injection.
// Injected errors short-circuit before the handler; latency applies to
// every request.
func Middleware(injector *Injector, next http.Handler) http.Handler {
	if !injector.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := injector.Sleep(r.Context()); err != nil {
			// Client went away or the deadline hit mid-sleep.
			return
		}
		if injector.ShouldError() {
			httputil.WriteProblem(w, injector.ErrorStatus(), httputil.Problem{
				Type:     TypeInjected,
				Title:    "Injected fault",
				Instance: r.URL.Path,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
