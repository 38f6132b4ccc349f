// Package router compiles OpenAPI path templates into matchers and
// dispatches (method, path) pairs to the most specific operation.
package router

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sandboxhq/sandboxd/pkg/spec"
)

// route is one compiled path template. Variables are captured by
// position and mapped back through the operation's VarNames, so
// parameter names are not constrained to regexp group syntax.
type route struct {
	op         *spec.Operation
	re         *regexp.Regexp
	numVars    int
	literalLen int
}

// Router is immutable after New and safe for concurrent use.
type Router struct {
	routes []*route
}

// New compiles every operation's path template. Ambiguity policy: when
// several templates match one concrete path, the one with fewer capture
// variables wins; ties break toward the longer literal portion. This
// makes /pets/mine bind before /pets/{id}.
func New(ops []*spec.Operation) (*Router, error) {
	routes := make([]*route, 0, len(ops))
	for _, op := range ops {
		re, literal, err := compile(op.Path)
		if err != nil {
			return nil, fmt.Errorf("compile path template %q: %w", op.Path, err)
		}
		routes = append(routes, &route{
			op:         op,
			re:         re,
			numVars:    len(op.VarNames),
			literalLen: literal,
		})
	}

	sort.SliceStable(routes, func(i, j int) bool {
		if routes[i].numVars != routes[j].numVars {
			return routes[i].numVars < routes[j].numVars
		}
		return routes[i].literalLen > routes[j].literalLen
	})

	return &Router{routes: routes}, nil
}

// Match dispatches a concrete (method, path). Returns the operation and
// the captured path variables, or ok=false when nothing matches.
func (r *Router) Match(method, path string) (*spec.Operation, map[string]string, bool) {
	method = strings.ToUpper(method)
	for _, rt := range r.routes {
		if rt.op.Method != method {
			continue
		}
		m := rt.re.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		vars := make(map[string]string, rt.numVars)
		for i, name := range rt.op.VarNames {
			if i+1 < len(m) {
				vars[name] = m[i+1]
			}
		}
		return rt.op, vars, true
	}
	return nil, nil, false
}

// compile turns /pets/{id} into ^/pets/([^/]+)$ and reports the length
// of the literal (non-variable) portion for specificity ordering.
func compile(template string) (*regexp.Regexp, int, error) {
	var pattern strings.Builder
	pattern.WriteString("^")

	literal := 0
	rest := template
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			pattern.WriteString(regexp.QuoteMeta(rest))
			literal += len(rest)
			break
		}
		end := strings.Index(rest[open:], "}")
		if end < 0 {
			return nil, 0, fmt.Errorf("unbalanced brace in %q", template)
		}
		pattern.WriteString(regexp.QuoteMeta(rest[:open]))
		literal += open
		pattern.WriteString("([^/]+)")
		rest = rest[open+end+1:]
	}
	pattern.WriteString("$")

	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return nil, 0, err
	}
	return re, literal, nil
}
