package template

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Marker flags a subtree for deep templating. The key is removed from
// the rendered output.
const Marker = "$template"

// Evaluation limits. Overridable per engine through Options.
const (
	DefaultMaxExprLen  = 1000
	DefaultEvalTimeout = 100 * time.Millisecond
)

var (
	// ErrExprTooLong rejects expressions over the length limit.
	ErrExprTooLong = errors.New("template: expression too long")

	// ErrExprDenied rejects expressions carrying deny-listed tokens.
	ErrExprDenied = errors.New("template: expression contains forbidden token")
)

// placeholderPattern locates {{ expr }} occurrences, permitting
// balanced single braces inside the expression.
var placeholderPattern = regexp.MustCompile(`\{\{((?:[^{}]|\{[^{}]*\})*?)\}\}`)

// denyPattern matches tokens no expression may carry: process and
// runtime access, module names for filesystem and networking, eval and
// function constructors, prototype walking, and relative-path
// traversal.
var denyPattern = regexp.MustCompile(
	`\.\./|\b(process|global|globalThis|require|import|eval|Function|constructor|prototype|__proto__|child_process|fs|os|net|http|https|dns|tls|socket|exec|spawn)\b`)

// programCache shares compiled programs across engines. Programs hold
// no evaluation state, so one compile serves every request that uses
// the same expression text.
var programCache sync.Map // string -> *vm.Program

// Options configures one engine. Engines are bound per request: the
// composite (Seed, RequestID) fixes the random stream, so replaying a
// trace with the same seed reproduces every generated value.
type Options struct {
	Seed        string
	RequestID   string
	MaxExprLen  int
	EvalTimeout time.Duration
}

// Engine renders {{ expr }} placeholders and evaluates raw expressions
// against the enumerated context. Not safe for concurrent use; bind one
// engine per request.
type Engine struct {
	rng     *rng
	maxLen  int
	timeout time.Duration
}

// New creates an engine seeded from the options.
func New(opts Options) *Engine {
	if opts.MaxExprLen <= 0 {
		opts.MaxExprLen = DefaultMaxExprLen
	}
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = DefaultEvalTimeout
	}
	return &Engine{
		rng:     newRNG(SeedFor(opts.Seed, opts.RequestID)),
		maxLen:  opts.MaxExprLen,
		timeout: opts.EvalTimeout,
	}
}

// Render substitutes every placeholder in s. A successful evaluation
// contributes its string form (empty for null); a failed one leaves the
// placeholder in place verbatim.
func (e *Engine) Render(s string, c *Context) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		src := strings.TrimSpace(match[2 : len(match)-2])
		v, err := e.Evaluate(src, c)
		if err != nil {
			return match
		}
		return Stringify(v)
	})
}

// Evaluate runs one expression with only the enumerated bindings in
// scope. Length and deny-list checks run before compilation; execution
// is cut off at the wall-clock limit.
func (e *Engine) Evaluate(src string, c *Context) (any, error) {
	src = strings.TrimSpace(src)
	if len(src) > e.maxLen {
		return nil, fmt.Errorf("%w: %d > %d characters", ErrExprTooLong, len(src), e.maxLen)
	}
	if denyPattern.MatchString(src) {
		return nil, ErrExprDenied
	}

	prog, err := compileExpr(src)
	if err != nil {
		return nil, fmt.Errorf("template: compile %q: %w", src, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	out, err := expr.Run(prog, e.envFor(c, ctx))
	if err != nil {
		return nil, fmt.Errorf("template: evaluate %q: %w", src, err)
	}
	return out, nil
}

func compileExpr(src string) (*vm.Program, error) {
	if cached, ok := programCache.Load(src); ok {
		return cached.(*vm.Program), nil
	}
	prog, err := expr.Compile(src,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.WithContext("__ctx"),
	)
	if err != nil {
		return nil, err
	}
	programCache.Store(src, prog)
	return prog, nil
}

// envFor builds the evaluation environment. Built fresh per call so
// faker closures observe the request's fixed Now.
func (e *Engine) envFor(c *Context, ctx context.Context) map[string]any {
	if c == nil {
		c = &Context{Now: time.Now().UTC()}
	}
	f := newFaker(e.rng, c.Now)
	return map[string]any{
		"__ctx":   ctx,
		"req":     c.Req,
		"session": c.Session,
		"state":   c.State,
		"vars":    c.Vars,
		"now":     c.Now,
		"uuid":    func() string { return e.rng.uuidV4() },
		"rand":    func(lo, hi int) int { return e.rng.intRange(lo, hi) },
		"faker":   f.env(),
		"math":    mathEnv,
		"util":    utilEnv,
	}
}

// RenderValue substitutes a string that is exactly one placeholder
// with the raw evaluated value, so "{{state['user:1']}}" can yield an
// object and "{{vars.n}}" a number. Mixed strings interpolate as usual;
// failures leave the source verbatim.
func (e *Engine) RenderValue(s string, c *Context) any {
	trimmed := strings.TrimSpace(s)
	loc := placeholderPattern.FindStringIndex(trimmed)
	if loc != nil && loc[0] == 0 && loc[1] == len(trimmed) {
		src := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
		v, err := e.Evaluate(src, c)
		if err != nil {
			return s
		}
		return v
	}
	return e.Render(s, c)
}

// RenderAll renders every string in a tree, keys included, without
// requiring a $template marker. Whole-placeholder strings substitute
// their raw value.
func (e *Engine) RenderAll(tree any, c *Context) any {
	return e.renderAll(tree, c)
}

// ProcessTree walks a data tree looking for objects marked with
// $template: true. Inside a marked subtree the marker is dropped and
// every string, keys included, is rendered. Unmarked regions pass
// through untouched.
func (e *Engine) ProcessTree(tree any, c *Context) any {
	switch v := tree.(type) {
	case map[string]any:
		if marked(v) {
			return e.renderAll(v, c)
		}
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = e.ProcessTree(val, c)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = e.ProcessTree(val, c)
		}
		return out
	default:
		return tree
	}
}

func marked(m map[string]any) bool {
	flag, ok := m[Marker]
	if !ok {
		return false
	}
	b, ok := flag.(bool)
	return ok && b
}

// renderAll renders every string beneath an eligible subtree, dropping
// template markers as it descends.
func (e *Engine) renderAll(tree any, c *Context) any {
	switch v := tree.(type) {
	case string:
		return e.RenderValue(v, c)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if k == Marker {
				continue
			}
			out[e.Render(k, c)] = e.renderAll(val, c)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = e.renderAll(val, c)
		}
		return out
	default:
		return tree
	}
}
