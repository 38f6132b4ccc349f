// Package engine is the request pipeline: match, validate, execute
// rules, synthesize fallbacks, validate the response, emit. It adapts
// the loaded document, the rules table and a shared state store into
// one http.Handler.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sandboxhq/sandboxd/internal/id"
	"github.com/sandboxhq/sandboxd/internal/router"
	"github.com/sandboxhq/sandboxd/pkg/config"
	"github.com/sandboxhq/sandboxd/pkg/httputil"
	"github.com/sandboxhq/sandboxd/pkg/logging"
	"github.com/sandboxhq/sandboxd/pkg/metrics"
	"github.com/sandboxhq/sandboxd/pkg/rules"
	"github.com/sandboxhq/sandboxd/pkg/schema"
	"github.com/sandboxhq/sandboxd/pkg/spec"
	"github.com/sandboxhq/sandboxd/pkg/state"
	"github.com/sandboxhq/sandboxd/pkg/template"
)

// Options tunes one Pipeline.
type Options struct {
	// Seed drives template and generator determinism. Combined with the
	// per-request correlation id, so identical traces replay identically.
	Seed string

	// ValidateRequests gates request-side schema validation.
	ValidateRequests bool

	// ResponseMode selects response-side validation behavior.
	ResponseMode config.ResponseMode

	Logger   *slog.Logger
	Recorder *metrics.Recorder
}

// Pipeline serves mock traffic for one loaded document and rule set.
// Immutable after New; safe for concurrent use.
type Pipeline struct {
	doc       *spec.Document
	router    *router.Router
	rules     []*rules.Rule
	store     state.Store
	validator *schema.Validator
	opts      Options
	lg        *slog.Logger
}

// New builds a Pipeline. The store is shared across requests and stays
// owned by the caller.
func New(doc *spec.Document, ruleSet []*rules.Rule, store state.Store, opts Options) (*Pipeline, error) {
	rt, err := router.New(doc.Operations)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	lg := opts.Logger
	if lg == nil {
		lg = logging.Nop()
	}
	return &Pipeline{
		doc:       doc,
		router:    rt,
		rules:     ruleSet,
		store:     store,
		validator: schema.NewValidator(),
		opts:      opts,
		lg:        lg,
	}, nil
}

// ServeHTTP implements http.Handler.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rid := id.Request()
	w.Header().Set("X-Request-ID", rid)
	ctx := r.Context()

	op, vars, ok := p.router.Match(r.Method, r.URL.Path)
	if !ok {
		p.lg.Info("no matching operation",
			"request_id", rid, "category", "match_miss",
			"method", r.Method, "path", r.URL.Path)
		httputil.NotFound(w, fmt.Sprintf("no operation matches %s %s", r.Method, r.URL.Path), r.URL.Path)
		p.observe("", http.StatusNotFound, metrics.OutcomeNotFound, start)
		return
	}
	lg := p.lg.With("request_id", rid, "operation", op.ID)

	body, err := template.ReadBody(r)
	if err != nil {
		lg.Error("read request body", "category", "request_invalid", "error", err)
		httputil.BadRequest(w, "request body unreadable", r.URL.Path, nil)
		p.observe(op.ID, http.StatusBadRequest, metrics.OutcomeRejected, start)
		return
	}

	tplCtx := template.NewContext(r, body, vars)
	sid := sessionID(r)
	tplCtx.SetSession(sid, sessionScope(sid))

	if p.opts.ValidateRequests {
		if errs := p.validateRequest(op, r, vars, tplCtx.Req["body"]); len(errs) > 0 {
			lg.Info("request validation failed",
				"category", "request_invalid", "errors", len(errs))
			httputil.BadRequest(w, "request does not conform to the operation schema", r.URL.Path, errs)
			p.observe(op.ID, http.StatusBadRequest, metrics.OutcomeRejected, start)
			return
		}
	}

	session := state.ForSession(p.store, sid)
	global := state.ForSession(p.store, state.GlobalSession)

	refresh := func(ctx context.Context) error {
		projection, err := projectState(ctx, session)
		if err != nil {
			return err
		}
		tplCtx.SetState(projection)
		return nil
	}
	if err := refresh(ctx); err != nil {
		p.storeError(w, lg, op, start, r.URL.Path, err)
		return
	}

	eng := template.New(template.Options{Seed: p.opts.Seed, RequestID: rid})
	gen := schema.NewGenerator(schema.GeneratorOptions{
		Seed:        p.opts.Seed,
		RequestID:   rid,
		UseExamples: true,
		Now:         tplCtx.Now,
	})
	jitter := template.NewFaker(template.SeedFor(p.opts.Seed, rid+":delay"), tplCtx.Now)

	env := &rules.Env{
		Tpl:          eng,
		TplCtx:       tplCtx,
		Session:      session,
		Global:       global,
		Op:           op,
		Validator:    p.validator,
		Generator:    gen,
		Logger:       lg,
		RefreshState: refresh,
		Unif:         jitter.Float64,
	}

	selected := rules.Select(p.rules, rules.RequestInfo{
		OperationID: op.ID,
		Method:      op.Method,
		Path:        op.Path,
		Query:       firstValues(r.URL.Query()),
		Headers:     lowerHeaders(r.Header),
	})

	resp, err := rules.Execute(ctx, env, selected)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			lg.Error("store deadline exceeded", "category", "store_failure", "error", err)
			httputil.GatewayTimeout(w, err.Error(), r.URL.Path)
			p.observe(op.ID, http.StatusGatewayTimeout, metrics.OutcomeError, start)
			return
		}
		lg.Error("rule execution failed", "category", "rule_failure", "error", err)
		httputil.InternalError(w, httputil.TypeRuleFailure, err.Error(), r.URL.Path)
		p.observe(op.ID, http.StatusInternalServerError, metrics.OutcomeError, start)
		return
	}

	outcome := metrics.OutcomeRule
	if resp == nil {
		resp = p.fallback(op, gen)
		outcome = metrics.OutcomeGenerated
	}

	if !p.validateResponse(w, lg, op, resp, r.URL.Path) {
		p.observe(op.ID, http.StatusInternalServerError, metrics.OutcomeError, start)
		return
	}

	writeResponse(w, resp)
	p.observe(op.ID, resp.Status, outcome, start)
}

// fallback synthesizes the default response when no rule produced one:
// the operation's success descriptor, body generated from its JSON
// schema when it has one.
func (p *Pipeline) fallback(op *spec.Operation, gen *schema.Generator) *rules.Response {
	desc, status := op.SuccessResponse()
	resp := &rules.Response{Status: status}
	if desc != nil {
		if s := spec.JSONSchema(desc.Content); s != nil {
			resp.Body = gen.Generate(s)
			resp.HasBody = true
		}
	}
	return resp
}

// validateRequest checks the body and every declared parameter against
// their schemas, flattening failures into slot-prefixed errors.
func (p *Pipeline) validateRequest(op *spec.Operation, r *http.Request, vars map[string]string, body any) []schema.Error {
	var out []schema.Error

	if op.RequestSchema != nil {
		errs := p.validator.Validate(op.ID+":request", op.RequestSchema, body)
		out = append(out, schema.Prefix(errs, "/body")...)
	}

	for _, param := range op.Params {
		raw, present := paramValue(param, r, vars)
		slot := "/" + param.In + "/" + param.Name
		if !present {
			if param.Required {
				out = append(out, schema.Error{
					InstancePath: slot,
					Keyword:      "required",
					Message:      fmt.Sprintf("missing required %s parameter %q", param.In, param.Name),
				})
			}
			continue
		}
		if param.Schema == nil {
			continue
		}
		value := schema.Coerce(raw, param.Schema)
		sid := fmt.Sprintf("%s:param:%s:%s", op.ID, param.In, param.Name)
		errs := p.validator.Validate(sid, param.Schema, value)
		out = append(out, schema.Prefix(errs, slot)...)
	}
	return out
}

func paramValue(param spec.Param, r *http.Request, vars map[string]string) (string, bool) {
	switch param.In {
	case "path":
		v, ok := vars[param.Name]
		return v, ok
	case "query":
		if !r.URL.Query().Has(param.Name) {
			return "", false
		}
		return r.URL.Query().Get(param.Name), true
	case "header":
		values := r.Header.Values(param.Name)
		if len(values) == 0 {
			return "", false
		}
		return values[0], true
	case "cookie":
		c, err := r.Cookie(param.Name)
		if err != nil {
			return "", false
		}
		return c.Value, true
	}
	return "", false
}

// validateResponse applies the configured response mode. Returns false
// when strict mode replaced the response with a 500 problem.
func (p *Pipeline) validateResponse(w http.ResponseWriter, lg *slog.Logger, op *spec.Operation, resp *rules.Response, instance string) bool {
	mode := p.opts.ResponseMode
	if mode == "" || mode == config.ResponseOff || !resp.HasBody {
		return true
	}
	desc := op.ResponseFor(resp.Status)
	if desc == nil {
		return true
	}
	s := spec.JSONSchema(desc.Content)
	if s == nil {
		return true
	}

	sid := fmt.Sprintf("%s:response:%d", op.ID, resp.Status)
	errs := p.validator.Validate(sid, s, resp.Body)
	if len(errs) == 0 {
		return true
	}

	if mode == config.ResponseStrict {
		lg.Error("response validation failed",
			"category", "response_invalid", "status", resp.Status, "errors", len(errs))
		httputil.InternalError(w, httputil.TypeResponseInvalid,
			"rendered response does not conform to the operation schema", instance)
		return false
	}
	lg.Warn("response validation failed, sending as-is",
		"category", "response_invalid", "status", resp.Status, "errors", len(errs))
	return true
}

func (p *Pipeline) storeError(w http.ResponseWriter, lg *slog.Logger, op *spec.Operation, start time.Time, instance string, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		lg.Error("store deadline exceeded", "category", "store_failure", "error", err)
		httputil.GatewayTimeout(w, err.Error(), instance)
		p.observe(op.ID, http.StatusGatewayTimeout, metrics.OutcomeError, start)
		return
	}
	lg.Error("store failure", "category", "store_failure", "error", err)
	httputil.InternalError(w, httputil.TypeStoreFailure, err.Error(), instance)
	p.observe(op.ID, http.StatusInternalServerError, metrics.OutcomeError, start)
}

func (p *Pipeline) observe(operation string, status int, outcome string, start time.Time) {
	p.opts.Recorder.ObserveRequest(operation, status, outcome, time.Since(start))
}

// projectState loads the session's entries into the read-only map the
// template environment exposes as state.
func projectState(ctx context.Context, session state.Store) (map[string]any, error) {
	keys, err := session.Keys(ctx, "")
	if err != nil {
		return nil, err
	}
	projection := make(map[string]any, len(keys))
	for _, k := range keys {
		v, ok, err := session.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			projection[k] = v
		}
	}
	return projection, nil
}

func writeResponse(w http.ResponseWriter, resp *rules.Response) {
	for name, value := range resp.Headers {
		w.Header().Set(name, value)
	}
	if !resp.HasBody {
		w.WriteHeader(resp.Status)
		return
	}

	ct := w.Header().Get("Content-Type")
	if s, ok := resp.Body.(string); ok && ct != "" && !strings.HasPrefix(ct, "application/json") {
		w.WriteHeader(resp.Status)
		_, _ = w.Write([]byte(s))
		return
	}
	if ct == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.Status)
	_ = json.NewEncoder(w).Encode(resp.Body)
}

func firstValues(values map[string][]string) map[string]string {
	out := make(map[string]string, len(values))
	for name, vs := range values {
		if len(vs) > 0 {
			out[name] = vs[0]
		}
	}
	return out
}

func lowerHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, vs := range h {
		if len(vs) > 0 {
			out[strings.ToLower(name)] = vs[0]
		}
	}
	return out
}
