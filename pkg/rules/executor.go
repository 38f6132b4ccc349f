package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sandboxhq/sandboxd/pkg/schema"
	"github.com/sandboxhq/sandboxd/pkg/spec"
	"github.com/sandboxhq/sandboxd/pkg/state"
	"github.com/sandboxhq/sandboxd/pkg/template"
)

// Response is what respond actions publish. The pipeline renders it
// onto the wire after response validation.
type Response struct {
	Status  int
	Headers map[string]string
	Body    any
	HasBody bool
}

// Env carries everything one request's action execution needs. Session
// and Global are namespaced views over the same backend.
type Env struct {
	Tpl    *template.Engine
	TplCtx *template.Context

	Session state.Store
	Global  state.Store

	Op        *spec.Operation
	Validator *schema.Validator
	Generator *schema.Generator
	Logger    *slog.Logger

	// RefreshState reloads the read-only state projection after a
	// mutation so later expressions observe it.
	RefreshState func(ctx context.Context) error

	// Unif drives delay jitter sampling; nil takes the mean.
	Unif func() float64
}

// Execute runs the selected rules in order. Each rule's actions run
// sequentially; any action error aborts the remaining rules. The last
// respond wins when several fire.
func Execute(ctx context.Context, env *Env, selected []*Rule) (*Response, error) {
	var resp *Response
	for _, rule := range selected {
		if err := execActions(ctx, env, rule.Do, &resp); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func execActions(ctx context.Context, env *Env, actions []Action, resp **Response) error {
	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := execAction(ctx, env, action, resp); err != nil {
			return err
		}
	}
	return nil
}

func execAction(ctx context.Context, env *Env, action Action, resp **Response) error {
	switch {
	case action.Respond != nil:
		r, err := env.respond(action.Respond)
		if err != nil {
			return err
		}
		*resp = r
		return nil

	case action.StateSet != nil:
		a := action.StateSet
		key := env.Tpl.Render(a.Key, env.TplCtx)
		value := env.Tpl.RenderAll(a.Value, env.TplCtx)
		ttl := time.Duration(a.TTL * float64(time.Second))
		if err := env.storeFor(a.Scope).Set(ctx, key, value, ttl); err != nil {
			return fmt.Errorf("state.set %q: %w", key, err)
		}
		return env.refresh(ctx)

	case action.StatePatch != nil:
		a := action.StatePatch
		key := env.Tpl.Render(a.Key, env.TplCtx)
		value := env.Tpl.RenderAll(a.Value, env.TplCtx)
		if err := env.storeFor(a.Scope).Patch(ctx, key, value); err != nil {
			return fmt.Errorf("state.patch %q: %w", key, err)
		}
		return env.refresh(ctx)

	case action.StateIncrement != nil:
		a := action.StateIncrement
		key := env.Tpl.Render(a.Key, env.TplCtx)
		n, err := env.storeFor(a.Scope).Increment(ctx, key, a.By)
		if err != nil {
			return fmt.Errorf("state.increment %q: %w", key, err)
		}
		if a.As != "" {
			env.TplCtx.Vars[a.As] = n
		}
		return env.refresh(ctx)

	case action.StateDel != nil:
		a := action.StateDel
		key := env.Tpl.Render(a.Key, env.TplCtx)
		if err := env.storeFor(a.Scope).Delete(ctx, key); err != nil {
			return fmt.Errorf("state.del %q: %w", key, err)
		}
		return env.refresh(ctx)

	case action.Delay != nil:
		d, err := ParseDelay(action.Delay.Spec, env.Unif)
		if err != nil {
			return err
		}
		return sleep(ctx, d)

	case action.If != nil:
		a := action.If
		v, err := env.Tpl.Evaluate(a.When, env.TplCtx)
		if err != nil {
			return fmt.Errorf("if %q: %w", a.When, err)
		}
		if truthy(v) {
			return execActions(ctx, env, a.Then, resp)
		}
		return execActions(ctx, env, a.Else, resp)

	case action.Proxy != nil:
		env.Logger.Warn("proxy action is not implemented, skipping",
			"target", action.Proxy.Target)
		return nil

	case action.Emit != nil:
		a := action.Emit
		msg := env.Tpl.Render(a.Message, env.TplCtx)
		switch a.Level {
		case "warn":
			env.Logger.Warn(msg)
		case "error":
			env.Logger.Error(msg)
		default:
			env.Logger.Info(msg)
		}
		return nil

	default:
		return fmt.Errorf("rules: empty action")
	}
}

// respond builds the response value. Schema synthesis fills an absent
// body; a present body is rendered and, when a schema is given,
// validated before publication.
func (env *Env) respond(a *RespondAction) (*Response, error) {
	r := &Response{Status: a.Status}
	if r.Status == 0 {
		if _, code := env.Op.SuccessResponse(); code != 0 {
			r.Status = code
		} else {
			r.Status = 200
		}
	}

	if len(a.Headers) > 0 {
		r.Headers = make(map[string]string, len(a.Headers))
		for name, value := range a.Headers {
			r.Headers[name] = env.Tpl.Render(value, env.TplCtx)
		}
	}

	switch {
	case a.HasBody:
		if a.Template {
			r.Body = env.Tpl.RenderAll(a.Body, env.TplCtx)
		} else if s, ok := a.Body.(string); ok {
			r.Body = env.Tpl.RenderValue(s, env.TplCtx)
		} else {
			r.Body = env.Tpl.ProcessTree(a.Body, env.TplCtx)
		}
		r.HasBody = true
		if a.Schema != nil {
			if errs := env.Validator.Validate(schemaID(env.Op, r.Status), a.Schema, r.Body); len(errs) > 0 {
				return nil, fmt.Errorf("respond: body fails its schema: %v", errs)
			}
		}
	case a.Schema != nil:
		r.Body = env.Generator.Generate(a.Schema)
		r.HasBody = true
	}

	return r, nil
}

func schemaID(op *spec.Operation, status int) string {
	return fmt.Sprintf("%s:respond:%d", op.ID, status)
}

func (env *Env) storeFor(scope string) state.Store {
	if scope == "global" {
		return env.Global
	}
	return env.Session
}

func (env *Env) refresh(ctx context.Context) error {
	if env.RefreshState == nil {
		return nil
	}
	return env.RefreshState(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// truthy applies loose truthiness: null, false, zero, and the empty
// string are false; everything else, empty containers included, is
// true.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return true
	}
}
