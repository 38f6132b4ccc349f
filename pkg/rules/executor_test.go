package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxhq/sandboxd/pkg/logging"
	"github.com/sandboxhq/sandboxd/pkg/schema"
	"github.com/sandboxhq/sandboxd/pkg/spec"
	"github.com/sandboxhq/sandboxd/pkg/state"
	"github.com/sandboxhq/sandboxd/pkg/template"
)

type execFixture struct {
	env     *Env
	backend *state.Memory
}

func newExecFixture(t *testing.T, op *spec.Operation) *execFixture {
	t.Helper()
	backend := state.NewMemory(state.MemoryConfig{})
	t.Cleanup(func() { backend.Close() })

	session := state.ForSession(backend, "s1")
	global := state.ForSession(backend, state.GlobalSession)

	tplCtx := &template.Context{
		Req:     map[string]any{},
		Session: map[string]any{"id": "s1", "scope": "session"},
		State:   map[string]any{},
		Vars:    map[string]any{},
		Now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	env := &Env{
		Tpl:       template.New(template.Options{Seed: "t", RequestID: "r1"}),
		TplCtx:    tplCtx,
		Session:   session,
		Global:    global,
		Op:        op,
		Validator: schema.NewValidator(),
		Generator: schema.NewGenerator(schema.GeneratorOptions{Seed: "t", RequestID: "r1"}),
		Logger:    logging.Nop(),
		RefreshState: func(ctx context.Context) error {
			projection := map[string]any{}
			keys, err := session.Keys(ctx, "")
			if err != nil {
				return err
			}
			for _, k := range keys {
				if v, ok, err := session.Get(ctx, k); err == nil && ok {
					projection[k] = v
				}
			}
			tplCtx.State = projection
			return nil
		},
	}
	return &execFixture{env: env, backend: backend}
}

func simpleOp(id string) *spec.Operation {
	return &spec.Operation{
		ID:     id,
		Method: "POST",
		Path:   "/x",
		Responses: map[string]*spec.Response{
			"201": {Status: "201"},
		},
	}
}

func TestExecuteStatefulCreate(t *testing.T) {
	f := newExecFixture(t, simpleOp("createUser"))
	f.env.TplCtx.Req["body"] = map[string]any{"id": "42", "name": "Ada"}
	ctx := context.Background()

	rules := []*Rule{{
		When: Selector{OperationID: "createUser"},
		Do: []Action{
			{StateSet: &StateSetAction{
				Key: "user:{{req.body.id}}",
				Value: map[string]any{
					"id":   "{{req.body.id}}",
					"name": "{{req.body.name}}",
				},
			}},
			{Respond: &RespondAction{
				Status: 201,
				Body: map[string]any{
					"id":   "{{req.body.id}}",
					"name": "{{req.body.name}}",
				},
				HasBody:  true,
				Template: true,
			}},
		},
	}}

	resp, err := Execute(ctx, f.env, rules)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 201, resp.Status)
	assert.Equal(t, map[string]any{"id": "42", "name": "Ada"}, resp.Body)

	stored, ok, err := f.env.Session.Get(ctx, "user:42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"id": "42", "name": "Ada"}, stored)
}

func TestExecuteIfBranchOnState(t *testing.T) {
	f := newExecFixture(t, simpleOp("getUser"))
	f.env.TplCtx.Req["pathParams"] = map[string]any{"id": "42"}
	ctx := context.Background()

	require.NoError(t, f.env.Session.Set(ctx, "user:42", map[string]any{"id": "42", "name": "Ada"}, 0))
	require.NoError(t, f.env.RefreshState(ctx))

	branch := []*Rule{{
		When: Selector{OperationID: "getUser"},
		Do: []Action{
			{If: &IfAction{
				When: "state['user:'+req.pathParams.id]",
				Then: []Action{{Respond: &RespondAction{
					Status:  200,
					Body:    "{{state['user:'+req.pathParams.id]}}",
					HasBody: true,
				}}},
				Else: []Action{{Respond: &RespondAction{
					Status:  404,
					Body:    map[string]any{"error": "User not found"},
					HasBody: true,
				}}},
			}},
		},
	}}

	resp, err := Execute(ctx, f.env, branch)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, map[string]any{"id": "42", "name": "Ada"}, resp.Body)

	// Unknown id takes the else branch.
	f.env.TplCtx.Req["pathParams"] = map[string]any{"id": "99"}
	resp, err = Execute(ctx, f.env, branch)
	require.NoError(t, err)
	assert.Equal(t, 404, resp.Status)
	assert.Equal(t, map[string]any{"error": "User not found"}, resp.Body)
}

func TestExecuteCounterWithVars(t *testing.T) {
	f := newExecFixture(t, simpleOp("incr"))
	ctx := context.Background()

	counter := []*Rule{{
		When: Selector{OperationID: "incr"},
		Do: []Action{
			{StateIncrement: &StateIncrementAction{Key: "c", By: 1, As: "n"}},
			{Respond: &RespondAction{
				Body:     map[string]any{"count": "{{vars.n}}"},
				HasBody:  true,
				Template: true,
			}},
		},
	}}

	for want := 1; want <= 3; want++ {
		resp, err := Execute(ctx, f.env, counter)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"count": float64(want)}, resp.Body)
	}
}

func TestExecuteRespondDefaultsToFirst2xx(t *testing.T) {
	f := newExecFixture(t, simpleOp("op"))
	resp, err := Execute(context.Background(), f.env, []*Rule{{
		When: Selector{OperationID: "op"},
		Do:   []Action{{Respond: &RespondAction{}}},
	}})
	require.NoError(t, err)
	assert.Equal(t, 201, resp.Status)
}

func TestExecuteRespondSchemaSynthesis(t *testing.T) {
	f := newExecFixture(t, simpleOp("op"))
	resp, err := Execute(context.Background(), f.env, []*Rule{{
		When: Selector{OperationID: "op"},
		Do: []Action{{Respond: &RespondAction{
			Status: 200,
			Schema: map[string]any{
				"type":       "object",
				"required":   []any{"id"},
				"properties": map[string]any{"id": map[string]any{"type": "string", "format": "uuid"}},
			},
		}}},
	}})
	require.NoError(t, err)
	require.True(t, resp.HasBody)
	body, ok := resp.Body.(map[string]any)
	require.True(t, ok)
	assert.Regexp(t, `^[0-9a-f-]{36}$`, body["id"])
}

func TestExecuteRespondSchemaRejectsInvalidBody(t *testing.T) {
	f := newExecFixture(t, simpleOp("op"))
	_, err := Execute(context.Background(), f.env, []*Rule{{
		When: Selector{OperationID: "op"},
		Do: []Action{{Respond: &RespondAction{
			Status:  200,
			Body:    map[string]any{"id": float64(1)},
			HasBody: true,
			Schema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"id": map[string]any{"type": "string"}},
			},
		}}},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fails its schema")
}

func TestExecuteGlobalScope(t *testing.T) {
	f := newExecFixture(t, simpleOp("op"))
	ctx := context.Background()

	_, err := Execute(ctx, f.env, []*Rule{{
		When: Selector{OperationID: "op"},
		Do: []Action{
			{StateSet: &StateSetAction{Key: "shared", Value: "v", Scope: "global"}},
		},
	}})
	require.NoError(t, err)

	_, ok, err := f.env.Session.Get(ctx, "shared")
	require.NoError(t, err)
	assert.False(t, ok, "global write must not land in the session namespace")

	v, ok, err := f.env.Global.Get(ctx, "shared")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestExecuteStateTTL(t *testing.T) {
	f := newExecFixture(t, simpleOp("op"))
	ctx := context.Background()

	_, err := Execute(ctx, f.env, []*Rule{{
		When: Selector{OperationID: "op"},
		Do:   []Action{{StateSet: &StateSetAction{Key: "k", Value: "v", TTL: 3600}}},
	}})
	require.NoError(t, err)

	_, ok, err := f.env.Session.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExecuteDelayRespectsCancellation(t *testing.T) {
	f := newExecFixture(t, simpleOp("op"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Execute(ctx, f.env, []*Rule{{
		When: Selector{OperationID: "op"},
		Do:   []Action{{Delay: &DelayAction{Spec: "5s"}}},
	}})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecuteActionErrorAbortsRules(t *testing.T) {
	f := newExecFixture(t, simpleOp("op"))
	ctx := context.Background()

	_, err := Execute(ctx, f.env, []*Rule{
		{
			When: Selector{OperationID: "op"},
			Do:   []Action{{If: &IfAction{When: "1 +"}}},
		},
		{
			When: Selector{OperationID: "op"},
			Do:   []Action{{StateSet: &StateSetAction{Key: "after", Value: "v"}}},
		},
	})
	require.Error(t, err)

	_, ok, err := f.env.Session.Get(ctx, "after")
	require.NoError(t, err)
	assert.False(t, ok, "later rules must not run after a failure")
}

func TestExecuteProxyIsNoop(t *testing.T) {
	f := newExecFixture(t, simpleOp("op"))
	resp, err := Execute(context.Background(), f.env, []*Rule{{
		When: Selector{OperationID: "op"},
		Do:   []Action{{Proxy: &ProxyAction{Target: "http://upstream"}}},
	}})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestTruthy(t *testing.T) {
	assert.False(t, truthy(nil))
	assert.False(t, truthy(false))
	assert.False(t, truthy(float64(0)))
	assert.False(t, truthy(""))
	assert.True(t, truthy(true))
	assert.True(t, truthy(float64(1)))
	assert.True(t, truthy("x"))
	assert.True(t, truthy(map[string]any{}))
	assert.True(t, truthy([]any{}))
}
