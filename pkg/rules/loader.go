package rules

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// regexSentinel marks a condition value evaluated as a pattern.
const regexSentinel = "$regex:"

// LoadError is a load-time rule rejection with its file position.
type LoadError struct {
	Source string
	Line   int
	Column int
	Msg    string
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.Source, e.Line, e.Column, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Msg)
}

// Load reads and normalizes a scenarios file.
func Load(path string) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %s: %w", path, err)
	}
	return LoadBytes(data, path)
}

// LoadBytes parses a scenarios document. Every rule must carry both
// `when` and `do`; anything else is rejected with its position. The
// returned slice is already sorted by (priority DESC, source order).
func LoadBytes(data []byte, source string) ([]*Rule, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &LoadError{Source: source, Msg: fmt.Sprintf("parse: %v", err)}
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, &LoadError{Source: source, Msg: "empty document"}
	}

	scenarios := findKey(root.Content[0], "scenarios")
	if scenarios == nil {
		return nil, &LoadError{Source: source, Msg: "missing top-level scenarios array"}
	}
	if scenarios.Kind != yaml.SequenceNode {
		return nil, &LoadError{Source: source, Line: scenarios.Line, Column: scenarios.Column, Msg: "scenarios must be an array"}
	}

	rules := make([]*Rule, 0, len(scenarios.Content))
	for i, node := range scenarios.Content {
		rule, err := parseRule(node, source, i)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	Sort(rules)
	return rules, nil
}

// Sort orders rules by priority descending, keeping source order among
// equal priorities.
func Sort(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
}

func findKey(mapping *yaml.Node, key string) *yaml.Node {
	if mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func parseRule(node *yaml.Node, source string, index int) (*Rule, error) {
	var raw struct {
		When     map[string]any `yaml:"when"`
		Do       []any          `yaml:"do"`
		Priority int            `yaml:"priority"`
	}
	if err := node.Decode(&raw); err != nil {
		return nil, &LoadError{Source: source, Line: node.Line, Column: node.Column, Msg: fmt.Sprintf("scenario %d: %v", index, err)}
	}
	if raw.When == nil {
		return nil, &LoadError{Source: source, Line: node.Line, Column: node.Column, Msg: fmt.Sprintf("scenario %d: missing when", index)}
	}
	if raw.Do == nil {
		return nil, &LoadError{Source: source, Line: node.Line, Column: node.Column, Msg: fmt.Sprintf("scenario %d: missing do", index)}
	}

	selector, err := parseSelector(raw.When)
	if err != nil {
		return nil, &LoadError{Source: source, Line: node.Line, Column: node.Column, Msg: fmt.Sprintf("scenario %d: %v", index, err)}
	}
	actions, err := parseActions(raw.Do)
	if err != nil {
		return nil, &LoadError{Source: source, Line: node.Line, Column: node.Column, Msg: fmt.Sprintf("scenario %d: %v", index, err)}
	}

	return &Rule{When: selector, Do: actions, Priority: raw.Priority, source: index}, nil
}

func parseSelector(raw map[string]any) (Selector, error) {
	var sel Selector
	if v, ok := raw["operationId"].(string); ok {
		sel.OperationID = v
	}
	if v, ok := raw["method"].(string); ok {
		sel.Method = strings.ToUpper(v)
	}
	if v, ok := raw["path"].(string); ok {
		sel.Path = v
	}
	if sel.OperationID == "" && (sel.Method == "" || sel.Path == "") {
		return sel, fmt.Errorf("selector needs operationId or method+path")
	}
	if v, ok := raw["negate"].(bool); ok {
		sel.Negate = v
	}

	var err error
	if sel.Query, err = parseConditions(raw["query"]); err != nil {
		return sel, fmt.Errorf("query: %w", err)
	}
	if sel.Headers, err = parseConditions(raw["headers"]); err != nil {
		return sel, fmt.Errorf("headers: %w", err)
	}
	// Header names compare case-insensitively against the lowercased
	// request header map.
	lowered := make(map[string]Condition, len(sel.Headers))
	for name, cond := range sel.Headers {
		lowered[strings.ToLower(name)] = cond
	}
	sel.Headers = lowered
	return sel, nil
}

func parseConditions(raw any) (map[string]Condition, error) {
	if raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("conditions must be a map")
	}
	out := make(map[string]Condition, len(m))
	for name, v := range m {
		s := fmt.Sprintf("%v", v)
		if strings.HasPrefix(s, regexSentinel) {
			re, err := regexp.Compile(strings.TrimPrefix(s, regexSentinel))
			if err != nil {
				return nil, fmt.Errorf("%s: bad pattern: %w", name, err)
			}
			out[name] = Condition{Pattern: re}
			continue
		}
		out[name] = Condition{Literal: s}
	}
	return out, nil
}

func parseActions(raw []any) ([]Action, error) {
	out := make([]Action, 0, len(raw))
	for i, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok || len(m) == 0 {
			return nil, fmt.Errorf("action %d: must be a single-key map", i)
		}
		action, err := parseAction(m)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		out = append(out, action)
	}
	return out, nil
}

func parseAction(m map[string]any) (Action, error) {
	if len(m) != 1 {
		return Action{}, fmt.Errorf("expected one action kind, got %d keys", len(m))
	}
	var kind string
	var body any
	for k, v := range m {
		kind, body = k, v
	}

	switch kind {
	case "respond":
		return parseRespond(body)
	case "state.set":
		fields, err := actionFields(kind, body)
		if err != nil {
			return Action{}, err
		}
		a := &StateSetAction{Value: fields["value"], Scope: scopeOf(fields)}
		if a.Key, err = requiredString(kind, fields, "key"); err != nil {
			return Action{}, err
		}
		if ttl, ok := toNumber(fields["ttl"]); ok {
			a.TTL = ttl
		}
		return Action{StateSet: a}, nil
	case "state.patch":
		fields, err := actionFields(kind, body)
		if err != nil {
			return Action{}, err
		}
		a := &StatePatchAction{Value: fields["value"], Scope: scopeOf(fields)}
		if a.Key, err = requiredString(kind, fields, "key"); err != nil {
			return Action{}, err
		}
		return Action{StatePatch: a}, nil
	case "state.increment":
		fields, err := actionFields(kind, body)
		if err != nil {
			return Action{}, err
		}
		a := &StateIncrementAction{By: 1, Scope: scopeOf(fields)}
		if a.Key, err = requiredString(kind, fields, "key"); err != nil {
			return Action{}, err
		}
		if by, ok := toNumber(fields["by"]); ok {
			a.By = by
		}
		if as, ok := fields["as"].(string); ok {
			a.As = as
		}
		return Action{StateIncrement: a}, nil
	case "state.del":
		fields, err := actionFields(kind, body)
		if err != nil {
			return Action{}, err
		}
		a := &StateDelAction{Scope: scopeOf(fields)}
		if a.Key, err = requiredString(kind, fields, "key"); err != nil {
			return Action{}, err
		}
		return Action{StateDel: a}, nil
	case "delay":
		spec := fmt.Sprintf("%v", body)
		if _, err := ParseDelay(spec, nil); err != nil {
			return Action{}, err
		}
		return Action{Delay: &DelayAction{Spec: spec}}, nil
	case "if":
		fields, err := actionFields(kind, body)
		if err != nil {
			return Action{}, err
		}
		a := &IfAction{}
		if a.When, err = requiredString(kind, fields, "when"); err != nil {
			return Action{}, err
		}
		if then, ok := fields["then"].([]any); ok {
			if a.Then, err = parseActions(then); err != nil {
				return Action{}, fmt.Errorf("if.then: %w", err)
			}
		}
		if els, ok := fields["else"].([]any); ok {
			if a.Else, err = parseActions(els); err != nil {
				return Action{}, fmt.Errorf("if.else: %w", err)
			}
		}
		return Action{If: a}, nil
	case "proxy":
		a := &ProxyAction{}
		if fields, ok := body.(map[string]any); ok {
			a.Target, _ = fields["target"].(string)
		}
		return Action{Proxy: a}, nil
	case "emit":
		fields, err := actionFields(kind, body)
		if err != nil {
			return Action{}, err
		}
		a := &EmitAction{Level: "info"}
		if a.Message, err = requiredString(kind, fields, "message"); err != nil {
			return Action{}, err
		}
		if level, ok := fields["level"].(string); ok {
			a.Level = level
		}
		return Action{Emit: a}, nil
	default:
		return Action{}, fmt.Errorf("unknown action kind %q", kind)
	}
}

func parseRespond(body any) (Action, error) {
	a := &RespondAction{}
	fields, ok := body.(map[string]any)
	if !ok {
		if body == nil {
			return Action{Respond: a}, nil
		}
		return Action{}, fmt.Errorf("respond: expected a map")
	}
	if status, ok := toNumber(fields["status"]); ok {
		a.Status = int(status)
	}
	if headers, ok := fields["headers"].(map[string]any); ok {
		a.Headers = make(map[string]string, len(headers))
		for name, v := range headers {
			a.Headers[name] = fmt.Sprintf("%v", v)
		}
	}
	if v, ok := fields["body"]; ok {
		a.Body = v
		a.HasBody = true
	}
	if tpl, ok := fields["$template"].(bool); ok {
		a.Template = tpl
	}
	if schema, ok := fields["$schema"].(map[string]any); ok {
		a.Schema = schema
	}
	return Action{Respond: a}, nil
}

func actionFields(kind string, body any) (map[string]any, error) {
	m, ok := body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected a map", kind)
	}
	return m, nil
}

func requiredString(kind string, fields map[string]any, key string) (string, error) {
	s, ok := fields[key].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s: missing %s", kind, key)
	}
	return s, nil
}

func scopeOf(fields map[string]any) string {
	s, _ := fields["scope"].(string)
	return s
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
