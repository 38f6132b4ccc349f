// Package rules loads the declarative scenarios file, selects rules
// for a matched operation, and executes their action lists.
package rules

import (
	"regexp"
)

// Rule is one loaded scenario: a selector, an ordered action list, and
// a priority. Higher priorities fire first; equal priorities keep
// source order.
type Rule struct {
	When     Selector
	Do       []Action
	Priority int

	// source preserves file order for the stable sort.
	source int
}

// Selector matches a rule against an operation and, optionally,
// request query and header values.
type Selector struct {
	// OperationID matches the operation's identifier exactly. When
	// set, Method and Path are ignored.
	OperationID string

	// Method and Path match the operation's literal template pair.
	Method string
	Path   string

	// Query and Headers hold required conditions. A value matches
	// exactly, or by pattern when written as $regex:<pattern>. Absent
	// actual values never match.
	Query   map[string]Condition
	Headers map[string]Condition

	// Negate flips the entire match outcome.
	Negate bool
}

// Condition is one matching term, literal or regex.
type Condition struct {
	Literal string
	Pattern *regexp.Regexp
}

func (c Condition) matches(actual string) bool {
	if c.Pattern != nil {
		return c.Pattern.MatchString(actual)
	}
	return c.Literal == actual
}

// Action is a tagged variant; exactly one field is set.
type Action struct {
	Respond        *RespondAction
	StateSet       *StateSetAction
	StatePatch     *StatePatchAction
	StateIncrement *StateIncrementAction
	StateDel       *StateDelAction
	Delay          *DelayAction
	If             *IfAction
	Proxy          *ProxyAction
	Emit           *EmitAction
}

// RespondAction publishes the response. Status zero means the first
// 2xx the operation declares, else 200.
type RespondAction struct {
	Status  int
	Headers map[string]string
	Body    any
	HasBody bool

	// Template deep-templates the whole body ($template: true at the
	// respond level).
	Template bool

	// Schema validates a present body or synthesizes an absent one.
	Schema map[string]any
}

// StateSetAction writes a value, optionally with a TTL in seconds.
type StateSetAction struct {
	Key   string
	Value any
	TTL   float64
	Scope string
}

// StatePatchAction merges a value into an existing entry.
type StatePatchAction struct {
	Key   string
	Value any
	Scope string
}

// StateIncrementAction adds to a numeric entry. As names the vars
// binding receiving the result.
type StateIncrementAction struct {
	Key   string
	By    float64
	As    string
	Scope string
}

// StateDelAction removes an entry.
type StateDelAction struct {
	Key   string
	Scope string
}

// DelayAction suspends the request. Spec grammar: integer
// milliseconds, <n><unit>, <mean>±<jitter><unit>, or p95=<n><unit>.
type DelayAction struct {
	Spec string
}

// IfAction branches on a truthy expression.
type IfAction struct {
	When string
	Then []Action
	Else []Action
}

// ProxyAction is reserved; executing it logs and does nothing.
type ProxyAction struct {
	Target string
}

// EmitAction logs a rendered message at a severity.
type EmitAction struct {
	Level   string
	Message string
}
