package rules

// RequestInfo is the slice of a request a selector can see. Header
// names are lowercased; query values are first-value-wins.
type RequestInfo struct {
	OperationID string
	Method      string
	Path        string
	Query       map[string]string
	Headers     map[string]string
}

// Select returns the rules whose selectors match, in execution order.
// The input is already sorted by (priority DESC, source order), so
// filtering preserves it.
func Select(rules []*Rule, info RequestInfo) []*Rule {
	var out []*Rule
	for _, rule := range rules {
		if rule.When.Matches(info) {
			out = append(out, rule)
		}
	}
	return out
}

// Matches reports whether the selector accepts the request. The
// operation clause and every condition must hold; Negate flips the
// combined outcome.
func (s *Selector) Matches(info RequestInfo) bool {
	matched := s.matchOperation(info) && s.matchConditions(info)
	if s.Negate {
		return !matched
	}
	return matched
}

func (s *Selector) matchOperation(info RequestInfo) bool {
	if s.OperationID != "" {
		return s.OperationID == info.OperationID
	}
	return s.Method == info.Method && s.Path == info.Path
}

func (s *Selector) matchConditions(info RequestInfo) bool {
	for name, cond := range s.Query {
		actual, ok := info.Query[name]
		if !ok || !cond.matches(actual) {
			return false
		}
	}
	for name, cond := range s.Headers {
		actual, ok := info.Headers[name]
		if !ok || !cond.matches(actual) {
			return false
		}
	}
	return true
}
