package spec

import "fmt"

// Error is a load-time specification error: malformed document, dangling
// or non-local reference, unreadable file. Fatal at startup.
type Error struct {
	Source string // file path or JSON pointer when known
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Source != "" && e.Err != nil:
		return fmt.Sprintf("spec %s: %s: %v", e.Source, e.Msg, e.Err)
	case e.Source != "":
		return fmt.Sprintf("spec %s: %s", e.Source, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("spec: %s: %v", e.Msg, e.Err)
	default:
		return "spec: " + e.Msg
	}
}

func (e *Error) Unwrap() error { return e.Err }
