// Package template renders {{ expr }} placeholders and deep-templates
// data trees marked with $template: true.
//
// Expressions run in a sandbox: only the enumerated names are in scope
// (req, session, state, vars, now, uuid, rand, faker, math, util),
// expressions over the length limit or carrying deny-listed tokens are
// refused, and evaluation is cut off at a wall-clock cap.
//
// All randomness (uuid, rand, faker.*) draws from one mulberry32
// stream seeded from the configured seed and the request id, so a run
// with the same seed replays the same generated values.
//
// Interpolation never leaks evaluator internals: a failed placeholder
// is emitted verbatim, and null results collapse to the empty string.
package template
