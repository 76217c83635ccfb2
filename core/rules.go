package core

import (
	"context"
	"fmt"
)

// Definition is the catalog identity of an achievement rule. Code is the
// persistence key and must never be reused for a different achievement.
type Definition struct {
	Code        string
	Name        string
	Description string
	// XPValue is display metadata; nothing credits it to a user's total.
	XPValue int64
}

// Describe returns the definition itself so that rule types embedding a
// Definition satisfy Rule.Describe.
func (d Definition) Describe() Definition { return d }

// Outcome is the result of a rule evaluation that completed.
type Outcome struct {
	Earned   bool
	Metadata map[string]any
}

// NotEarned is the zero outcome.
var NotEarned = Outcome{}

// Earned builds an earned outcome carrying metadata.
func Earned(metadata map[string]any) Outcome {
	return Outcome{Earned: true, Metadata: metadata}
}

// Rule is a self-contained achievement policy.
//
// Handles must be a pure type check. Evaluate may run read-only queries and
// must return NotEarned (not an error) for events it does not handle. A
// returned error means the rule could not decide; the engine logs it and
// treats it as not earned.
type Rule interface {
	Describe() Definition
	Handles(ev Event) bool
	Evaluate(ctx context.Context, ev Event) (Outcome, error)
}

// EvaluationError wraps a failure raised while evaluating a rule, keeping it
// distinguishable from a plain "not earned".
type EvaluationError struct {
	Code string
	Err  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate rule %s: %v", e.Code, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
