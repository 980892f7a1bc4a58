// Package policy implements the policy gate: the single point of truth
// for allow / deny / checkpoint verdicts on agent intents.
//
// Policies are independent pure functions of the intent. The gate runs
// a fixed, ordered set of them and aggregates with two dominance rules:
// any deny makes the aggregate denied, and absent a deny any checkpoint
// request makes the aggregate checkpoint-required. New policies register
// beside the existing ones — extension never means editing a policy.
package policy

import (
	"github.com/praxis-labs/vigil/pkg/contracts"
)

// Verdict is one policy's partial opinion on an intent.
type Verdict struct {
	Allowed            bool
	Reason             string
	RequiresCheckpoint bool
	Category           contracts.CheckpointCategory
}

// Allow is the neutral verdict.
func Allow() Verdict {
	return Verdict{Allowed: true}
}

// Deny refuses the intent outright.
func Deny(reason string) Verdict {
	return Verdict{Allowed: false, Reason: reason}
}

// Hold allows the intent but demands a human checkpoint first.
func Hold(category contracts.CheckpointCategory, reason string) Verdict {
	return Verdict{Allowed: true, Reason: reason, RequiresCheckpoint: true, Category: category}
}

// Policy is an independent rule evaluated against every intent.
// Implementations must be pure: no side effects, no shared state, so
// each is unit-testable in isolation.
type Policy interface {
	Name() string
	Evaluate(intent contracts.Intent) Verdict
}

// Func adapts a bare function into a Policy.
type Func struct {
	PolicyName string
	Fn         func(intent contracts.Intent) Verdict
}

func (f Func) Name() string { return f.PolicyName }

func (f Func) Evaluate(intent contracts.Intent) Verdict { return f.Fn(intent) }
