package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"

	"github.com/praxis-labs/vigil/pkg/contracts"
)

// Rule is an operator-defined policy written as a CEL expression over
// the intent. When the expression evaluates true the rule triggers and
// its effect applies; otherwise the rule abstains.
//
// Rules load from policy profiles, so governance changes ship without a
// code deployment.
type Rule struct {
	ID          string                       `yaml:"id" json:"id"`
	Description string                       `yaml:"description,omitempty" json:"description,omitempty"`
	Expression  string                       `yaml:"expression" json:"expression"`
	Effect      string                       `yaml:"effect" json:"effect"` // "deny" or "checkpoint"
	Category    contracts.CheckpointCategory `yaml:"category,omitempty" json:"category,omitempty"`
	Reason      string                       `yaml:"reason,omitempty" json:"reason,omitempty"`
}

const (
	EffectDeny       = "deny"
	EffectCheckpoint = "checkpoint"
)

type celPolicy struct {
	rule Rule
	prg  cel.Program
}

// CompileRule compiles a CEL rule into a registrable policy. The CEL
// environment exposes the intent as: action (string), subject, resource
// and context (maps).
func CompileRule(r Rule) (Policy, error) {
	switch r.Effect {
	case EffectDeny:
	case EffectCheckpoint:
		if contracts.CategoryPriority(r.Category) == 0 {
			return nil, fmt.Errorf("policy: rule %q: checkpoint effect needs a category", r.ID)
		}
	default:
		return nil, fmt.Errorf("policy: rule %q: unknown effect %q", r.ID, r.Effect)
	}
	if r.ID == "" {
		return nil, fmt.Errorf("policy: rule without id")
	}

	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("action", types.StringType),
			decls.NewVariable("subject", types.NewMapType(types.StringType, types.DynType)),
			decls.NewVariable("resource", types.NewMapType(types.StringType, types.DynType)),
			decls.NewVariable("context", types.NewMapType(types.StringType, types.DynType)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: cel env: %w", err)
	}

	ast, issues := env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy: rule %q: compile: %w", r.ID, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("policy: rule %q: program: %w", r.ID, err)
	}
	return &celPolicy{rule: r, prg: prg}, nil
}

func (p *celPolicy) Name() string { return p.rule.ID }

// Evaluate runs the compiled expression. Evaluation errors fail closed:
// a rule that cannot be evaluated denies rather than waves through.
func (p *celPolicy) Evaluate(intent contracts.Intent) Verdict {
	input := map[string]any{
		"action": intent.Action,
		"subject": map[string]any{
			"user_id":     intent.Subject.UserID,
			"identity_id": intent.Subject.IdentityID,
			"roles":       intent.Subject.Roles,
		},
		"resource": map[string]any{
			"type":   intent.Resource.Type,
			"id":     intent.Resource.ID,
			"sphere": intent.Resource.Sphere,
			"public": intent.Resource.Public,
		},
		"context": intent.Context,
	}

	out, _, err := p.prg.Eval(input)
	if err != nil {
		return Deny(fmt.Sprintf("rule %q evaluation error: %v", p.rule.ID, err))
	}
	triggered, ok := out.Value().(bool)
	if !ok {
		return Deny(fmt.Sprintf("rule %q returned non-boolean", p.rule.ID))
	}
	if !triggered {
		return Allow()
	}

	reason := p.rule.Reason
	if reason == "" {
		reason = fmt.Sprintf("rule %q triggered", p.rule.ID)
	}
	if p.rule.Effect == EffectDeny {
		return Deny(reason)
	}
	return Hold(p.rule.Category, reason)
}
