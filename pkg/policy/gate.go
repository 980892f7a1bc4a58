package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/praxis-labs/vigil/pkg/contracts"
)

// Gate runs the registered policies against an intent and aggregates
// their verdicts. Policy ordering is registration order and fixed for
// the life of the gate, so aggregate reasons are deterministic.
type Gate struct {
	mu       sync.RWMutex
	policies []Policy
	names    map[string]struct{}
	schema   *jsonschema.Schema
}

// NewGate creates an empty gate. Policies are added via Register.
func NewGate() *Gate {
	return &Gate{
		names:  make(map[string]struct{}),
		schema: compileIntentSchema(),
	}
}

// Register appends a policy to the evaluation order. Names must be
// unique; re-registering is an error, never a silent replace.
func (g *Gate) Register(p Policy) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p.Name() == "" {
		return fmt.Errorf("policy: registration requires a name")
	}
	if _, dup := g.names[p.Name()]; dup {
		return fmt.Errorf("policy: %q already registered", p.Name())
	}
	g.names[p.Name()] = struct{}{}
	g.policies = append(g.policies, p)
	return nil
}

// Names returns the registered policy names in evaluation order.
func (g *Gate) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.policies))
	for i, p := range g.policies {
		out[i] = p.Name()
	}
	return out
}

// Validate checks the intent's structural contract without running any
// policy. Evaluate performs the same check; this is for callers that
// need the fail-fast error before doing setup work of their own.
func (g *Gate) Validate(intent contracts.Intent) error {
	return validateIntent(g.schema, intent)
}

// Evaluate validates the intent and runs every registered policy.
//
// Aggregation: deny dominates checkpoint, checkpoint dominates plain
// allow. When several policies request checkpoints, the surfaced
// category is the one with the highest fixed priority, so the result
// does not depend on registration order.
func (g *Gate) Evaluate(ctx context.Context, intent contracts.Intent) (contracts.Decision, error) {
	if err := ctx.Err(); err != nil {
		return contracts.Decision{}, err
	}
	if err := validateIntent(g.schema, intent); err != nil {
		return contracts.Decision{}, err
	}

	g.mu.RLock()
	policies := make([]Policy, len(g.policies))
	copy(policies, g.policies)
	g.mu.RUnlock()

	decision := contracts.Decision{Allowed: true}
	var denyReasons, holdReasons []string

	for _, p := range policies {
		v := p.Evaluate(intent)
		decision.Policies = append(decision.Policies, p.Name())

		if !v.Allowed {
			decision.Allowed = false
			denyReasons = append(denyReasons, fmt.Sprintf("%s: %s", p.Name(), v.Reason))
			continue
		}
		if v.RequiresCheckpoint {
			holdReasons = append(holdReasons, fmt.Sprintf("%s: %s", p.Name(), v.Reason))
			if contracts.CategoryPriority(v.Category) > contracts.CategoryPriority(decision.Category) {
				decision.Category = v.Category
			}
			decision.RequiresCheckpoint = true
		}
	}

	switch {
	case !decision.Allowed:
		// Deny dominates: a checkpoint request alongside a deny is moot.
		decision.RequiresCheckpoint = false
		decision.Category = contracts.CategoryNone
		decision.Reason = strings.Join(denyReasons, "; ")
	case decision.RequiresCheckpoint:
		decision.Reason = strings.Join(holdReasons, "; ")
	default:
		decision.Reason = "allowed by all policies"
	}
	return decision, nil
}
