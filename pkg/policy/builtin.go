package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/praxis-labs/vigil/pkg/contracts"
)

// DefaultSensitiveVerbs is the baseline sensitive-action list, used when
// no policy profile overrides it.
var DefaultSensitiveVerbs = []string{"delete", "publish", "send", "transfer", "approve"}

// IdentityBoundary denies actions on resources scoped to an identity
// other than the subject's own, unless the resource is explicitly
// public. Resource ownership comes from the "resource_owner" context
// fact when present, otherwise from an "<owner>/<rest>" id convention.
func IdentityBoundary() Policy {
	return Func{
		PolicyName: "identity-boundary",
		Fn: func(intent contracts.Intent) Verdict {
			if intent.Resource.Public {
				return Allow()
			}
			owner := resourceOwner(intent)
			if owner == "" || owner == intent.Subject.IdentityID {
				return Allow()
			}
			return Deny(fmt.Sprintf("resource %q is scoped to identity %q, subject acts as %q",
				intent.Resource.ID, owner, intent.Subject.IdentityID))
		},
	}
}

// SensitiveActions requires a sensitive checkpoint for actions whose
// verb appears in the configured list. The action is otherwise allowed.
func SensitiveActions(verbs []string) Policy {
	set := make(map[string]struct{}, len(verbs))
	for _, v := range verbs {
		set[strings.ToLower(v)] = struct{}{}
	}
	return Func{
		PolicyName: "sensitive-action",
		Fn: func(intent contracts.Intent) Verdict {
			verb := strings.ToLower(intent.Action)
			if i := strings.IndexAny(verb, "_-."); i > 0 {
				verb = verb[:i]
			}
			if _, sensitive := set[verb]; sensitive {
				return Hold(contracts.CategorySensitive,
					fmt.Sprintf("action %q matches the sensitive-verb list", intent.Action))
			}
			return Allow()
		},
	}
}

// CrossScopeAccess requires a governance checkpoint when the resource's
// sphere differs from the caller's current sphere.
func CrossScopeAccess() Policy {
	return Func{
		PolicyName: "cross-scope-access",
		Fn: func(intent contracts.Intent) Verdict {
			current, _ := intent.Context["current_sphere"].(string)
			if current == "" || current == intent.Resource.Sphere {
				return Allow()
			}
			return Hold(contracts.CategoryGovernance,
				fmt.Sprintf("resource sphere %q differs from current sphere %q",
					intent.Resource.Sphere, current))
		},
	}
}

// CostThreshold requires a cost checkpoint when the intent declares an
// estimated cost above the ceiling (in cents). Intents without a cost
// declaration pass.
func CostThreshold(ceilingCents int64) Policy {
	return Func{
		PolicyName: "cost-threshold",
		Fn: func(intent contracts.Intent) Verdict {
			cost, ok := contextInt64(intent.Context, "estimated_cost")
			if !ok || cost <= ceilingCents {
				return Allow()
			}
			return Hold(contracts.CategoryCost,
				fmt.Sprintf("estimated cost %d exceeds ceiling %d", cost, ceilingCents))
		},
	}
}

// DelegatedIdentity governs acting on behalf of another identity: with
// an explicit delegation grant it requires an identity checkpoint,
// without one it is denied.
func DelegatedIdentity() Policy {
	return Func{
		PolicyName: "delegated-identity",
		Fn: func(intent contracts.Intent) Verdict {
			behalf, _ := intent.Context["on_behalf_of"].(string)
			if behalf == "" || behalf == intent.Subject.IdentityID {
				return Allow()
			}
			if granted, _ := intent.Context["delegation_grant"].(bool); !granted {
				return Deny(fmt.Sprintf("no delegation grant to act for identity %q", behalf))
			}
			return Hold(contracts.CategoryIdentity,
				fmt.Sprintf("delegated action for identity %q", behalf))
		},
	}
}

func resourceOwner(intent contracts.Intent) string {
	if owner, ok := intent.Context["resource_owner"].(string); ok && owner != "" {
		return owner
	}
	if i := strings.Index(intent.Resource.ID, "/"); i > 0 {
		return intent.Resource.ID[:i]
	}
	return ""
}

func contextInt64(ctx map[string]any, key string) (int64, bool) {
	switch v := ctx[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
