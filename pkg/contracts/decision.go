package contracts

// CheckpointCategory classifies why an action needs human judgment.
type CheckpointCategory string

const (
	CategoryNone       CheckpointCategory = ""
	CategoryGovernance CheckpointCategory = "governance"
	CategoryIdentity   CheckpointCategory = "identity"
	CategoryCost       CheckpointCategory = "cost"
	CategorySensitive  CheckpointCategory = "sensitive"
)

// CategoryPriority fixes the tie-break when multiple policies request a
// checkpoint in the same evaluation: the highest-priority category wins,
// independent of policy registration order.
func CategoryPriority(c CheckpointCategory) int {
	switch c {
	case CategoryGovernance:
		return 4
	case CategoryIdentity:
		return 3
	case CategoryCost:
		return 2
	case CategorySensitive:
		return 1
	default:
		return 0
	}
}

// Decision is the aggregate verdict of the policy gate for one intent.
// It is ephemeral — the orchestrator persists the outcome as an artifact,
// never the decision itself.
//
// Dominance: any deny makes the aggregate denied; otherwise any
// checkpoint request makes the aggregate checkpoint-required.
type Decision struct {
	Allowed            bool               `json:"allowed"`
	Reason             string             `json:"reason"`
	RequiresCheckpoint bool               `json:"requires_checkpoint"`
	Category           CheckpointCategory `json:"category,omitempty"`

	// Policies names every policy that contributed to the verdict.
	Policies []string `json:"policies"`
}
