package contracts

// Subject is the principal on whose behalf an action runs: the acting
// agent plus the human identity it is bound to.
type Subject struct {
	UserID     string   `json:"user_id"`
	IdentityID string   `json:"identity_id"`
	Roles      []string `json:"roles,omitempty"`
}

// Resource is the target of an action. A resource is identity-scoped
// unless explicitly marked public.
type Resource struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Sphere string `json:"sphere"`
	Public bool   `json:"public,omitempty"`
}

// Intent is an externally submitted request for an agent action. Every
// automated action enters the system as an Intent through the general
// orchestrator — there is no other path to execution.
type Intent struct {
	Action   string   `json:"action"`
	AgentID  string   `json:"agent_id"`
	Subject  Subject  `json:"subject"`
	Resource Resource `json:"resource"`

	// Payload is the action input. Its JCS-canonical hash becomes the
	// resulting artifact's input hash.
	Payload map[string]any `json:"payload,omitempty"`

	// Context carries evaluation-time facts: current_sphere,
	// estimated_cost, delegation_grant, and anything custom policies read.
	Context map[string]any `json:"context,omitempty"`

	// Specialization names a bounded multi-step task handled by a
	// temporary specialized orchestrator. Empty for direct handling.
	Specialization string `json:"specialization,omitempty"`

	// SynapseChain lists causal reference ids that led to this intent.
	SynapseChain []string `json:"synapse_chain,omitempty"`
}
