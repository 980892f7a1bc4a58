// Package contracts defines the shared value types that cross component
// boundaries in the vigil core: artifacts, intents, policy decisions,
// and checkpoints.
//
// Everything here is a plain value. Components exchange copies, never
// shared mutable references — the ledger in particular stores values by
// construction, so immutability does not depend on caller discipline.
package contracts

import "time"

// ArtifactKind classifies the outcome an artifact records.
type ArtifactKind string

const (
	// ArtifactCompleted records an action that executed successfully.
	ArtifactCompleted ArtifactKind = "completed"
	// ArtifactDenied records an action refused by policy. A denial is a
	// governed outcome, not an error.
	ArtifactDenied ArtifactKind = "denied"
	// ArtifactSuspended records an action held for human judgment. The
	// checkpoint id lives in the artifact metadata under "checkpoint_id".
	ArtifactSuspended ArtifactKind = "suspended"
	// ArtifactRejected records a suspended action whose checkpoint a human
	// rejected. The action never executed.
	ArtifactRejected ArtifactKind = "rejected"
	// ArtifactFailed records an action that was allowed but errored during
	// execution. Failures are receipted, never silently dropped.
	ArtifactFailed ArtifactKind = "failed"
)

// Artifact is the immutable record of one governed action. It is created
// exactly once, lives forever, and is never mutated or deleted.
type Artifact struct {
	ID         string       `json:"id"`
	Kind       ArtifactKind `json:"kind"`
	Name       string       `json:"name"`
	ActorID    string       `json:"actor_id"`
	IdentityID string       `json:"identity_id"`
	CreatedAt  time.Time    `json:"created_at"`

	// InputHash and OutputHash are SHA-256 digests over the JCS-canonical
	// serialization of the action's input and output.
	InputHash  string `json:"input_hash"`
	OutputHash string `json:"output_hash"`

	// ParentID links a resumed or derived action back to its origin.
	// Empty for root artifacts.
	ParentID string   `json:"parent_id,omitempty"`
	ChildIDs []string `json:"child_ids,omitempty"`

	// SynapseChain lists the causal reference ids that led to this action.
	SynapseChain []string          `json:"synapse_chain,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	// Hash-chain position within the ledger. PrevHash is the ledger head
	// at append time; EntryHash covers this record and its predecessor.
	Sequence  uint64 `json:"sequence"`
	PrevHash  string `json:"prev_hash"`
	EntryHash string `json:"entry_hash"`
}

// Clone returns a deep copy. The ledger hands out clones so no caller
// ever holds a reference into ledger-owned state.
func (a Artifact) Clone() Artifact {
	c := a
	if a.ChildIDs != nil {
		c.ChildIDs = append([]string(nil), a.ChildIDs...)
	}
	if a.SynapseChain != nil {
		c.SynapseChain = append([]string(nil), a.SynapseChain...)
	}
	if a.Metadata != nil {
		c.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}
