package contracts

import "time"

// CheckpointStatus tracks the lifecycle of a checkpoint. The only legal
// transitions are pending → approved and pending → rejected; both are
// terminal. There is no timeout status — human response time is unbounded
// and the system never auto-resolves.
type CheckpointStatus string

const (
	CheckpointPending  CheckpointStatus = "pending"
	CheckpointApproved CheckpointStatus = "approved"
	CheckpointRejected CheckpointStatus = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s CheckpointStatus) Terminal() bool {
	return s == CheckpointApproved || s == CheckpointRejected
}

// Checkpoint is a durable, human-resolvable pause point. A pending
// checkpoint blocks its suspended action from completing; resolution
// happens exactly once and the record is retained forever as part of the
// audit trail.
type Checkpoint struct {
	ID          string             `json:"id"`
	Category    CheckpointCategory `json:"category"`
	Description string             `json:"description"`
	Status      CheckpointStatus   `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`

	// Resolution fields, absent while pending.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// Clone returns a copy safe to hand outside the manager.
func (c Checkpoint) Clone() Checkpoint {
	out := c
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}
