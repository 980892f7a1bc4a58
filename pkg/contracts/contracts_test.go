package contracts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestArtifactCloneIsDeep(t *testing.T) {
	a := Artifact{
		ID:           "a-1",
		Kind:         ArtifactCompleted,
		ChildIDs:     []string{"a-2"},
		SynapseChain: []string{"s-1"},
		Metadata:     map[string]string{"checkpoint_id": "c-1"},
	}

	c := a.Clone()
	c.ChildIDs[0] = "mutated"
	c.SynapseChain[0] = "mutated"
	c.Metadata["checkpoint_id"] = "mutated"

	assert.Equal(t, "a-2", a.ChildIDs[0])
	assert.Equal(t, "s-1", a.SynapseChain[0])
	assert.Equal(t, "c-1", a.Metadata["checkpoint_id"])
}

func TestCheckpointCloneIsDeep(t *testing.T) {
	resolved := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := Checkpoint{
		ID:         "c-1",
		Status:     CheckpointApproved,
		ResolvedAt: &resolved,
	}

	clone := c.Clone()
	*clone.ResolvedAt = clone.ResolvedAt.Add(time.Hour)

	assert.Equal(t, resolved, *c.ResolvedAt)
}

func TestCheckpointStatusTerminal(t *testing.T) {
	assert.False(t, CheckpointPending.Terminal())
	assert.True(t, CheckpointApproved.Terminal())
	assert.True(t, CheckpointRejected.Terminal())
	assert.False(t, CheckpointStatus("expired").Terminal())
}

func TestCategoryPriorityOrdering(t *testing.T) {
	assert.Greater(t, CategoryPriority(CategoryGovernance), CategoryPriority(CategoryIdentity))
	assert.Greater(t, CategoryPriority(CategoryIdentity), CategoryPriority(CategoryCost))
	assert.Greater(t, CategoryPriority(CategoryCost), CategoryPriority(CategorySensitive))
	assert.Greater(t, CategoryPriority(CategorySensitive), CategoryPriority(CategoryNone))
	assert.Zero(t, CategoryPriority(CheckpointCategory("unknown")))
}
