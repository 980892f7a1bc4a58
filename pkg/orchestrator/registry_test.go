package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-labs/vigil/pkg/checkpoint"
	"github.com/praxis-labs/vigil/pkg/contracts"
	"github.com/praxis-labs/vigil/pkg/ledger"
	"github.com/praxis-labs/vigil/pkg/policy"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	gate, err := policy.BuildGate(policy.DefaultProfile())
	require.NoError(t, err)
	return NewRegistry(Deps{
		Gate:        gate,
		Ledger:      ledger.New(),
		Checkpoints: checkpoint.NewManager(),
		IdleWindow:  10 * time.Minute,
	})
}

func identityIntent(identity, action string) contracts.Intent {
	return contracts.Intent{
		Action:  action,
		AgentID: "agent-1",
		Subject: contracts.Subject{UserID: "user-1", IdentityID: identity},
		Resource: contracts.Resource{
			Type: "note", ID: identity + "/note-1", Sphere: "personal",
		},
	}
}

func TestOneGeneralPerIdentity(t *testing.T) {
	r := newRegistry(t)

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := r.Submit(context.Background(), identityIntent("identity-1", "read"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, r.ActiveSessions())

	_, err := r.Submit(context.Background(), identityIntent("identity-2", "read"))
	require.NoError(t, err)
	assert.Equal(t, 2, r.ActiveSessions())

	g1, err := r.General("identity-1")
	require.NoError(t, err)
	g1again, err := r.General("identity-1")
	require.NoError(t, err)
	assert.Same(t, g1, g1again)
}

func TestRegistryResolveRoutes(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	out, err := r.Submit(ctx, identityIntent("identity-1", "delete"))
	require.NoError(t, err)
	require.True(t, out.Suspended())

	// A second identity's session exists too; routing still finds the owner.
	_, err = r.Submit(ctx, identityIntent("identity-2", "read"))
	require.NoError(t, err)

	a, err := r.Resolve(ctx, out.Checkpoint.ID, contracts.CheckpointApproved, "operator-1", "")
	require.NoError(t, err)
	assert.Equal(t, contracts.ArtifactCompleted, a.Kind)
	assert.Equal(t, "identity-1", a.IdentityID)

	// An id the manager has never seen is a caller error.
	_, err = r.Resolve(ctx, "unknown-checkpoint", contracts.CheckpointApproved, "operator-1", "")
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestRegistryResolveExactlyOnce(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	out, err := r.Submit(ctx, identityIntent("identity-1", "delete"))
	require.NoError(t, err)
	require.True(t, out.Suspended())

	_, err = r.Resolve(ctx, out.Checkpoint.ID, contracts.CheckpointApproved, "operator-1", "")
	require.NoError(t, err)

	// A known but already-resolved checkpoint is an invariant error,
	// distinct from an unknown id.
	_, err = r.Resolve(ctx, out.Checkpoint.ID, contracts.CheckpointRejected, "operator-1", "")
	require.ErrorIs(t, err, checkpoint.ErrAlreadyResolved)
}

func TestEndSession(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	out, err := r.Submit(ctx, identityIntent("identity-1", "delete"))
	require.NoError(t, err)
	require.True(t, out.Suspended())

	// Teardown is refused while a checkpoint is pending.
	require.ErrorIs(t, r.EndSession("identity-1"), ErrSessionBusy)

	_, err = r.Resolve(ctx, out.Checkpoint.ID, contracts.CheckpointRejected, "operator-1", "no")
	require.NoError(t, err)

	require.NoError(t, r.EndSession("identity-1"))
	assert.Zero(t, r.ActiveSessions())
	require.ErrorIs(t, r.EndSession("identity-1"), ErrNoSession, "already ended")
}

func TestRegistrySweep(t *testing.T) {
	gate, err := policy.BuildGate(policy.DefaultProfile())
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	r := NewRegistry(Deps{
		Gate:        gate,
		Ledger:      ledger.New(),
		Checkpoints: checkpoint.NewManager(),
		IdleWindow:  time.Minute,
		Clock:       clock.Now,
	})

	_, err = r.Submit(context.Background(), identityIntent("identity-1", "read"))
	require.NoError(t, err)
	g, err := r.General("identity-1")
	require.NoError(t, err)
	require.Equal(t, 1, g.SphereCount())

	clock.Advance(2 * time.Minute)
	r.Sweep()
	assert.Zero(t, g.SphereCount())
}
