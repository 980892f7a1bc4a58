package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/praxis-labs/vigil/pkg/checkpoint"
	"github.com/praxis-labs/vigil/pkg/contracts"
)

var (
	// ErrNoSession indicates a session operation on an identity with no
	// live general orchestrator.
	ErrNoSession = errors.New("no active session for identity")

	// ErrSessionBusy indicates a teardown attempt while the identity
	// still has suspended actions awaiting human judgment.
	ErrSessionBusy = errors.New("session has pending checkpoints")
)

// Registry holds one general orchestrator per active identity. It
// replaces any notion of a process-wide singleton: sessions are
// explicit, constructed on first submit and torn down on session end.
type Registry struct {
	deps Deps

	mu       sync.Mutex
	generals map[string]*General
}

// NewRegistry creates an empty registry over shared collaborators.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:     deps,
		generals: make(map[string]*General),
	}
}

// General resolves or atomically creates the general orchestrator for
// an identity.
func (r *Registry) General(identityID string) (*General, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.generals[identityID]; ok {
		return g, nil
	}
	g, err := NewGeneral(identityID, r.deps)
	if err != nil {
		return nil, err
	}
	r.generals[identityID] = g
	return g, nil
}

// Submit routes an intent to its identity's general orchestrator.
func (r *Registry) Submit(ctx context.Context, intent contracts.Intent) (Outcome, error) {
	g, err := r.General(intent.Subject.IdentityID)
	if err != nil {
		return Outcome{}, err
	}
	return g.Submit(ctx, intent)
}

// Resolve routes a checkpoint resolution to the orchestrator holding
// the suspended action.
func (r *Registry) Resolve(ctx context.Context, checkpointID string, outcome contracts.CheckpointStatus, resolvedBy, reason string) (contracts.Artifact, error) {
	r.mu.Lock()
	var owner *General
	for _, g := range r.generals {
		if g.HasPending(checkpointID) {
			owner = g
			break
		}
	}
	r.mu.Unlock()

	if owner == nil {
		// No general holds the id. Distinguish an unknown checkpoint from
		// one that was already resolved: the manager keeps the full record.
		cp, err := r.deps.Checkpoints.Get(checkpointID)
		if err != nil {
			return contracts.Artifact{}, err
		}
		if cp.Status.Terminal() {
			return contracts.Artifact{}, fmt.Errorf("orchestrator: %q is %s: %w", checkpointID, cp.Status, checkpoint.ErrAlreadyResolved)
		}
		return contracts.Artifact{}, fmt.Errorf("orchestrator: %q: %w", checkpointID, ErrNoPendingAction)
	}
	return owner.Resolve(ctx, checkpointID, outcome, resolvedBy, reason)
}

// EndSession tears down an identity's general orchestrator. Refused
// while any of the identity's actions are suspended: a pending
// checkpoint must outlive everything holding it.
func (r *Registry) EndSession(identityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.generals[identityID]
	if !ok {
		return fmt.Errorf("orchestrator: identity %q: %w", identityID, ErrNoSession)
	}
	if n := g.PendingCheckpoints(); n > 0 {
		return fmt.Errorf("orchestrator: identity %q has %d pending checkpoints: %w", identityID, n, ErrSessionBusy)
	}
	delete(r.generals, identityID)
	return nil
}

// ActiveSessions returns the number of live general orchestrators.
func (r *Registry) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.generals)
}

// Sweep retires idle spheres across all sessions.
func (r *Registry) Sweep() {
	r.mu.Lock()
	generals := make([]*General, 0, len(r.generals))
	for _, g := range r.generals {
		generals = append(generals, g)
	}
	r.mu.Unlock()

	for _, g := range generals {
		g.RetireIdleSpheres()
	}
}

// RunSweeper sweeps on the interval until ctx is canceled. This is the
// resource-cleanup timeout — entirely distinct from checkpoint
// resolution, which has none.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
