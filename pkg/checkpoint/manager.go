// Package checkpoint implements the checkpoint manager: it turns a
// "requires approval" policy verdict into a durable pending decision a
// human resolves out of band.
//
// The manager never auto-resolves. Human response time is unbounded;
// there is no timeout path that approves or denies on the operator's
// behalf.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praxis-labs/vigil/pkg/contracts"
)

var (
	// ErrNotFound indicates an unknown checkpoint id.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrAlreadyResolved indicates a resolve call on a non-pending
	// checkpoint. Resolutions happen exactly once; a second attempt is an
	// invariant error.
	ErrAlreadyResolved = errors.New("checkpoint already resolved")
)

// Filter narrows ListPending.
type Filter struct {
	Category contracts.CheckpointCategory
}

// Store persists checkpoint lifecycle events.
type Store interface {
	Append(ctx context.Context, c contracts.Checkpoint) error
	MarkResolved(ctx context.Context, c contracts.Checkpoint) error
}

// Manager tracks checkpoints through their pending → resolved lifecycle.
// Safe for concurrent use.
type Manager struct {
	mu          sync.Mutex
	checkpoints map[string]*contracts.Checkpoint
	order       []string
	clock       func() time.Time
	newID       func() string
	store       Store
}

// NewManager creates an empty checkpoint manager.
func NewManager() *Manager {
	return &Manager{
		checkpoints: make(map[string]*contracts.Checkpoint),
		clock:       time.Now,
		newID:       func() string { return uuid.New().String() },
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// WithStore attaches a write-through persistence backend.
func (m *Manager) WithStore(s Store) *Manager {
	m.store = s
	return m
}

// Create opens a pending checkpoint for a suspended action.
func (m *Manager) Create(ctx context.Context, category contracts.CheckpointCategory, description string) (contracts.Checkpoint, error) {
	if contracts.CategoryPriority(category) == 0 {
		return contracts.Checkpoint{}, fmt.Errorf("checkpoint: unknown category %q", category)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := contracts.Checkpoint{
		ID:          m.newID(),
		Category:    category,
		Description: description,
		Status:      contracts.CheckpointPending,
		CreatedAt:   m.clock().UTC(),
	}
	if m.store != nil {
		if err := m.store.Append(ctx, c); err != nil {
			return contracts.Checkpoint{}, fmt.Errorf("checkpoint: persist: %w", err)
		}
	}
	stored := c
	m.checkpoints[c.ID] = &stored
	m.order = append(m.order, c.ID)
	return c, nil
}

// Resolve transitions a pending checkpoint to approved or rejected,
// exactly once.
func (m *Manager) Resolve(ctx context.Context, id string, outcome contracts.CheckpointStatus, resolvedBy, reason string) (contracts.Checkpoint, error) {
	if !outcome.Terminal() {
		return contracts.Checkpoint{}, fmt.Errorf("checkpoint: %q is not a resolution outcome", outcome)
	}
	if resolvedBy == "" {
		return contracts.Checkpoint{}, fmt.Errorf("checkpoint: resolver identity is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.checkpoints[id]
	if !ok {
		return contracts.Checkpoint{}, fmt.Errorf("checkpoint: %q: %w", id, ErrNotFound)
	}
	if c.Status != contracts.CheckpointPending {
		return contracts.Checkpoint{}, fmt.Errorf("checkpoint: %q is %s: %w", id, c.Status, ErrAlreadyResolved)
	}

	now := m.clock().UTC()
	resolved := *c
	resolved.Status = outcome
	resolved.ResolvedAt = &now
	resolved.ResolvedBy = resolvedBy
	resolved.Reason = reason

	if m.store != nil {
		if err := m.store.MarkResolved(ctx, resolved); err != nil {
			return contracts.Checkpoint{}, fmt.Errorf("checkpoint: persist resolution: %w", err)
		}
	}
	*c = resolved
	return resolved.Clone(), nil
}

// Restore seeds the manager from persisted checkpoints, in their
// original creation order. Intended for warm starts from a store.
func (m *Manager) Restore(checkpoints []contracts.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range checkpoints {
		if _, ok := m.checkpoints[c.ID]; ok {
			return fmt.Errorf("checkpoint: duplicate id %q in restore set", c.ID)
		}
		stored := c.Clone()
		m.checkpoints[c.ID] = &stored
		m.order = append(m.order, c.ID)
	}
	return nil
}

// Get returns a copy of the checkpoint with the given id.
func (m *Manager) Get(id string) (contracts.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.checkpoints[id]
	if !ok {
		return contracts.Checkpoint{}, fmt.Errorf("checkpoint: %q: %w", id, ErrNotFound)
	}
	return c.Clone(), nil
}

// ListPending returns pending checkpoints oldest first, preserving FIFO
// fairness for human review queues.
func (m *Manager) ListPending(f Filter) []contracts.Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []contracts.Checkpoint
	for _, id := range m.order {
		c := m.checkpoints[id]
		if c.Status != contracts.CheckpointPending {
			continue
		}
		if f.Category != contracts.CategoryNone && c.Category != f.Category {
			continue
		}
		out = append(out, c.Clone())
	}
	return out
}

// PendingCount returns the number of unresolved checkpoints.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range m.checkpoints {
		if c.Status == contracts.CheckpointPending {
			n++
		}
	}
	return n
}
