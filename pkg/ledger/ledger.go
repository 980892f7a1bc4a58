// Package ledger implements the artifact ledger: an append-only,
// hash-chained record of every governed action.
//
//   - Append-only; no mutations, no deletions
//   - Each artifact is hash-chained to its predecessor
//   - Parent/child lineage links are set only after the child is recorded
//   - Callers receive value copies, never references into ledger state
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praxis-labs/vigil/pkg/canonical"
	"github.com/praxis-labs/vigil/pkg/contracts"
)

var (
	// ErrNotFound indicates an unknown artifact id or a dangling parent
	// reference.
	ErrNotFound = errors.New("artifact not found")

	// ErrImmutabilityViolation indicates an attempted mutation or deletion
	// of a recorded artifact. This is an invariant error: it means the
	// audit guarantee itself was threatened, and it is never swallowed.
	ErrImmutabilityViolation = errors.New("artifacts are immutable")
)

// Entry is the input to Record. Input and Output are hashed with JCS
// canonicalization; the raw values are not retained by the ledger.
type Entry struct {
	Kind         contracts.ArtifactKind
	Name         string
	ActorID      string
	IdentityID   string
	Input        any
	Output       any
	ParentID     string
	SynapseChain []string
	Metadata     map[string]string
}

// Filter narrows a Query. All set fields are conjunctive.
type Filter struct {
	ActorID    string
	IdentityID string
	Kind       contracts.ArtifactKind
	Name       string
	From       time.Time
	To         time.Time
	Limit      int
}

// Store persists appended artifacts. The in-memory ledger remains the
// source of truth; a store is a write-through collaborator.
type Store interface {
	Append(ctx context.Context, a contracts.Artifact) error
	LinkChild(ctx context.Context, parentID, childID string) error
}

// Ledger is the append-only artifact log. Safe for concurrent use; each
// append is atomic, so no partial record is ever observable.
type Ledger struct {
	mu         sync.RWMutex
	artifacts  map[string]*contracts.Artifact
	order      []string
	byActor    map[string][]string
	byIdentity map[string][]string
	headHash   string
	seq        uint64
	clock      func() time.Time
	newID      func() string
	store      Store
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		artifacts:  make(map[string]*contracts.Artifact),
		byActor:    make(map[string][]string),
		byIdentity: make(map[string][]string),
		headHash:   "genesis",
		clock:      time.Now,
		newID:      func() string { return uuid.New().String() },
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// WithStore attaches a write-through persistence backend.
func (l *Ledger) WithStore(s Store) *Ledger {
	l.store = s
	return l
}

// Record appends a new artifact and returns the frozen value. If
// e.ParentID is set it must resolve to an existing artifact; the child id
// is appended to the parent's child list only after the child itself is
// durably recorded, so lineage is never observable ahead of its members.
func (l *Ledger) Record(ctx context.Context, e Entry) (contracts.Artifact, error) {
	if e.Kind == "" || e.Name == "" {
		return contracts.Artifact{}, fmt.Errorf("ledger: kind and name are required")
	}

	inputHash, err := canonical.Hash(e.Input)
	if err != nil {
		return contracts.Artifact{}, fmt.Errorf("ledger: input hash: %w", err)
	}
	outputHash, err := canonical.Hash(e.Output)
	if err != nil {
		return contracts.Artifact{}, fmt.Errorf("ledger: output hash: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var parent *contracts.Artifact
	if e.ParentID != "" {
		parent = l.artifacts[e.ParentID]
		if parent == nil {
			return contracts.Artifact{}, fmt.Errorf("ledger: parent %q: %w", e.ParentID, ErrNotFound)
		}
	}

	a := contracts.Artifact{
		ID:           l.newID(),
		Kind:         e.Kind,
		Name:         e.Name,
		ActorID:      e.ActorID,
		IdentityID:   e.IdentityID,
		CreatedAt:    l.clock().UTC(),
		InputHash:    inputHash,
		OutputHash:   outputHash,
		ParentID:     e.ParentID,
		SynapseChain: append([]string(nil), e.SynapseChain...),
		Sequence:     l.seq + 1,
		PrevHash:     l.headHash,
	}
	if len(e.Metadata) > 0 {
		a.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			a.Metadata[k] = v
		}
	}

	entryHash, err := chainHash(a)
	if err != nil {
		return contracts.Artifact{}, err
	}
	a.EntryHash = entryHash

	// Persist before exposing: a store failure must not leave the
	// in-memory ledger ahead of its backend.
	if l.store != nil {
		if err := l.store.Append(ctx, a); err != nil {
			return contracts.Artifact{}, fmt.Errorf("ledger: persist: %w", err)
		}
	}

	stored := a.Clone()
	l.artifacts[a.ID] = &stored
	l.order = append(l.order, a.ID)
	l.byActor[a.ActorID] = append(l.byActor[a.ActorID], a.ID)
	l.byIdentity[a.IdentityID] = append(l.byIdentity[a.IdentityID], a.ID)
	l.seq = a.Sequence
	l.headHash = a.EntryHash

	if parent != nil {
		// Persist the link first: a store failure here leaves the child
		// recorded but unlinked on both sides, never in memory only.
		if l.store != nil {
			if err := l.store.LinkChild(ctx, parent.ID, a.ID); err != nil {
				return contracts.Artifact{}, fmt.Errorf("ledger: persist child link: %w", err)
			}
		}
		parent.ChildIDs = append(parent.ChildIDs, a.ID)
	}

	return a, nil
}

// Restore rebuilds in-memory state from persisted artifacts, given in
// sequence order. Only valid on an empty ledger.
func (l *Ledger) Restore(artifacts []contracts.Artifact) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.order) > 0 {
		return fmt.Errorf("ledger: restore on non-empty ledger")
	}
	for i, a := range artifacts {
		if a.Sequence != uint64(i)+1 {
			return fmt.Errorf("ledger: restore: gap at sequence %d", i+1)
		}
		stored := a.Clone()
		l.artifacts[a.ID] = &stored
		l.order = append(l.order, a.ID)
		l.byActor[a.ActorID] = append(l.byActor[a.ActorID], a.ID)
		l.byIdentity[a.IdentityID] = append(l.byIdentity[a.IdentityID], a.ID)
		l.seq = a.Sequence
		l.headHash = a.EntryHash
	}
	return nil
}

// Get returns a copy of the artifact with the given id.
func (l *Ledger) Get(id string) (contracts.Artifact, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, ok := l.artifacts[id]
	if !ok {
		return contracts.Artifact{}, fmt.Errorf("ledger: %q: %w", id, ErrNotFound)
	}
	return a.Clone(), nil
}

// Query returns artifacts matching the filter, newest first.
func (l *Ledger) Query(f Filter) []contracts.Artifact {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []contracts.Artifact
	for i := len(l.order) - 1; i >= 0; i-- {
		a := l.artifacts[l.order[i]]
		if !matches(a, f) {
			continue
		}
		out = append(out, a.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Delete always fails. It exists to make the prohibition explicit: the
// ledger defines deletion as an illegal operation, not a missing feature.
func (l *Ledger) Delete(id string) error {
	return fmt.Errorf("ledger: delete %q: %w", id, ErrImmutabilityViolation)
}

// Head returns the current chain head hash.
func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Len returns the number of recorded artifacts.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Verify walks the full hash chain and reports the first break, if any.
func (l *Ledger) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prev := "genesis"
	for i, id := range l.order {
		a := l.artifacts[id]
		if a.PrevHash != prev {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prev, a.PrevHash)
		}
		computed, err := chainHash(*a)
		if err != nil {
			return false, fmt.Sprintf("entry %d: %v", i+1, err)
		}
		if computed != a.EntryHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prev = a.EntryHash
	}
	return true, "chain verified"
}

// chainHash covers the identity and content of an artifact plus its
// predecessor hash. Child links are excluded: they are lineage metadata
// appended after the fact, not part of the frozen record.
func chainHash(a contracts.Artifact) (string, error) {
	h, err := canonical.Hash(struct {
		ID         string                 `json:"id"`
		Seq        uint64                 `json:"seq"`
		Kind       contracts.ArtifactKind `json:"kind"`
		Name       string                 `json:"name"`
		ActorID    string                 `json:"actor_id"`
		IdentityID string                 `json:"identity_id"`
		InputHash  string                 `json:"input_hash"`
		OutputHash string                 `json:"output_hash"`
		ParentID   string                 `json:"parent_id"`
		PrevHash   string                 `json:"prev_hash"`
	}{a.ID, a.Sequence, a.Kind, a.Name, a.ActorID, a.IdentityID, a.InputHash, a.OutputHash, a.ParentID, a.PrevHash})
	if err != nil {
		return "", fmt.Errorf("ledger: chain hash: %w", err)
	}
	return h, nil
}

func matches(a *contracts.Artifact, f Filter) bool {
	if f.ActorID != "" && a.ActorID != f.ActorID {
		return false
	}
	if f.IdentityID != "" && a.IdentityID != f.IdentityID {
		return false
	}
	if f.Kind != "" && a.Kind != f.Kind {
		return false
	}
	if f.Name != "" && a.Name != f.Name {
		return false
	}
	if !f.From.IsZero() && a.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && a.CreatedAt.After(f.To) {
		return false
	}
	return true
}
