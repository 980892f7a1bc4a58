package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praxis-labs/vigil/pkg/contracts"
)

// NodeKind distinguishes the three orchestrator tiers.
type NodeKind string

const (
	NodeGeneral     NodeKind = "general"
	NodeSphere      NodeKind = "sphere"
	NodeSpecialized NodeKind = "specialized"
)

// Justification records why a node was instantiated. Every non-general
// node carries one; lazy creation is only auditable if the reason for
// existing is written down at creation time.
type Justification struct {
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// sphere is a per-domain orchestrator, created on first use within its
// sphere and eligible for retirement after an idle window with no
// active delegations and no pending checkpoints.
type sphere struct {
	mu            sync.Mutex
	id            string
	justification Justification
	delegations   map[string]struct{}
	pendingCps    int
	lastUsed      time.Time
}

func newSphere(id string, reason string, now time.Time) (*sphere, error) {
	if reason == "" {
		return nil, fmt.Errorf("orchestrator: sphere %q created without justification", id)
	}
	return &sphere{
		id:            id,
		justification: Justification{Reason: reason, CreatedAt: now},
		delegations:   make(map[string]struct{}),
		lastUsed:      now,
	}, nil
}

// beginDelegation registers an in-flight delegation and returns its id.
func (s *sphere) beginDelegation(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New().String()
	s.delegations[id] = struct{}{}
	s.lastUsed = now
	return id
}

func (s *sphere) endDelegation(id string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.delegations, id)
	s.lastUsed = now
}

func (s *sphere) holdCheckpoint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingCps++
}

func (s *sphere) releaseCheckpoint(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingCps--
	s.lastUsed = now
}

// retirable reports whether the sphere may be torn down: idle past the
// window, nothing delegated, and — the hard invariant — no unresolved
// checkpoint anywhere in its delegations.
func (s *sphere) retirable(now time.Time, idleWindow time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.delegations) > 0 || s.pendingCps > 0 {
		return false
	}
	return now.Sub(s.lastUsed) >= idleWindow
}

// specialized is a single-task orchestrator. It exists for exactly one
// bounded task and is retired the moment the task completes or fails.
type specialized struct {
	id            string
	scope         string
	justification Justification
}

func newSpecialized(scope, reason string, now time.Time) (*specialized, error) {
	if reason == "" {
		return nil, fmt.Errorf("orchestrator: specialized %q created without justification", scope)
	}
	return &specialized{
		id:            uuid.New().String(),
		scope:         scope,
		justification: Justification{Reason: reason, CreatedAt: now},
	}, nil
}

func (sp *specialized) run(ctx context.Context, exec *Executor, intent contracts.Intent) (map[string]any, error) {
	return exec.Execute(ctx, intent)
}
