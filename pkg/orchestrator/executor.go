package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/praxis-labs/vigil/pkg/contracts"
)

// Action executes the delegated work for an allowed intent and returns
// the action output. The returned map becomes the artifact's hashed
// output content.
type Action func(ctx context.Context, intent contracts.Intent) (map[string]any, error)

// Executor maps action names to implementations. Unregistered actions
// fall through to a default acknowledgment, so governance flows are
// exercisable before every action has a concrete backend.
type Executor struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewExecutor creates an empty executor.
func NewExecutor() *Executor {
	return &Executor{actions: make(map[string]Action)}
}

// Register binds an action name to an implementation.
func (e *Executor) Register(name string, fn Action) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if name == "" || fn == nil {
		return fmt.Errorf("orchestrator: action registration requires name and func")
	}
	if _, dup := e.actions[name]; dup {
		return fmt.Errorf("orchestrator: action %q already registered", name)
	}
	e.actions[name] = fn
	return nil
}

// Execute runs the implementation bound to the intent's action.
func (e *Executor) Execute(ctx context.Context, intent contracts.Intent) (map[string]any, error) {
	e.mu.RLock()
	fn := e.actions[intent.Action]
	e.mu.RUnlock()

	if fn == nil {
		return map[string]any{
			"status": "acknowledged",
			"action": intent.Action,
			"target": intent.Resource.ID,
		}, nil
	}
	return fn(ctx, intent)
}

// ExecutionError wraps a delegated action's failure. The failure was
// recorded in the ledger before this error surfaced; ArtifactID points
// at that record, so the audit trail has no gap.
type ExecutionError struct {
	ArtifactID string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed (artifact %s): %v", e.ArtifactID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
