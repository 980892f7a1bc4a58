// Package orchestrator implements the hierarchical orchestrator: the
// single entry point through which every agent action passes.
//
// A general orchestrator exists per identity. It consults the policy
// gate, records every outcome through the artifact ledger, and lazily
// spawns sphere orchestrators (one per domain actually touched) which
// in turn spawn strictly temporary specialized orchestrators for
// bounded tasks. Nothing outside this hierarchy executes an action:
// the ledger's Record is the only way an action becomes real, and every
// path to it runs through here.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/praxis-labs/vigil/pkg/checkpoint"
	"github.com/praxis-labs/vigil/pkg/contracts"
	"github.com/praxis-labs/vigil/pkg/ledger"
	"github.com/praxis-labs/vigil/pkg/observability"
	"github.com/praxis-labs/vigil/pkg/policy"
)

// ErrNoPendingAction indicates a checkpoint id with no suspended action
// behind it — resolvable checkpoints always correlate to exactly one.
var ErrNoPendingAction = errors.New("no suspended action for checkpoint")

// MetadataCheckpointID is the artifact metadata key carrying the
// checkpoint id for suspended, resumed, and rejected artifacts.
const MetadataCheckpointID = "checkpoint_id"

// Outcome is the result of a submit: a synchronously known artifact
// (completed or denied), or a pending checkpoint for a suspended action.
type Outcome struct {
	Artifact   *contracts.Artifact
	Checkpoint *contracts.Checkpoint
}

// Suspended reports whether the action paused for human judgment.
func (o Outcome) Suspended() bool { return o.Checkpoint != nil }

// Deps are the collaborators a general orchestrator is built from.
type Deps struct {
	Gate        *policy.Gate
	Ledger      *ledger.Ledger
	Checkpoints *checkpoint.Manager
	Executor    *Executor
	IdleWindow  time.Duration
	Logger      *slog.Logger
	Clock       func() time.Time
}

type pendingAction struct {
	intent       contracts.Intent
	suspendedID  string
	sphereID     string
	delegationID string
}

// General is the sole externally callable orchestrator for one
// identity. It is the only node permitted to create or retire other
// nodes. Safe for concurrent submits.
type General struct {
	identityID    string
	justification Justification
	gate          *policy.Gate
	ledger        *ledger.Ledger
	checkpoints   *checkpoint.Manager
	executor      *Executor
	idleWindow    time.Duration
	clock         func() time.Time
	log           *slog.Logger
	tracer        trace.Tracer
	decisions     metric.Int64Counter

	mu      sync.Mutex
	spheres map[string]*sphere
	pending map[string]pendingAction

	specializedLive atomic.Int64
}

// NewGeneral creates the general orchestrator for an identity.
func NewGeneral(identityID string, deps Deps) (*General, error) {
	if identityID == "" {
		return nil, fmt.Errorf("orchestrator: identity id is required")
	}
	if deps.Gate == nil || deps.Ledger == nil || deps.Checkpoints == nil {
		return nil, fmt.Errorf("orchestrator: gate, ledger and checkpoints are required")
	}
	if deps.Executor == nil {
		deps.Executor = NewExecutor()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.IdleWindow <= 0 {
		deps.IdleWindow = 15 * time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	meter := otel.Meter("github.com/praxis-labs/vigil/pkg/orchestrator")
	decisions, err := meter.Int64Counter("vigil.decisions",
		metric.WithDescription("Policy gate verdicts by outcome"))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: decisions counter: %w", err)
	}

	return &General{
		identityID:    identityID,
		justification: Justification{Reason: "session start", CreatedAt: deps.Clock().UTC()},
		gate:          deps.Gate,
		ledger:        deps.Ledger,
		checkpoints:   deps.Checkpoints,
		executor:      deps.Executor,
		idleWindow:    deps.IdleWindow,
		clock:         deps.Clock,
		log:           deps.Logger.With("identity", identityID),
		tracer:        otel.Tracer("github.com/praxis-labs/vigil/pkg/orchestrator"),
		decisions:     decisions,
		spheres:       make(map[string]*sphere),
		pending:       make(map[string]pendingAction),
	}, nil
}

// Submit runs one intent through the full governance flow: sphere
// resolution, policy evaluation, then execute / deny / suspend. The
// call never blocks on human input — suspension returns immediately
// with the pending checkpoint.
func (g *General) Submit(ctx context.Context, intent contracts.Intent) (Outcome, error) {
	ctx, span := g.tracer.Start(ctx, "orchestrator.submit", trace.WithAttributes(
		observability.AttrAction.String(intent.Action),
		observability.AttrSphere.String(intent.Resource.Sphere),
		observability.AttrIdentity.String(intent.Subject.IdentityID),
	))
	defer span.End()

	// Fail fast on malformed intents: nothing is evaluated, no sphere is
	// created, nothing is recorded.
	if err := g.gate.Validate(intent); err != nil {
		return Outcome{}, err
	}

	s, err := g.sphereFor(intent.Resource.Sphere)
	if err != nil {
		return Outcome{}, err
	}
	delegationID := s.beginDelegation(g.clock().UTC())

	decision, err := g.gate.Evaluate(ctx, intent)
	if err != nil {
		s.endDelegation(delegationID, g.clock().UTC())
		return Outcome{}, err
	}

	switch {
	case !decision.Allowed:
		defer s.endDelegation(delegationID, g.clock().UTC())
		g.count(ctx, "denied")
		a, err := g.ledger.Record(ctx, ledger.Entry{
			Kind:         contracts.ArtifactDenied,
			Name:         intent.Action,
			ActorID:      intent.AgentID,
			IdentityID:   g.identityID,
			Input:        intent.Payload,
			Output:       map[string]any{"allowed": false, "reason": decision.Reason, "policies": decision.Policies},
			SynapseChain: intent.SynapseChain,
		})
		if err != nil {
			return Outcome{}, err
		}
		g.log.Info("intent denied", "action", intent.Action, "artifact", a.ID, "reason", decision.Reason)
		return Outcome{Artifact: &a}, nil

	case decision.RequiresCheckpoint:
		g.count(ctx, "suspended")
		return g.suspend(ctx, intent, decision, s, delegationID)

	default:
		defer s.endDelegation(delegationID, g.clock().UTC())
		g.count(ctx, "allowed")
		a, err := g.execute(ctx, intent, s, "")
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Artifact: &a}, nil
	}
}

// Resolve completes or abandons a suspended action. Invoked from the
// human approval surface, never by the original submitter waiting
// synchronously.
func (g *General) Resolve(ctx context.Context, checkpointID string, outcome contracts.CheckpointStatus, resolvedBy, reason string) (contracts.Artifact, error) {
	ctx, span := g.tracer.Start(ctx, "orchestrator.resolve", trace.WithAttributes(
		observability.AttrCheckpoint.String(checkpointID),
		observability.AttrOutcome.String(string(outcome)),
	))
	defer span.End()

	g.mu.Lock()
	pa, ok := g.pending[checkpointID]
	g.mu.Unlock()
	if !ok {
		return contracts.Artifact{}, fmt.Errorf("orchestrator: %q: %w", checkpointID, ErrNoPendingAction)
	}

	cp, err := g.checkpoints.Resolve(ctx, checkpointID, outcome, resolvedBy, reason)
	if err != nil {
		return contracts.Artifact{}, err
	}

	g.mu.Lock()
	delete(g.pending, checkpointID)
	s := g.spheres[pa.sphereID]
	g.mu.Unlock()

	if s != nil {
		defer func() {
			now := g.clock().UTC()
			s.releaseCheckpoint(now)
			s.endDelegation(pa.delegationID, now)
		}()
	}

	if cp.Status == contracts.CheckpointRejected {
		a, err := g.ledger.Record(ctx, ledger.Entry{
			Kind:       contracts.ArtifactRejected,
			Name:       pa.intent.Action,
			ActorID:    pa.intent.AgentID,
			IdentityID: g.identityID,
			Input:      pa.intent.Payload,
			Output:     map[string]any{"checkpoint": cp.ID, "resolved_by": cp.ResolvedBy, "reason": cp.Reason},
			ParentID:   pa.suspendedID,
			Metadata:   map[string]string{MetadataCheckpointID: cp.ID},
		})
		if err != nil {
			return contracts.Artifact{}, err
		}
		g.log.Info("checkpoint rejected", "checkpoint", cp.ID, "artifact", a.ID, "by", cp.ResolvedBy)
		return a, nil
	}

	a, err := g.execute(ctx, pa.intent, s, pa.suspendedID)
	if err != nil {
		return contracts.Artifact{}, err
	}
	g.log.Info("checkpoint approved, action resumed", "checkpoint", cp.ID, "artifact", a.ID, "by", cp.ResolvedBy)
	return a, nil
}

// suspend creates the checkpoint and the suspended artifact, and parks
// the intent for later resumption. Non-blocking: the correlation lives
// in the pending table, not in a waiting goroutine.
func (g *General) suspend(ctx context.Context, intent contracts.Intent, decision contracts.Decision, s *sphere, delegationID string) (Outcome, error) {
	description := fmt.Sprintf("%s on %s/%s: %s",
		intent.Action, intent.Resource.Type, intent.Resource.ID, decision.Reason)
	cp, err := g.checkpoints.Create(ctx, decision.Category, description)
	if err != nil {
		s.endDelegation(delegationID, g.clock().UTC())
		return Outcome{}, err
	}

	a, err := g.ledger.Record(ctx, ledger.Entry{
		Kind:         contracts.ArtifactSuspended,
		Name:         intent.Action,
		ActorID:      intent.AgentID,
		IdentityID:   g.identityID,
		Input:        intent.Payload,
		Output:       map[string]any{"checkpoint": cp.ID, "category": string(cp.Category), "reason": decision.Reason},
		SynapseChain: intent.SynapseChain,
		Metadata:     map[string]string{MetadataCheckpointID: cp.ID},
	})
	if err != nil {
		// The checkpoint has no suspended artifact behind it, so nothing
		// can ever resume it. Reject it rather than leave it pending.
		if _, rerr := g.checkpoints.Resolve(ctx, cp.ID, contracts.CheckpointRejected, "system",
			fmt.Sprintf("suspended artifact not recorded: %v", err)); rerr != nil {
			g.log.Error("failed to reject orphaned checkpoint", "checkpoint", cp.ID, "error", rerr)
		}
		s.endDelegation(delegationID, g.clock().UTC())
		return Outcome{}, err
	}

	s.holdCheckpoint()
	g.mu.Lock()
	g.pending[cp.ID] = pendingAction{
		intent:       intent,
		suspendedID:  a.ID,
		sphereID:     s.id,
		delegationID: delegationID,
	}
	g.mu.Unlock()

	g.log.Info("intent suspended", "action", intent.Action, "checkpoint", cp.ID,
		"category", cp.Category, "artifact", a.ID)
	return Outcome{Checkpoint: &cp}, nil
}

// execute delegates to the sphere (or a temporary specialized node) and
// records the terminal artifact. Failures are recorded before they
// surface — the ledger never has a gap for a failed action.
func (g *General) execute(ctx context.Context, intent contracts.Intent, s *sphere, parentID string) (contracts.Artifact, error) {
	var out map[string]any
	var execErr error

	if intent.Specialization != "" {
		sp, err := newSpecialized(intent.Specialization,
			fmt.Sprintf("bounded task %q in sphere %q", intent.Specialization, s.id), g.clock().UTC())
		if err != nil {
			return contracts.Artifact{}, err
		}
		g.specializedLive.Add(1)
		out, execErr = sp.run(ctx, g.executor, intent)
		// Immediate retirement: no idle specialized nodes, ever.
		g.specializedLive.Add(-1)
	} else {
		out, execErr = g.executor.Execute(ctx, intent)
	}

	var meta map[string]string
	if parentID != "" {
		if parent, err := g.ledger.Get(parentID); err == nil {
			meta = map[string]string{MetadataCheckpointID: parent.Metadata[MetadataCheckpointID]}
		}
	}

	if execErr != nil {
		a, err := g.ledger.Record(ctx, ledger.Entry{
			Kind:         contracts.ArtifactFailed,
			Name:         intent.Action,
			ActorID:      intent.AgentID,
			IdentityID:   g.identityID,
			Input:        intent.Payload,
			Output:       map[string]any{"error": execErr.Error()},
			ParentID:     parentID,
			SynapseChain: intent.SynapseChain,
			Metadata:     meta,
		})
		if err != nil {
			return contracts.Artifact{}, fmt.Errorf("orchestrator: recording failure: %v (execution error: %w)", err, execErr)
		}
		g.log.Error("action failed", "action", intent.Action, "artifact", a.ID, "error", execErr)
		return contracts.Artifact{}, &ExecutionError{ArtifactID: a.ID, Err: execErr}
	}

	a, err := g.ledger.Record(ctx, ledger.Entry{
		Kind:         contracts.ArtifactCompleted,
		Name:         intent.Action,
		ActorID:      intent.AgentID,
		IdentityID:   g.identityID,
		Input:        intent.Payload,
		Output:       out,
		ParentID:     parentID,
		SynapseChain: intent.SynapseChain,
		Metadata:     meta,
	})
	if err != nil {
		return contracts.Artifact{}, err
	}
	return a, nil
}

// sphereFor resolves or atomically creates the sphere orchestrator.
// Exactly one instance per sphere exists for the session regardless of
// concurrent first use.
func (g *General) sphereFor(id string) (*sphere, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if s, ok := g.spheres[id]; ok {
		return s, nil
	}
	s, err := newSphere(id, "first use within sphere", g.clock().UTC())
	if err != nil {
		return nil, err
	}
	g.spheres[id] = s
	g.log.Debug("sphere created", "sphere", id, "reason", s.justification.Reason)
	return s, nil
}

// RetireIdleSpheres tears down spheres idle past the window. A sphere
// with an unresolved checkpoint is never retired. Returns retired ids.
func (g *General) RetireIdleSpheres() []string {
	now := g.clock().UTC()

	g.mu.Lock()
	defer g.mu.Unlock()

	var retired []string
	for id, s := range g.spheres {
		if s.retirable(now, g.idleWindow) {
			delete(g.spheres, id)
			retired = append(retired, id)
		}
	}
	sort.Strings(retired)
	for _, id := range retired {
		g.log.Debug("sphere retired", "sphere", id)
	}
	return retired
}

// SphereCount returns the number of live sphere orchestrators.
func (g *General) SphereCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.spheres)
}

// ActiveSpecialized returns the number of live specialized nodes. It is
// zero whenever no task is mid-execution.
func (g *General) ActiveSpecialized() int64 {
	return g.specializedLive.Load()
}

// PendingCheckpoints returns how many of this identity's actions are
// suspended awaiting resolution.
func (g *General) PendingCheckpoints() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// HasPending reports whether the checkpoint id correlates to one of
// this orchestrator's suspended actions.
func (g *General) HasPending(checkpointID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[checkpointID]
	return ok
}

// IdentityID returns the identity this orchestrator serves.
func (g *General) IdentityID() string { return g.identityID }

func (g *General) count(ctx context.Context, verdict string) {
	g.decisions.Add(ctx, 1, metric.WithAttributes(observability.AttrVerdict.String(verdict)))
}
