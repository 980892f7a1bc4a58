package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/praxis-labs/vigil/pkg/checkpoint"
	"github.com/praxis-labs/vigil/pkg/contracts"
	"github.com/praxis-labs/vigil/pkg/ledger"
	"github.com/praxis-labs/vigil/pkg/orchestrator"
	"github.com/praxis-labs/vigil/pkg/policy"
)

// Server exposes the orchestrator over HTTP. Submission maps the three
// governed outcomes onto status codes: 201 for a completed artifact,
// 200 with allowed:false for a denial, and 423 Locked for a suspension.
type Server struct {
	registry    *orchestrator.Registry
	ledger      *ledger.Ledger
	checkpoints *checkpoint.Manager
	limiter     *identityLimiter
	log         *slog.Logger
	mux         *http.ServeMux
	stop        chan struct{}
}

// Options tune the server beyond its required collaborators.
type Options struct {
	// SubmitRPS is the per-identity sustained submit rate. Zero disables
	// rate limiting.
	SubmitRPS   float64
	SubmitBurst int
	Logger      *slog.Logger
}

// NewServer builds the HTTP boundary around a registry, ledger and
// checkpoint manager.
func NewServer(reg *orchestrator.Registry, led *ledger.Ledger, cps *checkpoint.Manager, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		registry:    reg,
		ledger:      led,
		checkpoints: cps,
		log:         opts.Logger,
		mux:         http.NewServeMux(),
		stop:        make(chan struct{}),
	}
	if opts.SubmitRPS > 0 {
		burst := opts.SubmitBurst
		if burst <= 0 {
			burst = int(opts.SubmitRPS) + 1
		}
		s.limiter = newIdentityLimiter(opts.SubmitRPS, burst)
		go s.limiter.runCleanup(s.stop)
	}

	s.mux.HandleFunc("/api/v1/intents", s.handleSubmit)
	s.mux.HandleFunc("/api/v1/checkpoints/resolve", s.handleResolve)
	s.mux.HandleFunc("/api/v1/checkpoints/pending", s.handlePending)
	s.mux.HandleFunc("/api/v1/checkpoints/", s.handleCheckpoint)
	s.mux.HandleFunc("/api/v1/artifacts", s.handleArtifacts)
	s.mux.HandleFunc("/api/v1/artifacts/", s.handleArtifact)
	s.mux.HandleFunc("/api/v1/ledger/verify", s.handleVerify)
	s.mux.HandleFunc("/api/v1/sessions/end", s.handleEndSession)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close stops background goroutines. Safe to call once.
func (s *Server) Close() {
	close(s.stop)
}

// suspensionBody is the 423 Locked payload for a suspended action.
type suspensionBody struct {
	Status     string              `json:"status"`
	Checkpoint suspendedCheckpoint `json:"checkpoint"`
}

type suspendedCheckpoint struct {
	ID      string   `json:"id"`
	Type    string   `json:"type"`
	Reason  string   `json:"reason"`
	Options []string `json:"options"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var intent contracts.Intent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		WriteBadRequest(w, "invalid intent body: "+err.Error())
		return
	}
	if s.limiter != nil && !s.limiter.Allow(intent.Subject.IdentityID) {
		WriteTooManyRequests(w)
		return
	}

	outcome, err := s.registry.Submit(r.Context(), intent)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if outcome.Suspended() {
		cp := outcome.Checkpoint
		writeJSON(w, http.StatusLocked, suspensionBody{
			Status: "checkpoint_pending",
			Checkpoint: suspendedCheckpoint{
				ID:      cp.ID,
				Type:    string(cp.Category),
				Reason:  cp.Description,
				Options: []string{"approve", "reject"},
			},
		})
		return
	}

	a := outcome.Artifact
	if a.Kind == contracts.ArtifactDenied {
		// Denial is a governed outcome, not a transport error.
		writeJSON(w, http.StatusOK, map[string]any{
			"allowed":  false,
			"artifact": a,
		})
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

type resolveRequest struct {
	CheckpointID string `json:"checkpoint_id"`
	Outcome      string `json:"outcome"`
	ResolvedBy   string `json:"resolved_by"`
	Reason       string `json:"reason,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid resolve body: "+err.Error())
		return
	}
	status := contracts.CheckpointStatus(req.Outcome)
	if !status.Terminal() {
		WriteBadRequest(w, "outcome must be approved or rejected")
		return
	}
	a, err := s.registry.Resolve(r.Context(), req.CheckpointID, status, req.ResolvedBy, req.Reason)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	f := checkpoint.Filter{
		Category: contracts.CheckpointCategory(r.URL.Query().Get("category")),
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checkpoints": s.checkpoints.ListPending(f),
	})
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/checkpoints/")
	if id == "" || strings.Contains(id, "/") {
		WriteNotFound(w, "unknown checkpoint path")
		return
	}
	cp, err := s.checkpoints.Get(id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	f := ledger.Filter{
		ActorID:    q.Get("actor"),
		IdentityID: q.Get("identity"),
		Kind:       contracts.ArtifactKind(q.Get("kind")),
		Name:       q.Get("name"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteBadRequest(w, "from: "+err.Error())
			return
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteBadRequest(w, "to: "+err.Error())
			return
		}
		f.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteBadRequest(w, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"artifacts": s.ledger.Query(f),
	})
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/artifacts/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		WriteNotFound(w, "unknown artifact path")
		return
	}
	switch sub {
	case "":
		a, err := s.ledger.Get(id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	case "lineage":
		lineage, err := s.lineage(id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lineage)
	default:
		WriteNotFound(w, "unknown artifact path")
	}
}

// lineage walks the parent chain back to the root and collects the
// direct children of the requested artifact.
func (s *Server) lineage(id string) (map[string]any, error) {
	a, err := s.ledger.Get(id)
	if err != nil {
		return nil, err
	}
	var ancestors []contracts.Artifact
	for cur := a; cur.ParentID != ""; {
		p, err := s.ledger.Get(cur.ParentID)
		if err != nil {
			return nil, err
		}
		ancestors = append(ancestors, p)
		cur = p
	}
	children := make([]contracts.Artifact, 0, len(a.ChildIDs))
	for _, cid := range a.ChildIDs {
		c, err := s.ledger.Get(cid)
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	return map[string]any{
		"artifact":  a,
		"ancestors": ancestors,
		"children":  children,
	}, nil
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	ok, brokenID := s.ledger.Verify()
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":     ok,
		"broken_at": brokenID,
		"head":      s.ledger.Head(),
		"length":    s.ledger.Len(),
	})
}

type endSessionRequest struct {
	IdentityID string `json:"identity_id"`
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var req endSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid session body: "+err.Error())
		return
	}
	if req.IdentityID == "" {
		WriteBadRequest(w, "identity_id is required")
		return
	}
	if err := s.registry.EndSession(req.IdentityID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.registry.ActiveSessions(),
		"pending":  s.checkpoints.PendingCount(),
	})
}

// writeDomainError maps the core error taxonomy onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var execErr *orchestrator.ExecutionError
	switch {
	case errors.Is(err, policy.ErrInvalidRequest):
		WriteBadRequest(w, err.Error())
	case errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, checkpoint.ErrNotFound),
		errors.Is(err, orchestrator.ErrNoPendingAction),
		errors.Is(err, orchestrator.ErrNoSession):
		WriteNotFound(w, err.Error())
	case errors.Is(err, checkpoint.ErrAlreadyResolved),
		errors.Is(err, orchestrator.ErrSessionBusy):
		WriteConflict(w, err.Error())
	case errors.Is(err, ledger.ErrImmutabilityViolation):
		WriteConflict(w, err.Error())
	case errors.As(err, &execErr):
		s.log.Error("action execution failed", "artifact", execErr.ArtifactID, "error", execErr.Err)
		WriteInternalError(w, err.Error())
	default:
		s.log.Error("unhandled error at boundary", "error", err)
		WriteInternalError(w, err.Error())
	}
}
