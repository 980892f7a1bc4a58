package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-labs/vigil/pkg/checkpoint"
	"github.com/praxis-labs/vigil/pkg/contracts"
	"github.com/praxis-labs/vigil/pkg/ledger"
	"github.com/praxis-labs/vigil/pkg/orchestrator"
	"github.com/praxis-labs/vigil/pkg/policy"
)

type fixture struct {
	server *httptest.Server
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	gate, err := policy.BuildGate(policy.DefaultProfile())
	require.NoError(t, err)
	led := ledger.New()
	cps := checkpoint.NewManager()
	reg := orchestrator.NewRegistry(orchestrator.Deps{
		Gate:        gate,
		Ledger:      led,
		Checkpoints: cps,
		IdleWindow:  10 * time.Minute,
	})
	s := NewServer(reg, led, cps, opts)
	t.Cleanup(s.Close)
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return &fixture{server: ts}
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func intentBody(action string) map[string]any {
	return map[string]any{
		"action":   action,
		"agent_id": "agent-1",
		"subject":  map[string]any{"user_id": "user-1", "identity_id": "identity-1"},
		"resource": map[string]any{"type": "note", "id": "identity-1/note-1", "sphere": "personal"},
		"payload":  map[string]any{"text": "hello"},
	}
}

func TestSubmitCompleted(t *testing.T) {
	f := newFixture(t, Options{})

	resp := f.post(t, "/api/v1/intents", intentBody("read"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	a := decode[contracts.Artifact](t, resp)
	assert.Equal(t, contracts.ArtifactCompleted, a.Kind)
	assert.Equal(t, "read", a.Name)
	assert.NotEmpty(t, a.EntryHash)
}

func TestSubmitDeniedIsNotAnHTTPError(t *testing.T) {
	f := newFixture(t, Options{})

	body := intentBody("read")
	body["resource"] = map[string]any{"type": "note", "id": "identity-2/note-9", "sphere": "personal"}
	resp := f.post(t, "/api/v1/intents", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[map[string]any](t, resp)
	assert.Equal(t, false, out["allowed"])
}

func TestSubmitSuspendedReturns423(t *testing.T) {
	f := newFixture(t, Options{})

	resp := f.post(t, "/api/v1/intents", intentBody("delete"))
	require.Equal(t, http.StatusLocked, resp.StatusCode)

	out := decode[suspensionBody](t, resp)
	assert.Equal(t, "checkpoint_pending", out.Status)
	assert.Equal(t, "sensitive", out.Checkpoint.Type)
	assert.NotEmpty(t, out.Checkpoint.ID)
	assert.Equal(t, []string{"approve", "reject"}, out.Checkpoint.Options)
}

func TestResolveLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, Options{})

	resp := f.post(t, "/api/v1/intents", intentBody("delete"))
	require.Equal(t, http.StatusLocked, resp.StatusCode)
	out := decode[suspensionBody](t, resp)

	// Pending queue shows the checkpoint.
	resp = f.get(t, "/api/v1/checkpoints/pending")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	queue := decode[map[string][]contracts.Checkpoint](t, resp)
	require.Len(t, queue["checkpoints"], 1)
	assert.Equal(t, out.Checkpoint.ID, queue["checkpoints"][0].ID)

	// Approve resumes execution and returns the final artifact.
	resp = f.post(t, "/api/v1/checkpoints/resolve", resolveRequest{
		CheckpointID: out.Checkpoint.ID,
		Outcome:      "approved",
		ResolvedBy:   "operator-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	final := decode[contracts.Artifact](t, resp)
	assert.Equal(t, contracts.ArtifactCompleted, final.Kind)
	assert.NotEmpty(t, final.ParentID)

	// Second resolution of the same checkpoint conflicts.
	resp = f.post(t, "/api/v1/checkpoints/resolve", resolveRequest{
		CheckpointID: out.Checkpoint.ID,
		Outcome:      "rejected",
		ResolvedBy:   "operator-1",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "resolutions happen exactly once")
}

func TestResolveValidation(t *testing.T) {
	f := newFixture(t, Options{})

	resp := f.post(t, "/api/v1/checkpoints/resolve", resolveRequest{
		CheckpointID: "cp-1", Outcome: "maybe", ResolvedBy: "operator-1",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.post(t, "/api/v1/checkpoints/resolve", resolveRequest{
		CheckpointID: "missing", Outcome: "approved", ResolvedBy: "operator-1",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitInvalidIntent(t *testing.T) {
	f := newFixture(t, Options{})

	resp := f.post(t, "/api/v1/intents", map[string]any{"action": ""})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
}

func TestArtifactQueryAndLineage(t *testing.T) {
	f := newFixture(t, Options{})

	resp := f.post(t, "/api/v1/intents", intentBody("delete"))
	require.Equal(t, http.StatusLocked, resp.StatusCode)
	out := decode[suspensionBody](t, resp)

	resp = f.post(t, "/api/v1/checkpoints/resolve", resolveRequest{
		CheckpointID: out.Checkpoint.ID, Outcome: "approved", ResolvedBy: "operator-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	final := decode[contracts.Artifact](t, resp)

	resp = f.get(t, "/api/v1/artifacts?identity=identity-1&kind=suspended")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decode[map[string][]contracts.Artifact](t, resp)
	require.Len(t, listed["artifacts"], 1)
	suspendedID := listed["artifacts"][0].ID

	resp = f.get(t, "/api/v1/artifacts/" + suspendedID + "/lineage")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	lineage := decode[struct {
		Artifact contracts.Artifact   `json:"artifact"`
		Children []contracts.Artifact `json:"children"`
	}](t, resp)
	require.Len(t, lineage.Children, 1)
	assert.Equal(t, final.ID, lineage.Children[0].ID)

	resp = f.get(t, "/api/v1/artifacts/" + final.ID + "/lineage")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	up := decode[struct {
		Ancestors []contracts.Artifact `json:"ancestors"`
	}](t, resp)
	require.Len(t, up.Ancestors, 1)
	assert.Equal(t, suspendedID, up.Ancestors[0].ID)

	resp = f.get(t, "/api/v1/artifacts/nope")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLedgerVerifyEndpoint(t *testing.T) {
	f := newFixture(t, Options{})

	resp := f.post(t, "/api/v1/intents", intentBody("read"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = f.get(t, "/api/v1/ledger/verify")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[map[string]any](t, resp)
	assert.Equal(t, true, out["valid"])
	assert.Equal(t, float64(1), out["length"])
}

func TestEndSessionEndpoint(t *testing.T) {
	f := newFixture(t, Options{})

	resp := f.post(t, "/api/v1/intents", intentBody("delete"))
	require.Equal(t, http.StatusLocked, resp.StatusCode)
	out := decode[suspensionBody](t, resp)

	end := map[string]any{"identity_id": "identity-1"}
	resp = f.post(t, "/api/v1/sessions/end", end)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "refused while checkpoint pending")

	resp = f.post(t, "/api/v1/checkpoints/resolve", resolveRequest{
		CheckpointID: out.Checkpoint.ID, Outcome: "rejected", ResolvedBy: "operator-1", Reason: "not now",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = f.post(t, "/api/v1/sessions/end", end)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.post(t, "/api/v1/sessions/end", end)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitRateLimit(t *testing.T) {
	f := newFixture(t, Options{SubmitRPS: 1, SubmitBurst: 2})

	var limited bool
	for i := 0; i < 5; i++ {
		resp := f.post(t, "/api/v1/intents", intentBody("read"))
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
	}
	assert.True(t, limited, "burst of 5 against burst capacity 2 must trip the limiter")
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, Options{})

	for _, path := range []string{"/api/v1/intents", "/api/v1/checkpoints/resolve", "/api/v1/sessions/end"} {
		resp := f.get(t, path)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, path)
	}
	resp := f.post(t, "/api/v1/checkpoints/pending", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Options{})

	resp := f.get(t, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", out["status"])
}

func TestCheckpointGetEndpoint(t *testing.T) {
	f := newFixture(t, Options{})

	resp := f.post(t, "/api/v1/intents", intentBody("delete"))
	require.Equal(t, http.StatusLocked, resp.StatusCode)
	out := decode[suspensionBody](t, resp)

	resp = f.get(t, fmt.Sprintf("/api/v1/checkpoints/%s", out.Checkpoint.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cp := decode[contracts.Checkpoint](t, resp)
	assert.Equal(t, contracts.CheckpointPending, cp.Status)
	assert.Equal(t, contracts.CategorySensitive, cp.Category)
}
