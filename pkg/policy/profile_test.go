package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-labs/vigil/pkg/contracts"
)

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sensitive_verbs: [delete, wipe]
cost_ceiling_cents: 5000
sphere_idle_window: 5m
rules:
  - id: no-finance-writes
    expression: 'resource.sphere == "finance" && action != "read"'
    effect: deny
    reason: finance sphere is read-only for agents
`), 0o600))

	p, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"delete", "wipe"}, p.SensitiveVerbs)
	assert.Equal(t, int64(5000), p.CostCeilingCents)
	assert.Equal(t, 5*time.Minute, p.SphereIdleWindow)
	require.Len(t, p.Rules, 1)
}

func TestLoadProfileDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))

	p, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultSensitiveVerbs, p.SensitiveVerbs)
	assert.Equal(t, 15*time.Minute, p.SphereIdleWindow)

	_, err = LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestBuildGate(t *testing.T) {
	p := DefaultProfile()
	p.CostCeilingCents = 1000
	p.Rules = []Rule{{
		ID:         "hold-bulk",
		Expression: `action == "bulk_update"`,
		Effect:     EffectCheckpoint,
		Category:   contracts.CategoryGovernance,
	}}

	g, err := BuildGate(p)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"identity-boundary", "sensitive-action", "cross-scope-access",
		"delegated-identity", "cost-threshold", "hold-bulk",
	}, g.Names())

	bulk := validIntent()
	bulk.Action = "bulk_update"
	d, err := g.Evaluate(context.Background(), bulk)
	require.NoError(t, err)
	assert.True(t, d.RequiresCheckpoint)
	assert.Equal(t, contracts.CategoryGovernance, d.Category)
}

func TestBuildGateRejectsBadRule(t *testing.T) {
	p := DefaultProfile()
	p.Rules = []Rule{{ID: "bad", Expression: "action ==", Effect: EffectDeny}}
	_, err := BuildGate(p)
	require.Error(t, err)
}
