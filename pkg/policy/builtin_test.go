package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/praxis-labs/vigil/pkg/contracts"
)

func TestIdentityBoundary(t *testing.T) {
	p := IdentityBoundary()

	own := validIntent()
	assert.True(t, p.Evaluate(own).Allowed, "own resource passes")

	foreign := validIntent()
	foreign.Resource.ID = "identity-2/note-1"
	v := p.Evaluate(foreign)
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "identity-2")

	public := validIntent()
	public.Resource.ID = "identity-2/note-1"
	public.Resource.Public = true
	assert.True(t, p.Evaluate(public).Allowed, "public resources cross the boundary")

	byContext := validIntent()
	byContext.Resource.ID = "opaque-id"
	byContext.Context["resource_owner"] = "identity-9"
	assert.False(t, p.Evaluate(byContext).Allowed)

	unscoped := validIntent()
	unscoped.Resource.ID = "opaque-id"
	assert.True(t, p.Evaluate(unscoped).Allowed, "unscoped ids have no owner to violate")
}

func TestSensitiveActions(t *testing.T) {
	p := SensitiveActions(DefaultSensitiveVerbs)

	read := validIntent()
	assert.Equal(t, Allow(), p.Evaluate(read))

	del := validIntent()
	del.Action = "delete_note"
	v := p.Evaluate(del)
	assert.True(t, v.Allowed)
	assert.True(t, v.RequiresCheckpoint)
	assert.Equal(t, contracts.CategorySensitive, v.Category)

	// Verb matching is case-insensitive and prefix-based.
	send := validIntent()
	send.Action = "Send-Invoice"
	assert.True(t, p.Evaluate(send).RequiresCheckpoint)

	custom := SensitiveActions([]string{"merge"})
	merge := validIntent()
	merge.Action = "merge_accounts"
	assert.True(t, custom.Evaluate(merge).RequiresCheckpoint)
	assert.False(t, custom.Evaluate(del).RequiresCheckpoint)
}

func TestCrossScopeAccess(t *testing.T) {
	p := CrossScopeAccess()

	same := validIntent()
	assert.Equal(t, Allow(), p.Evaluate(same))

	cross := validIntent()
	cross.Context["current_sphere"] = "work"
	v := p.Evaluate(cross)
	assert.True(t, v.RequiresCheckpoint)
	assert.Equal(t, contracts.CategoryGovernance, v.Category)

	noSphere := validIntent()
	delete(noSphere.Context, "current_sphere")
	assert.Equal(t, Allow(), p.Evaluate(noSphere))
}

func TestCostThreshold(t *testing.T) {
	p := CostThreshold(10_000)

	cheap := validIntent()
	cheap.Context["estimated_cost"] = 500
	assert.Equal(t, Allow(), p.Evaluate(cheap))

	costly := validIntent()
	costly.Context["estimated_cost"] = float64(25_000) // JSON numbers decode as float64
	v := p.Evaluate(costly)
	assert.True(t, v.RequiresCheckpoint)
	assert.Equal(t, contracts.CategoryCost, v.Category)

	undeclared := validIntent()
	assert.Equal(t, Allow(), p.Evaluate(undeclared))
}

func TestDelegatedIdentity(t *testing.T) {
	p := DelegatedIdentity()

	self := validIntent()
	assert.Equal(t, Allow(), p.Evaluate(self))

	granted := validIntent()
	granted.Context["on_behalf_of"] = "identity-2"
	granted.Context["delegation_grant"] = true
	v := p.Evaluate(granted)
	assert.True(t, v.Allowed)
	assert.Equal(t, contracts.CategoryIdentity, v.Category)

	ungranted := validIntent()
	ungranted.Context["on_behalf_of"] = "identity-2"
	assert.False(t, p.Evaluate(ungranted).Allowed)
}
