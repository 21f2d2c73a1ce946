package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/models"
)

func TestBuiltinChains(t *testing.T) {
	r := NewChainRegistry(zap.NewNop())

	tests := []struct {
		id     string
		levels int
	}{
		{"ticket", 1},
		{"prd", 2},
		{"release", 4},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			chain, ok := r.Get(tt.id)
			require.True(t, ok)
			assert.Len(t, chain.Levels, tt.levels)
			require.NoError(t, chain.Validate())
		})
	}

	// The final release gate needs two sign-offs.
	release, ok := r.Get("release")
	require.True(t, ok)
	last := release.Levels[len(release.Levels)-1]
	assert.Equal(t, 2, last.RequiredApprovals)
	assert.Equal(t, []string{"release_manager"}, last.ApproverRoles)
}

func TestRegistryCreate(t *testing.T) {
	r := NewChainRegistry(zap.NewNop())

	chain, err := r.Create(ChainSpec{
		Name: "Budget Approval",
		Levels: []models.ApprovalLevel{
			{Order: 2, Name: "Finance", ApproverRoles: []string{"finance"}, RequiredApprovals: 1},
			{Order: 1, Name: "Manager", ApproverRoles: []string{"manager"}, RequiredApprovals: 1},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, chain.ID)

	// Levels come back sorted regardless of input order.
	assert.Equal(t, 1, chain.Levels[0].Order)
	assert.Equal(t, 2, chain.Levels[1].Order)

	got, ok := r.Get(chain.ID)
	require.True(t, ok)
	assert.Equal(t, "Budget Approval", got.Name)
}

func TestRegistryCreateInvalid(t *testing.T) {
	r := NewChainRegistry(zap.NewNop())

	_, err := r.Create(ChainSpec{Name: "Empty"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestRegistryUpdate(t *testing.T) {
	r := NewChainRegistry(zap.NewNop())

	chain, err := r.Create(ChainSpec{
		Name:        "Original",
		Description: "before",
		Levels: []models.ApprovalLevel{
			{Order: 1, Name: "Review", RequiredApprovals: 1},
		},
	})
	require.NoError(t, err)

	name := "Renamed"
	updated, err := r.Update(chain.ID, ChainUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, "before", updated.Description, "nil fields stay untouched")
	assert.Len(t, updated.Levels, 1)
}

func TestRegistryUpdateInvalidKeepsOriginal(t *testing.T) {
	r := NewChainRegistry(zap.NewNop())

	chain, err := r.Create(ChainSpec{
		Name: "Stable",
		Levels: []models.ApprovalLevel{
			{Order: 1, Name: "Review", RequiredApprovals: 1},
		},
	})
	require.NoError(t, err)

	_, err = r.Update(chain.ID, ChainUpdate{Levels: []models.ApprovalLevel{}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	got, ok := r.Get(chain.ID)
	require.True(t, ok)
	assert.Len(t, got.Levels, 1, "failed update must not corrupt the stored chain")
}

func TestRegistryUpdateUnknown(t *testing.T) {
	r := NewChainRegistry(zap.NewNop())

	name := "x"
	_, err := r.Update("missing", ChainUpdate{Name: &name})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRegistryDelete(t *testing.T) {
	r := NewChainRegistry(zap.NewNop())

	chain, err := r.Create(ChainSpec{
		Name: "Short Lived",
		Levels: []models.ApprovalLevel{
			{Order: 1, Name: "Review", RequiredApprovals: 1},
		},
	})
	require.NoError(t, err)

	assert.True(t, r.Delete(chain.ID))
	assert.False(t, r.Delete(chain.ID))

	_, ok := r.Get(chain.ID)
	assert.False(t, ok)
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	r := NewChainRegistry(zap.NewNop())

	chain, ok := r.Get("ticket")
	require.True(t, ok)
	chain.Levels[0].RequiredApprovals = 99

	again, ok := r.Get("ticket")
	require.True(t, ok)
	assert.Equal(t, 1, again.Levels[0].RequiredApprovals)
}
