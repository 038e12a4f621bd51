package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopy-network/mutualpool/pkg/pool/insurance"
	"github.com/canopy-network/mutualpool/pkg/pool/types"
)

func TestStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	snap, err := s.Load(ctx, "main")
	require.NoError(t, err)
	assert.Nil(t, snap)

	require.NoError(t, s.Save(ctx, "main", insurance.Snapshot{Version: 1, Admins: []types.Identity{"deployer"}}))
	require.NoError(t, s.Save(ctx, "main", insurance.Snapshot{Version: 2, Admins: []types.Identity{"deployer", "ops"}, Frozen: true}))

	snap, err = s.Load(ctx, "main")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, uint64(2), snap.Version)
	assert.True(t, snap.Frozen)
	assert.Len(t, snap.Admins, 2)
	assert.Equal(t, []string{"main"}, s.Pools())
}

func TestStore_VersionConflict(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	err := s.Save(ctx, "main", insurance.Snapshot{Version: 2})
	require.ErrorIs(t, err, insurance.ErrVersionConflict)

	require.NoError(t, s.Save(ctx, "main", insurance.Snapshot{Version: 1}))
	err = s.Save(ctx, "main", insurance.Snapshot{Version: 1, Frozen: true})
	require.ErrorIs(t, err, insurance.ErrVersionConflict)

	snap, err := s.Load(ctx, "main")
	require.NoError(t, err)
	assert.False(t, snap.Frozen, "a rejected save leaves the stored snapshot alone")
}
