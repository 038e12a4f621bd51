package membership

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/mutualpool/pkg/pool/types"
)

const owner types.Identity = "pool"

func newTestRegistry(t *testing.T) *Registry {
	return NewRegistry(owner, zaptest.NewLogger(t))
}

func TestRegistry_SignUp(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.SignUp(owner, "alice", types.RankCaptain))
	assert.True(t, r.IsMember("alice"))
	assert.Equal(t, types.RankCaptain, r.RankOf("alice"))
	assert.Equal(t, 1, r.Count())

	tests := []struct {
		name   string
		caller types.Identity
		id     types.Identity
		rank   types.Rank
		want   error
	}{
		{name: "non owner", caller: "mallory", id: "bob", rank: types.RankCaptain, want: types.ErrNotOwner},
		{name: "rank none", caller: owner, id: "bob", rank: types.RankNone, want: types.ErrSignupRankNone},
		{name: "unknown rank", caller: owner, id: "bob", rank: types.Rank(9), want: types.ErrInvalidRank},
		{name: "already member", caller: owner, id: "alice", rank: types.RankFirstOfficer, want: types.ErrAlreadyMember},
		{name: "empty identity", caller: owner, id: " ", rank: types.RankCaptain, want: types.ErrEmptyIdentity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.SignUp(tt.caller, tt.id, tt.rank)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, r.Count(), "roster size must not change")
		})
	}
	assert.Equal(t, types.RankCaptain, r.RankOf("alice"))
}

func TestRegistry_ChangeRank(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.SignUp(owner, "alice", types.RankCaptain))
	require.NoError(t, r.SignUp(owner, "bob", types.RankCaptain))

	require.NoError(t, r.ChangeRank(owner, "alice", types.RankFirstOfficer))
	assert.Equal(t, types.RankFirstOfficer, r.RankOf("alice"))

	at, err := r.MemberAt(0)
	require.NoError(t, err)
	assert.Equal(t, types.Identity("alice"), at, "position is unchanged")

	require.ErrorIs(t, r.ChangeRank("alice", "alice", types.RankSecondOfficer), types.ErrNotOwner)
	require.ErrorIs(t, r.ChangeRank("alice", "bob", types.RankSecondOfficer), types.ErrNotOwner)
	require.ErrorIs(t, r.ChangeRank(owner, "carol", types.RankCaptain), types.ErrNotMember)
	require.ErrorIs(t, r.ChangeRank(owner, "bob", types.RankNone), types.ErrChangeToRankNone)
	assert.Equal(t, 2, r.Count())
	assert.Equal(t, types.RankCaptain, r.RankOf("bob"))
}

func TestRegistry_Resign(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.SignUp(owner, "alice", types.RankCaptain))
	require.NoError(t, r.SignUp(owner, "bob", types.RankFirstOfficer))

	require.NoError(t, r.Resign(owner, "alice"))
	assert.Equal(t, 1, r.Count())
	assert.False(t, r.IsMember("alice"))
	assert.Equal(t, types.RankNone, r.RankOf("alice"))

	err := r.Resign(owner, "alice")
	require.ErrorIs(t, err, types.ErrResignNotMember)
	assert.Equal(t, "Member doesn't exist. Cannot resign as member.", err.Error())
	assert.Equal(t, 1, r.Count())

	require.ErrorIs(t, r.Resign("bob", "bob"), types.ErrNotOwner)
	assert.True(t, r.IsMember("bob"))
}

// Mirrors the churn sequence the roster layout has to survive.
func TestRegistry_ResignCompactsBySwappingLast(t *testing.T) {
	r := newTestRegistry(t)
	for _, id := range []types.Identity{"deployer", "admin", "wallet1", "wallet2"} {
		require.NoError(t, r.SignUp(owner, id, types.RankCaptain))
	}

	assertRoster := func(want ...types.Identity) {
		t.Helper()
		for i, id := range want {
			got, err := r.MemberAt(i)
			require.NoError(t, err)
			assert.Equal(t, id, got, "slot %d", i)
		}
		_, err := r.MemberAt(len(want))
		require.ErrorIs(t, err, types.ErrRosterIndex)
		assert.Equal(t, len(want), r.Count())
	}

	assertRoster("deployer", "admin", "wallet1", "wallet2")

	require.NoError(t, r.Resign(owner, "admin"))
	assertRoster("deployer", "wallet2", "wallet1")
	_, err := r.MemberAt(3)
	require.ErrorIs(t, err, types.ErrRosterIndex)

	require.NoError(t, r.Resign(owner, "deployer"))
	assertRoster("wallet1", "wallet2")

	// removing the tail does not move anything
	require.NoError(t, r.Resign(owner, "wallet2"))
	assertRoster("wallet1")

	require.NoError(t, r.Resign(owner, "wallet1"))
	assertRoster()
}

func TestRegistry_StateRestore(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.SignUp(owner, "a", types.RankCaptain))
	require.NoError(t, r.SignUp(owner, "b", types.RankFirstOfficer))
	require.NoError(t, r.SignUp(owner, "c", types.RankSecondOfficer))
	require.NoError(t, r.Resign(owner, "a"))

	saved := r.State()
	require.NoError(t, r.SignUp(owner, "d", types.RankCaptain))
	require.NoError(t, r.Resign(owner, "b"))

	r.Restore(saved)
	assert.Equal(t, []Member{
		{Identity: "c", Rank: types.RankSecondOfficer},
		{Identity: "b", Rank: types.RankFirstOfficer},
	}, r.Members())
	assert.False(t, r.IsMember("d"))

	// indexes are rebuilt, so removal still compacts correctly
	require.NoError(t, r.Resign(owner, "c"))
	at, err := r.MemberAt(0)
	require.NoError(t, err)
	assert.Equal(t, types.Identity("b"), at)
}

func TestState_Validate(t *testing.T) {
	require.NoError(t, State{Members: []Member{
		{Identity: "a", Rank: types.RankCaptain},
		{Identity: "b", Rank: types.RankSecondOfficer},
	}}.Validate())

	tests := []struct {
		name    string
		members []Member
	}{
		{"duplicate identity", []Member{{Identity: "a", Rank: types.RankCaptain}, {Identity: "a", Rank: types.RankFirstOfficer}}},
		{"rank none", []Member{{Identity: "a", Rank: types.RankNone}}},
		{"unknown rank", []Member{{Identity: "a", Rank: types.Rank(9)}}},
		{"blank identity", []Member{{Identity: " ", Rank: types.RankCaptain}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, State{Members: tt.members}.Validate())
		})
	}
}
