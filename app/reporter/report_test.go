package reporter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/mutualpool/pkg/asset"
	"github.com/canopy-network/mutualpool/pkg/db/clickhouse"
	"github.com/canopy-network/mutualpool/pkg/db/memory"
	"github.com/canopy-network/mutualpool/pkg/events"
	"github.com/canopy-network/mutualpool/pkg/pool/claims"
	"github.com/canopy-network/mutualpool/pkg/pool/insurance"
	"github.com/canopy-network/mutualpool/pkg/pool/membership"
	"github.com/canopy-network/mutualpool/pkg/pool/types"
)

type fakeHistory struct {
	since  time.Time
	totals clickhouse.ContributionTotals
	counts map[string]uint64
	err    error
}

func (f *fakeHistory) ContributionsSince(_ context.Context, _ string, since time.Time) (clickhouse.ContributionTotals, error) {
	f.since = since
	return f.totals, f.err
}

func (f *fakeHistory) EventCountsSince(_ context.Context, _ string, _ time.Time) (map[string]uint64, error) {
	return f.counts, f.err
}

func savedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.Save(context.Background(), "main", insurance.Snapshot{
		Version: 1,
		Admins:  []types.Identity{"admin", "ops"},
		Frozen:  true,
		Registry: membership.State{Members: []membership.Member{
			{Identity: "alice", Rank: types.RankCaptain},
			{Identity: "bob", Rank: types.RankFirstOfficer},
			{Identity: "carol", Rank: types.RankCaptain},
		}},
		Ledger: claims.State{
			Events: []claims.Event{
				{ID: 0, Claimant: "alice", Open: false},
				{ID: 1, Claimant: "bob", Open: true},
			},
			Open:     1,
			Minimums: types.DefaultMinimums(),
		},
	}))
	return store
}

func TestReporter_Build(t *testing.T) {
	history := &fakeHistory{
		totals: clickhouse.ContributionTotals{Contributions: 2, Amount: 500, Contributors: 2, ByRank: map[string]uint64{"captain": 300}},
		counts: map[string]uint64{events.TypeClaimContribution: 2},
	}
	r := &Reporter{
		PoolID:   "main",
		Escrow:   "pool/claims",
		Window:   24 * time.Hour,
		State:    savedStore(t),
		Balances: asset.NewMemory(map[types.Identity]types.Amount{"pool/claims": 500}),
		History:  history,
		Logger:   zaptest.NewLogger(t),
	}

	rep, err := r.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rep.Version)
	assert.Equal(t, 2, rep.Admins)
	assert.Equal(t, 3, rep.Members)
	assert.Equal(t, map[string]int{"captain": 2, "first_officer": 1}, rep.MembersByRank)
	assert.Equal(t, 2, rep.Claims)
	assert.Equal(t, 1, rep.OpenClaims)
	assert.True(t, rep.Frozen)
	assert.Equal(t, types.Amount(500), rep.EscrowBalance)
	require.NotNil(t, rep.Contributions)
	assert.Equal(t, uint64(500), rep.Contributions.Amount)
	assert.Equal(t, uint64(2), rep.EventCounts[events.TypeClaimContribution])
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), history.since, time.Minute)
}

func TestReporter_UnsavedPool(t *testing.T) {
	r := &Reporter{PoolID: "fresh", State: memory.NewStore(), Logger: zaptest.NewLogger(t)}
	rep, err := r.Build(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Members)
	assert.Zero(t, rep.Version)
	assert.Nil(t, rep.Contributions)
}

func TestReporter_HistoryFailureKeepsReport(t *testing.T) {
	r := &Reporter{
		PoolID:  "main",
		State:   savedStore(t),
		History: &fakeHistory{err: errors.New("clickhouse down")},
		Logger:  zaptest.NewLogger(t),
	}
	rep, err := r.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Members)
	assert.Nil(t, rep.Contributions)
	assert.Nil(t, rep.EventCounts)
}

func TestReporter_RunPublishes(t *testing.T) {
	rec := &events.Recorder{}
	r := &Reporter{
		PoolID:    "main",
		Escrow:    "pool/claims",
		Window:    time.Hour,
		State:     savedStore(t),
		Balances:  asset.NewMemory(map[types.Identity]types.Amount{"pool/claims": 42}),
		Publisher: rec,
		Logger:    zaptest.NewLogger(t),
	}
	r.Run(context.Background())

	got := rec.Events()
	require.Len(t, got, 1)
	ev := got[0]
	assert.Equal(t, events.TypePoolReport, ev.Type)
	assert.Equal(t, "main", ev.PoolID)
	assert.True(t, ev.Frozen)
	assert.Equal(t, types.Amount(42), ev.Amount)
	assert.Equal(t, 3, ev.Data["members"])
	assert.Equal(t, "1h0m0s", ev.Data["window"])
}
