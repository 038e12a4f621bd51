package insurance_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/mutualpool/pkg/asset"
	"github.com/canopy-network/mutualpool/pkg/asset/assettest"
	"github.com/canopy-network/mutualpool/pkg/db/memory"
	"github.com/canopy-network/mutualpool/pkg/events"
	"github.com/canopy-network/mutualpool/pkg/pool/insurance"
	"github.com/canopy-network/mutualpool/pkg/pool/membership"
	"github.com/canopy-network/mutualpool/pkg/pool/types"
	"github.com/canopy-network/mutualpool/pkg/retry"
)

// remotePool runs a pool against a token service reached over HTTP, with a
// client that gives up after one attempt so a lost reply reaches the pool.
type remotePool struct {
	pool    *insurance.Orchestrator
	backing *asset.Memory
	service *assettest.Service
}

func newRemotePool(t *testing.T) *remotePool {
	t.Helper()
	backing := asset.NewMemory(map[types.Identity]types.Amount{
		"alice": 1000, "bob": 1000, "carol": 1000, "dave": 1000,
	})
	svc := assettest.NewService(backing)
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)

	client := asset.NewHTTPClient(asset.Opts{
		Endpoints:       []string{srv.URL},
		Retry:           &retry.Config{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		BreakerFailures: 100,
		Logger:          zaptest.NewLogger(t),
	})
	o, err := insurance.New(context.Background(), insurance.Config{
		PoolID:    "main",
		Address:   poolAddr,
		Deployer:  deployer,
		Token:     client,
		Store:     memory.NewStore(),
		Publisher: &events.Recorder{},
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	ctx := context.Background()
	for id, rank := range map[types.Identity]types.Rank{
		"alice": types.RankCaptain, "bob": types.RankCaptain, "carol": types.RankCaptain, "dave": types.RankCaptain,
	} {
		require.NoError(t, o.SignupMember(ctx, deployer, id, rank))
		require.NoError(t, backing.Approve(ctx, id, o.Escrow(), 1000))
	}
	return &remotePool{pool: o, backing: backing, service: svc}
}

func (p *remotePool) balance(t *testing.T, id types.Identity) types.Amount {
	t.Helper()
	b, err := p.backing.BalanceOf(context.Background(), id)
	require.NoError(t, err)
	return b
}

// loseFirst drops the reply to the first successful request on path.
func loseFirst(path string) func(*http.Request) bool {
	var lost atomic.Bool
	return func(r *http.Request) bool {
		return r.URL.Path == path && lost.CompareAndSwap(false, true)
	}
}

func TestOrchestrator_CloseRepeatedAfterLostReplyPaysOnce(t *testing.T) {
	ctx := context.Background()
	p := newRemotePool(t)

	claimA, err := p.pool.TriggerClaimEvent(ctx, deployer, "alice")
	require.NoError(t, err)
	claimB, err := p.pool.TriggerClaimEvent(ctx, deployer, "dave")
	require.NoError(t, err)
	_, err = p.pool.ContributeToClaim(ctx, "bob", claimA)
	require.NoError(t, err)
	_, err = p.pool.ContributeToClaim(ctx, "carol", claimB)
	require.NoError(t, err)
	require.Equal(t, types.Amount(600), p.balance(t, p.pool.Escrow()))

	// the payout is applied but the answer is lost
	p.service.LoseReply = loseFirst(asset.TransferPath)
	require.Error(t, p.pool.CloseClaimEvent(ctx, deployer, claimA))
	ev, err := p.pool.Claim(claimA)
	require.NoError(t, err)
	assert.True(t, ev.Open, "the failed close is rolled back")

	require.NoError(t, p.pool.CloseClaimEvent(ctx, deployer, claimA))
	assert.Equal(t, types.Amount(1300), p.balance(t, "alice"), "paid once")
	assert.Equal(t, types.Amount(300), p.balance(t, p.pool.Escrow()), "claim B keeps its escrow")

	require.NoError(t, p.pool.CloseClaimEvent(ctx, deployer, claimB))
	assert.Equal(t, types.Amount(1300), p.balance(t, "dave"))
	assert.Equal(t, types.Amount(0), p.balance(t, p.pool.Escrow()))
	assert.False(t, p.pool.Frozen())
}

func TestOrchestrator_ContributionRepeatedAfterLostReplyChargesOnce(t *testing.T) {
	ctx := context.Background()
	p := newRemotePool(t)
	claim, err := p.pool.TriggerClaimEvent(ctx, deployer, "alice")
	require.NoError(t, err)

	p.service.LoseReply = loseFirst(asset.TransferFromPath)
	_, err = p.pool.ContributeToClaim(ctx, "bob", claim)
	require.Error(t, err)
	assert.Equal(t, types.Amount(0), p.pool.ContributionOf(claim, "bob"))
	assert.Equal(t, types.Amount(700), p.balance(t, "bob"), "the token service applied it")

	// the repeat records the contribution without charging again
	_, err = p.pool.ContributeToClaim(ctx, "bob", claim)
	require.NoError(t, err)
	assert.Equal(t, types.Amount(300), p.pool.ContributionOf(claim, "bob"))
	assert.Equal(t, types.Amount(700), p.balance(t, "bob"))

	// a later contribution is a new one
	_, err = p.pool.ContributeToClaim(ctx, "bob", claim)
	require.NoError(t, err)
	assert.Equal(t, types.Amount(600), p.pool.ContributionOf(claim, "bob"))
	assert.Equal(t, types.Amount(400), p.balance(t, "bob"))
	assert.Equal(t, types.Amount(600), p.balance(t, p.pool.Escrow()))
}

func TestOrchestrator_TransfersOutliveCallerCancellation(t *testing.T) {
	p := newRemotePool(t)
	claim, err := p.pool.TriggerClaimEvent(context.Background(), deployer, "alice")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.pool.ContributeToClaim(ctx, "bob", claim)
	require.NoError(t, err)
	assert.Equal(t, types.Amount(300), p.pool.ContributionOf(claim, "bob"))
}

func TestNew_RejectsCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Save(ctx, "main", insurance.Snapshot{
		Version: 1,
		Admins:  []types.Identity{deployer},
		Registry: membership.State{Members: []membership.Member{
			{Identity: "alice", Rank: types.RankCaptain},
			{Identity: "alice", Rank: types.RankFirstOfficer},
		}},
	}))

	_, err := insurance.New(ctx, insurance.Config{
		PoolID:   "main",
		Address:  poolAddr,
		Deployer: deployer,
		Token:    asset.NewMemory(nil),
		Store:    store,
	})
	require.ErrorContains(t, err, "appears twice")
}
