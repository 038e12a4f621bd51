package asset_test

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
	"github.com/canopy-network/mutualpool/pkg/pool/types"
	"github.com/canopy-network/mutualpool/pkg/retry"
)

func fastRetry() *retry.Config {
	return &retry.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestHTTPClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	backing := asset.NewMemory(map[types.Identity]types.Amount{"bob": 1000})
	require.NoError(t, backing.Approve(ctx, "bob", "escrow", 400))
	srv := httptest.NewServer(assettest.NewService(backing))
	defer srv.Close()

	c := asset.NewHTTPClient(asset.Opts{Endpoints: []string{srv.URL + "/"}, Retry: fastRetry(), Logger: zaptest.NewLogger(t)})

	require.NoError(t, c.TransferFrom(ctx, "escrow", "bob", "escrow", 300))
	require.NoError(t, c.Transfer(ctx, "escrow", "alice", 300))

	b, err := c.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.Amount(300), b)
	a, err := c.Allowance(ctx, "bob", "escrow")
	require.NoError(t, err)
	assert.Equal(t, types.Amount(100), a)
}

func TestHTTPClient_PassesAssetErrorsThrough(t *testing.T) {
	ctx := context.Background()
	backing := asset.NewMemory(map[types.Identity]types.Amount{"bob": 100})
	svc := assettest.NewService(backing)
	srv := httptest.NewServer(svc)
	defer srv.Close()

	c := asset.NewHTTPClient(asset.Opts{Endpoints: []string{srv.URL}, Retry: fastRetry()})

	err := c.TransferFrom(ctx, "escrow", "bob", "escrow", 50)
	require.ErrorIs(t, err, types.ErrInsufficientAllowance)
	assert.Equal(t, types.KindInsufficientFunds, types.KindOf(err))

	err = c.Transfer(ctx, "bob", "alice", 500)
	require.ErrorIs(t, err, types.ErrInsufficientBalance)
	assert.Len(t, svc.Keys(), 2, "rejections are not retried")
}

func TestHTTPClient_UnknownRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"account locked"}`))
	}))
	defer srv.Close()

	c := asset.NewHTTPClient(asset.Opts{Endpoints: []string{srv.URL}, Retry: fastRetry()})
	err := c.Transfer(context.Background(), "a", "b", 1)
	var re *asset.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusForbidden, re.Status)
	assert.Equal(t, "account locked", err.Error())
}

func TestHTTPClient_FailsOverAndReusesIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	var downHits atomic.Int32
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	backing := asset.NewMemory(map[types.Identity]types.Amount{"escrow": 500})
	svc := assettest.NewService(backing)
	up := httptest.NewServer(svc)
	defer up.Close()

	c := asset.NewHTTPClient(asset.Opts{Endpoints: []string{down.URL, up.URL}, Retry: fastRetry(), BreakerFailures: 1, BreakerCooldown: time.Minute})

	require.NoError(t, c.Transfer(ctx, "escrow", "alice", 200))
	require.NoError(t, c.Transfer(ctx, "escrow", "alice", 200))

	b, _ := backing.BalanceOf(ctx, "alice")
	assert.Equal(t, types.Amount(400), b)
	assert.Equal(t, int32(1), downHits.Load(), "breaker keeps the failed endpoint out")
	keys := svc.Keys()
	require.Len(t, keys, 2)
	assert.NotEqual(t, keys[0], keys[1], "each transfer has its own key")
}

func TestHTTPClient_RetriesSameKeyAfterOutage(t *testing.T) {
	ctx := context.Background()
	backing := asset.NewMemory(map[types.Identity]types.Amount{"escrow": 500})
	svc := assettest.NewService(backing)
	var calls atomic.Int32
	// the first attempt is applied but its answer is lost
	svc.LoseReply = func(*http.Request) bool { return calls.Add(1) == 1 }
	srv := httptest.NewServer(svc)
	defer srv.Close()

	c := asset.NewHTTPClient(asset.Opts{Endpoints: []string{srv.URL}, Retry: fastRetry(), BreakerFailures: 10})
	require.NoError(t, c.Transfer(ctx, "escrow", "alice", 200))

	b, _ := backing.BalanceOf(ctx, "alice")
	assert.Equal(t, types.Amount(200), b, "applied once")
	keys := svc.Keys()
	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1])
}

func TestHTTPClient_KeyFromContext(t *testing.T) {
	backing := asset.NewMemory(map[types.Identity]types.Amount{"escrow": 500})
	svc := assettest.NewService(backing)
	srv := httptest.NewServer(svc)
	defer srv.Close()

	c := asset.NewHTTPClient(asset.Opts{Endpoints: []string{srv.URL}, Retry: fastRetry()})
	ctx := asset.WithIdempotencyKey(context.Background(), "payout-7")

	// two separate calls with one key: the second is answered from the first
	require.NoError(t, c.Transfer(ctx, "escrow", "alice", 200))
	require.NoError(t, c.Transfer(ctx, "escrow", "alice", 200))

	b, _ := backing.BalanceOf(context.Background(), "alice")
	assert.Equal(t, types.Amount(200), b)
	assert.Equal(t, []string{"payout-7", "payout-7"}, svc.Keys())

	_, ok := asset.IdempotencyKeyFrom(context.Background())
	assert.False(t, ok)
}

func TestHTTPClient_NoEndpoints(t *testing.T) {
	c := asset.NewHTTPClient(asset.Opts{Retry: fastRetry()})
	_, err := c.BalanceOf(context.Background(), "a")
	require.Error(t, err)
}
