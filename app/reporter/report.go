package reporter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/mutualpool/pkg/db/clickhouse"
	"github.com/canopy-network/mutualpool/pkg/events"
	"github.com/canopy-network/mutualpool/pkg/pool/insurance"
	"github.com/canopy-network/mutualpool/pkg/pool/types"
)

// SnapshotLoader reads the last committed state of a pool.
type SnapshotLoader interface {
	Load(ctx context.Context, poolID string) (*insurance.Snapshot, error)
}

// HistoryReader answers aggregate questions about recorded pool events.
type HistoryReader interface {
	ContributionsSince(ctx context.Context, poolID string, since time.Time) (clickhouse.ContributionTotals, error)
	EventCountsSince(ctx context.Context, poolID string, since time.Time) (map[string]uint64, error)
}

// BalanceReader reads the escrow balance from the asset.
type BalanceReader interface {
	BalanceOf(ctx context.Context, owner types.Identity) (types.Amount, error)
}

// Report is a periodic overview of one pool.
type Report struct {
	PoolID        string                         `json:"poolId"`
	Version       uint64                         `json:"version"`
	Admins        int                            `json:"admins"`
	Members       int                            `json:"members"`
	MembersByRank map[string]int                 `json:"membersByRank"`
	Claims        int                            `json:"claims"`
	OpenClaims    int                            `json:"openClaims"`
	Frozen        bool                           `json:"frozen"`
	Escrow        types.Identity                 `json:"escrow"`
	EscrowBalance types.Amount                   `json:"escrowBalance"`
	Window        time.Duration                  `json:"window"`
	Contributions *clickhouse.ContributionTotals `json:"contributions,omitempty"`
	EventCounts   map[string]uint64              `json:"eventCounts,omitempty"`
	GeneratedAt   time.Time                      `json:"generatedAt"`
}

// Reporter builds reports from the persisted snapshot, the asset and, when configured, the event history.
type Reporter struct {
	PoolID    string
	Escrow    types.Identity
	Window    time.Duration
	State     SnapshotLoader
	Balances  BalanceReader
	History   HistoryReader
	Publisher events.Publisher
	Logger    *zap.Logger
}

// Build assembles a report. A pool that has never been saved reports zero counts.
// A failing balance or history read is logged and leaves its part of the report empty.
func (r *Reporter) Build(ctx context.Context) (Report, error) {
	now := time.Now().UTC()
	rep := Report{
		PoolID:        r.PoolID,
		MembersByRank: map[string]int{},
		Escrow:        r.Escrow,
		Window:        r.Window,
		GeneratedAt:   now,
	}

	snap, err := r.State.Load(ctx, r.PoolID)
	if err != nil {
		return rep, fmt.Errorf("load pool %s: %w", r.PoolID, err)
	}
	if snap != nil {
		rep.Version = snap.Version
		rep.Admins = len(snap.Admins)
		rep.Members = len(snap.Registry.Members)
		for _, m := range snap.Registry.Members {
			rep.MembersByRank[m.Rank.String()]++
		}
		rep.Claims = len(snap.Ledger.Events)
		rep.OpenClaims = snap.Ledger.OpenCount()
		rep.Frozen = snap.Frozen
	}

	if r.Balances != nil {
		balance, err := r.Balances.BalanceOf(ctx, r.Escrow)
		if err != nil {
			r.Logger.Warn("Failed to read escrow balance", zap.String("escrow", r.Escrow.String()), zap.Error(err))
		} else {
			rep.EscrowBalance = balance
		}
	}

	if r.History != nil {
		since := now.Add(-r.Window)
		totals, err := r.History.ContributionsSince(ctx, r.PoolID, since)
		if err != nil {
			r.Logger.Warn("Failed to read contribution totals", zap.Error(err))
		} else {
			rep.Contributions = &totals
		}
		counts, err := r.History.EventCountsSince(ctx, r.PoolID, since)
		if err != nil {
			r.Logger.Warn("Failed to read event counts", zap.Error(err))
		} else {
			rep.EventCounts = counts
		}
	}
	return rep, nil
}

// Run builds one report, logs it and publishes it as a pool.report event.
func (r *Reporter) Run(ctx context.Context) {
	start := time.Now()
	rep, err := r.Build(ctx)
	if err != nil {
		r.Logger.Error("Pool report failed", zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.String("poolId", rep.PoolID),
		zap.Uint64("version", rep.Version),
		zap.Int("members", rep.Members),
		zap.Int("claims", rep.Claims),
		zap.Int("openClaims", rep.OpenClaims),
		zap.Bool("frozen", rep.Frozen),
		zap.Uint64("escrowBalance", rep.EscrowBalance),
		zap.Duration("took", time.Since(start)),
	}
	if rep.Contributions != nil {
		fields = append(fields,
			zap.Uint64("contributions", rep.Contributions.Contributions),
			zap.Uint64("contributed", rep.Contributions.Amount),
			zap.Uint64("contributors", rep.Contributions.Contributors))
	}
	r.Logger.Info("Pool report", fields...)

	if r.Publisher != nil {
		r.Publisher.Publish(ctx, rep.Event())
	}
}

// Event converts the report into a pool.report event.
func (rep Report) Event() events.Event {
	data := map[string]any{
		"version":       rep.Version,
		"admins":        rep.Admins,
		"members":       rep.Members,
		"membersByRank": rep.MembersByRank,
		"claims":        rep.Claims,
		"openClaims":    rep.OpenClaims,
		"escrow":        rep.Escrow,
		"escrowBalance": rep.EscrowBalance,
		"window":        rep.Window.String(),
	}
	if rep.Contributions != nil {
		data["contributions"] = rep.Contributions
	}
	if rep.EventCounts != nil {
		data["eventCounts"] = rep.EventCounts
	}
	return events.Event{
		Type:      events.TypePoolReport,
		PoolID:    rep.PoolID,
		Frozen:    rep.Frozen,
		Amount:    rep.EscrowBalance,
		Timestamp: rep.GeneratedAt,
		Data:      data,
	}
}
