package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/canopy-network/mutualpool/pkg/events"
	"github.com/canopy-network/mutualpool/pkg/pool/types"
	"github.com/canopy-network/mutualpool/pkg/utils"
)

// EventsTable holds one row per committed pool event.
const EventsTable = "pool_events"

// History stores pool events and answers the reporter's aggregate queries.
type History struct {
	Client
}

// EventRow is the stored form of events.Event.
type EventRow struct {
	EventID   string    `ch:"event_id"`
	PoolID    string    `ch:"pool_id"`
	Type      string    `ch:"event_type"`
	Actor     string    `ch:"actor"`
	Identity  string    `ch:"identity"`
	Rank      uint8     `ch:"rank"`
	ClaimID   int64     `ch:"claim_id"` // -1 when the event is not about a claim
	Amount    uint64    `ch:"amount"`
	Frozen    uint8     `ch:"frozen"`
	Payload   string    `ch:"payload"`
	Timestamp time.Time `ch:"ts"`
}

// NewHistory connects to database dbName and creates the events table.
func NewHistory(ctx context.Context, logger *zap.Logger, dbName, component string) (*History, error) {
	client, err := New(ctx, logger.With(zap.String("component", component)), SanitizeName(dbName), GetPoolConfigForComponent(component))
	if err != nil {
		return nil, err
	}
	h := &History{Client: client}
	if err := h.InitializeTables(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return h, nil
}

// InitializeTables creates the events table. Rows are deduplicated by event_id,
// so a stream entry archived twice is counted once after merges.
func (h *History) InitializeTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			event_id   String,
			pool_id    LowCardinality(String),
			event_type LowCardinality(String),
			actor      String,
			identity   String,
			rank       UInt8,
			claim_id   Int64,
			amount     UInt64,
			frozen     UInt8,
			payload    String,
			ts         DateTime64(3, 'UTC')
		) ENGINE = %s
		PARTITION BY toYYYYMM(ts)
		ORDER BY (pool_id, event_type, ts, event_id)
	`, EventsTable, ReplacingMergeTree)
	if err := h.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", EventsTable, err)
	}
	return nil
}

// NewEventRow converts an event; id is the stream entry id when archiving, empty for a fresh id.
func NewEventRow(id string, ev events.Event) (EventRow, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return EventRow{}, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	claimID := int64(-1)
	if ev.ClaimID != nil {
		claimID = int64(*ev.ClaimID)
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return EventRow{
		EventID:   id,
		PoolID:    ev.PoolID,
		Type:      ev.Type,
		Actor:     ev.Actor.String(),
		Identity:  ev.Identity.String(),
		Rank:      uint8(ev.Rank),
		ClaimID:   claimID,
		Amount:    ev.Amount,
		Frozen:    utils.BoolToUInt8(ev.Frozen),
		Payload:   string(payload),
		Timestamp: ts,
	}, nil
}

// InsertEvents writes rows in one batch.
func (h *History) InsertEvents(ctx context.Context, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := h.PrepareBatch(ctx, "INSERT INTO "+EventsTable)
	if err != nil {
		return fmt.Errorf("prepare %s batch: %w", EventsTable, err)
	}
	for i := range rows {
		if err := batch.AppendStruct(&rows[i]); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append %s row: %w", EventsTable, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send %s batch: %w", EventsTable, err)
	}
	return nil
}

// Name implements events.Sink.
func (h *History) Name() string { return "clickhouse" }

// Write implements events.Sink with a single-row insert.
func (h *History) Write(ctx context.Context, ev events.Event) error {
	row, err := NewEventRow("", ev)
	if err != nil {
		return err
	}
	return h.InsertEvents(ctx, []EventRow{row})
}

// ContributionTotals aggregates contributions of a pool since a point in time.
type ContributionTotals struct {
	Contributions uint64            `json:"contributions"`
	Amount        uint64            `json:"amount"`
	Contributors  uint64            `json:"contributors"`
	ByRank        map[string]uint64 `json:"byRank"`
}

type rankTotal struct {
	Rank   uint8  `ch:"rank"`
	Count  uint64 `ch:"cnt"`
	Amount uint64 `ch:"total"`
}

// ContributionsSince sums contribution events of poolID recorded at or after since.
func (h *History) ContributionsSince(ctx context.Context, poolID string, since time.Time) (ContributionTotals, error) {
	query := fmt.Sprintf(`
		SELECT rank, count() AS cnt, sum(amount) AS total
		FROM %s FINAL
		WHERE pool_id = ? AND event_type = ? AND ts >= ?
		GROUP BY rank
		ORDER BY rank
	`, EventsTable)

	var rows []rankTotal
	if err := h.Select(ctx, &rows, query, poolID, events.TypeClaimContribution, since); err != nil {
		return ContributionTotals{}, fmt.Errorf("contribution totals for %s: %w", poolID, err)
	}

	totals := ContributionTotals{ByRank: map[string]uint64{}}
	for _, r := range rows {
		totals.Contributions += r.Count
		totals.Amount += r.Amount
		totals.ByRank[types.Rank(r.Rank).String()] = r.Amount
	}

	distinct := fmt.Sprintf(`
		SELECT uniqExact(identity)
		FROM %s FINAL
		WHERE pool_id = ? AND event_type = ? AND ts >= ?
	`, EventsTable)
	if err := h.QueryRow(ctx, distinct, poolID, events.TypeClaimContribution, since).Scan(&totals.Contributors); err != nil && !IsNoRows(err) {
		return ContributionTotals{}, fmt.Errorf("distinct contributors for %s: %w", poolID, err)
	}
	return totals, nil
}

type typeCount struct {
	Type  string `ch:"event_type"`
	Count uint64 `ch:"cnt"`
}

// EventCountsSince counts events of poolID by type.
func (h *History) EventCountsSince(ctx context.Context, poolID string, since time.Time) (map[string]uint64, error) {
	query := fmt.Sprintf(`
		SELECT event_type, count() AS cnt
		FROM %s FINAL
		WHERE pool_id = ? AND ts >= ?
		GROUP BY event_type
	`, EventsTable)

	var rows []typeCount
	if err := h.Select(ctx, &rows, query, poolID, since); err != nil {
		return nil, fmt.Errorf("event counts for %s: %w", poolID, err)
	}
	out := make(map[string]uint64, len(rows))
	for _, r := range rows {
		out[r.Type] = r.Count
	}
	return out, nil
}
