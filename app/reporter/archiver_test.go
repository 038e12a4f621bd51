package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/mutualpool/pkg/db/clickhouse"
	"github.com/canopy-network/mutualpool/pkg/events"
	"github.com/canopy-network/mutualpool/pkg/redis"
)

type fakeWriter struct {
	rows []clickhouse.EventRow
	err  error
}

func (f *fakeWriter) InsertEvents(_ context.Context, rows []clickhouse.EventRow) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, rows...)
	return nil
}

func streamEntry(t *testing.T, id string, ev events.Event) redis.Message {
	t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	return redis.Message{
		ID:     id,
		Stream: events.Stream(ev.PoolID),
		Values: map[string]interface{}{"event": ev.Type, "poolId": ev.PoolID, "data": string(payload)},
	}
}

func TestArchiver_Handle(t *testing.T) {
	w := &fakeWriter{}
	a := &Archiver{Writer: w, Logger: zaptest.NewLogger(t)}
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	msg := streamEntry(t, "1700000000000-0", events.Event{
		Type:      events.TypeClaimContribution,
		PoolID:    "main",
		Identity:  "alice",
		Rank:      1,
		ClaimID:   events.ClaimRef(3),
		Amount:    300,
		Frozen:    true,
		Timestamp: ts,
	})
	require.NoError(t, a.Handle(context.Background(), msg))

	require.Len(t, w.rows, 1)
	row := w.rows[0]
	assert.Equal(t, "1700000000000-0", row.EventID)
	assert.Equal(t, "main", row.PoolID)
	assert.Equal(t, events.TypeClaimContribution, row.Type)
	assert.Equal(t, "alice", row.Identity)
	assert.Equal(t, int64(3), row.ClaimID)
	assert.Equal(t, uint64(300), row.Amount)
	assert.Equal(t, uint8(1), row.Frozen)
	assert.True(t, ts.Equal(row.Timestamp))
}

func TestArchiver_SkipsMalformedEntries(t *testing.T) {
	w := &fakeWriter{}
	a := &Archiver{Writer: w, Logger: zaptest.NewLogger(t)}

	require.NoError(t, a.Handle(context.Background(), redis.Message{ID: "1-0", Values: map[string]interface{}{}}))
	require.NoError(t, a.Handle(context.Background(), redis.Message{ID: "2-0", Values: map[string]interface{}{"data": "{not json"}}))
	assert.Empty(t, w.rows)
}

func TestArchiver_WriteFailureLeavesEntryPending(t *testing.T) {
	w := &fakeWriter{err: errors.New("clickhouse down")}
	a := &Archiver{Writer: w, Logger: zaptest.NewLogger(t)}
	msg := streamEntry(t, "5-0", events.Event{Type: events.TypeClaimClosed, PoolID: "main"})
	assert.Error(t, a.Handle(context.Background(), msg))
}
