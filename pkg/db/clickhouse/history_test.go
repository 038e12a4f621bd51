package clickhouse

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopy-network/mutualpool/pkg/events"
	"github.com/canopy-network/mutualpool/pkg/pool/types"
)

func TestNewEventRow(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := events.Event{
		Type:      events.TypeClaimContribution,
		PoolID:    "main",
		Actor:     "bob",
		Identity:  "bob",
		Rank:      types.RankFirstOfficer,
		ClaimID:   events.ClaimRef(4),
		Amount:    200,
		Frozen:    true,
		Timestamp: at,
	}

	row, err := NewEventRow("1700000000000-0", ev)
	require.NoError(t, err)
	assert.Equal(t, "1700000000000-0", row.EventID)
	assert.Equal(t, int64(4), row.ClaimID)
	assert.Equal(t, uint8(2), row.Rank)
	assert.Equal(t, uint8(1), row.Frozen)
	assert.Equal(t, at, row.Timestamp)

	var decoded events.Event
	require.NoError(t, json.Unmarshal([]byte(row.Payload), &decoded))
	assert.Equal(t, ev.Amount, decoded.Amount)
}

func TestNewEventRow_NonClaimEvent(t *testing.T) {
	row, err := NewEventRow("", events.Event{Type: events.TypeAdminAdded, PoolID: "main", Identity: "ops"})
	require.NoError(t, err)
	assert.NotEmpty(t, row.EventID, "a fresh id is generated")
	assert.Equal(t, int64(-1), row.ClaimID)
	assert.False(t, row.Timestamp.IsZero())
}
