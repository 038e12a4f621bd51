package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	published map[string][]byte
	streams   map[string][]map[string]interface{}
	pubErr    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		published: map[string][]byte{},
		streams:   map[string][]map[string]interface{}{},
	}
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) error {
	if f.pubErr != nil {
		return f.pubErr
	}
	f.published[channel] = message.([]byte)
	return nil
}

func (f *fakeRedis) XAdd(_ context.Context, stream string, values map[string]interface{}) (string, error) {
	f.streams[stream] = append(f.streams[stream], values)
	return "1-0", nil
}

func TestRedisSink_Write(t *testing.T) {
	rdb := newFakeRedis()
	sink := NewRedisSink(rdb)

	ev := Event{Type: TypeClaimContribution, PoolID: "main", Identity: "bob", ClaimID: ClaimRef(3), Amount: 300}
	require.NoError(t, sink.Write(context.Background(), ev))

	payload, ok := rdb.published["pool:main:claim.contribution"]
	require.True(t, ok)
	var got Event
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, uint64(3), *got.ClaimID)
	assert.Equal(t, uint64(300), got.Amount)

	entries := rdb.streams["pool:main:events"]
	require.Len(t, entries, 1)
	assert.Equal(t, TypeClaimContribution, entries[0]["event"])
	assert.Equal(t, string(payload), entries[0]["data"])
}

func TestRedisSink_PublishFailureSkipsStream(t *testing.T) {
	rdb := newFakeRedis()
	rdb.pubErr = errors.New("redis down")
	sink := NewRedisSink(rdb)

	err := sink.Write(context.Background(), Event{Type: TypeClaimClosed, PoolID: "main"})
	require.ErrorIs(t, err, rdb.pubErr)
	assert.Empty(t, rdb.streams)
}
