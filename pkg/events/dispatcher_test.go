package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memorySink struct {
	name string
	err  error

	mu     sync.Mutex
	events []Event
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Write(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *memorySink) received() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestDispatcher_FansOutToEverySink(t *testing.T) {
	good := &memorySink{name: "good"}
	broken := &memorySink{name: "broken", err: errors.New("connection refused")}
	other := &memorySink{name: "other"}

	d := NewDispatcher(zaptest.NewLogger(t), 0, good, broken, other)

	ctx, cancel := context.WithCancel(context.Background())
	d.Publish(ctx, Event{Type: TypeClaimTriggered, PoolID: "p1", ClaimID: ClaimRef(0)})
	cancel()
	d.Publish(ctx, Event{Type: TypeClaimClosed, PoolID: "p1", ClaimID: ClaimRef(0)})
	d.Close()

	for _, sink := range []*memorySink{good, other} {
		got := sink.received()
		require.Len(t, got, 2, sink.name)
		assert.Equal(t, TypeClaimTriggered, got[0].Type)
		assert.Equal(t, TypeClaimClosed, got[1].Type)
		assert.False(t, got[0].Timestamp.IsZero(), "timestamp is filled in")
	}
	assert.Empty(t, broken.received())
}

func TestDispatcher_KeepsPublishOrderPerSink(t *testing.T) {
	sink := &memorySink{name: "stream"}
	d := NewDispatcher(zaptest.NewLogger(t), 0, sink)

	for i := uint64(0); i < 200; i++ {
		d.Publish(context.Background(), Event{Type: TypeClaimContribution, ClaimID: ClaimRef(i)})
	}
	d.Close()

	got := sink.received()
	require.Len(t, got, 200)
	for i, ev := range got {
		require.Equal(t, uint64(i), *ev.ClaimID)
	}
	assert.Zero(t, d.Dropped())
}

// stalledSink blocks every write until released, like a sink whose server has gone away.
type stalledSink struct {
	memorySink
	release chan struct{}
}

func (s *stalledSink) Write(ctx context.Context, ev Event) error {
	<-s.release
	return s.memorySink.Write(ctx, ev)
}

func TestDispatcher_DropsWhenSinkFallsBehind(t *testing.T) {
	stalled := &stalledSink{memorySink: memorySink{name: "redis"}, release: make(chan struct{})}
	d := NewDispatcher(zaptest.NewLogger(t), 2, stalled)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(0); i < 10; i++ {
			d.Publish(context.Background(), Event{Type: TypeClaimContribution, ClaimID: ClaimRef(i)})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stalled sink")
	}

	close(stalled.release)
	d.Close()

	// one write in flight plus a full queue, the rest dropped
	assert.Len(t, stalled.received(), 3)
	assert.Equal(t, uint64(7), d.Dropped())
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "pool:p1:claim.closed", Channel("p1", TypeClaimClosed))
	assert.Equal(t, "pool:p1:*", ChannelPattern("p1"))
	assert.Equal(t, "pool:p1:events", Stream("p1"))
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Publish(context.Background(), Event{Type: TypeAdminAdded})
	r.Publish(context.Background(), Event{Type: TypeFreezeChanged, Frozen: true})
	assert.Equal(t, []string{TypeAdminAdded, TypeFreezeChanged}, r.Types())
	assert.True(t, r.Events()[1].Frozen)
}
