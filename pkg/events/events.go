// Package events carries pool state changes to the live feed and the history store.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/canopy-network/mutualpool/pkg/pool/types"
)

// Event types emitted after a pool operation commits.
const (
	TypeAdminAdded        = "admin.added"
	TypeAdminResigned     = "admin.resigned"
	TypeFreezeChanged     = "freeze.changed"
	TypeMemberSignedUp    = "member.signed_up"
	TypeMemberRankChanged = "member.rank_changed"
	TypeMemberResigned    = "member.resigned"
	TypeMinimumChanged    = "minimum.changed"
	TypeClaimTriggered    = "claim.triggered"
	TypeClaimContribution = "claim.contribution"
	TypeClaimClosed       = "claim.closed"
	TypePoolReport        = "pool.report"
)

// Event describes one committed change. Fields that do not apply to a type are zero.
type Event struct {
	Type      string         `json:"event"`
	PoolID    string         `json:"poolId"`
	Actor     types.Identity `json:"actor,omitempty"`
	Identity  types.Identity `json:"identity,omitempty"`
	Rank      types.Rank     `json:"rank,omitempty"`
	ClaimID   *uint64        `json:"claimId,omitempty"`
	Amount    types.Amount   `json:"amount,omitempty"`
	Frozen    bool           `json:"frozen"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// ClaimRef returns a pointer usable as Event.ClaimID.
func ClaimRef(id uint64) *uint64 { return &id }

// Channel returns the pub/sub channel for a pool and event type.
// Format: pool:{poolId}:{eventType}
func Channel(poolID, eventType string) string {
	return "pool:" + poolID + ":" + eventType
}

// ChannelPattern matches every event type of a pool.
func ChannelPattern(poolID string) string {
	return Channel(poolID, "*")
}

// Stream returns the stream key holding the pool's event log.
func Stream(poolID string) string {
	return "pool:" + poolID + ":events"
}

// Publisher receives committed events. Publishing is best effort and never fails the operation.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}
