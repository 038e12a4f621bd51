package claims

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/canopy-network/mutualpool/pkg/asset"
	"github.com/canopy-network/mutualpool/pkg/pool/types"
)

// MembershipReader is the read-only view of the roster the ledger validates against.
type MembershipReader interface {
	IsMember(id types.Identity) bool
	RankOf(id types.Identity) types.Rank
}

// FreezeReader reports whether roster and schedule changes are currently blocked.
type FreezeReader interface {
	Frozen() bool
}

// Event is a claim raised on behalf of one member.
type Event struct {
	ID                 uint64                          `json:"id"`
	Claimant           types.Identity                  `json:"claimant"`
	ContributionsSoFar types.Amount                    `json:"contributionsSoFar"`
	Open               bool                            `json:"open"`
	Contributions      map[types.Identity]types.Amount `json:"contributions"`
	OpenedAt           time.Time                       `json:"openedAt"`
}

func (e Event) clone() Event {
	c := e
	c.Contributions = make(map[types.Identity]types.Amount, len(e.Contributions))
	for k, v := range e.Contributions {
		c.Contributions[k] = v
	}
	return c
}

// Ledger owns claim events, the contribution schedule and the escrow account.
// TriggerClaim, CloseClaim and SetRankMinimum are reserved to the owner;
// ContributeToClaim is open to any member.
type Ledger struct {
	owner    types.Identity
	escrow   types.Identity
	members  MembershipReader
	token    asset.Token
	freeze   FreezeReader
	events   []Event
	open     int
	minimums map[types.Rank]types.Amount
	logger   *zap.Logger
}

// NewLedger wires a ledger. escrow is the token account contributions are held in.
func NewLedger(owner, escrow types.Identity, members MembershipReader, token asset.Token, freeze FreezeReader, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		owner:    owner,
		escrow:   escrow,
		members:  members,
		token:    token,
		freeze:   freeze,
		minimums: types.DefaultMinimums(),
		logger:   logger.Named("claims"),
	}
}

// Escrow returns the token account holding contributions until a claim closes.
func (l *Ledger) Escrow() types.Identity { return l.escrow }

func (l *Ledger) checkOwner(caller types.Identity) error {
	if caller != l.owner {
		return types.ErrNotOwner
	}
	return nil
}

// RankMinimum returns the contribution required from a member of the given rank.
func (l *Ledger) RankMinimum(rank types.Rank) types.Amount {
	if rank == types.RankNone {
		return 0
	}
	return l.minimums[rank]
}

// Minimums returns a copy of the schedule.
func (l *Ledger) Minimums() map[types.Rank]types.Amount {
	out := make(map[types.Rank]types.Amount, len(l.minimums))
	for k, v := range l.minimums {
		out[k] = v
	}
	return out
}

// SetRankMinimum overwrites the schedule entry for rank.
func (l *Ledger) SetRankMinimum(caller types.Identity, rank types.Rank, amount types.Amount) error {
	if err := l.checkOwner(caller); err != nil {
		return err
	}
	if !rank.Valid() {
		return types.ErrInvalidRank
	}
	if rank == types.RankNone {
		return types.ErrMinimumNone
	}
	if l.freeze.Frozen() {
		return types.ErrMembershipFrozen
	}

	prev := l.minimums[rank]
	l.minimums[rank] = amount
	l.logger.Info("rank minimum updated",
		zap.Stringer("rank", rank),
		zap.Uint64("from", prev),
		zap.Uint64("to", amount))
	return nil
}

// TriggerClaim opens a new claim event for claimant and returns its id.
func (l *Ledger) TriggerClaim(caller, claimant types.Identity) (uint64, error) {
	if err := l.checkOwner(caller); err != nil {
		return 0, err
	}
	if !l.members.IsMember(claimant) {
		return 0, types.ErrNotMember
	}

	id := uint64(len(l.events))
	l.events = append(l.events, Event{
		ID:            id,
		Claimant:      claimant,
		Open:          true,
		Contributions: make(map[types.Identity]types.Amount),
		OpenedAt:      time.Now().UTC(),
	})
	l.open++

	l.logger.Info("claim triggered",
		zap.Uint64("claim_id", id),
		zap.String("claimant", claimant.String()),
		zap.Int("open_claims", l.open))
	return id, nil
}

// ContributeToClaim pulls the rank minimum of contributor into escrow and credits it to the claim.
//
// Membership is checked before the claim id, so a non-member always gets
// ErrNotMember. Every call pays again: repeated contributions accumulate.
func (l *Ledger) ContributeToClaim(ctx context.Context, claimID uint64, contributor types.Identity) (types.Amount, error) {
	if !l.members.IsMember(contributor) {
		return 0, types.ErrNotMember
	}
	ev, err := l.openEvent(claimID)
	if err != nil {
		return 0, err
	}

	amount := l.RankMinimum(l.members.RankOf(contributor))
	if ev.ContributionsSoFar > math.MaxUint64-amount || ev.Contributions[contributor] > math.MaxUint64-amount {
		return 0, types.ErrAmountOverflow
	}

	key := l.transferKey(ev, "contribute", contributor.String(), strconv.FormatUint(ev.Contributions[contributor], 10))
	if err := l.token.TransferFrom(fundsContext(ctx, key), l.escrow, contributor, l.escrow, amount); err != nil {
		l.logger.Debug("contribution transfer failed",
			zap.Uint64("claim_id", claimID),
			zap.String("contributor", contributor.String()),
			zap.Uint64("amount", amount),
			zap.Error(err))
		return 0, err
	}

	ev.ContributionsSoFar += amount
	ev.Contributions[contributor] += amount

	l.logger.Info("contribution received",
		zap.Uint64("claim_id", claimID),
		zap.String("contributor", contributor.String()),
		zap.Uint64("amount", amount),
		zap.Uint64("contributions_so_far", ev.ContributionsSoFar))
	return amount, nil
}

// CloseClaim pays the escrowed contributions to the claimant and closes the event.
// It returns the number of claims still open.
func (l *Ledger) CloseClaim(ctx context.Context, caller types.Identity, claimID uint64) (int, error) {
	if err := l.checkOwner(caller); err != nil {
		return l.open, err
	}
	ev, err := l.openEvent(claimID)
	if err != nil {
		return l.open, err
	}

	key := l.transferKey(ev, "close")
	if err := l.token.Transfer(fundsContext(ctx, key), l.escrow, ev.Claimant, ev.ContributionsSoFar); err != nil {
		l.logger.Warn("claim payout failed",
			zap.Uint64("claim_id", claimID),
			zap.String("claimant", ev.Claimant.String()),
			zap.Uint64("amount", ev.ContributionsSoFar),
			zap.Error(err))
		return l.open, err
	}

	ev.Open = false
	l.open--

	l.logger.Info("claim closed",
		zap.Uint64("claim_id", claimID),
		zap.String("claimant", ev.Claimant.String()),
		zap.Uint64("paid", ev.ContributionsSoFar),
		zap.Int("open_claims", l.open))
	return l.open, nil
}

// transferNamespace scopes the idempotency keys of pool transfers.
var transferNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("mutualpool/transfers"))

// transferKey names one transfer of a claim. A call that failed and is made
// again with the ledger unchanged yields the same key, so a token service that
// applied the first attempt does not apply the second. The contribution key
// includes what the contributor has paid so far, so a new contribution after a
// recorded one gets a fresh key.
func (l *Ledger) transferKey(ev *Event, op string, parts ...string) string {
	name := l.escrow.String() + "|" + strconv.FormatUint(ev.ID, 10) + "|" +
		strconv.FormatInt(ev.OpenedAt.UnixNano(), 10) + "|" + op
	for _, p := range parts {
		name += "|" + p
	}
	return uuid.NewSHA1(transferNamespace, []byte(name)).String()
}

// fundsContext keeps a transfer running when the caller goes away, since the
// token service may already have applied it.
func fundsContext(ctx context.Context, key string) context.Context {
	return asset.WithIdempotencyKey(context.WithoutCancel(ctx), key)
}

func (l *Ledger) openEvent(claimID uint64) (*Event, error) {
	if claimID >= uint64(len(l.events)) {
		return nil, types.ErrClaimNotFound
	}
	ev := &l.events[claimID]
	if !ev.Open {
		return nil, types.ErrClaimClosed
	}
	return ev, nil
}

// Claim returns a copy of the event with the given id.
func (l *Ledger) Claim(claimID uint64) (Event, error) {
	if claimID >= uint64(len(l.events)) {
		return Event{}, types.ErrClaimNotFound
	}
	return l.events[claimID].clone(), nil
}

// Count returns the number of claim events ever created.
func (l *Ledger) Count() uint64 { return uint64(len(l.events)) }

// OpenCount returns the number of claim events still open.
func (l *Ledger) OpenCount() int { return l.open }

// ContributionOf returns what contributor has paid into a claim so far. Unknown claims read as zero.
func (l *Ledger) ContributionOf(claimID uint64, contributor types.Identity) types.Amount {
	if claimID >= uint64(len(l.events)) {
		return 0
	}
	return l.events[claimID].Contributions[contributor]
}

// State is the persisted form of the ledger.
type State struct {
	Events   []Event                     `json:"events"`
	Open     int                         `json:"open"`
	Minimums map[types.Rank]types.Amount `json:"minimums"`
}

// OpenCount counts the open events. The stored Open field is informational;
// the events are authoritative.
func (s State) OpenCount() int {
	n := 0
	for _, ev := range s.Events {
		if ev.Open {
			n++
		}
	}
	return n
}

// Validate checks that events are numbered by position and that each claim
// total equals the sum of its contributions.
func (s State) Validate() error {
	for i, ev := range s.Events {
		if ev.ID != uint64(i) {
			return fmt.Errorf("claim at position %d has id %d", i, ev.ID)
		}
		var sum types.Amount
		for _, a := range ev.Contributions {
			if sum > math.MaxUint64-a {
				return fmt.Errorf("claim %d: contributions overflow", ev.ID)
			}
			sum += a
		}
		if sum != ev.ContributionsSoFar {
			return fmt.Errorf("claim %d: contributions sum to %d, total is %d", ev.ID, sum, ev.ContributionsSoFar)
		}
	}
	for rank := range s.Minimums {
		if !rank.Valid() {
			return fmt.Errorf("minimum for unknown rank %d", rank)
		}
	}
	return nil
}

// State captures a deep copy of the ledger contents.
func (l *Ledger) State() State {
	s := State{
		Events:   make([]Event, 0, len(l.events)),
		Open:     l.open,
		Minimums: l.Minimums(),
	}
	for _, ev := range l.events {
		s.Events = append(s.Events, ev.clone())
	}
	return s
}

// Restore replaces the ledger contents with a deep copy of s.
func (l *Ledger) Restore(s State) {
	l.events = make([]Event, 0, len(s.Events))
	for _, ev := range s.Events {
		l.events = append(l.events, ev.clone())
	}
	l.open = s.OpenCount()
	l.minimums = types.DefaultMinimums()
	for k, v := range s.Minimums {
		l.minimums[k] = v
	}
	l.minimums[types.RankNone] = 0
}
