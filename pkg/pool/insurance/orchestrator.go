// Package insurance is the administrative entry point of a pool. It owns the
// admin set and the membership freeze, and is the only writer of the
// membership registry and the claims ledger.
package insurance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/mutualpool/pkg/asset"
	"github.com/canopy-network/mutualpool/pkg/events"
	"github.com/canopy-network/mutualpool/pkg/pool/claims"
	"github.com/canopy-network/mutualpool/pkg/pool/membership"
	"github.com/canopy-network/mutualpool/pkg/pool/types"
)

// Config wires an Orchestrator.
type Config struct {
	// PoolID keys the persisted snapshot and the event channels.
	PoolID string
	// Address is the orchestrator's own identity, the owner of the registry and the ledger.
	Address types.Identity
	// Escrow is the token account holding contributions. Defaults to Address + "/claims".
	Escrow types.Identity
	// Deployer becomes the first admin of a new pool.
	Deployer types.Identity

	Token     asset.Token
	Store     Store
	Publisher events.Publisher
	Logger    *zap.Logger
}

// Orchestrator serializes every pool operation. A mutating call either
// commits all of its effects or none of them.
type Orchestrator struct {
	mu sync.Mutex

	poolID  string
	address types.Identity

	admins  map[types.Identity]struct{}
	frozen  bool
	version uint64

	registry *membership.Registry
	ledger   *claims.Ledger
	token    asset.Token

	store     Store
	publisher events.Publisher
	logger    *zap.Logger
}

// freezeView exposes the flag to the ledger without taking the lock the ledger already runs under.
type freezeView struct{ o *Orchestrator }

func (f freezeView) Frozen() bool { return f.o.frozen }

// EscrowFor is the escrow account a pool at address uses when none is configured.
func EscrowFor(address types.Identity) types.Identity { return address + "/claims" }

// New builds the registry and the ledger, then loads the last snapshot of the pool if one exists.
func New(ctx context.Context, cfg Config) (*Orchestrator, error) {
	if cfg.Address.Empty() {
		return nil, fmt.Errorf("pool address is required")
	}
	if cfg.Deployer.Empty() {
		return nil, fmt.Errorf("pool deployer is required")
	}
	if cfg.Token == nil {
		return nil, fmt.Errorf("asset token is required")
	}
	if cfg.PoolID == "" {
		cfg.PoolID = "default"
	}
	if cfg.Escrow.Empty() {
		cfg.Escrow = EscrowFor(cfg.Address)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("poolId", cfg.PoolID))

	o := &Orchestrator{
		poolID:    cfg.PoolID,
		address:   cfg.Address,
		admins:    map[types.Identity]struct{}{cfg.Deployer: {}},
		token:     cfg.Token,
		store:     cfg.Store,
		publisher: cfg.Publisher,
		logger:    logger.Named("insurance"),
	}
	o.registry = membership.NewRegistry(cfg.Address, logger)
	o.ledger = claims.NewLedger(cfg.Address, cfg.Escrow, o.registry, cfg.Token, freezeView{o}, logger)

	if o.store != nil {
		snap, err := o.store.Load(ctx, o.poolID)
		if err != nil {
			return nil, fmt.Errorf("load pool %s: %w", o.poolID, err)
		}
		if snap != nil {
			if err := snap.Validate(); err != nil {
				return nil, fmt.Errorf("load pool %s: %w", o.poolID, err)
			}
			o.restore(*snap)
			o.version = snap.Version
			o.logger.Info("Pool state loaded",
				zap.Uint64("version", snap.Version),
				zap.Int("members", o.registry.Count()),
				zap.Uint64("claims", o.ledger.Count()),
				zap.Bool("frozen", o.frozen))
		}
	}
	return o, nil
}

// PoolID returns the identifier the pool is persisted and published under.
func (o *Orchestrator) PoolID() string { return o.poolID }

// Address returns the orchestrator's own identity.
func (o *Orchestrator) Address() types.Identity { return o.address }

// Escrow returns the token account contributions are held in.
func (o *Orchestrator) Escrow() types.Identity { return o.ledger.Escrow() }

func (o *Orchestrator) requireAdmin(caller types.Identity) error {
	if _, ok := o.admins[caller]; !ok {
		return types.ErrNotAdmin
	}
	return nil
}

func (o *Orchestrator) requireThawed() error {
	if o.frozen {
		return types.ErrMembershipFrozen
	}
	return nil
}

// commit runs fn against the live state. On failure everything fn touched is
// rolled back. On success the new state is saved; when that save fails the
// change is rolled back too, unless fn already moved funds, in which case the
// in-memory state stays and the next save carries it.
func (o *Orchestrator) commit(ctx context.Context, op string, movesFunds bool, fn func() error) error {
	before := o.snapshot()
	if err := fn(); err != nil {
		o.restore(before)
		o.logger.Debug("Pool operation rejected", zap.String("op", op), zap.Error(err))
		return err
	}
	if movesFunds {
		// the transfer is done; a caller that went away must not lose its record
		ctx = context.WithoutCancel(ctx)
	}
	if err := o.persist(ctx); err != nil {
		if !movesFunds {
			o.restore(before)
			return fmt.Errorf("%s: persist pool state: %w", op, err)
		}
		o.logger.Error("Failed to persist pool state after funds moved; keeping in-memory state",
			zap.String("op", op),
			zap.Uint64("version", o.version),
			zap.Error(err))
	}
	return nil
}

func (o *Orchestrator) persist(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	snap := o.snapshot()
	snap.Version = o.version + 1
	if err := o.store.Save(ctx, o.poolID, snap); err != nil {
		return err
	}
	o.version = snap.Version
	return nil
}

func (o *Orchestrator) emit(ctx context.Context, ev events.Event) {
	ev.PoolID = o.poolID
	ev.Frozen = o.frozen
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	o.publisher.Publish(ctx, ev)
}

// AdminAdd grants admin rights to id.
func (o *Orchestrator) AdminAdd(ctx context.Context, caller, id types.Identity) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.commit(ctx, "admin_add", false, func() error {
		if err := o.requireAdmin(caller); err != nil {
			return err
		}
		if id.Empty() {
			return types.ErrEmptyIdentity
		}
		if _, ok := o.admins[id]; ok {
			return types.ErrAlreadyAdmin
		}
		o.admins[id] = struct{}{}
		return nil
	})
	if err != nil {
		return err
	}
	o.logger.Info("Admin added",
		zap.String("admin", id.String()),
		zap.String("by", caller.String()),
		zap.Int("admins", len(o.admins)))
	o.emit(ctx, events.Event{Type: events.TypeAdminAdded, Actor: caller, Identity: id})
	return nil
}

// AdminResign revokes admin rights of id. The last admin cannot be removed.
func (o *Orchestrator) AdminResign(ctx context.Context, caller, id types.Identity) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.commit(ctx, "admin_resign", false, func() error {
		if err := o.requireAdmin(caller); err != nil {
			return err
		}
		if _, ok := o.admins[id]; !ok {
			return types.ErrAdminNotFound
		}
		if len(o.admins) == 1 {
			return types.ErrLastAdmin
		}
		delete(o.admins, id)
		return nil
	})
	if err != nil {
		return err
	}
	o.logger.Info("Admin resigned",
		zap.String("admin", id.String()),
		zap.String("by", caller.String()),
		zap.Int("admins", len(o.admins)))
	o.emit(ctx, events.Event{Type: events.TypeAdminResigned, Actor: caller, Identity: id})
	return nil
}

// SetFreeze overwrites the freeze flag. Clearing it while claims are open is
// allowed; the next trigger or close recomputes it.
func (o *Orchestrator) SetFreeze(ctx context.Context, caller types.Identity, frozen bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var prev bool
	err := o.commit(ctx, "set_freeze", false, func() error {
		if err := o.requireAdmin(caller); err != nil {
			return err
		}
		prev = o.frozen
		o.frozen = frozen
		return nil
	})
	if err != nil {
		return err
	}
	if prev != frozen {
		o.logger.Info("Membership freeze set manually",
			zap.Bool("frozen", frozen),
			zap.String("by", caller.String()),
			zap.Int("open_claims", o.ledger.OpenCount()))
	}
	o.emit(ctx, events.Event{Type: events.TypeFreezeChanged, Actor: caller})
	return nil
}

// SignupMember adds id to the roster with rank.
func (o *Orchestrator) SignupMember(ctx context.Context, caller, id types.Identity, rank types.Rank) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.commit(ctx, "signup_member", false, func() error {
		if err := o.requireAdmin(caller); err != nil {
			return err
		}
		if err := o.requireThawed(); err != nil {
			return err
		}
		return o.registry.SignUp(o.address, id, rank)
	})
	if err != nil {
		return err
	}
	o.emit(ctx, events.Event{Type: events.TypeMemberSignedUp, Actor: caller, Identity: id, Rank: rank})
	return nil
}

// ChangeMemberRank moves an existing member to another rank.
func (o *Orchestrator) ChangeMemberRank(ctx context.Context, caller, id types.Identity, rank types.Rank) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.commit(ctx, "change_member_rank", false, func() error {
		if err := o.requireAdmin(caller); err != nil {
			return err
		}
		if err := o.requireThawed(); err != nil {
			return err
		}
		return o.registry.ChangeRank(o.address, id, rank)
	})
	if err != nil {
		return err
	}
	o.emit(ctx, events.Event{Type: events.TypeMemberRankChanged, Actor: caller, Identity: id, Rank: rank})
	return nil
}

// ResignMember removes id from the roster.
func (o *Orchestrator) ResignMember(ctx context.Context, caller, id types.Identity) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.commit(ctx, "resign_member", false, func() error {
		if err := o.requireAdmin(caller); err != nil {
			return err
		}
		if err := o.requireThawed(); err != nil {
			return err
		}
		return o.registry.Resign(o.address, id)
	})
	if err != nil {
		return err
	}
	o.emit(ctx, events.Event{Type: events.TypeMemberResigned, Actor: caller, Identity: id})
	return nil
}

// SetMinimumContributionFor updates the schedule entry of rank.
func (o *Orchestrator) SetMinimumContributionFor(ctx context.Context, caller types.Identity, rank types.Rank, amount types.Amount) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.commit(ctx, "set_minimum", false, func() error {
		if err := o.requireAdmin(caller); err != nil {
			return err
		}
		if err := o.requireThawed(); err != nil {
			return err
		}
		return o.ledger.SetRankMinimum(o.address, rank, amount)
	})
	if err != nil {
		return err
	}
	o.emit(ctx, events.Event{Type: events.TypeMinimumChanged, Actor: caller, Rank: rank, Amount: amount})
	return nil
}

// TriggerClaimEvent opens a claim for claimant and freezes membership.
func (o *Orchestrator) TriggerClaimEvent(ctx context.Context, caller, claimant types.Identity) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var id uint64
	err := o.commit(ctx, "trigger_claim", false, func() error {
		if err := o.requireAdmin(caller); err != nil {
			return err
		}
		var err error
		if id, err = o.ledger.TriggerClaim(o.address, claimant); err != nil {
			return err
		}
		o.frozen = true
		return nil
	})
	if err != nil {
		return 0, err
	}
	o.emit(ctx, events.Event{Type: events.TypeClaimTriggered, Actor: caller, Identity: claimant, ClaimID: events.ClaimRef(id)})
	return id, nil
}

// CloseClaimEvent pays out a claim. Membership stays frozen while other claims remain open.
func (o *Orchestrator) CloseClaimEvent(ctx context.Context, caller types.Identity, claimID uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var paid claims.Event
	err := o.commit(ctx, "close_claim", true, func() error {
		if err := o.requireAdmin(caller); err != nil {
			return err
		}
		open, err := o.ledger.CloseClaim(ctx, o.address, claimID)
		if err != nil {
			return err
		}
		o.frozen = open > 0
		paid, _ = o.ledger.Claim(claimID)
		return nil
	})
	if err != nil {
		return err
	}
	o.emit(ctx, events.Event{
		Type:     events.TypeClaimClosed,
		Actor:    caller,
		Identity: paid.Claimant,
		ClaimID:  events.ClaimRef(claimID),
		Amount:   paid.ContributionsSoFar,
	})
	return nil
}

// ContributeToClaim pays caller's rank minimum into an open claim. Any member may call it.
func (o *Orchestrator) ContributeToClaim(ctx context.Context, caller types.Identity, claimID uint64) (types.Amount, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var amount types.Amount
	err := o.commit(ctx, "contribute", true, func() error {
		var err error
		amount, err = o.ledger.ContributeToClaim(ctx, claimID, caller)
		return err
	})
	if err != nil {
		return 0, err
	}
	o.emit(ctx, events.Event{
		Type:     events.TypeClaimContribution,
		Actor:    caller,
		Identity: caller,
		Rank:     o.registry.RankOf(caller),
		ClaimID:  events.ClaimRef(claimID),
		Amount:   amount,
	})
	return amount, nil
}

// IsAdmin reports whether id holds admin rights.
func (o *Orchestrator) IsAdmin(id types.Identity) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.admins[id]
	return ok
}

// AdminCount returns the size of the admin set. It is never below one.
func (o *Orchestrator) AdminCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.admins)
}

// Admins returns the admin set sorted by identity.
func (o *Orchestrator) Admins() []types.Identity {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sortedAdmins()
}

func (o *Orchestrator) sortedAdmins() []types.Identity {
	out := make([]types.Identity, 0, len(o.admins))
	for id := range o.admins {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Frozen reports whether membership and schedule changes are blocked.
func (o *Orchestrator) Frozen() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frozen
}

// IsMember reports whether id is on the roster.
func (o *Orchestrator) IsMember(id types.Identity) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.registry.IsMember(id)
}

// RankOf returns the rank of id, RankNone for non-members.
func (o *Orchestrator) RankOf(id types.Identity) types.Rank {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.registry.RankOf(id)
}

// MemberCount returns the roster length.
func (o *Orchestrator) MemberCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.registry.Count()
}

// MemberAt returns the identity in a roster slot.
func (o *Orchestrator) MemberAt(index int) (types.Identity, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.registry.MemberAt(index)
}

// Members returns the roster in slot order.
func (o *Orchestrator) Members() []membership.Member {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.registry.Members()
}

// RankMinimum returns the contribution required from a member of rank.
func (o *Orchestrator) RankMinimum(rank types.Rank) types.Amount {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ledger.RankMinimum(rank)
}

// Minimums returns a copy of the contribution schedule.
func (o *Orchestrator) Minimums() map[types.Rank]types.Amount {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ledger.Minimums()
}

// Claim returns a copy of one claim event.
func (o *Orchestrator) Claim(claimID uint64) (claims.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ledger.Claim(claimID)
}

// Claims returns every claim event in id order.
func (o *Orchestrator) Claims() []claims.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ledger.State().Events
}

// ClaimCount returns how many claim events were ever triggered.
func (o *Orchestrator) ClaimCount() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ledger.Count()
}

// OpenClaimCount returns how many claim events are still open.
func (o *Orchestrator) OpenClaimCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ledger.OpenCount()
}

// ContributionOf returns what contributor has paid into a claim; unknown claims read as zero.
func (o *Orchestrator) ContributionOf(claimID uint64, contributor types.Identity) types.Amount {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ledger.ContributionOf(claimID, contributor)
}

// Summary is a point-in-time overview of the pool.
type Summary struct {
	PoolID        string                  `json:"poolId"`
	Address       types.Identity          `json:"address"`
	Escrow        types.Identity          `json:"escrow"`
	EscrowBalance types.Amount            `json:"escrowBalance"`
	Admins        int                     `json:"admins"`
	Members       int                     `json:"members"`
	MembersByRank map[string]int          `json:"membersByRank"`
	Claims        uint64                  `json:"claims"`
	OpenClaims    int                     `json:"openClaims"`
	Frozen        bool                    `json:"frozen"`
	Minimums      map[string]types.Amount `json:"minimums"`
	Version       uint64                  `json:"version"`
}

// Summary reads the escrow balance from the token; the rest comes from memory.
func (o *Orchestrator) Summary(ctx context.Context) (Summary, error) {
	o.mu.Lock()
	s := Summary{
		PoolID:        o.poolID,
		Address:       o.address,
		Escrow:        o.ledger.Escrow(),
		Admins:        len(o.admins),
		Members:       o.registry.Count(),
		MembersByRank: map[string]int{},
		Claims:        o.ledger.Count(),
		OpenClaims:    o.ledger.OpenCount(),
		Frozen:        o.frozen,
		Minimums:      map[string]types.Amount{},
		Version:       o.version,
	}
	for _, m := range o.registry.Members() {
		s.MembersByRank[m.Rank.String()]++
	}
	for rank, amount := range o.ledger.Minimums() {
		s.Minimums[rank.String()] = amount
	}
	o.mu.Unlock()

	balance, err := o.token.BalanceOf(ctx, s.Escrow)
	if err != nil {
		return s, fmt.Errorf("escrow balance: %w", err)
	}
	s.EscrowBalance = balance
	return s, nil
}
