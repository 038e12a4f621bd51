package membership

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/canopy-network/mutualpool/pkg/pool/types"
)

// Member is one roster entry.
type Member struct {
	Identity types.Identity `json:"identity"`
	Rank     types.Rank     `json:"rank"`
}

type slot struct {
	rank  types.Rank
	index int
}

// Registry owns the roster. Only its owner may mutate it.
//
// The roster is a slice of identities plus an index keyed by identity, so a
// membership test is O(1). Removal moves the last roster entry into the freed
// slot and shrinks the slice: survivors keep their positions except the entry
// that was last, which now sits where the removed member was.
type Registry struct {
	owner   types.Identity
	roster  []types.Identity
	members map[types.Identity]slot
	logger  *zap.Logger
}

// NewRegistry returns an empty registry writable only by owner.
func NewRegistry(owner types.Identity, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		owner:   owner,
		members: make(map[types.Identity]slot),
		logger:  logger.Named("membership"),
	}
}

// Owner returns the exclusive writer of the registry.
func (r *Registry) Owner() types.Identity { return r.owner }

func (r *Registry) checkOwner(caller types.Identity) error {
	if caller != r.owner {
		return types.ErrNotOwner
	}
	return nil
}

// SignUp appends id to the roster with the given rank.
func (r *Registry) SignUp(caller, id types.Identity, rank types.Rank) error {
	if err := r.checkOwner(caller); err != nil {
		return err
	}
	if id.Empty() {
		return types.ErrEmptyIdentity
	}
	if !rank.Valid() {
		return types.ErrInvalidRank
	}
	if rank == types.RankNone {
		return types.ErrSignupRankNone
	}
	if _, ok := r.members[id]; ok {
		return types.ErrAlreadyMember
	}

	r.members[id] = slot{rank: rank, index: len(r.roster)}
	r.roster = append(r.roster, id)

	r.logger.Info("member signed up",
		zap.String("identity", id.String()),
		zap.Stringer("rank", rank),
		zap.Int("members", len(r.roster)))
	return nil
}

// ChangeRank overwrites the rank of an existing member. The roster position is unchanged.
func (r *Registry) ChangeRank(caller, id types.Identity, rank types.Rank) error {
	if err := r.checkOwner(caller); err != nil {
		return err
	}
	s, ok := r.members[id]
	if !ok {
		return types.ErrNotMember
	}
	if !rank.Valid() {
		return types.ErrInvalidRank
	}
	if rank == types.RankNone {
		return types.ErrChangeToRankNone
	}

	prev := s.rank
	s.rank = rank
	r.members[id] = s

	r.logger.Info("member rank changed",
		zap.String("identity", id.String()),
		zap.Stringer("from", prev),
		zap.Stringer("to", rank))
	return nil
}

// Resign removes id from the roster by moving the last entry into its slot.
func (r *Registry) Resign(caller, id types.Identity) error {
	if err := r.checkOwner(caller); err != nil {
		return err
	}
	s, ok := r.members[id]
	if !ok {
		return types.ErrResignNotMember
	}

	last := len(r.roster) - 1
	if s.index != last {
		moved := r.roster[last]
		r.roster[s.index] = moved
		ms := r.members[moved]
		ms.index = s.index
		r.members[moved] = ms
	}
	r.roster[last] = ""
	r.roster = r.roster[:last]
	delete(r.members, id)

	r.logger.Info("member resigned",
		zap.String("identity", id.String()),
		zap.Int("members", len(r.roster)))
	return nil
}

// IsMember reports whether id currently holds a rank.
func (r *Registry) IsMember(id types.Identity) bool {
	_, ok := r.members[id]
	return ok
}

// RankOf returns the rank of id, RankNone for non-members.
func (r *Registry) RankOf(id types.Identity) types.Rank {
	return r.members[id].rank
}

// Count returns the number of members.
func (r *Registry) Count() int { return len(r.roster) }

// MemberAt returns the identity stored at a roster position.
func (r *Registry) MemberAt(index int) (types.Identity, error) {
	if index < 0 || index >= len(r.roster) {
		return "", types.ErrRosterIndex
	}
	return r.roster[index], nil
}

// Members returns the roster in slot order.
func (r *Registry) Members() []Member {
	out := make([]Member, 0, len(r.roster))
	for _, id := range r.roster {
		out = append(out, Member{Identity: id, Rank: r.members[id].rank})
	}
	return out
}

// State is the persisted form of the registry: the roster in slot order.
type State struct {
	Members []Member `json:"members"`
}

// Validate rejects a roster with blank identities, repeated identities or
// ranks that do not make a member.
func (s State) Validate() error {
	seen := make(map[types.Identity]struct{}, len(s.Members))
	for i, m := range s.Members {
		if m.Identity.Empty() {
			return fmt.Errorf("member at slot %d has no identity", i)
		}
		if _, dup := seen[m.Identity]; dup {
			return fmt.Errorf("member %s appears twice", m.Identity)
		}
		if !m.Rank.Member() {
			return fmt.Errorf("member %s has rank %d", m.Identity, m.Rank)
		}
		seen[m.Identity] = struct{}{}
	}
	return nil
}

// State captures the registry contents.
func (r *Registry) State() State {
	return State{Members: r.Members()}
}

// Restore replaces the registry contents with s. Slot order is preserved.
func (r *Registry) Restore(s State) {
	r.roster = make([]types.Identity, 0, len(s.Members))
	r.members = make(map[types.Identity]slot, len(s.Members))
	for _, m := range s.Members {
		r.members[m.Identity] = slot{rank: m.Rank, index: len(r.roster)}
		r.roster = append(r.roster, m.Identity)
	}
}
