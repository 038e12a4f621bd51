package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Identity is the opaque key of a participant (member, admin, escrow or pool account).
type Identity string

// String returns the identity as a plain string.
func (id Identity) String() string { return string(id) }

// Empty reports whether the identity is the zero value.
func (id Identity) Empty() bool { return strings.TrimSpace(string(id)) == "" }

// Amount is a quantity in the asset's smallest unit.
type Amount = uint64

// Rank is the tier a member belongs to. It determines the minimum contribution per claim.
type Rank uint8

const (
	RankNone Rank = iota
	RankCaptain
	RankFirstOfficer
	RankSecondOfficer
)

// Ranks lists every rank a member can hold, in ascending code order.
var Ranks = []Rank{RankCaptain, RankFirstOfficer, RankSecondOfficer}

// Valid reports whether r is one of the known rank codes (None included).
func (r Rank) Valid() bool { return r <= RankSecondOfficer }

// Member reports whether the rank denotes membership.
func (r Rank) Member() bool { return r != RankNone && r.Valid() }

func (r Rank) String() string {
	switch r {
	case RankNone:
		return "none"
	case RankCaptain:
		return "captain"
	case RankFirstOfficer:
		return "first_officer"
	case RankSecondOfficer:
		return "second_officer"
	default:
		return "rank(" + strconv.Itoa(int(r)) + ")"
	}
}

// ParseRank accepts either the numeric rank code or its name.
func ParseRank(s string) (Rank, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		r := Rank(n)
		if !r.Valid() {
			return RankNone, fmt.Errorf("%w: %d", ErrInvalidRank, n)
		}
		return r, nil
	}
	for _, r := range append([]Rank{RankNone}, Ranks...) {
		if r.String() == s {
			return r, nil
		}
	}
	return RankNone, fmt.Errorf("%w: %q", ErrInvalidRank, s)
}

// DefaultMinimums is the contribution schedule a new pool starts with.
func DefaultMinimums() map[Rank]Amount {
	return map[Rank]Amount{
		RankNone:          0,
		RankCaptain:       300,
		RankFirstOfficer:  200,
		RankSecondOfficer: 200,
	}
}
