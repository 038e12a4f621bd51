package types

import (
	"errors"
	"fmt"
	"sync"
)

// Kind groups pool errors by how a caller should react to them.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindFreezeActive
	KindNotFound
	KindInvalidState
	KindInsufficientFunds
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindFreezeActive:
		return "freeze_active"
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "unknown"
	}
}

// Error is a registered, numbered pool failure. The text is what callers see.
type Error struct {
	Code uint32
	Kind Kind
	Desc string
}

func (e *Error) Error() string { return e.Desc }

var (
	registryMu sync.Mutex
	registry   = map[uint32]*Error{}
)

// Register declares a new error. Codes are unique per process; a duplicate panics at init.
func Register(code uint32, kind Kind, desc string) *Error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if prev, ok := registry[code]; ok {
		panic(fmt.Sprintf("error code %d already registered as %q", code, prev.Desc))
	}
	e := &Error{Code: code, Kind: kind, Desc: desc}
	registry[code] = e
	return e
}

// Lookup returns the registered error for a code, if any.
func Lookup(code uint32) (*Error, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	e, ok := registry[code]
	return e, ok
}

// KindOf classifies err. Errors outside the registry are KindUnknown.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// CodeOf returns the registered code of err, or 0.
func CodeOf(err error) uint32 {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return 0
}

// Orchestrator
var (
	ErrNotAdmin         = Register(1, KindAuthorization, "Only admin can do this")
	ErrMembershipFrozen = Register(2, KindFreezeActive, "Membership freeze is in effect")
	ErrAlreadyAdmin     = Register(3, KindInvalidState, "Address already admin")
	ErrAdminNotFound    = Register(4, KindNotFound, "Address not admin")
	ErrLastAdmin        = Register(5, KindInvalidState, "Cannot remove the last admin")
	ErrEmptyIdentity    = Register(6, KindInvalidArgument, "Identity is empty")
)

// Membership registry
var (
	ErrNotOwner         = Register(10, KindAuthorization, "Ownable: caller is not the owner")
	ErrNotMember        = Register(11, KindNotFound, "Address not member")
	ErrAlreadyMember    = Register(12, KindInvalidState, "Address already member")
	ErrSignupRankNone   = Register(13, KindInvalidState, "Cannot sign up with Rank - None")
	ErrResignNotMember  = Register(14, KindNotFound, "Member doesn't exist. Cannot resign as member.")
	ErrRosterIndex      = Register(15, KindNotFound, "Roster index out of range")
	ErrInvalidRank      = Register(16, KindInvalidArgument, "Invalid rank")
	ErrChangeToRankNone = Register(17, KindInvalidState, "Cannot change rank to Rank - None")
)

// Claims ledger
var (
	ErrClaimNotFound  = Register(20, KindNotFound, "Claim doesn't exist")
	ErrClaimClosed    = Register(21, KindInvalidState, "Claim event has closed")
	ErrMinimumNone    = Register(22, KindInvalidState, "Cannot set amount for Rank - None")
	ErrAmountOverflow = Register(23, KindInvalidState, "Contribution total overflows")
)

// Asset
var (
	ErrInsufficientBalance   = Register(30, KindInsufficientFunds, "ERC20: transfer amount exceeds balance")
	ErrInsufficientAllowance = Register(31, KindInsufficientFunds, "ERC20: transfer amount exceeds allowance")
)
