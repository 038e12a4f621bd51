package types

import (
	"time"

	"github.com/canopy-network/mutualpool/pkg/pool/claims"
	pooltypes "github.com/canopy-network/mutualpool/pkg/pool/types"
)

// IdentityRequest names the identity an admin operation applies to.
type IdentityRequest struct {
	Identity string `json:"identity"`
}

// FreezeRequest sets the membership freeze.
type FreezeRequest struct {
	Frozen *bool `json:"frozen"`
}

// SignupRequest adds a member. Rank accepts a code ("1") or a name ("captain").
type SignupRequest struct {
	Identity string `json:"identity"`
	Rank     string `json:"rank"`
}

// RankRequest changes a member's rank.
type RankRequest struct {
	Rank string `json:"rank"`
}

// MinimumRequest sets the minimum contribution of a rank.
type MinimumRequest struct {
	Amount *pooltypes.Amount `json:"amount"`
}

// ClaimRequest raises a claim on behalf of a member.
type ClaimRequest struct {
	Claimant string `json:"claimant"`
}

// AllowanceRequest authorizes the escrow to pull up to Amount from the caller.
type AllowanceRequest struct {
	Amount *pooltypes.Amount `json:"amount"`
}

// AdminView answers whether an identity is an admin.
type AdminView struct {
	Identity string `json:"identity"`
	Admin    bool   `json:"admin"`
}

// AdminsResponse lists the admin set.
type AdminsResponse struct {
	Admins []string `json:"admins"`
	Count  int      `json:"count"`
}

// MemberView is one roster entry.
type MemberView struct {
	Identity string `json:"identity"`
	Member   bool   `json:"member"`
	Rank     string `json:"rank"`
	RankCode uint8  `json:"rankCode"`
	Index    *int   `json:"index,omitempty"`
}

// MembersResponse lists the roster in positional order.
type MembersResponse struct {
	Members []MemberView `json:"members"`
	Count   int          `json:"count"`
	Frozen  bool         `json:"frozen"`
}

// RankView is one row of the contribution schedule.
type RankView struct {
	Rank    string           `json:"rank"`
	Code    uint8            `json:"code"`
	Minimum pooltypes.Amount `json:"minimum"`
}

// ClaimView is a claim event with its per-contributor totals.
type ClaimView struct {
	ID                 uint64                      `json:"id"`
	Claimant           string                      `json:"claimant"`
	ContributionsSoFar pooltypes.Amount            `json:"contributionsSoFar"`
	Open               bool                        `json:"open"`
	Contributions      map[string]pooltypes.Amount `json:"contributions"`
	OpenedAt           time.Time                   `json:"openedAt"`
}

// NewClaimView converts a ledger event.
func NewClaimView(ev claims.Event) ClaimView {
	v := ClaimView{
		ID:                 ev.ID,
		Claimant:           ev.Claimant.String(),
		ContributionsSoFar: ev.ContributionsSoFar,
		Open:               ev.Open,
		Contributions:      make(map[string]pooltypes.Amount, len(ev.Contributions)),
		OpenedAt:           ev.OpenedAt,
	}
	for id, amount := range ev.Contributions {
		v.Contributions[id.String()] = amount
	}
	return v
}

// ClaimsResponse lists claims, newest last.
type ClaimsResponse struct {
	Claims []ClaimView `json:"claims"`
	Count  uint64      `json:"count"`
	Open   int         `json:"open"`
}

// ClaimCreated returns the id of a new claim.
type ClaimCreated struct {
	ID uint64 `json:"id"`
}

// ContributionView is the amount one identity has put into one claim.
type ContributionView struct {
	ClaimID     uint64           `json:"claimId"`
	Contributor string           `json:"contributor"`
	Amount      pooltypes.Amount `json:"amount"`
}

// AccountView is an asset balance and the allowance granted to the pool escrow.
type AccountView struct {
	Identity  string           `json:"identity"`
	Balance   pooltypes.Amount `json:"balance"`
	Allowance pooltypes.Amount `json:"allowance"`
	Escrow    string           `json:"escrow"`
}
