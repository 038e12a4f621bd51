// Package asset is the narrow view of the fungible asset the pool moves funds with.
package asset

import (
	"context"

	"github.com/canopy-network/mutualpool/pkg/pool/types"
)

// Token is the ERC20-like collaborator used for contributions and payouts.
//
// Implementations must fail a transfer without side effects when the source
// lacks balance or the spender lacks allowance, returning
// types.ErrInsufficientBalance or types.ErrInsufficientAllowance (or an error
// wrapping them) so the failure text reaches the caller unchanged.
type Token interface {
	// TransferFrom moves amount from -> to on behalf of spender, consuming allowance.
	TransferFrom(ctx context.Context, spender, from, to types.Identity, amount types.Amount) error
	// Transfer moves amount from -> to; from is the account the caller controls.
	Transfer(ctx context.Context, from, to types.Identity, amount types.Amount) error
	BalanceOf(ctx context.Context, owner types.Identity) (types.Amount, error)
	Allowance(ctx context.Context, owner, spender types.Identity) (types.Amount, error)
}

// Approver is implemented by tokens that let an owner authorize a spender.
type Approver interface {
	Approve(ctx context.Context, owner, spender types.Identity, amount types.Amount) error
}

type idempotencyKey struct{}

// WithIdempotencyKey returns a context whose transfers carry key. A caller that
// derives key from the operation itself can repeat a transfer after an
// ambiguous failure and have the token service apply it at most once.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKeyFrom returns the key set by WithIdempotencyKey.
func IdempotencyKeyFrom(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKey{}).(string)
	return key, ok && key != ""
}
