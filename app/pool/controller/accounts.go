package controller

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"

	"github.com/canopy-network/mutualpool/app/pool/controller/types"
	"github.com/canopy-network/mutualpool/pkg/asset"
	pooltypes "github.com/canopy-network/mutualpool/pkg/pool/types"
)

// HandleAccount returns an identity's asset balance and what it lets the escrow pull.
func (c *Controller) HandleAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := pooltypes.Identity(mux.Vars(r)["identity"])
	escrow := c.App.Pool.Escrow()

	balance, err := c.App.Token.BalanceOf(ctx, id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	allowance, err := c.App.Token.Allowance(ctx, id, escrow)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.AccountView{Identity: id.String(), Balance: balance, Allowance: allowance, Escrow: escrow.String()})
}

// HandleApprove sets the caller's allowance for the escrow. Only tokens that
// take approvals through this service support it; an external token is
// approved at its own service.
func (c *Controller) HandleApprove(w http.ResponseWriter, r *http.Request) {
	approver, ok := c.App.Token.(asset.Approver)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, types.ErrorResponse{Error: "approvals are not handled by this asset backend"})
		return
	}
	var in types.AllowanceRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Amount == nil {
		badRequest(w, "amount is required")
		return
	}
	owner := caller(r)
	escrow := c.App.Pool.Escrow()
	if err := approver.Approve(r.Context(), owner, escrow, *in.Amount); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.AccountView{Identity: owner.String(), Allowance: *in.Amount, Escrow: escrow.String()})
}
