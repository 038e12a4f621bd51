package controller

import (
	"net/http"
	"strconv"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"

	"github.com/canopy-network/mutualpool/app/pool/controller/types"
	pooltypes "github.com/canopy-network/mutualpool/pkg/pool/types"
)

func claimID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	return id, err == nil
}

// HandleClaimsList returns every claim; ?open=true keeps only open ones.
func (c *Controller) HandleClaimsList(w http.ResponseWriter, r *http.Request) {
	openOnly := r.URL.Query().Get("open") == "true"
	all := c.App.Pool.Claims()
	out := types.ClaimsResponse{Claims: make([]types.ClaimView, 0, len(all)), Count: uint64(len(all))}
	for _, ev := range all {
		if ev.Open {
			out.Open++
		}
		if openOnly && !ev.Open {
			continue
		}
		out.Claims = append(out.Claims, types.NewClaimView(ev))
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *Controller) HandleClaimDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := claimID(r)
	if !ok {
		badRequest(w, "invalid claim id")
		return
	}
	ev, err := c.App.Pool.Claim(id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.NewClaimView(ev))
}

// HandleContributionOf returns 0 for identities that never contributed, and for unknown claims.
func (c *Controller) HandleContributionOf(w http.ResponseWriter, r *http.Request) {
	id, ok := claimID(r)
	if !ok {
		badRequest(w, "invalid claim id")
		return
	}
	contributor := pooltypes.Identity(mux.Vars(r)["identity"])
	writeJSON(w, http.StatusOK, types.ContributionView{
		ClaimID:     id,
		Contributor: contributor.String(),
		Amount:      c.App.Pool.ContributionOf(id, contributor),
	})
}

func (c *Controller) HandleClaimTrigger(w http.ResponseWriter, r *http.Request) {
	var in types.ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "bad json")
		return
	}
	id, err := c.App.Pool.TriggerClaimEvent(r.Context(), caller(r), pooltypes.Identity(in.Claimant))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.ClaimCreated{ID: id})
}

// HandleContribute pulls the caller's rank minimum into escrow for the claim.
func (c *Controller) HandleContribute(w http.ResponseWriter, r *http.Request) {
	id, ok := claimID(r)
	if !ok {
		badRequest(w, "invalid claim id")
		return
	}
	contributor := caller(r)
	amount, err := c.App.Pool.ContributeToClaim(r.Context(), contributor, id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ContributionView{ClaimID: id, Contributor: contributor.String(), Amount: amount})
}

// HandleClaimClose pays the claimant and closes the claim.
func (c *Controller) HandleClaimClose(w http.ResponseWriter, r *http.Request) {
	id, ok := claimID(r)
	if !ok {
		badRequest(w, "invalid claim id")
		return
	}
	if err := c.App.Pool.CloseClaimEvent(r.Context(), caller(r), id); err != nil {
		c.writeError(w, r, err)
		return
	}
	ev, err := c.App.Pool.Claim(id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.NewClaimView(ev))
}
