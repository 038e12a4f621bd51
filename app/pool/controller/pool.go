package controller

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"

	"github.com/canopy-network/mutualpool/app/pool/controller/types"
	pooltypes "github.com/canopy-network/mutualpool/pkg/pool/types"
)

// HandlePoolSummary returns counts, the freeze flag, the schedule and the escrow balance.
func (c *Controller) HandlePoolSummary(w http.ResponseWriter, r *http.Request) {
	s, err := c.App.Pool.Summary(r.Context())
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleSetFreeze turns the membership freeze on or off.
func (c *Controller) HandleSetFreeze(w http.ResponseWriter, r *http.Request) {
	var in types.FreezeRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Frozen == nil {
		badRequest(w, "frozen is required")
		return
	}
	if err := c.App.Pool.SetFreeze(r.Context(), caller(r), *in.Frozen); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"frozen": c.App.Pool.Frozen()})
}

// HandleRanksList returns the contribution schedule of every rank.
func (c *Controller) HandleRanksList(w http.ResponseWriter, _ *http.Request) {
	minimums := c.App.Pool.Minimums()
	out := make([]types.RankView, 0, len(pooltypes.Ranks)+1)
	for _, rank := range append([]pooltypes.Rank{pooltypes.RankNone}, pooltypes.Ranks...) {
		out = append(out, types.RankView{Rank: rank.String(), Code: uint8(rank), Minimum: minimums[rank]})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleSetMinimum changes the minimum contribution of one rank.
func (c *Controller) HandleSetMinimum(w http.ResponseWriter, r *http.Request) {
	rank, err := pooltypes.ParseRank(mux.Vars(r)["rank"])
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	var in types.MinimumRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Amount == nil {
		badRequest(w, "amount is required")
		return
	}
	if err := c.App.Pool.SetMinimumContributionFor(r.Context(), caller(r), rank, *in.Amount); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.RankView{Rank: rank.String(), Code: uint8(rank), Minimum: c.App.Pool.RankMinimum(rank)})
}
