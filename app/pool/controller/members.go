package controller

import (
	"net/http"
	"strconv"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"

	"github.com/canopy-network/mutualpool/app/pool/controller/types"
	pooltypes "github.com/canopy-network/mutualpool/pkg/pool/types"
)

func memberView(id pooltypes.Identity, rank pooltypes.Rank) types.MemberView {
	return types.MemberView{Identity: id.String(), Member: rank.Member(), Rank: rank.String(), RankCode: uint8(rank)}
}

// HandleMembersList returns the roster in positional order.
func (c *Controller) HandleMembersList(w http.ResponseWriter, _ *http.Request) {
	members := c.App.Pool.Members()
	out := types.MembersResponse{Members: make([]types.MemberView, 0, len(members)), Count: len(members), Frozen: c.App.Pool.Frozen()}
	for i, m := range members {
		v := memberView(m.Identity, m.Rank)
		index := i
		v.Index = &index
		out.Members = append(out.Members, v)
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleMemberDetail answers for any identity; non-members report rank none.
func (c *Controller) HandleMemberDetail(w http.ResponseWriter, r *http.Request) {
	id := pooltypes.Identity(mux.Vars(r)["identity"])
	writeJSON(w, http.StatusOK, memberView(id, c.App.Pool.RankOf(id)))
}

// HandleRosterAt returns the member stored at a roster position.
func (c *Controller) HandleRosterAt(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		badRequest(w, "invalid roster index")
		return
	}
	id, err := c.App.Pool.MemberAt(index)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	v := memberView(id, c.App.Pool.RankOf(id))
	v.Index = &index
	writeJSON(w, http.StatusOK, v)
}

func (c *Controller) HandleMemberSignup(w http.ResponseWriter, r *http.Request) {
	var in types.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "bad json")
		return
	}
	rank, err := pooltypes.ParseRank(in.Rank)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	id := pooltypes.Identity(in.Identity)
	if err := c.App.Pool.SignupMember(r.Context(), caller(r), id, rank); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, memberView(id, rank))
}

func (c *Controller) HandleMemberRankChange(w http.ResponseWriter, r *http.Request) {
	var in types.RankRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "bad json")
		return
	}
	rank, err := pooltypes.ParseRank(in.Rank)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	id := pooltypes.Identity(mux.Vars(r)["identity"])
	if err := c.App.Pool.ChangeMemberRank(r.Context(), caller(r), id, rank); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, memberView(id, rank))
}

func (c *Controller) HandleMemberResign(w http.ResponseWriter, r *http.Request) {
	id := pooltypes.Identity(mux.Vars(r)["identity"])
	if err := c.App.Pool.ResignMember(r.Context(), caller(r), id); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, memberView(id, pooltypes.RankNone))
}
