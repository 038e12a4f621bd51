package controller

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"

	"github.com/canopy-network/mutualpool/app/pool/controller/types"
	pooltypes "github.com/canopy-network/mutualpool/pkg/pool/types"
)

func (c *Controller) HandleAdminsList(w http.ResponseWriter, _ *http.Request) {
	admins := c.App.Pool.Admins()
	out := types.AdminsResponse{Admins: make([]string, 0, len(admins)), Count: len(admins)}
	for _, id := range admins {
		out.Admins = append(out.Admins, id.String())
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *Controller) HandleAdminDetail(w http.ResponseWriter, r *http.Request) {
	id := pooltypes.Identity(mux.Vars(r)["identity"])
	writeJSON(w, http.StatusOK, types.AdminView{Identity: id.String(), Admin: c.App.Pool.IsAdmin(id)})
}

func (c *Controller) HandleAdminAdd(w http.ResponseWriter, r *http.Request) {
	var in types.IdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "bad json")
		return
	}
	id := pooltypes.Identity(in.Identity)
	if err := c.App.Pool.AdminAdd(r.Context(), caller(r), id); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.AdminView{Identity: id.String(), Admin: true})
}

func (c *Controller) HandleAdminResign(w http.ResponseWriter, r *http.Request) {
	id := pooltypes.Identity(mux.Vars(r)["identity"])
	if err := c.App.Pool.AdminResign(r.Context(), caller(r), id); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.AdminView{Identity: id.String(), Admin: false})
}
