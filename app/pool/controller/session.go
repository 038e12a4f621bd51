package controller

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"

	"github.com/canopy-network/mutualpool/app/pool/controller/types"
	"github.com/canopy-network/mutualpool/pkg/utils"
)

// HandleLogin checks the password of an identity and opens a session for it.
func (c *Controller) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in types.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	u, ok := c.Users[in.Identity]
	if !ok || !utils.CheckPassword(u.Hash, in.Password) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	token, expires, err := c.IssueSession(w, u.Identity)
	if err != nil {
		c.App.Logger.Error("Failed to sign session", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "session unavailable"})
		return
	}
	c.App.Logger.Info("Session opened", zap.String("identity", u.Identity))
	writeJSON(w, http.StatusOK, types.LoginResponse{Identity: u.Identity, Token: token, ExpiresAt: expires.UTC()})
}

// HandleLogout expires the session cookie. Bearer tokens stay valid until they expire.
func (c *Controller) HandleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}

// HandleMe reports who the session belongs to and what that identity is in the pool.
func (c *Controller) HandleMe(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	rank := c.App.Pool.RankOf(id)
	writeJSON(w, http.StatusOK, types.MeResponse{
		Identity: id.String(),
		Admin:    c.App.Pool.IsAdmin(id),
		Member:   c.App.Pool.IsMember(id),
		Rank:     rank.String(),
		RankCode: uint8(rank),
	})
}
