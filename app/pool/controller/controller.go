package controller

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/canopy-network/mutualpool/app/pool/types"
	"github.com/canopy-network/mutualpool/pkg/utils"
)

type Controller struct {
	App        *types.App
	Users      map[string]types.User
	JWTSecret  []byte
	SessionTTL time.Duration
}

// NewController returns a new controller. Users come from POOL_USERS as
// identity=password pairs, where a password may already be a bcrypt hash.
// Without POOL_USERS only the deployer can log in.
func NewController(app *types.App) *Controller {
	jwtSecret := []byte(utils.Env("SESSION_SECRET", "change-me-please"))

	pairs := utils.EnvPairs("POOL_USERS")
	if len(pairs) == 0 {
		pairs = map[string]string{
			utils.Env("POOL_DEPLOYER", "admin"): utils.Env("POOL_DEPLOYER_PASSWORD", "admin"),
		}
	}
	users := make(map[string]types.User, len(pairs))
	for identity, password := range pairs {
		hash, err := utils.HashOrRead(password)
		if err != nil {
			app.Logger.Warn("Skipping user with unusable password", zap.String("identity", identity), zap.Error(err))
			continue
		}
		users[identity] = types.User{Identity: identity, Hash: hash}
	}

	return &Controller{
		App:        app,
		Users:      users,
		JWTSecret:  jwtSecret,
		SessionTTL: utils.EnvDuration("SESSION_TTL", 8*time.Hour),
	}
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Echo back the origin so credentialed requests work from the dashboard host
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodPut+", "+http.MethodPatch+", "+http.MethodDelete+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with every pool route. Reads are public;
// anything that changes the pool runs as the identity of the session.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/api/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)

	// Sessions
	r.HandleFunc("/api/auth/login", c.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", c.HandleLogout).Methods(http.MethodPost)
	r.Handle("/api/auth/me", c.RequireIdentity(http.HandlerFunc(c.HandleMe))).Methods(http.MethodGet)

	// Pool
	r.HandleFunc("/api/pool", c.HandlePoolSummary).Methods(http.MethodGet)
	r.Handle("/api/freeze", c.RequireIdentity(http.HandlerFunc(c.HandleSetFreeze))).Methods(http.MethodPut)

	// Admins
	r.HandleFunc("/api/admins", c.HandleAdminsList).Methods(http.MethodGet)
	r.HandleFunc("/api/admins/{identity}", c.HandleAdminDetail).Methods(http.MethodGet)
	r.Handle("/api/admins", c.RequireIdentity(http.HandlerFunc(c.HandleAdminAdd))).Methods(http.MethodPost)
	r.Handle("/api/admins/{identity}", c.RequireIdentity(http.HandlerFunc(c.HandleAdminResign))).Methods(http.MethodDelete)

	// Members
	r.HandleFunc("/api/members", c.HandleMembersList).Methods(http.MethodGet)
	r.HandleFunc("/api/members/{identity}", c.HandleMemberDetail).Methods(http.MethodGet)
	r.HandleFunc("/api/roster/{index}", c.HandleRosterAt).Methods(http.MethodGet)
	r.Handle("/api/members", c.RequireIdentity(http.HandlerFunc(c.HandleMemberSignup))).Methods(http.MethodPost)
	r.Handle("/api/members/{identity}", c.RequireIdentity(http.HandlerFunc(c.HandleMemberRankChange))).Methods(http.MethodPatch)
	r.Handle("/api/members/{identity}", c.RequireIdentity(http.HandlerFunc(c.HandleMemberResign))).Methods(http.MethodDelete)

	// Contribution schedule
	r.HandleFunc("/api/ranks", c.HandleRanksList).Methods(http.MethodGet)
	r.Handle("/api/ranks/{rank}/minimum", c.RequireIdentity(http.HandlerFunc(c.HandleSetMinimum))).Methods(http.MethodPut)

	// Claims
	r.HandleFunc("/api/claims", c.HandleClaimsList).Methods(http.MethodGet)
	r.HandleFunc("/api/claims/{id}", c.HandleClaimDetail).Methods(http.MethodGet)
	r.HandleFunc("/api/claims/{id}/contributions/{identity}", c.HandleContributionOf).Methods(http.MethodGet)
	r.Handle("/api/claims", c.RequireIdentity(http.HandlerFunc(c.HandleClaimTrigger))).Methods(http.MethodPost)
	r.Handle("/api/claims/{id}/contributions", c.RequireIdentity(http.HandlerFunc(c.HandleContribute))).Methods(http.MethodPost)
	r.Handle("/api/claims/{id}/close", c.RequireIdentity(http.HandlerFunc(c.HandleClaimClose))).Methods(http.MethodPost)

	// Asset accounts
	r.HandleFunc("/api/accounts/{identity}", c.HandleAccount).Methods(http.MethodGet)
	r.Handle("/api/allowance", c.RequireIdentity(http.HandlerFunc(c.HandleApprove))).Methods(http.MethodPut)

	// WebSocket endpoint for live pool events
	r.HandleFunc("/api/ws", c.HandleWebSocket).Methods(http.MethodGet)

	return r, nil
}
