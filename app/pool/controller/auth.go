package controller

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	pooltypes "github.com/canopy-network/mutualpool/pkg/pool/types"
)

// SessionCookie carries the session token for browser clients.
const SessionCookie = "pool_session"

type identityKey struct{}

// bearerOrCookie returns the raw token of the request, preferring the Authorization header.
func bearerOrCookie(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// ParseSession validates an HS256 session token and returns its subject.
func (c *Controller) ParseSession(raw string) (pooltypes.Identity, error) {
	if raw == "" {
		return "", fmt.Errorf("no session")
	}
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) { return c.JWTSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return "", fmt.Errorf("invalid session: %w", err)
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("session has no subject")
	}
	return pooltypes.Identity(sub), nil
}

// RequireIdentity middleware resolves the caller from the session and rejects anonymous requests.
func (c *Controller) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := c.ParseSession(bearerOrCookie(r))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

// caller returns the identity RequireIdentity attached to the request.
func caller(r *http.Request) pooltypes.Identity {
	id, _ := r.Context().Value(identityKey{}).(pooltypes.Identity)
	return id
}

// IssueSession signs a token for identity, sets it as a cookie and returns it for bearer use.
func (c *Controller) IssueSession(w http.ResponseWriter, identity string) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(c.SessionTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": identity,
		"exp": expires.Unix(),
		"iat": now.Unix(),
	})
	ss, err := token.SignedString(c.JWTSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    ss,
		Path:     "/",
		HttpOnly: true,
		Secure:   os.Getenv("ENVIRONMENT") == "production",
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(c.SessionTTL.Seconds()),
	})
	return ss, expires, nil
}
