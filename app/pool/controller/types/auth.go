package types

import "time"

// LoginRequest contains the credentials of a pool identity
type LoginRequest struct {
	Identity string `json:"identity"`
	Password string `json:"password"`
}

// LoginResponse returns the session token for clients that send it as a bearer token
type LoginResponse struct {
	Identity  string    `json:"identity"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// MeResponse describes the caller's standing in the pool
type MeResponse struct {
	Identity string `json:"identity"`
	Admin    bool   `json:"admin"`
	Member   bool   `json:"member"`
	Rank     string `json:"rank"`
	RankCode uint8  `json:"rankCode"`
}

// ErrorResponse is the body of every failed request. Code is 0 for errors outside the pool registry.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  uint32 `json:"code"`
}
