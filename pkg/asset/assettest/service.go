// Package assettest provides an in-process token service for tests of code
// that talks to a token over HTTP.
package assettest

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/canopy-network/mutualpool/pkg/asset"
	"github.com/canopy-network/mutualpool/pkg/pool/types"
)

// Service serves the token API on top of a Memory token. A transfer is applied
// at most once per idempotency key; a repeated key gets the first answer again.
type Service struct {
	Token *asset.Memory

	// LoseReply is asked after a transfer has been applied. Returning true
	// answers 503 although the transfer took effect.
	LoseReply func(r *http.Request) bool

	mu      sync.Mutex
	answers map[string]answer
	keys    []string
}

type answer struct {
	status int
	text   string
}

// NewService returns a Service backed by token.
func NewService(token *asset.Memory) *Service {
	return &Service{Token: token, answers: map[string]answer{}}
}

// Keys returns the idempotency keys of every transfer request received, in order.
func (s *Service) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && (r.URL.Path == asset.TransferPath || r.URL.Path == asset.TransferFromPath):
		s.transfer(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, asset.BalancesPath):
		b, _ := s.Token.BalanceOf(r.Context(), types.Identity(strings.TrimPrefix(r.URL.Path, asset.BalancesPath)))
		_ = json.NewEncoder(w).Encode(asset.BalanceResponse{Balance: b})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, asset.AllowancesPath):
		owner, spender, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, asset.AllowancesPath), "/")
		a, _ := s.Token.Allowance(r.Context(), types.Identity(owner), types.Identity(spender))
		_ = json.NewEncoder(w).Encode(asset.AllowanceResponse{Allowance: a})
	default:
		reply(w, answer{http.StatusNotFound, "no such route"})
	}
}

func (s *Service) transfer(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(asset.IdempotencyHeader)

	// the lock spans the transfer so two attempts with one key cannot both apply
	s.mu.Lock()
	s.keys = append(s.keys, key)
	if prev, ok := s.answers[key]; ok && key != "" {
		s.mu.Unlock()
		reply(w, prev)
		return
	}
	out := s.apply(r)
	if key != "" {
		s.answers[key] = out
	}
	s.mu.Unlock()

	if out.status == http.StatusOK && s.LoseReply != nil && s.LoseReply(r) {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	reply(w, out)
}

func (s *Service) apply(r *http.Request) answer {
	var req asset.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return answer{http.StatusBadRequest, err.Error()}
	}
	var err error
	if r.URL.Path == asset.TransferPath {
		err = s.Token.Transfer(r.Context(), req.From, req.To, req.Amount)
	} else {
		err = s.Token.TransferFrom(r.Context(), req.Spender, req.From, req.To, req.Amount)
	}
	if err != nil {
		return answer{http.StatusUnprocessableEntity, err.Error()}
	}
	return answer{status: http.StatusOK}
}

func reply(w http.ResponseWriter, a answer) {
	w.WriteHeader(a.status)
	if a.text != "" {
		_ = json.NewEncoder(w).Encode(asset.ErrorBody{Error: a.text})
	}
}
