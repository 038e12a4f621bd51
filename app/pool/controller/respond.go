package controller

import (
	"errors"
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"

	"github.com/canopy-network/mutualpool/app/pool/controller/types"
	"github.com/canopy-network/mutualpool/pkg/asset"
	pooltypes "github.com/canopy-network/mutualpool/pkg/pool/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps a pool error onto an HTTP status by its kind.
func StatusFor(err error) int {
	switch pooltypes.KindOf(err) {
	case pooltypes.KindAuthorization:
		return http.StatusForbidden
	case pooltypes.KindFreezeActive, pooltypes.KindInvalidState:
		return http.StatusConflict
	case pooltypes.KindNotFound:
		return http.StatusNotFound
	case pooltypes.KindInvalidArgument:
		return http.StatusBadRequest
	case pooltypes.KindInsufficientFunds:
		return http.StatusPaymentRequired
	}
	var remote *asset.RemoteError
	if errors.As(err, &remote) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError answers with the failure text unchanged and its registry code.
func (c *Controller) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		c.App.Logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	} else {
		c.App.Logger.Debug("Request rejected",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	writeJSON(w, status, types.ErrorResponse{Error: err.Error(), Code: pooltypes.CodeOf(err)})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: msg})
}
