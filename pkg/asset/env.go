package asset

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/canopy-network/mutualpool/pkg/pool/types"
	"github.com/canopy-network/mutualpool/pkg/utils"
)

// NewFromEnv builds the asset backend named by ASSET_BACKEND.
// The memory backend is seeded from ASSET_SEED as identity=amount pairs.
func NewFromEnv(logger *zap.Logger) (Token, error) {
	switch backend := utils.Env("ASSET_BACKEND", "memory"); backend {
	case "http":
		endpoints := utils.EnvList("ASSET_ENDPOINTS")
		if len(endpoints) == 0 {
			return nil, fmt.Errorf("ASSET_BACKEND=http requires ASSET_ENDPOINTS")
		}
		return NewHTTPClient(Opts{
			Endpoints:       endpoints,
			Timeout:         utils.EnvDuration("ASSET_TIMEOUT", 0),
			RPS:             utils.EnvInt("ASSET_RPS", 0),
			Burst:           utils.EnvInt("ASSET_BURST", 0),
			BreakerFailures: utils.EnvInt("ASSET_BREAKER_FAILURES", 0),
			BreakerCooldown: utils.EnvDuration("ASSET_BREAKER_COOLDOWN", 0),
			Logger:          logger,
		}), nil
	case "memory":
		seed := map[types.Identity]types.Amount{}
		for id, raw := range utils.EnvPairs("ASSET_SEED") {
			amount, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				logger.Warn("Skipping invalid ASSET_SEED balance", zap.String("identity", id), zap.String("amount", raw))
				continue
			}
			seed[types.Identity(id)] = amount
		}
		logger.Info("Using in-memory asset", zap.Int("seeded", len(seed)))
		return NewMemory(seed), nil
	default:
		return nil, fmt.Errorf("unknown asset backend %q", backend)
	}
}
