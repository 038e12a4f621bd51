package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/canopy-network/mutualpool/pkg/pool/insurance"
)

const stateSchema = `
CREATE TABLE IF NOT EXISTS pool_state (
	pool_id    TEXT PRIMARY KEY,
	version    BIGINT NOT NULL,
	state      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pool_state_history (
	pool_id     TEXT NOT NULL,
	version     BIGINT NOT NULL,
	frozen      BOOLEAN NOT NULL,
	members     INTEGER NOT NULL,
	claims      INTEGER NOT NULL,
	open_claims INTEGER NOT NULL,
	saved_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (pool_id, version)
);
`

// StateStore keeps one JSONB snapshot row per pool and a compact history of every saved version.
type StateStore struct {
	Client
}

// NewStateStore connects and creates the tables if they are missing.
func NewStateStore(ctx context.Context, logger *zap.Logger, component string) (*StateStore, error) {
	client, err := New(ctx, logger.With(zap.String("component", component)), GetPoolConfigForComponent(component))
	if err != nil {
		return nil, err
	}
	s := &StateStore{Client: client}
	if err := s.Exec(ctx, stateSchema); err != nil {
		client.Close()
		return nil, fmt.Errorf("create pool_state tables: %w", err)
	}
	return s, nil
}

// Load returns the stored snapshot of poolID, nil when the pool has never been saved.
func (s *StateStore) Load(ctx context.Context, poolID string) (*insurance.Snapshot, error) {
	var raw []byte
	err := s.QueryRow(ctx, `SELECT state FROM pool_state WHERE pool_id = $1`, poolID).Scan(&raw)
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pool_state %s: %w", poolID, err)
	}
	var snap insurance.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode pool_state %s: %w", poolID, err)
	}
	return &snap, nil
}

// Save writes snap when it is the direct successor of the stored version.
func (s *StateStore) Save(ctx context.Context, poolID string, snap insurance.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode pool_state %s: %w", poolID, err)
	}

	return s.BeginFunc(ctx, func(tx pgx.Tx) error {
		var current uint64
		err := tx.QueryRow(ctx, `SELECT version FROM pool_state WHERE pool_id = $1 FOR UPDATE`, poolID).Scan(&current)
		if err != nil && !IsNoRows(err) {
			return fmt.Errorf("read pool_state version %s: %w", poolID, err)
		}
		if snap.Version != current+1 {
			return fmt.Errorf("%w: pool %s stored %d, saving %d", insurance.ErrVersionConflict, poolID, current, snap.Version)
		}

		batch := &pgx.Batch{}
		batch.Queue(`
			INSERT INTO pool_state (pool_id, version, state, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (pool_id) DO UPDATE
			SET version = EXCLUDED.version, state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
			poolID, snap.Version, payload, snap.SavedAt)
		batch.Queue(`
			INSERT INTO pool_state_history (pool_id, version, frozen, members, claims, open_claims, saved_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			poolID, snap.Version, snap.Frozen, len(snap.Registry.Members), len(snap.Ledger.Events), snap.Ledger.Open, snap.SavedAt)

		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("save pool_state %s v%d: %w", poolID, snap.Version, err)
			}
		}
		return results.Close()
	})
}

// Version returns the stored version of poolID, 0 when it has never been saved.
func (s *StateStore) Version(ctx context.Context, poolID string) (uint64, error) {
	var v uint64
	err := s.QueryRow(ctx, `SELECT version FROM pool_state WHERE pool_id = $1`, poolID).Scan(&v)
	if IsNoRows(err) {
		return 0, nil
	}
	return v, err
}
