// Package memory keeps pool snapshots in process memory. State is lost on restart.
package memory

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/canopy-network/mutualpool/pkg/pool/insurance"
)

// Store is an insurance.Store backed by a concurrent map keyed by pool id.
type Store struct {
	pools *xsync.Map[string, insurance.Snapshot]
}

func NewStore() *Store {
	return &Store{pools: xsync.NewMap[string, insurance.Snapshot]()}
}

func (s *Store) Load(_ context.Context, poolID string) (*insurance.Snapshot, error) {
	snap, ok := s.pools.Load(poolID)
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (s *Store) Save(_ context.Context, poolID string, snap insurance.Snapshot) error {
	var conflict error
	s.pools.Compute(poolID, func(old insurance.Snapshot, loaded bool) (insurance.Snapshot, xsync.ComputeOp) {
		var current uint64
		if loaded {
			current = old.Version
		}
		if snap.Version != current+1 {
			conflict = fmt.Errorf("%w: pool %s stored %d, saving %d", insurance.ErrVersionConflict, poolID, current, snap.Version)
			return old, xsync.CancelOp
		}
		return snap, xsync.UpdateOp
	})
	return conflict
}

// Pools returns the ids of every stored pool.
func (s *Store) Pools() []string {
	var ids []string
	s.pools.Range(func(id string, _ insurance.Snapshot) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}
