package insurance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/mutualpool/pkg/pool/claims"
	"github.com/canopy-network/mutualpool/pkg/pool/membership"
	"github.com/canopy-network/mutualpool/pkg/pool/types"
)

// ErrVersionConflict is returned by a Store when the stored snapshot is not the one the save was based on.
var ErrVersionConflict = errors.New("pool state version conflict")

// Snapshot is the complete durable state of a pool.
type Snapshot struct {
	Version  uint64           `json:"version"`
	Admins   []types.Identity `json:"admins"`
	Frozen   bool             `json:"frozen"`
	Registry membership.State `json:"registry"`
	Ledger   claims.State     `json:"ledger"`
	SavedAt  time.Time        `json:"savedAt"`
}

// Validate rejects a snapshot that would break the pool's invariants once loaded,
// such as one edited by hand in the state table.
func (s Snapshot) Validate() error {
	if len(s.Admins) == 0 {
		return errors.New("snapshot has no admins")
	}
	seen := make(map[types.Identity]struct{}, len(s.Admins))
	for _, id := range s.Admins {
		if id.Empty() {
			return errors.New("snapshot has a blank admin")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("admin %s appears twice", id)
		}
		seen[id] = struct{}{}
	}
	if err := s.Registry.Validate(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	if err := s.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

// Store persists snapshots. Save must reject a snapshot whose Version is not
// exactly one above the stored one with ErrVersionConflict. Load returns nil
// when nothing has been saved for the pool yet.
type Store interface {
	Load(ctx context.Context, poolID string) (*Snapshot, error)
	Save(ctx context.Context, poolID string, snap Snapshot) error
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot()
}

func (o *Orchestrator) snapshot() Snapshot {
	return Snapshot{
		Version:  o.version,
		Admins:   o.sortedAdmins(),
		Frozen:   o.frozen,
		Registry: o.registry.State(),
		Ledger:   o.ledger.State(),
		SavedAt:  time.Now().UTC(),
	}
}

// restore replaces admins, freeze and both components. The version is left alone.
func (o *Orchestrator) restore(s Snapshot) {
	o.admins = make(map[types.Identity]struct{}, len(s.Admins))
	for _, id := range s.Admins {
		o.admins[id] = struct{}{}
	}
	o.frozen = s.Frozen
	o.registry.Restore(s.Registry)
	o.ledger.Restore(s.Ledger)
}
