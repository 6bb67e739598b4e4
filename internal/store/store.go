// Package store persists per-account risk snapshots so the trailing
// drawdown and cumulative P&L survive restarts. Redis is preferred; the
// in-memory implementation keeps single-process deployments working
// without infrastructure.
package store

import (
	"context"
	"sync"

	"github.com/ZeusMX2125/topstep-engine/internal/risk"
)

// SnapshotRepo stores the governor state that must outlive the process.
type SnapshotRepo interface {
	Save(ctx context.Context, account string, snap risk.Snapshot) error
	Load(ctx context.Context, account string) (risk.Snapshot, bool, error)
}

// MemorySnapshotRepo is the fallback used when no Redis address is
// configured. State lives only as long as the process.
type MemorySnapshotRepo struct {
	mu    sync.RWMutex
	snaps map[string]risk.Snapshot
}

func NewMemorySnapshotRepo() *MemorySnapshotRepo {
	return &MemorySnapshotRepo{snaps: make(map[string]risk.Snapshot)}
}

func (m *MemorySnapshotRepo) Save(ctx context.Context, account string, snap risk.Snapshot) error {
	m.mu.Lock()
	m.snaps[account] = snap
	m.mu.Unlock()
	return nil
}

func (m *MemorySnapshotRepo) Load(ctx context.Context, account string) (risk.Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[account]
	return snap, ok, nil
}
