package ledger

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"ledgerd/internal/core"
)

// LockMap hands out one exclusive lock per wallet id. Acquisition honors the
// caller's context deadline, so a lock wait turns into core.ErrBusy instead
// of blocking forever.
//
// Entries are never removed; the map is bounded by the number of wallets the
// process has touched.
type LockMap struct {
	mu    sync.Mutex
	locks map[int64]*semaphore.Weighted
}

func NewLockMap() *LockMap {
	return &LockMap{locks: make(map[int64]*semaphore.Weighted)}
}

func (m *LockMap) lockFor(walletID int64) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()

	sem, ok := m.locks[walletID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		m.locks[walletID] = sem
	}
	return sem
}

// Acquire takes the exclusive lock for a wallet. The returned release
// function must be called exactly once. Movements on the same wallet are
// totally ordered by acquisition order; unrelated wallets never contend.
func (m *LockMap) Acquire(ctx context.Context, walletID int64) (release func(), err error) {
	sem := m.lockFor(walletID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, core.ErrBusy
	}
	return func() { sem.Release(1) }, nil
}

// AcquirePair takes the locks for two wallets in ascending id order. The
// fixed global order prevents deadlock against a concurrent pair acquisition
// in the opposite direction.
func (m *LockMap) AcquirePair(ctx context.Context, a, b int64) (release func(), err error) {
	ids := []int64{a, b}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	first, err := m.Acquire(ctx, ids[0])
	if err != nil {
		return nil, err
	}
	second, err := m.Acquire(ctx, ids[1])
	if err != nil {
		first()
		return nil, err
	}
	return func() {
		second()
		first()
	}, nil
}
