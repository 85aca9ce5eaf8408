package generic_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// versionedStore is a minimal BalanceStore honoring the compare-and-apply
// contract, enough to exercise the Ledger without a database.
type versionedStore struct {
	mu       sync.Mutex
	balances map[generic.BalanceKey]generic.Balance
}

func newVersionedStore() *versionedStore {
	return &versionedStore{balances: make(map[generic.BalanceKey]generic.Balance)}
}

func (s *versionedStore) GetBalance(_ context.Context, key generic.BalanceKey) (*generic.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[key]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *versionedStore) InsertBalance(_ context.Context, b generic.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.balances[b.Key]; ok {
		return generic.Conflict("balance %s exists", b.Key)
	}
	s.balances[b.Key] = b
	return nil
}

func (s *versionedStore) UpdateBalance(_ context.Context, b generic.Balance, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.balances[b.Key]
	if !ok || cur.Version != expected {
		return generic.Conflict("balance %s changed", b.Key)
	}
	s.balances[b.Key] = b
	return nil
}

// =============================================================================
// LEDGER TESTS
// =============================================================================

func TestLedger_Reserve_LazilyCreatesBalance(t *testing.T) {
	ctx := context.Background()
	store := newVersionedStore()
	ledger := generic.NewLedger(store)

	b, err := ledger.Reserve(ctx, "ws-1", alKey, days(20), days(5))
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.Version)
	assert.NotEmpty(t, b.ID)
	assert.True(t, b.TotalQuota.Equal(days(20)))
	assert.True(t, b.Available.Equal(days(15)))

	b, err = ledger.CommitUsed(ctx, "ws-1", alKey, days(5))
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.Version)
	assert.True(t, b.Used.Equal(days(5)))
}

func TestLedger_FailedOperation_WritesNothing(t *testing.T) {
	ctx := context.Background()
	store := newVersionedStore()
	ledger := generic.NewLedger(store)

	_, err := ledger.Reserve(ctx, "ws-1", alKey, days(3), days(5))
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)

	stored, err := store.GetBalance(ctx, alKey)
	require.NoError(t, err)
	assert.Nil(t, stored, "no balance must be created by a rejected reservation")
}

func TestLedger_CommitWithoutReservation_Rejected(t *testing.T) {
	ledger := generic.NewLedger(newVersionedStore())
	_, err := ledger.CommitUsed(context.Background(), "ws-1", alKey, days(1))
	assert.ErrorIs(t, err, generic.ErrConflict)
}

func TestLedger_OtherWorkspace_NotFound(t *testing.T) {
	ctx := context.Background()
	ledger := generic.NewLedger(newVersionedStore())

	_, err := ledger.Reserve(ctx, "ws-a", alKey, days(20), days(1))
	require.NoError(t, err)

	_, err = ledger.Reserve(ctx, "ws-b", alKey, days(20), days(1))
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestLedger_StaleVersion_Conflict(t *testing.T) {
	// GIVEN: A store whose balance was bumped behind the ledger's back
	// WHEN: The ledger writes based on the version it read
	// THEN: ErrConflict, the concurrent commit is preserved

	ctx := context.Background()
	store := newVersionedStore()
	ledger := generic.NewLedger(store)
	_, err := ledger.Reserve(ctx, "ws-1", alKey, days(20), days(1))
	require.NoError(t, err)

	racing := &racingStore{versionedStore: store}
	_, err = generic.NewLedger(racing).Reserve(ctx, "ws-1", alKey, days(20), days(1))
	assert.ErrorIs(t, err, generic.ErrConflict)
	assert.True(t, generic.IsRetryable(err))

	b, _ := store.GetBalance(ctx, alKey)
	assert.True(t, b.Pending.Equal(days(2)), "only the concurrent write is applied")
}

// racingStore simulates another writer committing between read and write.
type racingStore struct {
	*versionedStore
}

func (r *racingStore) UpdateBalance(ctx context.Context, b generic.Balance, expected int64) error {
	cur, _ := r.versionedStore.GetBalance(ctx, b.Key)
	other, err := cur.Reserve(days(1))
	if err != nil {
		return err
	}
	other.Version = cur.Version + 1
	if err := r.versionedStore.UpdateBalance(ctx, other, cur.Version); err != nil {
		return err
	}
	return r.versionedStore.UpdateBalance(ctx, b, expected)
}

func TestLedger_ApplyCarryForward_CreatesTargetYear(t *testing.T) {
	// GIVEN: 2025 balance with 8 available, cap 5
	// WHEN: Carry forward into 2026
	// THEN: 2026 balance created with carried 5, total quota 25

	ctx := context.Background()
	ledger := generic.NewLedger(newVersionedStore())

	_, err := ledger.Reserve(ctx, "ws-1", alKey, days(20), days(12))
	require.NoError(t, err)
	_, err = ledger.CommitUsed(ctx, "ws-1", alKey, days(12))
	require.NoError(t, err)

	res, err := ledger.ApplyCarryForward(ctx, "ws-1", alKey, days(20), days(5))
	require.NoError(t, err)
	assert.True(t, res.Carried.Equal(days(5)))
	assert.Equal(t, 2026, res.To.Key.Year)
	assert.True(t, res.To.CarriedForward.Equal(days(5)))
	assert.True(t, res.To.TotalQuota.Equal(days(25)))
	assert.True(t, res.To.Used.IsZero())
	assert.True(t, res.To.Pending.IsZero())
}

func TestLedger_ApplyCarryForward_UnusedSourceYear(t *testing.T) {
	// GIVEN: No 2025 balance was ever stored (nothing taken that year)
	// WHEN: Carry forward into 2026 with cap 5
	// THEN: The source counts as 20 unused, 5 is carried, and only the
	//       2026 balance is written

	ctx := context.Background()
	store := newVersionedStore()
	ledger := generic.NewLedger(store)

	res, err := ledger.ApplyCarryForward(ctx, "ws-1", alKey, days(20), days(5))
	require.NoError(t, err)
	assert.True(t, res.Carried.Equal(days(5)))
	assert.True(t, res.From.Available.Equal(days(20)))
	assert.Equal(t, int64(0), res.From.Version)
	assert.True(t, res.To.TotalQuota.Equal(days(25)))
	assert.True(t, res.To.Available.Equal(days(25)))
	assert.Equal(t, int64(1), res.To.Version)

	source, err := ledger.Load(ctx, "ws-1", alKey)
	require.NoError(t, err)
	assert.Nil(t, source)
}

func TestLedger_ApplyCarryForward_UnusedSourceYear_NoCap(t *testing.T) {
	// GIVEN: No stored 2025 balance and no cap
	// WHEN: Carry forward
	// THEN: The whole annual quota moves forward

	ledger := generic.NewLedger(newVersionedStore())
	res, err := ledger.ApplyCarryForward(context.Background(), "ws-1", alKey, days(20), days(0))
	require.NoError(t, err)
	assert.True(t, res.Carried.Equal(days(20)))
	assert.True(t, res.To.TotalQuota.Equal(days(40)))
}

// =============================================================================
// KEY LOCKER
// =============================================================================

func TestKeyLocker_SerializesSameKey(t *testing.T) {
	locker := generic.NewKeyLocker()
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, alKey)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := locker.Lock(ctx, alKey)
		if err == nil {
			close(acquired)
			u()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestKeyLocker_DifferentKeysIndependent(t *testing.T) {
	locker := generic.NewKeyLocker()
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, alKey)
	require.NoError(t, err)
	defer unlock()

	other := alKey.Next()
	u, err := locker.Lock(ctx, other)
	require.NoError(t, err)
	u()
}

func TestKeyLocker_ContextCancelled(t *testing.T) {
	locker := generic.NewKeyLocker()
	unlock, err := locker.Lock(context.Background(), alKey)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, alKey.Next(), alKey)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The partially acquired key must have been released.
	u, err := locker.Lock(context.Background(), alKey.Next())
	require.NoError(t, err)
	u()
}
