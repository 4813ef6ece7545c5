package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/panvault/pkg/cache"
	"github.com/yeisme/panvault/pkg/configs"
	"github.com/yeisme/panvault/pkg/internal/model"
	"github.com/yeisme/panvault/pkg/internal/types"
)

func TestQuotaLedger_GetAccountMaterializes(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	active := readyFile("alice", "f1", "a.bin", "aa", 100)
	recycled := readyFile("alice", "f2", "b.bin", "bb", 50)
	recycled.DelFlag = types.DelFlagRecycled
	purged := readyFile("alice", "f3", "c.bin", "cc", 70)
	failed := readyFile("alice", "f4", "d.bin", "dd", 30)
	failed.Status = types.FileStatusTransferFailed

	for _, f := range []*model.FileInfo{active, recycled, purged, failed} {
		e.addFile(t, f)
	}

	// del_flag 带默认值，Purged(0) 只能通过更新写入
	_, err := e.store.Files().MarkPurged(ctx, "alice", []string{"f3"})
	require.NoError(t, err)

	acc, err := e.ledger.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 150, acc.UsedBytes, "active + recycled, purged and failed excluded")
	assert.EqualValues(t, configs.MB, acc.TotalBytes)

	cached, err := cache.Get[QuotaAccount](ctx, e.cache, spaceKey("alice"))
	require.NoError(t, err)
	assert.Equal(t, acc, cached)

	_, err = e.ledger.GetAccount(ctx, "")
	assert.ErrorIs(t, err, ErrUserRequired)
}

func TestQuotaLedger_CommitBoundary(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.setSpace(t, "alice", 0, 1000)

	require.NoError(t, e.ledger.Commit(ctx, "alice", 1000), "exactly at the cap")
	assert.ErrorIs(t, e.ledger.Commit(ctx, "alice", 1), ErrQuotaExceeded)
	require.NoError(t, e.ledger.Commit(ctx, "alice", 0), "zero delta is a no-op")

	acc, err := e.ledger.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 1000, acc.UsedBytes)
	assert.LessOrEqual(t, acc.UsedBytes, acc.TotalBytes)

	assert.ErrorIs(t, e.ledger.Commit(ctx, "alice", -1), ErrInvalidRequest)
}

func TestQuotaLedger_ConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.setSpace(t, "alice", 0, 1000)

	var (
		wg       sync.WaitGroup
		ok       atomic.Int32
		rejected atomic.Int32
	)

	for range 25 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			switch err := e.ledger.Commit(ctx, "alice", 100); err {
			case nil:
				ok.Add(1)
			case ErrQuotaExceeded:
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	assert.EqualValues(t, 10, ok.Load())
	assert.EqualValues(t, 15, rejected.Load())
	assert.EqualValues(t, 1000, e.account(t, "alice").UsedBytes)
}

func TestQuotaLedger_ReleaseNeverNegative(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.setSpace(t, "alice", 100, 1000)

	e.ledger.Release(ctx, "alice", 40)
	assert.EqualValues(t, 60, e.account(t, "alice").UsedBytes)

	e.ledger.Release(ctx, "alice", 500)
	assert.EqualValues(t, 0, e.account(t, "alice").UsedBytes)

	acc, err := e.ledger.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 0, acc.UsedBytes, "cache refreshed after release")
}

func TestQuotaLedger_Provisional(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.setSpace(t, "alice", 0, 100)

	n, err := e.ledger.ReserveProvisional(ctx, "alice", "f1", 10)
	require.NoError(t, err)
	assert.EqualValues(t, 10, n)

	n, err = e.ledger.ReserveProvisional(ctx, "alice", "f1", 20)
	require.NoError(t, err)
	assert.EqualValues(t, 30, n)
	assert.EqualValues(t, 30, e.ledger.ProvisionalBytes(ctx, "alice", "f1"))

	fits, err := e.ledger.CheckCapacity(ctx, "alice", "f1", 70)
	require.NoError(t, err)
	assert.True(t, fits)

	fits, err = e.ledger.CheckCapacity(ctx, "alice", "f1", 71)
	require.NoError(t, err)
	assert.False(t, fits)

	fits, err = e.ledger.CheckCapacity(ctx, "alice", "f2", 100)
	require.NoError(t, err)
	assert.True(t, fits, "provisional usage of other files is not counted")

	e.ledger.ClearProvisional(ctx, "alice", "f1")
	assert.EqualValues(t, 0, e.ledger.ProvisionalBytes(ctx, "alice", "f1"))
	assert.EqualValues(t, 0, e.account(t, "alice").UsedBytes, "provisional never touches used_bytes")
}

func TestQuotaLedger_Reconcile(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	e.addFile(t, readyFile("alice", "f1", "a.bin", "aa", 300))

	_, err := e.ledger.GetAccount(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, e.store.Spaces().SetUsed(ctx, "alice", 999))

	before, after, err := e.ledger.Reconcile(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 999, before)
	assert.EqualValues(t, 300, after)
	e.assertReconciled(t, "alice")

	acc, err := e.ledger.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 300, acc.UsedBytes)
}

func TestQuotaLedger_CacheDownFallsBackToDB(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.setSpace(t, "alice", 10, 100)

	c := cache.NewCache(failingKV{}, cache.WithBreaker("quota-test", configs.CircuitBreakerConfig{
		Enabled: true, FailureRate: 0.5, MinRequests: 2, IntervalSeconds: 60, TimeoutSeconds: 60, MaxRequestsInHalf: 1,
	}))
	ledger := NewQuotaLedger(e.store, c, testQuotaConfig())

	for range 5 {
		acc, err := ledger.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.EqualValues(t, 10, acc.UsedBytes)
	}

	assert.Equal(t, "open", c.State())

	require.NoError(t, ledger.Commit(ctx, "alice", 90), "commit is authoritative without the cache")
	assert.ErrorIs(t, ledger.Commit(ctx, "alice", 1), ErrQuotaExceeded)
}
