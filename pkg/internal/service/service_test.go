package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yeisme/panvault/pkg/cache"
	"github.com/yeisme/panvault/pkg/configs"
	"github.com/yeisme/panvault/pkg/internal/model"
	"github.com/yeisme/panvault/pkg/internal/repository"
	"github.com/yeisme/panvault/pkg/internal/storage/kv"
	"github.com/yeisme/panvault/pkg/internal/storage/staging"
	"github.com/yeisme/panvault/pkg/internal/testutil"
	"github.com/yeisme/panvault/pkg/internal/types"
)

// recordingFinalizer 记录投递的合并任务，err 非空时投递失败.
type recordingFinalizer struct {
	mu   sync.Mutex
	reqs []FinalizeRequest
	err  error
}

func (f *recordingFinalizer) RequestFinalize(_ context.Context, req FinalizeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}

	f.reqs = append(f.reqs, req)

	return nil
}

func (f *recordingFinalizer) requests() []FinalizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]FinalizeRequest(nil), f.reqs...)
}

type testEnv struct {
	store     *repository.Store
	kv        kv.KVStore
	cache     *cache.Cache
	ledger    *QuotaLedger
	staging   *staging.Store
	finalizer *recordingFinalizer
	uploads   *UploadManager
	lifecycle *LifecycleService
}

func testQuotaConfig() configs.QuotaConfig {
	return configs.QuotaConfig{
		UserInitSpaceMB: 1,
		AccountTTL:      time.Hour,
		ProvisionalTTL:  time.Hour,
		KeyPrefix:       "pv:",
	}
}

func testUploadConfig(root string) configs.UploadConfig {
	return configs.UploadConfig{
		StagingRoot:       root,
		SessionTTL:        time.Hour,
		MaxSessions:       128,
		LockStripes:       8,
		MaxChunkMB:        1,
		StagingGCInterval: time.Minute,
	}
}

func testLifecycleConfig() configs.LifecycleConfig {
	return configs.LifecycleConfig{
		Retention:        10 * 24 * time.Hour,
		SweepInterval:    time.Minute,
		SweepBatchSize:   2,
		SweepConcurrency: 2,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := repository.NewStore(testutil.NewDB(t).DB)
	kvStore := testutil.NewKV(t)
	c := cache.NewCache(kvStore, cache.WithPrefix("pv:"))

	stage, err := staging.New(t.TempDir())
	require.NoError(t, err)

	ledger := NewQuotaLedger(store, c, testQuotaConfig())
	fin := &recordingFinalizer{}

	return &testEnv{
		store:     store,
		kv:        kvStore,
		cache:     c,
		ledger:    ledger,
		staging:   stage,
		finalizer: fin,
		uploads:   NewUploadManager(store, ledger, NewDedupResolver(store), stage, fin, testUploadConfig(stage.Root())),
		lifecycle: NewLifecycleService(store, ledger, testLifecycleConfig(), nil),
	}
}

// setSpace 直接初始化用户空间行.
func (e *testEnv) setSpace(t *testing.T, user string, used, total int64) {
	t.Helper()

	_, err := e.store.Spaces().Ensure(context.Background(), user, used, total)
	require.NoError(t, err)
}

func (e *testEnv) account(t *testing.T, user string) QuotaAccount {
	t.Helper()

	space, err := e.store.Spaces().Get(context.Background(), user)
	require.NoError(t, err)

	return QuotaAccount{UsedBytes: space.UsedBytes, TotalBytes: space.TotalBytes}
}

func (e *testEnv) addFile(t *testing.T, f *model.FileInfo) {
	t.Helper()
	require.NoError(t, e.store.Files().Create(context.Background(), f))
}

func (e *testEnv) getFile(t *testing.T, user, id string) *model.FileInfo {
	t.Helper()

	f, err := e.store.Files().Get(context.Background(), user, id)
	require.NoError(t, err)

	return f
}

// assertReconciled 已用空间必须等于持久化记录的合计.
func (e *testEnv) assertReconciled(t *testing.T, user string) {
	t.Helper()

	sum, err := e.store.Files().SumCounted(context.Background(), user)
	require.NoError(t, err)
	require.Equal(t, sum, e.account(t, user).UsedBytes, "used_bytes must equal the persistent sum")
}

func readyFile(user, id, name, md5 string, size int64) *model.FileInfo {
	return &model.FileInfo{
		FileID: id, UserID: user, FilePid: RootFolderID, FileMD5: md5, FileSize: size,
		FileName: name, FilePath: "202401/" + md5, FileCategory: types.CategoryOthers,
		FileType: types.FileTypeOthers, Status: types.FileStatusReady, DelFlag: types.DelFlagActive,
	}
}

func hashOf(parts ...[]byte) string {
	h := md5.New()
	for _, p := range parts {
		h.Write(p)
	}

	return hex.EncodeToString(h.Sum(nil))
}

func chunkReq(user, file, name, hash string, idx, total int, data []byte) UploadChunkRequest {
	return UploadChunkRequest{
		UserID:      user,
		FileID:      file,
		FileName:    name,
		ContentHash: hash,
		ChunkIndex:  idx,
		TotalChunks: total,
		ChunkSize:   int64(len(data)),
		Chunk:       bytes.NewReader(data),
	}
}

// errReader 读到一半失败.
type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

// failingKV Get/Set/Delete 全部失败，模拟缓存不可用.
type failingKV struct{ kv.KVStore }

var errKVDown = errors.New("kv down")

func (failingKV) Get(context.Context, string) ([]byte, error) { return nil, errKVDown }

func (failingKV) Set(context.Context, string, []byte, time.Duration) error { return errKVDown }

func (failingKV) Delete(context.Context, string) error { return errKVDown }
