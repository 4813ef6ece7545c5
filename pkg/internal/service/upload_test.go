package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/panvault/pkg/internal/types"
)

func payload(n int, b byte) []byte { return bytes.Repeat([]byte{b}, n) }

func TestUpload_CompletesAndHandsOff(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	parts := [][]byte{payload(100, 'a'), payload(100, 'b'), payload(50, 'c')}
	hash := hashOf(parts...)

	for i, p := range parts[:2] {
		res, err := e.uploads.Upload(ctx, chunkReq("alice", "f1", "movie.mp4", hash, i, 3, p))
		require.NoError(t, err)
		assert.Equal(t, OutcomePendingMoreChunks, res.Outcome)
	}

	assert.EqualValues(t, 200, e.ledger.ProvisionalBytes(ctx, "alice", "f1"))
	assert.EqualValues(t, 0, e.account(t, "alice").UsedBytes, "nothing committed before completion")

	res, err := e.uploads.Upload(ctx, chunkReq("alice", "f1", "movie.mp4", hash, 2, 3, parts[2]))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "f1", res.FileID)

	rec := e.getFile(t, "alice", "f1")
	assert.Equal(t, types.FileStatusTransferring, rec.Status)
	assert.Equal(t, types.DelFlagActive, rec.DelFlag)
	assert.EqualValues(t, 250, rec.FileSize)
	assert.Equal(t, types.CategoryVideo, rec.FileCategory)
	assert.Regexp(t, regexp.MustCompile(`^\d{6}/`+hash+`$`), rec.FilePath)

	assert.EqualValues(t, 250, e.account(t, "alice").UsedBytes)
	assert.EqualValues(t, 0, e.ledger.ProvisionalBytes(ctx, "alice", "f1"))
	e.assertReconciled(t, "alice")

	reqs := e.finalizer.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 3, reqs[0].Chunks)
	assert.EqualValues(t, 250, reqs[0].Size)
	assert.Equal(t, rec.FilePath, reqs[0].PhysicalPath)
	assert.Equal(t, hash, reqs[0].ContentHash)

	chunks, err := e.staging.Chunks("alice", "f1")
	require.NoError(t, err)
	assert.Len(t, chunks, 3, "staging is kept for the worker")

	require.NoError(t, e.uploads.CompleteFinalization(ctx, FinalizeResult{UserID: "alice", FileID: "f1"}))
	assert.Equal(t, types.FileStatusReady, e.getFile(t, "alice", "f1").Status)

	chunks, err = e.staging.Chunks("alice", "f1")
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Equal(t, 0, e.uploads.ActiveSessions())
}

// 总空间 5000，3 个 2000 字节的分片：第三片预检失败，已暂存的分片被丢弃.
func TestUpload_QuotaExhaustedMidTransfer(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.setSpace(t, "alice", 0, 5000)

	parts := [][]byte{payload(2000, 'x'), payload(2000, 'y'), payload(2000, 'z')}
	hash := hashOf(parts...)

	for i := range 2 {
		res, err := e.uploads.Upload(ctx, chunkReq("alice", "big", "big.iso", hash, i, 3, parts[i]))
		require.NoError(t, err)
		assert.Equal(t, OutcomePendingMoreChunks, res.Outcome)
	}

	assert.EqualValues(t, 4000, e.ledger.ProvisionalBytes(ctx, "alice", "big"))

	_, err := e.uploads.Upload(ctx, chunkReq("alice", "big", "big.iso", hash, 2, 3, parts[2]))
	require.ErrorIs(t, err, ErrQuotaExceeded)

	chunks, err := e.staging.Chunks("alice", "big")
	require.NoError(t, err)
	assert.Empty(t, chunks, "staging discarded")
	assert.EqualValues(t, 0, e.ledger.ProvisionalBytes(ctx, "alice", "big"))
	assert.EqualValues(t, 0, e.account(t, "alice").UsedBytes)

	_, err = e.store.Files().Get(ctx, "alice", "big")
	assert.Error(t, err, "no file record")
	assert.Empty(t, e.finalizer.requests())
}

func TestUpload_ChunkRetryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	hash := hashOf(payload(100, 'a'), payload(100, 'b'))

	for range 3 {
		_, err := e.uploads.Upload(ctx, chunkReq("alice", "f1", "a.txt", hash, 0, 2, payload(100, 'a')))
		require.NoError(t, err)
	}

	assert.EqualValues(t, 100, e.ledger.ProvisionalBytes(ctx, "alice", "f1"), "re-sent chunk reserves only once")

	_, err := e.uploads.Upload(ctx, chunkReq("alice", "f1", "a.txt", hash, 0, 2, payload(60, 'a')))
	require.NoError(t, err)
	assert.EqualValues(t, 60, e.ledger.ProvisionalBytes(ctx, "alice", "f1"), "smaller retry shrinks the reservation")

	res, err := e.uploads.Upload(ctx, chunkReq("alice", "f1", "a.txt", hash, 1, 2, payload(100, 'b')))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.EqualValues(t, 160, e.account(t, "alice").UsedBytes)

	// 完成之后迟到的重试
	res, err = e.uploads.Upload(ctx, chunkReq("alice", "f1", "a.txt", hash, 1, 2, payload(100, 'b')))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.EqualValues(t, 160, e.account(t, "alice").UsedBytes, "late retry commits nothing")
	assert.Len(t, e.finalizer.requests(), 1)
}

func TestUpload_InstantDedupSkipsStaging(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	hash := hashOf(payload(500, 'd'))
	e.addFile(t, readyFile("bob", "donor", "src.bin", hash, 500))

	req := chunkReq("alice", "copy", "dst.bin", hash, 0, 5, payload(100, 'd'))
	req.FileSize = 500

	res, err := e.uploads.Upload(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInstantComplete, res.Outcome)

	rec := e.getFile(t, "alice", "copy")
	assert.Equal(t, types.FileStatusReady, rec.Status)
	assert.Equal(t, "202401/"+hash, rec.FilePath, "donor path reused")
	assert.EqualValues(t, 500, rec.FileSize)
	assert.EqualValues(t, 500, e.account(t, "alice").UsedBytes)
	e.assertReconciled(t, "alice")

	dir, err := e.staging.Dir("alice", "copy")
	require.NoError(t, err)

	_, err = os.Stat(dir)
	assert.True(t, errors.Is(err, os.ErrNotExist), "no staging I/O")
	assert.Empty(t, e.finalizer.requests())
	assert.EqualValues(t, 0, e.ledger.ProvisionalBytes(ctx, "alice", "copy"))
}

func TestUpload_InstantDedupRemovesLeftoverStaging(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	data := payload(300, 'r')
	hash := hashOf(data)

	// 上个进程留下的分片，当前进程没有对应会话
	_, err := e.staging.WriteChunk("alice", "f1", 1, bytes.NewReader(payload(100, 'r')))
	require.NoError(t, err)

	e.addFile(t, readyFile("bob", "donor", "src.bin", hash, 300))

	req := chunkReq("alice", "f1", "r.bin", hash, 0, 3, payload(100, 'r'))
	req.FileSize = 300

	res, err := e.uploads.Upload(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInstantComplete, res.Outcome)

	dir, err := e.staging.Dir("alice", "f1")
	require.NoError(t, err)

	_, err = os.Stat(dir)
	assert.True(t, errors.Is(err, os.ErrNotExist), "leftover staging removed")
}

func TestUpload_InstantDedupSizeMismatch(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	hash := hashOf(payload(500, 'd'))
	e.addFile(t, readyFile("bob", "donor", "src.bin", hash, 500))

	req := chunkReq("alice", "copy", "dst.bin", hash, 0, 2, payload(100, 'd'))
	req.FileSize = 499

	res, err := e.uploads.Upload(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, OutcomePendingMoreChunks, res.Outcome, "size mismatch falls through to a normal upload")
}

func TestUpload_InstantDedupOverQuota(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.setSpace(t, "alice", 0, 400)

	hash := hashOf(payload(500, 'd'))
	e.addFile(t, readyFile("bob", "donor", "src.bin", hash, 500))

	_, err := e.uploads.Upload(ctx, chunkReq("alice", "copy", "dst.bin", hash, 0, 5, payload(100, 'd')))
	require.ErrorIs(t, err, ErrQuotaExceeded)

	_, err = e.store.Files().Get(ctx, "alice", "copy")
	assert.Error(t, err)
	assert.EqualValues(t, 0, e.account(t, "alice").UsedBytes)
}

func TestUpload_RenamesOnCollision(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	e.addFile(t, readyFile("alice", "old", "report.pdf", "ffff", 10))
	_, err := e.ledger.GetAccount(ctx, "alice")
	require.NoError(t, err)

	data := payload(30, 'r')

	res, err := e.uploads.Upload(ctx, chunkReq("alice", "new", "report.pdf", hashOf(data), 0, 1, data))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)

	rec := e.getFile(t, "alice", "new")
	assert.Regexp(t, regexp.MustCompile(`^report_[A-Za-z0-9]{5}\.pdf$`), rec.FileName)
	assert.Equal(t, types.CategoryDoc, rec.FileCategory)
	assert.EqualValues(t, 40, e.account(t, "alice").UsedBytes)
}

func TestUpload_TransferFailedReleasesOnce(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	e.addFile(t, readyFile("alice", "keep", "keep.bin", "eeee", 200))
	_, err := e.ledger.GetAccount(ctx, "alice")
	require.NoError(t, err)

	data := payload(300, 'q')
	_, err = e.uploads.Upload(ctx, chunkReq("alice", "f1", "q.bin", hashOf(data), 0, 1, data))
	require.NoError(t, err)
	assert.EqualValues(t, 500, e.account(t, "alice").UsedBytes)

	failure := FinalizeResult{UserID: "alice", FileID: "f1", Err: "hash mismatch"}
	require.NoError(t, e.uploads.CompleteFinalization(ctx, failure))
	require.NoError(t, e.uploads.CompleteFinalization(ctx, failure), "duplicate report")

	assert.Equal(t, types.FileStatusTransferFailed, e.getFile(t, "alice", "f1").Status)
	assert.EqualValues(t, 200, e.account(t, "alice").UsedBytes, "released exactly once")
	e.assertReconciled(t, "alice")

	// 失败的记录彻底删除时不再释放
	n, err := e.lifecycle.Purge(ctx, "alice", []string{"f1"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.EqualValues(t, 200, e.account(t, "alice").UsedBytes)
	e.assertReconciled(t, "alice")
}

func TestUpload_PurgeWhileTransferringThenFailure(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	data := payload(300, 'q')
	_, err := e.uploads.Upload(ctx, chunkReq("alice", "f1", "q.bin", hashOf(data), 0, 1, data))
	require.NoError(t, err)

	_, err = e.lifecycle.Purge(ctx, "alice", []string{"f1"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, e.account(t, "alice").UsedBytes)

	require.NoError(t, e.uploads.CompleteFinalization(ctx, FinalizeResult{UserID: "alice", FileID: "f1", Err: "boom"}))
	assert.EqualValues(t, 0, e.account(t, "alice").UsedBytes)
	e.assertReconciled(t, "alice")
}

func TestUpload_HandOffFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.finalizer.err = errors.New("broker unavailable")

	data := payload(64, 'h')

	_, err := e.uploads.Upload(ctx, chunkReq("alice", "f1", "h.bin", hashOf(data), 0, 1, data))
	require.ErrorIs(t, err, ErrTransferFailed)

	assert.Equal(t, types.FileStatusTransferFailed, e.getFile(t, "alice", "f1").Status)
	assert.EqualValues(t, 0, e.account(t, "alice").UsedBytes)
	e.assertReconciled(t, "alice")

	chunks, err := e.staging.Chunks("alice", "f1")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestUpload_RetryAfterFailedHandOffIsNotSuccess(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.finalizer.err = errors.New("broker unavailable")

	data := payload(64, 'h')
	req := chunkReq("alice", "f1", "h.bin", hashOf(data), 0, 1, data)

	_, err := e.uploads.Upload(ctx, req)
	require.ErrorIs(t, err, ErrTransferFailed)

	// broker 恢复后客户端重发同一分片
	e.finalizer.err = nil

	res, err := e.uploads.Upload(ctx, chunkReq("alice", "f1", "h.bin", hashOf(data), 0, 1, data))
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.NotEqual(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "f1", res.FileID)

	assert.Empty(t, e.finalizer.requests(), "no finalize request for a failed upload")
	assert.Equal(t, types.FileStatusTransferFailed, e.getFile(t, "alice", "f1").Status)
	assert.EqualValues(t, 0, e.account(t, "alice").UsedBytes)
	e.assertReconciled(t, "alice")

	// 换新的 fileId 可以正常完成
	res, err = e.uploads.Upload(ctx, chunkReq("alice", "f2", "h.bin", hashOf(data), 0, 1, data))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Len(t, e.finalizer.requests(), 1)
}

func TestUpload_ChunkForPurgedFileRejected(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	seedFiles(t, e, "alice", map[string]int64{"gone": 32})
	data := payload(32, 'p')

	_, err := e.lifecycle.Purge(ctx, "alice", []string{"gone"})
	require.NoError(t, err)

	res, err := e.uploads.Upload(ctx, chunkReq("alice", "gone", "p.bin", hashOf(data), 0, 1, data))
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, res.Outcome)
	assert.Empty(t, e.finalizer.requests())
	e.assertReconciled(t, "alice")
}

func TestUpload_StagingFailureDiscardsSession(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	hash := hashOf(payload(10, 'a'), payload(10, 'b'))

	_, err := e.uploads.Upload(ctx, chunkReq("alice", "f1", "a.bin", hash, 0, 2, payload(10, 'a')))
	require.NoError(t, err)

	req := chunkReq("alice", "f1", "a.bin", hash, 1, 2, nil)
	req.ChunkSize = 10
	req.Chunk = errReader{}

	_, err = e.uploads.Upload(ctx, req)
	require.ErrorIs(t, err, ErrStagingIO)

	chunks, err := e.staging.Chunks("alice", "f1")
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.EqualValues(t, 0, e.ledger.ProvisionalBytes(ctx, "alice", "f1"))
}

func TestUpload_RebuildsAfterRestart(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	parts := [][]byte{payload(40, 'a'), payload(40, 'b')}
	hash := hashOf(parts...)

	_, err := e.uploads.Upload(ctx, chunkReq("alice", "f1", "a.bin", hash, 0, 2, parts[0]))
	require.NoError(t, err)

	// 新进程：内存会话为空，临时占用也已过期
	e.ledger.ClearProvisional(ctx, "alice", "f1")
	restarted := NewUploadManager(e.store, e.ledger, NewDedupResolver(e.store), e.staging, e.finalizer,
		testUploadConfig(e.staging.Root()))

	res, err := restarted.Upload(ctx, chunkReq("alice", "f1", "a.bin", hash, 1, 2, parts[1]))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.EqualValues(t, 80, e.getFile(t, "alice", "f1").FileSize)
	assert.EqualValues(t, 80, e.account(t, "alice").UsedBytes)
}

func TestUpload_GeneratesFileID(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	data := payload(8, 'g')

	res, err := e.uploads.Upload(ctx, chunkReq("alice", "", "g.bin", hashOf(data), 0, 2, data))
	require.NoError(t, err)
	assert.Len(t, res.FileID, 26)
	assert.Equal(t, OutcomePendingMoreChunks, res.Outcome)
}

func TestUpload_RejectsInvalidRequests(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	data := payload(8, 'v')
	hash := hashOf(data)

	_, err := e.uploads.Upload(ctx, chunkReq("", "f1", "a.bin", hash, 0, 1, data))
	assert.ErrorIs(t, err, ErrUserRequired)

	cases := map[string]UploadChunkRequest{
		"index beyond total": chunkReq("alice", "f1", "a.bin", hash, 1, 1, data),
		"no chunks":          chunkReq("alice", "f1", "a.bin", hash, 0, 0, data),
		"bad hash":           chunkReq("alice", "f1", "a.bin", "not-a-hash", 0, 1, data),
		"path in name":       chunkReq("alice", "f1", "../a.bin", hash, 0, 1, data),
		"path in user":       chunkReq("al/ice", "f1", "a.bin", hash, 0, 1, data),
		"bad file id":        chunkReq("alice", "f-1", "a.bin", hash, 0, 1, data),
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.uploads.Upload(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	_, err = e.uploads.Upload(ctx, chunkReq("alice", "f2", "a.bin", hash, 0, 2, data))
	require.NoError(t, err)

	_, err = e.uploads.Upload(ctx, chunkReq("alice", "f2", "a.bin", hash, 1, 3, data))
	assert.ErrorIs(t, err, ErrInvalidRequest, "chunk count differs from the session")
}

func TestUpload_ConcurrentFilesRespectQuota(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.setSpace(t, "alice", 0, 1000)

	errs := make(chan error, 8)

	for i := range 8 {
		go func() {
			data := payload(300, byte('a'+i))
			_, err := e.uploads.Upload(ctx, chunkReq("alice", "f"+strconv.Itoa(i), "f.bin", hashOf(data), 0, 1, data))
			errs <- err
		}()
	}

	completed := 0

	for range 8 {
		err := <-errs
		if err == nil {
			completed++
			continue
		}

		require.ErrorIs(t, err, ErrQuotaExceeded)
	}

	assert.Equal(t, 3, completed)
	assert.EqualValues(t, 900, e.account(t, "alice").UsedBytes)
	e.assertReconciled(t, "alice")
}

// 同一文件的分片并发、乱序且重复到达.
func TestUpload_ConcurrentChunksSameFile(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	parts := [][]byte{payload(70, 'a'), payload(70, 'b'), payload(70, 'c'), payload(30, 'd')}
	hash := hashOf(parts...)

	const rounds = 3

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)

	errs := make(chan error, rounds*len(parts))

	for range rounds {
		for i := len(parts) - 1; i >= 0; i-- {
			wg.Add(1)

			go func() {
				defer wg.Done()

				res, err := e.uploads.Upload(ctx, chunkReq("alice", "f1", "par.bin", hash, i, len(parts), parts[i]))
				if err != nil {
					errs <- err
					return
				}

				if res.Outcome == OutcomeCompleted {
					mu.Lock()
					completed++
					mu.Unlock()
				}
			}()
		}
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.GreaterOrEqual(t, completed, 1)
	require.Len(t, e.finalizer.requests(), 1, "exactly one hand-off")
	assert.Equal(t, len(parts), e.finalizer.requests()[0].Chunks)

	rec := e.getFile(t, "alice", "f1")
	assert.EqualValues(t, 240, rec.FileSize)
	assert.Equal(t, types.FileStatusTransferring, rec.Status)
	assert.EqualValues(t, 240, e.account(t, "alice").UsedBytes)
	assert.EqualValues(t, 0, e.ledger.ProvisionalBytes(ctx, "alice", "f1"))
	e.assertReconciled(t, "alice")

	chunks, err := e.staging.Chunks("alice", "f1")
	require.NoError(t, err)
	assert.Len(t, chunks, len(parts))
}

func TestExpireSessions(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	hash := hashOf(payload(10, 'a'), payload(10, 'b'))

	_, err := e.uploads.Upload(ctx, chunkReq("alice", "idle", "a.bin", hash, 0, 2, payload(10, 'a')))
	require.NoError(t, err)

	// 已收齐、等待合并的文件不能被清理
	data := payload(10, 't')
	_, err = e.uploads.Upload(ctx, chunkReq("alice", "busy", "t.bin", hashOf(data), 0, 1, data))
	require.NoError(t, err)

	n, err := e.uploads.ExpireSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh sessions are kept")

	later := time.Now().UTC().Add(2 * time.Hour)
	e.uploads.now = func() time.Time { return later }

	n, err = e.uploads.ExpireSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	dir, err := e.staging.Dir("alice", "idle")
	require.NoError(t, err)

	_, err = os.Stat(dir)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.EqualValues(t, 0, e.ledger.ProvisionalBytes(ctx, "alice", "idle"))

	busy, err := e.staging.Dir("alice", "busy")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(busy, "0"))
	assert.NoError(t, err, "transferring upload keeps its staging")
}
