package worker

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/panvault/pkg/internal/storage/staging"
	"github.com/yeisme/panvault/pkg/queue"
)

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// stageChunks 写入分片并返回对应的合并请求.
func stageChunks(t *testing.T, stage *staging.Store, user, file string, chunks ...string) queue.FinalizeRequestedPayload {
	t.Helper()

	var size int64

	for i, c := range chunks {
		n, err := stage.WriteChunk(user, file, i, strings.NewReader(c))
		require.NoError(t, err)

		size += n
	}

	dir, err := stage.Dir(user, file)
	require.NoError(t, err)

	hash := md5Hex(strings.Join(chunks, ""))

	return queue.FinalizeRequestedPayload{
		UserID: user, FileID: file, FileName: file + ".bin", ParentID: "0",
		ContentHash: hash, Size: size, Chunks: len(chunks),
		StagingDir: dir, PhysicalPath: "202501/" + hash,
	}
}

func newTestWorker(t *testing.T, pub message.Publisher) (*Worker, *staging.Store, *LocalStore) {
	t.Helper()

	stage, err := staging.New(t.TempDir())
	require.NoError(t, err)

	blobs, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	return New(blobs, pub), stage, blobs
}

func TestLocalStore_PutAndExists(t *testing.T) {
	ctx := context.Background()

	blobs, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ok, err := blobs.Exists(ctx, "202501/abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, blobs.Put(ctx, "202501/abc", strings.NewReader("hello"), 5))

	ok, err = blobs.Exists(ctx, "202501/abc")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := os.ReadFile(filepath.Join(blobs.root, "202501", "abc"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	assert.Error(t, blobs.Put(ctx, "202501/short", strings.NewReader("hi"), 5))

	ok, err = blobs.Exists(ctx, "202501/short")
	require.NoError(t, err)
	assert.False(t, ok, "short write leaves nothing behind")

	_, err = blobs.Exists(ctx, "../escape")
	assert.Error(t, err)
}

func TestWorker_FinalizeMergesInOrder(t *testing.T) {
	ctx := context.Background()
	w, stage, blobs := newTestWorker(t, nil)

	p := stageChunks(t, stage, "alice", "f1", "hello ", "chunked ", "world")

	res := w.Finalize(ctx, p)
	require.Empty(t, res.Error)
	assert.False(t, res.Skipped)
	assert.Equal(t, p.PhysicalPath, res.PhysicalPath)
	assert.EqualValues(t, 19, res.Size)

	got, err := os.ReadFile(filepath.Join(blobs.root, filepath.FromSlash(p.PhysicalPath)))
	require.NoError(t, err)
	assert.Equal(t, "hello chunked world", string(got))

	chunks, err := stage.Chunks("alice", "f1")
	require.NoError(t, err)
	assert.Len(t, chunks, 3, "staging is removed by the api, not the worker")

	// 同内容再次合并时跳过写入
	res = w.Finalize(ctx, p)
	require.Empty(t, res.Error)
	assert.True(t, res.Skipped)
}

func TestWorker_FinalizeFailures(t *testing.T) {
	ctx := context.Background()
	w, stage, blobs := newTestWorker(t, nil)

	t.Run("hash mismatch", func(t *testing.T) {
		p := stageChunks(t, stage, "alice", "bad", "abc", "def")
		p.ContentHash = md5Hex("something else")
		p.PhysicalPath = "202501/" + p.ContentHash

		res := w.Finalize(ctx, p)
		assert.Contains(t, res.Error, ErrHashMismatch.Error())

		ok, err := blobs.Exists(ctx, p.PhysicalPath)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing chunk", func(t *testing.T) {
		p := stageChunks(t, stage, "alice", "gap", "abc")
		p.Chunks = 2

		res := w.Finalize(ctx, p)
		assert.Contains(t, res.Error, ErrChunkMissing.Error())
	})

	t.Run("size mismatch", func(t *testing.T) {
		p := stageChunks(t, stage, "alice", "size", "abc")
		p.Size = 4

		res := w.Finalize(ctx, p)
		assert.Contains(t, res.Error, ErrSizeMismatch.Error())
	})

	t.Run("no temp files left", func(t *testing.T) {
		dir, err := stage.Dir("alice", "bad")
		require.NoError(t, err)

		matches, err := filepath.Glob(filepath.Join(dir, "merged-*"))
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
}

func TestWorker_HandlePublishesResult(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 8, Persistent: true}, nil)
	t.Cleanup(func() { _ = pubsub.Close() })

	w, stage, _ := newTestWorker(t, pubsub)

	ok := stageChunks(t, stage, "alice", "f1", "abc")
	bad := stageChunks(t, stage, "alice", "f2", "xyz")
	bad.ContentHash = md5Hex("nope")

	for _, p := range []queue.FinalizeRequestedPayload{ok, bad} {
		msg, err := queue.NewWatermillMessage(queue.TopicFinalizeRequested, p, queue.WithTraceID("trace-1"))
		require.NoError(t, err)
		require.NoError(t, w.Handle(msg))
	}

	require.NoError(t, w.Handle(message.NewMessage("junk", []byte("not json"))), "malformed messages are dropped")

	succeeded, err := pubsub.Subscribe(ctx, queue.TopicFinalizeSucceeded)
	require.NoError(t, err)
	failed, err := pubsub.Subscribe(ctx, queue.TopicFinalizeFailed)
	require.NoError(t, err)

	read := func(ch <-chan *message.Message) queue.Message[queue.FinalizeResultPayload] {
		select {
		case msg := <-ch:
			msg.Ack()

			env, err := queue.ParseFinalizeResult(msg)
			require.NoError(t, err)

			return env
		case <-ctx.Done():
			t.Fatal("result not delivered")
			return queue.Message[queue.FinalizeResultPayload]{}
		}
	}

	env := read(succeeded)
	assert.Equal(t, "f1", env.Payload.FileID)
	assert.Equal(t, "trace-1", env.Header.TraceID)
	assert.Equal(t, producer, env.Header.Producer)

	env = read(failed)
	assert.Equal(t, "f2", env.Payload.FileID)
	assert.NotEmpty(t, env.Payload.Error)
}
