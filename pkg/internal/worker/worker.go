// Package worker 参考实现的合并 worker：消费 finalize.requested，把暂存分片按序合并为对象，
// 校验大小与 MD5 后写入对象存储，并发布合并结果.
package worker

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yeisme/panvault/pkg/internal/storage/staging"
	"github.com/yeisme/panvault/pkg/log"
	"github.com/yeisme/panvault/pkg/metrics"
	"github.com/yeisme/panvault/pkg/queue"
	"github.com/yeisme/panvault/pkg/tracing"
)

const producer = "panvault-worker"

var (
	// ErrChunkMissing 暂存区缺少分片.
	ErrChunkMissing = errors.New("staged chunk missing")
	// ErrSizeMismatch 合并后大小与声明不符.
	ErrSizeMismatch = errors.New("merged size mismatch")
	// ErrHashMismatch 合并后 MD5 与声明不符.
	ErrHashMismatch = errors.New("content hash mismatch")
)

// Worker 合并 worker.
type Worker struct {
	blobs  BlobStore
	pub    message.Publisher
	logger zerolog.Logger
}

// New 创建 worker，pub 用于发布合并结果.
func New(blobs BlobStore, pub message.Publisher) *Worker {
	return &Worker{
		blobs:  blobs,
		pub:    pub,
		logger: log.Logger().With().Str("component", "worker").Logger(),
	}
}

// Finalize 执行一次合并. 失败信息写入结果的 Error 字段，不返回 error.
func (w *Worker) Finalize(ctx context.Context, p queue.FinalizeRequestedPayload) queue.FinalizeResultPayload {
	ctx, span := tracing.StartSpan(ctx, "worker.finalize")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", p.UserID),
		attribute.String("file_id", p.FileID),
		attribute.Int("chunks", p.Chunks),
	)

	res := queue.FinalizeResultPayload{UserID: p.UserID, FileID: p.FileID, PhysicalPath: p.PhysicalPath, Size: p.Size}

	skipped, err := w.finalize(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		w.logger.Warn().Err(err).Str("user_id", p.UserID).Str("file_id", p.FileID).Msg("finalize failed")
		res.Error = err.Error()

		return res
	}

	res.Skipped = skipped
	if !skipped {
		metrics.MergedBytes.Add(float64(p.Size))
	}

	w.logger.Info().Str("user_id", p.UserID).Str("file_id", p.FileID).Str("path", p.PhysicalPath).
		Int64("size", p.Size).Bool("skipped", skipped).Msg("finalize succeeded")

	return res
}

func (w *Worker) finalize(ctx context.Context, p queue.FinalizeRequestedPayload) (bool, error) {
	if p.Chunks <= 0 || p.StagingDir == "" || p.PhysicalPath == "" {
		return false, fmt.Errorf("invalid finalize request for %s/%s", p.UserID, p.FileID)
	}

	merged, err := merge(p)
	if err != nil {
		return false, err
	}

	defer func() {
		_ = merged.Close()
		_ = os.Remove(merged.Name())
	}()

	// 同内容对象已存在（秒传源或重复投递）时不再写入
	exists, err := w.blobs.Exists(ctx, p.PhysicalPath)
	if err != nil {
		return false, fmt.Errorf("check object: %w", err)
	}

	if exists {
		return true, nil
	}

	if _, err := merged.Seek(0, io.SeekStart); err != nil {
		return false, fmt.Errorf("rewind merged file: %w", err)
	}

	if err := w.blobs.Put(ctx, p.PhysicalPath, merged, p.Size); err != nil {
		return false, fmt.Errorf("store object: %w", err)
	}

	return false, nil
}

// merge 按序拼接分片到暂存目录下的临时文件，同时计算 MD5.
func merge(p queue.FinalizeRequestedPayload) (*os.File, error) {
	readers := make([]io.Reader, 0, p.Chunks)

	for i := range p.Chunks {
		f, err := os.Open(staging.ChunkPath(p.StagingDir, i))
		if err != nil {
			closeAll(readers)

			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: index %d", ErrChunkMissing, i)
			}

			return nil, fmt.Errorf("open chunk %d: %w", i, err)
		}

		readers = append(readers, f)
	}
	defer closeAll(readers)

	out, err := os.CreateTemp(p.StagingDir, "merged-*.part")
	if err != nil {
		return nil, fmt.Errorf("create merged file: %w", err)
	}

	fail := func(err error) (*os.File, error) {
		_ = out.Close()
		_ = os.Remove(out.Name())

		return nil, err
	}

	h := md5.New()

	n, err := io.Copy(io.MultiWriter(out, h), io.MultiReader(readers...))
	if err != nil {
		return fail(fmt.Errorf("merge chunks: %w", err))
	}

	if n != p.Size {
		return fail(fmt.Errorf("%w: got %d, want %d", ErrSizeMismatch, n, p.Size))
	}

	if sum := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(sum, p.ContentHash) {
		return fail(fmt.Errorf("%w: got %s, want %s", ErrHashMismatch, sum, p.ContentHash))
	}

	return out, nil
}

func closeAll(readers []io.Reader) {
	for _, r := range readers {
		if c, ok := r.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

// Handle watermill 处理函数. 只有结果发布失败才返回 error 让消息重投.
func (w *Worker) Handle(msg *message.Message) error {
	env, err := queue.ParseFinalizeRequested(msg)
	if err != nil {
		w.logger.Error().Err(err).Str("message_id", msg.UUID).Msg("drop malformed finalize request")
		return nil
	}

	res := w.Finalize(msg.Context(), env.Payload)

	opts := []queue.HeaderOption{queue.WithProducer(producer)}
	if env.Header.TraceID != "" {
		opts = append(opts, queue.WithTraceID(env.Header.TraceID))
	}

	if err := queue.PublishFinalizeResult(w.pub, res, opts...); err != nil {
		return fmt.Errorf("publish finalize result: %w", err)
	}

	return nil
}
