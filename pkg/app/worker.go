package app

import (
	"context"
	"fmt"

	"github.com/yeisme/panvault/pkg/configs"
	"github.com/yeisme/panvault/pkg/internal/storage"
	"github.com/yeisme/panvault/pkg/internal/worker"
	"github.com/yeisme/panvault/pkg/log"
	"github.com/yeisme/panvault/pkg/queue"
	"github.com/yeisme/panvault/pkg/tracing"
)

// NewBlobStore 按 worker.sink 选择合并结果的存放位置.
func NewBlobStore(mgr *storage.Manager, cfg configs.WorkerConfig) (worker.BlobStore, error) {
	switch cfg.Sink {
	case "s3":
		if mgr.S3 == nil {
			return nil, fmt.Errorf("worker sink s3 requires an s3 client")
		}

		return worker.NewS3Store(mgr.S3), nil
	case "", "local":
		return worker.NewLocalStore(cfg.LocalRoot)
	default:
		return nil, fmt.Errorf("unsupported worker sink: %s", cfg.Sink)
	}
}

// RunWorker 独立运行合并 worker，直到 ctx 取消. 需要与 API 共享暂存目录和消息队列.
func RunWorker(ctx context.Context, cfg *configs.AppConfig) error {
	opts := []storage.Option{storage.WithMQ()}
	if cfg.Worker.Sink == "s3" {
		opts = append(opts, storage.WithS3())
	}

	mgr, err := storage.Open(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		_ = mgr.Close()
		_ = tracing.ShutdownTracer(context.Background())
	}()

	blobs, err := NewBlobStore(mgr, cfg.Worker)
	if err != nil {
		return err
	}

	w := worker.New(blobs, mgr.MQ.Publisher())
	mgr.MQ.Handle("finalize.worker", queue.TopicFinalizeRequested, w.Handle)

	log.Logger().Info().Str("sink", cfg.Worker.Sink).Str("mq", string(mgr.MQ.Type())).Msg("finalize worker started")

	return mgr.MQ.Run(ctx)
}
