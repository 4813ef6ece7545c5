package app

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/yeisme/panvault/pkg/cache"
	"github.com/yeisme/panvault/pkg/configs"
	"github.com/yeisme/panvault/pkg/internal/model"
	"github.com/yeisme/panvault/pkg/internal/repository"
	"github.com/yeisme/panvault/pkg/internal/service"
	"github.com/yeisme/panvault/pkg/internal/storage"
	"github.com/yeisme/panvault/pkg/internal/storage/staging"
)

// Services 业务服务集合.
type Services struct {
	Store     *repository.Store
	Cache     *cache.Cache
	Ledger    *service.QuotaLedger
	Uploads   *service.UploadManager
	Lifecycle *service.LifecycleService
}

// NewServices 迁移表结构并创建业务服务. 需要 DB 与 KV；MQ 为空时不投递合并任务也不发布事件.
func NewServices(mgr *storage.Manager, cfg *configs.AppConfig, producer string) (*Services, error) {
	if mgr.DB == nil || mgr.KV == nil {
		return nil, fmt.Errorf("services require db and kv")
	}

	if err := mgr.DB.Migrate(model.Models()...); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	stage, err := staging.New(cfg.Upload.StagingRoot)
	if err != nil {
		return nil, err
	}

	store := repository.NewStore(mgr.DB.DB)
	c := cache.NewCache(mgr.KV,
		cache.WithPrefix(cfg.Quota.KeyPrefix),
		cache.WithBreaker("quota-cache", cfg.Quota.CacheBreaker),
	)
	ledger := service.NewQuotaLedger(store, c, cfg.Quota)

	var pub message.Publisher
	if mgr.MQ != nil {
		pub = mgr.MQ.Publisher()
	}

	finalizer := service.NewQueueFinalizer(pub, producer)

	return &Services{
		Store:     store,
		Cache:     c,
		Ledger:    ledger,
		Uploads:   service.NewUploadManager(store, ledger, service.NewDedupResolver(store), stage, finalizer, cfg.Upload),
		Lifecycle: service.NewLifecycleService(store, ledger, cfg.Lifecycle, pub),
	}, nil
}
