package bootstrap

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/meridianhq/telemetry-backend/internal/cache"
	"github.com/meridianhq/telemetry-backend/internal/rank"
	"github.com/meridianhq/telemetry-backend/internal/record"
	"github.com/meridianhq/telemetry-backend/internal/tenant"
)

func ProvideRecordStore(db *gorm.DB) *record.Store {
	return record.NewStore(db)
}

func ProvideCacheStore(redisClient *redis.Client, cfg *Config) *cache.Store {
	return cache.NewStore(redisClient, cfg.SnapshotTTL)
}

func ProvideRanker(redisClient *redis.Client) rank.Ranker {
	return rank.NewRedisRanker(redisClient)
}

func ProvideTenantStore(db *gorm.DB) *tenant.Store {
	return tenant.NewStore(db)
}

func RunMigrations(recordStore *record.Store, tenantStore *tenant.Store) error {
	if err := recordStore.Migrate(); err != nil {
		return err
	}
	return tenantStore.Migrate()
}

var StoresModule = fx.Options(
	fx.Provide(
		ProvideRecordStore,
		ProvideCacheStore,
		ProvideRanker,
		ProvideTenantStore,
	),
	fx.Invoke(RunMigrations),
)
