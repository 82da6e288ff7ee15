package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/mindsprite/mindsprite/internal/logging"
	"github.com/mindsprite/mindsprite/internal/proactive"
	"github.com/mindsprite/mindsprite/internal/storage"
)

// Job IDs of the built-in maintenance jobs
const (
	JobPurgeCare  = "purge-care"
	JobPurgeCache = "purge-cache"
)

// MaintenanceConfig sets retention and cadence of the built-in jobs
type MaintenanceConfig struct {
	CareRetentionDays int           `mapstructure:"care_retention_days" yaml:"care_retention_days"`
	CareInterval      time.Duration `mapstructure:"care_interval" yaml:"care_interval"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	CacheInterval     time.Duration `mapstructure:"cache_interval" yaml:"cache_interval"`
}

// DefaultMaintenanceConfig purges finished care older than 30 days every 6 hours
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		CareRetentionDays: 30,
		CareInterval:      6 * time.Hour,
		CacheTTL:          24 * time.Hour,
		CacheInterval:     time.Hour,
	}
}

// PurgeCareJob removes completed and cancelled care tasks past retention
func PurgeCareJob(care *proactive.CareScheduler, cfg MaintenanceConfig) *Job {
	job := IntervalJob(JobPurgeCare, "Purge finished care tasks", cfg.CareInterval, func(ctx context.Context) error {
		care.Purge(ctx, cfg.CareRetentionDays)
		return ctx.Err()
	})
	job.RunOnStart = true
	return job
}

// PurgeCacheJob drops model replies older than the cache TTL
func PurgeCacheJob(cache *storage.CacheStore, cfg MaintenanceConfig, now func() time.Time) *Job {
	return IntervalJob(JobPurgeCache, "Purge expired reply cache", cfg.CacheInterval, func(ctx context.Context) error {
		n, err := cache.PurgeOlderThan(ctx, now().Add(-cfg.CacheTTL))
		if err != nil {
			return fmt.Errorf("purge reply cache: %w", err)
		}
		if n > 0 {
			logging.WithField("removed", n).Info("purged expired reply cache rows")
		}
		return nil
	})
}

// RegisterMaintenance registers both maintenance jobs. A zero cache TTL
// leaves the cache job out.
func RegisterMaintenance(s *Scheduler, care *proactive.CareScheduler, cache *storage.CacheStore, cfg MaintenanceConfig) error {
	def := DefaultMaintenanceConfig()
	if cfg.CareRetentionDays <= 0 {
		cfg.CareRetentionDays = def.CareRetentionDays
	}
	if cfg.CareInterval <= 0 {
		cfg.CareInterval = def.CareInterval
	}
	if cfg.CacheInterval <= 0 {
		cfg.CacheInterval = def.CacheInterval
	}

	if err := s.Register(PurgeCareJob(care, cfg)); err != nil {
		return err
	}
	if cache == nil || cfg.CacheTTL <= 0 {
		return nil
	}
	return s.Register(PurgeCacheJob(cache, cfg, func() time.Time { return time.Now().UTC() }))
}
