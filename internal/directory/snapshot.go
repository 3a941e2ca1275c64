package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"wisefido-kiosk/internal/models"

	"go.uber.org/zap"
)

// SnapshotCache 目录快照缓存
// 由直接拉取刷新，不跟随事件流更新
type SnapshotCache struct {
	fetcher   Fetcher
	store     KVStore
	ttl       time.Duration
	keyPrefix string
	logger    *zap.Logger
}

// NewSnapshotCache 创建快照缓存
func NewSnapshotCache(fetcher Fetcher, store KVStore, ttl time.Duration, keyPrefix string, logger *zap.Logger) *SnapshotCache {
	return &SnapshotCache{
		fetcher:   fetcher,
		store:     store,
		ttl:       ttl,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

// LoadAll 拉取全部记录写入缓存，返回最近列表种子（仅已签到，按签到时间倒序）
func (c *SnapshotCache) LoadAll(ctx context.Context) ([]models.DisplayRecord, error) {
	records, err := c.fetcher.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load directory snapshot: %w", err)
	}

	for _, rec := range records {
		if err := c.put(ctx, rec); err != nil {
			c.logger.Warn("Failed to cache directory record",
				zap.String("subject_id", rec.ID),
				zap.Error(err),
			)
		}
	}

	seed := SeedOrder(records)
	c.logger.Info("Directory snapshot loaded",
		zap.Int("records", len(records)),
		zap.Int("checked_in", len(seed)),
	)
	return seed, nil
}

// LoadByID 拉取单条记录并刷新缓存
func (c *SnapshotCache) LoadByID(ctx context.Context, id string) (models.DisplayRecord, error) {
	rec, err := c.fetcher.GetRecord(ctx, id)
	if err != nil {
		return models.DisplayRecord{}, err
	}
	if err := c.put(ctx, rec); err != nil {
		c.logger.Warn("Failed to cache directory record",
			zap.String("subject_id", rec.ID),
			zap.Error(err),
		)
	}
	return rec, nil
}

// Lookup 只查缓存
func (c *SnapshotCache) Lookup(ctx context.Context, id string) (models.DisplayRecord, bool) {
	data, err := c.store.Get(ctx, c.keyPrefix+id)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn("Directory cache lookup failed",
				zap.String("subject_id", id),
				zap.Error(err),
			)
		}
		return models.DisplayRecord{}, false
	}

	var rec models.DisplayRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		c.logger.Warn("Corrupt directory cache entry",
			zap.String("subject_id", id),
			zap.Error(err),
		)
		return models.DisplayRecord{}, false
	}
	return rec, true
}

func (c *SnapshotCache) put(ctx context.Context, rec models.DisplayRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return c.store.Set(ctx, c.keyPrefix+rec.ID, data, c.ttl)
}

// SeedOrder 过滤出已签到记录并按签到时间倒序，缺少时间的排在最后
func SeedOrder(records []models.DisplayRecord) []models.DisplayRecord {
	seed := make([]models.DisplayRecord, 0, len(records))
	for _, rec := range records {
		if rec.CheckedIn {
			seed = append(seed, rec)
		}
	}
	sort.SliceStable(seed, func(i, j int) bool {
		a, b := seed[i].CheckinTime, seed[j].CheckinTime
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return seed
}
