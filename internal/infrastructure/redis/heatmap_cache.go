package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

const (
	heatmapCachePrefix   = "heatmap_agg:"
	heatmapVersionPrefix = "heatmap_ver:"
)

// storeIfCurrent writes an aggregate only while the page version is the one
// observed before it was computed. A missing version reads as "0".
var storeIfCurrent = redis.NewScript(`
local version = redis.call('GET', KEYS[2]) or '0'
if version ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// CacheStats counts cache outcomes since creation
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// HeatmapCache is a read-through cache over a HeatmapRepository. Each page keeps one
// hash of aggregates keyed by limit, dropped whenever new points arrive for the page.
// Inserts also bump a per-page version so an aggregate computed before the insert is
// never written back. Redis failures fall through to the underlying repository.
type HeatmapCache struct {
	next   analytics.HeatmapRepository
	client redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewHeatmapCache wraps next with a cache whose entries live for ttl
func NewHeatmapCache(next analytics.HeatmapRepository, client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *HeatmapCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeatmapCache{next: next, client: client, ttl: ttl, logger: logger}
}

func (c *HeatmapCache) key(page string) string {
	return heatmapCachePrefix + page
}

func (c *HeatmapCache) versionKey(page string) string {
	return heatmapVersionPrefix + page
}

// InsertBatch stores the points and invalidates the page's aggregates
func (c *HeatmapCache) InsertBatch(ctx context.Context, page string, points []analytics.HeatmapPoint) error {
	if err := c.next.InsertBatch(ctx, page, points); err != nil {
		return err
	}

	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, c.versionKey(page))
	del := pipe.Del(ctx, c.key(page))
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Failed to invalidate heatmap cache", zap.String("page", page), zap.Error(err))
		return nil
	}
	c.evictions.Add(del.Val())
	return nil
}

// Aggregate serves cached aggregates, computing and storing them on a miss
func (c *HeatmapCache) Aggregate(ctx context.Context, page string, limit int) ([]analytics.HeatmapCell, error) {
	key := c.key(page)
	field := strconv.Itoa(limit)

	data, err := c.client.HGet(ctx, key, field).Bytes()
	switch {
	case err == nil:
		var cells []analytics.HeatmapCell
		if jsonErr := json.Unmarshal(data, &cells); jsonErr == nil {
			c.hits.Add(1)
			return cells, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("Heatmap cache read failed", zap.String("page", page), zap.Error(err))
	}
	c.misses.Add(1)

	version, err := c.client.Get(ctx, c.versionKey(page)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		version = "0"
	case err != nil:
		c.logger.Warn("Heatmap cache version read failed", zap.String("page", page), zap.Error(err))
	}

	cells, err := c.next.Aggregate(ctx, page, limit)
	if err != nil {
		return nil, err
	}
	if version == "" {
		return cells, nil
	}

	if data, err := json.Marshal(cells); err == nil {
		keys := []string{key, c.versionKey(page)}
		err := storeIfCurrent.Run(ctx, c.client, keys, version, field, data, c.ttl.Milliseconds()).Err()
		if err != nil {
			c.logger.Warn("Heatmap cache write failed", zap.String("page", page), zap.Error(err))
		}
	}
	return cells, nil
}

// Stats returns the cache counters
func (c *HeatmapCache) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// RegisterMetrics exposes the cache counters on reg
func (c *HeatmapCache) RegisterMetrics(reg prometheus.Registerer) {
	factory := promauto.With(reg)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "collector_heatmap_cache_hits_total",
		Help: "Heatmap aggregates served from Redis",
	}, func() float64 { return float64(c.hits.Load()) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "collector_heatmap_cache_misses_total",
		Help: "Heatmap aggregates computed by the underlying store",
	}, func() float64 { return float64(c.misses.Load()) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "collector_heatmap_cache_evictions_total",
		Help: "Cached heatmap pages dropped by new points",
	}, func() float64 { return float64(c.evictions.Load()) })
}
