// Package rediscache shares successful geocode results across runs and
// processes through Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/territory-sync/internal/domain"
	"github.com/couchcryptid/territory-sync/internal/observability"
)

const keyPrefix = "geocode:"

// KV is the subset of redis.Cmdable the cache uses.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Open returns a client for addr, or nil when addr is empty.
func Open(addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

// Geocoder wraps a Geocoder with a Redis-backed cache. Redis errors are
// logged and treated as misses; they never fail a geocode.
type Geocoder struct {
	inner   domain.Geocoder
	kv      KV
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates the cache decorator.
func New(inner domain.Geocoder, kv KV, ttl time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Geocoder {
	return &Geocoder{inner: inner, kv: kv, ttl: ttl, logger: logger, metrics: metrics}
}

type cachedResult struct {
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	FormattedAddress string  `json:"formatted_address"`
	Confidence       float64 `json:"confidence"`
}

func (g *Geocoder) Geocode(ctx context.Context, address string) (domain.GeocodingResult, error) {
	key := cacheKey(address)

	if res, ok := g.lookup(ctx, key); ok {
		g.metrics.GeocodeCache.WithLabelValues("redis", "hit").Inc()
		return res, nil
	}
	g.metrics.GeocodeCache.WithLabelValues("redis", "miss").Inc()

	res, err := g.inner.Geocode(ctx, address)
	if err != nil {
		return res, err
	}
	g.store(ctx, key, res)
	return res, nil
}

func (g *Geocoder) lookup(ctx context.Context, key string) (domain.GeocodingResult, bool) {
	s, err := g.kv.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			g.logger.Warn("redis cache read failed", "key", key, "error", err)
		}
		return domain.GeocodingResult{}, false
	}
	var c cachedResult
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		g.logger.Warn("redis cache entry unreadable", "key", key, "error", err)
		return domain.GeocodingResult{}, false
	}
	return domain.GeocodingResult{
		Coordinate:       domain.Coordinate{Lat: c.Lat, Lng: c.Lng},
		FormattedAddress: c.FormattedAddress,
		Confidence:       c.Confidence,
	}, true
}

func (g *Geocoder) store(ctx context.Context, key string, res domain.GeocodingResult) {
	b, err := json.Marshal(cachedResult{
		Lat:              res.Coordinate.Lat,
		Lng:              res.Coordinate.Lng,
		FormattedAddress: res.FormattedAddress,
		Confidence:       res.Confidence,
	})
	if err != nil {
		return
	}
	if err := g.kv.Set(ctx, key, string(b), g.ttl).Err(); err != nil {
		g.logger.Warn("redis cache write failed", "key", key, "error", err)
	}
}

func cacheKey(address string) string {
	return keyPrefix + strings.ToLower(strings.Join(strings.Fields(address), " "))
}
