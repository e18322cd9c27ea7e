package eta

import (
	"fmt"
	"sync"
	"time"

	"github.com/example/sos-dispatch/internal/geo"
	"github.com/example/sos-dispatch/internal/models"
)

// Client is the interface used by the matcher to get routed ETAs.
type Client interface {
	EstimateMinutes(from, to models.Coordinate) (float64, error)
}

// EstimateMinutes is the naive linear estimate: distance over average
// speed. Any positive distance is floored at one minute. In prod a routing
// engine refines this; the matcher falls back here when that fails.
func EstimateMinutes(distanceKm, avgSpeedKmh float64) float64 {
	if avgSpeedKmh <= 0 {
		avgSpeedKmh = 30 // urban default
	}
	if distanceKm <= 0 {
		return 0
	}
	m := distanceKm / avgSpeedKmh * 60
	if m < 1 {
		return 1
	}
	return m
}

// EstimateBetween computes the naive ETA directly from two coordinates.
func EstimateBetween(from, to models.Coordinate, avgSpeedKmh float64) float64 {
	return EstimateMinutes(geo.DistanceKm(from, to), avgSpeedKmh)
}

// Cache is a tiny in-memory TTL cache for ETA lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coordinate) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coordinate) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// Get returns the cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coordinate) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache) Set(a, b models.Coordinate, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}
