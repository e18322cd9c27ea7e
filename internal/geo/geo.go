package geo

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/sos-dispatch/internal/models"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two coordinates in
// kilometers using the haversine formula. Pure and symmetric.
func DistanceKm(a, b models.Coordinate) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// Candidate is one proximity query result.
type Candidate struct {
	Responder  models.Responder
	DistanceKm float64
}

// Index is the registry of responder positions answering "who is near P
// and free". Implemented by MemoryIndex and RedisGeo.
type Index interface {
	Upsert(r models.Responder)
	Remove(responderID string)
	NearestAvailable(p models.Coordinate, limit int, maxRadiusKm float64, exclude map[string]struct{}) []Candidate
}

// MemoryIndex is a naive scan over all responders, good enough at city
// scale; swap in a geohash grid once responder counts grow. Read-heavy
// (every match attempt) so reads take the RLock only.
type MemoryIndex struct {
	mu         sync.RWMutex
	responders map[string]models.Responder
	staleAfter time.Duration
	now        func() time.Time
}

func NewMemoryIndex(staleAfter time.Duration) *MemoryIndex {
	return &MemoryIndex{
		responders: make(map[string]models.Responder),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

func (g *MemoryIndex) Upsert(r models.Responder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r.LastUpdated.IsZero() {
		r.LastUpdated = g.now()
	}
	g.responders[r.ID] = r
}

func (g *MemoryIndex) Remove(responderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.responders, responderID)
}

// NearestAvailable returns up to limit available, non-stale responders
// within maxRadiusKm of p, sorted ascending by distance with ties broken
// by responder ID for determinism. Returns an empty slice, not an error,
// when none qualify.
func (g *MemoryIndex) NearestAvailable(p models.Coordinate, limit int, maxRadiusKm float64, exclude map[string]struct{}) []Candidate {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cutoff := g.now().Add(-g.staleAfter)
	out := make([]Candidate, 0, limit)
	for _, r := range g.responders {
		if !r.Available {
			continue
		}
		if r.LastUpdated.Before(cutoff) {
			continue
		}
		if _, skip := exclude[r.ID]; skip {
			continue
		}
		d := DistanceKm(p, r.Location)
		if maxRadiusKm > 0 && d > maxRadiusKm {
			continue
		}
		out = append(out, Candidate{Responder: r, DistanceKm: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].Responder.ID < out[j].Responder.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
