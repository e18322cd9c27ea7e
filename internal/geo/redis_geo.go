package geo

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/sos-dispatch/internal/models"
)

// RedisGeo implements Index on top of Redis GEO commands. Positions live in
// a single GEO key; availability and heartbeat age live in a per-responder
// hash so staleness filtering works the same as in MemoryIndex.
type RedisGeo struct {
	client     *redis.Client
	key        string
	staleAfter time.Duration
	ctx        context.Context
}

func NewRedisGeo(addr, password, key string, staleAfter time.Duration) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, staleAfter: staleAfter, ctx: context.Background()}
}

func (r *RedisGeo) Upsert(d models.Responder) {
	updated := d.LastUpdated
	if updated.IsZero() {
		updated = time.Now()
	}
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{
		Longitude: d.Location.Lng,
		Latitude:  d.Location.Lat,
		Name:      d.ID,
	}).Result()
	_ = r.client.HSet(r.ctx, metaKey(d.ID), map[string]interface{}{
		"available": strconv.FormatBool(d.Available),
		"updated":   updated.UTC().Format(time.RFC3339Nano),
	}).Err()
}

func (r *RedisGeo) Remove(responderID string) {
	_, _ = r.client.ZRem(r.ctx, r.key, responderID).Result()
	_, _ = r.client.Del(r.ctx, metaKey(responderID)).Result()
}

func (r *RedisGeo) NearestAvailable(p models.Coordinate, limit int, maxRadiusKm float64, exclude map[string]struct{}) []Candidate {
	if maxRadiusKm <= 0 {
		maxRadiusKm = 50
	}
	// over-fetch so post-filtering for staleness/exclusion can still fill limit
	fetch := limit + len(exclude) + 8
	res, err := r.client.GeoRadius(r.ctx, r.key, p.Lng, p.Lat, &redis.GeoRadiusQuery{
		Radius:    maxRadiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Count:     fetch,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil
	}

	cutoff := time.Now().Add(-r.staleAfter)
	out := make([]Candidate, 0, limit)
	for _, g := range res {
		if _, skip := exclude[g.Name]; skip {
			continue
		}
		d := models.Responder{ID: g.Name}
		d.Location.Lat = g.Latitude
		d.Location.Lng = g.Longitude
		m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result()
		if err != nil {
			continue
		}
		if m["available"] != "true" {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, m["updated"])
		if err != nil || ts.Before(cutoff) {
			continue
		}
		d.Available = true
		d.LastUpdated = ts
		out = append(out, Candidate{Responder: d, DistanceKm: g.Dist})
	}
	// GeoRadius sorts by distance only; re-sort for the ID tie-break
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

func metaKey(id string) string { return "responder:meta:" + id }
