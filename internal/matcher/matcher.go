package matcher

import (
	"github.com/example/sos-dispatch/internal/eta"
	"github.com/example/sos-dispatch/internal/geo"
	"github.com/example/sos-dispatch/internal/models"
)

// Geo is the minimal index surface the matcher needs.
type Geo interface {
	NearestAvailable(p models.Coordinate, limit int, maxRadiusKm float64, exclude map[string]struct{}) []geo.Candidate
}

// Service selects a responder for a case. Stateless per call and free of
// side effects, so the coordinator can retry it as often as it wants.
// No match found is a valid outcome, not an error.
type Service struct {
	Geo             Geo
	TopN            int
	MaxRadiusKm     float64
	DefaultSpeedKmh float64
	ETAClient       eta.Client // optional routed ETA
	ETACache        *eta.Cache // optional
}

// Match returns the nearest available, non-stale responder for the case,
// skipping responders already attempted. Ties on distance break by lowest
// responder ID so repeated calls are reproducible.
func (s *Service) Match(c *models.SOSCase, exclude map[string]struct{}) (models.Match, bool) {
	limit := s.TopN
	if limit <= 0 {
		limit = 8
	}
	cands := s.Geo.NearestAvailable(c.Location, limit, s.MaxRadiusKm, exclude)
	if len(cands) == 0 {
		return models.Match{}, false
	}

	// candidates arrive sorted by distance then ID; the head is the pick
	best := cands[0]
	return models.Match{
		Responder:  best.Responder,
		DistanceKm: best.DistanceKm,
		ETAMinutes: s.estimate(best.Responder.Location, c.Location, best.DistanceKm),
	}, true
}

func (s *Service) estimate(from, to models.Coordinate, distanceKm float64) float64 {
	if s.ETACache != nil {
		if v, ok := s.ETACache.Get(from, to); ok {
			return v
		}
	}
	if s.ETAClient != nil {
		if v, err := s.ETAClient.EstimateMinutes(from, to); err == nil {
			if s.ETACache != nil {
				s.ETACache.Set(from, to, v)
			}
			return v
		}
	}
	return eta.EstimateMinutes(distanceKm, s.DefaultSpeedKmh)
}
