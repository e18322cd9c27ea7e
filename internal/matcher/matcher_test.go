package matcher

import (
	"testing"
	"time"

	"github.com/example/sos-dispatch/internal/geo"
	"github.com/example/sos-dispatch/internal/models"
)

func freshIndex(t *testing.T, responders ...models.Responder) *geo.MemoryIndex {
	t.Helper()
	g := geo.NewMemoryIndex(2 * time.Minute)
	for _, r := range responders {
		g.Upsert(r)
	}
	return g
}

func TestMatchNearestResponder(t *testing.T) {
	now := time.Now()
	g := freshIndex(t,
		models.Responder{ID: "near", Location: models.Coordinate{Lat: 0, Lng: 0}, Available: true, LastUpdated: now},
		models.Responder{ID: "far", Location: models.Coordinate{Lat: 0, Lng: 0.1}, Available: true, LastUpdated: now},
	)
	s := &Service{Geo: g, TopN: 8, MaxRadiusKm: 50, DefaultSpeedKmh: 30}

	c := &models.SOSCase{ID: "c1", Location: models.Coordinate{Lat: 0, Lng: 0.01}}
	m, ok := s.Match(c, nil)
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Responder.ID != "near" {
		t.Fatalf("expected near, got %s", m.Responder.ID)
	}
	if m.DistanceKm < 1.0 || m.DistanceKm > 1.2 {
		t.Fatalf("expected ~1.1 km, got %f", m.DistanceKm)
	}
	if m.ETAMinutes < 1 {
		t.Fatalf("eta below floor: %f", m.ETAMinutes)
	}
}

func TestMatchSkipsStaleEvenWhenCloser(t *testing.T) {
	now := time.Now()
	g := freshIndex(t,
		models.Responder{ID: "stale", Location: models.Coordinate{Lat: 0, Lng: 0.001}, Available: true, LastUpdated: now.Add(-5 * time.Minute)},
		models.Responder{ID: "fresh", Location: models.Coordinate{Lat: 0, Lng: 0.05}, Available: true, LastUpdated: now},
	)
	s := &Service{Geo: g, TopN: 8, MaxRadiusKm: 50, DefaultSpeedKmh: 30}

	m, ok := s.Match(&models.SOSCase{ID: "c1"}, nil)
	if !ok || m.Responder.ID != "fresh" {
		t.Fatalf("expected fresh despite greater distance, got %+v ok=%v", m, ok)
	}
}

func TestMatchExcludesAttemptedResponders(t *testing.T) {
	now := time.Now()
	g := freshIndex(t,
		models.Responder{ID: "declined", Location: models.Coordinate{Lat: 0, Lng: 0.001}, Available: true, LastUpdated: now},
		models.Responder{ID: "other", Location: models.Coordinate{Lat: 0, Lng: 0.02}, Available: true, LastUpdated: now},
	)
	s := &Service{Geo: g, TopN: 8, MaxRadiusKm: 50, DefaultSpeedKmh: 30}

	m, ok := s.Match(&models.SOSCase{ID: "c1"}, map[string]struct{}{"declined": {}})
	if !ok || m.Responder.ID != "other" {
		t.Fatalf("expected other, got %+v ok=%v", m, ok)
	}
}

func TestMatchNoneAvailable(t *testing.T) {
	g := freshIndex(t)
	s := &Service{Geo: g, TopN: 8, MaxRadiusKm: 50, DefaultSpeedKmh: 30}
	if _, ok := s.Match(&models.SOSCase{ID: "c1"}, nil); ok {
		t.Fatal("expected no match")
	}
}

func TestMatchDeterministicTieBreak(t *testing.T) {
	now := time.Now()
	loc := models.Coordinate{Lat: 0, Lng: 0.01}
	g := freshIndex(t,
		models.Responder{ID: "r2", Location: loc, Available: true, LastUpdated: now},
		models.Responder{ID: "r1", Location: loc, Available: true, LastUpdated: now},
	)
	s := &Service{Geo: g, TopN: 8, MaxRadiusKm: 50, DefaultSpeedKmh: 30}
	for i := 0; i < 10; i++ {
		m, ok := s.Match(&models.SOSCase{ID: "c1"}, nil)
		if !ok || m.Responder.ID != "r1" {
			t.Fatalf("tie-break must pick lowest id every time, got %s", m.Responder.ID)
		}
	}
}
