package eta

import (
	"testing"
	"time"

	"github.com/example/sos-dispatch/internal/models"
)

func TestEstimateMinutesLinear(t *testing.T) {
	// 30 km at 30 km/h is an hour
	if m := EstimateMinutes(30, 30); m != 60 {
		t.Fatalf("expected 60, got %f", m)
	}
}

func TestEstimateMinutesFloor(t *testing.T) {
	if m := EstimateMinutes(0.1, 30); m != 1 {
		t.Fatalf("expected floor of 1 minute, got %f", m)
	}
	if m := EstimateMinutes(0, 30); m != 0 {
		t.Fatalf("expected 0 for zero distance, got %f", m)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	a := models.Coordinate{Lat: 1, Lng: 2}
	b := models.Coordinate{Lat: 3, Lng: 4}
	c.Set(a, b, 7.5)
	if v, ok := c.Get(a, b); !ok || v != 7.5 {
		t.Fatalf("expected cached 7.5, got %f ok=%v", v, ok)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(a, b); ok {
		t.Fatal("expected entry to expire")
	}
}
