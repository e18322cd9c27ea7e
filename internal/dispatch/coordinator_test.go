package dispatch

import (
	"container/heap"
	"sync"
	"testing"
	"time"

	"github.com/example/sos-dispatch/internal/cases"
	"github.com/example/sos-dispatch/internal/geo"
	"github.com/example/sos-dispatch/internal/matcher"
	"github.com/example/sos-dispatch/internal/models"
	"github.com/example/sos-dispatch/internal/storage"
)

type captureGateway struct {
	mu     sync.Mutex
	offers []models.AssignmentOffer
}

func (g *captureGateway) Offer(responderID string, offer models.AssignmentOffer) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.offers = append(g.offers, offer)
	return nil
}

func (g *captureGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.offers)
}

type testRig struct {
	coord *Coordinator
	index *geo.MemoryIndex
	store *storage.MemoryStore
	gw    *captureGateway
}

func newRig(t *testing.T, tweaks ...func(*Coordinator)) *testRig {
	t.Helper()
	store := storage.NewMemoryStore()
	machine := cases.NewMachine(store, cases.NopSink{}, nil)
	index := geo.NewMemoryIndex(2 * time.Minute)
	m := &matcher.Service{Geo: index, TopN: 8, MaxRadiusKm: 50, DefaultSpeedKmh: 30}
	gw := &captureGateway{}
	c := NewCoordinator(machine, m, gw, nil)
	c.AcceptWindow = 40 * time.Millisecond
	c.RetryBackoff = 10 * time.Millisecond
	c.MaxAttempts = 3
	c.MaxSearchWindow = time.Minute
	c.Workers = 2
	for _, tw := range tweaks {
		tw(c)
	}
	c.Start()
	t.Cleanup(c.Stop)
	return &testRig{coord: c, index: index, store: store, gw: gw}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (r *testRig) state(t *testing.T, caseID string) models.CaseState {
	t.Helper()
	snap, err := r.coord.Status(caseID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	return snap.Case.State
}

func TestDispatchHappyPath(t *testing.T) {
	r := newRig(t)
	r.index.Upsert(models.Responder{ID: "r1", Location: models.Coordinate{Lat: 0, Lng: 0}, Available: true})

	sc, err := r.coord.CreateCase(models.CreateCaseRequest{RequesterID: "u1", Location: models.Coordinate{Lat: 0, Lng: 0.01}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitFor(t, "assignment", func() bool { return r.state(t, sc.ID) == models.CaseAssigned })

	snap, _ := r.coord.Status(sc.ID)
	a := snap.ActiveAssignment
	if a == nil || a.ResponderID != "r1" {
		t.Fatalf("expected assignment to r1, got %+v", a)
	}
	if a.DistanceKm < 1.0 || a.DistanceKm > 1.2 {
		t.Fatalf("expected ~1.1 km, got %f", a.DistanceKm)
	}

	if _, err := r.coord.RespondToAssignment(a.ID, true); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := r.coord.AdvanceCase(sc.ID, cases.ActionEnRoute); err != nil {
		t.Fatalf("en route: %v", err)
	}
	if _, err := r.coord.AdvanceCase(sc.ID, cases.ActionArrived); err != nil {
		t.Fatalf("arrived: %v", err)
	}
	snap, err = r.coord.AdvanceCase(sc.ID, cases.ActionComplete)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if snap.Case.State != models.CaseCompleted {
		t.Fatalf("expected COMPLETED, got %s", snap.Case.State)
	}
}

// Acceptance-window timeout reverts to CREATED with the responder
// excluded; the rematch must not re-propose them.
func TestAssignmentTimeoutRematchesExcludingResponder(t *testing.T) {
	r := newRig(t)
	r.index.Upsert(models.Responder{ID: "r1", Location: models.Coordinate{Lat: 0, Lng: 0.001}, Available: true})
	r.index.Upsert(models.Responder{ID: "r2", Location: models.Coordinate{Lat: 0, Lng: 0.02}, Available: true})

	sc, _ := r.coord.CreateCase(models.CreateCaseRequest{RequesterID: "u1"})
	waitFor(t, "first assignment", func() bool {
		snap, err := r.coord.Status(sc.ID)
		return err == nil && snap.ActiveAssignment != nil && snap.ActiveAssignment.ResponderID == "r1"
	})

	// let the acceptance window lapse without responding
	waitFor(t, "rematch to r2", func() bool {
		snap, err := r.coord.Status(sc.ID)
		return err == nil && snap.ActiveAssignment != nil && snap.ActiveAssignment.ResponderID == "r2"
	})

	expired := 0
	for _, a := range r.store.Assignments(sc.ID) {
		if a.ResponderID == "r1" && a.State == models.AssignmentExpired {
			expired++
		}
	}
	if expired != 1 {
		t.Fatalf("expected exactly one expired assignment for r1, got %d", expired)
	}
}

func TestDeclineRematchesExcludingResponder(t *testing.T) {
	r := newRig(t)
	r.index.Upsert(models.Responder{ID: "r1", Location: models.Coordinate{Lat: 0, Lng: 0.001}, Available: true})
	r.index.Upsert(models.Responder{ID: "r2", Location: models.Coordinate{Lat: 0, Lng: 0.02}, Available: true})

	sc, _ := r.coord.CreateCase(models.CreateCaseRequest{RequesterID: "u1"})
	waitFor(t, "assignment", func() bool {
		snap, err := r.coord.Status(sc.ID)
		return err == nil && snap.ActiveAssignment != nil
	})
	snap, _ := r.coord.Status(sc.ID)
	if _, err := r.coord.RespondToAssignment(snap.ActiveAssignment.ID, false); err != nil {
		t.Fatalf("decline: %v", err)
	}
	waitFor(t, "rematch to r2", func() bool {
		s, err := r.coord.Status(sc.ID)
		return err == nil && s.ActiveAssignment != nil && s.ActiveAssignment.ResponderID == "r2"
	})
}

// With zero responders the retry budget runs out and the case ends
// UNASSIGNABLE with no further retries firing.
func TestRetryBudgetExhaustedMarksUnassignable(t *testing.T) {
	r := newRig(t)

	sc, _ := r.coord.CreateCase(models.CreateCaseRequest{RequesterID: "u1"})
	waitFor(t, "unassignable", func() bool { return r.state(t, sc.ID) == models.CaseUnassignable })

	// a responder appearing afterwards must not resurrect the case
	r.index.Upsert(models.Responder{ID: "late", Location: models.Coordinate{Lat: 0, Lng: 0.001}, Available: true})
	time.Sleep(5 * r.coord.RetryBackoff)
	if got := r.state(t, sc.ID); got != models.CaseUnassignable {
		t.Fatalf("terminal case mutated to %s", got)
	}
	if r.gw.count() != 0 {
		t.Fatalf("no offers expected, got %d", r.gw.count())
	}
}

// Cancelling while an assignment is PROPOSED terminates the case; the
// acceptance timeout firing afterwards is a no-op.
func TestCancelPreemptsPendingTimeout(t *testing.T) {
	// keep the real timer from firing mid-test
	r := newRig(t, func(c *Coordinator) { c.AcceptWindow = 10 * time.Second })
	r.index.Upsert(models.Responder{ID: "r1", Location: models.Coordinate{Lat: 0, Lng: 0.001}, Available: true})

	sc, _ := r.coord.CreateCase(models.CreateCaseRequest{RequesterID: "u1"})
	waitFor(t, "assignment", func() bool {
		snap, err := r.coord.Status(sc.ID)
		return err == nil && snap.ActiveAssignment != nil
	})
	snap, _ := r.coord.Status(sc.ID)
	aID := snap.ActiveAssignment.ID

	if _, err := r.coord.CancelCase(sc.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := r.state(t, sc.ID); got != models.CaseCancelled {
		t.Fatalf("expected CANCELLED, got %s", got)
	}

	// simulate the timeout racing in after cancellation
	r.coord.OnAssignmentTimeout(aID)
	if got := r.state(t, sc.ID); got != models.CaseCancelled {
		t.Fatalf("late timeout mutated case to %s", got)
	}
	events := r.store.Events(sc.ID)
	last := events[len(events)-1]
	if last.ToState != models.CaseCancelled {
		t.Fatalf("expected CANCELLED to be the final event, got %s", last.ToState)
	}
}

func TestCancelDuringSearchStopsRetries(t *testing.T) {
	r := newRig(t)

	sc, _ := r.coord.CreateCase(models.CreateCaseRequest{RequesterID: "u1"})
	if _, err := r.coord.CancelCase(sc.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	time.Sleep(5 * r.coord.RetryBackoff)
	if got := r.state(t, sc.ID); got != models.CaseCancelled {
		t.Fatalf("expected CANCELLED, got %s", got)
	}
}

func TestMatchQueueOrdersByPriorityThenArrival(t *testing.T) {
	var q matchQueue
	heap.Push(&q, &matchItem{caseID: "low", priority: 0, seq: 1})
	heap.Push(&q, &matchItem{caseID: "high", priority: 5, seq: 2})
	heap.Push(&q, &matchItem{caseID: "high2", priority: 5, seq: 3})

	want := []string{"high", "high2", "low"}
	for _, w := range want {
		got := heap.Pop(&q).(*matchItem).caseID
		if got != w {
			t.Fatalf("expected %s, got %s", w, got)
		}
	}
}
