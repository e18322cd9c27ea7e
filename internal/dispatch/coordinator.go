package dispatch

import (
	"container/heap"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/sos-dispatch/internal/cases"
	"github.com/example/sos-dispatch/internal/matcher"
	"github.com/example/sos-dispatch/internal/models"
	"github.com/example/sos-dispatch/internal/observability"
)

// Coordinator drives the match -> assign -> retry loop end to end. Pending
// match work drains highest priority first (FIFO within a priority), a
// fixed backoff and retry budget bound the search, and per-assignment
// acceptance timers fire independently of worker threads so slow offer
// delivery never delays an unrelated case's timeout.
type Coordinator struct {
	Machine *cases.Machine
	Matcher *matcher.Service
	Gateway NotificationGateway
	Logger  *slog.Logger

	AcceptWindow    time.Duration
	RetryBackoff    time.Duration
	MaxAttempts     int
	MaxSearchWindow time.Duration
	Workers         int

	mu       sync.Mutex
	cond     *sync.Cond
	queue    matchQueue
	seq      uint64
	timers   map[string]*time.Timer
	attempts map[string]int
	started  map[string]time.Time
	stopped  bool
	wg       sync.WaitGroup
}

func NewCoordinator(m *cases.Machine, mt *matcher.Service, gw NotificationGateway, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		Machine:         m,
		Matcher:         mt,
		Gateway:         gw,
		Logger:          logger,
		AcceptWindow:    60 * time.Second,
		RetryBackoff:    10 * time.Second,
		MaxAttempts:     5,
		MaxSearchWindow: 10 * time.Minute,
		Workers:         4,
		timers:          make(map[string]*time.Timer),
		attempts:        make(map[string]int),
		started:         make(map[string]time.Time),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Start launches the match workers.
func (c *Coordinator) Start() {
	n := c.Workers
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		c.wg.Add(1)
		go c.worker()
	}
}

// Stop drains nothing: it cancels pending timers, wakes the workers and
// waits for them to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.cond.Broadcast()
	c.mu.Unlock()
	c.wg.Wait()
}

// CreateCase is the requester-facing entry point: register the case and
// enqueue its first match attempt.
func (c *Coordinator) CreateCase(req models.CreateCaseRequest) (models.SOSCase, error) {
	sc, err := c.Machine.Create(req)
	if err != nil {
		return models.SOSCase{}, err
	}
	observability.CasesCreated.Inc()
	observability.CasesActive.Inc()
	c.mu.Lock()
	c.started[sc.ID] = time.Now()
	c.mu.Unlock()
	c.enqueue(sc.ID, sc.Priority)
	return sc, nil
}

// RespondToAssignment applies a responder's accept or decline. Decline
// closes the assignment and re-enters matching with that responder
// excluded.
func (c *Coordinator) RespondToAssignment(assignmentID string, accept bool) (cases.Snapshot, error) {
	snap, err := c.Machine.Respond(assignmentID, accept)
	if err != nil {
		return snap, err
	}
	c.clearTimer(snap.Case.ID)
	if !accept {
		c.enqueue(snap.Case.ID, snap.Case.Priority)
	}
	return snap, nil
}

// AdvanceCase forwards responder progress events to the state machine.
func (c *Coordinator) AdvanceCase(caseID string, action cases.AdvanceAction) (cases.Snapshot, error) {
	snap, err := c.Machine.Advance(caseID, action)
	if err != nil {
		return snap, err
	}
	if snap.Case.State.Terminal() {
		observability.CasesActive.Dec()
		c.cleanup(caseID)
	}
	return snap, nil
}

// CancelCase interrupts the case wherever it is: a pending retry or
// acceptance timer is preempted, and a timer that already fired finds the
// case terminal and does nothing.
func (c *Coordinator) CancelCase(caseID string) (cases.Snapshot, error) {
	snap, applied, err := c.Machine.Cancel(caseID)
	if err != nil {
		return snap, err
	}
	if applied {
		observability.CasesCancelled.Inc()
		observability.CasesActive.Dec()
		c.cleanup(caseID)
	}
	return snap, nil
}

// Status returns a read-only snapshot for UI polling.
func (c *Coordinator) Status(caseID string) (cases.Snapshot, error) {
	return c.Machine.Get(caseID)
}

// OnAssignmentTimeout fires when an ASSIGNED assignment ages past the
// acceptance window. Losing the race to an accept or a cancel is fine: the
// expiry comes back ErrConflict and nothing is applied.
func (c *Coordinator) OnAssignmentTimeout(assignmentID string) {
	snap, err := c.Machine.Expire(assignmentID)
	if err != nil {
		if !errors.Is(err, cases.ErrConflict) && !errors.Is(err, cases.ErrNotFound) {
			c.Logger.Error("assignment expiry", "assignment_id", assignmentID, "error", err)
		}
		return
	}
	observability.AssignmentTimeouts.Inc()
	c.Logger.Info("assignment expired", "assignment_id", assignmentID, "case_id", snap.Case.ID)
	c.enqueue(snap.Case.ID, snap.Case.Priority)
}

func (c *Coordinator) worker() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.stopped {
			c.cond.Wait()
		}
		if c.stopped {
			c.mu.Unlock()
			return
		}
		item := heap.Pop(&c.queue).(*matchItem)
		c.mu.Unlock()
		c.attemptMatch(item.caseID)
	}
}

// attemptMatch runs one pass of the match loop for a case in CREATED.
func (c *Coordinator) attemptMatch(caseID string) {
	snap, err := c.Machine.Get(caseID)
	if err != nil {
		return
	}
	// a retry firing after cancellation or assignment is a no-op
	if snap.Case.State != models.CaseCreated {
		return
	}

	exclude, err := c.Machine.Attempted(caseID)
	if err != nil {
		return
	}
	match, ok := c.Matcher.Match(&snap.Case, exclude)
	if !ok {
		c.mu.Lock()
		c.attempts[caseID]++
		n := c.attempts[caseID]
		start := c.started[caseID]
		c.mu.Unlock()

		if n >= c.MaxAttempts || (!start.IsZero() && time.Since(start) >= c.MaxSearchWindow) {
			if _, err := c.Machine.MarkUnassignable(caseID); err == nil {
				observability.CasesUnassignable.Inc()
				observability.CasesActive.Dec()
				c.Logger.Warn("case unassignable", "case_id", caseID, "attempts", n)
			}
			c.cleanup(caseID)
			return
		}
		observability.MatchRetries.Inc()
		c.scheduleRetry(caseID, snap.Case.Priority)
		return
	}

	a, err := c.Machine.Assign(caseID, match)
	if err != nil {
		// lost to a concurrent cancel; nothing to do
		return
	}
	observability.MatchesTotal.Inc()
	c.Logger.Info("case assigned",
		"case_id", caseID,
		"assignment_id", a.ID,
		"responder_id", a.ResponderID,
		"distance_km", a.DistanceKm,
		"eta_minutes", a.ETAMinutes,
	)

	// arm the acceptance window before delivering the offer so a slow
	// gateway cannot stretch the window
	c.setTimer(caseID, c.AcceptWindow, func() { c.OnAssignmentTimeout(a.ID) })

	offer := models.AssignmentOffer{
		AssignmentID: a.ID,
		CaseID:       caseID,
		Location:     snap.Case.Location,
		DistanceKm:   a.DistanceKm,
		ETAMinutes:   a.ETAMinutes,
	}
	if err := c.Gateway.Offer(a.ResponderID, offer); err != nil {
		c.Logger.Warn("offer delivery failed", "assignment_id", a.ID, "responder_id", a.ResponderID, "error", err)
	}
}

func (c *Coordinator) enqueue(caseID string, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.seq++
	heap.Push(&c.queue, &matchItem{caseID: caseID, priority: priority, seq: c.seq})
	c.cond.Signal()
}

// scheduleRetry arms a backoff timer that re-enqueues the case.
func (c *Coordinator) scheduleRetry(caseID string, priority int) {
	c.setTimer(caseID, c.RetryBackoff, func() { c.enqueue(caseID, priority) })
}

func (c *Coordinator) setTimer(caseID string, d time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if old, ok := c.timers[caseID]; ok {
		old.Stop()
	}
	c.timers[caseID] = time.AfterFunc(d, fn)
}

func (c *Coordinator) clearTimer(caseID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[caseID]; ok {
		t.Stop()
		delete(c.timers, caseID)
	}
}

func (c *Coordinator) cleanup(caseID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[caseID]; ok {
		t.Stop()
		delete(c.timers, caseID)
	}
	delete(c.attempts, caseID)
	delete(c.started, caseID)
}

// matchItem is one pending match attempt. Higher priority pops first;
// equal priorities pop in arrival order.
type matchItem struct {
	caseID   string
	priority int
	seq      uint64
}

type matchQueue []*matchItem

func (q matchQueue) Len() int { return len(q) }

func (q matchQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q matchQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *matchQueue) Push(x any) { *q = append(*q, x.(*matchItem)) }

func (q *matchQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
