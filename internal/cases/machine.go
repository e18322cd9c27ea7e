package cases

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/sos-dispatch/internal/models"
	"github.com/example/sos-dispatch/internal/storage"
)

// EventSink receives every applied transition. Implementations must not
// block for long; the machine hands events over while holding the case
// lock so per-case order is preserved end to end.
type EventSink interface {
	Publish(ev models.CaseEvent)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Publish(models.CaseEvent) {}

// AdvanceAction is a responder-driven progress event on an accepted case.
type AdvanceAction string

const (
	ActionEnRoute  AdvanceAction = "EN_ROUTE"
	ActionArrived  AdvanceAction = "ARRIVED"
	ActionComplete AdvanceAction = "COMPLETE"
)

// Snapshot is a read-only view of one case for callers.
type Snapshot struct {
	Case             models.SOSCase     `json:"case"`
	ActiveAssignment *models.Assignment `json:"active_assignment,omitempty"`
	Attempted        int                `json:"attempted_responders"`
	Seq              uint64             `json:"seq"`
}

// entry is all mutable state for one case. Its mutex serializes every
// transition on that case; racing callers lose with ErrConflict or an
// IllegalTransitionError, never a double-apply.
type entry struct {
	mu          sync.Mutex
	c           models.SOSCase
	active      *models.Assignment
	assignments []*models.Assignment
	attempted   map[string]struct{}
	seq         uint64
}

// Machine owns the canonical state of every in-flight SOS case and its one
// active assignment. All mutation goes through it.
type Machine struct {
	mu           sync.RWMutex
	entries      map[string]*entry
	byAssignment map[string]string // assignment id -> case id

	store  storage.CaseStore
	sink   EventSink
	logger *slog.Logger
	now    func() time.Time
}

func NewMachine(store storage.CaseStore, sink EventSink, logger *slog.Logger) *Machine {
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		entries:      make(map[string]*entry),
		byAssignment: make(map[string]string),
		store:        store,
		sink:         sink,
		logger:       logger,
		now:          time.Now,
	}
}

// Create registers a new case in CREATED and emits its first event.
func (m *Machine) Create(req models.CreateCaseRequest) (models.SOSCase, error) {
	now := m.now()
	c := models.SOSCase{
		ID:          uuid.NewString(),
		RequesterID: req.RequesterID,
		Location:    req.Location,
		Priority:    req.Priority,
		State:       models.CaseCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	e := &entry{c: c, attempted: make(map[string]struct{})}

	m.mu.Lock()
	m.entries[c.ID] = e
	m.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := m.store.SaveCase(&c); err != nil {
		m.logger.Error("save case", "case_id", c.ID, "error", err)
	}
	m.emit(e, "", models.CaseCreated, nil)
	return c, nil
}

func (m *Machine) lookup(caseID string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.entries[caseID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("case %s: %w", caseID, ErrNotFound)
	}
	return e, nil
}

func (m *Machine) lookupByAssignment(assignmentID string) (*entry, error) {
	m.mu.RLock()
	caseID, ok := m.byAssignment[assignmentID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("assignment %s: %w", assignmentID, ErrNotFound)
	}
	e, err := m.lookup(caseID)
	if err != nil {
		// the reverse index is maintained together with entries; a dangling
		// assignment means corrupted state
		panic(fmt.Sprintf("assignment %s references missing case %s", assignmentID, caseID))
	}
	return e, nil
}

// Get returns a snapshot of one case.
func (m *Machine) Get(caseID string) (Snapshot, error) {
	e, err := m.lookup(caseID)
	if err != nil {
		return Snapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return m.snapshotLocked(e), nil
}

func (m *Machine) snapshotLocked(e *entry) Snapshot {
	s := Snapshot{Case: e.c, Attempted: len(e.attempted), Seq: e.seq}
	if e.active != nil {
		cp := *e.active
		s.ActiveAssignment = &cp
	}
	return s
}

// Attempted returns the responders already proposed for this case, so the
// matcher never re-proposes one that declined or timed out.
func (m *Machine) Attempted(caseID string) (map[string]struct{}, error) {
	e, err := m.lookup(caseID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]struct{}, len(e.attempted))
	for id := range e.attempted {
		out[id] = struct{}{}
	}
	return out, nil
}

// Assign applies CREATED -> ASSIGNED, creating a new PROPOSED assignment
// for the matched responder.
func (m *Machine) Assign(caseID string, match models.Match) (models.Assignment, error) {
	e, err := m.lookup(caseID)
	if err != nil {
		return models.Assignment{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.c.State != models.CaseCreated {
		return models.Assignment{}, illegal(caseID, e.c.State, "ASSIGN")
	}
	if e.active != nil {
		panic(fmt.Sprintf("case %s in CREATED with active assignment %s", caseID, e.active.ID))
	}

	a := &models.Assignment{
		ID:          uuid.NewString(),
		CaseID:      caseID,
		ResponderID: match.Responder.ID,
		State:       models.AssignmentProposed,
		AssignedAt:  m.now(),
		DistanceKm:  match.DistanceKm,
		ETAMinutes:  match.ETAMinutes,
	}
	e.active = a
	e.assignments = append(e.assignments, a)
	e.attempted[a.ResponderID] = struct{}{}

	m.mu.Lock()
	m.byAssignment[a.ID] = caseID
	m.mu.Unlock()

	if err := m.store.SaveAssignment(a); err != nil {
		m.logger.Error("save assignment", "assignment_id", a.ID, "error", err)
	}
	m.setStateLocked(e, models.CaseAssigned, a)
	return *a, nil
}

// Respond applies the responder's ACCEPT or DECLINE to a proposed
// assignment. Decline closes the assignment and re-enters CREATED so the
// coordinator can rematch with this responder excluded.
func (m *Machine) Respond(assignmentID string, accept bool) (Snapshot, error) {
	return m.closeProposed(assignmentID, accept, false)
}

// Expire is the acceptance-window timeout firing on a proposed assignment.
// A late expiry (already accepted, declined, or cancelled) returns
// ErrConflict; callers treat that as a no-op.
func (m *Machine) Expire(assignmentID string) (Snapshot, error) {
	return m.closeProposed(assignmentID, false, true)
}

func (m *Machine) closeProposed(assignmentID string, accept, expired bool) (Snapshot, error) {
	e, err := m.lookupByAssignment(assignmentID)
	if err != nil {
		return Snapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil || e.active.ID != assignmentID || e.active.State != models.AssignmentProposed {
		// the assignment was already resolved by a competing transition
		return m.snapshotLocked(e), fmt.Errorf("assignment %s already resolved: %w", assignmentID, ErrConflict)
	}
	if e.c.State != models.CaseAssigned {
		return m.snapshotLocked(e), illegal(e.c.ID, e.c.State, "RESPOND")
	}

	now := m.now()
	a := e.active
	a.RespondedAt = &now
	switch {
	case accept:
		a.State = models.AssignmentAccepted
	case expired:
		a.State = models.AssignmentExpired
	default:
		a.State = models.AssignmentDeclined
	}
	if err := m.store.UpdateAssignment(a); err != nil {
		m.logger.Error("update assignment", "assignment_id", a.ID, "error", err)
	}

	if accept {
		m.setStateLocked(e, models.CaseAccepted, a)
	} else {
		e.active = nil
		m.setStateLocked(e, models.CaseCreated, a)
	}
	return m.snapshotLocked(e), nil
}

// Advance applies responder progress: ACCEPTED -> EN_ROUTE -> ARRIVED ->
// COMPLETED. COMPLETED closes the assignment.
func (m *Machine) Advance(caseID string, action AdvanceAction) (Snapshot, error) {
	e, err := m.lookup(caseID)
	if err != nil {
		return Snapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var from, to models.CaseState
	switch action {
	case ActionEnRoute:
		from, to = models.CaseAccepted, models.CaseEnRoute
	case ActionArrived:
		from, to = models.CaseEnRoute, models.CaseArrived
	case ActionComplete:
		from, to = models.CaseArrived, models.CaseCompleted
	default:
		return m.snapshotLocked(e), illegal(caseID, e.c.State, string(action))
	}
	if e.c.State != from {
		return m.snapshotLocked(e), illegal(caseID, e.c.State, string(action))
	}
	a := e.active
	if a == nil {
		panic(fmt.Sprintf("case %s in state %s with no active assignment", caseID, e.c.State))
	}

	now := m.now()
	switch action {
	case ActionArrived:
		a.State = models.AssignmentArrived
		a.ArrivedAt = &now
	case ActionComplete:
		a.State = models.AssignmentCompleted
		a.CompletedAt = &now
		e.active = nil
	}
	if action != ActionEnRoute {
		if err := m.store.UpdateAssignment(a); err != nil {
			m.logger.Error("update assignment", "assignment_id", a.ID, "error", err)
		}
	}
	m.setStateLocked(e, to, a)
	return m.snapshotLocked(e), nil
}

// Cancel moves any non-terminal case to CANCELLED, closing a pending
// assignment if one exists. Cancelling an already-CANCELLED case is an
// idempotent no-op: the current snapshot comes back with applied=false and
// no event is emitted. Other terminal states reject with IllegalTransition.
func (m *Machine) Cancel(caseID string) (Snapshot, bool, error) {
	e, err := m.lookup(caseID)
	if err != nil {
		return Snapshot{}, false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.c.State == models.CaseCancelled {
		return m.snapshotLocked(e), false, nil
	}
	if e.c.State.Terminal() {
		return m.snapshotLocked(e), false, illegal(caseID, e.c.State, "CANCEL")
	}

	var a *models.Assignment
	if e.active != nil {
		a = e.active
		if a.Active() {
			a.State = models.AssignmentExpired
		}
		now := m.now()
		a.CompletedAt = &now
		e.active = nil
		if err := m.store.UpdateAssignment(a); err != nil {
			m.logger.Error("update assignment", "assignment_id", a.ID, "error", err)
		}
	}
	m.setStateLocked(e, models.CaseCancelled, a)
	return m.snapshotLocked(e), true, nil
}

// MarkUnassignable ends a CREATED case whose retry budget is exhausted.
func (m *Machine) MarkUnassignable(caseID string) (Snapshot, error) {
	e, err := m.lookup(caseID)
	if err != nil {
		return Snapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.c.State != models.CaseCreated {
		return m.snapshotLocked(e), illegal(caseID, e.c.State, "UNASSIGNABLE")
	}
	m.setStateLocked(e, models.CaseUnassignable, nil)
	return m.snapshotLocked(e), nil
}

// setStateLocked applies the state change, persists it, and emits the
// ordered event. Caller holds e.mu.
func (m *Machine) setStateLocked(e *entry, to models.CaseState, a *models.Assignment) {
	from := e.c.State
	e.c.State = to
	e.c.UpdatedAt = m.now()
	if err := m.store.UpdateCase(&e.c); err != nil {
		m.logger.Error("update case", "case_id", e.c.ID, "error", err)
	}
	m.emit(e, from, to, a)
}

// emit assigns the next sequence number under the case lock and hands the
// event to the sink. Caller holds e.mu.
func (m *Machine) emit(e *entry, from, to models.CaseState, a *models.Assignment) {
	e.seq++
	ev := models.CaseEvent{
		CaseID:    e.c.ID,
		Seq:       e.seq,
		FromState: from,
		ToState:   to,
		Timestamp: m.now(),
	}
	if a != nil {
		cp := *a
		ev.Assignment = &cp
	}
	if err := m.store.AppendEvent(&ev); err != nil {
		m.logger.Error("append event", "case_id", ev.CaseID, "seq", ev.Seq, "error", err)
	}
	m.sink.Publish(ev)
}
