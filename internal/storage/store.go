package storage

import (
	"sync"

	"github.com/example/sos-dispatch/internal/models"
)

// CaseStore defines persistence for cases, assignments, and the per-case
// event audit log. The state machine is the only writer.
type CaseStore interface {
	SaveCase(c *models.SOSCase) error
	UpdateCase(c *models.SOSCase) error
	SaveAssignment(a *models.Assignment) error
	UpdateAssignment(a *models.Assignment) error
	AppendEvent(ev *models.CaseEvent) error
}

// MemoryStore keeps everything in process memory. Used when no PG_DSN is
// configured and throughout the tests.
type MemoryStore struct {
	mu          sync.RWMutex
	cases       map[string]models.SOSCase
	assignments map[string]models.Assignment
	events      map[string][]models.CaseEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases:       make(map[string]models.SOSCase),
		assignments: make(map[string]models.Assignment),
		events:      make(map[string][]models.CaseEvent),
	}
}

func (m *MemoryStore) SaveCase(c *models.SOSCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[c.ID] = *c
	return nil
}

func (m *MemoryStore) UpdateCase(c *models.SOSCase) error {
	return m.SaveCase(c)
}

func (m *MemoryStore) SaveAssignment(a *models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[a.ID] = *a
	return nil
}

func (m *MemoryStore) UpdateAssignment(a *models.Assignment) error {
	return m.SaveAssignment(a)
}

func (m *MemoryStore) AppendEvent(ev *models.CaseEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.CaseID] = append(m.events[ev.CaseID], *ev)
	return nil
}

// Events returns the recorded stream for one case, in append order.
func (m *MemoryStore) Events(caseID string) []models.CaseEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.CaseEvent, len(m.events[caseID]))
	copy(out, m.events[caseID])
	return out
}

// GetCase returns the persisted snapshot of one case.
func (m *MemoryStore) GetCase(id string) (models.SOSCase, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[id]
	return c, ok
}

// Assignments returns every persisted assignment for one case.
func (m *MemoryStore) Assignments(caseID string) []models.Assignment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Assignment, 0)
	for _, a := range m.assignments {
		if a.CaseID == caseID {
			out = append(out, a)
		}
	}
	return out
}
