package models

import "time"

// Coordinate is a WGS84 point in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Responder is one dispatchable unit (ambulance driver or partner).
type Responder struct {
	ID          string     `json:"id"`
	Location    Coordinate `json:"location"`
	Available   bool       `json:"available"`
	LastUpdated time.Time  `json:"last_updated"`
}

// CaseState is the closed set of SOS case lifecycle states.
type CaseState string

const (
	CaseCreated      CaseState = "CREATED"
	CaseAssigned     CaseState = "ASSIGNED"
	CaseAccepted     CaseState = "ACCEPTED"
	CaseEnRoute      CaseState = "EN_ROUTE"
	CaseArrived      CaseState = "ARRIVED"
	CaseCompleted    CaseState = "COMPLETED"
	CaseCancelled    CaseState = "CANCELLED"
	CaseUnassignable CaseState = "UNASSIGNABLE"
)

// Terminal reports whether no further transitions are permitted.
func (s CaseState) Terminal() bool {
	switch s {
	case CaseCompleted, CaseCancelled, CaseUnassignable:
		return true
	}
	return false
}

// AssignmentState tracks one match attempt between a case and a responder.
type AssignmentState string

const (
	AssignmentProposed  AssignmentState = "PROPOSED"
	AssignmentAccepted  AssignmentState = "ACCEPTED"
	AssignmentDeclined  AssignmentState = "DECLINED"
	AssignmentExpired   AssignmentState = "EXPIRED"
	AssignmentArrived   AssignmentState = "ARRIVED"
	AssignmentCompleted AssignmentState = "COMPLETED"
)

// Assignment binds one SOSCase to one Responder for one attempt.
// Historical assignments are retained for audit; at most one is active.
type Assignment struct {
	ID          string          `json:"id"`
	CaseID      string          `json:"case_id"`
	ResponderID string          `json:"responder_id"`
	State       AssignmentState `json:"state"`
	AssignedAt  time.Time       `json:"assigned_at"`
	RespondedAt *time.Time      `json:"responded_at,omitempty"`
	ArrivedAt   *time.Time      `json:"arrived_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DistanceKm  float64         `json:"distance_km"`
	ETAMinutes  float64         `json:"eta_minutes"`
}

// Active reports whether this assignment still binds the responder to the case.
func (a *Assignment) Active() bool {
	switch a.State {
	case AssignmentProposed, AssignmentAccepted, AssignmentArrived:
		return true
	}
	return false
}

// SOSCase is one emergency event from creation to resolution.
type SOSCase struct {
	ID          string     `json:"id"`
	RequesterID string     `json:"requester_id"`
	Location    Coordinate `json:"location"`
	Priority    int        `json:"priority"`
	State       CaseState  `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// CreateCaseRequest is the inbound payload for a new emergency.
type CreateCaseRequest struct {
	RequesterID string     `json:"requester_id"`
	Location    Coordinate `json:"location"`
	Priority    int        `json:"priority"`
}

// ResponderHeartbeat is the periodic location/availability ping from the
// responder-facing application.
type ResponderHeartbeat struct {
	ID        string     `json:"id"`
	Location  Coordinate `json:"location"`
	Available bool       `json:"available"`
}

// Match is the matcher's proposal: a candidate responder plus the
// distance and ETA used to pick it.
type Match struct {
	Responder  Responder `json:"responder"`
	DistanceKm float64   `json:"distance_km"`
	ETAMinutes float64   `json:"eta_minutes"`
}

// AssignmentOffer is what gets pushed to a responder when a case is
// assigned to them.
type AssignmentOffer struct {
	AssignmentID string     `json:"assignment_id"`
	CaseID       string     `json:"case_id"`
	Location     Coordinate `json:"location"`
	DistanceKm   float64    `json:"distance_km"`
	ETAMinutes   float64    `json:"eta_minutes"`
}

// CaseEvent is one entry in a case's ordered transition stream. Seq starts
// at 1 and increments by one per applied transition, so consumers can
// reconstruct history and detect gaps.
type CaseEvent struct {
	CaseID     string      `json:"case_id"`
	Seq        uint64      `json:"seq"`
	FromState  CaseState   `json:"from_state"`
	ToState    CaseState   `json:"to_state"`
	Timestamp  time.Time   `json:"timestamp"`
	Assignment *Assignment `json:"assignment,omitempty"`
}
