package cases

import (
	"errors"
	"fmt"

	"github.com/example/sos-dispatch/internal/models"
)

var (
	// ErrNotFound is returned for unknown case or assignment ids.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned to the loser of two racing transitions; the
	// caller must not assume its action applied.
	ErrConflict = errors.New("concurrent modification conflict")
	// ErrIllegalTransition is the base of every IllegalTransitionError.
	ErrIllegalTransition = errors.New("illegal transition")
)

// IllegalTransitionError rejects an event not permitted from the case's
// current state, echoing both back to the caller.
type IllegalTransitionError struct {
	CaseID string
	From   models.CaseState
	Event  string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: case %s in state %s cannot apply %s", e.CaseID, e.From, e.Event)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }

func illegal(caseID string, from models.CaseState, event string) error {
	return &IllegalTransitionError{CaseID: caseID, From: from, Event: event}
}
