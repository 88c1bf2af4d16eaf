package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyRegistered is returned when an attendee with an active record
	// registers for the same session again.
	ErrAlreadyRegistered = errors.New("attendee already registered for this session")

	// ErrWaitlistFull is returned when the waitlist has a bound and it is met.
	ErrWaitlistFull = errors.New("waitlist is full")

	// ErrWaitlistDisabled is returned when waitlisting is requested on a
	// session that does not keep one.
	ErrWaitlistDisabled = errors.New("waitlist is not enabled for this session")

	// ErrAutoResolveNotEligible means the conflict cannot be auto-resolved in
	// this pass: either it carries no strategy or the strategy's preconditions
	// are not currently satisfiable. It is a transient state, not a fault.
	ErrAutoResolveNotEligible = errors.New("conflict is not eligible for auto-resolution")
)

// CapacityExceededError reports a rejected registration. It is not fatal; the
// caller may inform the end user.
type CapacityExceededError struct {
	SessionID string
	Capacity  int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("session %s is at capacity (%d)", e.SessionID, e.Capacity)
}

// CircularDependencyError reports a strict edge rejected because it would
// close a cycle. Path is the session chain forming the cycle.
type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// PrerequisiteNotMetError blocks a registration until the listed prerequisites
// pass or a privileged caller overrides them.
type PrerequisiteNotMetError struct {
	PrerequisiteIDs []string
}

func (e *PrerequisiteNotMetError) Error() string {
	return fmt.Sprintf("prerequisites not met: %s", strings.Join(e.PrerequisiteIDs, ", "))
}

// ResourceUnavailableError reports a booking that cannot be satisfied inside
// its window.
type ResourceUnavailableError struct {
	ResourceID string
	Shortfall  int
}

func (e *ResourceUnavailableError) Error() string {
	return fmt.Sprintf("resource %s unavailable (short %d)", e.ResourceID, e.Shortfall)
}

// InvalidStateTransitionError reports a resolution attempted against a
// conflict whose status does not admit it.
type InvalidStateTransitionError struct {
	ConflictID string
	From       ResolutionStatus
	To         ResolutionStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("conflict %s: invalid transition %s -> %s", e.ConflictID, e.From, e.To)
}
