package models

import (
	"fmt"
	"time"
)

type ConflictType string

const (
	ConflictTimeOverlap           ConflictType = "TIME_OVERLAP"
	ConflictResource              ConflictType = "RESOURCE_CONFLICT"
	ConflictCapacityExceeded      ConflictType = "CAPACITY_EXCEEDED"
	ConflictPrerequisiteViolation ConflictType = "PREREQUISITE_VIOLATION"
	ConflictDependencyViolation   ConflictType = "DEPENDENCY_VIOLATION"
	ConflictStaff                 ConflictType = "STAFF_CONFLICT"
	ConflictLocation              ConflictType = "LOCATION_CONFLICT"
	ConflictUser                  ConflictType = "USER_CONFLICT"
)

type ConflictSeverity string

const (
	SeverityInfo     ConflictSeverity = "INFO"
	SeverityWarning  ConflictSeverity = "WARNING"
	SeverityError    ConflictSeverity = "ERROR"
	SeverityCritical ConflictSeverity = "CRITICAL"
)

// Rank orders severities so callers can filter by a minimum level.
func (s ConflictSeverity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

type ResolutionStatus string

const (
	StatusUnresolved   ResolutionStatus = "UNRESOLVED"
	StatusAcknowledged ResolutionStatus = "ACKNOWLEDGED"
	StatusResolved     ResolutionStatus = "RESOLVED"
	StatusIgnored      ResolutionStatus = "IGNORED"
	StatusAutoResolved ResolutionStatus = "AUTO_RESOLVED"
)

// IsTerminal reports whether the status admits no further transitions for this
// conflict instance. A fresh detection pass may reopen a logically-equivalent
// conflict as a new record if the root cause recurs.
func (s ResolutionStatus) IsTerminal() bool {
	switch s {
	case StatusResolved, StatusIgnored, StatusAutoResolved:
		return true
	}
	return false
}

// CanTransitionTo implements the resolution state machine:
// UNRESOLVED -> {ACKNOWLEDGED, RESOLVED, IGNORED, AUTO_RESOLVED};
// ACKNOWLEDGED -> {RESOLVED, IGNORED}; terminal states admit nothing.
func (s ResolutionStatus) CanTransitionTo(next ResolutionStatus) bool {
	switch s {
	case StatusUnresolved:
		switch next {
		case StatusAcknowledged, StatusResolved, StatusIgnored, StatusAutoResolved:
			return true
		}
	case StatusAcknowledged:
		switch next {
		case StatusResolved, StatusIgnored:
			return true
		}
	}
	return false
}

// AutoResolutionStrategy names the automatic remediation a conflict is
// eligible for.
type AutoResolutionStrategy string

const (
	StrategyNone             AutoResolutionStrategy = ""
	StrategyCapacityRelief   AutoResolutionStrategy = "WAITLIST_CAPACITY_RELIEF"
	StrategyScheduleNudge    AutoResolutionStrategy = "SCHEDULE_NUDGE"
	StrategyResourceReassign AutoResolutionStrategy = "RESOURCE_REASSIGN"
)

// ConflictKey is the deduplication identity of a conflict. A detection pass
// that finds a matching active conflict refreshes it instead of inserting a
// duplicate.
type ConflictKey struct {
	Type               ConflictType
	PrimarySessionID   string
	SecondarySessionID string
	ResourceID         string
	RegistrationID     string
}

func (k ConflictKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s",
		k.Type, k.PrimarySessionID, k.SecondarySessionID, k.ResourceID, k.RegistrationID)
}

// Conflict is a detected scheduling inconsistency.
type Conflict struct {
	ID                 string                 `json:"id" db:"id"`
	Type               ConflictType           `json:"type" db:"type"`
	Severity           ConflictSeverity       `json:"severity" db:"severity"`
	PrimarySessionID   string                 `json:"primary_session_id" db:"primary_session_id"`
	SecondarySessionID string                 `json:"secondary_session_id" db:"secondary_session_id"`
	ResourceID         string                 `json:"resource_id" db:"resource_id"`
	RegistrationID     string                 `json:"registration_id" db:"registration_id"`
	EventID            string                 `json:"event_id" db:"event_id"`
	Description        string                 `json:"description" db:"description"`
	ConflictStart      time.Time              `json:"conflict_start" db:"conflict_start"`
	ConflictEnd        time.Time              `json:"conflict_end" db:"conflict_end"`
	AffectedCount      int                    `json:"affected_count" db:"affected_count"`
	ResolutionStatus   ResolutionStatus       `json:"resolution_status" db:"resolution_status"`
	CanAutoResolve     bool                   `json:"can_auto_resolve" db:"can_auto_resolve"`
	AutoStrategy       AutoResolutionStrategy `json:"auto_strategy" db:"auto_strategy"`
	IsActive           bool                   `json:"is_active" db:"is_active"`
	DetectedAt         time.Time              `json:"detected_at" db:"detected_at"`
	LastCheckedAt      time.Time              `json:"last_checked_at" db:"last_checked_at"`
}

// IdentityKey returns the deduplication key for this conflict.
func (c *Conflict) IdentityKey() ConflictKey {
	return ConflictKey{
		Type:               c.Type,
		PrimarySessionID:   c.PrimarySessionID,
		SecondarySessionID: c.SecondarySessionID,
		ResourceID:         c.ResourceID,
		RegistrationID:     c.RegistrationID,
	}
}

// OverlapSeverity grades a pairwise time/staff/location overlap. Overlaps with
// no confirmed registrants on either side are informational; full containment
// of one window inside the other with registrants affected is an error.
func OverlapSeverity(sharedRegistrants int, contained bool) ConflictSeverity {
	if sharedRegistrants == 0 {
		return SeverityInfo
	}
	if contained {
		return SeverityError
	}
	return SeverityWarning
}

// CapacitySeverity grades a capacity breach by how far registrations exceed
// the admission ceiling: more than 20% over is critical.
func CapacitySeverity(registrations, ceiling int) ConflictSeverity {
	if ceiling <= 0 {
		return SeverityCritical
	}
	excess := registrations - ceiling
	if excess <= 0 {
		return SeverityInfo
	}
	if excess*100 > ceiling*20 {
		return SeverityCritical
	}
	return SeverityError
}

// DependencySeverity grades a dependency violation by edge strictness.
func DependencySeverity(strict bool) ConflictSeverity {
	if strict {
		return SeverityError
	}
	return SeverityWarning
}

// PrerequisiteSeverity grades a prerequisite violation by whether the failing
// rule is required.
func PrerequisiteSeverity(required bool) ConflictSeverity {
	if required {
		return SeverityError
	}
	return SeverityWarning
}

// ResourceSeverity grades a resource shortfall. A shortfall larger than the
// resource's whole quantity means the schedule cannot be satisfied even by
// dropping one booking.
func ResourceSeverity(shortfall, totalQuantity int) ConflictSeverity {
	if totalQuantity > 0 && shortfall > totalQuantity {
		return SeverityCritical
	}
	return SeverityError
}
