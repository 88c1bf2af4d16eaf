package models

import "time"

// ResolutionAction names how a conflict was resolved.
type ResolutionAction string

const (
	ActionManual           ResolutionAction = "MANUAL"
	ActionRescheduled      ResolutionAction = "RESCHEDULED"
	ActionCapacityAdjusted ResolutionAction = "CAPACITY_ADJUSTED"
	ActionReassignedRes    ResolutionAction = "RESOURCE_REASSIGNED"
	ActionCancelled        ResolutionAction = "REGISTRATION_CANCELLED"
	ActionWaitlistRelief   ResolutionAction = "WAITLIST_RELIEF"
	ActionIgnoredByAdmin   ResolutionAction = "IGNORED_BY_ADMIN"
)

// ConflictResolution is the immutable audit record tied to one conflict.
// Before/After hold JSON snapshots of the state the resolution changed.
type ConflictResolution struct {
	ID                    string           `json:"id" db:"id"`
	ConflictID            string           `json:"conflict_id" db:"conflict_id"`
	Action                ResolutionAction `json:"action" db:"action"`
	Description           string           `json:"description" db:"description"`
	BeforeState           string           `json:"before_state" db:"before_state"`
	AfterState            string           `json:"after_state" db:"after_state"`
	ImplementedBy         string           `json:"implemented_by" db:"implemented_by"`
	Automatic             bool             `json:"automatic" db:"automatic"`
	AffectedSessions      int              `json:"affected_sessions" db:"affected_sessions"`
	AffectedRegistrations int              `json:"affected_registrations" db:"affected_registrations"`
	AffectedResources     int              `json:"affected_resources" db:"affected_resources"`
	ResolvedAt            time.Time        `json:"resolved_at" db:"resolved_at"`
}
