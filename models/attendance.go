package models

import "time"

type AttendanceStatus string

const (
	AttendanceRegistered AttendanceStatus = "REGISTERED"
	AttendanceWaitlist   AttendanceStatus = "WAITLIST"
	AttendanceCancelled  AttendanceStatus = "CANCELLED"
	AttendanceAttended   AttendanceStatus = "ATTENDED"
	AttendanceNoShow     AttendanceStatus = "NO_SHOW"
)

// AttendanceRecord is one attendee's relationship to one session.
//
// WaitlistPosition is set iff Status is WAITLIST. Positions within a session
// form a contiguous sequence starting at 1 with no duplicates; the capacity
// service compacts them on every cancel and promote.
type AttendanceRecord struct {
	ID               string           `json:"id" db:"id"`
	SessionID        string           `json:"session_id" db:"session_id"`
	AttendeeID       string           `json:"attendee_id" db:"attendee_id"`
	Status           AttendanceStatus `json:"status" db:"status"`
	WaitlistPosition int              `json:"waitlist_position" db:"waitlist_position"`
	Priority         int              `json:"priority" db:"priority"`
	RegisteredAt     time.Time        `json:"registered_at" db:"registered_at"`
	WaitlistedAt     *time.Time       `json:"waitlisted_at" db:"waitlisted_at"`
	CheckedInAt      *time.Time       `json:"checked_in_at" db:"checked_in_at"`
	CancelledAt      *time.Time       `json:"cancelled_at" db:"cancelled_at"`
}

// IsActive reports whether the record still occupies a spot or waitlist slot.
func (r *AttendanceRecord) IsActive() bool {
	return r.Status == AttendanceRegistered || r.Status == AttendanceWaitlist
}
