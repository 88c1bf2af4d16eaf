package models

import (
	"time"
)

type SessionType string

const (
	SessionTypeWorkshop     SessionType = "workshop"
	SessionTypeKeynote      SessionType = "keynote"
	SessionTypePanel        SessionType = "panel"
	SessionTypeNetworking   SessionType = "networking"
	SessionTypePresentation SessionType = "presentation"
)

// Session is a scheduled block inside an event. The time window is half-open:
// [StartTime, EndTime). Sessions are soft-deactivated while dependent data exists.
type Session struct {
	ID        string      `json:"id" db:"id"`
	EventID   string      `json:"event_id" db:"event_id"`
	Name      string      `json:"name" db:"name"`
	Type      SessionType `json:"type" db:"type"`
	StartTime time.Time   `json:"start_time" db:"start_time"`
	EndTime   time.Time   `json:"end_time" db:"end_time"`
	Room      string      `json:"room" db:"room"`
	Building  string      `json:"building" db:"building"`
	Presenter string      `json:"presenter" db:"presenter"`
	IsActive  bool        `json:"is_active" db:"is_active"`
}

// Overlaps reports whether two half-open time windows intersect.
func Overlaps(start1, end1, start2, end2 time.Time) bool {
	return start1.Before(end2) && end1.After(start2)
}

// OverlapWindow returns the intersection of two windows. The second return is
// false when the windows do not intersect.
func OverlapWindow(start1, end1, start2, end2 time.Time) (time.Time, time.Time, bool) {
	if !Overlaps(start1, end1, start2, end2) {
		return time.Time{}, time.Time{}, false
	}
	start := start1
	if start2.After(start) {
		start = start2
	}
	end := end1
	if end2.Before(end) {
		end = end2
	}
	return start, end, true
}

// OverlapsSession reports whether two sessions' time windows intersect.
func (s *Session) OverlapsSession(other *Session) bool {
	return Overlaps(s.StartTime, s.EndTime, other.StartTime, other.EndTime)
}

// SameRoom reports whether both sessions occupy the same physical room. Room
// identity is room plus building, so "Room A" in two buildings never collides.
func (s *Session) SameRoom(other *Session) bool {
	return s.Room != "" && s.Room == other.Room && s.Building == other.Building
}
