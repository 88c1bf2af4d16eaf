package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CapacityType string

const (
	CapacityFixed     CapacityType = "FIXED"
	CapacityDynamic   CapacityType = "DYNAMIC"
	CapacityUnlimited CapacityType = "UNLIMITED"
)

type WaitlistStrategy string

const (
	WaitlistNone             WaitlistStrategy = "NONE"
	WaitlistFIFO             WaitlistStrategy = "FIFO"
	WaitlistPriorityBased    WaitlistStrategy = "PRIORITY_BASED"
	WaitlistRegistrationTime WaitlistStrategy = "REGISTRATION_TIME"
)

// RegistrationOutcome is the result of a register attempt against a session.
type RegistrationOutcome string

const (
	OutcomeConfirmed  RegistrationOutcome = "CONFIRMED"
	OutcomeWaitlisted RegistrationOutcome = "WAITLISTED"
	OutcomeRejected   RegistrationOutcome = "REJECTED"
)

// CapacityEntry is the per-session capacity ledger row. Counters are mutated
// exclusively through the capacity service's register/cancel/promote/update
// operations; no other code path may write them.
type CapacityEntry struct {
	SessionID             string           `json:"session_id" db:"session_id"`
	CapacityType          CapacityType     `json:"capacity_type" db:"capacity_type"`
	MaximumCapacity       int              `json:"maximum_capacity" db:"maximum_capacity"`
	MinimumCapacity       int              `json:"minimum_capacity" db:"minimum_capacity"`
	CurrentRegistrations  int              `json:"current_registrations" db:"current_registrations"`
	EnableWaitlist        bool             `json:"enable_waitlist" db:"enable_waitlist"`
	WaitlistCapacity      *int             `json:"waitlist_capacity" db:"waitlist_capacity"`
	WaitlistStrategy      WaitlistStrategy `json:"waitlist_strategy" db:"waitlist_strategy"`
	CurrentWaitlistCount  int              `json:"current_waitlist_count" db:"current_waitlist_count"`
	AllowOverbooking      bool             `json:"allow_overbooking" db:"allow_overbooking"`
	OverbookingPercentage int              `json:"overbooking_percentage" db:"overbooking_percentage"`
	AutoPromoteWaitlist   bool             `json:"auto_promote_waitlist" db:"auto_promote_waitlist"`
	LowCapacityThreshold  int              `json:"low_capacity_threshold" db:"low_capacity_threshold"`
	HighDemandThreshold   int              `json:"high_demand_threshold" db:"high_demand_threshold"`
	UpdatedAt             time.Time        `json:"updated_at" db:"updated_at"`
}

// EffectiveCapacity is the admission ceiling: the nominal maximum, raised by the
// overbooking percentage when overbooking is enabled. The percentage math runs
// on decimals so a 3-digit capacity with a fractional uplift never float-drifts.
func (e *CapacityEntry) EffectiveCapacity() int {
	if e.CapacityType == CapacityUnlimited {
		return int(^uint(0) >> 1)
	}
	if !e.AllowOverbooking || e.OverbookingPercentage <= 0 {
		return e.MaximumCapacity
	}
	maxCap := decimal.NewFromInt(int64(e.MaximumCapacity))
	pct := decimal.NewFromInt(int64(e.OverbookingPercentage)).Div(decimal.NewFromInt(100))
	ceiling := maxCap.Mul(decimal.NewFromInt(1).Add(pct)).Floor()
	return int(ceiling.IntPart())
}

// AvailableSpots is the number of registrations the session can still admit.
func (e *CapacityEntry) AvailableSpots() int {
	spots := e.EffectiveCapacity() - e.CurrentRegistrations
	if spots < 0 {
		return 0
	}
	return spots
}

// IsOverCapacity reports whether current registrations exceed the admission
// ceiling. This is the CAPACITY_EXCEEDED condition.
func (e *CapacityEntry) IsOverCapacity() bool {
	if e.CapacityType == CapacityUnlimited {
		return false
	}
	return e.CurrentRegistrations > e.EffectiveCapacity()
}

// WaitlistHasRoom reports whether another attendee can join the waitlist.
// A nil WaitlistCapacity means the waitlist is unbounded.
func (e *CapacityEntry) WaitlistHasRoom() bool {
	if !e.EnableWaitlist || e.WaitlistStrategy == WaitlistNone {
		return false
	}
	if e.WaitlistCapacity == nil {
		return true
	}
	return e.CurrentWaitlistCount < *e.WaitlistCapacity
}

// CapacityReport is a read-only snapshot of a ledger entry plus the advisory
// signals derived from it. Minimum capacity never blocks registration; it only
// feeds the low-enrollment signal surfaced here.
type CapacityReport struct {
	SessionID          string `json:"session_id"`
	MaximumCapacity    int    `json:"maximum_capacity"`
	EffectiveCapacity  int    `json:"effective_capacity"`
	Registrations      int    `json:"registrations"`
	AvailableSpots     int    `json:"available_spots"`
	WaitlistCount      int    `json:"waitlist_count"`
	LowEnrollment      bool   `json:"low_enrollment"`
	LowCapacityAlert   bool   `json:"low_capacity_alert"`
	HighDemandAlert    bool   `json:"high_demand_alert"`
	OverCapacity       bool   `json:"over_capacity"`
}

// Report derives the advisory snapshot for this entry.
func (e *CapacityEntry) Report() CapacityReport {
	return CapacityReport{
		SessionID:         e.SessionID,
		MaximumCapacity:   e.MaximumCapacity,
		EffectiveCapacity: e.EffectiveCapacity(),
		Registrations:     e.CurrentRegistrations,
		AvailableSpots:    e.AvailableSpots(),
		WaitlistCount:     e.CurrentWaitlistCount,
		LowEnrollment:     e.MinimumCapacity > 0 && e.CurrentRegistrations < e.MinimumCapacity,
		LowCapacityAlert:  e.LowCapacityThreshold > 0 && e.AvailableSpots() <= e.LowCapacityThreshold,
		HighDemandAlert:   e.HighDemandThreshold > 0 && e.CurrentWaitlistCount >= e.HighDemandThreshold,
		OverCapacity:      e.IsOverCapacity(),
	}
}

// AttendeeRef identifies an attendee to the engine. Priority is the external
// priority attribute consulted by PRIORITY_BASED waitlists; zero is neutral.
type AttendeeRef struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
}

// RegistrationResult is what a register call hands back to the calling layer.
type RegistrationResult struct {
	Outcome          RegistrationOutcome `json:"outcome"`
	Record           *AttendanceRecord   `json:"record,omitempty"`
	WaitlistPosition int                 `json:"waitlist_position,omitempty"`
}
