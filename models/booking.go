package models

import "time"

type ResourceType string

const (
	ResourceRoom      ResourceType = "room"
	ResourceEquipment ResourceType = "equipment"
	ResourceStaff     ResourceType = "staff"
	ResourceVehicle   ResourceType = "vehicle"
)

// Resource is a shared, bookable asset. Exclusive resources behave as if their
// total quantity were 1 regardless of TotalQuantity.
type Resource struct {
	ID            string       `json:"id" db:"id"`
	Name          string       `json:"name" db:"name"`
	Type          ResourceType `json:"type" db:"type"`
	TotalQuantity int          `json:"total_quantity" db:"total_quantity"`
	IsExclusive   bool         `json:"is_exclusive" db:"is_exclusive"`
}

// BookableQuantity is the quantity concurrent bookings may sum to.
func (r *Resource) BookableQuantity() int {
	if r.IsExclusive {
		return 1
	}
	return r.TotalQuantity
}

type BookingStatus string

const (
	BookingRequested BookingStatus = "REQUESTED"
	BookingApproved  BookingStatus = "APPROVED"
	BookingAllocated BookingStatus = "ALLOCATED"
	BookingInUse     BookingStatus = "IN_USE"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingConflict  BookingStatus = "CONFLICT"
)

// ResourceBooking reserves a resource for a session. The booking window is the
// session window extended by setup and cleanup buffers.
type ResourceBooking struct {
	ID                string        `json:"id" db:"id"`
	SessionID         string        `json:"session_id" db:"session_id"`
	ResourceID        string        `json:"resource_id" db:"resource_id"`
	QuantityNeeded    int           `json:"quantity_needed" db:"quantity_needed"`
	QuantityAllocated int           `json:"quantity_allocated" db:"quantity_allocated"`
	StartTime         time.Time     `json:"start_time" db:"start_time"`
	EndTime           time.Time     `json:"end_time" db:"end_time"`
	SetupMinutes      int           `json:"setup_minutes" db:"setup_minutes"`
	CleanupMinutes    int           `json:"cleanup_minutes" db:"cleanup_minutes"`
	Status            BookingStatus `json:"status" db:"status"`
}

// Window returns the booking's effective time range including buffers.
func (b *ResourceBooking) Window() (time.Time, time.Time) {
	start := b.StartTime.Add(-time.Duration(b.SetupMinutes) * time.Minute)
	end := b.EndTime.Add(time.Duration(b.CleanupMinutes) * time.Minute)
	return start, end
}

// CountsAgainstQuantity reports whether the booking consumes resource
// quantity. Cancelled bookings never do.
func (b *ResourceBooking) CountsAgainstQuantity() bool {
	return b.Status != BookingCancelled
}
