// Package store defines the persistence contracts consumed by the scheduling
// engine and ships two implementations: an in-process memory store and a SQL
// store built on dbx. The engine is agnostic to the backend; it only requires
// that per-session mutations are serialized by the service layer above.
package store

import (
	"context"
	"errors"

	"scheduling-engine/models"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Store bundles all persistence the engine needs. The host platform may back
// it with its own database; tests and the standalone daemon use MemoryStore.
type Store interface {
	// Sessions (read-mostly reference data owned by the host CRUD layer).
	GetSession(ctx context.Context, id string) (*models.Session, error)
	SaveSession(ctx context.Context, s *models.Session) error
	ListSessionsByEvent(ctx context.Context, eventID string) ([]models.Session, error)
	ListSessionsByRoom(ctx context.Context, room, building string) ([]models.Session, error)
	ListSessionsByPresenter(ctx context.Context, presenter string) ([]models.Session, error)
	ListActiveSessions(ctx context.Context) ([]models.Session, error)

	// Capacity ledger entries.
	GetCapacity(ctx context.Context, sessionID string) (*models.CapacityEntry, error)
	SaveCapacity(ctx context.Context, e *models.CapacityEntry) error

	// Attendance records.
	GetAttendance(ctx context.Context, id string) (*models.AttendanceRecord, error)
	FindActiveAttendance(ctx context.Context, sessionID, attendeeID string) (*models.AttendanceRecord, error)
	ListSessionAttendance(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error)
	ListWaitlist(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error)
	ListAttendeeRecords(ctx context.Context, attendeeID string) ([]models.AttendanceRecord, error)
	SaveAttendance(ctx context.Context, r *models.AttendanceRecord) error

	// Dependency edges and prerequisites.
	SaveEdge(ctx context.Context, e *models.DependencyEdge) error
	ListEdgesFromParent(ctx context.Context, parentSessionID string) ([]models.DependencyEdge, error)
	ListEdgesForSession(ctx context.Context, sessionID string) ([]models.DependencyEdge, error)
	SavePrerequisite(ctx context.Context, p *models.Prerequisite) error
	ListPrerequisites(ctx context.Context, sessionID string) ([]models.Prerequisite, error)

	// Conflicts and resolutions.
	GetConflict(ctx context.Context, id string) (*models.Conflict, error)
	FindActiveConflict(ctx context.Context, key models.ConflictKey) (*models.Conflict, error)
	ListActiveConflicts(ctx context.Context) ([]models.Conflict, error)
	ListActiveConflictsForSession(ctx context.Context, sessionID string) ([]models.Conflict, error)
	SaveConflict(ctx context.Context, c *models.Conflict) error
	SaveResolution(ctx context.Context, r *models.ConflictResolution) error
	ListResolutions(ctx context.Context, conflictID string) ([]models.ConflictResolution, error)

	// Resources and bookings.
	GetResource(ctx context.Context, id string) (*models.Resource, error)
	SaveResource(ctx context.Context, r *models.Resource) error
	ListResources(ctx context.Context) ([]models.Resource, error)
	ListBookingsByResource(ctx context.Context, resourceID string) ([]models.ResourceBooking, error)
	ListBookingsBySession(ctx context.Context, sessionID string) ([]models.ResourceBooking, error)
	SaveBooking(ctx context.Context, b *models.ResourceBooking) error
}
