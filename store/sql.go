package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pocketbase/dbx"

	"scheduling-engine/models"
)

// SQLStore implements Store on a relational database through dbx. The host
// platform owns the connection and hands the engine a ready *dbx.DB; the
// engine never picks a driver itself.
type SQLStore struct {
	db *dbx.DB
}

func NewSQLStore(db *dbx.DB) *SQLStore {
	return &SQLStore{db: db}
}

const (
	tableSessions      = "sessions"
	tableCapacity      = "capacity_entries"
	tableAttendance    = "attendance_records"
	tableEdges         = "dependency_edges"
	tablePrerequisites = "prerequisites"
	tableConflicts     = "conflicts"
	tableResolutions   = "conflict_resolutions"
	tableResources     = "resources"
	tableBookings      = "resource_bookings"
)

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// upsert updates the row matching cond, inserting it when no row matched.
func (s *SQLStore) upsert(ctx context.Context, table string, params dbx.Params, cond dbx.HashExp) error {
	res, err := s.db.Update(table, params, cond).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	for k, v := range cond {
		params[k] = v
	}
	if _, err := s.db.Insert(table, params).WithContext(ctx).Execute(); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	err := s.db.Select().From(tableSessions).
		Where(dbx.HashExp{"id": id}).
		WithContext(ctx).One(&sess)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &sess, nil
}

func (s *SQLStore) SaveSession(ctx context.Context, sess *models.Session) error {
	return s.upsert(ctx, tableSessions, dbx.Params{
		"event_id":   sess.EventID,
		"name":       sess.Name,
		"type":       string(sess.Type),
		"start_time": sess.StartTime,
		"end_time":   sess.EndTime,
		"room":       sess.Room,
		"building":   sess.Building,
		"presenter":  sess.Presenter,
		"is_active":  sess.IsActive,
	}, dbx.HashExp{"id": sess.ID})
}

func (s *SQLStore) ListSessionsByEvent(ctx context.Context, eventID string) ([]models.Session, error) {
	var out []models.Session
	err := s.db.Select().From(tableSessions).
		Where(dbx.HashExp{"event_id": eventID}).
		OrderBy("start_time", "id").
		WithContext(ctx).All(&out)
	return out, err
}

func (s *SQLStore) ListSessionsByRoom(ctx context.Context, room, building string) ([]models.Session, error) {
	var out []models.Session
	err := s.db.Select().From(tableSessions).
		Where(dbx.HashExp{"room": room, "building": building}).
		OrderBy("start_time", "id").
		WithContext(ctx).All(&out)
	return out, err
}

func (s *SQLStore) ListSessionsByPresenter(ctx context.Context, presenter string) ([]models.Session, error) {
	var out []models.Session
	err := s.db.Select().From(tableSessions).
		Where(dbx.HashExp{"presenter": presenter}).
		OrderBy("start_time", "id").
		WithContext(ctx).All(&out)
	return out, err
}

func (s *SQLStore) ListActiveSessions(ctx context.Context) ([]models.Session, error) {
	var out []models.Session
	err := s.db.Select().From(tableSessions).
		Where(dbx.HashExp{"is_active": true}).
		OrderBy("start_time", "id").
		WithContext(ctx).All(&out)
	return out, err
}

func (s *SQLStore) GetCapacity(ctx context.Context, sessionID string) (*models.CapacityEntry, error) {
	var e models.CapacityEntry
	err := s.db.Select().From(tableCapacity).
		Where(dbx.HashExp{"session_id": sessionID}).
		WithContext(ctx).One(&e)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &e, nil
}

func (s *SQLStore) SaveCapacity(ctx context.Context, e *models.CapacityEntry) error {
	return s.upsert(ctx, tableCapacity, dbx.Params{
		"capacity_type":          string(e.CapacityType),
		"maximum_capacity":       e.MaximumCapacity,
		"minimum_capacity":       e.MinimumCapacity,
		"current_registrations":  e.CurrentRegistrations,
		"enable_waitlist":        e.EnableWaitlist,
		"waitlist_capacity":      e.WaitlistCapacity,
		"waitlist_strategy":      string(e.WaitlistStrategy),
		"current_waitlist_count": e.CurrentWaitlistCount,
		"allow_overbooking":      e.AllowOverbooking,
		"overbooking_percentage": e.OverbookingPercentage,
		"auto_promote_waitlist":  e.AutoPromoteWaitlist,
		"low_capacity_threshold": e.LowCapacityThreshold,
		"high_demand_threshold":  e.HighDemandThreshold,
		"updated_at":             e.UpdatedAt,
	}, dbx.HashExp{"session_id": e.SessionID})
}

func (s *SQLStore) GetAttendance(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	var r models.AttendanceRecord
	err := s.db.Select().From(tableAttendance).
		Where(dbx.HashExp{"id": id}).
		WithContext(ctx).One(&r)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &r, nil
}

func (s *SQLStore) FindActiveAttendance(ctx context.Context, sessionID, attendeeID string) (*models.AttendanceRecord, error) {
	var r models.AttendanceRecord
	err := s.db.Select().From(tableAttendance).
		Where(dbx.HashExp{"session_id": sessionID, "attendee_id": attendeeID}).
		AndWhere(dbx.In("status", string(models.AttendanceRegistered), string(models.AttendanceWaitlist))).
		WithContext(ctx).One(&r)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &r, nil
}

func (s *SQLStore) ListSessionAttendance(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	var out []models.AttendanceRecord
	err := s.db.Select().From(tableAttendance).
		Where(dbx.HashExp{"session_id": sessionID}).
		OrderBy("registered_at", "id").
		WithContext(ctx).All(&out)
	return out, err
}

func (s *SQLStore) ListWaitlist(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	var out []models.AttendanceRecord
	err := s.db.Select().From(tableAttendance).
		Where(dbx.HashExp{"session_id": sessionID, "status": string(models.AttendanceWaitlist)}).
		OrderBy("waitlist_position").
		WithContext(ctx).All(&out)
	return out, err
}

func (s *SQLStore) ListAttendeeRecords(ctx context.Context, attendeeID string) ([]models.AttendanceRecord, error) {
	var out []models.AttendanceRecord
	err := s.db.Select().From(tableAttendance).
		Where(dbx.HashExp{"attendee_id": attendeeID}).
		OrderBy("registered_at", "id").
		WithContext(ctx).All(&out)
	return out, err
}

func (s *SQLStore) SaveAttendance(ctx context.Context, r *models.AttendanceRecord) error {
	return s.upsert(ctx, tableAttendance, dbx.Params{
		"session_id":        r.SessionID,
		"attendee_id":       r.AttendeeID,
		"status":            string(r.Status),
		"waitlist_position": r.WaitlistPosition,
		"priority":          r.Priority,
		"registered_at":     r.RegisteredAt,
		"waitlisted_at":     r.WaitlistedAt,
		"checked_in_at":     r.CheckedInAt,
		"cancelled_at":      r.CancelledAt,
	}, dbx.HashExp{"id": r.ID})
}

func (s *SQLStore) SaveEdge(ctx context.Context, e *models.DependencyEdge) error {
	return s.upsert(ctx, tableEdges, dbx.Params{
		"parent_session_id":    e.ParentSessionID,
		"dependent_session_id": e.DependentSessionID,
		"type":                 string(e.Type),
		"is_strict":            e.IsStrict,
		"timing_gap_minutes":   e.TimingGapMinutes,
		"created_at":           e.CreatedAt,
	}, dbx.HashExp{"id": e.ID})
}

func (s *SQLStore) ListEdgesFromParent(ctx context.Context, parentSessionID string) ([]models.DependencyEdge, error) {
	var out []models.DependencyEdge
	err := s.db.Select().From(tableEdges).
		Where(dbx.HashExp{"parent_session_id": parentSessionID}).
		OrderBy("id").
		WithContext(ctx).All(&out)
	return out, err
}

func (s *SQLStore) ListEdgesForSession(ctx context.Context, sessionID string) ([]models.DependencyEdge, error) {
	var out []models.DependencyEdge
	err := s.db.Select().From(tableEdges).
		Where(dbx.Or(
			dbx.HashExp{"parent_session_id": sessionID},
			dbx.HashExp{"dependent_session_id": sessionID},
		)).
		OrderBy("id").
		WithContext(ctx).All(&out)
	return out, err
}

func (s *SQLStore) SavePrerequisite(ctx context.Context, p *models.Prerequisite) error {
	return s.upsert(ctx, tablePrerequisites, dbx.Params{
		"session_id":           p.SessionID,
		"type":                 string(p.Type),
		"required_session_id":  p.RequiredSessionID,
		"group_id":             p.GroupID,
		"operator":             string(p.Operator),
		"priority":             p.Priority,
		"is_required":          p.IsRequired,
		"is_active":            p.IsActive,
		"allow_grace_period":   p.AllowGracePeriod,
		"grace_period_hours":   p.GracePeriodHours,
		"allow_admin_override": p.AllowAdminOverride,
	}, dbx.HashExp{"id": p.ID})
}

func (s *SQLStore) ListPrerequisites(ctx context.Context, sessionID string) ([]models.Prerequisite, error) {
	var out []models.Prerequisite
	err := s.db.Select().From(tablePrerequisites).
		Where(dbx.HashExp{"session_id": sessionID}).
		OrderBy("priority", "id").
		WithContext(ctx).All(&out)
	return out, err
}

func (s *SQLStore) GetConflict(ctx context.Context, id string) (*models.Conflict, error) {
	var c models.Conflict
	err := s.db.Select().From(tableConflicts).
		Where(dbx.HashExp{"id": id}).
		WithContext(ctx).One(&c)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &c, nil
}

func (s *SQLStore) FindActiveConflict(ctx context.Context, key models.ConflictKey) (*models.Conflict, error) {
	var c models.Conflict
	err := s.db.Select().From(tableConflicts).
		Where(dbx.HashExp{
			"type":                 string(key.Type),
			"primary_session_id":   key.PrimarySessionID,
			"secondary_session_id": key.SecondarySessionID,
			"resource_id":          key.ResourceID,
			"registration_id":      key.RegistrationID,
			"is_active":            true,
		}).
		AndWhere(dbx.In("resolution_status",
			string(models.StatusUnresolved), string(models.StatusAcknowledged))).
		WithContext(ctx).One(&c)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &c, nil
}

func (s *SQLStore) ListActiveConflicts(ctx context.Context) ([]models.Conflict, error) {
	var out []models.Conflict
	err := s.db.Select().From(tableConflicts).
		Where(dbx.HashExp{"is_active": true}).
		OrderBy("detected_at", "id").
		WithContext(ctx).All(&out)
	return out, err
}

func (s *SQLStore) ListActiveConflictsForSession(ctx context.Context, sessionID string) ([]models.Conflict, error) {
	var out []models.Conflict
	err := s.db.Select().From(tableConflicts).
		Where(dbx.HashExp{"is_active": true}).
		AndWhere(dbx.Or(
			dbx.HashExp{"primary_session_id": sessionID},
			dbx.HashExp{"secondary_session_id": sessionID},
		)).
		OrderBy("detected_at", "id").
		WithContext(ctx).All(&out)
	return out, err
}

func (s *SQLStore) SaveConflict(ctx context.Context, c *models.Conflict) error {
	return s.upsert(ctx, tableConflicts, dbx.Params{
		"type":                 string(c.Type),
		"severity":             string(c.Severity),
		"primary_session_id":   c.PrimarySessionID,
		"secondary_session_id": c.SecondarySessionID,
		"resource_id":          c.ResourceID,
		"registration_id":      c.RegistrationID,
		"event_id":             c.EventID,
		"description":          c.Description,
		"conflict_start":       c.ConflictStart,
		"conflict_end":         c.ConflictEnd,
		"affected_count":       c.AffectedCount,
		"resolution_status":    string(c.ResolutionStatus),
		"can_auto_resolve":     c.CanAutoResolve,
		"auto_strategy":        string(c.AutoStrategy),
		"is_active":            c.IsActive,
		"detected_at":          c.DetectedAt,
		"last_checked_at":      c.LastCheckedAt,
	}, dbx.HashExp{"id": c.ID})
}

func (s *SQLStore) SaveResolution(ctx context.Context, r *models.ConflictResolution) error {
	_, err := s.db.Insert(tableResolutions, dbx.Params{
		"id":                     r.ID,
		"conflict_id":            r.ConflictID,
		"action":                 string(r.Action),
		"description":            r.Description,
		"before_state":           r.BeforeState,
		"after_state":            r.AfterState,
		"implemented_by":         r.ImplementedBy,
		"automatic":              r.Automatic,
		"affected_sessions":      r.AffectedSessions,
		"affected_registrations": r.AffectedRegistrations,
		"affected_resources":     r.AffectedResources,
		"resolved_at":            r.ResolvedAt,
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("insert %s: %w", tableResolutions, err)
	}
	return nil
}

func (s *SQLStore) ListResolutions(ctx context.Context, conflictID string) ([]models.ConflictResolution, error) {
	var out []models.ConflictResolution
	err := s.db.Select().From(tableResolutions).
		Where(dbx.HashExp{"conflict_id": conflictID}).
		OrderBy("resolved_at", "id").
		WithContext(ctx).All(&out)
	return out, err
}

func (s *SQLStore) GetResource(ctx context.Context, id string) (*models.Resource, error) {
	var r models.Resource
	err := s.db.Select().From(tableResources).
		Where(dbx.HashExp{"id": id}).
		WithContext(ctx).One(&r)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &r, nil
}

func (s *SQLStore) SaveResource(ctx context.Context, r *models.Resource) error {
	return s.upsert(ctx, tableResources, dbx.Params{
		"name":           r.Name,
		"type":           string(r.Type),
		"total_quantity": r.TotalQuantity,
		"is_exclusive":   r.IsExclusive,
	}, dbx.HashExp{"id": r.ID})
}

func (s *SQLStore) ListResources(ctx context.Context) ([]models.Resource, error) {
	var out []models.Resource
	err := s.db.Select().From(tableResources).
		OrderBy("id").
		WithContext(ctx).All(&out)
	return out, err
}

func (s *SQLStore) ListBookingsByResource(ctx context.Context, resourceID string) ([]models.ResourceBooking, error) {
	var out []models.ResourceBooking
	err := s.db.Select().From(tableBookings).
		Where(dbx.HashExp{"resource_id": resourceID}).
		OrderBy("start_time", "id").
		WithContext(ctx).All(&out)
	return out, err
}

func (s *SQLStore) ListBookingsBySession(ctx context.Context, sessionID string) ([]models.ResourceBooking, error) {
	var out []models.ResourceBooking
	err := s.db.Select().From(tableBookings).
		Where(dbx.HashExp{"session_id": sessionID}).
		OrderBy("start_time", "id").
		WithContext(ctx).All(&out)
	return out, err
}

func (s *SQLStore) SaveBooking(ctx context.Context, b *models.ResourceBooking) error {
	return s.upsert(ctx, tableBookings, dbx.Params{
		"session_id":         b.SessionID,
		"resource_id":        b.ResourceID,
		"quantity_needed":    b.QuantityNeeded,
		"quantity_allocated": b.QuantityAllocated,
		"start_time":         b.StartTime,
		"end_time":           b.EndTime,
		"setup_minutes":      b.SetupMinutes,
		"cleanup_minutes":    b.CleanupMinutes,
		"status":             string(b.Status),
	}, dbx.HashExp{"id": b.ID})
}
