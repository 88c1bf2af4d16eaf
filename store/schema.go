package store

import (
	"context"
	"fmt"

	"github.com/pocketbase/dbx"
)

// schema holds the DDL for every engine table. Statements are idempotent so
// Migrate can run on every startup; types stick to the portable subset that
// both SQLite and Postgres accept.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		event_id   TEXT NOT NULL DEFAULT '',
		name       TEXT NOT NULL DEFAULT '',
		type       TEXT NOT NULL DEFAULT '',
		start_time TIMESTAMP,
		end_time   TIMESTAMP,
		room       TEXT NOT NULL DEFAULT '',
		building   TEXT NOT NULL DEFAULT '',
		presenter  TEXT NOT NULL DEFAULT '',
		is_active  BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_event ON sessions (event_id, start_time)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_room ON sessions (room, building)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_presenter ON sessions (presenter)`,

	`CREATE TABLE IF NOT EXISTS capacity_entries (
		session_id             TEXT PRIMARY KEY,
		capacity_type          TEXT NOT NULL DEFAULT '',
		maximum_capacity       INTEGER NOT NULL DEFAULT 0,
		minimum_capacity       INTEGER NOT NULL DEFAULT 0,
		current_registrations  INTEGER NOT NULL DEFAULT 0,
		enable_waitlist        BOOLEAN NOT NULL DEFAULT FALSE,
		waitlist_capacity      INTEGER,
		waitlist_strategy      TEXT NOT NULL DEFAULT '',
		current_waitlist_count INTEGER NOT NULL DEFAULT 0,
		allow_overbooking      BOOLEAN NOT NULL DEFAULT FALSE,
		overbooking_percentage TEXT NOT NULL DEFAULT '0',
		auto_promote_waitlist  BOOLEAN NOT NULL DEFAULT FALSE,
		low_capacity_threshold INTEGER NOT NULL DEFAULT 0,
		high_demand_threshold  INTEGER NOT NULL DEFAULT 0,
		updated_at             TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS attendance_records (
		id                TEXT PRIMARY KEY,
		session_id        TEXT NOT NULL,
		attendee_id       TEXT NOT NULL,
		status            TEXT NOT NULL DEFAULT '',
		waitlist_position INTEGER NOT NULL DEFAULT 0,
		priority          INTEGER NOT NULL DEFAULT 0,
		registered_at     TIMESTAMP,
		waitlisted_at     TIMESTAMP,
		checked_in_at     TIMESTAMP,
		cancelled_at      TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_session ON attendance_records (session_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_attendee ON attendance_records (attendee_id)`,

	`CREATE TABLE IF NOT EXISTS dependency_edges (
		id                   TEXT PRIMARY KEY,
		parent_session_id    TEXT NOT NULL,
		dependent_session_id TEXT NOT NULL,
		type                 TEXT NOT NULL DEFAULT '',
		is_strict            BOOLEAN NOT NULL DEFAULT FALSE,
		timing_gap_minutes   INTEGER NOT NULL DEFAULT 0,
		created_at           TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_parent ON dependency_edges (parent_session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_dependent ON dependency_edges (dependent_session_id)`,

	`CREATE TABLE IF NOT EXISTS prerequisites (
		id                   TEXT PRIMARY KEY,
		session_id           TEXT NOT NULL,
		type                 TEXT NOT NULL DEFAULT '',
		required_session_id  TEXT NOT NULL DEFAULT '',
		group_id             TEXT NOT NULL DEFAULT '',
		operator             TEXT NOT NULL DEFAULT '',
		priority             INTEGER NOT NULL DEFAULT 0,
		is_required          BOOLEAN NOT NULL DEFAULT TRUE,
		is_active            BOOLEAN NOT NULL DEFAULT TRUE,
		allow_grace_period   BOOLEAN NOT NULL DEFAULT FALSE,
		grace_period_hours   INTEGER NOT NULL DEFAULT 0,
		allow_admin_override BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_prerequisites_session ON prerequisites (session_id)`,

	`CREATE TABLE IF NOT EXISTS conflicts (
		id                   TEXT PRIMARY KEY,
		type                 TEXT NOT NULL DEFAULT '',
		severity             TEXT NOT NULL DEFAULT '',
		primary_session_id   TEXT NOT NULL DEFAULT '',
		secondary_session_id TEXT NOT NULL DEFAULT '',
		resource_id          TEXT NOT NULL DEFAULT '',
		registration_id      TEXT NOT NULL DEFAULT '',
		event_id             TEXT NOT NULL DEFAULT '',
		description          TEXT NOT NULL DEFAULT '',
		conflict_start       TIMESTAMP,
		conflict_end         TIMESTAMP,
		affected_count       INTEGER NOT NULL DEFAULT 0,
		resolution_status    TEXT NOT NULL DEFAULT '',
		can_auto_resolve     BOOLEAN NOT NULL DEFAULT FALSE,
		auto_strategy        TEXT NOT NULL DEFAULT '',
		is_active            BOOLEAN NOT NULL DEFAULT TRUE,
		detected_at          TIMESTAMP,
		last_checked_at      TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conflicts_identity
		ON conflicts (type, primary_session_id, secondary_session_id, resource_id, registration_id, is_active)`,
	`CREATE INDEX IF NOT EXISTS idx_conflicts_active ON conflicts (is_active, detected_at)`,

	`CREATE TABLE IF NOT EXISTS conflict_resolutions (
		id                     TEXT PRIMARY KEY,
		conflict_id            TEXT NOT NULL,
		action                 TEXT NOT NULL DEFAULT '',
		description            TEXT NOT NULL DEFAULT '',
		before_state           TEXT NOT NULL DEFAULT '',
		after_state            TEXT NOT NULL DEFAULT '',
		implemented_by         TEXT NOT NULL DEFAULT '',
		automatic              BOOLEAN NOT NULL DEFAULT FALSE,
		affected_sessions      INTEGER NOT NULL DEFAULT 0,
		affected_registrations INTEGER NOT NULL DEFAULT 0,
		affected_resources     INTEGER NOT NULL DEFAULT 0,
		resolved_at            TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_resolutions_conflict ON conflict_resolutions (conflict_id, resolved_at)`,

	`CREATE TABLE IF NOT EXISTS resources (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL DEFAULT '',
		type           TEXT NOT NULL DEFAULT '',
		total_quantity INTEGER NOT NULL DEFAULT 0,
		is_exclusive   BOOLEAN NOT NULL DEFAULT FALSE
	)`,

	`CREATE TABLE IF NOT EXISTS resource_bookings (
		id                 TEXT PRIMARY KEY,
		session_id         TEXT NOT NULL,
		resource_id        TEXT NOT NULL,
		quantity_needed    INTEGER NOT NULL DEFAULT 0,
		quantity_allocated INTEGER NOT NULL DEFAULT 0,
		start_time         TIMESTAMP,
		end_time           TIMESTAMP,
		setup_minutes      INTEGER NOT NULL DEFAULT 0,
		cleanup_minutes    INTEGER NOT NULL DEFAULT 0,
		status             TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_resource ON resource_bookings (resource_id, start_time)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_session ON resource_bookings (session_id)`,
}

// Migrate creates any missing engine tables and indexes.
func Migrate(ctx context.Context, db *dbx.DB) error {
	for _, stmt := range schema {
		if _, err := db.NewQuery(stmt).WithContext(ctx).Execute(); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
