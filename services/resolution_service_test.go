package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheduling-engine/models"
	"scheduling-engine/monitoring"
	"scheduling-engine/store"
	"scheduling-engine/utils"
)

func newTestResolutionService() (*ResolutionService, *CapacityService, *store.MemoryStore) {
	st := store.NewMemoryStore()
	monitor := monitoring.NewMonitor()
	capacity := NewCapacityService(st, monitor, zerolog.Nop())
	breaker := utils.NewBreaker("test", 3, time.Minute)
	svc := NewResolutionService(st, capacity, monitor, 30*time.Minute, breaker, zerolog.Nop())
	return svc, capacity, st
}

func seedConflict(t *testing.T, st *store.MemoryStore, c models.Conflict) *models.Conflict {
	t.Helper()
	if c.ID == "" {
		c.ID = "conflict-1"
	}
	if c.ResolutionStatus == "" {
		c.ResolutionStatus = models.StatusUnresolved
	}
	c.IsActive = true
	c.DetectedAt = time.Now().UTC()
	require.NoError(t, st.SaveConflict(context.Background(), &c))
	return &c
}

func TestResolutionService_AcknowledgeThenResolve(t *testing.T) {
	svc, _, st := newTestResolutionService()
	ctx := context.Background()
	conflict := seedConflict(t, st, models.Conflict{
		Type: models.ConflictTimeOverlap, PrimarySessionID: "s1", SecondarySessionID: "s2",
	})

	require.NoError(t, svc.Acknowledge(ctx, conflict.ID, "ops"))

	stored, err := st.GetConflict(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcknowledged, stored.ResolutionStatus)
	assert.True(t, stored.IsActive)

	resolution, err := svc.Resolve(ctx, conflict.ID, models.ActionRescheduled, "moved s2 to 14:00", "ops")
	require.NoError(t, err)
	assert.Equal(t, models.ActionRescheduled, resolution.Action)
	assert.Equal(t, "ops", resolution.ImplementedBy)
	assert.False(t, resolution.Automatic)
	assert.NotEmpty(t, resolution.BeforeState)
	assert.NotEmpty(t, resolution.AfterState)
	assert.NotEqual(t, resolution.BeforeState, resolution.AfterState)
	assert.Equal(t, 2, resolution.AffectedSessions)

	stored, err = st.GetConflict(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, stored.ResolutionStatus)
	assert.False(t, stored.IsActive)

	history, err := svc.History(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestResolutionService_TerminalStatesRejectTransitions(t *testing.T) {
	svc, _, st := newTestResolutionService()
	ctx := context.Background()
	conflict := seedConflict(t, st, models.Conflict{
		Type: models.ConflictStaff, PrimarySessionID: "s1", SecondarySessionID: "s2",
	})

	_, err := svc.Ignore(ctx, conflict.ID, "accepted clash", "ops")
	require.NoError(t, err)

	var transErr *models.InvalidStateTransitionError
	err = svc.Acknowledge(ctx, conflict.ID, "ops")
	require.True(t, errors.As(err, &transErr))
	assert.Equal(t, models.StatusIgnored, transErr.From)
	assert.Equal(t, models.StatusAcknowledged, transErr.To)

	_, err = svc.Resolve(ctx, conflict.ID, models.ActionManual, "late fix", "ops")
	assert.True(t, errors.As(err, &transErr))
}

func TestResolutionService_AutoResolve_CapacityRelief(t *testing.T) {
	svc, capacity, st := newTestResolutionService()
	ctx := context.Background()

	require.NoError(t, st.SaveCapacity(ctx, fifoEntry("s1", 3)))
	for _, id := range []string{"a1", "a2", "a3"} {
		_, err := capacity.Register(ctx, "s1", models.AttendeeRef{ID: id})
		require.NoError(t, err)
	}
	require.NoError(t, capacity.UpdateCapacity(ctx, "s1", 2, 0, "shrunk"))

	conflicts, err := st.ListActiveConflictsForSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	resolution, err := svc.AutoResolve(ctx, conflicts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionWaitlistRelief, resolution.Action)
	assert.True(t, resolution.Automatic)
	assert.Equal(t, "auto-resolver", resolution.ImplementedBy)

	entry, err := st.GetCapacity(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, entry.IsOverCapacity())
	assert.Equal(t, 1, entry.CurrentWaitlistCount)

	stored, err := st.GetConflict(ctx, conflicts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAutoResolved, stored.ResolutionStatus)
	assert.False(t, stored.IsActive)
}

func TestResolutionService_AutoResolve_CapacityReliefNotEligibleWhenWaitlistOff(t *testing.T) {
	svc, _, st := newTestResolutionService()
	ctx := context.Background()

	require.NoError(t, st.SaveCapacity(ctx, &models.CapacityEntry{
		SessionID: "s1", CapacityType: models.CapacityFixed,
		MaximumCapacity: 2, CurrentRegistrations: 3,
	}))
	conflict := seedConflict(t, st, models.Conflict{
		Type: models.ConflictCapacityExceeded, PrimarySessionID: "s1",
		CanAutoResolve: true, AutoStrategy: models.StrategyCapacityRelief,
	})

	_, err := svc.AutoResolve(ctx, conflict.ID)
	assert.ErrorIs(t, err, models.ErrAutoResolveNotEligible)

	// Nothing moved and the conflict stays open.
	stored, err := st.GetConflict(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnresolved, stored.ResolutionStatus)
	assert.True(t, stored.IsActive)
}

func TestResolutionService_AutoResolve_ScheduleNudge(t *testing.T) {
	svc, _, st := newTestResolutionService()
	ctx := context.Background()

	start1 := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveSession(ctx, &models.Session{
		ID: "s1", EventID: "e1", StartTime: start1, EndTime: start1.Add(time.Hour),
		Room: "A", IsActive: true,
	}))
	require.NoError(t, st.SaveSession(ctx, &models.Session{
		ID: "s2", EventID: "e1", StartTime: start1.Add(30 * time.Minute),
		EndTime: start1.Add(90 * time.Minute), Room: "A", IsActive: true,
	}))
	conflict := seedConflict(t, st, models.Conflict{
		Type: models.ConflictTimeOverlap, PrimarySessionID: "s1", SecondarySessionID: "s2",
		CanAutoResolve: true, AutoStrategy: models.StrategyScheduleNudge,
	})

	resolution, err := svc.AutoResolve(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionRescheduled, resolution.Action)

	s2, err := st.GetSession(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, start1.Add(time.Hour), s2.StartTime)
	assert.Equal(t, start1.Add(2*time.Hour), s2.EndTime)

	s1, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, s1.OverlapsSession(s2))
}

func TestResolutionService_AutoResolve_NudgeBeyondToleranceNotEligible(t *testing.T) {
	svc, _, st := newTestResolutionService()
	ctx := context.Background()

	start1 := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveSession(ctx, &models.Session{
		ID: "s1", EventID: "e1", StartTime: start1, EndTime: start1.Add(2 * time.Hour),
		Room: "A", IsActive: true,
	}))
	// Needs a 105-minute shift; tolerance is 30 minutes.
	require.NoError(t, st.SaveSession(ctx, &models.Session{
		ID: "s2", EventID: "e1", StartTime: start1.Add(15 * time.Minute),
		EndTime: start1.Add(75 * time.Minute), Room: "A", IsActive: true,
	}))
	conflict := seedConflict(t, st, models.Conflict{
		Type: models.ConflictTimeOverlap, PrimarySessionID: "s1", SecondarySessionID: "s2",
		CanAutoResolve: true, AutoStrategy: models.StrategyScheduleNudge,
	})

	_, err := svc.AutoResolve(ctx, conflict.ID)
	assert.ErrorIs(t, err, models.ErrAutoResolveNotEligible)

	// Sessions untouched.
	s2, err := st.GetSession(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, start1.Add(15*time.Minute), s2.StartTime)
}

func TestResolutionService_AutoResolve_ResourceReassign(t *testing.T) {
	svc, _, st := newTestResolutionService()
	ctx := context.Background()

	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveResource(ctx, &models.Resource{
		ID: "proj-1", Type: models.ResourceEquipment, TotalQuantity: 1,
	}))
	require.NoError(t, st.SaveResource(ctx, &models.Resource{
		ID: "proj-2", Type: models.ResourceEquipment, TotalQuantity: 1,
	}))
	// A staff resource of the same quantity must not be picked.
	require.NoError(t, st.SaveResource(ctx, &models.Resource{
		ID: "tech", Type: models.ResourceStaff, TotalQuantity: 1,
	}))
	for _, b := range []models.ResourceBooking{
		{ID: "b1", SessionID: "s1", ResourceID: "proj-1", QuantityNeeded: 1, QuantityAllocated: 1,
			StartTime: start, EndTime: start.Add(time.Hour), Status: models.BookingConflict},
		{ID: "b2", SessionID: "s2", ResourceID: "proj-1", QuantityNeeded: 1, QuantityAllocated: 1,
			StartTime: start, EndTime: start.Add(time.Hour), Status: models.BookingAllocated},
	} {
		require.NoError(t, st.SaveBooking(ctx, &b))
	}
	conflict := seedConflict(t, st, models.Conflict{
		Type: models.ConflictResource, PrimarySessionID: "s1", ResourceID: "proj-1",
		CanAutoResolve: true, AutoStrategy: models.StrategyResourceReassign,
	})

	resolution, err := svc.AutoResolve(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionReassignedRes, resolution.Action)

	bookings, err := st.ListBookingsBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, "proj-2", bookings[0].ResourceID)
	assert.Equal(t, models.BookingAllocated, bookings[0].Status)
}

func TestResolutionService_AutoResolve_ResourceReassignNoCandidateNotEligible(t *testing.T) {
	svc, _, st := newTestResolutionService()
	ctx := context.Background()

	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveResource(ctx, &models.Resource{
		ID: "proj-1", Type: models.ResourceEquipment, TotalQuantity: 1,
	}))
	require.NoError(t, st.SaveBooking(ctx, &models.ResourceBooking{
		ID: "b1", SessionID: "s1", ResourceID: "proj-1", QuantityNeeded: 1, QuantityAllocated: 1,
		StartTime: start, EndTime: start.Add(time.Hour), Status: models.BookingConflict,
	}))
	conflict := seedConflict(t, st, models.Conflict{
		Type: models.ConflictResource, PrimarySessionID: "s1", ResourceID: "proj-1",
		CanAutoResolve: true, AutoStrategy: models.StrategyResourceReassign,
	})

	_, err := svc.AutoResolve(ctx, conflict.ID)
	assert.ErrorIs(t, err, models.ErrAutoResolveNotEligible)
}

func TestResolutionService_AutoResolve_NotEligibleWithoutStrategy(t *testing.T) {
	svc, _, st := newTestResolutionService()
	conflict := seedConflict(t, st, models.Conflict{
		Type: models.ConflictStaff, PrimarySessionID: "s1", SecondarySessionID: "s2",
	})

	_, err := svc.AutoResolve(context.Background(), conflict.ID)
	assert.ErrorIs(t, err, models.ErrAutoResolveNotEligible)
}

func TestResolutionService_ListUnresolved_FiltersSeverityAndState(t *testing.T) {
	svc, _, st := newTestResolutionService()
	ctx := context.Background()

	seedConflict(t, st, models.Conflict{
		ID: "c-info", Type: models.ConflictTimeOverlap, Severity: models.SeverityInfo,
		PrimarySessionID: "s1", SecondarySessionID: "s2", EventID: "e1",
	})
	seedConflict(t, st, models.Conflict{
		ID: "c-critical", Type: models.ConflictCapacityExceeded, Severity: models.SeverityCritical,
		PrimarySessionID: "s1", EventID: "e1",
	})
	seedConflict(t, st, models.Conflict{
		ID: "c-other-event", Type: models.ConflictStaff, Severity: models.SeverityError,
		PrimarySessionID: "x1", SecondarySessionID: "x2", EventID: "e2",
	})

	global, err := svc.ListUnresolved(ctx, models.GlobalScope(), models.SeverityInfo)
	require.NoError(t, err)
	assert.Len(t, global, 3)

	severe, err := svc.ListUnresolved(ctx, models.GlobalScope(), models.SeverityError)
	require.NoError(t, err)
	assert.Len(t, severe, 2)

	event, err := svc.ListUnresolved(ctx, models.EventScope("e1"), models.SeverityInfo)
	require.NoError(t, err)
	assert.Len(t, event, 2)

	session, err := svc.ListUnresolved(ctx, models.SessionScope("s1"), models.SeverityCritical)
	require.NoError(t, err)
	require.Len(t, session, 1)
	assert.Equal(t, "c-critical", session[0].ID)

	// Ignored conflicts drop out.
	_, err = svc.Ignore(ctx, "c-info", "fine", "ops")
	require.NoError(t, err)
	global, err = svc.ListUnresolved(ctx, models.GlobalScope(), models.SeverityInfo)
	require.NoError(t, err)
	assert.Len(t, global, 2)
}

func TestResolutionService_BreakerBlocksAfterRepeatedFailures(t *testing.T) {
	st := store.NewMemoryStore()
	monitor := monitoring.NewMonitor()
	capacity := NewCapacityService(st, monitor, zerolog.Nop())
	breaker := utils.NewBreaker("test", 2, time.Hour)
	svc := NewResolutionService(st, capacity, monitor, 30*time.Minute, breaker, zerolog.Nop())
	ctx := context.Background()

	// A nudge conflict whose sessions do not exist makes the strategy error.
	conflict := seedConflict(t, st, models.Conflict{
		Type: models.ConflictTimeOverlap, PrimarySessionID: "ghost-1", SecondarySessionID: "ghost-2",
		CanAutoResolve: true, AutoStrategy: models.StrategyScheduleNudge,
	})

	_, err := svc.AutoResolve(ctx, conflict.ID)
	require.Error(t, err)
	_, err = svc.AutoResolve(ctx, conflict.ID)
	require.Error(t, err)

	_, err = svc.AutoResolve(ctx, conflict.ID)
	assert.ErrorIs(t, err, utils.ErrBreakerOpen)
}

func TestResolutionService_AutoResolveEligible(t *testing.T) {
	svc, capacity, st := newTestResolutionService()
	ctx := context.Background()

	require.NoError(t, st.SaveCapacity(ctx, fifoEntry("s1", 2)))
	for _, id := range []string{"a1", "a2"} {
		_, err := capacity.Register(ctx, "s1", models.AttendeeRef{ID: id})
		require.NoError(t, err)
	}
	require.NoError(t, capacity.UpdateCapacity(ctx, "s1", 1, 0, "shrunk"))

	// A manual-only conflict sits alongside and is skipped.
	seedConflict(t, st, models.Conflict{
		ID: "manual", Type: models.ConflictStaff,
		PrimarySessionID: "s1", SecondarySessionID: "s2",
	})

	resolved, err := svc.AutoResolveEligible(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	entry, err := st.GetCapacity(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, entry.IsOverCapacity())
}
