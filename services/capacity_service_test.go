package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheduling-engine/models"
	"scheduling-engine/monitoring"
	"scheduling-engine/store"
)

func newTestCapacityService() (*CapacityService, *store.MemoryStore) {
	st := store.NewMemoryStore()
	return NewCapacityService(st, monitoring.NewMonitor(), zerolog.Nop()), st
}

func seedCapacity(t *testing.T, st *store.MemoryStore, entry *models.CapacityEntry) {
	t.Helper()
	require.NoError(t, st.SaveCapacity(context.Background(), entry))
}

func fifoEntry(sessionID string, maxCapacity int) *models.CapacityEntry {
	return &models.CapacityEntry{
		SessionID:        sessionID,
		CapacityType:     models.CapacityFixed,
		MaximumCapacity:  maxCapacity,
		EnableWaitlist:   true,
		WaitlistStrategy: models.WaitlistFIFO,
	}
}

func TestCapacityService_Register_Confirmed(t *testing.T) {
	svc, st := newTestCapacityService()
	seedCapacity(t, st, fifoEntry("s1", 2))
	ctx := context.Background()

	result, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeConfirmed, result.Outcome)
	require.NotNil(t, result.Record)
	assert.Equal(t, models.AttendanceRegistered, result.Record.Status)

	entry, err := st.GetCapacity(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.CurrentRegistrations)
}

func TestCapacityService_Register_Duplicate(t *testing.T) {
	svc, st := newTestCapacityService()
	seedCapacity(t, st, fifoEntry("s1", 2))
	ctx := context.Background()

	_, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: "a1"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, "s1", models.AttendeeRef{ID: "a1"})
	assert.ErrorIs(t, err, models.ErrAlreadyRegistered)
}

func TestCapacityService_Register_WaitlistsWhenFull(t *testing.T) {
	svc, st := newTestCapacityService()
	seedCapacity(t, st, fifoEntry("s1", 1))
	ctx := context.Background()

	_, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: "a1"})
	require.NoError(t, err)

	result, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: "a2"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeWaitlisted, result.Outcome)
	assert.Equal(t, 1, result.WaitlistPosition)

	result, err = svc.Register(ctx, "s1", models.AttendeeRef{ID: "a3"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.WaitlistPosition)
}

func TestCapacityService_Register_RejectsWithTypedErrors(t *testing.T) {
	svc, st := newTestCapacityService()
	bound := 1
	entry := fifoEntry("s1", 1)
	entry.WaitlistCapacity = &bound
	seedCapacity(t, st, entry)
	ctx := context.Background()

	_, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: "a1"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, "s1", models.AttendeeRef{ID: "a2"})
	require.NoError(t, err)

	result, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: "a3"})
	require.Error(t, err)
	assert.Equal(t, models.OutcomeRejected, result.Outcome)
	var capErr *models.CapacityExceededError
	assert.True(t, errors.As(err, &capErr))
	assert.ErrorIs(t, err, models.ErrWaitlistFull)
}

func TestCapacityService_Register_RejectsWhenWaitlistDisabled(t *testing.T) {
	svc, st := newTestCapacityService()
	seedCapacity(t, st, &models.CapacityEntry{
		SessionID: "s1", CapacityType: models.CapacityFixed, MaximumCapacity: 1,
	})
	ctx := context.Background()

	_, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: "a1"})
	require.NoError(t, err)

	result, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: "a2"})
	require.Error(t, err)
	assert.Equal(t, models.OutcomeRejected, result.Outcome)
	assert.ErrorIs(t, err, models.ErrWaitlistDisabled)
}

func TestCapacityService_Register_OverbookingRaisesCeiling(t *testing.T) {
	svc, st := newTestCapacityService()
	entry := fifoEntry("s1", 10)
	entry.AllowOverbooking = true
	entry.OverbookingPercentage = 10
	seedCapacity(t, st, entry)
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		result, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: fmt.Sprintf("a%d", i)})
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeConfirmed, result.Outcome, "attendee %d", i)
	}

	result, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: "a11"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeWaitlisted, result.Outcome)
}

// Cancelling the middle waitlist entry shifts everyone behind up by one while
// confirmed spots stay untouched.
func TestCapacityService_Cancel_CompactsWaitlist(t *testing.T) {
	svc, st := newTestCapacityService()
	seedCapacity(t, st, fifoEntry("s1", 1))
	ctx := context.Background()

	_, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: "confirmed"})
	require.NoError(t, err)
	for _, id := range []string{"w1", "w2", "w3"} {
		_, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: id})
		require.NoError(t, err)
	}

	require.NoError(t, svc.Cancel(ctx, "s1", "w2"))

	waitlist, err := st.ListWaitlist(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, waitlist, 2)
	assert.Equal(t, "w1", waitlist[0].AttendeeID)
	assert.Equal(t, 1, waitlist[0].WaitlistPosition)
	assert.Equal(t, "w3", waitlist[1].AttendeeID)
	assert.Equal(t, 2, waitlist[1].WaitlistPosition)
}

func TestCapacityService_Cancel_AutoPromotesFIFO(t *testing.T) {
	svc, st := newTestCapacityService()
	entry := fifoEntry("s1", 1)
	entry.AutoPromoteWaitlist = true
	seedCapacity(t, st, entry)
	ctx := context.Background()

	_, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: "confirmed"})
	require.NoError(t, err)
	for _, id := range []string{"w1", "w2"} {
		_, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: id})
		require.NoError(t, err)
	}

	require.NoError(t, svc.Cancel(ctx, "s1", "confirmed"))

	promoted, err := st.FindActiveAttendance(ctx, "s1", "w1")
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceRegistered, promoted.Status)

	waitlist, err := st.ListWaitlist(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, waitlist, 1)
	assert.Equal(t, "w2", waitlist[0].AttendeeID)
	assert.Equal(t, 1, waitlist[0].WaitlistPosition)

	stored, err := st.GetCapacity(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentRegistrations)
	assert.Equal(t, 1, stored.CurrentWaitlistCount)
}

func TestCapacityService_Promote_PriorityBased(t *testing.T) {
	svc, st := newTestCapacityService()
	entry := fifoEntry("s1", 1)
	entry.WaitlistStrategy = models.WaitlistPriorityBased
	seedCapacity(t, st, entry)
	ctx := context.Background()

	_, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: "confirmed"})
	require.NoError(t, err)
	// Same priority for low1/low2 so FIFO breaks the tie; vip outranks both.
	for _, a := range []models.AttendeeRef{
		{ID: "low1", Priority: 1},
		{ID: "vip", Priority: 9},
		{ID: "low2", Priority: 1},
	} {
		_, err := svc.Register(ctx, "s1", a)
		require.NoError(t, err)
	}

	require.NoError(t, svc.Cancel(ctx, "s1", "confirmed"))
	promoted, err := svc.Promote(ctx, "s1", 5)
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	assert.Equal(t, "vip", promoted[0].ID)

	waitlist, err := st.ListWaitlist(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, waitlist, 2)
	assert.Equal(t, "low1", waitlist[0].AttendeeID)
	assert.Equal(t, 1, waitlist[0].WaitlistPosition)
	assert.Equal(t, "low2", waitlist[1].AttendeeID)
	assert.Equal(t, 2, waitlist[1].WaitlistPosition)
}

func TestCapacityService_Promote_StopsAtCapacity(t *testing.T) {
	svc, st := newTestCapacityService()
	seedCapacity(t, st, fifoEntry("s1", 2))
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "w1", "w2", "w3"} {
		_, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: id})
		require.NoError(t, err)
	}

	promoted, err := svc.Promote(ctx, "s1", 3)
	require.NoError(t, err)
	assert.Empty(t, promoted)

	require.NoError(t, svc.Cancel(ctx, "s1", "c1"))
	promoted, err = svc.Promote(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	assert.Equal(t, "w1", promoted[0].ID)
}

func TestCapacityService_UpdateCapacity_DecreaseFlagsConflict(t *testing.T) {
	svc, st := newTestCapacityService()
	seedCapacity(t, st, fifoEntry("s1", 3))
	ctx := context.Background()

	for _, id := range []string{"a1", "a2", "a3"} {
		_, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: id})
		require.NoError(t, err)
	}

	require.NoError(t, svc.UpdateCapacity(ctx, "s1", 2, 0, "room change"))

	// Nobody was evicted.
	entry, err := st.GetCapacity(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, entry.CurrentRegistrations)

	conflicts, err := st.ListActiveConflictsForSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.ConflictCapacityExceeded, conflicts[0].Type)
	assert.True(t, conflicts[0].CanAutoResolve)
	assert.Equal(t, models.StrategyCapacityRelief, conflicts[0].AutoStrategy)
}

func TestCapacityService_UpdateCapacity_IncreasePromotes(t *testing.T) {
	svc, st := newTestCapacityService()
	entry := fifoEntry("s1", 1)
	entry.AutoPromoteWaitlist = true
	seedCapacity(t, st, entry)
	ctx := context.Background()

	for _, id := range []string{"c1", "w1", "w2"} {
		_, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: id})
		require.NoError(t, err)
	}

	require.NoError(t, svc.UpdateCapacity(ctx, "s1", 3, 0, "bigger room"))

	stored, err := st.GetCapacity(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.CurrentRegistrations)
	assert.Equal(t, 0, stored.CurrentWaitlistCount)
}

func TestCapacityService_DemoteExcess(t *testing.T) {
	svc, st := newTestCapacityService()
	seedCapacity(t, st, fifoEntry("s1", 3))
	ctx := context.Background()

	for i, id := range []string{"a1", "a2", "a3"} {
		_, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: id})
		require.NoError(t, err)
		// Distinct registration times so "most recent" is well defined.
		rec, err := st.FindActiveAttendance(ctx, "s1", id)
		require.NoError(t, err)
		rec.RegisteredAt = time.Date(2026, 9, 1, 10, i, 0, 0, time.UTC)
		require.NoError(t, st.SaveAttendance(ctx, rec))
	}
	require.NoError(t, svc.UpdateCapacity(ctx, "s1", 2, 0, "shrunk"))

	demoted, err := svc.DemoteExcess(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, demoted, 1)
	assert.Equal(t, "a3", demoted[0].ID)

	stored, err := st.GetCapacity(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CurrentRegistrations)
	assert.False(t, stored.IsOverCapacity())

	waitlist, err := st.ListWaitlist(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, waitlist, 1)
	assert.Equal(t, "a3", waitlist[0].AttendeeID)
	assert.Equal(t, 1, waitlist[0].WaitlistPosition)
}

func TestCapacityService_DemoteExcess_WaitlistDisabled(t *testing.T) {
	svc, st := newTestCapacityService()
	seedCapacity(t, st, &models.CapacityEntry{
		SessionID: "s1", CapacityType: models.CapacityFixed,
		MaximumCapacity: 1, CurrentRegistrations: 2,
	})

	_, err := svc.DemoteExcess(context.Background(), "s1")
	assert.ErrorIs(t, err, models.ErrWaitlistDisabled)
}

func TestCapacityService_CheckIn(t *testing.T) {
	svc, st := newTestCapacityService()
	seedCapacity(t, st, fifoEntry("s1", 1))
	ctx := context.Background()

	_, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: "a1"})
	require.NoError(t, err)

	require.NoError(t, svc.CheckIn(ctx, "s1", "a1"))

	records, err := st.ListSessionAttendance(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.AttendanceAttended, records[0].Status)
	require.NotNil(t, records[0].CheckedInAt)

	// Waitlisted attendees cannot check in.
	_, err = svc.Register(ctx, "s1", models.AttendeeRef{ID: "a2"})
	require.NoError(t, err)
	assert.Error(t, svc.CheckIn(ctx, "s1", "a2"))
}

// With many goroutines racing for the last spots, confirmed registrations must
// never exceed the ceiling.
func TestCapacityService_Register_NoOversellUnderConcurrency(t *testing.T) {
	svc, st := newTestCapacityService()
	const capacity = 5
	const attempts = 40
	seedCapacity(t, st, fifoEntry("s1", capacity))
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	confirmed := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			result, err := svc.Register(ctx, "s1", models.AttendeeRef{ID: fmt.Sprintf("a%d", n)})
			if err != nil {
				return
			}
			if result.Outcome == models.OutcomeConfirmed {
				mu.Lock()
				confirmed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, capacity, confirmed)

	entry, err := st.GetCapacity(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, capacity, entry.CurrentRegistrations)
	assert.Equal(t, attempts-capacity, entry.CurrentWaitlistCount)

	// Waitlist positions stay a contiguous 1..n sequence.
	waitlist, err := st.ListWaitlist(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, waitlist, attempts-capacity)
	for i, r := range waitlist {
		assert.Equal(t, i+1, r.WaitlistPosition)
	}
}
