package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}

func TestOverlaps_HalfOpenWindows(t *testing.T) {
	tenAM := mustTime(t, "2026-09-01T10:00:00Z")
	elevenAM := mustTime(t, "2026-09-01T11:00:00Z")
	tenThirty := mustTime(t, "2026-09-01T10:30:00Z")
	elevenThirty := mustTime(t, "2026-09-01T11:30:00Z")
	noon := mustTime(t, "2026-09-01T12:00:00Z")

	// 10:00-11:00 vs 10:30-11:30 overlap.
	assert.True(t, Overlaps(tenAM, elevenAM, tenThirty, elevenThirty))
	assert.True(t, Overlaps(tenThirty, elevenThirty, tenAM, elevenAM))

	// Back-to-back windows share only the boundary instant and do not overlap.
	assert.False(t, Overlaps(tenAM, elevenAM, elevenAM, noon))
	assert.False(t, Overlaps(elevenAM, noon, tenAM, elevenAM))

	// Containment overlaps.
	assert.True(t, Overlaps(tenAM, noon, tenThirty, elevenAM))
}

func TestOverlapWindow(t *testing.T) {
	tenAM := mustTime(t, "2026-09-01T10:00:00Z")
	elevenAM := mustTime(t, "2026-09-01T11:00:00Z")
	tenThirty := mustTime(t, "2026-09-01T10:30:00Z")
	elevenThirty := mustTime(t, "2026-09-01T11:30:00Z")

	start, end, ok := OverlapWindow(tenAM, elevenAM, tenThirty, elevenThirty)
	require.True(t, ok)
	assert.Equal(t, tenThirty, start)
	assert.Equal(t, elevenAM, end)

	_, _, ok = OverlapWindow(tenAM, tenThirty, elevenAM, elevenThirty)
	assert.False(t, ok)
}

func TestSession_SameRoom(t *testing.T) {
	a := &Session{Room: "A", Building: "North"}
	b := &Session{Room: "A", Building: "North"}
	c := &Session{Room: "A", Building: "South"}
	empty := &Session{Room: "", Building: "North"}

	assert.True(t, a.SameRoom(b))
	assert.False(t, a.SameRoom(c))
	assert.False(t, empty.SameRoom(&Session{Room: "", Building: "North"}))
}

func TestCapacityEntry_EffectiveCapacity(t *testing.T) {
	tests := []struct {
		name  string
		entry CapacityEntry
		want  int
	}{
		{
			name:  "fixed without overbooking",
			entry: CapacityEntry{CapacityType: CapacityFixed, MaximumCapacity: 100},
			want:  100,
		},
		{
			name: "overbooking rounds down",
			entry: CapacityEntry{
				CapacityType: CapacityFixed, MaximumCapacity: 33,
				AllowOverbooking: true, OverbookingPercentage: 10,
			},
			want: 36, // floor(33 * 1.10)
		},
		{
			name: "overbooking exact",
			entry: CapacityEntry{
				CapacityType: CapacityFixed, MaximumCapacity: 100,
				AllowOverbooking: true, OverbookingPercentage: 15,
			},
			want: 115,
		},
		{
			name: "overbooking flag without percentage",
			entry: CapacityEntry{
				CapacityType: CapacityFixed, MaximumCapacity: 50,
				AllowOverbooking: true,
			},
			want: 50,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.entry.EffectiveCapacity())
		})
	}

	unlimited := CapacityEntry{CapacityType: CapacityUnlimited, MaximumCapacity: 5}
	assert.Greater(t, unlimited.EffectiveCapacity(), 1<<40)
	assert.False(t, unlimited.IsOverCapacity())
}

func TestCapacityEntry_WaitlistHasRoom(t *testing.T) {
	bound := 2
	entry := CapacityEntry{
		EnableWaitlist:       true,
		WaitlistStrategy:     WaitlistFIFO,
		WaitlistCapacity:     &bound,
		CurrentWaitlistCount: 1,
	}
	assert.True(t, entry.WaitlistHasRoom())

	entry.CurrentWaitlistCount = 2
	assert.False(t, entry.WaitlistHasRoom())

	entry.WaitlistCapacity = nil
	assert.True(t, entry.WaitlistHasRoom())

	entry.WaitlistStrategy = WaitlistNone
	assert.False(t, entry.WaitlistHasRoom())

	entry.WaitlistStrategy = WaitlistFIFO
	entry.EnableWaitlist = false
	assert.False(t, entry.WaitlistHasRoom())
}

func TestCapacityEntry_Report(t *testing.T) {
	entry := CapacityEntry{
		SessionID:            "s1",
		CapacityType:         CapacityFixed,
		MaximumCapacity:      20,
		MinimumCapacity:      5,
		CurrentRegistrations: 3,
		CurrentWaitlistCount: 4,
		LowCapacityThreshold: 2,
		HighDemandThreshold:  4,
	}
	report := entry.Report()
	assert.True(t, report.LowEnrollment)
	assert.False(t, report.LowCapacityAlert)
	assert.True(t, report.HighDemandAlert)
	assert.False(t, report.OverCapacity)
	assert.Equal(t, 17, report.AvailableSpots)

	entry.CurrentRegistrations = 21
	report = entry.Report()
	assert.True(t, report.OverCapacity)
	assert.Equal(t, 0, report.AvailableSpots)
	assert.True(t, report.LowCapacityAlert)
}

func TestCapacitySeverity(t *testing.T) {
	assert.Equal(t, SeverityInfo, CapacitySeverity(10, 10))
	assert.Equal(t, SeverityError, CapacitySeverity(11, 10))
	assert.Equal(t, SeverityError, CapacitySeverity(12, 10)) // exactly 20% over
	assert.Equal(t, SeverityCritical, CapacitySeverity(13, 10))
	assert.Equal(t, SeverityCritical, CapacitySeverity(1, 0))
}

func TestResolutionStatus_StateMachine(t *testing.T) {
	assert.True(t, StatusUnresolved.CanTransitionTo(StatusAcknowledged))
	assert.True(t, StatusUnresolved.CanTransitionTo(StatusResolved))
	assert.True(t, StatusUnresolved.CanTransitionTo(StatusIgnored))
	assert.True(t, StatusUnresolved.CanTransitionTo(StatusAutoResolved))

	assert.True(t, StatusAcknowledged.CanTransitionTo(StatusResolved))
	assert.True(t, StatusAcknowledged.CanTransitionTo(StatusIgnored))
	assert.False(t, StatusAcknowledged.CanTransitionTo(StatusAutoResolved))
	assert.False(t, StatusAcknowledged.CanTransitionTo(StatusUnresolved))

	for _, terminal := range []ResolutionStatus{StatusResolved, StatusIgnored, StatusAutoResolved} {
		assert.True(t, terminal.IsTerminal())
		for _, next := range []ResolutionStatus{StatusUnresolved, StatusAcknowledged, StatusResolved, StatusIgnored, StatusAutoResolved} {
			assert.False(t, terminal.CanTransitionTo(next), "%s -> %s", terminal, next)
		}
	}
}

func TestConflict_IdentityKey(t *testing.T) {
	a := Conflict{Type: ConflictTimeOverlap, PrimarySessionID: "s1", SecondarySessionID: "s2"}
	b := Conflict{Type: ConflictTimeOverlap, PrimarySessionID: "s1", SecondarySessionID: "s2", Severity: SeverityCritical}
	c := Conflict{Type: ConflictStaff, PrimarySessionID: "s1", SecondarySessionID: "s2"}

	assert.Equal(t, a.IdentityKey(), b.IdentityKey())
	assert.NotEqual(t, a.IdentityKey(), c.IdentityKey())
}

func TestResourceBooking_Window(t *testing.T) {
	start := mustTime(t, "2026-09-01T10:00:00Z")
	end := mustTime(t, "2026-09-01T11:00:00Z")
	booking := ResourceBooking{
		StartTime: start, EndTime: end,
		SetupMinutes: 15, CleanupMinutes: 30,
	}
	gotStart, gotEnd := booking.Window()
	assert.Equal(t, start.Add(-15*time.Minute), gotStart)
	assert.Equal(t, end.Add(30*time.Minute), gotEnd)
}

func TestResource_BookableQuantity(t *testing.T) {
	shared := Resource{TotalQuantity: 5}
	exclusive := Resource{TotalQuantity: 5, IsExclusive: true}
	assert.Equal(t, 5, shared.BookableQuantity())
	assert.Equal(t, 1, exclusive.BookableQuantity())
}

func TestPrerequisiteEvaluation_Err(t *testing.T) {
	passing := PrerequisiteEvaluation{CanRegister: true}
	assert.NoError(t, passing.Err())

	failing := PrerequisiteEvaluation{
		CanRegister: false,
		Failed: []PrerequisiteFailure{
			{PrerequisiteID: "p1"},
			{PrerequisiteID: "p2"},
		},
	}
	err := failing.Err()
	var notMet *PrerequisiteNotMetError
	require.True(t, errors.As(err, &notMet))
	assert.Equal(t, []string{"p1", "p2"}, notMet.PrerequisiteIDs)
}

func TestSeverityRank(t *testing.T) {
	assert.Less(t, SeverityInfo.Rank(), SeverityWarning.Rank())
	assert.Less(t, SeverityWarning.Rank(), SeverityError.Rank())
	assert.Less(t, SeverityError.Rank(), SeverityCritical.Rank())
}
