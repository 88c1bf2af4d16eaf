package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"scheduling-engine/models"
	"scheduling-engine/monitoring"
	"scheduling-engine/store"
	"scheduling-engine/utils"
)

// CapacityService owns the per-session capacity ledger: registration
// admission, waitlist ordering and promotion, and capacity changes. Every
// mutation runs under the session's keyed mutex, so two concurrent registers
// can never both see the last open spot. Ledger counters are written here and
// nowhere else.
type CapacityService struct {
	store   store.Store
	locks   *utils.KeyedMutex
	monitor *monitoring.Monitor
	log     zerolog.Logger
}

func NewCapacityService(st store.Store, monitor *monitoring.Monitor, log zerolog.Logger) *CapacityService {
	return &CapacityService{
		store:   st,
		locks:   utils.NewKeyedMutex(),
		monitor: monitor,
		log:     log.With().Str("service", "capacity").Logger(),
	}
}

// Register attempts to admit an attendee to a session. The outcome is
// CONFIRMED when a spot is free, WAITLISTED when the waitlist can take them,
// REJECTED otherwise. A rejection also carries a CapacityExceededError so
// callers can classify it without inspecting the result.
func (s *CapacityService) Register(ctx context.Context, sessionID string, attendee models.AttendeeRef) (*models.RegistrationResult, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	entry, err := s.store.GetCapacity(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load capacity for session %s: %w", sessionID, err)
	}

	if _, err := s.store.FindActiveAttendance(ctx, sessionID, attendee.ID); err == nil {
		return nil, models.ErrAlreadyRegistered
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check existing registration: %w", err)
	}

	now := time.Now().UTC()

	if entry.AvailableSpots() > 0 {
		record := &models.AttendanceRecord{
			ID:           uuid.NewString(),
			SessionID:    sessionID,
			AttendeeID:   attendee.ID,
			Status:       models.AttendanceRegistered,
			Priority:     attendee.Priority,
			RegisteredAt: now,
		}
		entry.CurrentRegistrations++
		if err := s.commitAdmission(ctx, entry, record); err != nil {
			return nil, err
		}
		s.monitor.TrackRegistration(string(models.OutcomeConfirmed))
		s.log.Info().Str("session_id", sessionID).Str("attendee_id", attendee.ID).
			Int("registrations", entry.CurrentRegistrations).Msg("registration confirmed")
		return &models.RegistrationResult{Outcome: models.OutcomeConfirmed, Record: record}, nil
	}

	if entry.WaitlistHasRoom() {
		position := entry.CurrentWaitlistCount + 1
		record := &models.AttendanceRecord{
			ID:               uuid.NewString(),
			SessionID:        sessionID,
			AttendeeID:       attendee.ID,
			Status:           models.AttendanceWaitlist,
			WaitlistPosition: position,
			Priority:         attendee.Priority,
			RegisteredAt:     now,
			WaitlistedAt:     &now,
		}
		entry.CurrentWaitlistCount++
		if err := s.commitAdmission(ctx, entry, record); err != nil {
			return nil, err
		}
		s.monitor.TrackRegistration(string(models.OutcomeWaitlisted))
		s.log.Info().Str("session_id", sessionID).Str("attendee_id", attendee.ID).
			Int("position", position).Msg("attendee waitlisted")
		return &models.RegistrationResult{
			Outcome:          models.OutcomeWaitlisted,
			Record:           record,
			WaitlistPosition: position,
		}, nil
	}

	s.monitor.TrackRegistration(string(models.OutcomeRejected))
	capErr := &models.CapacityExceededError{SessionID: sessionID, Capacity: entry.EffectiveCapacity()}
	// The joined sentinel tells callers why the waitlist could not absorb the
	// attendee: a full waitlist and a disabled one read differently to end users.
	reason := models.ErrWaitlistDisabled
	if entry.EnableWaitlist && entry.WaitlistStrategy != models.WaitlistNone {
		reason = models.ErrWaitlistFull
	}
	return &models.RegistrationResult{Outcome: models.OutcomeRejected}, errors.Join(capErr, reason)
}

// commitAdmission persists the record first, then the counter, so a failure
// between the two leaves a record without a counted spot rather than a counted
// spot without a record. The next ledger operation reconciles through the
// stored records, never the other way around.
func (s *CapacityService) commitAdmission(ctx context.Context, entry *models.CapacityEntry, record *models.AttendanceRecord) error {
	if err := s.store.SaveAttendance(ctx, record); err != nil {
		return fmt.Errorf("save attendance record: %w", err)
	}
	entry.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveCapacity(ctx, entry); err != nil {
		return fmt.Errorf("save capacity entry: %w", err)
	}
	s.monitor.TrackLedger(entry.SessionID, entry.CurrentRegistrations, entry.EffectiveCapacity(), entry.CurrentWaitlistCount)
	return nil
}

// Cancel voids an attendee's active record. Cancelling a confirmed
// registration frees a spot and, when auto-promotion is on, immediately
// promotes from the waitlist. Cancelling a waitlist entry compacts the
// positions behind it so the sequence stays gap-free.
func (s *CapacityService) Cancel(ctx context.Context, sessionID, attendeeID string) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	record, err := s.store.FindActiveAttendance(ctx, sessionID, attendeeID)
	if err != nil {
		return fmt.Errorf("find registration for attendee %s: %w", attendeeID, err)
	}
	entry, err := s.store.GetCapacity(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load capacity for session %s: %w", sessionID, err)
	}

	wasRegistered := record.Status == models.AttendanceRegistered
	freedPosition := record.WaitlistPosition

	now := time.Now().UTC()
	record.Status = models.AttendanceCancelled
	record.WaitlistPosition = 0
	record.CancelledAt = &now
	if err := s.store.SaveAttendance(ctx, record); err != nil {
		return fmt.Errorf("save cancelled record: %w", err)
	}

	if wasRegistered {
		entry.CurrentRegistrations--
		if entry.CurrentRegistrations < 0 {
			entry.CurrentRegistrations = 0
		}
		entry.UpdatedAt = now
		if err := s.store.SaveCapacity(ctx, entry); err != nil {
			return fmt.Errorf("save capacity entry: %w", err)
		}
		if entry.AutoPromoteWaitlist && entry.CurrentWaitlistCount > 0 {
			if _, err := s.promoteLocked(ctx, entry, 1); err != nil {
				return fmt.Errorf("auto-promote after cancellation: %w", err)
			}
		}
	} else {
		entry.CurrentWaitlistCount--
		if entry.CurrentWaitlistCount < 0 {
			entry.CurrentWaitlistCount = 0
		}
		entry.UpdatedAt = now
		if err := s.store.SaveCapacity(ctx, entry); err != nil {
			return fmt.Errorf("save capacity entry: %w", err)
		}
		if err := s.compactWaitlist(ctx, sessionID, freedPosition); err != nil {
			return err
		}
	}

	s.monitor.TrackLedger(entry.SessionID, entry.CurrentRegistrations, entry.EffectiveCapacity(), entry.CurrentWaitlistCount)
	s.log.Info().Str("session_id", sessionID).Str("attendee_id", attendeeID).
		Bool("was_registered", wasRegistered).Msg("registration cancelled")
	return nil
}

// Promote moves up to count waitlisted attendees into confirmed spots,
// ordered by the session's waitlist strategy. It stops early when capacity is
// exhausted and returns the attendees actually promoted.
func (s *CapacityService) Promote(ctx context.Context, sessionID string, count int) ([]models.AttendeeRef, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	entry, err := s.store.GetCapacity(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load capacity for session %s: %w", sessionID, err)
	}
	return s.promoteLocked(ctx, entry, count)
}

// promoteLocked is the promotion core; callers hold the session lock.
func (s *CapacityService) promoteLocked(ctx context.Context, entry *models.CapacityEntry, count int) ([]models.AttendeeRef, error) {
	if count <= 0 {
		return nil, nil
	}

	waitlist, err := s.store.ListWaitlist(ctx, entry.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load waitlist: %w", err)
	}
	orderWaitlist(waitlist, entry.WaitlistStrategy)

	var promoted []models.AttendeeRef
	for i := range waitlist {
		if len(promoted) >= count || entry.AvailableSpots() <= 0 {
			break
		}
		record := waitlist[i]
		record.Status = models.AttendanceRegistered
		record.WaitlistPosition = 0
		if err := s.store.SaveAttendance(ctx, &record); err != nil {
			return promoted, fmt.Errorf("save promoted record: %w", err)
		}
		entry.CurrentRegistrations++
		entry.CurrentWaitlistCount--
		promoted = append(promoted, models.AttendeeRef{ID: record.AttendeeID, Priority: record.Priority})
	}

	if len(promoted) == 0 {
		return nil, nil
	}

	entry.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveCapacity(ctx, entry); err != nil {
		return promoted, fmt.Errorf("save capacity entry: %w", err)
	}
	if err := s.renumberWaitlist(ctx, entry.SessionID); err != nil {
		return promoted, err
	}

	s.monitor.TrackPromotions(len(promoted))
	s.monitor.TrackLedger(entry.SessionID, entry.CurrentRegistrations, entry.EffectiveCapacity(), entry.CurrentWaitlistCount)
	s.log.Info().Str("session_id", entry.SessionID).Int("promoted", len(promoted)).Msg("waitlist promotion")
	return promoted, nil
}

// orderWaitlist sorts waitlist records by the session's strategy. FIFO and
// REGISTRATION_TIME differ only in key; PRIORITY_BASED is highest priority
// first with FIFO breaking ties.
func orderWaitlist(records []models.AttendanceRecord, strategy models.WaitlistStrategy) {
	switch strategy {
	case models.WaitlistRegistrationTime:
		sort.SliceStable(records, func(i, j int) bool {
			ti, tj := records[i].WaitlistedAt, records[j].WaitlistedAt
			if ti == nil || tj == nil {
				return records[i].WaitlistPosition < records[j].WaitlistPosition
			}
			return ti.Before(*tj)
		})
	case models.WaitlistPriorityBased:
		sort.SliceStable(records, func(i, j int) bool {
			if records[i].Priority != records[j].Priority {
				return records[i].Priority > records[j].Priority
			}
			return records[i].WaitlistPosition < records[j].WaitlistPosition
		})
	default:
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].WaitlistPosition < records[j].WaitlistPosition
		})
	}
}

// compactWaitlist shifts every position above the freed one down by one.
func (s *CapacityService) compactWaitlist(ctx context.Context, sessionID string, freedPosition int) error {
	waitlist, err := s.store.ListWaitlist(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load waitlist: %w", err)
	}
	for i := range waitlist {
		if waitlist[i].WaitlistPosition > freedPosition {
			waitlist[i].WaitlistPosition--
			if err := s.store.SaveAttendance(ctx, &waitlist[i]); err != nil {
				return fmt.Errorf("compact waitlist position: %w", err)
			}
		}
	}
	return nil
}

// renumberWaitlist rewrites positions to 1..n preserving the current order.
// Used after promotions, which can pluck records out of the middle when the
// strategy is not FIFO.
func (s *CapacityService) renumberWaitlist(ctx context.Context, sessionID string) error {
	waitlist, err := s.store.ListWaitlist(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load waitlist: %w", err)
	}
	for i := range waitlist {
		if waitlist[i].WaitlistPosition != i+1 {
			waitlist[i].WaitlistPosition = i + 1
			if err := s.store.SaveAttendance(ctx, &waitlist[i]); err != nil {
				return fmt.Errorf("renumber waitlist position: %w", err)
			}
		}
	}
	return nil
}

// UpdateCapacity changes a session's maximum and minimum capacity. Raising
// the ceiling promotes waitlisted attendees if auto-promotion is on; lowering
// it below current registrations flags a CAPACITY_EXCEEDED conflict rather
// than evicting anyone — eviction is an organizer decision.
func (s *CapacityService) UpdateCapacity(ctx context.Context, sessionID string, newMax, newMin int, reason string) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	entry, err := s.store.GetCapacity(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load capacity for session %s: %w", sessionID, err)
	}

	oldSpots := entry.AvailableSpots()
	entry.MaximumCapacity = newMax
	entry.MinimumCapacity = newMin
	entry.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveCapacity(ctx, entry); err != nil {
		return fmt.Errorf("save capacity entry: %w", err)
	}

	s.log.Info().Str("session_id", sessionID).Int("new_max", newMax).Int("new_min", newMin).
		Str("reason", reason).Msg("capacity updated")

	if entry.IsOverCapacity() {
		if err := s.flagCapacityExceeded(ctx, entry); err != nil {
			return err
		}
		return nil
	}

	if entry.AutoPromoteWaitlist && entry.AvailableSpots() > oldSpots && entry.CurrentWaitlistCount > 0 {
		if _, err := s.promoteLocked(ctx, entry, entry.AvailableSpots()); err != nil {
			return fmt.Errorf("promote after capacity increase: %w", err)
		}
	}
	s.monitor.TrackLedger(entry.SessionID, entry.CurrentRegistrations, entry.EffectiveCapacity(), entry.CurrentWaitlistCount)
	return nil
}

// flagCapacityExceeded upserts the session's CAPACITY_EXCEEDED conflict.
func (s *CapacityService) flagCapacityExceeded(ctx context.Context, entry *models.CapacityEntry) error {
	eventID := ""
	if sess, err := s.store.GetSession(ctx, entry.SessionID); err == nil {
		eventID = sess.EventID
	}
	conflict := newCapacityConflict(entry, eventID)
	if _, err := upsertConflict(ctx, s.store, conflict); err != nil {
		return fmt.Errorf("flag capacity exceeded: %w", err)
	}
	s.monitor.TrackConflict(string(conflict.Type), string(conflict.Severity))
	s.log.Warn().Str("session_id", entry.SessionID).
		Int("registrations", entry.CurrentRegistrations).
		Int("ceiling", entry.EffectiveCapacity()).Msg("capacity exceeded")
	return nil
}

// DemoteExcess moves the most recently confirmed registrations above the
// admission ceiling onto the head of the waitlist. All-or-nothing: if the
// waitlist cannot absorb every excess registration the ledger is left
// untouched and ErrWaitlistFull (or ErrWaitlistDisabled) is returned. Used by
// auto-resolution to relieve a CAPACITY_EXCEEDED conflict without evicting.
func (s *CapacityService) DemoteExcess(ctx context.Context, sessionID string) ([]models.AttendeeRef, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	entry, err := s.store.GetCapacity(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load capacity for session %s: %w", sessionID, err)
	}
	excess := entry.CurrentRegistrations - entry.EffectiveCapacity()
	if excess <= 0 {
		return nil, nil
	}
	if !entry.EnableWaitlist || entry.WaitlistStrategy == models.WaitlistNone {
		return nil, models.ErrWaitlistDisabled
	}
	if entry.WaitlistCapacity != nil && entry.CurrentWaitlistCount+excess > *entry.WaitlistCapacity {
		return nil, models.ErrWaitlistFull
	}

	records, err := s.store.ListSessionAttendance(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load attendance: %w", err)
	}
	var confirmed []models.AttendanceRecord
	for _, r := range records {
		if r.Status == models.AttendanceRegistered {
			confirmed = append(confirmed, r)
		}
	}
	if len(confirmed) < excess {
		excess = len(confirmed)
	}
	sort.SliceStable(confirmed, func(i, j int) bool {
		return confirmed[i].RegisteredAt.After(confirmed[j].RegisteredAt)
	})

	// Shift the existing waitlist down to open positions 1..excess.
	waitlist, err := s.store.ListWaitlist(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load waitlist: %w", err)
	}
	for i := len(waitlist) - 1; i >= 0; i-- {
		waitlist[i].WaitlistPosition += excess
		if err := s.store.SaveAttendance(ctx, &waitlist[i]); err != nil {
			return nil, fmt.Errorf("shift waitlist position: %w", err)
		}
	}

	now := time.Now().UTC()
	var demoted []models.AttendeeRef
	for i := 0; i < excess; i++ {
		record := confirmed[i]
		record.Status = models.AttendanceWaitlist
		record.WaitlistPosition = i + 1
		record.WaitlistedAt = &now
		if err := s.store.SaveAttendance(ctx, &record); err != nil {
			return demoted, fmt.Errorf("save demoted record: %w", err)
		}
		entry.CurrentRegistrations--
		entry.CurrentWaitlistCount++
		demoted = append(demoted, models.AttendeeRef{ID: record.AttendeeID, Priority: record.Priority})
	}

	entry.UpdatedAt = now
	if err := s.store.SaveCapacity(ctx, entry); err != nil {
		return demoted, fmt.Errorf("save capacity entry: %w", err)
	}
	s.monitor.TrackLedger(entry.SessionID, entry.CurrentRegistrations, entry.EffectiveCapacity(), entry.CurrentWaitlistCount)
	s.log.Info().Str("session_id", sessionID).Int("demoted", len(demoted)).
		Msg("excess registrations moved to waitlist")
	return demoted, nil
}

// CheckIn marks a confirmed registration as attended.
func (s *CapacityService) CheckIn(ctx context.Context, sessionID, attendeeID string) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	record, err := s.store.FindActiveAttendance(ctx, sessionID, attendeeID)
	if err != nil {
		return fmt.Errorf("find registration for attendee %s: %w", attendeeID, err)
	}
	if record.Status != models.AttendanceRegistered {
		return fmt.Errorf("attendee %s is not confirmed for session %s", attendeeID, sessionID)
	}
	now := time.Now().UTC()
	record.Status = models.AttendanceAttended
	record.CheckedInAt = &now
	if err := s.store.SaveAttendance(ctx, record); err != nil {
		return fmt.Errorf("save check-in: %w", err)
	}
	return nil
}

// Report returns the advisory capacity snapshot for a session.
func (s *CapacityService) Report(ctx context.Context, sessionID string) (*models.CapacityReport, error) {
	entry, err := s.store.GetCapacity(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load capacity for session %s: %w", sessionID, err)
	}
	report := entry.Report()
	return &report, nil
}
