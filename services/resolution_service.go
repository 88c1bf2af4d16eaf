package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"scheduling-engine/models"
	"scheduling-engine/monitoring"
	"scheduling-engine/store"
	"scheduling-engine/utils"
)

// ResolutionService drives a conflict through its resolution lifecycle and
// keeps the immutable audit trail. Manual transitions are thin state-machine
// moves; AutoResolve additionally applies one of three remediation strategies,
// each all-or-nothing: a strategy that cannot complete leaves the world
// untouched and reports ErrAutoResolveNotEligible.
type ResolutionService struct {
	store    store.Store
	capacity *CapacityService
	monitor  *monitoring.Monitor
	log      zerolog.Logger

	nudgeTolerance time.Duration
	breaker        *utils.Breaker
}

func NewResolutionService(st store.Store, capacity *CapacityService, monitor *monitoring.Monitor, nudgeTolerance time.Duration, breaker *utils.Breaker, log zerolog.Logger) *ResolutionService {
	return &ResolutionService{
		store:          st,
		capacity:       capacity,
		monitor:        monitor,
		log:            log.With().Str("service", "resolution").Logger(),
		nudgeTolerance: nudgeTolerance,
		breaker:        breaker,
	}
}

// Acknowledge marks a conflict as seen by an operator without changing the
// underlying schedule.
func (s *ResolutionService) Acknowledge(ctx context.Context, conflictID, actor string) error {
	conflict, err := s.transition(ctx, conflictID, models.StatusAcknowledged)
	if err != nil {
		return err
	}
	s.log.Info().Str("conflict_id", conflict.ID).Str("actor", actor).Msg("conflict acknowledged")
	return nil
}

// Resolve closes a conflict manually. The caller describes what they changed;
// the audit record captures the conflict state before and after the
// transition. The conflict record goes inactive so detection can reopen a new
// one if the cause recurs.
func (s *ResolutionService) Resolve(ctx context.Context, conflictID string, action models.ResolutionAction, description, actor string) (*models.ConflictResolution, error) {
	conflict, err := s.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, fmt.Errorf("load conflict %s: %w", conflictID, err)
	}
	before := snapshot(conflict)

	if err := s.applyTransition(ctx, conflict, models.StatusResolved); err != nil {
		return nil, err
	}
	resolution := s.newResolution(conflict, action, description, actor, false, before)
	if err := s.store.SaveResolution(ctx, resolution); err != nil {
		return nil, fmt.Errorf("save resolution: %w", err)
	}
	s.log.Info().Str("conflict_id", conflict.ID).Str("action", string(action)).
		Str("actor", actor).Msg("conflict resolved")
	return resolution, nil
}

// Ignore closes a conflict as accepted-as-is. Ignored conflicts stay out of
// unresolved listings but remain on record.
func (s *ResolutionService) Ignore(ctx context.Context, conflictID, reason, actor string) (*models.ConflictResolution, error) {
	conflict, err := s.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, fmt.Errorf("load conflict %s: %w", conflictID, err)
	}
	before := snapshot(conflict)

	if err := s.applyTransition(ctx, conflict, models.StatusIgnored); err != nil {
		return nil, err
	}
	resolution := s.newResolution(conflict, models.ActionIgnoredByAdmin, reason, actor, false, before)
	if err := s.store.SaveResolution(ctx, resolution); err != nil {
		return nil, fmt.Errorf("save resolution: %w", err)
	}
	s.log.Info().Str("conflict_id", conflict.ID).Str("actor", actor).Msg("conflict ignored")
	return resolution, nil
}

// AutoResolve applies the conflict's declared strategy. Preconditions are
// re-checked at application time because the world may have moved since
// detection flagged the conflict eligible; a precondition that no longer
// holds downgrades to ErrAutoResolveNotEligible rather than an error.
func (s *ResolutionService) AutoResolve(ctx context.Context, conflictID string) (*models.ConflictResolution, error) {
	if err := s.breaker.Allow(); err != nil {
		return nil, err
	}

	conflict, err := s.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, fmt.Errorf("load conflict %s: %w", conflictID, err)
	}
	if conflict.ResolutionStatus != models.StatusUnresolved || !conflict.IsActive ||
		!conflict.CanAutoResolve || conflict.AutoStrategy == models.StrategyNone {
		return nil, models.ErrAutoResolveNotEligible
	}
	before := snapshot(conflict)

	var action models.ResolutionAction
	var description string
	switch conflict.AutoStrategy {
	case models.StrategyCapacityRelief:
		action, description, err = s.applyCapacityRelief(ctx, conflict)
	case models.StrategyScheduleNudge:
		action, description, err = s.applyScheduleNudge(ctx, conflict)
	case models.StrategyResourceReassign:
		action, description, err = s.applyResourceReassign(ctx, conflict)
	default:
		err = models.ErrAutoResolveNotEligible
	}
	if err != nil {
		if errors.Is(err, models.ErrAutoResolveNotEligible) {
			s.monitor.TrackAutoResolution(string(conflict.AutoStrategy), "not_eligible")
			return nil, err
		}
		s.breaker.Failure()
		s.monitor.TrackAutoResolution(string(conflict.AutoStrategy), "error")
		return nil, fmt.Errorf("auto-resolve conflict %s: %w", conflictID, err)
	}

	if err := s.applyTransition(ctx, conflict, models.StatusAutoResolved); err != nil {
		s.breaker.Failure()
		return nil, err
	}
	resolution := s.newResolution(conflict, action, description, "auto-resolver", true, before)
	if err := s.store.SaveResolution(ctx, resolution); err != nil {
		s.breaker.Failure()
		return nil, fmt.Errorf("save resolution: %w", err)
	}

	s.breaker.Success()
	s.monitor.TrackAutoResolution(string(conflict.AutoStrategy), "resolved")
	s.log.Info().Str("conflict_id", conflict.ID).Str("strategy", string(conflict.AutoStrategy)).
		Msg("conflict auto-resolved")
	return resolution, nil
}

// AutoResolveEligible attempts auto-resolution on every active unresolved
// conflict carrying a strategy. Ineligibility is skipped silently; real
// failures are logged and counted but do not stop the sweep. An open breaker
// ends the sweep early.
func (s *ResolutionService) AutoResolveEligible(ctx context.Context) (int, error) {
	conflicts, err := s.store.ListActiveConflicts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active conflicts: %w", err)
	}
	resolved := 0
	for i := range conflicts {
		c := &conflicts[i]
		if c.ResolutionStatus != models.StatusUnresolved || !c.CanAutoResolve {
			continue
		}
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		_, err := s.AutoResolve(ctx, c.ID)
		switch {
		case err == nil:
			resolved++
		case errors.Is(err, utils.ErrBreakerOpen):
			s.log.Warn().Msg("auto-resolution breaker open, ending sweep")
			return resolved, nil
		case errors.Is(err, models.ErrAutoResolveNotEligible):
		default:
			s.log.Error().Err(err).Str("conflict_id", c.ID).Msg("auto-resolution failed")
		}
	}
	return resolved, nil
}

// applyCapacityRelief relieves a CAPACITY_EXCEEDED conflict by moving the
// excess registrations onto the waitlist. Eligible only when the waitlist can
// absorb all of them.
func (s *ResolutionService) applyCapacityRelief(ctx context.Context, conflict *models.Conflict) (models.ResolutionAction, string, error) {
	demoted, err := s.capacity.DemoteExcess(ctx, conflict.PrimarySessionID)
	if errors.Is(err, models.ErrWaitlistFull) || errors.Is(err, models.ErrWaitlistDisabled) {
		return "", "", models.ErrAutoResolveNotEligible
	}
	if err != nil {
		return "", "", err
	}
	if len(demoted) == 0 {
		// Nothing over the ceiling anymore; the conflict resolved itself.
		return models.ActionWaitlistRelief,
			fmt.Sprintf("session %s no longer exceeds capacity", conflict.PrimarySessionID), nil
	}
	return models.ActionWaitlistRelief,
		fmt.Sprintf("moved %d excess registrations on session %s to the waitlist",
			len(demoted), conflict.PrimarySessionID), nil
}

// applyScheduleNudge shifts the later session of an overlapping pair forward
// just past the earlier one, preserving its duration. Eligible only while the
// required shift stays within the configured tolerance.
func (s *ResolutionService) applyScheduleNudge(ctx context.Context, conflict *models.Conflict) (models.ResolutionAction, string, error) {
	primary, err := s.store.GetSession(ctx, conflict.PrimarySessionID)
	if err != nil {
		return "", "", fmt.Errorf("load session %s: %w", conflict.PrimarySessionID, err)
	}
	secondary, err := s.store.GetSession(ctx, conflict.SecondarySessionID)
	if err != nil {
		return "", "", fmt.Errorf("load session %s: %w", conflict.SecondarySessionID, err)
	}
	if !primary.OverlapsSession(secondary) {
		return models.ActionRescheduled,
			fmt.Sprintf("sessions %s and %s no longer overlap", primary.ID, secondary.ID), nil
	}

	earlier, later := orderPair(primary, secondary)
	shift := earlier.EndTime.Sub(later.StartTime)
	if shift <= 0 || shift > s.nudgeTolerance {
		return "", "", models.ErrAutoResolveNotEligible
	}

	later.StartTime = later.StartTime.Add(shift)
	later.EndTime = later.EndTime.Add(shift)
	if err := s.store.SaveSession(ctx, later); err != nil {
		return "", "", fmt.Errorf("save nudged session: %w", err)
	}
	return models.ActionRescheduled,
		fmt.Sprintf("nudged session %s forward by %s to clear session %s",
			later.ID, shift, earlier.ID), nil
}

// applyResourceReassign moves the oversubscribing booking to an equivalent
// resource with free quantity in the booking's window. Equivalent means same
// resource type and enough bookable quantity.
func (s *ResolutionService) applyResourceReassign(ctx context.Context, conflict *models.Conflict) (models.ResolutionAction, string, error) {
	booking, err := s.findConflictedBooking(ctx, conflict)
	if err != nil {
		return "", "", err
	}
	if booking == nil {
		return "", "", models.ErrAutoResolveNotEligible
	}
	original, err := s.store.GetResource(ctx, conflict.ResourceID)
	if err != nil {
		return "", "", fmt.Errorf("load resource %s: %w", conflict.ResourceID, err)
	}

	candidates, err := s.store.ListResources(ctx)
	if err != nil {
		return "", "", fmt.Errorf("list resources: %w", err)
	}
	start, end := booking.Window()
	for i := range candidates {
		candidate := &candidates[i]
		if candidate.ID == original.ID || candidate.Type != original.Type {
			continue
		}
		if candidate.BookableQuantity() < booking.QuantityNeeded {
			continue
		}
		demand, err := resourceDemand(ctx, s.store, candidate.ID, start, end)
		if err != nil {
			return "", "", err
		}
		if demand+booking.QuantityNeeded > candidate.BookableQuantity() {
			continue
		}

		booking.ResourceID = candidate.ID
		booking.QuantityAllocated = booking.QuantityNeeded
		booking.Status = models.BookingAllocated
		if err := s.store.SaveBooking(ctx, booking); err != nil {
			return "", "", fmt.Errorf("save reassigned booking: %w", err)
		}
		return models.ActionReassignedRes,
			fmt.Sprintf("moved booking %s from resource %s to %s",
				booking.ID, original.ID, candidate.ID), nil
	}
	return "", "", models.ErrAutoResolveNotEligible
}

// findConflictedBooking locates the conflict's booking on the oversubscribed
// resource, preferring one already marked CONFLICT.
func (s *ResolutionService) findConflictedBooking(ctx context.Context, conflict *models.Conflict) (*models.ResourceBooking, error) {
	bookings, err := s.store.ListBookingsBySession(ctx, conflict.PrimarySessionID)
	if err != nil {
		return nil, fmt.Errorf("load bookings for session %s: %w", conflict.PrimarySessionID, err)
	}
	var fallback *models.ResourceBooking
	for i := range bookings {
		b := &bookings[i]
		if b.ResourceID != conflict.ResourceID || !b.CountsAgainstQuantity() {
			continue
		}
		if b.Status == models.BookingConflict {
			return b, nil
		}
		if fallback == nil {
			fallback = b
		}
	}
	return fallback, nil
}

// ListUnresolved returns active, non-terminal conflicts in a scope at or above
// a minimum severity, in detection order.
func (s *ResolutionService) ListUnresolved(ctx context.Context, scope models.DetectionScope, minSeverity models.ConflictSeverity) ([]models.Conflict, error) {
	var (
		conflicts []models.Conflict
		err       error
	)
	switch scope.Kind {
	case models.ScopeKindSession:
		conflicts, err = s.store.ListActiveConflictsForSession(ctx, scope.SessionID)
	case models.ScopeKindEvent:
		conflicts, err = s.store.ListActiveConflicts(ctx)
		if err == nil {
			filtered := conflicts[:0]
			for _, c := range conflicts {
				if c.EventID == scope.EventID {
					filtered = append(filtered, c)
				}
			}
			conflicts = filtered
		}
	case models.ScopeKindGlobal:
		conflicts, err = s.store.ListActiveConflicts(ctx)
	default:
		return nil, fmt.Errorf("unknown detection scope %q", scope.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}

	out := conflicts[:0]
	minRank := minSeverity.Rank()
	for _, c := range conflicts {
		if c.ResolutionStatus.IsTerminal() {
			continue
		}
		if c.Severity.Rank() < minRank {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// History returns the audit records for a conflict, oldest first.
func (s *ResolutionService) History(ctx context.Context, conflictID string) ([]models.ConflictResolution, error) {
	return s.store.ListResolutions(ctx, conflictID)
}

// transition loads, moves and persists a conflict's status.
func (s *ResolutionService) transition(ctx context.Context, conflictID string, next models.ResolutionStatus) (*models.Conflict, error) {
	conflict, err := s.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, fmt.Errorf("load conflict %s: %w", conflictID, err)
	}
	if err := s.applyTransition(ctx, conflict, next); err != nil {
		return nil, err
	}
	return conflict, nil
}

// applyTransition enforces the state machine on an already-loaded conflict.
// Terminal target states also retire the conflict record.
func (s *ResolutionService) applyTransition(ctx context.Context, conflict *models.Conflict, next models.ResolutionStatus) error {
	if !conflict.ResolutionStatus.CanTransitionTo(next) {
		return &models.InvalidStateTransitionError{
			ConflictID: conflict.ID,
			From:       conflict.ResolutionStatus,
			To:         next,
		}
	}
	conflict.ResolutionStatus = next
	if next.IsTerminal() {
		conflict.IsActive = false
	}
	if err := s.store.SaveConflict(ctx, conflict); err != nil {
		return fmt.Errorf("save conflict %s: %w", conflict.ID, err)
	}
	return nil
}

func (s *ResolutionService) newResolution(conflict *models.Conflict, action models.ResolutionAction, description, actor string, automatic bool, before string) *models.ConflictResolution {
	affectedSessions := 1
	if conflict.SecondarySessionID != "" {
		affectedSessions = 2
	}
	affectedRegistrations := 0
	if conflict.RegistrationID != "" || conflict.Type == models.ConflictCapacityExceeded {
		affectedRegistrations = conflict.AffectedCount
	}
	affectedResources := 0
	if conflict.ResourceID != "" {
		affectedResources = 1
	}
	return &models.ConflictResolution{
		ID:                    uuid.NewString(),
		ConflictID:            conflict.ID,
		Action:                action,
		Description:           description,
		BeforeState:           before,
		AfterState:            snapshot(conflict),
		ImplementedBy:         actor,
		Automatic:             automatic,
		AffectedSessions:      affectedSessions,
		AffectedRegistrations: affectedRegistrations,
		AffectedResources:     affectedResources,
		ResolvedAt:            time.Now().UTC(),
	}
}

// snapshot serializes a conflict for the audit trail. Marshalling a plain
// struct cannot fail; the empty-string fallback keeps the signature simple.
func snapshot(conflict *models.Conflict) string {
	b, err := json.Marshal(conflict)
	if err != nil {
		return ""
	}
	return string(b)
}
