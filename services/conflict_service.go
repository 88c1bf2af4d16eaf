package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"scheduling-engine/models"
	"scheduling-engine/monitoring"
	"scheduling-engine/store"
)

// ConflictService scans sessions, resource bookings and registrations and
// emits typed conflict records. Passes are read-mostly and tolerate slightly
// stale input: a conflict found against data that has since changed is simply
// re-evaluated and deduplicated, or marked inactive, on the next pass.
type ConflictService struct {
	store            store.Store
	deps             *DependencyService
	monitor          *monitoring.Monitor
	log              zerolog.Logger
	nudgeTolerance   time.Duration
	chunkConcurrency int

	// Serializes find-or-insert commits so concurrent chunks that surface the
	// same cross-event conflict cannot both insert it.
	commitMu sync.Mutex
}

func NewConflictService(st store.Store, deps *DependencyService, monitor *monitoring.Monitor, nudgeTolerance time.Duration, chunkConcurrency int, log zerolog.Logger) *ConflictService {
	if chunkConcurrency <= 0 {
		chunkConcurrency = 1
	}
	return &ConflictService{
		store:            st,
		deps:             deps,
		monitor:          monitor,
		log:              log.With().Str("service", "conflict").Logger(),
		nudgeTolerance:   nudgeTolerance,
		chunkConcurrency: chunkConcurrency,
	}
}

// RunDetection executes one detection pass over a scope and returns the
// active conflicts for it. Each session is an independent unit: its conflicts
// are committed on their own and a failure is collected without aborting the
// rest of the pass. Global sweeps are chunked by event so cancellation takes
// effect at unit granularity.
func (s *ConflictService) RunDetection(ctx context.Context, scope models.DetectionScope) (*models.DetectionReport, error) {
	start := time.Now()
	defer func() {
		s.monitor.TrackDetectionPass(scope.Label(), time.Since(start))
	}()

	report := &models.DetectionReport{}

	switch scope.Kind {
	case models.ScopeKindSession:
		target, err := s.store.GetSession(ctx, scope.SessionID)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", scope.SessionID, err)
		}
		siblings, err := s.store.ListSessionsByEvent(ctx, target.EventID)
		if err != nil {
			return nil, fmt.Errorf("load event sessions: %w", err)
		}
		s.detectUnits(ctx, []models.Session{*target}, siblings, report)

	case models.ScopeKindEvent:
		sessions, err := s.store.ListSessionsByEvent(ctx, scope.EventID)
		if err != nil {
			return nil, fmt.Errorf("load event sessions: %w", err)
		}
		s.detectUnits(ctx, sessions, sessions, report)

	case models.ScopeKindGlobal:
		if err := s.runGlobal(ctx, report); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unknown detection scope %q", scope.Kind)
	}

	dedupeReport(report)
	s.log.Info().Str("scope", scope.Label()).
		Int("conflicts", len(report.Conflicts)).
		Int("unit_errors", len(report.Errors)).
		Dur("took", time.Since(start)).Msg("detection pass complete")
	return report, nil
}

func (s *ConflictService) runGlobal(ctx context.Context, report *models.DetectionReport) error {
	sessions, err := s.store.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("load active sessions: %w", err)
	}
	byEvent := make(map[string][]models.Session)
	var eventIDs []string
	for _, sess := range sessions {
		if _, seen := byEvent[sess.EventID]; !seen {
			eventIDs = append(eventIDs, sess.EventID)
		}
		byEvent[sess.EventID] = append(byEvent[sess.EventID], sess)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.chunkConcurrency)

	for _, eventID := range eventIDs {
		chunk := byEvent[eventID]
		g.Go(func() error {
			local := &models.DetectionReport{}
			s.detectUnits(gctx, chunk, chunk, local)
			mu.Lock()
			report.Conflicts = append(report.Conflicts, local.Conflicts...)
			report.Errors = append(report.Errors, local.Errors...)
			mu.Unlock()
			return gctx.Err()
		})
	}
	return g.Wait()
}

// detectUnits runs detection for each unit session against its event
// siblings, committing per unit and collecting per-unit failures.
func (s *ConflictService) detectUnits(ctx context.Context, units, siblings []models.Session, report *models.DetectionReport) {
	for _, unit := range units {
		if ctx.Err() != nil {
			report.Errors = append(report.Errors, models.DetectionError{
				SessionID: unit.ID, Message: ctx.Err().Error(),
			})
			return
		}
		if !unit.IsActive {
			continue
		}
		conflicts, err := s.detectSession(ctx, &unit, siblings)
		if err != nil {
			s.log.Error().Err(err).Str("session_id", unit.ID).Msg("detection unit failed")
			report.Errors = append(report.Errors, models.DetectionError{
				SessionID: unit.ID, Message: err.Error(),
			})
			continue
		}
		report.Conflicts = append(report.Conflicts, conflicts...)
	}
}

// detectSession evaluates every conflict class for one session, upserts the
// findings and deactivates stale conflicts the session no longer causes.
func (s *ConflictService) detectSession(ctx context.Context, sess *models.Session, siblings []models.Session) ([]models.Conflict, error) {
	var found []models.Conflict

	candidates, err := s.collisionCandidates(ctx, sess, siblings)
	if err != nil {
		return nil, err
	}
	pairwise, err := s.detectPairwise(ctx, sess, candidates)
	if err != nil {
		return nil, err
	}
	found = append(found, pairwise...)

	if c, err := s.detectCapacity(ctx, sess); err != nil {
		return nil, err
	} else if c != nil {
		found = append(found, *c)
	}

	regConflicts, err := s.detectRegistrationConflicts(ctx, sess)
	if err != nil {
		return nil, err
	}
	found = append(found, regConflicts...)

	depConflicts, err := s.detectDependencyViolations(ctx, sess)
	if err != nil {
		return nil, err
	}
	found = append(found, depConflicts...)

	resConflicts, err := s.detectResourceConflicts(ctx, sess)
	if err != nil {
		return nil, err
	}
	found = append(found, resConflicts...)

	committed := make([]models.Conflict, 0, len(found))
	fresh := make(map[models.ConflictKey]bool, len(found))
	for i := range found {
		s.commitMu.Lock()
		saved, err := upsertConflict(ctx, s.store, &found[i])
		s.commitMu.Unlock()
		if err != nil {
			return nil, err
		}
		s.monitor.TrackConflict(string(saved.Type), string(saved.Severity))
		committed = append(committed, *saved)
		fresh[saved.IdentityKey()] = true
	}

	if err := s.deactivateStale(ctx, sess.ID, fresh); err != nil {
		return nil, err
	}
	return committed, nil
}

// collisionCandidates merges the session's event siblings with every session
// sharing its room or presenter, so room and staff collisions are caught
// across events too.
func (s *ConflictService) collisionCandidates(ctx context.Context, sess *models.Session, siblings []models.Session) ([]models.Session, error) {
	seen := make(map[string]bool, len(siblings))
	candidates := make([]models.Session, 0, len(siblings))
	add := func(sessions []models.Session) {
		for _, c := range sessions {
			if !seen[c.ID] {
				seen[c.ID] = true
				candidates = append(candidates, c)
			}
		}
	}
	add(siblings)
	if sess.Room != "" {
		byRoom, err := s.store.ListSessionsByRoom(ctx, sess.Room, sess.Building)
		if err != nil {
			return nil, fmt.Errorf("load sessions sharing room: %w", err)
		}
		add(byRoom)
	}
	if sess.Presenter != "" {
		byPresenter, err := s.store.ListSessionsByPresenter(ctx, sess.Presenter)
		if err != nil {
			return nil, fmt.Errorf("load sessions sharing presenter: %w", err)
		}
		add(byPresenter)
	}
	return candidates, nil
}

// detectPairwise finds time/staff/location collisions between the session and
// other sessions. The record type depends on the colliding dimension: room
// collisions inside one event are TIME_OVERLAP, physical room double-bookings
// across events are LOCATION_CONFLICT, presenter collisions are
// STAFF_CONFLICT. One record per pair per dimension; session ordering is
// canonical so both sides of a pair produce the same identity key.
func (s *ConflictService) detectPairwise(ctx context.Context, sess *models.Session, candidates []models.Session) ([]models.Conflict, error) {
	var out []models.Conflict
	for i := range candidates {
		other := &candidates[i]
		if other.ID == sess.ID || !other.IsActive {
			continue
		}
		if !sess.OverlapsSession(other) {
			continue
		}

		sameRoom := sess.SameRoom(other)
		samePresenter := sess.Presenter != "" && sess.Presenter == other.Presenter
		if !sameRoom && !samePresenter {
			continue
		}

		primary, secondary := orderPair(sess, other)
		overlapStart, overlapEnd, _ := models.OverlapWindow(
			primary.StartTime, primary.EndTime, secondary.StartTime, secondary.EndTime)

		affected, err := s.confirmedCount(ctx, primary.ID)
		if err != nil {
			return nil, err
		}
		n, err := s.confirmedCount(ctx, secondary.ID)
		if err != nil {
			return nil, err
		}
		affected += n

		contained := containsWindow(primary, secondary) || containsWindow(secondary, primary)
		severity := models.OverlapSeverity(affected, contained)
		overlap := overlapEnd.Sub(overlapStart)

		if sameRoom {
			conflictType := models.ConflictTimeOverlap
			if primary.EventID != secondary.EventID {
				conflictType = models.ConflictLocation
			}
			out = append(out, models.Conflict{
				Type:               conflictType,
				Severity:           severity,
				PrimarySessionID:   primary.ID,
				SecondarySessionID: secondary.ID,
				EventID:            primary.EventID,
				Description: fmt.Sprintf("sessions %s and %s overlap in room %s",
					primary.ID, secondary.ID, primary.Room),
				ConflictStart:  overlapStart,
				ConflictEnd:    overlapEnd,
				AffectedCount:  affected,
				CanAutoResolve: overlap <= s.nudgeTolerance,
				AutoStrategy:   models.StrategyScheduleNudge,
			})
		}
		if samePresenter {
			out = append(out, models.Conflict{
				Type:               models.ConflictStaff,
				Severity:           severity,
				PrimarySessionID:   primary.ID,
				SecondarySessionID: secondary.ID,
				EventID:            primary.EventID,
				Description: fmt.Sprintf("presenter %s is double-booked for sessions %s and %s",
					primary.Presenter, primary.ID, secondary.ID),
				ConflictStart: overlapStart,
				ConflictEnd:   overlapEnd,
				AffectedCount: affected,
			})
		}
	}
	return out, nil
}

func (s *ConflictService) detectCapacity(ctx context.Context, sess *models.Session) (*models.Conflict, error) {
	entry, err := s.store.GetCapacity(ctx, sess.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load capacity for session %s: %w", sess.ID, err)
	}
	if !entry.IsOverCapacity() {
		return nil, nil
	}
	c := newCapacityConflict(entry, sess.EventID)
	return c, nil
}

// detectRegistrationConflicts covers PREREQUISITE_VIOLATION and USER_CONFLICT
// for the session's confirmed registrations.
func (s *ConflictService) detectRegistrationConflicts(ctx context.Context, sess *models.Session) ([]models.Conflict, error) {
	records, err := s.store.ListSessionAttendance(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load attendance for session %s: %w", sess.ID, err)
	}

	var out []models.Conflict
	for _, record := range records {
		if record.Status != models.AttendanceRegistered {
			continue
		}

		eval, err := s.deps.EvaluatePrerequisites(ctx, sess.ID, record.AttendeeID, false)
		if err != nil {
			return nil, err
		}
		if !eval.CanRegister {
			required := false
			for _, f := range eval.Failed {
				if f.IsRequired {
					required = true
					break
				}
			}
			out = append(out, models.Conflict{
				Type:             models.ConflictPrerequisiteViolation,
				Severity:         models.PrerequisiteSeverity(required),
				PrimarySessionID: sess.ID,
				RegistrationID:   record.ID,
				EventID:          sess.EventID,
				Description: fmt.Sprintf("attendee %s no longer satisfies prerequisites for session %s",
					record.AttendeeID, sess.ID),
				ConflictStart: sess.StartTime,
				ConflictEnd:   sess.EndTime,
				AffectedCount: 1,
			})
		}

		userConflicts, err := s.detectUserOverlap(ctx, sess, &record)
		if err != nil {
			return nil, err
		}
		out = append(out, userConflicts...)
	}
	return out, nil
}

// detectUserOverlap flags an attendee confirmed on two sessions whose windows
// intersect.
func (s *ConflictService) detectUserOverlap(ctx context.Context, sess *models.Session, record *models.AttendanceRecord) ([]models.Conflict, error) {
	others, err := s.store.ListAttendeeRecords(ctx, record.AttendeeID)
	if err != nil {
		return nil, fmt.Errorf("load records for attendee %s: %w", record.AttendeeID, err)
	}

	var out []models.Conflict
	for _, other := range others {
		if other.SessionID == sess.ID || other.Status != models.AttendanceRegistered {
			continue
		}
		otherSess, err := s.store.GetSession(ctx, other.SessionID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", other.SessionID, err)
		}
		if !otherSess.IsActive || !sess.OverlapsSession(otherSess) {
			continue
		}

		primary, secondary := orderPair(sess, otherSess)
		overlapStart, overlapEnd, _ := models.OverlapWindow(
			primary.StartTime, primary.EndTime, secondary.StartTime, secondary.EndTime)

		// The registration reference is the attendee's record on the primary
		// session so both sides of the pair derive the same identity.
		regID := record.ID
		if primary.ID != sess.ID {
			regID = other.ID
		}

		out = append(out, models.Conflict{
			Type:               models.ConflictUser,
			Severity:           models.SeverityWarning,
			PrimarySessionID:   primary.ID,
			SecondarySessionID: secondary.ID,
			RegistrationID:     regID,
			EventID:            primary.EventID,
			Description: fmt.Sprintf("attendee %s is confirmed for overlapping sessions %s and %s",
				record.AttendeeID, primary.ID, secondary.ID),
			ConflictStart: overlapStart,
			ConflictEnd:   overlapEnd,
			AffectedCount: 1,
		})
	}
	return out, nil
}

// detectDependencyViolations covers SEQUENCE timing gaps and EXCLUSIVE
// double-registrations on the session's edges.
func (s *ConflictService) detectDependencyViolations(ctx context.Context, sess *models.Session) ([]models.Conflict, error) {
	edges, err := s.store.ListEdgesForSession(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load edges for session %s: %w", sess.ID, err)
	}

	var out []models.Conflict
	for _, edge := range edges {
		parent, err := s.store.GetSession(ctx, edge.ParentSessionID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load parent session: %w", err)
		}
		dependent, err := s.store.GetSession(ctx, edge.DependentSessionID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load dependent session: %w", err)
		}
		if !parent.IsActive || !dependent.IsActive {
			continue
		}

		switch edge.Type {
		case models.DependencySequence:
			earliest := parent.EndTime.Add(time.Duration(edge.TimingGapMinutes) * time.Minute)
			if dependent.StartTime.Before(earliest) {
				out = append(out, models.Conflict{
					Type:               models.ConflictDependencyViolation,
					Severity:           models.DependencySeverity(edge.IsStrict),
					PrimarySessionID:   parent.ID,
					SecondarySessionID: dependent.ID,
					EventID:            parent.EventID,
					Description: fmt.Sprintf("session %s starts before the required %dm gap after %s",
						dependent.ID, edge.TimingGapMinutes, parent.ID),
					ConflictStart: dependent.StartTime,
					ConflictEnd:   earliest,
					AffectedCount: 1,
				})
			}

		case models.DependencyExclusive:
			shared, err := s.sharedConfirmed(ctx, parent.ID, dependent.ID)
			if err != nil {
				return nil, err
			}
			if shared > 0 {
				out = append(out, models.Conflict{
					Type:               models.ConflictDependencyViolation,
					Severity:           models.DependencySeverity(edge.IsStrict),
					PrimarySessionID:   parent.ID,
					SecondarySessionID: dependent.ID,
					EventID:            parent.EventID,
					Description: fmt.Sprintf("%d attendees hold registrations on both sides of exclusive sessions %s and %s",
						shared, parent.ID, dependent.ID),
					ConflictStart: parent.StartTime,
					ConflictEnd:   dependent.EndTime,
					AffectedCount: shared,
				})
			}
		}
	}
	return out, nil
}

// detectResourceConflicts flags bookings whose resource would be oversubscribed
// inside their buffered windows. The overcommitted booking is also marked
// CONFLICT so the booking workflow can see it.
func (s *ConflictService) detectResourceConflicts(ctx context.Context, sess *models.Session) ([]models.Conflict, error) {
	bookings, err := s.store.ListBookingsBySession(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load bookings for session %s: %w", sess.ID, err)
	}

	var out []models.Conflict
	for _, booking := range bookings {
		if !booking.CountsAgainstQuantity() {
			continue
		}
		resource, err := s.store.GetResource(ctx, booking.ResourceID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load resource %s: %w", booking.ResourceID, err)
		}

		start, end := booking.Window()
		demand, err := resourceDemand(ctx, s.store, resource.ID, start, end)
		if err != nil {
			return nil, err
		}
		if demand <= resource.BookableQuantity() {
			continue
		}

		shortfall := demand - resource.BookableQuantity()
		out = append(out, models.Conflict{
			Type:             models.ConflictResource,
			Severity:         models.ResourceSeverity(shortfall, resource.BookableQuantity()),
			PrimarySessionID: sess.ID,
			ResourceID:       resource.ID,
			EventID:          sess.EventID,
			Description: fmt.Sprintf("resource %s oversubscribed by %d during booking %s",
				resource.ID, shortfall, booking.ID),
			ConflictStart:  start,
			ConflictEnd:    end,
			AffectedCount:  shortfall,
			CanAutoResolve: true,
			AutoStrategy:   models.StrategyResourceReassign,
		})

		if booking.Status != models.BookingConflict {
			booking.Status = models.BookingConflict
			if err := s.store.SaveBooking(ctx, &booking); err != nil {
				return nil, fmt.Errorf("mark booking conflicted: %w", err)
			}
		}
	}
	return out, nil
}

// resourceDemand sums allocated quantity of all non-cancelled bookings on a
// resource whose buffered windows intersect the given window. Shared with the
// resolution service's reassignment strategy.
func resourceDemand(ctx context.Context, st store.Store, resourceID string, start, end time.Time) (int, error) {
	bookings, err := st.ListBookingsByResource(ctx, resourceID)
	if err != nil {
		return 0, fmt.Errorf("load bookings for resource %s: %w", resourceID, err)
	}
	demand := 0
	for _, b := range bookings {
		if !b.CountsAgainstQuantity() {
			continue
		}
		bStart, bEnd := b.Window()
		if models.Overlaps(bStart, bEnd, start, end) {
			demand += b.QuantityAllocated
		}
	}
	return demand, nil
}

// deactivateStale marks the session's active conflicts whose cause was not
// reproduced by this pass as inactive. They are kept for history, not deleted.
func (s *ConflictService) deactivateStale(ctx context.Context, sessionID string, fresh map[models.ConflictKey]bool) error {
	active, err := s.store.ListActiveConflictsForSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list active conflicts for session %s: %w", sessionID, err)
	}
	for i := range active {
		c := active[i]
		if c.ResolutionStatus.IsTerminal() {
			continue
		}
		if fresh[c.IdentityKey()] {
			continue
		}
		c.IsActive = false
		c.LastCheckedAt = time.Now().UTC()
		if err := s.store.SaveConflict(ctx, &c); err != nil {
			return fmt.Errorf("deactivate conflict %s: %w", c.ID, err)
		}
		s.log.Debug().Str("conflict_id", c.ID).Str("type", string(c.Type)).
			Msg("conflict cause gone, marked inactive")
	}
	return nil
}

// DeactivateSessionConflicts marks every active conflict touching a session
// inactive. The owning service calls this when it soft-deactivates a session;
// there is no implicit cascade.
func (s *ConflictService) DeactivateSessionConflicts(ctx context.Context, sessionID string) error {
	return s.deactivateStale(ctx, sessionID, nil)
}

func (s *ConflictService) confirmedCount(ctx context.Context, sessionID string) (int, error) {
	entry, err := s.store.GetCapacity(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load capacity for session %s: %w", sessionID, err)
	}
	return entry.CurrentRegistrations, nil
}

// sharedConfirmed counts attendees confirmed on both sessions.
func (s *ConflictService) sharedConfirmed(ctx context.Context, sessionA, sessionB string) (int, error) {
	recordsA, err := s.store.ListSessionAttendance(ctx, sessionA)
	if err != nil {
		return 0, fmt.Errorf("load attendance for session %s: %w", sessionA, err)
	}
	recordsB, err := s.store.ListSessionAttendance(ctx, sessionB)
	if err != nil {
		return 0, fmt.Errorf("load attendance for session %s: %w", sessionB, err)
	}
	confirmedA := make(map[string]bool)
	for _, r := range recordsA {
		if r.Status == models.AttendanceRegistered {
			confirmedA[r.AttendeeID] = true
		}
	}
	shared := 0
	for _, r := range recordsB {
		if r.Status == models.AttendanceRegistered && confirmedA[r.AttendeeID] {
			shared++
		}
	}
	return shared, nil
}

// orderPair returns the two sessions in canonical order: earlier start first,
// lexicographic ID on ties. Both sides of a pair then derive the same
// conflict identity.
func orderPair(a, b *models.Session) (*models.Session, *models.Session) {
	if a.StartTime.Before(b.StartTime) {
		return a, b
	}
	if b.StartTime.Before(a.StartTime) {
		return b, a
	}
	if a.ID < b.ID {
		return a, b
	}
	return b, a
}

// containsWindow reports whether outer fully contains inner.
func containsWindow(outer, inner *models.Session) bool {
	return !inner.StartTime.Before(outer.StartTime) && !inner.EndTime.After(outer.EndTime)
}

// newCapacityConflict builds the CAPACITY_EXCEEDED conflict for a ledger
// entry. Shared with the capacity service, which flags the condition directly
// when a capacity decrease strands registrations.
func newCapacityConflict(entry *models.CapacityEntry, eventID string) *models.Conflict {
	now := time.Now().UTC()
	return &models.Conflict{
		Type:             models.ConflictCapacityExceeded,
		Severity:         models.CapacitySeverity(entry.CurrentRegistrations, entry.EffectiveCapacity()),
		PrimarySessionID: entry.SessionID,
		EventID:          eventID,
		Description: fmt.Sprintf("session %s holds %d registrations over a ceiling of %d",
			entry.SessionID, entry.CurrentRegistrations, entry.EffectiveCapacity()),
		ConflictStart:  now,
		ConflictEnd:    now,
		AffectedCount:  entry.CurrentRegistrations - entry.EffectiveCapacity(),
		CanAutoResolve: true,
		AutoStrategy:   models.StrategyCapacityRelief,
	}
}

// upsertConflict deduplicates by identity key: a matching active conflict
// gets its mutable fields and lastCheckedAt refreshed, otherwise a new record
// is inserted.
func upsertConflict(ctx context.Context, st store.Store, c *models.Conflict) (*models.Conflict, error) {
	now := time.Now().UTC()
	existing, err := st.FindActiveConflict(ctx, c.IdentityKey())
	if err == nil {
		existing.Severity = c.Severity
		existing.Description = c.Description
		existing.ConflictStart = c.ConflictStart
		existing.ConflictEnd = c.ConflictEnd
		existing.AffectedCount = c.AffectedCount
		existing.CanAutoResolve = c.CanAutoResolve
		existing.AutoStrategy = c.AutoStrategy
		existing.LastCheckedAt = now
		if err := st.SaveConflict(ctx, existing); err != nil {
			return nil, fmt.Errorf("refresh conflict %s: %w", existing.ID, err)
		}
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find conflict by identity: %w", err)
	}

	c.ID = uuid.NewString()
	c.ResolutionStatus = models.StatusUnresolved
	c.IsActive = true
	c.DetectedAt = now
	c.LastCheckedAt = now
	if err := st.SaveConflict(ctx, c); err != nil {
		return nil, fmt.Errorf("insert conflict: %w", err)
	}
	return c, nil
}

// dedupeReport collapses duplicate identities produced when both sessions of
// a pair report the same conflict in one pass.
func dedupeReport(report *models.DetectionReport) {
	seen := make(map[models.ConflictKey]bool, len(report.Conflicts))
	out := report.Conflicts[:0]
	for _, c := range report.Conflicts {
		key := c.IdentityKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	report.Conflicts = out
	sort.Slice(report.Conflicts, func(i, j int) bool {
		if report.Conflicts[i].DetectedAt.Equal(report.Conflicts[j].DetectedAt) {
			return report.Conflicts[i].ID < report.Conflicts[j].ID
		}
		return report.Conflicts[i].DetectedAt.Before(report.Conflicts[j].DetectedAt)
	})
}
