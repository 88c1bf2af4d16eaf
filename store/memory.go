package store

import (
	"context"
	"sort"
	"sync"

	"scheduling-engine/models"
)

// MemoryStore is a mutex-guarded in-process implementation of Store. It hands
// out copies, so callers never share pointers into its internal state. All
// per-session mutation ordering is the caller's job (the capacity service's
// keyed mutex); the store itself only guarantees individual calls are atomic.
type MemoryStore struct {
	mu            sync.RWMutex
	sessions      map[string]models.Session
	capacities    map[string]models.CapacityEntry
	attendance    map[string]models.AttendanceRecord
	edges         map[string]models.DependencyEdge
	prerequisites map[string]models.Prerequisite
	conflicts     map[string]models.Conflict
	resolutions   map[string][]models.ConflictResolution
	resources     map[string]models.Resource
	bookings      map[string]models.ResourceBooking
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:      make(map[string]models.Session),
		capacities:    make(map[string]models.CapacityEntry),
		attendance:    make(map[string]models.AttendanceRecord),
		edges:         make(map[string]models.DependencyEdge),
		prerequisites: make(map[string]models.Prerequisite),
		conflicts:     make(map[string]models.Conflict),
		resolutions:   make(map[string][]models.ConflictResolution),
		resources:     make(map[string]models.Resource),
		bookings:      make(map[string]models.ResourceBooking),
	}
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) SaveSession(ctx context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemoryStore) ListSessionsByEvent(ctx context.Context, eventID string) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Session
	for _, s := range m.sessions {
		if s.EventID == eventID {
			out = append(out, s)
		}
	}
	sortSessions(out)
	return out, nil
}

func (m *MemoryStore) ListSessionsByRoom(ctx context.Context, room, building string) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Session
	for _, s := range m.sessions {
		if s.Room == room && s.Building == building {
			out = append(out, s)
		}
	}
	sortSessions(out)
	return out, nil
}

func (m *MemoryStore) ListSessionsByPresenter(ctx context.Context, presenter string) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Session
	for _, s := range m.sessions {
		if s.Presenter == presenter {
			out = append(out, s)
		}
	}
	sortSessions(out)
	return out, nil
}

func (m *MemoryStore) ListActiveSessions(ctx context.Context) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Session
	for _, s := range m.sessions {
		if s.IsActive {
			out = append(out, s)
		}
	}
	sortSessions(out)
	return out, nil
}

func sortSessions(sessions []models.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StartTime.Equal(sessions[j].StartTime) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
}

func (m *MemoryStore) GetCapacity(ctx context.Context, sessionID string) (*models.CapacityEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.capacities[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if e.WaitlistCapacity != nil {
		wc := *e.WaitlistCapacity
		e.WaitlistCapacity = &wc
	}
	return &e, nil
}

func (m *MemoryStore) SaveCapacity(ctx context.Context, e *models.CapacityEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	if e.WaitlistCapacity != nil {
		wc := *e.WaitlistCapacity
		cp.WaitlistCapacity = &wc
	}
	m.capacities[e.SessionID] = cp
	return nil
}

func (m *MemoryStore) GetAttendance(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.attendance[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) FindActiveAttendance(ctx context.Context, sessionID, attendeeID string) (*models.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.attendance {
		if r.SessionID == sessionID && r.AttendeeID == attendeeID && r.IsActive() {
			rec := r
			return &rec, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListSessionAttendance(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AttendanceRecord
	for _, r := range m.attendance {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out, nil
}

func (m *MemoryStore) ListWaitlist(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AttendanceRecord
	for _, r := range m.attendance {
		if r.SessionID == sessionID && r.Status == models.AttendanceWaitlist {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WaitlistPosition < out[j].WaitlistPosition })
	return out, nil
}

func (m *MemoryStore) ListAttendeeRecords(ctx context.Context, attendeeID string) ([]models.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AttendanceRecord
	for _, r := range m.attendance {
		if r.AttendeeID == attendeeID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out, nil
}

func (m *MemoryStore) SaveAttendance(ctx context.Context, r *models.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attendance[r.ID] = *r
	return nil
}

func (m *MemoryStore) SaveEdge(ctx context.Context, e *models.DependencyEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges[e.ID] = *e
	return nil
}

func (m *MemoryStore) ListEdgesFromParent(ctx context.Context, parentSessionID string) ([]models.DependencyEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DependencyEdge
	for _, e := range m.edges {
		if e.ParentSessionID == parentSessionID {
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out, nil
}

func (m *MemoryStore) ListEdgesForSession(ctx context.Context, sessionID string) ([]models.DependencyEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DependencyEdge
	for _, e := range m.edges {
		if e.ParentSessionID == sessionID || e.DependentSessionID == sessionID {
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out, nil
}

func sortEdges(edges []models.DependencyEdge) {
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
}

func (m *MemoryStore) SavePrerequisite(ctx context.Context, p *models.Prerequisite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prerequisites[p.ID] = *p
	return nil
}

func (m *MemoryStore) ListPrerequisites(ctx context.Context, sessionID string) ([]models.Prerequisite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Prerequisite
	for _, p := range m.prerequisites {
		if p.SessionID == sessionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority == out[j].Priority {
			return out[i].ID < out[j].ID
		}
		return out[i].Priority < out[j].Priority
	})
	return out, nil
}

func (m *MemoryStore) GetConflict(ctx context.Context, id string) (*models.Conflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conflicts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) FindActiveConflict(ctx context.Context, key models.ConflictKey) (*models.Conflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.conflicts {
		if c.IsActive && !c.ResolutionStatus.IsTerminal() && c.IdentityKey() == key {
			cc := c
			return &cc, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListActiveConflicts(ctx context.Context) ([]models.Conflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Conflict
	for _, c := range m.conflicts {
		if c.IsActive {
			out = append(out, c)
		}
	}
	sortConflicts(out)
	return out, nil
}

func (m *MemoryStore) ListActiveConflictsForSession(ctx context.Context, sessionID string) ([]models.Conflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Conflict
	for _, c := range m.conflicts {
		if c.IsActive && (c.PrimarySessionID == sessionID || c.SecondarySessionID == sessionID) {
			out = append(out, c)
		}
	}
	sortConflicts(out)
	return out, nil
}

func sortConflicts(conflicts []models.Conflict) {
	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].DetectedAt.Equal(conflicts[j].DetectedAt) {
			return conflicts[i].ID < conflicts[j].ID
		}
		return conflicts[i].DetectedAt.Before(conflicts[j].DetectedAt)
	})
}

func (m *MemoryStore) SaveConflict(ctx context.Context, c *models.Conflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[c.ID] = *c
	return nil
}

func (m *MemoryStore) SaveResolution(ctx context.Context, r *models.ConflictResolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolutions[r.ConflictID] = append(m.resolutions[r.ConflictID], *r)
	return nil
}

func (m *MemoryStore) ListResolutions(ctx context.Context, conflictID string) ([]models.ConflictResolution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ConflictResolution, len(m.resolutions[conflictID]))
	copy(out, m.resolutions[conflictID])
	return out, nil
}

func (m *MemoryStore) GetResource(ctx context.Context, id string) (*models.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.resources[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) SaveResource(ctx context.Context, r *models.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[r.ID] = *r
	return nil
}

func (m *MemoryStore) ListResources(ctx context.Context) ([]models.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Resource
	for _, r := range m.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListBookingsByResource(ctx context.Context, resourceID string) ([]models.ResourceBooking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ResourceBooking
	for _, b := range m.bookings {
		if b.ResourceID == resourceID {
			out = append(out, b)
		}
	}
	sortBookings(out)
	return out, nil
}

func (m *MemoryStore) ListBookingsBySession(ctx context.Context, sessionID string) ([]models.ResourceBooking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ResourceBooking
	for _, b := range m.bookings {
		if b.SessionID == sessionID {
			out = append(out, b)
		}
	}
	sortBookings(out)
	return out, nil
}

func sortBookings(bookings []models.ResourceBooking) {
	sort.Slice(bookings, func(i, j int) bool {
		if bookings[i].StartTime.Equal(bookings[j].StartTime) {
			return bookings[i].ID < bookings[j].ID
		}
		return bookings[i].StartTime.Before(bookings[j].StartTime)
	})
}

func (m *MemoryStore) SaveBooking(ctx context.Context, b *models.ResourceBooking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = *b
	return nil
}
