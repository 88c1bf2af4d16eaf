package models

// ScopeKind selects how wide a detection pass reaches.
type ScopeKind string

const (
	ScopeKindSession ScopeKind = "session"
	ScopeKindEvent   ScopeKind = "event"
	ScopeKindGlobal  ScopeKind = "global"
)

// DetectionScope is the target of one conflict detection pass.
type DetectionScope struct {
	Kind      ScopeKind `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	EventID   string    `json:"event_id,omitempty"`
}

func SessionScope(sessionID string) DetectionScope {
	return DetectionScope{Kind: ScopeKindSession, SessionID: sessionID}
}

func EventScope(eventID string) DetectionScope {
	return DetectionScope{Kind: ScopeKindEvent, EventID: eventID}
}

func GlobalScope() DetectionScope {
	return DetectionScope{Kind: ScopeKindGlobal}
}

// Label is the scope's metric label.
func (s DetectionScope) Label() string {
	return string(s.Kind)
}

// DetectionError records a failed detection unit. Failures for one session do
// not abort the pass for the rest of the scope.
type DetectionError struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// DetectionReport is the outcome of one detection pass: the active conflicts
// found (or refreshed) in scope and the units that failed.
type DetectionReport struct {
	Conflicts []Conflict       `json:"conflicts"`
	Errors    []DetectionError `json:"errors,omitempty"`
}
