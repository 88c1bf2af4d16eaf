package models

import "time"

type DependencyType string

const (
	DependencySequence     DependencyType = "SEQUENCE"
	DependencyParallel     DependencyType = "PARALLEL"
	DependencyExclusive    DependencyType = "EXCLUSIVE"
	DependencyPrerequisite DependencyType = "PREREQUISITE"
)

// DependencyEdge is a directed edge from a parent session to a dependent
// session. The subgraph of strict edges must stay acyclic; the dependency
// service enforces that at insertion time.
type DependencyEdge struct {
	ID                 string         `json:"id" db:"id"`
	ParentSessionID    string         `json:"parent_session_id" db:"parent_session_id"`
	DependentSessionID string         `json:"dependent_session_id" db:"dependent_session_id"`
	Type               DependencyType `json:"type" db:"type"`
	IsStrict           bool           `json:"is_strict" db:"is_strict"`
	TimingGapMinutes   int            `json:"timing_gap_minutes" db:"timing_gap_minutes"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
}

// PathStep is one hop of a dependency path, used to explain why a dependency
// violation was raised.
type PathStep struct {
	SessionID string         `json:"session_id"`
	EdgeType  DependencyType `json:"edge_type,omitempty"`
}

type PrerequisiteType string

const (
	PrereqSessionAttendance   PrerequisiteType = "SESSION_ATTENDANCE"
	PrereqSessionRegistration PrerequisiteType = "SESSION_REGISTRATION"
	PrereqProfileRequirement  PrerequisiteType = "PROFILE_REQUIREMENT"
	PrereqCustomRule          PrerequisiteType = "CUSTOM_RULE"
)

type PrerequisiteOperator string

const (
	PrereqOperatorAnd PrerequisiteOperator = "AND"
	PrereqOperatorOr  PrerequisiteOperator = "OR"
	PrereqOperatorNot PrerequisiteOperator = "NOT"
)

// Prerequisite is a rule attached to a session that gates registration.
// Prerequisites sharing a GroupID are combined by the group's operator; across
// groups, every group must pass.
type Prerequisite struct {
	ID                 string               `json:"id" db:"id"`
	SessionID          string               `json:"session_id" db:"session_id"`
	Type               PrerequisiteType     `json:"type" db:"type"`
	RequiredSessionID  string               `json:"required_session_id" db:"required_session_id"`
	GroupID            string               `json:"group_id" db:"group_id"`
	Operator           PrerequisiteOperator `json:"operator" db:"operator"`
	Priority           int                  `json:"priority" db:"priority"`
	IsRequired         bool                 `json:"is_required" db:"is_required"`
	IsActive           bool                 `json:"is_active" db:"is_active"`
	AllowGracePeriod   bool                 `json:"allow_grace_period" db:"allow_grace_period"`
	GracePeriodHours   int                  `json:"grace_period_hours" db:"grace_period_hours"`
	AllowAdminOverride bool                 `json:"allow_admin_override" db:"allow_admin_override"`
}

// PrerequisiteFailure describes one prerequisite the attendee did not satisfy.
type PrerequisiteFailure struct {
	PrerequisiteID string           `json:"prerequisite_id"`
	Type           PrerequisiteType `json:"type"`
	Reason         string           `json:"reason"`
	IsRequired     bool             `json:"is_required"`
}

// PrerequisiteEvaluation is the outcome of evaluating all of a session's
// prerequisite groups for one attendee. Bypassed lists the prerequisites a
// privileged caller overrode; they failed but did not block registration.
type PrerequisiteEvaluation struct {
	CanRegister bool                  `json:"can_register"`
	Failed      []PrerequisiteFailure `json:"failed,omitempty"`
	Bypassed    []string              `json:"bypassed,omitempty"`
}

// Err returns the typed registration-blocking error for a failed evaluation,
// or nil when registration may proceed.
func (e *PrerequisiteEvaluation) Err() error {
	if e.CanRegister {
		return nil
	}
	ids := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		ids = append(ids, f.PrerequisiteID)
	}
	return &PrerequisiteNotMetError{PrerequisiteIDs: ids}
}
