package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"scheduling-engine/models"
	"scheduling-engine/store"
)

// RuleEvaluator resolves PROFILE_REQUIREMENT and CUSTOM_RULE prerequisites.
// The host platform supplies one; the engine has no access to attendee
// profiles or custom rule definitions.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, p models.Prerequisite, attendeeID string) (bool, error)
}

// DependencyService owns the directed dependency graph between sessions and
// the prerequisite rules gating registration. Strict edges must stay acyclic;
// edge insertion is serialized by a coarse mutex since it is a low-frequency
// administrative operation.
type DependencyService struct {
	store        store.Store
	rules        RuleEvaluator
	maxDepth     int
	defaultGrace time.Duration
	log          zerolog.Logger

	edgeMu sync.Mutex
}

func NewDependencyService(st store.Store, rules RuleEvaluator, maxDepth int, defaultGrace time.Duration, log zerolog.Logger) *DependencyService {
	if maxDepth <= 0 {
		maxDepth = 50
	}
	return &DependencyService{
		store:        st,
		rules:        rules,
		maxDepth:     maxDepth,
		defaultGrace: defaultGrace,
		log:          log.With().Str("service", "dependency").Logger(),
	}
}

// AddEdge inserts a directed dependency edge. A strict edge is rejected with
// CircularDependencyError when the strict subgraph plus the proposed edge
// would contain a cycle.
func (s *DependencyService) AddEdge(ctx context.Context, parentID, dependentID string, edgeType models.DependencyType, isStrict bool, gapMinutes int) (*models.DependencyEdge, error) {
	if parentID == dependentID {
		return nil, &models.CircularDependencyError{Path: []string{parentID, dependentID}}
	}
	if _, err := s.store.GetSession(ctx, parentID); err != nil {
		return nil, fmt.Errorf("parent session %s: %w", parentID, err)
	}
	if _, err := s.store.GetSession(ctx, dependentID); err != nil {
		return nil, fmt.Errorf("dependent session %s: %w", dependentID, err)
	}

	s.edgeMu.Lock()
	defer s.edgeMu.Unlock()

	if isStrict {
		// The proposed edge is parent -> dependent. If parent is already
		// reachable from dependent over strict edges, inserting it closes a
		// cycle.
		path, err := s.strictPath(ctx, dependentID, parentID)
		if err != nil {
			return nil, err
		}
		if path != nil {
			cycle := append([]string{parentID}, path...)
			s.log.Warn().Str("parent", parentID).Str("dependent", dependentID).
				Strs("cycle", cycle).Msg("strict edge rejected")
			return nil, &models.CircularDependencyError{Path: cycle}
		}
	}

	edge := &models.DependencyEdge{
		ID:                 uuid.NewString(),
		ParentSessionID:    parentID,
		DependentSessionID: dependentID,
		Type:               edgeType,
		IsStrict:           isStrict,
		TimingGapMinutes:   gapMinutes,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.store.SaveEdge(ctx, edge); err != nil {
		return nil, fmt.Errorf("save edge: %w", err)
	}
	return edge, nil
}

// DetectCircular returns the session chain forming a cycle through sessionID,
// or nil when the strict subgraph reachable from it is acyclic. Used at edge
// creation and in periodic integrity sweeps.
func (s *DependencyService) DetectCircular(ctx context.Context, sessionID string) ([]string, error) {
	path, err := s.strictPath(ctx, sessionID, sessionID)
	if err != nil {
		return nil, err
	}
	return path, nil
}

// strictPath runs a depth-bounded DFS over strict edges and returns the node
// chain from `from` to `target` inclusive, or nil when target is unreachable.
// The depth bound guards against pathological or malformed edge data.
func (s *DependencyService) strictPath(ctx context.Context, from, target string) ([]string, error) {
	visited := make(map[string]bool)
	var dfs func(node string, depth int, path []string) ([]string, error)
	dfs = func(node string, depth int, path []string) ([]string, error) {
		if depth > s.maxDepth {
			return nil, nil
		}
		edges, err := s.store.ListEdgesFromParent(ctx, node)
		if err != nil {
			return nil, fmt.Errorf("list edges from %s: %w", node, err)
		}
		for _, e := range edges {
			if !e.IsStrict {
				continue
			}
			next := e.DependentSessionID
			if next == target {
				return append(append(path, node), next), nil
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			found, err := dfs(next, depth+1, append(path, node))
			if err != nil || found != nil {
				return found, err
			}
		}
		return nil, nil
	}
	return dfs(from, 0, nil)
}

// FindPath returns the shortest dependency path from one session to another
// as an ordered list of steps, or nil when no path exists. It follows edges
// of every type in parent-to-dependent direction; the step's edge type is the
// edge traversed to reach that session.
func (s *DependencyService) FindPath(ctx context.Context, fromID, toID string) ([]models.PathStep, error) {
	if fromID == toID {
		return []models.PathStep{{SessionID: fromID}}, nil
	}

	type queued struct {
		id   string
		path []models.PathStep
	}
	visited := map[string]bool{fromID: true}
	queue := []queued{{id: fromID, path: []models.PathStep{{SessionID: fromID}}}}

	for depth := 0; len(queue) > 0 && depth <= s.maxDepth; depth++ {
		var next []queued
		for _, q := range queue {
			edges, err := s.store.ListEdgesFromParent(ctx, q.id)
			if err != nil {
				return nil, fmt.Errorf("list edges from %s: %w", q.id, err)
			}
			for _, e := range edges {
				if visited[e.DependentSessionID] {
					continue
				}
				visited[e.DependentSessionID] = true
				path := append(append([]models.PathStep{}, q.path...),
					models.PathStep{SessionID: e.DependentSessionID, EdgeType: e.Type})
				if e.DependentSessionID == toID {
					return path, nil
				}
				next = append(next, queued{id: e.DependentSessionID, path: path})
			}
		}
		queue = next
	}
	return nil, nil
}

// EvaluatePrerequisites checks every active prerequisite group of a session
// for one attendee. Within a group the operator combines member results (AND:
// all, OR: any, NOT: every referenced check must fail); across groups, all
// groups must pass. Non-required prerequisites are reported when unsatisfied
// but never block on their own. adminOverride lets a privileged caller pass
// over failing prerequisites that allow it; those are reported as bypassed.
func (s *DependencyService) EvaluatePrerequisites(ctx context.Context, sessionID, attendeeID string, adminOverride bool) (*models.PrerequisiteEvaluation, error) {
	prereqs, err := s.store.ListPrerequisites(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list prerequisites for session %s: %w", sessionID, err)
	}

	eval := &models.PrerequisiteEvaluation{CanRegister: true}

	groups := make(map[string][]models.Prerequisite)
	var groupOrder []string
	for _, p := range prereqs {
		if !p.IsActive {
			continue
		}
		if _, seen := groups[p.GroupID]; !seen {
			groupOrder = append(groupOrder, p.GroupID)
		}
		groups[p.GroupID] = append(groups[p.GroupID], p)
	}

	for _, gid := range groupOrder {
		members := groups[gid]
		operator := members[0].Operator
		pass, err := s.evaluateGroup(ctx, operator, members, attendeeID, adminOverride, eval)
		if err != nil {
			return nil, err
		}
		if !pass {
			eval.CanRegister = false
		}
	}
	return eval, nil
}

func (s *DependencyService) evaluateGroup(ctx context.Context, operator models.PrerequisiteOperator, members []models.Prerequisite, attendeeID string, adminOverride bool, eval *models.PrerequisiteEvaluation) (bool, error) {
	requiredExists := false
	anySatisfied := false
	allSatisfied := true
	requiredUnsatisfied := false

	for _, p := range members {
		raw, reason, err := s.checkPrerequisite(ctx, p, attendeeID)
		if err != nil {
			return false, err
		}

		// For NOT groups the referenced check is expected to fail.
		satisfied := raw
		if operator == models.PrereqOperatorNot {
			satisfied = !raw
			if !satisfied {
				reason = "referenced check passed but must fail"
			}
		}

		if !satisfied && adminOverride && p.AllowAdminOverride {
			satisfied = true
			eval.Bypassed = append(eval.Bypassed, p.ID)
		}

		if !satisfied {
			eval.Failed = append(eval.Failed, models.PrerequisiteFailure{
				PrerequisiteID: p.ID,
				Type:           p.Type,
				Reason:         reason,
				IsRequired:     p.IsRequired,
			})
		}

		if p.IsRequired {
			requiredExists = true
			if !satisfied {
				requiredUnsatisfied = true
			}
		}
		if satisfied {
			anySatisfied = true
		} else {
			allSatisfied = false
		}
	}

	switch operator {
	case models.PrereqOperatorOr:
		if anySatisfied {
			return true, nil
		}
		return !requiredExists, nil
	default: // AND and NOT both demand every member hold
		if allSatisfied {
			return true, nil
		}
		return !requiredUnsatisfied, nil
	}
}

// checkPrerequisite evaluates one rule in isolation.
func (s *DependencyService) checkPrerequisite(ctx context.Context, p models.Prerequisite, attendeeID string) (bool, string, error) {
	switch p.Type {
	case models.PrereqSessionAttendance:
		return s.checkAttendance(ctx, p, attendeeID)
	case models.PrereqSessionRegistration:
		records, err := s.store.ListAttendeeRecords(ctx, attendeeID)
		if err != nil {
			return false, "", fmt.Errorf("list attendee records: %w", err)
		}
		for _, r := range records {
			if r.SessionID == p.RequiredSessionID &&
				(r.Status == models.AttendanceRegistered || r.Status == models.AttendanceAttended) {
				return true, "", nil
			}
		}
		return false, fmt.Sprintf("not registered for session %s", p.RequiredSessionID), nil
	case models.PrereqProfileRequirement, models.PrereqCustomRule:
		if s.rules == nil {
			return false, "no rule evaluator configured", nil
		}
		ok, err := s.rules.Evaluate(ctx, p, attendeeID)
		if err != nil {
			return false, "", fmt.Errorf("evaluate rule %s: %w", p.ID, err)
		}
		if !ok {
			return false, "rule evaluation failed", nil
		}
		return true, "", nil
	}
	return false, fmt.Sprintf("unknown prerequisite type %s", p.Type), nil
}

// checkAttendance passes when the attendee attended the referenced session.
// With a grace period, a check-in after the session's nominal end still counts
// as long as it lands inside the grace window.
func (s *DependencyService) checkAttendance(ctx context.Context, p models.Prerequisite, attendeeID string) (bool, string, error) {
	records, err := s.store.ListAttendeeRecords(ctx, attendeeID)
	if err != nil {
		return false, "", fmt.Errorf("list attendee records: %w", err)
	}
	for _, r := range records {
		if r.SessionID != p.RequiredSessionID || r.Status != models.AttendanceAttended {
			continue
		}
		if r.CheckedInAt == nil {
			return true, "", nil
		}
		sess, err := s.store.GetSession(ctx, p.RequiredSessionID)
		if err != nil {
			return false, "", fmt.Errorf("load required session %s: %w", p.RequiredSessionID, err)
		}
		deadline := sess.EndTime
		if p.AllowGracePeriod {
			grace := time.Duration(p.GracePeriodHours) * time.Hour
			if grace == 0 {
				grace = s.defaultGrace
			}
			deadline = deadline.Add(grace)
		}
		if !r.CheckedInAt.After(deadline) {
			return true, "", nil
		}
		return false, fmt.Sprintf("checked in after grace window for session %s", p.RequiredSessionID), nil
	}
	return false, fmt.Sprintf("no attendance for session %s", p.RequiredSessionID), nil
}
