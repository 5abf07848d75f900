package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/po-assignment-api/internal/models"
	appErrors "github.com/noah-isme/po-assignment-api/pkg/errors"
)

// AssignmentEvent names a workflow action on an assignment.
type AssignmentEvent string

const (
	EventUpdate  AssignmentEvent = "update"
	EventSubmit  AssignmentEvent = "submit"
	EventApprove AssignmentEvent = "approve"
	EventReject  AssignmentEvent = "reject"
	EventCancel  AssignmentEvent = "cancel"
)

// Transition is an event plus its payload.
type Transition struct {
	Event   AssignmentEvent
	Level   int
	Remarks string
	Reason  string
}

// StateMachine applies workflow events for one approval topology. It holds no per-assignment state.
type StateMachine struct {
	topology models.ApprovalTopology
}

// NewStateMachine builds a state machine, falling back to single-level approval for unknown topologies.
func NewStateMachine(topology models.ApprovalTopology) *StateMachine {
	if !topology.Valid() {
		topology = models.TopologySingle
	}
	return &StateMachine{topology: topology}
}

// Topology returns the configured approval topology.
func (m *StateMachine) Topology() models.ApprovalTopology {
	return m.topology
}

// Apply validates tr against the assignment and actor and returns the resulting record. The input
// is never modified. Failures are checked in order: terminal status, illegal event, permission, payload.
func (m *StateMachine) Apply(assignment *models.Assignment, actor models.Actor, tr Transition, now time.Time) (*models.Assignment, error) {
	if assignment == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
	}
	status := assignment.Status
	if status.IsTerminal() {
		return nil, invalidState(tr.Event, status, nil, fmt.Sprintf("assignment is %s and can no longer change", status))
	}

	level, err := m.checkLegal(status, tr)
	if err != nil {
		return nil, err
	}
	if err := m.checkGuard(assignment, actor, tr.Event, level); err != nil {
		return nil, err
	}
	if tr.Event == EventReject && strings.TrimSpace(tr.Reason) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}

	next := assignment.Clone()
	now = now.UTC()
	actorID := actor.ID

	switch tr.Event {
	case EventUpdate:
	case EventSubmit:
		next.Status = m.topology.PendingStatus(1)
		next.SubmittedAt = &now
	case EventApprove:
		remarks := optionalString(tr.Remarks)
		if level == 1 {
			next.Level1ApproverID = &actorID
			next.Level1ApprovedAt = &now
			next.Level1Remarks = remarks
		} else {
			next.Level2ApproverID = &actorID
			next.Level2ApprovedAt = &now
			next.Level2Remarks = remarks
		}
		if level < m.topology.Levels() {
			next.Status = m.topology.PendingStatus(level + 1)
		} else {
			next.Status = models.AssignmentStatusApproved
		}
	case EventReject:
		reason := tr.Reason
		next.Status = models.AssignmentStatusRejected
		next.RejectedByID = &actorID
		next.RejectedAt = &now
		next.RejectionReason = &reason
	case EventCancel:
		next.Status = models.AssignmentStatusCancelled
		next.CancelledByID = &actorID
		next.CancelledAt = &now
	}

	next.Version = assignment.Version + 1
	next.UpdatedAt = now
	return next, nil
}

// checkLegal returns the approval level an approve or reject acts on.
func (m *StateMachine) checkLegal(status models.AssignmentStatus, tr Transition) (int, error) {
	switch tr.Event {
	case EventUpdate, EventSubmit, EventCancel:
		if status != models.AssignmentStatusDraft {
			return 0, invalidState(tr.Event, status, []models.AssignmentStatus{models.AssignmentStatusDraft}, fmt.Sprintf("only DRAFT assignments can %s", tr.Event))
		}
		return 0, nil
	case EventApprove, EventReject:
		level, ok := m.topology.LevelOf(status)
		if !ok {
			return 0, invalidState(tr.Event, status, m.topology.PendingStatuses(), fmt.Sprintf("assignment is %s, not pending approval", status))
		}
		if tr.Event == EventApprove && tr.Level != 0 && tr.Level != level {
			return 0, invalidState(tr.Event, status, []models.AssignmentStatus{m.topology.PendingStatus(tr.Level)}, fmt.Sprintf("assignment is pending level %d approval", level))
		}
		return level, nil
	default:
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown event %q", tr.Event))
	}
}

func (m *StateMachine) checkGuard(assignment *models.Assignment, actor models.Actor, event AssignmentEvent, level int) error {
	if actor.ID == "" || !actor.Active {
		return forbidden(event, "active_user", "actor is not an active user")
	}
	creator := actor.ID == assignment.CreatedByPMID

	var (
		allowed  bool
		required string
	)
	switch event {
	case EventUpdate, EventCancel:
		allowed, required = creator || actor.Caps.Admin, "creator_or_admin"
	case EventSubmit:
		allowed, required = creator, "creator"
	case EventApprove:
		allowed, required = actor.Caps.CanApproveLevel(level), fmt.Sprintf("approve_level%d", level)
	case EventReject:
		allowed, required = actor.Caps.CanApproveAny(), "approver"
	}
	if !allowed {
		return forbidden(event, required, fmt.Sprintf("not permitted to %s this assignment", event))
	}
	return nil
}

func forbidden(event AssignmentEvent, required, message string) error {
	return appErrors.WithDetails(appErrors.ErrForbidden, message, map[string]interface{}{
		"event":    string(event),
		"required": required,
	})
}

func invalidState(event AssignmentEvent, status models.AssignmentStatus, expected []models.AssignmentStatus, message string) error {
	details := map[string]interface{}{
		"event":  string(event),
		"status": string(status),
	}
	if len(expected) > 0 {
		names := make([]string, len(expected))
		for i, e := range expected {
			names[i] = string(e)
		}
		details["expected_status"] = names
	}
	return appErrors.WithDetails(appErrors.ErrInvalidState, message, details)
}
