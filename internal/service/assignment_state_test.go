package service

import (
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/po-assignment-api/internal/models"
	appErrors "github.com/noah-isme/po-assignment-api/pkg/errors"
)

var (
	stateNow = time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

	pmActor       = models.Actor{ID: "pm-1", Role: models.RoleProjectManager, Active: true, Caps: models.Capabilities{CreateAssignments: true}}
	otherPMActor  = models.Actor{ID: "pm-2", Role: models.RoleProjectManager, Active: true, Caps: models.Capabilities{CreateAssignments: true}}
	level1Actor   = models.Actor{ID: "ap-1", Role: models.RoleProjectManager, Active: true, Caps: models.Capabilities{ApproveLevel1: true}}
	level2Actor   = models.Actor{ID: "ap-2", Role: models.RoleProjectManager, Active: true, Caps: models.Capabilities{ApproveLevel2: true}}
	adminActor    = models.Actor{ID: "admin", Role: models.RoleAdmin, Active: true, Caps: models.Capabilities{Admin: true, CreateAssignments: true, ApproveLevel1: true, ApproveLevel2: true}}
	sbcActor      = models.Actor{ID: "sbc-1", Role: models.RoleSBC, Active: true}
	inactiveAdmin = models.Actor{ID: "admin-2", Role: models.RoleAdmin, Active: false, Caps: models.Capabilities{Admin: true}}
)

func draftAssignment() *models.Assignment {
	return &models.Assignment{
		ID:                    "asg-1",
		InternalPOID:          "PO-SIB-20250203-001",
		CreatedByPMID:         pmActor.ID,
		AssignedToSBCID:       sbcActor.ID,
		ExternalPONumber:      "1212121",
		ExternalPOLineNumbers: pq.StringArray{"1", "2"},
		Status:                models.AssignmentStatusDraft,
		Version:               1,
	}
}

func withStatus(status models.AssignmentStatus) *models.Assignment {
	a := draftAssignment()
	a.Status = status
	return a
}

func errCode(err error) string {
	if err == nil {
		return ""
	}
	return appErrors.FromError(err).Code
}

func TestSingleLevelHappyPath(t *testing.T) {
	sm := NewStateMachine(models.TopologySingle)
	original := draftAssignment()

	submitted, err := sm.Apply(original, pmActor, Transition{Event: EventSubmit}, stateNow)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusPendingApproval, submitted.Status)
	require.NotNil(t, submitted.SubmittedAt)
	assert.Equal(t, 2, submitted.Version)
	assert.Equal(t, models.AssignmentStatusDraft, original.Status, "input must not be mutated")

	approved, err := sm.Apply(submitted, level1Actor, Transition{Event: EventApprove, Remarks: "ok"}, stateNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusApproved, approved.Status)
	require.NotNil(t, approved.Level1ApproverID)
	assert.Equal(t, level1Actor.ID, *approved.Level1ApproverID)
	assert.Equal(t, "ok", *approved.Level1Remarks)
	assert.Nil(t, approved.Level2ApproverID)
	assert.Equal(t, stateNow.Add(time.Hour), approved.UpdatedAt)
}

func TestTwoLevelHappyPath(t *testing.T) {
	sm := NewStateMachine(models.TopologyTwoLevel)

	submitted, err := sm.Apply(draftAssignment(), pmActor, Transition{Event: EventSubmit}, stateNow)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusPendingLevel1Approval, submitted.Status)

	_, err = sm.Apply(submitted, level2Actor, Transition{Event: EventApprove}, stateNow)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(err))

	level1, err := sm.Apply(submitted, level1Actor, Transition{Event: EventApprove, Level: 1}, stateNow)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusPendingLevel2Approval, level1.Status)
	assert.Nil(t, level1.Level1Remarks)

	_, err = sm.Apply(level1, level1Actor, Transition{Event: EventApprove}, stateNow)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(err))

	final, err := sm.Apply(level1, level2Actor, Transition{Event: EventApprove, Remarks: "final"}, stateNow)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusApproved, final.Status)
	assert.Equal(t, level1Actor.ID, *final.Level1ApproverID)
	assert.Equal(t, level2Actor.ID, *final.Level2ApproverID)
	assert.Equal(t, "final", *final.Level2Remarks)
	assert.Equal(t, 4, final.Version)
}

func TestApproveWithWrongLevelIsInvalidState(t *testing.T) {
	sm := NewStateMachine(models.TopologyTwoLevel)
	_, err := sm.Apply(withStatus(models.AssignmentStatusPendingLevel1Approval), adminActor, Transition{Event: EventApprove, Level: 2}, stateNow)
	assert.Equal(t, appErrors.ErrInvalidState.Code, errCode(err))
}

func TestPendingStatusOfOtherTopologyIsInvalidState(t *testing.T) {
	_, err := NewStateMachine(models.TopologySingle).Apply(withStatus(models.AssignmentStatusPendingLevel2Approval), adminActor, Transition{Event: EventApprove}, stateNow)
	assert.Equal(t, appErrors.ErrInvalidState.Code, errCode(err))

	_, err = NewStateMachine(models.TopologyTwoLevel).Apply(withStatus(models.AssignmentStatusPendingApproval), adminActor, Transition{Event: EventReject, Reason: "x"}, stateNow)
	assert.Equal(t, appErrors.ErrInvalidState.Code, errCode(err))
}

func TestRejectStoresReasonVerbatim(t *testing.T) {
	sm := NewStateMachine(models.TopologyTwoLevel)
	reason := "  wrong lines, see PO 1212121  "
	rejected, err := sm.Apply(withStatus(models.AssignmentStatusPendingLevel2Approval), level1Actor, Transition{Event: EventReject, Reason: reason}, stateNow)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusRejected, rejected.Status)
	assert.Equal(t, reason, *rejected.RejectionReason)
	assert.Equal(t, level1Actor.ID, *rejected.RejectedByID)
	assert.Equal(t, stateNow, *rejected.RejectedAt)
}

func TestCancelByCreatorOrAdmin(t *testing.T) {
	sm := NewStateMachine(models.TopologySingle)

	cancelled, err := sm.Apply(draftAssignment(), pmActor, Transition{Event: EventCancel}, stateNow)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusCancelled, cancelled.Status)
	assert.Equal(t, pmActor.ID, *cancelled.CancelledByID)

	_, err = sm.Apply(draftAssignment(), adminActor, Transition{Event: EventCancel}, stateNow)
	require.NoError(t, err)

	_, err = sm.Apply(draftAssignment(), otherPMActor, Transition{Event: EventCancel}, stateNow)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(err))
}

func TestTransitionFailureOrdering(t *testing.T) {
	sm := NewStateMachine(models.TopologySingle)
	cases := []struct {
		name       string
		assignment *models.Assignment
		actor      models.Actor
		tr         Transition
		code       string
	}{
		{"terminal beats permission", withStatus(models.AssignmentStatusApproved), sbcActor, Transition{Event: EventApprove}, appErrors.ErrInvalidState.Code},
		{"rejected is terminal", withStatus(models.AssignmentStatusRejected), pmActor, Transition{Event: EventSubmit}, appErrors.ErrInvalidState.Code},
		{"cancelled is terminal", withStatus(models.AssignmentStatusCancelled), adminActor, Transition{Event: EventUpdate}, appErrors.ErrInvalidState.Code},
		{"illegal event beats permission", withStatus(models.AssignmentStatusPendingApproval), sbcActor, Transition{Event: EventSubmit}, appErrors.ErrInvalidState.Code},
		{"approve draft", draftAssignment(), adminActor, Transition{Event: EventApprove}, appErrors.ErrInvalidState.Code},
		{"update pending", withStatus(models.AssignmentStatusPendingApproval), pmActor, Transition{Event: EventUpdate}, appErrors.ErrInvalidState.Code},
		{"permission beats payload", withStatus(models.AssignmentStatusPendingApproval), pmActor, Transition{Event: EventReject}, appErrors.ErrForbidden.Code},
		{"empty reason", withStatus(models.AssignmentStatusPendingApproval), level1Actor, Transition{Event: EventReject, Reason: "   "}, appErrors.ErrValidation.Code},
		{"submit by non creator", draftAssignment(), adminActor, Transition{Event: EventSubmit}, appErrors.ErrForbidden.Code},
		{"update by other pm", draftAssignment(), otherPMActor, Transition{Event: EventUpdate}, appErrors.ErrForbidden.Code},
		{"approver without capability", withStatus(models.AssignmentStatusPendingApproval), sbcActor, Transition{Event: EventApprove}, appErrors.ErrForbidden.Code},
		{"inactive admin", draftAssignment(), inactiveAdmin, Transition{Event: EventUpdate}, appErrors.ErrForbidden.Code},
		{"unknown event", draftAssignment(), pmActor, Transition{Event: "archive"}, appErrors.ErrValidation.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, err := sm.Apply(tc.assignment, tc.actor, tc.tr, stateNow)
			require.Error(t, err)
			assert.Nil(t, next)
			assert.Equal(t, tc.code, errCode(err))
		})
	}
}

func TestUpdateBumpsVersionOnly(t *testing.T) {
	sm := NewStateMachine(models.TopologySingle)
	next, err := sm.Apply(draftAssignment(), adminActor, Transition{Event: EventUpdate}, stateNow)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusDraft, next.Status)
	assert.Equal(t, 2, next.Version)
	assert.Equal(t, stateNow, next.UpdatedAt)
}

func TestNewStateMachineDefaultsToSingle(t *testing.T) {
	assert.Equal(t, models.TopologySingle, NewStateMachine("bogus").Topology())
	assert.Equal(t, models.TopologyTwoLevel, NewStateMachine(models.TopologyTwoLevel).Topology())
}
