package models

import (
	"time"

	"github.com/lib/pq"
)

// AssignmentStatus captures the workflow state of an assignment.
type AssignmentStatus string

const (
	AssignmentStatusDraft                 AssignmentStatus = "DRAFT"
	AssignmentStatusPendingApproval       AssignmentStatus = "PENDING_APPROVAL"
	AssignmentStatusPendingLevel1Approval AssignmentStatus = "PENDING_LEVEL1_APPROVAL"
	AssignmentStatusPendingLevel2Approval AssignmentStatus = "PENDING_LEVEL2_APPROVAL"
	AssignmentStatusApproved              AssignmentStatus = "APPROVED"
	AssignmentStatusRejected              AssignmentStatus = "REJECTED"
	AssignmentStatusCancelled             AssignmentStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s AssignmentStatus) Valid() bool {
	switch s {
	case AssignmentStatusDraft, AssignmentStatusPendingApproval, AssignmentStatusPendingLevel1Approval,
		AssignmentStatusPendingLevel2Approval, AssignmentStatusApproved, AssignmentStatusRejected,
		AssignmentStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s AssignmentStatus) IsTerminal() bool {
	return s == AssignmentStatusApproved || s == AssignmentStatusRejected || s == AssignmentStatusCancelled
}

// ClaimsLines reports whether an assignment in status s holds its PO lines.
func (s AssignmentStatus) ClaimsLines() bool {
	return s != AssignmentStatusRejected && s != AssignmentStatusCancelled && s.Valid()
}

// LineClaimingStatuses lists every status that holds PO lines.
func LineClaimingStatuses() []AssignmentStatus {
	return []AssignmentStatus{
		AssignmentStatusDraft,
		AssignmentStatusPendingApproval,
		AssignmentStatusPendingLevel1Approval,
		AssignmentStatusPendingLevel2Approval,
		AssignmentStatusApproved,
	}
}

// ApprovalTopology selects the single- or two-level approval chain.
type ApprovalTopology string

const (
	TopologySingle   ApprovalTopology = "SINGLE"
	TopologyTwoLevel ApprovalTopology = "TWO_LEVEL"
)

// Valid reports whether t is a supported topology.
func (t ApprovalTopology) Valid() bool {
	return t == TopologySingle || t == TopologyTwoLevel
}

// Levels returns the number of approval levels.
func (t ApprovalTopology) Levels() int {
	if t == TopologyTwoLevel {
		return 2
	}
	return 1
}

// PendingStatus returns the status an assignment waits in for approval at level.
func (t ApprovalTopology) PendingStatus(level int) AssignmentStatus {
	if t == TopologyTwoLevel {
		if level == 2 {
			return AssignmentStatusPendingLevel2Approval
		}
		return AssignmentStatusPendingLevel1Approval
	}
	return AssignmentStatusPendingApproval
}

// LevelOf returns the approval level that status is pending at.
func (t ApprovalTopology) LevelOf(status AssignmentStatus) (int, bool) {
	switch {
	case t == TopologySingle && status == AssignmentStatusPendingApproval:
		return 1, true
	case t == TopologyTwoLevel && status == AssignmentStatusPendingLevel1Approval:
		return 1, true
	case t == TopologyTwoLevel && status == AssignmentStatusPendingLevel2Approval:
		return 2, true
	}
	return 0, false
}

// PendingStatuses lists every pending status of the topology in level order.
func (t ApprovalTopology) PendingStatuses() []AssignmentStatus {
	statuses := make([]AssignmentStatus, 0, t.Levels())
	for level := 1; level <= t.Levels(); level++ {
		statuses = append(statuses, t.PendingStatus(level))
	}
	return statuses
}

// Assignment claims a set of lines of one external PO for one SBC.
type Assignment struct {
	ID                    string           `db:"id" json:"id"`
	InternalPOID          string           `db:"internal_po_id" json:"internal_po_id"`
	CreatedByPMID         string           `db:"created_by_pm_id" json:"created_by_pm_id"`
	AssignedToSBCID       string           `db:"assigned_to_sbc_id" json:"assigned_to_sbc_id"`
	ExternalPONumber      string           `db:"external_po_number" json:"external_po_number"`
	ExternalPOLineNumbers pq.StringArray   `db:"external_po_line_numbers" json:"external_po_line_numbers"`
	Status                AssignmentStatus `db:"status" json:"status"`
	Version               int              `db:"version" json:"version"`
	AssignmentNotes       *string          `db:"assignment_notes" json:"assignment_notes,omitempty"`
	Level1ApproverID      *string          `db:"level1_approver_id" json:"level1_approver_id,omitempty"`
	Level1ApprovedAt      *time.Time       `db:"level1_approved_at" json:"level1_approved_at,omitempty"`
	Level1Remarks         *string          `db:"level1_remarks" json:"level1_remarks,omitempty"`
	Level2ApproverID      *string          `db:"level2_approver_id" json:"level2_approver_id,omitempty"`
	Level2ApprovedAt      *time.Time       `db:"level2_approved_at" json:"level2_approved_at,omitempty"`
	Level2Remarks         *string          `db:"level2_remarks" json:"level2_remarks,omitempty"`
	RejectedByID          *string          `db:"rejected_by_id" json:"rejected_by_id,omitempty"`
	RejectedAt            *time.Time       `db:"rejected_at" json:"rejected_at,omitempty"`
	RejectionReason       *string          `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CancelledByID         *string          `db:"cancelled_by_id" json:"cancelled_by_id,omitempty"`
	CancelledAt           *time.Time       `db:"cancelled_at" json:"cancelled_at,omitempty"`
	SubmittedAt           *time.Time       `db:"submitted_at" json:"submitted_at,omitempty"`
	CreatedAt             time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time        `db:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy so transitions never alias the caller's record.
func (a *Assignment) Clone() *Assignment {
	if a == nil {
		return nil
	}
	c := *a
	c.ExternalPOLineNumbers = append(pq.StringArray(nil), a.ExternalPOLineNumbers...)
	return &c
}

// Summary projects the fields returned by batch creation.
func (a *Assignment) Summary() AssignmentSummary {
	return AssignmentSummary{
		ID:               a.ID,
		InternalPOID:     a.InternalPOID,
		ExternalPONumber: a.ExternalPONumber,
		LineCount:        len(a.ExternalPOLineNumbers),
		Lines:            append([]string(nil), a.ExternalPOLineNumbers...),
		Status:           a.Status,
	}
}

// AssignmentSummary is the compact view of a created assignment.
type AssignmentSummary struct {
	ID               string           `json:"id"`
	InternalPOID     string           `json:"internal_po_id"`
	ExternalPONumber string           `json:"external_po_number"`
	LineCount        int              `json:"line_count"`
	Lines            []string         `json:"lines"`
	Status           AssignmentStatus `json:"status"`
}

// POLineSelection is one (PO number, PO line) pair picked by a project manager.
type POLineSelection struct {
	PONumber string `json:"po_number" validate:"required,max=100"`
	POLine   string `json:"po_line" validate:"required,max=50"`
}

// POLineGroup is the set of selected lines that share one PO number.
type POLineGroup struct {
	PONumber string
	Lines    []string
}

// AssignmentFilter constrains listing queries.
type AssignmentFilter struct {
	Status          []AssignmentStatus
	PONumbers       []string
	CreatedByPMID   string
	AssignedToSBCID string
	Page            int
	PageSize        int
	OrderBy         string
}

// AssignmentStats aggregates assignment counts per status.
type AssignmentStats struct {
	Total       int                      `json:"total_assignments"`
	ByStatus    map[AssignmentStatus]int `json:"by_status"`
	GeneratedAt time.Time                `json:"generated_at"`
}
