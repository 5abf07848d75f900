package dto

import "github.com/noah-isme/po-assignment-api/internal/models"

// BulkCreateAssignmentsRequest carries a mixed selection of PO lines for one SBC.
type BulkCreateAssignmentsRequest struct {
	AssignedToSBCID string                   `json:"assigned_to_sbc_id" validate:"required"`
	Selections      []models.POLineSelection `json:"po_line_selections" validate:"dive"`
	AssignmentNotes string                   `json:"assignment_notes" validate:"max=2000"`
}

// CreateAssignmentRequest creates one assignment for lines of a single PO.
type CreateAssignmentRequest struct {
	AssignedToSBCID       string   `json:"assigned_to_sbc_id" validate:"required"`
	ExternalPONumber      string   `json:"external_po_number" validate:"required,max=100"`
	ExternalPOLineNumbers []string `json:"external_po_line_numbers" validate:"required,min=1,dive,max=50"`
	AssignmentNotes       string   `json:"assignment_notes" validate:"max=2000"`
}

// Selections expands the request into PO line selections.
func (r CreateAssignmentRequest) Selections() []models.POLineSelection {
	out := make([]models.POLineSelection, 0, len(r.ExternalPOLineNumbers))
	for _, line := range r.ExternalPOLineNumbers {
		out = append(out, models.POLineSelection{PONumber: r.ExternalPONumber, POLine: line})
	}
	return out
}

// UpdateAssignmentRequest edits a DRAFT assignment. Nil fields are left untouched.
type UpdateAssignmentRequest struct {
	AssignedToSBCID       *string  `json:"assigned_to_sbc_id" validate:"omitempty,min=1"`
	ExternalPOLineNumbers []string `json:"external_po_line_numbers" validate:"omitempty,min=1,dive,max=50"`
	AssignmentNotes       *string  `json:"assignment_notes" validate:"omitempty,max=2000"`
}

// ApproveAssignmentRequest records an approval. Level 0 means the level the assignment is pending at.
type ApproveAssignmentRequest struct {
	Level   int    `json:"level" validate:"omitempty,oneof=1 2"`
	Remarks string `json:"remarks" validate:"max=2000"`
}

// RejectAssignmentRequest records a rejection with its reason.
type RejectAssignmentRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

// BulkCreateResult summarises assignments created in one batch.
type BulkCreateResult struct {
	Success           bool                       `json:"success"`
	Message           string                     `json:"message"`
	Created           []models.AssignmentSummary `json:"assignments_created"`
	Count             int                        `json:"total_assignments"`
	AssignedToSBCID   string                     `json:"assigned_to_sbc_id"`
	AssignedToSBCName string                     `json:"assigned_to_sbc_name"`
}

// AssignmentListQuery mirrors supported listing filters.
type AssignmentListQuery struct {
	Status          []models.AssignmentStatus `form:"status"`
	PONumber        string                    `form:"po_number"`
	CreatedByPMID   string                    `form:"created_by"`
	AssignedToSBCID string                    `form:"assigned_to"`
	Page            int                       `form:"page"`
	PerPage         int                       `form:"per_page"`
}

// AssignmentListResult is a page of assignments.
type AssignmentListResult struct {
	Items      []models.Assignment `json:"items"`
	Pagination *models.Pagination  `json:"-"`
}

// ExportAssignmentsRequest selects the export format and rows.
type ExportAssignmentsRequest struct {
	Format string `form:"format"`
	AssignmentListQuery
}

// ExportResult carries a rendered export document.
type ExportResult struct {
	Filename    string
	ContentType string
	Body        []byte
}
