package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/po-assignment-api/internal/models"
)

const assignmentColumns = `id, internal_po_id, created_by_pm_id, assigned_to_sbc_id, external_po_number, external_po_line_numbers,
       status, version, assignment_notes, level1_approver_id, level1_approved_at, level1_remarks,
       level2_approver_id, level2_approved_at, level2_remarks, rejected_by_id, rejected_at, rejection_reason,
       cancelled_by_id, cancelled_at, submitted_at, created_at, updated_at`

var assignmentOrderings = map[string]string{
	"":             "created_at DESC, internal_po_id DESC",
	"created_at":   "created_at DESC, internal_po_id DESC",
	"submitted_at": "submitted_at ASC NULLS LAST, internal_po_id ASC",
	"approved_at":  "COALESCE(level2_approved_at, level1_approved_at) DESC NULLS LAST, internal_po_id DESC",
}

// AssignmentRepository persists PO assignments and their claimed lines.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

func (r *AssignmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// LockInternalIDSequence serialises id allocation for the given prefix until the transaction ends.
func (r *AssignmentRepository) LockInternalIDSequence(ctx context.Context, exec sqlx.ExtContext, prefix string) error {
	const query = `SELECT pg_advisory_xact_lock(hashtext($1))`
	if _, err := r.exec(exec).ExecContext(ctx, query, "assignment-internal-id:"+prefix); err != nil {
		return fmt.Errorf("lock internal id sequence: %w", err)
	}
	return nil
}

// ListInternalIDsWithPrefix returns every internal id starting with prefix.
func (r *AssignmentRepository) ListInternalIDsWithPrefix(ctx context.Context, exec sqlx.ExtContext, prefix string) ([]string, error) {
	const query = `SELECT internal_po_id FROM assignments WHERE internal_po_id LIKE $1`
	var ids []string
	if err := sqlx.SelectContext(ctx, r.exec(exec), &ids, query, prefix+"%"); err != nil {
		return nil, fmt.Errorf("list internal ids: %w", err)
	}
	return ids, nil
}

// ListClaimingByPONumbers returns assignments that still hold lines of the given POs, locking them for update.
func (r *AssignmentRepository) ListClaimingByPONumbers(ctx context.Context, exec sqlx.ExtContext, poNumbers []string) ([]models.Assignment, error) {
	if len(poNumbers) == 0 {
		return nil, nil
	}
	statuses := make([]string, 0, 5)
	for _, status := range models.LineClaimingStatuses() {
		statuses = append(statuses, string(status))
	}
	query := `SELECT ` + assignmentColumns + `
FROM assignments WHERE external_po_number = ANY($1) AND status = ANY($2)
ORDER BY created_at ASC, internal_po_id ASC FOR UPDATE`
	var assignments []models.Assignment
	if err := sqlx.SelectContext(ctx, r.exec(exec), &assignments, query, pq.Array(poNumbers), pq.Array(statuses)); err != nil {
		return nil, fmt.Errorf("list claiming assignments: %w", err)
	}
	return assignments, nil
}

// InsertMany stores assignments and claims their lines.
func (r *AssignmentRepository) InsertMany(ctx context.Context, exec sqlx.ExtContext, assignments []*models.Assignment) error {
	target := r.exec(exec)
	const insertQuery = `INSERT INTO assignments
	(id, internal_po_id, created_by_pm_id, assigned_to_sbc_id, external_po_number, external_po_line_numbers,
	 status, version, assignment_notes, created_at, updated_at)
	VALUES (:id, :internal_po_id, :created_by_pm_id, :assigned_to_sbc_id, :external_po_number, :external_po_line_numbers,
	 :status, :version, :assignment_notes, :created_at, :updated_at)`

	now := time.Now().UTC()
	for _, assignment := range assignments {
		if assignment == nil {
			return fmt.Errorf("assignment payload is nil")
		}
		if assignment.ID == "" {
			assignment.ID = uuid.NewString()
		}
		if assignment.Status == "" {
			assignment.Status = models.AssignmentStatusDraft
		}
		if assignment.Version == 0 {
			assignment.Version = 1
		}
		if assignment.CreatedAt.IsZero() {
			assignment.CreatedAt = now
		}
		if assignment.UpdatedAt.IsZero() {
			assignment.UpdatedAt = assignment.CreatedAt
		}
		if _, err := sqlx.NamedExecContext(ctx, target, insertQuery, assignment); err != nil {
			return fmt.Errorf("insert assignment %s: %w", assignment.InternalPOID, err)
		}
		if err := r.insertLines(ctx, target, assignment.ID, assignment.ExternalPONumber, assignment.ExternalPOLineNumbers); err != nil {
			return err
		}
	}
	return nil
}

func (r *AssignmentRepository) insertLines(ctx context.Context, exec sqlx.ExtContext, assignmentID, poNumber string, lines []string) error {
	const query = `INSERT INTO assignment_lines (assignment_id, external_po_number, external_po_line, active)
SELECT $1, $2, line, TRUE FROM unnest($3::text[]) AS line`
	if _, err := exec.ExecContext(ctx, query, assignmentID, poNumber, pq.Array(lines)); err != nil {
		return fmt.Errorf("claim assignment lines: %w", err)
	}
	return nil
}

// ReplaceLines swaps the claimed lines of an assignment.
func (r *AssignmentRepository) ReplaceLines(ctx context.Context, exec sqlx.ExtContext, assignmentID, poNumber string, lines []string) error {
	target := r.exec(exec)
	if _, err := target.ExecContext(ctx, `DELETE FROM assignment_lines WHERE assignment_id = $1`, assignmentID); err != nil {
		return fmt.Errorf("drop assignment lines: %w", err)
	}
	return r.insertLines(ctx, target, assignmentID, poNumber, lines)
}

// ReleaseLines frees every line held by an assignment.
func (r *AssignmentRepository) ReleaseLines(ctx context.Context, exec sqlx.ExtContext, assignmentID string) error {
	const query = `UPDATE assignment_lines SET active = FALSE WHERE assignment_id = $1 AND active`
	if _, err := r.exec(exec).ExecContext(ctx, query, assignmentID); err != nil {
		return fmt.Errorf("release assignment lines: %w", err)
	}
	return nil
}

// GetByID fetches an assignment by identifier.
func (r *AssignmentRepository) GetByID(ctx context.Context, id string) (*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = $1`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// GetByIDForUpdate fetches and row-locks an assignment inside exec.
func (r *AssignmentRepository) GetByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = $1 FOR UPDATE`
	var assignment models.Assignment
	if err := sqlx.GetContext(ctx, r.exec(exec), &assignment, query, id); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// List returns assignments matching the filter with the total row count.
func (r *AssignmentRepository) List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, int, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			statuses[i] = string(status)
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(filter.PONumbers) > 0 {
		args = append(args, pq.Array(filter.PONumbers))
		conditions = append(conditions, fmt.Sprintf("external_po_number = ANY($%d)", len(args)))
	}
	if filter.CreatedByPMID != "" {
		args = append(args, filter.CreatedByPMID)
		conditions = append(conditions, fmt.Sprintf("created_by_pm_id = $%d", len(args)))
	}
	if filter.AssignedToSBCID != "" {
		args = append(args, filter.AssignedToSBCID)
		conditions = append(conditions, fmt.Sprintf("assigned_to_sbc_id = $%d", len(args)))
	}

	baseQuery := " FROM assignments"
	if len(conditions) > 0 {
		baseQuery += " WHERE " + strings.Join(conditions, " AND ")
	}

	orderBy, ok := assignmentOrderings[filter.OrderBy]
	if !ok {
		orderBy = assignmentOrderings[""]
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s%s ORDER BY %s LIMIT %d OFFSET %d", assignmentColumns, baseQuery, orderBy, pageSize, offset)
	var assignments []models.Assignment
	if err := r.db.SelectContext(ctx, &assignments, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list assignments: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count assignments: %w", err)
	}
	return assignments, total, nil
}

// UpdateWithExpectedState writes every mutable column when the stored row still has the expected
// status and version. It returns sql.ErrNoRows when another writer got there first.
func (r *AssignmentRepository) UpdateWithExpectedState(ctx context.Context, exec sqlx.ExtContext, assignment *models.Assignment, expectedStatus models.AssignmentStatus, expectedVersion int) error {
	const query = `UPDATE assignments SET
	assigned_to_sbc_id = :assigned_to_sbc_id,
	external_po_line_numbers = :external_po_line_numbers,
	status = :status,
	version = :version,
	assignment_notes = :assignment_notes,
	level1_approver_id = :level1_approver_id,
	level1_approved_at = :level1_approved_at,
	level1_remarks = :level1_remarks,
	level2_approver_id = :level2_approver_id,
	level2_approved_at = :level2_approved_at,
	level2_remarks = :level2_remarks,
	rejected_by_id = :rejected_by_id,
	rejected_at = :rejected_at,
	rejection_reason = :rejection_reason,
	cancelled_by_id = :cancelled_by_id,
	cancelled_at = :cancelled_at,
	submitted_at = :submitted_at,
	updated_at = :updated_at
	WHERE id = :id AND status = :expected_status AND version = :expected_version`

	params := struct {
		models.Assignment
		ExpectedStatus  models.AssignmentStatus `db:"expected_status"`
		ExpectedVersion int                     `db:"expected_version"`
	}{*assignment, expectedStatus, expectedVersion}

	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, params)
	if err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update assignment rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountByStatus aggregates assignments per status.
func (r *AssignmentRepository) CountByStatus(ctx context.Context) (map[models.AssignmentStatus]int, error) {
	const query = `SELECT status, COUNT(*) AS total FROM assignments GROUP BY status`
	var rows []struct {
		Status models.AssignmentStatus `db:"status"`
		Total  int                     `db:"total"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("count assignments by status: %w", err)
	}
	counts := make(map[models.AssignmentStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}
