package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/po-assignment-api/internal/dto"
	"github.com/noah-isme/po-assignment-api/internal/models"
	"github.com/noah-isme/po-assignment-api/pkg/database"
	appErrors "github.com/noah-isme/po-assignment-api/pkg/errors"
	"github.com/noah-isme/po-assignment-api/pkg/logger"
)

const (
	defaultPerPage      = 20
	maxPerPage          = 100
	defaultMaxBatchSize = 500
)

type assignmentStore interface {
	LockInternalIDSequence(ctx context.Context, exec sqlx.ExtContext, prefix string) error
	ListInternalIDsWithPrefix(ctx context.Context, exec sqlx.ExtContext, prefix string) ([]string, error)
	ListClaimingByPONumbers(ctx context.Context, exec sqlx.ExtContext, poNumbers []string) ([]models.Assignment, error)
	InsertMany(ctx context.Context, exec sqlx.ExtContext, assignments []*models.Assignment) error
	ReplaceLines(ctx context.Context, exec sqlx.ExtContext, assignmentID, poNumber string, lines []string) error
	ReleaseLines(ctx context.Context, exec sqlx.ExtContext, assignmentID string) error
	GetByID(ctx context.Context, id string) (*models.Assignment, error)
	GetByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Assignment, error)
	List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, int, error)
	UpdateWithExpectedState(ctx context.Context, exec sqlx.ExtContext, assignment *models.Assignment, expectedStatus models.AssignmentStatus, expectedVersion int) error
	CountByStatus(ctx context.Context) (map[models.AssignmentStatus]int, error)
}

type userDirectory interface {
	FindByID(ctx context.Context, id string) (*models.InternalUser, error)
}

// AssignmentService runs the PO assignment workflow: batch creation, edits, approvals and reads.
type AssignmentService struct {
	repo         assignmentStore
	users        userDirectory
	tx           database.TxBeginner
	machine      *StateMachine
	audit        auditLogger
	cache        *CacheService
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
	maxBatchSize int
	statsTTL     time.Duration
}

// AssignmentServiceOption configures the service.
type AssignmentServiceOption func(*AssignmentService)

// WithAssignmentAudit sets the audit trail writer.
func WithAssignmentAudit(audit auditLogger) AssignmentServiceOption {
	return func(s *AssignmentService) {
		s.audit = audit
	}
}

// WithAssignmentCache enables statistics caching.
func WithAssignmentCache(cache *CacheService, ttl time.Duration) AssignmentServiceOption {
	return func(s *AssignmentService) {
		s.cache = cache
		if ttl > 0 {
			s.statsTTL = ttl
		}
	}
}

// WithAssignmentMetrics records workflow counters.
func WithAssignmentMetrics(metrics *MetricsService) AssignmentServiceOption {
	return func(s *AssignmentService) {
		s.metrics = metrics
	}
}

// WithAssignmentClock overrides the time source.
func WithAssignmentClock(now func() time.Time) AssignmentServiceOption {
	return func(s *AssignmentService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxBatchSize caps the number of selections accepted by one bulk request.
func WithMaxBatchSize(n int) AssignmentServiceOption {
	return func(s *AssignmentService) {
		if n > 0 {
			s.maxBatchSize = n
		}
	}
}

// WithAssignmentValidator overrides the payload validator.
func WithAssignmentValidator(v *validator.Validate) AssignmentServiceOption {
	return func(s *AssignmentService) {
		if v != nil {
			s.validator = v
		}
	}
}

// NewAssignmentService constructs the service with defaults.
func NewAssignmentService(repo assignmentStore, users userDirectory, tx database.TxBeginner, machine *StateMachine, logger *zap.Logger, opts ...AssignmentServiceOption) *AssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if machine == nil {
		machine = NewStateMachine(models.TopologySingle)
	}
	svc := &AssignmentService{
		repo:         repo,
		users:        users,
		tx:           tx,
		machine:      machine,
		validator:    validator.New(),
		logger:       logger,
		now:          time.Now,
		maxBatchSize: defaultMaxBatchSize,
		statsTTL:     5 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Topology reports the approval topology in force.
func (s *AssignmentService) Topology() models.ApprovalTopology {
	return s.machine.Topology()
}

// BulkCreate splits a mixed selection into one DRAFT assignment per PO and stores them atomically.
func (s *AssignmentService) BulkCreate(ctx context.Context, req dto.BulkCreateAssignmentsRequest, actorID string) (*dto.BulkCreateResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk assignment payload")
	}
	actor, err := s.creator(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if len(req.Selections) > s.maxBatchSize {
		return nil, appErrors.WithDetails(appErrors.ErrValidation,
			fmt.Sprintf("at most %d PO lines can be assigned in one request", s.maxBatchSize),
			map[string]interface{}{"max_batch_size": s.maxBatchSize, "received": len(req.Selections)})
	}
	groups, err := GroupByPO(req.Selections)
	if err != nil {
		return nil, err
	}
	assignee, err := s.resolveAssignee(ctx, req.AssignedToSBCID)
	if err != nil {
		return nil, err
	}

	created, err := s.createGroups(ctx, groups, actor, assignee.ID, req.AssignmentNotes)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.AssignmentSummary, len(created))
	for i, a := range created {
		summaries[i] = a.Summary()
	}
	return &dto.BulkCreateResult{
		Success:           true,
		Message:           fmt.Sprintf("Created %d assignment(s) successfully", len(created)),
		Created:           summaries,
		Count:             len(created),
		AssignedToSBCID:   assignee.ID,
		AssignedToSBCName: assignee.DisplayName(),
	}, nil
}

// CreateSingle creates one DRAFT assignment for lines of a single PO.
func (s *AssignmentService) CreateSingle(ctx context.Context, req dto.CreateAssignmentRequest, actorID string) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	actor, err := s.creator(ctx, actorID)
	if err != nil {
		return nil, err
	}
	groups, err := GroupByPO(req.Selections())
	if err != nil {
		return nil, err
	}
	assignee, err := s.resolveAssignee(ctx, req.AssignedToSBCID)
	if err != nil {
		return nil, err
	}

	created, err := s.createGroups(ctx, groups, actor, assignee.ID, req.AssignmentNotes)
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

func (s *AssignmentService) createGroups(ctx context.Context, groups []models.POLineGroup, actor models.Actor, assigneeID, notes string) ([]*models.Assignment, error) {
	now := s.now().UTC()
	poNumbers := make([]string, len(groups))
	for i, g := range groups {
		poNumbers[i] = g.PONumber
	}

	var created []*models.Assignment
	err := database.RunInTx(ctx, s.tx, nil, func(tx *sqlx.Tx) error {
		prefix := InternalIDDatePrefix(now)
		if err := s.repo.LockInternalIDSequence(ctx, tx, prefix); err != nil {
			return err
		}
		existing, err := s.repo.ListClaimingByPONumbers(ctx, tx, poNumbers)
		if err != nil {
			return err
		}
		if err := CheckNoConflicts(groups, existing); err != nil {
			return err
		}
		issued, err := s.repo.ListInternalIDsWithPrefix(ctx, tx, prefix)
		if err != nil {
			return err
		}
		ids := NextInternalIDs(issued, now, len(groups))

		batch := make([]*models.Assignment, len(groups))
		for i, g := range groups {
			batch[i] = &models.Assignment{
				InternalPOID:          ids[i],
				CreatedByPMID:         actor.ID,
				AssignedToSBCID:       assigneeID,
				ExternalPONumber:      g.PONumber,
				ExternalPOLineNumbers: append([]string(nil), g.Lines...),
				Status:                models.AssignmentStatusDraft,
				Version:               1,
				AssignmentNotes:       optionalString(notes),
				CreatedAt:             now,
				UpdatedAt:             now,
			}
		}
		if err := s.repo.InsertMany(ctx, tx, batch); err != nil {
			return err
		}
		created = batch
		return nil
	})
	if err != nil {
		return nil, s.storeError(err, "failed to create assignments")
	}

	s.metrics.RecordAssignmentsCreated(len(created))
	s.invalidateStats(ctx)
	log := logger.FromContext(ctx, s.logger)
	for _, a := range created {
		s.emitAudit(ctx, actor.ID, models.AuditActionAssignmentCreate, a, nil, a)
		log.Info("assignment created",
			zap.String("internal_po_id", a.InternalPOID),
			zap.String("po_number", a.ExternalPONumber),
			zap.Int("lines", len(a.ExternalPOLineNumbers)),
			zap.String("actor_id", actor.ID))
	}
	return created, nil
}

// Update edits a DRAFT assignment. Line changes are checked against every other assignment holding lines of the same PO.
func (s *AssignmentService) Update(ctx context.Context, id string, req dto.UpdateAssignmentRequest, actorID string) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment update payload")
	}
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	var assigneeID string
	if req.AssignedToSBCID != nil {
		assignee, err := s.resolveAssignee(ctx, *req.AssignedToSBCID)
		if err != nil {
			return nil, err
		}
		assigneeID = assignee.ID
	}

	var before, after *models.Assignment
	err = database.RunInTx(ctx, s.tx, nil, func(tx *sqlx.Tx) error {
		current, err := s.repo.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err := s.machine.Apply(current, actor, Transition{Event: EventUpdate}, s.now())
		if err != nil {
			return err
		}

		if assigneeID != "" {
			next.AssignedToSBCID = assigneeID
		}
		if req.AssignmentNotes != nil {
			next.AssignmentNotes = optionalString(*req.AssignmentNotes)
		}
		linesChanged := false
		if req.ExternalPOLineNumbers != nil {
			selections := make([]models.POLineSelection, len(req.ExternalPOLineNumbers))
			for i, line := range req.ExternalPOLineNumbers {
				selections[i] = models.POLineSelection{PONumber: current.ExternalPONumber, POLine: line}
			}
			groups, err := GroupByPO(selections)
			if err != nil {
				return err
			}
			existing, err := s.repo.ListClaimingByPONumbers(ctx, tx, []string{current.ExternalPONumber})
			if err != nil {
				return err
			}
			if err := CheckNoConflictsExcluding(groups, existing, current.ID); err != nil {
				return err
			}
			next.ExternalPOLineNumbers = append([]string(nil), groups[0].Lines...)
			linesChanged = true
		}

		if err := s.repo.UpdateWithExpectedState(ctx, tx, next, current.Status, current.Version); err != nil {
			return s.casError(err)
		}
		if linesChanged {
			if err := s.repo.ReplaceLines(ctx, tx, next.ID, next.ExternalPONumber, next.ExternalPOLineNumbers); err != nil {
				return err
			}
		}
		before, after = current, next
		return nil
	})
	if err != nil {
		s.metrics.RecordTransition(string(EventUpdate), outcomeOf(err))
		return nil, s.storeError(err, "failed to update assignment")
	}

	s.metrics.RecordTransition(string(EventUpdate), "ok")
	s.invalidateStats(ctx)
	s.emitAudit(ctx, actor.ID, models.AuditActionAssignmentUpdate, after, before, after)
	logger.FromContext(ctx, s.logger).Info("assignment updated", zap.String("internal_po_id", after.InternalPOID), zap.String("actor_id", actor.ID))
	return after, nil
}

// Submit moves a DRAFT assignment into the first approval queue.
func (s *AssignmentService) Submit(ctx context.Context, id, actorID string) (*models.Assignment, error) {
	return s.transition(ctx, id, actorID, Transition{Event: EventSubmit}, models.AuditActionAssignmentSubmit)
}

// Approve records an approval at the level the assignment is pending at. A non-zero req.Level must match it.
func (s *AssignmentService) Approve(ctx context.Context, id, actorID string, req dto.ApproveAssignmentRequest) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid approval payload")
	}
	return s.transition(ctx, id, actorID, Transition{Event: EventApprove, Level: req.Level, Remarks: req.Remarks}, models.AuditActionAssignmentApprove)
}

// Reject ends the workflow with a reason and releases the lines.
func (s *AssignmentService) Reject(ctx context.Context, id, actorID string, req dto.RejectAssignmentRequest) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rejection payload")
	}
	return s.transition(ctx, id, actorID, Transition{Event: EventReject, Reason: req.Reason}, models.AuditActionAssignmentReject)
}

// Cancel withdraws a DRAFT assignment and releases its lines.
func (s *AssignmentService) Cancel(ctx context.Context, id, actorID string) (*models.Assignment, error) {
	return s.transition(ctx, id, actorID, Transition{Event: EventCancel}, models.AuditActionAssignmentCancel)
}

func (s *AssignmentService) transition(ctx context.Context, id, actorID string, tr Transition, action string) (*models.Assignment, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	var before, after *models.Assignment
	err = database.RunInTx(ctx, s.tx, nil, func(tx *sqlx.Tx) error {
		current, err := s.repo.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err := s.machine.Apply(current, actor, tr, s.now())
		if err != nil {
			return err
		}
		if err := s.repo.UpdateWithExpectedState(ctx, tx, next, current.Status, current.Version); err != nil {
			return s.casError(err)
		}
		if !next.Status.ClaimsLines() {
			if err := s.repo.ReleaseLines(ctx, tx, next.ID); err != nil {
				return err
			}
		}
		before, after = current, next
		return nil
	})
	if err != nil {
		s.metrics.RecordTransition(string(tr.Event), outcomeOf(err))
		return nil, s.storeError(err, fmt.Sprintf("failed to %s assignment", tr.Event))
	}

	s.metrics.RecordTransition(string(tr.Event), "ok")
	s.invalidateStats(ctx)
	s.emitAudit(ctx, actor.ID, action, after, before, after)
	logger.FromContext(ctx, s.logger).Info("assignment transitioned",
		zap.String("internal_po_id", after.InternalPOID),
		zap.String("event", string(tr.Event)),
		zap.String("from", string(before.Status)),
		zap.String("to", string(after.Status)),
		zap.String("actor_id", actor.ID))
	return after, nil
}

// Get returns one assignment if the actor may see it.
func (s *AssignmentService) Get(ctx context.Context, id, actorID string) (*models.Assignment, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	assignment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	if !s.canView(actor, assignment) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not permitted to view this assignment")
	}
	return assignment, nil
}

func (s *AssignmentService) canView(actor models.Actor, a *models.Assignment) bool {
	switch {
	case actor.Caps.Admin:
		return true
	case a.CreatedByPMID == actor.ID:
		return true
	case a.AssignedToSBCID == actor.ID && a.Status == models.AssignmentStatusApproved:
		return true
	}
	level, pending := s.machine.Topology().LevelOf(a.Status)
	return pending && actor.Caps.CanApproveLevel(level)
}

// ListMine lists assignments created by the actor.
func (s *AssignmentService) ListMine(ctx context.Context, actorID string, query dto.AssignmentListQuery) (*dto.AssignmentListResult, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	filter, err := buildFilter(query)
	if err != nil {
		return nil, err
	}
	filter.CreatedByPMID = actor.ID
	filter.AssignedToSBCID = ""
	return s.list(ctx, filter)
}

// ListPending lists assignments waiting at an approval level the actor can approve, oldest submission first.
func (s *AssignmentService) ListPending(ctx context.Context, actorID string, query dto.AssignmentListQuery) (*dto.AssignmentListResult, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Caps.CanApproveAny() {
		return nil, appErrors.WithDetails(appErrors.ErrForbidden, "approval capability required", map[string]interface{}{"required": "approver"})
	}
	filter, err := buildFilter(query)
	if err != nil {
		return nil, err
	}
	topology := s.machine.Topology()
	filter.Status = nil
	for level := 1; level <= topology.Levels(); level++ {
		if actor.Caps.CanApproveLevel(level) {
			filter.Status = append(filter.Status, topology.PendingStatus(level))
		}
	}
	if len(filter.Status) == 0 {
		return &dto.AssignmentListResult{Items: []models.Assignment{}, Pagination: models.NewPagination(filter.Page, filter.PageSize, 0)}, nil
	}
	filter.OrderBy = "submitted_at"
	return s.list(ctx, filter)
}

// ListMyWork lists APPROVED assignments handed to the acting SBC, most recently approved first.
func (s *AssignmentService) ListMyWork(ctx context.Context, actorID string, query dto.AssignmentListQuery) (*dto.AssignmentListResult, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleSBC {
		return nil, appErrors.WithDetails(appErrors.ErrForbidden, "only SBC accounts have assigned work", map[string]interface{}{"required": "sbc"})
	}
	filter, err := buildFilter(query)
	if err != nil {
		return nil, err
	}
	filter.AssignedToSBCID = actor.ID
	filter.CreatedByPMID = ""
	filter.Status = []models.AssignmentStatus{models.AssignmentStatusApproved}
	filter.OrderBy = "approved_at"
	return s.list(ctx, filter)
}

// ListAll lists every assignment matching the query. Admin only.
func (s *AssignmentService) ListAll(ctx context.Context, actorID string, query dto.AssignmentListQuery) (*dto.AssignmentListResult, error) {
	if _, err := s.admin(ctx, actorID); err != nil {
		return nil, err
	}
	filter, err := buildFilter(query)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, filter)
}

func (s *AssignmentService) list(ctx context.Context, filter models.AssignmentFilter) (*dto.AssignmentListResult, error) {
	start := time.Now()
	items, total, err := s.repo.List(ctx, filter)
	s.metrics.ObserveDBQuery("assignments_list", time.Since(start))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	if items == nil {
		items = []models.Assignment{}
	}
	return &dto.AssignmentListResult{Items: items, Pagination: models.NewPagination(filter.Page, filter.PageSize, total)}, nil
}

// Stats counts assignments per status. Admin only; served from cache when available.
func (s *AssignmentService) Stats(ctx context.Context, actorID string) (*models.AssignmentStats, bool, error) {
	if _, err := s.admin(ctx, actorID); err != nil {
		return nil, false, err
	}

	value, hit, err := s.cache.Remember(ctx, statsCacheKey(s.machine.Topology()), &models.AssignmentStats{}, s.statsTTL, s.countStats)
	if err != nil {
		return nil, false, err
	}
	return value.(*models.AssignmentStats), hit, nil
}

func (s *AssignmentService) countStats(ctx context.Context) (interface{}, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count assignments")
	}
	stats := &models.AssignmentStats{ByStatus: make(map[models.AssignmentStatus]int), GeneratedAt: s.now().UTC()}
	statuses := append([]models.AssignmentStatus{models.AssignmentStatusDraft}, s.machine.Topology().PendingStatuses()...)
	statuses = append(statuses, models.AssignmentStatusApproved, models.AssignmentStatusRejected, models.AssignmentStatusCancelled)
	for _, status := range statuses {
		stats.ByStatus[status] = 0
	}
	for status, n := range counts {
		stats.ByStatus[status] = n
		stats.Total += n
	}
	return stats, nil
}

func (s *AssignmentService) resolveActor(ctx context.Context, actorID string) (models.Actor, error) {
	if strings.TrimSpace(actorID) == "" {
		return models.Actor{}, appErrors.Clone(appErrors.ErrUnauthorized, "missing actor")
	}
	user, err := s.users.FindByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Actor{}, appErrors.Clone(appErrors.ErrForbidden, "actor account not found")
		}
		return models.Actor{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load actor")
	}
	actor := models.ActorFromUser(user)
	if !actor.Active {
		return models.Actor{}, appErrors.Clone(appErrors.ErrForbidden, "actor account is inactive")
	}
	return actor, nil
}

func (s *AssignmentService) creator(ctx context.Context, actorID string) (models.Actor, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return actor, err
	}
	if !actor.Caps.CreateAssignments {
		return actor, appErrors.WithDetails(appErrors.ErrForbidden, "not permitted to create assignments",
			map[string]interface{}{"required": "create_assignments"})
	}
	return actor, nil
}

func (s *AssignmentService) admin(ctx context.Context, actorID string) (models.Actor, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return actor, err
	}
	if !actor.Caps.Admin {
		return actor, appErrors.WithDetails(appErrors.ErrForbidden, "admin capability required", map[string]interface{}{"required": "admin"})
	}
	return actor, nil
}

func (s *AssignmentService) resolveAssignee(ctx context.Context, sbcID string) (*models.InternalUser, error) {
	user, err := s.users.FindByID(ctx, sbcID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.WithDetails(appErrors.ErrNotFound, "SBC not found", map[string]interface{}{"assigned_to_sbc_id": sbcID})
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load SBC")
	}
	if user.Role != models.RoleSBC || !user.Active {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "assignee must be an active SBC account",
			map[string]interface{}{"assigned_to_sbc_id": sbcID, "role": string(user.Role), "is_active": user.Active})
	}
	return user, nil
}

// casError turns a lost compare-and-swap into an invalid-state failure.
func (s *AssignmentService) casError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		s.metrics.RecordConcurrentUpdate()
		return appErrors.Clone(appErrors.ErrInvalidState, "assignment changed concurrently, reload and retry")
	}
	return err
}

// storeError keeps domain errors, reports unique violations as conflicts and hides everything else.
func (s *AssignmentService) storeError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		if appErr.Code == appErrors.ErrConflict.Code {
			s.metrics.RecordLineConflict()
		}
		return appErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
	}
	if constraint, ok := database.UniqueViolation(err); ok {
		s.metrics.RecordLineConflict()
		return appErrors.WithDetails(appErrors.ErrConflict, "PO lines or internal id already taken, reload and retry",
			map[string]interface{}{"constraint": constraint})
	}
	s.logger.Error(message, zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *AssignmentService) invalidateStats(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, assignmentCacheInvalidation)
}

func (s *AssignmentService) emitAudit(ctx context.Context, actorID, action string, subject, before, after *models.Assignment) {
	if s.audit == nil || subject == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   models.AuditResourceAssignment,
		ResourceID: &subject.ID,
		IPAddress:  "system",
		UserAgent:  "assignment-service",
	}
	if before != nil {
		entry.OldValues = auditPayload(s.logger, action, before)
	}
	if after != nil {
		entry.NewValues = auditPayload(s.logger, action, after)
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", action), zap.Error(err))
	}
}

func buildFilter(query dto.AssignmentListQuery) (models.AssignmentFilter, error) {
	page := query.Page
	if page == 0 {
		page = 1
	}
	perPage := query.PerPage
	if perPage == 0 {
		perPage = defaultPerPage
	}
	if page < 1 || perPage < 1 || perPage > maxPerPage {
		return models.AssignmentFilter{}, appErrors.WithDetails(appErrors.ErrValidation,
			fmt.Sprintf("page must be positive and per_page between 1 and %d", maxPerPage),
			map[string]interface{}{"page": query.Page, "per_page": query.PerPage})
	}
	for _, status := range query.Status {
		if !status.Valid() {
			return models.AssignmentFilter{}, appErrors.WithDetails(appErrors.ErrValidation,
				fmt.Sprintf("unknown status %q", status), map[string]interface{}{"status": string(status)})
		}
	}
	filter := models.AssignmentFilter{
		Status:          query.Status,
		CreatedByPMID:   strings.TrimSpace(query.CreatedByPMID),
		AssignedToSBCID: strings.TrimSpace(query.AssignedToSBCID),
		Page:            page,
		PageSize:        perPage,
	}
	if po := strings.TrimSpace(query.PONumber); po != "" {
		filter.PONumbers = []string{po}
	}
	return filter, nil
}

func outcomeOf(err error) string {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.ErrNotFound.Code
	}
	return appErrors.ErrInternal.Code
}

func optionalString(value string) *string {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	return &v
}
