package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/po-assignment-api/internal/dto"
	"github.com/noah-isme/po-assignment-api/internal/middleware"
	"github.com/noah-isme/po-assignment-api/internal/models"
	appErrors "github.com/noah-isme/po-assignment-api/pkg/errors"
	"github.com/noah-isme/po-assignment-api/pkg/response"
)

type assignmentService interface {
	Topology() models.ApprovalTopology
	BulkCreate(ctx context.Context, req dto.BulkCreateAssignmentsRequest, actorID string) (*dto.BulkCreateResult, error)
	CreateSingle(ctx context.Context, req dto.CreateAssignmentRequest, actorID string) (*models.Assignment, error)
	Update(ctx context.Context, id string, req dto.UpdateAssignmentRequest, actorID string) (*models.Assignment, error)
	Submit(ctx context.Context, id, actorID string) (*models.Assignment, error)
	Approve(ctx context.Context, id, actorID string, req dto.ApproveAssignmentRequest) (*models.Assignment, error)
	Reject(ctx context.Context, id, actorID string, req dto.RejectAssignmentRequest) (*models.Assignment, error)
	Cancel(ctx context.Context, id, actorID string) (*models.Assignment, error)
	Get(ctx context.Context, id, actorID string) (*models.Assignment, error)
	ListMine(ctx context.Context, actorID string, query dto.AssignmentListQuery) (*dto.AssignmentListResult, error)
	ListPending(ctx context.Context, actorID string, query dto.AssignmentListQuery) (*dto.AssignmentListResult, error)
	ListMyWork(ctx context.Context, actorID string, query dto.AssignmentListQuery) (*dto.AssignmentListResult, error)
	ListAll(ctx context.Context, actorID string, query dto.AssignmentListQuery) (*dto.AssignmentListResult, error)
	Stats(ctx context.Context, actorID string) (*models.AssignmentStats, bool, error)
}

type assignmentExporter interface {
	ExportAssignments(ctx context.Context, actorID string, req dto.ExportAssignmentsRequest) (*dto.ExportResult, error)
}

// AssignmentHandler exposes the PO assignment workflow over REST.
type AssignmentHandler struct {
	service  assignmentService
	exporter assignmentExporter
}

// NewAssignmentHandler constructs the handler.
func NewAssignmentHandler(service assignmentService, exporter assignmentExporter) *AssignmentHandler {
	return &AssignmentHandler{service: service, exporter: exporter}
}

// BulkCreate godoc
// @Summary Assign a mixed selection of PO lines to one SBC
// @Description Splits the selection into one DRAFT assignment per external PO, all or nothing.
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body dto.BulkCreateAssignmentsRequest true "Selection"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments/bulk [post]
func (h *AssignmentHandler) BulkCreate(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.BulkCreateAssignmentsRequest
	if !bindJSON(c, &req, "invalid bulk assignment payload") {
		return
	}
	result, err := h.service.BulkCreate(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, result, nil)
}

// Create godoc
// @Summary Create one assignment for lines of a single PO
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body dto.CreateAssignmentRequest true "Assignment"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments [post]
func (h *AssignmentHandler) Create(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.CreateAssignmentRequest
	if !bindJSON(c, &req, "invalid assignment payload") {
		return
	}
	assignment, err := h.service.CreateSingle(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}

// Update godoc
// @Summary Edit a DRAFT assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.UpdateAssignmentRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments/{id} [put]
func (h *AssignmentHandler) Update(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.UpdateAssignmentRequest
	if !bindJSON(c, &req, "invalid assignment update payload") {
		return
	}
	assignment, err := h.service.Update(c.Request.Context(), c.Param("id"), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// Submit godoc
// @Summary Submit a DRAFT assignment for approval
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments/{id}/submit [post]
func (h *AssignmentHandler) Submit(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id, actorID string) (*models.Assignment, error) {
		return h.service.Submit(ctx, id, actorID)
	})
}

// Approve godoc
// @Summary Approve an assignment at its pending level
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.ApproveAssignmentRequest false "Level and remarks"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments/{id}/approve [post]
func (h *AssignmentHandler) Approve(c *gin.Context) {
	var req dto.ApproveAssignmentRequest
	if !bindOptionalJSON(c, &req, "invalid approval payload") {
		return
	}
	h.transition(c, func(ctx context.Context, id, actorID string) (*models.Assignment, error) {
		return h.service.Approve(ctx, id, actorID, req)
	})
}

// Reject godoc
// @Summary Reject a pending assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.RejectAssignmentRequest true "Reason"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments/{id}/reject [post]
func (h *AssignmentHandler) Reject(c *gin.Context) {
	var req dto.RejectAssignmentRequest
	if !bindOptionalJSON(c, &req, "invalid rejection payload") {
		return
	}
	h.transition(c, func(ctx context.Context, id, actorID string) (*models.Assignment, error) {
		return h.service.Reject(ctx, id, actorID, req)
	})
}

// Cancel godoc
// @Summary Cancel a DRAFT assignment
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments/{id}/cancel [post]
func (h *AssignmentHandler) Cancel(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id, actorID string) (*models.Assignment, error) {
		return h.service.Cancel(ctx, id, actorID)
	})
}

func (h *AssignmentHandler) transition(c *gin.Context, fn func(ctx context.Context, id, actorID string) (*models.Assignment, error)) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	assignment, err := fn(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// Get godoc
// @Summary Get an assignment
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /assignments/{id} [get]
func (h *AssignmentHandler) Get(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	assignment, err := h.service.Get(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// ListMine godoc
// @Summary List assignments I created
// @Tags Assignments
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param po_number query string false "External PO number"
// @Param page query int false "Page"
// @Param per_page query int false "Page size (max 100)"
// @Success 200 {object} response.Envelope
// @Router /assignments/my [get]
func (h *AssignmentHandler) ListMine(c *gin.Context) {
	h.list(c, h.service.ListMine)
}

// ListPending godoc
// @Summary List assignments waiting for my approval
// @Tags Assignments
// @Produce json
// @Param page query int false "Page"
// @Param per_page query int false "Page size (max 100)"
// @Success 200 {object} response.Envelope
// @Router /assignments/pending [get]
func (h *AssignmentHandler) ListPending(c *gin.Context) {
	h.list(c, h.service.ListPending)
}

// ListMyWork godoc
// @Summary List approved work assigned to me
// @Tags Assignments
// @Produce json
// @Param page query int false "Page"
// @Param per_page query int false "Page size (max 100)"
// @Success 200 {object} response.Envelope
// @Router /assignments/my-work [get]
func (h *AssignmentHandler) ListMyWork(c *gin.Context) {
	h.list(c, h.service.ListMyWork)
}

// ListAll godoc
// @Summary List all assignments
// @Tags Assignments
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param po_number query string false "External PO number"
// @Param created_by query string false "Creator user ID"
// @Param assigned_to query string false "Assignee SBC ID"
// @Param page query int false "Page"
// @Param per_page query int false "Page size (max 100)"
// @Success 200 {object} response.Envelope
// @Router /assignments [get]
func (h *AssignmentHandler) ListAll(c *gin.Context) {
	h.list(c, h.service.ListAll)
}

type listFunc func(ctx context.Context, actorID string, query dto.AssignmentListQuery) (*dto.AssignmentListResult, error)

func (h *AssignmentHandler) list(c *gin.Context, fn listFunc) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	query, err := parseListQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := fn(c.Request.Context(), claims.UserID, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "approval_topology", string(h.service.Topology()))
	response.JSON(c, http.StatusOK, result.Items, result.Pagination, middleware.ExtractMeta(c))
}

// Stats godoc
// @Summary Count assignments by status
// @Tags Assignments
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /assignments/stats [get]
func (h *AssignmentHandler) Stats(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	stats, cached, err := h.service.Stats(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cached)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Export assignments as CSV or PDF
// @Tags Assignments
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv (default) or pdf"
// @Param status query string false "Comma separated statuses"
// @Param po_number query string false "External PO number"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /assignments/export [get]
func (h *AssignmentHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export service not configured"))
		return
	}
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	query, err := parseListQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.exporter.ExportAssignments(c.Request.Context(), claims.UserID, dto.ExportAssignmentsRequest{
		Format:              c.Query("format"),
		AssignmentListQuery: query,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, result.Filename, result.ContentType, result.Body)
}

func parseListQuery(c *gin.Context) (dto.AssignmentListQuery, error) {
	query := dto.AssignmentListQuery{
		PONumber:        strings.TrimSpace(c.Query("po_number")),
		CreatedByPMID:   strings.TrimSpace(c.Query("created_by")),
		AssignedToSBCID: strings.TrimSpace(c.Query("assigned_to")),
	}
	if rawStatus := c.Query("status"); rawStatus != "" {
		for _, part := range strings.Split(rawStatus, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			query.Status = append(query.Status, models.AssignmentStatus(part))
		}
	}
	for key, dest := range map[string]*int{"page": &query.Page, "per_page": &query.PerPage} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return query, appErrors.WithDetails(appErrors.ErrValidation, key+" must be an integer", map[string]interface{}{key: raw})
		}
		*dest = n
	}
	return query, nil
}
