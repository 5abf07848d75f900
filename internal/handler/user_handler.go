package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/po-assignment-api/internal/models"
	"github.com/noah-isme/po-assignment-api/internal/service"
	appErrors "github.com/noah-isme/po-assignment-api/pkg/errors"
	"github.com/noah-isme/po-assignment-api/pkg/response"
)

type userService interface {
	Create(ctx context.Context, req service.CreateUserRequest, actorID string, meta models.LoginRequest) (*models.InternalUser, error)
	CreateSBC(ctx context.Context, req service.CreateSBCRequest, actorID string, meta models.LoginRequest) (*models.InternalUser, error)
	List(ctx context.Context, query service.UserListQuery, actorID string) ([]models.InternalUser, *models.Pagination, error)
	Get(ctx context.Context, id, actorID string) (*models.InternalUser, error)
	Update(ctx context.Context, id string, req service.UpdateUserRequest, actorID string, meta models.LoginRequest) (*models.InternalUser, error)
	Deactivate(ctx context.Context, id, actorID string, meta models.LoginRequest) (*models.InternalUser, error)
	Activate(ctx context.Context, id, actorID string, meta models.LoginRequest) (*models.InternalUser, error)
	GrantApproval(ctx context.Context, id string, req service.ApprovalPermissionRequest, actorID string, meta models.LoginRequest) (*models.InternalUser, error)
	RevokeApproval(ctx context.Context, id string, req service.ApprovalPermissionRequest, actorID string, meta models.LoginRequest) (*models.InternalUser, error)
	Stats(ctx context.Context, actorID string) (*models.UserStats, error)
}

// UserHandler manages internal user accounts.
type UserHandler struct {
	service userService
}

// NewUserHandler creates a new user handler.
func NewUserHandler(svc userService) *UserHandler {
	return &UserHandler{service: svc}
}

// Create godoc
// @Summary Create internal user
// @Description Create a project manager, approver, SBC or admin account. Only admins may set approval or user-management capabilities.
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.CreateUserRequest true "User payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /users [post]
func (h *UserHandler) Create(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req service.CreateUserRequest
	if !bindJSON(c, &req, "invalid user payload") {
		return
	}
	user, err := h.service.Create(c.Request.Context(), req, claims.UserID, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, user)
}

// CreateSBC godoc
// @Summary Register a subcontractor account
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.CreateSBCRequest true "SBC payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /users/sbc [post]
func (h *UserHandler) CreateSBC(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req service.CreateSBCRequest
	if !bindJSON(c, &req, "invalid sbc payload") {
		return
	}
	user, err := h.service.CreateSBC(c.Request.Context(), req, claims.UserID, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, user)
}

// List godoc
// @Summary List internal users
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Param role query string false "ADMIN, PROJECT_MANAGER or SBC"
// @Param is_active query bool false "Activation state"
// @Param search query string false "Matches email, name or company"
// @Param page query int false "Page"
// @Param per_page query int false "Page size (max 100)"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /users [get]
func (h *UserHandler) List(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var query service.UserListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	users, pagination, err := h.service.List(c.Request.Context(), query, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, pagination)
}

// Stats godoc
// @Summary Count users by role and activity
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /users/stats/overview [get]
func (h *UserHandler) Stats(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	stats, err := h.service.Stats(c.Request.Context(), claims.UserID)
	respond(c, http.StatusOK, stats, err)
}

// Get godoc
// @Summary Get a user
// @Description Owners may read their own account, admins any account
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	user, err := h.service.Get(c.Request.Context(), c.Param("id"), claims.UserID)
	respond(c, http.StatusOK, user, err)
}

// Update godoc
// @Summary Update a user profile
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Param payload body service.UpdateUserRequest true "Profile fields"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id} [put]
func (h *UserHandler) Update(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req service.UpdateUserRequest
	if !bindJSON(c, &req, "invalid user payload") {
		return
	}
	user, err := h.service.Update(c.Request.Context(), c.Param("id"), req, claims.UserID, requestMeta(c))
	respond(c, http.StatusOK, user, err)
}

// Deactivate godoc
// @Summary Deactivate a user
// @Description Soft delete. The account's refresh tokens are revoked. Admins cannot deactivate themselves.
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id} [delete]
func (h *UserHandler) Deactivate(c *gin.Context) {
	h.transition(c, h.service.Deactivate)
}

// Activate godoc
// @Summary Reactivate a user
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id}/activate [post]
func (h *UserHandler) Activate(c *gin.Context) {
	h.transition(c, h.service.Activate)
}

func (h *UserHandler) transition(c *gin.Context, fn func(ctx context.Context, id, actorID string, meta models.LoginRequest) (*models.InternalUser, error)) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	user, err := fn(c.Request.Context(), c.Param("id"), claims.UserID, requestMeta(c))
	respond(c, http.StatusOK, user, err)
}

// GrantApproval godoc
// @Summary Grant approval permission to a project manager
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Param payload body service.ApprovalPermissionRequest false "Level (1 or 2, default 1) and reason"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /users/{id}/grant-approval [post]
func (h *UserHandler) GrantApproval(c *gin.Context) {
	h.permission(c, h.service.GrantApproval)
}

// RevokeApproval godoc
// @Summary Revoke approval permission from a project manager
// @Description Without a level every approval level is removed
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Param payload body service.ApprovalPermissionRequest false "Level and reason"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /users/{id}/revoke-approval [post]
func (h *UserHandler) RevokeApproval(c *gin.Context) {
	h.permission(c, h.service.RevokeApproval)
}

type permissionFunc func(ctx context.Context, id string, req service.ApprovalPermissionRequest, actorID string, meta models.LoginRequest) (*models.InternalUser, error)

func (h *UserHandler) permission(c *gin.Context, fn permissionFunc) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req service.ApprovalPermissionRequest
	if !bindOptionalJSON(c, &req, "invalid approval permission payload") {
		return
	}
	user, err := fn(c.Request.Context(), c.Param("id"), req, claims.UserID, requestMeta(c))
	respond(c, http.StatusOK, user, err)
}
