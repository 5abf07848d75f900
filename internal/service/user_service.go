package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/po-assignment-api/internal/models"
	appErrors "github.com/noah-isme/po-assignment-api/pkg/errors"
)

const (
	defaultUserPageSize = 20
	maxUserPageSize     = 100
)

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.InternalUser, error)
	FindByEmail(ctx context.Context, email string) (*models.InternalUser, error)
	FindBySBCCode(ctx context.Context, code string) (*models.InternalUser, error)
	CountByRole(ctx context.Context, role models.UserRole) (int, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.InternalUser, int, error)
	Stats(ctx context.Context) (*models.UserStats, error)
	Create(ctx context.Context, user *models.InternalUser) error
	Update(ctx context.Context, user *models.InternalUser) error
	RevokeUserRefreshTokens(ctx context.Context, userID string, revokedAt time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateUserRequest represents payload for creating internal accounts.
type CreateUserRequest struct {
	Email                string          `json:"email" validate:"required,email"`
	FullName             string          `json:"full_name" validate:"required,max=200"`
	Role                 models.UserRole `json:"role" validate:"required,oneof=ADMIN PROJECT_MANAGER SBC"`
	Password             string          `json:"password" validate:"required,min=8"`
	CanApprove           bool            `json:"can_approve"`
	CanApproveLevel2     bool            `json:"can_approve_level2"`
	CanCreateAssignments bool            `json:"can_create_assignments"`
	CanCreateUsers       bool            `json:"can_create_users"`
	SBCCode              string          `json:"sbc_code" validate:"required_if=Role SBC,max=50"`
	SBCCompanyName       string          `json:"sbc_company_name" validate:"required_if=Role SBC,max=200"`
}

// CreateSBCRequest registers a subcontractor account.
type CreateSBCRequest struct {
	Email          string `json:"email" validate:"required,email"`
	FullName       string `json:"full_name" validate:"required,max=200"`
	Password       string `json:"password" validate:"required,min=8"`
	SBCCode        string `json:"sbc_code" validate:"required,max=50"`
	SBCCompanyName string `json:"sbc_company_name" validate:"required,max=200"`
}

// UpdateUserRequest carries profile changes. Nil fields are left untouched.
type UpdateUserRequest struct {
	FullName       *string `json:"full_name" validate:"omitempty,min=1,max=200"`
	SBCCompanyName *string `json:"sbc_company_name" validate:"omitempty,min=1,max=200"`
}

// ApprovalPermissionRequest grants or revokes an approval level. Level 0 on revoke removes every level.
type ApprovalPermissionRequest struct {
	Level  int    `json:"level" validate:"omitempty,oneof=1 2"`
	Reason string `json:"reason" validate:"max=500"`
}

// UserListQuery holds the query string of the account listing.
type UserListQuery struct {
	Role     string `form:"role"`
	IsActive *bool  `form:"is_active"`
	Search   string `form:"search"`
	Page     int    `form:"page"`
	PerPage  int    `form:"per_page"`
}

// UserService handles internal account management.
type UserService struct {
	repo      userRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, validator: validate, logger: logger}
}

// Create adds an internal account on behalf of an admin or a user allowed to create users.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest, actorID string, meta models.LoginRequest) (*models.InternalUser, error) {
	actor, err := s.repo.FindByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "actor account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load actor")
	}
	if !actor.Active || (actor.Role != models.RoleAdmin && !actor.CanCreateUsers) {
		return nil, appErrors.WithDetails(appErrors.ErrForbidden, "not permitted to create users", map[string]interface{}{"required": "create_users"})
	}
	if actor.Role != models.RoleAdmin {
		if req.Role == models.RoleAdmin {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can create admin accounts")
		}
		if granted := privilegedFlags(req); len(granted) > 0 {
			return nil, appErrors.WithDetails(appErrors.ErrForbidden, "only admins can grant approval or user-management capabilities",
				map[string]interface{}{"capabilities": granted})
		}
	}
	return s.create(ctx, req, &actorID, meta)
}

func privilegedFlags(req CreateUserRequest) []string {
	var granted []string
	if req.CanApprove {
		granted = append(granted, "can_approve")
	}
	if req.CanApproveLevel2 {
		granted = append(granted, "can_approve_level2")
	}
	if req.CanCreateUsers {
		granted = append(granted, "can_create_users")
	}
	return granted
}

// BootstrapAdmin creates the first admin account. It refuses once any admin exists.
func (s *UserService) BootstrapAdmin(ctx context.Context, email, fullName, password string) (*models.InternalUser, error) {
	count, err := s.repo.CountByRole(ctx, models.RoleAdmin)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count admins")
	}
	if count > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrConflict, "an admin account already exists", map[string]interface{}{"admins": count})
	}
	return s.create(ctx, CreateUserRequest{
		Email:                email,
		FullName:             fullName,
		Role:                 models.RoleAdmin,
		Password:             password,
		CanApprove:           true,
		CanApproveLevel2:     true,
		CanCreateAssignments: true,
		CanCreateUsers:       true,
	}, nil, models.LoginRequest{IP: "cli", UserAgent: "poctl"})
}

func (s *UserService) create(ctx context.Context, req CreateUserRequest, actorID *string, meta models.LoginRequest) (*models.InternalUser, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create user payload")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}

	if req.Role == models.RoleSBC {
		if _, err := s.repo.FindBySBCCode(ctx, strings.TrimSpace(req.SBCCode)); err == nil {
			return nil, appErrors.WithDetails(appErrors.ErrConflict, "sbc code already registered", map[string]interface{}{"sbc_code": req.SBCCode})
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check sbc code uniqueness")
		}
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.InternalUser{
		ID:                   uuid.NewString(),
		Email:                email,
		FullName:             strings.TrimSpace(req.FullName),
		Role:                 req.Role,
		PasswordHash:         string(passwordHash),
		CanApprove:           req.CanApprove,
		CanApproveLevel2:     req.CanApproveLevel2,
		CanCreateAssignments: req.CanCreateAssignments,
		CanCreateUsers:       req.CanCreateUsers,
		Active:               true,
	}
	if req.Role == models.RoleSBC {
		user.SBCCode = optionalString(req.SBCCode)
		user.SBCCompanyName = optionalString(req.SBCCompanyName)
		user.CanApprove, user.CanApproveLevel2, user.CanCreateAssignments, user.CanCreateUsers = false, false, false, false
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.record(ctx, actorID, models.AuditActionUserCreate, user.ID, nil,
		map[string]interface{}{"id": user.ID, "email": user.Email, "role": user.Role}, meta)
	return user, nil
}

// CreateSBC registers a subcontractor account. Admin only.
func (s *UserService) CreateSBC(ctx context.Context, req CreateSBCRequest, actorID string, meta models.LoginRequest) (*models.InternalUser, error) {
	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return s.create(ctx, CreateUserRequest{
		Email:          req.Email,
		FullName:       req.FullName,
		Role:           models.RoleSBC,
		Password:       req.Password,
		SBCCode:        req.SBCCode,
		SBCCompanyName: req.SBCCompanyName,
	}, &actorID, meta)
}

// List returns one page of accounts. Admin only.
func (s *UserService) List(ctx context.Context, query UserListQuery, actorID string) ([]models.InternalUser, *models.Pagination, error) {
	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, nil, err
	}
	filter, err := buildUserFilter(query)
	if err != nil {
		return nil, nil, err
	}
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	return users, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

func buildUserFilter(query UserListQuery) (models.UserFilter, error) {
	filter := models.UserFilter{
		Active:   query.IsActive,
		Search:   strings.TrimSpace(query.Search),
		Page:     query.Page,
		PageSize: query.PerPage,
	}
	if filter.Page == 0 {
		filter.Page = 1
	}
	if filter.PageSize == 0 {
		filter.PageSize = defaultUserPageSize
	}
	if filter.Page < 1 || filter.PageSize < 1 || filter.PageSize > maxUserPageSize {
		return models.UserFilter{}, appErrors.WithDetails(appErrors.ErrValidation,
			fmt.Sprintf("page must be positive and per_page between 1 and %d", maxUserPageSize),
			map[string]interface{}{"page": query.Page, "per_page": query.PerPage})
	}
	if query.Role != "" {
		role := models.UserRole(strings.ToUpper(query.Role))
		if !role.Valid() {
			return models.UserFilter{}, appErrors.WithDetails(appErrors.ErrValidation,
				fmt.Sprintf("unknown role %q", query.Role), map[string]interface{}{"role": query.Role})
		}
		filter.Role = &role
	}
	return filter, nil
}

// Get returns an account to its owner or an admin.
func (s *UserService) Get(ctx context.Context, id, actorID string) (*models.InternalUser, error) {
	if _, err := s.requireSelfOrAdmin(ctx, id, actorID); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// Update changes profile fields of an account. Owners may edit themselves, admins anyone.
func (s *UserService) Update(ctx context.Context, id string, req UpdateUserRequest, actorID string, meta models.LoginRequest) (*models.InternalUser, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update user payload")
	}
	if _, err := s.requireSelfOrAdmin(ctx, id, actorID); err != nil {
		return nil, err
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.SBCCompanyName != nil && user.Role != models.RoleSBC {
		return nil, appErrors.Clone(appErrors.ErrValidation, "sbc_company_name only applies to SBC accounts")
	}

	before := map[string]interface{}{"full_name": user.FullName, "sbc_company_name": user.SBCCompanyName}
	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if name == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "full_name cannot be blank")
		}
		user.FullName = name
	}
	if req.SBCCompanyName != nil {
		user.SBCCompanyName = optionalString(strings.TrimSpace(*req.SBCCompanyName))
	}
	if err := s.save(ctx, user); err != nil {
		return nil, err
	}
	s.record(ctx, &actorID, models.AuditActionUserUpdate, user.ID, before,
		map[string]interface{}{"full_name": user.FullName, "sbc_company_name": user.SBCCompanyName}, meta)
	return user, nil
}

// Deactivate disables an account and revokes its sessions. Admin only; admins cannot deactivate themselves.
func (s *UserService) Deactivate(ctx context.Context, id, actorID string, meta models.LoginRequest) (*models.InternalUser, error) {
	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	if id == actorID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cannot deactivate your own account")
	}
	return s.setActive(ctx, id, false, actorID, meta)
}

// Activate re-enables an account. Admin only.
func (s *UserService) Activate(ctx context.Context, id, actorID string, meta models.LoginRequest) (*models.InternalUser, error) {
	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return s.setActive(ctx, id, true, actorID, meta)
}

func (s *UserService) setActive(ctx context.Context, id string, active bool, actorID string, meta models.LoginRequest) (*models.InternalUser, error) {
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Active == active {
		return user, nil
	}
	user.Active = active
	if err := s.save(ctx, user); err != nil {
		return nil, err
	}

	action := models.AuditActionUserActivate
	if !active {
		action = models.AuditActionUserDeactivate
		if err := s.repo.RevokeUserRefreshTokens(ctx, user.ID, time.Now().UTC()); err != nil {
			s.logger.Warn("failed to revoke sessions of deactivated user", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	s.record(ctx, &actorID, action, user.ID,
		map[string]interface{}{"is_active": !active}, map[string]interface{}{"is_active": active}, meta)
	return user, nil
}

// GrantApproval gives a project manager approval rights at req.Level (level 1 when omitted). Admin only.
func (s *UserService) GrantApproval(ctx context.Context, id string, req ApprovalPermissionRequest, actorID string, meta models.LoginRequest) (*models.InternalUser, error) {
	return s.changeApproval(ctx, id, req, actorID, meta, true)
}

// RevokeApproval removes approval rights from a project manager. Admin only.
func (s *UserService) RevokeApproval(ctx context.Context, id string, req ApprovalPermissionRequest, actorID string, meta models.LoginRequest) (*models.InternalUser, error) {
	return s.changeApproval(ctx, id, req, actorID, meta, false)
}

func (s *UserService) changeApproval(ctx context.Context, id string, req ApprovalPermissionRequest, actorID string, meta models.LoginRequest, grant bool) (*models.InternalUser, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid approval permission payload")
	}
	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Role != models.RoleProjectManager {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "approval permissions apply to project managers only",
			map[string]interface{}{"role": user.Role})
	}

	before := approvalFlags(user)
	switch {
	case grant && req.Level == 2:
		if user.CanApproveLevel2 {
			return nil, appErrors.Clone(appErrors.ErrConflict, "user already holds level 2 approval")
		}
		user.CanApproveLevel2 = true
	case grant:
		if user.CanApprove {
			return nil, appErrors.Clone(appErrors.ErrConflict, "user already holds approval permission")
		}
		user.CanApprove = true
	case req.Level == 1, req.Level == 2:
		held := (req.Level == 1 && user.CanApprove) || (req.Level == 2 && user.CanApproveLevel2)
		if !held {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("user does not hold level %d approval", req.Level))
		}
		if req.Level == 1 {
			user.CanApprove = false
		} else {
			user.CanApproveLevel2 = false
		}
	default:
		if !user.CanApprove && !user.CanApproveLevel2 {
			return nil, appErrors.Clone(appErrors.ErrConflict, "user does not hold approval permission")
		}
		user.CanApprove, user.CanApproveLevel2 = false, false
	}

	if err := s.save(ctx, user); err != nil {
		return nil, err
	}
	action := models.AuditActionPermissionRevoke
	if grant {
		action = models.AuditActionPermissionGrant
	}
	after := approvalFlags(user)
	after["reason"] = strings.TrimSpace(req.Reason)
	s.record(ctx, &actorID, action, user.ID, before, after, meta)
	s.logger.Info("approval permission changed",
		zap.String("user_id", user.ID),
		zap.String("actor_id", actorID),
		zap.Bool("grant", grant),
		zap.Bool("can_approve", user.CanApprove),
		zap.Bool("can_approve_level2", user.CanApproveLevel2))
	return user, nil
}

func approvalFlags(user *models.InternalUser) map[string]interface{} {
	return map[string]interface{}{"can_approve": user.CanApprove, "can_approve_level2": user.CanApproveLevel2}
}

// Stats summarises the account population. Admin only.
func (s *UserService) Stats(ctx context.Context, actorID string) (*models.UserStats, error) {
	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user stats")
	}
	return stats, nil
}

func (s *UserService) loadActor(ctx context.Context, actorID string) (*models.InternalUser, error) {
	actor, err := s.repo.FindByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "actor account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load actor")
	}
	if !actor.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}
	return actor, nil
}

func (s *UserService) requireAdmin(ctx context.Context, actorID string) (*models.InternalUser, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.WithDetails(appErrors.ErrForbidden, "admin access required", map[string]interface{}{"required": "admin"})
	}
	return actor, nil
}

func (s *UserService) requireSelfOrAdmin(ctx context.Context, id, actorID string) (*models.InternalUser, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.ID != id && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not permitted to access this account")
	}
	return actor, nil
}

func (s *UserService) load(ctx context.Context, id string) (*models.InternalUser, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

func (s *UserService) save(ctx context.Context, user *models.InternalUser) error {
	if err := s.repo.Update(ctx, user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}
	return nil
}

func (s *UserService) record(ctx context.Context, actorID *string, action, userID string, before, after map[string]interface{}, meta models.LoginRequest) {
	entry := &models.AuditLog{
		UserID:     actorID,
		Action:     action,
		Resource:   models.AuditResourceInternalUser,
		ResourceID: &userID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if before != nil {
		entry.OldValues = auditPayload(s.logger, action, before)
	}
	if after != nil {
		entry.NewValues = auditPayload(s.logger, action, after)
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", action), zap.Error(err))
	}
}
