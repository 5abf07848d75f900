package models

import (
	"encoding/json"
	"time"
)

// UserRole is the coarse role of an internal account. Authorisation decisions use Capabilities instead.
type UserRole string

const (
	RoleAdmin          UserRole = "ADMIN"
	RoleProjectManager UserRole = "PROJECT_MANAGER"
	RoleSBC            UserRole = "SBC"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleProjectManager, RoleSBC:
		return true
	}
	return false
}

// InternalUser represents an account stored in the internal_users table.
type InternalUser struct {
	ID                   string     `db:"id" json:"id"`
	Email                string     `db:"email" json:"email"`
	PasswordHash         string     `db:"password_hash" json:"-"`
	FullName             string     `db:"full_name" json:"full_name"`
	Role                 UserRole   `db:"role" json:"role"`
	CanApprove           bool       `db:"can_approve" json:"can_approve"`
	CanApproveLevel2     bool       `db:"can_approve_level2" json:"can_approve_level2"`
	CanCreateAssignments bool       `db:"can_create_assignments" json:"can_create_assignments"`
	CanCreateUsers       bool       `db:"can_create_users" json:"can_create_users"`
	SBCCode              *string    `db:"sbc_code" json:"sbc_code,omitempty"`
	SBCCompanyName       *string    `db:"sbc_company_name" json:"sbc_company_name,omitempty"`
	Active               bool       `db:"is_active" json:"is_active"`
	LastLogin            *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// DisplayName prefers the SBC company name for subcontractor accounts.
func (u *InternalUser) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Role == RoleSBC && u.SBCCompanyName != nil && *u.SBCCompanyName != "" {
		return *u.SBCCompanyName
	}
	return u.FullName
}

// UserFilter narrows the account listing.
type UserFilter struct {
	Role     *UserRole
	Active   *bool
	Search   string
	Page     int
	PageSize int
}

// UserStats summarises the account population.
type UserStats struct {
	TotalUsers                  int `db:"total_users" json:"total_users"`
	ActiveUsers                 int `db:"active_users" json:"active_users"`
	InactiveUsers               int `db:"inactive_users" json:"inactive_users"`
	Admins                      int `db:"admins" json:"-"`
	ProjectManagers             int `db:"project_managers" json:"-"`
	SBCs                        int `db:"sbcs" json:"-"`
	ProjectManagersWithApproval int `db:"project_managers_with_approval" json:"project_managers_with_approval"`
}

// UserStatsByRole is the per-role breakdown of UserStats.
type UserStatsByRole struct {
	Admins          int `json:"admins"`
	ProjectManagers int `json:"project_managers"`
	SBCs            int `json:"sbcs"`
}

// MarshalJSON nests the role counts under by_role.
func (s UserStats) MarshalJSON() ([]byte, error) {
	type flat UserStats
	return json.Marshal(struct {
		flat
		ByRole UserStatsByRole `json:"by_role"`
	}{flat: flat(s), ByRole: UserStatsByRole{Admins: s.Admins, ProjectManagers: s.ProjectManagers, SBCs: s.SBCs}})
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"per_page"`
	TotalCount int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes total pages for the given page window.
func NewPagination(page, pageSize, total int) *Pagination {
	pages := 0
	if pageSize > 0 {
		pages = (total + pageSize - 1) / pageSize
	}
	return &Pagination{Page: page, PageSize: pageSize, TotalCount: total, TotalPages: pages}
}
