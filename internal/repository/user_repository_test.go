package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/po-assignment-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var internalUserRowColumns = []string{"id", "email", "password_hash", "full_name", "role", "can_approve", "can_approve_level2",
	"can_create_assignments", "can_create_users", "sbc_code", "sbc_company_name", "is_active", "last_login_at", "created_at", "updated_at"}

func TestFindByEmail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(internalUserRowColumns).
		AddRow("1", "pm@example.com", "hash", "Project Manager", string(models.RoleProjectManager), false, false, true, false, nil, nil, true, now, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM internal_users WHERE LOWER(email) = LOWER($1) LIMIT 1")).
		WithArgs("PM@example.com").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), "PM@example.com")
	require.NoError(t, err)
	assert.Equal(t, "pm@example.com", user.Email)
	assert.True(t, user.CanCreateAssignments)
	assert.True(t, user.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDReturnsNoRows(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM internal_users WHERE id = $1")).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRefreshToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.CreateRefreshToken(context.Background(), &models.RefreshToken{ID: "1", UserID: "u1", Token: "token", ExpiresAt: time.Now(), CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInternalUserAndCountByRole(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM internal_users WHERE role = $1")).
		WithArgs(models.RoleAdmin).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO internal_users").WillReturnResult(sqlmock.NewResult(1, 1))

	total, err := repo.CountByRole(context.Background(), models.RoleAdmin)
	require.NoError(t, err)
	assert.Zero(t, total)

	user := &models.InternalUser{Email: "admin@example.com", FullName: "Admin", Role: models.RoleAdmin, Active: true}
	require.NoError(t, repo.Create(context.Background(), user))
	assert.NotEmpty(t, user.ID)
	assert.False(t, user.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAuditLog(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	entry := &models.AuditLog{Action: models.AuditActionAssignmentSubmit, Resource: models.AuditResourceAssignment}
	require.NoError(t, repo.CreateAuditLog(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsersAppliesFiltersAndPage(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	role := models.RoleSBC
	active := true
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM internal_users WHERE role = $1 AND is_active = $2 AND (LOWER(email) LIKE $3")).
		WithArgs(role, true, "%baja%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM internal_users WHERE role = $1 AND is_active = $2") + ".*" + regexp.QuoteMeta("ORDER BY created_at DESC, id LIMIT 5 OFFSET 10")).
		WithArgs(role, true, "%baja%").
		WillReturnRows(sqlmock.NewRows(internalUserRowColumns).
			AddRow("s1", "sbc@example.com", "hash", "Budi", string(models.RoleSBC), false, false, false, false, "SBC-01", "PT Sinar Baja", true, nil, now, now))

	users, total, err := repo.List(context.Background(), models.UserFilter{Role: &role, Active: &active, Search: "Baja", Page: 3, PageSize: 5})
	require.NoError(t, err)
	assert.Equal(t, 11, total)
	require.Len(t, users, 1)
	assert.Equal(t, "PT Sinar Baja", users[0].DisplayName())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsersWithoutFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM internal_users")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM internal_users ORDER BY created_at DESC, id LIMIT 20 OFFSET 0")).
		WillReturnRows(sqlmock.NewRows(internalUserRowColumns))

	users, total, err := repo.List(context.Background(), models.UserFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NotNil(t, users)
	assert.Empty(t, users)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStats(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("COUNT\\(\\*\\) FILTER \\(WHERE is_active\\)").
		WillReturnRows(sqlmock.NewRows([]string{"total_users", "active_users", "inactive_users", "admins", "project_managers", "sbcs", "project_managers_with_approval"}).
			AddRow(10, 8, 2, 1, 6, 3, 2))

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalUsers)
	assert.Equal(t, 6, stats.ProjectManagers)
	assert.Equal(t, 2, stats.ProjectManagersWithApproval)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUserReportsMissingRow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("UPDATE internal_users SET full_name").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE internal_users SET full_name").WillReturnResult(sqlmock.NewResult(0, 0))

	user := &models.InternalUser{ID: "u1", FullName: "Rina", Role: models.RoleProjectManager, CanApprove: true, Active: true}
	require.NoError(t, repo.Update(context.Background(), user))
	assert.False(t, user.UpdatedAt.IsZero())

	err := repo.Update(context.Background(), &models.InternalUser{ID: "ghost"})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPasswordAndSessionUpdates(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE internal_users SET password_hash = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("u1", "new-hash", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE")).
		WithArgs("u1", now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, repo.UpdatePassword(context.Background(), "u1", "new-hash", now))
	require.NoError(t, repo.RevokeUserRefreshTokens(context.Background(), "u1", now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindBySBCCode(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM internal_users WHERE sbc_code = $1")).WithArgs("SBC-404").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindBySBCCode(context.Background(), "SBC-404")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
