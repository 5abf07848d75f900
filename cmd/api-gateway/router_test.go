package main

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/noah-isme/po-assignment-api/internal/handler"
	"github.com/noah-isme/po-assignment-api/internal/models"
	"github.com/noah-isme/po-assignment-api/internal/service"
	"github.com/noah-isme/po-assignment-api/pkg/config"
	appErrors "github.com/noah-isme/po-assignment-api/pkg/errors"
)

type tokenStub map[string]*models.JWTClaims

func (s tokenStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, appErrors.ErrUnauthorized
}

type directoryStub map[string]*models.InternalUser

func (d directoryStub) FindByID(ctx context.Context, id string) (*models.InternalUser, error) {
	if user, ok := d[id]; ok {
		return user, nil
	}
	return nil, sql.ErrNoRows
}

func newTestServer(t *testing.T, dependents map[string]handler.Pinger) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Env: config.EnvProduction, APIPrefix: "/api/v1"}
	metrics := service.NewMetricsService()
	return newRouter(cfg, zap.NewNop(), routerDeps{
		auth: tokenStub{
			"pm":  {UserID: "pm-1", Role: models.RoleProjectManager},
			"sbc": {UserID: "sbc-1", Role: models.RoleSBC},
		},
		users: directoryStub{
			"pm-1":  {ID: "pm-1", Role: models.RoleProjectManager, CanCreateAssignments: true, Active: true},
			"sbc-1": {ID: "sbc-1", Role: models.RoleSBC, Active: true},
		},
		metrics:     metrics,
		authH:       handler.NewAuthHandler(nil),
		userH:       handler.NewUserHandler(nil),
		assignmentH: handler.NewAssignmentHandler(nil, nil),
		metricsH:    handler.NewMetricsHandler(metrics.Handler(), dependents),
	})
}

func serve(router http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouterGuards(t *testing.T) {
	router := newTestServer(t, nil)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{"health is public", http.MethodGet, "/health", "", http.StatusOK},
		{"metrics exposed", http.MethodGet, "/metrics", "", http.StatusOK},
		{"assignments need a token", http.MethodGet, "/api/v1/assignments/my", "", http.StatusUnauthorized},
		{"stats need admin", http.MethodGet, "/api/v1/assignments/stats", "pm", http.StatusForbidden},
		{"export needs admin", http.MethodGet, "/api/v1/assignments/export", "pm", http.StatusForbidden},
		{"pending needs approver", http.MethodGet, "/api/v1/assignments/pending", "pm", http.StatusForbidden},
		{"my work is for SBCs", http.MethodGet, "/api/v1/assignments/my-work", "pm", http.StatusForbidden},
		{"bulk create needs capability", http.MethodPost, "/api/v1/assignments/bulk", "sbc", http.StatusForbidden},
		{"approve needs approver", http.MethodPost, "/api/v1/assignments/a-1/approve", "pm", http.StatusForbidden},
		{"change password needs a token", http.MethodPost, "/api/v1/auth/change-password", "", http.StatusUnauthorized},
		{"user list needs admin", http.MethodGet, "/api/v1/users", "pm", http.StatusForbidden},
		{"user stats need admin", http.MethodGet, "/api/v1/users/stats/overview", "pm", http.StatusForbidden},
		{"sbc registration needs admin", http.MethodPost, "/api/v1/users/sbc", "pm", http.StatusForbidden},
		{"deactivate needs admin", http.MethodDelete, "/api/v1/users/sbc-1", "pm", http.StatusForbidden},
		{"activate needs admin", http.MethodPost, "/api/v1/users/sbc-1/activate", "pm", http.StatusForbidden},
		{"grant approval needs admin", http.MethodPost, "/api/v1/users/pm-1/grant-approval", "pm", http.StatusForbidden},
		{"revoke approval needs admin", http.MethodPost, "/api/v1/users/pm-1/revoke-approval", "sbc", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, serve(router, tc.method, tc.path, tc.token).Code)
		})
	}
}

func TestReadyReportsFailingDependency(t *testing.T) {
	healthy := newTestServer(t, map[string]handler.Pinger{
		"database": handler.PingFunc(func(ctx context.Context) error { return nil }),
	})
	assert.Equal(t, http.StatusOK, serve(healthy, http.MethodGet, "/ready", "").Code)

	failing := newTestServer(t, map[string]handler.Pinger{
		"database": handler.PingFunc(func(ctx context.Context) error { return nil }),
		"redis":    handler.PingFunc(func(ctx context.Context) error { return assert.AnError }),
	})
	rec := serve(failing, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis"`)
}
