package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/po-assignment-api/internal/models"
	appErrors "github.com/noah-isme/po-assignment-api/pkg/errors"
	"github.com/noah-isme/po-assignment-api/pkg/logger"
)

type validatorStub map[string]*models.JWTClaims

func (v validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := v[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

type usersStub map[string]*models.InternalUser

func (u usersStub) FindByID(ctx context.Context, id string) (*models.InternalUser, error) {
	if user, ok := u[id]; ok {
		return user, nil
	}
	return nil, sql.ErrNoRows
}

type observerStub struct {
	paths []string
}

func (o *observerStub) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.paths = append(o.paths, method+" "+path)
}

func newTestRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"actor": c.GetString(logger.ActorKey)})
	})
	router.GET("/x", handlers...)
	return router
}

func doGet(router http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string                 `json:"code"`
			Details map[string]interface{} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

var tokens = validatorStub{
	"pm":    {UserID: "pm-1", Role: models.RoleProjectManager},
	"sbc":   {UserID: "sbc-1", Role: models.RoleSBC},
	"ghost": {UserID: "ghost", Role: models.RoleProjectManager},
}

var accounts = usersStub{
	"pm-1":  {ID: "pm-1", Role: models.RoleProjectManager, CanCreateAssignments: true, Active: true},
	"sbc-1": {ID: "sbc-1", Role: models.RoleSBC, Active: true},
}

func TestJWTSetsClaimsAndActor(t *testing.T) {
	router := newTestRouter(JWT(tokens))

	rec := doGet(router, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doGet(router, "bogus")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, errorCode(t, rec))

	rec = doGet(router, "pm")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"actor":"pm-1"}`, rec.Body.String())
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{header: "Bearer abc", token: "abc", ok: true},
		{header: "bearer   abc ", token: "abc", ok: true},
		{header: "Basic abc"},
		{header: "Bearer"},
		{header: "Bearer   "},
	}
	for _, tc := range cases {
		token, ok := bearerToken(tc.header)
		assert.Equal(t, tc.ok, ok, tc.header)
		assert.Equal(t, tc.token, token, tc.header)
	}
}

func TestRequireRoles(t *testing.T) {
	router := newTestRouter(JWT(tokens), RequireRoles(models.RoleSBC))

	assert.Equal(t, http.StatusOK, doGet(router, "sbc").Code)
	rec := doGet(router, "pm")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, appErrors.ErrForbidden.Code, errorCode(t, rec))
}

func TestRequireCapability(t *testing.T) {
	router := newTestRouter(JWT(tokens), RequireCapability(accounts, CapCreateAssignments))

	assert.Equal(t, http.StatusOK, doGet(router, "pm").Code)
	assert.Equal(t, http.StatusForbidden, doGet(router, "sbc").Code)
	assert.Equal(t, http.StatusForbidden, doGet(router, "ghost").Code)

	approvers := newTestRouter(JWT(tokens), RequireCapability(accounts, CapApprove))
	assert.Equal(t, http.StatusForbidden, doGet(approvers, "pm").Code)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	obs := &observerStub{}
	router := gin.New()
	router.Use(Metrics(obs))
	router.GET("/assignments/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, path := range []string{"/assignments/a", "/assignments/b", "/nope"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	assert.Equal(t, []string{"GET /assignments/:id", "GET /assignments/:id", "GET unmatched"}, obs.paths)
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var meta map[string]interface{}
	router := gin.New()
	router.Use(WithResponseMeta())
	router.GET("/x", func(c *gin.Context) {
		SetCacheHit(c, true)
		SetMeta(c, "approval_topology", "SINGLE")
		meta = ExtractMeta(c)
		c.Status(http.StatusNoContent)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, true, meta["cache_hit"])
	assert.Equal(t, "SINGLE", meta["approval_topology"])
}
