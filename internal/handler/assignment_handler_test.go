package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/po-assignment-api/internal/dto"
	"github.com/noah-isme/po-assignment-api/internal/middleware"
	"github.com/noah-isme/po-assignment-api/internal/models"
	appErrors "github.com/noah-isme/po-assignment-api/pkg/errors"
)

type assignmentServiceMock struct {
	bulkReq     dto.BulkCreateAssignmentsRequest
	bulkResult  *dto.BulkCreateResult
	approveReq  dto.ApproveAssignmentRequest
	rejectReq   dto.RejectAssignmentRequest
	lastID      string
	lastActor   string
	lastQuery   dto.AssignmentListQuery
	listResult  *dto.AssignmentListResult
	stats       *models.AssignmentStats
	statsCached bool
	err         error
}

func (m *assignmentServiceMock) Topology() models.ApprovalTopology { return models.TopologyTwoLevel }

func (m *assignmentServiceMock) BulkCreate(ctx context.Context, req dto.BulkCreateAssignmentsRequest, actorID string) (*dto.BulkCreateResult, error) {
	m.bulkReq, m.lastActor = req, actorID
	return m.bulkResult, m.err
}

func (m *assignmentServiceMock) CreateSingle(ctx context.Context, req dto.CreateAssignmentRequest, actorID string) (*models.Assignment, error) {
	m.lastActor = actorID
	return m.assignment(models.AssignmentStatusDraft)
}

func (m *assignmentServiceMock) Update(ctx context.Context, id string, req dto.UpdateAssignmentRequest, actorID string) (*models.Assignment, error) {
	m.lastID, m.lastActor = id, actorID
	return m.assignment(models.AssignmentStatusDraft)
}

func (m *assignmentServiceMock) Submit(ctx context.Context, id, actorID string) (*models.Assignment, error) {
	m.lastID, m.lastActor = id, actorID
	return m.assignment(models.AssignmentStatusPendingLevel1Approval)
}

func (m *assignmentServiceMock) Approve(ctx context.Context, id, actorID string, req dto.ApproveAssignmentRequest) (*models.Assignment, error) {
	m.lastID, m.lastActor, m.approveReq = id, actorID, req
	return m.assignment(models.AssignmentStatusApproved)
}

func (m *assignmentServiceMock) Reject(ctx context.Context, id, actorID string, req dto.RejectAssignmentRequest) (*models.Assignment, error) {
	m.lastID, m.lastActor, m.rejectReq = id, actorID, req
	return m.assignment(models.AssignmentStatusRejected)
}

func (m *assignmentServiceMock) Cancel(ctx context.Context, id, actorID string) (*models.Assignment, error) {
	m.lastID, m.lastActor = id, actorID
	return m.assignment(models.AssignmentStatusCancelled)
}

func (m *assignmentServiceMock) Get(ctx context.Context, id, actorID string) (*models.Assignment, error) {
	m.lastID, m.lastActor = id, actorID
	return m.assignment(models.AssignmentStatusDraft)
}

func (m *assignmentServiceMock) ListMine(ctx context.Context, actorID string, query dto.AssignmentListQuery) (*dto.AssignmentListResult, error) {
	return m.list(actorID, query)
}

func (m *assignmentServiceMock) ListPending(ctx context.Context, actorID string, query dto.AssignmentListQuery) (*dto.AssignmentListResult, error) {
	return m.list(actorID, query)
}

func (m *assignmentServiceMock) ListMyWork(ctx context.Context, actorID string, query dto.AssignmentListQuery) (*dto.AssignmentListResult, error) {
	return m.list(actorID, query)
}

func (m *assignmentServiceMock) ListAll(ctx context.Context, actorID string, query dto.AssignmentListQuery) (*dto.AssignmentListResult, error) {
	return m.list(actorID, query)
}

func (m *assignmentServiceMock) Stats(ctx context.Context, actorID string) (*models.AssignmentStats, bool, error) {
	return m.stats, m.statsCached, m.err
}

func (m *assignmentServiceMock) assignment(status models.AssignmentStatus) (*models.Assignment, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Assignment{ID: m.lastID, InternalPOID: "PO-SIB-20250203-001", Status: status}, nil
}

func (m *assignmentServiceMock) list(actorID string, query dto.AssignmentListQuery) (*dto.AssignmentListResult, error) {
	m.lastActor, m.lastQuery = actorID, query
	if m.err != nil {
		return nil, m.err
	}
	return m.listResult, nil
}

type exporterMock struct {
	req    dto.ExportAssignmentsRequest
	result *dto.ExportResult
	err    error
}

func (m *exporterMock) ExportAssignments(ctx context.Context, actorID string, req dto.ExportAssignmentsRequest) (*dto.ExportResult, error) {
	m.req = req
	return m.result, m.err
}

type envelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *appErrors.Error       `json:"error"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func withClaims(c *gin.Context, userID string) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: userID})
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestAssignmentHandlerBulkCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &assignmentServiceMock{bulkResult: &dto.BulkCreateResult{Success: true, Count: 2}}
	h := NewAssignmentHandler(svc, nil)

	payload, _ := json.Marshal(map[string]interface{}{
		"assigned_to_sbc_id": "sbc-1",
		"po_line_selections": []map[string]string{{"po_number": "1212121", "po_line": "1"}, {"po_number": "1313131", "po_line": "3"}},
	})
	c, w := newGinContext(http.MethodPost, "/assignments/bulk", payload)
	withClaims(c, "pm-1")
	h.BulkCreate(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "pm-1", svc.lastActor)
	assert.Equal(t, "sbc-1", svc.bulkReq.AssignedToSBCID)
	assert.Len(t, svc.bulkReq.Selections, 2)
}

func TestAssignmentHandlerRequiresClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewAssignmentHandler(&assignmentServiceMock{}, nil)

	c, w := newGinContext(http.MethodPost, "/assignments/a-1/submit", nil)
	h.Submit(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAssignmentHandlerRejectsMalformedPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewAssignmentHandler(&assignmentServiceMock{}, nil)

	c, w := newGinContext(http.MethodPost, "/assignments/bulk", []byte("{not json"))
	withClaims(c, "pm-1")
	h.BulkCreate(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, decodeEnvelope(t, w).Error.Code)
}

func TestAssignmentHandlerApproveWithoutBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &assignmentServiceMock{}
	h := NewAssignmentHandler(svc, nil)

	c, w := newGinContext(http.MethodPost, "/assignments/a-1/approve", nil)
	c.Params = gin.Params{{Key: "id", Value: "a-1"}}
	withClaims(c, "ap-1")
	h.Approve(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a-1", svc.lastID)
	assert.Zero(t, svc.approveReq.Level)
}

func TestAssignmentHandlerRejectPassesReason(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &assignmentServiceMock{}
	h := NewAssignmentHandler(svc, nil)

	c, w := newGinContext(http.MethodPost, "/assignments/a-1/reject", []byte(`{"reason":"wrong lines"}`))
	c.Params = gin.Params{{Key: "id", Value: "a-1"}}
	withClaims(c, "ap-1")
	h.Reject(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "wrong lines", svc.rejectReq.Reason)
}

func TestAssignmentHandlerMapsServiceErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conflict := appErrors.WithDetails(appErrors.ErrConflict, "PO lines already assigned", map[string]interface{}{"conflicts": []string{"1212121-1"}})
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"conflict", conflict, http.StatusConflict, appErrors.ErrConflict.Code},
		{"invalid state", appErrors.Clone(appErrors.ErrInvalidState, "not pending"), http.StatusConflict, appErrors.ErrInvalidState.Code},
		{"forbidden", appErrors.Clone(appErrors.ErrForbidden, "approver only"), http.StatusForbidden, appErrors.ErrForbidden.Code},
		{"not found", appErrors.ErrNotFound, http.StatusNotFound, appErrors.ErrNotFound.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewAssignmentHandler(&assignmentServiceMock{err: tc.err}, nil)
			c, w := newGinContext(http.MethodPost, "/assignments/a-1/cancel", nil)
			c.Params = gin.Params{{Key: "id", Value: "a-1"}}
			withClaims(c, "pm-1")
			h.Cancel(c)

			require.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, decodeEnvelope(t, w).Error.Code)
		})
	}
}

func TestAssignmentHandlerInternalErrorsHideMessage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	failure := appErrors.Wrap(assert.AnError, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "pq: connection refused")
	h := NewAssignmentHandler(&assignmentServiceMock{err: failure}, nil)

	c, w := newGinContext(http.MethodGet, "/assignments/a-1", nil)
	withClaims(c, "pm-1")
	h.Get(c)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestAssignmentHandlerListParsesQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &assignmentServiceMock{listResult: &dto.AssignmentListResult{
		Items:      []models.Assignment{{ID: "a-1"}},
		Pagination: models.NewPagination(2, 10, 11),
	}}
	h := NewAssignmentHandler(svc, nil)

	c, w := newGinContext(http.MethodGet, "/assignments?status=draft,%20pending_level1_approval&po_number=1212121&page=2&per_page=10", nil)
	withClaims(c, "admin")
	h.ListAll(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.AssignmentStatus{models.AssignmentStatusDraft, models.AssignmentStatusPendingLevel1Approval}, svc.lastQuery.Status)
	assert.Equal(t, "1212121", svc.lastQuery.PONumber)
	assert.Equal(t, 2, svc.lastQuery.Page)
	assert.Equal(t, 10, svc.lastQuery.PerPage)

	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 11, env.Pagination.TotalCount)
	assert.Equal(t, string(models.TopologyTwoLevel), env.Meta["approval_topology"])
}

func TestAssignmentHandlerListRejectsBadPage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewAssignmentHandler(&assignmentServiceMock{}, nil)

	c, w := newGinContext(http.MethodGet, "/assignments/my?page=abc", nil)
	withClaims(c, "pm-1")
	h.ListMine(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAssignmentHandlerStatsReportsCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &assignmentServiceMock{stats: &models.AssignmentStats{Total: 3}, statsCached: true}
	h := NewAssignmentHandler(svc, nil)

	c, w := newGinContext(http.MethodGet, "/assignments/stats", nil)
	withClaims(c, "admin")
	h.Stats(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeEnvelope(t, w).Meta["cache_hit"])
}

func TestAssignmentHandlerExport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	exporter := &exporterMock{result: &dto.ExportResult{Filename: "assignments.csv", ContentType: "text/csv", Body: []byte("Internal PO\n")}}
	h := NewAssignmentHandler(&assignmentServiceMock{}, exporter)

	c, w := newGinContext(http.MethodGet, "/assignments/export?format=csv&status=APPROVED", nil)
	withClaims(c, "admin")
	h.Export(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", exporter.req.Format)
	assert.Equal(t, []models.AssignmentStatus{models.AssignmentStatusApproved}, exporter.req.Status)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "assignments.csv")
	assert.Equal(t, "Internal PO\n", w.Body.String())
}
