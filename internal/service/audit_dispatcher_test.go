package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/po-assignment-api/internal/models"
	"github.com/noah-isme/po-assignment-api/pkg/jobs"
)

type auditWriterStub struct {
	mu      sync.Mutex
	written []*models.AuditLog
	err     error
}

func (w *auditWriterStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, log)
	return nil
}

func (w *auditWriterStub) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.written)
}

func TestAuditDispatcherWritesInlineWhenStopped(t *testing.T) {
	writer := &auditWriterStub{}
	d := NewAuditDispatcher(writer, jobs.QueueConfig{Workers: 1, BufferSize: 1})

	err := d.CreateAuditLog(context.Background(), &models.AuditLog{Action: models.AuditActionAssignmentSubmit})
	require.NoError(t, err)
	require.Equal(t, 1, writer.count())
	assert.NotEmpty(t, writer.written[0].ID)
}

func TestAuditDispatcherFlushesOnStop(t *testing.T) {
	writer := &auditWriterStub{}
	d := NewAuditDispatcher(writer, jobs.QueueConfig{Workers: 2, BufferSize: 16})
	d.Start(context.Background())

	for i := 0; i < 10; i++ {
		require.NoError(t, d.CreateAuditLog(context.Background(), &models.AuditLog{Action: models.AuditActionAssignmentCreate}))
	}
	d.Stop()
	assert.Equal(t, 10, writer.count())
}

func TestAuditDispatcherLogsDroppedEntries(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	writer := &auditWriterStub{err: errors.New("db down")}
	d := NewAuditDispatcher(writer, jobs.QueueConfig{
		Workers:    1,
		BufferSize: 4,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		Logger:     zap.New(core),
	})
	d.Start(context.Background())

	resource := "asg-1"
	require.NoError(t, d.CreateAuditLog(context.Background(), &models.AuditLog{
		Action:     models.AuditActionAssignmentReject,
		Resource:   models.AuditResourceAssignment,
		ResourceID: &resource,
	}))
	d.Stop()

	entries := logs.FilterMessage("audit log dropped").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "asg-1", entries[0].ContextMap()["resource_id"])
	assert.Equal(t, models.AuditActionAssignmentReject, entries[0].ContextMap()["action"])
}

func TestEmitAuditLogsUnencodablePayload(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	writer := &auditWriterStub{}
	svc := NewAssignmentService(&assignmentStoreStub{}, newTestDirectory(), nil, nil, zap.New(core), WithAssignmentAudit(writer))

	before := &models.Assignment{ID: "asg-1", Status: models.AssignmentStatusDraft, CreatedAt: time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)}
	after := &models.Assignment{ID: "asg-1", Status: models.AssignmentStatusPendingApproval}
	svc.emitAudit(context.Background(), "pm-1", models.AuditActionAssignmentSubmit, after, before, after)

	require.Equal(t, 1, writer.count())
	assert.Nil(t, writer.written[0].OldValues)
	assert.NotEmpty(t, writer.written[0].NewValues)
	entries := logs.FilterMessage("failed to encode audit payload").All()
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditActionAssignmentSubmit, entries[0].ContextMap()["action"])
}
