package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/po-assignment-api/internal/models"
	"github.com/noah-isme/po-assignment-api/pkg/jobs"
)

const auditJobType = "audit_log"

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// auditPayload encodes v for an audit entry. An encoding failure is logged and yields a nil payload so the
// entry is still written.
func auditPayload(logger *zap.Logger, action string, v interface{}) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Warn("failed to encode audit payload", zap.String("action", action), zap.Error(err))
		return nil
	}
	return payload
}

// AuditDispatcher writes audit logs on a background queue so request latency does not include them.
// When the queue is not running entries are written synchronously.
type AuditDispatcher struct {
	writer auditLogger
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewAuditDispatcher wires a dispatcher around writer.
func NewAuditDispatcher(writer auditLogger, cfg jobs.QueueConfig) *AuditDispatcher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	d := &AuditDispatcher{writer: writer, logger: cfg.Logger}
	cfg.OnExhausted = d.dropped
	d.queue = jobs.NewQueue("audit", d.handle, cfg)
	return d
}

// Start launches the background workers.
func (d *AuditDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop flushes pending entries and stops the workers.
func (d *AuditDispatcher) Stop() {
	d.queue.Stop()
}

// CreateAuditLog queues log for persistence.
func (d *AuditDispatcher) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log == nil {
		return nil
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	err := d.queue.TryEnqueue(jobs.Job{ID: log.ID, Type: auditJobType, Payload: log})
	if err == nil {
		return nil
	}
	if errors.Is(err, jobs.ErrQueueFull) {
		d.logger.Warn("audit queue full, writing inline", zap.String("action", log.Action))
	}
	return d.writer.CreateAuditLog(context.WithoutCancel(ctx), log)
}

func (d *AuditDispatcher) handle(ctx context.Context, job jobs.Job) error {
	log, ok := job.Payload.(*models.AuditLog)
	if !ok {
		return fmt.Errorf("unexpected audit payload %T", job.Payload)
	}
	return d.writer.CreateAuditLog(ctx, log)
}

func (d *AuditDispatcher) dropped(job jobs.Job, err error) {
	fields := []zap.Field{zap.String("job_id", job.ID), zap.Error(err)}
	if log, ok := job.Payload.(*models.AuditLog); ok {
		fields = append(fields, zap.String("action", log.Action), zap.String("resource", log.Resource))
		if log.ResourceID != nil {
			fields = append(fields, zap.String("resource_id", *log.ResourceID))
		}
	}
	d.logger.Error("audit log dropped", fields...)
}
