package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/po-assignment-api/internal/dto"
	"github.com/noah-isme/po-assignment-api/internal/models"
	appErrors "github.com/noah-isme/po-assignment-api/pkg/errors"
	"github.com/noah-isme/po-assignment-api/pkg/export"
)

const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"

	defaultExportMaxRows = 10000
)

var assignmentExportHeaders = []string{
	"Internal PO", "External PO", "Lines", "Status", "Created By", "Assigned To",
	"Submitted At", "Approved At", "Rejection Reason",
}

type assignmentLister interface {
	ListAll(ctx context.Context, actorID string, query dto.AssignmentListQuery) (*dto.AssignmentListResult, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	MaxRows int
}

// ExportService renders assignment registers for administrators.
type ExportService struct {
	assignments assignmentLister
	csv         csvRenderer
	pdf         pdfRenderer
	logger      *zap.Logger
	cfg         ExportConfig
	now         func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(assignments assignmentLister, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultExportMaxRows
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		assignments: assignments,
		csv:         csv,
		pdf:         pdf,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// ExportAssignments renders every assignment matching the filters. Pagination fields in the request are ignored.
func (s *ExportService) ExportAssignments(ctx context.Context, actorID string, req dto.ExportAssignmentsRequest) (*dto.ExportResult, error) {
	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "unsupported export format", map[string]interface{}{"format": req.Format})
	}

	rows, err := s.collect(ctx, actorID, req.AssignmentListQuery)
	if err != nil {
		return nil, err
	}
	dataset := assignmentDataset(rows)

	generatedAt := s.now().UTC()
	result := &dto.ExportResult{Filename: fmt.Sprintf("assignments_%s.%s", generatedAt.Format("20060102_150405"), format)}
	switch format {
	case ExportFormatCSV:
		result.ContentType = "text/csv"
		result.Body, err = s.csv.Render(dataset)
	case ExportFormatPDF:
		result.ContentType = "application/pdf"
		result.Body, err = s.pdf.Render(dataset, fmt.Sprintf("PO Assignments %s", generatedAt.Format("2006-01-02")))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	s.logger.Info("assignments exported",
		zap.String("actor_id", actorID),
		zap.String("format", format),
		zap.Int("rows", len(rows)))
	return result, nil
}

func (s *ExportService) collect(ctx context.Context, actorID string, query dto.AssignmentListQuery) ([]models.Assignment, error) {
	query.PerPage = maxPerPage
	var rows []models.Assignment
	for page := 1; ; page++ {
		query.Page = page
		res, err := s.assignments.ListAll(ctx, actorID, query)
		if err != nil {
			return nil, err
		}
		rows = append(rows, res.Items...)
		if len(rows) > s.cfg.MaxRows {
			return nil, appErrors.WithDetails(appErrors.ErrValidation, "too many rows to export, narrow the filters",
				map[string]interface{}{"max_rows": s.cfg.MaxRows})
		}
		if res.Pagination == nil || page >= res.Pagination.TotalPages || len(res.Items) == 0 {
			return rows, nil
		}
	}
}

func assignmentDataset(rows []models.Assignment) export.Dataset {
	dataRows := make([]map[string]string, 0, len(rows))
	for _, a := range rows {
		dataRows = append(dataRows, map[string]string{
			"Internal PO":      a.InternalPOID,
			"External PO":      a.ExternalPONumber,
			"Lines":            strings.Join(a.ExternalPOLineNumbers, ", "),
			"Status":           string(a.Status),
			"Created By":       a.CreatedByPMID,
			"Assigned To":      a.AssignedToSBCID,
			"Submitted At":     formatExportTime(a.SubmittedAt),
			"Approved At":      formatExportTime(approvedAt(a)),
			"Rejection Reason": deref(a.RejectionReason),
		})
	}
	return export.Dataset{Headers: assignmentExportHeaders, Rows: dataRows}
}

// approvedAt is the time of the final approval, whichever level granted it.
func approvedAt(a models.Assignment) *time.Time {
	if a.Status != models.AssignmentStatusApproved {
		return nil
	}
	if a.Level2ApprovedAt != nil {
		return a.Level2ApprovedAt
	}
	return a.Level1ApprovedAt
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func formatExportTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
