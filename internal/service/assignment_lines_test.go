package service

import (
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/po-assignment-api/internal/models"
	appErrors "github.com/noah-isme/po-assignment-api/pkg/errors"
)

func sel(po, line string) models.POLineSelection {
	return models.POLineSelection{PONumber: po, POLine: line}
}

func TestGroupByPOKeepsFirstAppearanceOrder(t *testing.T) {
	groups, err := GroupByPO([]models.POLineSelection{
		sel("1313131", "2"),
		sel("1212121", "1"),
		sel("1313131", "1"),
		sel("1212121", "3"),
		sel("1212121", "2"),
	})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, models.POLineGroup{PONumber: "1313131", Lines: []string{"2", "1"}}, groups[0])
	assert.Equal(t, models.POLineGroup{PONumber: "1212121", Lines: []string{"1", "3", "2"}}, groups[1])
}

func TestGroupByPORejectsInvalidSelections(t *testing.T) {
	cases := map[string][]models.POLineSelection{
		"empty":       nil,
		"blank po":    {sel("  ", "1")},
		"blank line":  {sel("1212121", "")},
		"duplicate":   {sel("1212121", "1"), sel("1313131", "1"), sel("1212121", "1")},
		"trimmed dup": {sel("1212121", "1"), sel(" 1212121 ", "1 ")},
	}
	for name, selections := range cases {
		t.Run(name, func(t *testing.T) {
			groups, err := GroupByPO(selections)
			require.Error(t, err)
			assert.Nil(t, groups)
			assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
		})
	}
}

func TestGroupByPODuplicateNamesPair(t *testing.T) {
	_, err := GroupByPO([]models.POLineSelection{sel("A", "1"), sel("A", "1")})
	appErr := appErrors.FromError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, "A", appErr.Details["po_number"])
	assert.Equal(t, "1", appErr.Details["po_line"])
}

func TestCheckNoConflictsReportsFirstClaim(t *testing.T) {
	existing := []models.Assignment{
		{ID: "a1", InternalPOID: "PO-SIB-20250101-001", ExternalPONumber: "1212121", ExternalPOLineNumbers: pq.StringArray{"1"}, Status: models.AssignmentStatusRejected},
		{ID: "a2", InternalPOID: "PO-SIB-20250101-002", ExternalPONumber: "1212121", ExternalPOLineNumbers: pq.StringArray{"2", "3"}, Status: models.AssignmentStatusPendingApproval},
		{ID: "a3", InternalPOID: "PO-SIB-20250101-003", ExternalPONumber: "1212121", ExternalPOLineNumbers: pq.StringArray{"3"}, Status: models.AssignmentStatusApproved},
	}
	groups := []models.POLineGroup{{PONumber: "1212121", Lines: []string{"1", "3", "2"}}}

	err := CheckNoConflicts(groups, existing)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.Equal(t, "PO-SIB-20250101-002", appErr.Details["assignment_id"])
	assert.Equal(t, []string{"3", "2"}, appErr.Details["lines"])
	assert.Equal(t, "1212121", appErr.Details["po_number"])
}

func TestCheckNoConflictsIgnoresReleasedAndOtherPOs(t *testing.T) {
	existing := []models.Assignment{
		{ID: "a1", ExternalPONumber: "1212121", ExternalPOLineNumbers: pq.StringArray{"1"}, Status: models.AssignmentStatusRejected},
		{ID: "a2", ExternalPONumber: "1212121", ExternalPOLineNumbers: pq.StringArray{"1"}, Status: models.AssignmentStatusCancelled},
		{ID: "a3", ExternalPONumber: "9999999", ExternalPOLineNumbers: pq.StringArray{"1"}, Status: models.AssignmentStatusApproved},
	}
	groups := []models.POLineGroup{{PONumber: "1212121", Lines: []string{"1"}}}
	assert.NoError(t, CheckNoConflicts(groups, existing))
	assert.NoError(t, CheckNoConflicts(groups, nil))
}

func TestCheckNoConflictsExcludingSelf(t *testing.T) {
	existing := []models.Assignment{
		{ID: "self", ExternalPONumber: "1212121", ExternalPOLineNumbers: pq.StringArray{"1", "2"}, Status: models.AssignmentStatusDraft},
	}
	groups := []models.POLineGroup{{PONumber: "1212121", Lines: []string{"2", "3"}}}
	assert.NoError(t, CheckNoConflictsExcluding(groups, existing, "self"))
	assert.Error(t, CheckNoConflicts(groups, existing))
}

func TestGenerateInternalID(t *testing.T) {
	today := time.Date(2025, 3, 9, 23, 30, 0, 0, time.UTC)

	assert.Equal(t, "PO-SIB-20250309-001", GenerateInternalID(nil, today))
	assert.Equal(t, "PO-SIB-20250309-008", GenerateInternalID([]string{
		"PO-SIB-20250309-002",
		"PO-SIB-20250309-007",
		"PO-SIB-20250308-050",
		"PO-SIB-20250309-x12",
		"PO-SIB-20250309-1",
		"garbage",
	}, today))
	assert.Equal(t, "PO-SIB-20250309-1000", GenerateInternalID([]string{"PO-SIB-20250309-999"}, today))
}

func TestGenerateInternalIDUsesUTCDate(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	local := time.Date(2025, 3, 10, 2, 0, 0, 0, jakarta)
	assert.Equal(t, "PO-SIB-20250309-001", GenerateInternalID(nil, local))
}

func TestNextInternalIDsAreConsecutive(t *testing.T) {
	today := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	ids := NextInternalIDs([]string{"PO-SIB-20250102-004"}, today, 3)
	assert.Equal(t, []string{"PO-SIB-20250102-005", "PO-SIB-20250102-006", "PO-SIB-20250102-007"}, ids)
	assert.Nil(t, NextInternalIDs(nil, today, 0))
}
