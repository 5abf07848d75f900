package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/po-assignment-api/internal/models"
	appErrors "github.com/noah-isme/po-assignment-api/pkg/errors"
)

// InternalIDPrefix starts every internal PO identifier.
const InternalIDPrefix = "PO-SIB-"

const internalIDDateLayout = "20060102"

// GroupByPO partitions a selection into one group per PO number. Groups keep the order in which
// their PO number first appears, lines keep their selection order.
func GroupByPO(selections []models.POLineSelection) ([]models.POLineGroup, error) {
	if len(selections) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one PO line must be selected")
	}

	seen := make(map[[2]string]struct{}, len(selections))
	index := make(map[string]int)
	groups := make([]models.POLineGroup, 0)

	for i, sel := range selections {
		po := strings.TrimSpace(sel.PONumber)
		line := strings.TrimSpace(sel.POLine)
		if po == "" || line == "" {
			return nil, appErrors.WithDetails(appErrors.ErrValidation,
				fmt.Sprintf("selection %d must have a PO number and a PO line", i+1),
				map[string]interface{}{"index": i})
		}
		key := [2]string{po, line}
		if _, dup := seen[key]; dup {
			return nil, appErrors.WithDetails(appErrors.ErrValidation,
				fmt.Sprintf("PO %s line %s is selected more than once", po, line),
				map[string]interface{}{"po_number": po, "po_line": line})
		}
		seen[key] = struct{}{}

		pos, ok := index[po]
		if !ok {
			pos = len(groups)
			index[po] = pos
			groups = append(groups, models.POLineGroup{PONumber: po})
		}
		groups[pos].Lines = append(groups[pos].Lines, line)
	}

	return groups, nil
}

// CheckNoConflicts fails with a conflict naming the first existing assignment that still claims
// any of the requested lines.
func CheckNoConflicts(groups []models.POLineGroup, existing []models.Assignment) error {
	return CheckNoConflictsExcluding(groups, existing, "")
}

// CheckNoConflictsExcluding is CheckNoConflicts ignoring the assignment with id selfID.
func CheckNoConflictsExcluding(groups []models.POLineGroup, existing []models.Assignment, selfID string) error {
	for _, group := range groups {
		for i := range existing {
			current := &existing[i]
			if selfID != "" && current.ID == selfID {
				continue
			}
			if current.ExternalPONumber != group.PONumber || !current.Status.ClaimsLines() {
				continue
			}
			overlap := intersectLines(group.Lines, current.ExternalPOLineNumbers)
			if len(overlap) == 0 {
				continue
			}
			return appErrors.WithDetails(appErrors.ErrConflict,
				fmt.Sprintf("PO %s lines %s are already assigned in %s", group.PONumber, strings.Join(overlap, ", "), current.InternalPOID),
				map[string]interface{}{
					"po_number":     group.PONumber,
					"lines":         overlap,
					"assignment_id": current.InternalPOID,
				})
		}
	}
	return nil
}

func intersectLines(requested, held []string) []string {
	if len(requested) == 0 || len(held) == 0 {
		return nil
	}
	claimed := make(map[string]struct{}, len(held))
	for _, line := range held {
		claimed[line] = struct{}{}
	}
	var overlap []string
	for _, line := range requested {
		if _, ok := claimed[line]; ok {
			overlap = append(overlap, line)
		}
	}
	return overlap
}

// InternalIDDatePrefix returns the id prefix shared by every assignment created on day (UTC).
func InternalIDDatePrefix(day time.Time) string {
	return InternalIDPrefix + day.UTC().Format(internalIDDateLayout) + "-"
}

// GenerateInternalID returns the next free internal id for today given the ids already issued.
func GenerateInternalID(existing []string, today time.Time) string {
	return NextInternalIDs(existing, today, 1)[0]
}

// NextInternalIDs reserves n consecutive internal ids following the highest sequence already
// issued under today's prefix. Ids of other days and malformed ids are ignored.
func NextInternalIDs(existing []string, today time.Time, n int) []string {
	if n <= 0 {
		return nil
	}
	prefix := InternalIDDatePrefix(today)
	maxSeq := 0
	for _, id := range existing {
		seq, ok := parseSequence(id, prefix)
		if ok && seq > maxSeq {
			maxSeq = seq
		}
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s%03d", prefix, maxSeq+i+1)
	}
	return ids
}

func parseSequence(id, prefix string) (int, bool) {
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	suffix := id[len(prefix):]
	if len(suffix) < 3 {
		return 0, false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	seq, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return seq, true
}
