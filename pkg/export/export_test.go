package export

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterOrdersColumnsByHeader(t *testing.T) {
	out, err := NewCSVExporter().Render(Dataset{
		Headers: []string{"B", "A"},
		Rows:    []map[string]string{{"A": "1", "B": "two, with comma"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "B,A\n\"two, with comma\",1\n", string(out))

	_, err = NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}

func TestCSVExporterNeutralizesFormulas(t *testing.T) {
	out, err := NewCSVExporter().Render(Dataset{
		Headers: []string{"Rejection Reason", "External PO"},
		Rows:    []map[string]string{{"Rejection Reason": "=HYPERLINK(\"x\")", "External PO": "1212121"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Rejection Reason,External PO\n\"'=HYPERLINK(\"\"x\"\")\",1212121\n", string(out))
	assert.Equal(t, "'@sum", neutralizeFormula("@sum"))
	assert.Equal(t, "PO-SIB-20250203-001", neutralizeFormula("PO-SIB-20250203-001"))
}

func TestCSVExporterDelimiter(t *testing.T) {
	data := Dataset{Headers: []string{"External PO", "Lines"}, Rows: []map[string]string{{"External PO": "1212121", "Lines": "1, 2"}}}

	out, err := NewCSVExporter(WithDelimiter(";")).Render(data)
	require.NoError(t, err)
	assert.Equal(t, "External PO;Lines\n1212121;1, 2\n", string(out))

	out, err = NewCSVExporter(WithDelimiter("\"")).Render(data)
	require.NoError(t, err)
	assert.Equal(t, "External PO,Lines\n1212121,\"1, 2\"\n", string(out))
}

func TestPDFExporterPaginatesWideTables(t *testing.T) {
	headers := []string{"c1", "c2", "c3", "c4", "c5", "c6", "c7"}
	rows := make([]map[string]string, 120)
	for i := range rows {
		rows[i] = map[string]string{"c1": fmt.Sprintf("row-%d", i), "c7": "a rather long value that will not fit in its cell"}
	}

	out, err := NewPDFExporter().Render(Dataset{Headers: headers, Rows: rows}, "register")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))

	_, err = NewPDFExporter().Render(Dataset{}, "")
	require.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 40))
	assert.Equal(t, "abcdefghi...", truncate("abcdefghijklmnop", 20))
}
