package spreadsheet

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const sampleCSV = `Contributor Name,Amount,Date
Jane Doe,"$1,234.50",2024-03-01

Acme Corp,500.00,2024-03-02
Short Row,42.00
`

func TestReadCSV(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, []string{"Contributor Name", "Amount", "Date"}, table.Headers)
	require.Len(t, table.Rows, 3)

	assert.Equal(t, 2, table.Rows[0].Number)
	assert.Equal(t, "Jane Doe", table.Rows[0].Get("Contributor Name"))
	assert.Equal(t, "$1,234.50", table.Rows[0].Get("Amount"))

	// blank line is skipped but row numbers still track the source
	assert.Equal(t, 4, table.Rows[1].Number)
	assert.Equal(t, "Acme Corp", table.Rows[1].Get("Contributor Name"))

	// short rows pad missing cells with ""
	assert.Equal(t, 5, table.Rows[2].Number)
	assert.Equal(t, "", table.Rows[2].Get("Date"))
}

func TestReadCSV_EmptySource(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	assert.Error(t, err)

	_, err = ReadCSV(strings.NewReader(",,\n"))
	assert.Error(t, err)
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"Contributor Name", "Amount"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"Jane Doe", "100.00"}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]any{"Acme Corp", "250.00"}))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	table, err := ReadXLSX(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	assert.Equal(t, []string{"Contributor Name", "Amount"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "Jane Doe", table.Rows[0].Get("Contributor Name"))
	assert.Equal(t, "250.00", table.Rows[1].Get("Amount"))
}

func TestRead_DispatchesOnExtension(t *testing.T) {
	table, err := Read("filing.csv", []byte("Name,Amount\nJane,100\n"))
	require.NoError(t, err)
	assert.Len(t, table.Rows, 1)

	_, err = Read("filing.xlsx", []byte("not a workbook"))
	assert.Error(t, err)
}

func TestReadCSV_DuplicateHeaderFirstColumnWins(t *testing.T) {
	table, err := ReadCSV(strings.NewReader("Amount,Amount\n100,200\n"))
	require.NoError(t, err)
	assert.Equal(t, "100", table.Rows[0].Get("Amount"))
}

func TestTable_FingerprintMatchesAcrossFormats(t *testing.T) {
	csvTable, err := ReadCSV(strings.NewReader("Contributor Name,Amount\nJane Doe,100.00\nAcme Corp,250.00\n"))
	require.NoError(t, err)

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"Contributor Name", "Amount"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"Jane Doe", "100.00"}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]any{"Acme Corp", "250.00"}))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	xlsxTable, err := ReadXLSX(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	// same cells, different container format, same fingerprint
	assert.Equal(t, csvTable.Fingerprint(), xlsxTable.Fingerprint())

	changed, err := ReadCSV(strings.NewReader("Contributor Name,Amount\nJane Doe,100.00\nAcme Corp,999.00\n"))
	require.NoError(t, err)
	assert.NotEqual(t, csvTable.Fingerprint(), changed.Fingerprint())
}
