package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/kevin07696/settlement-service/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleStatement() *Statement {
	week := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	paid := domain.NewSettlementEntry("s-1", "restaurant-123", "Spice Garden", week, week)
	paid.OrderSubtotal = decimal.RequireFromString("150.00")
	paid.PlatformFee = decimal.RequireFromString("22.50")
	paid.AmountDue = decimal.RequireFromString("127.50")
	paid.TotalOrders = 2
	paid.Status = domain.SettlementStatusPaid
	paid.TransactionID = "TXN-1"

	failed := domain.NewSettlementEntry("s-2", "restaurant-456", "Harbour Grill", week, week)
	failed.OrderSubtotal = decimal.RequireFromString("40.00")
	failed.PlatformFee = decimal.RequireFromString("6.00")
	failed.AmountDue = decimal.RequireFromString("34.00")
	failed.TotalOrders = 1
	failed.Status = domain.SettlementStatusFailed
	failed.FailureReason = "timeout"

	return &Statement{
		GeneratedAt: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		Title:       "Week ending 2024-01-07",
		Currency:    "LKR",
		Entries:     []*domain.SettlementEntry{paid, failed},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	f, err = ParseFormat("PDF")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)
	assert.Equal(t, "application/pdf", f.ContentType())

	_, err = ParseFormat("csv")
	assert.True(t, domain.IsValidationError(err))
}

func TestStatement_Totals(t *testing.T) {
	totals := sampleStatement().Totals()
	assert.Equal(t, "190.00", domain.FormatAmount(totals.OrderSubtotal))
	assert.Equal(t, "28.50", domain.FormatAmount(totals.PlatformFee))
	assert.Equal(t, "161.50", domain.FormatAmount(totals.AmountDue))
	assert.Equal(t, 3, totals.Orders)
}

func TestBuildStatementXLSX(t *testing.T) {
	stmt := sampleStatement()
	data, err := stmt.Render(FormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, "settlements-20240108.xlsx", stmt.FileName(FormatXLSX))

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	total, err := f.GetCellValue("summary", "B8")
	require.NoError(t, err)
	assert.Equal(t, "161.50", total)

	rows, err := f.GetRows("settlements")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Week Ending", rows[0][0])
	assert.Equal(t, "restaurant-123", rows[1][1])
	assert.Equal(t, "127.5", rows[1][6])
	assert.Equal(t, "PAID", rows[1][7])
	assert.Equal(t, "timeout", rows[2][9])
}

func TestBuildStatementPDF(t *testing.T) {
	data, err := sampleStatement().Render(FormatPDF)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestBuildStatement_Empty(t *testing.T) {
	stmt := &Statement{GeneratedAt: time.Now(), Currency: "LKR"}

	_, err := stmt.Render(FormatXLSX)
	assert.NoError(t, err)
	_, err = stmt.Render(FormatPDF)
	assert.NoError(t, err)
}

func TestSetRow_ReportsCellErrors(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, setRow(f, "Sheet1", 1, []interface{}{"a", 1}))

	err := setRow(f, "missing", 1, []interface{}{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing!A1")

	assert.Error(t, setRow(f, "Sheet1", 0, []interface{}{"a"}), "row 0 has no cell name")
}

func TestCells_KeepsAmountsNumeric(t *testing.T) {
	values := cells(sampleStatement().Entries[0])
	require.Len(t, values, len(columns))
	assert.Equal(t, "restaurant-123", values[1])
	assert.Equal(t, 127.5, values[6])
}
