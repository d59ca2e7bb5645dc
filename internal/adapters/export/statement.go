package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/kevin07696/settlement-service/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Format is a statement file format
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts "xlsx" or "pdf"; empty defaults to xlsx
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatPDF:
		return FormatPDF, nil
	}
	return "", domain.NewValidationError(domain.ErrorCodeValidationFailed, "format",
		fmt.Sprintf("unsupported export format %q: expected xlsx or pdf", value))
}

// ContentType returns the MIME type for the format
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Statement is a settlement report over a set of entries
type Statement struct {
	GeneratedAt time.Time
	Title       string
	Currency    string
	Entries     []*domain.SettlementEntry
}

// Totals sums the statement's amounts
type Totals struct {
	OrderSubtotal decimal.Decimal
	PlatformFee   decimal.Decimal
	AmountDue     decimal.Decimal
	Orders        int
}

// Totals returns the column sums
func (s *Statement) Totals() Totals {
	var t Totals
	for _, e := range s.Entries {
		t.OrderSubtotal = t.OrderSubtotal.Add(e.OrderSubtotal)
		t.PlatformFee = t.PlatformFee.Add(e.PlatformFee)
		t.AmountDue = t.AmountDue.Add(e.AmountDue)
		t.Orders += e.TotalOrders
	}
	return t
}

// FileName returns a download name like settlements-20240107.xlsx
func (s *Statement) FileName(f Format) string {
	return fmt.Sprintf("settlements-%s.%s", s.GeneratedAt.UTC().Format("20060102"), f)
}

// Render builds the statement in the requested format
func (s *Statement) Render(f Format) ([]byte, error) {
	if f == FormatPDF {
		return BuildStatementPDF(s)
	}
	return BuildStatementXLSX(s)
}

var columns = []string{"Week Ending", "Restaurant", "Name", "Orders", "Subtotal", "Platform Fee", "Amount Due", "Status", "Transaction", "Failure Reason"}

func row(e *domain.SettlementEntry) []string {
	return []string{
		domain.FormatWeekEnding(e.WeekEnding),
		e.RestaurantID,
		e.RestaurantName,
		fmt.Sprintf("%d", e.TotalOrders),
		domain.FormatAmount(e.OrderSubtotal),
		domain.FormatAmount(e.PlatformFee),
		domain.FormatAmount(e.AmountDue),
		string(e.Status),
		e.TransactionID,
		e.FailureReason,
	}
}

// cells is row(e) with the count and amounts kept numeric so finance can sum them
func cells(e *domain.SettlementEntry) []interface{} {
	values := make([]interface{}, 0, len(columns))
	for _, v := range row(e) {
		values = append(values, v)
	}
	values[3] = e.TotalOrders
	values[4] = e.OrderSubtotal.InexactFloat64()
	values[5] = e.PlatformFee.InexactFloat64()
	values[6] = e.AmountDue.InexactFloat64()
	return values
}

func setRow(f *excelize.File, sheet string, rowNum int, values []interface{}) error {
	for c, v := range values {
		cell, err := excelize.CoordinatesToCellName(c+1, rowNum)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("set %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

// BuildStatementXLSX renders a summary sheet and one row per entry
func BuildStatementXLSX(s *Statement) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	entriesSheet := "settlements"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(entriesSheet); err != nil {
		return nil, err
	}

	totals := s.Totals()
	summary := [][2]interface{}{
		{"Settlement Statement", s.Title},
		{"Generated", s.GeneratedAt.UTC().Format(time.RFC3339)},
		{"Currency", s.Currency},
		{"Entries", len(s.Entries)},
		{"Orders", totals.Orders},
		{"Order Subtotal", domain.FormatAmount(totals.OrderSubtotal)},
		{"Platform Fee", domain.FormatAmount(totals.PlatformFee)},
		{"Amount Due", domain.FormatAmount(totals.AmountDue)},
	}
	for i, kv := range summary {
		if err := setRow(f, summarySheet, i+1, kv[:]); err != nil {
			return nil, err
		}
	}

	header := make([]interface{}, len(columns))
	for i, title := range columns {
		header[i] = title
	}
	if err := setRow(f, entriesSheet, 1, header); err != nil {
		return nil, err
	}
	for r, e := range s.Entries {
		if err := setRow(f, entriesSheet, r+2, cells(e)); err != nil {
			return nil, fmt.Errorf("settlement %s: %w", e.ID, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatementPDF renders a landscape A4 table
func BuildStatementPDF(s *Statement) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Settlement Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	if s.Title != "" {
		pdf.Cell(0, 6, s.Title)
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", s.GeneratedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(5)

	totals := s.Totals()
	pdf.Cell(0, 6, fmt.Sprintf("Entries: %d  Orders: %d", len(s.Entries), totals.Orders))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total Amount Due (%s): %s", s.Currency, domain.FormatAmount(totals.AmountDue)))
	pdf.Ln(8)

	widths := []float64{24, 34, 40, 14, 24, 24, 24, 22, 36, 35}
	pdf.SetFont("Arial", "B", 8)
	for i, title := range columns {
		pdf.CellFormat(widths[i], 6, title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, e := range s.Entries {
		for i, v := range row(e) {
			align := "L"
			if i >= 3 && i <= 6 {
				align = "R"
			}
			pdf.CellFormat(widths[i], 6, truncate(v, widths[i]), "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// truncate keeps text roughly within a cell at 8pt
func truncate(s string, width float64) string {
	limit := int(width / 1.6)
	if len(s) <= limit || limit < 4 {
		return s
	}
	return s[:limit-3] + "..."
}
