package report

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx"

	"github.com/rl1809/pharmacy-pos/internal/core/domain"
)

const (
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	summarySheet = "Resumen"
	salesSheet   = "Ventas"
	moneyFormat  = "#,##0.00"
	timeLayout   = "2006-01-02 15:04"
)

// SessionReport is one register session with the sales it recorded.
type SessionReport struct {
	Session        domain.RegisterSession
	Reconciliation domain.Reconciliation
	Sales          []domain.Sale
}

// Writer turns session reports into XLSX workbooks.
type Writer struct {
	Location *time.Location
}

func NewWriter(loc *time.Location) *Writer {
	if loc == nil {
		loc = time.Local
	}
	return &Writer{Location: loc}
}

// FileName is the download name for a session's report.
func FileName(sessionID string) string {
	return fmt.Sprintf("cierre-%s.xlsx", sessionID)
}

func (w *Writer) Build(rep SessionReport) (*xlsx.File, error) {
	file := xlsx.NewFile()

	summary, err := file.AddSheet(summarySheet)
	if err != nil {
		return nil, fmt.Errorf("add summary sheet: %w", err)
	}
	w.writeSummary(summary, rep)

	sales, err := file.AddSheet(salesSheet)
	if err != nil {
		return nil, fmt.Errorf("add sales sheet: %w", err)
	}
	w.writeSales(sales, rep.Sales)

	return file, nil
}

func (w *Writer) Write(out io.Writer, rep SessionReport) error {
	file, err := w.Build(rep)
	if err != nil {
		return err
	}
	if err := file.Write(out); err != nil {
		return fmt.Errorf("write session report: %w", err)
	}
	return nil
}

func (w *Writer) writeSummary(sheet *xlsx.Sheet, rep SessionReport) {
	s := rep.Session
	rec := rep.Reconciliation

	textRow(sheet, "Sesión", s.ID)
	textRow(sheet, "Cajero", s.CashierID)
	textRow(sheet, "Estado", string(s.Status))
	textRow(sheet, "Apertura", s.OpenedAt.In(w.Location).Format(timeLayout))
	if s.ClosedAt != nil {
		textRow(sheet, "Cierre", s.ClosedAt.In(w.Location).Format(timeLayout))
	}
	sheet.AddRow()

	moneyRow(sheet, "Fondo inicial", rec.OpeningFloat)
	moneyRow(sheet, "Efectivo", rec.Totals.Cash)
	moneyRow(sheet, "Tarjeta", rec.Totals.Card)
	moneyRow(sheet, "Transferencia", rec.Totals.Transfer)
	moneyRow(sheet, "Mixto", rec.Totals.Mixed)
	moneyRow(sheet, "Total vendido", rec.Totals.Sum())
	moneyRow(sheet, "Esperado en caja", rec.Expected)
	if s.Status == domain.SessionClosed {
		moneyRow(sheet, "Contado", s.ClosingAmount)
		moneyRow(sheet, "Diferencia", s.Variance)
	}

	row := sheet.AddRow()
	row.AddCell().SetString("Ventas")
	row.AddCell().SetInt(rec.SalesCount)
}

func (w *Writer) writeSales(sheet *xlsx.Sheet, sales []domain.Sale) {
	headers := []string{"Ticket", "Fecha", "Cliente", "Método", "Referencia", "Subtotal", "Descuento", "Total"}
	header := sheet.AddRow()
	for _, h := range headers {
		header.AddCell().SetString(h)
	}

	for _, s := range sales {
		row := sheet.AddRow()
		row.AddCell().SetString(s.Number)
		row.AddCell().SetString(s.CreatedAt.In(w.Location).Format(timeLayout))
		row.AddCell().SetString(s.CustomerName)
		row.AddCell().SetString(string(s.PaymentMethod))
		row.AddCell().SetString(s.PaymentReference)
		moneyCell(row, s.Subtotal)
		moneyCell(row, s.Discount)
		moneyCell(row, s.Total)
	}
}

func textRow(sheet *xlsx.Sheet, label, value string) {
	row := sheet.AddRow()
	row.AddCell().SetString(label)
	row.AddCell().SetString(value)
}

func moneyRow(sheet *xlsx.Sheet, label string, value decimal.Decimal) {
	row := sheet.AddRow()
	row.AddCell().SetString(label)
	moneyCell(row, value)
}

func moneyCell(row *xlsx.Row, value decimal.Decimal) {
	row.AddCell().SetFloatWithFormat(value.InexactFloat64(), moneyFormat)
}
