package receipt

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mitchellh/go-wordwrap"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pharmacy-pos/internal/core/domain"
)

// DefaultWidth fits 80 mm thermal paper in font A.
const DefaultWidth = 48

const (
	qtyWidth   = 5
	totalWidth = 11
	minWidth   = 32
)

// Header fallbacks when the pharmacy profile is incomplete.
const (
	defaultName    = "FARMACIA"
	defaultAddress = "Dirección Principal"
	defaultTaxID   = "0000-000000-000-0"
	defaultPhone   = "2222-0000"
	walkInCustomer = "Consumidor Final"
	systemCashier  = "Sistema"
)

// Renderer lays a sale out as fixed-width text.
type Renderer struct {
	Width    int
	Location *time.Location
}

func NewRenderer(width int, loc *time.Location) *Renderer {
	if width < minWidth {
		width = DefaultWidth
	}
	if loc == nil {
		loc = time.Local
	}
	return &Renderer{Width: width, Location: loc}
}

func (r *Renderer) Render(rc domain.Receipt) string {
	var b strings.Builder
	sale := rc.Sale
	profile := rc.Profile

	r.center(&b, strings.ToUpper(orDefault(profile.Name, defaultName)))
	r.center(&b, orDefault(profile.Address, defaultAddress))
	r.center(&b, "NIT: "+orDefault(profile.TaxID, defaultTaxID))
	r.center(&b, "Tel: "+orDefault(profile.Phone, defaultPhone))
	if profile.SanitaryRegistry != "" {
		r.center(&b, "Reg. Sanitario: "+profile.SanitaryRegistry)
	}
	b.WriteString("\n")

	r.line(&b, "Fecha: "+sale.CreatedAt.In(r.Location).Format("02/01/2006 15:04"))
	r.line(&b, "Ticket: "+orDefault(sale.Number, "---"))
	r.line(&b, "Cajero: "+orDefault(rc.CashierName, systemCashier))
	r.line(&b, "Cliente: "+orDefault(sale.CustomerName, walkInCustomer))
	b.WriteString("\n")

	r.separator(&b)
	descWidth := r.Width - qtyWidth - 1 - totalWidth
	b.WriteString(padRight("Cant", qtyWidth) + " " + padRight("Desc", descWidth) + padLeft("Total", totalWidth) + "\n")
	for _, l := range sale.Lines {
		parts := wrap(l.ProductName, descWidth-1)
		b.WriteString(padRight(fmt.Sprint(l.Quantity), qtyWidth) + " " +
			padRight(parts[0], descWidth) + padLeft(money(l.LineSubtotal), totalWidth) + "\n")
		for _, p := range parts[1:] {
			b.WriteString(strings.Repeat(" ", qtyWidth+1) + p + "\n")
		}
	}
	r.separator(&b)

	r.row(&b, "Subtotal:", money(sale.Subtotal))
	if sale.Discount.IsPositive() {
		r.row(&b, "Descuento:", "-"+money(sale.Discount))
	}
	r.row(&b, "TOTAL:", money(sale.Total))
	b.WriteString("\n")
	r.row(&b, "Método Pago:", string(sale.PaymentMethod))
	if sale.PaymentReference != "" {
		r.row(&b, "Ref:", sale.PaymentReference)
	}
	if sale.PrescriptionVerified {
		r.line(&b, "Receta verificada")
	}

	b.WriteString("\n\n")
	r.center(&b, "¡Gracias por su compra!")
	r.center(&b, "Por favor revise su producto")
	r.center(&b, "antes de salir.")
	return b.String()
}

func (r *Renderer) center(b *strings.Builder, s string) {
	for _, part := range wrap(s, r.Width) {
		pad := (r.Width - utf8.RuneCountInString(part)) / 2
		if pad < 0 {
			pad = 0
		}
		b.WriteString(strings.TrimRight(strings.Repeat(" ", pad)+part, " ") + "\n")
	}
}

func (r *Renderer) line(b *strings.Builder, s string) {
	for _, part := range wrap(s, r.Width) {
		b.WriteString(part + "\n")
	}
}

func (r *Renderer) row(b *strings.Builder, left, right string) {
	gap := r.Width - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	if gap < 1 {
		r.line(b, left)
		for _, part := range wrap(right, r.Width) {
			b.WriteString(padLeft(part, r.Width) + "\n")
		}
		return
	}
	b.WriteString(left + strings.Repeat(" ", gap) + right + "\n")
}

func (r *Renderer) separator(b *strings.Builder) {
	b.WriteString(strings.Repeat("-", r.Width) + "\n")
}

// wrap folds s at word boundaries and hard-breaks any word longer than
// width, so no returned line exceeds width runes.
func wrap(s string, width int) []string {
	if width < 1 {
		width = 1
	}
	var out []string
	for _, part := range strings.Split(wordwrap.WrapString(s, uint(width)), "\n") {
		runes := []rune(part)
		for len(runes) > width {
			out = append(out, string(runes[:width]))
			runes = runes[width:]
		}
		out = append(out, string(runes))
	}
	return out
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func padRight(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}

func padLeft(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return strings.Repeat(" ", width-n) + s
}
