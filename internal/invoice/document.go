package invoice

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redgarden/venue-workers/internal/db"
)

const (
	defaultCompanyName = "The Red Garden"
	defaultLocation    = "Patna, Bihar"
	defaultLogoPath    = "public/logo.png"

	numberPrefix = "Q-"
	dateLayout   = "02/01/2006"
)

// Number returns the booking's invoice number, deriving one from the id
// only when none has been assigned yet.
func Number(b *db.Booking) string {
	if b.InvoiceNumber != nil && *b.InvoiceNumber != "" {
		return *b.InvoiceNumber
	}
	id := b.ID.String()
	return numberPrefix + id[:8]
}

// ObjectKey is the storage key of a booking's rendered invoice.
func ObjectKey(b *db.Booking) string {
	return fmt.Sprintf("invoices/invoice-%s.pdf", b.ID)
}

// ServiceRows builds the ledger rows of the services table. Structured
// line_items win; otherwise, with legacyNotes set, each non-empty line of
// notes becomes one unpriced row.
func ServiceRows(b *db.Booking, legacyNotes bool) (string, error) {
	items, err := b.ParsedLineItems()
	if err != nil {
		return "", err
	}
	if len(items) > 0 {
		return lineItemRows(items), nil
	}
	if legacyNotes {
		return notesRows(b.Notes), nil
	}
	return "", nil
}

func lineItemRows(items []db.LineItem) string {
	rows := make([]string, 0, len(items))
	for i, item := range items {
		qty, amount := "-", "-"
		if item.Quantity != nil {
			qty = formatQuantity(*item.Quantity)
		}
		switch {
		case item.UnitPrice != nil && item.Quantity != nil:
			amount = formatAmount(*item.UnitPrice * *item.Quantity)
		case item.UnitPrice != nil:
			amount = formatAmount(*item.UnitPrice)
		}
		rows = append(rows, row(i+1, escapeLaTeX(item.Description), qty, amount))
	}
	return strings.Join(rows, "\n")
}

func notesRows(notes string) string {
	var rows []string
	for _, line := range strings.Split(notes, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rows = append(rows, row(len(rows)+1, escapeLaTeX(line), "-", "-"))
	}
	return strings.Join(rows, "\n")
}

func row(n int, description, qty, amount string) string {
	return fmt.Sprintf("\\hline\n%d & %s & %s & %s \\\\", n, description, qty, amount)
}

// Fields merges a booking, the site settings and the ledger rows into the
// template context. Every value is already LaTeX-safe.
func Fields(b *db.InvoiceBooking, s *db.SiteSettings, rows, number string, issued time.Time) map[string]any {
	total := valueOr(b.TotalAmount)
	gst := valueOr(b.GST)

	guests := ""
	if b.GuestCount != nil {
		guests = strconv.Itoa(*b.GuestCount)
	}
	duration := ""
	if b.StartTime != "" && b.EndTime != "" {
		duration = b.StartTime + " -- " + b.EndTime
	}

	return map[string]any{
		"company_name":      escapeLaTeX(firstNonEmpty(s.HeroTitle, defaultCompanyName)),
		"location":          escapeLaTeX(firstNonEmpty(s.Address, defaultLocation)),
		"phone":             escapeLaTeX(s.PhoneNumber),
		"email":             escapeLaTeX(s.ContactEmail),
		"quotation_number":  escapeLaTeX(number),
		"quotation_date":    issued.Format(dateLayout),
		"customer_name":     escapeLaTeX(b.UserName),
		"customer_mobile":   escapeLaTeX(b.UserMobile),
		"customer_address":  escapeLaTeX(b.UserEmail),
		"event_type":        escapeLaTeX(b.EventName),
		"facility":          escapeLaTeX(b.FacilityName),
		"event_date":        escapeLaTeX(b.EventDate),
		"guest_count":       guests,
		"duration":          escapeLaTeX(duration),
		"services_rows":     rows,
		"total_amount":      formatAmount(total),
		"gst":               formatAmount(gst),
		"total_payable":     formatAmount(total + gst),
		"bank_name":         escapeLaTeX(s.BankName),
		"bank_account":      escapeLaTeX(s.BankAccount),
		"ifsc":              escapeLaTeX(s.IFSC),
		"branch":            escapeLaTeX(s.Branch),
		"logo_filename":     LogoFilename(s),
		"auspicious_timing": "",
	}
}

// LogoPath is the configured logo file, relative to the invoicer's working directory.
func LogoPath(s *db.SiteSettings) string {
	return firstNonEmpty(s.LogoPath, defaultLogoPath)
}

// LogoFilename is the name the logo is copied to inside the render directory.
func LogoFilename(s *db.SiteSettings) string {
	name := LogoPath(s)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

var latexReplacer = strings.NewReplacer(
	`\`, `\textbackslash{}`,
	`&`, `\&`,
	`%`, `\%`,
	`$`, `\$`,
	`#`, `\#`,
	`_`, `\_`,
	`{`, `\{`,
	`}`, `\}`,
	`~`, `\textasciitilde{}`,
	`^`, `\textasciicircum{}`,
)

func escapeLaTeX(s string) string {
	return latexReplacer.Replace(s)
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatQuantity(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func valueOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
