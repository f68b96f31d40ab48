// Package report renders the end-of-day sales artifact that the archive job
// attaches to each archived date.
package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"tokoledger/internal/domain"
)

// Renderer produces a daily report artifact and returns a reference to it
// (for TextRenderer, the written file name).
type Renderer interface {
	Render(ctx context.Context, title string, day time.Time, weekNumber int, rows []domain.Sale) (string, error)
}

// NoopRenderer skips artifact generation. Archive rows then carry an empty
// artifact reference.
type NoopRenderer struct{}

func (NoopRenderer) Render(_ context.Context, _ string, _ time.Time, _ int, _ []domain.Sale) (string, error) {
	return "", nil
}

// TextRenderer writes a plain-text daily report into Dir, named
// daily-sales-<weekday>-<dd-mm-yyyy>-week-<n>.txt.
type TextRenderer struct {
	Dir   string
	Title string
}

func NewTextRenderer(dir, title string) *TextRenderer {
	if title == "" {
		title = "Daily Sales Report"
	}
	return &TextRenderer{Dir: dir, Title: title}
}

func ArtifactName(day time.Time, weekNumber int) string {
	day = domain.DateUTC(day)
	return fmt.Sprintf("daily-sales-%s-%s-week-%d.txt", day.Weekday(), day.Format("02-01-2006"), weekNumber)
}

func (r *TextRenderer) Render(ctx context.Context, title string, day time.Time, weekNumber int, rows []domain.Sale) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if title == "" {
		title = r.Title
	}
	day = domain.DateUTC(day)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\n", title)
	fmt.Fprintf(&buf, "Date: %s (%s), week %d of month\n\n", day.Format("02-01-2006"), day.Weekday(), weekNumber)

	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tPRODUCT\tQTY\tUNIT PRICE\tTOTAL\tPROFIT")
	var totalCents, profitCents int64
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			row.SoldAt.UTC().Format("15:04"),
			row.ProductName,
			row.Qty,
			formatCents(row.PriceEachCents),
			formatCents(row.TotalCents),
			formatCents(row.ProfitCents),
		)
		totalCents += row.TotalCents
		profitCents += row.ProfitCents
	}
	if err := w.Flush(); err != nil {
		return "", err
	}

	fmt.Fprintf(&buf, "\nSales: %d\nTotal: %s\nProfit: %s\n", len(rows), formatCents(totalCents), formatCents(profitCents))

	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return "", err
	}
	name := ArtifactName(day, weekNumber)
	if err := os.WriteFile(filepath.Join(r.Dir, name), buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return name, nil
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
