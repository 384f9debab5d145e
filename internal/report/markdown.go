// Package report renders the per-run Markdown summary.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MikeTolmachev/porsche-monitor/internal/filter"
	"github.com/MikeTolmachev/porsche-monitor/internal/models"
	"github.com/MikeTolmachev/porsche-monitor/internal/notify"
)

// Render builds the full Markdown report. changes is aligned with
// results by index; pass nil when change tracking is unavailable
// (the export path re-evaluates stored listings without diffing).
func Render(results []models.FilterResult, changes []models.ChangeInfo) string {
	now := time.Now().Format("2006-01-02T15:04:05")

	type entry struct {
		result models.FilterResult
		change *models.ChangeInfo
	}
	var matches, rejected []entry
	for i, r := range results {
		e := entry{result: r}
		if i < len(changes) {
			c := changes[i]
			e.change = &c
		}
		if r.IsMatch {
			matches = append(matches, e)
		} else {
			rejected = append(rejected, e)
		}
	}

	var b strings.Builder
	b.WriteString("# Porsche 911 (992.1) Monitor Report\n")
	b.WriteString("\n")
	b.WriteString("Generated: " + now + "\n")
	b.WriteString("\n")
	fmt.Fprintf(&b, "**Total listings scanned:** %d  \n", len(results))
	fmt.Fprintf(&b, "**Matches:** %d  \n", len(matches))
	fmt.Fprintf(&b, "**Rejected:** %d\n", len(rejected))
	b.WriteString("\n")

	if len(matches) > 0 {
		b.WriteString("## Matches\n")
		b.WriteString("\n")
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].result.Score > matches[j].result.Score
		})
		for i, e := range matches {
			r := e.result
			l := r.Listing
			fmt.Fprintf(&b, "### %d. %s\n", i+1, l.Title)
			b.WriteString("\n")

			if e.change != nil && e.change.IsNew {
				b.WriteString("**NEW LISTING**\n")
				b.WriteString("\n")
			} else if e.change != nil && e.change.IsChanged && len(e.change.Changes) > 0 {
				b.WriteString("**CHANGED:** " + changeSummary(e.change.Changes) + "\n")
				b.WriteString("\n")
			}

			b.WriteString("| Field | Value |\n")
			b.WriteString("|---|---|\n")
			fmt.Fprintf(&b, "| Price | %s |\n", notify.FormatPrice(l.PriceEUR))
			fmt.Fprintf(&b, "| Mileage | %s |\n", fmtKM(l.MileageKM))
			fmt.Fprintf(&b, "| Registration | %s |\n", orNA(l.FirstRegistration))
			fmt.Fprintf(&b, "| Location | %s |\n", orNA(l.Location))
			fmt.Fprintf(&b, "| Accident-free | %s |\n", fmtAccident(l.AccidentFree))
			fmt.Fprintf(&b, "| Porsche Approved | %s months |\n", fmtOptInt(l.ApprovedMonths))
			fmt.Fprintf(&b, "| Owners | %s |\n", fmtOptInt(l.Owners))
			fmt.Fprintf(&b, "| Source | %s |\n", l.Source)
			if l.DealerName != "" {
				fmt.Fprintf(&b, "| Dealer | %s |\n", l.DealerName)
			}
			fmt.Fprintf(&b, "| Score | %d |\n", r.Score)
			fmt.Fprintf(&b, "| Link | [%s](%s) |\n", l.URL, l.URL)
			b.WriteString("\n")

			b.WriteString("**Must-have options:**\n")
			b.WriteString("\n")
			for _, label := range filter.MustHaveLabels() {
				icon := "-"
				if r.Detected[label] {
					icon = "+"
				}
				b.WriteString("  " + icon + " " + label + "\n")
			}
			b.WriteString("\n")

			if len(r.NiceToHavePresent) > 0 {
				b.WriteString("**Nice-to-have present:** " + strings.Join(r.NiceToHavePresent, ", ") + "\n")
				b.WriteString("\n")
			}

			b.WriteString("---\n")
			b.WriteString("\n")
		}
	}

	if len(rejected) > 0 {
		b.WriteString("## Rejected Listings\n")
		b.WriteString("\n")
		b.WriteString("| Title | Price | km | Reasons |\n")
		b.WriteString("|---|---:|---:|---|\n")
		for _, e := range rejected {
			l := e.result.Listing
			fmt.Fprintf(&b, "| [%s](%s) | %s | %s | %s |\n",
				l.Title, l.URL,
				notify.FormatPrice(l.PriceEUR),
				fmtKM(l.MileageKM),
				strings.Join(e.result.Reasons, "; "))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// changeSummary renders diffed fields in a stable order.
func changeSummary(changes map[string]models.FieldChange) string {
	var parts []string
	if price, ok := changes["price_eur"]; ok {
		parts = append(parts, fmt.Sprintf("price_eur: %v -> %v", price.Old, price.New))
	}
	if status, ok := changes["status"]; ok {
		parts = append(parts, fmt.Sprintf("status: %v -> %v", status.Old, status.New))
	}
	return strings.Join(parts, ", ")
}

// WriteReport writes the rendered report, creating parent directories
// as needed.
func WriteReport(path, content string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func fmtKM(km *int) string {
	if km == nil {
		return "N/A"
	}
	return notify.GroupThousands(*km) + " km"
}

func fmtOptInt(v *int) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d", *v)
}

func fmtAccident(v *bool) string {
	switch {
	case v == nil:
		return "N/A"
	case *v:
		return "Yes"
	default:
		return "No"
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
