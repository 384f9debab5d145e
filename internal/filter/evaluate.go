package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/MikeTolmachev/porsche-monitor/internal/models"
)

// richDataThreshold separates detail-page scrapes from title-only
// listing cards: below this many characters of options text we cannot
// confidently reject a car for missing equipment.
const richDataThreshold = 20

var yearTokenRe = regexp.MustCompile(`(\d{4})`)

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// extractYear resolves the model year from the explicit field, falling
// back to a 4-digit token in the first-registration string.
func extractYear(l models.Listing) (int, bool) {
	if l.Year != nil {
		return *l.Year, true
	}
	if l.FirstRegistration != "" {
		if m := yearTokenRe.FindStringSubmatch(l.FirstRegistration); m != nil {
			if y, err := strconv.Atoi(m[1]); err == nil {
				return y, true
			}
		}
	}
	return 0, false
}

// isGen9921 decides whether the listing is a 992.1. Explicit
// generation tags win; then the model-year range 2019-2024; then
// generation codes in the free text. Undetermined defaults to accept,
// since the search URLs pre-filter the generation.
func isGen9921(l models.Listing) bool {
	if l.Generation != "" {
		gen := strings.ReplaceAll(strings.ToLower(l.Generation), " ", "")
		if strings.Contains(gen, "992.1") || strings.Contains(gen, "992i") {
			return true
		}
		if strings.Contains(gen, "992.2") || strings.Contains(gen, "992ii") {
			return false
		}
	}
	if year, ok := extractYear(l); ok {
		return year >= 2019 && year <= 2024
	}
	text := strings.ToLower(l.Title + " " + l.OptionsText)
	if strings.Contains(text, "992") {
		return true
	}
	for _, code := range []string{"991", "997", "996", "964"} {
		if strings.Contains(text, code) {
			return false
		}
	}
	return true
}

// isTargetBody accepts GTS variants (coupe and cabriolet) and rejects
// Targa and non-GTS trims.
func isTargetBody(l models.Listing) bool {
	text := strings.ToLower(l.Title + " " + l.Variant + " " + l.BodyType)
	if strings.Contains(text, "targa") {
		return false
	}
	return strings.Contains(text, "gts")
}

// Evaluate runs the fixed sequence of criteria checks against one
// listing. Hard checks append a rejection reason; equipment and geo
// checks only move the score. The function is pure: same listing and
// criteria always produce the same result.
func Evaluate(l models.Listing, c Criteria) models.FilterResult {
	var reasons []string
	var mustHaveMissing []string
	var niceToHavePresent []string
	detected := map[string]bool{}

	parts := []string{l.Title, l.OptionsText}
	parts = append(parts, l.OptionsList...)
	text := strings.TrimSpace(strings.Join(parts, " "))
	textLower := strings.ToLower(text)

	// Hard filters: reject only when data is definitively bad.

	if l.AccidentFree != nil && !*l.AccidentFree {
		reasons = append(reasons, "not accident-free (Unfallfrei required)")
	}

	if l.MileageKM != nil && *l.MileageKM > c.MileageKMMax {
		reasons = append(reasons, fmt.Sprintf("mileage %d km > %d km", *l.MileageKM, c.MileageKMMax))
	}

	// Porsche Approved: reject only if explicitly < 12 months. An
	// absent value may still be on the detail page, so fall back to a
	// text hint before rejecting.
	if l.ApprovedMonths != nil && *l.ApprovedMonths < 12 {
		reasons = append(reasons, fmt.Sprintf("Porsche Approved %d months < 12 months required", *l.ApprovedMonths))
	} else if l.ApprovedMonths == nil {
		if !strings.Contains(textLower, "approved") {
			reasons = append(reasons, "Porsche Approved not mentioned")
		}
	}

	if c.PriceEURMax > 0 && l.PriceEUR != nil && *l.PriceEUR > c.PriceEURMax {
		reasons = append(reasons, fmt.Sprintf("price %d EUR > %d EUR", *l.PriceEUR, c.PriceEURMax))
	}

	if l.Owners != nil && *l.Owners > c.OwnersMax {
		reasons = append(reasons, fmt.Sprintf("owners %d > %d", *l.Owners, c.OwnersMax))
	}

	if year, ok := extractYear(l); ok && (year < c.Years[0] || year > c.Years[1]) {
		reasons = append(reasons, fmt.Sprintf("year %d outside %d-%d", year, c.Years[0], c.Years[1]))
	}

	if !isGen9921(l) {
		reasons = append(reasons, "not 992.1 generation")
	}

	if !isTargetBody(l) {
		reasons = append(reasons, "body type excluded (Targa/non-GTS)")
	}

	// Equipment detection. Listing cards often only carry a short
	// title; full equipment lists appear on detail pages only.
	hasRichData := len(l.OptionsText) > richDataThreshold

	var hardMissing []string
	for _, opt := range hardMustHaveKeywords {
		found := containsAny(textLower, opt.Keywords)
		detected[opt.Label] = found
		if !found {
			hardMissing = append(hardMissing, opt.Label)
		}
	}

	// Absence of evidence is only evidence of absence when a real
	// equipment list was scraped.
	if len(hardMissing) > 0 && hasRichData {
		reasons = append(reasons, "missing required: "+strings.Join(hardMissing, ", "))
	}

	for _, opt := range softMustHaveKeywords {
		found := containsAny(textLower, opt.Keywords)
		detected[opt.Label] = found
		if !found {
			mustHaveMissing = append(mustHaveMissing, opt.Label)
		}
	}

	score := 100
	for _, opt := range niceToHaveKeywords {
		found := containsAny(textLower, opt.Keywords)
		detected[opt.Label] = found
		if found {
			score += 10
			niceToHavePresent = append(niceToHavePresent, opt.Label)
		}
	}

	score -= len(mustHaveMissing) * 10
	score -= len(hardMissing) * 15 // hard must-haves weigh more

	// Geo bonus: first matching priority entry only.
	if l.Location != "" && len(c.GeoPriority) > 0 {
		locLower := strings.ToLower(l.Location)
		for i, city := range c.GeoPriority {
			if strings.Contains(locLower, strings.ToLower(city)) {
				bonus := 10 - i*2
				if bonus < 2 {
					bonus = 2
				}
				score += bonus
				break
			}
		}
	}

	return models.FilterResult{
		Listing:           l,
		IsMatch:           len(reasons) == 0,
		Score:             score,
		MustHaveMissing:   mustHaveMissing,
		NiceToHavePresent: niceToHavePresent,
		Reasons:           reasons,
		Detected:          detected,
	}
}
