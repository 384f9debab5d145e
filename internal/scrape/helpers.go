package scrape

import (
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/MikeTolmachev/porsche-monitor/internal/models"
)

var (
	nonDigitRe = regexp.MustCompile(`[^\d]`)
	yearRe     = regexp.MustCompile(`(\d{4})`)
	monthsRe   = regexp.MustCompile(`(\d+)\s*monat`)
	spaceRe    = regexp.MustCompile(`\s+`)

	stripMarkup = bluemonday.StrictPolicy()
)

// safeInt strips everything but digits and parses the rest. Anything
// unparseable yields nil; a listing field is never silently zero.
func safeInt(v any) *int {
	if v == nil {
		return nil
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		s = strconv.Itoa(t)
	default:
		s = fmt.Sprint(t)
	}
	cleaned := nonDigitRe.ReplaceAllString(s, "")
	if cleaned == "" {
		return nil
	}
	n, err := strconv.Atoi(cleaned)
	if err != nil {
		return nil
	}
	return &n
}

// extractApprovedMonths reads a Porsche Approved warranty duration out
// of free text. A bare mention without a figure counts as the standard
// 12 months; no mention at all yields nil.
func extractApprovedMonths(text string) *int {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "porsche approved") {
		return nil
	}
	if m := monthsRe.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return &n
		}
	}
	return models.IntPtr(12)
}

// firstYear pulls the first 4-digit token out of a registration
// string like "05/2022".
func firstYear(s string) *int {
	if m := yearRe.FindStringSubmatch(s); m != nil {
		if y, err := strconv.Atoi(m[1]); err == nil {
			return &y
		}
	}
	return nil
}

// collapseSpace normalizes all whitespace runs to single spaces.
func collapseSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// flattenMarkup strips any HTML out of description-style text so the
// keyword matcher sees plain words.
func flattenMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapseSpace(s)
	}
	return collapseSpace(html.UnescapeString(stripMarkup.Sanitize(s)))
}

// getMap / getSlice / getString navigate untyped JSON without panics.

func getMap(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

func getSlice(m map[string]any, key string) []any {
	if v, ok := m[key].([]any); ok {
		return v
	}
	return nil
}

func getString(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// firstString returns the first non-empty string among the keys.
func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := getString(m, key); s != "" {
			return s
		}
	}
	return ""
}

// absoluteURL resolves href against base when it is site-relative.
func absoluteURL(base, href string) string {
	if href == "" || strings.HasPrefix(href, "http") {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}

var jsonLDTypes = map[string]bool{
	"Vehicle": true,
	"Car":     true,
	"Product": true,
	"Offer":   true,
}

// listingsFromJSONLD extracts vehicle listings from ld+json script
// blocks. Handles bare objects, arrays, and @graph wrappers.
func listingsFromJSONLD(doc *goquery.Document, source, pageURL string) []models.Listing {
	var results []models.Listing
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var data any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return
		}
		if m, ok := data.(map[string]any); ok {
			if graph, ok := m["@graph"].([]any); ok {
				data = graph
			}
		}
		items, ok := data.([]any)
		if !ok {
			items = []any{data}
		}
		for _, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok || !jsonLDTypes[getString(item, "@type")] {
				continue
			}
			vid := firstString(item, "sku", "vehicleIdentificationNumber")
			if vid == "" {
				continue
			}
			var price *int
			if offers := getMap(item, "offers"); offers != nil {
				price = safeInt(offers["price"])
			}
			url := getString(item, "url")
			if url == "" {
				url = pageURL
			}
			title := getString(item, "name")
			if title == "" {
				title = "Porsche 911"
			}
			results = append(results, models.Listing{
				Source:      source,
				SourceID:    vid,
				URL:         url,
				Title:       title,
				PriceEUR:    price,
				OptionsText: flattenMarkup(getString(item, "description")),
				Raw:         item,
			})
		}
	})
	return results
}
