package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/MikeTolmachev/porsche-monitor/internal/models"
)

const (
	autoscoutBase = "https://www.autoscout24.de"

	// Safety cap so a bad numberOfPages value can't run away.
	autoscoutMaxPages = 20
)

func init() {
	Register("autoscout24", func(opts Options) Source { return NewAutoScout24(opts) })
}

// AutoScout24 scrapes autoscout24.de search result pages. The site is
// Next.js SSR, so the primary strategy is the __NEXT_DATA__ payload
// with listings under props.pageProps; JSON-LD is the fallback.
type AutoScout24 struct {
	urls    []string
	fetcher *Fetcher
}

func NewAutoScout24(opts Options) *AutoScout24 {
	return &AutoScout24{
		urls: opts.URLs,
		fetcher: NewFetcher(FetchConfig{
			UserAgent: opts.UserAgent,
			Delay:     opts.Delay,
			Headers:   map[string]string{"Referer": autoscoutBase + "/"},
		}),
	}
}

func (s *AutoScout24) Name() string { return "autoscout24" }

// Fetch walks each search URL page by page (?page=N) until a page
// comes back empty or the reported page count is reached.
func (s *AutoScout24) Fetch(ctx context.Context) ([]models.Listing, error) {
	var all []models.Listing
	seen := make(map[string]bool)

	for _, baseURL := range s.urls {
		for page := 1; page <= autoscoutMaxPages; page++ {
			pageURL := autoscoutPageURL(baseURL, page)
			log.Printf("[autoscout24] Fetching page %d: %s", page, pageURL)

			resp, err := s.fetcher.Get(ctx, pageURL)
			if err != nil {
				if errors.Is(err, ErrBlocked) {
					log.Printf("[autoscout24] Source blocked: %v", err)
				} else {
					log.Printf("[autoscout24] Failed to fetch page %d: %v", page, err)
				}
				break
			}

			listings, totalPages := s.parsePage(pageURL, resp.Body)

			newOnPage := 0
			for _, l := range listings {
				if !seen[l.SourceID] {
					seen[l.SourceID] = true
					all = append(all, l)
					newOnPage++
				}
			}
			log.Printf("[autoscout24] Page %d/%s: %d new listings (total: %d)",
				page, pageLabel(totalPages), newOnPage, len(all))

			if len(listings) == 0 || (totalPages > 0 && page >= totalPages) {
				break
			}
		}
	}
	return all, nil
}

func pageLabel(total int) string {
	if total <= 0 {
		return "?"
	}
	return fmt.Sprintf("%d", total)
}

func autoscoutPageURL(baseURL string, page int) string {
	if page == 1 {
		return baseURL
	}
	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%spage=%d", baseURL, sep, page)
}

// parsePage returns the listings on one result page plus the total
// page count reported in __NEXT_DATA__ (0 when unknown).
func (s *AutoScout24) parsePage(pageURL string, body []byte) ([]models.Listing, int) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		log.Printf("[autoscout24] Failed to parse HTML from %s: %v", pageURL, err)
		return nil, 0
	}

	if raw := doc.Find("script#__NEXT_DATA__").Text(); raw != "" {
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			log.Printf("[autoscout24] Failed to parse __NEXT_DATA__ JSON")
		} else {
			pageProps := getMap(getMap(data, "props"), "pageProps")
			totalPages := 0
			if n := safeInt(pageProps["numberOfPages"]); n != nil {
				totalPages = *n
			}
			rawListings := getSlice(pageProps, "listings")
			var listings []models.Listing
			for _, raw := range rawListings {
				item, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				if l, ok := parseAutoScoutItem(item); ok {
					listings = append(listings, l)
				}
			}
			if len(rawListings) > 0 {
				log.Printf("[autoscout24] Parsed %d/%d listings from __NEXT_DATA__",
					len(listings), len(rawListings))
				return listings, totalPages
			}
		}
	}

	if results := listingsFromJSONLD(doc, "autoscout24", pageURL); len(results) > 0 {
		log.Printf("[autoscout24] Parsed %d listings from JSON-LD", len(results))
		return results, 0
	}

	log.Printf("[autoscout24] No listings found in response from %s", pageURL)
	return nil, 0
}

// parseAutoScoutItem maps one __NEXT_DATA__ listing object to a
// Listing. Returns false when the item carries no usable id.
func parseAutoScoutItem(item map[string]any) (models.Listing, bool) {
	vid := getString(item, "id")
	if vid == "" {
		return models.Listing{}, false
	}

	vehicle := getMap(item, "vehicle")
	tracking := getMap(item, "tracking")
	location := getMap(item, "location")
	seller := getMap(item, "seller")
	priceInfo := getMap(item, "price")

	variant := getString(vehicle, "variant")
	subtitle := getString(vehicle, "subtitle")
	title := getString(vehicle, "modelVersionInput")
	if title == "" {
		title = variant
	}
	if title == "" {
		title = "Porsche 911"
	}
	if subtitle != "" {
		title = title + " - " + subtitle
	}

	price := safeInt(tracking["price"])
	if price == nil {
		price = safeInt(priceInfo["priceFormatted"])
	}

	mileage := safeInt(tracking["mileage"])
	if mileage == nil {
		mileage = safeInt(vehicle["mileageInKm"])
	}

	// tracking reports "MM-YYYY"
	firstReg := strings.ReplaceAll(getString(tracking, "firstRegistration"), "-", "/")
	var year *int
	if firstReg != "" {
		year = firstYear(firstReg)
	}

	city := getString(location, "city")
	country := getString(location, "countryCode")
	loc := country
	if city != "" {
		loc = city + ", " + country
	}

	url := absoluteURL(autoscoutBase, getString(item, "url"))
	if url == "" {
		url = fmt.Sprintf("%s/angebote/-id%s", autoscoutBase, vid)
	}

	dealer := getString(seller, "companyName")
	if dealer == "" {
		dealer = getString(seller, "contactName")
	}

	imageURL := ""
	if images := getSlice(item, "images"); len(images) > 0 {
		if s, ok := images[0].(string); ok {
			imageURL = s
		}
	}

	// vehicleDetails rows carry "label: value" pairs (mileage, fuel,
	// gearbox and so on) that feed the keyword matcher.
	var optionParts []string
	for _, raw := range getSlice(item, "vehicleDetails") {
		detail, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		data := getString(detail, "data")
		label := getString(detail, "ariaLabel")
		if data != "" && label != "" {
			optionParts = append(optionParts, label+": "+data)
		}
	}
	var textParts []string
	if subtitle != "" {
		textParts = append(textParts, subtitle)
	}
	if len(optionParts) > 0 {
		textParts = append(textParts, strings.Join(optionParts, ", "))
	}

	return models.Listing{
		Source:            "autoscout24",
		SourceID:          vid,
		URL:               url,
		Title:             title,
		PriceEUR:          price,
		MileageKM:         mileage,
		FirstRegistration: firstReg,
		Year:              year,
		Location:          loc,
		Variant:           variant,
		OptionsText:       strings.Join(textParts, ", "),
		ImageURL:          imageURL,
		DealerName:        dealer,
		Raw:               item,
	}, true
}
