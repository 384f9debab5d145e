package scrape

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/MikeTolmachev/porsche-monitor/internal/models"
)

var embeddedStateRes = []*regexp.Regexp{
	regexp.MustCompile(`(?s)window\.__INITIAL_STATE__\s*=\s*(\{.+?\});`),
	regexp.MustCompile(`(?s)window\.__DATA__\s*=\s*(\{.+?\});`),
	regexp.MustCompile(`(?s)var\s+initialData\s*=\s*(\{.+?\});`),
}

func init() {
	Register("porsche_finder", func(opts Options) Source { return NewPorscheFinder(opts) })
}

// PorscheFinder scrapes finder.porsche.com. URLs may hit the JSON API
// directly or land on HTML pages; HTML is tried as __NEXT_DATA__,
// then JSON-LD, then embedded window-state JSON, then result cards.
type PorscheFinder struct {
	urls    []string
	fetcher *Fetcher
}

func NewPorscheFinder(opts Options) *PorscheFinder {
	return &PorscheFinder{
		urls: opts.URLs,
		fetcher: NewFetcher(FetchConfig{
			UserAgent: opts.UserAgent,
			Delay:     opts.Delay,
		}),
	}
}

func (s *PorscheFinder) Name() string { return "porsche_finder" }

func (s *PorscheFinder) Fetch(ctx context.Context) ([]models.Listing, error) {
	var all []models.Listing
	seen := map[string]bool{}
	for _, u := range s.urls {
		log.Printf("[porsche_finder] Fetching %s", u)
		page, err := s.fetcher.Get(ctx, u)
		if err != nil {
			if errors.Is(err, ErrBlocked) {
				log.Printf("[porsche_finder] Source blocked: %v", err)
			} else {
				log.Printf("[porsche_finder] Failed to fetch %s: %v", u, err)
			}
			continue
		}
		listings := parseFinderPage(page, "porsche_finder")
		log.Printf("[porsche_finder] Got %d listings from %s", len(listings), u)
		for _, l := range listings {
			if seen[l.SourceID] {
				continue
			}
			seen[l.SourceID] = true
			all = append(all, l)
		}
	}
	return all, nil
}

func parseFinderPage(page *Page, source string) []models.Listing {
	if strings.Contains(page.ContentType, "application/json") {
		var data any
		if err := json.Unmarshal(page.Body, &data); err != nil {
			log.Printf("[%s] Failed to parse JSON body from %s: %v", source, page.URL, err)
			return nil
		}
		listings := finderListingsFromJSON(data, source, page.URL)
		log.Printf("[%s] Parsed %d listings from JSON", source, len(listings))
		return listings
	}
	return parseFinderHTML(page.URL, page.Body, source)
}

// finderListingsFromJSON accepts either a bare array of vehicles or a
// wrapper object with the list under one of the usual keys.
func finderListingsFromJSON(data any, source, baseURL string) []models.Listing {
	var items []any
	switch d := data.(type) {
	case []any:
		items = d
	case map[string]any:
		for _, key := range []string{"results", "vehicles", "items", "data", "listings", "hits"} {
			if val := getSlice(d, key); val != nil {
				items = val
				break
			}
		}
		if items == nil {
			switch content := d["content"].(type) {
			case []any:
				items = content
			case map[string]any:
				for _, key := range []string{"results", "vehicles", "items"} {
					if val := getSlice(content, key); val != nil {
						items = val
						break
					}
				}
			}
		}
	}

	var listings []models.Listing
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if l, ok := finderVehicleFromJSON(item, source, baseURL); ok {
			listings = append(listings, l)
		}
	}
	return listings
}

// finderVehicleFromJSON maps one vehicle object from the Finder API
// (or an API-shaped embedded payload) to a Listing. The key sets are
// deliberately broad: the API surface varies between market and page.
func finderVehicleFromJSON(item map[string]any, source, baseURL string) (models.Listing, bool) {
	vid := firstString(item, "id", "vehicleId", "listingId", "vin")
	if vid == "" {
		return models.Listing{}, false
	}

	var titleParts []string
	for _, key := range []string{"modelYear", "year"} {
		if s := getString(item, key); s != "" {
			titleParts = append(titleParts, s)
		}
	}
	if s := firstString(item, "modelDescription", "modelName", "title", "name", "model"); s != "" {
		titleParts = append(titleParts, s)
	}
	if s := firstString(item, "variant", "trimLevel", "derivative"); s != "" {
		titleParts = append(titleParts, s)
	}
	title := strings.Join(titleParts, " ")
	if title == "" {
		title = "Porsche 911"
	}

	price := safeInt(item["price"])
	if price == nil {
		price = safeInt(item["listPrice"])
	}
	if price == nil {
		price = safeInt(getMap(item, "prices")["retail"])
	}
	if price == nil {
		price = safeInt(getMap(item, "pricing")["value"])
	}

	mileage := safeInt(item["mileage"])
	if mileage == nil {
		mileage = safeInt(item["mileageKm"])
	}
	if mileage == nil {
		mileage = safeInt(getMap(item, "mileageInfo")["value"])
	}

	reg := firstString(item, "firstRegistration", "registrationDate", "firstRegistrationDate")

	year := safeInt(item["modelYear"])
	if year == nil {
		year = safeInt(item["year"])
	}

	dealer := getMap(item, "dealer")
	if dealer == nil {
		dealer = getMap(item, "dealerInfo")
	}

	var locParts []string
	if s := firstString(item, "city", "location", "dealerCity"); s != "" {
		locParts = append(locParts, s)
	}
	if s := firstString(item, "country", "dealerCountry"); s != "" {
		locParts = append(locParts, s)
	}
	location := strings.Join(locParts, ", ")
	if location == "" && dealer != nil {
		location = firstString(dealer, "city", "location")
	}

	url := firstString(item, "url", "detailUrl", "link")
	if url != "" {
		url = absoluteURL(baseURL, url)
	} else {
		url = "https://finder.porsche.com/de/de-DE/detail/" + vid
	}

	optionsText := ""
	var optionsList []string
	for _, key := range []string{"equipment", "equipmentList", "options", "features"} {
		switch eq := item[key].(type) {
		case []any:
			for _, rawEq := range eq {
				switch e := rawEq.(type) {
				case string:
					optionsList = append(optionsList, e)
				case map[string]any:
					optionsList = append(optionsList, firstString(e, "name", "label", "description"))
				}
			}
		case string:
			optionsText = eq
		default:
			continue
		}
		break
	}
	if optionsText == "" && len(optionsList) > 0 {
		optionsText = strings.Join(optionsList, ", ")
	}

	var accidentFree *bool
	if b, ok := item["accidentFree"].(bool); ok {
		accidentFree = &b
	} else if b, ok := item["unfallfrei"].(bool); ok {
		accidentFree = &b
	}

	// Field names vary too much to enumerate, so accident and
	// Approved hints are searched over the whole serialized object.
	rawJSON, _ := json.Marshal(item)
	fullText := strings.ToLower(string(rawJSON))
	if accidentFree == nil {
		if strings.Contains(fullText, "unfallfrei") {
			accidentFree = models.BoolPtr(true)
		} else if strings.Contains(fullText, "unfallfahrzeug") {
			accidentFree = models.BoolPtr(false)
		}
	}
	approved := extractApprovedMonths(fullText)

	owners := safeInt(item["owners"])
	if owners == nil {
		owners = safeInt(item["numberOfOwners"])
	}
	if owners == nil {
		owners = safeInt(item["previousOwners"])
	}

	dealerName := ""
	if dealer != nil {
		dealerName = firstString(dealer, "name", "dealerName")
	} else if s, ok := item["dealer"].(string); ok {
		dealerName = s
	}

	imageURL := ""
	for _, key := range []string{"images", "imageUrls", "photos"} {
		if images := getSlice(item, key); len(images) > 0 {
			switch first := images[0].(type) {
			case string:
				imageURL = first
			case map[string]any:
				imageURL = getString(first, "url")
			}
			break
		}
	}
	if imageURL == "" {
		imageURL = getString(item, "imageUrl")
	}

	status := strings.ToLower(firstString(item, "status", "availability"))
	if status == "" {
		status = "available"
	}

	return models.Listing{
		Source:            source,
		SourceID:          vid,
		URL:               url,
		Title:             title,
		PriceEUR:          price,
		MileageKM:         mileage,
		FirstRegistration: reg,
		Year:              year,
		Location:          location,
		AccidentFree:      accidentFree,
		ApprovedMonths:    approved,
		Owners:            owners,
		Generation:        firstString(item, "generation", "modelGeneration"),
		BodyType:          firstString(item, "bodyType", "body"),
		Variant:           firstString(item, "variant", "trimLevel", "derivative"),
		OptionsText:       optionsText,
		OptionsList:       optionsList,
		Status:            status,
		ImageURL:          imageURL,
		DealerName:        dealerName,
		Raw:               item,
	}, true
}

func parseFinderHTML(baseURL string, body []byte, source string) []models.Listing {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		log.Printf("[%s] Failed to parse HTML from %s: %v", source, baseURL, err)
		return nil
	}

	// Strategy 1: Next.js __NEXT_DATA__.
	if raw := doc.Find("script#__NEXT_DATA__").Text(); raw != "" {
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			log.Printf("[%s] Failed to parse __NEXT_DATA__ JSON", source)
		} else {
			props := getMap(getMap(data, "props"), "pageProps")
			for _, key := range []string{"searchResults", "results", "vehicles", "listings", "initialData"} {
				switch val := props[key].(type) {
				case map[string]any:
					for _, subKey := range []string{"results", "items", "vehicles", "hits"} {
						if sub := getSlice(val, subKey); sub != nil {
							if listings := finderListingsFromJSON(sub, source, baseURL); len(listings) > 0 {
								return listings
							}
						}
					}
					if listings := finderListingsFromJSON(val, source, baseURL); len(listings) > 0 {
						return listings
					}
				case []any:
					if listings := finderListingsFromJSON(val, source, baseURL); len(listings) > 0 {
						return listings
					}
				}
			}
			if listings := finderListingsFromJSON(props, source, baseURL); len(listings) > 0 {
				return listings
			}
		}
	}

	// Strategy 2: JSON-LD structured data.
	if results := listingsFromJSONLD(doc, source, baseURL); len(results) > 0 {
		return results
	}

	// Strategy 3: embedded window-state JSON.
	var embedded []models.Listing
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		for _, re := range embeddedStateRes {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			var data any
			if err := json.Unmarshal([]byte(m[1]), &data); err != nil {
				continue
			}
			if listings := finderListingsFromJSON(data, source, baseURL); len(listings) > 0 {
				embedded = listings
				return false
			}
		}
		return true
	})
	if len(embedded) > 0 {
		return embedded
	}

	// Strategy 4: HTML result cards.
	return parseFinderCards(doc, baseURL, source)
}

var finderCardSelectors = []string{
	"[data-testid*='vehicle-card'], [data-testid*='listing-card'], [data-testid*='result-card']",
	"[class*='vehicle-card'], [class*='listing-card'], [class*='result-card'], [class*='search-result']",
	"article",
}

var (
	finderDetailPathRe  = regexp.MustCompile(`/details?/([^/?#]+)`)
	finderVehiclePathRe = regexp.MustCompile(`/vehicle/([^/?#]+)`)
)

func parseFinderCards(doc *goquery.Document, baseURL, source string) []models.Listing {
	var cards *goquery.Selection
	for _, sel := range finderCardSelectors {
		cards = doc.Find(sel)
		if cards.Length() > 0 {
			break
		}
	}
	if cards == nil || cards.Length() == 0 {
		cards = doc.Find("a[href*='/detail/'], a[href*='/vehicle/']")
	}

	var listings []models.Listing
	cards.Each(func(_ int, card *goquery.Selection) {
		link := card
		if !card.Is("a") {
			link = card.Find("a[href]").First()
		}
		href, _ := link.Attr("href")
		if href != "" {
			href = absoluteURL(baseURL, href)
		}

		vid := ""
		if m := finderDetailPathRe.FindStringSubmatch(href); m != nil {
			vid = m[1]
		} else if m := finderVehiclePathRe.FindStringSubmatch(href); m != nil {
			vid = m[1]
		}
		if vid == "" {
			// Stable synthetic id when the card has no detail link.
			sum := sha1.Sum([]byte(href + card.Text()))
			vid = hex.EncodeToString(sum[:])[:12]
		}

		title := collapseSpace(card.Find("h2, h3, h4, [class*='title'], [class*='name'], [class*='model']").First().Text())
		if title == "" {
			title = "Porsche 911"
		}

		fullText := collapseSpace(card.Text())

		price := safeInt(card.Find("[class*='price']").First().Text())
		if price == nil {
			if m := priceEuroRe.FindStringSubmatch(fullText); m != nil {
				price = safeInt(m[1])
			}
		}

		var mileage *int
		if m := mileageKmRe.FindStringSubmatch(strings.ReplaceAll(fullText, ".", "")); m != nil {
			mileage = safeInt(m[1])
		}

		location := collapseSpace(card.Find("[class*='location'], [class*='city'], [class*='dealer']").First().Text())

		if href == "" {
			href = baseURL
		}

		listings = append(listings, models.Listing{
			Source:      source,
			SourceID:    vid,
			URL:         href,
			Title:       title,
			PriceEUR:    price,
			MileageKM:   mileage,
			Location:    location,
			OptionsText: fullText,
			Raw:         map[string]any{"html_text": fullText},
		})
	})

	log.Printf("[%s] Parsed %d listings from HTML cards", source, len(listings))
	return listings
}
