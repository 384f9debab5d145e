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

var porscheDeEmbeddedRes = []*regexp.Regexp{
	regexp.MustCompile(`(?s)window\.__PRELOADED_STATE__\s*=\s*(\{.+?\});`),
	regexp.MustCompile(`(?s)window\.__INITIAL_DATA__\s*=\s*(\{.+?\});`),
	regexp.MustCompile(`(?s)"vehicles"\s*:\s*(\[.+?\])`),
}

func init() {
	Register("porsche_de", func(opts Options) Source { return NewPorscheDe(opts) })
}

// PorscheDe scrapes the official porsche.com/porsche.de pre-owned
// pages. Those pages share the Finder data shapes, so vehicle JSON is
// handed to the finder parser; embedded Finder iframes are followed
// one level deep.
type PorscheDe struct {
	urls    []string
	fetcher *Fetcher
}

func NewPorscheDe(opts Options) *PorscheDe {
	return &PorscheDe{
		urls: opts.URLs,
		fetcher: NewFetcher(FetchConfig{
			UserAgent: opts.UserAgent,
			Delay:     opts.Delay,
			Headers:   map[string]string{"Referer": "https://www.porsche.com/"},
		}),
	}
}

func (s *PorscheDe) Name() string { return "porsche_de" }

func (s *PorscheDe) Fetch(ctx context.Context) ([]models.Listing, error) {
	var all []models.Listing
	seen := map[string]bool{}
	for _, u := range s.urls {
		log.Printf("[porsche_de] Fetching %s", u)
		page, err := s.fetcher.Get(ctx, u)
		if err != nil {
			if errors.Is(err, ErrBlocked) {
				log.Printf("[porsche_de] Source blocked: %v", err)
			} else {
				log.Printf("[porsche_de] Failed to fetch %s: %v", u, err)
			}
			continue
		}
		listings := s.parsePage(ctx, page)
		log.Printf("[porsche_de] Got %d listings from %s", len(listings), u)
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

func (s *PorscheDe) parsePage(ctx context.Context, page *Page) []models.Listing {
	if strings.Contains(page.ContentType, "application/json") {
		var data any
		if err := json.Unmarshal(page.Body, &data); err != nil {
			log.Printf("[porsche_de] Failed to parse JSON body from %s: %v", page.URL, err)
			return nil
		}
		listings := porscheDeListingsFromJSON(data, page.URL)
		log.Printf("[porsche_de] Parsed %d listings from JSON", len(listings))
		return listings
	}
	return s.parseHTML(ctx, page.URL, page.Body)
}

// porscheDeListingsFromJSON unwraps the Porsche API envelopes
// (response/content/payload) before delegating to the finder vehicle
// parser.
func porscheDeListingsFromJSON(data any, baseURL string) []models.Listing {
	var items []any
	switch d := data.(type) {
	case []any:
		items = d
	case map[string]any:
		for _, key := range []string{"vehicles", "results", "items", "data", "listings"} {
			if val := getSlice(d, key); val != nil {
				items = val
				break
			}
		}
		if items == nil {
			for _, topKey := range []string{"response", "content", "payload"} {
				sub := getMap(d, topKey)
				if sub == nil {
					continue
				}
				for _, key := range []string{"vehicles", "results", "items"} {
					if val := getSlice(sub, key); val != nil {
						items = val
						break
					}
				}
				if items != nil {
					break
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
		if l, ok := finderVehicleFromJSON(item, "porsche_de", baseURL); ok {
			listings = append(listings, l)
		}
	}
	return listings
}

func (s *PorscheDe) parseHTML(ctx context.Context, baseURL string, body []byte) []models.Listing {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		log.Printf("[porsche_de] Failed to parse HTML from %s: %v", baseURL, err)
		return nil
	}

	// Embedded JSON first: __NEXT_DATA__ or SPA state blobs.
	var found []models.Listing
	doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return true
		}

		if id, _ := sel.Attr("id"); id == "__NEXT_DATA__" {
			var data map[string]any
			if err := json.Unmarshal([]byte(text), &data); err != nil {
				return true
			}
			props := getMap(getMap(data, "props"), "pageProps")
			for _, key := range []string{"vehicles", "results", "listings", "searchResults"} {
				switch val := props[key].(type) {
				case []any:
					if listings := porscheDeListingsFromJSON(val, baseURL); len(listings) > 0 {
						found = listings
						return false
					}
				case map[string]any:
					for _, subKey := range []string{"items", "results", "vehicles"} {
						if sub := getSlice(val, subKey); sub != nil {
							if listings := porscheDeListingsFromJSON(sub, baseURL); len(listings) > 0 {
								found = listings
								return false
							}
						}
					}
				}
			}
			return true
		}

		for _, re := range porscheDeEmbeddedRes {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			var data any
			if err := json.Unmarshal([]byte(m[1]), &data); err != nil {
				continue
			}
			if listings := porscheDeListingsFromJSON(data, baseURL); len(listings) > 0 {
				found = listings
				return false
			}
		}
		return true
	})
	if len(found) > 0 {
		return found
	}

	// Marketing pages often just embed the Finder in an iframe.
	var iframeListings []models.Listing
	doc.Find("iframe[src*='finder.porsche.com']").EachWithBreak(func(_ int, iframe *goquery.Selection) bool {
		src, _ := iframe.Attr("src")
		src = absoluteURL(baseURL, src)
		log.Printf("[porsche_de] Following finder iframe: %s", src)
		page, err := s.fetcher.Get(ctx, src)
		if err != nil {
			log.Printf("[porsche_de] Failed to fetch iframe URL %s: %v", src, err)
			return true
		}
		if listings := parseFinderHTML(src, page.Body, "porsche_de"); len(listings) > 0 {
			iframeListings = listings
			return false
		}
		return true
	})
	if len(iframeListings) > 0 {
		return iframeListings
	}

	return parsePorscheDeCards(doc, baseURL)
}

var porscheDePathIDRe = regexp.MustCompile(`/(\w{8,})`)

func parsePorscheDeCards(doc *goquery.Document, baseURL string) []models.Listing {
	cards := doc.Find("article")
	if cards.Length() == 0 {
		cards = doc.Find("div[class*='vehicle'], div[class*='listing'], div[class*='result'], div[class*='card']")
	}

	var listings []models.Listing
	cards.Each(func(_ int, card *goquery.Selection) {
		link := card.Find("a[href]").First()
		href, _ := link.Attr("href")
		if href != "" {
			href = absoluteURL(baseURL, href)
		}

		title := collapseSpace(card.Find("h2, h3, h4").First().Text())
		if title == "" {
			title = "Porsche 911"
		}

		fullText := collapseSpace(card.Text())
		undotted := strings.ReplaceAll(fullText, ".", "")

		var price, mileage *int
		if m := priceEuroRe.FindStringSubmatch(undotted); m != nil {
			price = safeInt(m[1])
		}
		if m := mileageKmRe.FindStringSubmatch(undotted); m != nil {
			mileage = safeInt(m[1])
		}

		vid := ""
		if m := finderDetailPathRe.FindStringSubmatch(href); m != nil {
			vid = m[1]
		} else if m := porscheDePathIDRe.FindStringSubmatch(href); m != nil {
			vid = m[1]
		}
		if vid == "" {
			sum := sha1.Sum([]byte(href + fullText))
			vid = hex.EncodeToString(sum[:])[:12]
		}

		if href == "" {
			href = baseURL
		}

		listings = append(listings, models.Listing{
			Source:      "porsche_de",
			SourceID:    vid,
			URL:         href,
			Title:       title,
			PriceEUR:    price,
			MileageKM:   mileage,
			OptionsText: fullText,
			Raw:         map[string]any{"html_text": fullText},
		})
	})

	log.Printf("[porsche_de] Parsed %d listings from HTML", len(listings))
	return listings
}
