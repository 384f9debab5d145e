package scrape

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/MikeTolmachev/porsche-monitor/internal/models"
)

const mobileBase = "https://suchen.mobile.de"

var (
	mobileIDQueryRe = regexp.MustCompile(`id=(\d+)`)
	mobileIDPathRe  = regexp.MustCompile(`/(\d{6,})`)
	priceEuroRe     = regexp.MustCompile(`([\d.]+)\s*€`)
	mileageKmRe     = regexp.MustCompile(`(\d+)\s*km`)
	firstRegEZRe    = regexp.MustCompile(`EZ\s*(\d{2}/\d{4})`)
	plzLocationRe   = regexp.MustCompile(`(?:DE-|AT-|CH-)\d{5}\s+(\w+)`)
)

func init() {
	Register("mobile_de", func(opts Options) Source { return NewMobileDe(opts) })
}

// MobileDe scrapes suchen.mobile.de result pages. The site sits
// behind Imperva bot protection, so a run frequently yields zero
// listings; blocked pages are logged and never retried.
type MobileDe struct {
	urls      []string
	userAgent string
	delay     time.Duration
}

func NewMobileDe(opts Options) *MobileDe {
	return &MobileDe{urls: opts.URLs, userAgent: opts.UserAgent, delay: opts.Delay}
}

func (s *MobileDe) Name() string { return "mobile_de" }

func (s *MobileDe) collector(ctx context.Context) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(s.userAgent),
		colly.DetectCharset(),
		colly.StdlibContext(ctx),
	)
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       s.delay,
		RandomDelay: s.delay / 2,
	})
	c.SetRequestTimeout(30 * time.Second)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.8")
		r.Headers.Set("Referer", "https://www.mobile.de/")
	})
	return c
}

func (s *MobileDe) Fetch(ctx context.Context) ([]models.Listing, error) {
	var all []models.Listing
	seen := make(map[string]bool)

	c := s.collector(ctx)

	c.OnResponse(func(r *colly.Response) {
		if IsBlockedContent(r.Body) {
			log.Printf("[mobile_de] Bot detection active for %s; skipping", r.Request.URL)
			return
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
		if err != nil {
			log.Printf("[mobile_de] Failed to parse HTML from %s: %v", r.Request.URL, err)
			return
		}
		listings := parseMobilePage(doc, r.Request.URL.String())
		for _, l := range listings {
			if !seen[l.SourceID] {
				seen[l.SourceID] = true
				all = append(all, l)
			}
		}
		log.Printf("[mobile_de] Got %d listings from %s", len(listings), r.Request.URL)
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil && (r.StatusCode == http.StatusForbidden || r.StatusCode == http.StatusUnavailableForLegalReasons) {
			log.Printf("[mobile_de] Access blocked (%d) for %s; not retrying", r.StatusCode, r.Request.URL)
			return
		}
		log.Printf("[mobile_de] Fetch error for %s: %v", r.Request.URL, err)
	})

	for _, u := range s.urls {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		log.Printf("[mobile_de] Fetching %s", u)
		if err := c.Visit(u); err != nil {
			log.Printf("[mobile_de] Visit failed for %s: %v", u, err)
		}
	}
	c.Wait()

	return all, nil
}

var mobileCardSelectors = []string{
	"div[class*='cBox-body--resultitem'], article[class*='cBox-body--resultitem']",
	"div[data-ad-id], article[data-ad-id]",
	"div[data-listing-id], article[data-listing-id]",
	"div[class*='result-list-entry'], article[class*='result-list-entry']",
	"div[class*='result-item'], div[class*='listing-item']",
}

// parseMobilePage tries JSON-LD first, then known result-card
// selectors, then any links to detail pages.
func parseMobilePage(doc *goquery.Document, pageURL string) []models.Listing {
	if results := listingsFromJSONLD(doc, "mobile_de", pageURL); len(results) > 0 {
		return results
	}

	var cards *goquery.Selection
	for _, sel := range mobileCardSelectors {
		cards = doc.Find(sel)
		if cards.Length() > 0 {
			break
		}
	}

	var listings []models.Listing
	if cards != nil && cards.Length() > 0 {
		cards.Each(func(_ int, card *goquery.Selection) {
			if l, ok := parseMobileCard(card, pageURL); ok {
				listings = append(listings, l)
			}
		})
	} else {
		// Last resort: walk detail-page links and parse their
		// enclosing card-ish element.
		seen := make(map[string]bool)
		doc.Find("a[href*='details.html?id=']").Each(func(_ int, link *goquery.Selection) {
			href, _ := link.Attr("href")
			m := mobileIDQueryRe.FindStringSubmatch(href)
			if m == nil || seen[m[1]] {
				return
			}
			seen[m[1]] = true
			parent := link.ParentsFiltered("div, article, li").First()
			if parent.Length() == 0 {
				return
			}
			if l, ok := parseMobileCard(parent, pageURL); ok {
				listings = append(listings, l)
			}
		})
	}

	log.Printf("[mobile_de] Parsed %d listings from HTML", len(listings))
	return listings
}

func parseMobileCard(card *goquery.Selection, pageURL string) (models.Listing, bool) {
	link := card.Find("a[href]").First()
	href, _ := link.Attr("href")
	if href != "" {
		href = absoluteURL(pageURL, href)
	}

	// Listing ids live in the detail URL or in data attributes.
	vid := ""
	if href != "" {
		if m := mobileIDQueryRe.FindStringSubmatch(href); m != nil {
			vid = m[1]
		} else if m := mobileIDPathRe.FindStringSubmatch(href); m != nil {
			vid = m[1]
		}
	}
	if vid == "" {
		dataID := card.AttrOr("data-ad-id", card.AttrOr("data-listing-id", card.AttrOr("id", "")))
		vid = strings.TrimPrefix(dataID, "result-listing-")
	}
	if vid == "" {
		return models.Listing{}, false
	}

	title := collapseSpace(card.Find("[class*='headline'], [class*='title'], h2, h3, h4").First().Text())
	if title == "" {
		title = "Porsche 911"
	}

	fullText := collapseSpace(card.Text())

	price := safeInt(strings.TrimSpace(card.Find("[class*='price-block'], [class*='price'], [class*='gross']").First().Text()))
	if price == nil {
		if m := priceEuroRe.FindStringSubmatch(fullText); m != nil {
			price = safeInt(m[1])
		}
	}

	var mileage *int
	if m := mileageKmRe.FindStringSubmatch(strings.ReplaceAll(fullText, ".", "")); m != nil {
		mileage = safeInt(m[1])
	}

	firstReg := ""
	if m := firstRegEZRe.FindStringSubmatch(fullText); m != nil {
		firstReg = m[1]
	}

	location := collapseSpace(card.Find("[class*='seller-info'], [class*='location'], [class*='city']").First().Text())
	if location == "" {
		if m := plzLocationRe.FindStringSubmatch(fullText); m != nil {
			location = m[1]
		}
	}

	textLower := strings.ToLower(fullText)
	var accidentFree *bool
	if strings.Contains(textLower, "unfallfrei") {
		accidentFree = models.BoolPtr(true)
	} else if strings.Contains(textLower, "unfallfahrzeug") {
		accidentFree = models.BoolPtr(false)
	}

	dealer := collapseSpace(card.Find("[class*='seller-name'], [class*='dealer']").First().Text())

	img := card.Find("img").First()
	imageURL := img.AttrOr("data-src", img.AttrOr("src", ""))

	if href == "" {
		href = mobileBase + "/fahrzeuge/details.html?id=" + vid
	}

	return models.Listing{
		Source:            "mobile_de",
		SourceID:          vid,
		URL:               href,
		Title:             title,
		PriceEUR:          price,
		MileageKM:         mileage,
		FirstRegistration: firstReg,
		Year:              firstYear(firstReg),
		Location:          location,
		AccidentFree:      accidentFree,
		ApprovedMonths:    extractApprovedMonths(textLower),
		OptionsText:       fullText,
		ImageURL:          imageURL,
		DealerName:        dealer,
		Raw:               map[string]any{"html_text": fullText},
	}, true
}
