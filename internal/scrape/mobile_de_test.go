package scrape

import (
	"bytes"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func mobileDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(html)))
	if err != nil {
		t.Fatalf("failed to build document: %v", err)
	}
	return doc
}

const mobileCardsHTML = `<!DOCTYPE html>
<html><body>
<div class="cBox-body cBox-body--resultitem">
  <a href="/fahrzeuge/details.html?id=401122334&damageUnrepaired=NO_DAMAGE_UNREPAIRED">
    <span class="headline-block">Porsche 911 Carrera 4 GTS Approved</span>
  </a>
  <div class="price-block">149.800 €</div>
  <div class="vehicle-data">EZ 05/2022, 24.300 km, Unfallfrei, Porsche Approved 24 Monate</div>
  <div class="seller-info">DE-70173 Stuttgart</div>
  <span class="seller-name">Porsche Zentrum Stuttgart</span>
  <img data-src="https://img.mobile.de/401122334.jpg" src="placeholder.gif"/>
</div>
<div class="cBox-body cBox-body--resultitem">
  <a href="/fahrzeuge/details.html?id=995566778">
    <span class="headline-block">Porsche 911 Targa 4 GTS</span>
  </a>
  <div class="vehicle-data">EZ 03/2021, 38.000 km, Unfallfahrzeug</div>
</div>
</body></html>`

func TestMobileDeParseCards(t *testing.T) {
	listings := parseMobilePage(mobileDoc(t, mobileCardsHTML), mobileBase+"/fahrzeuge/search.html")

	if len(listings) != 2 {
		t.Fatalf("got %d listings, want 2", len(listings))
	}

	first := listings[0]
	if first.Source != "mobile_de" || first.SourceID != "401122334" {
		t.Fatalf("unexpected identity %s/%s", first.Source, first.SourceID)
	}
	if first.Title != "Porsche 911 Carrera 4 GTS Approved" {
		t.Fatalf("unexpected title %q", first.Title)
	}
	if first.PriceEUR == nil || *first.PriceEUR != 149800 {
		t.Fatalf("unexpected price %v", first.PriceEUR)
	}
	if first.MileageKM == nil || *first.MileageKM != 24300 {
		t.Fatalf("unexpected mileage %v", first.MileageKM)
	}
	if first.FirstRegistration != "05/2022" {
		t.Fatalf("unexpected registration %q", first.FirstRegistration)
	}
	if first.Year == nil || *first.Year != 2022 {
		t.Fatalf("unexpected year %v", first.Year)
	}
	if first.AccidentFree == nil || !*first.AccidentFree {
		t.Fatalf("expected accident-free true, got %v", first.AccidentFree)
	}
	if first.ApprovedMonths == nil || *first.ApprovedMonths != 24 {
		t.Fatalf("unexpected approved months %v", first.ApprovedMonths)
	}
	if first.DealerName != "Porsche Zentrum Stuttgart" {
		t.Fatalf("unexpected dealer %q", first.DealerName)
	}
	if first.ImageURL != "https://img.mobile.de/401122334.jpg" {
		t.Fatalf("data-src should win over src, got %q", first.ImageURL)
	}

	second := listings[1]
	if second.SourceID != "995566778" {
		t.Fatalf("unexpected second id %q", second.SourceID)
	}
	if second.AccidentFree == nil || *second.AccidentFree {
		t.Fatalf("Unfallfahrzeug should yield accident-free false, got %v", second.AccidentFree)
	}
	if second.PriceEUR != nil {
		t.Fatalf("missing price should stay nil, got %v", second.PriceEUR)
	}
	if second.ApprovedMonths != nil {
		t.Fatalf("no approved mention should stay nil, got %v", second.ApprovedMonths)
	}
}

const mobileJSONLDHTML = `<!DOCTYPE html>
<html><head>
<script type="application/ld+json">
[
  {
    "@type": "Vehicle",
    "sku": "7788",
    "name": "Porsche 911 GTS",
    "url": "https://suchen.mobile.de/fahrzeuge/details.html?id=7788",
    "description": "Sport Chrono, Liftsystem",
    "offers": {"price": "141000"}
  }
]
</script>
</head><body>
<div class="cBox-body cBox-body--resultitem"><a href="/fahrzeuge/details.html?id=1">card that must not be parsed</a></div>
</body></html>`

func TestMobileDeJSONLDWinsOverCards(t *testing.T) {
	listings := parseMobilePage(mobileDoc(t, mobileJSONLDHTML), mobileBase)

	if len(listings) != 1 {
		t.Fatalf("got %d listings, want 1", len(listings))
	}
	if listings[0].SourceID != "7788" {
		t.Fatalf("unexpected id %q", listings[0].SourceID)
	}
	if listings[0].PriceEUR == nil || *listings[0].PriceEUR != 141000 {
		t.Fatalf("unexpected price %v", listings[0].PriceEUR)
	}
}

const mobileDetailLinksHTML = `<!DOCTYPE html>
<html><body>
<ul>
  <li>
    <a href="https://suchen.mobile.de/fahrzeuge/details.html?id=31415926">Porsche 911 GTS</a>
    <span>EZ 01/2023, 12.000 km, 159.000 €</span>
  </li>
  <li>
    <a href="https://suchen.mobile.de/fahrzeuge/details.html?id=31415926">duplicate link</a>
  </li>
</ul>
</body></html>`

func TestMobileDeDetailLinkFallback(t *testing.T) {
	listings := parseMobilePage(mobileDoc(t, mobileDetailLinksHTML), mobileBase)

	if len(listings) != 1 {
		t.Fatalf("got %d listings, want 1 (deduped)", len(listings))
	}
	if listings[0].SourceID != "31415926" {
		t.Fatalf("unexpected id %q", listings[0].SourceID)
	}
}

func TestMobileDeBlockedPage(t *testing.T) {
	blocked := []byte(`<html><body><div id="sec-if-cpt-container">challenge</div></body></html>`)
	if !IsBlockedContent(blocked) {
		t.Fatal("challenge page should be detected as blocked")
	}
}
