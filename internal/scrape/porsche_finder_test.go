package scrape

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

const finderAPIJSON = `{
  "results": [
    {
      "id": "PF-001",
      "modelYear": 2022,
      "modelDescription": "911 Carrera 4 GTS",
      "variant": "Carrera 4 GTS",
      "price": 152900,
      "mileage": 18200,
      "firstRegistration": "2022-04-12",
      "city": "München",
      "country": "DE",
      "accidentFree": true,
      "numberOfOwners": 1,
      "generation": "992.1",
      "bodyType": "Coupé",
      "equipment": [
        "Sport Chrono Paket",
        {"name": "Liftsystem Vorderachse"},
        {"label": "Hinterachslenkung"}
      ],
      "warranty": "Porsche Approved 24 Monate",
      "dealer": {"name": "Porsche Zentrum München", "city": "München"},
      "images": ["https://finder.porsche.com/img/pf-001.jpg"],
      "detailUrl": "/de/de-DE/detail/PF-001",
      "status": "AVAILABLE"
    },
    {"noId": true}
  ]
}`

func TestPorscheFinderParseJSONAPI(t *testing.T) {
	page := &Page{
		URL:         "https://finder.porsche.com/api/search",
		ContentType: "application/json; charset=utf-8",
		Body:        []byte(finderAPIJSON),
	}
	listings := parseFinderPage(page, "porsche_finder")

	if len(listings) != 1 {
		t.Fatalf("got %d listings, want 1", len(listings))
	}
	l := listings[0]
	if l.Source != "porsche_finder" || l.SourceID != "PF-001" {
		t.Fatalf("unexpected identity %s/%s", l.Source, l.SourceID)
	}
	if l.Title != "2022 911 Carrera 4 GTS Carrera 4 GTS" {
		t.Fatalf("unexpected title %q", l.Title)
	}
	if l.PriceEUR == nil || *l.PriceEUR != 152900 {
		t.Fatalf("unexpected price %v", l.PriceEUR)
	}
	if l.MileageKM == nil || *l.MileageKM != 18200 {
		t.Fatalf("unexpected mileage %v", l.MileageKM)
	}
	if l.Year == nil || *l.Year != 2022 {
		t.Fatalf("unexpected year %v", l.Year)
	}
	if l.Location != "München, DE" {
		t.Fatalf("unexpected location %q", l.Location)
	}
	if l.AccidentFree == nil || !*l.AccidentFree {
		t.Fatalf("unexpected accident flag %v", l.AccidentFree)
	}
	if l.ApprovedMonths == nil || *l.ApprovedMonths != 24 {
		t.Fatalf("unexpected approved months %v", l.ApprovedMonths)
	}
	if l.Owners == nil || *l.Owners != 1 {
		t.Fatalf("unexpected owners %v", l.Owners)
	}
	if l.Generation != "992.1" {
		t.Fatalf("unexpected generation %q", l.Generation)
	}
	if len(l.OptionsList) != 3 {
		t.Fatalf("expected 3 equipment entries, got %v", l.OptionsList)
	}
	if l.OptionsText != "Sport Chrono Paket, Liftsystem Vorderachse, Hinterachslenkung" {
		t.Fatalf("unexpected options text %q", l.OptionsText)
	}
	if l.Status != "available" {
		t.Fatalf("status should be lowercased, got %q", l.Status)
	}
	if l.URL != "https://finder.porsche.com/de/de-DE/detail/PF-001" {
		t.Fatalf("unexpected url %q", l.URL)
	}
	if l.DealerName != "Porsche Zentrum München" {
		t.Fatalf("unexpected dealer %q", l.DealerName)
	}
}

func TestPorscheFinderBareArrayJSON(t *testing.T) {
	page := &Page{
		URL:         "https://finder.porsche.com/api/search",
		ContentType: "application/json",
		Body:        []byte(`[{"id": "X1", "modelName": "911 GTS"}, {"id": "X2"}]`),
	}
	listings := parseFinderPage(page, "porsche_finder")
	if len(listings) != 2 {
		t.Fatalf("got %d listings, want 2", len(listings))
	}
	if listings[0].Title != "911 GTS" {
		t.Fatalf("unexpected title %q", listings[0].Title)
	}
	if listings[1].Title != "Porsche 911" {
		t.Fatalf("empty item should default title, got %q", listings[1].Title)
	}
	if listings[1].Status != "available" {
		t.Fatalf("default status should be available, got %q", listings[1].Status)
	}
}

const finderNextDataHTML = `<!DOCTYPE html>
<html><head>
<script id="__NEXT_DATA__" type="application/json">
{"props": {"pageProps": {"searchResults": {"hits": [
  {"id": "ND-1", "modelName": "911 Carrera GTS", "price": "149.000"}
]}}}}
</script>
</head><body></body></html>`

func TestPorscheFinderNextData(t *testing.T) {
	page := &Page{
		URL:         "https://finder.porsche.com/de/de-DE/search",
		ContentType: "text/html",
		Body:        []byte(finderNextDataHTML),
	}
	listings := parseFinderPage(page, "porsche_finder")
	if len(listings) != 1 {
		t.Fatalf("got %d listings, want 1", len(listings))
	}
	if listings[0].SourceID != "ND-1" {
		t.Fatalf("unexpected id %q", listings[0].SourceID)
	}
	if listings[0].PriceEUR == nil || *listings[0].PriceEUR != 149000 {
		t.Fatalf("unexpected price %v", listings[0].PriceEUR)
	}
}

const finderEmbeddedStateHTML = `<!DOCTYPE html>
<html><head>
<script>
window.__INITIAL_STATE__ = {"vehicles": [{"id": "ES-7", "title": "911 GTS 992"}]};
</script>
</head><body></body></html>`

func TestPorscheFinderEmbeddedState(t *testing.T) {
	page := &Page{
		URL:         "https://finder.porsche.com/de/de-DE/search",
		ContentType: "text/html",
		Body:        []byte(finderEmbeddedStateHTML),
	}
	listings := parseFinderPage(page, "porsche_finder")
	if len(listings) != 1 {
		t.Fatalf("got %d listings, want 1", len(listings))
	}
	if listings[0].SourceID != "ES-7" {
		t.Fatalf("unexpected id %q", listings[0].SourceID)
	}
}

const finderCardsHTML = `<!DOCTYPE html>
<html><body>
<div data-testid="vehicle-card">
  <a href="/de/de-DE/detail/CARD-9">
    <h3>Porsche 911 Carrera 4 GTS</h3>
  </a>
  <span class="price">154.900 €</span>
  <span class="mileage">19.300 km</span>
  <span class="location">Hamburg</span>
</div>
</body></html>`

func TestPorscheFinderHTMLCards(t *testing.T) {
	page := &Page{
		URL:         "https://finder.porsche.com/de/de-DE/search",
		ContentType: "text/html",
		Body:        []byte(finderCardsHTML),
	}
	listings := parseFinderPage(page, "porsche_finder")
	if len(listings) != 1 {
		t.Fatalf("got %d listings, want 1", len(listings))
	}
	l := listings[0]
	if l.SourceID != "CARD-9" {
		t.Fatalf("unexpected id %q", l.SourceID)
	}
	if l.Title != "Porsche 911 Carrera 4 GTS" {
		t.Fatalf("unexpected title %q", l.Title)
	}
	if l.PriceEUR == nil || *l.PriceEUR != 154900 {
		t.Fatalf("unexpected price %v", l.PriceEUR)
	}
	if l.MileageKM == nil || *l.MileageKM != 19300 {
		t.Fatalf("unexpected mileage %v", l.MileageKM)
	}
	if l.Location != "Hamburg" {
		t.Fatalf("unexpected location %q", l.Location)
	}
	if l.URL != "https://finder.porsche.com/de/de-DE/detail/CARD-9" {
		t.Fatalf("unexpected url %q", l.URL)
	}
}

func TestPorscheFinderFetchDeduplicatesAcrossURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(finderAPIJSON))
	}))
	defer srv.Close()

	// Two overlapping search URLs must not yield the same vehicle twice.
	s := NewPorscheFinder(Options{URLs: []string{srv.URL + "/a", srv.URL + "/b"}})
	listings, err := s.Fetch(t.Context())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("got %d listings, want 1", len(listings))
	}
	if listings[0].SourceID != "PF-001" {
		t.Fatalf("unexpected id %q", listings[0].SourceID)
	}
}
