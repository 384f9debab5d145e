package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MikeTolmachev/porsche-monitor/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(context.Background(), filepath.Join(t.TempDir(), "monitor.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testListing(mutate func(*models.Listing)) models.Listing {
	l := models.Listing{
		Source:            "autoscout24",
		SourceID:          "abc-123",
		URL:               "https://www.autoscout24.de/angebote/abc-123",
		Title:             "Porsche 911 Carrera 4 GTS",
		PriceEUR:          models.IntPtr(142900),
		MileageKM:         models.IntPtr(21500),
		FirstRegistration: "06/2022",
		Location:          "Stuttgart, DE",
		AccidentFree:      models.BoolPtr(true),
		ApprovedMonths:    models.IntPtr(24),
		OptionsText:       "Sport Chrono Paket, Liftsystem",
		Status:            "available",
	}
	if mutate != nil {
		mutate(&l)
	}
	return l
}

func TestUpsertNewListing(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	info, err := store.UpsertAndDiff(ctx, testListing(nil))
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if !info.IsNew || info.IsChanged {
		t.Fatalf("first sighting should be new and unchanged, got %+v", info)
	}

	count, err := store.Count(ctx)
	if err != nil || count != 1 {
		t.Fatalf("count = %d (%v), want 1", count, err)
	}

	history, err := store.PriceHistory(ctx, "autoscout24", "abc-123")
	if err != nil {
		t.Fatalf("price history failed: %v", err)
	}
	if len(history) != 1 || history[0].PriceEUR != 142900 {
		t.Fatalf("expected one initial price point, got %+v", history)
	}
}

func TestUpsertUnchangedListing(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if _, err := store.UpsertAndDiff(ctx, testListing(nil)); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	info, err := store.UpsertAndDiff(ctx, testListing(nil))
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if info.IsNew || info.IsChanged {
		t.Fatalf("identical listing should be neither new nor changed, got %+v", info)
	}
	if len(info.Changes) != 0 {
		t.Fatalf("expected no field changes, got %v", info.Changes)
	}
}

func TestUpsertPriceChange(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if _, err := store.UpsertAndDiff(ctx, testListing(nil)); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	info, err := store.UpsertAndDiff(ctx, testListing(func(l *models.Listing) {
		l.PriceEUR = models.IntPtr(139900)
	}))
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	if info.IsNew || !info.IsChanged {
		t.Fatalf("price drop should be a change, got %+v", info)
	}
	change, ok := info.Changes["price_eur"]
	if !ok {
		t.Fatalf("expected price_eur delta, got %v", info.Changes)
	}
	if change.Old != 142900 || change.New != 139900 {
		t.Fatalf("unexpected delta %+v", change)
	}
	if info.PreviousPrice == nil || *info.PreviousPrice != 142900 {
		t.Fatalf("unexpected previous price %v", info.PreviousPrice)
	}
}

func TestUpsertStatusChange(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if _, err := store.UpsertAndDiff(ctx, testListing(nil)); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	info, err := store.UpsertAndDiff(ctx, testListing(func(l *models.Listing) {
		l.Status = "reserved"
	}))
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	if !info.IsChanged {
		t.Fatal("status flip should be a change")
	}
	change, ok := info.Changes["status"]
	if !ok {
		t.Fatalf("expected status delta, got %v", info.Changes)
	}
	if change.Old != "available" || change.New != "reserved" {
		t.Fatalf("unexpected delta %+v", change)
	}
	if info.PreviousStatus != "available" {
		t.Fatalf("unexpected previous status %q", info.PreviousStatus)
	}
}

func TestNilPriceNeverDiffsOrRecords(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if _, err := store.UpsertAndDiff(ctx, testListing(nil)); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	info, err := store.UpsertAndDiff(ctx, testListing(func(l *models.Listing) {
		l.PriceEUR = nil
	}))
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	// Fingerprint moves (price dropped out of it) but there must be
	// no price_eur delta against a missing value.
	if _, ok := info.Changes["price_eur"]; ok {
		t.Fatalf("nil price must not produce a delta, got %v", info.Changes)
	}

	history, err := store.PriceHistory(ctx, "autoscout24", "abc-123")
	if err != nil {
		t.Fatalf("price history failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("nil price must not append history, got %+v", history)
	}
}

func TestGetAllRebuildsFromExtras(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	want := testListing(func(l *models.Listing) {
		l.OptionsList = []string{"Sport Chrono Paket", "Hinterachslenkung"}
		l.DealerName = "Porsche Zentrum Stuttgart"
	})
	if _, err := store.UpsertAndDiff(ctx, want); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	rows, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}

	got := rows[0].Listing()
	if got.DealerName != "Porsche Zentrum Stuttgart" {
		t.Fatalf("extras did not round-trip dealer, got %q", got.DealerName)
	}
	if len(got.OptionsList) != 2 {
		t.Fatalf("extras did not round-trip options, got %v", got.OptionsList)
	}
	if got.AccidentFree == nil || !*got.AccidentFree {
		t.Fatalf("extras did not round-trip accident flag, got %v", got.AccidentFree)
	}
}

func TestSourcesSummary(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	seed := []models.Listing{
		testListing(nil),
		testListing(func(l *models.Listing) { l.SourceID = "abc-456" }),
		testListing(func(l *models.Listing) { l.Source = "mobile_de"; l.SourceID = "111" }),
	}
	for _, l := range seed {
		if _, err := store.UpsertAndDiff(ctx, l); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	summary, err := store.SourcesSummary(ctx)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary["autoscout24"] != 2 || summary["mobile_de"] != 1 {
		t.Fatalf("unexpected summary %v", summary)
	}
}

func TestRecordAndListRuns(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	id, err := store.RecordRun(ctx, Run{
		Started:   "2026-08-30T06:00:00Z",
		Completed: "2026-08-30T06:02:11Z",
		Found:     12,
		Matches:   2,
		New:       1,
		Changed:   1,
	})
	if err != nil {
		t.Fatalf("record run failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated run id")
	}

	runs, err := store.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("recent runs failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != id || runs[0].Found != 12 {
		t.Fatalf("unexpected runs %+v", runs)
	}
}

func TestFingerprintStability(t *testing.T) {
	a := Fingerprint(testListing(nil))
	b := Fingerprint(testListing(nil))
	if a != b {
		t.Fatal("fingerprint must be deterministic")
	}
	c := Fingerprint(testListing(func(l *models.Listing) { l.PriceEUR = models.IntPtr(1) }))
	if a == c {
		t.Fatal("price change must move the fingerprint")
	}
	d := Fingerprint(testListing(func(l *models.Listing) { l.URL = "https://elsewhere.example" }))
	if a != d {
		t.Fatal("url churn must not move the fingerprint")
	}
}
