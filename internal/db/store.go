package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/MikeTolmachev/porsche-monitor/internal/models"
)

// Store persists listings, their price history, and run bookkeeping
// in a single SQLite file.
type Store struct {
	conn *sql.DB
}

func NewStore(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

// OpenStore opens the database at path and applies migrations.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	conn, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := ApplyMigrations(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return NewStore(conn), nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping verifies the underlying connection is still usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func fmtIntPtr(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func fmtBoolPtr(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}

// Fingerprint hashes the fields whose change should count as "the
// listing changed". URL and image churn deliberately stay out of it.
func Fingerprint(l models.Listing) string {
	payload := l.Title + "|" +
		fmtIntPtr(l.PriceEUR) + "|" +
		fmtIntPtr(l.MileageKM) + "|" +
		l.FirstRegistration + "|" +
		l.Location + "|" +
		fmtBoolPtr(l.AccidentFree) + "|" +
		fmtIntPtr(l.ApprovedMonths) + "|" +
		l.OptionsText + "|" +
		l.Status
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// StoredListing is one row of the listings table.
type StoredListing struct {
	Source      string
	SourceID    string
	URL         string
	Title       string
	FirstSeen   string
	LastSeen    string
	PriceEUR    *int
	MileageKM   *int
	Status      string
	Fingerprint string
	Extras      []byte
}

// Listing rebuilds the full model from the extras snapshot, falling
// back to the plain columns when the snapshot is missing or corrupt.
func (r StoredListing) Listing() models.Listing {
	if len(r.Extras) > 0 {
		var l models.Listing
		if err := json.Unmarshal(r.Extras, &l); err == nil && l.SourceID != "" {
			return l
		}
	}
	return models.Listing{
		Source:    r.Source,
		SourceID:  r.SourceID,
		URL:       r.URL,
		Title:     r.Title,
		PriceEUR:  r.PriceEUR,
		MileageKM: r.MileageKM,
		Status:    r.Status,
	}
}

// UpsertAndDiff writes the listing and reports how it differs from
// the previously stored row. The first sighting is IsNew; afterwards
// IsChanged follows the fingerprint, while field-level deltas are
// tracked for price and status only. The price history insert is
// keyed by timestamp, so re-running within the same second is a
// no-op.
func (s *Store) UpsertAndDiff(ctx context.Context, l models.Listing) (models.ChangeInfo, error) {
	fp := Fingerprint(l)
	now := time.Now().UTC().Format(time.RFC3339)

	extras, err := json.Marshal(l)
	if err != nil {
		return models.ChangeInfo{}, fmt.Errorf("failed to serialize listing %s/%s: %w", l.Source, l.SourceID, err)
	}

	var (
		prevFingerprint sql.NullString
		prevPrice       sql.NullInt64
		prevStatus      sql.NullString
	)
	err = s.conn.QueryRowContext(ctx,
		"SELECT fingerprint, price_eur, status FROM listings WHERE source = ? AND source_id = ?",
		l.Source, l.SourceID,
	).Scan(&prevFingerprint, &prevPrice, &prevStatus)

	switch {
	case err == sql.ErrNoRows:
		if _, err := s.conn.ExecContext(ctx, `
			INSERT INTO listings
				(source, source_id, url, title, first_seen, last_seen,
				 price_eur, mileage_km, status, fingerprint, extras)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			l.Source, l.SourceID, l.URL, l.Title, now, now,
			intPtrValue(l.PriceEUR), intPtrValue(l.MileageKM), nullString(l.Status), fp, string(extras),
		); err != nil {
			return models.ChangeInfo{}, fmt.Errorf("failed to insert listing %s/%s: %w", l.Source, l.SourceID, err)
		}
		if err := s.recordPrice(ctx, l, now); err != nil {
			return models.ChangeInfo{}, err
		}
		log.Printf("New listing: %s (%s)", l.Title, l.SourceID)
		return models.ChangeInfo{IsNew: true}, nil

	case err != nil:
		return models.ChangeInfo{}, fmt.Errorf("failed to load listing %s/%s: %w", l.Source, l.SourceID, err)
	}

	changes := map[string]models.FieldChange{}
	var previousPrice *int
	if prevPrice.Valid {
		previousPrice = models.IntPtr(int(prevPrice.Int64))
	}
	if previousPrice != nil && l.PriceEUR != nil && *previousPrice != *l.PriceEUR {
		changes["price_eur"] = models.FieldChange{Old: *previousPrice, New: *l.PriceEUR}
	}
	if prevStatus.String != "" && l.Status != "" && prevStatus.String != l.Status {
		changes["status"] = models.FieldChange{Old: prevStatus.String, New: l.Status}
	}

	isChanged := prevFingerprint.String != fp

	if _, err := s.conn.ExecContext(ctx, `
		UPDATE listings SET url = ?, title = ?, last_seen = ?, price_eur = ?,
			mileage_km = ?, status = ?, fingerprint = ?, extras = ?
		WHERE source = ? AND source_id = ?`,
		l.URL, l.Title, now, intPtrValue(l.PriceEUR),
		intPtrValue(l.MileageKM), nullString(l.Status), fp, string(extras),
		l.Source, l.SourceID,
	); err != nil {
		return models.ChangeInfo{}, fmt.Errorf("failed to update listing %s/%s: %w", l.Source, l.SourceID, err)
	}
	if err := s.recordPrice(ctx, l, now); err != nil {
		return models.ChangeInfo{}, err
	}

	if isChanged {
		log.Printf("Changed listing: %s - %v", l.Title, changes)
	}
	if len(changes) == 0 {
		changes = nil
	}

	return models.ChangeInfo{
		IsChanged:      isChanged,
		Changes:        changes,
		PreviousPrice:  previousPrice,
		PreviousStatus: prevStatus.String,
	}, nil
}

func (s *Store) recordPrice(ctx context.Context, l models.Listing, now string) error {
	if l.PriceEUR == nil {
		return nil
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO price_history (source, source_id, recorded, price_eur)
		VALUES (?,?,?,?)`,
		l.Source, l.SourceID, now, *l.PriceEUR,
	)
	if err != nil {
		return fmt.Errorf("failed to record price for %s/%s: %w", l.Source, l.SourceID, err)
	}
	return nil
}

func intPtrValue(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetAll returns every stored listing, most recently seen first.
func (s *Store) GetAll(ctx context.Context) ([]StoredListing, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT source, source_id, url, title, first_seen, last_seen,
		       price_eur, mileage_km, status, fingerprint, extras
		FROM listings ORDER BY last_seen DESC, source, source_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	defer rows.Close()

	var result []StoredListing
	for rows.Next() {
		var (
			r       StoredListing
			title   sql.NullString
			price   sql.NullInt64
			mileage sql.NullInt64
			status  sql.NullString
			fp      sql.NullString
			extras  sql.NullString
		)
		if err := rows.Scan(&r.Source, &r.SourceID, &r.URL, &title, &r.FirstSeen, &r.LastSeen,
			&price, &mileage, &status, &fp, &extras); err != nil {
			return nil, fmt.Errorf("failed to scan listing row: %w", err)
		}
		r.Title = title.String
		r.Status = status.String
		r.Fingerprint = fp.String
		if price.Valid {
			r.PriceEUR = models.IntPtr(int(price.Int64))
		}
		if mileage.Valid {
			r.MileageKM = models.IntPtr(int(mileage.Int64))
		}
		if extras.Valid {
			r.Extras = []byte(extras.String)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Count returns the number of stored listings.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM listings").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count listings: %w", err)
	}
	return n, nil
}

// SourcesSummary returns listing counts grouped by source.
func (s *Store) SourcesSummary(ctx context.Context) (map[string]int, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT source, COUNT(*) FROM listings GROUP BY source")
	if err != nil {
		return nil, fmt.Errorf("failed to query sources summary: %w", err)
	}
	defer rows.Close()

	summary := make(map[string]int)
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		summary[source] = count
	}
	return summary, rows.Err()
}

// PricePoint is one observed price at one moment.
type PricePoint struct {
	Recorded string `json:"recorded"`
	PriceEUR int    `json:"price_eur"`
}

// PriceHistory returns the recorded prices for one listing in
// chronological order.
func (s *Store) PriceHistory(ctx context.Context, source, sourceID string) ([]PricePoint, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT recorded, price_eur FROM price_history
		WHERE source = ? AND source_id = ? ORDER BY recorded`,
		source, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer rows.Close()

	var points []PricePoint
	for rows.Next() {
		var p PricePoint
		if err := rows.Scan(&p.Recorded, &p.PriceEUR); err != nil {
			return nil, fmt.Errorf("failed to scan price point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Run is one monitor run's bookkeeping row.
type Run struct {
	ID        string `json:"id"`
	Started   string `json:"started"`
	Completed string `json:"completed"`
	Found     int    `json:"listings_found"`
	Matches   int    `json:"matches"`
	New       int    `json:"new_listings"`
	Changed   int    `json:"changed_listings"`
	Errors    int    `json:"errors"`
}

// RecordRun inserts a completed run. An empty ID gets a fresh UUID.
func (s *Store) RecordRun(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO monitor_runs
			(id, started, completed, listings_found, matches, new_listings, changed_listings, errors)
		VALUES (?,?,?,?,?,?,?,?)`,
		run.ID, run.Started, run.Completed, run.Found, run.Matches, run.New, run.Changed, run.Errors,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	return run.ID, nil
}

// RecentRuns returns the latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, started, completed, listings_found, matches, new_listings, changed_listings, errors
		FROM monitor_runs ORDER BY started DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var completed sql.NullString
		if err := rows.Scan(&r.ID, &r.Started, &completed, &r.Found, &r.Matches, &r.New, &r.Changed, &r.Errors); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		r.Completed = completed.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
