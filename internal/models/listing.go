package models

// Listing is a flattened snapshot of one vehicle offer at fetch time.
// It is rebuilt on every fetch and never mutated in place; the only
// durable identity is the (Source, SourceID) pair.
type Listing struct {
	Source            string         `json:"source"`
	SourceID          string         `json:"source_id"`
	URL               string         `json:"url"`
	Title             string         `json:"title"`
	PriceEUR          *int           `json:"price_eur,omitempty"`
	MileageKM         *int           `json:"mileage_km,omitempty"`
	FirstRegistration string         `json:"first_registration,omitempty"`
	Year              *int           `json:"year,omitempty"`
	Location          string         `json:"location,omitempty"`
	AccidentFree      *bool          `json:"accident_free,omitempty"`
	ApprovedMonths    *int           `json:"porsche_approved_months,omitempty"`
	Owners            *int           `json:"owners,omitempty"`
	Generation        string         `json:"generation,omitempty"`
	BodyType          string         `json:"body_type,omitempty"`
	Variant           string         `json:"variant,omitempty"`
	OptionsText       string         `json:"options_text"`
	OptionsList       []string       `json:"options_list,omitempty"`
	Status            string         `json:"status,omitempty"`
	ImageURL          string         `json:"image_url,omitempty"`
	DealerName        string         `json:"dealer_name,omitempty"`
	Raw               map[string]any `json:"raw,omitempty"`
}

// Key returns the persistence key for this listing.
func (l Listing) Key() (string, string) {
	return l.Source, l.SourceID
}

// FilterResult is the outcome of evaluating one Listing against the
// buyer criteria. Reasons is empty exactly when IsMatch is true.
type FilterResult struct {
	Listing           Listing         `json:"listing"`
	IsMatch           bool            `json:"is_match"`
	Score             int             `json:"score"`
	MustHaveMissing   []string        `json:"must_have_missing,omitempty"`
	NiceToHavePresent []string        `json:"nice_to_have_present,omitempty"`
	Reasons           []string        `json:"reasons,omitempty"`
	Detected          map[string]bool `json:"detected,omitempty"`
}

// FieldChange holds the before/after values for a single diffed field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// ChangeInfo describes how a listing differs from its persisted state.
// Changes is only populated for price_eur and status; other fields
// contribute to the fingerprint but are not diffed individually.
type ChangeInfo struct {
	IsNew          bool                   `json:"is_new"`
	IsChanged      bool                   `json:"is_changed"`
	Changes        map[string]FieldChange `json:"changes,omitempty"`
	PreviousPrice  *int                   `json:"previous_price,omitempty"`
	PreviousStatus string                 `json:"previous_status,omitempty"`
}

// IntPtr is a convenience for building optional numeric fields.
func IntPtr(v int) *int { return &v }

// BoolPtr is a convenience for building optional boolean fields.
func BoolPtr(v bool) *bool { return &v }
