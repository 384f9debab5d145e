package filter

// keywordOption maps an option label to the synonym keywords that
// count as a detection when any appears (case insensitive) in the
// listing's combined text. Tables are ordered slices so reasons and
// detection output stay deterministic across runs.
type keywordOption struct {
	Label    string
	Keywords []string
}

// Hard must-haves: these are set as search filters on the source
// sites, so listings confirmed to lack them are rejected outright.
var hardMustHaveKeywords = []keywordOption{
	{"Sport Chrono Paket", []string{
		"sport chrono", "sportchrono", "sport-chrono", "chrono",
	}},
	{"Liftsystem Vorderachse (Front Axle Lift)", []string{
		"liftsystem", "front axle lift", "vorderachs-lift",
		"lift system", "frontaxlelift", "lift",
	}},
	{"Hinterachslenkung (Rear-axle steering)", []string{
		"hinterachslenkung", "rear-axle steering", "rear axle steering",
		"hinterachs-lenkung", "4ws",
	}},
}

// Soft must-haves: desired but only affect score, because listing
// cards often don't include full equipment lists.
var softMustHaveKeywords = []keywordOption{
	{"Adaptive cruise (Abstandsregeltempostat / InnoDrive)", []string{
		"abstandsregeltempostat", "innodrive", "adaptive cruise",
		"abstandsregel", "acc", "adaptive tempomat",
	}},
	{"LED-Matrix / PDLS Plus", []string{
		"led-matrix", "led matrix", "pdls plus", "pdls+",
		"dynamic light system plus", "hd-matrix", "hd matrix",
	}},
	{"BOSE or Burmester", []string{
		"bose", "burmester",
	}},
	{"Adaptive Sports Seats Plus (18-way)", []string{
		"18-wege", "18 wege", "adaptive sportsitze",
		"adaptive sport seats plus", "sportsitze plus",
		"18-way", "adaptiv-sportsitze",
	}},
}

var niceToHaveKeywords = []keywordOption{
	{"90L fuel tank", []string{
		"kraftstoffbehälter 90", "90 l tank", "90-liter",
		"90l tank", "kraftstoffbehaelter 90",
	}},
	{"Surround View / 360 camera", []string{
		"surround view", "360", "surroundview",
	}},
	{"Glass sunroof", []string{
		"schiebe-/hubdach", "hubdach aus glas", "schiebedach",
		"glass sunroof", "panorama", "gsd",
	}},
	{"PPF / Steinschlagschutzfolie", []string{
		"steinschlagschutzfolie", "ppf", "lackschutzfolie",
		"paint protection",
	}},
}

// NiceToHaveNames reports which option labels belong to the
// nice-to-have tier; the report and notifier use it to split the
// must-have checklist from the bonus list.
func NiceToHaveNames() map[string]bool {
	names := make(map[string]bool, len(niceToHaveKeywords))
	for _, opt := range niceToHaveKeywords {
		names[opt.Label] = true
	}
	return names
}

// MustHaveLabels returns the hard and soft must-have labels in
// evaluation order, for rendering stable checklists.
func MustHaveLabels() []string {
	labels := make([]string, 0, len(hardMustHaveKeywords)+len(softMustHaveKeywords))
	for _, opt := range hardMustHaveKeywords {
		labels = append(labels, opt.Label)
	}
	for _, opt := range softMustHaveKeywords {
		labels = append(labels, opt.Label)
	}
	return labels
}
