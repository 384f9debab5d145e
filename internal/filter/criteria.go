package filter

import (
	"encoding/json"
	"fmt"
	"os"
)

// Criteria holds the buyer's thresholds, loaded from criteria.json.
// Zero values mean "use default" (or "no cap" for PriceEURMax).
type Criteria struct {
	MileageKMMax int      `json:"mileage_km_max"`
	PriceEURMax  int      `json:"price_eur_max"`
	OwnersMax    int      `json:"owners_max"`
	Years        []int    `json:"years"`
	GeoPriority  []string `json:"geo_priority"`
}

// LoadCriteria reads criteria from a JSON file and fills in defaults.
func LoadCriteria(path string) (Criteria, error) {
	var c Criteria
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("failed to read criteria %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("failed to parse criteria %s: %w", path, err)
	}
	c.applyDefaults()
	return c, nil
}

func (c *Criteria) applyDefaults() {
	if c.MileageKMMax == 0 {
		c.MileageKMMax = 50000
	}
	if c.OwnersMax == 0 {
		c.OwnersMax = 2
	}
	if len(c.Years) != 2 {
		c.Years = []int{2020, 2024}
	}
}

// DefaultCriteria returns criteria with all defaults applied and no
// price cap.
func DefaultCriteria() Criteria {
	c := Criteria{}
	c.applyDefaults()
	return c
}
