package scrape

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/MikeTolmachev/porsche-monitor/internal/models"
)

// Source is one listing site adapter. Fetch walks the configured
// search URLs and returns every listing it could parse; per-item and
// per-URL failures are logged and skipped, so a non-nil error means
// the source as a whole could not run.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]models.Listing, error)
}

// Options carries the per-source configuration shared by all adapters.
type Options struct {
	URLs      []string
	UserAgent string
	Delay     time.Duration
}

// Page is the raw result of fetching one URL.
type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

// Constructor builds a Source from its options.
type Constructor func(Options) Source

var registry = map[string]Constructor{}

// Register adds a source constructor under a stable name. Adapters
// register themselves in init.
func Register(name string, c Constructor) {
	registry[name] = c
}

// New instantiates a registered source by name.
func New(name string, opts Options) (Source, error) {
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown source %q (available: %v)", name, Names())
	}
	return c(opts), nil
}

// Names lists the registered source names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
