// Package monitor orchestrates a full scrape-filter-store-report cycle.
package monitor

import (
	"context"
	"log"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/MikeTolmachev/porsche-monitor/internal/config"
	"github.com/MikeTolmachev/porsche-monitor/internal/db"
	"github.com/MikeTolmachev/porsche-monitor/internal/filter"
	"github.com/MikeTolmachev/porsche-monitor/internal/models"
	"github.com/MikeTolmachev/porsche-monitor/internal/notify"
	"github.com/MikeTolmachev/porsche-monitor/internal/report"
	"github.com/MikeTolmachev/porsche-monitor/internal/scrape"
)

// Run executes one monitoring cycle: fetch every enabled source,
// evaluate and persist each listing, notify on new or changed matches,
// and write the Markdown report.
func Run(ctx context.Context, configPath, criteriaPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	criteria, err := filter.LoadCriteria(criteriaPath)
	if err != nil {
		return err
	}

	store, err := db.OpenStore(ctx, cfg.App.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	var notifier *notify.Notifier
	tg := cfg.Notifications.Telegram
	if tg.Enabled && tg.ChatID != "" {
		notifier = notify.NewNotifier(tg.ChatID)
	}

	started := time.Now().UTC()
	var results []models.FilterResult
	var changes []models.ChangeInfo
	errCount := 0

	for _, name := range sortedSourceNames(cfg.Sources) {
		srcCfg := cfg.Sources[name]
		if !srcCfg.Enabled {
			log.Printf("Source %q is disabled, skipping", name)
			continue
		}
		if len(srcCfg.URLs) == 0 {
			log.Printf("Source %q has no URLs configured, skipping", name)
			continue
		}

		source, err := scrape.New(name, scrape.Options{
			URLs:      srcCfg.URLs,
			UserAgent: cfg.App.UserAgent,
			Delay:     time.Duration(cfg.App.RequestDelaySeconds * float64(time.Second)),
		})
		if err != nil {
			log.Printf("%v", err)
			errCount++
			continue
		}

		listings, err := source.Fetch(ctx)
		if err != nil {
			log.Printf("Source %q failed: %v", name, err)
			errCount++
			if len(listings) == 0 {
				continue
			}
		}
		log.Printf("Source %q returned %d listings", name, len(listings))

		srcResults, srcChanges, srcErrs := processListings(ctx, store, criteria, notifier, listings)
		results = append(results, srcResults...)
		changes = append(changes, srcChanges...)
		errCount += srcErrs
	}

	md := report.Render(results, changes)
	if err := report.WriteReport(cfg.App.ReportPath, md); err != nil {
		return err
	}

	matchCount, newCount, changedCount := 0, 0, 0
	for _, r := range results {
		if r.IsMatch {
			matchCount++
		}
	}
	for _, c := range changes {
		if c.IsNew {
			newCount++
		}
		if c.IsChanged {
			changedCount++
		}
	}

	if _, err := store.RecordRun(ctx, db.Run{
		Started:   started.Format(time.RFC3339),
		Completed: time.Now().UTC().Format(time.RFC3339),
		Found:     len(results),
		Matches:   matchCount,
		New:       newCount,
		Changed:   changedCount,
		Errors:    errCount,
	}); err != nil {
		log.Printf("Failed to record run: %v", err)
	}

	log.Printf("Run complete: %d listings, %d matches, %d new, %d changed. Report written to %s",
		len(results), matchCount, newCount, changedCount, cfg.App.ReportPath)
	return nil
}

// processListings evaluates, persists and (when warranted) notifies
// for one source's batch. Storage failures skip the listing but do not
// abort the batch.
func processListings(
	ctx context.Context,
	store *db.Store,
	criteria filter.Criteria,
	notifier *notify.Notifier,
	listings []models.Listing,
) ([]models.FilterResult, []models.ChangeInfo, int) {
	var results []models.FilterResult
	var changes []models.ChangeInfo
	errCount := 0

	for _, l := range listings {
		fr := filter.Evaluate(l, criteria)
		change, err := store.UpsertAndDiff(ctx, l)
		if err != nil {
			log.Printf("Failed to store listing %s/%s: %v", l.Source, l.SourceID, err)
			errCount++
			continue
		}
		results = append(results, fr)
		changes = append(changes, change)

		if notifier != nil && notify.ShouldNotify(fr, change) {
			notifier.Send(fr, change)
		}
	}
	return results, changes, errCount
}

// Export re-evaluates every stored listing against the current
// criteria and rewrites the report without fetching anything. A
// summary table goes to stdout.
func Export(ctx context.Context, configPath, criteriaPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	criteria, err := filter.LoadCriteria(criteriaPath)
	if err != nil {
		return err
	}

	store, err := db.OpenStore(ctx, cfg.App.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	stored, err := store.GetAll(ctx)
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		log.Printf("No stored listings to export")
		return nil
	}

	var results []models.FilterResult
	for _, row := range stored {
		results = append(results, filter.Evaluate(row.Listing(), criteria))
	}

	md := report.Render(results, nil)
	if err := report.WriteReport(cfg.App.ReportPath, md); err != nil {
		return err
	}

	printSummaryTable(results)
	log.Printf("Export complete: %d listings -> %s", len(results), cfg.App.ReportPath)
	return nil
}

func printSummaryTable(results []models.FilterResult) {
	sorted := make([]models.FilterResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Source", "Title", "Price", "km", "Score", "Match"})
	for _, r := range sorted {
		l := r.Listing
		match := ""
		if r.IsMatch {
			match = "yes"
		}
		t.AppendRow(table.Row{
			l.Source,
			l.Title,
			notify.FormatPrice(l.PriceEUR),
			fmtKM(l.MileageKM),
			r.Score,
			match,
		})
	}
	t.Render()
}

func fmtKM(km *int) string {
	if km == nil {
		return "N/A"
	}
	return notify.GroupThousands(*km)
}

func sortedSourceNames(sources map[string]config.SourceConfig) []string {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
