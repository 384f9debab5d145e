package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/MikeTolmachev/porsche-monitor/internal/db"
)

func main() {
	dbPath := flag.String("db", "data/monitor.db", "Database path")
	limit := flag.Int("limit", 10, "Number of runs to show")
	flag.Parse()

	ctx := context.Background()
	store, err := db.OpenStore(ctx, *dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	runs, err := store.RecentRuns(ctx, *limit)
	if err != nil {
		log.Fatal(err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Started", "Duration", "Found", "Matches", "New", "Changed", "Errors"})

	for _, run := range runs {
		t.AppendRow(table.Row{
			run.Started,
			runDuration(run),
			run.Found,
			run.Matches,
			run.New,
			run.Changed,
			run.Errors,
		})
	}
	t.Render()
}

func runDuration(run db.Run) string {
	started, err1 := time.Parse(time.RFC3339, run.Started)
	completed, err2 := time.Parse(time.RFC3339, run.Completed)
	if err1 != nil || err2 != nil {
		return "?"
	}
	return completed.Sub(started).Round(time.Second).String()
}
