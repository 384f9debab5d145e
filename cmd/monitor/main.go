package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/MikeTolmachev/porsche-monitor/internal/api"
	"github.com/MikeTolmachev/porsche-monitor/internal/config"
	"github.com/MikeTolmachev/porsche-monitor/internal/db"
	"github.com/MikeTolmachev/porsche-monitor/internal/filter"
	"github.com/MikeTolmachev/porsche-monitor/internal/monitor"
)

func main() {
	log.SetFlags(log.LstdFlags)

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, falling back to system env vars")
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "run":
		fs := flag.NewFlagSet("run", flag.ExitOnError)
		configPath := fs.String("config", "config.yaml", "Config file path")
		criteriaPath := fs.String("criteria", "criteria.json", "Criteria file path")
		fs.Parse(os.Args[2:])

		if err := monitor.Run(ctx, *configPath, *criteriaPath); err != nil {
			log.Fatalf("Run failed: %v", err)
		}

	case "export":
		fs := flag.NewFlagSet("export", flag.ExitOnError)
		configPath := fs.String("config", "config.yaml", "Config file path")
		criteriaPath := fs.String("criteria", "criteria.json", "Criteria file path")
		fs.Parse(os.Args[2:])

		if err := monitor.Export(ctx, *configPath, *criteriaPath); err != nil {
			log.Fatalf("Export failed: %v", err)
		}

	case "dashboard":
		fs := flag.NewFlagSet("dashboard", flag.ExitOnError)
		configPath := fs.String("config", "config.yaml", "Config file path")
		criteriaPath := fs.String("criteria", "criteria.json", "Criteria file path")
		port := fs.String("port", "8501", "Server port")
		fs.Parse(os.Args[2:])

		if err := serveDashboard(ctx, *configPath, *criteriaPath, *port); err != nil {
			log.Fatal(err)
		}

	default:
		usage()
		os.Exit(1)
	}
}

func serveDashboard(ctx context.Context, configPath, criteriaPath, port string) error {
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

	srv := api.NewServer(store, criteria)

	go func() {
		<-ctx.Done()
		srv.Echo.Close()
	}()

	log.Printf("Dashboard starting on port %s...", port)
	return srv.Start(port)
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: monitor <command> [flags]

Commands:
  run        Run a single monitoring cycle
  export     Re-render the report from stored listings
  dashboard  Serve the browsing API

Flags:
  -config    Config file path (default config.yaml)
  -criteria  Criteria file path (default criteria.json)
  -port      Dashboard port (default 8501)`)
}
