package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/thyrook/shogisolver/internal/config"
	"github.com/thyrook/shogisolver/internal/iface"
	"github.com/thyrook/shogisolver/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to configuration file")
	dbPath := flag.String("db", "", "Result cache database (default: from config)")
	outPath := flag.String("out", "results.parquet", "Parquet file to write")
	parallel := flag.Int("parallel", 0, "Parquet writer goroutines (default: from config)")
	statsOnly := flag.Bool("stats", false, "Only print per-status counts")
	deleteDigest := flag.String("delete", "", "Remove the cached result with this image digest, then exit")
	clearAll := flag.Bool("clear", false, "Remove every cached result after exporting")

	flag.Parse()

	cfg := config.LoadOrDefault(*configPath)
	path := *dbPath
	if path == "" {
		path = cfg.Storage.DBPath
	}
	if _, err := os.Stat(path); err != nil {
		log.Fatalf("No result cache at %s: %v", path, err)
	}

	store, err := storage.Open(path)
	if err != nil {
		log.Fatalf("Failed to open result cache: %v", err)
	}
	defer store.Close()

	cli := iface.NewCLI(os.Stdout, false)
	if *deleteDigest != "" {
		if _, found, err := store.Get(*deleteDigest); err != nil {
			log.Fatalf("Failed to read result cache: %v", err)
		} else if !found {
			log.Fatalf("No cached result for %s", *deleteDigest)
		}
		if err := store.Delete(*deleteDigest); err != nil {
			log.Fatalf("Failed to delete result: %v", err)
		}
		cli.PrintStatus(fmt.Sprintf("Deleted %s", *deleteDigest), "success")
		return
	}

	stats, err := store.GetStats()
	if err != nil {
		log.Fatalf("Failed to read result cache: %v", err)
	}
	cli.PrintStatus(fmt.Sprintf("%d results in %s", stats.Total, stats.DBPath), "info")
	cli.PrintCounts("status", stats.ByStatus)
	if *statsOnly {
		return
	}

	workers := *parallel
	if workers == 0 {
		workers = cfg.Storage.ExportParallel
	}
	rows, err := storage.ExportParquet(store, *outPath, int64(workers))
	if err != nil {
		log.Fatalf("Export failed: %v", err)
	}
	cli.PrintStatus(fmt.Sprintf("Wrote %d rows to %s", rows, *outPath), "success")

	if *clearAll {
		if err := store.Clear(); err != nil {
			log.Fatalf("Failed to clear result cache: %v", err)
		}
		cli.PrintStatus(fmt.Sprintf("Cleared %d results", rows), "success")
	}
}
