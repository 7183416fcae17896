package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobharvest/config"
	"jobharvest/export"
	"jobharvest/httputil"
	"jobharvest/logging"
	"jobharvest/models"
	"jobharvest/scheduler"
	"jobharvest/scraper"
	"jobharvest/services"
	"jobharvest/storage"
	"jobharvest/workers"
)

var (
	scrapeNow  = flag.Bool("scrape", false, "Run one session and exit")
	query      = flag.String("query", "", "Search query for -scrape")
	location   = flag.String("location", "", "Search location for -scrape")
	maxResults = flag.Int("max-results", 0, "Per-source result cap for -scrape")
	exportCSV  = flag.String("export", "", "Export active postings as CSV to the given file and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("jobharvest.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting jobharvest...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Loaded %d source configs", len(cfg.Sources))
	for id, src := range cfg.Sources {
		log.Printf("  - %s (%s, %s)", src.Name, id, src.Kind)
	}

	clients := httputil.NewClients()
	ctx := context.Background()

	pgStore, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pgStore.Close()
	if err := pgStore.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}
	log.Println("Connected to Postgres")

	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("Operational database: %s", cfg.DBPath)

	bootstrapSources(ctx, cfg, pgStore)

	if *exportCSV != "" {
		runExport(ctx, cfg, pgStore, *exportCSV)
		return
	}

	normalizer := services.NewNormalizer(cfg)
	adapters := make(map[string]scraper.Adapter, len(cfg.Sources))
	for id, src := range cfg.Sources {
		adapters[id] = scraper.NewAdapter(src, cfg, clients)
	}

	orchestrator := scraper.NewOrchestrator(cfg, adapters, pgStore, pgStore, sqliteStore, normalizer)

	if *scrapeNow {
		if *query == "" {
			log.Fatal("-scrape requires -query")
		}
		log.Printf("Running one session: query=%q location=%q", *query, *location)
		sess, err := orchestrator.StartSession(ctx, *query, *location, *maxResults, nil)
		if err != nil {
			log.Fatalf("Session failed: %v", err)
		}
		log.Printf("Session %s finished: status=%s found=%d created=%d updated=%d merged=%d errors=%d",
			sess.ID, sess.Status, sess.JobsFound, sess.JobsCreated, sess.JobsUpdated,
			sess.DuplicatesMerged, sess.Errors)
		return
	}

	// Daemon mode
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New(cfg, orchestrator, sqliteStore)

	workerLog := func(level models.LogLevel, source, message string) {
		if err := sqliteStore.Log(nil, level, message, source); err != nil {
			log.Printf("worker log write failed: %v", err)
		}
	}

	enrichmentWorker := workers.NewEnrichmentWorker(pgStore, clients.Probing)
	enrichmentWorker.SetLogger(workerLog)
	go enrichmentWorker.Run(ctx, 10, 5*time.Minute)
	log.Println("Enrichment worker started")

	healthcheckWorker := workers.NewHealthcheckWorker(pgStore, clients.Probing, 0)
	healthcheckWorker.SetLogger(workerLog)
	go healthcheckWorker.Run(ctx, 24*time.Hour, 20, 30*time.Minute)
	log.Println("Healthcheck worker started")

	sched.SetWorkers(enrichmentWorker, healthcheckWorker)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	sched.Stop()
	cancel()
	log.Println("Goodbye!")
}

// bootstrapSources mirrors the YAML source configs into the job_sources
// table: configured sources are upserted active, everything else goes
// inactive.
func bootstrapSources(ctx context.Context, cfg *config.Config, store *storage.PostgresStore) {
	names := make([]string, 0, len(cfg.Sources))
	for id, src := range cfg.Sources {
		names = append(names, id)
		err := store.UpsertSource(ctx, &models.JobSource{
			Name:     id,
			BaseURL:  src.BaseURL,
			Kind:     models.AdapterKind(src.Kind),
			IsActive: true,
		})
		if err != nil {
			log.Printf("Bootstrap source %s: %v", id, err)
		}
	}
	if len(names) > 0 {
		if err := store.DeactivateSourcesExcept(ctx, names); err != nil {
			log.Printf("Deactivate removed sources: %v", err)
		}
	}
}

func runExport(ctx context.Context, cfg *config.Config, pgStore *storage.PostgresStore, path string) {
	exporter := export.NewExporter(pgStore)

	f, err := os.Create(path)
	if err != nil {
		log.Fatalf("Create export file: %v", err)
	}
	defer f.Close()

	count, err := exporter.Export(ctx, storage.JobFilter{Status: models.JobStatusActive}, f)
	if err != nil {
		log.Fatalf("Export failed: %v", err)
	}
	log.Printf("Exported %d postings to %s", count, path)

	if cfg.Export.S3Bucket != "" {
		s3cfg := storage.S3Config{
			Bucket:          cfg.Export.S3Bucket,
			Region:          cfg.Export.S3Region,
			Endpoint:        cfg.Export.S3Endpoint,
			AccessKeyID:     cfg.Export.S3AccessKey,
			SecretAccessKey: cfg.Export.S3SecretKey,
		}
		uploader, err := storage.NewS3Uploader(ctx, s3cfg)
		if err != nil {
			log.Fatalf("S3 uploader: %v", err)
		}
		url, count, err := exporter.WithS3(uploader, s3cfg).Publish(ctx, storage.JobFilter{Status: models.JobStatusActive})
		if err != nil {
			log.Fatalf("Publish failed: %v", err)
		}
		log.Printf("Published %d postings to %s", count, url)
	}
}
