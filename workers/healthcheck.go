package workers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"jobharvest/models"
	"jobharvest/storage"
)

// HealthcheckWorker verifies that active postings are still live at their
// source and retires the ones that are not. It also expires postings past the
// age cutoff and prunes old terminal sessions.
type HealthcheckWorker struct {
	store      *storage.PostgresStore
	httpClient *http.Client
	maxAge     time.Duration // postings older than this go inactive outright
	triggerCh  chan struct{}
	logFunc    LogFunc
}

func NewHealthcheckWorker(store *storage.PostgresStore, client *http.Client, maxAge time.Duration) *HealthcheckWorker {
	if maxAge <= 0 {
		maxAge = 60 * 24 * time.Hour
	}
	return &HealthcheckWorker{
		store:      store,
		httpClient: client,
		maxAge:     maxAge,
		triggerCh:  make(chan struct{}, 1),
		logFunc:    NoOpLogger,
	}
}

func (w *HealthcheckWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// Trigger causes the worker to run a sweep immediately.
func (w *HealthcheckWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run starts the healthcheck loop.
func (w *HealthcheckWorker) Run(ctx context.Context, staleAfter time.Duration, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Healthcheck worker stopping")
			return
		case <-ticker.C:
			w.sweep(ctx, staleAfter, batchSize)
		case <-w.triggerCh:
			log.Println("Healthcheck worker triggered manually")
			w.sweep(ctx, staleAfter, batchSize)
		}
	}
}

func (w *HealthcheckWorker) sweep(ctx context.Context, staleAfter time.Duration, batchSize int) {
	// Bulk-expire before probing: anything past the age cutoff is inactive
	// regardless of what its URL says.
	expired, err := w.store.ExpireJobsPostedBefore(ctx, time.Now().Add(-w.maxAge))
	if err != nil {
		log.Printf("Healthcheck: expire error: %v", err)
	} else if expired > 0 {
		log.Printf("Healthcheck: expired %d postings older than %s", expired, w.maxAge)
	}

	jobs, err := w.store.ListStaleActiveJobs(ctx, time.Now().Add(-staleAfter), batchSize)
	if err != nil {
		log.Printf("Healthcheck: query error: %v", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	log.Printf("Healthcheck: probing %d stale postings", len(jobs))

	var checked, retired int
	for _, job := range jobs {
		if job.SourceURL == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return
		}

		live := w.probe(ctx, job.SourceURL)
		checked++

		if live {
			if err := w.store.MarkJobStatus(ctx, job.ID, models.JobStatusActive); err != nil {
				log.Printf("Healthcheck: touch %s: %v", job.ID, err)
			}
		} else {
			log.Printf("Healthcheck: posting gone: %s", job.SourceURL)
			if err := w.store.MarkJobStatus(ctx, job.ID, models.JobStatusInactive); err != nil {
				log.Printf("Healthcheck: retire %s: %v", job.ID, err)
			} else {
				retired++
			}
		}

		time.Sleep(500 * time.Millisecond)
	}

	if retired > 0 {
		w.logFunc(models.LogLevelInfo, "healthcheck",
			fmt.Sprintf("probed %d postings, retired %d", checked, retired))
	}

	// Old terminal sessions are operational noise after a month.
	if pruned, err := w.store.PruneSessions(ctx, time.Now().AddDate(0, -1, 0)); err != nil {
		log.Printf("Healthcheck: prune sessions: %v", err)
	} else if pruned > 0 {
		log.Printf("Healthcheck: pruned %d old sessions", pruned)
	}
}

// probe HEAD-requests a posting URL. 404/410 and redirects back to a search
// or home page mean the posting is gone; transient errors leave it active.
func (w *HealthcheckWorker) probe(ctx context.Context, postingURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, postingURL, nil)
	if err != nil {
		return true
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return true
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return false
	case http.StatusMovedPermanently, http.StatusFound:
		return !isDelistRedirect(resp.Header.Get("Location"))
	default:
		return true
	}
}

func isDelistRedirect(location string) bool {
	lower := strings.ToLower(location)
	for _, pattern := range []string{"/search", "/jobs?", "notfound", "expired", "error"} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	// A redirect to the site root is a delist, deeper paths usually are not.
	trimmed := strings.TrimPrefix(strings.TrimPrefix(lower, "https://"), "http://")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[i:] == "/" || trimmed[i:] == ""
	}
	return location != ""
}
