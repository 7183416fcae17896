package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"jobharvest/config"
	"jobharvest/models"
	"jobharvest/services"
)

// SessionStore is the session slice of the persistence collaborator.
type SessionStore interface {
	CreateSession(ctx context.Context, sess *models.ScrapingSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.ScrapingSession, error)
	TryStartSession(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
	FinalizeSession(ctx context.Context, sess *models.ScrapingSession) error
}

// JobStore combines the snapshot reads resolution needs with the upsert
// write path and company bookkeeping.
type JobStore interface {
	services.JobFinder
	UpsertJob(ctx context.Context, job *models.Job) error
	GetOrCreateCompany(ctx context.Context, name string) (*models.Company, error)
}

// RunRecorder receives per-session log lines and per-source run outcomes for
// the operational store.
type RunRecorder interface {
	Log(sessionID *uuid.UUID, level models.LogLevel, message, source string) error
	RecordSourceRun(source, status string, postings, errors int, duration time.Duration) error
}

// Orchestrator executes scraping sessions: fan out to adapters, normalize,
// resolve duplicates and persist, then settle the session's terminal state.
type Orchestrator struct {
	cfg        *config.Config
	adapters   map[string]Adapter
	sessions   SessionStore
	jobs       JobStore
	recorder   RunRecorder
	normalizer *services.Normalizer
	resolver   *services.Resolver

	mu      sync.Mutex
	paused  bool
	cancels map[uuid.UUID]context.CancelFunc
	writeMu map[string]*sync.Mutex // per-source persist serialization
}

func NewOrchestrator(
	cfg *config.Config,
	adapters map[string]Adapter,
	sessions SessionStore,
	jobs JobStore,
	recorder RunRecorder,
	normalizer *services.Normalizer,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		adapters:   adapters,
		sessions:   sessions,
		jobs:       jobs,
		recorder:   recorder,
		normalizer: normalizer,
		resolver:   services.NewResolver(jobs),
		cancels:    make(map[uuid.UUID]context.CancelFunc),
		writeMu:    make(map[string]*sync.Mutex),
	}
}

func (o *Orchestrator) Pause() {
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
	log.Println("Orchestrator paused")
}

func (o *Orchestrator) Resume() {
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
	log.Println("Orchestrator resumed")
}

func (o *Orchestrator) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// StartSession creates a pending session and runs it to a terminal state.
func (o *Orchestrator) StartSession(ctx context.Context, query, location string, maxResults int, sources []string) (*models.ScrapingSession, error) {
	if maxResults <= 0 {
		maxResults = o.cfg.Limits.DefaultMaxResults
	}

	sess := &models.ScrapingSession{
		ID:         uuid.New(),
		Query:      query,
		Location:   location,
		MaxResults: maxResults,
		Sources:    sources,
		Status:     models.SessionPending,
	}
	if err := o.sessions.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := o.Execute(ctx, sess.ID); err != nil {
		return sess, err
	}
	return o.sessions.GetSession(ctx, sess.ID)
}

// sourceOutcome is what one adapter goroutine hands back to the fold.
type sourceOutcome struct {
	source   string
	found    int
	created  int
	updated  int
	merged   int
	errors   int
	failed   bool
	fatal    bool // persistence failure: fails the whole session
	reason   string
	duration time.Duration
}

// Execute claims and runs one session. Only pending and failed sessions can
// be claimed; a concurrent claim of the same session loses and returns
// ErrSessionNotRunnable.
func (o *Orchestrator) Execute(ctx context.Context, sessionID uuid.UUID) error {
	if o.IsPaused() {
		o.logSession(&sessionID, models.LogLevelWarn, "orchestrator paused, session not started", "")
		return ErrSessionNotRunnable
	}

	startedAt := time.Now()
	claimed, err := o.sessions.TryStartSession(ctx, sessionID, startedAt)
	if err != nil {
		return fmt.Errorf("claim session: %w", err)
	}
	if !claimed {
		return ErrSessionNotRunnable
	}

	sess, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return fmt.Errorf("session %s vanished after claim", sessionID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancels[sessionID] = cancel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.cancels, sessionID)
		o.mu.Unlock()
	}()

	sources := o.sessionSources(sess)
	if len(sources) == 0 {
		sess.Status = models.SessionFailed
		sess.Errors = 1
		now := time.Now()
		sess.CompletedAt = &now
		o.logSession(&sessionID, models.LogLevelError, "no active sources match the session", "")
		return o.sessions.FinalizeSession(ctx, sess)
	}

	o.logSession(&sessionID, models.LogLevelInfo,
		fmt.Sprintf("session started: query=%q location=%q sources=%d", sess.Query, sess.Location, len(sources)), "")

	search := Search{Query: sess.Query, Location: sess.Location, MaxResults: sess.MaxResults}

	var (
		outMu    sync.Mutex
		outcomes []sourceOutcome
	)

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(o.cfg.Limits.MaxConcurrentAdapters)

	for _, source := range sources {
		adapter := o.adapters[source]
		g.Go(func() error {
			outcome := o.runSource(gctx, sess, adapter, search)
			outMu.Lock()
			outcomes = append(outcomes, outcome)
			outMu.Unlock()
			if outcome.fatal {
				// Persistence failure aborts the remaining sources.
				return fmt.Errorf("persist %s: %s", outcome.source, outcome.reason)
			}
			return nil
		})
	}
	persistErr := g.Wait()

	// Fold per-source outcomes into the session counters.
	sess.SourceOutcomes = make(map[string]string, len(outcomes))
	failedSources := 0
	for _, out := range outcomes {
		sess.JobsFound += out.found
		sess.JobsCreated += out.created
		sess.JobsUpdated += out.updated
		sess.DuplicatesMerged += out.merged
		sess.Errors += out.errors

		status := "ok"
		if out.failed {
			failedSources++
			status = out.reason
		}
		sess.SourceOutcomes[out.source] = status

		if err := o.recorder.RecordSourceRun(out.source, status, out.found, out.errors, out.duration); err != nil {
			log.Printf("record source run %s: %v", out.source, err)
		}
	}

	now := time.Now()
	sess.CompletedAt = &now

	switch {
	case errors.Is(runCtx.Err(), context.Canceled) && ctx.Err() == nil:
		sess.Status = models.SessionCancelled
		o.logSession(&sessionID, models.LogLevelWarn, "session cancelled", "")
	case persistErr != nil && !errors.Is(persistErr, context.Canceled):
		sess.Status = models.SessionFailed
		o.logSession(&sessionID, models.LogLevelError, persistErr.Error(), "")
	case failedSources == len(sources):
		sess.Status = models.SessionFailed
		o.logSession(&sessionID, models.LogLevelError, "all sources failed", "")
	default:
		sess.Status = models.SessionCompleted
		o.logSession(&sessionID, models.LogLevelInfo,
			fmt.Sprintf("session completed: found=%d created=%d updated=%d merged=%d errors=%d in %s",
				sess.JobsFound, sess.JobsCreated, sess.JobsUpdated, sess.DuplicatesMerged, sess.Errors,
				now.Sub(startedAt).Round(time.Second)), "")
	}

	if err := o.sessions.FinalizeSession(context.WithoutCancel(ctx), sess); err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	if sess.Status == models.SessionFailed {
		return fmt.Errorf("session %s failed", sessionID)
	}
	return nil
}

// Cancel requests cooperative cancellation of a running session. Sources
// observe it between page loads; already-persisted postings stay persisted.
func (o *Orchestrator) Cancel(sessionID uuid.UUID) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[sessionID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// runSource executes one adapter under its wall-clock budget and pushes the
// results through normalize, resolve and persist.
func (o *Orchestrator) runSource(ctx context.Context, sess *models.ScrapingSession, adapter Adapter, search Search) sourceOutcome {
	out := sourceOutcome{source: adapter.ID()}
	start := time.Now()
	defer func() { out.duration = time.Since(start) }()

	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.Limits.AdapterTimeout)
	defer cancel()

	result, err := adapter.Fetch(fetchCtx, search)
	if result != nil {
		// Skipped postings were seen at the source, so they count as found
		// and as errors alongside page-level failures.
		out.errors += result.Errors + result.Skipped
	}
	if err != nil {
		out.failed = true
		out.errors++
		if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			out.reason = "timeout"
		} else {
			out.reason = err.Error()
		}
		o.logSession(&sess.ID, models.LogLevelError, fmt.Sprintf("fetch failed: %v", err), adapter.ID())
		// A timed-out or cancelled fetch may still have produced postings;
		// persist what arrived before the cutoff.
		if result == nil || len(result.Postings) == 0 {
			return out
		}
	}

	out.found = len(result.Postings) + result.Skipped
	sessionStart := start
	if sess.StartedAt != nil {
		sessionStart = *sess.StartedAt
	}

	candidates := make([]*models.Job, 0, len(result.Postings))
	for i := range result.Postings {
		job, err := o.normalizer.Normalize(&result.Postings[i], sessionStart)
		if err != nil {
			out.errors++
			if !errors.Is(err, services.ErrDropped) {
				o.logSession(&sess.ID, models.LogLevelWarn, fmt.Sprintf("normalize: %v", err), adapter.ID())
			}
			continue
		}
		candidates = append(candidates, job)
	}

	if len(candidates) == 0 {
		o.logSession(&sess.ID, models.LogLevelInfo, "no persistable postings", adapter.ID())
		return out
	}

	// Resolution reads a storage snapshot that must stay valid until the
	// batch is written, so resolve+persist is serialized per source.
	lock := o.sourceLock(adapter.ID())
	lock.Lock()
	defer lock.Unlock()

	resolution, err := o.resolver.Resolve(ctx, candidates)
	if err != nil {
		out.failed = true
		out.fatal = true
		out.reason = fmt.Sprintf("resolve: %v", err)
		return out
	}

	if err := o.persist(ctx, resolution); err != nil {
		out.failed = true
		out.fatal = true
		out.reason = fmt.Sprintf("persist: %v", err)
		return out
	}

	out.created = len(resolution.ToCreate)
	out.merged = resolution.Merged
	// Merge-driven writes are already counted as merges; only natural-key
	// refreshes count as updates.
	for _, upd := range resolution.ToUpdate {
		if !upd.Merge {
			out.updated++
		}
	}

	o.logSession(&sess.ID, models.LogLevelInfo,
		fmt.Sprintf("source done: found=%d created=%d updated=%d merged=%d errors=%d",
			out.found, out.created, out.updated, out.merged, out.errors), adapter.ID())
	return out
}

// persist writes the resolution batch. Each write gets one retry with a short
// backoff; a second failure fails the session with whatever was already
// written still counted.
func (o *Orchestrator) persist(ctx context.Context, res *services.Resolution) error {
	companies := make(map[string]*uuid.UUID)

	writeJob := func(job *models.Job) error {
		if job.CompanyID == nil && job.CompanyName != "" {
			id, ok := companies[job.CompanyName]
			if !ok {
				company, err := o.jobs.GetOrCreateCompany(ctx, job.CompanyName)
				if err != nil {
					// The posting still persists; enrichment picks the
					// company up on a later session.
					log.Printf("get or create company %q: %v", job.CompanyName, err)
				} else {
					id = &company.ID
				}
				companies[job.CompanyName] = id
			}
			job.CompanyID = id
		}
		if err := o.jobs.UpsertJob(ctx, job); err != nil {
			time.Sleep(500 * time.Millisecond)
			if err := o.jobs.UpsertJob(ctx, job); err != nil {
				return err
			}
		}
		return nil
	}

	for _, job := range res.ToCreate {
		if err := writeJob(job); err != nil {
			return fmt.Errorf("create (%s, %s): %w", job.Source, job.SourceURL, err)
		}
	}
	for _, upd := range res.ToUpdate {
		if err := writeJob(upd.Job); err != nil {
			return fmt.Errorf("update (%s, %s): %w", upd.Source, upd.SourceURL, err)
		}
	}
	return nil
}

// sessionSources resolves the adapter set: the session's explicit list, or
// every configured adapter. Unknown names are dropped with a log line.
func (o *Orchestrator) sessionSources(sess *models.ScrapingSession) []string {
	if len(sess.Sources) == 0 {
		out := make([]string, 0, len(o.adapters))
		for id := range o.adapters {
			out = append(out, id)
		}
		return out
	}

	var out []string
	for _, name := range sess.Sources {
		if _, ok := o.adapters[name]; ok {
			out = append(out, name)
		} else {
			o.logSession(&sess.ID, models.LogLevelWarn, "unknown source requested: "+name, name)
		}
	}
	return out
}

func (o *Orchestrator) sourceLock(source string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.writeMu[source]
	if !ok {
		lock = &sync.Mutex{}
		o.writeMu[source] = lock
	}
	return lock
}

func (o *Orchestrator) logSession(sessionID *uuid.UUID, level models.LogLevel, message, source string) {
	if source != "" {
		log.Printf("[%s] %s: %s", level, source, message)
	} else {
		log.Printf("[%s] %s", level, message)
	}
	if err := o.recorder.Log(sessionID, level, message, source); err != nil {
		log.Printf("session log write failed: %v", err)
	}
}
