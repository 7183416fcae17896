package scraper

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"jobharvest/config"
	"jobharvest/identity"
	"jobharvest/models"
	"jobharvest/services"
)

// fakeStore backs both the session and job store interfaces with in-memory
// maps.
type fakeStore struct {
	mu          sync.Mutex
	sessions    map[uuid.UUID]*models.ScrapingSession
	jobsByURL   map[string]*models.Job
	jobsByKey   map[string]*models.Job
	companies   map[string]*models.Company
	upserts     int
	failUpserts bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:  make(map[uuid.UUID]*models.ScrapingSession),
		jobsByURL: make(map[string]*models.Job),
		jobsByKey: make(map[string]*models.Job),
		companies: make(map[string]*models.Company),
	}
}

func (s *fakeStore) addJob(job *models.Job) {
	s.jobsByURL[job.Source+"\x00"+job.SourceURL] = job
	if job.Status == models.JobStatusActive {
		s.jobsByKey[job.MergeKey] = job
	}
}

func (s *fakeStore) CreateSession(_ context.Context, sess *models.ScrapingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *fakeStore) GetSession(_ context.Context, id uuid.UUID) (*models.ScrapingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *fakeStore) TryStartSession(_ context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !sess.Runnable() {
		return false, nil
	}
	sess.ResetCounters()
	sess.Status = models.SessionRunning
	sess.StartedAt = &startedAt
	return true, nil
}

func (s *fakeStore) FinalizeSession(_ context.Context, sess *models.ScrapingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *fakeStore) GetJobBySourceURL(_ context.Context, source, sourceURL string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobsByURL[source+"\x00"+sourceURL], nil
}

func (s *fakeStore) GetActiveJobByMergeKey(_ context.Context, mergeKey string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobsByKey[mergeKey], nil
}

func (s *fakeStore) UpsertJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.failUpserts {
		return errors.New("connection refused")
	}
	s.addJob(job)
	return nil
}

func (s *fakeStore) GetOrCreateCompany(_ context.Context, name string) (*models.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.companies[name]; ok {
		return c, nil
	}
	c := &models.Company{ID: uuid.New(), Name: name}
	s.companies[name] = c
	return c, nil
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs map[string]string // source -> status
	logs []string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{runs: make(map[string]string)}
}

func (r *fakeRecorder) Log(_ *uuid.UUID, _ models.LogLevel, message, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, message)
	return nil
}

func (r *fakeRecorder) RecordSourceRun(source, status string, _, _ int, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[source] = status
	return nil
}

// fakeAdapter returns a canned result or error.
type fakeAdapter struct {
	id     string
	result *FetchResult
	err    error
}

func (f *fakeAdapter) ID() string              { return f.id }
func (f *fakeAdapter) Kind() models.AdapterKind { return models.AdapterAPI }

func (f *fakeAdapter) Fetch(_ context.Context, _ Search) (*FetchResult, error) {
	return f.result, f.err
}

// blockingAdapter waits on the context, for timeout and cancellation tests.
type blockingAdapter struct {
	id      string
	started chan struct{}
}

func (b *blockingAdapter) ID() string              { return b.id }
func (b *blockingAdapter) Kind() models.AdapterKind { return models.AdapterAPI }

func (b *blockingAdapter) Fetch(ctx context.Context, _ Search) (*FetchResult, error) {
	if b.started != nil {
		close(b.started)
	}
	<-ctx.Done()
	return nil, &FetchError{Source: b.id, Err: ctx.Err()}
}

func rawPosting(source, title, company, location, url string) models.RawPosting {
	return models.RawPosting{
		Source:   source,
		Title:    title,
		Company:  company,
		Location: location,
		URL:      url,
	}
}

func newTestOrchestrator(store *fakeStore, rec *fakeRecorder, adapters map[string]Adapter, timeout time.Duration) *Orchestrator {
	cfg := &config.Config{
		DefaultCurrency: "KES",
		Limits: config.LimitsConfig{
			MaxConcurrentAdapters: 1, // serialize sources so merge order is stable
			MaxConcurrentSessions: 2,
			AdapterTimeout:        timeout,
			DefaultMaxResults:     50,
		},
	}
	return NewOrchestrator(cfg, adapters, store, store, rec, services.NewNormalizer(cfg))
}

func TestStartSession_CountersAndMerge(t *testing.T) {
	store := newFakeStore()
	rec := newFakeRecorder()

	adapters := map[string]Adapter{
		"alpha": &fakeAdapter{id: "alpha", result: &FetchResult{Postings: []models.RawPosting{
			rawPosting("alpha", "Software Engineer", "Acme", "Nairobi", "https://a/1"),
			rawPosting("alpha", "Data Analyst", "Beta Co", "Mombasa", "https://a/2"),
		}}},
		"beta": &fakeAdapter{id: "beta", result: &FetchResult{Postings: []models.RawPosting{
			rawPosting("beta", "Software Engineer", "Acme", "Nairobi", "https://b/9"),
		}}},
	}
	o := newTestOrchestrator(store, rec, adapters, time.Minute)

	sess, err := o.StartSession(context.Background(), "engineer", "Nairobi", 50, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("start session failed: %v", err)
	}

	if sess.Status != models.SessionCompleted {
		t.Fatalf("expected completed, got %s", sess.Status)
	}
	if sess.JobsFound != 3 {
		t.Fatalf("expected 3 found, got %d", sess.JobsFound)
	}
	if sess.JobsCreated != 2 {
		t.Fatalf("expected 2 created, got %d", sess.JobsCreated)
	}
	if sess.DuplicatesMerged != 1 {
		t.Fatalf("expected 1 merge across sources, got %d", sess.DuplicatesMerged)
	}
	if sess.JobsUpdated != 0 {
		t.Fatalf("a merge is not an update, got %d updates", sess.JobsUpdated)
	}
	if sess.Errors != 0 {
		t.Fatalf("expected no errors, got %d", sess.Errors)
	}
	if sess.CompletedAt == nil {
		t.Fatal("completed session must carry a completion time")
	}
	if sess.SourceOutcomes["alpha"] != "ok" || sess.SourceOutcomes["beta"] != "ok" {
		t.Fatalf("unexpected source outcomes: %v", sess.SourceOutcomes)
	}
	if rec.runs["alpha"] != "ok" || rec.runs["beta"] != "ok" {
		t.Fatalf("per-source runs not recorded: %v", rec.runs)
	}

	merged, _ := store.GetJobBySourceURL(context.Background(), "alpha", "https://a/1")
	if merged == nil || !merged.HasSource("beta") {
		t.Fatalf("cross-source merge not persisted: %+v", merged)
	}

	// Persisting a posting registers its company and links it.
	if _, ok := store.companies["Acme"]; !ok {
		t.Fatal("company was not created during persistence")
	}
	if merged.CompanyID == nil || *merged.CompanyID != store.companies["Acme"].ID {
		t.Fatalf("posting not linked to its company: %v", merged.CompanyID)
	}
}

func TestExecute_MergeAndSkipCounters(t *testing.T) {
	store := newFakeStore()
	early := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	stored := &models.Job{
		ID:          uuid.New(),
		Title:       "Software Engineer",
		CompanyName: "Acme",
		Location:    "Nairobi",
		City:        identity.City("Nairobi"),
		Source:      "other",
		SourceURL:   "https://o/1",
		MergeKey:    identity.MergeKey("Software Engineer", "Acme", "Nairobi"),
		Status:      models.JobStatusActive,
		PostedDate:  early,
	}
	store.addJob(stored)

	// Two usable postings, one a fuzzy duplicate of the stored record, plus
	// three postings the adapter could not extract.
	adapters := map[string]Adapter{
		"a": &fakeAdapter{id: "a", result: &FetchResult{
			Postings: []models.RawPosting{
				rawPosting("a", "Software Engineer", "Acme", "Nairobi", "https://a/1"),
				rawPosting("a", "Data Analyst", "Beta Co", "Mombasa", "https://a/2"),
			},
			Skipped: 3,
		}},
	}
	o := newTestOrchestrator(store, newFakeRecorder(), adapters, time.Minute)

	sess, err := o.StartSession(context.Background(), "engineer", "", 50, nil)
	if err != nil {
		t.Fatalf("start session failed: %v", err)
	}

	if sess.Status != models.SessionCompleted {
		t.Fatalf("expected completed, got %s", sess.Status)
	}
	if sess.JobsFound != 5 {
		t.Fatalf("skipped postings count as found, got %d", sess.JobsFound)
	}
	if sess.JobsCreated != 1 {
		t.Fatalf("expected 1 created, got %d", sess.JobsCreated)
	}
	if sess.JobsUpdated != 0 {
		t.Fatalf("a fuzzy merge must not count as an update, got %d", sess.JobsUpdated)
	}
	if sess.DuplicatesMerged != 1 {
		t.Fatalf("expected 1 merge, got %d", sess.DuplicatesMerged)
	}
	if sess.Errors != 3 {
		t.Fatalf("skipped postings count as errors, got %d", sess.Errors)
	}
	if !stored.HasSource("a") {
		t.Fatalf("merge must fold the new source into the stored record: %v", stored.Sources)
	}
}

func TestExecute_PartialSourceFailure(t *testing.T) {
	store := newFakeStore()
	rec := newFakeRecorder()

	adapters := map[string]Adapter{
		"good": &fakeAdapter{id: "good", result: &FetchResult{Postings: []models.RawPosting{
			rawPosting("good", "Engineer", "Acme", "Nairobi", "https://g/1"),
		}}},
		"bad": &fakeAdapter{id: "bad", err: &FetchError{Source: "bad", Err: errors.New("503 from upstream")}},
	}
	o := newTestOrchestrator(store, rec, adapters, time.Minute)

	sess, err := o.StartSession(context.Background(), "engineer", "", 50, []string{"good", "bad"})
	if err != nil {
		t.Fatalf("one healthy source must keep the session alive: %v", err)
	}

	if sess.Status != models.SessionCompleted {
		t.Fatalf("expected completed, got %s", sess.Status)
	}
	if sess.JobsCreated != 1 {
		t.Fatalf("expected 1 created from the healthy source, got %d", sess.JobsCreated)
	}
	if sess.Errors != 1 {
		t.Fatalf("failed source must count one error, got %d", sess.Errors)
	}
	if sess.SourceOutcomes["good"] != "ok" {
		t.Fatalf("healthy source outcome: %q", sess.SourceOutcomes["good"])
	}
	if !strings.Contains(sess.SourceOutcomes["bad"], "503") {
		t.Fatalf("failed source must carry its reason, got %q", sess.SourceOutcomes["bad"])
	}
}

func TestExecute_AllSourcesFailed(t *testing.T) {
	store := newFakeStore()
	adapters := map[string]Adapter{
		"one": &fakeAdapter{id: "one", err: &FetchError{Source: "one", Err: errors.New("down")}},
		"two": &fakeAdapter{id: "two", err: &FetchError{Source: "two", Err: errors.New("down")}},
	}
	o := newTestOrchestrator(store, newFakeRecorder(), adapters, time.Minute)

	sess, err := o.StartSession(context.Background(), "engineer", "", 50, nil)
	if err == nil {
		t.Fatal("expected an error when every source fails")
	}
	sess, _ = store.GetSession(context.Background(), sess.ID)
	if sess.Status != models.SessionFailed {
		t.Fatalf("expected failed, got %s", sess.Status)
	}
	if sess.Errors != 2 {
		t.Fatalf("expected 2 errors, got %d", sess.Errors)
	}
}

func TestExecute_NonRunnableSession(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(store, newFakeRecorder(), map[string]Adapter{
		"a": &fakeAdapter{id: "a", result: &FetchResult{}},
	}, time.Minute)

	sess := &models.ScrapingSession{ID: uuid.New(), Status: models.SessionCompleted}
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatal(err)
	}

	if err := o.Execute(context.Background(), sess.ID); !errors.Is(err, ErrSessionNotRunnable) {
		t.Fatalf("expected ErrSessionNotRunnable, got %v", err)
	}
}

func TestExecute_PausedRefusesSessions(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(store, newFakeRecorder(), map[string]Adapter{
		"a": &fakeAdapter{id: "a", result: &FetchResult{}},
	}, time.Minute)

	sess := &models.ScrapingSession{ID: uuid.New(), Status: models.SessionPending}
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatal(err)
	}

	o.Pause()
	if err := o.Execute(context.Background(), sess.ID); !errors.Is(err, ErrSessionNotRunnable) {
		t.Fatalf("expected ErrSessionNotRunnable while paused, got %v", err)
	}

	o.Resume()
	if err := o.Execute(context.Background(), sess.ID); err != nil {
		t.Fatalf("resumed orchestrator must run the session: %v", err)
	}
}

func TestExecute_DroppedPostingsCountAsErrors(t *testing.T) {
	store := newFakeStore()
	adapters := map[string]Adapter{
		"a": &fakeAdapter{id: "a", result: &FetchResult{Postings: []models.RawPosting{
			rawPosting("a", "", "Acme", "Nairobi", "https://a/1"), // no title: dropped
			rawPosting("a", "Engineer", "Acme", "Nairobi", "https://a/2"),
		}}},
	}
	o := newTestOrchestrator(store, newFakeRecorder(), adapters, time.Minute)

	sess, err := o.StartSession(context.Background(), "engineer", "", 50, nil)
	if err != nil {
		t.Fatalf("start session failed: %v", err)
	}
	if sess.Status != models.SessionCompleted {
		t.Fatalf("drops must not fail the session, got %s", sess.Status)
	}
	if sess.JobsFound != 2 || sess.JobsCreated != 1 || sess.Errors != 1 {
		t.Fatalf("found/created/errors = %d/%d/%d, want 2/1/1",
			sess.JobsFound, sess.JobsCreated, sess.Errors)
	}
}

func TestExecute_PersistenceFailureFailsSession(t *testing.T) {
	store := newFakeStore()
	store.failUpserts = true

	adapters := map[string]Adapter{
		"a": &fakeAdapter{id: "a", result: &FetchResult{Postings: []models.RawPosting{
			rawPosting("a", "Engineer", "Acme", "Nairobi", "https://a/1"),
		}}},
	}
	o := newTestOrchestrator(store, newFakeRecorder(), adapters, time.Minute)

	sess, err := o.StartSession(context.Background(), "engineer", "", 50, nil)
	if err == nil {
		t.Fatal("persistence failure must surface as a session error")
	}

	sess, _ = store.GetSession(context.Background(), sess.ID)
	if sess.Status != models.SessionFailed {
		t.Fatalf("expected failed, got %s", sess.Status)
	}
	if store.upserts != 2 {
		t.Fatalf("expected one retry before giving up, got %d upserts", store.upserts)
	}
	if !strings.HasPrefix(sess.SourceOutcomes["a"], "persist:") {
		t.Fatalf("outcome must name the persistence failure, got %q", sess.SourceOutcomes["a"])
	}
}

func TestExecute_AdapterTimeout(t *testing.T) {
	store := newFakeStore()
	adapters := map[string]Adapter{
		"slow": &blockingAdapter{id: "slow"},
	}
	o := newTestOrchestrator(store, newFakeRecorder(), adapters, 50*time.Millisecond)

	sess, err := o.StartSession(context.Background(), "engineer", "", 50, nil)
	if err == nil {
		t.Fatal("single timed-out source must fail the session")
	}

	sess, _ = store.GetSession(context.Background(), sess.ID)
	if sess.Status != models.SessionFailed {
		t.Fatalf("expected failed, got %s", sess.Status)
	}
	if sess.SourceOutcomes["slow"] != "timeout" {
		t.Fatalf("expected timeout outcome, got %q", sess.SourceOutcomes["slow"])
	}
}

func TestCancel_RunningSession(t *testing.T) {
	store := newFakeStore()
	started := make(chan struct{})
	adapters := map[string]Adapter{
		"slow": &blockingAdapter{id: "slow", started: started},
	}
	o := newTestOrchestrator(store, newFakeRecorder(), adapters, time.Minute)

	sess := &models.ScrapingSession{ID: uuid.New(), Status: models.SessionPending, MaxResults: 50}
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- o.Execute(context.Background(), sess.ID)
	}()

	<-started
	if !o.Cancel(sess.ID) {
		t.Fatal("cancel must find the running session")
	}

	if err := <-done; err != nil {
		t.Fatalf("cancelled session is not a failure: %v", err)
	}

	got, _ := store.GetSession(context.Background(), sess.ID)
	if got.Status != models.SessionCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if o.Cancel(sess.ID) {
		t.Fatal("finished session must no longer be cancellable")
	}
}

func TestCancel_UnknownSession(t *testing.T) {
	o := newTestOrchestrator(newFakeStore(), newFakeRecorder(), nil, time.Minute)
	if o.Cancel(uuid.New()) {
		t.Fatal("unknown session must not be cancellable")
	}
}
