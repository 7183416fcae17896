package scheduler

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"jobharvest/config"
	"jobharvest/models"
)

// fakeRunner records orchestrator calls. StartSession optionally blocks on
// block so tests can hold a session in flight.
type fakeRunner struct {
	mu      sync.Mutex
	block   chan struct{}
	started chan struct{}
	queries []string
	execs   []uuid.UUID
	paused  bool
	resumed bool
}

func (r *fakeRunner) StartSession(_ context.Context, query, _ string, _ int, _ []string) (*models.ScrapingSession, error) {
	r.mu.Lock()
	r.queries = append(r.queries, query)
	r.mu.Unlock()
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	return &models.ScrapingSession{ID: uuid.New(), Query: query, Status: models.SessionCompleted}, nil
}

func (r *fakeRunner) Execute(_ context.Context, sessionID uuid.UUID) error {
	r.mu.Lock()
	r.execs = append(r.execs, sessionID)
	r.mu.Unlock()
	if r.started != nil {
		r.started <- struct{}{}
	}
	return nil
}

func (r *fakeRunner) Pause()  { r.mu.Lock(); r.paused = true; r.mu.Unlock() }
func (r *fakeRunner) Resume() { r.mu.Lock(); r.resumed = true; r.mu.Unlock() }

func (r *fakeRunner) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries)
}

type fakeCommandStore struct {
	mu        sync.Mutex
	processed []int64
	logs      []string
}

func (s *fakeCommandStore) GetPendingCommands() ([]models.Command, error) {
	return nil, nil
}

func (s *fakeCommandStore) MarkCommandProcessed(id int64) error {
	s.mu.Lock()
	s.processed = append(s.processed, id)
	s.mu.Unlock()
	return nil
}

func (s *fakeCommandStore) ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

func (s *fakeCommandStore) Log(_ *uuid.UUID, _ models.LogLevel, message, _ string) error {
	s.mu.Lock()
	s.logs = append(s.logs, message)
	s.mu.Unlock()
	return nil
}

func (s *fakeCommandStore) hasLog(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.logs {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

type fakeWorker struct {
	triggered chan struct{}
}

func (w *fakeWorker) Trigger() {
	select {
	case w.triggered <- struct{}{}:
	default:
	}
}

func testConfig(maxSessions int) *config.Config {
	return &config.Config{
		Limits: config.LimitsConfig{MaxConcurrentSessions: maxSessions},
	}
}

func TestRunSearch_SkipsOverlappingSearch(t *testing.T) {
	runner := &fakeRunner{
		block:   make(chan struct{}),
		started: make(chan struct{}, 4),
	}
	store := &fakeCommandStore{}
	s := New(testConfig(2), runner, store)

	search := config.SearchConfig{Query: "engineer", Location: "Nairobi"}

	done := make(chan struct{})
	go func() {
		s.runSearch(context.Background(), search)
		close(done)
	}()
	<-runner.started

	// Same key while the first session is still in flight: skip, don't queue.
	s.runSearch(context.Background(), search)
	if got := runner.startCount(); got != 1 {
		t.Fatalf("overlapping search must be skipped, got %d sessions", got)
	}
	if !store.hasLog("previous session still running") {
		t.Fatalf("skip must be logged, got %v", store.logs)
	}

	close(runner.block)
	<-done

	// Once the previous session finished the key runs again.
	runner.block = nil
	s.runSearch(context.Background(), search)
	if got := runner.startCount(); got != 2 {
		t.Fatalf("finished key must be runnable again, got %d sessions", got)
	}
}

func TestRunSearch_SessionCapBlocksOtherKeys(t *testing.T) {
	runner := &fakeRunner{
		block:   make(chan struct{}),
		started: make(chan struct{}, 4),
	}
	s := New(testConfig(1), runner, &fakeCommandStore{})

	go s.runSearch(context.Background(), config.SearchConfig{Query: "engineer"})
	<-runner.started

	go s.runSearch(context.Background(), config.SearchConfig{Query: "analyst"})
	select {
	case <-runner.started:
		t.Fatal("second session must wait for the global cap")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.block)
	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatal("second session never started after the cap freed up")
	}
}

func TestHandleCommand_PauseResume(t *testing.T) {
	runner := &fakeRunner{}
	s := New(testConfig(1), runner, &fakeCommandStore{})

	if err := s.handleCommand(context.Background(), &models.Command{Command: models.CmdPause}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !runner.paused {
		t.Fatal("pause command must pause the orchestrator")
	}

	if err := s.handleCommand(context.Background(), &models.Command{Command: models.CmdResume}); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !runner.resumed {
		t.Fatal("resume command must resume the orchestrator")
	}
}

func TestHandleCommand_WorkerTriggers(t *testing.T) {
	s := New(testConfig(1), &fakeRunner{}, &fakeCommandStore{})
	enrichment := &fakeWorker{triggered: make(chan struct{}, 1)}
	healthcheck := &fakeWorker{triggered: make(chan struct{}, 1)}
	s.SetWorkers(enrichment, healthcheck)

	if err := s.handleCommand(context.Background(), &models.Command{Command: models.CmdRunEnrichment}); err != nil {
		t.Fatalf("run_enrichment: %v", err)
	}
	select {
	case <-enrichment.triggered:
	default:
		t.Fatal("enrichment worker not triggered")
	}

	if err := s.handleCommand(context.Background(), &models.Command{Command: models.CmdRunHealthcheck}); err != nil {
		t.Fatalf("run_healthcheck: %v", err)
	}
	select {
	case <-healthcheck.triggered:
	default:
		t.Fatal("healthcheck worker not triggered")
	}
}

func TestHandleCommand_TriggerSessionByQuery(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{}, 1)}
	s := New(testConfig(1), runner, &fakeCommandStore{})

	params, _ := json.Marshal(models.CommandParams{Query: "devops", Location: "Mombasa"})
	cmd := &models.Command{Command: models.CmdTriggerSession, Params: params}
	if err := s.handleCommand(context.Background(), cmd); err != nil {
		t.Fatalf("trigger_session: %v", err)
	}

	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatal("triggered session never started")
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.queries) != 1 || runner.queries[0] != "devops" {
		t.Fatalf("unexpected session queries: %v", runner.queries)
	}
}

func TestHandleCommand_TriggerSessionByID(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{}, 1)}
	s := New(testConfig(1), runner, &fakeCommandStore{})

	id := uuid.New()
	params, _ := json.Marshal(models.CommandParams{SessionID: id.String()})
	cmd := &models.Command{Command: models.CmdTriggerSession, Params: params}
	if err := s.handleCommand(context.Background(), cmd); err != nil {
		t.Fatalf("trigger_session: %v", err)
	}

	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatal("triggered session never executed")
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.execs) != 1 || runner.execs[0] != id {
		t.Fatalf("unexpected executed sessions: %v", runner.execs)
	}
}

func TestHandleCommand_Unknown(t *testing.T) {
	s := New(testConfig(1), &fakeRunner{}, &fakeCommandStore{})
	if err := s.handleCommand(context.Background(), &models.Command{Command: "restart"}); err == nil {
		t.Fatal("unknown command must be an error")
	}
}
