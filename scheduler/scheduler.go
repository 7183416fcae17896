package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"jobharvest/config"
	"jobharvest/models"
)

// Triggerable allows background workers to be triggered via commands.
type Triggerable interface {
	Trigger()
}

// SessionRunner is the orchestrator surface the scheduler drives.
type SessionRunner interface {
	StartSession(ctx context.Context, query, location string, maxResults int, sources []string) (*models.ScrapingSession, error)
	Execute(ctx context.Context, sessionID uuid.UUID) error
	Pause()
	Resume()
}

// CommandStore is the operational-store surface the scheduler polls.
type CommandStore interface {
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
	ParseCommandParams(cmd *models.Command) (*models.CommandParams, error)
	Log(sessionID *uuid.UUID, level models.LogLevel, message, source string) error
}

// Scheduler drives recurring searches on a cron or interval schedule and
// polls the operational store for on-demand commands. Concurrent sessions are
// capped globally; a search whose previous session is still running is
// skipped, not queued.
type Scheduler struct {
	cfg          *config.Config
	orchestrator SessionRunner
	store        CommandStore
	cron         *cron.Cron
	ticker       *time.Ticker
	stopCh       chan struct{}
	sem          *semaphore.Weighted

	mu      sync.Mutex
	running map[string]bool // search key -> in flight

	enrichmentWorker  Triggerable
	healthcheckWorker Triggerable
}

func New(cfg *config.Config, orchestrator SessionRunner, store CommandStore) *Scheduler {
	maxSessions := cfg.Limits.MaxConcurrentSessions
	if maxSessions <= 0 {
		maxSessions = 1
	}
	return &Scheduler{
		cfg:          cfg,
		orchestrator: orchestrator,
		store:        store,
		cron:         cron.New(),
		stopCh:       make(chan struct{}),
		sem:          semaphore.NewWeighted(int64(maxSessions)),
		running:      make(map[string]bool),
	}
}

// SetWorkers registers background workers for command-driven triggering.
func (s *Scheduler) SetWorkers(enrichment, healthcheck Triggerable) {
	s.enrichmentWorker = enrichment
	s.healthcheckWorker = healthcheck
}

func (s *Scheduler) Start(ctx context.Context) error {
	go s.pollCommands(ctx)

	if s.cfg.Scheduler.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Scheduler.Cron)
		_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
			s.runAllSearches(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Scheduler.Interval > 0 {
		log.Printf("Starting scheduler with interval: %s", s.cfg.Scheduler.Interval)
		s.ticker = time.NewTicker(s.cfg.Scheduler.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.runAllSearches(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Println("No schedule configured, daemon will only respond to commands")
	}

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

// runAllSearches starts one session per configured search, each in its own
// goroutine gated by the global session semaphore.
func (s *Scheduler) runAllSearches(ctx context.Context) {
	if len(s.cfg.Searches) == 0 {
		log.Println("No searches configured, nothing to schedule")
		return
	}
	for _, search := range s.cfg.Searches {
		go s.runSearch(ctx, search)
	}
}

func (s *Scheduler) runSearch(ctx context.Context, search config.SearchConfig) {
	key := searchKey(search)

	s.mu.Lock()
	if s.running[key] {
		s.mu.Unlock()
		log.Printf("Skipping %s: previous session still running", key)
		if err := s.store.Log(nil, models.LogLevelWarn, "skipped: previous session still running", key); err != nil {
			log.Printf("log skip: %v", err)
		}
		return
	}
	s.running[key] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, key)
		s.mu.Unlock()
	}()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	sess, err := s.orchestrator.StartSession(ctx, search.Query, search.Location, search.MaxResults, search.Sources)
	if err != nil {
		log.Printf("Scheduled session for %s failed: %v", key, err)
		return
	}
	log.Printf("Scheduled session %s for %s finished with status %s", sess.ID, key, sess.Status)
}

func searchKey(search config.SearchConfig) string {
	if search.Location == "" {
		return search.Query
	}
	return search.Query + "@" + search.Location
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cmds, err := s.store.GetPendingCommands()
			if err != nil {
				log.Printf("Error getting commands: %v", err)
				continue
			}

			for _, cmd := range cmds {
				log.Printf("Processing command: %s", cmd.Command)
				if err := s.handleCommand(ctx, &cmd); err != nil {
					log.Printf("Command error: %v", err)
				}
				if err := s.store.MarkCommandProcessed(cmd.ID); err != nil {
					log.Printf("Error marking command processed: %v", err)
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := s.store.ParseCommandParams(cmd)
	if err != nil {
		return err
	}

	switch cmd.Command {
	case models.CmdTriggerSession:
		return s.triggerSession(ctx, params)
	case models.CmdPause:
		s.orchestrator.Pause()
		return nil
	case models.CmdResume:
		s.orchestrator.Resume()
		return nil
	case models.CmdRunEnrichment:
		if s.enrichmentWorker != nil {
			s.enrichmentWorker.Trigger()
			log.Println("Enrichment worker triggered via command")
		}
		return nil
	case models.CmdRunHealthcheck:
		if s.healthcheckWorker != nil {
			s.healthcheckWorker.Trigger()
			log.Println("Healthcheck worker triggered via command")
		}
		return nil
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}
}

// triggerSession either re-runs an existing session by ID (retry of a failed
// one) or creates a fresh session from the command parameters.
func (s *Scheduler) triggerSession(ctx context.Context, params *models.CommandParams) error {
	run := func() error {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer s.sem.Release(1)

		if params.SessionID != "" {
			id, err := uuid.Parse(params.SessionID)
			if err != nil {
				return fmt.Errorf("bad session id %q: %w", params.SessionID, err)
			}
			return s.orchestrator.Execute(ctx, id)
		}
		if params.Query == "" {
			return fmt.Errorf("trigger_session requires a session_id or a query")
		}
		_, err := s.orchestrator.StartSession(ctx, params.Query, params.Location, params.MaxResults, params.Sources)
		return err
	}

	go func() {
		if err := run(); err != nil {
			log.Printf("Triggered session error: %v", err)
		}
	}()
	return nil
}
