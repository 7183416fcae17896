package models

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// ScrapingSession records one bounded execution of the ingestion pipeline for
// a query/location pair. Counters are owned exclusively by the orchestrator
// that runs the session.
type ScrapingSession struct {
	ID               uuid.UUID         `json:"id" db:"id"`
	Query            string            `json:"query" db:"query"`
	Location         string            `json:"location" db:"location"`
	MaxResults       int               `json:"max_results" db:"max_results"`
	Sources          []string          `json:"sources" db:"sources"` // empty = all active
	Status           SessionStatus     `json:"status" db:"status"`
	JobsFound        int               `json:"jobs_found" db:"jobs_found"`
	JobsCreated      int               `json:"jobs_created" db:"jobs_created"`
	JobsUpdated      int               `json:"jobs_updated" db:"jobs_updated"`
	DuplicatesMerged int               `json:"duplicates_merged" db:"duplicates_merged"`
	Errors           int               `json:"errors" db:"errors"`
	SourceOutcomes   map[string]string `json:"source_outcomes" db:"source_outcomes"` // source -> "ok" or failure reason
	StartedAt        *time.Time        `json:"started_at" db:"started_at"`
	CompletedAt      *time.Time        `json:"completed_at" db:"completed_at"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether the session has reached a state with no
// transitions out.
func (s *ScrapingSession) Terminal() bool {
	switch s.Status {
	case SessionCompleted, SessionFailed, SessionCancelled:
		return true
	}
	return false
}

// Runnable reports whether Execute may (re-)run the session. Completed and
// cancelled sessions are final; failed sessions may be retried with fresh
// counters.
func (s *ScrapingSession) Runnable() bool {
	return s.Status == SessionPending || s.Status == SessionFailed
}

// ResetCounters zeroes the per-run counters before a retry of a failed
// session.
func (s *ScrapingSession) ResetCounters() {
	s.JobsFound = 0
	s.JobsCreated = 0
	s.JobsUpdated = 0
	s.DuplicatesMerged = 0
	s.Errors = 0
	s.SourceOutcomes = nil
	s.CompletedAt = nil
}

func (s *ScrapingSession) Duration() time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	if s.CompletedAt != nil {
		return s.CompletedAt.Sub(*s.StartedAt)
	}
	return time.Since(*s.StartedAt)
}
