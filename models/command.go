package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdTriggerSession CommandType = "trigger_session"
	CmdPause          CommandType = "pause"
	CmdResume         CommandType = "resume"
	CmdRunEnrichment  CommandType = "run_enrichment"
	CmdRunHealthcheck CommandType = "run_healthcheck"
)

// Command is an on-demand request queued by the API layer in the operational
// store and polled by the scheduler.
type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	SessionID  string   `json:"session_id,omitempty"`
	Query      string   `json:"query,omitempty"`
	Location   string   `json:"location,omitempty"`
	MaxResults int      `json:"max_results,omitempty"`
	Sources    []string `json:"sources,omitempty"`
}
