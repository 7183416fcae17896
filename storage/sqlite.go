package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"jobharvest/models"
)

// SQLiteStore is the local operational sidecar: the command queue written by
// external tooling, per-session log lines, and per-source run statistics.
// Canonical job data lives in Postgres only.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS session_logs (
		id INTEGER PRIMARY KEY,
		session_id TEXT,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		source TEXT
	);

	CREATE TABLE IF NOT EXISTS source_stats (
		source TEXT PRIMARY KEY,
		last_run_at DATETIME,
		last_run_status TEXT,
		total_sessions INTEGER DEFAULT 0,
		total_postings INTEGER DEFAULT 0,
		total_errors INTEGER DEFAULT 0,
		avg_run_duration_sec INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_session ON session_logs(session_id, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// EnqueueCommand appends a command for the scheduler's polling loop. External
// tooling writes the same table directly.
func (s *SQLiteStore) EnqueueCommand(command models.CommandType, params *models.CommandParams) error {
	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = encoded
	}
	_, err := s.db.Exec(`
		INSERT INTO commands (command, params, created_at)
		VALUES (?, ?, ?)`, command, raw, time.Now())
	return err
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func (s *SQLiteStore) ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

// Log records one session log line. sessionID may be nil for lines emitted
// outside a session (scheduler decisions, worker sweeps).
func (s *SQLiteStore) Log(sessionID *uuid.UUID, level models.LogLevel, message, source string) error {
	var sid any
	if sessionID != nil {
		sid = sessionID.String()
	}
	_, err := s.db.Exec(`
		INSERT INTO session_logs (session_id, timestamp, level, message, source)
		VALUES (?, ?, ?, ?, ?)`,
		sid, time.Now(), level, message, source)
	return err
}

func (s *SQLiteStore) GetSessionLogs(sessionID uuid.UUID) ([]models.SessionLog, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, timestamp, level, message, source
		FROM session_logs WHERE session_id = ? ORDER BY timestamp`, sessionID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.SessionLog
	for rows.Next() {
		var entry models.SessionLog
		var sid string
		if err := rows.Scan(&entry.ID, &sid, &entry.Timestamp, &entry.Level, &entry.Message, &entry.Source); err != nil {
			return nil, err
		}
		if parsed, err := uuid.Parse(sid); err == nil {
			entry.SessionID = &parsed
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

// PruneSessionLogs drops log lines older than the cutoff.
func (s *SQLiteStore) PruneSessionLogs(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM session_logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RecordSourceRun folds one source outcome into the rolling per-source stats.
func (s *SQLiteStore) RecordSourceRun(source, status string, postings, errors int, duration time.Duration) error {
	_, err := s.db.Exec(`
		INSERT INTO source_stats (source, last_run_at, last_run_status, total_sessions,
			total_postings, total_errors, avg_run_duration_sec)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_run_status = excluded.last_run_status,
			total_sessions = total_sessions + 1,
			total_postings = total_postings + excluded.total_postings,
			total_errors = total_errors + excluded.total_errors,
			avg_run_duration_sec = (COALESCE(avg_run_duration_sec, 0) * total_sessions +
				excluded.avg_run_duration_sec) / (total_sessions + 1)`,
		source, time.Now(), status, postings, errors, int(duration.Seconds()))
	return err
}

func (s *SQLiteStore) GetLastRunTime(source string) (time.Time, error) {
	var lastRun time.Time
	err := s.db.QueryRow(`
		SELECT last_run_at FROM source_stats WHERE source = ?`, source).Scan(&lastRun)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	return lastRun, err
}

// ResetAllData clears all operational tables.
func (s *SQLiteStore) ResetAllData() error {
	tables := []string{"session_logs", "source_stats", "commands"}
	for _, table := range tables {
		if _, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}
