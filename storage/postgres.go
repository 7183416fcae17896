package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobharvest/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the relational schema if it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS companies (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			website TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			industry TEXT NOT NULL DEFAULT '',
			size TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			enriched_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id UUID PRIMARY KEY,
			title TEXT NOT NULL,
			company_name TEXT NOT NULL DEFAULT '',
			company_id UUID REFERENCES companies(id),
			location TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			source_url TEXT NOT NULL,
			sources TEXT[] NOT NULL DEFAULT '{}',
			salary_min DOUBLE PRECISION,
			salary_max DOUBLE PRECISION,
			salary_currency TEXT NOT NULL DEFAULT '',
			employment_type TEXT NOT NULL DEFAULT '',
			experience_level TEXT NOT NULL DEFAULT '',
			remote BOOLEAN NOT NULL DEFAULT FALSE,
			posted_date TIMESTAMPTZ NOT NULL,
			posted_guessed BOOLEAN NOT NULL DEFAULT FALSE,
			merge_key TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			raw_data JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (source, source_url)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_merge_key ON jobs (merge_key) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_posted_date ON jobs (posted_date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_updated ON jobs (status, updated_at)`,
		`CREATE TABLE IF NOT EXISTS job_sources (
			name TEXT PRIMARY KEY,
			base_url TEXT NOT NULL,
			kind TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS scraping_sessions (
			id UUID PRIMARY KEY,
			query TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			max_results INT NOT NULL DEFAULT 0,
			sources TEXT[] NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'pending',
			jobs_found INT NOT NULL DEFAULT 0,
			jobs_created INT NOT NULL DEFAULT 0,
			jobs_updated INT NOT NULL DEFAULT 0,
			duplicates_merged INT NOT NULL DEFAULT 0,
			errors INT NOT NULL DEFAULT 0,
			source_outcomes JSONB,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// Jobs
// =============================================================================

const jobColumns = `id, title, company_name, company_id, location, city, description,
	source, source_url, sources, salary_min, salary_max, salary_currency,
	employment_type, experience_level, remote, posted_date, posted_guessed,
	merge_key, status, raw_data, created_at, updated_at`

// UpsertJob inserts or refreshes a posting keyed by (source, source_url).
// The original created_at and posted_date survive re-scrapes.
func (s *PostgresStore) UpsertJob(ctx context.Context, j *models.Job) error {
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		ON CONFLICT (source, source_url) DO UPDATE SET
			title = EXCLUDED.title,
			company_name = EXCLUDED.company_name,
			company_id = COALESCE(EXCLUDED.company_id, jobs.company_id),
			location = COALESCE(NULLIF(EXCLUDED.location, ''), jobs.location),
			city = COALESCE(NULLIF(EXCLUDED.city, ''), jobs.city),
			description = EXCLUDED.description,
			sources = EXCLUDED.sources,
			salary_min = COALESCE(EXCLUDED.salary_min, jobs.salary_min),
			salary_max = COALESCE(EXCLUDED.salary_max, jobs.salary_max),
			salary_currency = EXCLUDED.salary_currency,
			employment_type = COALESCE(NULLIF(EXCLUDED.employment_type, ''), jobs.employment_type),
			experience_level = COALESCE(NULLIF(EXCLUDED.experience_level, ''), jobs.experience_level),
			remote = EXCLUDED.remote,
			posted_date = LEAST(EXCLUDED.posted_date, jobs.posted_date),
			merge_key = EXCLUDED.merge_key,
			status = EXCLUDED.status,
			raw_data = EXCLUDED.raw_data,
			updated_at = NOW()
		RETURNING id, created_at`

	return s.pool.QueryRow(ctx, query,
		j.ID, j.Title, j.CompanyName, j.CompanyID, j.Location, j.City, j.Description,
		j.Source, j.SourceURL, j.Sources, j.SalaryMin, j.SalaryMax, j.SalaryCurrency,
		j.EmploymentType, j.ExperienceLevel, j.Remote, j.PostedDate, j.PostedGuessed,
		j.MergeKey, j.Status, j.RawData, j.CreatedAt, j.UpdatedAt,
	).Scan(&j.ID, &j.CreatedAt)
}

func (s *PostgresStore) GetJobBySourceURL(ctx context.Context, source, sourceURL string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE source = $1 AND source_url = $2`
	return s.scanJob(s.pool.QueryRow(ctx, query, source, sourceURL))
}

// GetActiveJobByMergeKey is the fuzzy-merge snapshot read: the oldest active
// posting with the same normalized (title, company, city) tuple.
func (s *PostgresStore) GetActiveJobByMergeKey(ctx context.Context, mergeKey string) (*models.Job, error) {
	query := `
		SELECT ` + jobColumns + ` FROM jobs
		WHERE merge_key = $1 AND status = 'active'
		ORDER BY posted_date ASC, source_url ASC
		LIMIT 1`
	return s.scanJob(s.pool.QueryRow(ctx, query, mergeKey))
}

func (s *PostgresStore) GetJobByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	return s.scanJob(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) MarkJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

// ListStaleActiveJobs returns active postings not refreshed since the cutoff,
// oldest first, for the healthcheck worker.
func (s *PostgresStore) ListStaleActiveJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	query := `
		SELECT ` + jobColumns + ` FROM jobs
		WHERE status = 'active' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanJobs(rows)
}

// ExpireJobsPostedBefore marks long-stale postings inactive in bulk.
func (s *PostgresStore) ExpireJobsPostedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'inactive', updated_at = NOW()
		 WHERE status = 'active' AND posted_date < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// JobFilter is the query-by-filter contract consumed by the API and export
// layers.
type JobFilter struct {
	Location       string
	EmploymentType models.EmploymentType
	SalaryMin      *float64
	SalaryMax      *float64
	Source         string
	Status         models.JobStatus
	Remote         *bool
	PostedAfter    *time.Time
	PostedBefore   *time.Time
	Search         string // free text over title/description
	Limit          int
	Offset         int
}

func (s *PostgresStore) QueryJobs(ctx context.Context, f JobFilter) ([]*models.Job, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Location != "" {
		add("location ILIKE '%%' || $%d || '%%'", f.Location)
	}
	if f.EmploymentType != models.EmploymentUnknown {
		add("employment_type = $%d", f.EmploymentType)
	}
	if f.SalaryMin != nil {
		add("salary_max >= $%d", *f.SalaryMin)
	}
	if f.SalaryMax != nil {
		add("salary_min <= $%d", *f.SalaryMax)
	}
	if f.Source != "" {
		args = append(args, f.Source)
		conds = append(conds, fmt.Sprintf("(source = $%d OR sources @> ARRAY[$%d]::text[])", len(args), len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Remote != nil {
		add("remote = $%d", *f.Remote)
	}
	if f.PostedAfter != nil {
		add("posted_date >= $%d", *f.PostedAfter)
	}
	if f.PostedBefore != nil {
		add("posted_date <= $%d", *f.PostedBefore)
	}
	if f.Search != "" {
		args = append(args, f.Search)
		conds = append(conds, fmt.Sprintf("(title ILIKE '%%' || $%d || '%%' OR description ILIKE '%%' || $%d || '%%')", len(args), len(args)))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY posted_date DESC, source_url ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanJobs(rows)
}

// JobStats aggregates posting counts and average salary for the statistics
// endpoint.
type JobStats struct {
	TotalActive      int
	BySource         map[string]int
	ByCity           map[string]int
	ByEmploymentType map[string]int
	AvgSalaryMin     *float64
	AvgSalaryMax     *float64
}

func (s *PostgresStore) GetJobStats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{
		BySource:         make(map[string]int),
		ByCity:           make(map[string]int),
		ByEmploymentType: make(map[string]int),
	}

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), AVG(salary_min), AVG(salary_max)
		FROM jobs WHERE status = 'active'`).
		Scan(&stats.TotalActive, &stats.AvgSalaryMin, &stats.AvgSalaryMax)
	if err != nil {
		return nil, fmt.Errorf("totals: %w", err)
	}

	groups := []struct {
		col  string
		dest map[string]int
	}{
		{"source", stats.BySource},
		{"city", stats.ByCity},
		{"employment_type", stats.ByEmploymentType},
	}
	for _, g := range groups {
		rows, err := s.pool.Query(ctx, fmt.Sprintf(`
			SELECT COALESCE(NULLIF(%s, ''), 'unknown'), COUNT(*)
			FROM jobs WHERE status = 'active' GROUP BY 1`, g.col))
		if err != nil {
			return nil, fmt.Errorf("group by %s: %w", g.col, err)
		}
		for rows.Next() {
			var key string
			var count int
			if err := rows.Scan(&key, &count); err != nil {
				rows.Close()
				return nil, err
			}
			g.dest[key] = count
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	return stats, nil
}

func (s *PostgresStore) scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(
		&j.ID, &j.Title, &j.CompanyName, &j.CompanyID, &j.Location, &j.City, &j.Description,
		&j.Source, &j.SourceURL, &j.Sources, &j.SalaryMin, &j.SalaryMax, &j.SalaryCurrency,
		&j.EmploymentType, &j.ExperienceLevel, &j.Remote, &j.PostedDate, &j.PostedGuessed,
		&j.MergeKey, &j.Status, &j.RawData, &j.CreatedAt, &j.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) scanJobs(rows pgx.Rows) ([]*models.Job, error) {
	var out []*models.Job
	for rows.Next() {
		var j models.Job
		err := rows.Scan(
			&j.ID, &j.Title, &j.CompanyName, &j.CompanyID, &j.Location, &j.City, &j.Description,
			&j.Source, &j.SourceURL, &j.Sources, &j.SalaryMin, &j.SalaryMax, &j.SalaryCurrency,
			&j.EmploymentType, &j.ExperienceLevel, &j.Remote, &j.PostedDate, &j.PostedGuessed,
			&j.MergeKey, &j.Status, &j.RawData, &j.CreatedAt, &j.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

// =============================================================================
// Companies
// =============================================================================

const companyColumns = `id, name, website, email, description, industry, size, location,
	enriched_at, created_at, updated_at`

// GetOrCreateCompany resolves the enrichment entity by exact name.
func (s *PostgresStore) GetOrCreateCompany(ctx context.Context, name string) (*models.Company, error) {
	query := `
		INSERT INTO companies (id, name, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE SET updated_at = companies.updated_at
		RETURNING ` + companyColumns

	var c models.Company
	err := s.pool.QueryRow(ctx, query, uuid.New(), name).Scan(
		&c.ID, &c.Name, &c.Website, &c.Email, &c.Description, &c.Industry,
		&c.Size, &c.Location, &c.EnrichedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) UpdateCompany(ctx context.Context, c *models.Company) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE companies SET
			website = $2, email = $3, description = $4, industry = $5,
			size = $6, location = $7, enriched_at = $8, updated_at = NOW()
		WHERE id = $1`,
		c.ID, c.Website, c.Email, c.Description, c.Industry, c.Size, c.Location, c.EnrichedAt)
	return err
}

// ListUnenrichedCompanies feeds the enrichment worker, oldest first.
func (s *PostgresStore) ListUnenrichedCompanies(ctx context.Context, limit int) ([]*models.Company, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+companyColumns+` FROM companies
		WHERE enriched_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Company
	for rows.Next() {
		var c models.Company
		err := rows.Scan(
			&c.ID, &c.Name, &c.Website, &c.Email, &c.Description, &c.Industry,
			&c.Size, &c.Location, &c.EnrichedAt, &c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// =============================================================================
// Sources
// =============================================================================

// UpsertSource bootstraps a JobSource row from config. Sources are never
// deleted; removing one from config deactivates it.
func (s *PostgresStore) UpsertSource(ctx context.Context, src *models.JobSource) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_sources (name, base_url, kind, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE SET
			base_url = EXCLUDED.base_url,
			kind = EXCLUDED.kind,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()`,
		src.Name, src.BaseURL, src.Kind, src.IsActive)
	return err
}

func (s *PostgresStore) DeactivateSourcesExcept(ctx context.Context, names []string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_sources SET is_active = FALSE, updated_at = NOW()
		WHERE NOT (name = ANY($1))`, names)
	return err
}

// =============================================================================
// Sessions
// =============================================================================

const sessionColumns = `id, query, location, max_results, sources, status,
	jobs_found, jobs_created, jobs_updated, duplicates_merged, errors,
	source_outcomes, started_at, completed_at, created_at, updated_at`

func (s *PostgresStore) CreateSession(ctx context.Context, sess *models.ScrapingSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scraping_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())`,
		sess.ID, sess.Query, sess.Location, sess.MaxResults, sess.Sources, sess.Status,
		sess.JobsFound, sess.JobsCreated, sess.JobsUpdated, sess.DuplicatesMerged, sess.Errors,
		sess.SourceOutcomes, sess.StartedAt, sess.CompletedAt)
	return err
}

func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*models.ScrapingSession, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM scraping_sessions WHERE id = $1`, id)
	var sess models.ScrapingSession
	err := row.Scan(
		&sess.ID, &sess.Query, &sess.Location, &sess.MaxResults, &sess.Sources, &sess.Status,
		&sess.JobsFound, &sess.JobsCreated, &sess.JobsUpdated, &sess.DuplicatesMerged, &sess.Errors,
		&sess.SourceOutcomes, &sess.StartedAt, &sess.CompletedAt, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// TryStartSession atomically claims a session for execution. Only pending and
// failed sessions are claimable; a failed retry starts with fresh counters.
// Returns false when the session is already running or terminal.
func (s *PostgresStore) TryStartSession(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scraping_sessions SET
			status = 'running',
			started_at = $2,
			completed_at = NULL,
			jobs_found = 0, jobs_created = 0, jobs_updated = 0,
			duplicates_merged = 0, errors = 0,
			source_outcomes = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'failed')`, id, startedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FinalizeSession writes the terminal state and counters in one statement.
func (s *PostgresStore) FinalizeSession(ctx context.Context, sess *models.ScrapingSession) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scraping_sessions SET
			status = $2,
			jobs_found = $3, jobs_created = $4, jobs_updated = $5,
			duplicates_merged = $6, errors = $7,
			source_outcomes = $8,
			completed_at = $9,
			updated_at = NOW()
		WHERE id = $1`,
		sess.ID, sess.Status,
		sess.JobsFound, sess.JobsCreated, sess.JobsUpdated,
		sess.DuplicatesMerged, sess.Errors,
		sess.SourceOutcomes, sess.CompletedAt)
	return err
}

// PruneSessions deletes terminal sessions older than the cutoff.
func (s *PostgresStore) PruneSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM scraping_sessions
		WHERE created_at < $1 AND status IN ('completed', 'failed', 'cancelled')`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
