package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"jobharvest/models"
	"jobharvest/storage"
)

// csvHeader is the fixed column order of CSV exports. Consumers depend on it;
// append new columns, never reorder.
var csvHeader = []string{
	"id", "title", "company", "location", "city", "source", "sources",
	"source_url", "salary_min", "salary_max", "salary_currency",
	"employment_type", "experience_level", "remote", "posted_date",
	"posted_guessed", "status", "created_at",
}

// WriteCSV renders jobs as CSV in the fixed column order.
func WriteCSV(w io.Writer, jobs []*models.Job) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, j := range jobs {
		record := []string{
			j.ID.String(),
			j.Title,
			j.CompanyName,
			j.Location,
			j.City,
			j.Source,
			joinSources(j),
			j.SourceURL,
			formatFloat(j.SalaryMin),
			formatFloat(j.SalaryMax),
			j.SalaryCurrency,
			string(j.EmploymentType),
			j.ExperienceLevel,
			strconv.FormatBool(j.Remote),
			j.PostedDate.Format("2006-01-02"),
			strconv.FormatBool(j.PostedGuessed),
			string(j.Status),
			j.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func joinSources(j *models.Job) string {
	if len(j.Sources) == 0 {
		return j.Source
	}
	out := j.Sources[0]
	for _, s := range j.Sources[1:] {
		out += ";" + s
	}
	return out
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// Exporter queries postings and publishes CSV snapshots, optionally to S3.
type Exporter struct {
	store    *storage.PostgresStore
	uploader *storage.S3Uploader
	s3cfg    storage.S3Config
}

func NewExporter(store *storage.PostgresStore) *Exporter {
	return &Exporter{store: store}
}

// WithS3 enables uploading snapshots instead of only streaming them.
func (e *Exporter) WithS3(uploader *storage.S3Uploader, cfg storage.S3Config) *Exporter {
	e.uploader = uploader
	e.s3cfg = cfg
	return e
}

// Export streams the filtered postings as CSV to w.
func (e *Exporter) Export(ctx context.Context, filter storage.JobFilter, w io.Writer) (int, error) {
	jobs, err := e.store.QueryJobs(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("query jobs: %w", err)
	}
	if err := WriteCSV(w, jobs); err != nil {
		return 0, fmt.Errorf("write csv: %w", err)
	}
	return len(jobs), nil
}

// Publish exports the filtered postings and uploads the snapshot to S3,
// returning the public URL.
func (e *Exporter) Publish(ctx context.Context, filter storage.JobFilter) (string, int, error) {
	if e.uploader == nil {
		return "", 0, fmt.Errorf("no uploader configured")
	}

	var buf bytes.Buffer
	count, err := e.Export(ctx, filter, &buf)
	if err != nil {
		return "", 0, err
	}

	key := fmt.Sprintf("exports/jobs-%s.csv", time.Now().UTC().Format("20060102-150405"))
	if err := e.uploader.Upload(ctx, key, &buf, "text/csv"); err != nil {
		return "", 0, fmt.Errorf("upload: %w", err)
	}

	return e.uploader.PublicURL(key, e.s3cfg), count, nil
}
