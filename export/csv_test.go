package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/google/uuid"

	"jobharvest/models"
)

func TestWriteCSV(t *testing.T) {
	min := 150000.0
	max := 200000.0
	posted := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	created := time.Date(2026, 3, 12, 8, 30, 0, 0, time.UTC)

	jobs := []*models.Job{
		{
			ID:             uuid.MustParse("11111111-2222-3333-4444-555555555555"),
			Title:          "Senior Software Engineer",
			CompanyName:    "Acme Ltd",
			Location:       "Nairobi, Kenya",
			City:           "nairobi",
			Source:         "adzuna",
			Sources:        []string{"adzuna", "brightermonday"},
			SourceURL:      "https://a/1",
			SalaryMin:      &min,
			SalaryMax:      &max,
			SalaryCurrency: "KES",
			EmploymentType: models.EmploymentFullTime,
			Remote:         true,
			PostedDate:     posted,
			Status:         models.JobStatusActive,
			CreatedAt:      created,
		},
		{
			ID:         uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"),
			Title:      "Data Analyst",
			Source:     "brightermonday",
			SourceURL:  "https://b/2",
			PostedDate: posted,
			Status:     models.JobStatusInactive,
			CreatedAt:  created,
		},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, jobs); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d records", len(records))
	}

	header := records[0]
	if len(header) != len(csvHeader) {
		t.Fatalf("header width %d, want %d", len(header), len(csvHeader))
	}
	for i, col := range csvHeader {
		if header[i] != col {
			t.Fatalf("header column %d = %q, want %q", i, header[i], col)
		}
	}

	col := func(record []string, name string) string {
		for i, c := range csvHeader {
			if c == name {
				return record[i]
			}
		}
		t.Fatalf("unknown column %q", name)
		return ""
	}

	first := records[1]
	if col(first, "title") != "Senior Software Engineer" {
		t.Fatalf("title: %q", col(first, "title"))
	}
	if col(first, "sources") != "adzuna;brightermonday" {
		t.Fatalf("sources must be semicolon joined, got %q", col(first, "sources"))
	}
	if col(first, "salary_min") != "150000" || col(first, "salary_max") != "200000" {
		t.Fatalf("salary columns: %q / %q", col(first, "salary_min"), col(first, "salary_max"))
	}
	if col(first, "posted_date") != "2026-03-10" {
		t.Fatalf("posted_date: %q", col(first, "posted_date"))
	}
	if col(first, "created_at") != "2026-03-12T08:30:00Z" {
		t.Fatalf("created_at: %q", col(first, "created_at"))
	}
	if col(first, "remote") != "true" {
		t.Fatalf("remote: %q", col(first, "remote"))
	}

	second := records[2]
	if col(second, "salary_min") != "" || col(second, "salary_max") != "" {
		t.Fatalf("missing salary must render empty, got %q / %q",
			col(second, "salary_min"), col(second, "salary_max"))
	}
	if col(second, "sources") != "brightermonday" {
		t.Fatalf("single-source fallback: %q", col(second, "sources"))
	}
	if col(second, "status") != "inactive" {
		t.Fatalf("status: %q", col(second, "status"))
	}
}

func TestWriteCSV_EmptySet(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, nil); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("empty export must still carry the header, got %d records", len(records))
	}
}
