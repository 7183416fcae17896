package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusActive   JobStatus = "active"
	JobStatusInactive JobStatus = "inactive"
)

type EmploymentType string

const (
	EmploymentFullTime   EmploymentType = "full_time"
	EmploymentPartTime   EmploymentType = "part_time"
	EmploymentContract   EmploymentType = "contract"
	EmploymentInternship EmploymentType = "internship"
	EmploymentTemporary  EmploymentType = "temporary"
	EmploymentUnknown    EmploymentType = ""
)

// Job is the canonical posting. (Source, SourceURL) uniquely identifies a
// posting; MergeKey is the normalized (title, company, city) tuple used for
// cross-source duplicate detection.
type Job struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	Title           string          `json:"title" db:"title"`
	CompanyName     string          `json:"company_name" db:"company_name"`
	CompanyID       *uuid.UUID      `json:"company_id" db:"company_id"`
	Location        string          `json:"location" db:"location"`
	City            string          `json:"city" db:"city"`
	Description     string          `json:"description" db:"description"`
	Source          string          `json:"source" db:"source"`
	SourceURL       string          `json:"source_url" db:"source_url"`
	Sources         []string        `json:"sources" db:"sources"` // informational union after merges
	SalaryMin       *float64        `json:"salary_min" db:"salary_min"`
	SalaryMax       *float64        `json:"salary_max" db:"salary_max"`
	SalaryCurrency  string          `json:"salary_currency" db:"salary_currency"`
	EmploymentType  EmploymentType  `json:"employment_type" db:"employment_type"`
	ExperienceLevel string          `json:"experience_level" db:"experience_level"`
	Remote          bool            `json:"remote" db:"remote"`
	PostedDate      time.Time       `json:"posted_date" db:"posted_date"`
	PostedGuessed   bool            `json:"posted_guessed" db:"posted_guessed"`
	MergeKey        string          `json:"merge_key" db:"merge_key"`
	Status          JobStatus       `json:"status" db:"status"`
	RawData         json.RawMessage `json:"raw_data" db:"raw_data"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// HasSource reports whether name is already in the informational source union.
func (j *Job) HasSource(name string) bool {
	if j.Source == name {
		return true
	}
	for _, s := range j.Sources {
		if s == name {
			return true
		}
	}
	return false
}
