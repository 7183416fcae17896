package models

import "encoding/json"

// RawPosting is one posting as extracted by a source adapter, before
// normalization. Field values are raw source text; the normalizer owns
// cleanup, parsing and validation.
type RawPosting struct {
	Source          string          `json:"source"`
	Title           string          `json:"title"`
	Company         string          `json:"company"`
	Location        string          `json:"location"`
	Description     string          `json:"description"`
	URL             string          `json:"url"`
	SalaryText      string          `json:"salary_text"`
	EmploymentType  string          `json:"employment_type"`
	ExperienceLevel string          `json:"experience_level"`
	PostedText      string          `json:"posted_text"`
	Remote          bool            `json:"remote"`
	Data            json.RawMessage `json:"data,omitempty"`
}
