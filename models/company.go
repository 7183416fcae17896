package models

import (
	"time"

	"github.com/google/uuid"
)

// Company is an enrichment entity associated with jobs by name match. Its
// lifecycle is independent of job ingestion; the enrichment worker fills the
// optional fields after the fact.
type Company struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Website     string    `json:"website" db:"website"`
	Email       string    `json:"email" db:"email"`
	Description string    `json:"description" db:"description"`
	Industry    string    `json:"industry" db:"industry"`
	Size        string    `json:"size" db:"size"`
	Location    string    `json:"location" db:"location"`
	EnrichedAt  *time.Time `json:"enriched_at" db:"enriched_at"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
