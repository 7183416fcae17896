package models

import "time"

type AdapterKind string

const (
	AdapterBrowser AdapterKind = "browser"
	AdapterAPI     AdapterKind = "api"
)

// JobSource identifies an external provider. Sources are created at bootstrap
// from the YAML source configs and are never deleted, only deactivated.
type JobSource struct {
	Name      string      `json:"name" db:"name"`
	BaseURL   string      `json:"base_url" db:"base_url"`
	Kind      AdapterKind `json:"kind" db:"kind"`
	IsActive  bool        `json:"is_active" db:"is_active"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`
}
