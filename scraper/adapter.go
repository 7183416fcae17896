package scraper

import (
	"context"

	"jobharvest/config"
	"jobharvest/httputil"
	"jobharvest/models"
)

// Search is one query/location pair an adapter executes.
type Search struct {
	Query      string
	Location   string
	MaxResults int
}

// FetchResult carries the raw postings one adapter produced. Skipped counts
// postings seen but unusable (extraction failures); they count toward the
// session's found and error totals. Errors counts page-level failures.
type FetchResult struct {
	Postings []models.RawPosting
	Skipped  int
	Errors   int
}

// Adapter fetches raw postings from one source. Implementations honor context
// cancellation between page loads and release browser/network resources on
// every exit path.
type Adapter interface {
	ID() string
	Kind() models.AdapterKind
	Fetch(ctx context.Context, search Search) (*FetchResult, error)
}

// NewAdapter selects the implementation from the source's configured kind.
func NewAdapter(src *config.SourceConfig, cfg *config.Config, clients *httputil.Clients) Adapter {
	switch src.Kind {
	case "browser":
		return NewBrowserAdapter(src, cfg)
	default:
		return NewAPIAdapter(src, cfg, clients.API)
	}
}
