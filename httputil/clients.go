package httputil

import (
	"net/http"
	"time"
)

// Clients holds the shared HTTP connection pools. API-driven adapters share
// one pool; enrichment/healthcheck traffic uses a separate short-timeout
// client so slow company sites never starve ingestion.
type Clients struct {
	API      *http.Client
	Probing  *http.Client
}

func NewClients() *Clients {
	return &Clients{
		API: &http.Client{
			Timeout: 30 * time.Second,
		},
		Probing: &http.Client{
			Timeout: 15 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// UserAgents rotated per browsing/scraping session.
var UserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}
