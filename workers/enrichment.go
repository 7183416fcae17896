package workers

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"jobharvest/models"
	"jobharvest/storage"
)

// EnrichmentWorker fills in company profiles for companies referenced by
// ingested postings. It visits the company website (when one can be guessed
// from posting raw data or found via the posting page) and extracts contact
// and profile details.
type EnrichmentWorker struct {
	store      *storage.PostgresStore
	httpClient *http.Client
	triggerCh  chan struct{}
	logFunc    LogFunc
}

func NewEnrichmentWorker(store *storage.PostgresStore, client *http.Client) *EnrichmentWorker {
	return &EnrichmentWorker{
		store:      store,
		httpClient: client,
		triggerCh:  make(chan struct{}, 1),
		logFunc:    NoOpLogger,
	}
}

func (w *EnrichmentWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// Trigger causes the worker to run a batch immediately.
func (w *EnrichmentWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run starts the enrichment loop.
func (w *EnrichmentWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Enrichment worker stopping")
			return
		case <-ticker.C:
			w.processBatch(ctx, batchSize)
		case <-w.triggerCh:
			log.Println("Enrichment worker triggered manually")
			w.processBatch(ctx, batchSize)
		}
	}
}

func (w *EnrichmentWorker) processBatch(ctx context.Context, batchSize int) {
	companies, err := w.store.ListUnenrichedCompanies(ctx, batchSize)
	if err != nil {
		log.Printf("Enrichment: query error: %v", err)
		return
	}
	if len(companies) == 0 {
		return
	}

	log.Printf("Enrichment: processing %d companies", len(companies))

	enriched := 0
	for _, company := range companies {
		if err := w.enrichCompany(ctx, company); err != nil {
			log.Printf("Enrichment: %s: %v", company.Name, err)
		} else {
			enriched++
		}

		// Be polite between company sites.
		time.Sleep(500 * time.Millisecond)
	}

	if enriched > 0 {
		w.logFunc(models.LogLevelInfo, "enrichment",
			fmt.Sprintf("enriched %d of %d companies", enriched, len(companies)))
	}
}

// enrichCompany resolves a website, scrapes the profile and writes the result.
// A company whose site cannot be found is still stamped enriched so the batch
// query stops retrying it.
func (w *EnrichmentWorker) enrichCompany(ctx context.Context, company *models.Company) error {
	now := time.Now()
	company.EnrichedAt = &now

	site := company.Website
	if site == "" {
		site = w.findCompanyWebsite(ctx, company)
	}
	if site == "" {
		return w.store.UpdateCompany(ctx, company)
	}
	company.Website = site

	profile, err := w.fetchProfile(ctx, site)
	if err != nil {
		if updateErr := w.store.UpdateCompany(ctx, company); updateErr != nil {
			return updateErr
		}
		return err
	}

	if company.Description == "" {
		company.Description = profile.Description
	}
	if company.Email == "" {
		company.Email = profile.Email
	}
	if company.Industry == "" {
		company.Industry = profile.Industry
	}
	if company.Location == "" {
		company.Location = profile.Location
	}

	return w.store.UpdateCompany(ctx, company)
}

// companyProfile is what one website visit yields.
type companyProfile struct {
	Description string
	Email       string
	Industry    string
	Location    string
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

func (w *EnrichmentWorker) fetchProfile(ctx context.Context, site string) (*companyProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, site, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	profile := &companyProfile{}

	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		profile.Description = strings.TrimSpace(desc)
	}
	if profile.Description == "" {
		if desc, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok {
			profile.Description = strings.TrimSpace(desc)
		}
	}

	// mailto links are the most reliable contact signal; fall back to a scan
	// of the page text.
	doc.Find(`a[href^="mailto:"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if emailRegex.MatchString(addr) {
			profile.Email = addr
			return false
		}
		return true
	})
	if profile.Email == "" {
		if m := emailRegex.FindString(doc.Text()); m != "" {
			profile.Email = m
		}
	}

	return profile, nil
}

// findCompanyWebsite guesses the company site from the most recent posting's
// raw payload. Many API sources carry a company URL field the normalizer has
// no column for, so it survives only in raw_data.
func (w *EnrichmentWorker) findCompanyWebsite(ctx context.Context, company *models.Company) string {
	var raw []byte
	err := w.store.Pool().QueryRow(ctx, `
		SELECT raw_data FROM jobs
		WHERE company_name = $1 AND raw_data IS NOT NULL
		ORDER BY created_at DESC
		LIMIT 1`, company.Name).Scan(&raw)
	if err != nil || len(raw) == 0 {
		return ""
	}

	for _, key := range []string{"company_url", "company_website", "employer_website", "homepage"} {
		if site := jsonStringField(raw, key); site != "" {
			if parsed, err := url.Parse(site); err == nil && parsed.Scheme != "" {
				return site
			}
		}
	}
	return ""
}

var jsonStringFieldRegex = map[string]*regexp.Regexp{}

func jsonStringField(raw []byte, key string) string {
	re, ok := jsonStringFieldRegex[key]
	if !ok {
		re = regexp.MustCompile(`"` + key + `"\s*:\s*"([^"]+)"`)
		jsonStringFieldRegex[key] = re
	}
	if m := re.FindSubmatch(raw); m != nil {
		return string(m[1])
	}
	return ""
}
