package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"jobharvest/config"
	"jobharvest/models"
)

// APIAdapter fetches postings from sources exposing a JSON search API. Field
// extraction is driven entirely by the source's configured field map, so new
// API sources are YAML-only.
type APIAdapter struct {
	cfg     *config.SourceConfig
	client  *http.Client
	limiter *rate.Limiter
	maxDef  int
}

func NewAPIAdapter(src *config.SourceConfig, cfg *config.Config, client *http.Client) *APIAdapter {
	perSecond := src.RatePerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	return &APIAdapter{
		cfg:     src,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		maxDef:  cfg.Limits.DefaultMaxResults,
	}
}

func (a *APIAdapter) ID() string {
	return a.cfg.ID
}

func (a *APIAdapter) Kind() models.AdapterKind {
	return models.AdapterAPI
}

func (a *APIAdapter) Fetch(ctx context.Context, search Search) (*FetchResult, error) {
	maxResults := search.MaxResults
	if maxResults <= 0 {
		maxResults = a.cfg.MaxResults
	}
	if maxResults <= 0 {
		maxResults = a.maxDef
	}

	perPage := a.cfg.Pagination.PerPage
	if perPage <= 0 {
		perPage = 20
	}

	result := &FetchResult{}
	seen := make(map[string]bool)

	page := 1
	if a.cfg.Pagination.StartAtZero {
		page = 0
	}

	for {
		if err := a.limiter.Wait(ctx); err != nil {
			return result, &FetchError{Source: a.cfg.ID, Err: err}
		}

		items, err := a.fetchPage(ctx, search, page, perPage)
		if err != nil {
			if len(result.Postings) > 0 {
				log.Printf("[%s] page %d failed, keeping %d postings: %v",
					a.cfg.ID, page, len(result.Postings), err)
				result.Errors++
				return result, nil
			}
			return result, err
		}

		newOnPage := 0
		for _, item := range items {
			posting, err := a.extractItem(item)
			if err != nil {
				result.Skipped++
				log.Printf("[%s] %v", a.cfg.ID, err)
				continue
			}
			if seen[posting.URL] {
				continue
			}
			seen[posting.URL] = true
			result.Postings = append(result.Postings, *posting)
			newOnPage++
			if len(result.Postings) >= maxResults {
				return result, nil
			}
		}

		log.Printf("[%s] page %d: %d items (%d new, total %d)",
			a.cfg.ID, page, len(items), newOnPage, len(result.Postings))

		// Partial or empty page means the source ran out of results.
		if len(items) < perPage || newOnPage == 0 {
			return result, nil
		}
		page++
	}
}

func (a *APIAdapter) fetchPage(ctx context.Context, search Search, page, perPage int) ([]json.RawMessage, error) {
	endpoint := a.cfg.Endpoints["search"]
	if endpoint == "" {
		return nil, &FetchError{Source: a.cfg.ID, Err: fmt.Errorf("no search endpoint configured")}
	}

	reqURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, &FetchError{Source: a.cfg.ID, Err: fmt.Errorf("parse endpoint: %w", err)}
	}

	params := reqURL.Query()
	params.Set("q", search.Query)
	if search.Location != "" {
		params.Set("location", search.Location)
	}
	pageParam := a.cfg.Pagination.PageParam
	if pageParam == "" {
		pageParam = "page"
	}
	params.Set(pageParam, strconv.Itoa(page))
	if a.cfg.Pagination.PerPageParam != "" {
		params.Set(a.cfg.Pagination.PerPageParam, strconv.Itoa(perPage))
	}
	for k, v := range a.cfg.Auth.Params {
		params.Set(k, v)
	}
	reqURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, &FetchError{Source: a.cfg.ID, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if a.cfg.Auth.Header != "" && a.cfg.Auth.Token != "" {
		req.Header.Set(a.cfg.Auth.Header, a.cfg.Auth.Token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: a.cfg.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &FetchError{Source: a.cfg.ID, Err: fmt.Errorf("auth rejected: HTTP %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{Source: a.cfg.ID,
			Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Source: a.cfg.ID, Err: err}
	}

	return a.resultsArray(body)
}

// resultsArray locates the results array: either the configured results key
// (dotted path supported) or the response root.
func (a *APIAdapter) resultsArray(body []byte) ([]json.RawMessage, error) {
	raw := json.RawMessage(body)
	if key := a.cfg.Fields.Results; key != "" {
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, &FetchError{Source: a.cfg.ID, Err: fmt.Errorf("decode response: %w", err)}
		}
		for _, part := range strings.Split(key, ".") {
			next, ok := doc[part]
			if !ok {
				return nil, &FetchError{Source: a.cfg.ID, Err: fmt.Errorf("results key %q missing", key)}
			}
			raw = next
			doc = nil
			if err := json.Unmarshal(next, &doc); err != nil {
				break // leaf reached
			}
		}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &FetchError{Source: a.cfg.ID, Err: fmt.Errorf("results is not an array: %w", err)}
	}
	return items, nil
}

func (a *APIAdapter) extractItem(item json.RawMessage) (*models.RawPosting, error) {
	var doc map[string]any
	if err := json.Unmarshal(item, &doc); err != nil {
		return nil, &ExtractionError{Source: a.cfg.ID, Detail: "item is not an object", Err: err}
	}

	f := a.cfg.Fields
	title := fieldString(doc, f.Title)
	if title == "" {
		return nil, &ExtractionError{Source: a.cfg.ID, Detail: "item without title"}
	}
	link := fieldString(doc, f.URL)
	if link == "" {
		return nil, &ExtractionError{Source: a.cfg.ID, Detail: "item without url: " + title}
	}

	salary := fieldString(doc, f.Salary)
	if salary == "" {
		// Sources with structured salary fields get synthesized text the
		// salary parser already understands.
		min := fieldString(doc, f.SalaryMin)
		max := fieldString(doc, f.SalaryMax)
		currency := fieldString(doc, f.SalaryCurrency)
		switch {
		case min != "" && max != "":
			salary = strings.TrimSpace(currency + " " + min + " - " + max)
		case min != "":
			salary = strings.TrimSpace(currency + " " + min + "+")
		}
	}

	return &models.RawPosting{
		Source:          a.cfg.ID,
		Title:           title,
		Company:         fieldString(doc, f.Company),
		Location:        fieldString(doc, f.Location),
		Description:     fieldString(doc, f.Description),
		URL:             link,
		SalaryText:      salary,
		EmploymentType:  fieldString(doc, f.EmploymentType),
		ExperienceLevel: fieldString(doc, f.ExperienceLevel),
		PostedText:      fieldString(doc, f.Posted),
		Data:            item,
	}, nil
}

// fieldString resolves a dotted path ("company.display_name") into a string.
// Numbers are formatted without an exponent so salary fields survive.
func fieldString(doc map[string]any, path string) string {
	if path == "" {
		return ""
	}

	var current any = doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = obj[part]
		if !ok {
			return ""
		}
	}

	switch v := current.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}
