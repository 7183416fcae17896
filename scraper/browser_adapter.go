package scraper

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"

	"jobharvest/config"
	"jobharvest/httputil"
	"jobharvest/models"
)

// BrowserAdapter drives a real rendered browser against sources without a
// usable API. Each Fetch runs in a fresh browser context with a rotated user
// agent; the browser is torn down on every exit path.
type BrowserAdapter struct {
	cfg      *config.SourceConfig
	scrape   config.ScraperConfig
	headless bool
	maxDef   int
}

func NewBrowserAdapter(src *config.SourceConfig, cfg *config.Config) *BrowserAdapter {
	return &BrowserAdapter{
		cfg:      src,
		scrape:   cfg.Scraper,
		headless: cfg.Headless,
		maxDef:   cfg.Limits.DefaultMaxResults,
	}
}

func (a *BrowserAdapter) ID() string {
	return a.cfg.ID
}

func (a *BrowserAdapter) Kind() models.AdapterKind {
	return models.AdapterBrowser
}

func (a *BrowserAdapter) Fetch(ctx context.Context, search Search) (*FetchResult, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, &FetchError{Source: a.cfg.ID, Err: fmt.Errorf("start playwright: %w", err)}
	}
	defer pw.Stop()

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(a.headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		return nil, &FetchError{Source: a.cfg.ID, Err: fmt.Errorf("launch browser: %w", err)}
	}
	defer browser.Close()

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(httputil.UserAgents[rand.Intn(len(httputil.UserAgents))]),
	})
	if err != nil {
		return nil, &FetchError{Source: a.cfg.ID, Err: fmt.Errorf("browser context: %w", err)}
	}
	defer bctx.Close()

	page, err := bctx.NewPage()
	if err != nil {
		return nil, &FetchError{Source: a.cfg.ID, Err: fmt.Errorf("new page: %w", err)}
	}

	maxResults := search.MaxResults
	if maxResults <= 0 {
		maxResults = a.cfg.MaxResults
	}
	if maxResults <= 0 {
		maxResults = a.maxDef
	}

	result := &FetchResult{}
	seen := make(map[string]bool)

	for pageNum := 1; ; pageNum++ {
		if err := ctx.Err(); err != nil {
			return result, &FetchError{Source: a.cfg.ID, Err: err}
		}

		pageURL := a.searchURL(search, pageNum)
		if err := a.navigate(ctx, page, pageURL); err != nil {
			if len(result.Postings) > 0 {
				// Keep what earlier pages produced.
				log.Printf("[%s] page %d failed after retries, stopping: %v", a.cfg.ID, pageNum, err)
				result.Errors++
				break
			}
			return result, &FetchError{Source: a.cfg.ID, Err: err}
		}

		if pageNum == 1 {
			a.handleConsent(page)
		}

		content, err := page.Content()
		if err != nil {
			return result, &FetchError{Source: a.cfg.ID, Err: fmt.Errorf("page content: %w", err)}
		}

		postings, skipped := a.extractPostings(content)
		result.Skipped += skipped

		newOnPage := 0
		for _, p := range postings {
			if seen[p.URL] {
				continue
			}
			seen[p.URL] = true
			result.Postings = append(result.Postings, p)
			newOnPage++
			if len(result.Postings) >= maxResults {
				break
			}
		}

		log.Printf("[%s] page %d: %d postings (%d new, total %d)",
			a.cfg.ID, pageNum, len(postings), newOnPage, len(result.Postings))

		if len(result.Postings) >= maxResults || newOnPage == 0 {
			break
		}
		if a.cfg.Selectors.NextPage != "" && !a.hasNextPage(page) {
			break
		}

		a.humanDelay()
	}

	return result, nil
}

// navigate loads one URL with bounded retries and backoff. Navigation errors
// on a retry exhaust into a single failure for the caller to handle.
func (a *BrowserAdapter) navigate(ctx context.Context, page playwright.Page, pageURL string) error {
	retries := a.scrape.MaxRetries
	if retries <= 0 {
		retries = 3
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, err := page.Goto(pageURL, playwright.PageGotoOptions{
			Timeout:   playwright.Float(60000),
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		})
		if err == nil {
			if a.cfg.Selectors.Card != "" {
				// Give the card list a chance to render before parsing.
				_ = page.Locator(a.cfg.Selectors.Card).First().WaitFor(playwright.LocatorWaitForOptions{
					Timeout: playwright.Float(15000),
					State:   playwright.WaitForSelectorStateAttached,
				})
			}
			return nil
		}

		lastErr = err
		log.Printf("[%s] navigation attempt %d/%d failed: %v", a.cfg.ID, attempt, retries, err)
		time.Sleep(time.Duration(attempt) * 2 * time.Second)
	}
	return fmt.Errorf("navigate %s: %w", pageURL, lastErr)
}

func (a *BrowserAdapter) searchURL(search Search, pageNum int) string {
	template := a.cfg.Endpoints["search"]
	if template == "" {
		template = a.cfg.BaseURL
	}
	replacer := strings.NewReplacer(
		"{query}", url.QueryEscape(search.Query),
		"{location}", url.QueryEscape(search.Location),
		"{page}", strconv.Itoa(pageNum),
	)
	return replacer.Replace(template)
}

func (a *BrowserAdapter) hasNextPage(page playwright.Page) bool {
	next := page.Locator(a.cfg.Selectors.NextPage).First()
	visible, err := next.IsVisible()
	return err == nil && visible
}

var defaultConsentSelectors = []string{
	"button:has-text('Accept')",
	"button:has-text('Accept All')",
	"button:has-text('I Accept')",
	"button:has-text('Agree')",
	"button[id*='accept']",
	"button[class*='consent']",
	"#didomi-notice-agree-button",
}

func (a *BrowserAdapter) handleConsent(page playwright.Page) {
	selectors := append(a.cfg.Selectors.ConsentButtons, defaultConsentSelectors...)
	for _, selector := range selectors {
		btn := page.Locator(selector).First()
		if visible, _ := btn.IsVisible(); visible {
			log.Printf("[%s] clicking consent button: %s", a.cfg.ID, selector)
			_ = btn.Click()
			page.WaitForTimeout(1500)
			return
		}
	}
}

func (a *BrowserAdapter) humanDelay() {
	delay := a.scrape.PageDelayMS
	if delay <= 0 {
		delay = 2000
	}
	jitter := a.scrape.JitterMS
	if jitter > 0 {
		delay += rand.Intn(jitter)
	}
	time.Sleep(time.Duration(delay) * time.Millisecond)
}

// extractPostings parses rendered HTML into raw postings using the source's
// selector map. A card missing its title or link is skipped and counted, not
// fatal.
func (a *BrowserAdapter) extractPostings(content string) ([]models.RawPosting, int) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		log.Printf("[%s] parse page: %v", a.cfg.ID, err)
		return nil, 1
	}

	sel := a.cfg.Selectors
	var postings []models.RawPosting
	skipped := 0

	doc.Find(sel.Card).Each(func(_ int, card *goquery.Selection) {
		posting, err := a.extractCard(card)
		if err != nil {
			skipped++
			log.Printf("[%s] %v", a.cfg.ID, err)
			return
		}
		postings = append(postings, *posting)
	})

	return postings, skipped
}

func (a *BrowserAdapter) extractCard(card *goquery.Selection) (*models.RawPosting, error) {
	sel := a.cfg.Selectors

	title := strings.TrimSpace(card.Find(sel.Title).First().Text())
	if title == "" {
		return nil, &ExtractionError{Source: a.cfg.ID, Detail: "card without title"}
	}

	linkSel := sel.URL
	if linkSel == "" {
		linkSel = "a"
	}
	href, _ := card.Find(linkSel).First().Attr("href")
	if href == "" {
		href, _ = card.Attr("href")
	}
	if href == "" {
		return nil, &ExtractionError{Source: a.cfg.ID, Detail: "card without link: " + title}
	}

	return &models.RawPosting{
		Source:         a.cfg.ID,
		Title:          title,
		Company:        strings.TrimSpace(card.Find(sel.Company).First().Text()),
		Location:       strings.TrimSpace(card.Find(sel.Location).First().Text()),
		Description:    strings.TrimSpace(card.Find(sel.Description).First().Text()),
		URL:            a.absoluteURL(href),
		SalaryText:     strings.TrimSpace(card.Find(sel.Salary).First().Text()),
		EmploymentType: strings.TrimSpace(card.Find(sel.EmploymentType).First().Text()),
		PostedText:     strings.TrimSpace(card.Find(sel.Posted).First().Text()),
	}, nil
}

func (a *BrowserAdapter) absoluteURL(href string) string {
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if parsed.IsAbs() {
		return parsed.String()
	}
	base, err := url.Parse(a.cfg.BaseURL)
	if err != nil {
		return href
	}
	return base.ResolveReference(parsed).String()
}
