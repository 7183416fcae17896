package scraper

import (
	"os"
	"path/filepath"
	"testing"

	"jobharvest/config"
)

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return string(data)
}

func browserTestAdapter() *BrowserAdapter {
	return &BrowserAdapter{
		cfg: &config.SourceConfig{
			ID:      "testboard",
			Kind:    "browser",
			BaseURL: "https://jobs.example.com",
			Selectors: config.SelectorMap{
				Card:     "article.job-card",
				Title:    "h2.job-title",
				Company:  "span.company",
				Location: "span.location",
				URL:      "a.job-link",
				Salary:   "span.salary",
				Posted:   "time.posted",
			},
		},
	}
}

func TestExtractPostings_Basic(t *testing.T) {
	adapter := browserTestAdapter()
	content := loadFixture(t, "job_board_page.html")

	postings, skipped := adapter.extractPostings(content)

	if len(postings) != 2 {
		t.Fatalf("expected 2 postings, got %d", len(postings))
	}
	if skipped != 1 {
		t.Fatalf("expected 1 skipped card, got %d", skipped)
	}

	first := postings[0]
	if first.Title != "Senior Software Engineer" {
		t.Fatalf("unexpected title %q", first.Title)
	}
	if first.Company != "Acme Ltd" {
		t.Fatalf("unexpected company %q", first.Company)
	}
	if first.Location != "Nairobi, Kenya" {
		t.Fatalf("unexpected location %q", first.Location)
	}
	if first.SalaryText != "KES 150,000 - 200,000" {
		t.Fatalf("unexpected salary %q", first.SalaryText)
	}
	if first.PostedText != "2 days ago" {
		t.Fatalf("unexpected posted text %q", first.PostedText)
	}
	if first.Source != "testboard" {
		t.Fatalf("posting must carry the source id, got %q", first.Source)
	}

	// Relative hrefs resolve against the source base URL.
	if first.URL != "https://jobs.example.com/listings/12345" {
		t.Fatalf("relative url not resolved: %q", first.URL)
	}
	if postings[1].URL != "https://other.example.org/j/99" {
		t.Fatalf("absolute url must pass through: %q", postings[1].URL)
	}
}

func TestExtractPostings_EmptyPage(t *testing.T) {
	adapter := browserTestAdapter()

	postings, skipped := adapter.extractPostings("<html><body><p>No results found</p></body></html>")
	if len(postings) != 0 {
		t.Fatalf("expected no postings, got %d", len(postings))
	}
	if skipped != 0 {
		t.Fatalf("expected no skips, got %d", skipped)
	}
}

func TestSearchURL_Placeholders(t *testing.T) {
	adapter := browserTestAdapter()
	adapter.cfg.Endpoints = map[string]string{
		"search": "https://jobs.example.com/jobs?q={query}&l={location}&page={page}",
	}

	got := adapter.searchURL(Search{Query: "software engineer", Location: "Nairobi"}, 3)
	want := "https://jobs.example.com/jobs?q=software+engineer&l=Nairobi&page=3"
	if got != want {
		t.Fatalf("searchURL = %q, want %q", got, want)
	}
}
