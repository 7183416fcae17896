package services

import (
	"errors"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"jobharvest/config"
	"jobharvest/identity"
	"jobharvest/models"
)

// ErrDropped marks a candidate that failed mandatory-field validation. Drops
// are counted as session errors, never persisted.
var ErrDropped = errors.New("posting missing mandatory field")

// Normalizer maps raw postings into canonical Job candidates. Salary and date
// absence never block ingestion; only a missing title or source URL drops a
// candidate.
type Normalizer struct {
	defaultCurrency string
	salaryParsers   map[string]*SalaryParser
}

func NewNormalizer(cfg *config.Config) *Normalizer {
	n := &Normalizer{
		defaultCurrency: cfg.DefaultCurrency,
		salaryParsers:   make(map[string]*SalaryParser),
	}
	for id, src := range cfg.Sources {
		currency := src.Currency
		if currency == "" {
			currency = cfg.DefaultCurrency
		}
		n.salaryParsers[id] = NewSalaryParser(src.SalaryPatterns, currency)
	}
	return n
}

// Normalize produces an unsaved Job candidate from one raw posting.
// sessionStart anchors relative posted dates ("2 days ago").
func (n *Normalizer) Normalize(raw *models.RawPosting, sessionStart time.Time) (*models.Job, error) {
	title := CleanText(raw.Title)
	sourceURL := strings.TrimSpace(raw.URL)
	if title == "" || sourceURL == "" {
		return nil, ErrDropped
	}

	company := CleanText(raw.Company)
	location := CleanText(raw.Location)
	description := StripHTML(raw.Description)

	parser := n.salaryParsers[raw.Source]
	if parser == nil {
		parser = NewSalaryParser(nil, n.defaultCurrency)
	}
	salaryMin, salaryMax, currency := parser.Parse(raw.SalaryText)

	posted, guessed := ParsePostedDate(raw.PostedText, sessionStart)

	now := time.Now()
	job := &models.Job{
		ID:              uuid.New(),
		Title:           title,
		CompanyName:     company,
		Location:        location,
		City:            identity.City(location),
		Description:     description,
		Source:          raw.Source,
		SourceURL:       sourceURL,
		SalaryMin:       salaryMin,
		SalaryMax:       salaryMax,
		SalaryCurrency:  currency,
		EmploymentType:  ParseEmploymentType(raw.EmploymentType),
		ExperienceLevel: CleanText(raw.ExperienceLevel),
		Remote:          raw.Remote || InferRemote(title, location, description),
		PostedDate:      posted,
		PostedGuessed:   guessed,
		MergeKey:        identity.MergeKey(title, company, location),
		Status:          models.JobStatusActive,
		RawData:         raw.Data,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if job.ExperienceLevel == "" {
		job.ExperienceLevel = InferExperienceLevel(title, description)
	}

	return job, nil
}

// CleanText trims, replaces NBSPs and collapses internal whitespace.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	return strings.Join(strings.Fields(s), " ")
}

// StripHTML removes markup remnants from scraped descriptions.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return CleanText(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return CleanText(s)
	}
	return CleanText(doc.Text())
}

// ParseEmploymentType maps free source text onto the canonical enum. Unknown
// text stays unknown rather than guessing.
func ParseEmploymentType(text string) models.EmploymentType {
	t := strings.ToLower(strings.TrimSpace(text))
	switch {
	case t == "":
		return models.EmploymentUnknown
	case strings.Contains(t, "intern"):
		return models.EmploymentInternship
	case strings.Contains(t, "part"):
		return models.EmploymentPartTime
	case strings.Contains(t, "contract") || strings.Contains(t, "freelance"):
		return models.EmploymentContract
	case strings.Contains(t, "temp"):
		return models.EmploymentTemporary
	case strings.Contains(t, "full") || strings.Contains(t, "permanent"):
		return models.EmploymentFullTime
	default:
		return models.EmploymentUnknown
	}
}

var remoteKeywords = []string{"remote", "work from home", "wfh", "fully distributed"}

func InferRemote(title, location, description string) bool {
	blob := strings.ToLower(title + " " + location + " " + description)
	for _, kw := range remoteKeywords {
		if strings.Contains(blob, kw) {
			return true
		}
	}
	return false
}

func InferExperienceLevel(title, description string) string {
	blob := strings.ToLower(title)
	switch {
	case strings.Contains(blob, "intern"):
		return "Entry"
	case strings.Contains(blob, "junior") || strings.Contains(blob, "entry"):
		return "Entry"
	case strings.Contains(blob, "senior") || strings.Contains(blob, "sr."):
		return "Senior"
	case strings.Contains(blob, "lead") || strings.Contains(blob, "principal") || strings.Contains(blob, "head of"):
		return "Lead"
	case strings.Contains(blob, "manager") || strings.Contains(blob, "director"):
		return "Management"
	}
	if strings.Contains(strings.ToLower(description), "years of experience") {
		return "Mid-level"
	}
	return ""
}
