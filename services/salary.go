package services

import (
	"regexp"
	"strconv"
	"strings"
)

// Salary text is source-controlled free text; parsing is best effort by
// contract. Unparseable text yields nil min/max and the fallback currency,
// never an error.

var defaultSalaryPatterns = []string{
	// "150,000 - 200,000", "80k – 100k", "1000 to 2000"
	`(?i)([\d,]+(?:\.\d+)?)\s*(k)?\s*(?:-|–|—|to)\s*[^\d]{0,5}?([\d,]+(?:\.\d+)?)\s*(k)?`,
	// "120,000+"
	`([\d,]+(?:\.\d+)?)\s*(k)?\s*\+`,
	// bare figure
	`([\d,]+(?:\.\d+)?)\s*(k)?`,
}

var (
	isoCurrencyRegex = regexp.MustCompile(`(?i)\b(KES|KSH|USD|EUR|GBP|CAD|AUD|INR|NGN|ZAR|TZS|UGX)\b`)
	currencySymbols  = []struct {
		symbol string
		code   string
	}{
		{"$", "USD"},
		{"£", "GBP"},
		{"€", "EUR"},
		{"₹", "INR"},
		{"₦", "NGN"},
	}
	currencyAliases = map[string]string{"KSH": "KES"}
)

type SalaryParser struct {
	patterns []*regexp.Regexp
	fallback string
}

// NewSalaryParser compiles source-specific patterns plus the shared defaults.
// Custom pattern contract: group 1 = min, group 3 (or 2 if only two groups)
// = max; an optional "k" group multiplies by 1000.
func NewSalaryParser(custom []string, fallbackCurrency string) *SalaryParser {
	p := &SalaryParser{fallback: fallbackCurrency}
	for _, raw := range custom {
		if re, err := regexp.Compile(raw); err == nil {
			p.patterns = append(p.patterns, re)
		}
	}
	for _, raw := range defaultSalaryPatterns {
		p.patterns = append(p.patterns, regexp.MustCompile(raw))
	}
	return p
}

// Parse extracts numeric min/max and an ISO currency code from free salary
// text.
func (p *SalaryParser) Parse(text string) (min, max *float64, currency string) {
	currency = p.detectCurrency(text)
	if strings.TrimSpace(text) == "" {
		return nil, nil, currency
	}

	for _, re := range p.patterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		values := extractAmounts(m)
		if len(values) == 0 {
			continue
		}
		min = &values[0]
		if len(values) > 1 {
			max = &values[1]
		}
		return min, max, currency
	}

	return nil, nil, currency
}

func (p *SalaryParser) detectCurrency(text string) string {
	if m := isoCurrencyRegex.FindString(text); m != "" {
		code := strings.ToUpper(m)
		if alias, ok := currencyAliases[code]; ok {
			return alias
		}
		return code
	}
	for _, c := range currencySymbols {
		if strings.Contains(text, c.symbol) {
			return c.code
		}
	}
	return p.fallback
}

// extractAmounts walks capture groups pairing each numeric group with an
// optional trailing "k" multiplier group.
func extractAmounts(groups []string) []float64 {
	var out []float64
	for i := 1; i < len(groups); i++ {
		g := strings.ReplaceAll(groups[i], ",", "")
		v, err := strconv.ParseFloat(g, 64)
		if err != nil {
			continue
		}
		if i+1 < len(groups) && strings.EqualFold(groups[i+1], "k") {
			v *= 1000
		}
		out = append(out, v)
	}
	return out
}
