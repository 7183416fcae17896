package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var postedDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02 Jan 2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"02/01/2006",
	"01-02-2006",
}

var relativeDateRegex = regexp.MustCompile(`(?i)(\d+)\+?\s*(minute|min|hour|hr|day|week|month)s?\s+ago`)

// ParsePostedDate resolves absolute and relative posted-date text against the
// session start time. Unparseable text falls back to the session start with
// guessed=true; date absence never fails normalization.
func ParsePostedDate(text string, sessionStart time.Time) (t time.Time, guessed bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return sessionStart, true
	}

	for _, layout := range postedDateLayouts {
		if parsed, err := time.Parse(layout, text); err == nil {
			return parsed, false
		}
	}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "just now"), lower == "now", lower == "today":
		return sessionStart, false
	case lower == "yesterday":
		return sessionStart.AddDate(0, 0, -1), false
	}

	if m := relativeDateRegex.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			switch strings.ToLower(m[2]) {
			case "minute", "min":
				return sessionStart.Add(-time.Duration(n) * time.Minute), false
			case "hour", "hr":
				return sessionStart.Add(-time.Duration(n) * time.Hour), false
			case "day":
				return sessionStart.AddDate(0, 0, -n), false
			case "week":
				return sessionStart.AddDate(0, 0, -7*n), false
			case "month":
				return sessionStart.AddDate(0, -n, 0), false
			}
		}
	}

	return sessionStart, true
}
