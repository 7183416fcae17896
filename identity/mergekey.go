package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Cross-source duplicate detection uses exact equality of normalized fields,
// never distance scoring: ambiguous near-matches stay distinct postings.

var (
	corporateSuffixes = []string{
		"limited", "ltd", "incorporated", "inc", "corporation", "corp",
		"llc", "llp", "plc", "gmbh", "co", "group", "holdings",
	}
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^a-z0-9\s]`)
)

// MergeKey builds the normalized (title, company, city) tuple used to detect
// the same posting published on different sources.
func MergeKey(title, company, location string) string {
	return NormalizeTitle(title) + "|" + NormalizeCompany(company) + "|" + City(location)
}

// Fingerprint is a stable hex digest of the merge key, suitable for indexing.
func Fingerprint(title, company, location string) string {
	hash := sha256.Sum256([]byte(MergeKey(title, company, location)))
	return hex.EncodeToString(hash[:16])
}

// NormalizeTitle lowercases, strips punctuation and collapses whitespace.
func NormalizeTitle(title string) string {
	return normalize(title)
}

// NormalizeCompany additionally drops trailing corporate suffixes so
// "Safaricom PLC" and "Safaricom" compare equal.
func NormalizeCompany(company string) string {
	name := normalize(company)
	words := strings.Fields(name)
	for len(words) > 1 && isCorporateSuffix(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

// City reduces a free-text location to city-level granularity: the first
// comma-separated segment, normalized. "Nairobi, Kenya" and "Nairobi" match.
func City(location string) string {
	if i := strings.IndexByte(location, ','); i >= 0 {
		location = location[:i]
	}
	return normalize(location)
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnumRegex.ReplaceAllString(s, " ")
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func isCorporateSuffix(word string) bool {
	for _, s := range corporateSuffixes {
		if word == s {
			return true
		}
	}
	return false
}
