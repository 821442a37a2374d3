// Package textsig extracts identity signals from free-text transaction
// descriptions: vendor keyword hits, digit groups, and last-4 account
// fragments. Every other component builds on these primitives.
package textsig

import (
	"regexp"
	"sort"
	"strings"
)

var (
	last4Pattern      = regexp.MustCompile(`\d{4}`)
	digitGroupPattern = regexp.MustCompile(`\d{4,}`)
)

// KeywordTable maps a credit-card vendor to the keywords that identify it
// in transaction descriptions. Keyword matching is a case-insensitive
// substring test, which handles both Hebrew and Latin descriptions.
type KeywordTable map[string][]string

// Vendors returns the table's vendor identifiers in sorted order.
func (t KeywordTable) Vendors() []string {
	vendors := make([]string, 0, len(t))
	for vendor := range t {
		vendors = append(vendors, vendor)
	}
	sort.Strings(vendors)
	return vendors
}

// Keywords returns the keyword list for a vendor, nil when unknown.
func (t KeywordTable) Keywords(vendor string) []string {
	return t[vendor]
}

// ContainsVendor reports whether text contains any keyword of the given
// vendor. Empty text or an unknown vendor never matches.
func (t KeywordTable) ContainsVendor(text, vendor string) bool {
	if text == "" || vendor == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range t[vendor] {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// DetectVendor returns the first vendor (in sorted vendor order) whose
// keywords appear in text.
func (t KeywordTable) DetectVendor(text string) (string, bool) {
	for _, vendor := range t.Vendors() {
		if t.ContainsVendor(text, vendor) {
			return vendor, true
		}
	}
	return "", false
}

// DigitGroups returns every run of 4+ digits in text, plus each longer
// run's trailing 4 digits, deduplicated and sorted. These are the digit
// hints a repayment description may carry about the card it pays off.
func DigitGroups(text string) []string {
	if text == "" {
		return nil
	}
	seen := make(map[string]struct{})
	for _, m := range digitGroupPattern.FindAllString(text, -1) {
		seen[m] = struct{}{}
		if len(m) > 4 {
			seen[m[len(m)-4:]] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// LastDigitGroup returns the last 4-digit run in text, or "" when none.
func LastDigitGroup(text string) string {
	matches := last4Pattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1]
}

// AccountLast4 returns the trailing 4 characters of an account number,
// or the whole trimmed value when it is 4 characters or shorter.
func AccountLast4(accountNumber string) string {
	trimmed := strings.TrimSpace(accountNumber)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) > 4 {
		return trimmed[len(trimmed)-4:]
	}
	return trimmed
}
