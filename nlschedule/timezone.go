package nlschedule

import (
	"regexp"
	"strings"
)

// tzEntry links an IANA identifier with the informal name used when
// rendering descriptions ("Eastern Time" reads better than
// "America/New_York").
type tzEntry struct {
	ID       string
	Informal string
}

// Abbreviation lookup. Ambiguous abbreviations (IST, CST) resolve to their
// most common reading.
var tzAbbrevs = map[string]tzEntry{
	"utc":  {"UTC", "UTC"},
	"gmt":  {"UTC", "GMT"},
	"est":  {"America/New_York", "Eastern Time"},
	"edt":  {"America/New_York", "Eastern Time"},
	"cst":  {"America/Chicago", "Central Time"},
	"cdt":  {"America/Chicago", "Central Time"},
	"mst":  {"America/Denver", "Mountain Time"},
	"mdt":  {"America/Denver", "Mountain Time"},
	"pst":  {"America/Los_Angeles", "Pacific Time"},
	"pdt":  {"America/Los_Angeles", "Pacific Time"},
	"bst":  {"Europe/London", "UK Time"},
	"cet":  {"Europe/Paris", "Central European Time"},
	"cest": {"Europe/Paris", "Central European Time"},
	"ist":  {"Asia/Kolkata", "India Time"},
	"jst":  {"Asia/Tokyo", "Japan Time"},
	"aest": {"Australia/Sydney", "Sydney Time"},
	"aedt": {"Australia/Sydney", "Sydney Time"},
}

// "in <city>" phrases
var tzCities = map[string]tzEntry{
	"new york":      {"America/New_York", "New York time"},
	"boston":        {"America/New_York", "Boston time"},
	"chicago":       {"America/Chicago", "Chicago time"},
	"denver":        {"America/Denver", "Denver time"},
	"los angeles":   {"America/Los_Angeles", "Los Angeles time"},
	"san francisco": {"America/Los_Angeles", "San Francisco time"},
	"seattle":       {"America/Los_Angeles", "Seattle time"},
	"london":        {"Europe/London", "London time"},
	"paris":         {"Europe/Paris", "Paris time"},
	"berlin":        {"Europe/Berlin", "Berlin time"},
	"amsterdam":     {"Europe/Amsterdam", "Amsterdam time"},
	"tokyo":         {"Asia/Tokyo", "Tokyo time"},
	"singapore":     {"Asia/Singapore", "Singapore time"},
	"sydney":        {"Australia/Sydney", "Sydney time"},
	"dubai":         {"Asia/Dubai", "Dubai time"},
	"mumbai":        {"Asia/Kolkata", "Mumbai time"},
}

var tzAbbrevRe = buildAbbrevRe()

func buildAbbrevRe() *regexp.Regexp {
	abbrevs := make([]string, 0, len(tzAbbrevs))
	for a := range tzAbbrevs {
		abbrevs = append(abbrevs, a)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(abbrevs, "|") + `)\b`)
}

var tzCityRe = buildCityRe()

func buildCityRe() *regexp.Regexp {
	cities := make([]string, 0, len(tzCities))
	for c := range tzCities {
		cities = append(cities, c)
	}
	return regexp.MustCompile(`(?i)\bin\s+(` + strings.Join(cities, "|") + `)\b`)
}

// extractTimezone detects a timezone abbreviation or an "in <city>" phrase.
// The matched text is stripped from the returned string so it cannot
// confuse the time/frequency/day extractors (e.g. "mst" containing no
// digits is harmless, but "in london" would otherwise leave "london"
// behind for the day matcher to trip on).
func extractTimezone(text string) (tz tzEntry, ok bool, remainder string) {
	if m := tzCityRe.FindStringSubmatchIndex(text); m != nil {
		city := strings.ToLower(text[m[2]:m[3]])
		entry := tzCities[city]
		return entry, true, text[:m[0]] + text[m[1]:]
	}

	if m := tzAbbrevRe.FindStringIndex(text); m != nil {
		abbrev := strings.ToLower(text[m[0]:m[1]])
		entry := tzAbbrevs[abbrev]
		return entry, true, text[:m[0]] + text[m[1]:]
	}

	return tzEntry{}, false, text
}

// informalTimezoneName returns the informal name for an IANA identifier,
// falling back to the identifier itself.
func informalTimezoneName(id string) string {
	for _, e := range tzAbbrevs {
		if e.ID == id {
			return e.Informal
		}
	}
	for _, e := range tzCities {
		if e.ID == id {
			return e.Informal
		}
	}
	return id
}
