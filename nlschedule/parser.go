// Package nlschedule converts free-text schedule descriptions into cron
// expressions.
//
// The parser decomposes the input into independently-detected components
// (time-of-day, frequency, day-of-week, timezone) and combines whatever it
// found into a 5-field expression, along with a confidence score and a
// human-readable description. Callers should treat ok=false, or a low
// confidence, as "ask the user to clarify".
package nlschedule

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Parsed is the result of parsing a natural-language schedule.
type Parsed struct {
	Expr        string  `json:"expr"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Timezone    string  `json:"timezone,omitempty"` // IANA identifier

	// Component flags, used for clarification questions
	HasTime      bool `json:"has_time"`
	HasFrequency bool `json:"has_frequency"`
	HasDay       bool `json:"has_day"`
}

type timeOfDay struct {
	hour   int
	minute int
}

type freqKind int

const (
	freqEveryN freqKind = iota
	freqHourly
	freqDaily
	freqWeekly
	freqMonthly
)

type frequency struct {
	kind    freqKind
	minutes int // for freqEveryN
}

// Named time descriptors. Matched longest-first so "night" never shadows
// "midnight".
var namedTimes = map[string]timeOfDay{
	"midnight":  {0, 0},
	"morning":   {8, 0},
	"noon":      {12, 0},
	"afternoon": {14, 0},
	"evening":   {18, 0},
	"night":     {20, 0},
}

var namedTimesByLength = func() []string {
	names := make([]string, 0, len(namedTimes))
	for n := range namedTimes {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	return names
}()

var (
	re12Hour  = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	re24Hour  = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	reEveryN  = regexp.MustCompile(`\bevery\s+(\d+)\s+min(?:ute)?s?\b`)
	reHourly  = regexp.MustCompile(`\b(?:every\s+hour|hourly)\b`)
	reDaily   = regexp.MustCompile(`\b(?:every\s+day|daily)\b`)
	reWeekly  = regexp.MustCompile(`\b(?:every\s+week|weekly)\b`)
	reMonthly = regexp.MustCompile(`\b(?:every\s+month|monthly)\b`)
	reVague   = regexp.MustCompile(`\b(?:sometimes|maybe|around|occasionally|whenever)\b`)
)

// Day-of-week vocabulary: full names and abbreviations, optional plural.
var dayPatterns = []struct {
	re  *regexp.Regexp
	dow string
}{
	{regexp.MustCompile(`\bweekdays?\b`), "1-5"},
	{regexp.MustCompile(`\bweekends?\b`), "0,6"},
	{regexp.MustCompile(`\b(?:sundays?|sun)\b`), "0"},
	{regexp.MustCompile(`\b(?:mondays?|mon)\b`), "1"},
	{regexp.MustCompile(`\b(?:tuesdays?|tues?)\b`), "2"},
	{regexp.MustCompile(`\b(?:wednesdays?|weds?)\b`), "3"},
	{regexp.MustCompile(`\b(?:thursdays?|thurs?|thu)\b`), "4"},
	{regexp.MustCompile(`\b(?:fridays?|fri)\b`), "5"},
	{regexp.MustCompile(`\b(?:saturdays?|sat)\b`), "6"},
}

// Parse converts free text into a schedule expression. ok is false when no
// component could be detected at all; the caller must treat the input as
// unparseable.
func Parse(text string) (Parsed, bool) {
	raw := strings.TrimSpace(text)
	lower := strings.ToLower(raw)

	tz, tzFound, lower := extractTimezone(lower)

	tod, timeFound := extractTime(lower)
	freq, freqFound := extractFrequency(lower)
	dow, dayFound := extractDay(lower)

	expr, ok := combine(tod, timeFound, freq, freqFound, dow, dayFound)
	if !ok {
		return Parsed{}, false
	}

	p := Parsed{
		Expr:         expr,
		Confidence:   confidence(raw, lower, timeFound, freqFound, dayFound),
		HasTime:      timeFound,
		HasFrequency: freqFound,
		HasDay:       dayFound,
	}
	if tzFound {
		p.Timezone = tz.ID
		p.Description = Describe(expr) + " (" + tz.Informal + ")"
	} else {
		p.Description = Describe(expr)
	}
	return p, true
}

// extractTime finds an explicit clock time or a named descriptor.
// Explicit times win over descriptors so "every morning at 8:30am" is
// 08:30, not 08:00.
func extractTime(text string) (timeOfDay, bool) {
	if m := re12Hour.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour >= 1 && hour <= 12 && minute <= 59 {
			if m[3] == "pm" && hour != 12 {
				hour += 12
			}
			if m[3] == "am" && hour == 12 {
				hour = 0
			}
			return timeOfDay{hour, minute}, true
		}
	}

	if m := re24Hour.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour <= 23 && minute <= 59 {
			return timeOfDay{hour, minute}, true
		}
	}

	for _, name := range namedTimesByLength {
		if strings.Contains(text, name) {
			return namedTimes[name], true
		}
	}

	return timeOfDay{}, false
}

func extractFrequency(text string) (frequency, bool) {
	if m := reEveryN.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n >= 1 && n <= 59 {
			return frequency{freqEveryN, n}, true
		}
	}
	switch {
	case reHourly.MatchString(text):
		return frequency{kind: freqHourly}, true
	case reDaily.MatchString(text):
		return frequency{kind: freqDaily}, true
	case reWeekly.MatchString(text):
		return frequency{kind: freqWeekly}, true
	case reMonthly.MatchString(text):
		return frequency{kind: freqMonthly}, true
	}
	return frequency{}, false
}

func extractDay(text string) (string, bool) {
	for _, p := range dayPatterns {
		if p.re.MatchString(text) {
			return p.dow, true
		}
	}
	return "", false
}

// canonicalExpr is a frequency's default expression when no explicit time
// was given: top of hour, midnight, Sunday midnight, 1st of month midnight.
func canonicalExpr(f frequency) string {
	switch f.kind {
	case freqEveryN:
		return fmt.Sprintf("*/%d * * * *", f.minutes)
	case freqHourly:
		return "0 * * * *"
	case freqDaily:
		return "0 0 * * *"
	case freqWeekly:
		return "0 0 * * 0"
	case freqMonthly:
		return "0 0 1 * *"
	}
	return ""
}

// combine applies the priority rules:
//
//	(a) time+day, no frequency -> weekly on that day at that time
//	(b) time only              -> daily at that time
//	(c) frequency only         -> the frequency's canonical expression
//	(d) frequency+time         -> frequency expression with minute/hour
//	                              (and day, if found) overridden
//	(e) day only               -> 09:00 on that day
func combine(tod timeOfDay, timeFound bool, freq frequency, freqFound bool, dow string, dayFound bool) (string, bool) {
	switch {
	case timeFound && dayFound && !freqFound:
		return fmt.Sprintf("%d %d * * %s", tod.minute, tod.hour, dow), true

	case timeFound && !freqFound:
		return fmt.Sprintf("%d %d * * *", tod.minute, tod.hour), true

	case freqFound && !timeFound:
		expr := canonicalExpr(freq)
		if dayFound {
			fields := strings.Fields(expr)
			fields[4] = dow
			expr = strings.Join(fields, " ")
		}
		return expr, true

	case freqFound && timeFound:
		fields := strings.Fields(canonicalExpr(freq))
		fields[0] = strconv.Itoa(tod.minute)
		fields[1] = strconv.Itoa(tod.hour)
		if dayFound {
			fields[4] = dow
		}
		return strings.Join(fields, " "), true

	case dayFound:
		return fmt.Sprintf("0 9 * * %s", dow), true
	}

	return "", false
}

// confidence scores how sure we are about the parse: base 0.5, bonuses for
// each detected component, penalties for vague qualifiers and very short
// input, clamped to [0, 1].
func confidence(raw, lowered string, timeFound, freqFound, dayFound bool) float64 {
	score := 0.5
	if timeFound {
		score += 0.2
	}
	if freqFound {
		score += 0.15
	}
	if dayFound {
		score += 0.15
	}
	if reVague.MatchString(lowered) {
		score -= 0.3
	}
	if len(strings.Fields(raw)) < 3 {
		score -= 0.1
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// ClarifyQuestion inspects which components are missing from a parse and
// asks specifically for them. Returns "" when nothing needs clarifying.
func ClarifyQuestion(p Parsed) string {
	switch {
	case !p.HasTime && !p.HasFrequency && !p.HasDay:
		return "When should this run? For example 'every day at 9am' or 'every 30 minutes'."
	case !p.HasTime && !p.HasFrequency:
		// Day only: the schedule defaulted to 09:00, confirm the time
		return "What time of day should this run?"
	case !p.HasFrequency && !p.HasDay:
		return "How often should this run? Every day, or only on certain days?"
	}
	return ""
}
