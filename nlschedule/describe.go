package nlschedule

import (
	"fmt"
	"strconv"
	"strings"
)

var dowNames = map[string]string{
	"0": "Sunday",
	"1": "Monday",
	"2": "Tuesday",
	"3": "Wednesday",
	"4": "Thursday",
	"5": "Friday",
	"6": "Saturday",
}

// Describe renders a 5-field cron expression back into a human sentence.
// It covers the expression shapes this parser generates; anything else
// falls back to quoting the expression.
func Describe(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return fmt.Sprintf("on schedule %q", expr)
	}
	minute, hour, dom, _, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	if strings.HasPrefix(minute, "*/") && hour == "*" {
		return fmt.Sprintf("every %s minutes", minute[2:])
	}

	if minute == "0" && hour == "*" {
		return "every hour, on the hour"
	}

	m, mErr := strconv.Atoi(minute)
	h, hErr := strconv.Atoi(hour)
	if mErr != nil || hErr != nil {
		return fmt.Sprintf("on schedule %q", expr)
	}
	at := clockTime(h, m)

	if dom == "1" && dow == "*" {
		return fmt.Sprintf("on the 1st of every month at %s", at)
	}

	switch dow {
	case "*":
		return fmt.Sprintf("every day at %s", at)
	case "1-5":
		return fmt.Sprintf("on weekdays at %s", at)
	case "0,6":
		return fmt.Sprintf("on weekends at %s", at)
	default:
		if name, ok := dowNames[dow]; ok {
			return fmt.Sprintf("every %s at %s", name, at)
		}
	}

	return fmt.Sprintf("on schedule %q", expr)
}

// clockTime formats an hour/minute pair as a 12-hour clock string
func clockTime(hour, minute int) string {
	suffix := "am"
	h := hour
	switch {
	case hour == 0:
		h = 12
	case hour == 12:
		suffix = "pm"
	case hour > 12:
		h = hour - 12
		suffix = "pm"
	}
	return fmt.Sprintf("%d:%02d%s", h, minute, suffix)
}
