// Package cronexpr evaluates 5-field cron schedule expressions.
//
// Expressions use the standard crontab grammar: minute, hour, day-of-month,
// month, day-of-week, with wildcards, lists, ranges and step values.
// Descriptor forms ("@hourly", "@every 5m") are deliberately rejected so
// that every stored expression has exactly one canonical shape.
package cronexpr

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/attuneai/chime/errors"
)

// parser accepts exactly the five standard fields, no seconds, no descriptors
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse compiles an expression into a schedule.
// Returns ErrInvalidExpression for anything that is not a valid 5-field
// cron expression.
func Parse(expr string) (cron.Schedule, error) {
	if fields := strings.Fields(expr); len(fields) != 5 {
		return nil, errors.Wrapf(errors.ErrInvalidExpression,
			"%q has %d fields, want 5", expr, len(strings.Fields(expr)))
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidExpression, "%q: %v", expr, err)
	}
	return sched, nil
}

// Validate reports whether expr is a valid 5-field cron expression
func Validate(expr string) bool {
	_, err := Parse(expr)
	return err == nil
}

// Next returns the next strictly-future trigger instant after from,
// evaluated in the given timezone. The result is expressed in that
// timezone. A nil location means from's own location.
func Next(expr string, from time.Time, loc *time.Location) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	if loc != nil {
		from = from.In(loc)
	}
	return sched.Next(from), nil
}

// IsDue reports whether a scheduled instant t exists with
// lastRun-minute < t <= now-minute. Comparison is at minute granularity;
// seconds are ignored. This yields catch-up semantics: a slot missed while
// the scheduler was not running fires on the next check, and a job already
// fired for the current minute does not fire twice.
//
// A zero lastRun (never run) is treated as one minute before now, so a
// fresh job fires only when the current minute matches its schedule.
func IsDue(expr string, lastRun, now time.Time) (bool, error) {
	sched, err := Parse(expr)
	if err != nil {
		return false, err
	}

	nowMin := now.Truncate(time.Minute)
	var lastMin time.Time
	if lastRun.IsZero() {
		lastMin = nowMin.Add(-time.Minute)
	} else {
		lastMin = lastRun.Truncate(time.Minute)
	}
	if !lastMin.Before(nowMin) {
		// Same minute as the last trigger (or clock went backwards):
		// nothing can be due without double-firing.
		return false, nil
	}

	// Next is strictly after its argument, so next > lastRun-minute holds
	// by construction; due iff next <= now-minute.
	next := sched.Next(lastMin)
	return !next.After(nowMin), nil
}
