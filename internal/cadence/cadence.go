// Package cadence maps calendar dates onto the 3-tier snapshot cadence.
//
// Recent dates are tracked daily, moderately old dates are smoothed to
// weekly buckets (Mondays), and everything older collapses to monthly
// buckets (first of month) back to the epoch. This bounds the stored
// snapshot count to roughly 30 + 9 + 12*years instead of one row set per
// calendar day.
package cadence

import "time"

// Cadence identifies the granularity tier a snapshot date belongs to.
type Cadence string

const (
	Daily   Cadence = "daily"
	Weekly  Cadence = "weekly"
	Monthly Cadence = "monthly"
)

const (
	// DailyWindowDays covers days 0-29 from today, inclusive.
	DailyWindowDays = 30
	// WeeklyWindowDays covers days 30-89 from today, inclusive.
	WeeklyWindowDays = 60
)

// Epoch is the earliest supported snapshot date. Requests before it clamp here.
var Epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Snapshot is a required snapshot date tagged with its cadence tier.
type Snapshot struct {
	Date    time.Time
	Cadence Cadence
}

// Resolve maps a requested date to its effective snapshot date and cadence,
// relative to the given "today". All comparisons happen at UTC midnight.
//
// Boundaries (inclusive):
//
//	daily   [today-29, today]      effective = requested
//	weekly  [today-89, today-30]   effective = Monday on or before requested
//	monthly [Epoch,    today-90]   effective = first of month
//
// Future dates are treated as today (daily); dates before Epoch clamp to
// Epoch (monthly).
func Resolve(requested, today time.Time) (time.Time, Cadence) {
	requested = Midnight(requested)
	today = Midnight(today)

	if requested.Before(Epoch) {
		return Epoch, Monthly
	}
	if requested.After(today) {
		return today, Daily
	}

	dailyCutoff := today.AddDate(0, 0, -(DailyWindowDays - 1))
	weeklyCutoff := today.AddDate(0, 0, -(DailyWindowDays + WeeklyWindowDays - 1))

	if !requested.Before(dailyCutoff) {
		return requested, Daily
	}
	if !requested.Before(weeklyCutoff) {
		return MondayOf(requested), Weekly
	}
	return FirstOfMonth(requested), Monthly
}

// Midnight truncates t to UTC midnight.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MondayOf returns the Monday on or before d.
func MondayOf(d time.Time) time.Time {
	d = Midnight(d)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// FirstOfMonth returns the first day of the month containing d.
func FirstOfMonth(d time.Time) time.Time {
	d = Midnight(d)
	return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// RequiredDaily returns the dates inside the daily window, newest first.
func RequiredDaily(today time.Time) []time.Time {
	today = Midnight(today)
	dates := make([]time.Time, 0, DailyWindowDays)
	for i := 0; i < DailyWindowDays; i++ {
		dates = append(dates, today.AddDate(0, 0, -i))
	}
	return dates
}

// RequiredWeekly returns the Mondays covering the weekly window, newest first.
func RequiredWeekly(today time.Time) []time.Time {
	today = Midnight(today)
	weeklyStart := today.AddDate(0, 0, -DailyWindowDays)
	weeklyEnd := today.AddDate(0, 0, -(DailyWindowDays + WeeklyWindowDays - 1))

	var dates []time.Time
	for cur := MondayOf(weeklyStart); !cur.Before(weeklyEnd); cur = cur.AddDate(0, 0, -7) {
		if !cur.After(weeklyStart) {
			dates = append(dates, cur)
		}
	}
	return dates
}

// RequiredMonthly returns first-of-month dates from the monthly boundary back
// to Epoch, newest first. A limit of 0 means unlimited; a positive limit caps
// the count for backfill batching.
func RequiredMonthly(today time.Time, limit int) []time.Time {
	today = Midnight(today)
	boundary := today.AddDate(0, 0, -(DailyWindowDays + WeeklyWindowDays))

	var dates []time.Time
	for cur := FirstOfMonth(boundary); !cur.Before(Epoch); cur = FirstOfMonth(cur.AddDate(0, 0, -1)) {
		dates = append(dates, cur)
		if limit > 0 && len(dates) >= limit {
			break
		}
	}
	return dates
}

// RequiredAll returns every required snapshot date tagged with its cadence,
// newest first within each tier, daily then weekly then monthly. The three
// windows never overlap, so the result carries no duplicate dates.
func RequiredAll(today time.Time, includeMonthly bool, monthlyLimit int) []Snapshot {
	var all []Snapshot
	for _, d := range RequiredDaily(today) {
		all = append(all, Snapshot{Date: d, Cadence: Daily})
	}
	for _, d := range RequiredWeekly(today) {
		all = append(all, Snapshot{Date: d, Cadence: Weekly})
	}
	if includeMonthly {
		for _, d := range RequiredMonthly(today, monthlyLimit) {
			all = append(all, Snapshot{Date: d, Cadence: Monthly})
		}
	}
	return all
}

// Boundaries reports the inclusive date range of each cadence tier for
// status/debug output.
type Boundaries struct {
	Today       time.Time
	DailyStart  time.Time
	DailyEnd    time.Time
	WeeklyStart time.Time
	WeeklyEnd   time.Time
	MonthlyEnd  time.Time
}

// TierBoundaries computes the window edges for the given today.
func TierBoundaries(today time.Time) Boundaries {
	today = Midnight(today)
	return Boundaries{
		Today:       today,
		DailyStart:  today,
		DailyEnd:    today.AddDate(0, 0, -(DailyWindowDays - 1)),
		WeeklyStart: today.AddDate(0, 0, -DailyWindowDays),
		WeeklyEnd:   today.AddDate(0, 0, -(DailyWindowDays + WeeklyWindowDays - 1)),
		MonthlyEnd:  Epoch,
	}
}
