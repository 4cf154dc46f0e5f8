// Package calendar provides civil-date arithmetic shared by the rule engine
// and the scheduling engine. Every date in this package is truncated to
// midnight UTC and is never mixed with wall-clock instants, per the
// organization's civil-day convention.
package calendar

import "time"

// Date truncates t to a civil date (midnight UTC), stripping any time
// component so two values compare equal iff they denote the same day.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// New builds a civil date directly from its components.
func New(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// IsLeapYear reports whether year is a Gregorian leap year.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// AnniversaryIn returns the calendar date of anchor's anniversary in year.
// A February 29 anchor falls back to February 28 in non-leap years; the
// leap-year override (when a state defines one) is applied only to
// post-window computations, never here.
func AnniversaryIn(year int, anchor time.Time) time.Time {
	month := anchor.Month()
	day := anchor.Day()
	if month == time.February && day == 29 && !IsLeapYear(year) {
		day = 28
	}
	return New(year, month, day)
}

// NextAnniversaryOnOrAfter returns the anniversary of anchor that falls on
// or after fromDate: the current year's anniversary if it has not yet
// passed, otherwise next year's.
func NextAnniversaryOnOrAfter(anchor, fromDate time.Time) time.Time {
	candidate := AnniversaryIn(fromDate.Year(), anchor)
	if candidate.Before(Date(fromDate)) {
		candidate = AnniversaryIn(fromDate.Year()+1, anchor)
	}
	return candidate
}

// AddDays returns date shifted by n civil days (n may be negative).
func AddDays(date time.Time, n int) time.Time {
	return Date(date).AddDate(0, 0, n)
}

// AgeOn returns the integer number of full years elapsed between birthDate
// and onDate (floor semantics: a birthday that hasn't occurred yet this
// year does not count).
func AgeOn(birthDate, onDate time.Time) int {
	birthDate = Date(birthDate)
	onDate = Date(onDate)
	age := onDate.Year() - birthDate.Year()
	anniversary := AnniversaryIn(onDate.Year(), birthDate)
	if onDate.Before(anniversary) {
		age--
	}
	return age
}

// DaysBetween returns the signed number of civil days from a to b (b - a).
func DaysBetween(a, b time.Time) int {
	return int(Date(b).Sub(Date(a)).Hours() / 24)
}

// MonthStart returns the first day of anchor's month in the given year.
func MonthStart(year int, anchor time.Time) time.Time {
	return New(year, anchor.Month(), 1)
}
