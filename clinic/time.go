/*
clinic/time.go - Calendar dates, clock times, and half-open time slots

PURPOSE:
  Scheduling works on wall-clock values in the clinic's local calendar,
  not on absolute instants. A session on "2026-03-10 09:00-10:00" means
  the same thing regardless of the server's timezone, so dates and times
  are stored as their own small value types rather than time.Time.

KEY CONCEPTS:
  - DayDate: a calendar day (no time, no zone)
  - ClockTime: minutes since midnight
  - TimeSlot: half-open interval [Start, End) on a single day

OVERLAP SEMANTICS:
  Slots are half-open: a slot ending at 10:00 does NOT conflict with one
  starting at 10:00. Two slots overlap iff a.Start < b.End && a.End > b.Start.
*/
package clinic

import (
	"fmt"
	"time"
)

// =============================================================================
// DAYDATE - A calendar day
// =============================================================================

// DayDate is a calendar day with no time-of-day or timezone component.
type DayDate struct {
	Year  int
	Month time.Month
	Day   int
}

func NewDayDate(y int, m time.Month, d int) DayDate { return DayDate{Year: y, Month: m, Day: d} }

// DateOf truncates a time.Time to its calendar day.
func DateOf(t time.Time) DayDate {
	y, m, d := t.Date()
	return DayDate{Year: y, Month: m, Day: d}
}

// ParseDayDate parses "YYYY-MM-DD".
func ParseDayDate(s string) (DayDate, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return DayDate{}, &FieldError{Field: "date", Reason: fmt.Sprintf("invalid date %q, want YYYY-MM-DD", s)}
	}
	return DateOf(t), nil
}

func (d DayDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d DayDate) IsZero() bool { return d == DayDate{} }

// Time returns the midnight instant of the day in UTC. Used only for
// arithmetic and ordering, never for display.
func (d DayDate) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d DayDate) Weekday() time.Weekday { return d.Time().Weekday() }

func (d DayDate) AddDays(n int) DayDate { return DateOf(d.Time().AddDate(0, 0, n)) }

func (d DayDate) Before(o DayDate) bool { return d.Time().Before(o.Time()) }
func (d DayDate) After(o DayDate) bool  { return d.Time().After(o.Time()) }

// Compare returns -1, 0 or +1 ordering d against o.
func (d DayDate) Compare(o DayDate) int {
	switch {
	case d.Before(o):
		return -1
	case d.After(o):
		return 1
	default:
		return 0
	}
}

// =============================================================================
// CLOCKTIME - Minutes since midnight
// =============================================================================

// ClockTime is a time of day expressed as minutes since midnight.
type ClockTime int

// NewClockTime builds a ClockTime from hour and minute.
func NewClockTime(hour, minute int) ClockTime { return ClockTime(hour*60 + minute) }

// ParseClockTime parses "HH:MM".
func ParseClockTime(s string) (ClockTime, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, &FieldError{Field: "time", Reason: fmt.Sprintf("invalid time %q, want HH:MM", s)}
	}
	return NewClockTime(h, m), nil
}

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute()) }

// Add returns the clock time n minutes later.
func (c ClockTime) Add(minutes int) ClockTime { return c + ClockTime(minutes) }

// Sub returns the difference c - o in whole minutes.
func (c ClockTime) Sub(o ClockTime) int { return int(c) - int(o) }

// =============================================================================
// TIMESLOT - Half-open interval on a single day
// =============================================================================

// TimeSlot is a half-open interval [Start, End) within one day.
type TimeSlot struct {
	Start ClockTime
	End   ClockTime
}

func NewTimeSlot(start, end ClockTime) TimeSlot { return TimeSlot{Start: start, End: end} }

// SlotFrom builds a slot of the given duration.
func SlotFrom(start ClockTime, minutes int) TimeSlot {
	return TimeSlot{Start: start, End: start.Add(minutes)}
}

func (s TimeSlot) Valid() bool { return s.End > s.Start }

func (s TimeSlot) Minutes() int { return s.End.Sub(s.Start) }

// Overlaps reports whether two half-open slots intersect. Back-to-back
// slots (one ending exactly when the other starts) do not overlap.
func (s TimeSlot) Overlaps(o TimeSlot) bool {
	return s.Start < o.End && s.End > o.Start
}

// Contains reports whether the instant t falls inside the slot.
func (s TimeSlot) Contains(t ClockTime) bool { return t >= s.Start && t < s.End }

func (s TimeSlot) String() string { return s.Start.String() + "-" + s.End.String() }
