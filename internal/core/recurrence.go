// This file implements the Strategy Pattern for computing the next occurrence
// of a scheduled transaction. Each recurrence kind (daily, weekly, monthly,
// yearly) has its own rule that encapsulates the date arithmetic, including
// clamping to the last valid day of short months.

package core

import (
	"fmt"
	"time"
)

// OccurrenceRule is the strategy interface for advancing a schedule.
// Next returns the first occurrence strictly after the given date, or
// ok=false when the schedule never recurs.
type OccurrenceRule interface {
	Next(s ScheduledTransaction, after Date) (next Date, ok bool)
}

// OnceRule implements OccurrenceRule for one-off schedules.
type OnceRule struct{}

// Next never yields another occurrence; a one-off schedule is terminal after
// its single execution.
func (OnceRule) Next(ScheduledTransaction, Date) (Date, bool) {
	return Date{}, false
}

// DailyRule implements OccurrenceRule for daily schedules.
type DailyRule struct{}

func (DailyRule) Next(_ ScheduledTransaction, after Date) (Date, bool) {
	return after.AddDays(1), true
}

// WeeklyRule implements OccurrenceRule for weekly schedules.
type WeeklyRule struct{}

// Next returns the first date after the given one whose ISO weekday matches
// the schedule's DayOfWeek (1=Monday .. 7=Sunday).
func (WeeklyRule) Next(s ScheduledTransaction, after Date) (Date, bool) {
	d := after.AddDays(1)
	for d.ISOWeekday() != s.DayOfWeek {
		d = d.AddDays(1)
	}
	return d, true
}

// MonthlyRule implements OccurrenceRule for monthly schedules.
type MonthlyRule struct{}

// Next returns the next month boundary whose day equals DayOfMonth, clamped
// to the last valid day when the target month is shorter. A schedule on the
// 31st therefore runs on Feb 28 (29 in leap years) and Apr 30.
func (MonthlyRule) Next(s ScheduledTransaction, after Date) (Date, bool) {
	year, month := after.Year(), after.Month()
	for {
		candidate := clampedDate(year, month, s.DayOfMonth)
		if candidate.After(after.Time) {
			return candidate, true
		}
		month++
		if month > 12 {
			month = 1
			year++
		}
	}
}

// YearlyRule implements OccurrenceRule for yearly schedules.
type YearlyRule struct{}

// Next returns the next occurrence of Month/DayOfMonth, advancing by whole
// years. Feb 29 clamps to Feb 28 in non-leap years.
func (YearlyRule) Next(s ScheduledTransaction, after Date) (Date, bool) {
	year := after.Year()
	for {
		candidate := clampedDate(year, s.Month, s.DayOfMonth)
		if candidate.After(after.Time) {
			return candidate, true
		}
		year++
	}
}

// clampedDate builds a date, pulling the day back to the last valid day of
// the month when needed.
func clampedDate(year, month, day int) Date {
	lastDay := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > lastDay {
		day = lastDay
	}
	return NewDate(year, month, day)
}

// occurrenceRules maps recurrence kinds to their corresponding rules.
var occurrenceRules = map[RecurrenceKind]OccurrenceRule{
	Once:    OnceRule{},
	Daily:   DailyRule{},
	Weekly:  WeeklyRule{},
	Monthly: MonthlyRule{},
	Yearly:  YearlyRule{},
}

// RuleFor returns the occurrence rule for a recurrence kind.
func RuleFor(kind RecurrenceKind) (OccurrenceRule, error) {
	rule, ok := occurrenceRules[kind]
	if !ok {
		return nil, fmt.Errorf("unknown recurrence kind: %s", kind)
	}
	return rule, nil
}

// RegisterRule allows registering custom rules for new recurrence kinds.
func RegisterRule(kind RecurrenceKind, rule OccurrenceRule) {
	occurrenceRules[kind] = rule
}

// NextOccurrence advances a schedule past the given date. ok is false when
// the schedule is retired: either it is one-off, or the computed occurrence
// falls after its end date.
func NextOccurrence(s ScheduledTransaction, after Date) (Date, bool) {
	rule, err := RuleFor(s.Kind)
	if err != nil {
		return Date{}, false
	}
	next, ok := rule.Next(s, after)
	if !ok {
		return Date{}, false
	}
	if !s.EndDate.IsZero() && next.After(s.EndDate.Time) {
		return Date{}, false
	}
	return next, true
}
