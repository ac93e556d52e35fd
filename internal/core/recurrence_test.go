package core

import (
	"testing"
)

func TestDailyRule_Next(t *testing.T) {
	s := ScheduledTransaction{Kind: Daily}
	next, ok := DailyRule{}.Next(s, NewDate(2024, 1, 15))
	if !ok {
		t.Fatal("daily schedule should always have a next occurrence")
	}
	if next != NewDate(2024, 1, 16) {
		t.Errorf("DailyRule.Next() = %s, want 2024-01-16", next)
	}
}

func TestOnceRule_Next(t *testing.T) {
	s := ScheduledTransaction{Kind: Once}
	if _, ok := (OnceRule{}).Next(s, NewDate(2024, 1, 15)); ok {
		t.Error("one-off schedule must not produce another occurrence")
	}
}

func TestWeeklyRule_Next(t *testing.T) {
	tests := []struct {
		name      string
		dayOfWeek int
		after     Date
		want      Date
	}{
		{
			name:      "monday to next friday",
			dayOfWeek: 5,
			after:     NewDate(2024, 1, 15), // Monday
			want:      NewDate(2024, 1, 19),
		},
		{
			name:      "same weekday advances a full week",
			dayOfWeek: 1,
			after:     NewDate(2024, 1, 15), // Monday
			want:      NewDate(2024, 1, 22),
		},
		{
			name:      "sunday as ISO day 7",
			dayOfWeek: 7,
			after:     NewDate(2024, 1, 15),
			want:      NewDate(2024, 1, 21),
		},
		{
			name:      "crosses month boundary",
			dayOfWeek: 3,
			after:     NewDate(2024, 1, 31), // Wednesday
			want:      NewDate(2024, 2, 7),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ScheduledTransaction{Kind: Weekly, DayOfWeek: tt.dayOfWeek}
			got, ok := WeeklyRule{}.Next(s, tt.after)
			if !ok || got != tt.want {
				t.Errorf("WeeklyRule.Next() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMonthlyRule_Next(t *testing.T) {
	tests := []struct {
		name       string
		dayOfMonth int
		after      Date
		want       Date
	}{
		{
			name:       "day 31 clamps to february 29 in leap year",
			dayOfMonth: 31,
			after:      NewDate(2024, 1, 31),
			want:       NewDate(2024, 2, 29),
		},
		{
			name:       "day 31 clamps to february 28",
			dayOfMonth: 31,
			after:      NewDate(2023, 1, 31),
			want:       NewDate(2023, 2, 28),
		},
		{
			name:       "day 31 returns to 31 in march",
			dayOfMonth: 31,
			after:      NewDate(2024, 2, 29),
			want:       NewDate(2024, 3, 31),
		},
		{
			name:       "day 31 clamps to april 30",
			dayOfMonth: 31,
			after:      NewDate(2024, 3, 31),
			want:       NewDate(2024, 4, 30),
		},
		{
			name:       "mid month target later same month",
			dayOfMonth: 20,
			after:      NewDate(2024, 5, 10),
			want:       NewDate(2024, 5, 20),
		},
		{
			name:       "mid month target already passed",
			dayOfMonth: 5,
			after:      NewDate(2024, 5, 10),
			want:       NewDate(2024, 6, 5),
		},
		{
			name:       "december rolls into january",
			dayOfMonth: 15,
			after:      NewDate(2024, 12, 20),
			want:       NewDate(2025, 1, 15),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ScheduledTransaction{Kind: Monthly, DayOfMonth: tt.dayOfMonth}
			got, ok := MonthlyRule{}.Next(s, tt.after)
			if !ok || got != tt.want {
				t.Errorf("MonthlyRule.Next() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestYearlyRule_Next(t *testing.T) {
	tests := []struct {
		name       string
		month, day int
		after      Date
		want       Date
	}{
		{
			name:  "later this year",
			month: 12, day: 25,
			after: NewDate(2024, 6, 1),
			want:  NewDate(2024, 12, 25),
		},
		{
			name:  "already passed this year",
			month: 3, day: 1,
			after: NewDate(2024, 6, 1),
			want:  NewDate(2025, 3, 1),
		},
		{
			name:  "feb 29 clamps to feb 28 in non-leap year",
			month: 2, day: 29,
			after: NewDate(2024, 2, 29),
			want:  NewDate(2025, 2, 28),
		},
		{
			name:  "feb 29 stays on feb 29 entering leap year",
			month: 2, day: 29,
			after: NewDate(2027, 2, 28),
			want:  NewDate(2028, 2, 29),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ScheduledTransaction{Kind: Yearly, Month: tt.month, DayOfMonth: tt.day}
			got, ok := YearlyRule{}.Next(s, tt.after)
			if !ok || got != tt.want {
				t.Errorf("YearlyRule.Next() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNextOccurrence_EndDateRetires(t *testing.T) {
	s := ScheduledTransaction{
		Kind:    Daily,
		EndDate: NewDate(2024, 1, 15),
	}

	next, ok := NextOccurrence(s, NewDate(2024, 1, 14))
	if !ok || next != NewDate(2024, 1, 15) {
		t.Fatalf("occurrence on the end date itself should still run, got %s ok=%v", next, ok)
	}

	if _, ok := NextOccurrence(s, NewDate(2024, 1, 15)); ok {
		t.Error("occurrence past the end date should retire the schedule")
	}
}

func TestNextOccurrence_MonthlyChain(t *testing.T) {
	// Jan 31 -> Feb 29 -> Mar 31 -> Apr 30 -> May 31
	s := ScheduledTransaction{Kind: Monthly, DayOfMonth: 31}
	want := []Date{
		NewDate(2024, 2, 29),
		NewDate(2024, 3, 31),
		NewDate(2024, 4, 30),
		NewDate(2024, 5, 31),
	}

	cur := NewDate(2024, 1, 31)
	for i, w := range want {
		next, ok := NextOccurrence(s, cur)
		if !ok {
			t.Fatalf("step %d: schedule unexpectedly retired", i)
		}
		if next != w {
			t.Fatalf("step %d: got %s, want %s", i, next, w)
		}
		cur = next
	}
}

func TestRuleFor_UnknownKind(t *testing.T) {
	if _, err := RuleFor(RecurrenceKind("hourly")); err == nil {
		t.Error("expected error for unknown recurrence kind")
	}
}
