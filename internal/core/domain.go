package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Expense Direction = "expense"
	Income  Direction = "income"
)

const (
	Once    RecurrenceKind = "once"
	Daily   RecurrenceKind = "daily"
	Weekly  RecurrenceKind = "weekly"
	Monthly RecurrenceKind = "monthly"
	Yearly  RecurrenceKind = "yearly"
)

const (
	SchedulePending   ScheduleStatus = "pending"
	ScheduleCompleted ScheduleStatus = "completed"
	ScheduleFailed    ScheduleStatus = "failed"
)

const (
	OutcomeCompleted LogOutcome = "completed"
	OutcomeFailed    LogOutcome = "failed"
	OutcomeSkipped   LogOutcome = "skipped"
)

type (
	Direction      string
	RecurrenceKind string
	ScheduleStatus string
	LogOutcome     string

	Date struct {
		time.Time
	}

	Wallet struct {
		ID        int64
		OwnerID   int64
		Currency  string
		Balance   decimal.Decimal
		Default   bool
		Active    bool
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	Transaction struct {
		ID         int64
		WalletID   int64
		UserID     int64
		Direction  Direction
		CategoryID int64
		Amount     decimal.Decimal
		OccurredAt time.Time
		Note       string

		// Set when the transaction pushed a budget over its limit.
		ExceededBudgetID *int64
		ExceededAmount   decimal.Decimal

		// Preserved when a merge converted this transaction into another currency.
		OriginalAmount   decimal.Decimal
		OriginalCurrency string
		ExchangeRate     decimal.Decimal
	}

	Budget struct {
		ID         int64
		OwnerID    int64
		CategoryID int64
		WalletID   *int64 // nil means the budget covers all wallets
		Limit      decimal.Decimal
		StartDate  Date
		EndDate    Date
		Note       string
		CreatedAt  time.Time
	}

	ScheduledTransaction struct {
		ID         int64
		OwnerID    int64
		WalletID   int64
		CategoryID int64
		Direction  Direction
		Amount     decimal.Decimal
		Note       string

		Kind       RecurrenceKind
		DayOfWeek  int // 1=Monday .. 7=Sunday, weekly only
		DayOfMonth int // monthly and yearly
		Month      int // yearly only
		TimeOfDay  string
		EndDate    Date // zero means no end date
		NextDue    Date

		Status         ScheduleStatus
		CompletedCount int64
		FailedCount    int64
		CreatedAt      time.Time
	}

	ScheduleLog struct {
		ID            int64
		ScheduleID    int64
		Outcome       LogOutcome
		Message       string
		Amount        decimal.Decimal
		BalanceBefore decimal.Decimal
		BalanceAfter  decimal.Decimal
		ExecutedAt    time.Time
	}
)

// NewDate creates a Date from year, month, day in UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a timestamp to its calendar date.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// ISOWeekday returns the weekday with Monday=1 .. Sunday=7.
func (d Date) ISOWeekday() int {
	wd := int(d.Time.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// AddDays returns the date n days later.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Time.Format("2006-01-02")
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (dir Direction) Validate() error {
	switch dir {
	case Expense, Income:
		return nil
	default:
		return ErrInvalidDirection
	}
}

// Signed returns the amount with the sign the ledger applies to the balance:
// income positive, expense negative.
func (dir Direction) Signed(amount decimal.Decimal) decimal.Decimal {
	if dir == Expense {
		return amount.Neg()
	}
	return amount
}

func (w Wallet) Validate() error {
	if w.OwnerID <= 0 {
		return ErrInvalidOwner
	}
	if !ValidCurrency(w.Currency) {
		return ErrInvalidCurrency
	}
	if w.Balance.IsNegative() {
		return ErrInvalidAmount
	}
	return nil
}

func (t Transaction) Validate() error {
	if t.WalletID <= 0 || t.UserID <= 0 || t.CategoryID <= 0 {
		return ErrInvalidReference
	}
	if err := t.Direction.Validate(); err != nil {
		return err
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if t.OccurredAt.IsZero() {
		return ErrInvalidDate
	}
	if len(t.Note) > 500 {
		return ErrNoteTooLong
	}
	return nil
}

func (b Budget) Validate() error {
	if b.OwnerID <= 0 || b.CategoryID <= 0 {
		return ErrInvalidReference
	}
	if !b.Limit.IsPositive() {
		return ErrInvalidAmount
	}
	if err := b.StartDate.Validate(); err != nil {
		return err
	}
	if err := b.EndDate.Validate(); err != nil {
		return err
	}
	if b.EndDate.Before(b.StartDate.Time) {
		return ErrInvalidDateRange
	}
	if len(b.Note) > 500 {
		return ErrNoteTooLong
	}
	return nil
}

// InWindow reports whether a date falls inside the budget's closed interval.
// Only the calendar date matters, never the time of day.
func (b Budget) InWindow(d Date) bool {
	return !d.Before(b.StartDate.Time) && !d.After(b.EndDate.Time)
}

// Covers reports whether the budget applies to movements on the given wallet.
func (b Budget) Covers(walletID int64) bool {
	return b.WalletID == nil || *b.WalletID == walletID
}

func (s ScheduledTransaction) Validate() error {
	if s.OwnerID <= 0 || s.WalletID <= 0 || s.CategoryID <= 0 {
		return ErrInvalidReference
	}
	if err := s.Direction.Validate(); err != nil {
		return err
	}
	if !s.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if err := s.NextDue.Validate(); err != nil {
		return err
	}
	if _, err := ParseTimeOfDay(s.TimeOfDay); err != nil {
		return err
	}
	if !s.EndDate.IsZero() && s.EndDate.Before(s.NextDue.Time) {
		return ErrInvalidDateRange
	}
	if len(s.Note) > 500 {
		return ErrNoteTooLong
	}

	switch s.Kind {
	case Once, Daily:
		return nil
	case Weekly:
		if s.DayOfWeek < 1 || s.DayOfWeek > 7 {
			return ErrInvalidRecurrence
		}
	case Monthly:
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return ErrInvalidRecurrence
		}
	case Yearly:
		if s.Month < 1 || s.Month > 12 {
			return ErrInvalidRecurrence
		}
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return ErrInvalidRecurrence
		}
	default:
		return ErrInvalidRecurrence
	}
	return nil
}

// ParseTimeOfDay parses an HH:MM execution time and returns minutes from midnight.
func ParseTimeOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, ErrInvalidTimeOfDay
	}
	return t.Hour()*60 + t.Minute(), nil
}
