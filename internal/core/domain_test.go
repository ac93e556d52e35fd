package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestScheduledTransactionValidate(t *testing.T) {
	base := ScheduledTransaction{
		OwnerID:    1,
		WalletID:   1,
		CategoryID: 1,
		Direction:  Expense,
		Amount:     decimal.NewFromInt(10),
		TimeOfDay:  "09:00",
		NextDue:    NewDate(2024, 1, 15),
	}

	tests := []struct {
		name    string
		mutate  func(*ScheduledTransaction)
		wantErr error
	}{
		{
			name:   "daily needs no parameters",
			mutate: func(s *ScheduledTransaction) { s.Kind = Daily },
		},
		{
			name:   "weekly with valid day",
			mutate: func(s *ScheduledTransaction) { s.Kind = Weekly; s.DayOfWeek = 7 },
		},
		{
			name:    "weekly with day out of range",
			mutate:  func(s *ScheduledTransaction) { s.Kind = Weekly; s.DayOfWeek = 8 },
			wantErr: ErrInvalidRecurrence,
		},
		{
			name:   "monthly with valid day",
			mutate: func(s *ScheduledTransaction) { s.Kind = Monthly; s.DayOfMonth = 31 },
		},
		{
			name:    "monthly with day zero",
			mutate:  func(s *ScheduledTransaction) { s.Kind = Monthly },
			wantErr: ErrInvalidRecurrence,
		},
		{
			name:   "yearly with valid month and day",
			mutate: func(s *ScheduledTransaction) { s.Kind = Yearly; s.Month = 2; s.DayOfMonth = 29 },
		},
		{
			name:    "yearly with month out of range",
			mutate:  func(s *ScheduledTransaction) { s.Kind = Yearly; s.Month = 13; s.DayOfMonth = 1 },
			wantErr: ErrInvalidRecurrence,
		},
		{
			name:    "unknown kind",
			mutate:  func(s *ScheduledTransaction) { s.Kind = "hourly" },
			wantErr: ErrInvalidRecurrence,
		},
		{
			name:    "bad time of day",
			mutate:  func(s *ScheduledTransaction) { s.Kind = Daily; s.TimeOfDay = "25:00" },
			wantErr: ErrInvalidTimeOfDay,
		},
		{
			name:    "end date before first run",
			mutate:  func(s *ScheduledTransaction) { s.Kind = Daily; s.EndDate = NewDate(2024, 1, 10) },
			wantErr: ErrInvalidDateRange,
		},
		{
			name:    "zero amount",
			mutate:  func(s *ScheduledTransaction) { s.Kind = Daily; s.Amount = decimal.Zero },
			wantErr: ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == nil && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBudgetWindowAndScope(t *testing.T) {
	walletID := int64(3)
	b := Budget{
		ID:         1,
		OwnerID:    1,
		CategoryID: 2,
		WalletID:   &walletID,
		Limit:      decimal.NewFromInt(100),
		StartDate:  NewDate(2024, 1, 1),
		EndDate:    NewDate(2024, 1, 31),
	}

	if !b.InWindow(NewDate(2024, 1, 1)) || !b.InWindow(NewDate(2024, 1, 31)) {
		t.Error("budget window must be inclusive on both ends")
	}
	if b.InWindow(NewDate(2023, 12, 31)) || b.InWindow(NewDate(2024, 2, 1)) {
		t.Error("dates outside the range must not match")
	}

	if !b.Covers(3) || b.Covers(4) {
		t.Error("wallet-scoped budget must only cover its wallet")
	}
	b.WalletID = nil
	if !b.Covers(4) {
		t.Error("all-wallets budget must cover any wallet")
	}
}

func TestDirectionSigned(t *testing.T) {
	amount := decimal.NewFromInt(50)
	if !Expense.Signed(amount).Equal(decimal.NewFromInt(-50)) {
		t.Error("expense must produce a negative movement")
	}
	if !Income.Signed(amount).Equal(amount) {
		t.Error("income must produce a positive movement")
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{ErrInsufficientFunds, "insufficient_funds"},
		{ErrBusy, "busy"},
		{ErrInvalidAmount, "validation"},
		{ErrInvariant, "internal"},
		{errors.New("mystery"), "internal"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.code {
			t.Errorf("ErrorCode(%v) = %q, want %q", tt.err, got, tt.code)
		}
	}

	if !Retryable(ErrBusy) || Retryable(ErrInsufficientFunds) {
		t.Error("only lock conflicts are retryable")
	}
}
