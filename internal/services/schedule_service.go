package services

import (
	"context"
	"fmt"
	"log/slog"

	"ledgerd/internal/core"
)

// ScheduleStore is the persistence surface for schedule management.
type ScheduleStore interface {
	GetWallet(ctx context.Context, walletID int64) (*core.Wallet, error)
	HasWalletAccess(ctx context.Context, walletID, userID int64) (bool, error)
	CategoryExists(ctx context.Context, categoryID int64) (bool, error)
	CreateSchedule(ctx context.Context, s *core.ScheduledTransaction) error
	GetSchedule(ctx context.Context, scheduleID int64) (*core.ScheduledTransaction, error)
	DeleteSchedule(ctx context.Context, scheduleID int64) error
	ScheduleLogs(ctx context.Context, scheduleID int64) ([]core.ScheduleLog, error)
}

type ScheduleService struct {
	store ScheduleStore
}

func NewScheduleService(store ScheduleStore) *ScheduleService {
	return &ScheduleService{store: store}
}

// CreateSchedule registers a recurring transaction. The first due date must
// already be set on the schedule; recurrence parameters are validated against
// the kind before anything is persisted.
func (s *ScheduleService) CreateSchedule(ctx context.Context, sched *core.ScheduledTransaction) error {
	sched.Amount = core.Quantize(sched.Amount)
	if err := sched.Validate(); err != nil {
		return err
	}

	ok, err := s.store.HasWalletAccess(ctx, sched.WalletID, sched.OwnerID)
	if err != nil {
		return fmt.Errorf("check wallet access: %w", err)
	}
	if !ok {
		return core.ErrForbidden
	}
	ok, err = s.store.CategoryExists(ctx, sched.CategoryID)
	if err != nil {
		return fmt.Errorf("check category: %w", err)
	}
	if !ok {
		return fmt.Errorf("category %d: %w", sched.CategoryID, core.ErrInvalidReference)
	}

	return s.store.CreateSchedule(ctx, sched)
}

// DeleteSchedule removes a schedule and its execution history. Only the
// schedule's owner may delete it; already-executed transactions stay.
func (s *ScheduleService) DeleteSchedule(ctx context.Context, ownerID, scheduleID int64) error {
	sched, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	if sched.OwnerID != ownerID {
		return core.ErrForbidden
	}

	if err := s.store.DeleteSchedule(ctx, scheduleID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Schedule deleted",
		"schedule_id", scheduleID,
		"owner_id", ownerID)
	return nil
}

// History returns the execution log of a schedule, oldest first.
func (s *ScheduleService) History(ctx context.Context, ownerID, scheduleID int64) ([]core.ScheduleLog, error) {
	sched, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if sched.OwnerID != ownerID {
		return nil, core.ErrForbidden
	}
	return s.store.ScheduleLogs(ctx, scheduleID)
}
