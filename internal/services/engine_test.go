package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledgerd/internal/core"
	"ledgerd/internal/storage"
)

type fakeEngineStore struct {
	mu        sync.Mutex
	schedules map[int64]*core.ScheduledTransaction
	logs      []storage.RunRecord
}

func newFakeEngineStore(scheds ...core.ScheduledTransaction) *fakeEngineStore {
	s := &fakeEngineStore{schedules: make(map[int64]*core.ScheduledTransaction)}
	for i := range scheds {
		cp := scheds[i]
		s.schedules[cp.ID] = &cp
	}
	return s
}

func (s *fakeEngineStore) DueSchedules(_ context.Context, now time.Time) ([]core.ScheduledTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	today := core.DateOf(now)
	timeOfDay := now.Format("15:04")

	var due []core.ScheduledTransaction
	for _, sched := range s.schedules {
		if sched.Status != core.SchedulePending {
			continue
		}
		if sched.NextDue.After(today.Time) || sched.TimeOfDay > timeOfDay {
			continue
		}
		if !sched.EndDate.IsZero() && sched.EndDate.Before(today.Time) {
			continue
		}
		due = append(due, *sched)
	}
	return due, nil
}

func (s *fakeEngineStore) CompleteScheduleRun(_ context.Context, rec storage.RunRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[rec.ScheduleID]
	if !ok || sched.Status != core.SchedulePending || sched.NextDue.String() != rec.PrevNextDue.String() {
		return false, nil
	}
	if !rec.NextDue.IsZero() {
		sched.NextDue = rec.NextDue
	}
	sched.Status = rec.Status
	switch rec.Outcome {
	case core.OutcomeCompleted:
		sched.CompletedCount++
	case core.OutcomeFailed:
		sched.FailedCount++
	}
	s.logs = append(s.logs, rec)
	return true, nil
}

type fakeExecutor struct {
	mu   sync.Mutex
	err  error
	runs int
}

func (f *fakeExecutor) ExecuteScheduled(context.Context, core.ScheduledTransaction, time.Time) (decimal.Decimal, decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	if f.err != nil {
		return decimal.Zero, decimal.Zero, f.err
	}
	return decimal.RequireFromString("100"), decimal.RequireFromString("90"), nil
}

func dailySchedule(id int64, nextDue core.Date) core.ScheduledTransaction {
	return core.ScheduledTransaction{
		ID:         id,
		OwnerID:    1,
		WalletID:   1,
		CategoryID: 1,
		Direction:  core.Expense,
		Amount:     decimal.RequireFromString("10"),
		Kind:       core.Daily,
		TimeOfDay:  "00:00",
		NextDue:    nextDue,
		Status:     core.SchedulePending,
	}
}

func TestEngineTick_CompletesAndAdvances(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	store := newFakeEngineStore(dailySchedule(1, core.NewDate(2026, 6, 15)))
	exec := &fakeExecutor{}
	engine := NewScheduleEngine(store, exec, nil)

	completed, failed, skipped := engine.Tick(context.Background(), now)
	if completed != 1 || failed != 0 || skipped != 0 {
		t.Fatalf("tick = %d/%d/%d, want 1/0/0", completed, failed, skipped)
	}

	sched := store.schedules[1]
	if sched.NextDue.String() != "2026-06-16" {
		t.Errorf("next due = %s, want 2026-06-16", sched.NextDue)
	}
	if sched.CompletedCount != 1 {
		t.Errorf("completed count = %d, want 1", sched.CompletedCount)
	}
	if len(store.logs) != 1 || store.logs[0].Outcome != core.OutcomeCompleted {
		t.Fatalf("logs = %+v", store.logs)
	}
	if !store.logs[0].BalanceAfter.Equal(decimal.RequireFromString("90")) {
		t.Errorf("log balance after = %s, want 90", store.logs[0].BalanceAfter)
	}
}

func TestEngineTick_SameInstantIsIdempotent(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	store := newFakeEngineStore(dailySchedule(1, core.NewDate(2026, 6, 15)))
	exec := &fakeExecutor{}
	engine := NewScheduleEngine(store, exec, nil)

	engine.Tick(context.Background(), now)
	completed, failed, skipped := engine.Tick(context.Background(), now)
	if completed != 0 || failed != 0 || skipped != 0 {
		t.Fatalf("second tick = %d/%d/%d, want 0/0/0", completed, failed, skipped)
	}
	if exec.runs != 1 {
		t.Errorf("executor ran %d times, want 1", exec.runs)
	}
	if store.schedules[1].CompletedCount != 1 {
		t.Errorf("completed count = %d, want 1", store.schedules[1].CompletedCount)
	}
}

func TestEngineTick_FailureStillAdvances(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	store := newFakeEngineStore(dailySchedule(1, core.NewDate(2026, 6, 15)))
	exec := &fakeExecutor{err: core.ErrInsufficientFunds}
	engine := NewScheduleEngine(store, exec, nil)

	completed, failed, skipped := engine.Tick(context.Background(), now)
	if completed != 0 || failed != 1 || skipped != 0 {
		t.Fatalf("tick = %d/%d/%d, want 0/1/0", completed, failed, skipped)
	}

	sched := store.schedules[1]
	if sched.NextDue.String() != "2026-06-16" {
		t.Errorf("failed run must still advance: next due = %s", sched.NextDue)
	}
	if sched.FailedCount != 1 || sched.CompletedCount != 0 {
		t.Errorf("counters = %d/%d, want 0 completed, 1 failed", sched.CompletedCount, sched.FailedCount)
	}
	if sched.Status != core.SchedulePending {
		t.Errorf("status = %s, recurring schedules keep running after a failure", sched.Status)
	}
	if store.logs[0].Outcome != core.OutcomeFailed || store.logs[0].Message == "" {
		t.Errorf("log = %+v, want failed outcome with message", store.logs[0])
	}
}

func TestEngineTick_MissingWalletSkips(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	store := newFakeEngineStore(dailySchedule(1, core.NewDate(2026, 6, 15)))
	exec := &fakeExecutor{err: core.ErrNotFound}
	engine := NewScheduleEngine(store, exec, nil)

	completed, failed, skipped := engine.Tick(context.Background(), now)
	if completed != 0 || failed != 0 || skipped != 1 {
		t.Fatalf("tick = %d/%d/%d, want 0/0/1", completed, failed, skipped)
	}
	if store.logs[0].Outcome != core.OutcomeSkipped {
		t.Errorf("outcome = %s, want skipped", store.logs[0].Outcome)
	}
	if store.schedules[1].FailedCount != 0 {
		t.Error("a skip is not a failure")
	}
}

func TestEngineTick_OnceIsTerminal(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	once := dailySchedule(1, core.NewDate(2026, 6, 15))
	once.Kind = core.Once
	store := newFakeEngineStore(once)
	exec := &fakeExecutor{}
	engine := NewScheduleEngine(store, exec, nil)

	engine.Tick(context.Background(), now)
	if store.schedules[1].Status != core.ScheduleCompleted {
		t.Fatalf("status = %s, want completed", store.schedules[1].Status)
	}

	// Terminal schedules never come due again.
	completed, failed, skipped := engine.Tick(context.Background(), now.Add(24*time.Hour))
	if completed+failed+skipped != 0 {
		t.Fatalf("terminal schedule was re-processed: %d/%d/%d", completed, failed, skipped)
	}
}

func TestEngineTick_FailedOnceIsTerminalFailed(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	once := dailySchedule(1, core.NewDate(2026, 6, 15))
	once.Kind = core.Once
	store := newFakeEngineStore(once)
	exec := &fakeExecutor{err: errors.New("broker down")}
	engine := NewScheduleEngine(store, exec, nil)

	engine.Tick(context.Background(), now)
	if store.schedules[1].Status != core.ScheduleFailed {
		t.Fatalf("status = %s, want failed", store.schedules[1].Status)
	}
}

func TestEngineTick_EndDatedScheduleRetires(t *testing.T) {
	// Due on its end date: the occurrence itself still runs, the advanced
	// next_due lands past the end date and the schedule stops being selected.
	sched := dailySchedule(1, core.NewDate(2026, 6, 15))
	sched.EndDate = core.NewDate(2026, 6, 15)
	store := newFakeEngineStore(sched)
	exec := &fakeExecutor{}
	engine := NewScheduleEngine(store, exec, nil)

	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	completed, _, _ := engine.Tick(context.Background(), now)
	if completed != 1 {
		t.Fatalf("completed = %d, want the end-date occurrence to run", completed)
	}

	completed, failed, skipped := engine.Tick(context.Background(), now.Add(24*time.Hour))
	if completed+failed+skipped != 0 {
		t.Fatalf("retired schedule was re-processed: %d/%d/%d", completed, failed, skipped)
	}
	if exec.runs != 1 {
		t.Errorf("executor ran %d times, want 1", exec.runs)
	}
}
