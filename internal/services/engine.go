package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"ledgerd/internal/amqp"
	"ledgerd/internal/core"
	"ledgerd/internal/storage"
)

// EngineStore is the persistence surface the scheduling engine needs.
type EngineStore interface {
	DueSchedules(ctx context.Context, now time.Time) ([]core.ScheduledTransaction, error)
	CompleteScheduleRun(ctx context.Context, rec storage.RunRecord) (applied bool, err error)
}

// ScheduleExecutor runs one occurrence of a schedule and reports the wallet
// balance around the movement. core.ErrNotFound means the target wallet is
// gone and the occurrence should be recorded as skipped.
type ScheduleExecutor interface {
	ExecuteScheduled(ctx context.Context, s core.ScheduledTransaction, now time.Time) (before, after decimal.Decimal, err error)
}

// ScheduleEngine drains due schedules on every tick. Each schedule is
// processed in isolation: one failing execution never blocks the rest of the
// batch, and every outcome advances the schedule so the same occurrence is
// never retried.
type ScheduleEngine struct {
	store    EngineStore
	executor ScheduleExecutor
	notifier Notifier
}

func NewScheduleEngine(store EngineStore, executor ScheduleExecutor, notifier Notifier) *ScheduleEngine {
	return &ScheduleEngine{
		store:    store,
		executor: executor,
		notifier: notifier,
	}
}

// Tick processes everything due at the given instant and returns how many
// schedules completed, failed and were skipped.
func (e *ScheduleEngine) Tick(ctx context.Context, now time.Time) (completed, failed, skipped int) {
	due, err := e.store.DueSchedules(ctx, now)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load due schedules", "error", err)
		return 0, 0, 0
	}
	if len(due) == 0 {
		return 0, 0, 0
	}

	slog.InfoContext(ctx, "Processing due schedules", "count", len(due))

	for _, sched := range due {
		switch outcome := e.process(ctx, sched, now); outcome {
		case core.OutcomeCompleted:
			completed++
		case core.OutcomeFailed:
			failed++
		case core.OutcomeSkipped:
			skipped++
		}
	}

	slog.InfoContext(ctx, "Schedule tick finished",
		"completed", completed,
		"failed", failed,
		"skipped", skipped)
	return completed, failed, skipped
}

// process executes one schedule occurrence and persists the state transition.
// The returned outcome is empty when another tick already handled this
// occurrence.
func (e *ScheduleEngine) process(ctx context.Context, sched core.ScheduledTransaction, now time.Time) core.LogOutcome {
	before, after, execErr := e.executor.ExecuteScheduled(ctx, sched, now)

	var outcome core.LogOutcome
	var message string
	switch {
	case execErr == nil:
		outcome = core.OutcomeCompleted
	case errors.Is(execErr, core.ErrNotFound):
		outcome = core.OutcomeSkipped
		message = "wallet no longer exists"
	default:
		outcome = core.OutcomeFailed
		message = execErr.Error()
	}

	// Advance past the current occurrence with the raw recurrence rule. The
	// computed date may lie beyond the schedule's end date; the due-schedule
	// selection excludes it then, but leaving next_due in the past would
	// re-select the same occurrence on the next tick.
	rec := storage.RunRecord{
		ScheduleID:    sched.ID,
		PrevNextDue:   sched.NextDue,
		Status:        core.SchedulePending,
		Outcome:       outcome,
		Message:       message,
		Amount:        sched.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		ExecutedAt:    now,
	}
	rule, err := core.RuleFor(sched.Kind)
	if err != nil {
		slog.ErrorContext(ctx, "Schedule has unknown recurrence kind",
			"schedule_id", sched.ID,
			"kind", sched.Kind)
		return ""
	}
	if next, ok := rule.Next(sched, sched.NextDue); ok {
		rec.NextDue = next
	} else {
		// One-off schedules are terminal after their single run.
		rec.Status = core.ScheduleCompleted
		if outcome == core.OutcomeFailed {
			rec.Status = core.ScheduleFailed
		}
	}

	applied, err := e.store.CompleteScheduleRun(ctx, rec)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to record schedule run",
			"schedule_id", sched.ID,
			"outcome", outcome,
			"error", err)
		return outcome
	}
	if !applied {
		slog.DebugContext(ctx, "Schedule occurrence already processed elsewhere",
			"schedule_id", sched.ID,
			"next_due", sched.NextDue.String())
		return ""
	}

	if execErr != nil {
		slog.WarnContext(ctx, "Schedule execution did not complete",
			"schedule_id", sched.ID,
			"outcome", outcome,
			"error", execErr)
	} else {
		slog.InfoContext(ctx, "Schedule executed",
			"schedule_id", sched.ID,
			"amount", sched.Amount,
			"balance_after", after)
	}

	e.notifyOutcome(ctx, sched, outcome, message)
	return outcome
}

func (e *ScheduleEngine) notifyOutcome(ctx context.Context, sched core.ScheduledTransaction, outcome core.LogOutcome, message string) {
	if e.notifier == nil {
		return
	}
	payload := map[string]string{
		"schedule_id": strconv.FormatInt(sched.ID, 10),
		"outcome":     string(outcome),
		"amount":      sched.Amount.String(),
	}
	if message != "" {
		payload["message"] = message
	}
	n := amqp.NewNotification(sched.OwnerID, amqp.TypeScheduleOutcome, payload)
	if err := e.notifier.Publish(ctx, n); err != nil {
		slog.WarnContext(ctx, "Failed to publish schedule notification",
			"schedule_id", sched.ID,
			"error", err)
	}
}
