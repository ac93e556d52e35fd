// Package storage persists the ledger domain in SQLite. The repository is
// deliberately dumb about concurrency: serialization of balance mutations is
// the ledger's job, storage only guarantees durable, transactional writes.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"ledgerd/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

const timestampLayout = time.RFC3339Nano

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ---- wallets ----

func (r *SQLiteRepository) CreateWallet(ctx context.Context, w *core.Wallet) error {
	if err := w.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if w.Default {
		if _, err := tx.ExecContext(ctx,
			`UPDATE wallets SET is_default = 0 WHERE owner_id = ?`, w.OwnerID); err != nil {
			return fmt.Errorf("clear default flags: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO wallets (owner_id, currency, balance, is_default, active)
		 VALUES (?, ?, ?, ?, 1)`,
		w.OwnerID, w.Currency, w.Balance, w.Default)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("wallet id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	w.ID = id
	w.Active = true

	slog.InfoContext(ctx, "Wallet created",
		"wallet_id", w.ID,
		"owner_id", w.OwnerID,
		"currency", w.Currency)
	return nil
}

func (r *SQLiteRepository) GetWallet(ctx context.Context, walletID int64) (*core.Wallet, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, currency, balance, is_default, active, created_at, updated_at
		 FROM wallets WHERE id = ? AND active = 1`, walletID)
	return scanWallet(row)
}

// WalletForUpdate implements ledger.Store. Row-level exclusivity comes from
// the ledger's per-wallet lock; here it is a plain read.
func (r *SQLiteRepository) WalletForUpdate(ctx context.Context, walletID int64) (*core.Wallet, error) {
	return r.GetWallet(ctx, walletID)
}

func (r *SQLiteRepository) UpdateWalletBalance(ctx context.Context, walletID int64, balance decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE wallets SET balance = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND active = 1`,
		balance, walletID)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// AddWalletMember grants a user shared access to a wallet.
func (r *SQLiteRepository) AddWalletMember(ctx context.Context, walletID, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO wallet_members (wallet_id, user_id) VALUES (?, ?)`,
		walletID, userID)
	if err != nil {
		return fmt.Errorf("add wallet member: %w", err)
	}
	return nil
}

// HasWalletAccess reports whether the user owns the wallet or is a member.
func (r *SQLiteRepository) HasWalletAccess(ctx context.Context, walletID, userID int64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wallets w
		 LEFT JOIN wallet_members m ON m.wallet_id = w.id AND m.user_id = ?
		 WHERE w.id = ? AND w.active = 1 AND (w.owner_id = ? OR m.user_id IS NOT NULL)`,
		userID, walletID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check wallet access: %w", err)
	}
	return n > 0, nil
}

// IsWalletOwner reports whether the user is the wallet's owner.
func (r *SQLiteRepository) IsWalletOwner(ctx context.Context, walletID, userID int64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wallets WHERE id = ? AND owner_id = ? AND active = 1`,
		walletID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check wallet owner: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*core.Wallet, error) {
	var (
		w                    core.Wallet
		createdAt, updatedAt string
	)
	err := row.Scan(&w.ID, &w.OwnerID, &w.Currency, &w.Balance, &w.Default, &w.Active, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	w.CreatedAt = parseTimestamp(createdAt)
	w.UpdatedAt = parseTimestamp(updatedAt)
	return &w, nil
}

// ---- categories ----

func (r *SQLiteRepository) CreateCategory(ctx context.Context, ownerID int64, name string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (owner_id, name, active) VALUES (?, ?, 1)`, ownerID, name)
	if err != nil {
		return 0, fmt.Errorf("insert category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("category id: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) CategoryExists(ctx context.Context, categoryID int64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM categories WHERE id = ? AND active = 1`, categoryID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check category: %w", err)
	}
	return n > 0, nil
}

// ---- transactions ----

func (r *SQLiteRepository) CreateTransaction(ctx context.Context, t *core.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (wallet_id, user_id, direction, category_id, amount, occurred_at, note)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.WalletID, t.UserID, string(t.Direction), t.CategoryID, t.Amount,
		formatTimestamp(t.OccurredAt), t.Note)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("transaction id: %w", err)
	}
	t.ID = id

	slog.InfoContext(ctx, "Transaction saved",
		"transaction_id", t.ID,
		"wallet_id", t.WalletID,
		"direction", t.Direction,
		"amount", t.Amount)
	return nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, transactionID int64) (*core.Transaction, error) {
	var (
		t          core.Transaction
		direction  string
		occurredAt string
		budgetID   sql.NullInt64
		exceeded   decimal.NullDecimal
		origAmount decimal.NullDecimal
		origCurr   sql.NullString
		rate       decimal.NullDecimal
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, wallet_id, user_id, direction, category_id, amount, occurred_at, note,
		        exceeded_budget_id, exceeded_amount, original_amount, original_currency, exchange_rate
		 FROM transactions WHERE id = ?`, transactionID).Scan(
		&t.ID, &t.WalletID, &t.UserID, &direction, &t.CategoryID, &t.Amount, &occurredAt, &t.Note,
		&budgetID, &exceeded, &origAmount, &origCurr, &rate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	t.Direction = core.Direction(direction)
	t.OccurredAt = parseTimestamp(occurredAt)
	if budgetID.Valid {
		t.ExceededBudgetID = &budgetID.Int64
		t.ExceededAmount = exceeded.Decimal
	}
	if origAmount.Valid {
		t.OriginalAmount = origAmount.Decimal
		t.OriginalCurrency = origCurr.String
		t.ExchangeRate = rate.Decimal
	}
	return &t, nil
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, transactionID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, transactionID)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// UpdateTransactionDetails corrects note and category. Amount and direction
// are immutable after commit; changing those means delete plus re-create.
func (r *SQLiteRepository) UpdateTransactionDetails(ctx context.Context, transactionID int64, note string, categoryID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET note = ?, category_id = ? WHERE id = ?`,
		note, categoryID, transactionID)
	if err != nil {
		return fmt.Errorf("update transaction details: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) MarkTransactionExceeded(ctx context.Context, transactionID, budgetID int64, overage decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET exceeded_budget_id = ?, exceeded_amount = ? WHERE id = ?`,
		budgetID, overage, transactionID)
	if err != nil {
		return fmt.Errorf("mark transaction exceeded: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// SpentInWindow implements budget.Store. Only the calendar date of a
// transaction decides window membership, both boundary dates inclusive.
func (r *SQLiteRepository) SpentInWindow(ctx context.Context, ownerID, categoryID int64, walletID *int64, start, end core.Date) (decimal.Decimal, error) {
	// Summed in Go rather than with SUM(): amounts are stored as decimal
	// text and sqlite would sum them as floats.
	query := `SELECT amount FROM transactions
	          WHERE user_id = ? AND category_id = ? AND direction = 'expense'
	            AND date(occurred_at) >= ? AND date(occurred_at) <= ?`
	args := []any{ownerID, categoryID, start.String(), end.String()}
	if walletID != nil {
		query += ` AND wallet_id = ?`
		args = append(args, *walletID)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("query spending: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("scan amount: %w", err)
		}
		sum = sum.Add(amount)
	}
	return sum, rows.Err()
}

// ---- budgets ----

func (r *SQLiteRepository) CreateBudget(ctx context.Context, b *core.Budget) error {
	if err := b.Validate(); err != nil {
		return err
	}

	var walletID any
	if b.WalletID != nil {
		walletID = *b.WalletID
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO budgets (owner_id, category_id, wallet_id, amount_limit, start_date, end_date, note, active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		b.OwnerID, b.CategoryID, walletID, b.Limit, b.StartDate.String(), b.EndDate.String(), b.Note)
	if err != nil {
		return fmt.Errorf("insert budget: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("budget id: %w", err)
	}
	b.ID = id

	slog.InfoContext(ctx, "Budget created",
		"budget_id", b.ID,
		"owner_id", b.OwnerID,
		"category_id", b.CategoryID,
		"limit", b.Limit)
	return nil
}

func (r *SQLiteRepository) ApplicableBudgets(ctx context.Context, ownerID, categoryID, walletID int64, date core.Date) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_id, category_id, wallet_id, amount_limit, start_date, end_date, note, created_at
		 FROM budgets
		 WHERE owner_id = ? AND category_id = ? AND active = 1
		   AND (wallet_id IS NULL OR wallet_id = ?)
		   AND start_date <= ? AND end_date >= ?
		 ORDER BY id`,
		ownerID, categoryID, walletID, date.String(), date.String())
	if err != nil {
		return nil, fmt.Errorf("query applicable budgets: %w", err)
	}
	defer rows.Close()

	var budgets []core.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, *b)
	}
	return budgets, rows.Err()
}

func scanBudget(row rowScanner) (*core.Budget, error) {
	var (
		b                         core.Budget
		walletID                  sql.NullInt64
		startDate, endDate, created string
	)
	if err := row.Scan(&b.ID, &b.OwnerID, &b.CategoryID, &walletID, &b.Limit,
		&startDate, &endDate, &b.Note, &created); err != nil {
		return nil, fmt.Errorf("scan budget: %w", err)
	}
	if walletID.Valid {
		b.WalletID = &walletID.Int64
	}
	var err error
	if b.StartDate, err = core.ParseDate(startDate); err != nil {
		return nil, fmt.Errorf("budget %d start date: %w", b.ID, err)
	}
	if b.EndDate, err = core.ParseDate(endDate); err != nil {
		return nil, fmt.Errorf("budget %d end date: %w", b.ID, err)
	}
	b.CreatedAt = parseTimestamp(created)
	return &b, nil
}

// DuplicateBudgetExists implements budget.Store: identical owner, category,
// wallet scope and date range.
func (r *SQLiteRepository) DuplicateBudgetExists(ctx context.Context, b core.Budget) (bool, error) {
	query := `SELECT COUNT(*) FROM budgets
	          WHERE owner_id = ? AND category_id = ? AND active = 1
	            AND start_date = ? AND end_date = ?`
	args := []any{b.OwnerID, b.CategoryID, b.StartDate.String(), b.EndDate.String()}
	if b.WalletID == nil {
		query += ` AND wallet_id IS NULL`
	} else {
		query += ` AND wallet_id = ?`
		args = append(args, *b.WalletID)
	}

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("check duplicate budget: %w", err)
	}
	return n > 0, nil
}

// OverlappingBudgetExists implements budget.Store. Ranges overlap when
// existingStart <= newEnd and existingEnd >= newStart; an all-wallets budget
// overlaps any wallet scope.
func (r *SQLiteRepository) OverlappingBudgetExists(ctx context.Context, b core.Budget) (bool, error) {
	query := `SELECT COUNT(*) FROM budgets
	          WHERE owner_id = ? AND category_id = ? AND active = 1
	            AND start_date <= ? AND end_date >= ?`
	args := []any{b.OwnerID, b.CategoryID, b.EndDate.String(), b.StartDate.String()}
	if b.WalletID != nil {
		query += ` AND (wallet_id IS NULL OR wallet_id = ?)`
		args = append(args, *b.WalletID)
	}

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("check overlapping budget: %w", err)
	}
	return n > 0, nil
}

// WalletHasActiveBudgets reports whether any active budget is scoped to the
// wallet. Merging such a wallet away requires explicit acknowledgment.
func (r *SQLiteRepository) WalletHasActiveBudgets(ctx context.Context, walletID int64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM budgets WHERE wallet_id = ? AND active = 1`, walletID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check wallet budgets: %w", err)
	}
	return n > 0, nil
}

// ---- scheduled transactions ----

func (r *SQLiteRepository) CreateSchedule(ctx context.Context, s *core.ScheduledTransaction) error {
	if err := s.Validate(); err != nil {
		return err
	}

	var endDate any
	if !s.EndDate.IsZero() {
		endDate = s.EndDate.String()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO scheduled_transactions
		 (owner_id, wallet_id, category_id, direction, amount, note, kind,
		  day_of_week, day_of_month, month, time_of_day, end_date, next_due, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending')`,
		s.OwnerID, s.WalletID, s.CategoryID, string(s.Direction), s.Amount, s.Note, string(s.Kind),
		s.DayOfWeek, s.DayOfMonth, s.Month, s.TimeOfDay, endDate, s.NextDue.String())
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("schedule id: %w", err)
	}
	s.ID = id
	s.Status = core.SchedulePending

	slog.InfoContext(ctx, "Schedule created",
		"schedule_id", s.ID,
		"kind", s.Kind,
		"next_due", s.NextDue.String())
	return nil
}

func (r *SQLiteRepository) GetSchedule(ctx context.Context, scheduleID int64) (*core.ScheduledTransaction, error) {
	row := r.db.QueryRowContext(ctx, scheduleSelect+` WHERE id = ?`, scheduleID)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	return s, err
}

// DeleteSchedule removes a schedule; its execution logs cascade.
func (r *SQLiteRepository) DeleteSchedule(ctx context.Context, scheduleID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_transactions WHERE id = ?`, scheduleID)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

const scheduleSelect = `SELECT id, owner_id, wallet_id, category_id, direction, amount, note, kind,
       day_of_week, day_of_month, month, time_of_day, end_date, next_due, status,
       completed_count, failed_count
  FROM scheduled_transactions`

// DueSchedules selects the work for one engine tick: pending schedules whose
// next-due date has arrived, whose execution time of day has passed, and
// whose end date has not.
func (r *SQLiteRepository) DueSchedules(ctx context.Context, now time.Time) ([]core.ScheduledTransaction, error) {
	today := core.DateOf(now).String()
	timeOfDay := now.Format("15:04")

	rows, err := r.db.QueryContext(ctx, scheduleSelect+`
		 WHERE status = 'pending'
		   AND next_due <= ?
		   AND time_of_day <= ?
		   AND (end_date IS NULL OR end_date >= ?)
		 ORDER BY id`,
		today, timeOfDay, today)
	if err != nil {
		return nil, fmt.Errorf("query due schedules: %w", err)
	}
	defer rows.Close()

	var due []core.ScheduledTransaction
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, *s)
	}
	return due, rows.Err()
}

func scanSchedule(row rowScanner) (*core.ScheduledTransaction, error) {
	var (
		s                 core.ScheduledTransaction
		direction, kind   string
		status            string
		endDate           sql.NullString
		nextDue           string
	)
	err := row.Scan(&s.ID, &s.OwnerID, &s.WalletID, &s.CategoryID, &direction, &s.Amount, &s.Note, &kind,
		&s.DayOfWeek, &s.DayOfMonth, &s.Month, &s.TimeOfDay, &endDate, &nextDue, &status,
		&s.CompletedCount, &s.FailedCount)
	if err != nil {
		return nil, err
	}
	s.Direction = core.Direction(direction)
	s.Kind = core.RecurrenceKind(kind)
	s.Status = core.ScheduleStatus(status)
	if endDate.Valid {
		if s.EndDate, err = core.ParseDate(endDate.String); err != nil {
			return nil, fmt.Errorf("schedule %d end date: %w", s.ID, err)
		}
	}
	if s.NextDue, err = core.ParseDate(nextDue); err != nil {
		return nil, fmt.Errorf("schedule %d next due: %w", s.ID, err)
	}
	return &s, nil
}

// RunRecord captures one schedule execution: the state transition and the
// log row, committed together.
type RunRecord struct {
	ScheduleID    int64
	PrevNextDue   core.Date
	NextDue       core.Date // zero leaves next_due unchanged (terminal one-off schedules)
	Status        core.ScheduleStatus
	Outcome       core.LogOutcome
	Message       string
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	ExecutedAt    time.Time
}

// CompleteScheduleRun advances the schedule and appends its execution log in
// one transaction. The update is guarded on the previous next-due date: if
// another tick already processed this occurrence, nothing is written and
// applied is false. That guard is what makes the engine idempotent.
func (r *SQLiteRepository) CompleteScheduleRun(ctx context.Context, rec RunRecord) (applied bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	nextDue := rec.PrevNextDue.String()
	if !rec.NextDue.IsZero() {
		nextDue = rec.NextDue.String()
	}
	completedInc, failedInc := 0, 0
	switch rec.Outcome {
	case core.OutcomeCompleted:
		completedInc = 1
	case core.OutcomeFailed:
		failedInc = 1
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE scheduled_transactions
		 SET next_due = ?, status = ?,
		     completed_count = completed_count + ?,
		     failed_count = failed_count + ?
		 WHERE id = ? AND status = 'pending' AND next_due = ?`,
		nextDue, string(rec.Status), completedInc, failedInc,
		rec.ScheduleID, rec.PrevNextDue.String())
	if err != nil {
		return false, fmt.Errorf("advance schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// someone else already processed this occurrence
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO scheduled_transaction_logs
		 (schedule_id, outcome, message, amount, balance_before, balance_after, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ScheduleID, string(rec.Outcome), rec.Message, rec.Amount,
		rec.BalanceBefore, rec.BalanceAfter, formatTimestamp(rec.ExecutedAt)); err != nil {
		return false, fmt.Errorf("append schedule log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (r *SQLiteRepository) ScheduleLogs(ctx context.Context, scheduleID int64) ([]core.ScheduleLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, schedule_id, outcome, message, amount, balance_before, balance_after, executed_at
		 FROM scheduled_transaction_logs WHERE schedule_id = ? ORDER BY id`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("query schedule logs: %w", err)
	}
	defer rows.Close()

	var logs []core.ScheduleLog
	for rows.Next() {
		var (
			l          core.ScheduleLog
			outcome    string
			executedAt string
		)
		if err := rows.Scan(&l.ID, &l.ScheduleID, &outcome, &l.Message,
			&l.Amount, &l.BalanceBefore, &l.BalanceAfter, &executedAt); err != nil {
			return nil, fmt.Errorf("scan schedule log: %w", err)
		}
		l.Outcome = core.LogOutcome(outcome)
		l.ExecutedAt = parseTimestamp(executedAt)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ---- merge ----

// MergeParams describes the multi-row merge mutation. Balance math happens
// in the merge service under the two-wallet lock; this method only persists
// the result atomically.
type MergeParams struct {
	SourceID          int64
	TargetID          int64
	TargetBalance     decimal.Decimal
	Rate              decimal.Decimal
	SourceCurrency    string
	Converted         bool
	MakeTargetDefault bool
}

// MergeWallets reassigns the source wallet's history to the target, updates
// the target balance, and deactivates the source in a single transaction.
// Returns the number of reassigned transactions.
func (r *SQLiteRepository) MergeWallets(ctx context.Context, p MergeParams) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var reassigned int64
	if p.Converted {
		// Each reassigned row keeps its original amount, currency and the
		// applied rate for audit; the stored amount becomes the converted one.
		rows, err := tx.QueryContext(ctx,
			`SELECT id, amount FROM transactions WHERE wallet_id = ?`, p.SourceID)
		if err != nil {
			return 0, fmt.Errorf("load source transactions: %w", err)
		}
		type txAmount struct {
			id     int64
			amount decimal.Decimal
		}
		var all []txAmount
		for rows.Next() {
			var ta txAmount
			if err := rows.Scan(&ta.id, &ta.amount); err != nil {
				rows.Close()
				return 0, fmt.Errorf("scan source transaction: %w", err)
			}
			all = append(all, ta)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return 0, fmt.Errorf("iterate source transactions: %w", err)
		}

		for _, ta := range all {
			converted := core.Quantize(ta.amount.Mul(p.Rate))
			if _, err := tx.ExecContext(ctx,
				`UPDATE transactions
				 SET wallet_id = ?, amount = ?,
				     original_amount = ?, original_currency = ?, exchange_rate = ?
				 WHERE id = ?`,
				p.TargetID, converted, ta.amount, p.SourceCurrency, p.Rate, ta.id); err != nil {
				return 0, fmt.Errorf("reassign transaction %d: %w", ta.id, err)
			}
			reassigned++
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`UPDATE transactions SET wallet_id = ? WHERE wallet_id = ?`,
			p.TargetID, p.SourceID)
		if err != nil {
			return 0, fmt.Errorf("reassign transactions: %w", err)
		}
		if reassigned, err = res.RowsAffected(); err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		p.TargetBalance, p.TargetID); err != nil {
		return 0, fmt.Errorf("update target balance: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE wallets SET active = 0, is_default = 0, balance = '0', updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, p.SourceID); err != nil {
		return 0, fmt.Errorf("deactivate source wallet: %w", err)
	}

	if p.MakeTargetDefault {
		if _, err := tx.ExecContext(ctx,
			`UPDATE wallets SET is_default = (id = ?) WHERE owner_id = (SELECT owner_id FROM wallets WHERE id = ?)`,
			p.TargetID, p.TargetID); err != nil {
			return 0, fmt.Errorf("hand over default flag: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	slog.InfoContext(ctx, "Wallets merged",
		"source_wallet", p.SourceID,
		"target_wallet", p.TargetID,
		"reassigned", reassigned,
		"converted", p.Converted)
	return reassigned, nil
}
