package repo

import (
	"context"
	"database/sql"

	"upkeep/internal/domain"
)

const executionColumns = `id,recurring_id,execution_number,scheduled_at,scheduled_day,status,email_sent,work_order_id,work_order_number,created_at,updated_at`

func scanExecution(row recurringScanner) (domain.Execution, error) {
	var ex domain.Execution
	var emailSent int
	var woID, woNumber sql.NullString
	err := row.Scan(&ex.ID, &ex.RecurringID, &ex.ExecutionNumber, &ex.ScheduledAt, &ex.ScheduledDay,
		&ex.Status, &emailSent, &woID, &woNumber, &ex.CreatedAt, &ex.UpdatedAt)
	if err == sql.ErrNoRows {
		return ex, ErrNotFound
	}
	if err != nil {
		return ex, err
	}
	ex.EmailSent = emailSent != 0
	if woID.Valid {
		ex.WorkOrderID = &woID.String
	}
	if woNumber.Valid {
		ex.WorkOrderNumber = &woNumber.String
	}
	return ex, nil
}

func (r Repo) InsertExecutionTx(ctx context.Context, tx *sql.Tx, ex domain.Execution) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO recurring_executions(id,recurring_id,execution_number,scheduled_at,scheduled_day,status,email_sent,work_order_id,work_order_number,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		ex.ID, ex.RecurringID, ex.ExecutionNumber, ex.ScheduledAt, ex.ScheduledDay, ex.Status,
		boolToInt(ex.EmailSent), nullableStringPtr(ex.WorkOrderID), nullableStringPtr(ex.WorkOrderNumber),
		ex.CreatedAt, ex.UpdatedAt)
	return err
}

func (r Repo) GetExecution(ctx context.Context, id string) (domain.Execution, error) {
	return scanExecution(r.DB.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM recurring_executions WHERE id=?`, id))
}

func (r Repo) GetExecutionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Execution, error) {
	return scanExecution(tx.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM recurring_executions WHERE id=?`, id))
}

func (r Repo) ListExecutionsByRecurring(ctx context.Context, recurringID string) ([]domain.Execution, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+executionColumns+` FROM recurring_executions WHERE recurring_id=? ORDER BY execution_number ASC`, recurringID)
	if err != nil {
		return nil, err
	}
	return collectExecutions(rows)
}

func (r Repo) ListExecutionsByRecurringTx(ctx context.Context, tx *sql.Tx, recurringID string) ([]domain.Execution, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+executionColumns+` FROM recurring_executions WHERE recurring_id=? ORDER BY execution_number ASC`, recurringID)
	if err != nil {
		return nil, err
	}
	return collectExecutions(rows)
}

// PendingExecutionForDay returns the pending execution scheduled on the given
// calendar day, if any.
func (r Repo) PendingExecutionForDay(ctx context.Context, recurringID, day string) (domain.Execution, error) {
	return scanExecution(r.DB.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM recurring_executions
WHERE recurring_id=? AND scheduled_day=? AND status='pending'`, recurringID, day))
}

func (r Repo) LinkExecutionWorkOrderTx(ctx context.Context, tx *sql.Tx, executionID, workOrderID, workOrderNumber, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE recurring_executions SET status='materialized', work_order_id=?, work_order_number=?, updated_at=? WHERE id=?`,
		workOrderID, workOrderNumber, updatedAt, executionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) MarkExecutionEmailSent(ctx context.Context, id, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE recurring_executions SET email_sent=1, updated_at=? WHERE id=?`, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func collectExecutions(rows *sql.Rows) ([]domain.Execution, error) {
	defer rows.Close()
	var res []domain.Execution
	for rows.Next() {
		ex, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ex)
	}
	return res, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
