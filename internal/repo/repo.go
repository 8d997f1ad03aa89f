package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"upkeep/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const recurringColumns = `id,number,client_id,COALESCE(client_name,''),location_id,COALESCE(location_name,''),title,COALESCE(description,''),category,priority,budget,subcontractor_id,subcontractor_name,status,service_dates_json,next_service_at,created_at,updated_at`

type recurringScanner interface {
	Scan(dest ...any) error
}

func scanRecurring(row recurringScanner) (domain.RecurringWorkOrder, error) {
	var r domain.RecurringWorkOrder
	var budget sql.NullFloat64
	var subID, subName, nextAt sql.NullString
	err := row.Scan(&r.ID, &r.Number, &r.ClientID, &r.ClientName, &r.LocationID, &r.LocationName,
		&r.Title, &r.Description, &r.Category, &r.Priority, &budget, &subID, &subName,
		&r.Status, &r.ServiceDatesJSON, &nextAt, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	if budget.Valid {
		r.Budget = &budget.Float64
	}
	if subID.Valid {
		r.SubcontractorID = &subID.String
	}
	if subName.Valid {
		r.SubcontractorName = &subName.String
	}
	if nextAt.Valid {
		r.NextServiceAt = &nextAt.String
	}
	return r, nil
}

const insertRecurringSQL = `INSERT INTO recurring_work_orders(id,number,client_id,client_name,location_id,location_name,title,description,category,priority,budget,subcontractor_id,subcontractor_name,status,service_dates_json,next_service_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

func insertRecurringArgs(rwo domain.RecurringWorkOrder) []any {
	return []any{
		rwo.ID, rwo.Number, rwo.ClientID, nullable(rwo.ClientName), rwo.LocationID, nullable(rwo.LocationName),
		rwo.Title, nullable(rwo.Description), rwo.Category, rwo.Priority, nullableFloatPtr(rwo.Budget),
		nullableStringPtr(rwo.SubcontractorID), nullableStringPtr(rwo.SubcontractorName),
		rwo.Status, rwo.ServiceDatesJSON, nullableStringPtr(rwo.NextServiceAt), rwo.CreatedAt, rwo.UpdatedAt,
	}
}

func (r Repo) InsertRecurringWorkOrder(ctx context.Context, rwo domain.RecurringWorkOrder) error {
	_, err := r.DB.ExecContext(ctx, insertRecurringSQL, insertRecurringArgs(rwo)...)
	return err
}

func (r Repo) InsertRecurringWorkOrderTx(ctx context.Context, tx *sql.Tx, rwo domain.RecurringWorkOrder) error {
	_, err := tx.ExecContext(ctx, insertRecurringSQL, insertRecurringArgs(rwo)...)
	return err
}

func (r Repo) GetRecurringWorkOrder(ctx context.Context, id string) (domain.RecurringWorkOrder, error) {
	return scanRecurring(r.DB.QueryRowContext(ctx, `SELECT `+recurringColumns+` FROM recurring_work_orders WHERE id=?`, id))
}

func (r Repo) GetRecurringWorkOrderTx(ctx context.Context, tx *sql.Tx, id string) (domain.RecurringWorkOrder, error) {
	return scanRecurring(tx.QueryRowContext(ctx, `SELECT `+recurringColumns+` FROM recurring_work_orders WHERE id=?`, id))
}

type RecurringFilters struct {
	Status   string
	ClientID string
	Limit    int
}

func (r Repo) ListRecurringWorkOrders(ctx context.Context, f RecurringFilters) ([]domain.RecurringWorkOrder, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + recurringColumns + ` FROM recurring_work_orders ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RecurringWorkOrder
	for rows.Next() {
		rwo, err := scanRecurring(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rwo)
	}
	return res, rows.Err()
}

// ListDueRecurring returns active definitions whose next service timestamp
// falls inside the closed [dayStart, dayEnd] range.
func (r Repo) ListDueRecurring(ctx context.Context, dayStart, dayEnd string) ([]domain.RecurringWorkOrder, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+recurringColumns+` FROM recurring_work_orders
WHERE status='active' AND next_service_at IS NOT NULL AND next_service_at>=? AND next_service_at<=?
ORDER BY next_service_at ASC, id ASC`, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RecurringWorkOrder
	for rows.Next() {
		rwo, err := scanRecurring(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rwo)
	}
	return res, rows.Err()
}

func (r Repo) UpdateRecurringStatusTx(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE recurring_work_orders SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateServiceDatesTx(ctx context.Context, tx *sql.Tx, id, datesJSON string, nextServiceAt *string, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE recurring_work_orders SET service_dates_json=?, next_service_at=?, updated_at=? WHERE id=?`,
		datesJSON, nullableStringPtr(nextServiceAt), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateNextServiceAt moves the due pointer without touching the date list.
// The cron sweep uses it to advance past the day it just processed.
func (r Repo) UpdateNextServiceAt(ctx context.Context, id string, nextServiceAt *string, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE recurring_work_orders SET next_service_at=?, updated_at=? WHERE id=?`,
		nullableStringPtr(nextServiceAt), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
