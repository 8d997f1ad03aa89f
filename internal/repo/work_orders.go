package repo

import (
	"context"
	"database/sql"
	"strings"

	"upkeep/internal/domain"
)

const workOrderColumns = `id,number,client_id,COALESCE(client_name,''),location_id,COALESCE(location_name,''),title,COALESCE(description,''),category,priority,budget,status,assigned_to,assigned_to_name,assigned_at,recurring_id,execution_id,created_at,updated_at`

func scanWorkOrder(row recurringScanner) (domain.WorkOrder, error) {
	var w domain.WorkOrder
	var budget sql.NullFloat64
	var assignedTo, assignedToName, assignedAt sql.NullString
	err := row.Scan(&w.ID, &w.Number, &w.ClientID, &w.ClientName, &w.LocationID, &w.LocationName,
		&w.Title, &w.Description, &w.Category, &w.Priority, &budget, &w.Status,
		&assignedTo, &assignedToName, &assignedAt, &w.RecurringID, &w.ExecutionID, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	if budget.Valid {
		w.Budget = &budget.Float64
	}
	if assignedTo.Valid {
		w.AssignedTo = &assignedTo.String
	}
	if assignedToName.Valid {
		w.AssignedToName = &assignedToName.String
	}
	if assignedAt.Valid {
		w.AssignedAt = &assignedAt.String
	}
	return w, nil
}

func (r Repo) InsertWorkOrderTx(ctx context.Context, tx *sql.Tx, w domain.WorkOrder) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO work_orders(id,number,client_id,client_name,location_id,location_name,title,description,category,priority,budget,status,assigned_to,assigned_to_name,assigned_at,recurring_id,execution_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.Number, w.ClientID, nullable(w.ClientName), w.LocationID, nullable(w.LocationName),
		w.Title, nullable(w.Description), w.Category, w.Priority, nullableFloatPtr(w.Budget), w.Status,
		nullableStringPtr(w.AssignedTo), nullableStringPtr(w.AssignedToName), nullableStringPtr(w.AssignedAt),
		w.RecurringID, w.ExecutionID, w.CreatedAt, w.UpdatedAt)
	return err
}

func (r Repo) GetWorkOrder(ctx context.Context, id string) (domain.WorkOrder, error) {
	return scanWorkOrder(r.DB.QueryRowContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id=?`, id))
}

type WorkOrderFilters struct {
	RecurringID string
	Status      string
	ClientID    string
	Limit       int
}

func (r Repo) ListWorkOrders(ctx context.Context, f WorkOrderFilters) ([]domain.WorkOrder, error) {
	var clauses []string
	var args []any
	if f.RecurringID != "" {
		clauses = append(clauses, "recurring_id=?")
		args = append(args, f.RecurringID)
	}
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
	query := `SELECT ` + workOrderColumns + ` FROM work_orders ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkOrder
	for rows.Next() {
		w, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) CountWorkOrdersByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM work_orders GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
