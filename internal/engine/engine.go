package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"upkeep/internal/config"
	"upkeep/internal/domain"
	"upkeep/internal/events"
	"upkeep/internal/notify"
	"upkeep/internal/repo"
)

// Engine holds the single process-wide database handle and the collaborators
// every operation needs. Handlers receive it by value.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Notify notify.Sender
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Notify: notify.LogSender{},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) location() *time.Location {
	return e.Config.Location()
}

// calendarDay normalizes a timestamp to its calendar date in the configured
// time zone. This is the execution dedup key.
func (e Engine) calendarDay(t time.Time) string {
	return t.In(e.location()).Format("2006-01-02")
}

// RecurringCreateOptions are parameters for creating a recurring work order.
type RecurringCreateOptions struct {
	ID                string
	ClientID          string
	ClientName        string
	LocationID        string
	LocationName      string
	Title             string
	Description       string
	Category          string
	Priority          string
	Budget            *float64
	SubcontractorID   string
	SubcontractorName string
	ServiceDates      []string
	ActorID           string
}

func (e Engine) CreateRecurringWorkOrder(ctx context.Context, opts RecurringCreateOptions) (domain.RecurringWorkOrder, error) {
	if opts.Title == "" {
		return domain.RecurringWorkOrder{}, ValidationError{Field: "title", Reason: "is required"}
	}
	if opts.ClientID == "" {
		return domain.RecurringWorkOrder{}, ValidationError{Field: "clientId", Reason: "is required"}
	}
	if opts.LocationID == "" {
		return domain.RecurringWorkOrder{}, ValidationError{Field: "locationId", Reason: "is required"}
	}
	if opts.Category == "" {
		return domain.RecurringWorkOrder{}, ValidationError{Field: "category", Reason: "is required"}
	}
	if opts.Priority == "" {
		opts.Priority = "medium"
	}
	dates, err := normalizeServiceDates(opts.ServiceDates)
	if err != nil {
		return domain.RecurringWorkOrder{}, err
	}
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	datesJSON, err := marshalDates(dates)
	if err != nil {
		return domain.RecurringWorkOrder{}, err
	}
	rwo := domain.RecurringWorkOrder{
		ID:                id,
		Number:            e.recurringNumber(now),
		ClientID:          opts.ClientID,
		ClientName:        opts.ClientName,
		LocationID:        opts.LocationID,
		LocationName:      opts.LocationName,
		Title:             opts.Title,
		Description:       opts.Description,
		Category:          opts.Category,
		Priority:          opts.Priority,
		Budget:            opts.Budget,
		SubcontractorID:   optionalString(opts.SubcontractorID),
		SubcontractorName: optionalString(opts.SubcontractorName),
		Status:            "active",
		ServiceDatesJSON:  datesJSON,
		NextServiceAt:     e.nextUpcoming(dates),
		CreatedAt:         nowStr,
		UpdatedAt:         nowStr,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RecurringWorkOrder{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRecurringWorkOrderTx(ctx, tx, rwo); err != nil {
		return domain.RecurringWorkOrder{}, err
	}
	if err := e.Events.Append(ctx, tx, "recurring.created", "recurring_work_order", rwo.ID, opts.ActorID, events.EventPayload{
		"number": rwo.Number,
		"client": rwo.ClientID,
		"dates":  len(dates),
	}); err != nil {
		return domain.RecurringWorkOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RecurringWorkOrder{}, err
	}
	return rwo, nil
}

// AppendServiceDates adds future service dates to a definition, keeping the
// stored sequence ordered and next_service_at current.
func (e Engine) AppendServiceDates(ctx context.Context, recurringID string, rawDates []string, actorID string) (domain.RecurringWorkOrder, error) {
	added, err := normalizeServiceDates(rawDates)
	if err != nil {
		return domain.RecurringWorkOrder{}, err
	}
	rwo, err := e.Repo.GetRecurringWorkOrder(ctx, recurringID)
	if err != nil {
		return domain.RecurringWorkOrder{}, err
	}
	existing, err := decodeDates(rwo.ServiceDatesJSON)
	if err != nil {
		return rwo, err
	}
	merged := append(existing, added...)
	sort.Strings(merged)
	datesJSON, err := marshalDates(merged)
	if err != nil {
		return rwo, err
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	next := e.nextUpcoming(merged)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rwo, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateServiceDatesTx(ctx, tx, recurringID, datesJSON, next, nowStr); err != nil {
		return rwo, err
	}
	if err := e.Events.Append(ctx, tx, "recurring.dates.appended", "recurring_work_order", rwo.ID, actorID, events.EventPayload{
		"added": len(added),
		"total": len(merged),
	}); err != nil {
		return rwo, err
	}
	if err := tx.Commit(); err != nil {
		return rwo, err
	}
	rwo.ServiceDatesJSON = datesJSON
	rwo.NextServiceAt = next
	rwo.UpdatedAt = nowStr
	return rwo, nil
}

func (e Engine) SetRecurringStatus(ctx context.Context, recurringID, status, actorID string) (domain.RecurringWorkOrder, error) {
	switch status {
	case "active", "paused", "archived":
	default:
		return domain.RecurringWorkOrder{}, ValidationError{Field: "status", Reason: "must be active, paused or archived"}
	}
	rwo, err := e.Repo.GetRecurringWorkOrder(ctx, recurringID)
	if err != nil {
		return domain.RecurringWorkOrder{}, err
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rwo, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateRecurringStatusTx(ctx, tx, recurringID, status, nowStr); err != nil {
		return rwo, err
	}
	if err := e.Events.Append(ctx, tx, "recurring.status", "recurring_work_order", rwo.ID, actorID, events.EventPayload{
		"from": rwo.Status,
		"to":   status,
	}); err != nil {
		return rwo, err
	}
	if err := tx.Commit(); err != nil {
		return rwo, err
	}
	rwo.Status = status
	rwo.UpdatedAt = nowStr
	return rwo, nil
}

// BatchError records a per-date failure inside an execution batch.
type BatchError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// ExecutionBatchResult summarizes one CreateExecutions run.
type ExecutionBatchResult struct {
	Total   int          `json:"total"`
	Created int          `json:"created"`
	Skipped int          `json:"skipped"`
	Errors  []BatchError `json:"errors"`
}

// CreateExecutions materializes one pending execution per not-yet-covered
// service date of the definition. Dates are deduplicated at calendar-day
// granularity, both against stored executions and within the batch itself,
// so re-running with an unchanged date list is a no-op. The read of existing
// executions and all inserts share one transaction; the schema additionally
// enforces UNIQUE(recurring_id, scheduled_day).
func (e Engine) CreateExecutions(ctx context.Context, recurringID, actorID string) (ExecutionBatchResult, error) {
	result := ExecutionBatchResult{Errors: []BatchError{}}
	rwo, err := e.Repo.GetRecurringWorkOrder(ctx, recurringID)
	if err != nil {
		return result, err
	}
	dates, err := decodeDates(rwo.ServiceDatesJSON)
	if err != nil {
		return result, err
	}
	if len(dates) == 0 {
		return result, ValidationError{Field: "serviceDates", Reason: "recurring work order has no service dates"}
	}
	result.Total = len(dates)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return result, err
	}
	defer tx.Rollback()

	existing, err := e.Repo.ListExecutionsByRecurringTx(ctx, tx, recurringID)
	if err != nil {
		return result, classifyQueryError(err)
	}
	seen := make(map[string]bool, len(existing))
	for _, ex := range existing {
		seen[ex.ScheduledDay] = true
	}

	nowStr := e.now().UTC().Format(time.RFC3339)
	var created []domain.Execution
	for i, raw := range dates {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			result.Errors = append(result.Errors, BatchError{Index: i, Error: fmt.Sprintf("invalid service date %q: %v", raw, err)})
			continue
		}
		day := e.calendarDay(t)
		if seen[day] {
			result.Skipped++
			continue
		}
		ex := domain.Execution{
			ID:              uuid.New().String(),
			RecurringID:     recurringID,
			ExecutionNumber: len(existing) + len(created) + 1,
			ScheduledAt:     t.UTC().Format(time.RFC3339),
			ScheduledDay:    day,
			Status:          "pending",
			EmailSent:       false,
			CreatedAt:       nowStr,
			UpdatedAt:       nowStr,
		}
		if err := e.Repo.InsertExecutionTx(ctx, tx, ex); err != nil {
			result.Errors = append(result.Errors, BatchError{Index: i, Error: err.Error()})
			continue
		}
		seen[day] = true
		created = append(created, ex)
		result.Created++
	}

	if err := e.Events.Append(ctx, tx, "executions.created", "recurring_work_order", recurringID, actorID, events.EventPayload{
		"total":   result.Total,
		"created": result.Created,
		"skipped": result.Skipped,
		"errors":  len(result.Errors),
	}); err != nil {
		return result, err
	}
	if err := tx.Commit(); err != nil {
		return result, err
	}

	if e.Config == nil || e.Config.Notifications.Enabled {
		e.notifyExecutions(ctx, rwo, created)
	}
	return result, nil
}

func (e Engine) notifyExecutions(ctx context.Context, rwo domain.RecurringWorkOrder, created []domain.Execution) {
	if e.Notify == nil {
		return
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	for _, ex := range created {
		if err := e.Notify.ExecutionScheduled(ctx, rwo, ex); err != nil {
			continue
		}
		_ = e.Repo.MarkExecutionEmailSent(ctx, ex.ID, nowStr)
	}
}

// GenerateExecutionWorkOrder converts exactly one pending execution into one
// work order. A second call for the same execution is rejected with
// ConflictError. Work-order insert and execution linkage commit atomically.
func (e Engine) GenerateExecutionWorkOrder(ctx context.Context, executionID, actorID string) (domain.WorkOrder, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()

	ex, err := e.Repo.GetExecutionTx(ctx, tx, executionID)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	if ex.WorkOrderID != nil {
		return domain.WorkOrder{}, ConflictError{Resource: "execution", ID: executionID, Reason: "work order already generated"}
	}
	rwo, err := e.Repo.GetRecurringWorkOrderTx(ctx, tx, ex.RecurringID)
	if err != nil {
		return domain.WorkOrder{}, err
	}

	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	wo := domain.WorkOrder{
		ID:           uuid.New().String(),
		Number:       e.workOrderNumber(now, ex.ExecutionNumber),
		ClientID:     rwo.ClientID,
		ClientName:   rwo.ClientName,
		LocationID:   rwo.LocationID,
		LocationName: rwo.LocationName,
		Title:        rwo.Title,
		Description:  annotateDescription(rwo, ex),
		Category:     rwo.Category,
		Priority:     rwo.Priority,
		Budget:       rwo.Budget,
		Status:       "approved",
		RecurringID:  rwo.ID,
		ExecutionID:  ex.ID,
		CreatedAt:    nowStr,
		UpdatedAt:    nowStr,
	}
	if rwo.SubcontractorID != nil {
		wo.Status = "assigned"
		wo.AssignedTo = rwo.SubcontractorID
		wo.AssignedToName = rwo.SubcontractorName
		wo.AssignedAt = &nowStr
	}

	if err := e.Repo.InsertWorkOrderTx(ctx, tx, wo); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := e.Repo.LinkExecutionWorkOrderTx(ctx, tx, ex.ID, wo.ID, wo.Number, nowStr); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := e.Events.Append(ctx, tx, "workorder.generated", "work_order", wo.ID, actorID, events.EventPayload{
		"number":    wo.Number,
		"execution": ex.ID,
		"status":    wo.Status,
	}); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkOrder{}, err
	}

	if e.Config == nil || e.Config.Notifications.Enabled {
		if e.Notify != nil {
			_ = e.Notify.WorkOrderCreated(ctx, wo)
		}
	}
	return wo, nil
}

// CronItemResult reports the outcome for one due definition.
type CronItemResult struct {
	RecurringWorkOrderID string `json:"recurringWorkOrderId"`
	Status               string `json:"status" enum:"ok,error"`
	Message              string `json:"message"`
}

// RunDueRecurrences processes every active definition whose next service
// timestamp falls within today in the configured time zone: executions are
// created for uncovered dates, today's pending execution (if any) is
// materialized into a work order, and next_service_at is advanced to the
// earliest date after today so the definition surfaces again on its next due
// day. One definition's failure never stops the rest.
func (e Engine) RunDueRecurrences(ctx context.Context, actorID string) ([]CronItemResult, error) {
	loc := e.location()
	now := e.now().In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.Add(24*time.Hour - time.Second)

	due, err := e.Repo.ListDueRecurring(ctx,
		dayStart.UTC().Format(time.RFC3339),
		dayEnd.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, classifyQueryError(err)
	}

	results := make([]CronItemResult, 0, len(due))
	today := e.calendarDay(now)
	tomorrow := dayStart.Add(24 * time.Hour).UTC().Format(time.RFC3339)
	for _, rwo := range due {
		item := CronItemResult{RecurringWorkOrderID: rwo.ID, Status: "ok"}
		batch, err := e.CreateExecutions(ctx, rwo.ID, actorID)
		if err != nil {
			item.Status = "error"
			item.Message = err.Error()
			results = append(results, item)
			continue
		}
		msg := fmt.Sprintf("executions created=%d skipped=%d", batch.Created, batch.Skipped)
		ex, err := e.Repo.PendingExecutionForDay(ctx, rwo.ID, today)
		switch {
		case err == nil:
			wo, genErr := e.GenerateExecutionWorkOrder(ctx, ex.ID, actorID)
			if genErr != nil {
				item.Status = "error"
				msg += "; generate work order: " + genErr.Error()
			} else {
				msg += "; work order " + wo.Number
			}
		case !errors.Is(err, repo.ErrNotFound):
			item.Status = "error"
			msg += "; pending execution lookup: " + err.Error()
		}
		if advErr := e.advanceNextService(ctx, rwo, tomorrow); advErr != nil {
			item.Status = "error"
			msg += "; advance next service: " + advErr.Error()
		}
		item.Message = msg
		results = append(results, item)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return results, nil
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "cron.completed", "cron", "", actorID, events.EventPayload{
		"due": len(due),
	}); err != nil {
		return results, nil
	}
	_ = tx.Commit()
	return results, nil
}

// --- helpers ---

func (e Engine) numberPrefix() string {
	if e.Config != nil && e.Config.WorkOrders.NumberPrefix != "" {
		return e.Config.WorkOrders.NumberPrefix
	}
	return "WO"
}

func (e Engine) recurringPrefix() string {
	if e.Config != nil && e.Config.WorkOrders.RecurringPrefix != "" {
		return e.Config.WorkOrders.RecurringPrefix
	}
	return "RWO"
}

func (e Engine) recurringNumber(now time.Time) string {
	return fmt.Sprintf("%s-%s", e.recurringPrefix(), now.Format("20060102-150405"))
}

func (e Engine) workOrderNumber(now time.Time, executionNumber int) string {
	return fmt.Sprintf("%s-%s-%03d", e.numberPrefix(), now.Format("20060102150405"), executionNumber)
}

func annotateDescription(rwo domain.RecurringWorkOrder, ex domain.Execution) string {
	note := fmt.Sprintf("Generated from recurring work order %s, execution #%d, scheduled for %s.",
		rwo.Number, ex.ExecutionNumber, ex.ScheduledDay)
	if rwo.Description == "" {
		return note
	}
	return rwo.Description + "\n\n" + note
}

func normalizeServiceDates(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, ValidationError{Field: "serviceDates", Reason: "at least one date is required"}
	}
	out := make([]string, 0, len(raw))
	for _, d := range raw {
		t, err := parseDate(d)
		if err != nil {
			return nil, ValidationError{Field: "serviceDates", Reason: fmt.Sprintf("invalid date %q", d)}
		}
		out = append(out, t.UTC().Format(time.RFC3339))
	}
	sort.Strings(out)
	return out, nil
}

// parseDate accepts RFC3339 timestamps or bare YYYY-MM-DD dates.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func decodeDates(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var dates []string
	if err := json.Unmarshal([]byte(raw), &dates); err != nil {
		return nil, fmt.Errorf("decode service dates: %w", err)
	}
	return dates, nil
}

func marshalDates(dates []string) (string, error) {
	b, err := json.Marshal(dates)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// nextUpcoming returns the earliest stored date that falls on or after today
// in the configured zone. Dates and cutoffs are RFC3339 UTC strings, so plain
// string comparison orders them.
func (e Engine) nextUpcoming(sortedDates []string) *string {
	now := e.now().In(e.location())
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.location())
	return firstDateAtOrAfter(sortedDates, dayStart.UTC().Format(time.RFC3339))
}

// advanceNextService moves next_service_at past the day the sweep just
// processed, or clears it when no later date remains.
func (e Engine) advanceNextService(ctx context.Context, rwo domain.RecurringWorkOrder, cutoff string) error {
	dates, err := decodeDates(rwo.ServiceDatesJSON)
	if err != nil {
		return err
	}
	next := firstDateAtOrAfter(dates, cutoff)
	return e.Repo.UpdateNextServiceAt(ctx, rwo.ID, next, e.now().UTC().Format(time.RFC3339))
}

func firstDateAtOrAfter(sortedDates []string, cutoff string) *string {
	for _, d := range sortedDates {
		if d >= cutoff {
			next := d
			return &next
		}
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
