package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"upkeep/internal/config"
	"upkeep/internal/db"
	"upkeep/internal/domain"
	"upkeep/internal/engine"
	"upkeep/internal/migrate"
	"upkeep/internal/notify"
	"upkeep/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("upkeep-test")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC) }
	eng.Notify = notify.Discard{}
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func createRecurring(t *testing.T, env testEnv, dates []string, subcontractor string) string {
	t.Helper()
	opts := engine.RecurringCreateOptions{
		ClientID:     "client-1",
		ClientName:   "Acme Property Group",
		LocationID:   "loc-1",
		LocationName: "Main Street 12",
		Title:        "Gutter cleaning",
		Description:  "Clear gutters and downspouts",
		Category:     "exterior",
		ServiceDates: dates,
		ActorID:      "tester",
	}
	if subcontractor != "" {
		opts.SubcontractorID = subcontractor
		opts.SubcontractorName = "CleanCo"
	}
	rwo, err := env.Engine.CreateRecurringWorkOrder(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create recurring: %v", err)
	}
	return rwo.ID
}

func TestCreateRecurringRequiresDates(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateRecurringWorkOrder(env.Ctx, engine.RecurringCreateOptions{
		ClientID:   "client-1",
		LocationID: "loc-1",
		Title:      "No dates",
		Category:   "exterior",
		ActorID:    "tester",
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "serviceDates" {
		t.Fatalf("expected serviceDates validation error, got %v", err)
	}
}

func TestCreateRecurringRejectsBadDate(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateRecurringWorkOrder(env.Ctx, engine.RecurringCreateOptions{
		ClientID:     "client-1",
		LocationID:   "loc-1",
		Title:        "Bad date",
		Category:     "exterior",
		ServiceDates: []string{"not-a-date"},
		ActorID:      "tester",
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateExecutionsDedupByCalendarDay(t *testing.T) {
	env := newTestEnv(t)
	// two timestamps on the same day plus one distinct day
	id := createRecurring(t, env, []string{
		"2024-01-01T10:00:00Z",
		"2024-01-01T15:00:00Z",
		"2024-01-15",
	}, "")

	result, err := env.Engine.CreateExecutions(env.Ctx, id, "tester")
	if err != nil {
		t.Fatalf("create executions: %v", err)
	}
	if result.Total != 3 || result.Created != 2 || result.Skipped != 1 {
		t.Fatalf("first run: total=%d created=%d skipped=%d", result.Total, result.Created, result.Skipped)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}

	// re-running with an unchanged date list is a no-op
	result, err = env.Engine.CreateExecutions(env.Ctx, id, "tester")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.Created != 0 || result.Skipped != 3 {
		t.Fatalf("second run: created=%d skipped=%d", result.Created, result.Skipped)
	}

	items, err := env.Engine.Repo.ListExecutionsByRecurring(env.Ctx, id)
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(items))
	}
	for i, ex := range items {
		if ex.ExecutionNumber != i+1 {
			t.Fatalf("execution %d has number %d", i, ex.ExecutionNumber)
		}
		if ex.Status != "pending" {
			t.Fatalf("execution %d status %q", i, ex.Status)
		}
	}
}

func TestExecutionNumbersContinueAcrossBatches(t *testing.T) {
	env := newTestEnv(t)
	id := createRecurring(t, env, []string{"2024-02-01", "2024-02-08"}, "")
	if _, err := env.Engine.CreateExecutions(env.Ctx, id, "tester"); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if _, err := env.Engine.AppendServiceDates(env.Ctx, id, []string{"2024-02-15", "2024-02-22", "2024-02-29"}, "tester"); err != nil {
		t.Fatalf("append dates: %v", err)
	}
	result, err := env.Engine.CreateExecutions(env.Ctx, id, "tester")
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if result.Created != 3 || result.Skipped != 2 {
		t.Fatalf("second batch: created=%d skipped=%d", result.Created, result.Skipped)
	}
	items, err := env.Engine.Repo.ListExecutionsByRecurring(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 5 {
		t.Fatalf("expected 5 executions, got %d", len(items))
	}
	for i, ex := range items {
		if ex.ExecutionNumber != i+1 {
			t.Fatalf("execution %d has number %d", i, ex.ExecutionNumber)
		}
	}
}

func TestGenerateWorkOrderOnce(t *testing.T) {
	env := newTestEnv(t)
	id := createRecurring(t, env, []string{"2024-03-01"}, "")
	if _, err := env.Engine.CreateExecutions(env.Ctx, id, "tester"); err != nil {
		t.Fatal(err)
	}
	items, err := env.Engine.Repo.ListExecutionsByRecurring(env.Ctx, id)
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one execution: %v", err)
	}

	wo, err := env.Engine.GenerateExecutionWorkOrder(env.Ctx, items[0].ID, "tester")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if wo.Status != "approved" {
		t.Fatalf("status %q", wo.Status)
	}
	if wo.ExecutionID != items[0].ID || wo.RecurringID != id {
		t.Fatalf("linkage: execution=%s recurring=%s", wo.ExecutionID, wo.RecurringID)
	}
	if !strings.HasPrefix(wo.Number, "WO-") {
		t.Fatalf("number %q", wo.Number)
	}
	if !strings.Contains(wo.Description, "execution #1") {
		t.Fatalf("description %q", wo.Description)
	}

	// the execution now carries the work order reference
	ex, err := env.Engine.Repo.GetExecution(env.Ctx, items[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if ex.Status != "materialized" || ex.WorkOrderID == nil || *ex.WorkOrderID != wo.ID {
		t.Fatalf("execution not linked: status=%q", ex.Status)
	}

	// a second call must be rejected, not create a duplicate
	_, err = env.Engine.GenerateExecutionWorkOrder(env.Ctx, items[0].ID, "tester")
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict, got %v", err)
	}
	orders, err := env.Engine.Repo.ListWorkOrders(env.Ctx, repo.WorkOrderFilters{RecurringID: id})
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 work order, got %d", len(orders))
	}
}

func TestGenerateWorkOrderPreAssignsSubcontractor(t *testing.T) {
	env := newTestEnv(t)
	id := createRecurring(t, env, []string{"2024-03-01"}, "sub-9")
	if _, err := env.Engine.CreateExecutions(env.Ctx, id, "tester"); err != nil {
		t.Fatal(err)
	}
	items, _ := env.Engine.Repo.ListExecutionsByRecurring(env.Ctx, id)
	wo, err := env.Engine.GenerateExecutionWorkOrder(env.Ctx, items[0].ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if wo.Status != "assigned" {
		t.Fatalf("status %q", wo.Status)
	}
	if wo.AssignedTo == nil || *wo.AssignedTo != "sub-9" {
		t.Fatalf("assignee not carried over")
	}
	if wo.AssignedAt == nil {
		t.Fatalf("assigned_at missing")
	}
}

func TestGenerateWorkOrderUnknownExecution(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.GenerateExecutionWorkOrder(env.Ctx, "nope", "tester")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAppendServiceDatesKeepsOrder(t *testing.T) {
	env := newTestEnv(t)
	id := createRecurring(t, env, []string{"2024-05-01"}, "")
	rwo, err := env.Engine.AppendServiceDates(env.Ctx, id, []string{"2024-04-01", "2024-06-01"}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if rwo.NextServiceAt == nil || !strings.HasPrefix(*rwo.NextServiceAt, "2024-04-01") {
		t.Fatalf("next service %v", rwo.NextServiceAt)
	}
}

func TestSetRecurringStatus(t *testing.T) {
	env := newTestEnv(t)
	id := createRecurring(t, env, []string{"2024-05-01"}, "")
	rwo, err := env.Engine.SetRecurringStatus(env.Ctx, id, "paused", "tester")
	if err != nil || rwo.Status != "paused" {
		t.Fatalf("pause: %v", err)
	}
	_, err = env.Engine.SetRecurringStatus(env.Ctx, id, "bogus", "tester")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunDueRecurrences(t *testing.T) {
	env := newTestEnv(t)
	// due today (engine clock is 2024-01-01 08:00 UTC)
	dueID := createRecurring(t, env, []string{"2024-01-01T09:00:00Z", "2024-02-01"}, "")
	// not due
	createRecurring(t, env, []string{"2024-06-01"}, "")
	// due but paused, must be ignored
	pausedID := createRecurring(t, env, []string{"2024-01-01T11:00:00Z"}, "")
	if _, err := env.Engine.SetRecurringStatus(env.Ctx, pausedID, "paused", "tester"); err != nil {
		t.Fatal(err)
	}

	results, err := env.Engine.RunDueRecurrences(env.Ctx, "cron")
	if err != nil {
		t.Fatalf("cron: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 due, got %d", len(results))
	}
	if results[0].RecurringWorkOrderID != dueID || results[0].Status != "ok" {
		t.Fatalf("result %+v", results[0])
	}
	if !strings.Contains(results[0].Message, "work order") {
		t.Fatalf("expected work order in message, got %q", results[0].Message)
	}

	orders, err := env.Engine.Repo.ListWorkOrders(env.Ctx, repo.WorkOrderFilters{RecurringID: dueID})
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 work order, got %d", len(orders))
	}

	// the sweep advanced next_service_at past today, so a same-day re-run
	// finds nothing due and creates nothing new
	rwo, err := env.Engine.Repo.GetRecurringWorkOrder(env.Ctx, dueID)
	if err != nil {
		t.Fatal(err)
	}
	if rwo.NextServiceAt == nil || !strings.HasPrefix(*rwo.NextServiceAt, "2024-02-01") {
		t.Fatalf("next service not advanced: %v", rwo.NextServiceAt)
	}
	results, err = env.Engine.RunDueRecurrences(env.Ctx, "cron")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("second sweep: %+v", results)
	}
	orders, _ = env.Engine.Repo.ListWorkOrders(env.Ctx, repo.WorkOrderFilters{RecurringID: dueID})
	if len(orders) != 1 {
		t.Fatalf("second sweep duplicated work orders: %d", len(orders))
	}
}

func TestRunDueRecurrencesAcrossDays(t *testing.T) {
	env := newTestEnv(t)
	id := createRecurring(t, env, []string{"2024-01-01T09:00:00Z", "2024-02-01"}, "")

	results, err := env.Engine.RunDueRecurrences(env.Ctx, "cron")
	if err != nil {
		t.Fatalf("jan 1 sweep: %v", err)
	}
	if len(results) != 1 || results[0].Status != "ok" {
		t.Fatalf("jan 1 sweep: %+v", results)
	}

	// a month later the second date must surface again
	env.Engine.Now = func() time.Time { return time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC) }
	results, err = env.Engine.RunDueRecurrences(env.Ctx, "cron")
	if err != nil {
		t.Fatalf("feb 1 sweep: %v", err)
	}
	if len(results) != 1 || results[0].Status != "ok" {
		t.Fatalf("feb 1 sweep: %+v", results)
	}
	orders, err := env.Engine.Repo.ListWorkOrders(env.Ctx, repo.WorkOrderFilters{RecurringID: id})
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 work orders after both sweeps, got %d", len(orders))
	}

	// no dates remain, so next_service_at is cleared and the sweep goes quiet
	rwo, err := env.Engine.Repo.GetRecurringWorkOrder(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rwo.NextServiceAt != nil {
		t.Fatalf("expected cleared next service, got %v", *rwo.NextServiceAt)
	}
	env.Engine.Now = func() time.Time { return time.Date(2024, 2, 2, 8, 0, 0, 0, time.UTC) }
	results, err = env.Engine.RunDueRecurrences(env.Ctx, "cron")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("feb 2 sweep: %+v", results)
	}
}

func TestRunDueRecurrencesMaterializedDayStaysOK(t *testing.T) {
	env := newTestEnv(t)
	id := createRecurring(t, env, []string{"2024-01-01T09:00:00Z"}, "")
	if _, err := env.Engine.RunDueRecurrences(env.Ctx, "cron"); err != nil {
		t.Fatal(err)
	}

	// appending another timestamp on the already-processed day makes the
	// definition due again, but its execution is materialized; the sweep
	// must report ok, not an error, and not duplicate anything
	if _, err := env.Engine.AppendServiceDates(env.Ctx, id, []string{"2024-01-01T15:00:00Z"}, "tester"); err != nil {
		t.Fatal(err)
	}
	results, err := env.Engine.RunDueRecurrences(env.Ctx, "cron")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Status != "ok" {
		t.Fatalf("re-sweep: %+v", results)
	}
	orders, err := env.Engine.Repo.ListWorkOrders(env.Ctx, repo.WorkOrderFilters{RecurringID: id})
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 work order, got %d", len(orders))
	}
}

func TestCreateExecutionsEmptyDates(t *testing.T) {
	env := newTestEnv(t)
	now := env.Engine.Now().UTC().Format(time.RFC3339)
	seeded := domain.RecurringWorkOrder{
		ID:               "rwo-empty",
		Number:           "RWO-20240101-080000",
		ClientID:         "client-1",
		LocationID:       "loc-1",
		Title:            "No dates yet",
		Category:         "exterior",
		Priority:         "medium",
		Status:           "active",
		ServiceDatesJSON: "[]",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := env.Engine.Repo.InsertRecurringWorkOrder(env.Ctx, seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := env.Engine.CreateExecutions(env.Ctx, seeded.ID, "tester")
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "serviceDates" {
		t.Fatalf("expected serviceDates validation error, got %v", err)
	}
	items, err := env.Engine.Repo.ListExecutionsByRecurring(env.Ctx, seeded.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no executions, got %d", len(items))
	}
}

func TestAuditEventsCommitWithChange(t *testing.T) {
	env := newTestEnv(t)
	id := createRecurring(t, env, []string{"2024-05-01"}, "")
	if _, err := env.Engine.AppendServiceDates(env.Ctx, id, []string{"2024-06-01"}, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetRecurringStatus(env.Ctx, id, "paused", "tester"); err != nil {
		t.Fatal(err)
	}
	for _, evtType := range []string{"recurring.created", "recurring.dates.appended", "recurring.status"} {
		events, err := env.Engine.Repo.LatestEvents(env.Ctx, 5, evtType, "recurring_work_order", id)
		if err != nil {
			t.Fatalf("events %s: %v", evtType, err)
		}
		if len(events) != 1 {
			t.Fatalf("expected one %s event, got %d", evtType, len(events))
		}
		if events[0].ActorID != "tester" {
			t.Fatalf("event %s actor %q", evtType, events[0].ActorID)
		}
	}
}
