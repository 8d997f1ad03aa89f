package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"upkeep/internal/config"
	"upkeep/internal/db"
	"upkeep/internal/engine"
	"upkeep/internal/migrate"
	"upkeep/internal/notify"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("upkeep-test")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC) }
	e.Notify = notify.Discard{}
	handler, err := New(Config{Engine: e, BasePath: "/v1"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createRecurringHTTP(t *testing.T, srv *testServer, dates []string, extra map[string]any) RecurringResponse {
	t.Helper()
	payload := map[string]any{
		"clientId":     "client-1",
		"clientName":   "Acme Property Group",
		"locationId":   "loc-1",
		"locationName": "Main Street 12",
		"title":        "Gutter cleaning",
		"category":     "exterior",
		"serviceDates": dates,
	}
	for k, v := range extra {
		payload[k] = v
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/recurring-work-orders", payload, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create recurring: %d %s", res.StatusCode, string(data))
	}
	var created RecurringResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal recurring: %v", err)
	}
	return created
}

func TestCreateExecutionsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	created := createRecurringHTTP(t, srv, []string{"2024-01-01", "2024-01-15"}, nil)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/recurring-work-orders/create-executions", map[string]any{
		"recurringWorkOrderId": created.ID,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create executions: %d %s", res.StatusCode, string(data))
	}
	var out CreateExecutionsResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Success || out.Results.Created != 2 || out.Results.Skipped != 0 {
		t.Fatalf("unexpected results: %+v", out.Results)
	}

	// re-run skips everything
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/recurring-work-orders/create-executions", map[string]any{
		"recurringWorkOrderId": created.ID,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("re-run: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &out)
	if out.Results.Created != 0 || out.Results.Skipped != 2 {
		t.Fatalf("re-run results: %+v", out.Results)
	}

	listRes, listData := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/recurring-work-orders/"+created.ID+"/executions", nil, nil)
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list executions: %d %s", listRes.StatusCode, string(listData))
	}
	var executions []ExecutionResponse
	if err := json.Unmarshal(listData, &executions); err != nil {
		t.Fatalf("unmarshal executions: %v", err)
	}
	if len(executions) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(executions))
	}
}

func TestGenerateWorkOrderEndpointConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	created := createRecurringHTTP(t, srv, []string{"2024-01-10"}, map[string]any{
		"subcontractorId":   "sub-9",
		"subcontractorName": "CleanCo",
	})

	_, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/recurring-work-orders/create-executions", map[string]any{
		"recurringWorkOrderId": created.ID,
	}, nil)
	_, listData := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/recurring-work-orders/"+created.ID+"/executions", nil, nil)
	var executions []ExecutionResponse
	if err := json.Unmarshal(listData, &executions); err != nil || len(executions) != 1 {
		t.Fatalf("expected one execution: %v %s", err, string(listData))
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/recurring-work-orders/generate-execution-work-order", map[string]any{
		"executionId": executions[0].ID,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("generate: %d %s", res.StatusCode, string(data))
	}
	var gen GenerateWorkOrderResponse
	if err := json.Unmarshal(data, &gen); err != nil {
		t.Fatalf("unmarshal generate: %v", err)
	}
	if !gen.Success || gen.WorkOrderID == "" || gen.WorkOrderNumber == "" {
		t.Fatalf("generate response: %+v", gen)
	}

	// pre-assigned subcontractor carries through
	woRes, woData := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/work-orders/"+gen.WorkOrderID, nil, nil)
	if woRes.StatusCode != http.StatusOK {
		t.Fatalf("get work order: %d %s", woRes.StatusCode, string(woData))
	}
	var wo WorkOrderResponse
	_ = json.Unmarshal(woData, &wo)
	if wo.Status != "assigned" || wo.AssignedTo == nil || *wo.AssignedTo != "sub-9" {
		t.Fatalf("work order not assigned: %+v", wo)
	}

	// second generation attempt is rejected with the conflict envelope
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/recurring-work-orders/generate-execution-work-order", map[string]any{
		"executionId": executions[0].ID,
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 conflict, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "conflict" {
		t.Fatalf("expected conflict code, got %q", envelope.Error.Code)
	}
}

func TestCronEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	created := createRecurringHTTP(t, srv, []string{"2024-01-01T09:00:00Z"}, nil)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/recurring-work-orders/cron", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cron: %d %s", res.StatusCode, string(data))
	}
	var out CronResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal cron: %v", err)
	}
	if len(out.Results) != 1 || out.Results[0].RecurringWorkOrderID != created.ID || out.Results[0].Status != "ok" {
		t.Fatalf("cron results: %+v", out.Results)
	}

	woRes, woData := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/work-orders?recurringWorkOrderId="+created.ID, nil, nil)
	if woRes.StatusCode != http.StatusOK {
		t.Fatalf("list work orders: %d %s", woRes.StatusCode, string(woData))
	}
	var orders []WorkOrderResponse
	if err := json.Unmarshal(woData, &orders); err != nil {
		t.Fatalf("unmarshal work orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 work order from cron, got %d", len(orders))
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/recurring-work-orders/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("expected not_found, got %q", envelope.Error.Code)
	}
}

func TestBearerAuthRequired(t *testing.T) {
	workspace := t.TempDir()
	cfg := config.Default("upkeep-test")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: "test-secret"}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	defer func() {
		srv.Shutdown(context.Background())
		ln.Close()
	}()
	url := "http://" + ln.Addr().String()

	res, _ := doJSON(t, &http.Client{}, http.MethodGet, url+"/v1/recurring-work-orders", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.StatusCode)
	}
	// health stays open
	res, _ = doJSON(t, &http.Client{}, http.MethodGet, url+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}
}
