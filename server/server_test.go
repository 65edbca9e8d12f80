package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"salesflow/cleaner"
	"salesflow/config"
	"salesflow/logger"
	"salesflow/models"
	"salesflow/pipeline"
	"salesflow/store"
)

type fakeMenuStore struct {
	items     []models.MenuItem
	healthErr error
	storeErr  error
	deleted   []int
}

func (f *fakeMenuStore) ListMenu(context.Context) ([]models.MenuItem, error) {
	return f.items, nil
}

func (f *fakeMenuStore) AddMenuItem(_ context.Context, item models.MenuItem) (int, error) {
	if f.storeErr != nil {
		return 0, f.storeErr
	}
	if item.ItemName == "" {
		return 0, &store.ValidationError{Reason: "item name cannot be empty"}
	}
	f.items = append(f.items, item)
	return len(f.items), nil
}

func (f *fakeMenuStore) UpdateMenuItem(_ context.Context, item models.MenuItem) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	if item.ID > len(f.items) {
		return &store.NotFoundError{ID: item.ID}
	}
	return nil
}

func (f *fakeMenuStore) DeleteMenuItem(_ context.Context, id int) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeMenuStore) Categories(context.Context) ([]string, error) {
	return []string{"Drinks", "Shawarma"}, nil
}

func (f *fakeMenuStore) HealthCheck(context.Context) error {
	return f.healthErr
}

type fakeRunner struct {
	result *pipeline.Result
	err    error
	last   pipeline.Request
}

func (f *fakeRunner) Run(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	f.last = req
	return f.result, f.err
}

func testServer(menu *fakeMenuStore, runner *fakeRunner) *Server {
	cfg := config.ServerConfig{Enabled: true, Address: ":0"}
	defaults := config.PipelineConfig{HorizonDays: 7, ConfidenceWidth: 0.8, TopNItems: 10}
	return NewServer(cfg, defaults, menu, runner, logger.GetLogger())
}

func doRequest(t *testing.T, s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s := testServer(&fakeMenuStore{}, &fakeRunner{})

	w := doRequest(t, s, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", w.Code)
	}
}

func TestHealthzDegraded(t *testing.T) {
	s := testServer(&fakeMenuStore{healthErr: errors.New("connection lost")}, &fakeRunner{})

	w := doRequest(t, s, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded healthz = %d, want 503", w.Code)
	}
}

func TestListMenu(t *testing.T) {
	menu := &fakeMenuStore{items: []models.MenuItem{
		{ID: 1, ItemName: "Chicken Shawarma", Category: "Shawarma", ItemPrice: decimal.RequireFromString("10.50")},
	}}
	s := testServer(menu, &fakeRunner{})

	w := doRequest(t, s, http.MethodGet, "/api/menu", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list menu = %d, want 200", w.Code)
	}

	var resp struct {
		Items []models.MenuItem `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ItemName != "Chicken Shawarma" {
		t.Fatalf("unexpected items: %+v", resp.Items)
	}
}

func TestAddMenuItem(t *testing.T) {
	s := testServer(&fakeMenuStore{}, &fakeRunner{})

	body := []byte(`{"item_name": "Falafel Wrap", "category": "Wraps", "item_price": "8.25"}`)
	w := doRequest(t, s, http.MethodPost, "/api/menu", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("add menu item = %d, want 201: %s", w.Code, w.Body)
	}

	var item models.MenuItem
	if err := json.Unmarshal(w.Body.Bytes(), &item); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if item.ID == 0 {
		t.Fatal("created item has no id")
	}
}

func TestAddMenuItemValidation(t *testing.T) {
	s := testServer(&fakeMenuStore{}, &fakeRunner{})

	w := doRequest(t, s, http.MethodPost, "/api/menu", []byte(`{"category": "Wraps"}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid item = %d, want 400", w.Code)
	}
}

func TestAddMenuItemStoreFailure(t *testing.T) {
	menu := &fakeMenuStore{storeErr: errors.New("connection reset by peer")}
	s := testServer(menu, &fakeRunner{})

	body := []byte(`{"item_name": "Cola", "category": "Drinks", "item_price": "3.00"}`)
	w := doRequest(t, s, http.MethodPost, "/api/menu", body)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("database failure = %d, want 500", w.Code)
	}
}

func TestUpdateMenuItemNotFound(t *testing.T) {
	s := testServer(&fakeMenuStore{}, &fakeRunner{})

	w := doRequest(t, s, http.MethodPut, "/api/menu/99", []byte(`{"item_name": "Cola", "category": "Drinks", "item_price": "3.00"}`))
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing item = %d, want 404", w.Code)
	}
}

func TestDeleteMenuItemStoreFailure(t *testing.T) {
	menu := &fakeMenuStore{storeErr: errors.New("connection reset by peer")}
	s := testServer(menu, &fakeRunner{})

	w := doRequest(t, s, http.MethodDelete, "/api/menu/3", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("database failure = %d, want 500", w.Code)
	}
}

func TestUpdateMenuItemBadID(t *testing.T) {
	s := testServer(&fakeMenuStore{}, &fakeRunner{})

	w := doRequest(t, s, http.MethodPut, "/api/menu/abc", []byte(`{"item_name": "Cola"}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id = %d, want 400", w.Code)
	}
}

func TestDeleteMenuItem(t *testing.T) {
	menu := &fakeMenuStore{}
	s := testServer(menu, &fakeRunner{})

	w := doRequest(t, s, http.MethodDelete, "/api/menu/3", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d, want 204", w.Code)
	}
	if len(menu.deleted) != 1 || menu.deleted[0] != 3 {
		t.Fatalf("delete not forwarded to store: %v", menu.deleted)
	}
}

func TestForecastDefaultHorizon(t *testing.T) {
	runner := &fakeRunner{result: &pipeline.Result{RunID: "r1"}}
	s := testServer(&fakeMenuStore{}, runner)

	w := doRequest(t, s, http.MethodGet, "/api/forecast", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("forecast = %d, want 200: %s", w.Code, w.Body)
	}
	if runner.last.HorizonDays != 7 {
		t.Fatalf("default horizon = %d, want 7", runner.last.HorizonDays)
	}
}

func TestForecastRejectsInvalidHorizon(t *testing.T) {
	runner := &fakeRunner{result: &pipeline.Result{}}
	s := testServer(&fakeMenuStore{}, runner)

	for _, q := range []string{"horizon=14", "horizon=0", "horizon=abc"} {
		w := doRequest(t, s, http.MethodGet, "/api/forecast?"+q, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s = %d, want 400", q, w.Code)
		}
	}

	w := doRequest(t, s, http.MethodGet, "/api/forecast?horizon=30", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("horizon=30 = %d, want 200", w.Code)
	}
	if runner.last.HorizonDays != 30 {
		t.Fatalf("horizon not forwarded: %d", runner.last.HorizonDays)
	}
}

func TestForecastFilterParsing(t *testing.T) {
	runner := &fakeRunner{result: &pipeline.Result{}}
	s := testServer(&fakeMenuStore{}, runner)

	w := doRequest(t, s, http.MethodGet,
		"/api/forecast?from=2023-04-01&to=2023-04-30&categories=Shawarma,Drinks&q=cola", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("filtered forecast = %d, want 200: %s", w.Code, w.Body)
	}

	f := runner.last.Filter
	if f.From == nil || f.To == nil {
		t.Fatal("date range not parsed")
	}
	if !f.To.After(*f.From) {
		t.Fatal("'to' must be after 'from'")
	}
	if f.To.Hour() != 23 {
		t.Fatalf("'to' not extended to end of day: %v", f.To)
	}
	if len(f.Categories) != 2 || f.Categories[1] != "Drinks" {
		t.Fatalf("categories not parsed: %v", f.Categories)
	}
	if f.SearchTerm != "cola" {
		t.Fatalf("search term = %q", f.SearchTerm)
	}
}

func TestDashboardBadDate(t *testing.T) {
	s := testServer(&fakeMenuStore{}, &fakeRunner{result: &pipeline.Result{}})

	w := doRequest(t, s, http.MethodGet, "/api/dashboard?from=04-01-2023", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad date = %d, want 400", w.Code)
	}
}

func TestDashboardInsufficientData(t *testing.T) {
	runner := &fakeRunner{err: &cleaner.InsufficientDataError{Remaining: 1, DistinctDates: 1, MinDates: 2}}
	s := testServer(&fakeMenuStore{}, runner)

	w := doRequest(t, s, http.MethodGet, "/api/dashboard", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("insufficient data = %d, want 422: %s", w.Code, w.Body)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp["min_dates"] != float64(2) {
		t.Fatalf("missing failure detail: %v", resp)
	}
}

func TestDashboardServerError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("database unavailable")}
	s := testServer(&fakeMenuStore{}, runner)

	w := doRequest(t, s, http.MethodGet, "/api/dashboard", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("server error = %d, want 500", w.Code)
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":               ":8080",
		":9090":          ":9090",
		"localhost":      "localhost:8080",
		"localhost:9090": "localhost:9090",
	}
	for in, want := range cases {
		if got := normalizeAddress(in); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", in, got, want)
		}
	}
}
