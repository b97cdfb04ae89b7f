package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mcclellann/debtcalc/pkg/models"
	"github.com/mcclellann/debtcalc/pkg/store"
	"github.com/shopspring/decimal"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(store.NewMemoryStore())
}

func TestAPI_AddAndGetLoan(t *testing.T) {
	server := setupTestServer(t)
	router := server.routes()

	req := httptest.NewRequest("POST", "/loans", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", rr.Code)
	}

	var created models.Loan
	json.Unmarshal(rr.Body.Bytes(), &created)
	if created.TenureMonths != 12 || !created.ExtraMonthly.IsZero() {
		t.Errorf("Expected default terms, got %+v", created)
	}

	req = httptest.NewRequest("GET", "/loans/"+created.ID, nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var fetched models.Loan
	json.Unmarshal(rr.Body.Bytes(), &fetched)
	if fetched.ID != created.ID {
		t.Errorf("Expected ID %s, got %s", created.ID, fetched.ID)
	}
}

func TestAPI_UpdateClampsOutOfRangeFields(t *testing.T) {
	server := setupTestServer(t)
	router := server.routes()

	patch := map[string]interface{}{
		"annualRate":   95.0,
		"principal":    -100.0,
		"tenureMonths": 0,
	}
	body, _ := json.Marshal(patch)
	req := httptest.NewRequest("PATCH", "/loans/L1", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var updated models.Loan
	json.Unmarshal(rr.Body.Bytes(), &updated)
	if !updated.AnnualRate.Equal(models.MaxAnnualRate) {
		t.Errorf("Expected rate clamped to 30, got %s", updated.AnnualRate)
	}
	if !updated.Principal.IsZero() {
		t.Errorf("Expected principal clamped to 0, got %s", updated.Principal)
	}
	if updated.TenureMonths != 1 {
		t.Errorf("Expected tenure clamped to 1, got %d", updated.TenureMonths)
	}
}

func TestAPI_UpdateUnknownLoan(t *testing.T) {
	server := setupTestServer(t)
	router := server.routes()

	body := []byte(`{"description":"ghost"}`)
	req := httptest.NewRequest("PUT", "/loans/nope", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestAPI_DeleteLoan(t *testing.T) {
	server := setupTestServer(t)
	router := server.routes()

	req := httptest.NewRequest("DELETE", "/loans/L2", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", rr.Code)
	}

	req = httptest.NewRequest("GET", "/loans/L2", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 after delete, got %d", rr.Code)
	}
}

func TestAPI_SummaryEndpoint(t *testing.T) {
	server := setupTestServer(t)
	router := server.routes()

	req := httptest.NewRequest("GET", "/loans/L1/summary", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var summary models.LoanSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("Failed to decode summary: %v", err)
	}
	// Sample L1: 2.5M at 8.2% over 240 months.
	if !summary.EMI.Round(0).Equal(decimal.NewFromInt(21223)) {
		t.Errorf("Expected EMI to round to 21223, got %s", summary.EMI)
	}
	if !summary.InterestSaved.GreaterThan(decimal.Zero) {
		t.Errorf("Expected positive interest saved, got %s", summary.InterestSaved)
	}
}

func TestAPI_ScheduleCSV(t *testing.T) {
	server := setupTestServer(t)
	router := server.routes()

	req := httptest.NewRequest("GET", "/loans/L2/schedule.csv", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Expected text/csv content type, got %s", ct)
	}

	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if lines[0] != "Index,Date,Payment,Interest,Principal,ExtraApplied,Balance" {
		t.Errorf("Unexpected header row: %s", lines[0])
	}
	if len(lines) < 2 {
		t.Fatal("Expected at least one schedule row")
	}
}

func TestAPI_ExportCSV(t *testing.T) {
	server := setupTestServer(t)
	router := server.routes()

	req := httptest.NewRequest("GET", "/export.csv", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 3 { // header + two sample loans
		t.Fatalf("Expected 3 CSV lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "Description,Principal,StartDate") {
		t.Errorf("Unexpected header row: %s", lines[0])
	}
}

func TestAPI_SummariesSortedByOutstanding(t *testing.T) {
	server := setupTestServer(t)
	router := server.routes()

	body := []byte(`{"sortBy":"outstanding"}`)
	req := httptest.NewRequest("PUT", "/ui", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 setting UI, got %d", rr.Code)
	}

	req = httptest.NewRequest("GET", "/summaries", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var rows []struct {
		Loan    models.Loan        `json:"loan"`
		Summary models.LoanSummary `json:"summary"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &rows); err != nil {
		t.Fatalf("Failed to decode summaries: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0].Summary.Remaining.LessThan(rows[1].Summary.Remaining) {
		t.Error("Expected rows sorted by outstanding, descending")
	}
}

func TestAPI_UndoRoundTrip(t *testing.T) {
	server := setupTestServer(t)
	router := server.routes()

	req := httptest.NewRequest("POST", "/loans", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	req = httptest.NewRequest("POST", "/undo", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	req = httptest.NewRequest("GET", "/loans", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var loans []models.Loan
	json.Unmarshal(rr.Body.Bytes(), &loans)
	if len(loans) != 2 {
		t.Errorf("Expected undo to drop the added loan, got %d loans", len(loans))
	}
}

func TestAPI_KPI(t *testing.T) {
	server := setupTestServer(t)
	router := server.routes()

	req := httptest.NewRequest("GET", "/kpi", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var kpi struct {
		TotalEMI         decimal.Decimal `json:"totalEmi"`
		TotalOutstanding decimal.Decimal `json:"totalOutstanding"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &kpi); err != nil {
		t.Fatalf("Failed to decode KPI: %v", err)
	}
	if !kpi.TotalEMI.GreaterThan(decimal.Zero) {
		t.Errorf("Expected positive total EMI, got %s", kpi.TotalEMI)
	}
}

func TestAPI_SelectAndClear(t *testing.T) {
	server := setupTestServer(t)
	router := server.routes()

	body := []byte(`{"id":"L1"}`)
	req := httptest.NewRequest("POST", "/select", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var ui models.UIState
	json.Unmarshal(rr.Body.Bytes(), &ui)
	if ui.SelectedID == nil || *ui.SelectedID != "L1" {
		t.Errorf("Expected L1 selected, got %+v", ui)
	}

	req = httptest.NewRequest("POST", "/select", bytes.NewBuffer([]byte(`{"id":null}`)))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	json.Unmarshal(rr.Body.Bytes(), &ui)
	if ui.SelectedID != nil {
		t.Errorf("Expected selection cleared, got %v", *ui.SelectedID)
	}
}
