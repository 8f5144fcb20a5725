package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/api"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/billing/store"
)

// =============================================================================
// TEST FIXTURE
// =============================================================================

type fixture struct {
	router http.Handler
	mem    *store.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mem := store.NewMemory()
	err := mem.PutTenant(context.Background(), &billing.Tenant{
		ID:                  "tenant-1",
		Name:                "Acme Consulting",
		IndicatorDefaultPct: decimal.RequireFromString("0.45"),
	})
	require.NoError(t, err)

	h := api.NewHandler(mem, mem)
	return &fixture{router: api.NewRouter(h), mem: mem}
}

type headers map[string]string

func adminHeaders() headers {
	return headers{"X-Tenant-ID": "tenant-1", "X-User-ID": "admin-1", "X-Role": "admin"}
}

func operatorHeaders() headers {
	return headers{"X-Tenant-ID": "tenant-1", "X-User-ID": "op-1"}
}

func (f *fixture) do(t *testing.T, method, path string, hdr headers, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func (f *fixture) createProject(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/projects", adminHeaders(), map[string]any{
		"code":               "PRJ-001",
		"name":               "Rollout",
		"value_total":        "1000.00",
		"cost_planned_nf":    "60.00",
		"cost_planned_other": "40.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.ProjectDTO](t, rec).ID
}

func (f *fixture) createExpense(t *testing.T, projectID, value string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/expenses", operatorHeaders(), map[string]any{
		"project_id":   projectID,
		"service_name": "consulting",
		"value":        value,
		"date_buy":     "2024-01-10",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.ExpenseDTO](t, rec).ID
}

func (f *fixture) approveExpense(t *testing.T, id string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/expenses/"+id+"/approve", adminHeaders(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// =============================================================================
// EXPENSE LIFECYCLE OVER HTTP
// =============================================================================

func TestCreateExpense_RequiresActorHeaders(t *testing.T) {
	f := newFixture(t)

	// WHEN: creating an expense with no identity headers
	rec := f.do(t, http.MethodPost, "/api/expenses", nil, map[string]any{
		"project_id": "whatever", "value": "10.00", "date_buy": "2024-01-10",
	})

	// THEN: bad request
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExpenseApproval_RoleAndStatusMapping(t *testing.T) {
	f := newFixture(t)
	projectID := f.createProject(t)
	expenseID := f.createExpense(t, projectID, "100.00")

	// WHEN: an operator tries to approve
	rec := f.do(t, http.MethodPost, "/api/expenses/"+expenseID+"/approve", operatorHeaders(), nil)
	// THEN: forbidden
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// WHEN: an admin approves
	rec = f.do(t, http.MethodPost, "/api/expenses/"+expenseID+"/approve", adminHeaders(), nil)
	// THEN: ok, status approved
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", decode[api.ExpenseDTO](t, rec).Status)

	// WHEN: the admin approves again
	rec = f.do(t, http.MethodPost, "/api/expenses/"+expenseID+"/approve", adminHeaders(), nil)
	// THEN: conflict (illegal transition)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetExpense_UnknownIDIs404(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/expenses/nope", operatorHeaders(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// INVOICE COMPOSITION OVER HTTP
// =============================================================================

func TestInvoiceCompose_DerivesTotalAndLinks(t *testing.T) {
	f := newFixture(t)
	projectID := f.createProject(t)
	e1 := f.createExpense(t, projectID, "100.00")
	e2 := f.createExpense(t, projectID, "80.00")
	f.approveExpense(t, e1)
	f.approveExpense(t, e2)

	// WHEN: composing an invoice from both expenses
	rec := f.do(t, http.MethodPost, "/api/invoices", operatorHeaders(), map[string]any{
		"expense_ids":      []string{e1, e2},
		"month_competency": "2024-01",
		"month_issue":      "2024-02",
	})

	// THEN: created with the derived total
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	inv := decode[api.InvoiceDTO](t, rec)
	assert.Equal(t, "180.00", inv.Total.String())
	assert.Len(t, inv.Items, 2)
	assert.Equal(t, "submitted", inv.Status)

	// AND: the linked expense can no longer be rejected
	rec = f.do(t, http.MethodPost, "/api/expenses/"+e1+"/reject", adminHeaders(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// AND: the eligible pool is now empty for a new invoice
	rec = f.do(t, http.MethodGet, "/api/invoices/eligible-expenses", operatorHeaders(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]api.ExpenseDTO](t, rec))
}

func TestInvoiceCompose_EmptySelectionIs400(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/invoices", operatorHeaders(), map[string]any{
		"expense_ids":      []string{},
		"month_competency": "2024-01",
		"month_issue":      "2024-01",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvoiceDelete_ReleasesExpenses(t *testing.T) {
	f := newFixture(t)
	projectID := f.createProject(t)
	e1 := f.createExpense(t, projectID, "100.00")
	f.approveExpense(t, e1)

	rec := f.do(t, http.MethodPost, "/api/invoices", operatorHeaders(), map[string]any{
		"expense_ids":      []string{e1},
		"month_competency": "2024-01",
		"month_issue":      "2024-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	inv := decode[api.InvoiceDTO](t, rec)

	// WHEN: deleting the invoice
	rec = f.do(t, http.MethodDelete, "/api/invoices/"+inv.ID, operatorHeaders(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: the expense is approved and unlinked again
	rec = f.do(t, http.MethodGet, "/api/expenses/"+e1, operatorHeaders(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decode[api.ExpenseDTO](t, rec)
	assert.Equal(t, "approved", dto.Status)
	assert.Nil(t, dto.InvoiceID)
}

// =============================================================================
// COSTS & REPORTS OVER HTTP
// =============================================================================

func TestProjectCosts_SignalAndSnapshot(t *testing.T) {
	f := newFixture(t)
	projectID := f.createProject(t)
	e1 := f.createExpense(t, projectID, "180.00")
	f.approveExpense(t, e1)

	// WHEN: reading the purchase month dashboard (planned 100.00, real 180.00)
	path := fmt.Sprintf("/api/projects/%s/costs?month=2024-01", projectID)
	rec := f.do(t, http.MethodGet, path, operatorHeaders(), nil)

	// THEN: snapshot and a red signal (delta 0.8 > 0.45)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dto := decode[api.CostsDTO](t, rec)
	assert.Equal(t, "180.00", dto.Total.String())
	assert.Equal(t, "100.00", dto.Planned.String())
	assert.Equal(t, "red", dto.Signal)
}

func TestProjectCosts_BadMonthIs400(t *testing.T) {
	f := newFixture(t)
	projectID := f.createProject(t)

	rec := f.do(t, http.MethodGet, "/api/projects/"+projectID+"/costs?month=January", operatorHeaders(), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOverrunsReport(t *testing.T) {
	f := newFixture(t)
	projectID := f.createProject(t)
	e1 := f.createExpense(t, projectID, "180.00")
	f.approveExpense(t, e1)

	rec := f.do(t, http.MethodGet, "/api/reports/overruns?month=2024-01", adminHeaders(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	entries := decode[[]api.OverrunDTO](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "PRJ-001", entries[0].ProjectCode)
	assert.Equal(t, "80.00", entries[0].Diff.String())
}

// =============================================================================
// PROJECT WRITE PATHS
// =============================================================================

func TestCreateProject_OperatorForbidden(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/projects", operatorHeaders(), map[string]any{
		"code": "PRJ-X", "name": "Nope",
		"value_total": "1.00", "cost_planned_nf": "1.00", "cost_planned_other": "0.00",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateProject_DerivesPlannedTotal(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/projects", adminHeaders(), map[string]any{
		"code":               "PRJ-002",
		"name":               "Derived",
		"value_total":        "500.00",
		"cost_planned_nf":    "30.00",
		"cost_planned_other": "25.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "55.00", decode[api.ProjectDTO](t, rec).CostPlanned.String())
}
