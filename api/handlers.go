/*
handlers.go - HTTP API handlers for the billing core

PURPOSE:
  Exposes the approval, composition and cost engines via REST. Handles
  HTTP request/response, JSON serialization, actor resolution, and
  delegates all business rules to the billing and costs packages.

ENDPOINTS:
  Expenses:
    POST   /api/expenses                    Create expense
    PUT    /api/expenses/{id}               Edit expense (pre-approval)
    GET    /api/expenses/{id}               Get expense
    GET    /api/expenses?project_id=...     List expenses
    POST   /api/expenses/{id}/approve       Approve
    POST   /api/expenses/{id}/reject        Reject (blocked while linked)

  Reimbursements:
    POST   /api/reimbursements              Create reimbursement
    PUT    /api/reimbursements/{id}         Edit (pre-approval)
    POST   /api/reimbursements/{id}/approve Approve
    POST   /api/reimbursements/{id}/reject  Reject

  Invoices:
    POST   /api/invoices                    Compose new invoice
    PUT    /api/invoices/{id}               Re-compose (edit selection)
    GET    /api/invoices/{id}               Get invoice
    DELETE /api/invoices/{id}               Delete and release expenses
    GET    /api/invoices/eligible-expenses  Candidates for composition
    POST   /api/invoices/{id}/approve       Approve
    POST   /api/invoices/{id}/reject        Reject (links stay)
    POST   /api/invoices/{id}/pay           Mark paid

  Projects & reports:
    POST   /api/projects                    Create project (admin)
    PUT    /api/projects/{id}               Edit project (admin)
    GET    /api/projects                    List projects
    GET    /api/projects/{id}/costs?month=  Monthly snapshot + signal
    GET    /api/reports/overruns?month=     Over-budget ranking

ACTOR RESOLUTION:
  The session layer is out of scope; the caller identity arrives in
  headers resolved upstream:
    X-Tenant-ID: active tenant (required)
    X-User-ID:   caller id (required)
    X-Role:      "admin" or "operator" (defaults to operator)

ERROR HANDLING:
  Domain errors map to HTTP status via their sentinel:
  - 400: InvalidSelection, malformed input
  - 403: Forbidden
  - 404: NotFound
  - 409: IllegalTransition, Conflict
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/costs"
	"github.com/warp/billing-engine/money"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       billing.Gateway
	Registry    *billing.Registry
	Approvals   *billing.ApprovalService
	Composition *billing.CompositionService
	Calculator  *costs.Calculator
}

// NewHandler wires the engines over the given store and audit sink.
func NewHandler(store billing.Gateway, audit billing.AuditSink) *Handler {
	return &Handler{
		Store:       store,
		Registry:    billing.NewRegistry(store),
		Approvals:   billing.NewApprovalService(store, audit),
		Composition: billing.NewCompositionService(store, audit),
		Calculator:  costs.NewCalculator(store),
	}
}

// actorFrom resolves the caller from upstream session headers.
func actorFrom(r *http.Request) (billing.Actor, bool) {
	tenant := r.Header.Get("X-Tenant-ID")
	user := r.Header.Get("X-User-ID")
	if tenant == "" || user == "" {
		return billing.Actor{}, false
	}
	role := billing.RoleOperator
	if r.Header.Get("X-Role") == string(billing.RoleAdmin) {
		role = billing.RoleAdmin
	}
	return billing.Actor{
		UserID:   billing.UserID(user),
		TenantID: billing.TenantID(tenant),
		Role:     role,
	}, true
}

// =============================================================================
// EXPENSE HANDLERS
// =============================================================================

func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-Tenant-ID or X-User-ID header", nil)
		return
	}

	in, err := decodeExpenseInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	e, err := h.Registry.CreateExpense(r.Context(), actor, in)
	if err != nil {
		writeDomainError(w, "Failed to create expense", err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenseDTO(e))
}

func (h *Handler) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-Tenant-ID or X-User-ID header", nil)
		return
	}
	id := billing.ExpenseID(chi.URLParam(r, "id"))

	in, err := decodeExpenseInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	e, err := h.Registry.UpdateExpense(r.Context(), actor, id, in)
	if err != nil {
		writeDomainError(w, "Failed to update expense", err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(e))
}

func (h *Handler) GetExpense(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-Tenant-ID or X-User-ID header", nil)
		return
	}
	id := billing.ExpenseID(chi.URLParam(r, "id"))

	e, err := h.Store.Expense(r.Context(), actor.TenantID, id)
	if err != nil {
		writeDomainError(w, "Failed to get expense", err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(e))
}

func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-Tenant-ID or X-User-ID header", nil)
		return
	}

	var (
		list []*billing.Expense
		err  error
	)
	if projectID := r.URL.Query().Get("project_id"); projectID != "" {
		list, err = h.Store.ExpensesByProject(r.Context(), actor.TenantID, billing.ProjectID(projectID))
	} else {
		list, err = h.Store.ExpensesByTenant(r.Context(), actor.TenantID)
	}
	if err != nil {
		writeDomainError(w, "Failed to list expenses", err)
		return
	}

	dtos := make([]ExpenseDTO, 0, len(list))
	for _, e := range list {
		dtos = append(dtos, toExpenseDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ApproveExpense(w http.ResponseWriter, r *http.Request) {
	h.expenseTransition(w, r, h.Approvals.ApproveExpense)
}

func (h *Handler) RejectExpense(w http.ResponseWriter, r *http.Request) {
	h.expenseTransition(w, r, h.Approvals.RejectExpense)
}

func (h *Handler) expenseTransition(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, actor billing.Actor, id billing.ExpenseID) (*billing.Expense, error)) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-Tenant-ID or X-User-ID header", nil)
		return
	}
	id := billing.ExpenseID(chi.URLParam(r, "id"))

	e, err := fn(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, "Transition failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(e))
}

// =============================================================================
// REIMBURSEMENT HANDLERS
// =============================================================================

func (h *Handler) CreateReimbursement(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-Tenant-ID or X-User-ID header", nil)
		return
	}

	in, err := decodeReimbursementInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rb, err := h.Registry.CreateReimbursement(r.Context(), actor, in)
	if err != nil {
		writeDomainError(w, "Failed to create reimbursement", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReimbursementDTO(rb))
}

func (h *Handler) UpdateReimbursement(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-Tenant-ID or X-User-ID header", nil)
		return
	}
	id := billing.ReimbursementID(chi.URLParam(r, "id"))

	in, err := decodeReimbursementInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rb, err := h.Registry.UpdateReimbursement(r.Context(), actor, id, in)
	if err != nil {
		writeDomainError(w, "Failed to update reimbursement", err)
		return
	}
	writeJSON(w, http.StatusOK, toReimbursementDTO(rb))
}

func (h *Handler) ApproveReimbursement(w http.ResponseWriter, r *http.Request) {
	h.reimbursementTransition(w, r, h.Approvals.ApproveReimbursement)
}

func (h *Handler) RejectReimbursement(w http.ResponseWriter, r *http.Request) {
	h.reimbursementTransition(w, r, h.Approvals.RejectReimbursement)
}

func (h *Handler) reimbursementTransition(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, actor billing.Actor, id billing.ReimbursementID) (*billing.Reimbursement, error)) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-Tenant-ID or X-User-ID header", nil)
		return
	}
	id := billing.ReimbursementID(chi.URLParam(r, "id"))

	rb, err := fn(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, "Transition failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toReimbursementDTO(rb))
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

func (h *Handler) EligibleExpenses(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-Tenant-ID or X-User-ID header", nil)
		return
	}

	var invoiceID *billing.InvoiceID
	if s := r.URL.Query().Get("invoice_id"); s != "" {
		id := billing.InvoiceID(s)
		invoiceID = &id
	}

	list, err := h.Composition.EligibleExpenses(r.Context(), actor.TenantID, invoiceID)
	if err != nil {
		writeDomainError(w, "Failed to list eligible expenses", err)
		return
	}

	dtos := make([]ExpenseDTO, 0, len(list))
	for _, e := range list {
		dtos = append(dtos, toExpenseDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	h.saveInvoice(w, r, nil)
}

func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))
	h.saveInvoice(w, r, &id)
}

func (h *Handler) saveInvoice(w http.ResponseWriter, r *http.Request, id *billing.InvoiceID) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-Tenant-ID or X-User-ID header", nil)
		return
	}

	var req InvoiceSaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	competency, err := money.ParseMonth(req.MonthCompetency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month_competency (use YYYY-MM)", err)
		return
	}
	issue, err := money.ParseMonth(req.MonthIssue)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month_issue (use YYYY-MM)", err)
		return
	}

	ids := make([]billing.ExpenseID, 0, len(req.ExpenseIDs))
	for _, s := range req.ExpenseIDs {
		ids = append(ids, billing.ExpenseID(s))
	}

	inv, err := h.Composition.SaveInvoice(r.Context(), actor, billing.SaveInvoiceInput{
		InvoiceID:          id,
		SelectedExpenseIDs: ids,
		MonthCompetency:    competency,
		MonthIssue:         issue,
		FileRef:            req.FileRef,
	})
	if err != nil {
		writeDomainError(w, "Failed to save invoice", err)
		return
	}

	status := http.StatusOK
	if id == nil {
		status = http.StatusCreated
	}
	writeJSON(w, status, toInvoiceDTO(inv))
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-Tenant-ID or X-User-ID header", nil)
		return
	}
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	inv, err := h.Store.Invoice(r.Context(), actor.TenantID, id)
	if err != nil {
		writeDomainError(w, "Failed to get invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-Tenant-ID or X-User-ID header", nil)
		return
	}

	list, err := h.Store.InvoicesByTenant(r.Context(), actor.TenantID)
	if err != nil {
		writeDomainError(w, "Failed to list invoices", err)
		return
	}

	dtos := make([]InvoiceDTO, 0, len(list))
	for _, inv := range list {
		dtos = append(dtos, toInvoiceDTO(inv))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-Tenant-ID or X-User-ID header", nil)
		return
	}
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	if err := h.Composition.DeleteInvoice(r.Context(), actor, id); err != nil {
		writeDomainError(w, "Failed to delete invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) ApproveInvoice(w http.ResponseWriter, r *http.Request) {
	h.invoiceTransition(w, r, h.Approvals.ApproveInvoice)
}

func (h *Handler) RejectInvoice(w http.ResponseWriter, r *http.Request) {
	h.invoiceTransition(w, r, h.Approvals.RejectInvoice)
}

func (h *Handler) PayInvoice(w http.ResponseWriter, r *http.Request) {
	h.invoiceTransition(w, r, h.Approvals.MarkInvoicePaid)
}

func (h *Handler) invoiceTransition(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, actor billing.Actor, id billing.InvoiceID) (*billing.Invoice, error)) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-Tenant-ID or X-User-ID header", nil)
		return
	}
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	inv, err := fn(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, "Transition failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// =============================================================================
// PROJECT & REPORT HANDLERS
// =============================================================================

func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-Tenant-ID or X-User-ID header", nil)
		return
	}

	in, err := decodeProjectInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Registry.CreateProject(r.Context(), actor, in)
	if err != nil {
		writeDomainError(w, "Failed to create project", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProjectDTO(p))
}

func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-Tenant-ID or X-User-ID header", nil)
		return
	}
	id := billing.ProjectID(chi.URLParam(r, "id"))

	in, err := decodeProjectInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Registry.UpdateProject(r.Context(), actor, id, in)
	if err != nil {
		writeDomainError(w, "Failed to update project", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(p))
}

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-Tenant-ID or X-User-ID header", nil)
		return
	}

	list, err := h.Store.ProjectsByTenant(r.Context(), actor.TenantID)
	if err != nil {
		writeDomainError(w, "Failed to list projects", err)
		return
	}

	dtos := make([]ProjectDTO, 0, len(list))
	for _, p := range list {
		dtos = append(dtos, toProjectDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetProjectCosts returns the monthly cost snapshot plus the overrun signal.
func (h *Handler) GetProjectCosts(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-Tenant-ID or X-User-ID header", nil)
		return
	}
	projectID := billing.ProjectID(chi.URLParam(r, "id"))

	month, err := money.ParseMonth(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", err)
		return
	}

	ctx := r.Context()
	snap, err := h.Calculator.CostsReal(ctx, actor.TenantID, projectID, month)
	if err != nil {
		writeDomainError(w, "Failed to calculate costs", err)
		return
	}
	sig, err := h.Calculator.ProjectSignal(ctx, actor.TenantID, projectID, month)
	if err != nil {
		writeDomainError(w, "Failed to classify signal", err)
		return
	}
	p, err := h.Store.Project(ctx, actor.TenantID, projectID)
	if err != nil {
		writeDomainError(w, "Failed to get project", err)
		return
	}

	writeJSON(w, http.StatusOK, CostsDTO{
		ProjectID: string(projectID),
		Month:     month.String(),
		NFCost:    snap.NFCost,
		OtherCost: snap.OtherCost,
		Total:     snap.Total,
		Planned:   p.CostPlanned,
		Signal:    string(sig.Class),
		DeltaPct:  sig.DeltaPct.String(),
	})
}

// GetOverruns returns the over-budget ranking for the month.
func (h *Handler) GetOverruns(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-Tenant-ID or X-User-ID header", nil)
		return
	}

	month, err := money.ParseMonth(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", err)
		return
	}

	entries, err := h.Calculator.Overruns(r.Context(), actor.TenantID, month)
	if err != nil {
		writeDomainError(w, "Failed to calculate overruns", err)
		return
	}

	dtos := make([]OverrunDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, OverrunDTO{
			ProjectID:   string(e.Project.ID),
			ProjectCode: e.Project.Code,
			ProjectName: e.Project.Name,
			Real:        e.Real,
			Planned:     e.Planned,
			Diff:        e.Diff,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// INPUT DECODING
// =============================================================================

func decodeExpenseInput(r *http.Request) (billing.ExpenseInput, error) {
	var req ExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return billing.ExpenseInput{}, err
	}
	dateBuy, err := time.Parse("2006-01-02", req.DateBuy)
	if err != nil {
		return billing.ExpenseInput{}, err
	}
	return billing.ExpenseInput{
		ProjectID:   billing.ProjectID(req.ProjectID),
		ServiceID:   billing.ServiceID(req.ServiceID),
		ServiceName: req.ServiceName,
		Complement:  req.Complement,
		Value:       req.Value,
		DateBuy:     dateBuy,
	}, nil
}

func decodeReimbursementInput(r *http.Request) (billing.ReimbursementInput, error) {
	var req ReimbursementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return billing.ReimbursementInput{}, err
	}
	dateBuy, err := time.Parse("2006-01-02", req.DateBuy)
	if err != nil {
		return billing.ReimbursementInput{}, err
	}
	return billing.ReimbursementInput{
		ProjectID:   billing.ProjectID(req.ProjectID),
		Description: req.Description,
		Value:       req.Value,
		DateBuy:     dateBuy,
	}, nil
}

func decodeProjectInput(r *http.Request) (billing.ProjectInput, error) {
	var req ProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return billing.ProjectInput{}, err
	}
	in := billing.ProjectInput{
		ClientID:         billing.ClientID(req.ClientID),
		Code:             req.Code,
		Name:             req.Name,
		ValueTotal:       req.ValueTotal,
		CostPlannedNF:    req.CostPlannedNF,
		CostPlannedOther: req.CostPlannedOther,
	}
	if req.IndicatorOverridePct != nil {
		d, err := decimal.NewFromString(*req.IndicatorOverridePct)
		if err != nil {
			return billing.ProjectInput{}, err
		}
		in.IndicatorOverridePct = &d
	}
	return in, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, billing.ErrNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, billing.ErrForbidden):
		writeError(w, http.StatusForbidden, message, err)
	case errors.Is(err, billing.ErrInvalidSelection):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, billing.ErrIllegalTransition), errors.Is(err, billing.ErrConflict):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
