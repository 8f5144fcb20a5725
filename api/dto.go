/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  Defines all data transfer objects (DTOs) exchanged with clients. These
  are deliberately decoupled from the domain types in billing/ so the wire
  format can evolve without touching the core.

CONVENTIONS:
  - JSON field names are snake_case
  - Money renders as a decimal string ("180.00"), never a float
  - Months render as "YYYY-MM", dates as "YYYY-MM-DD"
  - Timestamps render as RFC3339

SEE ALSO:
  - handlers.go: Conversion between DTOs and domain types
*/
package api

import (
	"time"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/money"
)

// =============================================================================
// REQUEST DTOS
// =============================================================================

// ExpenseRequest creates or edits an expense.
type ExpenseRequest struct {
	ProjectID   string      `json:"project_id"`
	ServiceID   string      `json:"service_id,omitempty"`
	ServiceName string      `json:"service_name,omitempty"`
	Complement  string      `json:"complement,omitempty"`
	Value       money.Money `json:"value"`
	DateBuy     string      `json:"date_buy"` // YYYY-MM-DD
}

// ReimbursementRequest creates or edits a reimbursement.
type ReimbursementRequest struct {
	ProjectID   string      `json:"project_id,omitempty"`
	Description string      `json:"description,omitempty"`
	Value       money.Money `json:"value"`
	DateBuy     string      `json:"date_buy"` // YYYY-MM-DD
}

// ProjectRequest creates or edits a project. cost_planned is absent on
// purpose: it is derived server-side from the two planned buckets.
type ProjectRequest struct {
	ClientID             string      `json:"client_id,omitempty"`
	Code                 string      `json:"code"`
	Name                 string      `json:"name"`
	ValueTotal           money.Money `json:"value_total"`
	CostPlannedNF        money.Money `json:"cost_planned_nf"`
	CostPlannedOther     money.Money `json:"cost_planned_other"`
	IndicatorOverridePct *string     `json:"indicator_override_pct,omitempty"`
}

// InvoiceSaveRequest creates or edits an invoice from selected expenses.
// Any total supplied by the client is ignored.
type InvoiceSaveRequest struct {
	ExpenseIDs      []string `json:"expense_ids"`
	MonthCompetency string   `json:"month_competency"` // YYYY-MM
	MonthIssue      string   `json:"month_issue"`      // YYYY-MM
	FileRef         string   `json:"file_ref,omitempty"`
}

// =============================================================================
// RESPONSE DTOS
// =============================================================================

type ExpenseDTO struct {
	ID          string      `json:"id"`
	ProjectID   string      `json:"project_id"`
	ServiceID   string      `json:"service_id,omitempty"`
	ServiceName string      `json:"service_name,omitempty"`
	Complement  string      `json:"complement,omitempty"`
	Value       money.Money `json:"value"`
	DateBuy     string      `json:"date_buy"`
	Status      string      `json:"status"`
	InvoiceID   *string     `json:"invoice_id,omitempty"`
	CreatedBy   string      `json:"created_by"`
	Version     int         `json:"version"`
	CreatedAt   string      `json:"created_at"`
}

type ReimbursementDTO struct {
	ID          string      `json:"id"`
	ProjectID   string      `json:"project_id,omitempty"`
	Requester   string      `json:"requester"`
	Description string      `json:"description,omitempty"`
	Value       money.Money `json:"value"`
	DateBuy     string      `json:"date_buy"`
	Status      string      `json:"status"`
	Version     int         `json:"version"`
	CreatedAt   string      `json:"created_at"`
}

type InvoiceItemDTO struct {
	ProjectID   string      `json:"project_id"`
	ExpenseID   string      `json:"expense_id"`
	Description string      `json:"description,omitempty"`
	Value       money.Money `json:"value"`
}

type InvoiceDTO struct {
	ID              string           `json:"id"`
	MonthCompetency string           `json:"month_competency"`
	MonthIssue      string           `json:"month_issue"`
	Status          string           `json:"status"`
	Items           []InvoiceItemDTO `json:"items"`
	Total           money.Money      `json:"total"`
	FileRef         string           `json:"file_ref,omitempty"`
	CreatedBy       string           `json:"created_by"`
	Version         int              `json:"version"`
	CreatedAt       string           `json:"created_at"`
}

type ProjectDTO struct {
	ID                   string      `json:"id"`
	ClientID             string      `json:"client_id,omitempty"`
	Code                 string      `json:"code"`
	Name                 string      `json:"name"`
	ValueTotal           money.Money `json:"value_total"`
	CostPlannedNF        money.Money `json:"cost_planned_nf"`
	CostPlannedOther     money.Money `json:"cost_planned_other"`
	CostPlanned          money.Money `json:"cost_planned"`
	IndicatorOverridePct *string     `json:"indicator_override_pct,omitempty"`
	Version              int         `json:"version"`
	CreatedAt            string      `json:"created_at"`
}

// CostsDTO combines the monthly snapshot with the overrun signal, the
// shape the project dashboard renders from.
type CostsDTO struct {
	ProjectID string      `json:"project_id"`
	Month     string      `json:"month"`
	NFCost    money.Money `json:"nf_cost"`
	OtherCost money.Money `json:"other_cost"`
	Total     money.Money `json:"total"`
	Planned   money.Money `json:"planned"`
	Signal    string      `json:"signal"`
	DeltaPct  string      `json:"delta_pct"`
}

type OverrunDTO struct {
	ProjectID   string      `json:"project_id"`
	ProjectCode string      `json:"project_code"`
	ProjectName string      `json:"project_name"`
	Real        money.Money `json:"real"`
	Planned     money.Money `json:"planned"`
	Diff        money.Money `json:"diff"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toExpenseDTO(e *billing.Expense) ExpenseDTO {
	dto := ExpenseDTO{
		ID:          string(e.ID),
		ProjectID:   string(e.ProjectID),
		ServiceID:   string(e.ServiceID),
		ServiceName: e.ServiceName,
		Complement:  e.Complement,
		Value:       e.Value,
		DateBuy:     e.DateBuy.Format("2006-01-02"),
		Status:      string(e.Status),
		CreatedBy:   string(e.CreatedBy),
		Version:     e.Version,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
	if e.InvoiceID != nil {
		s := string(*e.InvoiceID)
		dto.InvoiceID = &s
	}
	return dto
}

func toReimbursementDTO(r *billing.Reimbursement) ReimbursementDTO {
	return ReimbursementDTO{
		ID:          string(r.ID),
		ProjectID:   string(r.ProjectID),
		Requester:   string(r.Requester),
		Description: r.Description,
		Value:       r.Value,
		DateBuy:     r.DateBuy.Format("2006-01-02"),
		Status:      string(r.Status),
		Version:     r.Version,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
	}
}

func toInvoiceDTO(i *billing.Invoice) InvoiceDTO {
	items := make([]InvoiceItemDTO, len(i.Items))
	for k, item := range i.Items {
		items[k] = InvoiceItemDTO{
			ProjectID:   string(item.ProjectID),
			ExpenseID:   string(item.ExpenseID),
			Description: item.Description,
			Value:       item.Value,
		}
	}
	return InvoiceDTO{
		ID:              string(i.ID),
		MonthCompetency: i.MonthCompetency.String(),
		MonthIssue:      i.MonthIssue.String(),
		Status:          string(i.Status),
		Items:           items,
		Total:           i.Total,
		FileRef:         i.FileRef,
		CreatedBy:       string(i.CreatedBy),
		Version:         i.Version,
		CreatedAt:       i.CreatedAt.Format(time.RFC3339),
	}
}

func toProjectDTO(p *billing.Project) ProjectDTO {
	dto := ProjectDTO{
		ID:               string(p.ID),
		ClientID:         string(p.ClientID),
		Code:             p.Code,
		Name:             p.Name,
		ValueTotal:       p.ValueTotal,
		CostPlannedNF:    p.CostPlannedNF,
		CostPlannedOther: p.CostPlannedOther,
		CostPlanned:      p.CostPlanned,
		Version:          p.Version,
		CreatedAt:        p.CreatedAt.Format(time.RFC3339),
	}
	if p.IndicatorOverridePct != nil {
		s := p.IndicatorOverridePct.String()
		dto.IndicatorOverridePct = &s
	}
	return dto
}
