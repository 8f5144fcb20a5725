/*
Package billing provides the expense/invoice approval core.

PURPOSE:
  This package contains the tenant-scoped domain model and the two engines
  built on top of it: the approval state machine (approval.go) and the
  invoice composition engine (invoice.go). Expenses and reimbursements are
  submitted by operators, approved or rejected by an admin, and approved
  expenses are later bundled into supplier invoices whose totals are always
  derived from their line items.

KEY CONCEPTS IN THIS FILE (types.go):
  - Actor: The authenticated caller (id, role, active tenant)
  - Expense ("OS"): A cost submitted for approval, optionally linked to one Invoice
  - Reimbursement: An out-of-pocket cost, never linked to an Invoice
  - Invoice ("NF"): A supplier invoice composed from approved Expenses
  - Project: Carries planned budget and the signal threshold override

DESIGN PRINCIPLES:
  1. Closed status enumerations with explicit transition tables (approval.go),
     never free-form string comparison
  2. Derived fields (Invoice.Total, Project.CostPlanned) have exactly one
     authoritative recompute function and are never set directly
  3. Every mutable entity carries a Version for optimistic concurrency
  4. Tenant scoping is checked on every load; cross-tenant ids resolve to
     ErrNotFound, never to another tenant's row

SEE ALSO:
  - approval.go: Transition tables and the ApprovalService
  - invoice.go: Invoice composition and link reconciliation
  - store.go: Gateway persistence interface
*/
package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/money"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type UserID string
type ProjectID string
type ClientID string
type ServiceID string
type ExpenseID string
type ReimbursementID string
type InvoiceID string

// NewID mints a fresh random identifier.
func NewID() string { return uuid.NewString() }

// =============================================================================
// ACTOR - The authenticated caller
// =============================================================================

// Role is the coarse permission level resolved by the (external) session
// layer. The core only distinguishes privileged admins from operators.
type Role string

const (
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// Actor identifies who is performing an operation and under which tenant.
// Produced by the session resolver, which is outside this package.
type Actor struct {
	UserID   UserID
	TenantID TenantID
	Role     Role
}

// IsPrivileged reports whether the actor may drive approval transitions.
func (a Actor) IsPrivileged() bool { return a.Role == RoleAdmin }

// =============================================================================
// TENANT & PROJECT
// =============================================================================

// Tenant is the isolation boundary. IndicatorDefaultPct is the tenant-wide
// overrun threshold used by the cost signal when a project has no override
// (0.45 means red above 45% over budget).
type Tenant struct {
	ID                  TenantID
	Name                string
	IndicatorDefaultPct decimal.Decimal
}

// Project carries the planned budget the cost signal compares against.
// CostPlanned is always CostPlannedNF + CostPlannedOther; it is recomputed
// by RecomputePlanned on every write path and never set directly.
type Project struct {
	ID       ProjectID
	TenantID TenantID
	ClientID ClientID // optional
	Code     string
	Name     string

	ValueTotal       money.Money // planned revenue
	CostPlannedNF    money.Money
	CostPlannedOther money.Money
	CostPlanned      money.Money // derived

	// IndicatorOverridePct, when set, replaces the tenant default threshold
	// for this project's signal.
	IndicatorOverridePct *decimal.Decimal

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecomputePlanned is the single authoritative derivation of CostPlanned.
func (p *Project) RecomputePlanned() {
	p.CostPlanned = p.CostPlannedNF.Add(p.CostPlannedOther)
}

// =============================================================================
// EXPENSE ("OS")
// =============================================================================

type ExpenseStatus string

const (
	ExpenseSubmitted ExpenseStatus = "submitted"
	ExpenseApproved  ExpenseStatus = "approved"
	ExpenseRejected  ExpenseStatus = "rejected"
	ExpenseInvoiced  ExpenseStatus = "invoiced"
)

// Expense is a cost submitted for approval. Once approved it becomes a
// candidate for invoice composition; InvoiceID is owned by the composition
// engine and only read here (the reject guard).
type Expense struct {
	ID        ExpenseID
	TenantID  TenantID
	ProjectID ProjectID
	ServiceID ServiceID // optional

	ServiceName string
	Complement  string // free-text addition to the line item description

	Value   money.Money
	DateBuy time.Time // determines the month bucket for "other" cost
	Status  ExpenseStatus

	// InvoiceID is the exclusive link to at most one invoice. Set and
	// cleared only by the composition engine's reconciliation step.
	InvoiceID *InvoiceID

	CreatedBy UserID
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLinked reports whether the expense is claimed by an invoice.
func (e *Expense) IsLinked() bool { return e.InvoiceID != nil }

// =============================================================================
// REIMBURSEMENT
// =============================================================================

type ReimbursementStatus string

const (
	ReimbursementRequested ReimbursementStatus = "requested"
	ReimbursementApproved  ReimbursementStatus = "approved"
	ReimbursementRejected  ReimbursementStatus = "rejected"
)

// Reimbursement is an out-of-pocket cost requested by a user. It is never
// linked to an invoice and always lands in the "other" cost bucket.
type Reimbursement struct {
	ID        ReimbursementID
	TenantID  TenantID
	ProjectID ProjectID // optional; unassigned reimbursements carry ""
	Requester UserID

	Description string
	Value       money.Money
	DateBuy     time.Time
	Status      ReimbursementStatus

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// INVOICE ("NF")
// =============================================================================

type InvoiceStatus string

const (
	InvoiceSubmitted InvoiceStatus = "submitted"
	InvoiceApproved  InvoiceStatus = "approved"
	InvoiceRejected  InvoiceStatus = "rejected"
	InvoicePaid      InvoiceStatus = "paid"
)

// InvoiceItem is one line of an invoice, produced from a linked Expense at
// composition time. Value is copied from the expense; the item does not
// track later edits to the expense.
type InvoiceItem struct {
	ProjectID   ProjectID
	ExpenseID   ExpenseID
	Description string
	Value       money.Money
}

// Invoice is a supplier invoice composed from approved expenses.
// Total is always derived as the sum of item values; any incoming value is
// overwritten by the composition engine on save.
type Invoice struct {
	ID       InvoiceID
	TenantID TenantID

	MonthCompetency money.MonthKey
	MonthIssue      money.MonthKey

	Status     InvoiceStatus
	Items      []InvoiceItem
	ExpenseIDs []ExpenseID
	Total      money.Money // derived

	FileRef string // opaque reference into the (external) upload store

	CreatedBy UserID
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecomputeTotal is the single authoritative derivation of Total.
func (i *Invoice) RecomputeTotal() {
	total := money.Zero
	for _, item := range i.Items {
		total = total.Add(item.Value)
	}
	i.Total = total
}

// HasExpense reports whether the given expense is in the invoice's selection.
func (i *Invoice) HasExpense(id ExpenseID) bool {
	for _, eid := range i.ExpenseIDs {
		if eid == id {
			return true
		}
	}
	return false
}
