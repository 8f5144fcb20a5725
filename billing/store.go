/*
store.go - Persistence gateway for the billing core

PURPOSE:
  Defines the interface between the core engines and the database. The core
  is request-scoped and stateless; every operation receives a Gateway and
  runs inside a single transactional unit via WithTx. There is no module
  level store singleton.

KEY INTERFACES:
  Gateway:   Tenant-scoped read/write of all entities + WithTx
  AuditSink: Fire-and-forget audit events (failures never fail the caller)

TENANT SCOPING:
  Every read takes the tenant id alongside the entity id. An id that exists
  under a different tenant resolves to ErrNotFound. The Gateway is the
  enforcement point; the engines assume it holds.

OPTIMISTIC CONCURRENCY:
  Put* operations are compare-and-swap on Version:
  - Version 0 inserts a new row (and bumps to 1)
  - Version N updates only if the stored row still has Version N,
    bumping to N+1; otherwise ErrConflict
  Two concurrent approvals of the same expense therefore cannot both
  succeed: the loser sees ErrConflict (or reloads and gets
  ErrIllegalTransition).

IMPLEMENTATIONS:
  - store/sqlite: production SQLite (WAL, single writer)
  - billing/store: in-memory for tests and dev mode

SEE ALSO:
  - approval.go, invoice.go: the engines driving this interface
  - store/sqlite/sqlite.go: concrete implementation
*/
package billing

import "context"

// =============================================================================
// GATEWAY - Tenant-scoped persistence
// =============================================================================

// Gateway provides transactional, tenant-scoped access to the entity rows.
// All reads return ErrNotFound for ids outside the given tenant.
type Gateway interface {
	// Tenants
	Tenant(ctx context.Context, id TenantID) (*Tenant, error)
	PutTenant(ctx context.Context, t *Tenant) error

	// Projects
	Project(ctx context.Context, tenantID TenantID, id ProjectID) (*Project, error)
	ProjectsByTenant(ctx context.Context, tenantID TenantID) ([]*Project, error)
	PutProject(ctx context.Context, p *Project) error

	// Expenses
	Expense(ctx context.Context, tenantID TenantID, id ExpenseID) (*Expense, error)
	ExpensesByTenant(ctx context.Context, tenantID TenantID) ([]*Expense, error)
	ExpensesByProject(ctx context.Context, tenantID TenantID, projectID ProjectID) ([]*Expense, error)
	PutExpense(ctx context.Context, e *Expense) error

	// Reimbursements
	Reimbursement(ctx context.Context, tenantID TenantID, id ReimbursementID) (*Reimbursement, error)
	ReimbursementsByTenant(ctx context.Context, tenantID TenantID) ([]*Reimbursement, error)
	ReimbursementsByProject(ctx context.Context, tenantID TenantID, projectID ProjectID) ([]*Reimbursement, error)
	PutReimbursement(ctx context.Context, r *Reimbursement) error

	// Invoices
	Invoice(ctx context.Context, tenantID TenantID, id InvoiceID) (*Invoice, error)
	InvoicesByTenant(ctx context.Context, tenantID TenantID) ([]*Invoice, error)
	PutInvoice(ctx context.Context, i *Invoice) error
	DeleteInvoice(ctx context.Context, tenantID TenantID, id InvoiceID) error

	// WithTx executes fn within one atomic unit. If fn returns an error the
	// unit is rolled back and no write inside it is observable. Engines use
	// this for every multi-row mutation (link reconciliation, status change
	// plus audit-relevant reads).
	WithTx(ctx context.Context, fn func(Gateway) error) error
}

// =============================================================================
// AUDIT SINK - Fire-and-forget audit events
// =============================================================================

// AuditEvent records who did what to which entity.
type AuditEvent struct {
	Action   string
	ActorID  UserID
	TenantID TenantID
	Meta     map[string]string
}

// AuditSink accepts audit events. Implementations may persist, forward or
// drop them; a sink failure must never fail the core operation, so engines
// log and continue on error.
type AuditSink interface {
	Record(ctx context.Context, ev AuditEvent) error
}

// NopAudit discards all events.
type NopAudit struct{}

func (NopAudit) Record(context.Context, AuditEvent) error { return nil }

// Audit action names emitted by the engines.
const (
	AuditExpenseApproved       = "expense_approved"
	AuditExpenseRejected       = "expense_rejected"
	AuditReimbursementApproved = "reimbursement_approved"
	AuditReimbursementRejected = "reimbursement_rejected"
	AuditInvoiceApproved       = "invoice_approved"
	AuditInvoiceRejected       = "invoice_rejected"
	AuditInvoicePaid           = "invoice_paid"
	AuditInvoiceSaved          = "invoice_saved"
	AuditInvoiceDeleted        = "invoice_deleted"
)
