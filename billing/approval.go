/*
approval.go - Approval state machines for Expense, Reimbursement, Invoice

PURPOSE:
  One parametrized machine, three instantiations. Each entity has a closed
  transition table; approve/reject/markPaid look up the requested edge and
  fail with IllegalTransition when it does not exist. Illegal calls never
  mutate state.

STATE DIAGRAMS:

  Expense:        submitted ──▶ approved ──▶ invoiced (set by composition)
                      │                          (terminal)
                      └────────▶ rejected (terminal)

  Reimbursement:  requested ──▶ approved (terminal)
                      └────────▶ rejected (terminal)

  Invoice:        submitted ──▶ approved ──▶ paid (terminal)
                      │            │  ▲
                      ▼            ▼  │ (re-review)
                   rejected ◀──────┘  │
                      └───────────────┘

REJECT GUARDS:
  An Expense with an active invoice link cannot be rejected; the owning
  invoice must be edited first so the link is cleared by reconciliation.
  An Invoice with items CAN be rejected, and rejection does not unlink its
  expenses - they keep pointing at the rejected invoice until it is edited
  or deleted. Re-approving the invoice is permitted.

ROLE RULE:
  Only a privileged actor (admin) may fire approval transitions. Tenant
  scoping is enforced by the Gateway: foreign ids resolve to NotFound.

CONCURRENCY:
  Every transition runs inside WithTx and persists via a compare-and-swap
  Put. Two concurrent approvals of the same entity cannot both succeed:
  the loser observes Conflict, or reloads and gets IllegalTransition.

SEE ALSO:
  - invoice.go: the only writer of Expense.InvoiceID (read here as a guard)
  - errors.go: TransitionError and the sentinel taxonomy
*/
package billing

import (
	"context"
	"fmt"
	"log"
	"time"
)

// =============================================================================
// TRANSITION TABLES
// =============================================================================

type action string

const (
	actionApprove action = "approve"
	actionReject  action = "reject"
	actionPay     action = "pay"
)

// transitions is the shared machine shape: per-state map of legal actions
// to target states. States absent from the table are terminal.
type transitions[S comparable] map[S]map[action]S

func (t transitions[S]) next(from S, act action) (S, bool) {
	targets, ok := t[from]
	if !ok {
		var zero S
		return zero, false
	}
	to, ok := targets[act]
	return to, ok
}

var expenseTransitions = transitions[ExpenseStatus]{
	ExpenseSubmitted: {
		actionApprove: ExpenseApproved,
		actionReject:  ExpenseRejected,
	},
	// approved -> invoiced is driven by the composition engine's link
	// reconciliation, not by an approval action. invoiced and rejected
	// are terminal.
}

var reimbursementTransitions = transitions[ReimbursementStatus]{
	ReimbursementRequested: {
		actionApprove: ReimbursementApproved,
		actionReject:  ReimbursementRejected,
	},
}

var invoiceTransitions = transitions[InvoiceStatus]{
	InvoiceSubmitted: {
		actionApprove: InvoiceApproved,
		actionReject:  InvoiceRejected,
	},
	InvoiceApproved: {
		actionPay:    InvoicePaid,
		actionReject: InvoiceRejected,
	},
	InvoiceRejected: {
		actionApprove: InvoiceApproved, // re-review after rejection
	},
}

// =============================================================================
// APPROVAL SERVICE
// =============================================================================

// ApprovalService drives approval transitions. Stateless between calls;
// all persistence goes through the injected Gateway.
type ApprovalService struct {
	Store Gateway
	Audit AuditSink

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewApprovalService(store Gateway, audit AuditSink) *ApprovalService {
	if audit == nil {
		audit = NopAudit{}
	}
	return &ApprovalService{Store: store, Audit: audit, Now: time.Now}
}

func (s *ApprovalService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func requirePrivileged(actor Actor) error {
	if !actor.IsPrivileged() {
		return fmt.Errorf("actor %s lacks approval role: %w", actor.UserID, ErrForbidden)
	}
	return nil
}

// audit emits a fire-and-forget event. Sink failures are logged, never
// propagated.
func (s *ApprovalService) audit(ctx context.Context, action string, actor Actor, meta map[string]string) {
	ev := AuditEvent{Action: action, ActorID: actor.UserID, TenantID: actor.TenantID, Meta: meta}
	if err := s.Audit.Record(ctx, ev); err != nil {
		log.Printf("audit: failed to record %s: %v", action, err)
	}
}

// =============================================================================
// EXPENSE TRANSITIONS
// =============================================================================

// ApproveExpense moves a submitted expense to approved.
func (s *ApprovalService) ApproveExpense(ctx context.Context, actor Actor, id ExpenseID) (*Expense, error) {
	if err := requirePrivileged(actor); err != nil {
		return nil, err
	}

	var out *Expense
	err := s.Store.WithTx(ctx, func(g Gateway) error {
		e, err := g.Expense(ctx, actor.TenantID, id)
		if err != nil {
			return err
		}
		next, ok := expenseTransitions.next(e.Status, actionApprove)
		if !ok {
			return &TransitionError{Entity: "expense", ID: string(id), From: string(e.Status), Attempted: string(ExpenseApproved)}
		}
		e.Status = next
		e.UpdatedAt = s.now()
		if err := g.PutExpense(ctx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, AuditExpenseApproved, actor, map[string]string{"expense_id": string(id)})
	return out, nil
}

// RejectExpense moves a submitted expense to rejected. Blocked while the
// expense is linked to an invoice; the owning invoice must be edited first.
func (s *ApprovalService) RejectExpense(ctx context.Context, actor Actor, id ExpenseID) (*Expense, error) {
	if err := requirePrivileged(actor); err != nil {
		return nil, err
	}

	var out *Expense
	err := s.Store.WithTx(ctx, func(g Gateway) error {
		e, err := g.Expense(ctx, actor.TenantID, id)
		if err != nil {
			return err
		}
		if e.IsLinked() {
			return &TransitionError{
				Entity: "expense", ID: string(id),
				From: string(e.Status), Attempted: string(ExpenseRejected),
				Reason: "expense is linked to invoice " + string(*e.InvoiceID) + "; edit the invoice to unlink it first",
			}
		}
		next, ok := expenseTransitions.next(e.Status, actionReject)
		if !ok {
			return &TransitionError{Entity: "expense", ID: string(id), From: string(e.Status), Attempted: string(ExpenseRejected)}
		}
		e.Status = next
		e.UpdatedAt = s.now()
		if err := g.PutExpense(ctx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, AuditExpenseRejected, actor, map[string]string{"expense_id": string(id)})
	return out, nil
}

// =============================================================================
// REIMBURSEMENT TRANSITIONS
// =============================================================================

// ApproveReimbursement moves a requested reimbursement to approved.
func (s *ApprovalService) ApproveReimbursement(ctx context.Context, actor Actor, id ReimbursementID) (*Reimbursement, error) {
	return s.transitionReimbursement(ctx, actor, id, actionApprove, AuditReimbursementApproved)
}

// RejectReimbursement moves a requested reimbursement to rejected.
func (s *ApprovalService) RejectReimbursement(ctx context.Context, actor Actor, id ReimbursementID) (*Reimbursement, error) {
	return s.transitionReimbursement(ctx, actor, id, actionReject, AuditReimbursementRejected)
}

func (s *ApprovalService) transitionReimbursement(ctx context.Context, actor Actor, id ReimbursementID, act action, auditAction string) (*Reimbursement, error) {
	if err := requirePrivileged(actor); err != nil {
		return nil, err
	}

	var out *Reimbursement
	err := s.Store.WithTx(ctx, func(g Gateway) error {
		r, err := g.Reimbursement(ctx, actor.TenantID, id)
		if err != nil {
			return err
		}
		next, ok := reimbursementTransitions.next(r.Status, act)
		if !ok {
			return &TransitionError{Entity: "reimbursement", ID: string(id), From: string(r.Status), Attempted: string(act)}
		}
		r.Status = next
		r.UpdatedAt = s.now()
		if err := g.PutReimbursement(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, auditAction, actor, map[string]string{"reimbursement_id": string(id)})
	return out, nil
}

// =============================================================================
// INVOICE TRANSITIONS
// =============================================================================

// ApproveInvoice moves a submitted or rejected invoice to approved.
// Re-approving a rejected invoice is the re-review path.
func (s *ApprovalService) ApproveInvoice(ctx context.Context, actor Actor, id InvoiceID) (*Invoice, error) {
	return s.transitionInvoice(ctx, actor, id, actionApprove, AuditInvoiceApproved)
}

// RejectInvoice moves a submitted or approved invoice to rejected.
// Rejection does NOT unlink the invoice's expenses; they keep pointing at
// the rejected invoice until it is edited or deleted.
func (s *ApprovalService) RejectInvoice(ctx context.Context, actor Actor, id InvoiceID) (*Invoice, error) {
	return s.transitionInvoice(ctx, actor, id, actionReject, AuditInvoiceRejected)
}

// MarkInvoicePaid moves an approved invoice to paid. Distinct from approve.
func (s *ApprovalService) MarkInvoicePaid(ctx context.Context, actor Actor, id InvoiceID) (*Invoice, error) {
	return s.transitionInvoice(ctx, actor, id, actionPay, AuditInvoicePaid)
}

func (s *ApprovalService) transitionInvoice(ctx context.Context, actor Actor, id InvoiceID, act action, auditAction string) (*Invoice, error) {
	if err := requirePrivileged(actor); err != nil {
		return nil, err
	}

	var out *Invoice
	err := s.Store.WithTx(ctx, func(g Gateway) error {
		inv, err := g.Invoice(ctx, actor.TenantID, id)
		if err != nil {
			return err
		}
		next, ok := invoiceTransitions.next(inv.Status, act)
		if !ok {
			return &TransitionError{Entity: "invoice", ID: string(id), From: string(inv.Status), Attempted: string(act)}
		}
		inv.Status = next
		inv.UpdatedAt = s.now()
		if err := g.PutInvoice(ctx, inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, auditAction, actor, map[string]string{"invoice_id": string(id)})
	return out, nil
}
