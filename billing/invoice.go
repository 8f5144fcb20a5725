/*
invoice.go - Invoice composition and link reconciliation

PURPOSE:
  Maintains the bijection between an invoice's selected expense ids and the
  expenses whose InvoiceID points back at it, and derives items/total from
  the selection on every save.

COMPOSITION FLOW:

  eligible = approved+unlinked expenses  ∪  expenses linked to THIS invoice
       │
       ▼
  validate selection (non-empty, every id eligible) ──▶ InvalidSelection
       │
       ▼
  build items {projectId, description, value} from each selected expense
       │
       ▼
  total = sum(items.value)   (always overwritten, never trusted from input)
       │
       ▼
  reconcile links atomically:
    - previously linked, now deselected  ─▶ clear InvoiceID, back to approved
    - newly selected                     ─▶ set InvoiceID, mark invoiced

ELIGIBILITY UNION:
  Including the invoice's own linked expenses keeps already-chosen items
  visible on an edit even though their status drifted to invoiced, while
  still preventing another invoice from claiming them.

ATOMICITY:
  The whole save runs inside one WithTx unit. A failure at any step leaves
  the invoice, its items and every touched expense at their pre-call values;
  no expense can dangle with a link to an invoice that was never persisted.

OWNERSHIP:
  Expense.InvoiceID is owned by this engine. The approval machine only
  reads it (reject guard).

SEE ALSO:
  - approval.go: status transitions and the linked-expense reject guard
  - store.go: Gateway/WithTx contract
*/
package billing

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/warp/billing-engine/money"
)

// =============================================================================
// COMPOSITION SERVICE
// =============================================================================

// CompositionService builds invoices from approved expenses and keeps the
// invoice<->expense links consistent.
type CompositionService struct {
	Store Gateway
	Audit AuditSink

	Now func() time.Time
}

func NewCompositionService(store Gateway, audit AuditSink) *CompositionService {
	if audit == nil {
		audit = NopAudit{}
	}
	return &CompositionService{Store: store, Audit: audit, Now: time.Now}
}

func (s *CompositionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *CompositionService) audit(ctx context.Context, action string, actor Actor, meta map[string]string) {
	ev := AuditEvent{Action: action, ActorID: actor.UserID, TenantID: actor.TenantID, Meta: meta}
	if err := s.Audit.Record(ctx, ev); err != nil {
		log.Printf("audit: failed to record %s: %v", action, err)
	}
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

// EligibleExpenses returns every expense selectable for the given invoice:
// all approved, unlinked expenses of the tenant, plus the expenses already
// linked to the invoice being edited (nil invoiceID means a new invoice).
// Ordered by purchase date then id for stable listings.
func (s *CompositionService) EligibleExpenses(ctx context.Context, tenantID TenantID, invoiceID *InvoiceID) ([]*Expense, error) {
	all, err := s.Store.ExpensesByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	eligible := filterEligible(all, invoiceID)
	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].DateBuy.Equal(eligible[j].DateBuy) {
			return eligible[i].DateBuy.Before(eligible[j].DateBuy)
		}
		return eligible[i].ID < eligible[j].ID
	})
	return eligible, nil
}

func filterEligible(all []*Expense, invoiceID *InvoiceID) []*Expense {
	var out []*Expense
	for _, e := range all {
		switch {
		case e.Status == ExpenseApproved && !e.IsLinked():
			out = append(out, e)
		case invoiceID != nil && e.IsLinked() && *e.InvoiceID == *invoiceID:
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// SAVE
// =============================================================================

// SaveInvoiceInput carries everything needed to create or edit an invoice.
// A nil InvoiceID creates a new invoice. Any Total supplied by the caller
// is ignored; the total is always derived from the selection.
type SaveInvoiceInput struct {
	InvoiceID          *InvoiceID
	SelectedExpenseIDs []ExpenseID
	MonthCompetency    money.MonthKey
	MonthIssue         money.MonthKey
	FileRef            string
}

// SaveInvoice creates or edits an invoice from the selected expenses,
// derives items and total, and reconciles expense links, all in one
// atomic unit.
func (s *CompositionService) SaveInvoice(ctx context.Context, actor Actor, in SaveInvoiceInput) (*Invoice, error) {
	if len(in.SelectedExpenseIDs) == 0 {
		return nil, fmt.Errorf("invoice must reference at least one expense: %w", ErrInvalidSelection)
	}

	var out *Invoice
	err := s.Store.WithTx(ctx, func(g Gateway) error {
		inv, err := s.loadOrCreate(ctx, g, actor, in.InvoiceID)
		if err != nil {
			return err
		}

		all, err := g.ExpensesByTenant(ctx, actor.TenantID)
		if err != nil {
			return err
		}
		eligible := make(map[ExpenseID]*Expense)
		var ownID *InvoiceID
		if in.InvoiceID != nil {
			ownID = &inv.ID
		}
		for _, e := range filterEligible(all, ownID) {
			eligible[e.ID] = e
		}

		selected := dedupe(in.SelectedExpenseIDs)
		items := make([]InvoiceItem, 0, len(selected))
		for _, id := range selected {
			e, ok := eligible[id]
			if !ok {
				return &SelectionError{InvoiceID: inv.ID, ExpenseID: id, Reason: "is not eligible for this invoice"}
			}
			items = append(items, InvoiceItem{
				ProjectID:   e.ProjectID,
				ExpenseID:   e.ID,
				Description: itemDescription(e),
				Value:       e.Value,
			})
		}

		// Unlink expenses dropped from the selection.
		now := s.now()
		selectedSet := make(map[ExpenseID]bool, len(selected))
		for _, id := range selected {
			selectedSet[id] = true
		}
		for _, prev := range inv.ExpenseIDs {
			if selectedSet[prev] {
				continue
			}
			e, err := g.Expense(ctx, actor.TenantID, prev)
			if err != nil {
				return err
			}
			e.InvoiceID = nil
			e.Status = ExpenseApproved
			e.UpdatedAt = now
			if err := g.PutExpense(ctx, e); err != nil {
				return err
			}
		}

		// Link the new selection.
		for _, id := range selected {
			e := eligible[id]
			if e.IsLinked() && *e.InvoiceID == inv.ID {
				continue // already ours
			}
			link := inv.ID
			e.InvoiceID = &link
			e.Status = ExpenseInvoiced
			e.UpdatedAt = now
			if err := g.PutExpense(ctx, e); err != nil {
				return err
			}
		}

		inv.MonthCompetency = in.MonthCompetency
		inv.MonthIssue = in.MonthIssue
		inv.FileRef = in.FileRef
		inv.ExpenseIDs = selected
		inv.Items = items
		inv.RecomputeTotal()
		inv.UpdatedAt = now
		if err := g.PutInvoice(ctx, inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, AuditInvoiceSaved, actor, map[string]string{
		"invoice_id": string(out.ID),
		"total":      out.Total.String(),
	})
	return out, nil
}

// loadOrCreate resolves the invoice being edited, or builds a fresh
// submitted invoice. Operators may only edit their own still-submitted
// invoices; once an approval transition has fired, only an admin may edit.
func (s *CompositionService) loadOrCreate(ctx context.Context, g Gateway, actor Actor, id *InvoiceID) (*Invoice, error) {
	if id == nil {
		now := s.now()
		return &Invoice{
			ID:        InvoiceID(NewID()),
			TenantID:  actor.TenantID,
			Status:    InvoiceSubmitted,
			CreatedBy: actor.UserID,
			CreatedAt: now,
			UpdatedAt: now,
		}, nil
	}

	inv, err := g.Invoice(ctx, actor.TenantID, *id)
	if err != nil {
		return nil, err
	}
	if !actor.IsPrivileged() {
		if inv.Status != InvoiceSubmitted || inv.CreatedBy != actor.UserID {
			return nil, fmt.Errorf("invoice %s may only be edited by its creator while submitted: %w", *id, ErrForbidden)
		}
	}
	return inv, nil
}

func itemDescription(e *Expense) string {
	desc := e.ServiceName
	if desc == "" {
		desc = "expense"
	}
	if e.Complement != "" {
		desc = strings.TrimSpace(desc + " " + e.Complement)
	}
	return desc
}

func dedupe(ids []ExpenseID) []ExpenseID {
	seen := make(map[ExpenseID]bool, len(ids))
	out := make([]ExpenseID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteInvoice removes an invoice and releases every expense linked to it
// back to approved. This is the explicit unlink path for expenses stuck on
// a rejected invoice.
func (s *CompositionService) DeleteInvoice(ctx context.Context, actor Actor, id InvoiceID) error {
	err := s.Store.WithTx(ctx, func(g Gateway) error {
		inv, err := g.Invoice(ctx, actor.TenantID, id)
		if err != nil {
			return err
		}
		if !actor.IsPrivileged() {
			if inv.Status != InvoiceSubmitted || inv.CreatedBy != actor.UserID {
				return fmt.Errorf("invoice %s may only be deleted by its creator while submitted: %w", id, ErrForbidden)
			}
		}

		now := s.now()
		for _, eid := range inv.ExpenseIDs {
			e, err := g.Expense(ctx, actor.TenantID, eid)
			if err != nil {
				return err
			}
			e.InvoiceID = nil
			e.Status = ExpenseApproved
			e.UpdatedAt = now
			if err := g.PutExpense(ctx, e); err != nil {
				return err
			}
		}
		return g.DeleteInvoice(ctx, actor.TenantID, id)
	})
	if err != nil {
		return err
	}

	s.audit(ctx, AuditInvoiceDeleted, actor, map[string]string{"invoice_id": string(id)})
	return nil
}
