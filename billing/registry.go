/*
registry.go - Create/edit paths for expenses, reimbursements and projects

PURPOSE:
  The CRUD side of the core. Enforces the ownership rule shared by all
  approval entities: a non-privileged actor may create an entity and edit
  it only while it is in its initial status and only if the actor is the
  original creator. Once any approval transition has fired, only an admin
  may mutate it further.

PROJECT INVARIANT:
  CostPlanned = CostPlannedNF + CostPlannedOther is recomputed on every
  write path via Project.RecomputePlanned; callers cannot set it directly.

SEE ALSO:
  - approval.go: the transitions that end an entity's editable phase
  - types.go: RecomputePlanned
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/money"
)

// Registry handles entity creation and pre-approval edits.
type Registry struct {
	Store Gateway

	Now func() time.Time
}

func NewRegistry(store Gateway) *Registry {
	return &Registry{Store: store, Now: time.Now}
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// =============================================================================
// EXPENSES
// =============================================================================

// ExpenseInput is the caller-supplied portion of an expense.
type ExpenseInput struct {
	ProjectID   ProjectID
	ServiceID   ServiceID
	ServiceName string
	Complement  string
	Value       money.Money
	DateBuy     time.Time
}

func (in ExpenseInput) validate() error {
	if in.ProjectID == "" {
		return fmt.Errorf("expense requires a project: %w", ErrInvalidSelection)
	}
	if in.Value.IsNegative() {
		return fmt.Errorf("expense value must not be negative: %w", ErrInvalidSelection)
	}
	if in.DateBuy.IsZero() {
		return fmt.Errorf("expense requires a purchase date: %w", ErrInvalidSelection)
	}
	return nil
}

// CreateExpense submits a new expense for the actor's tenant.
func (r *Registry) CreateExpense(ctx context.Context, actor Actor, in ExpenseInput) (*Expense, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var out *Expense
	err := r.Store.WithTx(ctx, func(g Gateway) error {
		if _, err := g.Project(ctx, actor.TenantID, in.ProjectID); err != nil {
			return err
		}
		now := r.now()
		e := &Expense{
			ID:          ExpenseID(NewID()),
			TenantID:    actor.TenantID,
			ProjectID:   in.ProjectID,
			ServiceID:   in.ServiceID,
			ServiceName: in.ServiceName,
			Complement:  in.Complement,
			Value:       in.Value,
			DateBuy:     in.DateBuy,
			Status:      ExpenseSubmitted,
			CreatedBy:   actor.UserID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := g.PutExpense(ctx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

// UpdateExpense edits an expense. Operators may only touch their own
// still-submitted expenses; admins may edit at any non-terminal point.
func (r *Registry) UpdateExpense(ctx context.Context, actor Actor, id ExpenseID, in ExpenseInput) (*Expense, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var out *Expense
	err := r.Store.WithTx(ctx, func(g Gateway) error {
		e, err := g.Expense(ctx, actor.TenantID, id)
		if err != nil {
			return err
		}
		if !actor.IsPrivileged() {
			if e.Status != ExpenseSubmitted || e.CreatedBy != actor.UserID {
				return fmt.Errorf("expense %s may only be edited by its creator while submitted: %w", id, ErrForbidden)
			}
		}
		if e.Status == ExpenseRejected || e.Status == ExpenseInvoiced {
			return &TransitionError{Entity: "expense", ID: string(id), From: string(e.Status), Attempted: "edit", Reason: "status is terminal"}
		}
		if _, err := g.Project(ctx, actor.TenantID, in.ProjectID); err != nil {
			return err
		}
		e.ProjectID = in.ProjectID
		e.ServiceID = in.ServiceID
		e.ServiceName = in.ServiceName
		e.Complement = in.Complement
		e.Value = in.Value
		e.DateBuy = in.DateBuy
		e.UpdatedAt = r.now()
		if err := g.PutExpense(ctx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

// =============================================================================
// REIMBURSEMENTS
// =============================================================================

// ReimbursementInput is the caller-supplied portion of a reimbursement.
// ProjectID may be empty; unassigned reimbursements still aggregate into
// no project bucket until assigned.
type ReimbursementInput struct {
	ProjectID   ProjectID
	Description string
	Value       money.Money
	DateBuy     time.Time
}

func (in ReimbursementInput) validate() error {
	if in.Value.IsNegative() {
		return fmt.Errorf("reimbursement value must not be negative: %w", ErrInvalidSelection)
	}
	if in.DateBuy.IsZero() {
		return fmt.Errorf("reimbursement requires a purchase date: %w", ErrInvalidSelection)
	}
	return nil
}

// CreateReimbursement requests a new reimbursement for the actor.
func (r *Registry) CreateReimbursement(ctx context.Context, actor Actor, in ReimbursementInput) (*Reimbursement, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var out *Reimbursement
	err := r.Store.WithTx(ctx, func(g Gateway) error {
		if in.ProjectID != "" {
			if _, err := g.Project(ctx, actor.TenantID, in.ProjectID); err != nil {
				return err
			}
		}
		now := r.now()
		rb := &Reimbursement{
			ID:          ReimbursementID(NewID()),
			TenantID:    actor.TenantID,
			ProjectID:   in.ProjectID,
			Requester:   actor.UserID,
			Description: in.Description,
			Value:       in.Value,
			DateBuy:     in.DateBuy,
			Status:      ReimbursementRequested,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := g.PutReimbursement(ctx, rb); err != nil {
			return err
		}
		out = rb
		return nil
	})
	return out, err
}

// UpdateReimbursement edits a reimbursement while it is still requested.
func (r *Registry) UpdateReimbursement(ctx context.Context, actor Actor, id ReimbursementID, in ReimbursementInput) (*Reimbursement, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var out *Reimbursement
	err := r.Store.WithTx(ctx, func(g Gateway) error {
		rb, err := g.Reimbursement(ctx, actor.TenantID, id)
		if err != nil {
			return err
		}
		if !actor.IsPrivileged() {
			if rb.Status != ReimbursementRequested || rb.Requester != actor.UserID {
				return fmt.Errorf("reimbursement %s may only be edited by its requester while requested: %w", id, ErrForbidden)
			}
		}
		if rb.Status != ReimbursementRequested {
			return &TransitionError{Entity: "reimbursement", ID: string(id), From: string(rb.Status), Attempted: "edit", Reason: "status is terminal"}
		}
		if in.ProjectID != "" {
			if _, err := g.Project(ctx, actor.TenantID, in.ProjectID); err != nil {
				return err
			}
		}
		rb.ProjectID = in.ProjectID
		rb.Description = in.Description
		rb.Value = in.Value
		rb.DateBuy = in.DateBuy
		rb.UpdatedAt = r.now()
		if err := g.PutReimbursement(ctx, rb); err != nil {
			return err
		}
		out = rb
		return nil
	})
	return out, err
}

// =============================================================================
// PROJECTS
// =============================================================================

// ProjectInput is the caller-supplied portion of a project. CostPlanned is
// never part of the input; it is derived.
type ProjectInput struct {
	ClientID             ClientID
	Code                 string
	Name                 string
	ValueTotal           money.Money
	CostPlannedNF        money.Money
	CostPlannedOther     money.Money
	IndicatorOverridePct *decimal.Decimal
}

// CreateProject creates a project. Privileged role only.
func (r *Registry) CreateProject(ctx context.Context, actor Actor, in ProjectInput) (*Project, error) {
	if err := requirePrivileged(actor); err != nil {
		return nil, err
	}

	var out *Project
	err := r.Store.WithTx(ctx, func(g Gateway) error {
		now := r.now()
		p := &Project{
			ID:                   ProjectID(NewID()),
			TenantID:             actor.TenantID,
			ClientID:             in.ClientID,
			Code:                 in.Code,
			Name:                 in.Name,
			ValueTotal:           in.ValueTotal,
			CostPlannedNF:        in.CostPlannedNF,
			CostPlannedOther:     in.CostPlannedOther,
			IndicatorOverridePct: in.IndicatorOverridePct,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		p.RecomputePlanned()
		if err := g.PutProject(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// UpdateProject edits a project. Privileged role only.
func (r *Registry) UpdateProject(ctx context.Context, actor Actor, id ProjectID, in ProjectInput) (*Project, error) {
	if err := requirePrivileged(actor); err != nil {
		return nil, err
	}

	var out *Project
	err := r.Store.WithTx(ctx, func(g Gateway) error {
		p, err := g.Project(ctx, actor.TenantID, id)
		if err != nil {
			return err
		}
		p.ClientID = in.ClientID
		p.Code = in.Code
		p.Name = in.Name
		p.ValueTotal = in.ValueTotal
		p.CostPlannedNF = in.CostPlannedNF
		p.CostPlannedOther = in.CostPlannedOther
		p.IndicatorOverridePct = in.IndicatorOverridePct
		p.RecomputePlanned()
		p.UpdatedAt = r.now()
		if err := g.PutProject(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}
