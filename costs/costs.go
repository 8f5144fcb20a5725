/*
Package costs provides the monthly cost aggregation engine and the
traffic-light budget signal.

PURPOSE:
  For a project and a month, reconcile three cost sources into one real
  cost figure and compare it to the planned budget:

    nfCost    = invoice line items whose parent invoice was issued in the
                month and whose item points at the project
    otherCost = non-rejected expenses purchased in the month
              + non-rejected reimbursements purchased in the month
    total     = nfCost + otherCost

  The signal classifies total against the project's planned cost using a
  percentage threshold (project override, else tenant default):

    real <= planned                  -> Green
    0 < delta <= threshold           -> Yellow
    delta > threshold                -> Red
    planned <= 0                     -> Gray (no budget to compare against)

DESIGN PRINCIPLES:
  1. Pure function of current entity state: no cache, no snapshot rows.
     Callers may cache at their own risk.
  2. Expenses count in otherCost by purchase date whether linked or not;
     linked ones ALSO surface as nfCost under the invoice's issue month.
     The two buckets answer different questions and are not deduplicated.
  3. Gray is an explicit class, never an error.

SEE ALSO:
  - overruns.go: ranking of projects over budget
  - billing/types.go: the entities read here
*/
package costs

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/money"
)

// =============================================================================
// READER - Narrow view of the persistence gateway
// =============================================================================

// Reader is the read-only slice of billing.Gateway the engine needs.
// billing.Gateway satisfies it.
type Reader interface {
	Tenant(ctx context.Context, id billing.TenantID) (*billing.Tenant, error)
	Project(ctx context.Context, tenantID billing.TenantID, id billing.ProjectID) (*billing.Project, error)
	ProjectsByTenant(ctx context.Context, tenantID billing.TenantID) ([]*billing.Project, error)
	ExpensesByProject(ctx context.Context, tenantID billing.TenantID, projectID billing.ProjectID) ([]*billing.Expense, error)
	ReimbursementsByProject(ctx context.Context, tenantID billing.TenantID, projectID billing.ProjectID) ([]*billing.Reimbursement, error)
	InvoicesByTenant(ctx context.Context, tenantID billing.TenantID) ([]*billing.Invoice, error)
}

// Calculator computes real costs and signals. Stateless between calls.
type Calculator struct {
	Store Reader
}

func NewCalculator(store Reader) *Calculator {
	return &Calculator{Store: store}
}

// =============================================================================
// SNAPSHOT - Real cost for one project and month (derived, not persisted)
// =============================================================================

// Snapshot is the reconciled real cost of a project for one month.
type Snapshot struct {
	ProjectID billing.ProjectID
	Month     money.MonthKey
	NFCost    money.Money
	OtherCost money.Money
	Total     money.Money
}

// CostsReal reconciles the three cost sources for a project and month.
func (c *Calculator) CostsReal(ctx context.Context, tenantID billing.TenantID, projectID billing.ProjectID, month money.MonthKey) (Snapshot, error) {
	if _, err := c.Store.Project(ctx, tenantID, projectID); err != nil {
		return Snapshot{}, err
	}

	nf, err := c.nfCost(ctx, tenantID, projectID, month)
	if err != nil {
		return Snapshot{}, err
	}
	other, err := c.otherCost(ctx, tenantID, projectID, month)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		ProjectID: projectID,
		Month:     month,
		NFCost:    nf,
		OtherCost: other,
		Total:     nf.Add(other),
	}, nil
}

// nfCost sums invoice items for the project across invoices issued in the
// month, regardless of invoice status.
func (c *Calculator) nfCost(ctx context.Context, tenantID billing.TenantID, projectID billing.ProjectID, month money.MonthKey) (money.Money, error) {
	invoices, err := c.Store.InvoicesByTenant(ctx, tenantID)
	if err != nil {
		return money.Zero, err
	}

	total := money.Zero
	for _, inv := range invoices {
		if !inv.MonthIssue.Equal(month) {
			continue
		}
		for _, item := range inv.Items {
			if item.ProjectID == projectID {
				total = total.Add(item.Value)
			}
		}
	}
	return total, nil
}

// otherCost sums non-rejected expenses and reimbursements purchased in the
// month. Linked expenses are not excluded.
func (c *Calculator) otherCost(ctx context.Context, tenantID billing.TenantID, projectID billing.ProjectID, month money.MonthKey) (money.Money, error) {
	total := money.Zero

	expenses, err := c.Store.ExpensesByProject(ctx, tenantID, projectID)
	if err != nil {
		return money.Zero, err
	}
	for _, e := range expenses {
		if e.Status == billing.ExpenseRejected {
			continue
		}
		if month.Contains(e.DateBuy) {
			total = total.Add(e.Value)
		}
	}

	reimbursements, err := c.Store.ReimbursementsByProject(ctx, tenantID, projectID)
	if err != nil {
		return money.Zero, err
	}
	for _, r := range reimbursements {
		if r.Status == billing.ReimbursementRejected {
			continue
		}
		if month.Contains(r.DateBuy) {
			total = total.Add(r.Value)
		}
	}
	return total, nil
}

// =============================================================================
// SIGNAL - Traffic-light classification against planned cost
// =============================================================================

type SignalClass string

const (
	SignalGreen  SignalClass = "green"
	SignalYellow SignalClass = "yellow"
	SignalRed    SignalClass = "red"
	SignalGray   SignalClass = "gray" // no planned budget to compare against
)

// Signal is the classified budget state of a project for one month.
type Signal struct {
	Class    SignalClass
	DeltaPct decimal.Decimal // (real - planned) / planned; zero for Gray
}

// IndicatorThreshold resolves the overrun threshold for a project: its own
// override when set, else the tenant default.
func (c *Calculator) IndicatorThreshold(ctx context.Context, project *billing.Project) (decimal.Decimal, error) {
	if project.IndicatorOverridePct != nil {
		return *project.IndicatorOverridePct, nil
	}
	tenant, err := c.Store.Tenant(ctx, project.TenantID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("resolving tenant threshold: %w", err)
	}
	return tenant.IndicatorDefaultPct, nil
}

// ProjectSignal classifies a project's real cost for a month against its
// planned cost.
func (c *Calculator) ProjectSignal(ctx context.Context, tenantID billing.TenantID, projectID billing.ProjectID, month money.MonthKey) (Signal, error) {
	project, err := c.Store.Project(ctx, tenantID, projectID)
	if err != nil {
		return Signal{}, err
	}

	snap, err := c.CostsReal(ctx, tenantID, projectID, month)
	if err != nil {
		return Signal{}, err
	}

	return c.classify(ctx, project, snap.Total)
}

func (c *Calculator) classify(ctx context.Context, project *billing.Project, real money.Money) (Signal, error) {
	planned := project.CostPlanned
	if !planned.IsPositive() {
		return Signal{Class: SignalGray}, nil
	}

	if real.Cmp(planned) <= 0 {
		delta := real.Sub(planned).Div(planned)
		return Signal{Class: SignalGreen, DeltaPct: delta}, nil
	}

	delta := real.Sub(planned).Div(planned)
	threshold, err := c.IndicatorThreshold(ctx, project)
	if err != nil {
		return Signal{}, err
	}
	if delta.GreaterThan(threshold) {
		return Signal{Class: SignalRed, DeltaPct: delta}, nil
	}
	return Signal{Class: SignalYellow, DeltaPct: delta}, nil
}
