package costs

import (
	"context"
	"sort"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/money"
)

// =============================================================================
// OVERRUN REPORTER - Projects over budget, largest overrun first
// =============================================================================

// OverrunEntry is one over-budget project in the monthly ranking.
type OverrunEntry struct {
	Project *billing.Project
	Real    money.Money
	Planned money.Money
	Diff    money.Money // Real - Planned, always positive here
}

// Overruns lists every project of the tenant whose real cost for the month
// exceeds its planned cost, sorted by Diff descending. Ties break by
// project code ascending so the ranking is deterministic.
func (c *Calculator) Overruns(ctx context.Context, tenantID billing.TenantID, month money.MonthKey) ([]OverrunEntry, error) {
	projects, err := c.Store.ProjectsByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var entries []OverrunEntry
	for _, p := range projects {
		snap, err := c.CostsReal(ctx, tenantID, p.ID, month)
		if err != nil {
			return nil, err
		}
		if snap.Total.GreaterThan(p.CostPlanned) {
			entries = append(entries, OverrunEntry{
				Project: p,
				Real:    snap.Total,
				Planned: p.CostPlanned,
				Diff:    snap.Total.Sub(p.CostPlanned),
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		cmp := entries[i].Diff.Cmp(entries[j].Diff)
		if cmp != 0 {
			return cmp > 0
		}
		return entries[i].Project.Code < entries[j].Project.Code
	})
	return entries, nil
}
