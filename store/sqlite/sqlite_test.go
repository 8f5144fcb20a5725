package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/money"
	"github.com/warp/billing-engine/store/sqlite"
)

const testTenant = billing.TenantID("tenant-1")

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.PutTenant(context.Background(), &billing.Tenant{
		ID:                  testTenant,
		Name:                "Acme Consulting",
		IndicatorDefaultPct: decimal.RequireFromString("0.45"),
	}))
	return s
}

func testProject(t *testing.T, s *sqlite.Store) *billing.Project {
	t.Helper()
	now := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	p := &billing.Project{
		ID:               billing.ProjectID(billing.NewID()),
		TenantID:         testTenant,
		Code:             "PRJ-001",
		Name:             "Rollout",
		ValueTotal:       money.MustParse("1000.00"),
		CostPlannedNF:    money.MustParse("60.00"),
		CostPlannedOther: money.MustParse("40.00"),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	p.RecomputePlanned()
	require.NoError(t, s.PutProject(context.Background(), p))
	return p
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestProjectRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// GIVEN: a stored project with an override threshold
	p := testProject(t, s)
	pct := decimal.RequireFromString("0.10")
	p.IndicatorOverridePct = &pct
	require.NoError(t, s.PutProject(ctx, p))

	// WHEN: loading it back
	got, err := s.Project(ctx, testTenant, p.ID)
	require.NoError(t, err)

	// THEN: all decimal fields survive exactly
	assert.True(t, got.CostPlanned.Equal(money.MustParse("100.00")))
	assert.True(t, got.ValueTotal.Equal(p.ValueTotal))
	require.NotNil(t, got.IndicatorOverridePct)
	assert.True(t, got.IndicatorOverridePct.Equal(pct))
	assert.Equal(t, 2, got.Version)
}

func TestExpenseRoundTrip_PreservesLink(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p := testProject(t, s)

	invID := billing.InvoiceID("inv-1")
	e := &billing.Expense{
		ID:          billing.ExpenseID(billing.NewID()),
		TenantID:    testTenant,
		ProjectID:   p.ID,
		ServiceName: "consulting",
		Complement:  "phase 2",
		Value:       money.MustParse("180.00"),
		DateBuy:     time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		Status:      billing.ExpenseInvoiced,
		InvoiceID:   &invID,
		CreatedBy:   "op-1",
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.PutExpense(ctx, e))

	got, err := s.Expense(ctx, testTenant, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got.InvoiceID)
	assert.Equal(t, invID, *got.InvoiceID)
	assert.Equal(t, billing.ExpenseInvoiced, got.Status)
	assert.True(t, got.Value.Equal(e.Value))
	assert.Equal(t, e.DateBuy, got.DateBuy)
}

func TestInvoiceRoundTrip_ItemsKeepOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p := testProject(t, s)

	inv := &billing.Invoice{
		ID:              billing.InvoiceID(billing.NewID()),
		TenantID:        testTenant,
		MonthCompetency: money.NewMonthKey(2024, time.January),
		MonthIssue:      money.NewMonthKey(2024, time.February),
		Status:          billing.InvoiceSubmitted,
		Items: []billing.InvoiceItem{
			{ProjectID: p.ID, ExpenseID: "e-1", Description: "consulting", Value: money.MustParse("100.00")},
			{ProjectID: p.ID, ExpenseID: "e-2", Description: "hosting", Value: money.MustParse("80.00")},
		},
		ExpenseIDs: []billing.ExpenseID{"e-1", "e-2"},
		CreatedBy:  "op-1",
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	inv.RecomputeTotal()
	require.NoError(t, s.PutInvoice(ctx, inv))

	got, err := s.Invoice(ctx, testTenant, inv.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, billing.ExpenseID("e-1"), got.Items[0].ExpenseID)
	assert.Equal(t, billing.ExpenseID("e-2"), got.Items[1].ExpenseID)
	assert.Equal(t, []billing.ExpenseID{"e-1", "e-2"}, got.ExpenseIDs)
	assert.True(t, got.Total.Equal(money.MustParse("180.00")))
	assert.Equal(t, "2024-02", got.MonthIssue.String())
}

// =============================================================================
// TENANT SCOPING & NOT FOUND
// =============================================================================

func TestCrossTenantLoadIsNotFound(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p := testProject(t, s)

	_, err := s.Project(ctx, "other-tenant", p.ID)
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestDeleteInvoice_MissingIsNotFound(t *testing.T) {
	s := newStore(t)

	err := s.DeleteInvoice(context.Background(), testTenant, "nope")
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

// =============================================================================
// OPTIMISTIC CONCURRENCY
// =============================================================================

func TestStaleVersionWriteIsConflict(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p := testProject(t, s)

	// GIVEN: two copies of the same row
	stale, err := s.Project(ctx, testTenant, p.ID)
	require.NoError(t, err)

	// WHEN: the first copy wins the write
	p.Name = "Renamed"
	require.NoError(t, s.PutProject(ctx, p))

	// THEN: the stale copy loses
	stale.Name = "Loser"
	err = s.PutProject(ctx, stale)
	assert.ErrorIs(t, err, billing.ErrConflict)
	assert.True(t, billing.IsRetryable(err))
}

func TestDuplicateInsertIsConflict(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p := testProject(t, s)

	dup := *p
	dup.Version = 0
	err := s.PutProject(ctx, &dup)
	assert.ErrorIs(t, err, billing.ErrConflict)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p := testProject(t, s)

	boom := assert.AnError
	err := s.WithTx(ctx, func(g billing.Gateway) error {
		e := &billing.Expense{
			ID:        billing.ExpenseID(billing.NewID()),
			TenantID:  testTenant,
			ProjectID: p.ID,
			Value:     money.MustParse("10.00"),
			DateBuy:   time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
			Status:    billing.ExpenseSubmitted,
			CreatedBy: "op-1",
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		if err := g.PutExpense(ctx, e); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// THEN: nothing was persisted
	list, err := s.ExpensesByTenant(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p := testProject(t, s)

	err := s.WithTx(ctx, func(g billing.Gateway) error {
		e := &billing.Expense{
			ID:        billing.ExpenseID(billing.NewID()),
			TenantID:  testTenant,
			ProjectID: p.ID,
			Value:     money.MustParse("10.00"),
			DateBuy:   time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
			Status:    billing.ExpenseSubmitted,
			CreatedBy: "op-1",
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		return g.PutExpense(ctx, e)
	})
	require.NoError(t, err)

	list, err := s.ExpensesByProject(ctx, testTenant, p.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// =============================================================================
// AUDIT SINK
// =============================================================================

func TestRecordAuditEvent(t *testing.T) {
	s := newStore(t)

	err := s.Record(context.Background(), billing.AuditEvent{
		Action:   billing.AuditExpenseApproved,
		ActorID:  "admin-1",
		TenantID: testTenant,
		Meta:     map[string]string{"expense_id": "e-1"},
	})
	assert.NoError(t, err)
}
