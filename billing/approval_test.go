package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/billing/store"
	"github.com/warp/billing-engine/money"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const testTenant = billing.TenantID("tenant-1")

func adminActor() billing.Actor {
	return billing.Actor{UserID: "admin-1", TenantID: testTenant, Role: billing.RoleAdmin}
}

func operatorActor() billing.Actor {
	return billing.Actor{UserID: "op-1", TenantID: testTenant, Role: billing.RoleOperator}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// newFixture seeds a memory gateway with one tenant and one project and
// returns the wired services.
func newFixture(t *testing.T) (*store.Memory, *billing.ApprovalService, *billing.CompositionService, *billing.Registry, *billing.Project) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	require.NoError(t, mem.PutTenant(ctx, &billing.Tenant{
		ID:                  testTenant,
		Name:                "Acme Consulting",
		IndicatorDefaultPct: money.MustParse("0.45").Decimal(),
	}))

	reg := billing.NewRegistry(mem)
	project, err := reg.CreateProject(ctx, adminActor(), billing.ProjectInput{
		Code:             "PRJ-001",
		Name:             "Rollout",
		ValueTotal:       money.MustParse("1000.00"),
		CostPlannedNF:    money.MustParse("60.00"),
		CostPlannedOther: money.MustParse("40.00"),
	})
	require.NoError(t, err)

	approvals := billing.NewApprovalService(mem, mem)
	composition := billing.NewCompositionService(mem, mem)
	return mem, approvals, composition, reg, project
}

func submitExpense(t *testing.T, reg *billing.Registry, project *billing.Project, value, dateBuy string) *billing.Expense {
	t.Helper()
	day, err := time.Parse("2006-01-02", dateBuy)
	require.NoError(t, err)
	e, err := reg.CreateExpense(context.Background(), operatorActor(), billing.ExpenseInput{
		ProjectID:   project.ID,
		ServiceName: "consulting",
		Value:       money.MustParse(value),
		DateBuy:     day,
	})
	require.NoError(t, err)
	return e
}

// =============================================================================
// EXPENSE TRANSITIONS
// =============================================================================

func TestApproveExpense_SubmittedBecomesApproved(t *testing.T) {
	// GIVEN: A submitted expense of 180.00 purchased 2026-01-05
	// WHEN: An admin approves it
	// THEN: Status is approved, link stays empty

	ctx := context.Background()
	_, approvals, _, reg, project := newFixture(t)
	e := submitExpense(t, reg, project, "180.00", "2026-01-05")
	require.Equal(t, billing.ExpenseSubmitted, e.Status)

	approved, err := approvals.ApproveExpense(ctx, adminActor(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.ExpenseApproved, approved.Status)
	assert.Nil(t, approved.InvoiceID)
}

func TestApproveExpense_TwiceIsIllegal(t *testing.T) {
	// GIVEN: An already-approved expense
	// WHEN: A second approve fires
	// THEN: IllegalTransition, and state does not change between the calls

	ctx := context.Background()
	mem, approvals, _, reg, project := newFixture(t)
	e := submitExpense(t, reg, project, "50.00", "2026-01-10")

	_, err := approvals.ApproveExpense(ctx, adminActor(), e.ID)
	require.NoError(t, err)

	_, err = approvals.ApproveExpense(ctx, adminActor(), e.ID)
	assert.ErrorIs(t, err, billing.ErrIllegalTransition)

	reloaded, err := mem.Expense(ctx, testTenant, e.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.ExpenseApproved, reloaded.Status)
}

func TestApproveExpense_OperatorForbidden(t *testing.T) {
	ctx := context.Background()
	mem, approvals, _, reg, project := newFixture(t)
	e := submitExpense(t, reg, project, "50.00", "2026-01-10")

	_, err := approvals.ApproveExpense(ctx, operatorActor(), e.ID)
	assert.ErrorIs(t, err, billing.ErrForbidden)

	reloaded, err := mem.Expense(ctx, testTenant, e.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.ExpenseSubmitted, reloaded.Status, "failed approval must not mutate state")
}

func TestApproveExpense_ForeignTenantNotFound(t *testing.T) {
	ctx := context.Background()
	_, approvals, _, reg, project := newFixture(t)
	e := submitExpense(t, reg, project, "50.00", "2026-01-10")

	foreign := billing.Actor{UserID: "admin-2", TenantID: "tenant-2", Role: billing.RoleAdmin}
	_, err := approvals.ApproveExpense(ctx, foreign, e.ID)
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestRejectExpense_LinkedExpenseIsBlocked(t *testing.T) {
	// GIVEN: An approved expense linked to an invoice
	// WHEN: An admin tries to reject it
	// THEN: IllegalTransition with a reason; the link survives

	ctx := context.Background()
	mem, approvals, composition, reg, project := newFixture(t)
	e := submitExpense(t, reg, project, "180.00", "2026-01-05")
	_, err := approvals.ApproveExpense(ctx, adminActor(), e.ID)
	require.NoError(t, err)

	inv, err := composition.SaveInvoice(ctx, adminActor(), billing.SaveInvoiceInput{
		SelectedExpenseIDs: []billing.ExpenseID{e.ID},
		MonthCompetency:    money.MustParseMonth("2026-01"),
		MonthIssue:         money.MustParseMonth("2026-01"),
	})
	require.NoError(t, err)

	_, err = approvals.RejectExpense(ctx, adminActor(), e.ID)
	assert.ErrorIs(t, err, billing.ErrIllegalTransition)

	var terr *billing.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Contains(t, terr.Reason, "linked to invoice")

	reloaded, err := mem.Expense(ctx, testTenant, e.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.InvoiceID)
	assert.Equal(t, inv.ID, *reloaded.InvoiceID)
}

func TestRejectExpense_UnlinkedIsTerminal(t *testing.T) {
	ctx := context.Background()
	_, approvals, _, reg, project := newFixture(t)
	e := submitExpense(t, reg, project, "20.00", "2026-01-07")

	rejected, err := approvals.RejectExpense(ctx, adminActor(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.ExpenseRejected, rejected.Status)

	// rejected is terminal: no way back
	_, err = approvals.ApproveExpense(ctx, adminActor(), e.ID)
	assert.ErrorIs(t, err, billing.ErrIllegalTransition)
	_, err = approvals.RejectExpense(ctx, adminActor(), e.ID)
	assert.ErrorIs(t, err, billing.ErrIllegalTransition)
}

// =============================================================================
// REIMBURSEMENT TRANSITIONS
// =============================================================================

func TestReimbursement_BothOutcomesAreTerminal(t *testing.T) {
	ctx := context.Background()
	_, approvals, _, reg, project := newFixture(t)

	r1, err := reg.CreateReimbursement(ctx, operatorActor(), billing.ReimbursementInput{
		ProjectID: project.ID,
		Value:     money.MustParse("33.50"),
		DateBuy:   date(2026, time.January, 12),
	})
	require.NoError(t, err)
	r2, err := reg.CreateReimbursement(ctx, operatorActor(), billing.ReimbursementInput{
		ProjectID: project.ID,
		Value:     money.MustParse("12.00"),
		DateBuy:   date(2026, time.January, 13),
	})
	require.NoError(t, err)

	approved, err := approvals.ApproveReimbursement(ctx, adminActor(), r1.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.ReimbursementApproved, approved.Status)

	rejected, err := approvals.RejectReimbursement(ctx, adminActor(), r2.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.ReimbursementRejected, rejected.Status)

	_, err = approvals.RejectReimbursement(ctx, adminActor(), r1.ID)
	assert.ErrorIs(t, err, billing.ErrIllegalTransition)
	_, err = approvals.ApproveReimbursement(ctx, adminActor(), r2.ID)
	assert.ErrorIs(t, err, billing.ErrIllegalTransition)
}

// =============================================================================
// INVOICE TRANSITIONS
// =============================================================================

func saveInvoiceWith(t *testing.T, composition *billing.CompositionService, approvals *billing.ApprovalService, reg *billing.Registry, project *billing.Project) *billing.Invoice {
	t.Helper()
	ctx := context.Background()
	e := submitExpense(t, reg, project, "100.00", "2026-01-03")
	_, err := approvals.ApproveExpense(ctx, adminActor(), e.ID)
	require.NoError(t, err)

	inv, err := composition.SaveInvoice(ctx, adminActor(), billing.SaveInvoiceInput{
		SelectedExpenseIDs: []billing.ExpenseID{e.ID},
		MonthCompetency:    money.MustParseMonth("2026-01"),
		MonthIssue:         money.MustParseMonth("2026-01"),
	})
	require.NoError(t, err)
	return inv
}

func TestInvoice_ApprovePayLifecycle(t *testing.T) {
	ctx := context.Background()
	_, approvals, composition, reg, project := newFixture(t)
	inv := saveInvoiceWith(t, composition, approvals, reg, project)
	require.Equal(t, billing.InvoiceSubmitted, inv.Status)

	// markPaid is a distinct operation and not legal from submitted
	_, err := approvals.MarkInvoicePaid(ctx, adminActor(), inv.ID)
	assert.ErrorIs(t, err, billing.ErrIllegalTransition)

	approved, err := approvals.ApproveInvoice(ctx, adminActor(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceApproved, approved.Status)

	paid, err := approvals.MarkInvoicePaid(ctx, adminActor(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoicePaid, paid.Status)

	// paid is terminal
	_, err = approvals.RejectInvoice(ctx, adminActor(), inv.ID)
	assert.ErrorIs(t, err, billing.ErrIllegalTransition)
	_, err = approvals.ApproveInvoice(ctx, adminActor(), inv.ID)
	assert.ErrorIs(t, err, billing.ErrIllegalTransition)
}

func TestInvoice_RejectedCanBeReApproved(t *testing.T) {
	ctx := context.Background()
	_, approvals, composition, reg, project := newFixture(t)
	inv := saveInvoiceWith(t, composition, approvals, reg, project)

	rejected, err := approvals.RejectInvoice(ctx, adminActor(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceRejected, rejected.Status)

	reapproved, err := approvals.ApproveInvoice(ctx, adminActor(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceApproved, reapproved.Status)
}

func TestInvoice_RejectDoesNotUnlinkExpenses(t *testing.T) {
	// GIVEN: An invoice with one linked expense
	// WHEN: The invoice is rejected
	// THEN: The expense keeps pointing at the rejected invoice; the
	//       explicit unlink path is editing or deleting the invoice

	ctx := context.Background()
	mem, approvals, composition, reg, project := newFixture(t)
	inv := saveInvoiceWith(t, composition, approvals, reg, project)

	_, err := approvals.RejectInvoice(ctx, adminActor(), inv.ID)
	require.NoError(t, err)

	e, err := mem.Expense(ctx, testTenant, inv.ExpenseIDs[0])
	require.NoError(t, err)
	require.NotNil(t, e.InvoiceID)
	assert.Equal(t, inv.ID, *e.InvoiceID)
	assert.Equal(t, billing.ExpenseInvoiced, e.Status)
}

// =============================================================================
// CONCURRENCY & AUDIT
// =============================================================================

func TestConcurrentApprove_ExactlyOneSucceeds(t *testing.T) {
	// Two actors race to approve the same expense. The memory gateway
	// serializes them; the loser must see IllegalTransition or Conflict.

	ctx := context.Background()
	_, approvals, _, reg, project := newFixture(t)
	e := submitExpense(t, reg, project, "75.00", "2026-01-20")

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := approvals.ApproveExpense(ctx, adminActor(), e.ID)
			results <- err
		}()
	}

	var failures, successes int
	for i := 0; i < 2; i++ {
		err := <-results
		if err == nil {
			successes++
			continue
		}
		failures++
		ok := errors.Is(err, billing.ErrIllegalTransition) || errors.Is(err, billing.ErrConflict)
		assert.True(t, ok, "unexpected error kind: %v", err)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, failures)
}

func TestStaleVersionWrite_Conflicts(t *testing.T) {
	ctx := context.Background()
	mem, approvals, _, reg, project := newFixture(t)
	e := submitExpense(t, reg, project, "75.00", "2026-01-20")

	stale, err := mem.Expense(ctx, testTenant, e.ID)
	require.NoError(t, err)

	_, err = approvals.ApproveExpense(ctx, adminActor(), e.ID)
	require.NoError(t, err)

	stale.ServiceName = "late edit"
	assert.ErrorIs(t, mem.PutExpense(ctx, stale), billing.ErrConflict)
}

func TestApprovals_EmitAuditEvents(t *testing.T) {
	ctx := context.Background()
	mem, approvals, _, reg, project := newFixture(t)
	e := submitExpense(t, reg, project, "10.00", "2026-01-02")

	_, err := approvals.ApproveExpense(ctx, adminActor(), e.ID)
	require.NoError(t, err)

	events := mem.AuditEvents()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, billing.AuditExpenseApproved, last.Action)
	assert.Equal(t, adminActor().UserID, last.ActorID)
	assert.Equal(t, testTenant, last.TenantID)
	assert.Equal(t, string(e.ID), last.Meta["expense_id"])
}
