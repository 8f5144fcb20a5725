package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/money"
)

// =============================================================================
// OWNERSHIP RULE - creator-only edits while in initial status
// =============================================================================

func TestUpdateExpense_CreatorMayEditWhileSubmitted(t *testing.T) {
	// GIVEN: An operator's own submitted expense
	// WHEN: The same operator edits value and date
	// THEN: The edit lands

	ctx := context.Background()
	_, _, _, reg, project := newFixture(t)
	e := submitExpense(t, reg, project, "50.00", "2026-01-10")

	edited, err := reg.UpdateExpense(ctx, operatorActor(), e.ID, billing.ExpenseInput{
		ProjectID:   project.ID,
		ServiceName: "consulting",
		Complement:  "phase 2",
		Value:       money.MustParse("75.00"),
		DateBuy:     date(2026, 1, 12),
	})
	require.NoError(t, err)
	assert.True(t, edited.Value.Equal(money.MustParse("75.00")))
	assert.Equal(t, "phase 2", edited.Complement)
	assert.Equal(t, billing.ExpenseSubmitted, edited.Status)
}

func TestUpdateExpense_OtherOperatorForbidden(t *testing.T) {
	ctx := context.Background()
	_, _, _, reg, project := newFixture(t)
	e := submitExpense(t, reg, project, "50.00", "2026-01-10")

	intruder := billing.Actor{UserID: "op-2", TenantID: testTenant, Role: billing.RoleOperator}
	_, err := reg.UpdateExpense(ctx, intruder, e.ID, billing.ExpenseInput{
		ProjectID: project.ID,
		Value:     money.MustParse("1.00"),
		DateBuy:   date(2026, 1, 10),
	})
	assert.ErrorIs(t, err, billing.ErrForbidden)
}

func TestUpdateExpense_OperatorLockedOutAfterApproval(t *testing.T) {
	// GIVEN: An approved expense
	// WHEN: The original creator tries to edit
	// THEN: Forbidden; an admin may still edit it

	ctx := context.Background()
	_, approvals, _, reg, project := newFixture(t)
	e := submitExpense(t, reg, project, "50.00", "2026-01-10")
	_, err := approvals.ApproveExpense(ctx, adminActor(), e.ID)
	require.NoError(t, err)

	in := billing.ExpenseInput{
		ProjectID: project.ID,
		Value:     money.MustParse("60.00"),
		DateBuy:   date(2026, 1, 10),
	}
	_, err = reg.UpdateExpense(ctx, operatorActor(), e.ID, in)
	assert.ErrorIs(t, err, billing.ErrForbidden)

	edited, err := reg.UpdateExpense(ctx, adminActor(), e.ID, in)
	require.NoError(t, err)
	assert.True(t, edited.Value.Equal(money.MustParse("60.00")))
}

func TestUpdateExpense_TerminalStatusRefusesEdit(t *testing.T) {
	ctx := context.Background()
	_, approvals, _, reg, project := newFixture(t)
	e := submitExpense(t, reg, project, "50.00", "2026-01-10")
	_, err := approvals.RejectExpense(ctx, adminActor(), e.ID)
	require.NoError(t, err)

	_, err = reg.UpdateExpense(ctx, adminActor(), e.ID, billing.ExpenseInput{
		ProjectID: project.ID,
		Value:     money.MustParse("60.00"),
		DateBuy:   date(2026, 1, 10),
	})
	assert.ErrorIs(t, err, billing.ErrIllegalTransition)
}

// =============================================================================
// INPUT VALIDATION
// =============================================================================

func TestCreateExpense_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	_, _, _, reg, project := newFixture(t)

	// Missing project
	_, err := reg.CreateExpense(ctx, operatorActor(), billing.ExpenseInput{
		Value:   money.MustParse("10.00"),
		DateBuy: date(2026, 1, 10),
	})
	assert.ErrorIs(t, err, billing.ErrInvalidSelection)

	// Negative value
	_, err = reg.CreateExpense(ctx, operatorActor(), billing.ExpenseInput{
		ProjectID: project.ID,
		Value:     money.MustParse("-1.00"),
		DateBuy:   date(2026, 1, 10),
	})
	assert.ErrorIs(t, err, billing.ErrInvalidSelection)

	// Unknown project
	_, err = reg.CreateExpense(ctx, operatorActor(), billing.ExpenseInput{
		ProjectID: "ghost",
		Value:     money.MustParse("10.00"),
		DateBuy:   date(2026, 1, 10),
	})
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestCreateReimbursement_ProjectOptional(t *testing.T) {
	// A reimbursement without a project is valid; it just aggregates into
	// no project bucket until assigned.

	ctx := context.Background()
	_, _, _, reg, _ := newFixture(t)

	rb, err := reg.CreateReimbursement(ctx, operatorActor(), billing.ReimbursementInput{
		Description: "taxi to client site",
		Value:       money.MustParse("35.50"),
		DateBuy:     date(2026, 1, 8),
	})
	require.NoError(t, err)
	assert.Equal(t, billing.ReimbursementRequested, rb.Status)
	assert.Equal(t, billing.ProjectID(""), rb.ProjectID)
	assert.Equal(t, billing.UserID("op-1"), rb.Requester)
}

func TestUpdateReimbursement_RequesterOnlyWhileRequested(t *testing.T) {
	ctx := context.Background()
	_, approvals, _, reg, project := newFixture(t)

	rb, err := reg.CreateReimbursement(ctx, operatorActor(), billing.ReimbursementInput{
		ProjectID: project.ID,
		Value:     money.MustParse("35.50"),
		DateBuy:   date(2026, 1, 8),
	})
	require.NoError(t, err)

	_, err = approvals.ApproveReimbursement(ctx, adminActor(), rb.ID)
	require.NoError(t, err)

	_, err = reg.UpdateReimbursement(ctx, operatorActor(), rb.ID, billing.ReimbursementInput{
		ProjectID: project.ID,
		Value:     money.MustParse("99.00"),
		DateBuy:   date(2026, 1, 8),
	})
	assert.ErrorIs(t, err, billing.ErrForbidden)
}
