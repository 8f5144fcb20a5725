/*
errors.go - Centralized error taxonomy for the billing core

PURPOSE:
  All core error kinds in one place. The (external) CRUD layer translates
  these into user-facing messages; nothing in this package retries them.

ERROR CATEGORIES:
  1. Forbidden         - role or tenant mismatch
  2. IllegalTransition - state machine precondition violated
  3. InvalidSelection  - invoice composition references ineligible expenses
  4. NotFound          - id does not resolve within the actor's tenant
  5. Conflict          - optimistic version check lost a race (retryable)

USAGE:
  Callers classify with errors.Is:

    if errors.Is(err, billing.ErrConflict) {
        // safe to retry once with fresh state
    }

SEE ALSO:
  - approval.go: raises Forbidden/IllegalTransition/Conflict
  - invoice.go: raises InvalidSelection
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrForbidden is returned when the actor lacks the required role or the
	// entity belongs to another tenant.
	ErrForbidden = errors.New("forbidden")

	// ErrIllegalTransition is returned when a status change is not a legal
	// edge of the entity's transition table, or is blocked by an active link.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrInvalidSelection is returned when an invoice save references
	// expenses that are not eligible for this invoice (wrong tenant, not
	// approved, or already claimed by another invoice), or no expenses at all.
	ErrInvalidSelection = errors.New("invalid expense selection")

	// ErrNotFound is returned when an id does not resolve within the tenant.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an optimistic version check detects a
	// concurrent write. This is the only retryable error in the taxonomy.
	ErrConflict = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TransitionError reports an illegal state machine edge.
type TransitionError struct {
	Entity    string // "expense", "reimbursement", "invoice"
	ID        string
	From      string
	Attempted string
	Reason    string // optional, e.g. "expense is linked to an invoice"
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("illegal transition for %s %s: %s -> %s (%s)",
			e.Entity, e.ID, e.From, e.Attempted, e.Reason)
	}
	return fmt.Sprintf("illegal transition for %s %s: %s -> %s",
		e.Entity, e.ID, e.From, e.Attempted)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// SelectionError reports an ineligible expense in an invoice save.
type SelectionError struct {
	InvoiceID InvoiceID
	ExpenseID ExpenseID
	Reason    string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("invalid selection for invoice %s: expense %s %s",
		e.InvoiceID, e.ExpenseID, e.Reason)
}

func (e *SelectionError) Unwrap() error { return ErrInvalidSelection }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry with fresh state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrInvalidSelection)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
