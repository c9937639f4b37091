package fees

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status of a FeeDue. Overdue is derived from the due date at read time,
// never stored as a transition of its own; Waived is terminal.
type Status string

const (
	StatusPending       Status = "Pending"
	StatusPartiallyPaid Status = "PartiallyPaid"
	StatusPaid          Status = "Paid"
	StatusWaived        Status = "Waived"
	StatusOverdue       Status = "Overdue"
)

// DeriveStatus is the single source of truth tying a due's status to its
// balance. Every code path that changes a balance must go through it so the
// stored status can never drift.
//
//	balance == 0        -> Paid
//	balance == original -> Pending, or Overdue when past dueDate
//	otherwise           -> PartiallyPaid, or Overdue when past dueDate
//
// Waived is not derivable from amounts and is assigned explicitly by WaiveDue.
func DeriveStatus(balance, original decimal.Decimal, dueDate, now time.Time) Status {
	if balance.IsZero() {
		return StatusPaid
	}
	if !dueDate.IsZero() && dueDate.Before(now) {
		return StatusOverdue
	}
	if balance.Equal(original) {
		return StatusPending
	}
	return StatusPartiallyPaid
}

// storedStatus is DeriveStatus without the read-time Overdue overlay; it is
// what gets persisted when a balance changes.
func storedStatus(balance, original decimal.Decimal) Status {
	if balance.IsZero() {
		return StatusPaid
	}
	if balance.Equal(original) {
		return StatusPending
	}
	return StatusPartiallyPaid
}
