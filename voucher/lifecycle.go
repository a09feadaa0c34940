/*
lifecycle.go - The voucher state machine

PURPOSE:
  A single transition table drives every status change. Operations name a
  target status; the table decides whether the edge from the current
  (effective) status is allowed.

TRANSITIONS:
  Pending   -> Active, Expired, Archived
  Active    -> Suspended, Expired, Archived
  Suspended -> Active, Expired, Archived
  Expired   -> Archived
  Archived  -> (none)

IDEMPOTENCE:
  Applying an operation to a voucher that is already in the target status
  succeeds and changes nothing.

DELETE:
  Delete is not a transition. It removes the record and is handled by the
  batch coordinator directly (see batch.go).
*/
package voucher

import (
	"fmt"
	"strings"
	"time"
)

// Operation names a bulk action on vouchers.
type Operation string

const (
	OpActivate Operation = "activate"
	OpSuspend  Operation = "suspend"
	OpExpire   Operation = "expire"
	OpArchive  Operation = "archive"
	OpDelete   Operation = "delete"
)

var operationTargets = map[Operation]Status{
	OpActivate: StatusActive,
	OpSuspend:  StatusSuspended,
	OpExpire:   StatusExpired,
	OpArchive:  StatusArchived,
}

var transitionTable = map[Status]map[Status]bool{
	StatusPending:   {StatusActive: true, StatusExpired: true, StatusArchived: true},
	StatusActive:    {StatusSuspended: true, StatusExpired: true, StatusArchived: true},
	StatusSuspended: {StatusActive: true, StatusExpired: true, StatusArchived: true},
	StatusExpired:   {StatusArchived: true},
	StatusArchived:  {},
}

var pastTense = map[Operation]string{
	OpActivate: "activated",
	OpSuspend:  "suspended",
	OpExpire:   "expired",
	OpArchive:  "archived",
	OpDelete:   "deleted",
}

// ParseOperation parses an operation name case-insensitively.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := pastTense[op]; !ok {
		return "", &ValidationError{Field: "operation", Message: fmt.Sprintf("unknown operation %q", s)}
	}
	return op, nil
}

// Target returns the status the operation moves a voucher to.
// Delete has no target.
func (op Operation) Target() (Status, bool) {
	st, ok := operationTargets[op]
	return st, ok
}

// PastTense returns the verb used in summaries ("suspended").
func (op Operation) PastTense() string {
	if s, ok := pastTense[op]; ok {
		return s
	}
	return string(op) + "d"
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to Status) bool {
	return transitionTable[from][to]
}

// Transition applies op to v as observed at now. It returns the updated
// voucher and whether anything changed.
func Transition(v Voucher, op Operation, now time.Time) (Voucher, bool, error) {
	to, ok := op.Target()
	if !ok {
		return v, false, &ValidationError{Field: "operation", Message: fmt.Sprintf("%q is not a lifecycle operation", op)}
	}

	from := v.EffectiveStatus(now)
	if from == to {
		return v, false, nil
	}
	if !CanTransition(from, to) {
		return v, false, &InvalidTransitionError{ID: v.ID, Op: op, From: from, To: to}
	}

	v.Status = to
	return v, true, nil
}
