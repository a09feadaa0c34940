/*
batch.go - Batch operation coordinator

PURPOSE:
  Applies one operation to a set of voucher IDs and reports the outcome of
  every ID. A failing item never stops its siblings.

SEMANTICS:
  - The whole batch runs inside one store transaction.
  - Results follow caller input order; duplicate IDs are reported once.
  - Unknown IDs and disallowed transitions fail per item.
  - Only malformed input (no IDs, blank IDs, unknown operation) and store
    failures fail the call itself; a store failure rolls the batch back.

SEE ALSO:
  - lifecycle.go: Transition table consulted per item
  - engine.go: Apply and Delete entry points
*/
package voucher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ItemResult is the outcome for one voucher ID.
type ItemResult struct {
	ID        string
	Succeeded bool
	Changed   bool // false for idempotent no-ops and failures
	From      Status
	To        Status
	Err       error
}

// Reason returns the failure message, or "" on success.
func (r ItemResult) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// BatchResult collects the per-item outcomes of one batch call.
type BatchResult struct {
	Operation Operation
	Items     []ItemResult
	Succeeded int
	Failed    int
	Changed   int
}

// ChangedIDs returns the IDs whose record was modified.
func (r BatchResult) ChangedIDs() []string {
	ids := make([]string, 0, r.Changed)
	for _, it := range r.Items {
		if it.Changed {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

// Summary renders a human message such as
// "Successfully suspended 8 voucher(s). 2 failed."
func (r BatchResult) Summary() string {
	verb := r.Operation.PastTense()
	if r.Succeeded == 0 && r.Failed > 0 {
		return fmt.Sprintf("Failed to %s %d voucher(s).", r.Operation, r.Failed)
	}
	msg := fmt.Sprintf("Successfully %s %d voucher(s).", verb, r.Succeeded)
	if r.Failed > 0 {
		msg += fmt.Sprintf(" %d failed.", r.Failed)
	}
	return msg
}

func (r *BatchResult) record(item ItemResult) {
	if item.Err != nil {
		item.Succeeded = false
		r.Failed++
	} else {
		item.Succeeded = true
		r.Succeeded++
		if item.Changed {
			r.Changed++
		}
	}
	r.Items = append(r.Items, item)
}

// normalizeIDs trims and de-duplicates ids, keeping first occurrences.
func normalizeIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, &ValidationError{Field: "voucherIds", Message: "at least one voucher ID is required"}
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for i, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, &ValidationError{Field: "voucherIds", Message: fmt.Sprintf("voucher ID at position %d is blank", i)}
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// itemFunc handles one voucher inside the batch transaction. A returned
// error aborts the batch; per-item failures go into ItemResult.Err.
type itemFunc func(ctx context.Context, s Store, v Voucher) (ItemResult, error)

// runBatch loads each ID inside s and hands it to fn. Results keep the
// input order; locks are taken in sorted order first when s is a Locker.
func runBatch(ctx context.Context, s Store, op Operation, ids []string, fn itemFunc) (BatchResult, error) {
	result := BatchResult{Operation: op, Items: make([]ItemResult, 0, len(ids))}
	if l, ok := s.(Locker); ok {
		if err := l.LockIDs(ctx, slices.Sorted(slices.Values(ids))); err != nil {
			return result, storageErr("lock vouchers", err)
		}
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		v, err := s.Get(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				result.record(ItemResult{ID: id, Err: err})
				continue
			}
			return result, storageErr("load voucher "+id, err)
		}

		item, err := fn(ctx, s, v)
		if err != nil {
			return result, err
		}
		result.record(item)
	}
	return result, nil
}

// transitionItem returns the itemFunc for a lifecycle operation.
func transitionItem(op Operation, now time.Time) itemFunc {
	return func(ctx context.Context, s Store, v Voucher) (ItemResult, error) {
		from := v.EffectiveStatus(now)
		next, changed, err := Transition(v, op, now)
		item := ItemResult{ID: v.ID, From: from, To: next.EffectiveStatus(now), Changed: changed}
		if err != nil {
			var terr *InvalidTransitionError
			if errors.As(err, &terr) {
				item.To = from
				item.Err = err
				return item, nil
			}
			return item, err
		}
		if changed {
			if err := s.Upsert(ctx, next); err != nil {
				return item, storageErr("update voucher "+v.ID, err)
			}
		}
		return item, nil
	}
}

// deleteItem removes the voucher and retires its code.
func deleteItem(now time.Time) itemFunc {
	return func(ctx context.Context, s Store, v Voucher) (ItemResult, error) {
		if err := s.Delete(ctx, v.ID, now); err != nil {
			if IsNotFound(err) {
				return ItemResult{ID: v.ID, Err: err}, nil
			}
			return ItemResult{}, storageErr("delete voucher "+v.ID, err)
		}
		return ItemResult{ID: v.ID, From: v.EffectiveStatus(now), Changed: true}, nil
	}
}
