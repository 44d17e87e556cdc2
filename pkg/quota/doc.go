// Package quota keeps space counters (item count and bytes) consistent with
// the pictures stored in each space.
//
// Ledger changes counters inside the caller's transaction, taking the space
// row lock with SELECT ... FOR UPDATE and writing relative updates, so two
// uploads into the same space serialize and a rejected reservation leaves
// nothing behind. Reconciler periodically recomputes counters from the
// pictures table and reports or repairs any drift.
package quota
