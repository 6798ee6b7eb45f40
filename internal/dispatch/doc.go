// Package dispatch implements the reminder dispatch engine: a periodic,
// non-overlapping cycle that finds due reminders, attempts delivery per
// event, and commits the successful set to the store in one conditional
// batch write.
//
// Guarantees:
//   - A delivery failure on one event never aborts processing of the others
//     and never corrupts the commit of events that did succeed.
//   - An event is marked Sent in a cycle iff its send attempt returned
//     success; failures stay Pending and become due again next cycle.
//   - Delivery is at-least-once: a crash between send and commit can produce
//     one duplicate on the next cycle (see notify.Sender).
//   - Store failures abort the whole cycle with no mutation; the next tick
//     retries indefinitely. Nothing here ever crashes the host process.
package dispatch
