// Package store is the durable record of events and their reminder state.
//
// The dispatch engine consumes it through three operations: FindDue,
// CommitSent and the single-item lookups. Everything else (CRUD, listing,
// counters) exists for the thin HTTP collaborator layer.
//
// Reminder state is a two-state machine per event:
//
//	Pending (reminder_sent=0) -> Sent (reminder_sent=1, reminder_sent_time set)
//
// The only way back to Pending is an explicit event update that reschedules
// the reminder; UpdateEvent writes the whole sent pair atomically for that.
package store
