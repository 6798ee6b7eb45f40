package store

import (
	"errors"
	"time"
)

// ErrUnavailable wraps any transport/storage failure. Callers treat it as
// fatal for the current operation only; the dispatch engine retries on the
// next cycle.
var ErrUnavailable = errors.New("event store unavailable")

// ErrNotFound is returned for lookups of rows that do not exist.
var ErrNotFound = errors.New("not found")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (the default and only driver)
//
// If Driver is empty, "sqlite" is assumed.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// User is the thin collaborator entity that owns events. The dispatch engine
// only ever reads the delivery address from it.
type User struct {
	ID        int64
	Email     string
	ChatID    int64 // telegram delivery target; 0 when unset
	Name      string
	CreatedAt time.Time
}

// Event is a user-owned calendar entry with a one-shot reminder.
//
// ReminderSentTime is nil exactly while ReminderSent is false. The dispatch
// engine mutates only that pair; all other fields belong to the CRUD layer.
type Event struct {
	ID               int64
	UserID           int64
	Title            string
	Description      string
	EventDate        time.Time // date-only, used by listing filters
	ReminderTime     time.Time // whole-second precision
	ReminderSent     bool
	ReminderSentTime *time.Time
	CreatedAt        time.Time
}

// Recipient is the delivery address attached to a due reminder.
type Recipient struct {
	Email  string
	ChatID int64
	Name   string
}

// DueReminder is one row of the FindDue result: the renderable event fields
// plus the owner's delivery address, joined in a single consistent snapshot.
type DueReminder struct {
	EventID      int64
	Title        string
	Description  string
	EventDate    time.Time
	ReminderTime time.Time
	Recipient    Recipient
}

// DayCount is one bucket of the events-per-day stat.
type DayCount struct {
	Date  string // "2006-01-02"
	Count int64
}
