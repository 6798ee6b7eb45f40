package store

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "remindd/pkg/logx"
)

// Store is the persistence API consumed by the dispatch engine and the HTTP
// collaborator layer.
//
// All methods wrap transport failures in ErrUnavailable and report missing
// rows as ErrNotFound.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	UserByID(ctx context.Context, id int64) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)

	CreateEvent(ctx context.Context, ev *Event) error
	EventByID(ctx context.Context, id int64) (*Event, error)
	UpdateEvent(ctx context.Context, ev *Event) error
	DeleteEvent(ctx context.Context, id int64) error
	ListEvents(ctx context.Context, userID int64) ([]Event, error)

	// FindDue returns every event with reminder_sent=0 and reminder_time<=now,
	// however stale, joined with the owner's delivery address. Order is by id,
	// so one snapshot is deterministic.
	FindDue(ctx context.Context, now time.Time) ([]DueReminder, error)

	// FindUpcoming is the owner-scoped variant over [from, to]. It shares the
	// "not yet sent" predicate but is not on the dispatch-critical path.
	FindUpcoming(ctx context.Context, userID int64, from, to time.Time) ([]Event, error)

	// CommitSent marks the given events Sent in one transaction. The update is
	// conditional per row (reminder_sent must still be 0), so a concurrent
	// manual trigger and cycle commit can never both count the same event.
	// The returned count may be smaller than len(ids) when rows were deleted
	// or already transitioned; that is informational, not an error.
	CommitSent(ctx context.Context, ids []int64, at time.Time) (int, error)

	// Counts returns the global sent/pending counters.
	Counts(ctx context.Context) (sent, pending int64, err error)
	CountCreatedSince(ctx context.Context, since time.Time) (int64, error)
	CountSentSince(ctx context.Context, since time.Time) (int64, error)
	EventsPerDay(ctx context.Context, from, to time.Time) ([]DayCount, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
