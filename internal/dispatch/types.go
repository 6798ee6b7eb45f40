package dispatch

import (
	"context"
	"time"

	"remindd/internal/store"
)

// Config controls the dispatch engine.
type Config struct {
	Enabled bool

	// Interval between cycle starts. Default 60s.
	Interval time.Duration

	// Workers bounds the per-cycle send fan-out. <=1 means sequential.
	Workers int

	// CycleTimeout, when set, deadlines one cycle. Events not attempted by
	// the deadline stay Pending, same as a send failure.
	CycleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return c
}

// Store is the slice of the event store the engine consumes.
type Store interface {
	FindDue(ctx context.Context, now time.Time) ([]store.DueReminder, error)
	CommitSent(ctx context.Context, ids []int64, at time.Time) (int, error)
	EventByID(ctx context.Context, id int64) (*store.Event, error)
	UserByID(ctx context.Context, id int64) (*store.User, error)
	Counts(ctx context.Context) (sent, pending int64, err error)
}

// Report summarizes one cycle for the scheduler/operator boundary.
//
// Committed is the row count the store actually updated; it can be smaller
// than Sent when rows were deleted or raced between send and commit.
type Report struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Committed int `json:"committed"`
}

// Bus event types published by the engine.
const (
	EventCycleFinished  = "cycle.finished"
	EventCycleAborted   = "cycle.aborted"
	EventManualDispatch = "dispatch.manual"
)

// CycleEvent is the payload of EventCycleFinished.
type CycleEvent struct {
	Report Report
	Now    time.Time
}

// ManualEvent is the payload of EventManualDispatch.
type ManualEvent struct {
	EventID int64
	Outcome Outcome
}

// Outcome classifies a manual trigger.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeSent
	OutcomeAlreadySent
	OutcomeDeliveryFailed
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeAlreadySent:
		return "already_sent"
	case OutcomeDeliveryFailed:
		return "delivery_failed"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}
