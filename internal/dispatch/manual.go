package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindd/internal/eventbus"
	"remindd/internal/metrics"
	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

// DispatchNow force-sends one event outside the cycle.
//
// It reuses the cycle runner's attempt and commit paths so the two can never
// drift: a success runs the same single-event conditional commit, a failure
// leaves state untouched and is surfaced to the caller together with
// OutcomeDeliveryFailed. An event already Sent is rejected with
// OutcomeAlreadySent before any send attempt.
//
// A non-nil error with OutcomeUnknown means the store itself failed.
func (s *Service) DispatchNow(ctx context.Context, eventID int64) (Outcome, error) {
	ev, err := s.store.EventByID(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		metrics.ManualDispatches.WithLabelValues(OutcomeNotFound.String()).Inc()
		s.bus.Publish(eventbus.Event{Type: EventManualDispatch, Data: ManualEvent{EventID: eventID, Outcome: OutcomeNotFound}})
		return OutcomeNotFound, nil
	}
	if err != nil {
		return OutcomeUnknown, fmt.Errorf("load event: %w", err)
	}
	if ev.ReminderSent {
		metrics.ManualDispatches.WithLabelValues(OutcomeAlreadySent.String()).Inc()
		s.bus.Publish(eventbus.Event{Type: EventManualDispatch, Data: ManualEvent{EventID: ev.ID, Outcome: OutcomeAlreadySent}})
		return OutcomeAlreadySent, nil
	}

	owner, err := s.store.UserByID(ctx, ev.UserID)
	if err != nil {
		return OutcomeUnknown, fmt.Errorf("load event owner: %w", err)
	}

	d := store.DueReminder{
		EventID:      ev.ID,
		Title:        ev.Title,
		Description:  ev.Description,
		EventDate:    ev.EventDate,
		ReminderTime: ev.ReminderTime,
		Recipient:    store.Recipient{Email: owner.Email, ChatID: owner.ChatID, Name: owner.Name},
	}
	if err := s.attemptOne(ctx, s.log, d); err != nil {
		metrics.ManualDispatches.WithLabelValues(OutcomeDeliveryFailed.String()).Inc()
		s.bus.Publish(eventbus.Event{Type: EventManualDispatch, Data: ManualEvent{EventID: ev.ID, Outcome: OutcomeDeliveryFailed}})
		return OutcomeDeliveryFailed, err
	}

	// The commit must outlive the request context: the send happened, and a
	// caller hanging up now must not turn it into a duplicate next cycle.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitGrace)
	defer cancel()

	commitAt := time.Now().Truncate(time.Second)
	updated, err := s.store.CommitSent(commitCtx, []int64{ev.ID}, commitAt)
	if err != nil {
		return OutcomeUnknown, fmt.Errorf("commit sent reminder: %w", err)
	}
	if updated == 0 {
		// Raced with a cycle commit; the send above was a duplicate, but the
		// state is Sent either way.
		s.log.Debug("manual commit raced an earlier transition", logx.Int64("event_id", ev.ID))
	}
	metrics.ManualDispatches.WithLabelValues(OutcomeSent.String()).Inc()
	s.bus.Publish(eventbus.Event{Type: EventManualDispatch, Data: ManualEvent{EventID: ev.ID, Outcome: OutcomeSent}})
	s.log.Info("manual dispatch sent", logx.Int64("event_id", ev.ID), logx.String("recipient", owner.Email))
	return OutcomeSent, nil
}
