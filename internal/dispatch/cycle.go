package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"remindd/internal/eventbus"
	"remindd/internal/metrics"
	"remindd/internal/notify"
	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

// commitGrace bounds the post-attempt store writes independently of the
// cycle deadline.
const commitGrace = 10 * time.Second

// RunCycle executes exactly one full pass over the currently due events.
//
// "now" is captured once at cycle start and truncated to whole seconds, so
// the due-set is stable for the whole cycle. Send attempts are independent;
// the commit id set is aggregated only after every attempt completed and
// written in a single conditional batch.
func (s *Service) RunCycle(ctx context.Context) (Report, error) {
	start := time.Now()
	now := start.Truncate(time.Second)
	log := s.log.With(logx.String("cycle", uuid.NewString()[:8]))

	if s.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CycleTimeout)
		defer cancel()
	}

	due, err := s.store.FindDue(ctx, now)
	if err != nil {
		metrics.CyclesAborted.Inc()
		s.bus.Publish(eventbus.Event{Type: EventCycleAborted, Data: err.Error()})
		return Report{}, fmt.Errorf("find due reminders: %w", err)
	}
	if len(due) == 0 {
		log.Debug("no due reminders", logx.Time("now", now))
		rep := Report{}
		s.storeLast(rep, now)
		s.bus.Publish(eventbus.Event{Type: EventCycleFinished, Data: CycleEvent{Report: rep, Now: now}})
		metrics.CyclesTotal.Inc()
		metrics.CycleDuration.Observe(time.Since(start).Seconds())
		return rep, nil
	}

	errs := s.attemptAll(ctx, log, due)

	// Everything after the attempts must survive the cycle deadline: the
	// sends already went out, and a commit killed by the expiring context
	// would re-deliver every successful event next cycle, forever.
	postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitGrace)
	defer cancel()

	rep := Report{Attempted: len(due)}
	var okIDs []int64
	for i, err := range errs {
		if err != nil {
			rep.Failed++
			continue
		}
		rep.Sent++
		okIDs = append(okIDs, due[i].EventID)
	}
	// Sorted ids keep the commit deterministic within one snapshot.
	sort.Slice(okIDs, func(i, j int) bool { return okIDs[i] < okIDs[j] })

	if len(okIDs) > 0 {
		commitAt := time.Now().Truncate(time.Second)
		updated, err := s.store.CommitSent(postCtx, okIDs, commitAt)
		if err != nil {
			// Sends already went out; the rows stay Pending and will be
			// delivered again next cycle (at-least-once).
			metrics.CyclesAborted.Inc()
			s.bus.Publish(eventbus.Event{Type: EventCycleAborted, Data: err.Error()})
			return rep, fmt.Errorf("commit sent reminders: %w", err)
		}
		rep.Committed = updated
		if updated < len(okIDs) {
			log.Debug("commit updated fewer rows than requested",
				logx.Int("requested", len(okIDs)),
				logx.Int("updated", updated),
			)
		}
	}

	metrics.CyclesTotal.Inc()
	metrics.RemindersSent.Add(float64(rep.Sent))
	metrics.RemindersFailed.Add(float64(rep.Failed))
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	if _, pending, err := s.store.Counts(postCtx); err == nil {
		metrics.PendingReminders.Set(float64(pending))
	}

	s.storeLast(rep, now)
	s.bus.Publish(eventbus.Event{Type: EventCycleFinished, Data: CycleEvent{Report: rep, Now: now}})
	log.Info("cycle finished",
		logx.Int("attempted", rep.Attempted),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Int("committed", rep.Committed),
		logx.Duration("dur", time.Since(start)),
	)
	return rep, nil
}

// attemptAll runs one send attempt per due reminder and returns one error
// slot per input, in input order. With Workers > 1 attempts are fanned out to
// a bounded pool; aggregation still happens only after every attempt is done.
func (s *Service) attemptAll(ctx context.Context, log logx.Logger, due []store.DueReminder) []error {
	errs := make([]error, len(due))

	workers := s.cfg.Workers
	if workers > len(due) {
		workers = len(due)
	}
	if workers <= 1 {
		for i := range due {
			errs[i] = s.attemptOne(ctx, log, due[i])
		}
		return errs
	}

	idx := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range idx {
				errs[i] = s.attemptOne(ctx, log, due[i])
			}
		}()
	}
	for i := range due {
		idx <- i
	}
	close(idx)
	wg.Wait()
	return errs
}

// attemptOne renders and delivers a single reminder. A failure is logged
// with enough context to diagnose and reported to the caller; it never
// interrupts sibling attempts.
func (s *Service) attemptOne(ctx context.Context, log logx.Logger, d store.DueReminder) error {
	msg, err := s.render.Render(notify.EventView{
		Title:        d.Title,
		Description:  d.Description,
		EventDate:    d.EventDate,
		ReminderTime: d.ReminderTime,
	})
	if err == nil {
		err = s.sender.Deliver(ctx, notify.Recipient{
			Email:  d.Recipient.Email,
			ChatID: d.Recipient.ChatID,
			Name:   d.Recipient.Name,
		}, msg)
	}
	if err != nil {
		log.Warn("reminder delivery failed",
			logx.Int64("event_id", d.EventID),
			logx.String("recipient", d.Recipient.Email),
			logx.Int64("chat_id", d.Recipient.ChatID),
			logx.Err(err),
		)
		return err
	}
	log.Debug("reminder delivered", logx.Int64("event_id", d.EventID))
	return nil
}
