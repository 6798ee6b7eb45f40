package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindd/internal/notify"
	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

// fakeStore implements the narrow Store slice in memory. It mimics the
// conditional commit: ids already sent or unknown do not count.
type fakeStore struct {
	mu      sync.Mutex
	users   map[int64]store.User
	events  map[int64]store.Event
	dueErr  error
	byIDErr error

	commitErr error
	commits   [][]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  map[int64]store.User{},
		events: map[int64]store.Event{},
	}
}

func (f *fakeStore) addUser(id int64, email string) {
	f.users[id] = store.User{ID: id, Email: email, ChatID: id * 100, Name: "user"}
}

func (f *fakeStore) addEvent(id, userID int64, title string, remindAt time.Time, sent bool) {
	f.events[id] = store.Event{
		ID: id, UserID: userID, Title: title,
		EventDate: remindAt, ReminderTime: remindAt, ReminderSent: sent,
	}
}

func (f *fakeStore) FindDue(ctx context.Context, now time.Time) ([]store.DueReminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dueErr != nil {
		return nil, f.dueErr
	}
	var out []store.DueReminder
	for id := int64(1); id <= int64(len(f.events))+64; id++ {
		ev, ok := f.events[id]
		if !ok || ev.ReminderSent || ev.ReminderTime.After(now) {
			continue
		}
		u := f.users[ev.UserID]
		out = append(out, store.DueReminder{
			EventID: ev.ID, Title: ev.Title, Description: ev.Description,
			EventDate: ev.EventDate, ReminderTime: ev.ReminderTime,
			Recipient: store.Recipient{Email: u.Email, ChatID: u.ChatID, Name: u.Name},
		})
	}
	return out, nil
}

func (f *fakeStore) CommitSent(ctx context.Context, ids []int64, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, append([]int64(nil), ids...))
	if f.commitErr != nil {
		return 0, f.commitErr
	}
	n := 0
	for _, id := range ids {
		ev, ok := f.events[id]
		if !ok || ev.ReminderSent {
			continue
		}
		ev.ReminderSent = true
		t := at
		ev.ReminderSentTime = &t
		f.events[id] = ev
		n++
	}
	return n, nil
}

func (f *fakeStore) EventByID(ctx context.Context, id int64) (*store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byIDErr != nil {
		return nil, f.byIDErr
	}
	ev, ok := f.events[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := ev
	return &cp, nil
}

func (f *fakeStore) UserByID(ctx context.Context, id int64) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := u
	return &cp, nil
}

func (f *fakeStore) Counts(ctx context.Context) (sent, pending int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events {
		if ev.ReminderSent {
			sent++
		} else {
			pending++
		}
	}
	return sent, pending, nil
}

func (f *fakeStore) sentIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for id := int64(1); id <= int64(len(f.events))+64; id++ {
		if ev, ok := f.events[id]; ok && ev.ReminderSent {
			out = append(out, id)
		}
	}
	return out
}

// fakeSender fails delivery for recipients listed in failFor.
type fakeSender struct {
	mu        sync.Mutex
	failFor   map[string]error
	delivered []string
}

func (f *fakeSender) Deliver(ctx context.Context, to notify.Recipient, msg notify.Content) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[to.Email]; ok {
		return err
	}
	f.delivered = append(f.delivered, to.Email)
	return nil
}

func (f *fakeSender) deliveredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func newTestService(t *testing.T, cfg Config, st Store, snd notify.Sender) *Service {
	t.Helper()
	return New(cfg, st, snd, notify.NewRenderer(""), logx.Nop())
}

func TestRunCycleMixedOutcomes(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(1, "a@example.com")
	fs.addUser(2, "b@example.com")
	fs.addUser(3, "c@example.com")
	past := time.Now().Add(-time.Minute)
	fs.addEvent(1, 1, "first", past, false)
	fs.addEvent(2, 2, "second", past, false)
	fs.addEvent(3, 3, "third", past, false)

	snd := &fakeSender{failFor: map[string]error{"b@example.com": assert.AnError}}
	svc := newTestService(t, Config{}, fs, snd)

	rep, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Attempted: 3, Sent: 2, Failed: 1, Committed: 2}, rep)

	// Only the successful ids were committed, in one batch.
	require.Len(t, fs.commits, 1)
	assert.Equal(t, []int64{1, 3}, fs.commits[0])
	assert.Equal(t, []int64{1, 3}, fs.sentIDs())
}

func TestRunCycleFailedStaysDueNextCycle(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(1, "a@example.com")
	fs.addEvent(1, 1, "flaky", time.Now().Add(-time.Minute), false)

	snd := &fakeSender{failFor: map[string]error{"a@example.com": assert.AnError}}
	svc := newTestService(t, Config{}, fs, snd)

	rep, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Attempted: 1, Failed: 1}, rep)
	assert.Empty(t, fs.commits, "no successes means no commit call at all")

	// Recipient recovers; the next cycle picks the same event up again.
	snd.mu.Lock()
	delete(snd.failFor, "a@example.com")
	snd.mu.Unlock()

	rep, err = svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Attempted: 1, Sent: 1, Committed: 1}, rep)
}

func TestRunCycleNothingDue(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(1, "a@example.com")
	fs.addEvent(1, 1, "later", time.Now().Add(time.Hour), false)
	fs.addEvent(2, 1, "done", time.Now().Add(-time.Hour), true)

	snd := &fakeSender{}
	svc := newTestService(t, Config{}, fs, snd)

	rep, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, rep)
	assert.Zero(t, snd.deliveredCount())
	assert.Empty(t, fs.commits)
}

func TestRunCycleSecondPassIsIdempotent(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(1, "a@example.com")
	fs.addEvent(1, 1, "once", time.Now().Add(-time.Minute), false)

	snd := &fakeSender{}
	svc := newTestService(t, Config{}, fs, snd)

	_, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	rep, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, rep)
	assert.Equal(t, 1, snd.deliveredCount())
}

func TestRunCycleStoreUnavailableAborts(t *testing.T) {
	fs := newFakeStore()
	fs.dueErr = store.ErrUnavailable

	snd := &fakeSender{}
	svc := newTestService(t, Config{}, fs, snd)

	_, err := svc.RunCycle(context.Background())
	require.ErrorIs(t, err, store.ErrUnavailable)
	assert.Zero(t, snd.deliveredCount())
	assert.Empty(t, fs.commits)
}

func TestRunCycleCommitFailureSurfaced(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(1, "a@example.com")
	fs.addEvent(1, 1, "lost write", time.Now().Add(-time.Minute), false)
	fs.commitErr = store.ErrUnavailable

	svc := newTestService(t, Config{}, fs, &fakeSender{})

	rep, err := svc.RunCycle(context.Background())
	require.ErrorIs(t, err, store.ErrUnavailable)
	// The send happened; the report says so even though nothing committed.
	assert.Equal(t, 1, rep.Sent)
	assert.Empty(t, fs.sentIDs())
}

func TestRunCycleWorkerPool(t *testing.T) {
	fs := newFakeStore()
	past := time.Now().Add(-time.Minute)
	for i := int64(1); i <= 8; i++ {
		fs.addUser(i, "u@example.com")
		fs.addEvent(i, i, "bulk", past, false)
	}
	// One recipient would hide failures behind a shared email, so give the
	// failing event its own address.
	fs.addUser(9, "broken@example.com")
	fs.addEvent(9, 9, "bulk", past, false)

	snd := &fakeSender{failFor: map[string]error{"broken@example.com": assert.AnError}}
	svc := newTestService(t, Config{Workers: 4}, fs, snd)

	rep, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Attempted: 9, Sent: 8, Failed: 1, Committed: 8}, rep)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8}, fs.sentIDs())
}

func TestRunCycleCommitCountsPartialRows(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(1, "a@example.com")
	fs.addUser(2, "b@example.com")
	past := time.Now().Add(-time.Minute)
	fs.addEvent(1, 1, "raced", past, false)
	fs.addEvent(2, 2, "fine", past, false)

	// Simulate a manual trigger winning the race between send and commit.
	racing := &racingSender{inner: &fakeSender{}, fs: fs, raceID: 1}
	svc := newTestService(t, Config{}, fs, racing)

	rep, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Sent)
	assert.Equal(t, 1, rep.Committed, "row that transitioned mid-cycle does not count")
}

// racingSender marks raceID sent behind the engine's back on its first
// delivery, then delegates.
type racingSender struct {
	mu     sync.Mutex
	inner  notify.Sender
	fs     *fakeStore
	raceID int64
	done   bool
}

func (r *racingSender) Deliver(ctx context.Context, to notify.Recipient, msg notify.Content) error {
	r.mu.Lock()
	if !r.done {
		r.done = true
		r.mu.Unlock()
		_, _ = r.fs.CommitSent(ctx, []int64{r.raceID}, time.Now())
	} else {
		r.mu.Unlock()
	}
	return r.inner.Deliver(ctx, to, msg)
}

// stallSender blocks deliveries to stallFor until the attempt context dies,
// then reports that context error.
type stallSender struct {
	inner    notify.Sender
	stallFor string
}

func (s *stallSender) Deliver(ctx context.Context, to notify.Recipient, msg notify.Content) error {
	if to.Email == s.stallFor {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.inner.Deliver(ctx, to, msg)
}

func TestRunCycleDeadlineStillCommitsSuccesses(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(1, "fast@example.com")
	fs.addUser(2, "stuck@example.com")
	past := time.Now().Add(-time.Minute)
	fs.addEvent(1, 1, "delivered in time", past, false)
	fs.addEvent(2, 2, "rides out the deadline", past, false)

	snd := &stallSender{inner: &fakeSender{}, stallFor: "stuck@example.com"}
	svc := newTestService(t, Config{CycleTimeout: 100 * time.Millisecond}, fs, snd)

	rep, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Attempted: 2, Sent: 1, Failed: 1, Committed: 1}, rep)
	// The commit ran on its own context; the expired cycle deadline must not
	// leave the delivered event pending (that would re-send it every cycle).
	assert.Equal(t, []int64{1}, fs.sentIDs())
}

func TestRunCyclePublishesReport(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(1, "a@example.com")
	fs.addEvent(1, 1, "announced", time.Now().Add(-time.Minute), false)

	svc := newTestService(t, Config{}, fs, &fakeSender{})
	ch, unsub := svc.Events().Subscribe(1)
	defer unsub()

	_, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	select {
	case e := <-ch:
		require.Equal(t, EventCycleFinished, e.Type)
		data := e.Data.(CycleEvent)
		assert.Equal(t, Report{Attempted: 1, Sent: 1, Committed: 1}, data.Report)
		assert.False(t, data.Now.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no cycle event published")
	}
}

func TestRunCycleAbortPublished(t *testing.T) {
	fs := newFakeStore()
	fs.dueErr = store.ErrUnavailable

	svc := newTestService(t, Config{}, fs, &fakeSender{})
	ch, unsub := svc.Events().Subscribe(1)
	defer unsub()

	_, err := svc.RunCycle(context.Background())
	require.Error(t, err)

	select {
	case e := <-ch:
		assert.Equal(t, EventCycleAborted, e.Type)
	case <-time.After(time.Second):
		t.Fatal("no abort event published")
	}
}

func TestLastReport(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, Config{}, fs, &fakeSender{})

	_, _, ok := svc.LastReport()
	assert.False(t, ok)

	_, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	rep, at, ok := svc.LastReport()
	assert.True(t, ok)
	assert.False(t, at.IsZero())
	assert.Equal(t, Report{}, rep)
}

func TestStartDisabledAndStop(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, Config{Enabled: false, Interval: time.Hour}, fs, &fakeSender{})

	require.NoError(t, svc.Start(context.Background()))
	// Stop with no timer running is a no-op.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	svc.Stop(ctx)
}

func TestStartStopLifecycle(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, Config{Enabled: true, Interval: time.Hour}, fs, &fakeSender{})

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Start(context.Background()), "second start is a no-op")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	svc.Stop(ctx)
	svc.Stop(ctx)
}
