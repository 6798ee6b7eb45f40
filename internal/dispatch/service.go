package dispatch

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindd/internal/eventbus"
	"remindd/internal/notify"
	logx "remindd/pkg/logx"
)

// Service owns the cycle timer. Tests drive cycles directly through
// RunCycle; Start only wires the interval trigger.
type Service struct {
	cfg    Config
	store  Store
	sender notify.Sender
	render *notify.Renderer
	log    logx.Logger
	bus    eventbus.Bus

	mu sync.Mutex
	c  *cron.Cron

	// runMu guards running: a scheduled tick skips when the previous cycle
	// has not finished yet, so two cycles never scan concurrently.
	runMu   sync.Mutex
	running bool

	lastMu sync.Mutex
	last   Report
	lastAt time.Time
}

func New(cfg Config, st Store, sender notify.Sender, render *notify.Renderer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if render == nil {
		render = notify.NewRenderer("")
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		store:  st,
		sender: sender,
		render: render,
		log:    log,
		bus:    eventbus.New(),
	}
}

// Events exposes the engine's bus. Subscribers receive EventCycleFinished,
// EventCycleAborted and EventManualDispatch signals.
func (s *Service) Events() eventbus.Bus {
	return s.bus
}

// Start begins the interval trigger. It returns immediately; cycles run on
// the cron goroutine.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Info("dispatch disabled; timer not started")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc("@every "+s.cfg.Interval.String(), func() {
		s.tick(ctx)
	})
	if err != nil {
		return err
	}
	s.c = c
	c.Start()
	s.log.Info("dispatch started",
		logx.Duration("interval", s.cfg.Interval),
		logx.Int("workers", s.cfg.Workers),
	)
	return nil
}

// Stop halts the timer and waits for an in-flight cycle to finish, bounded
// by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
		s.log.Info("dispatch stopped")
	case <-ctx.Done():
		s.log.Warn("dispatch stop grace elapsed; continuing shutdown")
	}
}

func (s *Service) tick(ctx context.Context) {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		s.log.Debug("previous cycle still running; skipping tick")
		return
	}
	s.running = true
	s.runMu.Unlock()
	defer func() {
		s.runMu.Lock()
		s.running = false
		s.runMu.Unlock()
	}()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in dispatch cycle",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	if _, err := s.RunCycle(ctx); err != nil {
		// Fatal for this cycle only; the next tick retries.
		s.log.Error("dispatch cycle aborted", logx.Err(err))
	}
}

// LastReport returns the most recent cycle report, if any cycle has run.
func (s *Service) LastReport() (Report, time.Time, bool) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.last, s.lastAt, !s.lastAt.IsZero()
}

func (s *Service) storeLast(rep Report, at time.Time) {
	s.lastMu.Lock()
	s.last = rep
	s.lastAt = at
	s.lastMu.Unlock()
}

// Counts exposes the store's sent/pending counters at the engine boundary.
func (s *Service) Counts(ctx context.Context) (sent, pending int64, err error) {
	return s.store.Counts(ctx)
}
