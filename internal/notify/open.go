package notify

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/time/rate"

	logx "remindd/pkg/logx"
)

// Open initializes the configured sender, wrapped with a rate limiter when
// RatePerSec is set.
func Open(cfg Config, log logx.Logger) (Sender, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	var (
		s   Sender
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "log":
		s = &LogSender{log: log}
	case "smtp":
		s, err = NewSMTPSender(cfg.SMTP, log)
	case "telegram":
		s, err = NewTelegramSender(cfg.Telegram, log)
	default:
		return nil, errors.New("unknown notify driver: " + cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RatePerSec > 0 {
		s = &limitedSender{
			next: s,
			lim:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		}
	}
	return s, nil
}

// limitedSender throttles deliveries so a large due-set cannot hammer the
// upstream provider in one cycle.
type limitedSender struct {
	next Sender
	lim  *rate.Limiter
}

func (s *limitedSender) Deliver(ctx context.Context, to Recipient, msg Content) error {
	if err := s.lim.Wait(ctx); err != nil {
		return err
	}
	return s.next.Deliver(ctx, to, msg)
}

// LogSender writes deliveries to the log instead of sending them. Default
// driver for development and tests.
type LogSender struct {
	log logx.Logger
}

func (s *LogSender) Deliver(ctx context.Context, to Recipient, msg Content) error {
	s.log.Info("reminder delivered (log driver)",
		logx.String("to", to.Email),
		logx.Int64("chat_id", to.ChatID),
		logx.String("subject", msg.Subject),
	)
	return nil
}
