package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "remindd/pkg/logx"
)

// TelegramSender delivers reminders as Telegram messages to the recipient's
// chat id.
type TelegramSender struct {
	bot *tele.Bot
	log logx.Logger
}

func NewTelegramSender(cfg TelegramConfig, log logx.Logger) (*TelegramSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: b, log: log}, nil
}

func (s *TelegramSender) Deliver(ctx context.Context, to Recipient, msg Content) error {
	if to.ChatID == 0 {
		return errors.New("recipient has no chat id")
	}
	chat := &tele.Chat{ID: to.ChatID}
	// Telegram only accepts a narrow HTML subset, so send the text rendering.
	body := msg.Subject + "\n\n" + msg.Text
	_, err := s.bot.Send(chat, body, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}
