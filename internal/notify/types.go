package notify

import (
	"context"
	"time"
)

// Recipient is a delivery address. Which field matters depends on the driver
// (smtp uses Email, telegram uses ChatID).
type Recipient struct {
	Email  string
	ChatID int64
	Name   string
}

// Content is a rendered notification in both shapes a driver may need.
type Content struct {
	Subject string
	HTML    string
	Text    string
}

// Sender attempts one delivery.
//
// Delivery from the dispatch engine is at-least-once: if the process crashes
// between a successful send and the state commit, the same reminder is
// delivered again on the next cycle. Implementations must tolerate duplicates
// ("idempotent on best effort"); the engine only distinguishes success from
// failure and treats failure reasons as opaque.
type Sender interface {
	Deliver(ctx context.Context, to Recipient, msg Content) error
}

// Config selects and configures the delivery driver.
//
// Driver values: "log" (default, dev sink), "smtp", "telegram".
type Config struct {
	Driver        string
	RatePerSec    int // 0 disables rate limiting
	SubjectPrefix string

	SMTP     SMTPConfig
	Telegram TelegramConfig
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration // per delivery; 0 means 10s
}

type TelegramConfig struct {
	Token       string
	PollTimeout time.Duration // bot API long-poll setting; irrelevant for sending
}
