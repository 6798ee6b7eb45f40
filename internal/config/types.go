package config

import (
	"remindd/internal/dispatch"
	"remindd/internal/notify"
	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

// Config is the single on-disk configuration file (yaml or json).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Dispatch DispatchConfig `json:"dispatch"`
	Notify   NotifyConfig   `json:"notify"`

	// Admins lists user emails allowed to touch foreign events and read
	// admin stats.
	Admins []string `json:"admins,omitempty"`
}

type ServerConfig struct {
	Addr string `json:"addr,omitempty"` // default ":8080"
}

type LoggingConfig struct {
	Level string `json:"level,omitempty"`
	// Console is a pointer so "omitted" defaults to true.
	Console *bool      `json:"console,omitempty"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // default "sqlite"
	Path        string `json:"path,omitempty"`   // default "./remindd.db"
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// DispatchConfig controls the cycle runner.
//
// Enabled is a pointer so we can distinguish "omitted" (default true) from
// an explicit false.
type DispatchConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	Interval     string `json:"interval,omitempty"` // default "60s"
	Workers      int    `json:"workers,omitempty"`
	CycleTimeout string `json:"cycle_timeout,omitempty"`
}

type NotifyConfig struct {
	Driver        string `json:"driver,omitempty"` // "log" | "smtp" | "telegram"
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	SubjectPrefix string `json:"subject_prefix,omitempty"`

	SMTP     SMTPConfig     `json:"smtp,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

type SMTPConfig struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	From     string `json:"from,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"`
}

// ---- component config builders ----

func (c *Config) Logx() logx.Config {
	console := true
	if c.Logging.Console != nil {
		console = *c.Logging.Console
	}
	return logx.Config{
		Level:   c.Logging.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}

func (c *Config) Store() (store.Config, error) {
	busy, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	path := c.Storage.Path
	if path == "" {
		path = "./remindd.db"
	}
	return store.Config{Driver: c.Storage.Driver, Path: path, BusyTimeout: busy}, nil
}

func (c *Config) Engine() (dispatch.Config, error) {
	interval, err := ParseDurationField("dispatch.interval", c.Dispatch.Interval)
	if err != nil {
		return dispatch.Config{}, err
	}
	timeout, err := ParseDurationField("dispatch.cycle_timeout", c.Dispatch.CycleTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	enabled := true
	if c.Dispatch.Enabled != nil {
		enabled = *c.Dispatch.Enabled
	}
	return dispatch.Config{
		Enabled:      enabled,
		Interval:     interval,
		Workers:      c.Dispatch.Workers,
		CycleTimeout: timeout,
	}, nil
}

func (c *Config) Sender() (notify.Config, error) {
	smtpTimeout, err := ParseDurationField("notify.smtp.timeout", c.Notify.SMTP.Timeout)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Driver:        c.Notify.Driver,
		RatePerSec:    c.Notify.RatePerSec,
		SubjectPrefix: c.Notify.SubjectPrefix,
		SMTP: notify.SMTPConfig{
			Host:     c.Notify.SMTP.Host,
			Port:     c.Notify.SMTP.Port,
			Username: c.Notify.SMTP.Username,
			Password: c.Notify.SMTP.Password,
			From:     c.Notify.SMTP.From,
			Timeout:  smtpTimeout,
		},
		Telegram: notify.TelegramConfig{Token: c.Notify.Telegram.Token},
	}, nil
}

func (c *Config) ListenAddr() string {
	if c.Server.Addr == "" {
		return ":8080"
	}
	return c.Server.Addr
}
