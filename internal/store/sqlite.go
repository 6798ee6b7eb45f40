package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "remindd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Timestamps are stored as RFC3339 UTC strings (whole-second precision), so
// string comparison in SQL matches time comparison in Go.
const dateFormat = "2006-01-02"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- users ----

func (s *sqliteStore) CreateUser(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(email, chat_id, name, created_at) VALUES(?,?,?,?)`,
		u.Email, u.ChatID, u.Name, fmtTime(u.CreatedAt),
	)
	if err != nil {
		return wrap("create user", err)
	}
	u.ID, err = res.LastInsertId()
	return wrap("create user", err)
}

func (s *sqliteStore) UserByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, chat_id, name, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *sqliteStore) UserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, chat_id, name, created_at FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var created string
	err := row.Scan(&u.ID, &u.Email, &u.ChatID, &u.Name, &created)
	if err != nil {
		return nil, wrap("load user", err)
	}
	u.CreatedAt, _ = parseTime(created)
	return &u, nil
}

// ---- events (CRUD collaborator) ----

func (s *sqliteStore) CreateEvent(ctx context.Context, ev *Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events(user_id, title, description, event_date, reminder_time, reminder_sent, reminder_sent_time, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		ev.UserID, ev.Title, ev.Description,
		ev.EventDate.Format(dateFormat), fmtTime(ev.ReminderTime),
		boolInt(ev.ReminderSent), nullTime(ev.ReminderSentTime), fmtTime(ev.CreatedAt),
	)
	if err != nil {
		return wrap("create event", err)
	}
	ev.ID, err = res.LastInsertId()
	return wrap("create event", err)
}

func (s *sqliteStore) EventByID(ctx context.Context, id int64) (*Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, description, event_date, reminder_time, reminder_sent, reminder_sent_time, created_at
		 FROM events WHERE id = ?`, id)
	ev, err := scanEventRow(row.Scan)
	if err != nil {
		return nil, wrap("load event", err)
	}
	return ev, nil
}

func (s *sqliteStore) UpdateEvent(ctx context.Context, ev *Event) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET title=?, description=?, event_date=?, reminder_time=?, reminder_sent=?, reminder_sent_time=?
		 WHERE id=?`,
		ev.Title, ev.Description, ev.EventDate.Format(dateFormat), fmtTime(ev.ReminderTime),
		boolInt(ev.ReminderSent), nullTime(ev.ReminderSentTime), ev.ID,
	)
	if err != nil {
		return wrap("update event", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("update event", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) DeleteEvent(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return wrap("delete event", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("delete event", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListEvents(ctx context.Context, userID int64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, description, event_date, reminder_time, reminder_sent, reminder_sent_time, created_at
		 FROM events WHERE user_id = ? ORDER BY event_date, id`, userID)
	if err != nil {
		return nil, wrap("list events", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ---- dispatch queries ----

func (s *sqliteStore) FindDue(ctx context.Context, now time.Time) ([]DueReminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.title, e.description, e.event_date, e.reminder_time, u.email, u.chat_id, u.name
		 FROM events e JOIN users u ON u.id = e.user_id
		 WHERE e.reminder_sent = 0 AND e.reminder_time <= ?
		 ORDER BY e.id`, fmtTime(now))
	if err != nil {
		return nil, wrap("find due reminders", err)
	}
	defer rows.Close()

	var out []DueReminder
	for rows.Next() {
		var d DueReminder
		var eventDate, remTime string
		if err := rows.Scan(&d.EventID, &d.Title, &d.Description, &eventDate, &remTime,
			&d.Recipient.Email, &d.Recipient.ChatID, &d.Recipient.Name); err != nil {
			return nil, wrap("find due reminders", err)
		}
		d.EventDate, _ = time.Parse(dateFormat, eventDate)
		d.ReminderTime, _ = parseTime(remTime)
		out = append(out, d)
	}
	return out, wrap("find due reminders", rows.Err())
}

func (s *sqliteStore) FindUpcoming(ctx context.Context, userID int64, from, to time.Time) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, description, event_date, reminder_time, reminder_sent, reminder_sent_time, created_at
		 FROM events
		 WHERE user_id = ? AND reminder_sent = 0 AND reminder_time >= ? AND reminder_time <= ?
		 ORDER BY reminder_time, id`, userID, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, wrap("find upcoming reminders", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *sqliteStore) CommitSent(ctx context.Context, ids []int64, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, fmtTime(at))
	for _, id := range ids {
		args = append(args, id)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrap("commit sent", err)
	}
	// Conditional per row: a row that already transitioned (manual trigger
	// race) or was deleted simply does not count.
	res, err := tx.ExecContext(ctx,
		`UPDATE events SET reminder_sent = 1, reminder_sent_time = ?
		 WHERE id IN (`+placeholders(len(ids))+`) AND reminder_sent = 0`, args...)
	if err != nil {
		_ = tx.Rollback()
		return 0, wrap("commit sent", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return 0, wrap("commit sent", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, wrap("commit sent", err)
	}
	return int(n), nil
}

// ---- counters / admin stats ----

func (s *sqliteStore) Counts(ctx context.Context) (sent, pending int64, err error) {
	var total int64
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(reminder_sent), 0) FROM events`)
	if err := row.Scan(&total, &sent); err != nil {
		return 0, 0, wrap("count reminders", err)
	}
	return sent, total - sent, nil
}

func (s *sqliteStore) CountCreatedSince(ctx context.Context, since time.Time) (int64, error) {
	return s.countOne(ctx, `SELECT COUNT(*) FROM events WHERE created_at >= ?`, fmtTime(since))
}

func (s *sqliteStore) CountSentSince(ctx context.Context, since time.Time) (int64, error) {
	return s.countOne(ctx,
		`SELECT COUNT(*) FROM events WHERE reminder_sent = 1 AND reminder_sent_time >= ?`, fmtTime(since))
}

func (s *sqliteStore) countOne(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, wrap("count", err)
	}
	return n, nil
}

func (s *sqliteStore) EventsPerDay(ctx context.Context, from, to time.Time) ([]DayCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_date, COUNT(*) FROM events
		 WHERE event_date >= ? AND event_date <= ?
		 GROUP BY event_date ORDER BY event_date`,
		from.Format(dateFormat), to.Format(dateFormat))
	if err != nil {
		return nil, wrap("events per day", err)
	}
	defer rows.Close()

	var out []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			return nil, wrap("events per day", err)
		}
		out = append(out, dc)
	}
	return out, wrap("events per day", rows.Err())
}

// ---- helpers ----

func collectEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		ev, err := scanEventRow(rows.Scan)
		if err != nil {
			return nil, wrap("scan event", err)
		}
		out = append(out, *ev)
	}
	return out, wrap("scan event", rows.Err())
}

func scanEventRow(scan func(dest ...any) error) (*Event, error) {
	var ev Event
	var eventDate, remTime, created string
	var sent int
	var sentTime sql.NullString
	err := scan(&ev.ID, &ev.UserID, &ev.Title, &ev.Description,
		&eventDate, &remTime, &sent, &sentTime, &created)
	if err != nil {
		return nil, err
	}
	ev.EventDate, _ = time.Parse(dateFormat, eventDate)
	ev.ReminderTime, _ = parseTime(remTime)
	ev.ReminderSent = sent != 0
	if sentTime.Valid {
		t, _ := parseTime(sentTime.String)
		ev.ReminderSentTime = &t
	}
	ev.CreatedAt, _ = parseTime(created)
	return &ev, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func fmtTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}
