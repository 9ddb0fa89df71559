package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"adventbot/internal/advent"
	logx "adventbot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const defaultBusyTimeout = 5 * time.Second

type sqliteStore struct {
	db     *sqlx.DB
	log    logx.Logger
	closed atomic.Bool
}

type subscriberRow struct {
	ChatID       int64          `db:"chat_id"`
	IsSubscribed bool           `db:"is_subscribed"`
	LastSentDate sql.NullString `db:"last_sent_date"`
}

type dayRow struct {
	Day         string `db:"day"`
	Title       string `db:"title"`
	Description string `db:"description"`
}

type auditRow struct {
	At            string         `db:"at"`
	ActorID       int64          `db:"actor_id"`
	ActorUsername sql.NullString `db:"actor_username"`
	ChatID        int64          `db:"chat_id"`
	Action        string         `db:"action"`
	Target        sql.NullString `db:"target"`
	OK            int            `db:"ok"`
	Fail          int            `db:"fail"`
	Err           sql.NullString `db:"err"`
	TookMS        int64          `db:"took_ms"`
}

func openSQLite(path string, busyTimeout time.Duration, log logx.Logger) (*sqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite has a single writer anyway, and pragmas below
	// are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	version, err := runMigrations(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("sqlite storage opened", logx.String("path", path), logx.Int("schema_version", int(version)))
	return &sqliteStore{db: db, log: log}, nil
}

// runMigrations applies the embedded migrations and returns the schema version.
// The migrate instance is not closed because that would close db.
func runMigrations(db *sqlx.DB) (uint, error) {
	driver, err := sqlitemigrate.WithInstance(db.DB, &sqlitemigrate.Config{})
	if err != nil {
		return 0, fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return 0, fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("run migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("%w: schema version %d is dirty", ErrCorrupt, version)
	}
	return version, nil
}

func (s *sqliteStore) Driver() string { return "sqlite" }

func (s *sqliteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// inTx runs fn in a transaction, rolling back on error.
func (s *sqliteStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.wrap(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// wrap maps errors after Close to ErrClosed.
func (s *sqliteStore) wrap(err error) error {
	if err != nil && s.closed.Load() {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

// ---- content ----

func (s *sqliteStore) SetEntry(ctx context.Context, d advent.Date, title, description string) (advent.Entry, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO advent_days(day, title, description) VALUES(?,?,?)
		 ON CONFLICT(day) DO UPDATE SET title=excluded.title, description=excluded.description`,
		d.String(), title, description,
	)
	if err != nil {
		return advent.Entry{}, s.wrap(err)
	}
	return advent.Entry{Date: d, Title: title, Description: description}, nil
}

func (s *sqliteStore) GetEntry(ctx context.Context, d advent.Date) (advent.Entry, bool, error) {
	var row dayRow
	err := s.db.GetContext(ctx, &row, `SELECT day, title, description FROM advent_days WHERE day = ?`, d.String())
	if errors.Is(err, sql.ErrNoRows) {
		return advent.Entry{}, false, nil
	}
	if err != nil {
		return advent.Entry{}, false, s.wrap(err)
	}
	return advent.Entry{Date: d, Title: row.Title, Description: row.Description}, true, nil
}

func (s *sqliteStore) ListEntries(ctx context.Context) ([]advent.Entry, error) {
	var rows []dayRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT day, title, description FROM advent_days ORDER BY day`); err != nil {
		return nil, s.wrap(err)
	}
	out := make([]advent.Entry, 0, len(rows))
	for _, r := range rows {
		d, err := advent.ParseDate(r.Day)
		if err != nil {
			return nil, fmt.Errorf("%w: advent_days: %v", ErrCorrupt, err)
		}
		out = append(out, advent.Entry{Date: d, Title: r.Title, Description: r.Description})
	}
	return out, nil
}

func (s *sqliteStore) DeleteEntry(ctx context.Context, d advent.Date) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM advent_days WHERE day = ?`, d.String())
	if err != nil {
		return false, s.wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---- subscribers ----

func (s *sqliteStore) Upsert(ctx context.Context, id int64, subscribed *bool) (advent.Subscriber, error) {
	var row subscriberRow
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subscribers(chat_id, is_subscribed) VALUES(?, 1) ON CONFLICT(chat_id) DO NOTHING`, id); err != nil {
			return err
		}
		if subscribed != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE subscribers SET is_subscribed = ? WHERE chat_id = ?`, *subscribed, id); err != nil {
				return err
			}
		}
		return tx.GetContext(ctx, &row,
			`SELECT chat_id, is_subscribed, last_sent_date FROM subscribers WHERE chat_id = ?`, id)
	})
	if err != nil {
		return advent.Subscriber{}, fmt.Errorf("upsert subscriber %d: %w", id, err)
	}
	return row.toSubscriber()
}

func (s *sqliteStore) MarkDelivered(ctx context.Context, id int64, d advent.Date) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(chat_id, is_subscribed, last_sent_date) VALUES(?, 1, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET last_sent_date = excluded.last_sent_date`,
		id, d.String(),
	)
	return s.wrap(err)
}

func (s *sqliteStore) ListSubscribed(ctx context.Context) ([]advent.Subscriber, error) {
	var rows []subscriberRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT chat_id, is_subscribed, last_sent_date FROM subscribers WHERE is_subscribed = 1 ORDER BY chat_id`); err != nil {
		return nil, s.wrap(err)
	}
	out := make([]advent.Subscriber, 0, len(rows))
	for _, r := range rows {
		sub, err := r.toSubscriber()
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

func (s *sqliteStore) GetSubscriber(ctx context.Context, id int64) (advent.Subscriber, bool, error) {
	var row subscriberRow
	err := s.db.GetContext(ctx, &row,
		`SELECT chat_id, is_subscribed, last_sent_date FROM subscribers WHERE chat_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return advent.Subscriber{}, false, nil
	}
	if err != nil {
		return advent.Subscriber{}, false, s.wrap(err)
	}
	sub, err := row.toSubscriber()
	return sub, err == nil, err
}

func (s *sqliteStore) CountSubscribers(ctx context.Context) (int, int, error) {
	var counts struct {
		Total      int `db:"total"`
		Subscribed int `db:"subscribed"`
	}
	err := s.db.GetContext(ctx, &counts,
		`SELECT COUNT(*) AS total, COALESCE(SUM(is_subscribed), 0) AS subscribed FROM subscribers`)
	if err != nil {
		return 0, 0, s.wrap(err)
	}
	return counts.Total, counts.Subscribed, nil
}

func (r subscriberRow) toSubscriber() (advent.Subscriber, error) {
	sub := advent.Subscriber{ID: r.ChatID, Subscribed: r.IsSubscribed}
	if r.LastSentDate.Valid && r.LastSentDate.String != "" {
		d, err := advent.ParseDate(r.LastSentDate.String)
		if err != nil {
			return advent.Subscriber{}, fmt.Errorf("%w: subscriber %d: %v", ErrCorrupt, r.ChatID, err)
		}
		sub.LastDelivered = d
	}
	return sub, nil
}

// ---- audit ----

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, action, target, ok, fail, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.ChatID,
		e.Action, nullStr(e.Target), e.OK, e.Fail, nullStr(e.Error), e.TookMS,
	)
	return s.wrap(err)
}

func (s *sqliteStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT at, actor_id, actor_username, chat_id, action, target, ok, fail, err, took_ms
		 FROM audit ORDER BY id DESC LIMIT ?`, limit); err != nil {
		return nil, s.wrap(err)
	}
	out := make([]AuditEntry, 0, len(rows))
	for _, r := range rows {
		at, _ := time.Parse(time.RFC3339Nano, r.At)
		out = append(out, AuditEntry{
			At:            at,
			ActorID:       r.ActorID,
			ActorUsername: r.ActorUsername.String,
			ChatID:        r.ChatID,
			Action:        r.Action,
			Target:        r.Target.String,
			OK:            r.OK,
			Fail:          r.Fail,
			Error:         r.Err.String,
			TookMS:        r.TookMS,
		})
	}
	return out, nil
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
