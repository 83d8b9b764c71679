//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"supernotify/internal/engine"
	logx "supernotify/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

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

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

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

func (s *sqliteStore) AppendRecord(ctx context.Context, rec *engine.Record) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records(id, at, priority, suppressed, delivered, errored, doc)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET doc=excluded.doc`,
		rec.ID, rec.At.UnixMilli(), rec.Priority.String(),
		boolInt(rec.Suppressed), rec.Delivered, rec.Errored, string(doc),
	)
	return err
}

func (s *sqliteStore) ListRecords(ctx context.Context, limit int) ([]*engine.Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM records ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*engine.Record
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var r engine.Record
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			s.log.Warn("skipping unreadable record", logx.Err(err))
			continue
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PurgeRecords(ctx context.Context, before time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) AppendInbox(ctx context.Context, item InboxItem) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if item.At.IsZero() {
		item.At = time.Now()
	}
	var data any
	if len(item.Data) > 0 {
		b, err := json.Marshal(item.Data)
		if err != nil {
			return err
		}
		data = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inbox(id, recipient, at, title, message, priority, data)
		 VALUES(?,?,?,?,?,?,?)`,
		item.ID, item.Recipient, item.At.UnixMilli(),
		nullStr(item.Title), item.Message, item.Priority, data,
	)
	return err
}

func (s *sqliteStore) ListInbox(ctx context.Context, recipient string, limit int) ([]InboxItem, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recipient, at, title, message, priority, data
		 FROM inbox WHERE recipient = ? ORDER BY at DESC LIMIT ?`,
		recipient, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InboxItem
	for rows.Next() {
		var (
			it    InboxItem
			at    int64
			title sql.NullString
			data  sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.Recipient, &at, &title, &it.Message, &it.Priority, &data); err != nil {
			return nil, err
		}
		it.At = time.UnixMilli(at)
		it.Title = title.String
		if data.Valid && data.String != "" {
			_ = json.Unmarshal([]byte(data.String), &it.Data)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
