package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"supernotify/internal/engine"
	logx "supernotify/pkg/logx"
)

// Store is the persistence API used by the coordinator, the persistent
// channel kind and the HTTP API.
type Store interface {
	AppendRecord(ctx context.Context, rec *engine.Record) error
	// ListRecords returns up to limit records, newest first.
	ListRecords(ctx context.Context, limit int) ([]*engine.Record, error)
	// PurgeRecords drops records older than before and reports the count.
	PurgeRecords(ctx context.Context, before time.Time) (int, error)

	AppendInbox(ctx context.Context, item InboxItem) error
	// ListInbox returns up to limit items for one recipient, newest first.
	ListInbox(ctx context.Context, recipient string, limit int) ([]InboxItem, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
