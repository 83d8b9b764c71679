package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (JSON Lines)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// InboxItem is one persistent in-app message for a recipient.
// Keep it compact and schema-stable.
type InboxItem struct {
	ID        string         `json:"id"`
	Recipient string         `json:"recipient"`
	At        time.Time      `json:"at"`
	Title     string         `json:"title,omitempty"`
	Message   string         `json:"message"`
	Priority  string         `json:"priority"`
	Data      map[string]any `json:"data,omitempty"`
}
