// Package storage persists notification outcomes.
//
// It currently supports:
//   - Notification record archive (append, list by time, purge)
//   - Per-recipient inbox items (backing the persistent channel kind)
package storage
