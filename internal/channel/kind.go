// Package channel implements the outbound delivery kinds and the registry
// that dispatches envelopes through them.
package channel

import (
	"context"

	"supernotify/internal/engine"
)

// Call is one outbound attempt: an envelope narrowed to a single target.
type Call struct {
	Entry    *engine.CatalogEntry
	Envelope *engine.Envelope
	// Target is empty for kinds that deliver to a fixed destination.
	Target string
}

// Kind is the contract every delivery mechanism implements. Implementations
// must be safe for concurrent Send calls.
type Kind interface {
	Name() string

	// NeedsServiceID reports whether catalog entries of this kind must
	// carry a service identifier (a sender address, a gateway URL, a
	// named service).
	NeedsServiceID() bool

	// NeedsTargets reports whether delivery requires at least one target.
	// Kinds with a baked-in destination return false.
	NeedsTargets() bool

	// ValidateTarget reports whether a literal target is syntactically
	// acceptable. Bad targets are filtered before the outbound call.
	ValidateTarget(target string) bool

	// ValidateEntry checks kind-specific entry settings at startup.
	ValidateEntry(ctx context.Context, e *engine.CatalogEntry) error

	// RecipientTargets returns the targets a recipient contributes for
	// this kind (an email recipient its address, a push recipient each
	// device id). May be empty.
	RecipientTargets(r engine.Recipient) []string

	// Send performs one outbound call. It returns a short payload
	// description for the call record, plus the call error if any.
	Send(ctx context.Context, call *Call) (payload string, err error)
}
