package channel

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"supernotify/internal/engine"
	"supernotify/internal/storage"
)

// InboxWriter is the slice of the archive store the persistent kind needs.
type InboxWriter interface {
	AppendInbox(ctx context.Context, item storage.InboxItem) error
}

// PersistentKind writes to recipients' in-app inboxes instead of calling
// out. It is the usual scenario-only or fallback channel: delivery cannot
// fail on the network, only on the local store.
type PersistentKind struct {
	inbox InboxWriter
}

func NewPersistentKind(inbox InboxWriter) *PersistentKind {
	return &PersistentKind{inbox: inbox}
}

func (k *PersistentKind) Name() string         { return "persistent" }
func (k *PersistentKind) NeedsServiceID() bool { return false }
func (k *PersistentKind) NeedsTargets() bool   { return true }

func (k *PersistentKind) ValidateTarget(target string) bool {
	return strings.TrimSpace(target) != ""
}

func (k *PersistentKind) ValidateEntry(context.Context, *engine.CatalogEntry) error { return nil }

// RecipientTargets: the inbox target is the recipient itself.
func (k *PersistentKind) RecipientTargets(r engine.Recipient) []string {
	return []string{r.Name}
}

func (k *PersistentKind) Send(ctx context.Context, call *Call) (string, error) {
	item := storage.InboxItem{
		ID:        uuid.NewString(),
		Recipient: call.Target,
		Title:     call.Envelope.Title,
		Message:   call.Envelope.Message,
		Priority:  call.Envelope.Priority.String(),
		Data:      call.Envelope.Data,
	}
	if err := k.inbox.AppendInbox(ctx, item); err != nil {
		return "", err
	}
	return "inbox " + item.ID, nil
}
