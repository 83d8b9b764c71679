package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"supernotify/internal/engine"
)

// WebhookKind POSTs the envelope as JSON. Targets are per-call URLs; with
// no targets the entry's service id is the fixed destination, so neither a
// service id nor targets are strictly required on their own.
type WebhookKind struct {
	http *http.Client
}

func NewWebhookKind() *WebhookKind {
	return &WebhookKind{http: &http.Client{Timeout: 10 * time.Second}}
}

func (k *WebhookKind) Name() string         { return "webhook" }
func (k *WebhookKind) NeedsServiceID() bool { return false }
func (k *WebhookKind) NeedsTargets() bool   { return false }

func (k *WebhookKind) ValidateTarget(target string) bool {
	u, err := url.Parse(target)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (k *WebhookKind) ValidateEntry(_ context.Context, e *engine.CatalogEntry) error {
	if e.ServiceID == "" && len(e.Targets) == 0 {
		// Still deliverable via caller-supplied or recipient targets,
		// but a fully-unaddressed entry is almost always a mistake.
		return fmt.Errorf("webhook entry needs a service_id or targets")
	}
	if e.ServiceID != "" && !k.ValidateTarget(e.ServiceID) {
		return fmt.Errorf("service_id %q is not an http(s) URL", e.ServiceID)
	}
	return nil
}

func (k *WebhookKind) RecipientTargets(engine.Recipient) []string { return nil }

func (k *WebhookKind) Send(ctx context.Context, call *Call) (string, error) {
	dest := call.Target
	if dest == "" {
		dest = call.Entry.ServiceID
	}
	if dest == "" {
		return "", fmt.Errorf("no destination URL")
	}
	body, err := json.Marshal(map[string]any{
		"id":       call.Envelope.Channel,
		"title":    call.Envelope.Title,
		"message":  call.Envelope.Message,
		"priority": call.Envelope.Priority.String(),
		"data":     call.Envelope.Data,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := k.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("webhook returned %s", resp.Status)
	}
	return fmt.Sprintf("POST %s", dest), nil
}
