package channel

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/resend/resend-go/v2"

	"supernotify/internal/engine"
)

// EmailKind delivers through the Resend transactional email API. The catalog
// entry's service id is the sender address; each target is a recipient
// address.
type EmailKind struct {
	client *resend.Client
}

func NewEmailKind(apiKey string) *EmailKind {
	return &EmailKind{client: resend.NewClient(apiKey)}
}

func (k *EmailKind) Name() string         { return "email" }
func (k *EmailKind) NeedsServiceID() bool { return true }
func (k *EmailKind) NeedsTargets() bool   { return true }

func (k *EmailKind) ValidateTarget(target string) bool {
	_, err := mail.ParseAddress(target)
	return err == nil
}

func (k *EmailKind) ValidateEntry(_ context.Context, e *engine.CatalogEntry) error {
	if _, err := mail.ParseAddress(e.ServiceID); err != nil {
		return fmt.Errorf("sender address %q: %w", e.ServiceID, err)
	}
	return nil
}

func (k *EmailKind) RecipientTargets(r engine.Recipient) []string {
	if r.Email == "" {
		return nil
	}
	return []string{r.Email}
}

func (k *EmailKind) Send(ctx context.Context, call *Call) (string, error) {
	subject := call.Envelope.Title
	if subject == "" {
		subject = call.Envelope.Message
	}
	req := &resend.SendEmailRequest{
		From:    call.Entry.ServiceID,
		To:      []string{call.Target},
		Subject: subject,
	}
	if html, ok := call.Envelope.Data["html"].(string); ok && html != "" {
		req.Html = html
	} else {
		req.Text = call.Envelope.Message
	}
	sent, err := k.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return "", err
	}
	return "email " + sent.Id, nil
}
