package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"supernotify/internal/engine"
)

// SMSKind delivers through an HTTP SMS gateway. The catalog entry's service
// id is the gateway URL; each target is a phone number in E.164-ish form.
type SMSKind struct {
	http *http.Client
}

func NewSMSKind() *SMSKind {
	return &SMSKind{http: &http.Client{Timeout: 10 * time.Second}}
}

func (k *SMSKind) Name() string         { return "sms" }
func (k *SMSKind) NeedsServiceID() bool { return true }
func (k *SMSKind) NeedsTargets() bool   { return true }

func (k *SMSKind) ValidateTarget(target string) bool {
	s := strings.TrimPrefix(target, "+")
	if len(s) < 5 || len(s) > 15 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (k *SMSKind) ValidateEntry(_ context.Context, e *engine.CatalogEntry) error {
	u, err := url.Parse(e.ServiceID)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("gateway url %q is not an http(s) URL", e.ServiceID)
	}
	return nil
}

func (k *SMSKind) RecipientTargets(r engine.Recipient) []string {
	if r.Phone == "" {
		return nil
	}
	return []string{r.Phone}
}

func (k *SMSKind) Send(ctx context.Context, call *Call) (string, error) {
	body, err := json.Marshal(map[string]string{
		"to":      call.Target,
		"message": call.Envelope.Message,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, call.Entry.ServiceID, bytes.NewReader(body))
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
		return "", fmt.Errorf("gateway returned %s", resp.Status)
	}
	return fmt.Sprintf("sms %d bytes", len(body)), nil
}
