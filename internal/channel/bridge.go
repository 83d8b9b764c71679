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

// BridgeClient invokes named services on a home-automation bridge over
// HTTP. Chime and voice deliveries are both "call service X with a payload"
// against it, differing only in payload shape.
type BridgeClient struct {
	base string
	http *http.Client
}

func NewBridgeClient(baseURL string) (*BridgeClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("bridge url %q is not an http(s) URL", baseURL)
	}
	return &BridgeClient{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// CallService POSTs the payload to /services/<name>.
func (c *BridgeClient) CallService(ctx context.Context, service string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/services/"+url.PathEscape(service), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("service %s returned %s", service, resp.Status)
	}
	return nil
}

// ChimeKind plays a tone or media on player entities via a bridge service.
// The entry's service id names the bridge service; targets are player
// entity ids, usually static on the entry.
type ChimeKind struct {
	bridge *BridgeClient
}

func NewChimeKind(bridge *BridgeClient) *ChimeKind { return &ChimeKind{bridge: bridge} }

func (k *ChimeKind) Name() string         { return "chime" }
func (k *ChimeKind) NeedsServiceID() bool { return true }
func (k *ChimeKind) NeedsTargets() bool   { return true }

func (k *ChimeKind) ValidateTarget(target string) bool {
	return strings.TrimSpace(target) != ""
}

func (k *ChimeKind) ValidateEntry(_ context.Context, e *engine.CatalogEntry) error {
	if strings.TrimSpace(e.ServiceID) == "" {
		return fmt.Errorf("chime entry needs a bridge service name")
	}
	return nil
}

func (k *ChimeKind) RecipientTargets(engine.Recipient) []string { return nil }

func (k *ChimeKind) Send(ctx context.Context, call *Call) (string, error) {
	payload := map[string]any{"entity_id": call.Target}
	if tune, ok := call.Envelope.Data["tune"]; ok {
		payload["tune"] = tune
	}
	if err := k.bridge.CallService(ctx, call.Entry.ServiceID, payload); err != nil {
		return "", err
	}
	return "chime " + call.Target, nil
}

// VoiceKind speaks the message on speaker entities via a bridge TTS
// service. Channel entries usually set title_only so the announcement stays
// short.
type VoiceKind struct {
	bridge *BridgeClient
}

func NewVoiceKind(bridge *BridgeClient) *VoiceKind { return &VoiceKind{bridge: bridge} }

func (k *VoiceKind) Name() string         { return "voice" }
func (k *VoiceKind) NeedsServiceID() bool { return true }
func (k *VoiceKind) NeedsTargets() bool   { return true }

func (k *VoiceKind) ValidateTarget(target string) bool {
	return strings.TrimSpace(target) != ""
}

func (k *VoiceKind) ValidateEntry(_ context.Context, e *engine.CatalogEntry) error {
	if strings.TrimSpace(e.ServiceID) == "" {
		return fmt.Errorf("voice entry needs a bridge service name")
	}
	return nil
}

func (k *VoiceKind) RecipientTargets(engine.Recipient) []string { return nil }

func (k *VoiceKind) Send(ctx context.Context, call *Call) (string, error) {
	payload := map[string]any{
		"entity_id": call.Target,
		"message":   call.Envelope.Message,
	}
	if lang, ok := call.Envelope.Data["language"]; ok {
		payload["language"] = lang
	}
	if err := k.bridge.CallService(ctx, call.Entry.ServiceID, payload); err != nil {
		return "", err
	}
	return "voice " + call.Target, nil
}
