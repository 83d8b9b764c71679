package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Priority orders notifications from routine to must-see.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityMedium, fmt.Errorf("unknown priority %q", s)
	}
}

func (p Priority) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

func (p *Priority) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// SelectionMode controls how the delivery selector picks channels.
//
//   - implicit: active scenarios plus catalog defaults
//   - explicit: active scenarios only (no defaults)
//   - fixed: caller overrides only; scenario/default selection disabled
type SelectionMode string

const (
	SelectImplicit SelectionMode = "implicit"
	SelectExplicit SelectionMode = "explicit"
	SelectFixed    SelectionMode = "fixed"
)

func ParseSelectionMode(s string) (SelectionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "implicit":
		return SelectImplicit, nil
	case "explicit":
		return SelectExplicit, nil
	case "fixed":
		return SelectFixed, nil
	default:
		return "", fmt.Errorf("unknown delivery_selection %q", s)
	}
}

// Reserved names. User config must not define scenarios or channel aliases
// with these names.
const (
	ScenarioNameDefault = "DEFAULT"
	ScenarioNameNull    = "NULL"
	ChannelNameAll      = "ALL"
)

// ChannelOverride is a caller-supplied per-channel override.
// A nil *ChannelOverride in Notification.Overrides means "enable with defaults".
type ChannelOverride struct {
	// Enabled resolves the channel's inclusion: nil or true force-includes,
	// false force-excludes (excluding wins over scenario/default inclusion).
	Enabled *bool          `json:"enabled,omitempty"`
	Message string         `json:"message,omitempty"`
	Title   string         `json:"title,omitempty"`
	Targets []string       `json:"targets,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Included reports whether the override's enablement resolves true.
func (o *ChannelOverride) Included() bool {
	return o == nil || o.Enabled == nil || *o.Enabled
}

// Media carries opaque snapshot/clip references. Acquisition is someone
// else's job; the engine only threads these through to channel data.
type Media struct {
	Camera      string `json:"camera,omitempty"`
	SnapshotURL string `json:"snapshot_url,omitempty"`
	ClipURL     string `json:"clip_url,omitempty"`
}

// Notification is one inbound "send a notification" request.
//
// It is mutated only while the coordinator resolves it (ID, priority default,
// effective mode) and is read-only afterwards.
type Notification struct {
	ID      string
	Message string
	Title   string

	// Targets is the caller-supplied, channel-agnostic explicit target list.
	Targets []string

	Priority Priority

	// Scenarios force-evaluates the named scenarios to true.
	Scenarios []string

	// Mode, when non-empty, is the caller-forced delivery selection mode.
	Mode SelectionMode

	// Overrides maps channel alias -> override. A nil value enables the
	// channel with defaults.
	Overrides map[string]*ChannelOverride

	// Recipients restricts recipient-derived targeting to the named
	// recipients. Empty means all configured recipients.
	Recipients []string

	Media *Media

	// Labels participate in snooze matching (e.g. zone or device labels).
	Labels []string

	Debug bool

	ReceivedAt time.Time
}

// Recipient is one configured person with per-channel reachability and an
// optional presence entity for occupancy filtering.
type Recipient struct {
	Name           string   `json:"name"`
	Email          string   `json:"email,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	TelegramChatID int64    `json:"telegram_chat_id,omitempty"`
	Devices        []string `json:"devices,omitempty"`
	PresenceEntity string   `json:"presence_entity,omitempty"`
}

// CallRecord is one outbound call attempted during envelope dispatch.
type CallRecord struct {
	ServiceID string        `json:"service_id,omitempty"`
	Target    string        `json:"target,omitempty"`
	Payload   string        `json:"payload,omitempty"`
	Error     string        `json:"error,omitempty"`
	Took      time.Duration `json:"took"`
}

// Envelope is the fully-resolved per-channel payload for one dispatch
// attempt. It is created by the builder and mutated only by the channel
// dispatcher while delivering; afterwards it is read-only reporting state.
type Envelope struct {
	Channel  string         `json:"channel"` // catalog alias
	Kind     string         `json:"kind"`
	Message  string         `json:"message"`
	Title    string         `json:"title,omitempty"`
	Targets  []string       `json:"targets,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Priority Priority       `json:"priority"`

	Delivered int `json:"delivered"`
	Skipped   int `json:"skipped"`
	Errored   int `json:"errored"`

	Calls    []CallRecord `json:"calls,omitempty"`
	Failures []CallRecord `json:"failures,omitempty"`
}

// RecordCall accounts one successful outbound call.
func (e *Envelope) RecordCall(c CallRecord) {
	e.Delivered++
	e.Calls = append(e.Calls, c)
}

// RecordFailure accounts one raised outbound call.
func (e *Envelope) RecordFailure(c CallRecord) {
	e.Errored++
	e.Failures = append(e.Failures, c)
}

// RecordSkip accounts a call that was deliberately not attempted.
func (e *Envelope) RecordSkip() { e.Skipped++ }

// Record is the final aggregate emitted once per notification, kept as the
// engine's "last notification" answer and handed to archival.
type Record struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	Message  string    `json:"message"`
	Title    string    `json:"title,omitempty"`
	Priority Priority  `json:"priority"`

	Mode      SelectionMode `json:"mode"`
	Scenarios []string      `json:"scenarios,omitempty"` // active scenario names
	Selected  []string      `json:"selected,omitempty"`  // ordered channel aliases

	Suppressed   bool     `json:"suppressed,omitempty"`
	SuppressedBy string   `json:"suppressed_by,omitempty"` // "duplicate" or "snooze"
	Snoozes      []string `json:"snoozes,omitempty"`       // matching snooze keys

	Envelopes []*Envelope `json:"envelopes,omitempty"`

	Delivered int `json:"delivered"`
	Skipped   int `json:"skipped"`
	Errored   int `json:"errored"`
}
