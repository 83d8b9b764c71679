package engine

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "supernotify/pkg/logx"
)

// SnoozeTarget qualifies what a suppression rule covers.
type SnoozeTarget string

const (
	// Globals. These suppress non-critical notifications only; critical
	// priority always bypasses them (but not the qualified targets below).
	SnoozeEverything  SnoozeTarget = "everything"
	SnoozeNonCritical SnoozeTarget = "noncritical"

	SnoozeChannel  SnoozeTarget = "channel"  // channel kind
	SnoozeDelivery SnoozeTarget = "delivery" // catalog alias
	SnoozeCamera   SnoozeTarget = "camera"
	SnoozeLabel    SnoozeTarget = "label"
	SnoozePriority SnoozeTarget = "priority"
)

// Snooze is one active suppression rule.
//
// Uniqueness key is (recipient scope, target, value); inserting a snooze
// with the same key replaces the prior one.
type Snooze struct {
	// Recipient scopes the rule to one recipient; empty means everyone.
	Recipient string       `json:"recipient,omitempty"`
	Target    SnoozeTarget `json:"target"`
	Value     string       `json:"value,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	// ExpiresAt zero means indefinite (explicit resume required).
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (s Snooze) Key() string {
	return s.Recipient + "|" + string(s.Target) + "|" + s.Value
}

func (s Snooze) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Descriptor is what a snooze is matched against: the notification's
// priority plus the channel kinds, delivery aliases and camera/label
// identifiers about to be used.
type Descriptor struct {
	Priority   Priority
	Channels   []string // kinds
	Deliveries []string // catalog aliases
	Camera     string
	Labels     []string
}

// matches reports whether the snooze covers the descriptor, ignoring
// recipient scope and expiry (the store checks those).
func (s Snooze) matches(d Descriptor) bool {
	switch s.Target {
	case SnoozeEverything, SnoozeNonCritical:
		// Critical bypasses global snoozes, by contract.
		return d.Priority < PriorityCritical
	case SnoozeChannel:
		return containsString(d.Channels, s.Value)
	case SnoozeDelivery:
		return containsString(d.Deliveries, s.Value)
	case SnoozeCamera:
		return s.Value != "" && s.Value == d.Camera
	case SnoozeLabel:
		return containsString(d.Labels, s.Value)
	case SnoozePriority:
		return s.Value == d.Priority.String()
	default:
		return false
	}
}

// SnoozeStore holds the active suppression rules. Expiry is lazy: expired
// rules are dropped when queried (a periodic sweep is an optimization, not
// a correctness requirement).
type SnoozeStore struct {
	mu    sync.Mutex
	items map[string]Snooze
	log   logx.Logger
}

func NewSnoozeStore(log logx.Logger) *SnoozeStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SnoozeStore{items: map[string]Snooze{}, log: log}
}

// Put inserts or replaces a snooze by its uniqueness key.
func (st *SnoozeStore) Put(s Snooze) {
	st.mu.Lock()
	st.items[s.Key()] = s
	st.mu.Unlock()
	st.log.Info("snooze active",
		logx.String("target", string(s.Target)), logx.String("value", s.Value),
		logx.String("recipient", s.Recipient), logx.Time("expires_at", s.ExpiresAt))
}

// Resume removes rules. A qualified target removes exactly that key; the
// "everything" target clears every rule in the given recipient scope.
func (st *SnoozeStore) Resume(recipient string, target SnoozeTarget, value string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	if target == SnoozeEverything {
		n := 0
		for k, s := range st.items {
			if s.Recipient == recipient {
				delete(st.items, k)
				n++
			}
		}
		return n
	}
	key := Snooze{Recipient: recipient, Target: target, Value: value}.Key()
	if _, ok := st.items[key]; ok {
		delete(st.items, key)
		return 1
	}
	return 0
}

// Active returns unexpired rules sorted by creation time, pruning expired
// ones as a side effect.
func (st *SnoozeStore) Active(now time.Time) []Snooze {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Snooze, 0, len(st.items))
	for k, s := range st.items {
		if s.Expired(now) {
			delete(st.items, k)
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Check reports whether everyone-scoped rules suppress the descriptor,
// returning the matching rules.
func (st *SnoozeStore) Check(d Descriptor, now time.Time) (bool, []Snooze) {
	var matching []Snooze
	for _, s := range st.Active(now) {
		if s.Recipient == "" && s.matches(d) {
			matching = append(matching, s)
		}
	}
	return len(matching) > 0, matching
}

// SnoozedRecipients returns the recipients whose scoped rules match the
// descriptor; their recipient-derived targets are dropped rather than
// suppressing the whole notification.
func (st *SnoozeStore) SnoozedRecipients(d Descriptor, now time.Time) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range st.Active(now) {
		if s.Recipient != "" && !seen[s.Recipient] && s.matches(d) {
			seen[s.Recipient] = true
			out = append(out, s.Recipient)
		}
	}
	return out
}

// Sweep removes expired rules eagerly and returns how many were dropped.
func (st *SnoozeStore) Sweep(now time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for k, s := range st.items {
		if s.Expired(now) {
			delete(st.items, k)
			n++
		}
	}
	return n
}

// ---- Suppression control commands ----

// SnoozeVerb is the action of a suppression control command.
type SnoozeVerb string

const (
	VerbSnooze  SnoozeVerb = "snooze"  // time-boxed
	VerbSilence SnoozeVerb = "silence" // indefinite
	VerbResume  SnoozeVerb = "resume"
)

// SnoozeCommand is a parsed suppression control event.
type SnoozeCommand struct {
	Verb      SnoozeVerb
	Recipient string // empty = everyone
	Target    SnoozeTarget
	Value     string
	Duration  time.Duration // snooze verb only; 0 = default
}

var errEmptyCommand = errors.New("empty suppression command")

// DefaultSnoozeDuration applies when a snooze command omits its trailing
// duration.
const DefaultSnoozeDuration = time.Hour

// ParseSnoozeCommand parses the wire form of a suppression command:
//
//	<verb> [recipient:<name>] <target> [<seconds>]
//
// where verb is snooze|silence|resume and target is one of
// everything | noncritical | channel:<kind> | delivery:<alias> |
// camera:<id> | label:<name> | priority:<level>.
func ParseSnoozeCommand(raw string) (SnoozeCommand, error) {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return SnoozeCommand{}, errEmptyCommand
	}

	var cmd SnoozeCommand
	switch strings.ToLower(fields[0]) {
	case "snooze":
		cmd.Verb = VerbSnooze
	case "silence":
		cmd.Verb = VerbSilence
	case "resume":
		cmd.Verb = VerbResume
	default:
		return SnoozeCommand{}, fmt.Errorf("unknown suppression verb %q", fields[0])
	}
	rest := fields[1:]

	if len(rest) > 0 && strings.HasPrefix(strings.ToLower(rest[0]), "recipient:") {
		cmd.Recipient = rest[0][len("recipient:"):]
		if cmd.Recipient == "" {
			return SnoozeCommand{}, errors.New("recipient scope is empty")
		}
		rest = rest[1:]
	}

	// Resume defaults to "everything" when no target is given.
	if len(rest) == 0 {
		if cmd.Verb == VerbResume {
			cmd.Target = SnoozeEverything
			return cmd, nil
		}
		return SnoozeCommand{}, errors.New("suppression target is required")
	}

	target, value, err := parseSnoozeTarget(rest[0])
	if err != nil {
		return SnoozeCommand{}, err
	}
	cmd.Target, cmd.Value = target, value
	rest = rest[1:]

	if len(rest) > 0 {
		if cmd.Verb != VerbSnooze {
			return SnoozeCommand{}, fmt.Errorf("unexpected trailing %q", rest[0])
		}
		secs, err := strconv.Atoi(rest[0])
		if err != nil || secs <= 0 {
			return SnoozeCommand{}, fmt.Errorf("invalid duration %q", rest[0])
		}
		cmd.Duration = time.Duration(secs) * time.Second
		rest = rest[1:]
	}
	if len(rest) > 0 {
		return SnoozeCommand{}, fmt.Errorf("unexpected trailing %q", rest[0])
	}
	if cmd.Verb == VerbSnooze && cmd.Duration == 0 {
		cmd.Duration = DefaultSnoozeDuration
	}
	return cmd, nil
}

func parseSnoozeTarget(s string) (SnoozeTarget, string, error) {
	lower := strings.ToLower(s)
	switch lower {
	case "everything", "all":
		return SnoozeEverything, "", nil
	case "noncritical", "non-critical":
		return SnoozeNonCritical, "", nil
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("invalid suppression target %q", s)
	}
	switch SnoozeTarget(strings.ToLower(parts[0])) {
	case SnoozeChannel:
		return SnoozeChannel, parts[1], nil
	case SnoozeDelivery:
		return SnoozeDelivery, parts[1], nil
	case SnoozeCamera:
		return SnoozeCamera, parts[1], nil
	case SnoozeLabel:
		return SnoozeLabel, parts[1], nil
	case SnoozePriority:
		if _, err := ParsePriority(parts[1]); err != nil {
			return "", "", err
		}
		return SnoozePriority, strings.ToLower(parts[1]), nil
	default:
		return "", "", fmt.Errorf("invalid suppression target %q", s)
	}
}

// Apply executes a parsed command against the store at time now.
// It returns the number of rules added or removed.
func (st *SnoozeStore) Apply(cmd SnoozeCommand, now time.Time) int {
	switch cmd.Verb {
	case VerbResume:
		n := st.Resume(cmd.Recipient, cmd.Target, cmd.Value)
		st.log.Info("suppressions resumed", logx.Int("removed", n),
			logx.String("target", string(cmd.Target)), logx.String("recipient", cmd.Recipient))
		return n
	case VerbSnooze:
		st.Put(Snooze{
			Recipient: cmd.Recipient,
			Target:    cmd.Target,
			Value:     cmd.Value,
			CreatedAt: now,
			ExpiresAt: now.Add(cmd.Duration),
		})
		return 1
	case VerbSilence:
		st.Put(Snooze{
			Recipient: cmd.Recipient,
			Target:    cmd.Target,
			Value:     cmd.Value,
			CreatedAt: now,
		})
		return 1
	default:
		return 0
	}
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
