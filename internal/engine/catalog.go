package engine

import (
	"context"
	"fmt"
	"strings"

	logx "supernotify/pkg/logx"
)

// CatalogEntry is one configured delivery channel instance.
//
// Entries are constructed and validated once at startup; the channel kind
// implementation owns validation of its own entries (service identifiers,
// kind-specific options) and invalid entries are dropped with a warning.
type CatalogEntry struct {
	Name string `json:"name"` // unique alias; "ALL" is reserved
	Kind string `json:"kind"`

	// ServiceID identifies the underlying outbound service (an URL, a
	// sender address, a named service). Kinds may declare they need none.
	ServiceID string `json:"service_id,omitempty"`

	Enabled bool `json:"enabled"`

	// Priorities restricts automatic selection to the listed priorities.
	// Empty means applicable to all.
	Priorities []Priority `json:"priorities,omitempty"`

	// Occupancy filters recipient-derived targets (see occupancy.go).
	Occupancy OccupancyPolicy `json:"occupancy,omitempty"`

	// Selection policy flags.
	Default         bool `json:"default,omitempty"`
	Fallback        bool `json:"fallback,omitempty"`
	FallbackOnError bool `json:"fallback_on_error,omitempty"`
	ScenarioOnly    bool `json:"scenario_only,omitempty"`

	// TitleOnly replaces the message body with the title when one is
	// present (character-limited channels such as voice assistants).
	TitleOnly bool `json:"title_only,omitempty"`

	// Static content overrides and defaults.
	Message string         `json:"message,omitempty"`
	Title   string         `json:"title,omitempty"`
	Targets []string       `json:"targets,omitempty"`
	Data    map[string]any `json:"data,omitempty"`

	// Options are opaque kind-specific settings, validated by the kind.
	Options map[string]string `json:"options,omitempty"`

	// RatePerSec caps outbound calls for this entry (0 = unlimited).
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// AppliesTo reports whether the entry's priority set admits p.
func (e *CatalogEntry) AppliesTo(p Priority) bool {
	if len(e.Priorities) == 0 {
		return true
	}
	for _, v := range e.Priorities {
		if v == p {
			return true
		}
	}
	return false
}

// EntryValidator is the startup-time half of the channel dispatcher
// contract: each kind validates its own catalog entries.
type EntryValidator interface {
	HasKind(kind string) bool
	ValidateEntry(ctx context.Context, e *CatalogEntry) error
}

// Catalog is the validated, ordered channel catalog. Declaration order is
// the tiebreaker everywhere selection order matters.
type Catalog struct {
	entries []*CatalogEntry
	byName  map[string]*CatalogEntry
}

// NewCatalog validates raw entries and keeps the valid ones, preserving
// declaration order. Invalid entries are dropped and logged once; they are
// never referenced again.
func NewCatalog(ctx context.Context, raw []*CatalogEntry, v EntryValidator, log logx.Logger) *Catalog {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Catalog{byName: make(map[string]*CatalogEntry, len(raw))}
	for _, e := range raw {
		if err := c.validate(ctx, e, v); err != nil {
			log.Warn("dropping invalid channel entry",
				logx.String("channel", e.Name), logx.String("kind", e.Kind), logx.Err(err))
			continue
		}
		c.entries = append(c.entries, e)
		c.byName[e.Name] = e
	}
	return c
}

func (c *Catalog) validate(ctx context.Context, e *CatalogEntry, v EntryValidator) error {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return fmt.Errorf("channel alias is required")
	}
	if name == ChannelNameAll {
		return fmt.Errorf("channel alias %q is reserved", name)
	}
	if _, dup := c.byName[name]; dup {
		return fmt.Errorf("duplicate channel alias %q", name)
	}
	if v != nil {
		if !v.HasKind(e.Kind) {
			return fmt.Errorf("unknown channel kind %q", e.Kind)
		}
		if err := v.ValidateEntry(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the entry for alias, or nil.
func (c *Catalog) Get(name string) *CatalogEntry { return c.byName[name] }

// Entries returns the catalog in declaration order. Callers must not
// mutate the result.
func (c *Catalog) Entries() []*CatalogEntry { return c.entries }

// Fallbacks returns enabled entries flagged fallback (empty-selection
// compensation), in declaration order.
func (c *Catalog) Fallbacks() []*CatalogEntry {
	var out []*CatalogEntry
	for _, e := range c.entries {
		if e.Enabled && e.Fallback && !e.FallbackOnError {
			out = append(out, e)
		}
	}
	return out
}

// ErrorFallbacks returns enabled entries flagged fallback_on_error
// (zero-deliveries compensation), in declaration order.
func (c *Catalog) ErrorFallbacks() []*CatalogEntry {
	var out []*CatalogEntry
	for _, e := range c.entries {
		if e.Enabled && e.FallbackOnError {
			out = append(out, e)
		}
	}
	return out
}

// ScenarioDeliveries maps each scenario to the channel aliases it would
// imply, in catalog order. Operational tooling only; dispatch never uses it.
func (c *Catalog) ScenarioDeliveries(scenarios []*Scenario) map[string][]string {
	out := make(map[string][]string, len(scenarios))
	for _, sc := range scenarios {
		names := make([]string, 0, len(sc.Channels))
		for _, e := range c.entries {
			if _, ok := sc.Channels[e.Name]; ok {
				names = append(names, e.Name)
			}
		}
		out[sc.Name] = names
	}
	return out
}
