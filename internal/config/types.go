package config

import (
	"fmt"
	"strings"
	"time"

	"supernotify/internal/engine"
	"supernotify/internal/storage"
)

type Config struct {
	API     APIConfig     `json:"api"`
	Logging LoggingConfig `json:"logging"`
	Pprof   PprofConfig   `json:"pprof,omitempty"`

	Engine       EngineConfig        `json:"engine,omitempty"`
	Housekeeping HousekeepingConfig  `json:"housekeeping,omitempty"`
	Storage      *StorageConfig      `json:"storage,omitempty"`
	Senders      SendersConfig       `json:"senders,omitempty"`
	Recipients   []RecipientConfig   `json:"recipients,omitempty"`
	Channels     []ChannelConfig     `json:"channels"`
	Scenarios    []ScenarioConfig    `json:"scenarios,omitempty"`
	States       map[string]string   `json:"states,omitempty"`
}

// APIConfig controls the HTTP surface.
type APIConfig struct {
	Addr string `json:"addr"` // default "127.0.0.1:8686"
	// Token, when set, is required as a bearer token on mutating endpoints.
	Token string `json:"token,omitempty"`

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. 0 keeps the Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// EngineConfig tunes the routing core.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
type EngineConfig struct {
	DedupWindow     string `json:"dedup_window,omitempty"`      // default "5m"
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"` // default 2000
	DispatchTimeout string `json:"dispatch_timeout,omitempty"`  // default "30s"
}

// HousekeepingConfig schedules periodic sweeps. Specs are robfig/cron
// expressions; empty disables the sweep.
type HousekeepingConfig struct {
	SnoozeSweep  string `json:"snooze_sweep,omitempty"`  // default "@every 1m"
	ArchivePurge string `json:"archive_purge,omitempty"` // e.g. "@daily"
	// ArchiveRetention is how much history the purge keeps (Go duration).
	ArchiveRetention string `json:"archive_retention,omitempty"` // default "720h"
}

// StorageConfig controls the archive persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./supernotify_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SendersConfig carries outbound credentials shared by channel kinds.
type SendersConfig struct {
	ResendAPIKey  string `json:"resend_api_key,omitempty"`
	TelegramToken string `json:"telegram_token,omitempty"`
	BridgeURL     string `json:"bridge_url,omitempty"`
}

type RecipientConfig struct {
	Name           string   `json:"name"`
	Email          string   `json:"email,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	TelegramChatID int64    `json:"telegram_chat_id,omitempty"`
	Devices        []string `json:"devices,omitempty"`
	PresenceEntity string   `json:"presence_entity,omitempty"`
}

// ChannelConfig is one channel catalog entry as written in config.
// Enabled is a pointer so "omitted" defaults to true while an explicit
// false disables the entry.
type ChannelConfig struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	ServiceID string `json:"service_id,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`

	Priorities []string `json:"priorities,omitempty"`
	Occupancy  string   `json:"occupancy,omitempty"`

	Default         bool `json:"default,omitempty"`
	Fallback        bool `json:"fallback,omitempty"`
	FallbackOnError bool `json:"fallback_on_error,omitempty"`
	ScenarioOnly    bool `json:"scenario_only,omitempty"`
	TitleOnly       bool `json:"title_only,omitempty"`

	Message string            `json:"message,omitempty"`
	Title   string            `json:"title,omitempty"`
	Targets []string          `json:"targets,omitempty"`
	Data    map[string]any    `json:"data,omitempty"`
	Options map[string]string `json:"options,omitempty"`

	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type ScenarioConfig struct {
	Name              string                     `json:"name"`
	DeliverySelection string                     `json:"delivery_selection,omitempty"`
	Condition         *engine.Condition          `json:"condition,omitempty"`
	Channels          map[string]ScenarioChannel `json:"channels,omitempty"`
}

type ScenarioChannel struct {
	Data map[string]any `json:"data,omitempty"`
}

// ---- Mapping to runtime types ----

// EngineSettings is EngineConfig with durations parsed.
type EngineSettings struct {
	DedupWindow     time.Duration
	DedupMaxEntries int
	DispatchTimeout time.Duration
}

func (c EngineConfig) Settings() (EngineSettings, error) {
	window, err := ParseDurationOrDefault("engine.dedup_window", c.DedupWindow, engine.DefaultDedupTTL)
	if err != nil {
		return EngineSettings{}, err
	}
	timeout, err := ParseDurationOrDefault("engine.dispatch_timeout", c.DispatchTimeout, 30*time.Second)
	if err != nil {
		return EngineSettings{}, err
	}
	entries := c.DedupMaxEntries
	if entries <= 0 {
		entries = engine.DefaultDedupSize
	}
	return EngineSettings{DedupWindow: window, DedupMaxEntries: entries, DispatchTimeout: timeout}, nil
}

// CatalogEntry maps one channel config to its engine form.
func (c ChannelConfig) CatalogEntry() (*engine.CatalogEntry, error) {
	occupancy, err := engine.ParseOccupancyPolicy(c.Occupancy)
	if err != nil {
		return nil, fmt.Errorf("channel %q: %w", c.Name, err)
	}
	var priorities []engine.Priority
	for _, raw := range c.Priorities {
		p, err := engine.ParsePriority(raw)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", c.Name, err)
		}
		priorities = append(priorities, p)
	}
	enabled := c.Enabled == nil || *c.Enabled
	return &engine.CatalogEntry{
		Name:            strings.TrimSpace(c.Name),
		Kind:            strings.TrimSpace(c.Kind),
		ServiceID:       strings.TrimSpace(c.ServiceID),
		Enabled:         enabled,
		Priorities:      priorities,
		Occupancy:       occupancy,
		Default:         c.Default,
		Fallback:        c.Fallback,
		FallbackOnError: c.FallbackOnError,
		ScenarioOnly:    c.ScenarioOnly,
		TitleOnly:       c.TitleOnly,
		Message:         c.Message,
		Title:           c.Title,
		Targets:         c.Targets,
		Data:            c.Data,
		Options:         c.Options,
		RatePerSec:      c.RatePerSec,
	}, nil
}

// Scenario maps one scenario config to its engine form.
func (c ScenarioConfig) Scenario() (*engine.Scenario, error) {
	mode, err := engine.ParseSelectionMode(c.DeliverySelection)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", c.Name, err)
	}
	channels := make(map[string]engine.ScenarioChannel, len(c.Channels))
	for alias, sc := range c.Channels {
		channels[alias] = engine.ScenarioChannel{Data: sc.Data}
	}
	s := &engine.Scenario{
		Name:      strings.TrimSpace(c.Name),
		Condition: c.Condition,
		Mode:      mode,
		Channels:  channels,
	}
	if err := engine.ValidateScenario(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (c RecipientConfig) Recipient() engine.Recipient {
	return engine.Recipient{
		Name:           strings.TrimSpace(c.Name),
		Email:          c.Email,
		Phone:          c.Phone,
		TelegramChatID: c.TelegramChatID,
		Devices:        c.Devices,
		PresenceEntity: c.PresenceEntity,
	}
}

// StorageSettings maps the storage section, nil meaning disabled.
func (c *StorageConfig) StorageSettings() (storage.Config, error) {
	if c == nil {
		return storage.Config{}, nil
	}
	busy, err := ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: c.Driver, Path: c.Path, BusyTimeout: busy}, nil
}

// Validate performs the structural checks that don't need channel kinds:
// duplicate names, reserved names, parseable enums and durations. Kind
// validation happens when the catalog is built against the registry.
func (cfg *Config) Validate() error {
	if len(cfg.Channels) == 0 {
		return fmt.Errorf("at least one channel is required")
	}
	seen := map[string]bool{}
	for _, ch := range cfg.Channels {
		name := strings.TrimSpace(ch.Name)
		if name == "" {
			return fmt.Errorf("channel with empty name")
		}
		if seen[name] {
			return fmt.Errorf("duplicate channel %q", name)
		}
		seen[name] = true
		if _, err := ch.CatalogEntry(); err != nil {
			return err
		}
	}
	seenScen := map[string]bool{}
	for _, sc := range cfg.Scenarios {
		if seenScen[sc.Name] {
			return fmt.Errorf("duplicate scenario %q", sc.Name)
		}
		seenScen[sc.Name] = true
		if _, err := sc.Scenario(); err != nil {
			return err
		}
	}
	seenRcpt := map[string]bool{}
	for _, r := range cfg.Recipients {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return fmt.Errorf("recipient with empty name")
		}
		if seenRcpt[name] {
			return fmt.Errorf("duplicate recipient %q", name)
		}
		seenRcpt[name] = true
	}
	if _, err := cfg.Engine.Settings(); err != nil {
		return err
	}
	if _, err := cfg.Storage.StorageSettings(); err != nil {
		return err
	}
	for _, field := range []struct{ path, raw string }{
		{"api.read_timeout", cfg.API.ReadTimeout},
		{"api.write_timeout", cfg.API.WriteTimeout},
		{"api.idle_timeout", cfg.API.IdleTimeout},
		{"housekeeping.archive_retention", cfg.Housekeeping.ArchiveRetention},
		{"pprof.read_timeout", cfg.Pprof.ReadTimeout},
		{"pprof.write_timeout", cfg.Pprof.WriteTimeout},
		{"pprof.idle_timeout", cfg.Pprof.IdleTimeout},
	} {
		if _, err := ParseDurationField(field.path, field.raw); err != nil {
			return err
		}
	}
	return nil
}
