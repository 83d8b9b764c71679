package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Channels: []ChannelConfig{
			{Name: "inbox", Kind: "persistent"},
			{Name: "email", Kind: "email", ServiceID: "alerts@example.com"},
		},
		Scenarios: []ScenarioConfig{
			{Name: "night", DeliverySelection: "fixed"},
		},
		Recipients: []RecipientConfig{
			{Name: "ana", Email: "ana@example.com"},
		},
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no channels", mutate: func(cfg *Config) { cfg.Channels = nil }, wantErr: true},
		{name: "empty channel name", mutate: func(cfg *Config) { cfg.Channels[0].Name = " " }, wantErr: true},
		{name: "duplicate channel", mutate: func(cfg *Config) { cfg.Channels[1].Name = "inbox" }, wantErr: true},
		{name: "bad priority", mutate: func(cfg *Config) { cfg.Channels[0].Priorities = []string{"urgent"} }, wantErr: true},
		{name: "bad occupancy", mutate: func(cfg *Config) { cfg.Channels[0].Occupancy = "everyone" }, wantErr: true},
		{name: "duplicate scenario", mutate: func(cfg *Config) {
			cfg.Scenarios = append(cfg.Scenarios, ScenarioConfig{Name: "night"})
		}, wantErr: true},
		{name: "reserved scenario name", mutate: func(cfg *Config) { cfg.Scenarios[0].Name = "DEFAULT" }, wantErr: true},
		{name: "bad selection mode", mutate: func(cfg *Config) { cfg.Scenarios[0].DeliverySelection = "magic" }, wantErr: true},
		{name: "duplicate recipient", mutate: func(cfg *Config) {
			cfg.Recipients = append(cfg.Recipients, RecipientConfig{Name: "ana"})
		}, wantErr: true},
		{name: "empty recipient name", mutate: func(cfg *Config) { cfg.Recipients[0].Name = "" }, wantErr: true},
		{name: "bad engine duration", mutate: func(cfg *Config) { cfg.Engine.DedupWindow = "soon" }, wantErr: true},
		{name: "bad api duration", mutate: func(cfg *Config) { cfg.API.ReadTimeout = "-1s" }, wantErr: true},
		{name: "bad pprof duration", mutate: func(cfg *Config) { cfg.Pprof.IdleTimeout = "later" }, wantErr: true},
		{name: "bad storage duration", mutate: func(cfg *Config) {
			cfg.Storage = &StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "nope"}
		}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEngineSettingsDefaults(t *testing.T) {
	t.Parallel()
	s, err := EngineConfig{}.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if s.DedupWindow <= 0 || s.DedupMaxEntries <= 0 || s.DispatchTimeout != 30*time.Second {
		t.Fatalf("defaults = %+v", s)
	}

	s, err = EngineConfig{DedupWindow: "2m", DedupMaxEntries: 10, DispatchTimeout: "5s"}.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if s.DedupWindow != 2*time.Minute || s.DedupMaxEntries != 10 || s.DispatchTimeout != 5*time.Second {
		t.Fatalf("parsed = %+v", s)
	}
}

func TestChannelCatalogEntryDefaults(t *testing.T) {
	t.Parallel()
	entry, err := ChannelConfig{Name: " push ", Kind: "webhook"}.CatalogEntry()
	if err != nil {
		t.Fatalf("CatalogEntry: %v", err)
	}
	if entry.Name != "push" || !entry.Enabled {
		t.Fatalf("entry = %+v", entry)
	}

	off := false
	entry, err = ChannelConfig{Name: "push", Kind: "webhook", Enabled: &off}.CatalogEntry()
	if err != nil {
		t.Fatalf("CatalogEntry: %v", err)
	}
	if entry.Enabled {
		t.Fatal("explicit false must disable the entry")
	}
}

func TestStorageSettingsNilDisables(t *testing.T) {
	t.Parallel()
	var sc *StorageConfig
	got, err := sc.StorageSettings()
	if err != nil {
		t.Fatalf("StorageSettings: %v", err)
	}
	if got.Driver != "" {
		t.Fatalf("settings = %+v", got)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "  "); err != nil || d != 0 {
		t.Fatalf("blank = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "5x"); err == nil {
		t.Fatal("expected error for bad unit")
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("expected error for negative")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default = %v, %v", d, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := validConfig()
	newCfg := validConfig()
	newCfg.Logging.Level = "warn"
	newCfg.Channels = append(newCfg.Channels, ChannelConfig{Name: "sms", Kind: "sms", ServiceID: "https://gw"})
	newCfg.States = map[string]string{"alarm": "armed"}

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"channels", "logging", "states"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("changed = %v, want %v", changed, want)
		}
	}

	if got, _ := SummarizeConfigChange(oldCfg, oldCfg); len(got) != 0 {
		t.Fatalf("no-op change = %v", got)
	}
}
