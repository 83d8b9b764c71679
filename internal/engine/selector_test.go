package engine

import (
	"context"
	"reflect"
	"testing"

	logx "supernotify/pkg/logx"
)

func testCatalog(t *testing.T, entries ...*CatalogEntry) *Catalog {
	t.Helper()
	return NewCatalog(context.Background(), entries, nil, logx.Nop())
}

func boolPtr(b bool) *bool { return &b }

func TestSelectModeResolution(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t,
		&CatalogEntry{Name: "email", Kind: "email", Enabled: true, Default: true},
	)
	scenarioExplicit := &Scenario{Name: "Quiet", Mode: SelectExplicit, Channels: map[string]ScenarioChannel{"email": {}}}

	tests := []struct {
		name   string
		n      *Notification
		active []*Scenario
		want   SelectionMode
	}{
		{name: "bare request is implicit", n: &Notification{}, want: SelectImplicit},
		{
			name: "overrides imply explicit",
			n:    &Notification{Overrides: map[string]*ChannelOverride{"email": nil}},
			want: SelectExplicit,
		},
		{
			name: "requested scenario implies explicit",
			n:    &Notification{Scenarios: []string{"Quiet"}},
			want: SelectExplicit,
		},
		{
			name:   "scenario mode wins over derived",
			n:      &Notification{},
			active: []*Scenario{scenarioExplicit},
			want:   SelectExplicit,
		},
		{
			name:   "caller mode wins over scenario mode",
			n:      &Notification{Mode: SelectFixed},
			active: []*Scenario{scenarioExplicit},
			want:   SelectFixed,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Select(tt.n, tt.active, cat, logx.Nop())
			if got.Mode != tt.want {
				t.Fatalf("Mode = %v, want %v", got.Mode, tt.want)
			}
		})
	}
}

func TestSelectFixedUsesOverridesOnly(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t,
		&CatalogEntry{Name: "email", Kind: "email", Enabled: true, Default: true},
		&CatalogEntry{Name: "chime", Kind: "chime", Enabled: true, Default: true},
		&CatalogEntry{Name: "sms", Kind: "sms", Enabled: true},
	)
	active := []*Scenario{{Name: "Alarm", Channels: map[string]ScenarioChannel{"chime": {}}}}

	n := &Notification{
		Mode:      SelectFixed,
		Overrides: map[string]*ChannelOverride{"sms": nil},
	}
	got := Select(n, active, cat, logx.Nop())
	if want := []string{"sms"}; !reflect.DeepEqual(got.Channels, want) {
		t.Fatalf("Channels = %v, want %v", got.Channels, want)
	}
}

func TestSelectScenarioOnlyNeverFiresWithoutScenario(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t,
		&CatalogEntry{Name: "email", Kind: "email", Enabled: true, Default: true},
		// Misconfigured on purpose: default AND scenario-only.
		&CatalogEntry{Name: "inbox", Kind: "persistent", Enabled: true, Default: true, ScenarioOnly: true},
	)
	alarm := &Scenario{Name: "Alarm", Channels: map[string]ScenarioChannel{"inbox": {}}}

	got := Select(&Notification{}, nil, cat, logx.Nop())
	if want := []string{"email"}; !reflect.DeepEqual(got.Channels, want) {
		t.Fatalf("without scenario: Channels = %v, want %v", got.Channels, want)
	}

	got = Select(&Notification{}, []*Scenario{alarm}, cat, logx.Nop())
	if want := []string{"inbox", "email"}; !reflect.DeepEqual(got.Channels, want) {
		t.Fatalf("with scenario: Channels = %v, want %v", got.Channels, want)
	}
}

func TestSelectExplicitSkipsDefaults(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t,
		&CatalogEntry{Name: "email", Kind: "email", Enabled: true, Default: true},
		&CatalogEntry{Name: "sms", Kind: "sms", Enabled: true},
	)
	n := &Notification{Overrides: map[string]*ChannelOverride{"sms": nil}}
	got := Select(n, nil, cat, logx.Nop())
	if want := []string{"sms"}; !reflect.DeepEqual(got.Channels, want) {
		t.Fatalf("Channels = %v, want %v", got.Channels, want)
	}
}

func TestSelectForceExclusionWins(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t,
		&CatalogEntry{Name: "email", Kind: "email", Enabled: true, Default: true},
		&CatalogEntry{Name: "chime", Kind: "chime", Enabled: true},
	)
	alarm := &Scenario{Name: "Alarm", Channels: map[string]ScenarioChannel{"email": {}, "chime": {}}}

	n := &Notification{Overrides: map[string]*ChannelOverride{
		"chime": {Enabled: boolPtr(false)},
	}}
	got := Select(n, []*Scenario{alarm}, cat, logx.Nop())
	if want := []string{"email"}; !reflect.DeepEqual(got.Channels, want) {
		t.Fatalf("Channels = %v, want %v", got.Channels, want)
	}
}

func TestSelectPriorityRestriction(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t,
		&CatalogEntry{Name: "email", Kind: "email", Enabled: true, Default: true},
		&CatalogEntry{Name: "siren", Kind: "chime", Enabled: true, Default: true,
			Priorities: []Priority{PriorityCritical}},
	)

	got := Select(&Notification{Priority: PriorityMedium}, nil, cat, logx.Nop())
	if want := []string{"email"}; !reflect.DeepEqual(got.Channels, want) {
		t.Fatalf("medium: Channels = %v, want %v", got.Channels, want)
	}

	got = Select(&Notification{Priority: PriorityCritical}, nil, cat, logx.Nop())
	if want := []string{"email", "siren"}; !reflect.DeepEqual(got.Channels, want) {
		t.Fatalf("critical: Channels = %v, want %v", got.Channels, want)
	}

	// Explicit override bypasses the priority restriction.
	n := &Notification{Priority: PriorityMedium, Overrides: map[string]*ChannelOverride{"siren": nil}}
	got = Select(n, nil, cat, logx.Nop())
	if want := []string{"siren"}; !reflect.DeepEqual(got.Channels, want) {
		t.Fatalf("override: Channels = %v, want %v", got.Channels, want)
	}
}

func TestSelectFallbackEntriesNotAutoSelected(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t,
		&CatalogEntry{Name: "email", Kind: "email", Enabled: true, Default: true},
		&CatalogEntry{Name: "inbox", Kind: "persistent", Enabled: true, Default: true, Fallback: true},
		&CatalogEntry{Name: "sms", Kind: "sms", Enabled: true, Default: true, FallbackOnError: true},
	)
	got := Select(&Notification{}, nil, cat, logx.Nop())
	if want := []string{"email"}; !reflect.DeepEqual(got.Channels, want) {
		t.Fatalf("Channels = %v, want %v", got.Channels, want)
	}
}

func TestSelectUnknownOverrideIgnored(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t,
		&CatalogEntry{Name: "email", Kind: "email", Enabled: true, Default: true},
	)
	n := &Notification{Overrides: map[string]*ChannelOverride{"nope": nil}}
	got := Select(n, nil, cat, logx.Nop())
	if len(got.Channels) != 0 {
		t.Fatalf("Channels = %v, want none", got.Channels)
	}
}

func TestSelectDisabledEntrySkipped(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t,
		&CatalogEntry{Name: "email", Kind: "email", Enabled: false, Default: true},
	)
	got := Select(&Notification{}, nil, cat, logx.Nop())
	if len(got.Channels) != 0 {
		t.Fatalf("Channels = %v, want none", got.Channels)
	}
	// Not even an explicit override revives a disabled channel.
	n := &Notification{Overrides: map[string]*ChannelOverride{"email": nil}}
	got = Select(n, nil, cat, logx.Nop())
	if len(got.Channels) != 0 {
		t.Fatalf("override: Channels = %v, want none", got.Channels)
	}
}
