package engine

import (
	"reflect"
	"testing"

	logx "supernotify/pkg/logx"
)

// fakeResolver maps kind to a fixed per-recipient target.
type fakeResolver struct{}

func (fakeResolver) RecipientTargets(kind string, r Recipient) []string {
	switch kind {
	case "email":
		if r.Email == "" {
			return nil
		}
		return []string{r.Email}
	case "push":
		return r.Devices
	default:
		return nil
	}
}

func TestBuildExplicitTargetsWinAlone(t *testing.T) {
	t.Parallel()
	b := NewBuilder(fakeResolver{}, logx.Nop())
	entry := &CatalogEntry{Name: "mail", Kind: "email", Enabled: true, Targets: []string{"static@example.com"}}
	recipients := []Recipient{{Name: "ana", Email: "ana@example.com"}}

	n := &Notification{Message: "hi", Targets: []string{"x@example.com", "x@example.com"}}
	env := b.Build(n, entry, nil, recipients, nil)
	if want := []string{"x@example.com"}; !reflect.DeepEqual(env.Targets, want) {
		t.Fatalf("Targets = %v, want %v", env.Targets, want)
	}

	// A per-channel override target list beats the notification-level list.
	n = &Notification{
		Message: "hi",
		Targets: []string{"x@example.com"},
		Overrides: map[string]*ChannelOverride{
			"mail": {Targets: []string{"y@example.com"}},
		},
	}
	env = b.Build(n, entry, nil, recipients, nil)
	if want := []string{"y@example.com"}; !reflect.DeepEqual(env.Targets, want) {
		t.Fatalf("override Targets = %v, want %v", env.Targets, want)
	}
}

func TestBuildDerivedPlusStaticTargets(t *testing.T) {
	t.Parallel()
	b := NewBuilder(fakeResolver{}, logx.Nop())
	entry := &CatalogEntry{Name: "mail", Kind: "email", Enabled: true,
		Targets: []string{"ops@example.com", "ana@example.com"}}
	recipients := []Recipient{
		{Name: "ana", Email: "ana@example.com"},
		{Name: "ben", Email: "ana@example.com"}, // shared address, deduped within source
	}

	env := b.Build(&Notification{Message: "hi"}, entry, nil, recipients, nil)
	// Concatenated, not cross-deduplicated: ana@ appears in both sources.
	want := []string{"ana@example.com", "ops@example.com", "ana@example.com"}
	if !reflect.DeepEqual(env.Targets, want) {
		t.Fatalf("Targets = %v, want %v", env.Targets, want)
	}
}

func TestBuildOccupancyFiltersDerivedTargets(t *testing.T) {
	t.Parallel()
	b := NewBuilder(fakeResolver{}, logx.Nop())
	entry := &CatalogEntry{Name: "push", Kind: "push", Enabled: true, Occupancy: OccupancyOnlyOut}
	recipients := []Recipient{
		{Name: "ana", Devices: []string{"ana_phone"}, PresenceEntity: "person.ana"},
		{Name: "ben", Devices: []string{"ben_phone"}, PresenceEntity: "person.ben"},
	}
	states := map[string]string{"person.ana": "home", "person.ben": "away"}

	env := b.Build(&Notification{Message: "hi"}, entry, nil, recipients, states)
	if want := []string{"ben_phone"}; !reflect.DeepEqual(env.Targets, want) {
		t.Fatalf("Targets = %v, want %v", env.Targets, want)
	}
}

func TestBuildContentPrecedence(t *testing.T) {
	t.Parallel()
	b := NewBuilder(fakeResolver{}, logx.Nop())

	n := &Notification{Message: "caller message", Title: "caller title",
		Overrides: map[string]*ChannelOverride{
			"mail": {Message: "override message"},
		}}

	// Channel static content beats the caller's, override beats both.
	entry := &CatalogEntry{Name: "mail", Kind: "email", Enabled: true, Message: "static message"}
	env := b.Build(n, entry, nil, nil, nil)
	if env.Message != "override message" {
		t.Fatalf("Message = %q", env.Message)
	}
	if env.Title != "caller title" {
		t.Fatalf("Title = %q", env.Title)
	}

	plain := &CatalogEntry{Name: "other", Kind: "email", Enabled: true, Message: "static message"}
	env = b.Build(n, plain, nil, nil, nil)
	if env.Message != "static message" {
		t.Fatalf("Message = %q, want static", env.Message)
	}
}

func TestBuildTitleOnly(t *testing.T) {
	t.Parallel()
	b := NewBuilder(fakeResolver{}, logx.Nop())
	entry := &CatalogEntry{Name: "voice", Kind: "voice", Enabled: true, TitleOnly: true}

	env := b.Build(&Notification{Message: "long body", Title: "Door open"}, entry, nil, nil, nil)
	if env.Message != "Door open" {
		t.Fatalf("Message = %q, want title", env.Message)
	}

	// Without a title the body stays.
	env = b.Build(&Notification{Message: "long body"}, entry, nil, nil, nil)
	if env.Message != "long body" {
		t.Fatalf("Message = %q, want body", env.Message)
	}
}

func TestBuildDataMergeOrder(t *testing.T) {
	t.Parallel()
	b := NewBuilder(fakeResolver{}, logx.Nop())
	entry := &CatalogEntry{
		Name: "chime", Kind: "chime", Enabled: true,
		Data: map[string]any{"tune": "default", "volume": 3},
	}
	active := []*Scenario{{
		Name: "Alarm",
		Channels: map[string]ScenarioChannel{
			"chime": {Data: map[string]any{"tune": "alarm"}},
		},
	}}
	n := &Notification{
		Message: "hi",
		Overrides: map[string]*ChannelOverride{
			"chime": {Data: map[string]any{"volume": 10}},
		},
		Media: &Media{Camera: "front_door", SnapshotURL: "http://cam/snap.jpg"},
	}

	env := b.Build(n, entry, active, nil, nil)
	if env.Data["tune"] != "alarm" {
		t.Fatalf("tune = %v, want scenario value", env.Data["tune"])
	}
	if env.Data["volume"] != 10 {
		t.Fatalf("volume = %v, want override value", env.Data["volume"])
	}
	media, ok := env.Data["media"].(Media)
	if !ok || media.Camera != "front_door" {
		t.Fatalf("media = %#v", env.Data["media"])
	}
}

func TestBuildNoDataStaysNil(t *testing.T) {
	t.Parallel()
	b := NewBuilder(fakeResolver{}, logx.Nop())
	entry := &CatalogEntry{Name: "mail", Kind: "email", Enabled: true}
	env := b.Build(&Notification{Message: "hi"}, entry, nil, nil, nil)
	if env.Data != nil {
		t.Fatalf("Data = %v, want nil", env.Data)
	}
}
