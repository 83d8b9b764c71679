package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	logx "supernotify/pkg/logx"
)

// fakeDispatcher delivers every target unless the channel alias is marked
// failing. Channels without targets get one implicit call.
type fakeDispatcher struct {
	mu         sync.Mutex
	fail       map[string]bool
	dispatched []string
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, entry *CatalogEntry, env *Envelope) {
	d.mu.Lock()
	d.dispatched = append(d.dispatched, entry.Name)
	failing := d.fail[entry.Name]
	d.mu.Unlock()

	targets := env.Targets
	if len(targets) == 0 {
		targets = []string{""}
	}
	for _, tgt := range targets {
		if failing {
			env.RecordFailure(CallRecord{Target: tgt, Error: "boom"})
		} else {
			env.RecordCall(CallRecord{Target: tgt})
		}
	}
}

func (d *fakeDispatcher) names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.dispatched))
	copy(out, d.dispatched)
	return out
}

type fakeStates map[string]string

func (s fakeStates) States() map[string]string { return s }

type recordingArchive struct {
	mu   sync.Mutex
	recs []*Record
}

func (a *recordingArchive) AppendRecord(ctx context.Context, rec *Record) error {
	a.mu.Lock()
	a.recs = append(a.recs, rec)
	a.mu.Unlock()
	return nil
}

func newTestCoordinator(t *testing.T, d *fakeDispatcher, cat *Catalog, scenarios []*Scenario, recipients []Recipient) *Coordinator {
	t.Helper()
	return NewCoordinator(Deps{
		Catalog:    cat,
		Scenarios:  scenarios,
		Recipients: recipients,
		Evaluator:  NewEvaluator(logx.Nop()),
		Builder:    NewBuilder(fakeResolver{}, logx.Nop()),
		Dispatcher: d,
		Snoozes:    NewSnoozeStore(logx.Nop()),
		Dups:       NewDuplicateFilter(time.Minute, 100),
		States:     fakeStates{},
		Log:        logx.Nop(),
	}, Options{DispatchTimeout: 5 * time.Second})
}

func TestCoordinatorSendHappyPath(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t,
		&CatalogEntry{Name: "email", Kind: "email", Enabled: true, Default: true},
		&CatalogEntry{Name: "push", Kind: "push", Enabled: true, Default: true},
	)
	d := &fakeDispatcher{}
	c := newTestCoordinator(t, d, cat, nil, []Recipient{
		{Name: "ana", Email: "ana@example.com", Devices: []string{"ana_phone"}},
	})

	rec := c.Send(context.Background(), &Notification{Message: "hello"})
	if rec.ID == "" {
		t.Fatal("record must carry an id")
	}
	if rec.Suppressed {
		t.Fatalf("unexpected suppression: %s", rec.SuppressedBy)
	}
	if rec.Mode != SelectImplicit {
		t.Fatalf("Mode = %v", rec.Mode)
	}
	if len(rec.Selected) != 2 || rec.Selected[0] != "email" || rec.Selected[1] != "push" {
		t.Fatalf("Selected = %v", rec.Selected)
	}
	if rec.Delivered != 2 || rec.Errored != 0 {
		t.Fatalf("Delivered = %d, Errored = %d", rec.Delivered, rec.Errored)
	}
	if got := c.LastRecord(); got != rec {
		t.Fatal("LastRecord must return the just-finished record")
	}
}

func TestCoordinatorDuplicateSuppression(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t, &CatalogEntry{Name: "email", Kind: "email", Enabled: true, Default: true})
	d := &fakeDispatcher{}
	c := newTestCoordinator(t, d, cat, nil, nil)

	first := c.Send(context.Background(), &Notification{Message: "same"})
	if first.Suppressed {
		t.Fatal("first send must pass")
	}
	second := c.Send(context.Background(), &Notification{Message: "same"})
	if !second.Suppressed || second.SuppressedBy != "duplicate" {
		t.Fatalf("second = suppressed %v by %q", second.Suppressed, second.SuppressedBy)
	}
	// Escalation passes.
	third := c.Send(context.Background(), &Notification{Message: "same", Priority: PriorityHigh})
	if third.Suppressed {
		t.Fatal("escalated repeat must pass")
	}
}

func TestCoordinatorSnoozeSuppression(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t, &CatalogEntry{Name: "email", Kind: "email", Enabled: true, Default: true})
	d := &fakeDispatcher{}
	c := newTestCoordinator(t, d, cat, nil, nil)

	now := time.Now()
	c.Snoozes().Put(Snooze{Target: SnoozeEverything, CreatedAt: now, ExpiresAt: now.Add(time.Hour)})

	rec := c.Send(context.Background(), &Notification{Message: "quiet please"})
	if !rec.Suppressed || rec.SuppressedBy != "snooze" {
		t.Fatalf("suppressed %v by %q", rec.Suppressed, rec.SuppressedBy)
	}
	if len(rec.Snoozes) != 1 {
		t.Fatalf("Snoozes = %v", rec.Snoozes)
	}
	if len(d.names()) != 0 {
		t.Fatalf("dispatched = %v, want none", d.names())
	}

	// Critical bypasses the global snooze.
	rec = c.Send(context.Background(), &Notification{Message: "fire", Priority: PriorityCritical})
	if rec.Suppressed {
		t.Fatal("critical must bypass the global snooze")
	}
}

func TestCoordinatorRecipientScopedSnooze(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t, &CatalogEntry{Name: "push", Kind: "push", Enabled: true, Default: true})
	d := &fakeDispatcher{}
	recipients := []Recipient{
		{Name: "ana", Devices: []string{"ana_phone"}},
		{Name: "ben", Devices: []string{"ben_phone"}},
	}
	c := newTestCoordinator(t, d, cat, nil, recipients)

	now := time.Now()
	c.Snoozes().Put(Snooze{Recipient: "ana", Target: SnoozeEverything, CreatedAt: now, ExpiresAt: now.Add(time.Hour)})

	rec := c.Send(context.Background(), &Notification{Message: "hello"})
	if rec.Suppressed {
		t.Fatal("recipient-scoped snooze must not suppress the notification")
	}
	if len(rec.Envelopes) != 1 {
		t.Fatalf("Envelopes = %d", len(rec.Envelopes))
	}
	targets := rec.Envelopes[0].Targets
	if len(targets) != 1 || targets[0] != "ben_phone" {
		t.Fatalf("Targets = %v, want ben only", targets)
	}
}

func TestCoordinatorEmptySelectionUsesFallback(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t,
		&CatalogEntry{Name: "siren", Kind: "chime", Enabled: true, Default: true,
			Priorities: []Priority{PriorityCritical}},
		&CatalogEntry{Name: "inbox", Kind: "persistent", Enabled: true, Fallback: true},
	)
	d := &fakeDispatcher{}
	c := newTestCoordinator(t, d, cat, nil, nil)

	rec := c.Send(context.Background(), &Notification{Message: "routine", Priority: PriorityLow})
	if len(rec.Selected) != 1 || rec.Selected[0] != "inbox" {
		t.Fatalf("Selected = %v, want fallback inbox", rec.Selected)
	}
	if rec.Delivered != 1 {
		t.Fatalf("Delivered = %d", rec.Delivered)
	}
}

func TestCoordinatorErrorFallback(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t,
		&CatalogEntry{Name: "email", Kind: "email", Enabled: true, Default: true},
		&CatalogEntry{Name: "sms", Kind: "sms", Enabled: true, FallbackOnError: true},
	)
	d := &fakeDispatcher{fail: map[string]bool{"email": true}}
	c := newTestCoordinator(t, d, cat, nil, nil)

	rec := c.Send(context.Background(), &Notification{Message: "urgent"})
	got := d.names()
	if len(got) != 2 || got[0] != "email" || got[1] != "sms" {
		t.Fatalf("dispatched = %v", got)
	}
	if rec.Delivered != 1 || rec.Errored != 1 {
		t.Fatalf("Delivered = %d, Errored = %d", rec.Delivered, rec.Errored)
	}
	if len(rec.Envelopes) != 2 {
		t.Fatalf("Envelopes = %d", len(rec.Envelopes))
	}
}

func TestCoordinatorErrorFallbackSkippedOnPartialSuccess(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t,
		&CatalogEntry{Name: "email", Kind: "email", Enabled: true, Default: true},
		&CatalogEntry{Name: "push", Kind: "push", Enabled: true, Default: true},
		&CatalogEntry{Name: "sms", Kind: "sms", Enabled: true, FallbackOnError: true},
	)
	d := &fakeDispatcher{fail: map[string]bool{"email": true}}
	c := newTestCoordinator(t, d, cat, nil, []Recipient{
		{Name: "ana", Email: "ana@example.com", Devices: []string{"a", "b"}},
	})

	rec := c.Send(context.Background(), &Notification{Message: "hello"})
	for _, name := range d.names() {
		if name == "sms" {
			t.Fatal("error fallback must not fire when something delivered")
		}
	}
	if rec.Delivered != 2 || rec.Errored != 1 {
		t.Fatalf("Delivered = %d, Errored = %d", rec.Delivered, rec.Errored)
	}
}

func TestCoordinatorScenarioDrivenSend(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t,
		&CatalogEntry{Name: "email", Kind: "email", Enabled: true, Default: true},
		&CatalogEntry{Name: "inbox", Kind: "persistent", Enabled: true, ScenarioOnly: true},
	)
	alarm := &Scenario{
		Name:      "Alarm",
		Condition: &Condition{Kind: "state", Entity: "alarm", Equals: "triggered"},
		Channels:  map[string]ScenarioChannel{"inbox": {}},
	}
	d := &fakeDispatcher{}
	c := NewCoordinator(Deps{
		Catalog:    cat,
		Scenarios:  []*Scenario{alarm},
		Evaluator:  NewEvaluator(logx.Nop()),
		Builder:    NewBuilder(fakeResolver{}, logx.Nop()),
		Dispatcher: d,
		Snoozes:    NewSnoozeStore(logx.Nop()),
		Dups:       NewDuplicateFilter(time.Minute, 100),
		States:     fakeStates{"alarm": "triggered"},
		Log:        logx.Nop(),
	}, Options{})

	rec := c.Send(context.Background(), &Notification{Message: "break-in"})
	if len(rec.Scenarios) != 1 || rec.Scenarios[0] != "Alarm" {
		t.Fatalf("Scenarios = %v", rec.Scenarios)
	}
	if len(rec.Selected) != 2 || rec.Selected[0] != "inbox" || rec.Selected[1] != "email" {
		t.Fatalf("Selected = %v", rec.Selected)
	}
}

func TestCoordinatorReconfigure(t *testing.T) {
	t.Parallel()
	oldCat := testCatalog(t, &CatalogEntry{Name: "email", Kind: "email", Enabled: true, Default: true})
	d := &fakeDispatcher{}
	c := newTestCoordinator(t, d, oldCat, nil, nil)

	newCat := testCatalog(t, &CatalogEntry{Name: "sms", Kind: "sms", Enabled: true, Default: true})
	c.Reconfigure(newCat, nil, nil)

	rec := c.Send(context.Background(), &Notification{Message: "after reload"})
	if len(rec.Selected) != 1 || rec.Selected[0] != "sms" {
		t.Fatalf("Selected = %v, want sms", rec.Selected)
	}
	if got := c.Catalog(); got != newCat {
		t.Fatal("Catalog must return the reloaded catalog")
	}
}

func TestCoordinatorArchivesRecord(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t, &CatalogEntry{Name: "email", Kind: "email", Enabled: true, Default: true})
	arch := &recordingArchive{}
	c := NewCoordinator(Deps{
		Catalog:    cat,
		Evaluator:  NewEvaluator(logx.Nop()),
		Builder:    NewBuilder(fakeResolver{}, logx.Nop()),
		Dispatcher: &fakeDispatcher{},
		Snoozes:    NewSnoozeStore(logx.Nop()),
		Dups:       NewDuplicateFilter(time.Minute, 100),
		States:     fakeStates{},
		Archive:    arch,
		Log:        logx.Nop(),
	}, Options{})

	c.Send(context.Background(), &Notification{Message: "keep this"})
	arch.mu.Lock()
	defer arch.mu.Unlock()
	if len(arch.recs) != 1 || arch.recs[0].Message != "keep this" {
		t.Fatalf("archived = %+v", arch.recs)
	}
}
