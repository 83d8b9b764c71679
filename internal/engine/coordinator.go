package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"supernotify/internal/eventbus"
	logx "supernotify/pkg/logx"
)

// Event types published on the bus during notification processing.
const (
	EventReceived   = "notify.received"
	EventSuppressed = "notify.suppressed"
	EventDispatched = "notify.dispatched"
)

// Dispatcher is the engine's view of the channel registry at send time.
// Dispatch delivers one envelope, mutating it with per-call outcomes, and
// never returns an error: failures are recorded on the envelope.
type Dispatcher interface {
	Dispatch(ctx context.Context, entry *CatalogEntry, env *Envelope)
}

// StateSource answers "what is the current state of entity X" for condition
// evaluation and occupancy filtering.
type StateSource interface {
	States() map[string]string
}

// Archiver persists final notification records, best-effort.
type Archiver interface {
	AppendRecord(ctx context.Context, rec *Record) error
}

// Options tunes coordinator behavior.
type Options struct {
	// DispatchTimeout bounds one notification's whole dispatch phase.
	// In-flight channel dispatches run to completion past it.
	DispatchTimeout time.Duration
}

const defaultDispatchTimeout = 30 * time.Second

// Coordinator owns the full per-notification pipeline: duplicate filter,
// scenario evaluation, selection, suppression check, envelope building,
// parallel dispatch, fallback compensation and record aggregation.
//
// All mutable routing state lives here by explicit reference; there are no
// package-level globals. Safe for concurrent Send calls.
type Coordinator struct {
	evaluator  *Evaluator
	builder    *Builder
	dispatcher Dispatcher
	snoozes    *SnoozeStore
	dups       *DuplicateFilter
	states     StateSource
	archive    Archiver
	bus        eventbus.Bus
	log        logx.Logger

	opts Options

	// mu guards the hot-reloadable routing state and the last record.
	// Send works on a snapshot so a reload mid-request is safe.
	mu         sync.Mutex
	catalog    *Catalog
	scenarios  []*Scenario
	recipients []Recipient
	last       *Record
}

// Deps collects the coordinator's collaborators. Catalog, Evaluator,
// Builder, Dispatcher, Snoozes and Dups are required; StateSource, Archive
// and Bus are optional.
type Deps struct {
	Catalog    *Catalog
	Scenarios  []*Scenario
	Recipients []Recipient
	Evaluator  *Evaluator
	Builder    *Builder
	Dispatcher Dispatcher
	Snoozes    *SnoozeStore
	Dups       *DuplicateFilter
	States     StateSource
	Archive    Archiver
	Bus        eventbus.Bus
	Log        logx.Logger
}

func NewCoordinator(d Deps, opts Options) *Coordinator {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = defaultDispatchTimeout
	}
	return &Coordinator{
		evaluator:  d.Evaluator,
		builder:    d.Builder,
		dispatcher: d.Dispatcher,
		snoozes:    d.Snoozes,
		dups:       d.Dups,
		states:     d.States,
		archive:    d.Archive,
		bus:        d.Bus,
		log:        d.Log,
		opts:       opts,
		catalog:    d.Catalog,
		scenarios:  d.Scenarios,
		recipients: d.Recipients,
	}
}

// Reconfigure swaps the routing state on config reload. Suppressions and
// the duplicate filter survive the swap; in-flight Sends finish against
// the snapshot they started with.
func (c *Coordinator) Reconfigure(catalog *Catalog, scenarios []*Scenario, recipients []Recipient) {
	c.mu.Lock()
	c.catalog = catalog
	c.scenarios = scenarios
	c.recipients = recipients
	c.mu.Unlock()
	c.log.Info("routing reconfigured",
		logx.Int("channels", len(catalog.Entries())),
		logx.Int("scenarios", len(scenarios)),
		logx.Int("recipients", len(recipients)))
}

func (c *Coordinator) snapshot() (*Catalog, []*Scenario, []Recipient) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.catalog, c.scenarios, c.recipients
}

// Send runs the pipeline for one notification and returns its final record.
// It never returns an error: the worst outcome is an all-undelivered record.
func (c *Coordinator) Send(ctx context.Context, n *Notification) *Record {
	now := time.Now()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = now
	}
	log := c.log.With(logx.String("id", n.ID))
	c.publish(EventReceived, map[string]any{"id": n.ID, "priority": n.Priority.String()})

	rec := &Record{
		ID:       n.ID,
		At:       n.ReceivedAt,
		Message:  n.Message,
		Title:    n.Title,
		Priority: n.Priority,
	}

	// Duplicate filter first: a suppressed repeat does not consume
	// scenario evaluation or selection work.
	if c.dups != nil && c.dups.Check(n, now) {
		rec.Suppressed, rec.SuppressedBy = true, "duplicate"
		log.Info("suppressed duplicate notification")
		c.finish(ctx, rec)
		return rec
	}
	if c.dups != nil {
		c.dups.Record(n, now)
	}

	catalog, scenarios, allRecipients := c.snapshot()

	states := map[string]string{}
	if c.states != nil {
		states = c.states.States()
	}
	env := &Environment{
		States:     states,
		Priority:   n.Priority,
		Recipients: n.Recipients,
		Now:        now,
	}
	active := c.evaluator.Active(scenarios, n, env)
	for _, sc := range active {
		rec.Scenarios = append(rec.Scenarios, sc.Name)
	}

	sel := Select(n, active, catalog, log)
	rec.Mode = sel.Mode

	entries := resolveEntries(catalog, sel.Channels)
	if len(entries) == 0 {
		if fb := catalog.Fallbacks(); len(fb) > 0 {
			log.Info("selection empty, using fallback channels", logx.Int("count", len(fb)))
			entries = fb
		}
	}
	for _, e := range entries {
		rec.Selected = append(rec.Selected, e.Name)
	}

	// Everyone-scoped snooze check over everything about to be used.
	desc := c.descriptor(n, entries)
	if c.snoozes != nil {
		if suppressed, matching := c.snoozes.Check(desc, now); suppressed {
			rec.Suppressed, rec.SuppressedBy = true, "snooze"
			for _, s := range matching {
				rec.Snoozes = append(rec.Snoozes, s.Key())
			}
			log.Info("suppressed by snooze", logx.Strings("snoozes", rec.Snoozes))
			c.finish(ctx, rec)
			return rec
		}
	}

	recipients := c.resolveRecipients(allRecipients, n, desc, now)

	envelopes := make([]*Envelope, 0, len(entries))
	for _, e := range entries {
		envelopes = append(envelopes, c.builder.Build(n, e, active, recipients, states))
	}
	c.dispatchAll(ctx, entries, envelopes, log)

	// Zero delivered calls across the whole pass triggers the
	// error-conditional fallbacks, once.
	if totalDelivered(envelopes) == 0 && len(envelopes) > 0 {
		extra := errorFallbackEntries(catalog, entries)
		if len(extra) > 0 {
			log.Warn("no deliveries, invoking error fallback channels",
				logx.Int("count", len(extra)))
			fbEnvs := make([]*Envelope, 0, len(extra))
			for _, e := range extra {
				fbEnvs = append(fbEnvs, c.builder.Build(n, e, active, recipients, states))
			}
			c.dispatchAll(ctx, extra, fbEnvs, log)
			envelopes = append(envelopes, fbEnvs...)
		}
	}

	rec.Envelopes = envelopes
	for _, env := range envelopes {
		rec.Delivered += env.Delivered
		rec.Skipped += env.Skipped
		rec.Errored += env.Errored
	}
	log.Info("notification dispatched",
		logx.Int("channels", len(envelopes)),
		logx.Int("delivered", rec.Delivered),
		logx.Int("skipped", rec.Skipped),
		logx.Int("errored", rec.Errored))
	c.finish(ctx, rec)
	return rec
}

// dispatchAll delivers the envelopes in parallel, one goroutine per
// channel. Per-target ordering inside one channel is the dispatcher's job.
func (c *Coordinator) dispatchAll(ctx context.Context, entries []*CatalogEntry, envelopes []*Envelope, log logx.Logger) {
	dctx, cancel := context.WithTimeout(ctx, c.opts.DispatchTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for i := range entries {
		wg.Add(1)
		go func(entry *CatalogEntry, env *Envelope) {
			defer wg.Done()
			started := time.Now()
			c.dispatcher.Dispatch(dctx, entry, env)
			log.Debug("channel dispatched",
				logx.String("channel", entry.Name),
				logx.String("kind", entry.Kind),
				logx.Int("delivered", env.Delivered),
				logx.Int("errored", env.Errored),
				logx.Duration("took", time.Since(started)))
		}(entries[i], envelopes[i])
	}
	wg.Wait()
}

func resolveEntries(cat *Catalog, names []string) []*CatalogEntry {
	out := make([]*CatalogEntry, 0, len(names))
	for _, name := range names {
		if e := cat.Get(name); e != nil {
			out = append(out, e)
		}
	}
	return out
}

// errorFallbackEntries returns the fallback_on_error entries not already in
// the dispatched set.
func errorFallbackEntries(cat *Catalog, used []*CatalogEntry) []*CatalogEntry {
	seen := make(map[string]bool, len(used))
	for _, e := range used {
		seen[e.Name] = true
	}
	var out []*CatalogEntry
	for _, e := range cat.ErrorFallbacks() {
		if !seen[e.Name] {
			out = append(out, e)
		}
	}
	return out
}

func (c *Coordinator) descriptor(n *Notification, entries []*CatalogEntry) Descriptor {
	d := Descriptor{Priority: n.Priority, Labels: n.Labels}
	if n.Media != nil {
		d.Camera = n.Media.Camera
	}
	seenKind := map[string]bool{}
	for _, e := range entries {
		d.Deliveries = append(d.Deliveries, e.Name)
		if !seenKind[e.Kind] {
			seenKind[e.Kind] = true
			d.Channels = append(d.Channels, e.Kind)
		}
	}
	return d
}

// resolveRecipients applies the caller's recipient restriction and drops
// recipients with a matching scoped snooze.
func (c *Coordinator) resolveRecipients(pool []Recipient, n *Notification, desc Descriptor, now time.Time) []Recipient {
	if len(n.Recipients) > 0 {
		wanted := make(map[string]bool, len(n.Recipients))
		for _, name := range n.Recipients {
			wanted[name] = true
		}
		filtered := make([]Recipient, 0, len(pool))
		for _, r := range pool {
			if wanted[r.Name] {
				filtered = append(filtered, r)
			}
		}
		pool = filtered
	}
	if c.snoozes == nil {
		return pool
	}
	snoozed := map[string]bool{}
	for _, name := range c.snoozes.SnoozedRecipients(desc, now) {
		snoozed[name] = true
	}
	if len(snoozed) == 0 {
		return pool
	}
	out := make([]Recipient, 0, len(pool))
	for _, r := range pool {
		if !snoozed[r.Name] {
			out = append(out, r)
		}
	}
	return out
}

func (c *Coordinator) finish(ctx context.Context, rec *Record) {
	c.mu.Lock()
	c.last = rec
	c.mu.Unlock()

	if rec.Suppressed {
		c.publish(EventSuppressed, map[string]any{"id": rec.ID, "by": rec.SuppressedBy})
	} else {
		c.publish(EventDispatched, map[string]any{
			"id":        rec.ID,
			"priority":  rec.Priority.String(),
			"channels":  rec.Selected,
			"delivered": rec.Delivered,
			"errored":   rec.Errored,
		})
	}
	if c.archive != nil {
		if err := c.archive.AppendRecord(ctx, rec); err != nil {
			c.log.Warn("archive write failed", logx.Err(err))
		}
	}
}

func (c *Coordinator) publish(typ string, data any) {
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

func totalDelivered(envelopes []*Envelope) int {
	n := 0
	for _, e := range envelopes {
		n += e.Delivered
	}
	return n
}

// ---- Queryable engine state ----

// LastRecord returns the most recent notification record, or nil.
func (c *Coordinator) LastRecord() *Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Snoozes exposes the suppression store for control surfaces.
func (c *Coordinator) Snoozes() *SnoozeStore { return c.snoozes }

// Catalog exposes the validated channel catalog.
func (c *Coordinator) Catalog() *Catalog {
	cat, _, _ := c.snapshot()
	return cat
}

// ScenarioDeliveries reports which channels each scenario implies.
func (c *Coordinator) ScenarioDeliveries() map[string][]string {
	cat, scenarios, _ := c.snapshot()
	return cat.ScenarioDeliveries(scenarios)
}
