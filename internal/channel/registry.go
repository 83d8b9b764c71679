package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"supernotify/internal/engine"
	logx "supernotify/pkg/logx"
)

// Registry holds the configured channel kinds and dispatches envelopes
// through them. It implements the engine's Dispatcher, TargetResolver and
// EntryValidator contracts.
type Registry struct {
	kinds map[string]Kind
	log   logx.Logger

	// Per-entry outbound rate limiters, created lazily.
	lmu      sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		kinds:    map[string]Kind{},
		log:      log,
		limiters: map[string]*rate.Limiter{},
	}
}

// Register adds a kind. Later registrations with the same name win, which
// lets tests swap in doubles.
func (r *Registry) Register(k Kind) {
	r.kinds[k.Name()] = k
}

// Kinds returns the registered kind names.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		out = append(out, name)
	}
	return out
}

// HasKind implements engine.EntryValidator.
func (r *Registry) HasKind(kind string) bool {
	_, ok := r.kinds[kind]
	return ok
}

// ValidateEntry implements engine.EntryValidator: the common service-id
// requirement first, then the kind's own checks.
func (r *Registry) ValidateEntry(ctx context.Context, e *engine.CatalogEntry) error {
	k, ok := r.kinds[e.Kind]
	if !ok {
		return fmt.Errorf("unknown channel kind %q", e.Kind)
	}
	if k.NeedsServiceID() && e.ServiceID == "" {
		return fmt.Errorf("kind %q requires a service_id", e.Kind)
	}
	return k.ValidateEntry(ctx, e)
}

// RecipientTargets implements engine.TargetResolver.
func (r *Registry) RecipientTargets(kind string, rec engine.Recipient) []string {
	k, ok := r.kinds[kind]
	if !ok {
		return nil
	}
	return k.RecipientTargets(rec)
}

// Dispatch implements engine.Dispatcher. Targets are attempted in list
// order; a failed call is recorded on the envelope and never propagates, so
// one target's failure cannot block the rest.
func (r *Registry) Dispatch(ctx context.Context, entry *engine.CatalogEntry, env *engine.Envelope) {
	k, ok := r.kinds[entry.Kind]
	if !ok {
		// Catalog validation makes this unreachable; guard anyway.
		r.log.Error("dispatch for unknown kind", logx.String("kind", entry.Kind))
		env.RecordSkip()
		return
	}
	log := r.log.With(logx.String("channel", entry.Name), logx.String("kind", entry.Kind))

	targets := env.Targets
	if len(targets) == 0 {
		if k.NeedsTargets() {
			log.Debug("no targets, skipping")
			env.RecordSkip()
			return
		}
		// Fixed-destination kinds deliver once with no target.
		targets = []string{""}
	}

	limiter := r.limiter(entry)
	for _, target := range targets {
		if target != "" && !k.ValidateTarget(target) {
			log.Warn("invalid target, skipping", logx.String("target", target))
			env.RecordSkip()
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				env.RecordSkip()
				continue
			}
		}
		started := time.Now()
		payload, err := k.Send(ctx, &Call{Entry: entry, Envelope: env, Target: target})
		call := engine.CallRecord{
			ServiceID: entry.ServiceID,
			Target:    target,
			Payload:   payload,
			Took:      time.Since(started),
		}
		if err != nil {
			call.Error = err.Error()
			env.RecordFailure(call)
			log.Warn("outbound call failed", logx.String("target", target), logx.Err(err))
			continue
		}
		env.RecordCall(call)
	}
}

func (r *Registry) limiter(entry *engine.CatalogEntry) *rate.Limiter {
	if entry.RatePerSec <= 0 {
		return nil
	}
	r.lmu.Lock()
	defer r.lmu.Unlock()
	l, ok := r.limiters[entry.Name]
	if !ok {
		l = rate.NewLimiter(rate.Limit(entry.RatePerSec), entry.RatePerSec)
		r.limiters[entry.Name] = l
	}
	return l
}
