package engine

import (
	logx "supernotify/pkg/logx"
)

// TargetResolver is the builder's view of the channel registry: it knows
// which target a recipient contributes for a given channel kind (an email
// recipient contributes its address, a push recipient each device id, ...).
type TargetResolver interface {
	RecipientTargets(kind string, r Recipient) []string
}

// Builder produces one Envelope per (notification, selected channel).
type Builder struct {
	resolver TargetResolver
	log      logx.Logger
}

func NewBuilder(resolver TargetResolver, log logx.Logger) *Builder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Builder{resolver: resolver, log: log}
}

// Build resolves message, title, targets and structured data for entry.
//
// Target resolution, in priority order:
//  1. caller-supplied explicit targets (per-channel override first, then
//     the notification-level list); when non-empty they are used alone;
//  2. targets contributed by occupancy-filtered recipients;
//  3. the channel's static default targets.
//
// Sources 2 and 3 are concatenated without cross-source deduplication;
// duplicates inside one source are collapsed.
func (b *Builder) Build(n *Notification, entry *CatalogEntry, active []*Scenario, recipients []Recipient, states map[string]string) *Envelope {
	ov := n.Overrides[entry.Name]

	message := n.Message
	if entry.Message != "" {
		message = entry.Message
	}
	if ov != nil && ov.Message != "" {
		message = ov.Message
	}
	title := n.Title
	if entry.Title != "" {
		title = entry.Title
	}
	if ov != nil && ov.Title != "" {
		title = ov.Title
	}
	if entry.TitleOnly && title != "" {
		message = title
	}

	env := &Envelope{
		Channel:  entry.Name,
		Kind:     entry.Kind,
		Message:  message,
		Title:    title,
		Priority: n.Priority,
		Targets:  b.resolveTargets(n, entry, ov, recipients, states),
		Data:     b.mergeData(n, entry, ov, active),
	}
	return env
}

func (b *Builder) resolveTargets(n *Notification, entry *CatalogEntry, ov *ChannelOverride, recipients []Recipient, states map[string]string) []string {
	explicit := n.Targets
	if ov != nil && len(ov.Targets) > 0 {
		explicit = ov.Targets
	}
	if len(explicit) > 0 {
		return dedup(explicit)
	}

	var derived []string
	if b.resolver != nil {
		for _, r := range FilterOccupancy(recipients, entry.Occupancy, states) {
			derived = append(derived, b.resolver.RecipientTargets(entry.Kind, r)...)
		}
	}
	derived = dedup(derived)

	// Concatenate, not deduplicate, across the two sources.
	return append(derived, dedup(entry.Targets)...)
}

// mergeData shallow-merges structured data, later wins: channel static
// defaults, then active-scenario customizations in declaration order, then
// caller per-channel override data.
func (b *Builder) mergeData(n *Notification, entry *CatalogEntry, ov *ChannelOverride, active []*Scenario) map[string]any {
	data := make(map[string]any, len(entry.Data))
	for k, v := range entry.Data {
		data[k] = v
	}
	for _, sc := range active {
		if custom, ok := sc.Channels[entry.Name]; ok {
			for k, v := range custom.Data {
				data[k] = v
			}
		}
	}
	if ov != nil {
		for k, v := range ov.Data {
			data[k] = v
		}
	}
	if n.Media != nil {
		if _, set := data["media"]; !set {
			data["media"] = *n.Media
		}
	}
	if len(data) == 0 {
		return nil
	}
	return data
}

func dedup(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
