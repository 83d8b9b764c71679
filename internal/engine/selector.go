package engine

import (
	"sort"

	logx "supernotify/pkg/logx"
)

// Selection is the selector's outcome: the effective mode plus the final
// ordered channel aliases. Order is insertion order of first inclusion.
type Selection struct {
	Mode     SelectionMode
	Channels []string
}

// Select computes the channels a notification will use, before fallback
// compensation (which the coordinator layers on afterwards).
//
// Precedence, highest first:
//  1. caller-forced mode (fixed disables all scenario/default selection)
//  2. the first active scenario's declared mode
//  3. explicit, when the caller supplied overrides or scenario names
//  4. implicit otherwise
//
// Force-exclusion by override beats any inclusion; scenario-only channels
// never fire outside their declared scenarios.
func Select(n *Notification, active []*Scenario, cat *Catalog, log logx.Logger) Selection {
	if log.IsZero() {
		log = logx.Nop()
	}

	mode := SelectImplicit
	if len(n.Overrides) > 0 || len(n.Scenarios) > 0 {
		mode = SelectExplicit
	}
	for _, sc := range active {
		if sc.Mode != "" {
			mode = sc.Mode
			break
		}
	}
	if n.Mode != "" {
		// Caller wins over scenario-declared modes.
		mode = n.Mode
	}

	var (
		order    []string
		included = map[string]bool{}
		byScen   = map[string]bool{} // included via an active scenario
		excluded = map[string]bool{}
	)
	include := func(name string) {
		if !included[name] {
			included[name] = true
			order = append(order, name)
		}
	}

	// Scenario- and default-driven inclusion.
	if mode != SelectFixed {
		eligible := func(e *CatalogEntry) bool {
			return e.Enabled && e.AppliesTo(n.Priority) && !e.Fallback && !e.FallbackOnError
		}
		for _, sc := range active {
			for _, e := range cat.Entries() {
				if _, ok := sc.Channels[e.Name]; ok && eligible(e) {
					include(e.Name)
					byScen[e.Name] = true
				}
			}
		}
		if mode == SelectImplicit {
			for _, e := range cat.Entries() {
				if e.Default && eligible(e) {
					include(e.Name)
				}
			}
		}
	}

	// Explicit per-channel overrides. Force-exclusion takes precedence
	// over any inclusion above.
	for _, name := range sortedOverrideNames(n.Overrides) {
		e := cat.Get(name)
		if e == nil || !e.Enabled {
			log.Warn("override references unknown or disabled channel; ignoring",
				logx.String("channel", name))
			continue
		}
		if n.Overrides[name].Included() {
			include(name)
		} else {
			excluded[name] = true
		}
	}

	// Scenario-only channels must never fire outside their scenarios.
	if mode != SelectFixed {
		for _, e := range cat.Entries() {
			if e.ScenarioOnly && !byScen[e.Name] {
				excluded[e.Name] = true
			}
		}
	}

	out := make([]string, 0, len(order))
	for _, name := range order {
		if !excluded[name] {
			out = append(out, name)
		}
	}
	return Selection{Mode: mode, Channels: out}
}

func sortedOverrideNames(m map[string]*ChannelOverride) []string {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
