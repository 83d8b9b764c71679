package engine

import (
	"fmt"
	"strings"
)

// OccupancyPolicy filters recipient lists by live presence state.
type OccupancyPolicy string

const (
	OccupancyAll    OccupancyPolicy = "all"  // everyone, regardless of presence
	OccupancyNone   OccupancyPolicy = "none" // nobody; static targets only
	OccupancyAnyIn  OccupancyPolicy = "any_in"
	OccupancyAnyOut OccupancyPolicy = "any_out"
	OccupancyAllIn  OccupancyPolicy = "all_in"
	OccupancyAllOut OccupancyPolicy = "all_out"
	OccupancyOnlyIn OccupancyPolicy = "only_in"
	OccupancyOnlyOut OccupancyPolicy = "only_out"
)

func ParseOccupancyPolicy(s string) (OccupancyPolicy, error) {
	switch OccupancyPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return OccupancyAll, nil
	case OccupancyAll, OccupancyNone, OccupancyAnyIn, OccupancyAnyOut,
		OccupancyAllIn, OccupancyAllOut, OccupancyOnlyIn, OccupancyOnlyOut:
		return OccupancyPolicy(strings.ToLower(strings.TrimSpace(s))), nil
	default:
		return "", fmt.Errorf("unknown occupancy policy %q", s)
	}
}

// presentStates are the presence-entity states that count as "in".
// Anything else, including an unresolvable entity, counts as "out".
var presentStates = map[string]bool{
	"home":    true,
	"present": true,
	"on":      true,
}

// FilterOccupancy returns the subset of recipients admitted by the policy.
//
// The in/out partition is computed in a single pass; the any_*/all_*
// policies derive from partition counts, never from a re-scan.
func FilterOccupancy(recipients []Recipient, policy OccupancyPolicy, states map[string]string) []Recipient {
	if policy == "" {
		policy = OccupancyAll
	}
	if policy == OccupancyNone {
		return nil
	}
	if policy == OccupancyAll {
		return recipients
	}

	in := make([]Recipient, 0, len(recipients))
	out := make([]Recipient, 0, len(recipients))
	for _, r := range recipients {
		if presentStates[strings.ToLower(states[r.PresenceEntity])] {
			in = append(in, r)
		} else {
			out = append(out, r)
		}
	}

	switch policy {
	case OccupancyOnlyIn:
		return in
	case OccupancyOnlyOut:
		return out
	case OccupancyAnyIn:
		if len(in) > 0 {
			return recipients
		}
	case OccupancyAnyOut:
		if len(out) > 0 {
			return recipients
		}
	case OccupancyAllIn:
		if len(out) == 0 {
			return recipients
		}
	case OccupancyAllOut:
		if len(in) == 0 {
			return recipients
		}
	}
	return nil
}
