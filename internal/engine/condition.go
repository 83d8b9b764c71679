package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Condition is a small tagged-variant AST for scenario activation rules.
// Exactly one variant is populated, selected by Kind:
//
//	state:    an entity's current state equals (or is one of) given values
//	time:     local time falls inside [After, Before), window may wrap midnight
//	scenario: a previously applied scenario's name (declaration order matters)
//	and/or:   boolean combinators over All / Any
//	not:      negation of Not
//
// The interpreter lives behind the scenario evaluator so the expression
// language can be swapped without touching selection logic.
type Condition struct {
	Kind string `json:"kind" yaml:"kind"`

	// state
	Entity string   `json:"entity,omitempty" yaml:"entity,omitempty"`
	Equals string   `json:"equals,omitempty" yaml:"equals,omitempty"`
	In     []string `json:"in,omitempty" yaml:"in,omitempty"`

	// time ("HH:MM", 24h)
	After  string `json:"after,omitempty" yaml:"after,omitempty"`
	Before string `json:"before,omitempty" yaml:"before,omitempty"`

	// scenario
	Scenario string `json:"scenario,omitempty" yaml:"scenario,omitempty"`

	// combinators
	All []*Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any []*Condition `json:"any,omitempty" yaml:"any,omitempty"`
	Not *Condition   `json:"not,omitempty" yaml:"not,omitempty"`
}

// Environment is the read-only state a condition is evaluated against.
// Applied accumulates scenario names already activated for this
// notification, in declaration order, so later scenarios can reference
// earlier ones deterministically.
type Environment struct {
	States     map[string]string
	Applied    map[string]bool
	Priority   Priority
	Recipients []string
	Now        time.Time
}

var errNilCondition = errors.New("nil condition")

// Validate rejects malformed conditions at startup so a bad expression
// drops its scenario once instead of failing on every notification.
func (c *Condition) Validate() error {
	if c == nil {
		return errNilCondition
	}
	switch c.Kind {
	case "state":
		if strings.TrimSpace(c.Entity) == "" {
			return errors.New("state condition: entity is required")
		}
		if c.Equals == "" && len(c.In) == 0 {
			return errors.New("state condition: equals or in is required")
		}
	case "time":
		if _, _, err := parseClock(c.After); err != nil {
			return fmt.Errorf("time condition: after: %w", err)
		}
		if _, _, err := parseClock(c.Before); err != nil {
			return fmt.Errorf("time condition: before: %w", err)
		}
	case "scenario":
		if strings.TrimSpace(c.Scenario) == "" {
			return errors.New("scenario condition: scenario name is required")
		}
	case "and":
		if len(c.All) == 0 {
			return errors.New("and condition: all is empty")
		}
		for _, sub := range c.All {
			if err := sub.Validate(); err != nil {
				return err
			}
		}
	case "or":
		if len(c.Any) == 0 {
			return errors.New("or condition: any is empty")
		}
		for _, sub := range c.Any {
			if err := sub.Validate(); err != nil {
				return err
			}
		}
	case "not":
		if c.Not == nil {
			return errors.New("not condition: not is empty")
		}
		return c.Not.Validate()
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return nil
}

// Eval interprets the condition against env. It is deterministic for a
// given env. Errors are reported to the caller, which treats them as false.
func (c *Condition) Eval(env *Environment) (bool, error) {
	if c == nil {
		return false, errNilCondition
	}
	switch c.Kind {
	case "state":
		state, ok := env.States[c.Entity]
		if !ok {
			return false, fmt.Errorf("entity %q has no known state", c.Entity)
		}
		if c.Equals != "" && state == c.Equals {
			return true, nil
		}
		for _, v := range c.In {
			if state == v {
				return true, nil
			}
		}
		return false, nil
	case "time":
		return inClockWindow(env.Now, c.After, c.Before)
	case "scenario":
		return env.Applied[c.Scenario], nil
	case "and":
		for _, sub := range c.All {
			ok, err := sub.Eval(env)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case "or":
		for _, sub := range c.Any {
			ok, err := sub.Eval(env)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case "not":
		ok, err := c.Not.Eval(env)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, fmt.Errorf("unknown condition kind %q", c.Kind)
	}
}

func parseClock(s string) (h, m int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock %q (want HH:MM)", s)
	}
	h, err = strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err = strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// inClockWindow reports whether now's local wall clock is inside
// [after, before). A window with after > before wraps midnight
// (e.g. 22:00 to 06:00).
func inClockWindow(now time.Time, after, before string) (bool, error) {
	ah, am, err := parseClock(after)
	if err != nil {
		return false, err
	}
	bh, bm, err := parseClock(before)
	if err != nil {
		return false, err
	}
	cur := now.Hour()*60 + now.Minute()
	start := ah*60 + am
	end := bh*60 + bm
	if start == end {
		return false, nil
	}
	if start < end {
		return cur >= start && cur < end, nil
	}
	return cur >= start || cur < end, nil
}
