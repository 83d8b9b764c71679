package engine

import (
	"fmt"
	"strings"

	logx "supernotify/pkg/logx"
)

// ScenarioChannel is the per-channel customization a scenario applies while
// it is active. Its presence alone implies the channel in scenario-driven
// selection; Data is shallow-merged into the envelope's structured data.
type ScenarioChannel struct {
	Data map[string]any `json:"data,omitempty"`
}

// Scenario is a named, optionally conditioned routing rule.
//
// Constructed once at startup and immutable afterwards; evaluated fresh on
// every notification. A scenario without a condition never auto-activates
// and only fires when a caller names it explicitly.
type Scenario struct {
	Name      string
	Condition *Condition

	// Mode, when non-empty, is the delivery selection mode this scenario
	// forces while active.
	Mode SelectionMode

	// Channels maps catalog alias -> customization applied when active.
	Channels map[string]ScenarioChannel
}

// ValidateScenario checks a definition at startup. Invalid scenarios are
// dropped with a warning, never referenced again.
func ValidateScenario(s *Scenario) error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if name == ScenarioNameDefault || name == ScenarioNameNull {
		return fmt.Errorf("scenario name %q is reserved", name)
	}
	if s.Condition != nil {
		if err := s.Condition.Validate(); err != nil {
			return fmt.Errorf("scenario %q: %w", name, err)
		}
	}
	return nil
}

// Evaluator decides which scenarios are active for a notification.
//
// Scenarios are evaluated in declaration order with the running "applied"
// set visible to later scenarios, so the same environment snapshot always
// yields the same activation set. A condition that fails to evaluate is
// treated as false and logged; it never aborts the request.
type Evaluator struct {
	log logx.Logger
}

func NewEvaluator(log logx.Logger) *Evaluator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Evaluator{log: log}
}

// Active returns the active scenarios in declaration order. Scenario names
// the caller requested explicitly are force-activated without evaluating
// their condition; unknown requested names are logged and ignored.
func (e *Evaluator) Active(scenarios []*Scenario, n *Notification, env *Environment) []*Scenario {
	forced := make(map[string]bool, len(n.Scenarios))
	for _, name := range n.Scenarios {
		forced[name] = true
	}

	if env.Applied == nil {
		env.Applied = make(map[string]bool, len(scenarios))
	}

	known := make(map[string]bool, len(scenarios))
	active := make([]*Scenario, 0, len(scenarios))
	for _, sc := range scenarios {
		known[sc.Name] = true
		on := forced[sc.Name]
		if !on && sc.Condition != nil {
			ok, err := sc.Condition.Eval(env)
			if err != nil {
				e.log.Warn("scenario condition failed; treating as inactive",
					logx.String("scenario", sc.Name), logx.Err(err))
			}
			on = ok && err == nil
		}
		if on {
			active = append(active, sc)
			env.Applied[sc.Name] = true
		}
	}

	for _, name := range n.Scenarios {
		if !known[name] {
			e.log.Warn("requested scenario is not configured", logx.String("scenario", name))
		}
	}
	return active
}
