package engine

import (
	"testing"
	"time"

	logx "supernotify/pkg/logx"
)

func TestConditionEval(t *testing.T) {
	t.Parallel()
	env := &Environment{
		States:  map[string]string{"alarm": "armed_away", "mode": "night"},
		Applied: map[string]bool{"Armed": true},
		Now:     time.Date(2025, 6, 1, 23, 30, 0, 0, time.Local),
	}

	tests := []struct {
		name string
		cond *Condition
		want bool
	}{
		{"state equals", &Condition{Kind: "state", Entity: "alarm", Equals: "armed_away"}, true},
		{"state equals miss", &Condition{Kind: "state", Entity: "alarm", Equals: "disarmed"}, false},
		{"state in", &Condition{Kind: "state", Entity: "mode", In: []string{"day", "night"}}, true},
		{"time inside window", &Condition{Kind: "time", After: "22:00", Before: "23:59"}, true},
		{"time wraps midnight", &Condition{Kind: "time", After: "22:00", Before: "06:00"}, true},
		{"time outside window", &Condition{Kind: "time", After: "06:00", Before: "22:00"}, false},
		{"applied scenario", &Condition{Kind: "scenario", Scenario: "Armed"}, true},
		{"unapplied scenario", &Condition{Kind: "scenario", Scenario: "Holiday"}, false},
		{
			"and",
			&Condition{Kind: "and", All: []*Condition{
				{Kind: "state", Entity: "alarm", Equals: "armed_away"},
				{Kind: "scenario", Scenario: "Armed"},
			}},
			true,
		},
		{
			"or short circuits",
			&Condition{Kind: "or", Any: []*Condition{
				{Kind: "state", Entity: "alarm", Equals: "disarmed"},
				{Kind: "scenario", Scenario: "Armed"},
			}},
			true,
		},
		{"not", &Condition{Kind: "not", Not: &Condition{Kind: "scenario", Scenario: "Armed"}}, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cond.Eval(env)
			if err != nil {
				t.Fatalf("Eval error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Eval = %v, want %v", got, tt.want)
			}
			// Same environment, same answer.
			again, err := tt.cond.Eval(env)
			if err != nil || again != got {
				t.Fatalf("Eval not deterministic: %v (err %v)", again, err)
			}
		})
	}
}

func TestConditionEvalUnknownEntity(t *testing.T) {
	t.Parallel()
	cond := &Condition{Kind: "state", Entity: "ghost", Equals: "on"}
	if _, err := cond.Eval(&Environment{States: map[string]string{}}); err == nil {
		t.Fatal("expected error for unknown entity")
	}
}

func TestConditionValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cond    *Condition
		wantErr bool
	}{
		{"state ok", &Condition{Kind: "state", Entity: "alarm", Equals: "armed"}, false},
		{"state missing entity", &Condition{Kind: "state", Equals: "armed"}, true},
		{"state missing values", &Condition{Kind: "state", Entity: "alarm"}, true},
		{"time ok", &Condition{Kind: "time", After: "22:00", Before: "06:00"}, false},
		{"time bad clock", &Condition{Kind: "time", After: "25:00", Before: "06:00"}, true},
		{"scenario missing name", &Condition{Kind: "scenario"}, true},
		{"and empty", &Condition{Kind: "and"}, true},
		{"or nested invalid", &Condition{Kind: "or", Any: []*Condition{{Kind: "bogus"}}}, true},
		{"not empty", &Condition{Kind: "not"}, true},
		{"unknown kind", &Condition{Kind: "bogus"}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cond.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInClockWindowEmptyWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local)
	ok, err := inClockWindow(now, "12:00", "12:00")
	if err != nil {
		t.Fatalf("inClockWindow error: %v", err)
	}
	if ok {
		t.Fatal("zero-width window must never match")
	}
}

func TestEvaluatorDeclarationOrderChaining(t *testing.T) {
	t.Parallel()
	// Second scenario references the first; order of declaration decides.
	first := &Scenario{Name: "Armed", Condition: &Condition{Kind: "state", Entity: "alarm", Equals: "armed"}}
	second := &Scenario{Name: "ArmedNight", Condition: &Condition{Kind: "and", All: []*Condition{
		{Kind: "scenario", Scenario: "Armed"},
		{Kind: "state", Entity: "mode", Equals: "night"},
	}}}

	env := &Environment{States: map[string]string{"alarm": "armed", "mode": "night"}}
	active := NewEvaluator(logx.Nop()).Active([]*Scenario{first, second}, &Notification{}, env)
	if len(active) != 2 || active[0].Name != "Armed" || active[1].Name != "ArmedNight" {
		t.Fatalf("active = %v", names(active))
	}

	// Reversed declaration: the reference evaluates before "Armed" applies.
	env = &Environment{States: map[string]string{"alarm": "armed", "mode": "night"}}
	active = NewEvaluator(logx.Nop()).Active([]*Scenario{second, first}, &Notification{}, env)
	if len(active) != 1 || active[0].Name != "Armed" {
		t.Fatalf("reversed: active = %v", names(active))
	}
}

func TestEvaluatorForcedScenarioSkipsCondition(t *testing.T) {
	t.Parallel()
	sc := &Scenario{Name: "Alarm", Condition: &Condition{Kind: "state", Entity: "alarm", Equals: "armed"}}
	env := &Environment{States: map[string]string{"alarm": "disarmed"}}
	active := NewEvaluator(logx.Nop()).Active([]*Scenario{sc}, &Notification{Scenarios: []string{"Alarm"}}, env)
	if len(active) != 1 || active[0].Name != "Alarm" {
		t.Fatalf("active = %v", names(active))
	}
}

func TestEvaluatorConditionErrorIsInactive(t *testing.T) {
	t.Parallel()
	sc := &Scenario{Name: "Ghost", Condition: &Condition{Kind: "state", Entity: "ghost", Equals: "on"}}
	env := &Environment{States: map[string]string{}}
	active := NewEvaluator(logx.Nop()).Active([]*Scenario{sc}, &Notification{}, env)
	if len(active) != 0 {
		t.Fatalf("active = %v, want none", names(active))
	}
}

func names(scs []*Scenario) []string {
	out := make([]string, 0, len(scs))
	for _, sc := range scs {
		out = append(out, sc.Name)
	}
	return out
}
