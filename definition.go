package motus

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition is the authoring form of a machine graph: states referenced by
// name, triggers spelled out, callbacks referenced by registry name. Parse
// one from YAML and Build it into a runnable machine.
type Definition struct {
	Name        string                 `yaml:"name,omitempty" json:"name,omitempty"`
	Initial     string                 `yaml:"initial,omitempty" json:"initial,omitempty"`
	States      []StateDefinition      `yaml:"states" json:"states"`
	Transitions []TransitionDefinition `yaml:"transitions" json:"transitions"`
}

// StateDefinition declares one state and its named hooks
type StateDefinition struct {
	Name   string   `yaml:"name" json:"name"`
	Enter  []string `yaml:"enter,omitempty" json:"enter,omitempty"`
	Update []string `yaml:"update,omitempty" json:"update,omitempty"`
	Leave  []string `yaml:"leave,omitempty" json:"leave,omitempty"`
	X      float64  `yaml:"x,omitempty" json:"x,omitempty"`
	Y      float64  `yaml:"y,omitempty" json:"y,omitempty"`
}

// TransitionDefinition declares one transition by its endpoint state names.
// Delay is shorthand for equal MinDelay and MaxDelay; a message excludes all
// delay fields.
type TransitionDefinition struct {
	From      string   `yaml:"from" json:"from"`
	To        string   `yaml:"to" json:"to"`
	Delay     *float64 `yaml:"delay,omitempty" json:"delay,omitempty"`
	MinDelay  *float64 `yaml:"minDelay,omitempty" json:"minDelay,omitempty"`
	MaxDelay  *float64 `yaml:"maxDelay,omitempty" json:"maxDelay,omitempty"`
	Message   string   `yaml:"message,omitempty" json:"message,omitempty"`
	Condition string   `yaml:"condition,omitempty" json:"condition,omitempty"`
	Action    string   `yaml:"action,omitempty" json:"action,omitempty"`
}

// ParseDefinition parses a YAML machine definition
func ParseDefinition(data []byte) (*Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	return &d, nil
}

// LoadDefinitionFile reads and parses a YAML machine definition
func LoadDefinitionFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	return ParseDefinition(data)
}

// Validate checks the definition's structure: unique state names, known
// endpoint and initial names, sane delay bounds, and trigger exclusivity.
// Registry names are resolved later, by Build.
func (d *Definition) Validate() error {
	names := make(map[string]bool, len(d.States))
	for _, sd := range d.States {
		if sd.Name == "" {
			return NewDefinitionError("state", "name is empty")
		}
		if names[sd.Name] {
			return NewDefinitionError("state "+sd.Name, "name declared twice")
		}
		names[sd.Name] = true
	}
	if d.Initial != "" && !names[d.Initial] {
		return NewDefinitionError("initial", fmt.Sprintf("state '%s' is not declared", d.Initial))
	}
	for _, td := range d.Transitions {
		element := fmt.Sprintf("transition %s->%s", td.From, td.To)
		if td.From == "" || td.To == "" {
			return NewDefinitionError(element, "from and to are required")
		}
		if !names[td.From] {
			return NewDefinitionError(element, fmt.Sprintf("state '%s' is not declared", td.From))
		}
		if !names[td.To] {
			return NewDefinitionError(element, fmt.Sprintf("state '%s' is not declared", td.To))
		}
		if td.Delay != nil && (td.MinDelay != nil || td.MaxDelay != nil) {
			return NewDefinitionError(element, "delay is shorthand for minDelay and maxDelay; use one form")
		}
		hasDelay := td.Delay != nil || td.MinDelay != nil || td.MaxDelay != nil
		if hasDelay && td.Message != "" {
			return NewDefinitionError(element, "delay and message are mutually exclusive")
		}
		for _, v := range []*float64{td.Delay, td.MinDelay, td.MaxDelay} {
			if v != nil && *v < 0 {
				return NewDefinitionError(element, "delays must not be negative")
			}
		}
		if td.MinDelay != nil && td.MaxDelay != nil && *td.MinDelay > *td.MaxDelay {
			return NewDefinitionError(element, "minDelay exceeds maxDelay")
		}
	}
	return nil
}

// Build validates the definition and constructs the machine it describes.
// Hook, condition, and action names resolve against reg and are attached
// through the Ref variants, so a snapshot of the result records them.
func (d *Definition) Build(reg *Registry, opts ...Option) (*StateMachine, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if reg != nil {
		opts = append(opts, WithRegistry(reg))
	}
	m := New(opts...)

	byName := make(map[string]*State, len(d.States))
	for _, sd := range d.States {
		s := m.AddState().SetName(sd.Name).SetPosition(sd.X, sd.Y)
		byName[sd.Name] = s
		for _, name := range sd.Enter {
			fn, err := lookupHook(reg, "state "+sd.Name+" enter hook", name)
			if err != nil {
				return nil, err
			}
			s.OnEnterRef(name, fn)
		}
		for _, name := range sd.Update {
			fn, err := lookupHook(reg, "state "+sd.Name+" update hook", name)
			if err != nil {
				return nil, err
			}
			s.OnUpdateRef(name, fn)
		}
		for _, name := range sd.Leave {
			fn, err := lookupHook(reg, "state "+sd.Name+" leave hook", name)
			if err != nil {
				return nil, err
			}
			s.OnLeaveRef(name, fn)
		}
	}

	for _, td := range d.Transitions {
		element := fmt.Sprintf("transition %s->%s", td.From, td.To)
		t, err := m.AddTransition(byName[td.From], byName[td.To])
		if err != nil {
			return nil, err
		}
		if td.Delay != nil {
			t.WithDelay(*td.Delay)
		}
		if td.MinDelay != nil {
			t.WithMinDelay(*td.MinDelay)
		}
		if td.MaxDelay != nil {
			t.WithMaxDelay(*td.MaxDelay)
		}
		if td.Message != "" {
			t.WithMessage(td.Message)
		}
		if td.Condition != "" {
			fn, ok := lookupCondition(reg, td.Condition)
			if !ok {
				return nil, NewUnknownRefError(element+" condition", td.Condition)
			}
			t.WithConditionRef(td.Condition, fn)
		}
		if td.Action != "" {
			fn, ok := lookupAction(reg, td.Action)
			if !ok {
				return nil, NewUnknownRefError(element+" action", td.Action)
			}
			t.WithActionRef(td.Action, fn)
		}
	}

	if d.Initial != "" {
		if err := m.SetInitialState(byName[d.Initial]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func lookupHook(reg *Registry, element, name string) (Hook, error) {
	if reg != nil {
		if fn, ok := reg.Hook(name); ok {
			return fn, nil
		}
	}
	return nil, NewUnknownRefError(element, name)
}

func lookupCondition(reg *Registry, name string) (Condition, bool) {
	if reg == nil {
		return nil, false
	}
	return reg.Condition(name)
}

func lookupAction(reg *Registry, name string) (Action, bool) {
	if reg == nil {
		return nil, false
	}
	return reg.Action(name)
}
