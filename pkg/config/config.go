package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/butter-bot-machines/timermux/pkg/counter"
)

// Profile is a saved hardware configuration plus a set of timer
// declarations: everything cmd/timermux needs to stand up a
// scheduler.Control without recompiling.
type Profile struct {
	InputFrequency uint32      `yaml:"input_frequency"`
	ClockDivision  uint32      `yaml:"clock_division"`
	CounterBits    uint8       `yaml:"counter_bits"`
	Timers         []TimerDecl `yaml:"timers"`
}

// TimerDecl is one named timer a profile wants attached at startup.
type TimerDecl struct {
	Name     string `yaml:"name"`
	Delay    uint32 `yaml:"delay"`
	Periodic bool   `yaml:"periodic"`
}

// Derived returns the counter's wraparound modulus and its effective tick
// frequency, computed from InputFrequency/ClockDivision/CounterBits.
// cmd/timermux passes the tick frequency to counter/real.New, and
// scheduler.Control reports it back through the counter.
func (p *Profile) Derived() (modulus, tickFreq uint32) {
	return counter.Modulus(p.CounterBits), p.InputFrequency / p.ClockDivision
}

// Validate checks the profile against the constraints the counter
// abstraction and the scheduler core assume.
func (p *Profile) Validate() error {
	if p.InputFrequency == 0 {
		return fmt.Errorf("%w: input_frequency must be > 0", ErrInvalidValue)
	}
	if p.ClockDivision == 0 || p.ClockDivision > 65536 {
		return fmt.Errorf("%w: clock_division must be in [1, 65536]", ErrInvalidValue)
	}
	if p.CounterBits != 16 && p.CounterBits != 32 {
		return fmt.Errorf("%w: counter_bits must be 16 or 32", ErrInvalidValue)
	}
	for _, t := range p.Timers {
		if t.Name == "" {
			return fmt.Errorf("%w: timer missing name", ErrInvalidConfig)
		}
		if t.Delay == 0 {
			return fmt.Errorf("%w: timer %q delay must be > 0", ErrInvalidValue, t.Name)
		}
	}
	return nil
}

// ParseProfile parses a profile from YAML data.
func ParseProfile(data []byte) (*Profile, error) {
	p := &Profile{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	return p, nil
}

// Marshal converts the profile to YAML.
func (p *Profile) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}

// AsMap renders the profile as a generic map, for Manager's key-path
// Get/Set/Delete operations.
func (p *Profile) AsMap() map[string]interface{} {
	data, err := yaml.Marshal(p)
	if err != nil {
		return map[string]interface{}{}
	}
	m := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return map[string]interface{}{}
	}
	return m
}

// FromMap replaces the profile's fields from a generic map produced by
// AsMap (or built up by Manager.Set/Delete).
func (p *Profile) FromMap(m map[string]interface{}) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode map: %w", err)
	}
	next := &Profile{}
	if err := yaml.Unmarshal(data, next); err != nil {
		return fmt.Errorf("failed to decode map: %w", err)
	}
	*p = *next
	return nil
}

// TimerByName returns the declaration for name, if the profile has one.
func (p *Profile) TimerByName(name string) (TimerDecl, bool) {
	for _, t := range p.Timers {
		if t.Name == name {
			return t, true
		}
	}
	return TimerDecl{}, false
}
