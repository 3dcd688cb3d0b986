package telemetry

import (
	"strings"
)

// Definition describes how a named signal is derived from readings.
type Definition struct {
	Name      string
	Fn        AggregateFn
	Selectors []Selector
}

// Signal is the aggregated value of a Definition together with the extremes
// observed since the signal was created.
type Signal struct {
	Name  string      `json:"name"`
	Fn    AggregateFn `json:"fn"`
	Value float64     `json:"value"`
	Min   float64     `json:"min"`
	Max   float64     `json:"max"`

	selectors []Selector
}

// Update records a new value. A zero Min or Max counts as unset.
func (s *Signal) Update(v float64) {
	s.Value = v
	if s.Min == 0 || v < s.Min {
		s.Min = v
	}
	if s.Max == 0 || v > s.Max {
		s.Max = v
	}
}

// Signals is an ordered, case-insensitive collection of signals.
type Signals struct {
	order  []string
	byName map[string]*Signal
}

// NewSignals creates zeroed signals for defs, preserving their order. Names
// are folded to lower case; a later definition with the same folded name
// replaces an earlier one.
func NewSignals(defs []Definition) *Signals {
	s := &Signals{byName: make(map[string]*Signal, len(defs))}
	for _, d := range defs {
		key := strings.ToLower(d.Name)
		if _, ok := s.byName[key]; !ok {
			s.order = append(s.order, key)
		}
		sel := make([]Selector, len(d.Selectors))
		copy(sel, d.Selectors)
		s.byName[key] = &Signal{Name: key, Fn: d.Fn, selectors: sel}
	}
	return s
}

// Len returns the number of signals.
func (s *Signals) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Lookup finds a signal by name, ignoring case.
func (s *Signals) Lookup(name string) (*Signal, bool) {
	if s == nil {
		return nil, false
	}
	sig, ok := s.byName[strings.ToLower(strings.TrimSpace(name))]
	return sig, ok
}

// Update recomputes every signal from snap. It reports whether every signal
// aggregated to zero, which the control loop treats as telemetry being
// unavailable. An empty collection is never reported as all zero.
func (s *Signals) Update(snap Snapshot) (allZero bool) {
	if s.Len() == 0 {
		return false
	}
	allZero = true
	for _, name := range s.order {
		sig := s.byName[name]
		v := Aggregate(snap, sig.selectors, sig.Fn)
		sig.Update(v)
		if v != 0 {
			allZero = false
		}
	}
	return allZero
}

// List returns copies of the signals in definition order.
func (s *Signals) List() []Signal {
	if s == nil {
		return nil
	}
	out := make([]Signal, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.byName[name])
	}
	return out
}
