// Package telemetry holds temperature readings pulled from a sensor source
// and the named signals aggregated from them.
package telemetry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Reading is a single temperature sensor value.
type Reading struct {
	Device string  `json:"device"`
	Sensor string  `json:"sensor"`
	Value  float64 `json:"value"`
}

// Snapshot is the set of readings pulled in one control cycle.
type Snapshot struct {
	Time     time.Time `json:"time"`
	Readings []Reading `json:"readings"`
}

// NewSnapshot returns a snapshot with readings ordered by device then sensor.
func NewSnapshot(at time.Time, readings []Reading) Snapshot {
	rs := make([]Reading, len(readings))
	copy(rs, readings)
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Device != rs[j].Device {
			return rs[i].Device < rs[j].Device
		}
		return rs[i].Sensor < rs[j].Sensor
	})
	return Snapshot{Time: at, Readings: rs}
}

// Devices returns the distinct device names in the snapshot, sorted.
func (s Snapshot) Devices() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range s.Readings {
		if !seen[r.Device] {
			seen[r.Device] = true
			out = append(out, r.Device)
		}
	}
	sort.Strings(out)
	return out
}

// Source supplies fresh sensor readings.
type Source interface {
	Pull(ctx context.Context) (Snapshot, error)
}

// AggregateFn combines the readings matched by a signal's selectors.
type AggregateFn string

const (
	Max AggregateFn = "max"
	Avg AggregateFn = "avg"
)

// ParseAggregateFn accepts "max" or "avg" in any case.
func ParseAggregateFn(s string) (AggregateFn, error) {
	switch fn := AggregateFn(strings.ToLower(strings.TrimSpace(s))); fn {
	case Max, Avg:
		return fn, nil
	default:
		return "", fmt.Errorf("aggregation must be 'max' or 'avg', got %q", s)
	}
}

// Selector matches readings of one device, either a single named sensor or
// every sensor on the device when Sensor is empty.
type Selector struct {
	Device string
	Sensor string
}

// ParseSelector parses "Device, Sensor", "Device, *" or "Device".
func ParseSelector(s string) Selector {
	parts := strings.Split(s, ",")
	sel := Selector{Device: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		sel.Sensor = strings.TrimSpace(parts[1])
	}
	if sel.Sensor == "*" {
		sel.Sensor = ""
	}
	return sel
}

// ParseSelectors parses every entry with ParseSelector.
func ParseSelectors(in []string) []Selector {
	out := make([]Selector, 0, len(in))
	for _, s := range in {
		out = append(out, ParseSelector(s))
	}
	return out
}

// String renders the selector in config file form.
func (s Selector) String() string {
	if s.Sensor == "" {
		return s.Device + ", *"
	}
	return s.Device + ", " + s.Sensor
}

// Matches reports whether r is selected. Device names match exactly.
func (s Selector) Matches(r Reading) bool {
	return r.Device == s.Device && (s.Sensor == "" || r.Sensor == s.Sensor)
}

// Aggregate applies fn over every reading matched by any selector. A reading
// matched by two selectors is counted twice. No matches yields 0.
func Aggregate(snap Snapshot, selectors []Selector, fn AggregateFn) float64 {
	var vals []float64
	for _, sel := range selectors {
		for _, r := range snap.Readings {
			if sel.Matches(r) {
				vals = append(vals, r.Value)
			}
		}
	}
	if len(vals) == 0 {
		return 0
	}
	if fn == Avg {
		return stat.Mean(vals, nil)
	}
	return floats.Max(vals)
}

// SuggestSelectors builds selectors for every sensor whose name contains
// signature. A device whose sensors all match is selected whole.
func SuggestSelectors(snap Snapshot, signature string) []string {
	var out []string
	for _, device := range snap.Devices() {
		var count int
		var matches []string
		for _, r := range snap.Readings {
			if r.Device != device {
				continue
			}
			count++
			if strings.Contains(r.Sensor, signature) {
				matches = append(matches, Selector{Device: device, Sensor: r.Sensor}.String())
			}
		}
		if len(matches) == 0 {
			continue
		}
		if len(matches) == count {
			out = append(out, device)
			continue
		}
		out = append(out, matches...)
	}
	return out
}
