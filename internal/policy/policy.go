// Package policy maps a channel's configured policy and the current signals to
// a target fan level.
package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/gridctl/internal/curve"
	"github.com/banshee-data/gridctl/internal/filter"
	"github.com/banshee-data/gridctl/internal/telemetry"
)

// UnknownTemperature is fed to the filters when an auto channel references a
// signal that does not exist, so the fan errs on the side of cooling.
const UnknownTemperature = 100

// ErrInvalidManualLevel is returned when a manual level is not numeric.
var ErrInvalidManualLevel = errors.New("manual level is not a number")

// Mode selects how a channel's level is decided.
type Mode string

const (
	Off    Mode = "off"
	Manual Mode = "manual"
	Auto   Mode = "auto"
)

// ParseMode accepts off, manual, auto and their short forms in any case. The
// empty string means Off.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off":
		return Off, nil
	case "manual", "m":
		return Manual, nil
	case "auto", "a":
		return Auto, nil
	}
	return Off, fmt.Errorf("unknown mode %q", s)
}

// RawLevel is a manual level as written in the configuration. Both JSON numbers
// and strings are accepted and kept as text until evaluation.
type RawLevel string

// UnmarshalJSON accepts a number, a string or null.
func (r *RawLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = RawLevel(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("manual level must be a number or string: %w", err)
	}
	*r = RawLevel(n.String())
	return nil
}

// MarshalJSON writes numeric levels as numbers and anything else as a string.
func (r RawLevel) MarshalJSON() ([]byte, error) {
	s := strings.TrimSpace(string(r))
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return []byte(s), nil
	}
	return json.Marshal(string(r))
}

// ParseManualLevel converts a manual level to an integer percentage. A value
// that is not numeric yields 0 and an error wrapping ErrInvalidManualLevel.
func ParseManualLevel(raw RawLevel) (int, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidManualLevel, string(raw))
	}
	return curve.Level(v), nil
}

// ChannelPolicy is the configured behaviour of one fan channel.
type ChannelPolicy struct {
	Name   string      `json:"name"`
	Mode   Mode        `json:"mode"`
	Manual RawLevel    `json:"manual,omitempty"`
	Signal string      `json:"signal,omitempty"`
	Curve  curve.Curve `json:"curve,omitempty"`
}

// UnknownSignalError reports an auto channel whose signal is not defined.
type UnknownSignalError struct {
	Channel int
	Signal  string
}

func (e *UnknownSignalError) Error() string {
	return fmt.Sprintf("fan %d: unknown signal %q", e.Channel, e.Signal)
}

// Evaluate returns the target level for channel ch. Auto channels run the
// signal value through f before mapping it with the curve. The level is
// always within [0, 100]; a non-nil error is recoverable and comes with a
// usable level.
func Evaluate(ch int, p ChannelPolicy, signals *telemetry.Signals, f filter.Filter) (int, error) {
	mode, err := ParseMode(string(p.Mode))
	if err != nil {
		return 0, fmt.Errorf("fan %d: %w", ch, err)
	}

	switch mode {
	case Manual:
		level, err := ParseManualLevel(p.Manual)
		if err != nil {
			return 0, fmt.Errorf("fan %d: %w", ch, err)
		}
		return level, nil

	case Auto:
		temp, err := Temperature(ch, p.Signal, signals)
		if f != nil {
			temp = f.Apply(temp)
		}
		return curve.EvaluateLevel(temp, p.Curve), err
	}
	return 0, nil
}

// Temperature resolves the signal an auto channel follows. An empty reference
// reads as 0 and an unknown one as UnknownTemperature with an error.
func Temperature(ch int, ref string, signals *telemetry.Signals) (float64, error) {
	if strings.TrimSpace(ref) == "" {
		return 0, nil
	}
	sig, ok := signals.Lookup(ref)
	if !ok {
		return UnknownTemperature, &UnknownSignalError{Channel: ch, Signal: ref}
	}
	return sig.Value, nil
}
