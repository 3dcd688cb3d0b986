package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/gridctl/internal/curve"
	"github.com/banshee-data/gridctl/internal/policy"
	"github.com/banshee-data/gridctl/internal/telemetry"
)

// FieldError is a single validation finding.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Msg
}

// Validate checks cfg and returns every problem found joined with
// errors.Join, or nil. It does not modify cfg. Manual levels and signal
// references are checked at evaluation time instead, where they degrade to a
// safe level.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &FieldError{Field: "config", Msg: "missing"}
	}
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &FieldError{Field: field, Msg: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(cfg.Grid.Port) == "" {
		add("grid.port", "is required")
	}
	if _, err := cfg.Grid.Serial.Normalize(); err != nil {
		add("grid.serial", "%v", err)
	}

	if cfg.Policy.MovingAverage < 1 {
		add("policy.moving_average", "must be at least 1, got %d", cfg.Policy.MovingAverage)
	}
	if cfg.Policy.Hysteresis < 0 || math.IsNaN(cfg.Policy.Hysteresis) {
		add("policy.hysteresis", "must not be negative, got %v", cfg.Policy.Hysteresis)
	}

	if n := len(cfg.Policy.Fans); n != NumFans {
		add("policy.fans", "expected %d fans, got %d", NumFans, n)
	}
	for i, f := range cfg.Policy.Fans {
		field := fmt.Sprintf("policy.fans[%d]", i)
		if _, err := policy.ParseMode(string(f.Mode)); err != nil {
			add(field+".mode", "must be 'off', 'manual' or 'auto', got %q", f.Mode)
		}
		for j, p := range f.Curve {
			if math.IsNaN(p.Temp) || math.IsInf(p.Temp, 0) {
				add(fmt.Sprintf("%s.curve[%d]", field, j), "temperature must be a finite number")
			}
			if p.Level < curve.MinLevel || p.Level > curve.MaxLevel || math.IsNaN(p.Level) {
				add(fmt.Sprintf("%s.curve[%d]", field, j), "level must be between 0 and 100, got %v", p.Level)
			}
		}
		if !curve.IsSorted(f.Curve) {
			add(field+".curve", "must be sorted by temperature")
		}
	}

	seen := make(map[string]bool, len(cfg.Signals))
	for i, s := range cfg.Signals {
		field := fmt.Sprintf("signals[%d]", i)
		name := strings.ToLower(strings.TrimSpace(s.Name))
		switch {
		case name == "":
			add(field+".name", "is required")
		case seen[name]:
			add(field+".name", "duplicate signal %q", s.Name)
		}
		seen[name] = true
		if _, err := telemetry.ParseAggregateFn(s.Fn); err != nil {
			add(field+".fn", "must be 'max' or 'avg', got %q", s.Fn)
		}
		for j, sensor := range s.Sensors {
			if strings.TrimSpace(strings.Split(sensor, ",")[0]) == "" {
				add(fmt.Sprintf("%s.sensors[%d]", field, j), "device name is required")
			}
		}
	}

	return errors.Join(errs...)
}

// FieldErrors unpacks the findings of a Validate error.
func FieldErrors(err error) []*FieldError {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case *FieldError:
		return []*FieldError{e}
	case interface{ Unwrap() []error }:
		var out []*FieldError
		for _, inner := range e.Unwrap() {
			out = append(out, FieldErrors(inner)...)
		}
		return out
	}
	return FieldErrors(errors.Unwrap(err))
}
