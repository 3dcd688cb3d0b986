package config

import (
	"fmt"

	"github.com/banshee-data/gridctl/internal/curve"
	"github.com/banshee-data/gridctl/internal/policy"
	"github.com/banshee-data/gridctl/internal/seriallink"
	"github.com/banshee-data/gridctl/internal/telemetry"
)

// NumFans is the number of channel policies a configuration carries.
const NumFans = 6

// Default filter settings.
const (
	DefaultMovingAverage = 5
	DefaultHysteresis    = 5
)

// DefaultCurve holds fans at 75% up to 65 degrees and ramps to full speed at 75.
func DefaultCurve() curve.Curve {
	return curve.Curve{{Temp: 0, Level: 75}, {Temp: 65, Level: 75}, {Temp: 75, Level: 100}}
}

// Default returns the configuration used when no file exists: six auto fans
// following the cpu signal, the port left for auto-selection and no signals
// defined yet.
func Default() *Config {
	fans := make([]policy.ChannelPolicy, NumFans)
	for i := range fans {
		fans[i] = policy.ChannelPolicy{
			Name:   fmt.Sprintf("fan%d", i+1),
			Mode:   policy.Auto,
			Manual: "100",
			Signal: "cpu",
			Curve:  DefaultCurve(),
		}
	}
	return &Config{
		Grid: GridConfig{
			Port:        PortPlaceholder,
			Serial:      seriallink.DefaultPortOptions(),
			PollMetrics: true,
		},
		Policy: PolicyConfig{
			MovingAverage: DefaultMovingAverage,
			Hysteresis:    DefaultHysteresis,
			Fans:          fans,
		},
		Signals: []SignalConfig{},
	}
}

// ResolvePort replaces the port placeholder with the first port returned by
// list, or NoPort if there is none. It reports whether cfg changed.
func ResolvePort(cfg *Config, list func() ([]string, error)) bool {
	if cfg.Grid.Port != PortPlaceholder {
		return false
	}
	cfg.Grid.Port = NoPort
	if ports, err := list(); err == nil && len(ports) > 0 {
		cfg.Grid.Port = ports[0]
	}
	return true
}

// SuggestSignals adds cpu and gpu max signals built from snap when cfg
// defines no signals. It reports whether cfg changed.
func SuggestSignals(cfg *Config, snap telemetry.Snapshot) bool {
	if len(cfg.Signals) > 0 {
		return false
	}
	for _, sig := range []struct{ name, signature string }{{"cpu", "CPU"}, {"gpu", "GPU"}} {
		sensors := telemetry.SuggestSelectors(snap, sig.signature)
		if len(sensors) == 0 {
			continue
		}
		cfg.Signals = append(cfg.Signals, SignalConfig{
			Name:    sig.name,
			Fn:      string(telemetry.Max),
			Sensors: sensors,
		})
	}
	return len(cfg.Signals) > 0
}
