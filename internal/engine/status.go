package engine

import (
	"time"

	"github.com/banshee-data/gridctl/internal/grid"
	"github.com/banshee-data/gridctl/internal/telemetry"
)

// Status is the snapshot published after every cycle. It is a value: nothing
// in it is shared with the engine once published.
type Status struct {
	Cycle      uint64          `json:"cycle"`
	Time       time.Time       `json:"time"`
	Duration   time.Duration   `json:"duration_ns"`
	Epoch      uint64          `json:"epoch"`
	Connection grid.Connection `json:"connection"`

	// OK is true when the cycle finished without any error.
	OK     bool     `json:"ok"`
	Errors []string `json:"errors,omitempty"`
	// TelemetryOK is false when the pull failed or every signal read zero.
	TelemetryOK bool `json:"telemetry_ok"`

	Signals []telemetry.Signal  `json:"signals"`
	Sensors []telemetry.Reading `json:"sensors"`
	Fans    []grid.FanMetrics   `json:"fans,omitempty"`

	// Targets are the levels computed by the policies, Levels the levels
	// last confirmed by the controller. Both are indexed from 0 for
	// channel 1 and use -1 for unknown.
	Targets []int `json:"targets"`
	Levels  []int `json:"levels"`
	Sent    int   `json:"sent"`

	Link grid.Stats `json:"link"`
}

// Healthy reports whether the controller is connected and telemetry is
// flowing.
func (s Status) Healthy() bool {
	return s.Connection.State == grid.Connected && s.TelemetryOK
}
