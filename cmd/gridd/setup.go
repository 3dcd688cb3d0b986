package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/banshee-data/gridctl/internal/config"
	"github.com/banshee-data/gridctl/internal/grid"
	"github.com/banshee-data/gridctl/internal/seriallink"
	"github.com/banshee-data/gridctl/internal/telemetry"
	"github.com/banshee-data/gridctl/internal/timeutil"
)

// prepareConfig loads the configuration at path, filling in the serial port
// and the signal set on first use, and writes it back when anything changed.
func prepareConfig(ctx context.Context, path string, source telemetry.Source, listPorts func() ([]string, error)) (*config.Config, error) {
	cfg, created, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	changed := created
	if config.ResolvePort(cfg, listPorts) {
		log.Printf("serial port resolved to %s", cfg.Grid.Port)
		changed = true
	}
	if len(cfg.Signals) == 0 {
		snap, err := source.Pull(ctx)
		if err != nil {
			log.Printf("cannot suggest signals: %v", err)
		} else if config.SuggestSignals(cfg, snap) {
			for _, s := range cfg.Signals {
				log.Printf("suggested signal %s: %s", s.Name, strings.Join(s.Sensors, "; "))
			}
			changed = true
		}
	}
	if changed {
		if err := config.Save(path, cfg); err != nil {
			return nil, err
		}
		log.Printf("configuration written to %s", path)
	}
	return cfg, nil
}

// parsePoll parses a comma separated list of fan metrics.
func parsePoll(s string) (grid.Selection, error) {
	var sel grid.Selection
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "":
		case "rpm":
			sel.RPM = true
		case "voltage":
			sel.Voltage = true
		case "current":
			sel.Current = true
		default:
			return grid.Selection{}, fmt.Errorf("unknown fan metric %q: expected rpm, voltage or current", part)
		}
	}
	if sel == (grid.Selection{}) {
		return grid.Selection{}, fmt.Errorf("no fan metric selected")
	}
	return sel, nil
}

// devSource produces synthetic CPU and GPU temperatures that swing slowly
// between idle and load.
type devSource struct {
	clock  timeutil.Clock
	start  time.Time
	period time.Duration
}

func newDevSource(clock timeutil.Clock) *devSource {
	return &devSource{clock: clock, start: clock.Now(), period: 2 * time.Minute}
}

func (d *devSource) Pull(ctx context.Context) (telemetry.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return telemetry.Snapshot{}, err
	}
	now := d.clock.Now()
	phase := 2 * math.Pi * float64(now.Sub(d.start)) / float64(d.period)
	cpu := 62 + 18*math.Sin(phase)
	gpu := 55 + 12*math.Sin(phase/2)
	return telemetry.NewSnapshot(now, []telemetry.Reading{
		{Device: "coretemp", Sensor: "CPU Package", Value: math.Round(cpu)},
		{Device: "coretemp", Sensor: "Core 0", Value: math.Round(cpu - 3)},
		{Device: "amdgpu", Sensor: "GPU Edge", Value: math.Round(gpu)},
	}), nil
}

// devOpener hands out fresh simulator ports so the daemon runs without a
// controller attached.
func devOpener(sim *grid.Simulator) seriallink.Opener {
	return seriallink.OpenerFunc(func(path string, opts seriallink.PortOptions) (seriallink.Porter, error) {
		return sim.Port(), nil
	})
}
