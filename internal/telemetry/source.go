package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrUnavailable is returned by a Source that currently has no readings.
var ErrUnavailable = errors.New("telemetry unavailable")

// StaticSource returns readings set by the caller. It backs dev mode and
// tests.
type StaticSource struct {
	mu       sync.Mutex
	readings []Reading
	err      error
	pulls    int
}

// NewStaticSource returns a source seeded with readings.
func NewStaticSource(readings ...Reading) *StaticSource {
	s := &StaticSource{}
	s.Set(readings...)
	return s
}

// Set replaces the readings returned by Pull.
func (s *StaticSource) Set(readings ...Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append([]Reading(nil), readings...)
}

// SetError makes Pull fail with err until cleared with nil.
func (s *StaticSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Pulls returns how many times Pull has been called.
func (s *StaticSource) Pulls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulls
}

// Pull implements Source.
func (s *StaticSource) Pull(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulls++
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	if s.err != nil {
		return Snapshot{}, s.err
	}
	return NewSnapshot(time.Now(), s.readings), nil
}

// DefaultHwmonRoot is where Linux exposes hardware monitoring chips.
const DefaultHwmonRoot = "/sys/class/hwmon"

// HwmonSource reads temperature inputs from the Linux hwmon sysfs tree. Each
// hwmonN directory is a device named after its "name" file; sensors are named
// by their tempN_label, falling back to "tempN".
type HwmonSource struct {
	Root string
}

// NewHwmonSource returns a source rooted at root, or DefaultHwmonRoot when
// root is empty.
func NewHwmonSource(root string) *HwmonSource {
	if root == "" {
		root = DefaultHwmonRoot
	}
	return &HwmonSource{Root: root}
}

// Pull implements Source.
func (h *HwmonSource) Pull(ctx context.Context) (Snapshot, error) {
	chips, err := filepath.Glob(filepath.Join(h.Root, "hwmon*"))
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to list hwmon devices: %w", err)
	}
	sort.Strings(chips)

	var readings []Reading
	for _, chip := range chips {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}
		device := readTrimmed(filepath.Join(chip, "name"))
		if device == "" {
			device = filepath.Base(chip)
		}

		inputs, _ := filepath.Glob(filepath.Join(chip, "temp*_input"))
		for _, input := range inputs {
			raw := readTrimmed(input)
			milli, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			base := strings.TrimSuffix(filepath.Base(input), "_input")
			sensor := readTrimmed(filepath.Join(chip, base+"_label"))
			if sensor == "" {
				sensor = base
			}
			readings = append(readings, Reading{Device: device, Sensor: sensor, Value: milli / 1000})
		}
	}

	if len(readings) == 0 {
		return Snapshot{}, fmt.Errorf("%w: no temperature inputs under %s", ErrUnavailable, h.Root)
	}
	return NewSnapshot(time.Now(), readings), nil
}

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
