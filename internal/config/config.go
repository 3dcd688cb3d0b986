package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/banshee-data/gridctl/internal/curve"
	"github.com/banshee-data/gridctl/internal/policy"
	"github.com/banshee-data/gridctl/internal/seriallink"
	"github.com/banshee-data/gridctl/internal/telemetry"
)

// PortPlaceholder in grid.port selects the first serial port found.
const PortPlaceholder = "%PORT%"

// NoPort is written to grid.port when the placeholder could not be resolved.
const NoPort = "N/A"

// DefaultPath is where the daemon keeps its configuration.
const DefaultPath = "gridctl.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the complete, user-editable configuration. A Config obtained
// from a Store must be treated as read-only.
type Config struct {
	Grid    GridConfig     `json:"grid"`
	Policy  PolicyConfig   `json:"policy"`
	Signals []SignalConfig `json:"signals"`
}

// GridConfig describes the controller connection.
type GridConfig struct {
	Port   string                 `json:"port"`
	Serial seriallink.PortOptions `json:"serial"`
	// PollMetrics reads fan rpm and voltage after every cycle.
	PollMetrics bool `json:"poll_metrics"`
	// ForceRewrite re-sends every level each cycle, bypassing the cache.
	ForceRewrite bool `json:"force_rewrite"`
}

// PolicyConfig holds the filter settings and the per-channel policies.
type PolicyConfig struct {
	MovingAverage int                    `json:"moving_average"`
	Hysteresis    float64                `json:"hysteresis"`
	Fans          []policy.ChannelPolicy `json:"fans"`
}

// SignalConfig defines a named signal as an aggregation over sensors.
type SignalConfig struct {
	Name    string   `json:"name"`
	Fn      string   `json:"fn"`
	Sensors []string `json:"sensors"`
}

// Definitions converts the signal configs for telemetry.NewSignals. Invalid
// aggregation functions fall back to max; Validate reports them.
func (c *Config) Definitions() []telemetry.Definition {
	defs := make([]telemetry.Definition, 0, len(c.Signals))
	for _, s := range c.Signals {
		fn, err := telemetry.ParseAggregateFn(s.Fn)
		if err != nil {
			fn = telemetry.Max
		}
		defs = append(defs, telemetry.Definition{
			Name:      s.Name,
			Fn:        fn,
			Selectors: telemetry.ParseSelectors(s.Sensors),
		})
	}
	return defs
}

// Fan returns the policy for channel ch (1-based).
func (c *Config) Fan(ch int) (policy.ChannelPolicy, bool) {
	if ch < 1 || ch > len(c.Policy.Fans) {
		return policy.ChannelPolicy{}, false
	}
	return c.Policy.Fans[ch-1], true
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	out.Policy.Fans = make([]policy.ChannelPolicy, len(c.Policy.Fans))
	for i, f := range c.Policy.Fans {
		f.Curve = append(curve.Curve(nil), f.Curve...)
		out.Policy.Fans[i] = f
	}
	out.Signals = make([]SignalConfig, len(c.Signals))
	for i, s := range c.Signals {
		s.Sensors = append([]string(nil), s.Sensors...)
		out.Signals[i] = s
	}
	return &out
}

// Normalize lower-cases modes, signal names and references, sorts every
// curve by temperature and trims the port. It mutates c.
func (c *Config) Normalize() {
	c.Grid.Port = strings.TrimSpace(c.Grid.Port)
	for i := range c.Policy.Fans {
		f := &c.Policy.Fans[i]
		f.Mode = policy.Mode(strings.ToLower(strings.TrimSpace(string(f.Mode))))
		f.Signal = strings.ToLower(strings.TrimSpace(f.Signal))
		if !curve.IsSorted(f.Curve) {
			f.Curve = curve.Sorted(f.Curve)
		}
	}
	for i := range c.Signals {
		s := &c.Signals[i]
		s.Name = strings.ToLower(strings.TrimSpace(s.Name))
		s.Fn = strings.ToLower(strings.TrimSpace(s.Fn))
	}
}

// Parse decodes a JSON document, which may contain comments and trailing
// commas, then normalizes and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	cfg.Normalize()
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Load reads a configuration file. The file must have a .json or .jsonc
// extension and be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" && ext != ".jsonc" {
		return nil, fmt.Errorf("config file must have a .json or .jsonc extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault loads path, falling back to Default when the file does not
// exist. The second result reports whether the defaults were used.
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, false, nil
	}
	if _, statErr := os.Stat(filepath.Clean(path)); os.IsNotExist(statErr) {
		return Default(), true, nil
	}
	return nil, false, err
}

// Save writes cfg as indented JSON, replacing path atomically.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".gridctl-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}
