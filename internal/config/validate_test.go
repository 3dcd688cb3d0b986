package config

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gridctl/internal/curve"
)

func fieldNames(err error) []string {
	var out []string
	for _, fe := range FieldErrors(err) {
		out = append(out, fe.Field)
	}
	return out
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:   "bad mode",
			mutate: func(c *Config) { c.Policy.Fans[2].Mode = "turbo" },
			want:   []string{"policy.fans[2].mode"},
		},
		{
			name:   "negative hysteresis",
			mutate: func(c *Config) { c.Policy.Hysteresis = -1 },
			want:   []string{"policy.hysteresis"},
		},
		{
			name: "curve level out of range and unsorted",
			mutate: func(c *Config) {
				c.Policy.Fans[0].Curve = curve.Curve{{Temp: 70, Level: 120}, {Temp: 10, Level: 50}}
			},
			want: []string{"policy.fans[0].curve[0]", "policy.fans[0].curve"},
		},
		{
			name:   "infinite temperature",
			mutate: func(c *Config) { c.Policy.Fans[1].Curve = curve.Curve{{Temp: math.Inf(1), Level: 50}} },
			want:   []string{"policy.fans[1].curve[0]"},
		},
		{
			name:   "too few fans",
			mutate: func(c *Config) { c.Policy.Fans = c.Policy.Fans[:4] },
			want:   []string{"policy.fans"},
		},
		{
			name:   "bad serial options",
			mutate: func(c *Config) { c.Grid.Serial.Parity = "mark" },
			want:   []string{"grid.serial"},
		},
		{
			name: "signal problems",
			mutate: func(c *Config) {
				c.Signals = []SignalConfig{
					{Name: "cpu", Fn: "max", Sensors: []string{"Intel"}},
					{Name: "CPU", Fn: "median", Sensors: []string{", Core 0"}},
					{Name: " ", Fn: "avg"},
				}
			},
			want: []string{"signals[1].name", "signals[1].fn", "signals[1].sensors[0]", "signals[2].name"},
		},
		{
			name:   "manual levels and signal refs are not checked here",
			mutate: func(c *Config) { c.Policy.Fans[0].Manual = "loud"; c.Policy.Fans[0].Signal = "nope" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if len(tt.want) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ElementsMatch(t, tt.want, fieldNames(err))
		})
	}
}

func TestValidate_Nil(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"config"}, fieldNames(Validate(nil)))
}

func TestValidate_Pure(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Policy.Fans[0].Mode = "AUTO"
	cfg.Policy.Fans[0].Curve = curve.Curve{{Temp: 70, Level: 100}, {Temp: 10, Level: 50}}
	_ = Validate(cfg)
	assert.Equal(t, "AUTO", string(cfg.Policy.Fans[0].Mode))
	assert.Equal(t, 70.0, cfg.Policy.Fans[0].Curve[0].Temp)
}

func TestFieldErrors_Wrapped(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Grid.Port = ""
	cfg.Policy.MovingAverage = 0
	err := fmt.Errorf("outer: %w", Validate(cfg))
	assert.ElementsMatch(t, []string{"grid.port", "policy.moving_average"}, fieldNames(err))
	assert.Nil(t, FieldErrors(nil))
	assert.Equal(t, "grid.port: is required", FieldErrors(err)[0].Error())
}
