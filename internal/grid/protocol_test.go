package grid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSetLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level int
		want  []byte
	}{
		{87, []byte{0x44, 0x01, 0xC0, 0x00, 0x00, 10, 44}},
		{100, []byte{0x44, 0x01, 0xC0, 0x00, 0x00, 12, 0}},
		{150, []byte{0x44, 0x01, 0xC0, 0x00, 0x00, 12, 0}},
		{40, []byte{0x44, 0x01, 0xC0, 0x00, 0x00, 4, 80}},
		{39, []byte{0x44, 0x01, 0xC0, 0x00, 0x00, 0, 0}},
		{75, []byte{0x44, 0x01, 0xC0, 0x00, 0x00, 9, 0}},
		{-3, []byte{0x44, 0x01, 0xC0, 0x00, 0x00, 0, 0}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, encodeSetLevel(1, tt.level), "level %d", tt.level)
	}
	assert.Equal(t, byte(6), encodeSetLevel(6, 50)[1])
}

func TestEffectiveLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[int]int{0: 0, 39: 0, 40: 40, 41: 41, 99: 99, 100: 100, 101: 100, -1: 0} {
		assert.Equal(t, want, EffectiveLevel(in), "level %d", in)
	}
}

func TestEncodeRead(t *testing.T) {
	t.Parallel()

	for m, cmd := range map[Metric]byte{RPM: 0x8A, Voltage: 0x84, Current: 0x85} {
		req, err := encodeRead(m, 3)
		require.NoError(t, err)
		assert.Equal(t, []byte{cmd, 0x03}, req)
	}
	_, err := encodeRead(Metric(9), 1)
	assert.Error(t, err)
}

func TestDecodeMetric(t *testing.T) {
	t.Parallel()

	v, err := decodeMetric(RPM, []byte{0xC0, 0x00, 0x00, 0x04, 0xB0})
	require.NoError(t, err)
	assert.Equal(t, 1200.0, v)

	v, err = decodeMetric(Voltage, []byte{0xC0, 0x00, 0x00, 10, 44})
	require.NoError(t, err)
	assert.InDelta(t, 10.44, v, 1e-9)

	v, err = decodeMetric(Current, []byte{0xC0, 0x00, 0x00, 0, 21})
	require.NoError(t, err)
	assert.InDelta(t, 0.21, v, 1e-9)

	for _, bad := range [][]byte{
		nil,
		{0xC0, 0x00, 0x00, 0x01},
		{0xC1, 0x00, 0x00, 0x01, 0x02},
		{0xC0, 0x00, 0x01, 0x01, 0x02},
		{0xC0, 0x00, 0x00, 0x01, 0x02, 0x03},
	} {
		_, err := decodeMetric(RPM, bad)
		var perr *ProtocolError
		assert.True(t, errors.As(err, &perr), "reply % X", bad)
	}
}

func TestProtocolError(t *testing.T) {
	t.Parallel()

	err := &ProtocolError{Op: "init", Want: []byte{0x21}, Got: []byte{0x00}}
	assert.Equal(t, "grid init: unexpected reply 00, want 21", err.Error())

	err = &ProtocolError{Op: "rpm", Got: []byte{0xC0, 0x01}}
	assert.Equal(t, "grid rpm: malformed reply C0 01", err.Error())
}

func TestSimulatorSetCommandLevel(t *testing.T) {
	t.Parallel()

	for _, level := range []int{40, 55, 75, 87, 99, 100} {
		whole, frac := LevelVoltage(level)
		cmd := SetCommand{Whole: int(whole), Hundredths: int(frac)}
		assert.Equal(t, level, cmd.Level())
	}
}
