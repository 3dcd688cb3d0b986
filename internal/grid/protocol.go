package grid

import (
	"fmt"
)

// NumChannels is the number of fan channels on the controller.
const NumChannels = 6

// Command and acknowledgement bytes of the controller protocol.
const (
	cmdInit     byte = 0xC0
	ackInit     byte = 0x21
	cmdSetLevel byte = 0x44
	ackSetLevel byte = 0x01
	cmdRPM      byte = 0x8A
	cmdVoltage  byte = 0x84
	cmdCurrent  byte = 0x85
)

// Level limits. Targets below MinSpinLevel are sent as 0.
const (
	MinSpinLevel = 40
	MaxLevel     = 100
)

// metricReplyLen is the size of every read reply: C0 00 00 hi lo.
const metricReplyLen = 5

var metricHeader = [3]byte{0xC0, 0x00, 0x00}

// Metric selects one of the per-channel measurements.
type Metric int

const (
	RPM Metric = iota
	Voltage
	Current
)

func (m Metric) String() string {
	switch m {
	case RPM:
		return "rpm"
	case Voltage:
		return "voltage"
	case Current:
		return "current"
	}
	return fmt.Sprintf("Metric(%d)", int(m))
}

func (m Metric) command() (byte, bool) {
	switch m {
	case RPM:
		return cmdRPM, true
	case Voltage:
		return cmdVoltage, true
	case Current:
		return cmdCurrent, true
	}
	return 0, false
}

// ValidChannel reports whether ch is a controller channel id.
func ValidChannel(ch int) bool {
	return ch >= 1 && ch <= NumChannels
}

// EffectiveLevel is the level the controller actually runs at for a target:
// above MaxLevel is capped and anything under MinSpinLevel stops the fan.
func EffectiveLevel(level int) int {
	if level > MaxLevel {
		return MaxLevel
	}
	if level < MinSpinLevel {
		return 0
	}
	return level
}

// LevelVoltage converts a level to the 12V-scaled voltage as whole volts and
// hundredths. The arithmetic is done in centivolts so 87 encodes as 10.44
// exactly.
func LevelVoltage(level int) (whole, hundredths byte) {
	cv := EffectiveLevel(level) * 12
	return byte(cv / 100), byte(cv % 100)
}

func encodeInit() []byte {
	return []byte{cmdInit}
}

func encodeSetLevel(ch, level int) []byte {
	whole, frac := LevelVoltage(level)
	return []byte{cmdSetLevel, byte(ch), 0xC0, 0x00, 0x00, whole, frac}
}

func encodeRead(m Metric, ch int) ([]byte, error) {
	cmd, ok := m.command()
	if !ok {
		return nil, fmt.Errorf("unknown metric %v", m)
	}
	return []byte{cmd, byte(ch)}, nil
}

// decodeMetric validates a read reply and returns its value. RPM replies are
// hi*256+lo; voltage and current are hi + lo/100.
func decodeMetric(m Metric, reply []byte) (float64, error) {
	if len(reply) != metricReplyLen {
		return 0, &ProtocolError{Op: m.String(), Got: reply}
	}
	if reply[0] != metricHeader[0] || reply[1] != metricHeader[1] || reply[2] != metricHeader[2] {
		return 0, &ProtocolError{Op: m.String(), Got: reply}
	}
	hi, lo := reply[3], reply[4]
	if m == RPM {
		return float64(int(hi)<<8 | int(lo)), nil
	}
	return float64(hi) + float64(lo)/100, nil
}

// ProtocolError reports a reply that did not match what the command requires.
type ProtocolError struct {
	Op   string
	Want []byte
	Got  []byte
}

func (e *ProtocolError) Error() string {
	if e.Want != nil {
		return fmt.Sprintf("grid %s: unexpected reply % X, want % X", e.Op, e.Got, e.Want)
	}
	return fmt.Sprintf("grid %s: malformed reply % X", e.Op, e.Got)
}
