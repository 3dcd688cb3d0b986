package seriallink

import (
	"testing"

	"go.bug.st/serial"
)

func TestPortOptions_Normalize_Defaults(t *testing.T) {
	got, err := PortOptions{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.BaudRate != 4800 {
		t.Errorf("BaudRate = %d, want 4800", got.BaudRate)
	}
	if got.DataBits != 8 {
		t.Errorf("DataBits = %d, want 8", got.DataBits)
	}
	if got.StopBits != 1 {
		t.Errorf("StopBits = %d, want 1", got.StopBits)
	}
	if got.Parity != "N" {
		t.Errorf("Parity = %q, want %q", got.Parity, "N")
	}
	if got.ReadTimeout != DefaultReadTimeout {
		t.Errorf("ReadTimeout = %v, want %v", got.ReadTimeout, DefaultReadTimeout)
	}
	if got.CommandRate != DefaultCommandRate {
		t.Errorf("CommandRate = %v, want %v", got.CommandRate, DefaultCommandRate)
	}
}

func TestPortOptions_Normalize_ParityAliases(t *testing.T) {
	cases := map[string]string{
		"none": "N",
		" n ":  "N",
		"even": "E",
		"o":    "O",
		"ODD":  "O",
	}
	for in, want := range cases {
		got, err := PortOptions{Parity: in}.Normalize()
		if err != nil {
			t.Errorf("Normalize(%q) error = %v", in, err)
			continue
		}
		if got.Parity != want {
			t.Errorf("Normalize(%q) parity = %q, want %q", in, got.Parity, want)
		}
	}
}

func TestPortOptions_Normalize_Invalid(t *testing.T) {
	for _, opts := range []PortOptions{
		{DataBits: 9},
		{DataBits: 4},
		{StopBits: 3},
		{Parity: "mark"},
	} {
		if _, err := opts.Normalize(); err == nil {
			t.Errorf("Normalize(%+v) expected error", opts)
		}
	}
}

func TestPortOptions_Normalize_NegativeRateDisablesPacing(t *testing.T) {
	got, err := PortOptions{CommandRate: -1}.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.CommandRate != -1 {
		t.Errorf("CommandRate = %v, want -1", got.CommandRate)
	}
}

func TestPortOptions_Equal(t *testing.T) {
	if !(PortOptions{}).Equal(PortOptions{BaudRate: 4800, Parity: "none"}) {
		t.Error("defaults should equal explicit 4800 8N1")
	}
	if (PortOptions{}).Equal(PortOptions{BaudRate: 9600}) {
		t.Error("different baud rates should not be equal")
	}
	if (PortOptions{Parity: "bad"}).Equal(PortOptions{Parity: "bad"}) {
		t.Error("invalid options should never be equal")
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := DefaultPortOptions().SerialMode()
	if err != nil {
		t.Fatalf("SerialMode() error = %v", err)
	}
	if mode.BaudRate != 4800 || mode.DataBits != 8 {
		t.Errorf("mode = %+v, want 4800 baud 8 data bits", mode)
	}
	if mode.Parity != serial.NoParity {
		t.Errorf("Parity = %v, want NoParity", mode.Parity)
	}
	if mode.StopBits != serial.OneStopBit {
		t.Errorf("StopBits = %v, want OneStopBit", mode.StopBits)
	}

	mode, err = PortOptions{StopBits: 2, Parity: "E"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode() error = %v", err)
	}
	if mode.StopBits != serial.TwoStopBits || mode.Parity != serial.EvenParity {
		t.Errorf("mode = %+v, want two stop bits even parity", mode)
	}
}
