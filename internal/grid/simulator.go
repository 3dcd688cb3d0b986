package grid

import (
	"sync"

	"github.com/banshee-data/gridctl/internal/seriallink"
)

// SetCommand is a decoded set-level request seen by a Simulator.
type SetCommand struct {
	Channel    int
	Whole      int
	Hundredths int
}

// Level is the percentage encoded by the command.
func (c SetCommand) Level() int {
	return (c.Whole*100 + c.Hundredths) / 12
}

// Simulator answers controller commands the way the hardware does. It is used
// by tests and by the daemon's -dev mode.
type Simulator struct {
	mu         sync.Mutex
	centivolts [NumChannels + 1]int
	inits      int
	sets       []SetCommand

	// FailSet lists channels whose set-level commands get a wrong ack.
	FailSet map[int]bool
	// Silent makes the simulator stop answering.
	Silent bool
	// RPMPerVolt scales the reported fan speed.
	RPMPerVolt int
}

// NewSimulator returns a simulator with every fan stopped.
func NewSimulator() *Simulator {
	return &Simulator{FailSet: make(map[int]bool), RPMPerVolt: 150}
}

// Port returns a fresh in-memory port wired to the simulator.
func (s *Simulator) Port() *seriallink.TestablePort {
	return seriallink.NewTestablePort(s.Respond)
}

// Respond implements seriallink.Responder.
func (s *Simulator) Respond(req []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Silent || len(req) == 0 {
		return nil
	}
	switch req[0] {
	case cmdInit:
		if len(req) != 1 {
			return nil
		}
		s.inits++
		return []byte{ackInit}
	case cmdSetLevel:
		if len(req) != 7 || !ValidChannel(int(req[1])) {
			return []byte{0x00}
		}
		ch := int(req[1])
		cmd := SetCommand{Channel: ch, Whole: int(req[5]), Hundredths: int(req[6])}
		s.sets = append(s.sets, cmd)
		if s.FailSet[ch] {
			return []byte{0x02}
		}
		s.centivolts[ch] = cmd.Whole*100 + cmd.Hundredths
		return []byte{ackSetLevel}
	case cmdRPM, cmdVoltage, cmdCurrent:
		if len(req) != 2 || !ValidChannel(int(req[1])) {
			return nil
		}
		cv := s.centivolts[int(req[1])]
		var value int
		switch req[0] {
		case cmdRPM:
			value = cv * s.RPMPerVolt / 100
			return []byte{0xC0, 0x00, 0x00, byte(value >> 8), byte(value)}
		case cmdVoltage:
			value = cv
		case cmdCurrent:
			// roughly 0.25A at 12V
			value = cv * 25 / 1200
		}
		return []byte{0xC0, 0x00, 0x00, byte(value / 100), byte(value % 100)}
	}
	return nil
}

// Inits returns the number of init commands answered.
func (s *Simulator) Inits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inits
}

// Sets returns every set-level command seen so far.
func (s *Simulator) Sets() []SetCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SetCommand(nil), s.sets...)
}

// Levels returns the level each channel is running at, indexed from 0 for
// channel 1.
func (s *Simulator) Levels() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, NumChannels)
	for ch := 1; ch <= NumChannels; ch++ {
		out[ch-1] = s.centivolts[ch] / 12
	}
	return out
}

// SetFailing toggles set-level failures for ch.
func (s *Simulator) SetFailing(ch int, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailSet[ch] = fail
}

// SetSilent toggles whether the simulator answers at all.
func (s *Simulator) SetSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Silent = silent
}
