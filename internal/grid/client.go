// Package grid drives a Grid+ style fan controller over a serial link. The
// Client tracks the connection state across reconnects and counts every
// command it issues.
package grid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/gridctl/internal/monitoring"
	"github.com/banshee-data/gridctl/internal/seriallink"
)

var (
	// ErrNotConnected is returned for commands issued before a successful
	// handshake or after a fault.
	ErrNotConnected = errors.New("grid controller not connected")
	// ErrInvalidChannel is returned for channel ids outside 1..NumChannels.
	ErrInvalidChannel = errors.New("invalid fan channel")
)

// State is the connection state of the client.
type State int

const (
	Disconnected State = iota
	Connected
	Faulted
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Faulted:
		return "faulted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{Disconnected, Connected, Faulted} {
		if string(b) == st.String() {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", b)
}

// Connection is a snapshot of the client state. Reason is set when Faulted.
type Connection struct {
	State  State  `json:"state"`
	Port   string `json:"port,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Stats are the controller counters plus the current link's transport
// counters.
type Stats struct {
	Errors uint64           `json:"errors"`
	Writes uint64           `json:"writes"`
	Reads  uint64           `json:"reads"`
	Opens  uint64           `json:"opens"`
	Link   seriallink.Stats `json:"link"`
}

// Selection picks the metrics read by Poll.
type Selection struct {
	RPM     bool `json:"rpm"`
	Voltage bool `json:"voltage"`
	Current bool `json:"current"`
}

// DefaultSelection reads rpm and voltage.
var DefaultSelection = Selection{RPM: true, Voltage: true}

// FanMetrics are the measurements read from one channel. Unselected metrics
// are left at zero.
type FanMetrics struct {
	Channel int     `json:"channel"`
	RPM     int     `json:"rpm"`
	Voltage float64 `json:"voltage"`
	Current float64 `json:"current"`
}

// Client is the actuator client. Methods are safe for concurrent use; commands
// are serialized by the underlying link.
type Client struct {
	opener seriallink.Opener

	mu     sync.Mutex
	link   *seriallink.Link
	state  State
	port   string
	reason string

	failures atomic.Uint64
	writes   atomic.Uint64
	reads    atomic.Uint64
	opens    atomic.Uint64

	// faults keeps a missing or stuck controller from logging every cycle.
	faults *monitoring.Repeated
}

// faultLogInterval is how often an unchanged fault is logged again.
const faultLogInterval = time.Minute

// NewClient returns a disconnected client that opens ports with opener.
func NewClient(opener seriallink.Opener) *Client {
	return &Client{opener: opener, faults: monitoring.NewRepeated(faultLogInterval)}
}

// Connection returns the current connection state.
func (c *Client) Connection() Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Connection{State: c.state, Port: c.port, Reason: c.reason}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a copy of the counters.
func (c *Client) Stats() Stats {
	st := Stats{
		Errors: c.failures.Load(),
		Writes: c.writes.Load(),
		Reads:  c.reads.Load(),
		Opens:  c.opens.Load(),
	}
	c.mu.Lock()
	if c.link != nil {
		st.Link = c.link.Stats()
	}
	c.mu.Unlock()
	return st
}

// Open closes any previous link and opens port. The client stays
// Disconnected until Handshake succeeds; a failure leaves it Faulted.
func (c *Client) Open(ctx context.Context, port string, opts seriallink.PortOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()
	c.port = port
	link, err := seriallink.Dial(c.opener, port, opts)
	if err != nil {
		c.failures.Add(1)
		c.faultLocked(err)
		c.faults.Logf("[grid] %v", err)
		return err
	}
	c.opens.Add(1)
	c.link = link
	c.state = Disconnected
	c.reason = ""
	monitoring.Logf("[grid] opened %s", port)
	return nil
}

// Handshake sends the init command and requires the controller's
// acknowledgement. Success moves the client to Connected.
func (c *Client) Handshake(ctx context.Context) error {
	c.mu.Lock()
	link := c.link
	c.mu.Unlock()
	if link == nil {
		return ErrNotConnected
	}

	reply, err := link.Transact(ctx, encodeInit(), 1)
	if err == nil && (len(reply) != 1 || reply[0] != ackInit) {
		err = &ProtocolError{Op: "init", Want: []byte{ackInit}, Got: reply}
	}
	if err != nil {
		return c.fail(fmt.Errorf("handshake failed: %w", err))
	}

	c.mu.Lock()
	if c.link == link {
		c.state = Connected
		c.reason = ""
	}
	c.mu.Unlock()
	monitoring.Logf("[grid] controller on %s acknowledged init", link.Path())
	return nil
}

// SetLevel sets channel ch to level percent. Levels above MaxLevel are
// capped and levels below MinSpinLevel stop the fan.
func (c *Client) SetLevel(ctx context.Context, ch, level int) error {
	if !ValidChannel(ch) {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	link, err := c.connected()
	if err != nil {
		return err
	}

	c.writes.Add(1)
	reply, err := link.Transact(ctx, encodeSetLevel(ch, level), 1)
	if err == nil && (len(reply) != 1 || reply[0] != ackSetLevel) {
		err = &ProtocolError{Op: "set level", Want: []byte{ackSetLevel}, Got: reply}
	}
	if err != nil {
		return c.fail(fmt.Errorf("set fan %d to %d%%: %w", ch, level, err))
	}
	return nil
}

// ReadMetric reads one measurement from channel ch.
func (c *Client) ReadMetric(ctx context.Context, ch int, m Metric) (float64, error) {
	if !ValidChannel(ch) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	req, err := encodeRead(m, ch)
	if err != nil {
		return 0, err
	}
	link, err := c.connected()
	if err != nil {
		return 0, err
	}

	c.reads.Add(1)
	reply, err := link.Transact(ctx, req, metricReplyLen)
	var v float64
	if err == nil {
		v, err = decodeMetric(m, reply)
	}
	if err != nil {
		return 0, c.fail(fmt.Errorf("read %v on fan %d: %w", m, ch, err))
	}
	return v, nil
}

// Poll reads the selected metrics for every channel in index order. The pass
// stops at the first failure and returns the channels completed so far.
func (c *Client) Poll(ctx context.Context, sel Selection) ([]FanMetrics, error) {
	out := make([]FanMetrics, 0, NumChannels)
	for ch := 1; ch <= NumChannels; ch++ {
		fm := FanMetrics{Channel: ch}
		if sel.RPM {
			v, err := c.ReadMetric(ctx, ch, RPM)
			if err != nil {
				return out, err
			}
			fm.RPM = int(v)
		}
		if sel.Voltage {
			v, err := c.ReadMetric(ctx, ch, Voltage)
			if err != nil {
				return out, err
			}
			fm.Voltage = v
		}
		if sel.Current {
			v, err := c.ReadMetric(ctx, ch, Current)
			if err != nil {
				return out, err
			}
			fm.Current = v
		}
		out = append(out, fm)
	}
	return out, nil
}

// Send writes a raw command and returns up to replyLen reply bytes. It is
// meant for diagnostics and does not change the connection state.
func (c *Client) Send(ctx context.Context, req []byte, replyLen int) ([]byte, error) {
	c.mu.Lock()
	link := c.link
	c.mu.Unlock()
	if link == nil {
		return nil, ErrNotConnected
	}
	return link.Transact(ctx, req, replyLen)
}

// Close releases the port and moves the client to Disconnected.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.closeLocked()
	c.state = Disconnected
	c.reason = ""
	return err
}

func (c *Client) connected() (*seriallink.Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected || c.link == nil {
		return nil, ErrNotConnected
	}
	return c.link, nil
}

func (c *Client) fail(err error) error {
	c.failures.Add(1)
	c.mu.Lock()
	c.faultLocked(err)
	c.mu.Unlock()
	c.faults.Logf("[grid] %v", err)
	return err
}

func (c *Client) faultLocked(err error) {
	c.state = Faulted
	c.reason = err.Error()
}

func (c *Client) closeLocked() error {
	if c.link == nil {
		return nil
	}
	err := c.link.Close()
	c.link = nil
	return err
}
