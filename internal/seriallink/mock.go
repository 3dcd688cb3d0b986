package seriallink

import (
	"bytes"
	"errors"
	"sync"
)

// Responder produces the device reply for a request written to a
// TestablePort. Returning nil simulates a device that stays silent.
type Responder func(req []byte) []byte

// TestablePort implements Porter with configurable behaviour for testing.
// It provides fine-grained control over replies, writes, errors, and closure.
type TestablePort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// Respond, if set, is called for every Write and its result is queued
	// in ReadBuffer
	Respond Responder

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes the next Write report one byte fewer than requested
	ShortWrite bool

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// Writes records every request in order
	Writes [][]byte
}

// NewTestablePort creates a new TestablePort that answers with respond.
func NewTestablePort(respond Responder) *TestablePort {
	return &TestablePort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
		Respond:     respond,
	}
}

// Read reads from the read buffer. An empty buffer reports io.EOF, which the
// link treats like a read timeout.
func (t *TestablePort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	if t.Closed {
		return 0, errors.New("serial port closed")
	}

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	return t.ReadBuffer.Read(p)
}

// Write records p, optionally simulating errors, and queues the responder's
// reply.
func (t *TestablePort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errors.New("serial port closed")
	}

	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	req := append([]byte(nil), p...)
	t.Writes = append(t.Writes, req)
	t.WriteBuffer.Write(p)

	if t.ShortWrite {
		t.ShortWrite = false
		return len(p) - 1, nil
	}

	if t.Respond != nil {
		t.ReadBuffer.Write(t.Respond(req))
	}
	return len(p), nil
}

// Close marks the port as closed.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	return t.CloseError
}

// IsClosed reports whether Close was called.
func (t *TestablePort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Closed
}

// Requests returns a copy of every request written so far.
func (t *TestablePort) Requests() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([][]byte, len(t.Writes))
	copy(out, t.Writes)
	return out
}

// GetWrittenData returns all data written to the port.
func (t *TestablePort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.WriteBuffer.Bytes()
}

// Reset clears all buffers and resets state.
func (t *TestablePort) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Reset()
	t.WriteBuffer.Reset()
	t.Writes = nil
	t.ReadCalls = 0
	t.Closed = false
	t.ReadError = nil
	t.WriteError = nil
	t.CloseError = nil
	t.ShortWrite = false
}

// MockOpener implements Opener for testing.
type MockOpener struct {
	mu sync.Mutex

	// Port is the port to return from Open
	Port Porter

	// Error is returned by Open if set
	Error error

	// Errors are returned by successive Open calls before falling back to
	// Error and Port
	Errors []error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path string
	Opts PortOptions
}

// NewMockOpener creates a new MockOpener.
func NewMockOpener(port Porter) *MockOpener {
	return &MockOpener{Port: port}
}

// Open returns the configured port or error.
func (f *MockOpener) Open(path string, opts PortOptions) (Porter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{
		Path: path,
		Opts: opts,
	})

	if len(f.Errors) > 0 {
		err := f.Errors[0]
		f.Errors = f.Errors[1:]
		if err != nil {
			return nil, err
		}
	}

	if f.Error != nil {
		return nil, f.Error
	}

	if tp, ok := f.Port.(*TestablePort); ok && tp.IsClosed() {
		// a reopened device starts with clean buffers
		tp.mu.Lock()
		tp.Closed = false
		tp.ReadBuffer.Reset()
		tp.mu.Unlock()
	}

	return f.Port, nil
}

// Calls returns the number of Open calls.
func (f *MockOpener) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.OpenCalls)
}

// LastCall returns the most recent Open call, or nil if none.
func (f *MockOpener) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}

// Reset clears all recorded calls.
func (f *MockOpener) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = nil
	f.Error = nil
	f.Errors = nil
}
