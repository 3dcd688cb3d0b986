package seriallink

import "io"

// Porter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// FlushPorter is implemented by ports that can discard pending buffered
// data. go.bug.st/serial ports implement it.
type FlushPorter interface {
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

// Opener defines an interface for opening serial ports.
// This abstraction enables dependency injection of serial port creation.
type Opener interface {
	// Open opens a serial port at the specified path with the given options.
	Open(path string, opts PortOptions) (Porter, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(path string, opts PortOptions) (Porter, error)

// Open calls f.
func (f OpenerFunc) Open(path string, opts PortOptions) (Porter, error) {
	return f(path, opts)
}
