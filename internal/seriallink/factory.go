package seriallink

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"go.bug.st/serial"
)

var (
	// ErrPortNotFound means no device exists at the requested path.
	ErrPortNotFound = errors.New("no device found")
	// ErrAccessDenied means the port exists but could not be opened, usually
	// because another application holds it.
	ErrAccessDenied = errors.New("access denied")
)

// SerialOpener opens real serial ports through go.bug.st/serial.
type SerialOpener struct{}

// Open implements Opener. The returned port has its read timeout applied and
// both buffers flushed.
func (SerialOpener) Open(path string, opts PortOptions) (Porter, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, ClassifyOpenError(path, err)
	}

	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to flush input on %s: %w", path, err)
	}
	if err := port.ResetOutputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to flush output on %s: %w", path, err)
	}
	return port, nil
}

// ClassifyOpenError maps a port open failure onto ErrPortNotFound or
// ErrAccessDenied where possible. Other errors are wrapped unchanged.
func ClassifyOpenError(path string, err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound:
			return fmt.Errorf("could not open port %s: %w", path, ErrPortNotFound)
		case serial.PermissionDenied, serial.PortBusy:
			return fmt.Errorf("could not open port %s: %w: the port may be in use by another application", path, ErrAccessDenied)
		}
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("could not open port %s: %w", path, ErrPortNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("could not open port %s: %w: the port may be in use by another application", path, ErrAccessDenied)
	}
	return fmt.Errorf("could not open port %s: %w", path, err)
}

// ListPorts returns the serial ports present on the system, sorted by name.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	sort.Strings(ports)
	return ports, nil
}
