// Package seriallink provides a request/reply transport over a serial port.
// Every command is a blocking round trip: the request is written, then the
// reply is read until it is complete or the read timeout expires. A single
// lock serializes commands so that replies can never interleave.
package seriallink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrWriteFailed is returned when the port accepted fewer bytes than sent.
	ErrWriteFailed = errors.New("failed to write to serial port")
	// ErrShortReply is returned when the device did not send a complete reply
	// before the read timeout.
	ErrShortReply = errors.New("incomplete reply from device")
	// ErrClosed is returned by Transact after Close.
	ErrClosed = errors.New("serial link closed")
)

// Stats are cumulative counters for a link.
type Stats struct {
	Commands     uint64 `json:"commands"`
	BytesWritten uint64 `json:"bytes_written"`
	BytesRead    uint64 `json:"bytes_read"`
	ShortReplies uint64 `json:"short_replies"`
	Errors       uint64 `json:"errors"`
}

// Link is a locked, rate-limited request/reply channel over a Porter.
type Link struct {
	mu      sync.Mutex
	port    Porter
	path    string
	timeout time.Duration
	limiter *rate.Limiter
	closed  bool

	commands     atomic.Uint64
	bytesWritten atomic.Uint64
	bytesRead    atomic.Uint64
	shortReplies atomic.Uint64
	failures     atomic.Uint64
}

// Dial opens path with opener and wraps the port in a Link.
func Dial(opener Opener, path string, opts PortOptions) (*Link, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	port, err := opener.Open(path, opts)
	if err != nil {
		return nil, err
	}
	l := NewLink(port, opts)
	l.path = path
	return l, nil
}

// NewLink wraps an already open port.
func NewLink(port Porter, opts PortOptions) *Link {
	opts, _ = opts.Normalize()
	limit := rate.Inf
	if opts.CommandRate > 0 {
		limit = rate.Limit(opts.CommandRate)
	}
	return &Link{
		port:    port,
		timeout: opts.ReadTimeout,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Path returns the device path the link was dialled on.
func (l *Link) Path() string {
	return l.path
}

// Transact writes req and reads exactly replyLen bytes of reply. If the
// device stops sending early the bytes received so far are returned with an
// error wrapping ErrShortReply.
func (l *Link) Transact(ctx context.Context, req []byte, replyLen int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	l.commands.Add(1)

	if fp, ok := l.port.(FlushPorter); ok {
		// drop late bytes from an earlier timed-out reply
		_ = fp.ResetInputBuffer()
	}

	n, err := l.port.Write(req)
	l.bytesWritten.Add(uint64(n))
	if err != nil {
		l.failures.Add(1)
		return nil, fmt.Errorf("failed to send command % X: %w", req, err)
	}
	if n != len(req) {
		l.failures.Add(1)
		return nil, ErrWriteFailed
	}

	reply, err := l.readReply(replyLen)
	l.bytesRead.Add(uint64(len(reply)))
	if err != nil {
		l.failures.Add(1)
		if errors.Is(err, ErrShortReply) {
			l.shortReplies.Add(1)
		}
		return reply, err
	}
	return reply, nil
}

// readReply reads until n bytes arrived, the port reports no more data, or the
// link timeout elapsed. Ports configured with a read timeout return (0, nil)
// when it expires.
func (l *Link) readReply(n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	got := 0
	deadline := time.Now().Add(l.timeout)
	for got < n {
		r, err := l.port.Read(buf[got:])
		got += r
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return buf[:got], fmt.Errorf("failed to read reply: %w", err)
		}
		if r == 0 || time.Now().After(deadline) {
			break
		}
	}
	if got < n {
		return buf[:got], fmt.Errorf("%w: got %d of %d bytes", ErrShortReply, got, n)
	}
	return buf, nil
}

// Stats returns a copy of the link counters.
func (l *Link) Stats() Stats {
	return Stats{
		Commands:     l.commands.Load(),
		BytesWritten: l.bytesWritten.Load(),
		BytesRead:    l.bytesRead.Load(),
		ShortReplies: l.shortReplies.Load(),
		Errors:       l.failures.Load(),
	}
}

// Close closes the underlying port. It waits for an in-flight command.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.port.Close()
}
