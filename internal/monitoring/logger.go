// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import (
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Repeated logs through Logf but lets an identical message through at most
// once per interval. A different message is always logged at once.
type Repeated struct {
	interval time.Duration

	mu         sync.Mutex
	last       string
	suppressed int
	gate       *rate.Sometimes
}

// NewRepeated returns a logger that suppresses repeats within interval.
func NewRepeated(interval time.Duration) *Repeated {
	return &Repeated{interval: interval}
}

// Logf formats and logs the message unless it repeats the previous one
// within the interval. The first message after a suppressed run carries the
// number of repeats dropped.
func (r *Repeated) Logf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)

	r.mu.Lock()
	if msg != r.last || r.gate == nil {
		r.last = msg
		r.suppressed = 0
		r.gate = &rate.Sometimes{Interval: r.interval}
	}
	var pass bool
	r.gate.Do(func() { pass = true })
	if !pass {
		r.suppressed++
		r.mu.Unlock()
		return
	}
	n := r.suppressed
	r.suppressed = 0
	r.mu.Unlock()

	if n > 0 {
		msg = fmt.Sprintf("%s (%d repeats suppressed)", msg, n)
	}
	Logf("%s", msg)
}
