// Package cache holds the last level confirmed by the controller for each
// fan channel so that unchanged targets are not re-sent every cycle.
package cache

// Unknown marks a channel whose level has not been confirmed since the
// cache was (re)built.
const Unknown = -1

// SendFunc actuates channel ch (1-based) at level.
type SendFunc func(ch, level int) error

// Cache is the write-through actuation cache. It is owned by the control loop
// and is not safe for concurrent use.
type Cache struct {
	confirmed []int
}

// New returns a cache for n channels, all Unknown.
func New(n int) *Cache {
	c := &Cache{confirmed: make([]int, n)}
	c.Reset()
	return c
}

// Reset marks every channel Unknown.
func (c *Cache) Reset() {
	for i := range c.confirmed {
		c.confirmed[i] = Unknown
	}
}

// Len returns the number of channels.
func (c *Cache) Len() int {
	return len(c.confirmed)
}

// Confirmed returns the confirmed level of channel ch, or Unknown.
func (c *Cache) Confirmed(ch int) int {
	if ch < 1 || ch > len(c.confirmed) {
		return Unknown
	}
	return c.confirmed[ch-1]
}

// Levels returns a copy of the confirmed levels, indexed from 0 for channel 1.
func (c *Cache) Levels() []int {
	return append([]int(nil), c.confirmed...)
}

// Pending returns, in index order, the channels whose target differs from the
// confirmed level. With force every channel with a target is pending. Targets
// beyond the cache size are ignored.
func (c *Cache) Pending(targets []int, force bool) []int {
	var out []int
	for i, level := range targets {
		if i >= len(c.confirmed) {
			break
		}
		if force || c.confirmed[i] != level {
			out = append(out, i+1)
		}
	}
	return out
}

// Reconcile sends every pending target through send. A channel is confirmed
// only after send succeeds; the first failure stops the pass and is returned
// together with the number of successful sends.
func (c *Cache) Reconcile(targets []int, force bool, send SendFunc) (int, error) {
	sent := 0
	for _, ch := range c.Pending(targets, force) {
		level := targets[ch-1]
		if err := send(ch, level); err != nil {
			return sent, err
		}
		c.confirmed[ch-1] = level
		sent++
	}
	return sent, nil
}
