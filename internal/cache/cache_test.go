package cache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sendRecorder struct {
	calls  [][2]int
	failOn int
}

func (r *sendRecorder) send(ch, level int) error {
	r.calls = append(r.calls, [2]int{ch, level})
	if ch == r.failOn {
		return errors.New("no ack")
	}
	return nil
}

func TestNewIsUnknown(t *testing.T) {
	t.Parallel()

	c := New(6)
	assert.Equal(t, 6, c.Len())
	assert.Equal(t, []int{-1, -1, -1, -1, -1, -1}, c.Levels())
	assert.Equal(t, Unknown, c.Confirmed(0))
	assert.Equal(t, Unknown, c.Confirmed(7))
}

func TestReconcileSendsOnlyChanges(t *testing.T) {
	t.Parallel()

	c := New(3)
	rec := &sendRecorder{}

	sent, err := c.Reconcile([]int{50, 0, 75}, false, rec.send)
	require.NoError(t, err)
	assert.Equal(t, 3, sent, "everything is unknown at first")

	rec.calls = nil
	sent, err = c.Reconcile([]int{50, 0, 75}, false, rec.send)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, rec.calls)

	sent, err = c.Reconcile([]int{50, 60, 75}, false, rec.send)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, [][2]int{{2, 60}}, rec.calls)
	assert.Equal(t, 60, c.Confirmed(2))
}

func TestReconcileForce(t *testing.T) {
	t.Parallel()

	c := New(2)
	rec := &sendRecorder{}
	_, err := c.Reconcile([]int{40, 40}, false, rec.send)
	require.NoError(t, err)

	rec.calls = nil
	sent, err := c.Reconcile([]int{40, 40}, true, rec.send)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, [][2]int{{1, 40}, {2, 40}}, rec.calls)
}

func TestReconcileStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	c := New(6)
	rec := &sendRecorder{failOn: 5}

	sent, err := c.Reconcile([]int{10, 20, 30, 40, 50, 60}, false, rec.send)
	require.Error(t, err)
	assert.Equal(t, 4, sent)
	assert.Len(t, rec.calls, 5, "channel 6 is never attempted")
	assert.Equal(t, []int{10, 20, 30, 40, Unknown, Unknown}, c.Levels())

	// the failed channel is retried next time
	rec.failOn = 0
	rec.calls = nil
	sent, err = c.Reconcile([]int{10, 20, 30, 40, 50, 60}, false, rec.send)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, [][2]int{{5, 50}, {6, 60}}, rec.calls)
}

func TestResetForcesResend(t *testing.T) {
	t.Parallel()

	c := New(2)
	rec := &sendRecorder{}
	_, err := c.Reconcile([]int{70, 80}, false, rec.send)
	require.NoError(t, err)

	c.Reset()
	assert.Equal(t, []int{2}, c.Pending([]int{Unknown, 80}, false))
	assert.Equal(t, []int{1, 2}, c.Pending([]int{70, 80}, false))
}

func TestPendingIgnoresExtraTargets(t *testing.T) {
	t.Parallel()

	c := New(1)
	assert.Equal(t, []int{1}, c.Pending([]int{5, 6, 7}, false))
	assert.Empty(t, New(0).Pending([]int{5}, true))
}
