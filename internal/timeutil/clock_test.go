package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	d := clock.Since(past)

	if d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestRealClock_NewTimer(t *testing.T) {
	clock := RealClock{}
	timer := clock.NewTimer(10 * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C():
		// Timer fired as expected
	case <-time.After(time.Second):
		t.Error("timer did not fire")
	}
}

func TestMockClock_SetAndSince(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	if !clock.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", clock.Now(), start)
	}

	clock.Set(start.Add(time.Hour))
	if got := clock.Since(start); got != time.Hour {
		t.Errorf("Since() = %v, want 1h", got)
	}

	clock.Advance(250 * time.Millisecond)
	if got := clock.Since(start); got != time.Hour+250*time.Millisecond {
		t.Errorf("Since() after Advance = %v", got)
	}
}

func TestMockClock_Timer(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	timer := clock.NewTimer(250 * time.Millisecond)

	clock.Advance(100 * time.Millisecond)
	select {
	case <-timer.C():
		t.Error("timer fired too early")
	default:
	}

	clock.Advance(150 * time.Millisecond)
	select {
	case now := <-timer.C():
		if !now.Equal(start.Add(250 * time.Millisecond)) {
			t.Errorf("timer delivered %v", now)
		}
	default:
		t.Error("timer did not fire at its deadline")
	}

	if pending := clock.PendingTimers(); len(pending) != 0 {
		t.Errorf("PendingTimers() = %v, want none", pending)
	}
}

func TestMockClock_Timer_Stop(t *testing.T) {
	clock := NewMockClock(time.Now())
	timer := clock.NewTimer(time.Minute)

	if !timer.Stop() {
		t.Error("Stop should return true for active timer")
	}
	if timer.Stop() {
		t.Error("second Stop should return false")
	}

	clock.Advance(2 * time.Minute)
	select {
	case <-timer.C():
		t.Error("stopped timer should not fire")
	default:
	}
}

func TestMockClock_PendingTimers(t *testing.T) {
	clock := NewMockClock(time.Now())
	a := clock.NewTimer(time.Second)
	clock.NewTimer(2 * time.Second)
	clock.NewTimer(3 * time.Second)
	a.Stop()

	got := clock.PendingTimers()
	if len(got) != 2 || got[0] != 2*time.Second || got[1] != 3*time.Second {
		t.Errorf("PendingTimers() = %v, want [2s 3s]", got)
	}

	clock.Advance(2 * time.Second)
	got = clock.PendingTimers()
	if len(got) != 1 || got[0] != 3*time.Second {
		t.Errorf("PendingTimers() after advance = %v, want [3s]", got)
	}
}
