package idle

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestResetRestartsTimer(t *testing.T) {
	timers := NewTimers(nil)
	defer timers.StopAll()

	var fired atomic.Int32
	timers.Reset("1", 20*time.Millisecond, func() { fired.Add(1) })
	timers.Reset("1", 20*time.Millisecond, func() { fired.Add(1) })

	deadline := time.Now().Add(time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	// Give the first (cancelled) timer a chance to misfire.
	time.Sleep(30 * time.Millisecond)

	if got := fired.Load(); got != 1 {
		t.Fatalf("fired %d times, want exactly 1", got)
	}
	if timers.Len() != 0 {
		t.Fatalf("Len() = %d, handle leaked after fire", timers.Len())
	}
}

func TestStopCancels(t *testing.T) {
	timers := NewTimers(nil)
	defer timers.StopAll()

	var fired atomic.Int32
	timers.Reset("1", 20*time.Millisecond, func() { fired.Add(1) })
	timers.Stop("1")

	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("stopped timer fired")
	}
	if timers.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", timers.Len())
	}
}

func TestStopAllCancelsEverything(t *testing.T) {
	timers := NewTimers(nil)

	var fired atomic.Int32
	for _, phone := range []string{"1", "2", "3"} {
		timers.Reset(phone, 20*time.Millisecond, func() { fired.Add(1) })
	}
	timers.StopAll()

	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("fired %d times after StopAll", fired.Load())
	}
}
