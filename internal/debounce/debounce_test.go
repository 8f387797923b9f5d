package debounce

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

const quiet = 300 * time.Millisecond

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced value")
	}
	var zero T
	return zero
}

func expectNone[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDebouncer_LastValueWins(t *testing.T) {
	clock := clockwork.NewFakeClock()
	got := make(chan int, 8)
	d := New(quiet, func(v int) { got <- v }, WithClock(clock))

	for i := 1; i <= 5; i++ {
		d.Set(i)
		clock.Advance(quiet / 3)
	}
	expectNone(t, got)
	if !d.Pending() {
		t.Fatal("expected pending value")
	}

	clock.Advance(quiet)
	if v := recv(t, got); v != 5 {
		t.Fatalf("got=%d", v)
	}
	expectNone(t, got)
	if d.Pending() {
		t.Fatal("expected no pending value after settle")
	}
}

func TestDebouncer_SettlesOncePerQuietPeriod(t *testing.T) {
	clock := clockwork.NewFakeClock()
	got := make(chan string, 8)
	d := New(quiet, func(v string) { got <- v }, WithClock(clock))

	d.Set("a")
	clock.Advance(quiet)
	if v := recv(t, got); v != "a" {
		t.Fatalf("got=%q", v)
	}

	d.Set("b")
	d.Set("c")
	clock.Advance(quiet)
	if v := recv(t, got); v != "c" {
		t.Fatalf("got=%q", v)
	}
	expectNone(t, got)
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	clock := clockwork.NewFakeClock()
	got := make(chan int, 8)
	d := New(quiet, func(v int) { got <- v }, WithClock(clock))

	d.Set(1)
	d.Stop()
	clock.Advance(2 * quiet)
	expectNone(t, got)

	d.Set(2)
	clock.Advance(2 * quiet)
	expectNone(t, got)
	if d.Pending() {
		t.Fatal("stopped debouncer must not hold values")
	}
	if d.Flush() {
		t.Fatal("flush after stop must not fire")
	}
}

func TestDebouncer_Flush(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var fired []int
	d := New(quiet, func(v int) { fired = append(fired, v) }, WithClock(clock))

	if d.Flush() {
		t.Fatal("flush without pending value must report false")
	}
	d.Set(7)
	if !d.Flush() {
		t.Fatal("expected flush")
	}
	if len(fired) != 1 || fired[0] != 7 {
		t.Fatalf("fired=%v", fired)
	}
}

func TestDebouncer_FlushPreventsLateFire(t *testing.T) {
	clock := clockwork.NewFakeClock()
	got := make(chan int, 8)
	d := New(quiet, func(v int) { got <- v }, WithClock(clock))

	d.Set(3)
	d.Flush()
	if v := recv(t, got); v != 3 {
		t.Fatalf("got=%d", v)
	}
	clock.Advance(2 * quiet)
	expectNone(t, got)
}

func TestDebouncer_Cancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	got := make(chan int, 8)
	d := New(quiet, func(v int) { got <- v }, WithClock(clock))

	d.Set(1)
	d.Cancel()
	clock.Advance(2 * quiet)
	expectNone(t, got)

	d.Set(2)
	clock.Advance(quiet)
	if v := recv(t, got); v != 2 {
		t.Fatalf("got=%d", v)
	}
}
