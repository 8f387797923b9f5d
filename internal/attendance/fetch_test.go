package attendance

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFetcher_CacheHitSkipsNetwork(t *testing.T) {
	b := &stubBackend{}
	cache := NewMemoryCache()
	f := NewFetcher(b, cache, zap.NewNop())

	snap, err := f.Fetch(context.Background(), sampleFilter())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if snap.FromCache || snap.WorkingDays != 20 || len(snap.ClassAttendance.Students) != 3 {
		t.Fatalf("snap=%+v", snap)
	}

	snap, err = f.Fetch(context.Background(), sampleFilter())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !snap.FromCache {
		t.Fatal("expected cache hit")
	}
	if b.workingDaysCalls.Load() != 1 || b.classCalls.Load() != 1 {
		t.Fatalf("calls wd=%d class=%d", b.workingDaysCalls.Load(), b.classCalls.Load())
	}

	cache.Invalidate(sampleFilter().Key())
	if _, err := f.Fetch(context.Background(), sampleFilter()); err != nil {
		t.Fatalf("err=%v", err)
	}
	cache.Clear()
	if _, err := f.Fetch(context.Background(), sampleFilter()); err != nil {
		t.Fatalf("err=%v", err)
	}
	if b.workingDaysCalls.Load() != 3 || b.classCalls.Load() != 3 {
		t.Fatalf("calls wd=%d class=%d", b.workingDaysCalls.Load(), b.classCalls.Load())
	}
}

func TestFetcher_IncompleteFilterDoesNothing(t *testing.T) {
	b := &stubBackend{}
	f := NewFetcher(b, nil, nil)
	_, err := f.Fetch(context.Background(), FilterSet{Year: 1, Group: GroupMPC, Month: "january"})
	if !errors.Is(err, ErrIncompleteFilter) {
		t.Fatalf("err=%v", err)
	}
	if b.workingDaysCalls.Load() != 0 || b.classCalls.Load() != 0 {
		t.Fatal("unexpected network call")
	}
}

func TestFetcher_EitherFailureFails(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name string
		b    *stubBackend
	}{
		{
			name: "working days",
			b: &stubBackend{getWorkingDays: func(context.Context, string, string) (int, error) {
				return 0, boom
			}},
		},
		{
			name: "class",
			b: &stubBackend{getClass: func(context.Context, FilterSet) (ClassAttendance, error) {
				return ClassAttendance{}, boom
			}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cache := NewMemoryCache()
			f := NewFetcher(tc.b, cache, nil)
			if _, err := f.Fetch(context.Background(), sampleFilter()); !errors.Is(err, boom) {
				t.Fatalf("err=%v", err)
			}
			if cache.Len() != 0 {
				t.Fatal("partial result cached")
			}
		})
	}
}

func TestFetcher_WorkingDaysMismatch(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	b := &stubBackend{
		getWorkingDays: func(context.Context, string, string) (int, error) { return 22, nil },
		getClass: func(context.Context, FilterSet) (ClassAttendance, error) {
			return sampleClass(20), nil
		},
	}
	f := NewFetcher(b, NewMemoryCache(), zap.New(core))

	snap, err := f.Fetch(context.Background(), sampleFilter())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !snap.Mismatch || snap.WorkingDays != 22 {
		t.Fatalf("snap=%+v", snap)
	}
	if n := logs.FilterMessage("attendance: working days mismatch").Len(); n != 1 {
		t.Fatalf("warnings=%d", n)
	}

	snap, err = f.Fetch(context.Background(), sampleFilter())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !snap.FromCache || !snap.Mismatch {
		t.Fatalf("snap=%+v", snap)
	}
	if n := logs.FilterMessage("attendance: working days mismatch").Len(); n != 1 {
		t.Fatalf("cache hit logged again: %d", n)
	}
}
