package attendance

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Snapshot is the result of one fetch for a FilterSet.
type Snapshot struct {
	Filter          FilterSet
	ClassAttendance ClassAttendance
	// WorkingDays is the standalone figure; it bounds every edit.
	WorkingDays int
	FromCache   bool
	// Mismatch is set when the class payload disagreed with WorkingDays.
	Mismatch bool
}

type Fetcher struct {
	backend Backend
	cache   Cache
	logger  *zap.Logger
}

func NewFetcher(backend Backend, cache Cache, logger *zap.Logger) *Fetcher {
	if cache == nil {
		cache = NopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{backend: backend, cache: cache, logger: logger}
}

// Fetch returns the class-month view for f, from the cache when present.
// Otherwise working days and the class roster are requested concurrently and
// both must succeed.
func (f *Fetcher) Fetch(ctx context.Context, filter FilterSet) (Snapshot, error) {
	filter = filter.Normalize()
	if !filter.Complete() {
		return Snapshot{}, ErrIncompleteFilter
	}
	if err := filter.Validate(); err != nil {
		return Snapshot{}, err
	}

	key := filter.Key()
	if e, ok := f.cache.Get(key); ok {
		return f.snapshot(filter, e, true), nil
	}

	var (
		workingDays int
		class       ClassAttendance
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wd, err := f.backend.GetWorkingDays(gctx, filter.AcademicYear, filter.Month)
		if err != nil {
			return err
		}
		workingDays = wd
		return nil
	})
	g.Go(func() error {
		ca, err := f.backend.GetClassAttendance(gctx, filter)
		if err != nil {
			return err
		}
		class = ca
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	e := Entry{ClassAttendance: class, WorkingDays: workingDays}
	f.cache.Put(key, e)
	return f.snapshot(filter, e, false), nil
}

func (f *Fetcher) snapshot(filter FilterSet, e Entry, fromCache bool) Snapshot {
	s := Snapshot{
		Filter:          filter,
		ClassAttendance: e.ClassAttendance,
		WorkingDays:     e.WorkingDays,
		FromCache:       fromCache,
	}
	if e.ClassAttendance.WorkingDays != e.WorkingDays {
		s.Mismatch = true
		if !fromCache {
			f.logger.Warn("attendance: working days mismatch",
				zap.String("key", filter.Key()),
				zap.Int("working_days", e.WorkingDays),
				zap.Int("class_working_days", e.ClassAttendance.WorkingDays),
			)
		}
	}
	return s
}
