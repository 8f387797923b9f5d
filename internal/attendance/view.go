package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/jacksonlee411/college-attendance-desk/internal/debounce"
	"github.com/jacksonlee411/college-attendance-desk/pkg/authz"
	"github.com/jacksonlee411/college-attendance-desk/pkg/portalerr"
)

const (
	DefaultFilterDelay = 300 * time.Millisecond
	DefaultProgressTTL = 2 * time.Second
	MaxWorkingDays     = 31
)

var (
	ErrViewClosed     = errors.New("attendance: view closed")
	ErrNotLoaded      = errors.New("attendance: no class loaded")
	ErrUnknownStudent = errors.New("attendance: student not in the loaded class")
)

// Authorizer mirrors the backend's role rules for gating actions locally.
type Authorizer interface {
	Allowed(role string, object string, action string) (bool, error)
}

type Options struct {
	Backend    Backend
	Cache      Cache
	Logger     *zap.Logger
	Clock      clockwork.Clock
	Authorizer Authorizer
	// Role returns the signed-in user's role slug.
	Role func() string

	FilterDelay   time.Duration
	AutoSaveDelay time.Duration
	BatchSize     int
	AutoSave      bool
	ProgressTTL   time.Duration

	// OnChange is called with a fresh State after every visible change.
	OnChange func(State)
}

// State is a copy of everything a screen needs to render the view.
type State struct {
	Filter      FilterSet
	Loaded      bool
	Students    []StudentAttendanceRow
	WorkingDays int
	Mismatch    bool
	Loading     bool
	Error       string
	Progress    string
	Pending     []Item
	AutoSave    bool
}

// View owns the cache, pending edits and timers of one open attendance screen.
// Close releases all of them.
type View struct {
	opts    Options
	logger  *zap.Logger
	clock   clockwork.Clock
	cache   Cache
	fetcher *Fetcher
	bulk    *BulkUpdater
	pending *PendingTracker
	filters *debounce.Debouncer[FilterSet]

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	filter        FilterSet
	snap          Snapshot
	loaded        bool
	committed     map[string]int
	loading       bool
	errMsg        string
	progress      string
	progressGen   uint64
	progressTimer clockwork.Timer
	fetchSeq      uint64
	fetchCancel   context.CancelFunc
	fetchDone     chan struct{}
	lastAutoSave  *BulkResult
	closed        bool
}

func NewView(opts Options) (*View, error) {
	if opts.Backend == nil {
		return nil, errors.New("attendance: backend is required")
	}
	if opts.Cache == nil {
		opts.Cache = NewMemoryCache()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.FilterDelay <= 0 {
		opts.FilterDelay = DefaultFilterDelay
	}
	if opts.ProgressTTL <= 0 {
		opts.ProgressTTL = DefaultProgressTTL
	}
	if opts.Role == nil {
		opts.Role = func() string { return "" }
	}

	ctx, cancel := context.WithCancel(context.Background())
	v := &View{
		opts:      opts,
		logger:    opts.Logger,
		clock:     opts.Clock,
		cache:     opts.Cache,
		fetcher:   NewFetcher(opts.Backend, opts.Cache, opts.Logger),
		bulk:      NewBulkUpdater(opts.Backend, opts.Cache, opts.Logger, opts.BatchSize),
		ctx:       ctx,
		cancel:    cancel,
		committed: make(map[string]int),
	}
	v.pending = NewPendingTracker(opts.AutoSaveDelay, opts.AutoSave, opts.Clock, v.autoSave)
	v.filters = debounce.New(opts.FilterDelay, func(f FilterSet) {
		_ = v.load(v.ctx, f)
	}, debounce.WithClock(opts.Clock))
	return v, nil
}

// SetFilter records a filter change. The fetch happens once the whole tuple
// has been stable for the filter delay.
func (v *View) SetFilter(f FilterSet) {
	f = f.Normalize()
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.filter = f
	v.mu.Unlock()
	v.filters.Set(f)
}

// Load fetches f right away, skipping the filter debounce.
func (v *View) Load(ctx context.Context, f FilterSet) error {
	f = f.Normalize()
	v.filters.Cancel()
	v.mu.Lock()
	v.filter = f
	v.mu.Unlock()
	return v.load(ctx, f)
}

// Settle runs a waiting filter change right away and blocks until no fetch
// is in flight. Failures end up in State().Error.
func (v *View) Settle(ctx context.Context) error {
	v.filters.Flush()
	for {
		v.mu.Lock()
		done := v.fetchDone
		v.mu.Unlock()
		if done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Refresh reloads the current filter. After an invalidation this goes to the
// network.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	f := v.filter
	v.mu.Unlock()
	return v.Load(ctx, f)
}

func (v *View) load(ctx context.Context, f FilterSet) error {
	if !f.Complete() {
		return ErrIncompleteFilter
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	if v.fetchCancel != nil {
		v.fetchCancel()
	}
	v.fetchSeq++
	seq := v.fetchSeq
	fctx, cancel := context.WithCancel(ctx)
	v.fetchCancel = cancel
	done := make(chan struct{})
	v.fetchDone = done
	defer v.finishFetch(done)
	_, hit := v.cache.Get(f.Key())
	if !hit {
		v.loading = true
	}
	v.mu.Unlock()
	if !hit {
		v.notify()
	}

	snap, err := v.fetcher.Fetch(fctx, f)
	cancel()

	v.mu.Lock()
	if seq != v.fetchSeq || v.closed {
		v.mu.Unlock()
		if err != nil {
			return err
		}
		return context.Canceled
	}
	v.fetchCancel = nil
	v.loading = false
	if err != nil {
		v.errMsg = portalerr.UserMessage(err)
		v.mu.Unlock()
		v.logger.Warn("attendance: fetch failed", zap.String("key", f.Key()), zap.Error(err))
		v.notify()
		return err
	}
	v.adoptLocked(snap)
	v.mu.Unlock()
	v.notify()
	return nil
}

func (v *View) finishFetch(done chan struct{}) {
	v.mu.Lock()
	if v.fetchDone == done {
		v.fetchDone = nil
	}
	v.mu.Unlock()
	close(done)
}

func (v *View) adoptLocked(snap Snapshot) {
	if v.loaded && v.snap.Filter.Key() != snap.Filter.Key() {
		if n := v.pending.Reset(); n > 0 {
			v.logger.Warn("attendance: dropped unsaved edits on filter change",
				zap.String("from", v.snap.Filter.Key()),
				zap.String("to", snap.Filter.Key()),
				zap.Int("count", n),
			)
		}
	}
	v.snap = snap
	v.loaded = true
	v.errMsg = ""
	clear(v.committed)
	for _, s := range snap.ClassAttendance.Students {
		v.committed[s.StudentID] = s.DaysPresent
	}
}

// Edit stages a new days-present value for one student. Values outside
// [0, working days] are rejected and never staged.
func (v *View) Edit(studentID string, value int) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	if !v.loaded {
		v.mu.Unlock()
		return ErrNotLoaded
	}
	committed, ok := v.committed[studentID]
	workingDays := v.snap.WorkingDays
	v.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStudent, studentID)
	}
	if err := ValidateItems([]Item{{StudentID: studentID, Value: value}}, workingDays); err != nil {
		return v.fail(err)
	}
	v.pending.Edit(studentID, value, committed)
	v.notify()
	return nil
}

func (v *View) SetAutoSave(on bool) {
	v.pending.SetAutoSave(on)
	v.notify()
}

// SaveAll sends every pending edit and clears the pending set. Edits are kept
// when any of them fails validation.
func (v *View) SaveAll(ctx context.Context) (BulkResult, error) {
	v.mu.Lock()
	workingDays := v.snap.WorkingDays
	v.mu.Unlock()
	if err := ValidateItems(v.pending.Items(), workingDays); err != nil {
		return BulkResult{}, v.fail(err)
	}
	return v.BulkUpdate(ctx, v.pending.Take())
}

func (v *View) autoSave(items []Item) {
	res, err := v.BulkUpdate(v.ctx, items)
	if err != nil {
		v.logger.Warn("attendance: auto-save failed", zap.Int("items", len(items)), zap.Error(err))
		return
	}
	v.mu.Lock()
	v.lastAutoSave = &res
	v.mu.Unlock()
}

// LastAutoSave returns the outcome of the most recent auto-save, if any.
func (v *View) LastAutoSave() (BulkResult, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.lastAutoSave == nil {
		return BulkResult{}, false
	}
	return *v.lastAutoSave, true
}

// BulkUpdate commits items for the loaded class-month and applies the
// server-confirmed values of the items that succeeded.
func (v *View) BulkUpdate(ctx context.Context, items []Item) (BulkResult, error) {
	if err := v.allow(authz.ObjectStudentAttendance, authz.ActionWrite); err != nil {
		return BulkResult{}, v.fail(err)
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return BulkResult{}, ErrViewClosed
	}
	if !v.loaded {
		v.mu.Unlock()
		return BulkResult{}, ErrNotLoaded
	}
	scope := v.snap.Filter
	workingDays := v.snap.WorkingDays
	v.mu.Unlock()

	res, err := v.bulk.Run(ctx, scope, workingDays, items, v.setProgress)
	if err != nil {
		return BulkResult{}, v.fail(err)
	}

	v.mu.Lock()
	if v.snap.Filter.Key() == scope.Key() {
		for _, o := range res.Outcomes {
			if o.Success {
				v.commitLocked(o.StudentID, o.Value)
			}
		}
	}
	if res.Failed > 0 {
		v.errMsg = fmt.Sprintf("%d of %d updates failed. Please try again.", res.Failed, res.Total)
	} else {
		v.errMsg = ""
	}
	v.mu.Unlock()
	v.notify()
	return res, nil
}

// UpdateStudent commits one value outside the pending set.
func (v *View) UpdateStudent(ctx context.Context, studentID string, value int) (int, error) {
	if err := v.allow(authz.ObjectStudentAttendance, authz.ActionWrite); err != nil {
		return 0, v.fail(err)
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return 0, ErrViewClosed
	}
	if !v.loaded {
		v.mu.Unlock()
		return 0, ErrNotLoaded
	}
	scope := v.snap.Filter
	workingDays := v.snap.WorkingDays
	v.mu.Unlock()

	if err := ValidateItems([]Item{{StudentID: studentID, Value: value}}, workingDays); err != nil {
		return 0, v.fail(err)
	}
	confirmed, err := v.opts.Backend.UpdateStudentAttendance(ctx, studentID, scope.AcademicYear, scope.Month, value)
	if err != nil {
		v.logger.Error("attendance: update failed", zap.String("student_id", studentID), zap.Error(err))
		return 0, v.fail(err)
	}
	v.cache.Invalidate(scope.Key())
	if p, ok := v.pending.Get(studentID); ok && p == confirmed {
		v.pending.Edit(studentID, confirmed, confirmed)
	}

	v.mu.Lock()
	if v.snap.Filter.Key() == scope.Key() {
		v.commitLocked(studentID, confirmed)
	}
	v.errMsg = ""
	v.mu.Unlock()
	v.notify()
	return confirmed, nil
}

// SetWorkingDays changes the month's working-day count, drops every cached
// entry and reloads the current class.
func (v *View) SetWorkingDays(ctx context.Context, value int) error {
	if err := v.allow(authz.ObjectWorkingDays, authz.ActionWrite); err != nil {
		return v.fail(err)
	}
	if value < 0 || value > MaxWorkingDays {
		return v.fail(portalerr.NewValidation("working_days", fmt.Sprintf("must be between 0 and %d", MaxWorkingDays)))
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	f := v.filter
	v.mu.Unlock()
	if f.AcademicYear == "" || f.Month == "" {
		return ErrIncompleteFilter
	}

	if err := v.opts.Backend.SetWorkingDays(ctx, f.AcademicYear, f.Month, value); err != nil {
		return v.fail(err)
	}
	v.cache.Clear()
	if !f.Complete() {
		return nil
	}
	return v.Load(ctx, f)
}

func (v *View) commitLocked(studentID string, value int) {
	v.committed[studentID] = value
	for i := range v.snap.ClassAttendance.Students {
		s := &v.snap.ClassAttendance.Students[i]
		if s.StudentID == studentID {
			s.DaysPresent = value
			s.AttendancePercentage = Percentage(value, v.snap.WorkingDays)
		}
	}
}

func (v *View) allow(object string, action string) error {
	if v.opts.Authorizer == nil {
		return nil
	}
	ok, err := v.opts.Authorizer.Allowed(v.opts.Role(), object, action)
	if err != nil {
		return err
	}
	if !ok {
		return portalerr.ErrForbidden
	}
	return nil
}

func (v *View) fail(err error) error {
	v.mu.Lock()
	v.errMsg = portalerr.UserMessage(err)
	v.mu.Unlock()
	v.notify()
	return err
}

func (v *View) setProgress(msg string, done bool) {
	v.mu.Lock()
	v.progress = msg
	v.progressGen++
	if v.progressTimer != nil {
		v.progressTimer.Stop()
		v.progressTimer = nil
	}
	if done && !v.closed {
		gen := v.progressGen
		v.progressTimer = v.clock.AfterFunc(v.opts.ProgressTTL, func() { v.clearProgress(gen) })
	}
	v.mu.Unlock()
	v.notify()
}

func (v *View) clearProgress(gen uint64) {
	v.mu.Lock()
	if gen != v.progressGen || v.closed {
		v.mu.Unlock()
		return
	}
	v.progress = ""
	v.progressTimer = nil
	v.mu.Unlock()
	v.notify()
}

func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	st := State{
		Filter:      v.filter,
		Loaded:      v.loaded,
		WorkingDays: v.snap.WorkingDays,
		Mismatch:    v.snap.Mismatch,
		Loading:     v.loading,
		Error:       v.errMsg,
		Progress:    v.progress,
		Pending:     v.pending.Items(),
		AutoSave:    v.pending.AutoSave(),
	}
	if v.loaded {
		st.Filter = v.snap.Filter
		st.Students = append([]StudentAttendanceRow(nil), v.snap.ClassAttendance.Students...)
	}
	return st
}

func (v *View) notify() {
	if v.opts.OnChange == nil {
		return
	}
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return
	}
	v.opts.OnChange(v.State())
}

// Close stops every timer, cancels in-flight fetches and discards pending
// edits. No callback fires afterwards.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	if v.fetchCancel != nil {
		v.fetchCancel()
		v.fetchCancel = nil
	}
	if v.progressTimer != nil {
		v.progressTimer.Stop()
		v.progressTimer = nil
	}
	v.mu.Unlock()

	v.filters.Stop()
	v.pending.Stop()
	v.cancel()
}
