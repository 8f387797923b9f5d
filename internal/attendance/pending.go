package attendance

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jacksonlee411/college-attendance-desk/internal/debounce"
)

const DefaultAutoSaveDelay = 2 * time.Second

// PendingTracker holds edited but unsaved values. With auto-save on, the whole
// map is flushed once it has been quiet for the delay; each edit restarts the
// wait.
type PendingTracker struct {
	mu       sync.Mutex
	pending  map[string]int
	autoSave bool

	flush func([]Item)
	deb   *debounce.Debouncer[struct{}]
}

func NewPendingTracker(delay time.Duration, autoSave bool, clock clockwork.Clock, flush func([]Item)) *PendingTracker {
	if delay <= 0 {
		delay = DefaultAutoSaveDelay
	}
	p := &PendingTracker{
		pending:  make(map[string]int),
		autoSave: autoSave,
		flush:    flush,
	}
	p.deb = debounce.New(delay, func(struct{}) { p.settle() }, debounce.WithClock(clock))
	return p
}

func (p *PendingTracker) settle() {
	items := p.Take()
	if len(items) == 0 {
		return
	}
	p.flush(items)
}

// Edit records value for studentID. A value equal to the committed one
// removes the entry instead.
func (p *PendingTracker) Edit(studentID string, value int, committed int) {
	p.mu.Lock()
	if value == committed {
		delete(p.pending, studentID)
	} else {
		p.pending[studentID] = value
	}
	n := len(p.pending)
	autoSave := p.autoSave
	p.mu.Unlock()

	if !autoSave {
		return
	}
	if n == 0 {
		p.deb.Cancel()
		return
	}
	p.deb.Set(struct{}{})
}

// Take returns every pending entry ordered by student id and empties the map.
func (p *PendingTracker) Take() []Item {
	p.deb.Cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	items := p.itemsLocked()
	clear(p.pending)
	return items
}

func (p *PendingTracker) Items() []Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.itemsLocked()
}

func (p *PendingTracker) itemsLocked() []Item {
	items := make([]Item, 0, len(p.pending))
	for id, v := range p.pending {
		items = append(items, Item{StudentID: id, Value: v})
	}
	slices.SortFunc(items, func(a, b Item) int { return strings.Compare(a.StudentID, b.StudentID) })
	return items
}

func (p *PendingTracker) Get(studentID string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.pending[studentID]
	return v, ok
}

func (p *PendingTracker) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// SetAutoSave toggles auto-save. Turning it on with edits waiting starts the
// quiet period; turning it off keeps the edits for an explicit save.
func (p *PendingTracker) SetAutoSave(on bool) {
	p.mu.Lock()
	p.autoSave = on
	n := len(p.pending)
	p.mu.Unlock()
	if !on {
		p.deb.Cancel()
		return
	}
	if n > 0 {
		p.deb.Set(struct{}{})
	}
}

func (p *PendingTracker) AutoSave() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.autoSave
}

// Reset drops pending edits and returns how many were dropped.
func (p *PendingTracker) Reset() int {
	return len(p.Take())
}

// Stop cancels the auto-save timer for good.
func (p *PendingTracker) Stop() {
	p.deb.Stop()
}
