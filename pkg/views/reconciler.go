// Package views derives the UI-facing projections of the task collection:
// per-list completed/uncompleted buckets, the cross-list focus list and
// the due list. All three are recomputed together in one linear pass per
// relevant change batch, so consumers always read a single consistent
// snapshot instead of filtering independently.
package views

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/driftsync/driftlist/pkg/fracindex"
	"github.com/driftsync/driftlist/pkg/store"
)

// watchFields are the task fields whose changes can move a task between
// buckets. Rich-content edits are deliberately absent: a keystroke in a
// task body must not trigger an O(n) recompute.
var watchFields = []string{"focus", "completed", "listId", "sortOrder", "focusSortOrder", "dueDate"}

// Buckets holds one list's tasks split by completion, sorted descending by
// order key (newest appended keys first).
type Buckets struct {
	Uncompleted []store.Task
	Completed   []store.Task
}

// Projection is the atomically-published output. The pointer identity is
// meaningful: it only changes when a recompute actually ran.
type Projection struct {
	// ByList buckets tasks per list id; "" is the uncategorized bucket.
	ByList map[string]Buckets
	// Focus holds uncompleted focused tasks, descending by focus key.
	Focus []store.Task
	// Due holds uncompleted tasks due today or earlier, ascending by date.
	Due []store.Task
}

// Reconciler subscribes to store changes and republishes the projection
// when a batch touches the watch list or adds/removes tasks.
type Reconciler struct {
	mu      sync.Mutex
	st      *store.Store
	current *Projection
	subs    map[int]func(*Projection)
	nextSub int
	unsub   func()

	// now is swappable for due-date tests.
	now func() time.Time
}

func NewReconciler(st *store.Store) *Reconciler {
	r := &Reconciler{
		st:   st,
		subs: map[int]func(*Projection){},
		now:  time.Now,
	}
	r.current = r.compute(st.Snapshot())
	r.unsub = st.Observe("tasks", r.onChange)
	return r
}

// Close detaches the reconciler from the store.
func (r *Reconciler) Close() {
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
}

// Current returns the last published projection.
func (r *Reconciler) Current() *Projection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Subscribe registers fn for every published projection and returns an
// unsubscribe function.
func (r *Reconciler) Subscribe(fn func(*Projection)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

func (r *Reconciler) onChange(cs store.ChangeSet) {
	// Only task changes matter; a batch can also carry list or presence
	// edits whose field names would shadow the watch list.
	tasks := make(store.ChangeSet, 0, len(cs))
	for _, c := range cs {
		if strings.HasPrefix(c.Path, "tasks/") {
			tasks = append(tasks, c)
		}
	}
	if !tasks.Structural() && !tasks.TouchesFields(watchFields...) {
		return
	}
	r.Refresh()
}

// Refresh forces a recompute from the store's current snapshot. The room
// lifecycle calls it once when the sync channel first reports caught-up,
// replacing the possibly-empty pre-sync state exactly once.
func (r *Reconciler) Refresh() {
	p := r.compute(r.st.Snapshot())
	r.mu.Lock()
	r.current = p
	targets := make([]func(*Projection), 0, len(r.subs))
	for _, fn := range r.subs {
		targets = append(targets, fn)
	}
	r.mu.Unlock()
	for _, fn := range targets {
		fn(p)
	}
}

// SetClock overrides the reconciler's wall clock. Tests only.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// dueTodayOrEarlier compares by calendar day, not wall clock: a task due
// today at any time counts, one due tomorrow does not.
func dueTodayOrEarlier(dueDate string, now time.Time) bool {
	due, err := time.Parse("2006-01-02", dueDate)
	if err != nil {
		return false
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return !due.After(today)
}

// compute performs the single forward pass and sorts each output. Nothing
// is published mid-pass.
func (r *Reconciler) compute(snap *store.Snapshot) *Projection {
	r.mu.Lock()
	now := r.now()
	r.mu.Unlock()

	p := &Projection{ByList: map[string]Buckets{}}
	for _, t := range snap.Tasks {
		b := p.ByList[t.ListID]
		if t.Completed {
			b.Completed = append(b.Completed, t)
		} else {
			b.Uncompleted = append(b.Uncompleted, t)
		}
		p.ByList[t.ListID] = b

		if t.Focus && !t.Completed {
			p.Focus = append(p.Focus, t)
		}
		if t.DueDate != "" && !t.Completed && dueTodayOrEarlier(t.DueDate, now) {
			p.Due = append(p.Due, t)
		}
	}

	bySortDesc := func(a, b store.Task) int {
		if c := fracindex.CompareDesc(a.SortOrder, b.SortOrder); c != 0 {
			return c
		}
		// Equal keys (offline collision artifact): stable on id.
		return strings.Compare(a.ID, b.ID)
	}
	for listID, b := range p.ByList {
		slices.SortFunc(b.Uncompleted, bySortDesc)
		slices.SortFunc(b.Completed, bySortDesc)
		p.ByList[listID] = b
	}
	slices.SortFunc(p.Focus, func(a, b store.Task) int {
		if c := fracindex.CompareDesc(a.FocusSortOrder, b.FocusSortOrder); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	slices.SortFunc(p.Due, func(a, b store.Task) int {
		if a.DueDate != b.DueDate {
			return strings.Compare(a.DueDate, b.DueDate)
		}
		return strings.Compare(a.ID, b.ID)
	})
	return p
}
