package views

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftlist/pkg/store"
)

func fixedNow() time.Time {
	return time.Date(2026, 2, 14, 15, 30, 0, 0, time.UTC)
}

func newTestReconciler(t *testing.T) (*store.Store, *Reconciler) {
	t.Helper()
	st := store.New("alice")
	t.Cleanup(st.Close)
	r := NewReconciler(st)
	t.Cleanup(r.Close)
	r.SetClock(fixedNow)
	return st, r
}

func TestProjection_BucketsByListAndCompletion(t *testing.T) {
	st, r := newTestReconciler(t)

	list, err := st.AddList("groceries")
	require.NoError(t, err)
	open, err := st.AddTask(store.TaskDraft{Title: "open", By: "alice", ListID: list.ID})
	require.NoError(t, err)
	done, err := st.AddTask(store.TaskDraft{Title: "done", By: "alice", ListID: list.ID})
	require.NoError(t, err)
	require.NoError(t, st.SetTaskCompleted(done.ID, true, "alice"))
	loose, err := st.AddTask(store.TaskDraft{Title: "loose", By: "alice"})
	require.NoError(t, err)

	p := r.Current()
	require.Contains(t, p.ByList, list.ID)
	require.Len(t, p.ByList[list.ID].Uncompleted, 1)
	assert.Equal(t, open.ID, p.ByList[list.ID].Uncompleted[0].ID)
	require.Len(t, p.ByList[list.ID].Completed, 1)
	assert.Equal(t, done.ID, p.ByList[list.ID].Completed[0].ID)

	// Uncategorized tasks bucket under the empty list id.
	require.Contains(t, p.ByList, "")
	assert.Equal(t, loose.ID, p.ByList[""].Uncompleted[0].ID)
}

func TestProjection_NewestFirstWithinBucket(t *testing.T) {
	st, r := newTestReconciler(t)

	first, err := st.AddTask(store.TaskDraft{Title: "first", By: "alice"})
	require.NoError(t, err)
	second, err := st.AddTask(store.TaskDraft{Title: "second", By: "alice"})
	require.NoError(t, err)

	got := r.Current().ByList[""].Uncompleted
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, first.ID, got[1].ID)
}

func TestProjection_EqualKeysOrderDeterministically(t *testing.T) {
	st, r := newTestReconciler(t)

	a, err := st.AddTask(store.TaskDraft{Title: "a", By: "alice", SortOrder: "a1"})
	require.NoError(t, err)
	b, err := st.AddTask(store.TaskDraft{Title: "b", By: "alice", SortOrder: "a1"})
	require.NoError(t, err)

	got := r.Current().ByList[""].Uncompleted
	require.Len(t, got, 2)
	want := []string{a.ID, b.ID}
	if want[0] > want[1] {
		want[0], want[1] = want[1], want[0]
	}
	assert.Equal(t, want, []string{got[0].ID, got[1].ID})
}

func TestProjection_FocusCrossesLists(t *testing.T) {
	st, r := newTestReconciler(t)

	list, err := st.AddList("groceries")
	require.NoError(t, err)
	inList, err := st.AddTask(store.TaskDraft{Title: "in list", By: "alice", ListID: list.ID, Focus: true})
	require.NoError(t, err)
	loose, err := st.AddTask(store.TaskDraft{Title: "loose", By: "alice", Focus: true})
	require.NoError(t, err)
	completedFocus, err := st.AddTask(store.TaskDraft{Title: "done", By: "alice", Focus: true})
	require.NoError(t, err)
	require.NoError(t, st.SetTaskCompleted(completedFocus.ID, true, "alice"))

	focus := r.Current().Focus
	ids := []string{}
	for _, task := range focus {
		ids = append(ids, task.ID)
	}
	assert.ElementsMatch(t, []string{inList.ID, loose.ID}, ids)
	// Newest focus entry first.
	assert.Equal(t, loose.ID, focus[0].ID)
}

func TestProjection_DueByCalendarDay(t *testing.T) {
	st, r := newTestReconciler(t)

	overdue, err := st.AddTask(store.TaskDraft{Title: "overdue", By: "alice", DueDate: "2026-02-01"})
	require.NoError(t, err)
	today, err := st.AddTask(store.TaskDraft{Title: "today", By: "alice", DueDate: "2026-02-14"})
	require.NoError(t, err)
	_, err = st.AddTask(store.TaskDraft{Title: "tomorrow", By: "alice", DueDate: "2026-02-15"})
	require.NoError(t, err)
	doneOverdue, err := st.AddTask(store.TaskDraft{Title: "done", By: "alice", DueDate: "2026-02-01"})
	require.NoError(t, err)
	require.NoError(t, st.SetTaskCompleted(doneOverdue.ID, true, "alice"))

	r.Refresh()
	due := r.Current().Due
	require.Len(t, due, 2)
	// Ascending by date: most overdue first.
	assert.Equal(t, overdue.ID, due[0].ID)
	assert.Equal(t, today.ID, due[1].ID)
}

func TestOnChange_ContentEditsSkipRecompute(t *testing.T) {
	st, r := newTestReconciler(t)

	task, err := st.AddTask(store.TaskDraft{Title: "stable", By: "alice"})
	require.NoError(t, err)
	before := r.Current()

	// Title and body edits collapse into the logical content field, which
	// is off the watch list: the projection pointer must not move.
	require.NoError(t, st.SetTaskTitle(task.ID, "still stable", "alice"))
	assert.Same(t, before, r.Current())

	// A watched field flips the pointer.
	require.NoError(t, st.SetTaskCompleted(task.ID, true, "alice"))
	assert.NotSame(t, before, r.Current())
}

func TestOnChange_UnrelatedCollectionsSkipRecompute(t *testing.T) {
	st, r := newTestReconciler(t)

	_, err := st.AddTask(store.TaskDraft{Title: "x", By: "alice"})
	require.NoError(t, err)
	before := r.Current()

	// List and presence edits carry field names that shadow the watch
	// list ("sortOrder") but live outside the tasks collection.
	list, err := st.AddList("groceries")
	require.NoError(t, err)
	require.NoError(t, st.RenameList(list.ID, "food"))
	require.NoError(t, st.TouchPresence("bob", "Bob", "#00ff00"))
	assert.Same(t, before, r.Current())
}

func TestSubscribe_PublishesOnRecompute(t *testing.T) {
	st, r := newTestReconciler(t)

	var published []*Projection
	unsub := r.Subscribe(func(p *Projection) { published = append(published, p) })

	_, err := st.AddTask(store.TaskDraft{Title: "x", By: "alice"})
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Same(t, r.Current(), published[0])

	unsub()
	_, err = st.AddTask(store.TaskDraft{Title: "y", By: "alice"})
	require.NoError(t, err)
	assert.Len(t, published, 1)
}

func TestCompute_Deterministic(t *testing.T) {
	st, r := newTestReconciler(t)

	for i := 0; i < 10; i++ {
		_, err := st.AddTask(store.TaskDraft{Title: "t", By: "alice"})
		require.NoError(t, err)
	}

	first := r.Current()
	r.Refresh()
	second := r.Current()
	// Same input state, same output order, regardless of map iteration.
	assert.Equal(t, first, second)
}
