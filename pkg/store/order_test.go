package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftlist/pkg/fracindex"
)

func TestBetweenKeys_NoCollision(t *testing.T) {
	between, newUpper, err := betweenKeys("a0", "a1", "a2")
	require.NoError(t, err)
	assert.Empty(t, newUpper)
	assert.Greater(t, between, "a0")
	assert.Less(t, between, "a1")
}

func TestBetweenKeys_EqualKeysRepaired(t *testing.T) {
	// Duplicate bounds from concurrent offline inserts: the upper sibling
	// is pushed to a fresh key below its next neighbour, then the between
	// key is generated against that.
	between, newUpper, err := betweenKeys("a1", "a1", "a3")
	require.NoError(t, err)
	assert.Equal(t, "a2", newUpper)
	assert.Greater(t, between, "a1")
	assert.Less(t, between, newUpper)
}

func TestBetweenKeys_EqualKeysAtEnd(t *testing.T) {
	between, newUpper, err := betweenKeys("a1", "a1", "")
	require.NoError(t, err)
	assert.Equal(t, "a2", newUpper)
	assert.Equal(t, "a1V", between)
}

func TestBetweenKeys_InvalidKeySurfaces(t *testing.T) {
	_, _, err := betweenKeys("garbage", "", "")
	assert.ErrorIs(t, err, fracindex.ErrInvalidKey)
}

func TestNextKeyAbove(t *testing.T) {
	siblings := []string{"a0", "a1", "a1", "a3"}
	assert.Equal(t, "a3", nextKeyAbove(siblings, "a1"))
	assert.Equal(t, "a1", nextKeyAbove(siblings, "a0"))
	assert.Equal(t, "", nextKeyAbove(siblings, "a3"))
}

func TestMoveTaskBetween(t *testing.T) {
	s := New("alice")
	defer s.Close()

	t1, err := s.AddTask(TaskDraft{Title: "one", By: "alice"})
	require.NoError(t, err)
	t2, err := s.AddTask(TaskDraft{Title: "two", By: "alice"})
	require.NoError(t, err)
	t3, err := s.AddTask(TaskDraft{Title: "three", By: "alice"})
	require.NoError(t, err)

	// Move the newest task between the older two.
	require.NoError(t, s.MoveTaskBetween(t3.ID, t1.ID, t2.ID, "alice"))

	g1, _ := s.Task(t1.ID)
	g2, _ := s.Task(t2.ID)
	g3, _ := s.Task(t3.ID)
	assert.Greater(t, g3.SortOrder, g1.SortOrder)
	assert.Less(t, g3.SortOrder, g2.SortOrder)
}

func TestMoveTaskBetween_RepairsDuplicateKeys(t *testing.T) {
	s := New("alice")
	defer s.Close()

	// Simulate the merge artifact directly: two siblings carrying the same
	// key, with a third above them.
	tLow, err := s.AddTask(TaskDraft{Title: "low", By: "alice", SortOrder: "a1"})
	require.NoError(t, err)
	tDup, err := s.AddTask(TaskDraft{Title: "dup", By: "alice", SortOrder: "a1"})
	require.NoError(t, err)
	tTop, err := s.AddTask(TaskDraft{Title: "top", By: "alice", SortOrder: "a3"})
	require.NoError(t, err)
	mover, err := s.AddTask(TaskDraft{Title: "mover", By: "alice", SortOrder: "a4"})
	require.NoError(t, err)

	require.NoError(t, s.MoveTaskBetween(mover.ID, tLow.ID, tDup.ID, "alice"))

	gLow, _ := s.Task(tLow.ID)
	gDup, _ := s.Task(tDup.ID)
	gTop, _ := s.Task(tTop.ID)
	gMover, _ := s.Task(mover.ID)

	// The duplicate sibling got a fresh key strictly between itself and
	// the next one above; the moved task landed inside the repaired gap.
	assert.Equal(t, "a1", gLow.SortOrder)
	assert.Greater(t, gDup.SortOrder, "a1")
	assert.Less(t, gDup.SortOrder, gTop.SortOrder)
	assert.Greater(t, gMover.SortOrder, gLow.SortOrder)
	assert.Less(t, gMover.SortOrder, gDup.SortOrder)
}

func TestMoveFocusTaskBetween_IndependentNamespace(t *testing.T) {
	s := New("alice")
	defer s.Close()

	t1, err := s.AddTask(TaskDraft{Title: "one", By: "alice", Focus: true})
	require.NoError(t, err)
	t2, err := s.AddTask(TaskDraft{Title: "two", By: "alice", Focus: true})
	require.NoError(t, err)
	t3, err := s.AddTask(TaskDraft{Title: "three", By: "alice", Focus: true})
	require.NoError(t, err)

	before3, _ := s.Task(t3.ID)
	require.NoError(t, s.MoveFocusTaskBetween(t3.ID, t1.ID, t2.ID, "alice"))

	g1, _ := s.Task(t1.ID)
	g2, _ := s.Task(t2.ID)
	g3, _ := s.Task(t3.ID)
	assert.Greater(t, g3.FocusSortOrder, g1.FocusSortOrder)
	assert.Less(t, g3.FocusSortOrder, g2.FocusSortOrder)
	// The list-order key is untouched by focus reordering.
	assert.Equal(t, before3.SortOrder, g3.SortOrder)
}

func TestSetTaskList_ReappendsInDestination(t *testing.T) {
	s := New("alice")
	defer s.Close()

	list, err := s.AddList("groceries")
	require.NoError(t, err)
	inList, err := s.AddTask(TaskDraft{Title: "existing", By: "alice", ListID: list.ID})
	require.NoError(t, err)
	task, err := s.AddTask(TaskDraft{Title: "moving", By: "alice"})
	require.NoError(t, err)

	require.NoError(t, s.SetTaskList(task.ID, list.ID, "alice"))
	got, _ := s.Task(task.ID)
	assert.Equal(t, list.ID, got.ListID)
	gotExisting, _ := s.Task(inList.ID)
	assert.Greater(t, got.SortOrder, gotExisting.SortOrder)

	assert.ErrorIs(t, s.SetTaskList(task.ID, "missing-list", "alice"), ErrEntityNotFound)
}
