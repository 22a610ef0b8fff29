package store

import (
	"fmt"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/google/uuid"

	"github.com/driftsync/driftlist/pkg/notify"
)

// TaskDraft carries the caller-supplied fields of a new task. SortOrder is
// optional; when empty the task is appended after every sibling in its
// list bucket.
type TaskDraft struct {
	Title      string
	Body       string
	By         string
	ListID     string
	DueDate    string
	RepeatDays int64
	SortOrder  string
	Focus      bool
}

const dueDateLayout = "2006-01-02"

// ensureChildMap returns the map stored at key under parent, creating it
// when absent.
func ensureChildMap(parent *automerge.Map, key string) (*automerge.Map, error) {
	v, err := parent.Get(key)
	if err != nil {
		return nil, err
	}
	if v != nil && v.Kind() == automerge.KindMap {
		return v.Map(), nil
	}
	if err := parent.Set(key, automerge.NewMap()); err != nil {
		return nil, err
	}
	v, err = parent.Get(key)
	if err != nil {
		return nil, err
	}
	return v.Map(), nil
}

// AddTask creates a task with a fresh unique id. Concurrent creations on
// other replicas never collide: distinct ids union on merge.
func (s *Store) AddTask(d TaskDraft) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Task{}, ErrClosed
	}

	sortOrder := d.SortOrder
	if sortOrder == "" {
		k, err := appendKey(s.snap.taskSortKeys(d.ListID))
		if err != nil {
			return Task{}, fmt.Errorf("failed to allocate order key: %w", err)
		}
		sortOrder = k
	}
	focusSortOrder := ""
	if d.Focus {
		k, err := appendKey(s.snap.focusSortKeys())
		if err != nil {
			return Task{}, fmt.Errorf("failed to allocate focus order key: %w", err)
		}
		focusSortOrder = k
	}

	id := uuid.NewString()
	now := s.now().UnixMilli()
	m, err := ensureChildMap(s.doc.RootMap(), taskKeyPrefix+id)
	if err != nil {
		return Task{}, err
	}
	sets := []struct {
		key string
		val any
	}{
		{"title", automerge.NewText(d.Title)},
		{"body", automerge.NewText(d.Body)},
		{"completed", false},
		{"created", now},
		{"modified", now},
		{"by", d.By},
		{"sortOrder", sortOrder},
		{"focus", d.Focus},
		{"focusSortOrder", focusSortOrder},
		{"listId", d.ListID},
		{"dueDate", d.DueDate},
		{"repeatDays", d.RepeatDays},
	}
	for _, kv := range sets {
		if err := m.Set(kv.key, kv.val); err != nil {
			return Task{}, err
		}
	}
	if err := s.commitLocked("add task"); err != nil {
		return Task{}, err
	}
	return s.snap.Tasks[id], nil
}

// taskMapLocked resolves a task entity or reports ErrEntityNotFound.
func (s *Store) taskMapLocked(id string) (*automerge.Map, Task, error) {
	t, ok := s.snap.Tasks[id]
	if !ok {
		return nil, Task{}, fmt.Errorf("%w: tasks/%s", ErrEntityNotFound, id)
	}
	v, err := s.doc.RootMap().Get(taskKeyPrefix + id)
	if err != nil {
		return nil, Task{}, err
	}
	if v == nil || v.Kind() != automerge.KindMap {
		return nil, Task{}, fmt.Errorf("%w: tasks/%s", ErrEntityNotFound, id)
	}
	return v.Map(), t, nil
}

func (s *Store) touchLocked(m *automerge.Map, by string) error {
	if err := m.Set("modified", s.now().UnixMilli()); err != nil {
		return err
	}
	return m.Set("by", by)
}

// SetTaskCompleted marks a task done or not. Completing a repeating task
// advances its due date by the repeat interval instead of completing it.
func (s *Store) SetTaskCompleted(id string, completed bool, by string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	m, t, err := s.taskMapLocked(id)
	if err != nil {
		return err
	}
	if completed && t.RepeatDays > 0 && t.DueDate != "" {
		due, perr := time.Parse(dueDateLayout, t.DueDate)
		if perr == nil {
			next := due.AddDate(0, 0, int(t.RepeatDays)).Format(dueDateLayout)
			if err := m.Set("dueDate", next); err != nil {
				return err
			}
			if err := s.touchLocked(m, by); err != nil {
				return err
			}
			return s.commitLocked("repeat task")
		}
		// Unparseable due date: fall through and complete normally.
	}
	if err := m.Set("completed", completed); err != nil {
		return err
	}
	if err := s.touchLocked(m, by); err != nil {
		return err
	}
	return s.commitLocked("complete task")
}

// SetTaskFocus toggles membership in the cross-list focus view, lazily
// assigning a focus order key on first entry so the invariant "focused
// tasks are orderable" holds eventually for every replica.
func (s *Store) SetTaskFocus(id string, focus bool, by string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	m, t, err := s.taskMapLocked(id)
	if err != nil {
		return err
	}
	if err := m.Set("focus", focus); err != nil {
		return err
	}
	if focus && t.FocusSortOrder == "" {
		k, kerr := appendKey(s.snap.focusSortKeys())
		if kerr != nil {
			return fmt.Errorf("failed to allocate focus order key: %w", kerr)
		}
		if err := m.Set("focusSortOrder", k); err != nil {
			return err
		}
	}
	if err := s.touchLocked(m, by); err != nil {
		return err
	}
	return s.commitLocked("focus task")
}

func (s *Store) setTaskField(id, field string, val any, by string, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	m, _, err := s.taskMapLocked(id)
	if err != nil {
		return err
	}
	if err := m.Set(field, val); err != nil {
		return err
	}
	if err := s.touchLocked(m, by); err != nil {
		return err
	}
	return s.commitLocked(msg)
}

// SetTaskDueDate sets or clears ("" clears) the ISO due date.
func (s *Store) SetTaskDueDate(id, dueDate, by string) error {
	if dueDate != "" {
		if _, err := time.Parse(dueDateLayout, dueDate); err != nil {
			return fmt.Errorf("invalid due date %q: %w", dueDate, err)
		}
	}
	return s.setTaskField(id, "dueDate", dueDate, by, "set due date")
}

// SetTaskRepeatDays sets the repeat interval; 0 clears it.
func (s *Store) SetTaskRepeatDays(id string, days int64, by string) error {
	return s.setTaskField(id, "repeatDays", days, by, "set repeat")
}

// SetTaskList moves a task to another list ("" = uncategorized) and
// re-appends it at the end of the destination bucket.
func (s *Store) SetTaskList(id, listID, by string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	m, _, err := s.taskMapLocked(id)
	if err != nil {
		return err
	}
	if listID != "" {
		if _, ok := s.snap.Lists[listID]; !ok {
			return fmt.Errorf("%w: lists/%s", ErrEntityNotFound, listID)
		}
	}
	k, err := appendKey(s.snap.taskSortKeys(listID))
	if err != nil {
		return fmt.Errorf("failed to allocate order key: %w", err)
	}
	if err := m.Set("listId", listID); err != nil {
		return err
	}
	if err := m.Set("sortOrder", k); err != nil {
		return err
	}
	if err := s.touchLocked(m, by); err != nil {
		return err
	}
	return s.commitLocked("move task to list")
}

// SetTaskTitle replaces the title wholesale. Titles are short; whole-value
// last-writer-wins is acceptable where the body gets character merging.
func (s *Store) SetTaskTitle(id, title, by string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	m, _, err := s.taskMapLocked(id)
	if err != nil {
		return err
	}
	if err := m.Set("title", automerge.NewText(title)); err != nil {
		return err
	}
	if err := s.touchLocked(m, by); err != nil {
		return err
	}
	return s.commitLocked("set title")
}

// EditTaskBody hands the task's collaborative body text to fn under the
// store lock, so an external editor can splice into it and concurrent
// edits from other replicas merge character-wise.
func (s *Store) EditTaskBody(id string, by string, fn func(t *automerge.Text) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	m, _, err := s.taskMapLocked(id)
	if err != nil {
		return err
	}
	v, err := m.Get("body")
	if err != nil {
		return err
	}
	if v == nil || v.Kind() != automerge.KindText {
		if err := m.Set("body", automerge.NewText("")); err != nil {
			return err
		}
		if v, err = m.Get("body"); err != nil {
			return err
		}
	}
	if err := fn(v.Text()); err != nil {
		return err
	}
	if err := s.touchLocked(m, by); err != nil {
		return err
	}
	return s.commitLocked("edit body")
}

// DeleteTask removes a task. A concurrent edit on another replica is
// discarded by the merge without error: the delete wins.
func (s *Store) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.snap.Tasks[id]; !ok {
		return fmt.Errorf("%w: tasks/%s", ErrEntityNotFound, id)
	}
	if err := s.doc.RootMap().Delete(taskKeyPrefix + id); err != nil {
		return err
	}
	return s.commitLocked("delete task")
}

// MoveTaskBetween repositions a task between two siblings of its list
// bucket, in key space: lowerID names the sibling whose key sits below the
// destination, upperID the one above; either may be "" at the ends. The
// equal-key artifact is repaired in the same commit by reassigning the
// upper sibling a fresh later key; only a failure of that repair itself
// escapes, and it is also raised through the notifier as a defect.
func (s *Store) MoveTaskBetween(id, lowerID, upperID, by string) error {
	return s.moveTask(id, lowerID, upperID, by, false)
}

// MoveFocusTaskBetween is MoveTaskBetween in the independent focus-order
// namespace.
func (s *Store) MoveFocusTaskBetween(id, lowerID, upperID, by string) error {
	return s.moveTask(id, lowerID, upperID, by, true)
}

func (s *Store) moveTask(id, lowerID, upperID, by string, focus bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	m, t, err := s.taskMapLocked(id)
	if err != nil {
		return err
	}
	field := "sortOrder"
	keyOf := func(t Task) string { return t.SortOrder }
	var siblings []string
	if focus {
		field = "focusSortOrder"
		keyOf = func(t Task) string { return t.FocusSortOrder }
		siblings = s.snap.focusSortKeys()
	} else {
		siblings = s.snap.taskSortKeys(t.ListID)
	}

	var lowerKey, upperKey string
	if lowerID != "" {
		lt, ok := s.snap.Tasks[lowerID]
		if !ok {
			return fmt.Errorf("%w: tasks/%s", ErrEntityNotFound, lowerID)
		}
		lowerKey = keyOf(lt)
	}
	var upperMap *automerge.Map
	if upperID != "" {
		ut, ok := s.snap.Tasks[upperID]
		if !ok {
			return fmt.Errorf("%w: tasks/%s", ErrEntityNotFound, upperID)
		}
		upperKey = keyOf(ut)
		if upperMap, _, err = s.taskMapLocked(upperID); err != nil {
			return err
		}
	}

	between, newUpper, err := betweenKeys(lowerKey, upperKey, nextKeyAbove(siblings, upperKey))
	if err != nil {
		s.notifier.Notify(notify.Notification{
			Title:    "Could not reorder task",
			Message:  err.Error(),
			Severity: notify.SeverityError,
		})
		return err
	}
	if newUpper != "" && upperMap != nil {
		if err := upperMap.Set(field, newUpper); err != nil {
			return err
		}
	}
	if err := m.Set(field, between); err != nil {
		return err
	}
	if err := s.touchLocked(m, by); err != nil {
		return err
	}
	return s.commitLocked("move task")
}
