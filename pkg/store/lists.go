package store

import (
	"fmt"

	"github.com/automerge/automerge-go"
	"github.com/google/uuid"

	"github.com/driftsync/driftlist/pkg/notify"
)

// AddList creates a list appended after every existing sibling.
func (s *Store) AddList(name string) (List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return List{}, ErrClosed
	}
	k, err := appendKey(s.snap.listSortKeys())
	if err != nil {
		return List{}, fmt.Errorf("failed to allocate order key: %w", err)
	}
	id := uuid.NewString()
	m, err := ensureChildMap(s.doc.RootMap(), listKeyPrefix+id)
	if err != nil {
		return List{}, err
	}
	if err := m.Set("name", name); err != nil {
		return List{}, err
	}
	if err := m.Set("sortOrder", k); err != nil {
		return List{}, err
	}
	if err := s.commitLocked("add list"); err != nil {
		return List{}, err
	}
	return s.snap.Lists[id], nil
}

func (s *Store) listMapLocked(id string) (*automerge.Map, List, error) {
	l, ok := s.snap.Lists[id]
	if !ok {
		return nil, List{}, fmt.Errorf("%w: lists/%s", ErrEntityNotFound, id)
	}
	v, err := s.doc.RootMap().Get(listKeyPrefix + id)
	if err != nil {
		return nil, List{}, err
	}
	if v == nil || v.Kind() != automerge.KindMap {
		return nil, List{}, fmt.Errorf("%w: lists/%s", ErrEntityNotFound, id)
	}
	return v.Map(), l, nil
}

// RenameList sets the list's display name.
func (s *Store) RenameList(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	m, _, err := s.listMapLocked(id)
	if err != nil {
		return err
	}
	if err := m.Set("name", name); err != nil {
		return err
	}
	return s.commitLocked("rename list")
}

// MoveListBetween repositions a list between two siblings in key space,
// with the same equal-key repair as task moves.
func (s *Store) MoveListBetween(id, lowerID, upperID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	m, _, err := s.listMapLocked(id)
	if err != nil {
		return err
	}
	var lowerKey, upperKey string
	if lowerID != "" {
		ll, ok := s.snap.Lists[lowerID]
		if !ok {
			return fmt.Errorf("%w: lists/%s", ErrEntityNotFound, lowerID)
		}
		lowerKey = ll.SortOrder
	}
	var upperMap *automerge.Map
	if upperID != "" {
		ul, ok := s.snap.Lists[upperID]
		if !ok {
			return fmt.Errorf("%w: lists/%s", ErrEntityNotFound, upperID)
		}
		upperKey = ul.SortOrder
		if upperMap, _, err = s.listMapLocked(upperID); err != nil {
			return err
		}
	}
	between, newUpper, err := betweenKeys(lowerKey, upperKey, nextKeyAbove(s.snap.listSortKeys(), upperKey))
	if err != nil {
		s.notifier.Notify(notify.Notification{
			Title:    "Could not reorder list",
			Message:  err.Error(),
			Severity: notify.SeverityError,
		})
		return err
	}
	if newUpper != "" && upperMap != nil {
		if err := upperMap.Set("sortOrder", newUpper); err != nil {
			return err
		}
	}
	if err := m.Set("sortOrder", between); err != nil {
		return err
	}
	return s.commitLocked("move list")
}

// DeleteList removes a list and cascades to every task referencing it, in
// one commit so observers see a single consistent batch.
func (s *Store) DeleteList(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.snap.Lists[id]; !ok {
		return fmt.Errorf("%w: lists/%s", ErrEntityNotFound, id)
	}
	root := s.doc.RootMap()
	if err := root.Delete(listKeyPrefix + id); err != nil {
		return err
	}
	for taskID, t := range s.snap.Tasks {
		if t.ListID != id {
			continue
		}
		if err := root.Delete(taskKeyPrefix + taskID); err != nil {
			return err
		}
	}
	return s.commitLocked("delete list")
}

// TouchPresence upserts the persisted activity record for a user. Every
// session of the same user writes the same record, which is what makes the
// record authoritative for last-active reduction.
func (s *Store) TouchPresence(userID, name, color string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if userID == "" {
		return fmt.Errorf("%w: presence record without user id", ErrEntityNotFound)
	}
	m, err := ensureChildMap(s.doc.RootMap(), userKeyPrefix+userID)
	if err != nil {
		return err
	}
	if err := m.Set("name", name); err != nil {
		return err
	}
	if err := m.Set("color", color); err != nil {
		return err
	}
	if err := m.Set("lastActive", s.now().UnixMilli()); err != nil {
		return err
	}
	return s.commitLocked("touch presence")
}

// SetRoomName sets the single mutable room metadata field.
func (s *Store) SetRoomName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.doc.RootMap().Set(roomNameKey, name); err != nil {
		return err
	}
	return s.commitLocked("set room name")
}
