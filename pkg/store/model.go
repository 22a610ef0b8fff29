package store

import (
	"strings"

	"github.com/automerge/automerge-go"
)

// Document layout: entities live as individually-keyed children of the root
// map ("task:<id>", "list:<id>", "user:<id>", "roomName"). Keeping every
// entity directly under the root means fresh replicas never race to create
// a shared container object: concurrent creations are distinct keys and
// simply union on merge.
const (
	taskKeyPrefix = "task:"
	listKeyPrefix = "list:"
	userKeyPrefix = "user:"
	roomNameKey   = "roomName"
)

// Task is the materialized, read-only form of one to-do item.
type Task struct {
	ID             string
	Title          string
	Body           string
	Completed      bool
	Created        int64
	Modified       int64
	By             string
	SortOrder      string
	Focus          bool
	FocusSortOrder string
	ListID         string
	DueDate        string
	RepeatDays     int64
}

type List struct {
	ID        string
	Name      string
	SortOrder string
}

// PresenceRecord is the persisted, per-user activity record. It is distinct
// from ephemeral awareness state: every session of a user writes into the
// same record, and it survives disconnects.
type PresenceRecord struct {
	UserID     string
	Name       string
	Color      string
	LastActive int64
}

type RoomMeta struct {
	RoomName string
}

// Snapshot is an immutable materialization of the whole document. Observers
// receive change sets computed by diffing consecutive snapshots, so local
// commits and remote merges report through the same mechanism.
type Snapshot struct {
	Tasks    map[string]Task
	Lists    map[string]List
	Presence map[string]PresenceRecord
	Meta     RoomMeta
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Tasks:    map[string]Task{},
		Lists:    map[string]List{},
		Presence: map[string]PresenceRecord{},
	}
}

type ChangeKind int

const (
	ChangeUpdated ChangeKind = iota
	ChangeAdded
	ChangeRemoved
)

// Change names one observed difference. Entity-level changes use paths like
// "tasks/<id>"; field-level ones append the field ("tasks/<id>/completed").
// All edits to a task's rich content collapse into the single logical field
// "content" so that keystrokes are distinguishable from structural changes.
type Change struct {
	Path string
	Kind ChangeKind
}

type ChangeSet []Change

// Touches reports whether any change falls at or under the given path
// prefix. The empty prefix matches everything.
func (cs ChangeSet) Touches(prefix string) bool {
	if prefix == "" {
		return len(cs) > 0
	}
	for _, c := range cs {
		if c.Path == prefix || strings.HasPrefix(c.Path, prefix+"/") {
			return true
		}
	}
	return false
}

// Structural reports whether the set contains an entity add or remove.
func (cs ChangeSet) Structural() bool {
	for _, c := range cs {
		if c.Kind != ChangeUpdated {
			return true
		}
	}
	return false
}

// TouchesFields reports whether any field-level change ends in one of the
// given field names.
func (cs ChangeSet) TouchesFields(fields ...string) bool {
	for _, c := range cs {
		i := strings.LastIndexByte(c.Path, '/')
		if i < 0 {
			continue
		}
		leaf := c.Path[i+1:]
		for _, f := range fields {
			if leaf == f {
				return true
			}
		}
	}
	return false
}

func mapStr(m *automerge.Map, key string) string {
	v, err := m.Get(key)
	if err != nil || v == nil {
		return ""
	}
	switch v.Kind() {
	case automerge.KindStr:
		return v.Str()
	case automerge.KindText:
		s, err := v.Text().Get()
		if err != nil {
			return ""
		}
		return s
	}
	return ""
}

func mapBool(m *automerge.Map, key string) bool {
	v, err := m.Get(key)
	if err != nil || v == nil || v.Kind() != automerge.KindBool {
		return false
	}
	return v.Bool()
}

func mapInt64(m *automerge.Map, key string) int64 {
	v, err := m.Get(key)
	if err != nil || v == nil {
		return 0
	}
	switch v.Kind() {
	case automerge.KindInt64:
		return v.Int64()
	case automerge.KindFloat64:
		return int64(v.Float64())
	}
	return 0
}

func taskFromMap(id string, m *automerge.Map) Task {
	return Task{
		ID:             id,
		Title:          mapStr(m, "title"),
		Body:           mapStr(m, "body"),
		Completed:      mapBool(m, "completed"),
		Created:        mapInt64(m, "created"),
		Modified:       mapInt64(m, "modified"),
		By:             mapStr(m, "by"),
		SortOrder:      mapStr(m, "sortOrder"),
		Focus:          mapBool(m, "focus"),
		FocusSortOrder: mapStr(m, "focusSortOrder"),
		ListID:         mapStr(m, "listId"),
		DueDate:        mapStr(m, "dueDate"),
		RepeatDays:     mapInt64(m, "repeatDays"),
	}
}

func listFromMap(id string, m *automerge.Map) List {
	return List{
		ID:        id,
		Name:      mapStr(m, "name"),
		SortOrder: mapStr(m, "sortOrder"),
	}
}

func presenceFromMap(id string, m *automerge.Map) PresenceRecord {
	return PresenceRecord{
		UserID:     id,
		Name:       mapStr(m, "name"),
		Color:      mapStr(m, "color"),
		LastActive: mapInt64(m, "lastActive"),
	}
}

// materialize walks the document root and rebuilds the snapshot. One linear
// pass per change batch; observers only ever see complete snapshots.
func materialize(doc *automerge.Doc) (*Snapshot, error) {
	snap := emptySnapshot()
	root := doc.RootMap()
	keys, err := root.Keys()
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		v, err := root.Get(key)
		if err != nil {
			return nil, err
		}
		switch {
		case key == roomNameKey:
			if v.Kind() == automerge.KindStr {
				snap.Meta.RoomName = v.Str()
			}
		case strings.HasPrefix(key, taskKeyPrefix):
			if v.Kind() == automerge.KindMap {
				id := key[len(taskKeyPrefix):]
				snap.Tasks[id] = taskFromMap(id, v.Map())
			}
		case strings.HasPrefix(key, listKeyPrefix):
			if v.Kind() == automerge.KindMap {
				id := key[len(listKeyPrefix):]
				snap.Lists[id] = listFromMap(id, v.Map())
			}
		case strings.HasPrefix(key, userKeyPrefix):
			if v.Kind() == automerge.KindMap {
				id := key[len(userKeyPrefix):]
				snap.Presence[id] = presenceFromMap(id, v.Map())
			}
		}
	}
	return snap, nil
}

func diffTask(id string, a, b Task, out ChangeSet) ChangeSet {
	field := func(name string, changed bool) {
		if changed {
			out = append(out, Change{Path: "tasks/" + id + "/" + name})
		}
	}
	field("content", a.Title != b.Title || a.Body != b.Body)
	field("completed", a.Completed != b.Completed)
	field("created", a.Created != b.Created)
	field("modified", a.Modified != b.Modified)
	field("by", a.By != b.By)
	field("sortOrder", a.SortOrder != b.SortOrder)
	field("focus", a.Focus != b.Focus)
	field("focusSortOrder", a.FocusSortOrder != b.FocusSortOrder)
	field("listId", a.ListID != b.ListID)
	field("dueDate", a.DueDate != b.DueDate)
	field("repeatDays", a.RepeatDays != b.RepeatDays)
	return out
}

// diff computes the change set between two consecutive snapshots.
func diff(prev, next *Snapshot) ChangeSet {
	var out ChangeSet

	for id := range prev.Tasks {
		if _, ok := next.Tasks[id]; !ok {
			out = append(out, Change{Path: "tasks/" + id, Kind: ChangeRemoved})
		}
	}
	for id, b := range next.Tasks {
		a, ok := prev.Tasks[id]
		if !ok {
			out = append(out, Change{Path: "tasks/" + id, Kind: ChangeAdded})
			continue
		}
		out = diffTask(id, a, b, out)
	}

	for id := range prev.Lists {
		if _, ok := next.Lists[id]; !ok {
			out = append(out, Change{Path: "lists/" + id, Kind: ChangeRemoved})
		}
	}
	for id, b := range next.Lists {
		a, ok := prev.Lists[id]
		if !ok {
			out = append(out, Change{Path: "lists/" + id, Kind: ChangeAdded})
			continue
		}
		if a.Name != b.Name {
			out = append(out, Change{Path: "lists/" + id + "/name"})
		}
		if a.SortOrder != b.SortOrder {
			out = append(out, Change{Path: "lists/" + id + "/sortOrder"})
		}
	}

	for id := range prev.Presence {
		if _, ok := next.Presence[id]; !ok {
			out = append(out, Change{Path: "presence/" + id, Kind: ChangeRemoved})
		}
	}
	for id, b := range next.Presence {
		a, ok := prev.Presence[id]
		if !ok {
			out = append(out, Change{Path: "presence/" + id, Kind: ChangeAdded})
			continue
		}
		if a.Name != b.Name || a.Color != b.Color {
			out = append(out, Change{Path: "presence/" + id + "/user"})
		}
		if a.LastActive != b.LastActive {
			out = append(out, Change{Path: "presence/" + id + "/lastActive"})
		}
	}

	if prev.Meta.RoomName != next.Meta.RoomName {
		out = append(out, Change{Path: "meta/roomName"})
	}

	return out
}
