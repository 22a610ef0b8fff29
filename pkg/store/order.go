package store

import (
	"fmt"

	"github.com/driftsync/driftlist/pkg/fracindex"
)

// betweenKeys computes an order key strictly between lowerKey and upperKey
// ("" meaning unbounded), repairing the equal-key artifact that concurrent
// offline inserts can leave behind: when both bounds carry the same key,
// no strictly-between key exists, so the upper item is pushed later with a
// fresh key generated below nextAbove (the nearest sibling key above the
// duplicate, or "" at the end) and the between-key is recomputed against
// it. The returned newUpper is non-empty when such a reassignment is
// needed.
//
// The repair perturbs one neighbour's relative order, which is accepted as
// a rare visual artifact. It goes exactly one level deep: if several
// siblings already collided, later requests repair them one at a time.
func betweenKeys(lowerKey, upperKey, nextAbove string) (between, newUpper string, err error) {
	if lowerKey != "" && lowerKey == upperKey {
		newUpper, err = fracindex.GenerateKeyBetween(upperKey, nextAbove)
		if err != nil {
			return "", "", fmt.Errorf("failed to repair duplicate order key %q: %w", upperKey, err)
		}
		upperKey = newUpper
	}
	between, err = fracindex.GenerateKeyBetween(lowerKey, upperKey)
	if err != nil {
		return "", "", err
	}
	return between, newUpper, nil
}

// nextKeyAbove returns the smallest sibling key strictly greater than key,
// or "" when key is already the greatest.
func nextKeyAbove(siblings []string, key string) string {
	next := ""
	for _, k := range siblings {
		if k <= key {
			continue
		}
		if next == "" || k < next {
			next = k
		}
	}
	return next
}

// appendKey returns a key placing a new item after every existing sibling.
func appendKey(siblings []string) (string, error) {
	max, _ := fracindex.MaxKey(siblings)
	return fracindex.GenerateKeyBetween(max, "")
}

// taskSortKeys collects the sortOrder namespace for one list bucket.
func (snap *Snapshot) taskSortKeys(listID string) []string {
	keys := make([]string, 0, len(snap.Tasks))
	for _, t := range snap.Tasks {
		if t.ListID == listID && t.SortOrder != "" {
			keys = append(keys, t.SortOrder)
		}
	}
	return keys
}

// focusSortKeys collects the independent focusSortOrder namespace.
func (snap *Snapshot) focusSortKeys() []string {
	keys := make([]string, 0)
	for _, t := range snap.Tasks {
		if t.Focus && t.FocusSortOrder != "" {
			keys = append(keys, t.FocusSortOrder)
		}
	}
	return keys
}

func (snap *Snapshot) listSortKeys() []string {
	keys := make([]string, 0, len(snap.Lists))
	for _, l := range snap.Lists {
		if l.SortOrder != "" {
			keys = append(keys, l.SortOrder)
		}
	}
	return keys
}
