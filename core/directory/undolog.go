package directory

import "sort"

// UndoEntry is what a replica needs to back out one prepared write.
type UndoEntry struct {
	Key string
	// Old is the value before prepare; meaningful only when HadOld is set.
	Old    string
	HadOld bool
	New    string
}

// UndoLog maps transaction ids to the entry recorded at prepare time.
// An id is present exactly while the replica has prepared but not resolved it.
type UndoLog struct {
	entries map[uint64]UndoEntry
}

// NewUndoLog creates an empty UndoLog.
func NewUndoLog() *UndoLog {
	return &UndoLog{entries: make(map[uint64]UndoEntry)}
}

// Record stores entry under id, replacing any previous entry for the same id.
func (u *UndoLog) Record(id uint64, entry UndoEntry) {
	u.entries[id] = entry
}

// Get returns the entry for id without removing it.
func (u *UndoLog) Get(id uint64) (UndoEntry, bool) {
	e, ok := u.entries[id]
	return e, ok
}

// Pop removes and returns the entry for id.
func (u *UndoLog) Pop(id uint64) (UndoEntry, bool) {
	e, ok := u.entries[id]
	if ok {
		delete(u.entries, id)
	}
	return e, ok
}

// Len returns the number of unresolved transactions.
func (u *UndoLog) Len() int {
	return len(u.entries)
}

// Pending returns the unresolved transaction ids in ascending order.
func (u *UndoLog) Pending() []uint64 {
	ids := make([]uint64, 0, len(u.entries))
	for id := range u.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Revert backs entry out of store, but only if the key still holds the value
// the entry wrote. It reports whether the store was changed.
func Revert(store *Store, entry UndoEntry) bool {
	current, ok := store.Get(entry.Key)
	if !ok || current != entry.New {
		return false
	}
	if entry.HadOld {
		store.Set(entry.Key, entry.Old)
	} else {
		store.Delete(entry.Key)
	}
	return true
}
